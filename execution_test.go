package treduce

import (
	"sync/atomic"
	"testing"
)

func TestGridSweepCoverage(t *testing.T) {
	grid := Dim3{X: 7, Y: 3, Z: 2}
	block := Dim3{X: 4, Y: 2, Z: 1}

	var executed int64
	kernel := KernelFunc(func(tid ThreadID, args ...interface{}) {
		atomic.AddInt64(&executed, 1)
	})

	LaunchOrFail(t, kernel, grid, block)
	SynchronizeOrFail(t)

	want := int64(grid.Size() * block.Size())
	if executed != want {
		t.Errorf("Executed %d threads, want %d", executed, want)
	}
}

func TestLaunchBlocksEachBlockOnce(t *testing.T) {
	const blocks = 100
	hits := make([]int32, blocks)

	ctx := NewContext()
	err := ctx.LaunchBlocks(func(blockIdx, blockDim Dim3) {
		atomic.AddInt32(&hits[blockIdx.X], 1)
	}, Dim3{X: blocks, Y: 1, Z: 1}, Dim3{X: 32, Y: 1, Z: 1})
	if err != nil {
		t.Fatalf("LaunchBlocks failed: %v", err)
	}
	if err := ctx.Synchronize(); err != nil {
		t.Fatalf("Synchronize failed: %v", err)
	}

	for i, h := range hits {
		if h != 1 {
			t.Errorf("Block %d executed %d times, want 1", i, h)
		}
	}
}

func TestLaunchBlocksPhaseBarrier(t *testing.T) {
	// Two phases inside one block: phase one fills the scratch, phase two
	// folds it. Sequential threads make the loop boundary a barrier.
	const blockSize = 64
	const blocks = 8

	out := make([]int64, blocks)

	ctx := NewContext()
	err := ctx.LaunchBlocks(func(blockIdx, blockDim Dim3) {
		scratch := make([]int64, blockSize)
		for tid := 0; tid < blockSize; tid++ {
			scratch[tid] = int64(blockIdx.X*blockSize + tid)
		}
		var sum int64
		for tid := 0; tid < blockSize; tid++ {
			sum += scratch[tid]
		}
		out[blockIdx.X] = sum
	}, Dim3{X: blocks, Y: 1, Z: 1}, Dim3{X: blockSize, Y: 1, Z: 1})
	if err != nil {
		t.Fatalf("LaunchBlocks failed: %v", err)
	}
	if err := ctx.Synchronize(); err != nil {
		t.Fatalf("Synchronize failed: %v", err)
	}

	for bid := 0; bid < blocks; bid++ {
		var want int64
		for tid := 0; tid < blockSize; tid++ {
			want += int64(bid*blockSize + tid)
		}
		if out[bid] != want {
			t.Errorf("Block %d sum = %d, want %d", bid, out[bid], want)
		}
	}
}

func TestKernelPanicBecomesStreamError(t *testing.T) {
	ctx := NewContext()
	stream := ctx.CreateStream()

	boom := KernelFunc(func(tid ThreadID, args ...interface{}) {
		if tid.Global() == 17 {
			panic("deliberate failure")
		}
	})

	err := ctx.LaunchFuncStream(boom, Dim3{X: 1, Y: 1, Z: 1}, Dim3{X: 32, Y: 1, Z: 1}, stream)
	if err != nil {
		t.Fatalf("Launch should be accepted, got %v", err)
	}

	err = stream.Synchronize()
	if !IsExecutionError(err) {
		t.Fatalf("Expected execution error from panicking kernel, got %v", err)
	}
	if ctx.LastError() == nil {
		t.Error("LastError should report the failure")
	}

	stream.ClearErr()
	if stream.Err() != nil {
		t.Error("ClearErr should reset the sticky error")
	}
}

func TestLinearTo3D(t *testing.T) {
	dim := Dim3{X: 4, Y: 3, Z: 2}
	seen := make(map[Dim3]bool)

	for i := 0; i < dim.Size(); i++ {
		c := linearTo3D(i, dim)
		if c.X < 0 || c.X >= dim.X || c.Y < 0 || c.Y >= dim.Y || c.Z < 0 || c.Z >= dim.Z {
			t.Fatalf("linearTo3D(%d) = %+v out of bounds for %+v", i, c, dim)
		}
		if seen[c] {
			t.Fatalf("linearTo3D(%d) = %+v already produced", i, c)
		}
		seen[c] = true
	}
}

func TestForEach(t *testing.T) {
	const N = 1000
	d := MallocOrFail(t, N*4)
	defer Free(d)

	err := ForEach(d, N, func(idx int, val *float32) {
		*val = float32(idx * 2)
	})
	if err != nil {
		t.Fatalf("ForEach failed: %v", err)
	}
	SynchronizeOrFail(t)

	data := d.Float32()
	for i := 0; i < N; i++ {
		if data[i] != float32(i*2) {
			t.Fatalf("ForEach result mismatch at %d: got %f", i, data[i])
		}
	}
}

func TestMap(t *testing.T) {
	const N = 513 // not a multiple of the block size
	in := MallocOrFail(t, N*4)
	out := MallocOrFail(t, N*4)
	defer Free(in)
	defer Free(out)

	src := in.Float32()
	for i := 0; i < N; i++ {
		src[i] = float32(i)
	}

	err := Map(in, out, N, func(v float32) float32 { return v * v })
	if err != nil {
		t.Fatalf("Map failed: %v", err)
	}
	SynchronizeOrFail(t)

	dst := out.Float32()
	for i := 0; i < N; i++ {
		if dst[i] != float32(i)*float32(i) {
			t.Fatalf("Map result mismatch at %d: got %f", i, dst[i])
		}
	}
}
