package treduce

import (
	"fmt"
	"runtime"

	"golang.org/x/sync/errgroup"
)

// normDim fills in omitted dimensions so Dim3{X: n} means an n×1×1 shape.
func normDim(d Dim3) Dim3 {
	if d.X == 0 {
		d.X = 1
	}
	if d.Y == 0 {
		d.Y = 1
	}
	if d.Z == 0 {
		d.Z = 1
	}
	return d
}

// validateLaunch rejects launch configurations the device cannot accept.
func validateLaunch(grid, block Dim3) error {
	if grid.X < 1 || grid.Y < 1 || grid.Z < 1 {
		return NewInvalidArgError("Launch", fmt.Sprintf("invalid grid dimensions %+v", grid))
	}
	if block.X < 1 || block.Y < 1 || block.Z < 1 {
		return NewInvalidArgError("Launch", fmt.Sprintf("invalid block dimensions %+v", block))
	}
	if block.Size() > MaxThreadsPerBlock {
		return NewInvalidArgError("Launch", fmt.Sprintf("block size %d exceeds maximum %d", block.Size(), MaxThreadsPerBlock))
	}
	return nil
}

// launchInternal implements thread-granularity kernel execution on top of the
// block-granularity path. Threads within a block run sequentially.
func (ctx *Context) launchInternal(
	kernelFunc func(ThreadID, ...interface{}),
	grid, block Dim3,
	stream *Stream,
	args ...interface{},
) error {
	grid, block = normDim(grid), normDim(block)
	blockFn := func(blockIdx, blockDim Dim3) {
		blockThreads := blockDim.Size()
		for t := 0; t < blockThreads; t++ {
			tid := ThreadID{
				BlockIdx:  blockIdx,
				ThreadIdx: linearTo3D(t, blockDim),
				BlockDim:  blockDim,
				GridDim:   grid,
			}
			kernelFunc(tid, args...)
		}
	}
	return ctx.launchBlocksInternal(blockFn, grid, block, stream)
}

// launchBlocksInternal schedules one grid sweep on the stream. Blocks are
// partitioned across worker goroutines; each worker processes a contiguous
// block range to maximize cache reuse, the way one streaming multiprocessor
// drains consecutive blocks.
func (ctx *Context) launchBlocksInternal(fn BlockFunc, grid, block Dim3, stream *Stream) error {
	grid, block = normDim(grid), normDim(block)
	if err := validateLaunch(grid, block); err != nil {
		return err
	}
	if stream == nil {
		stream = ctx.defaultStream
	}

	gridSize := grid.Size()
	stream.Submit(func() error {
		numWorkers := runtime.NumCPU()
		if gridSize < numWorkers {
			numWorkers = gridSize
		}
		blocksPerWorker := (gridSize + numWorkers - 1) / numWorkers

		var g errgroup.Group
		for workerID := 0; workerID < numWorkers; workerID++ {
			startBlock := workerID * blocksPerWorker
			endBlock := startBlock + blocksPerWorker
			if endBlock > gridSize {
				endBlock = gridSize
			}
			if startBlock >= endBlock {
				continue
			}

			g.Go(func() (err error) {
				defer func() {
					if r := recover(); r != nil {
						err = NewExecutionError("Launch", fmt.Sprintf("kernel panic: %v", r), nil)
					}
				}()
				for blockID := startBlock; blockID < endBlock; blockID++ {
					fn(linearTo3D(blockID, grid), block)
				}
				return nil
			})
		}
		return g.Wait()
	})

	return nil
}

// linearTo3D converts a linear index to 3D coordinates.
func linearTo3D(linear int, dim Dim3) Dim3 {
	z := linear / (dim.X * dim.Y)
	y := (linear % (dim.X * dim.Y)) / dim.X
	x := linear % dim.X
	return Dim3{X: x, Y: y, Z: z}
}

// Helper functions for common patterns

// ForEach applies a function to each element in parallel.
func ForEach(data DevicePtr, size int, fn func(idx int, val *float32)) error {
	grid := Dim3{X: (size + DefaultBlockSize - 1) / DefaultBlockSize, Y: 1, Z: 1}
	block := Dim3{X: DefaultBlockSize, Y: 1, Z: 1}

	kernel := KernelFunc(func(tid ThreadID, args ...interface{}) {
		idx := tid.Global()
		if idx < size {
			slice := data.Float32()
			fn(idx, &slice[idx])
		}
	})

	return Launch(kernel, grid, block)
}

// Map applies a transformation function to create a new array.
func Map(input, output DevicePtr, size int, fn func(float32) float32) error {
	grid := Dim3{X: (size + DefaultBlockSize - 1) / DefaultBlockSize, Y: 1, Z: 1}
	block := Dim3{X: DefaultBlockSize, Y: 1, Z: 1}

	kernel := KernelFunc(func(tid ThreadID, args ...interface{}) {
		idx := tid.Global()
		if idx < size {
			in := input.Float32()
			out := output.Float32()
			out[idx] = fn(in[idx])
		}
	})

	return Launch(kernel, grid, block)
}
