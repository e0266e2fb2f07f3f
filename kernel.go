package treduce

import (
	"fmt"
)

// Op is a binary combining operator. It must be associative and must be safe
// to call from many goroutines at once; it is invoked concurrently with no
// shared mutable state of its own.
type Op[T any] func(a, b T) T

// kernelConfig is the tuple a pass kernel is specialized on. One kernel
// instance exists per tuple; inside it, all three values behave as
// compile-time constants (fixed loop bounds, fixed scratch sizes).
type kernelConfig struct {
	blockSize      int
	warpWidth      int
	itemsPerThread int
}

func (c kernelConfig) String() string {
	return fmt.Sprintf("block=%d warp=%d items=%d", c.blockSize, c.warpWidth, c.itemsPerThread)
}

// factor is the number of input elements one block consumes per pass.
func (c kernelConfig) factor() int {
	return c.blockSize * c.itemsPerThread
}

// passKernel reduces one block's chunk of front into back[bid].
// frontSize is the number of valid elements in front for this pass.
type passKernel[T any] func(bid int, front, back []T, frontSize int)

// selectKernel validates the configuration tuple against the closed
// candidate sets and returns the matching specialized kernel. Anything
// outside the sets is an unsupported configuration, rejected before launch.
func selectKernel[T any](op Op[T], zero T, cfg kernelConfig) (passKernel[T], error) {
	if !containsInt(SupportedBlockSizes, cfg.blockSize) {
		return nil, NewConfigError("SelectKernel",
			fmt.Sprintf("unsupported block size %d (supported: %v)", cfg.blockSize, SupportedBlockSizes))
	}
	if !containsInt(SupportedWarpWidths, cfg.warpWidth) {
		return nil, NewConfigError("SelectKernel",
			fmt.Sprintf("unsupported warp width %d (supported: %v)", cfg.warpWidth, SupportedWarpWidths))
	}
	if !containsInt(SupportedItemsPerThread, cfg.itemsPerThread) {
		return nil, NewConfigError("SelectKernel",
			fmt.Sprintf("unsupported items per thread %d (supported: %v)", cfg.itemsPerThread, SupportedItemsPerThread))
	}
	if cfg.blockSize < cfg.warpWidth {
		// The inter-warp stage needs at least one full sub-group.
		return nil, NewConfigError("SelectKernel",
			fmt.Sprintf("block size %d is below warp width %d", cfg.blockSize, cfg.warpWidth))
	}
	return makePassKernel(op, zero, cfg), nil
}

// makePassKernel builds the specialized reduction kernel for one
// configuration tuple. The returned closure runs one whole block with
// sequential threads, so each phase boundary is a barrier.
//
// Three combine stages, in a fixed tree order for a given configuration:
//
//  1. each thread folds itemsPerThread consecutive elements, padding
//     out-of-range reads with the identity element;
//  2. each warp halves lane distances (width/2, width/4, ... 1), the exact
//     order a shuffle-down network applies, and lane 0 stages the warp
//     result in a shared slot;
//  3. remaining warp results are re-read from the shared slots (identity
//     beyond the last warp) and warp-reduced again until one value is left.
func makePassKernel[T any](op Op[T], zero T, cfg kernelConfig) passKernel[T] {
	blockSize := cfg.blockSize
	warpWidth := cfg.warpWidth
	items := cfg.itemsPerThread
	warpCount := blockSize / warpWidth
	factor := cfg.factor()

	return func(bid int, front, back []T, frontSize int) {
		// lanes stands in for per-thread registers, shared for the block's
		// on-chip staging slots.
		lanes := make([]T, blockSize)
		shared := make([]T, warpCount)

		// Stage 1: gather and thread-local fold, unrolled over items.
		blockBase := bid * factor
		for tid := 0; tid < blockSize; tid++ {
			gid := blockBase + tid*items
			acc := zero
			if gid < frontSize {
				acc = front[gid]
			}
			for k := 1; k < items; k++ {
				v := zero
				if gid+k < frontSize {
					v = front[gid+k]
				}
				acc = op(acc, v)
			}
			lanes[tid] = acc
		}

		// Stages 2 and 3: warp-level halving rounds with shared staging.
		for active := warpCount; active > 0; {
			for wid := 0; wid < active; wid++ {
				lane := wid * warpWidth
				for delta := warpWidth / 2; delta > 0; delta /= 2 {
					for lid := 0; lid < delta; lid++ {
						lanes[lane+lid] = op(lanes[lane+lid], lanes[lane+lid+delta])
					}
				}
				shared[wid] = lanes[lane]
			}

			// Barrier: every thread reloads its warp's staged result,
			// identity past the last slot.
			for tid := 0; tid < blockSize; tid++ {
				if tid < warpCount {
					lanes[tid] = shared[tid]
				} else {
					lanes[tid] = zero
				}
			}

			if active == 1 {
				active = 0
			} else {
				active = ceilDiv(active, warpWidth)
			}
		}

		// Thread 0 scatters the block result.
		back[bid] = lanes[0]
	}
}
