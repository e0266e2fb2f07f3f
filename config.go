// Package treduce configuration constants
package treduce

// Kernel launch limits and defaults
const (
	// Default block size for kernels
	DefaultBlockSize = 256

	// Default per-thread unrolling factor
	DefaultItemsPerThread = 4

	// Maximum threads per block (CUDA compatibility)
	MaxThreadsPerBlock = 1024

	// Narrow sub-group width (NVIDIA-style warp)
	DefaultWarpWidth = 32

	// Wide sub-group width (CDNA-style wavefront)
	WideWarpWidth = 64
)

// Memory pool parameters
const (
	// Memory alignment for allocations (cache line)
	MemoryAlignment = 64
)

// Closed candidate sets for reduction kernel specialization. A pass kernel
// exists for every combination; any value outside these sets is rejected
// before launch.
var (
	SupportedBlockSizes     = []int{32, 64, 128, 256, 512, 1024}
	SupportedWarpWidths     = []int{DefaultWarpWidth, WideWarpWidth}
	SupportedItemsPerThread = []int{1, 2, 3, 4, 8, 16}
)

func containsInt(set []int, v int) bool {
	for _, s := range set {
		if s == v {
			return true
		}
	}
	return false
}

func ceilDiv(n, d int) int {
	return (n + d - 1) / d
}
