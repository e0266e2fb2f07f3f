package treduce

import (
	"runtime"

	"github.com/klauspost/cpuid/v2"
	"golang.org/x/sys/cpu"
)

// CPUFeatures tracks available CPU instruction set extensions
type CPUFeatures struct {
	HasAVX     bool
	HasAVX2    bool
	HasAVX512F bool // Foundation
	HasFMA     bool
	HasSSE4    bool
	HasNEON    bool
}

// Global CPU feature detection
var cpuFeatures CPUFeatures

func init() {
	detectCPUFeatures()
}

// detectCPUFeatures populates the global cpuFeatures struct
func detectCPUFeatures() {
	cpuFeatures = CPUFeatures{
		HasSSE4:    cpu.X86.HasSSE41 || cpu.X86.HasSSE42,
		HasAVX:     cpu.X86.HasAVX,
		HasAVX2:    cpu.X86.HasAVX2,
		HasAVX512F: cpu.X86.HasAVX512F,
		HasFMA:     cpu.X86.HasFMA,
		HasNEON:    cpu.ARM64.HasASIMD,
	}
}

// newCPUDevice builds the Device descriptor for the host CPU.
func newCPUDevice(id int) *Device {
	return &Device{
		ID:        id,
		Name:      deviceName(),
		TotalMem:  getSystemMemory(),
		NumCores:  deviceCores(),
		WarpWidth: nativeWarpWidth(),
	}
}

// nativeWarpWidth returns the emulated sub-group width for the host.
// Wide-vector hosts report the wide width, everything else the narrow one.
func nativeWarpWidth() int {
	if cpuFeatures.HasAVX512F {
		return WideWarpWidth
	}
	return DefaultWarpWidth
}

func deviceName() string {
	if name := cpuid.CPU.BrandName; name != "" {
		return name
	}
	return "CPU"
}

func deviceCores() int {
	if n := cpuid.CPU.PhysicalCores; n > 0 {
		return n
	}
	return runtime.NumCPU()
}

// HasAVX512 returns true if the CPU supports AVX-512 operations
func HasAVX512() bool {
	return cpuFeatures.HasAVX512F
}

// HasAVX2 returns true if the CPU supports AVX2 operations
func HasAVX2() bool {
	return cpuFeatures.HasAVX2 && cpuFeatures.HasFMA
}

// GetCPUInfo returns a string describing available CPU features
func GetCPUInfo() string {
	features := []string{}

	if cpuFeatures.HasSSE4 {
		features = append(features, "SSE4")
	}
	if cpuFeatures.HasAVX {
		features = append(features, "AVX")
	}
	if cpuFeatures.HasAVX2 {
		features = append(features, "AVX2")
	}
	if cpuFeatures.HasFMA {
		features = append(features, "FMA")
	}
	if cpuFeatures.HasAVX512F {
		features = append(features, "AVX512F")
	}
	if cpuFeatures.HasNEON {
		features = append(features, "NEON")
	}

	if len(features) == 0 {
		return "No SIMD extensions detected"
	}

	result := "CPU features: "
	for i, f := range features {
		if i > 0 {
			result += ", "
		}
		result += f
	}
	return result
}
