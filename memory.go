package treduce

import (
	"fmt"
	"sync"
	"unsafe"

	"github.com/zeebo/xxh3"
)

// MemcpyKind specifies the direction of memory transfer. In the unified
// memory model these are provided for API compatibility and are treated
// identically, since all memory is CPU-accessible.
type MemcpyKind int

const (
	MemcpyHostToHost     MemcpyKind = iota // Host to host transfer
	MemcpyHostToDevice                     // Host to device transfer
	MemcpyDeviceToHost                     // Device to host transfer
	MemcpyDeviceToDevice                   // Device to device transfer
	MemcpyDefault                          // Default transfer (infer direction)
)

// MemoryPool manages device memory allocation with efficient reuse.
// It maintains a free list of previously allocated blocks to reduce
// allocation overhead and memory fragmentation.
type MemoryPool struct {
	mu         sync.Mutex
	allocated  map[uintptr]*allocation
	freeList   []*allocation
	totalAlloc int64
	peakAlloc  int64
}

type allocation struct {
	buf  []byte // retained so the GC keeps the block alive
	ptr  unsafe.Pointer
	size int
	used bool
}

// NewMemoryPool creates a new memory pool for efficient memory management.
func NewMemoryPool() *MemoryPool {
	return &MemoryPool{
		allocated: make(map[uintptr]*allocation),
	}
}

// Malloc allocates device memory of the specified size in bytes.
// The memory is aligned for optimal SIMD performance.
func (ctx *Context) Malloc(size int) (DevicePtr, error) {
	return ctx.memory.Allocate(size)
}

// Free releases device memory allocated by Malloc. The memory may be
// retained in the pool for future allocations.
func (ctx *Context) Free(ptr DevicePtr) error {
	return ctx.memory.Free(ptr)
}

// Memcpy copies memory between host and device. Supports various
// combinations of DevicePtr and Go slices.
func (ctx *Context) Memcpy(dst, src interface{}, size int, kind MemcpyKind) error {
	// On CPU, all transfer kinds are the same copy. The API is kept for
	// compatibility with real accelerator runtimes.
	dstPtr, err := rawPointer("Memcpy", dst)
	if err != nil {
		return err
	}
	srcPtr, err := rawPointer("Memcpy", src)
	if err != nil {
		return err
	}

	if dstPtr != nil && srcPtr != nil && size > 0 {
		copy(unsafe.Slice((*byte)(dstPtr), size), unsafe.Slice((*byte)(srcPtr), size))
	}
	return nil
}

func rawPointer(op string, v interface{}) (unsafe.Pointer, error) {
	switch s := v.(type) {
	case DevicePtr:
		return s.ptr, nil
	case unsafe.Pointer:
		return s, nil
	case []byte:
		if len(s) > 0 {
			return unsafe.Pointer(&s[0]), nil
		}
	case []float32:
		if len(s) > 0 {
			return unsafe.Pointer(&s[0]), nil
		}
	case []float64:
		if len(s) > 0 {
			return unsafe.Pointer(&s[0]), nil
		}
	case []int32:
		if len(s) > 0 {
			return unsafe.Pointer(&s[0]), nil
		}
	case []int64:
		if len(s) > 0 {
			return unsafe.Pointer(&s[0]), nil
		}
	default:
		return nil, NewInvalidArgError(op, fmt.Sprintf("unsupported type: %T", v))
	}
	return nil, nil
}

// MemoryPool methods

// Allocate allocates memory from the pool.
func (mp *MemoryPool) Allocate(size int) (DevicePtr, error) {
	if size <= 0 {
		return DevicePtr{}, ErrInvalidSize
	}

	mp.mu.Lock()
	defer mp.mu.Unlock()

	// Round up to alignment
	alignedSize := (size + MemoryAlignment - 1) &^ (MemoryAlignment - 1)

	// Try to reuse from free list
	for i, alloc := range mp.freeList {
		if alloc.size >= alignedSize {
			mp.freeList = append(mp.freeList[:i], mp.freeList[i+1:]...)
			alloc.used = true

			mp.totalAlloc += int64(alloc.size)
			if mp.totalAlloc > mp.peakAlloc {
				mp.peakAlloc = mp.totalAlloc
			}

			return DevicePtr{
				ptr:  alloc.ptr,
				size: size,
			}, nil
		}
	}

	// Allocate a fresh block
	buf := make([]byte, alignedSize)
	ptr := unsafe.Pointer(&buf[0])

	alloc := &allocation{
		buf:  buf,
		ptr:  ptr,
		size: alignedSize,
		used: true,
	}
	mp.allocated[uintptr(ptr)] = alloc

	mp.totalAlloc += int64(alignedSize)
	if mp.totalAlloc > mp.peakAlloc {
		mp.peakAlloc = mp.totalAlloc
	}

	return DevicePtr{
		ptr:  ptr,
		size: size,
	}, nil
}

// Free returns memory to the pool.
func (mp *MemoryPool) Free(ptr DevicePtr) error {
	if ptr.ptr == nil {
		return nil
	}

	mp.mu.Lock()
	defer mp.mu.Unlock()

	alloc, ok := mp.allocated[uintptr(ptr.ptr)]
	if !ok {
		return NewMemoryError("Free", "pointer not found in allocation pool", nil)
	}
	if !alloc.used {
		return ErrDoubleFree
	}

	alloc.used = false
	mp.freeList = append(mp.freeList, alloc)
	mp.totalAlloc -= int64(alloc.size)

	return nil
}

// GetStats returns memory pool statistics.
func (mp *MemoryPool) GetStats() (allocated, peak int64) {
	mp.mu.Lock()
	defer mp.mu.Unlock()
	return mp.totalAlloc, mp.peakAlloc
}

// DevicePtr methods

// View returns a typed slice view of the device memory. The slice can be
// used directly for reading and writing elements of type T.
func View[T any](d DevicePtr) []T {
	if d.ptr == nil {
		return nil
	}
	var t T
	elemSize := int(unsafe.Sizeof(t))
	return unsafe.Slice((*T)(d.ptr), d.size/elemSize)
}

// Float32 returns a float32 slice view of the device memory.
func (d DevicePtr) Float32() []float32 {
	return View[float32](d)
}

// Float64 returns a float64 slice view of the device memory.
func (d DevicePtr) Float64() []float64 {
	return View[float64](d)
}

// Int32 returns an int32 slice view of the device memory.
func (d DevicePtr) Int32() []int32 {
	return View[int32](d)
}

// Byte returns a byte slice view covering the entire memory region.
func (d DevicePtr) Byte() []byte {
	return View[byte](d)
}

// Fingerprint hashes the memory contents. Two buffers with bit-identical
// contents produce the same fingerprint, which is what the determinism
// checks compare.
func (d DevicePtr) Fingerprint() uint64 {
	if d.ptr == nil {
		return 0
	}
	return xxh3.Hash(d.Byte())
}

// Offset returns a new DevicePtr offset by the given number of bytes.
// The returned DevicePtr shares the same underlying memory.
func (d DevicePtr) Offset(bytes int) DevicePtr {
	return DevicePtr{
		ptr:    unsafe.Pointer(uintptr(d.ptr) + uintptr(bytes)),
		size:   d.size - bytes,
		offset: d.offset + bytes,
	}
}

// Size returns the size in bytes of the memory region.
func (d DevicePtr) Size() int {
	return d.size
}

// getSystemMemory returns total system memory in bytes.
func getSystemMemory() uint64 {
	// Simplified: report a fixed capacity rather than probing the OS.
	return 16 * 1024 * 1024 * 1024
}
