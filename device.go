package treduce

import (
	"fmt"
	"sync"
	"sync/atomic"
	"unsafe"
)

// Device represents a compute device. In treduce, this is the CPU with its
// cores and available memory, presented through an accelerator-shaped API.
type Device struct {
	ID        int    // Unique device identifier
	Name      string // Human-readable device name
	TotalMem  uint64 // Total available memory in bytes
	NumCores  int    // Number of CPU cores
	WarpWidth int    // Native sub-group ("warp") width in threads
}

// Context represents an execution context for device operations.
// It manages memory allocation and stream execution. A Context must exist
// before any device operation; the package keeps a default one, and
// NewContext creates private ones.
type Context struct {
	device        *Device
	mu            sync.Mutex
	streams       map[int]*Stream
	streamID      int32
	memory        *MemoryPool
	defaultStream *Stream
	warpWidth     int
}

// Stream represents an ordered sequence of operations that execute
// asynchronously. Operations within a stream execute in order, but
// operations in different streams may execute concurrently.
type Stream struct {
	id    int
	tasks chan func() error
	done  chan struct{}
	wg    sync.WaitGroup

	errMu sync.Mutex
	err   error
}

// Dim3 represents 3D dimensions for grid and block configurations.
// This matches CUDA's dim3 structure for kernel launch parameters.
type Dim3 struct {
	X, Y, Z int
}

// ThreadID identifies a thread's position within the execution hierarchy.
// It provides the same indexing semantics as CUDA's built-in variables:
// blockIdx, threadIdx, blockDim, and gridDim.
type ThreadID struct {
	BlockIdx  Dim3 // Block index within the grid
	ThreadIdx Dim3 // Thread index within the block
	BlockDim  Dim3 // Dimensions of the block
	GridDim   Dim3 // Dimensions of the grid
}

// Kernel represents a compute kernel that can be executed in parallel.
// Implementations should be thread-safe as Execute will be called
// concurrently from multiple threads.
type Kernel interface {
	Execute(tid ThreadID, args ...interface{})
}

// KernelFunc is a function that can be launched as a thread-granularity
// kernel. It receives thread identification and variadic arguments.
type KernelFunc func(tid ThreadID, args ...interface{})

// BlockFunc is a block-granularity kernel: it is invoked once per block and
// steps the block's threads itself. Phases inside the function separated by
// plain loop boundaries have barrier semantics, since no thread of the block
// runs concurrently with another.
type BlockFunc func(blockIdx, blockDim Dim3)

// DevicePtr represents a pointer to device memory. It provides type-safe
// access through the view methods (Float32, Float64, View) and supports
// pointer arithmetic through Offset.
type DevicePtr struct {
	ptr    unsafe.Pointer
	size   int
	offset int
}

// Global runtime state
var (
	defaultDevice  *Device
	defaultContext *Context
	initOnce       sync.Once
)

func init() {
	initOnce.Do(func() {
		defaultDevice = newCPUDevice(0)
		defaultContext = newContext(defaultDevice)
	})
}

func newContext(dev *Device) *Context {
	ctx := &Context{
		device:    dev,
		streams:   make(map[int]*Stream),
		memory:    NewMemoryPool(),
		warpWidth: dev.WarpWidth,
	}
	ctx.defaultStream = ctx.CreateStream()
	return ctx
}

// NewContext creates a private execution context on the active device.
// Contexts do not share streams or memory pools.
func NewContext() *Context {
	return newContext(defaultDevice)
}

// Malloc allocates device memory of the specified size in bytes on the
// default context. The returned DevicePtr can be used with all operations.
func Malloc(size int) (DevicePtr, error) {
	return defaultContext.Malloc(size)
}

// Free releases device memory allocated by Malloc.
func Free(ptr DevicePtr) error {
	return defaultContext.Free(ptr)
}

// Memcpy copies memory between host and device on the default context.
func Memcpy(dst, src interface{}, size int, kind MemcpyKind) error {
	return defaultContext.Memcpy(dst, src, size, kind)
}

// Launch executes a thread-granularity kernel on the default stream.
func Launch(kernel Kernel, grid, block Dim3, args ...interface{}) error {
	return defaultContext.Launch(kernel, grid, block, args...)
}

// LaunchFunc executes a kernel function on the default stream.
func LaunchFunc(fn KernelFunc, grid, block Dim3, args ...interface{}) error {
	return defaultContext.LaunchFunc(fn, grid, block, args...)
}

// Synchronize waits for all operations on all streams of the default
// context to complete and reports the first execution error, if any.
func Synchronize() error {
	return defaultContext.Synchronize()
}

// GetDevice returns the current device information.
func GetDevice() *Device {
	return defaultDevice
}

// GetDeviceCount returns the number of available devices. Always 1: the CPU.
func GetDeviceCount() int {
	return 1
}

// GetDeviceProperties returns device properties for the given device ID.
func GetDeviceProperties(id int) (*Device, error) {
	if id != 0 {
		return nil, NewInvalidArgError("GetDeviceProperties", fmt.Sprintf("invalid device ID: %d", id))
	}
	return defaultDevice, nil
}

// Context methods

// Device returns the device this context executes on.
func (ctx *Context) Device() *Device {
	return ctx.device
}

// WarpWidth returns the sub-group width kernels launched through this
// context observe.
func (ctx *Context) WarpWidth() int {
	return ctx.warpWidth
}

// SetWarpWidth overrides the emulated sub-group width for this context.
// Only the widths real hardware reports are accepted.
func (ctx *Context) SetWarpWidth(w int) error {
	if !containsInt(SupportedWarpWidths, w) {
		return NewConfigError("SetWarpWidth", fmt.Sprintf("unsupported warp width %d (supported: %v)", w, SupportedWarpWidths))
	}
	ctx.warpWidth = w
	return nil
}

// CreateStream creates a new execution stream.
func (ctx *Context) CreateStream() *Stream {
	id := int(atomic.AddInt32(&ctx.streamID, 1))
	stream := &Stream{
		id:    id,
		tasks: make(chan func() error, 1000),
		done:  make(chan struct{}),
	}

	go stream.worker()

	ctx.mu.Lock()
	ctx.streams[id] = stream
	ctx.mu.Unlock()
	return stream
}

// Launch executes a kernel on the default stream.
func (ctx *Context) Launch(kernel Kernel, grid, block Dim3, args ...interface{}) error {
	return ctx.LaunchStream(kernel, grid, block, ctx.defaultStream, args...)
}

// LaunchFunc executes a kernel function on the default stream.
func (ctx *Context) LaunchFunc(fn KernelFunc, grid, block Dim3, args ...interface{}) error {
	return ctx.LaunchFuncStream(fn, grid, block, ctx.defaultStream, args...)
}

// LaunchStream executes a kernel on a specific stream.
func (ctx *Context) LaunchStream(kernel Kernel, grid, block Dim3, stream *Stream, args ...interface{}) error {
	return ctx.launchInternal(kernel.Execute, grid, block, stream, args...)
}

// LaunchFuncStream executes a kernel function on a specific stream.
func (ctx *Context) LaunchFuncStream(fn KernelFunc, grid, block Dim3, stream *Stream, args ...interface{}) error {
	return ctx.launchInternal(fn, grid, block, stream, args...)
}

// LaunchBlocks executes a block-granularity kernel on the default stream.
func (ctx *Context) LaunchBlocks(fn BlockFunc, grid, block Dim3) error {
	return ctx.LaunchBlocksStream(fn, grid, block, ctx.defaultStream)
}

// LaunchBlocksStream executes a block-granularity kernel on a specific
// stream. The launch is rejected synchronously for invalid dimensions;
// failures inside the kernel surface through the stream's sticky error.
func (ctx *Context) LaunchBlocksStream(fn BlockFunc, grid, block Dim3, stream *Stream) error {
	return ctx.launchBlocksInternal(fn, grid, block, stream)
}

// Synchronize waits for all streams to complete and returns the first
// sticky error recorded by any of them.
func (ctx *Context) Synchronize() error {
	ctx.mu.Lock()
	streams := make([]*Stream, 0, len(ctx.streams))
	for _, s := range ctx.streams {
		streams = append(streams, s)
	}
	ctx.mu.Unlock()

	var first error
	for _, s := range streams {
		if err := s.Synchronize(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// LastError returns the first sticky error recorded by any stream of this
// context without waiting for outstanding work.
func (ctx *Context) LastError() error {
	ctx.mu.Lock()
	defer ctx.mu.Unlock()
	for _, s := range ctx.streams {
		if err := s.Err(); err != nil {
			return err
		}
	}
	return nil
}

// Stream methods

// worker processes tasks for a stream in submission order.
func (s *Stream) worker() {
	for task := range s.tasks {
		if err := task(); err != nil {
			s.setErr(err)
		}
		s.wg.Done()
	}
	close(s.done)
}

// Synchronize waits for all tasks in the stream to complete and returns the
// stream's sticky error.
func (s *Stream) Synchronize() error {
	s.wg.Wait()
	return s.Err()
}

// Submit adds a task to the stream. A non-nil return from the task becomes
// the stream's sticky error.
func (s *Stream) Submit(task func() error) {
	s.wg.Add(1)
	s.tasks <- task
}

// Err returns the stream's sticky error: the first failure recorded by any
// task since the stream was created or last cleared.
func (s *Stream) Err() error {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	return s.err
}

// ClearErr resets the stream's sticky error.
func (s *Stream) ClearErr() {
	s.errMu.Lock()
	s.err = nil
	s.errMu.Unlock()
}

func (s *Stream) setErr(err error) {
	s.errMu.Lock()
	if s.err == nil {
		s.err = err
	}
	s.errMu.Unlock()
}

// Helper functions

// Global returns the global thread index.
func (tid ThreadID) Global() int {
	return tid.BlockIdx.X*tid.BlockDim.X + tid.ThreadIdx.X
}

// GlobalX returns the global X index.
func (tid ThreadID) GlobalX() int {
	return tid.BlockIdx.X*tid.BlockDim.X + tid.ThreadIdx.X
}

// GlobalY returns the global Y index.
func (tid ThreadID) GlobalY() int {
	return tid.BlockIdx.Y*tid.BlockDim.Y + tid.ThreadIdx.Y
}

// GlobalZ returns the global Z index.
func (tid ThreadID) GlobalZ() int {
	return tid.BlockIdx.Z*tid.BlockDim.Z + tid.ThreadIdx.Z
}

// Size returns the total number of elements.
func (d Dim3) Size() int {
	return d.X * d.Y * d.Z
}

// Implement KernelFunc as Kernel
func (fn KernelFunc) Execute(tid ThreadID, args ...interface{}) {
	fn(tid, args...)
}
