package treduce

import (
	"fmt"
	"time"
	"unsafe"
)

// Engine reduces arrays of T to a single scalar with an associative
// operator. It owns a front/back device buffer pair, allocated once at
// construction and pessimistically sized for the largest declared input and
// the smallest declared reduction factor, and a private stream all passes
// run on.
//
// An Engine is not safe for concurrent Reduce calls: the buffer pair is
// mutated in place.
type Engine[T any] struct {
	ctx    *Context
	stream *Stream

	op   Op[T]
	zero T

	maxInput  int
	declared  map[int]bool // block sizes declared at construction
	warpWidth int          // device property, cached once

	front DevicePtr
	back  DevicePtr

	kernels map[kernelConfig]passKernel[T]
	closed  bool
}

// NewEngine constructs an engine on the default context.
//
// op is the combining operator and zero its identity element, used to pad
// incomplete chunks. inputSizes lists every input length the engine will be
// asked to reduce, blockSizes every block size it will be asked to use; both
// drive buffer sizing and must be non-empty.
func NewEngine[T any](op Op[T], zero T, inputSizes, blockSizes []int) (*Engine[T], error) {
	return NewEngineOn(defaultContext, op, zero, inputSizes, blockSizes)
}

// NewEngineOn constructs an engine on an explicit context. The context's
// warp width is queried once here and treated as fixed for the engine's
// lifetime.
func NewEngineOn[T any](ctx *Context, op Op[T], zero T, inputSizes, blockSizes []int) (*Engine[T], error) {
	if op == nil {
		return nil, NewInvalidArgError("NewEngine", "operator must not be nil")
	}
	if len(inputSizes) == 0 || len(blockSizes) == 0 {
		return nil, NewInvalidArgError("NewEngine", "input size and block size sets must be non-empty")
	}

	maxInput := 0
	for _, n := range inputSizes {
		if n < 1 {
			return nil, NewInvalidArgError("NewEngine", fmt.Sprintf("input size %d must be positive", n))
		}
		if n > maxInput {
			maxInput = n
		}
	}

	declared := make(map[int]bool, len(blockSizes))
	minBlock := 0
	for _, b := range blockSizes {
		if !containsInt(SupportedBlockSizes, b) {
			return nil, NewConfigError("NewEngine",
				fmt.Sprintf("unsupported block size %d (supported: %v)", b, SupportedBlockSizes))
		}
		declared[b] = true
		if minBlock == 0 || b < minBlock {
			minBlock = b
		}
	}

	elemSize := int(unsafe.Sizeof(zero))

	// Front holds the largest input; back holds one element per block of the
	// smallest possible reduction factor (smallest block, one item each).
	front, err := ctx.Malloc(maxInput * elemSize)
	if err != nil {
		return nil, NewMemoryError("NewEngine", "front buffer allocation failed", err)
	}
	back, err := ctx.Malloc(ceilDiv(maxInput, minBlock) * elemSize)
	if err != nil {
		ctx.Free(front)
		return nil, NewMemoryError("NewEngine", "back buffer allocation failed", err)
	}

	return &Engine[T]{
		ctx:       ctx,
		stream:    ctx.CreateStream(),
		op:        op,
		zero:      zero,
		maxInput:  maxInput,
		declared:  declared,
		warpWidth: ctx.WarpWidth(),
		front:     front,
		back:      back,
		kernels:   make(map[kernelConfig]passKernel[T]),
	}, nil
}

// Reduce collapses input into a single scalar and reports the wall time of
// the pass loop, bracketed by stream events.
//
// blockSize must be one of the sizes declared at construction and
// itemsPerThread one of the supported unrolling factors; anything else is
// rejected before any launch. The input must not exceed the largest declared
// size. Any launch or kernel failure aborts the call with no partial result.
func (e *Engine[T]) Reduce(input []T, blockSize, itemsPerThread int) (T, time.Duration, error) {
	var none T
	if e.closed {
		return none, 0, ErrEngineClosed
	}
	if len(input) == 0 {
		return none, 0, NewInvalidArgError("Reduce", "input must not be empty")
	}
	if len(input) > e.maxInput {
		return none, 0, NewInvalidArgError("Reduce",
			fmt.Sprintf("input size %d exceeds declared maximum %d", len(input), e.maxInput))
	}
	if !e.declared[blockSize] {
		return none, 0, NewConfigError("Reduce",
			fmt.Sprintf("block size %d was not declared at construction", blockSize))
	}
	kern, err := e.kernelFor(blockSize, itemsPerThread)
	if err != nil {
		return none, 0, err
	}

	// A failed earlier call must not poison this one.
	e.stream.ClearErr()

	// Host to device copy into the front buffer.
	copy(View[T](e.front), input)

	factor := blockSize * itemsPerThread
	start, end := NewEvent(), NewEvent()
	e.ctx.Record(start, e.stream)

	// Pass loop. The buffer roles toggle locally; the engine's own front and
	// back fields keep their original identities, so the engine starts every
	// call from a clean state.
	front, back := e.front, e.back
	curr := len(input)
	for curr > 1 {
		blocks := ceilDiv(curr, factor)

		f, b, n := View[T](front), View[T](back), curr
		blockFn := func(blockIdx, _ Dim3) {
			kern(blockIdx.X, f, b, n)
		}
		if err := e.ctx.LaunchBlocksStream(blockFn,
			Dim3{X: blocks, Y: 1, Z: 1},
			Dim3{X: blockSize, Y: 1, Z: 1},
			e.stream); err != nil {
			return none, 0, err
		}

		curr = blocks
		if curr > 1 {
			front, back = back, front
		}
	}

	e.ctx.Record(end, e.stream)
	end.Synchronize()

	if err := e.stream.Err(); err != nil {
		return none, 0, err
	}

	// Device to host copy of the scalar. A single-element input never runs a
	// pass, so its value still sits in front; otherwise the last pass wrote
	// exactly one element into the current back buffer.
	var result T
	if len(input) == 1 {
		result = View[T](front)[0]
	} else {
		result = View[T](back)[0]
	}

	return result, Elapsed(start, end), nil
}

// kernelFor returns the specialized pass kernel for the tuple, building and
// caching it on first use. The cache is per engine and keyed by the full
// tuple, warp width included.
func (e *Engine[T]) kernelFor(blockSize, itemsPerThread int) (passKernel[T], error) {
	cfg := kernelConfig{
		blockSize:      blockSize,
		warpWidth:      e.warpWidth,
		itemsPerThread: itemsPerThread,
	}
	if k, ok := e.kernels[cfg]; ok {
		return k, nil
	}
	k, err := selectKernel(e.op, e.zero, cfg)
	if err != nil {
		return nil, err
	}
	e.kernels[cfg] = k
	return k, nil
}

// WarpWidth returns the sub-group width the engine was built for.
func (e *Engine[T]) WarpWidth() int {
	return e.warpWidth
}

// Close releases the engine's device buffers. The engine is unusable
// afterwards; Close is idempotent.
func (e *Engine[T]) Close() error {
	if e.closed {
		return nil
	}
	e.closed = true

	err := e.stream.Synchronize()
	if ferr := e.ctx.Free(e.front); err == nil {
		err = ferr
	}
	if berr := e.ctx.Free(e.back); err == nil {
		err = berr
	}
	return err
}
