package treduce

import (
	"time"
)

// Event marks a point in a stream's execution, mirroring accelerator event
// semantics: record enqueues the mark, synchronize blocks until the stream
// has reached it, and two synchronized events yield an elapsed time.
//
// An Event is one-shot: create a fresh one per Record.
type Event struct {
	done chan struct{}
	at   time.Time
}

// NewEvent creates an unrecorded event.
func NewEvent() *Event {
	return &Event{done: make(chan struct{})}
}

// Record enqueues the event on the stream. The timestamp is taken when the
// stream worker reaches the mark, not when Record returns, so all work
// submitted before it is covered. A nil stream records on the context's
// default stream.
func (ctx *Context) Record(e *Event, stream *Stream) {
	if stream == nil {
		stream = ctx.defaultStream
	}
	stream.Submit(func() error {
		e.at = time.Now()
		close(e.done)
		return nil
	})
}

// Synchronize blocks until the event has been reached by its stream.
func (e *Event) Synchronize() {
	<-e.done
}

// Elapsed returns the wall time between two events. Both events must have
// been synchronized first.
func Elapsed(start, end *Event) time.Duration {
	return end.at.Sub(start.at)
}
