package fspool

import (
	"context"
	"sync/atomic"
)

// ============================================================================
// Completion bridge
// ============================================================================
//
// A completion is the single-use handoff that carries the result of one
// blocking operation from a pool worker back to the poll side. Exactly one
// producer writes exactly once; the consumer polls without blocking and
// observes "pending" until the write, then the written outcome.
//
// The bridge also owns the cross-thread cleanup problem: when a stream or
// sink is closed while an operation is in flight, the file handle is inside
// the worker closure and the poll side cannot release it. abandon() marks
// the bridge; whichever side then drains the slot runs the discard hook on
// the value, so the handle is released exactly once no matter how the close
// races against the worker finishing.

// outcome is the single value moved across the bridge.
type outcome[T any] struct {
	val T
	err error
}

type completion[T any] struct {
	ch chan outcome[T]

	// abandoned is set by the consumer when it will never poll again.
	abandoned atomic.Bool

	// lost records that the slot was observed closed without a write.
	lost bool

	// discard releases resources held by a successful outcome nobody will
	// consume. May be nil when the value owns nothing.
	discard func(T)
}

func newCompletion[T any](discard func(T)) *completion[T] {
	return &completion[T]{
		ch:      make(chan outcome[T], 1),
		discard: discard,
	}
}

// complete writes the single result. Producer side; must be called at most
// once per bridge.
func (c *completion[T]) complete(val T, err error) {
	c.ch <- outcome[T]{val: val, err: err}

	// The consumer may have abandoned the bridge while the operation ran.
	// The store below may also race with abandon(); both sides drain, the
	// channel hands the value to exactly one of them.
	if c.abandoned.Load() {
		c.drain()
	}
}

// fail writes an error result. Producer side.
func (c *completion[T]) fail(err error) {
	var zero T

	c.complete(zero, err)
}

// poll observes the slot without blocking.
//
// done=false means the producer has not written yet. A slot that was
// dropped without a write reports done=true with [ErrCompletionLost]: the
// worker died, which is fatal for the caller, not a pending condition.
func (c *completion[T]) poll() (val T, done bool, err error) {
	if c.lost {
		return val, true, ErrCompletionLost
	}

	select {
	case out, ok := <-c.ch:
		if !ok {
			c.lost = true

			return val, true, ErrCompletionLost
		}

		return out.val, true, out.err
	default:
		return val, false, nil
	}
}

// await blocks until the producer has written or ctx is done. The outcome
// stays in the slot for a subsequent poll to consume.
func (c *completion[T]) await(ctx context.Context) error {
	if c.lost {
		return nil
	}

	select {
	case out, ok := <-c.ch:
		if !ok {
			c.lost = true

			return nil
		}

		// Single consumer, capacity one: putting the outcome back cannot
		// block or reorder.
		c.ch <- out

		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// abandon tells the bridge its consumer is gone. If the result is already
// in the slot it is discarded now; otherwise complete() will discard it
// when the worker finishes.
func (c *completion[T]) abandon() {
	c.abandoned.Store(true)
	c.drain()
}

func (c *completion[T]) drain() {
	select {
	case out, ok := <-c.ch:
		if ok && out.err == nil && c.discard != nil {
			c.discard(out.val)
		}
	default:
	}
}
