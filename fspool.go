// Package fspool performs file I/O on a bounded pool of worker goroutines
// behind non-blocking, poll-driven interfaces.
//
// The caller's goroutine never blocks on disk: reads are exposed as a lazy
// chunk stream ([FsReadStream]), writes as a backpressured sink
// ([FsWriteSink]), and deletion as a one-shot deferred result
// ([FsFuture]). Each poll either yields progress or reports [ErrNotReady]
// immediately, so streams and sinks can be driven cooperatively alongside
// other work. Blocking conveniences ([FsReadStream.Next],
// [FsWriteSink.Write], [FsFuture.Wait]) are layered on top of the same
// machinery for callers that do want to wait.
//
// # Ownership
//
// Each stream and sink keeps at most one blocking operation in flight.
// The open file handle is owned exclusively by one side of the
// poll/worker boundary at any time: it is moved into the worker closure
// when a step is dispatched and moved back when its result is consumed.
// No locks are involved; mutual exclusion is structural.
//
// Streams and sinks are single-owner: they must be polled from one
// goroutine at a time. The [FsPool] itself is safe to share.
//
// # Buffers
//
// A read stream reuses one scratch buffer for its whole life. Chunks
// returned by [FsReadStream.Poll] alias that buffer and are only valid
// until the next Poll; copy them if you need to retain them, or use
// [WithOwnedChunks] to have the stream copy for you. The buffer size is
// taken from [WithBufferSize] when set, otherwise from the OS block size
// of the opened file, capped by the file length so short files do not
// over-allocate.
//
// # Panics
//
// Panics in dispatched work are not recovered by this package; a panic on
// a pool worker will crash the process.
package fspool

import (
	"context"
	"errors"
	"fmt"
	"os"
)

// Sentinel errors returned by poll-style methods.
var (
	// ErrNotReady reports that a dispatched operation has not completed
	// yet. Poll again later; no progress was lost.
	ErrNotReady = errors.New("fspool: not ready")

	// ErrClosed reports use of a stream, sink, or pool after Close.
	ErrClosed = errors.New("fspool: closed")

	// ErrExecutorClosed reports that the executor rejected a task. This is
	// an operational error: the stream or sink that observed it is dead.
	ErrExecutorClosed = errors.New("fspool: executor closed")

	// ErrCompletionLost reports that a worker's completion slot was
	// discarded before a result was written. Observing it means a worker
	// died mid-operation; it is fatal for the stream or sink.
	ErrCompletionLost = errors.New("fspool: completion lost")
)

// IOError is returned when a file system operation fails.
type IOError struct {
	// Path is the path the operation targeted.
	Path string
	// Op is the operation that failed: "open", "read", "write", "remove",
	// or "stat".
	Op string
	// Err is the underlying error.
	Err error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
}

func (e *IOError) Unwrap() error {
	return e.Err
}

// FsPool is the shared front door: it holds the executor that runs
// blocking file system calls and constructs streams, sinks, and one-shot
// operations against it.
//
// An FsPool is cheap to share; all streams and sinks created from it
// dispatch onto the same executor. The zero value is not usable, use
// [New].
type FsPool struct {
	exec Executor

	// owned is non-nil when the pool created its own executor and is
	// responsible for shutting it down.
	owned *FixedExecutor
}

// New creates a pool. Without options it starts its own
// [FixedExecutor] with [DefaultThreads] workers.
//
// Use [WithThreads] to size the owned executor, or [WithExecutor] to run
// on an externally managed one (which the pool will not close).
func New(opts ...PoolOption) *FsPool {
	cfg := applyPoolOptions(opts)

	if cfg.executor != nil {
		return &FsPool{exec: cfg.executor}
	}

	owned := NewFixedExecutor(cfg.threads)

	return &FsPool{exec: owned, owned: owned}
}

// Read returns a stream of the contents of the file at path.
//
// Nothing is opened until the first Poll. Open and read errors surface
// from Poll and are terminal for the stream.
func (p *FsPool) Read(path string, opts ...ReadOption) *FsReadStream {
	return newReadStream(p, path, applyReadOptions(opts))
}

// ReadHandle returns a stream over an already-open file.
//
// The stream takes ownership of f and closes it when the stream reaches
// end of stream, fails, or is closed. The buffer size is computed from
// f's metadata immediately unless overridden by [WithBufferSize].
func (p *FsPool) ReadHandle(f *os.File, opts ...ReadOption) *FsReadStream {
	return newReadStreamFromHandle(p, f, applyReadOptions(opts))
}

// Write returns a sink that writes offered chunks to the file at path.
//
// The open (by default create-if-absent, write-only) is dispatched
// immediately; the sink reports backpressure until it completes.
func (p *FsPool) Write(path string, opts ...WriteOption) *FsWriteSink {
	return newWriteSink(p, path, applyWriteOptions(opts))
}

// WriteHandle returns a sink over an already-open file.
//
// The sink takes ownership of f, starts idle, and can accept a chunk on
// the first Offer.
func (p *FsPool) WriteHandle(f *os.File) *FsWriteSink {
	return newWriteSinkFromHandle(p, f)
}

// Delete removes the file at path on a pool worker.
//
// The returned future resolves once the remove syscall finishes. Failures
// are reported as an [IOError] with Op "remove".
func (p *FsPool) Delete(path string) *FsFuture[struct{}] {
	c := dispatch(p.exec, nil, func() (struct{}, error) {
		err := os.Remove(path)
		if err != nil {
			return struct{}{}, &IOError{Path: path, Op: "remove", Err: err}
		}

		return struct{}{}, nil
	})

	return &FsFuture[struct{}]{c: c}
}

// Close shuts down the pool's owned executor, waiting for queued work to
// drain. Pools created with [WithExecutor] leave the executor alone.
//
// Close is idempotent. Streams and sinks dispatched after Close observe
// [ErrExecutorClosed].
func (p *FsPool) Close() error {
	if p.owned == nil {
		return nil
	}

	return p.owned.Close()
}

// FsFuture is the one-shot deferred result of a pool operation.
//
// A future is single-owner: poll it from one goroutine at a time. Once it
// resolves, the outcome is sticky and every subsequent Poll returns it
// again.
type FsFuture[T any] struct {
	c *completion[T]

	done bool
	val  T
	err  error
}

// Poll reports the outcome without blocking.
//
// It returns [ErrNotReady] while the operation is still running, and the
// operation's result (or error) once it has finished.
func (f *FsFuture[T]) Poll() (T, error) {
	if f.done {
		return f.val, f.err
	}

	val, done, err := f.c.poll()
	if !done {
		var zero T

		return zero, ErrNotReady
	}

	f.done, f.val, f.err = true, val, err

	return val, err
}

// Wait blocks until the operation finishes or ctx is done.
func (f *FsFuture[T]) Wait(ctx context.Context) (T, error) {
	for {
		val, err := f.Poll()
		if !errors.Is(err, ErrNotReady) {
			return val, err
		}

		err = f.c.await(ctx)
		if err != nil {
			var zero T

			return zero, err
		}
	}
}
