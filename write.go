package fspool

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/negrel/assert"
)

// ============================================================================
// Write state machine
// ============================================================================
//
// FsWriteSink accepts one chunk at a time and runs the blocking open and
// write steps on pool workers:
//
//	working (open) ──► ready ◄──► working (write)
//	        │              │           │
//	        └──────────────┴───────────┴──► failed
//
// Backpressure is the protocol: while a step is in flight, Offer declines
// the chunk and the caller retries after the next Flush reports idle. The
// file handle ownership rule matches the read stream: it is either held by
// the ready state or moved into the in-flight closure, never both.

type writeState uint8

const (
	// writeWorking: an open or write step is in flight.
	writeWorking writeState = iota
	// writeReady: idle, state owns the file handle.
	writeReady
	// writeFailed: terminal, err holds the sticky failure.
	writeFailed
	// writeClosed: caller released the sink.
	writeClosed
)

// writeStep is the value a write worker hands back: the file handle
// returning to poll-side ownership, plus the staging buffer so its
// allocation can be reused for the next chunk. staging is nil for the
// open step.
type writeStep struct {
	file    *os.File
	staging []byte
}

func discardWriteStep(r writeStep) {
	if r.file != nil {
		_ = r.file.Close()
	}
}

// FsWriteSink writes byte chunks to one file, produced by [FsPool.Write]
// or [FsPool.WriteHandle].
//
// Drive it from a single goroutine. A failed open or write is terminal
// for the sink; the error is sticky and re-reported by Offer and Flush.
type FsWriteSink struct {
	pool *FsPool
	path string

	state    writeState
	inflight *completion[writeStep]
	file     *os.File

	// staging holds the copy of the chunk currently being written. The
	// allocation shuttles between poll side and worker and is reused for
	// every chunk.
	staging []byte

	err error
}

func newWriteSink(pool *FsPool, path string, opts writeOptions) *FsWriteSink {
	flags := os.O_WRONLY

	if !opts.noCreate {
		flags |= os.O_CREATE
	}

	if opts.truncate {
		flags |= os.O_TRUNC
	}

	if opts.append {
		flags |= os.O_APPEND
	}

	perm := opts.perm

	s := &FsWriteSink{
		pool:  pool,
		path:  path,
		state: writeWorking,
	}

	s.inflight = dispatch(pool.exec, discardWriteStep, func() (writeStep, error) {
		f, err := os.OpenFile(path, flags, perm)
		if err != nil {
			return writeStep{}, &IOError{Path: path, Op: "open", Err: err}
		}

		return writeStep{file: f}, nil
	})

	return s
}

func newWriteSinkFromHandle(pool *FsPool, f *os.File) *FsWriteSink {
	return &FsWriteSink{
		pool:  pool,
		path:  f.Name(),
		state: writeReady,
		file:  f,
	}
}

// Offer hands one chunk to the sink without blocking.
//
// Returns (true, nil) when the chunk was accepted and its write
// dispatched. Returns (false, nil) while a previous step is still in
// flight: the chunk was not consumed, retry after [FsWriteSink.Flush]
// reports idle. Any other return is the sink's terminal error.
//
// The chunk is copied into an internal staging buffer before dispatch, so
// p may be reused immediately.
func (s *FsWriteSink) Offer(p []byte) (bool, error) {
	err := s.pollStep()
	if err != nil {
		if errors.Is(err, ErrNotReady) {
			return false, nil
		}

		return false, err
	}

	assert.NotNil(s.file, "ready write sink must own the file handle")
	assert.Nil(s.inflight, "ready write sink cannot have a step in flight")

	file := s.file
	s.file = nil

	// Reuse the staging allocation, growing only when this chunk is larger
	// than any before it.
	buf := append(s.staging[:0], p...)
	s.staging = nil

	path := s.path

	s.inflight = dispatch(s.pool.exec, discardWriteStep, func() (writeStep, error) {
		return writeChunk(path, file, buf)
	})
	s.state = writeWorking

	return true, nil
}

// Flush drives the in-flight step without blocking.
//
// Returns nil once the sink is idle (handle back, nothing queued),
// [ErrNotReady] while a step is still running, or the sink's terminal
// error.
func (s *FsWriteSink) Flush() error {
	return s.pollStep()
}

// Write blocks until the chunk is accepted or ctx is done.
//
// Acceptance means the write was dispatched, not that it finished; call
// [FsWriteSink.Flush] (or Close after a final blocking flush) to observe
// completion and surface any write error.
func (s *FsWriteSink) Write(ctx context.Context, p []byte) error {
	for {
		accepted, err := s.Offer(p)
		if err != nil {
			return err
		}

		if accepted {
			return nil
		}

		err = s.inflight.await(ctx)
		if err != nil {
			return err
		}
	}
}

// pollStep advances the state machine one observation: consume a finished
// step's result, or report why the sink cannot accept work.
func (s *FsWriteSink) pollStep() error {
	switch s.state {
	case writeReady:
		return nil

	case writeWorking:
		res, done, err := s.inflight.poll()
		if !done {
			return ErrNotReady
		}

		s.inflight = nil

		if err != nil {
			s.state = writeFailed
			s.err = err

			return err
		}

		s.file = res.file
		if res.staging != nil {
			s.staging = res.staging
		}

		s.state = writeReady

		return nil

	case writeFailed:
		return s.err

	case writeClosed:
		return ErrClosed

	default:
		panic(fmt.Sprintf("fspool: invalid write sink state %d", s.state))
	}
}

// Close releases the sink.
//
// An in-flight step runs to completion on its worker and its result is
// discarded, closing the file handle on that side; a write error from
// that final step is not observable. Callers that need it should drain
// with Flush (or a ctx-bounded loop) before closing. Idempotent.
func (s *FsWriteSink) Close() error {
	var err error

	switch s.state {
	case writeWorking:
		s.inflight.abandon()
		s.inflight = nil
	case writeReady:
		err = s.file.Close()
		s.file = nil
	case writeFailed, writeClosed:
		// Nothing held.
	}

	s.staging = nil
	s.state = writeClosed

	return err
}

// writeChunk is the worker step: write the staged chunk in full.
// os.File.Write only returns a nil error when the whole slice was
// written, which is exactly the complete-or-error contract. On error the
// handle is closed here, since the poll side never gets it back.
func writeChunk(path string, f *os.File, staging []byte) (writeStep, error) {
	_, err := f.Write(staging)
	if err != nil {
		_ = f.Close()

		return writeStep{}, &IOError{Path: path, Op: "write", Err: err}
	}

	return writeStep{file: f, staging: staging}, nil
}
