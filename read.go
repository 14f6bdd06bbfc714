package fspool

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/negrel/assert"
)

// ============================================================================
// Read state machine
// ============================================================================
//
// FsReadStream bridges the single-goroutine poll protocol to blocking read
// syscalls on pool workers:
//
//	init ──► opening ──► ready ◄──► working ──► eof
//	              │          │          │
//	              └──────────┴──────────┴──► failed
//
// At most one operation is in flight. The file handle lives either in the
// state (ready) or inside the dispatched closure (opening/working), never
// in both places; every transition moves it across that boundary whole.
//
// The scratch buffer makes the same trip: the poll side hands it (emptied,
// capacity kept) into the next read step, the worker fills it in place and
// hands it back as the chunk to yield. One backing allocation serves the
// whole stream unless the caller asked for owned chunks.

type readState uint8

const (
	// readInit: path known, nothing dispatched yet.
	readInit readState = iota
	// readOpening: combined open+first-read step in flight.
	readOpening
	// readWorking: read step in flight.
	readWorking
	// readReady: idle, state owns the file handle and scratch buffer.
	readReady
	// readEOF: terminal, empty chunk observed.
	readEOF
	// readFailed: terminal, err holds the sticky failure.
	readFailed
	// readClosed: caller released the stream.
	readClosed
)

// readStep is the value a read worker hands back across the bridge: the
// file handle returning to poll-side ownership and the filled chunk, whose
// backing array is the stream's scratch buffer.
type readStep struct {
	file  *os.File
	chunk []byte
}

// discardReadStep releases a read result nobody will consume (stream
// closed while the step was in flight).
func discardReadStep(r readStep) {
	if r.file != nil {
		_ = r.file.Close()
	}
}

// FsReadStream is a lazy, finite, non-restartable stream of byte chunks
// from one file, produced by [FsPool.Read] or [FsPool.ReadHandle].
//
// Poll it from a single goroutine. Reaching end of stream or a failure is
// permanent for the instance; re-read by creating a new stream.
type FsReadStream struct {
	pool *FsPool
	path string
	opts readOptions

	state    readState
	inflight *completion[readStep]
	file     *os.File

	// scratch is the reused chunk buffer (len = last chunk, backing array
	// shared with the chunk yielded to the caller).
	scratch []byte

	err error
}

func newReadStream(pool *FsPool, path string, opts readOptions) *FsReadStream {
	return &FsReadStream{
		pool:  pool,
		path:  path,
		opts:  opts,
		state: readInit,
	}
}

func newReadStreamFromHandle(pool *FsPool, f *os.File, opts readOptions) *FsReadStream {
	// With a pre-opened handle the open phase is skipped entirely; size the
	// scratch buffer from the handle's metadata now.
	size := opts.bufferSize
	if size <= 0 {
		size = deriveBufferSize(f)
	}

	return &FsReadStream{
		pool:    pool,
		path:    f.Name(),
		opts:    opts,
		state:   readReady,
		file:    f,
		scratch: make([]byte, 0, size),
	}
}

// Poll advances the stream without blocking.
//
// Outcomes:
//   - (chunk, nil): the next chunk. It aliases the stream's scratch buffer
//     and is only valid until the next Poll unless [WithOwnedChunks] is
//     set.
//   - (nil, [ErrNotReady]): a read is in flight; poll again later.
//   - (nil, [io.EOF]): end of stream, terminal and idempotent.
//   - (nil, err): I/O or dispatch failure, terminal and sticky.
//
// Yielding a chunk and dispatching the next read never happen in the same
// Poll: the poll after a chunk dispatches and reports [ErrNotReady].
func (s *FsReadStream) Poll() ([]byte, error) {
	for {
		switch s.state {
		case readInit:
			path := s.path
			size := s.opts.bufferSize

			s.inflight = dispatch(s.pool.exec, discardReadStep, func() (readStep, error) {
				return openAndReadChunk(path, size)
			})
			s.state = readOpening

		case readOpening, readWorking:
			res, done, err := s.inflight.poll()
			if !done {
				return nil, ErrNotReady
			}

			s.inflight = nil

			if err != nil {
				s.state = readFailed
				s.err = err

				return nil, err
			}

			if len(res.chunk) == 0 {
				s.state = readEOF
				_ = res.file.Close()

				return nil, io.EOF
			}

			// Keep the filled buffer as scratch; the yielded chunk borrows
			// it until the next Poll reclaims it.
			s.file = res.file
			s.scratch = res.chunk
			s.state = readReady

			if s.opts.ownedChunks {
				return append([]byte(nil), res.chunk...), nil
			}

			return res.chunk, nil

		case readReady:
			assert.NotNil(s.file, "ready read stream must own the file handle")
			assert.Nil(s.inflight, "ready read stream cannot have a step in flight")

			file := s.file
			s.file = nil

			// Reclaim the scratch allocation, dropping the previous chunk's
			// bytes but keeping its capacity.
			buf := s.scratch[:0]
			s.scratch = nil

			path := s.path

			s.inflight = dispatch(s.pool.exec, discardReadStep, func() (readStep, error) {
				return readChunk(path, file, buf)
			})
			s.state = readWorking

		case readEOF:
			return nil, io.EOF

		case readFailed:
			return nil, s.err

		case readClosed:
			return nil, ErrClosed

		default:
			panic(fmt.Sprintf("fspool: invalid read stream state %d", s.state))
		}
	}
}

// Next blocks until the stream yields a chunk, ends, or fails.
//
// It drives the same state machine as [FsReadStream.Poll]; the chunk
// borrowing rules are identical. Returns ctx.Err() if ctx is done first;
// the in-flight step keeps running and a later Poll or Next can still
// consume it.
func (s *FsReadStream) Next(ctx context.Context) ([]byte, error) {
	for {
		chunk, err := s.Poll()
		if !errors.Is(err, ErrNotReady) {
			return chunk, err
		}

		err = s.inflight.await(ctx)
		if err != nil {
			return nil, err
		}
	}
}

// Close releases the stream.
//
// If a step is in flight it runs to completion on its worker and its
// result is discarded, closing the file handle on that side. Close is
// idempotent; polling a closed stream returns [ErrClosed].
func (s *FsReadStream) Close() error {
	var err error

	switch s.state {
	case readOpening, readWorking:
		s.inflight.abandon()
		s.inflight = nil
	case readReady:
		err = s.file.Close()
		s.file = nil
	case readInit, readEOF, readFailed, readClosed:
		// Nothing held.
	}

	s.scratch = nil
	s.state = readClosed

	return err
}

// openAndReadChunk is the combined first worker step: open the file, size
// the chunk buffer, and perform the first read.
func openAndReadChunk(path string, bufferSize int) (readStep, error) {
	f, err := os.Open(path)
	if err != nil {
		return readStep{}, &IOError{Path: path, Op: "open", Err: err}
	}

	size := bufferSize
	if size <= 0 {
		size = deriveBufferSize(f)
	}

	return readChunk(path, f, make([]byte, 0, size))
}

// readChunk is the repeated worker step: fill buf from the file's current
// offset. An empty returned chunk means end of file. On error the handle
// is closed here, since the poll side never gets it back.
func readChunk(path string, f *os.File, buf []byte) (readStep, error) {
	// A zero-capacity buffer cannot make progress (and cannot distinguish
	// EOF); regrow to the fixed default. Happens for zero-length files
	// whose derived size is their length.
	if cap(buf) == 0 {
		buf = make([]byte, 0, defaultBufferSize)
	}

	n, err := f.Read(buf[:cap(buf)])
	if n > 0 {
		return readStep{file: f, chunk: buf[:n]}, nil
	}

	if err == nil || errors.Is(err, io.EOF) {
		return readStep{file: f, chunk: buf[:0]}, nil
	}

	_ = f.Close()

	return readStep{}, &IOError{Path: path, Op: "read", Err: err}
}

// defaultBufferSize is the chunk size used when no override is given and
// the OS reports no usable block size.
const defaultBufferSize = 8192

// deriveBufferSize picks a chunk size for an open file: the filesystem
// block size, capped by the file length so short files don't reserve
// space they can never fill.
func deriveBufferSize(f *os.File) int {
	size := blockSize(f)
	if size <= 0 {
		size = defaultBufferSize
	}

	st, err := f.Stat()
	if err != nil {
		return size
	}

	if st.Size() < int64(size) {
		return int(st.Size())
	}

	return size
}
