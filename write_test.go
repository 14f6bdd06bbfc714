package fspool_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/calvinalkan/fspool"
)

// ============================================================================
// FsWriteSink tests
// ============================================================================

func Test_WriteSink_Declines_Chunk_When_Previous_Write_In_Flight(t *testing.T) {
	t.Parallel()

	gate := &gatedExecutor{}
	pool := fspool.New(fspool.WithExecutor(gate))

	path := filepath.Join(t.TempDir(), "backpressure.txt")

	sink := pool.Write(path)

	// The open step is still gated: no chunk can be accepted yet.
	accepted, err := sink.Offer([]byte("first"))
	require.NoError(t, err)
	require.False(t, accepted)

	gate.release() // run the open

	accepted, err = sink.Offer([]byte("first"))
	require.NoError(t, err)
	require.True(t, accepted)

	// The write for "first" is now in flight; the sink must return the
	// next chunk unaccepted.
	accepted, err = sink.Offer([]byte("second"))
	require.NoError(t, err)
	require.False(t, accepted)

	gate.release() // run the write

	// After completion the same chunk is accepted.
	accepted, err = sink.Offer([]byte("second"))
	require.NoError(t, err)
	require.True(t, accepted)

	gate.release()

	require.NoError(t, sink.Flush())
	require.NoError(t, sink.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, []byte("firstsecond"), data)
}

func Test_WriteSink_Flush_Reports_NotReady_While_Working(t *testing.T) {
	t.Parallel()

	gate := &gatedExecutor{}
	pool := fspool.New(fspool.WithExecutor(gate))

	sink := pool.Write(filepath.Join(t.TempDir(), "flush.txt"))

	require.ErrorIs(t, sink.Flush(), fspool.ErrNotReady)

	gate.release()

	require.NoError(t, sink.Flush())
}

func Test_WriteSink_Copies_Chunk_When_Accepted(t *testing.T) {
	t.Parallel()

	pool := fspool.New()
	defer func() { _ = pool.Close() }()

	path := filepath.Join(t.TempDir(), "copied.txt")

	sink := pool.Write(path)

	chunk := []byte("stable")
	offerChunks(t, sink, chunk)

	// The caller may scribble on its slice right after Offer accepts.
	for i := range chunk {
		chunk[i] = 'X'
	}

	offerChunks(t, sink, []byte("!"))
	require.NoError(t, sink.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, []byte("stable!"), data)
}

func Test_WriteSink_Fails_Terminally_When_Write_Errors(t *testing.T) {
	t.Parallel()

	pool := fspool.New()
	defer func() { _ = pool.Close() }()

	path := writeFile(t, t.TempDir(), "readonly.txt", []byte("data"))

	// A read-only handle makes every write step fail deterministically.
	f, err := os.Open(path)
	require.NoError(t, err)

	sink := pool.WriteHandle(f)

	accepted, err := sink.Offer([]byte("nope"))
	require.NoError(t, err)
	require.True(t, accepted)

	var flushErr error

	for {
		flushErr = sink.Flush()
		if !errors.Is(flushErr, fspool.ErrNotReady) {
			break
		}

		time.Sleep(pollSpinDelay)
	}

	var ioErr *fspool.IOError

	require.ErrorAs(t, flushErr, &ioErr)
	require.Equal(t, "write", ioErr.Op)

	// The failure is sticky: Offer and Flush keep reporting it.
	_, err = sink.Offer([]byte("more"))
	require.Equal(t, flushErr, err)
	require.Equal(t, flushErr, sink.Flush())
}

func Test_WriteSink_Starts_Ready_When_Built_From_Handle(t *testing.T) {
	t.Parallel()

	pool := fspool.New()
	defer func() { _ = pool.Close() }()

	path := filepath.Join(t.TempDir(), "handle.txt")

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE, 0o644)
	require.NoError(t, err)

	sink := pool.WriteHandle(f)

	// No open step: the very first Offer is accepted.
	accepted, err := sink.Offer([]byte("direct"))
	require.NoError(t, err)
	require.True(t, accepted)

	offerChunks(t, sink, []byte(" write"))
	require.NoError(t, sink.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, []byte("direct write"), data)
}

func Test_WriteSink_Write_Blocks_Until_Accepted(t *testing.T) {
	t.Parallel()

	pool := fspool.New(fspool.WithThreads(1))
	defer func() { _ = pool.Close() }()

	path := filepath.Join(t.TempDir(), "blocking.txt")

	sink := pool.Write(path)
	ctx := context.Background()

	require.NoError(t, sink.Write(ctx, []byte("one ")))
	require.NoError(t, sink.Write(ctx, []byte("after ")))
	require.NoError(t, sink.Write(ctx, []byte("another")))

	offerChunks(t, sink) // drain the last write
	require.NoError(t, sink.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, []byte("one after another"), data)
}

func Test_WriteSink_Close_Discards_InFlight_Result(t *testing.T) {
	t.Parallel()

	gate := &gatedExecutor{}
	pool := fspool.New(fspool.WithExecutor(gate))

	sink := pool.Write(filepath.Join(t.TempDir(), "closed-early.txt"))

	require.NoError(t, sink.Close())

	gate.release() // the open runs and its handle is discarded

	_, err := sink.Offer([]byte("late"))
	require.ErrorIs(t, err, fspool.ErrClosed)
	require.ErrorIs(t, sink.Flush(), fspool.ErrClosed)
}

// ============================================================================
// Write options
// ============================================================================

func Test_WriteSink_Appends_When_Append_Option_Set(t *testing.T) {
	t.Parallel()

	pool := fspool.New()
	defer func() { _ = pool.Close() }()

	path := writeFile(t, t.TempDir(), "log.txt", []byte("existing\n"))

	sink := pool.Write(path, fspool.WithAppend())
	offerChunks(t, sink, []byte("appended\n"))
	require.NoError(t, sink.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, []byte("existing\nappended\n"), data)
}

func Test_WriteSink_Truncates_When_Truncate_Option_Set(t *testing.T) {
	t.Parallel()

	pool := fspool.New()
	defer func() { _ = pool.Close() }()

	path := writeFile(t, t.TempDir(), "trunc.txt", []byte("a much longer original content"))

	sink := pool.Write(path, fspool.WithTruncate())
	offerChunks(t, sink, []byte("short"))
	require.NoError(t, sink.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, []byte("short"), data)
}

func Test_WriteSink_Overwrites_In_Place_When_Default_Options(t *testing.T) {
	t.Parallel()

	pool := fspool.New()
	defer func() { _ = pool.Close() }()

	// Default mode neither truncates nor appends: bytes land at offset 0
	// over the old content, matching plain create+write semantics.
	path := writeFile(t, t.TempDir(), "overwrite.txt", []byte("AAAAAAAAAA"))

	sink := pool.Write(path)
	offerChunks(t, sink, []byte("BBBB"))
	require.NoError(t, sink.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, []byte("BBBBAAAAAA"), data)
}

func Test_WriteSink_Fails_Open_When_NoCreate_And_File_Missing(t *testing.T) {
	t.Parallel()

	pool := fspool.New()
	defer func() { _ = pool.Close() }()

	path := filepath.Join(t.TempDir(), "absent.txt")

	sink := pool.Write(path, fspool.WithNoCreate())

	var err error

	for {
		err = sink.Flush()
		if !errors.Is(err, fspool.ErrNotReady) {
			break
		}

		time.Sleep(pollSpinDelay)
	}

	var ioErr *fspool.IOError

	require.ErrorAs(t, err, &ioErr)
	require.Equal(t, "open", ioErr.Op)
	require.ErrorIs(t, err, os.ErrNotExist)
}

func Test_WriteSink_Creates_With_Perm_When_Perm_Option_Set(t *testing.T) {
	t.Parallel()

	pool := fspool.New()
	defer func() { _ = pool.Close() }()

	path := filepath.Join(t.TempDir(), "perm.txt")

	sink := pool.Write(path, fspool.WithPerm(0o600))
	offerChunks(t, sink, []byte("secret"))
	require.NoError(t, sink.Close())

	info, err := os.Stat(path)
	require.NoError(t, err)
	require.Equal(t, os.FileMode(0o600), info.Mode().Perm())
}
