package fspool_test

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/calvinalkan/fspool"
)

const pollSpinDelay = 100 * time.Microsecond

// writeFile creates a file under root with the given content.
func writeFile(t *testing.T, root, name string, data []byte) string {
	t.Helper()

	path := filepath.Join(root, name)
	require.NoError(t, os.WriteFile(path, data, 0o644))

	return path
}

// readAllChunks drives a stream's Poll protocol to completion, copying
// each yielded chunk (chunks are borrowed by default).
func readAllChunks(t *testing.T, s *fspool.FsReadStream) ([][]byte, []byte) {
	t.Helper()

	var (
		chunks [][]byte
		all    []byte
	)

	for {
		chunk, err := s.Poll()
		if errors.Is(err, fspool.ErrNotReady) {
			time.Sleep(pollSpinDelay)

			continue
		}

		if errors.Is(err, io.EOF) {
			return chunks, all
		}

		require.NoError(t, err)

		owned := append([]byte(nil), chunk...)
		chunks = append(chunks, owned)
		all = append(all, owned...)
	}
}

// offerChunks pushes chunks through a sink's Offer/Flush protocol,
// retrying on backpressure, and drains the final write.
func offerChunks(t *testing.T, sink *fspool.FsWriteSink, chunks ...[]byte) {
	t.Helper()

	for _, chunk := range chunks {
		for {
			accepted, err := sink.Offer(chunk)
			require.NoError(t, err)

			if accepted {
				break
			}

			time.Sleep(pollSpinDelay)
		}
	}

	for {
		err := sink.Flush()
		if errors.Is(err, fspool.ErrNotReady) {
			time.Sleep(pollSpinDelay)

			continue
		}

		require.NoError(t, err)

		return
	}
}

// pollFuture drives a future to resolution.
func pollFuture[T any](t *testing.T, fut *fspool.FsFuture[T]) (T, error) {
	t.Helper()

	for {
		val, err := fut.Poll()
		if errors.Is(err, fspool.ErrNotReady) {
			time.Sleep(pollSpinDelay)

			continue
		}

		return val, err
	}
}

// gatedExecutor queues tasks until the test releases them, making
// backpressure windows deterministic. Tasks run synchronously on the
// goroutine calling release.
type gatedExecutor struct {
	mu    sync.Mutex
	tasks []func()
}

func (g *gatedExecutor) Execute(task func()) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.tasks = append(g.tasks, task)

	return nil
}

// release runs all currently queued tasks in submission order.
func (g *gatedExecutor) release() {
	g.mu.Lock()
	tasks := g.tasks
	g.tasks = nil
	g.mu.Unlock()

	for _, task := range tasks {
		task()
	}
}

func (g *gatedExecutor) pending() int {
	g.mu.Lock()
	defer g.mu.Unlock()

	return len(g.tasks)
}

// countingExecutor counts dispatches on the way to an inner executor.
type countingExecutor struct {
	inner fspool.Executor
	n     atomic.Int64
}

func (c *countingExecutor) Execute(task func()) error {
	c.n.Add(1)

	return c.inner.Execute(task)
}
