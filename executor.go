package fspool

import (
	"fmt"
	"sync"
)

// DefaultThreads is the worker count used by [New] when neither
// [WithThreads] nor [WithExecutor] is given.
const DefaultThreads = 4

// Executor runs units of blocking work on worker goroutines.
//
// Execute must not block the caller and must run the task exactly once on
// some worker, or return an error if it will never run (shut down, queue
// rejected). fspool surfaces such rejections through the affected
// stream's or sink's next poll.
//
// [FixedExecutor] is the built-in implementation; anything satisfying
// this interface (an existing worker pool, a test double) can be plugged
// in via [WithExecutor].
type Executor interface {
	Execute(task func()) error
}

// FixedExecutor runs tasks on a fixed number of worker goroutines over an
// unbounded FIFO queue.
//
// Submission never blocks: tasks queue up when all workers are busy. The
// zero value is not usable, use [NewFixedExecutor].
type FixedExecutor struct {
	mu     sync.Mutex
	queue  []func()
	closed bool

	// wake holds at most one token; workers park on it when the queue is
	// empty. Closed on shutdown to release all parked workers.
	wake chan struct{}

	wg sync.WaitGroup
}

// NewFixedExecutor starts an executor with the given number of worker
// goroutines. threads <= 0 uses [DefaultThreads].
func NewFixedExecutor(threads int) *FixedExecutor {
	if threads <= 0 {
		threads = DefaultThreads
	}

	e := &FixedExecutor{
		wake: make(chan struct{}, 1),
	}

	e.wg.Add(threads)

	for range threads {
		go e.worker()
	}

	return e
}

// Execute queues task for a worker. It never blocks.
//
// Returns [ErrExecutorClosed] after [FixedExecutor.Close]; the task will
// not run.
func (e *FixedExecutor) Execute(task func()) error {
	e.mu.Lock()

	if e.closed {
		e.mu.Unlock()

		return ErrExecutorClosed
	}

	e.queue = append(e.queue, task)
	e.signalLocked()

	e.mu.Unlock()

	return nil
}

// Close stops accepting tasks, waits for already-queued tasks to finish,
// and shuts the workers down. Idempotent.
func (e *FixedExecutor) Close() error {
	e.mu.Lock()

	if e.closed {
		e.mu.Unlock()

		return nil
	}

	e.closed = true
	close(e.wake)

	e.mu.Unlock()

	e.wg.Wait()

	return nil
}

// signalLocked wakes one parked worker. Caller holds e.mu, which keeps the
// non-blocking send ordered against close(e.wake) in Close.
func (e *FixedExecutor) signalLocked() {
	select {
	case e.wake <- struct{}{}:
	default:
	}
}

func (e *FixedExecutor) worker() {
	defer e.wg.Done()

	for {
		e.mu.Lock()

		for len(e.queue) == 0 {
			closed := e.closed
			e.mu.Unlock()

			if closed {
				return
			}

			// Park until new work or shutdown. A receive from the closed
			// wake channel falls through immediately.
			<-e.wake

			e.mu.Lock()
		}

		task := e.queue[0]
		e.queue[0] = nil
		e.queue = e.queue[1:]

		// One token wakes one worker; pass it on while work remains so
		// siblings don't stay parked behind a consumed token.
		if len(e.queue) > 0 {
			e.signalLocked()
		}

		e.mu.Unlock()

		task()
	}
}

// dispatch schedules one blocking step onto the executor and returns the
// bridge its result will arrive on.
//
// discard is attached to the bridge so a successful result can release
// its resources if the consumer abandons the bridge first. If the
// executor rejects the task, the rejection is written into the bridge as
// a dispatch failure; dispatch itself never blocks.
func dispatch[T any](exec Executor, discard func(T), step func() (T, error)) *completion[T] {
	c := newCompletion[T](discard)

	err := exec.Execute(func() {
		c.complete(step())
	})
	if err != nil {
		c.fail(fmt.Errorf("dispatch: %w", err))
	}

	return c
}
