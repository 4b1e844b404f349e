package protocols

import (
	"context"
	"sync"
)

// workQueue executes tasks one at a time in submission order on a single
// worker goroutine.
type workQueue struct {
	mu      sync.Mutex
	pending []*queuedTask
	closed  bool
	wake    chan struct{}
	stopped chan struct{}
}

type queuedTask struct {
	fn   func() error
	done chan error
}

func newWorkQueue() *workQueue {
	q := &workQueue{
		wake:    make(chan struct{}, 1),
		stopped: make(chan struct{}),
	}
	go q.run()
	return q
}

// Do enqueues fn and waits for its result. A task that has been enqueued
// always runs, even when ctx is cancelled while it waits.
func (q *workQueue) Do(ctx context.Context, fn func() error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	t := &queuedTask{fn: fn, done: make(chan error, 1)}

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return ErrSessionClosed
	}
	q.pending = append(q.pending, t)
	q.mu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}
	return <-t.done
}

// Close stops accepting tasks. Tasks already queued still run.
func (q *workQueue) Close() {
	q.mu.Lock()
	if !q.closed {
		q.closed = true
		select {
		case q.wake <- struct{}{}:
		default:
		}
	}
	q.mu.Unlock()
}

func (q *workQueue) run() {
	defer close(q.stopped)
	for {
		q.mu.Lock()
		if len(q.pending) == 0 {
			closed := q.closed
			q.mu.Unlock()
			if closed {
				return
			}
			<-q.wake
			continue
		}
		t := q.pending[0]
		q.pending[0] = nil
		q.pending = q.pending[1:]
		q.mu.Unlock()

		t.done <- t.fn()
	}
}
