package protocols

import (
	"sync"

	"github.com/hashicorp/go-multierror"
)

// lifecycle tracks the termination of a session and the resources released
// with it.
type lifecycle struct {
	mu      sync.Mutex
	done    chan struct{}
	closed  bool
	closers []func() error
	err     error
}

func newLifecycle() *lifecycle {
	return &lifecycle{done: make(chan struct{})}
}

// onClose registers fn to run when the session terminates. If it already has,
// fn runs immediately.
func (l *lifecycle) onClose(fn func() error) {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		_ = fn()
		return
	}
	l.closers = append(l.closers, fn)
	l.mu.Unlock()
}

// close runs the registered closers in reverse order and closes done. Later
// calls return the first call's result.
func (l *lifecycle) close() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return l.err
	}
	l.closed = true
	closers := l.closers
	l.closers = nil
	l.mu.Unlock()

	var result *multierror.Error
	for i := len(closers) - 1; i >= 0; i-- {
		if err := closers[i](); err != nil {
			result = multierror.Append(result, err)
		}
	}

	l.mu.Lock()
	l.err = result.ErrorOrNil()
	l.mu.Unlock()
	close(l.done)
	return l.err
}

func (l *lifecycle) isClosed() bool {
	select {
	case <-l.done:
		return true
	default:
		return false
	}
}
