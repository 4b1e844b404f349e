package core

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"remotefs/metrics"
)

// DefaultFlushDelay is the quiescence window before buffered change events
// are delivered.
const DefaultFlushDelay = 5 * time.Millisecond

type ChangeKind int

const (
	Created ChangeKind = iota + 1
	Changed
	Deleted
)

func (k ChangeKind) String() string {
	switch k {
	case Created:
		return "created"
	case Changed:
		return "changed"
	case Deleted:
		return "deleted"
	default:
		return "unknown"
	}
}

type ChangeEvent struct {
	Kind ChangeKind
	Path VirtualPath
}

// notifier buffers change events and delivers them as one batch once no new
// event has arrived for the flush delay.
type notifier struct {
	delay  time.Duration
	logger *zap.Logger

	mu          sync.Mutex
	buffered    []ChangeEvent
	timer       *time.Timer
	subscribers map[chan []ChangeEvent]struct{}

	// flushMu keeps batches in order when timers fire back to back.
	flushMu sync.Mutex
}

func newNotifier(delay time.Duration, logger *zap.Logger) *notifier {
	return &notifier{
		delay:       delay,
		logger:      logger,
		subscribers: make(map[chan []ChangeEvent]struct{}),
	}
}

// subscribe returns a channel of batches and a func that cancels the
// subscription and closes the channel.
func (n *notifier) subscribe() (<-chan []ChangeEvent, func()) {
	ch := make(chan []ChangeEvent, 64)
	n.mu.Lock()
	n.subscribers[ch] = struct{}{}
	n.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			n.mu.Lock()
			delete(n.subscribers, ch)
			n.mu.Unlock()
			// Hold flushMu so no flush is sending on ch.
			n.flushMu.Lock()
			close(ch)
			n.flushMu.Unlock()
		})
	}
}

// fireSoon buffers events and restarts the flush timer.
func (n *notifier) fireSoon(events ...ChangeEvent) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.buffered = append(n.buffered, events...)
	if n.timer != nil {
		n.timer.Stop()
	}
	n.timer = time.AfterFunc(n.delay, n.flush)
}

func (n *notifier) flush() {
	n.flushMu.Lock()
	defer n.flushMu.Unlock()

	n.mu.Lock()
	batch := n.buffered
	n.buffered = nil
	subs := make([]chan []ChangeEvent, 0, len(n.subscribers))
	for ch := range n.subscribers {
		subs = append(subs, ch)
	}
	n.mu.Unlock()

	if len(batch) == 0 {
		return
	}
	metrics.RecordFlush(len(batch))
	for _, ch := range subs {
		select {
		case ch <- batch:
		default:
			n.logger.Warn("Dropping change batch for slow subscriber", zap.Int("events", len(batch)))
		}
	}
}

// stop cancels a pending flush and delivers what is buffered.
func (n *notifier) stop() {
	n.mu.Lock()
	if n.timer != nil {
		n.timer.Stop()
	}
	n.mu.Unlock()
	n.flush()
}
