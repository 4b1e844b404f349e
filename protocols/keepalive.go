package protocols

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Keepalive runs periodic liveness probes for open sessions on one shared
// cron scheduler.
type Keepalive struct {
	cron   *cron.Cron
	logger *zap.Logger
	once   sync.Once
}

func NewKeepalive(logger *zap.Logger) *Keepalive {
	if logger == nil {
		logger = zap.NewNop()
	}
	k := &Keepalive{
		cron:   cron.New(cron.WithLogger(cronLogger{logger.Sugar()})),
		logger: logger,
	}
	k.cron.Start()
	return k
}

// Register runs probe every interval. After maxFailures consecutive failures
// the probe is unscheduled and onDead is called once. The returned func
// unschedules the probe.
func (k *Keepalive) Register(name string, interval time.Duration, maxFailures int32, probe func() error, onDead func()) func() {
	var (
		failures atomic.Int32
		mu       sync.Mutex
		id       cron.EntryID
		stopped  bool
	)
	stop := func() {
		mu.Lock()
		defer mu.Unlock()
		if !stopped {
			stopped = true
			k.cron.Remove(id)
		}
	}

	job := cron.FuncJob(func() {
		if err := probe(); err != nil {
			n := failures.Add(1)
			k.logger.Debug("Keep-alive probe failed",
				zap.String("session", name),
				zap.Int32("failures", n),
				zap.Error(err))
			if n >= maxFailures {
				stop()
				onDead()
			}
			return
		}
		failures.Store(0)
	})

	wrapped := cron.NewChain(cron.SkipIfStillRunning(cronLogger{k.logger.Sugar()})).Then(job)
	mu.Lock()
	id = k.cron.Schedule(cron.Every(interval), wrapped)
	mu.Unlock()
	return stop
}

func (k *Keepalive) Stop() {
	k.once.Do(func() {
		<-k.cron.Stop().Done()
	})
}

type cronLogger struct {
	s *zap.SugaredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.s.Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.s.Errorw(msg, append(keysAndValues, "error", err)...)
}
