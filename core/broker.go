package core

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"remotefs/config"
	"remotefs/metrics"
	"remotefs/protocols"
)

type State int

const (
	StateAbsent State = iota
	StatePending
	StateEstablished
	StateTerminated
)

func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateEstablished:
		return "established"
	case StateTerminated:
		return "terminated"
	default:
		return "absent"
	}
}

// Connection is an established session for one identity. It is never
// modified after creation.
type Connection struct {
	Identity Identity
	Name     string
	Scheme   string
	RootPath string
	Session  protocols.Session
}

type ConnectFunc func(ctx context.Context, remote *config.Remote) (protocols.Session, error)

// Broker owns protocol sessions. It guarantees at most one live session and
// at most one in-flight connection attempt per identity.
type Broker struct {
	mu     sync.Mutex
	group  singleflight.Group
	states map[Identity]State
	conns  map[Identity]*Connection
	logger *zap.Logger
}

func NewBroker(logger *zap.Logger) *Broker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Broker{
		states: make(map[Identity]State),
		conns:  make(map[Identity]*Connection),
		logger: logger,
	}
}

// Acquire returns the connection for id, connecting with connect if there is
// none. Concurrent callers share one attempt and see the same result.
// Failures are not cached. Cancelling ctx stops this caller waiting; the
// attempt keeps running for the others.
func (b *Broker) Acquire(ctx context.Context, id Identity, remote *config.Remote, connect ConnectFunc) (*Connection, error) {
	b.mu.Lock()
	if conn, ok := b.liveLocked(id); ok {
		b.mu.Unlock()
		return conn, nil
	}
	if b.states[id] == StateEstablished {
		b.mu.Unlock()
		return nil, fmt.Errorf("%s: %w", id, ErrInconsistent)
	}
	b.mu.Unlock()

	flightCtx := context.WithoutCancel(ctx)
	ch := b.group.DoChan(string(id), func() (interface{}, error) {
		return b.connect(flightCtx, id, remote, connect)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*Connection), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (b *Broker) connect(ctx context.Context, id Identity, remote *config.Remote, connect ConnectFunc) (*Connection, error) {
	// A flight that finished just before this one started may have stored
	// the connection already.
	b.mu.Lock()
	if conn, ok := b.liveLocked(id); ok {
		b.mu.Unlock()
		return conn, nil
	}
	b.states[id] = StatePending
	b.mu.Unlock()

	b.logger.Debug("Connecting", zap.String("identity", string(id)), zap.String("addr", remote.Addr()))
	sess, err := connect(ctx, remote)
	metrics.RecordConnect(remote.Scheme, err)
	if err != nil {
		b.mu.Lock()
		b.states[id] = StateTerminated
		b.mu.Unlock()
		b.logger.Warn("Connection attempt failed",
			zap.String("identity", string(id)),
			zap.Error(err))
		return nil, err
	}

	conn := &Connection{
		Identity: id,
		Name:     remote.Name,
		Scheme:   remote.Scheme,
		RootPath: remote.RootPath,
		Session:  sess,
	}
	b.mu.Lock()
	b.conns[id] = conn
	b.states[id] = StateEstablished
	b.mu.Unlock()
	metrics.SessionOpened(remote.Scheme)

	go func() {
		<-sess.Done()
		b.evict(conn)
	}()

	b.logger.Info("Connection established", zap.String("identity", string(id)))
	return conn, nil
}

// liveLocked returns the stored connection for id unless its session has
// already ended. An ended one is evicted on the spot so the caller can
// reconnect without waiting for the watcher goroutine. b.mu must be held.
func (b *Broker) liveLocked(id Identity) (*Connection, bool) {
	conn, ok := b.conns[id]
	if !ok {
		return nil, false
	}
	select {
	case <-conn.Session.Done():
		b.evictLocked(conn)
		return nil, false
	default:
		return conn, true
	}
}

func (b *Broker) evict(conn *Connection) {
	b.mu.Lock()
	b.evictLocked(conn)
	b.mu.Unlock()
}

// evictLocked removes conn if it is still the record for its identity. Only
// the first eviction of a connection counts.
func (b *Broker) evictLocked(conn *Connection) {
	if b.conns[conn.Identity] != conn {
		return
	}
	delete(b.conns, conn.Identity)
	b.states[conn.Identity] = StateTerminated
	metrics.SessionClosed(conn.Scheme)
	b.logger.Info("Connection ended", zap.String("identity", string(conn.Identity)))
}

// State reports the connection state of id.
func (b *Broker) State(id Identity) (State, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	s := b.states[id]
	if _, ok := b.conns[id]; s == StateEstablished && !ok {
		return s, fmt.Errorf("%s: %w", id, ErrInconsistent)
	}
	return s, nil
}

// Connection returns the established connection for id, if any.
func (b *Broker) Connection(id Identity) (*Connection, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.liveLocked(id)
}

// Destroy terminates every live session.
func (b *Broker) Destroy() {
	b.mu.Lock()
	conns := make([]*Connection, 0, len(b.conns))
	for _, conn := range b.conns {
		conns = append(conns, conn)
	}
	b.mu.Unlock()

	for _, conn := range conns {
		if err := conn.Session.Close(); err != nil {
			b.logger.Warn("Error closing session",
				zap.String("identity", string(conn.Identity)),
				zap.Error(err))
		}
	}
}
