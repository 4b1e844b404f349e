package core

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"time"

	"go.uber.org/zap"

	"remotefs/config"
	"remotefs/metrics"
	"remotefs/protocols"
)

type WriteOptions struct {
	Create    bool
	Overwrite bool
}

type DeleteOptions struct {
	Recursive bool
}

type RenameOptions struct {
	Overwrite bool
}

// Reporter receives every error a FileSystem returns, once, before the
// caller sees it.
type Reporter interface {
	Report(err error)
}

type ReporterFunc func(err error)

func (f ReporterFunc) Report(err error) { f(err) }

// NopReporter discards reports.
var NopReporter = ReporterFunc(func(error) {})

// LogReporter logs reports with logger.
func LogReporter(logger *zap.Logger) Reporter {
	return ReporterFunc(func(err error) {
		logger.Error("Remote file system error", zap.Error(err))
	})
}

// Disposable releases a registration.
type Disposable interface {
	Dispose()
}

type disposeFunc func()

func (f disposeFunc) Dispose() { f() }

type Option func(*FileSystem)

func WithLogger(logger *zap.Logger) Option {
	return func(f *FileSystem) { f.logger = logger }
}

func WithReporter(r Reporter) Option {
	return func(f *FileSystem) { f.reporter = r }
}

func WithFlushDelay(d time.Duration) Option {
	return func(f *FileSystem) { f.flushDelay = d }
}

// FileSystem serves virtual paths of one scheme from the remotes in a
// registry. Sessions come from the broker, which may be shared with other
// file systems.
type FileSystem struct {
	dialer     protocols.Dialer
	registry   *config.Registry
	broker     *Broker
	reporter   Reporter
	logger     *zap.Logger
	flushDelay time.Duration
	events     *notifier
}

func NewFileSystem(dialer protocols.Dialer, registry *config.Registry, broker *Broker, opts ...Option) *FileSystem {
	f := &FileSystem{
		dialer:     dialer,
		registry:   registry,
		broker:     broker,
		logger:     zap.NewNop(),
		flushDelay: DefaultFlushDelay,
	}
	for _, opt := range opts {
		opt(f)
	}
	if f.reporter == nil {
		f.reporter = LogReporter(f.logger)
	}
	f.events = newNotifier(f.flushDelay, f.logger)
	return f
}

func (f *FileSystem) Scheme() string { return f.dialer.Scheme() }

// connect acquires the connection serving vp.
func (f *FileSystem) connect(ctx context.Context, op string, vp VirtualPath) (*Connection, error) {
	if vp.Scheme != f.dialer.Scheme() {
		return nil, newError(KindConfiguration, op, vp,
			fmt.Errorf("scheme %q served by %q file system", vp.Scheme, f.dialer.Scheme()))
	}
	remote, ok := f.registry.Find(vp.Authority)
	if !ok {
		return nil, newError(KindConfiguration, op, vp, fmt.Errorf("can't find remote %q", vp.Authority))
	}
	if remote.Scheme != vp.Scheme {
		return nil, newError(KindConfiguration, op, vp,
			fmt.Errorf("remote %q uses scheme %s", remote.Name, remote.Scheme))
	}

	conn, err := f.broker.Acquire(ctx, vp.Identity(), remote, f.dialer.Dial)
	if err != nil {
		kind := KindConnectionFailed
		if KindOf(err) == KindConfiguration {
			kind = KindConfiguration
		}
		return nil, newError(kind, op, vp, err)
	}
	return conn, nil
}

// finish maps, reports and counts the outcome of op.
func (f *FileSystem) finish(op string, vp VirtualPath, err *error) {
	if *err == nil {
		metrics.RecordOperation(f.Scheme(), op, "")
		return
	}
	*err = mapError(op, vp, *err)
	metrics.RecordOperation(f.Scheme(), op, KindOf(*err).String())
	f.reporter.Report(*err)
}

func (f *FileSystem) Stat(ctx context.Context, vp VirtualPath) (st *protocols.FileStat, err error) {
	defer f.finish("stat", vp, &err)
	conn, err := f.connect(ctx, "stat", vp)
	if err != nil {
		return nil, err
	}
	return conn.Session.Stat(ctx, vp.Resolve(conn.RootPath))
}

func (f *FileSystem) ReadDirectory(ctx context.Context, vp VirtualPath) (entries []protocols.DirEntry, err error) {
	defer f.finish("readDirectory", vp, &err)
	conn, err := f.connect(ctx, "readDirectory", vp)
	if err != nil {
		return nil, err
	}
	return conn.Session.ReadDir(ctx, vp.Resolve(conn.RootPath))
}

func (f *FileSystem) CreateDirectory(ctx context.Context, vp VirtualPath) (err error) {
	defer f.finish("createDirectory", vp, &err)
	conn, err := f.connect(ctx, "createDirectory", vp)
	if err != nil {
		return err
	}
	if err := conn.Session.Mkdir(ctx, vp.Resolve(conn.RootPath)); err != nil {
		return err
	}
	f.events.fireSoon(
		ChangeEvent{Kind: Changed, Path: vp.Dir()},
		ChangeEvent{Kind: Created, Path: vp},
	)
	return nil
}

func (f *FileSystem) ReadFile(ctx context.Context, vp VirtualPath) (data []byte, err error) {
	defer f.finish("readFile", vp, &err)
	conn, err := f.connect(ctx, "readFile", vp)
	if err != nil {
		return nil, err
	}
	return conn.Session.ReadFile(ctx, vp.Resolve(conn.RootPath))
}

// WriteFile writes content to vp. A missing file needs opts.Create; an
// existing one fails when neither Create nor Overwrite is set.
func (f *FileSystem) WriteFile(ctx context.Context, vp VirtualPath, content []byte, opts WriteOptions) (err error) {
	defer f.finish("writeFile", vp, &err)
	conn, err := f.connect(ctx, "writeFile", vp)
	if err != nil {
		return err
	}
	target := vp.Resolve(conn.RootPath)

	exists, err := f.exists(ctx, conn, target)
	if err != nil {
		return err
	}
	if !exists && !opts.Create {
		return newError(KindNotFound, "writeFile", vp, nil)
	}
	if exists && !opts.Create && !opts.Overwrite {
		return newError(KindAlreadyExists, "writeFile", vp, nil)
	}

	if !exists {
		if err := conn.Session.CreateFile(ctx, target); err != nil {
			return err
		}
		f.events.fireSoon(ChangeEvent{Kind: Created, Path: vp})
	}
	if err := conn.Session.WriteFile(ctx, target, content); err != nil {
		return err
	}
	f.events.fireSoon(ChangeEvent{Kind: Changed, Path: vp})
	return nil
}

func (f *FileSystem) Delete(ctx context.Context, vp VirtualPath, opts DeleteOptions) (err error) {
	defer f.finish("delete", vp, &err)
	conn, err := f.connect(ctx, "delete", vp)
	if err != nil {
		return err
	}
	if err := conn.Session.Delete(ctx, vp.Resolve(conn.RootPath), opts.Recursive); err != nil {
		return err
	}
	f.events.fireSoon(
		ChangeEvent{Kind: Changed, Path: vp.Dir()},
		ChangeEvent{Kind: Deleted, Path: vp},
	)
	return nil
}

// Rename moves from to to on the same remote. Without opts.Overwrite an
// existing target fails before any rename is sent.
func (f *FileSystem) Rename(ctx context.Context, from, to VirtualPath, opts RenameOptions) (err error) {
	defer f.finish("rename", from, &err)
	if from.Identity() != to.Identity() {
		return newError(KindProtocol, "rename", from, fmt.Errorf("cannot rename across remotes to %s", to))
	}
	conn, err := f.connect(ctx, "rename", from)
	if err != nil {
		return err
	}
	src, dst := from.Resolve(conn.RootPath), to.Resolve(conn.RootPath)

	if !opts.Overwrite {
		exists, err := f.exists(ctx, conn, dst)
		if err != nil {
			return err
		}
		if exists {
			return newError(KindAlreadyExists, "rename", to, nil)
		}
	}

	if err := conn.Session.Rename(ctx, src, dst, opts.Overwrite); err != nil {
		return err
	}
	f.events.fireSoon(
		ChangeEvent{Kind: Deleted, Path: from},
		ChangeEvent{Kind: Created, Path: to},
	)
	return nil
}

// Watch is a no-op: changes are pushed to subscribers for every path.
func (f *FileSystem) Watch(vp VirtualPath) Disposable {
	return disposeFunc(func() {})
}

// Subscribe delivers batches of change events. Call the returned func to
// unsubscribe; the channel is then closed.
func (f *FileSystem) Subscribe() (<-chan []ChangeEvent, func()) {
	return f.events.subscribe()
}

// Destroy flushes pending change events and tears down the broker.
func (f *FileSystem) Destroy() {
	f.events.stop()
	f.broker.Destroy()
}

func (f *FileSystem) exists(ctx context.Context, conn *Connection, p string) (bool, error) {
	_, err := conn.Session.Stat(ctx, p)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, fs.ErrNotExist):
		return false, nil
	default:
		return false, err
	}
}

// pathExists probes vp. A missing file is not an error and is not reported.
func (f *FileSystem) pathExists(ctx context.Context, vp VirtualPath) (bool, error) {
	conn, err := f.connect(ctx, "stat", vp)
	if err == nil {
		var ok bool
		ok, err = f.exists(ctx, conn, vp.Resolve(conn.RootPath))
		if err == nil {
			return ok, nil
		}
	}
	f.finish("stat", vp, &err)
	return false, err
}
