package core

import (
	"context"
	"io/fs"
	"path"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"remotefs/config"
	"remotefs/protocols"
)

// memSession is an in-memory protocols.Session.
type memSession struct {
	mu      sync.Mutex
	files   map[string][]byte
	dirs    map[string]bool
	renames int
	done    chan struct{}
	once    sync.Once
}

func newMemSession() *memSession {
	return &memSession{
		files: make(map[string][]byte),
		dirs:  map[string]bool{"/": true, "/home": true, "/home/u": true},
		done:  make(chan struct{}),
	}
}

func notExist(op, p string) error { return &fs.PathError{Op: op, Path: p, Err: fs.ErrNotExist} }

func (s *memSession) Stat(_ context.Context, p string) (*protocols.FileStat, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.dirs[p] {
		return &protocols.FileStat{Type: protocols.FileTypeDirectory, ModTime: time.Unix(0, 0)}, nil
	}
	if data, ok := s.files[p]; ok {
		return &protocols.FileStat{Type: protocols.FileTypeFile, Size: int64(len(data))}, nil
	}
	return nil, notExist("stat", p)
}

func (s *memSession) ReadDir(_ context.Context, p string) ([]protocols.DirEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.dirs[p] {
		return nil, notExist("readdir", p)
	}
	var out []protocols.DirEntry
	for d := range s.dirs {
		if d != "/" && path.Dir(d) == p {
			out = append(out, protocols.DirEntry{Name: path.Base(d), Type: protocols.FileTypeDirectory})
		}
	}
	for f := range s.files {
		if path.Dir(f) == p {
			out = append(out, protocols.DirEntry{Name: path.Base(f), Type: protocols.FileTypeFile})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *memSession) Mkdir(_ context.Context, p string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.files[p]; ok || s.dirs[p] {
		return &fs.PathError{Op: "mkdir", Path: p, Err: fs.ErrExist}
	}
	if !s.dirs[path.Dir(p)] {
		return notExist("mkdir", p)
	}
	s.dirs[p] = true
	return nil
}

func (s *memSession) ReadFile(_ context.Context, p string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.files[p]
	if !ok {
		return nil, notExist("read", p)
	}
	return append([]byte(nil), data...), nil
}

func (s *memSession) CreateFile(ctx context.Context, p string) error {
	return s.WriteFile(ctx, p, nil)
}

func (s *memSession) WriteFile(_ context.Context, p string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.dirs[path.Dir(p)] {
		return notExist("write", p)
	}
	s.files[p] = append([]byte(nil), data...)
	return nil
}

func (s *memSession) Delete(_ context.Context, p string, recursive bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.files[p]; ok {
		delete(s.files, p)
		return nil
	}
	if !s.dirs[p] {
		return notExist("delete", p)
	}
	prefix := strings.TrimSuffix(p, "/") + "/"
	for f := range s.files {
		if strings.HasPrefix(f, prefix) {
			if !recursive {
				return &fs.PathError{Op: "rmdir", Path: p, Err: fs.ErrPermission}
			}
			delete(s.files, f)
		}
	}
	for d := range s.dirs {
		if strings.HasPrefix(d, prefix) {
			delete(s.dirs, d)
		}
	}
	delete(s.dirs, p)
	return nil
}

func (s *memSession) Rename(_ context.Context, from, to string, _ bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.renames++
	data, ok := s.files[from]
	if !ok {
		return notExist("rename", from)
	}
	delete(s.files, from)
	s.files[to] = data
	return nil
}

func (s *memSession) Done() <-chan struct{} { return s.done }

func (s *memSession) Close() error {
	s.once.Do(func() { close(s.done) })
	return nil
}

func (s *memSession) renameCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.renames
}

// memDialer hands out one memSession per dial.
type memDialer struct {
	scheme string
	dials  atomic.Int32
	delay  time.Duration
	err    error

	mu       sync.Mutex
	sessions []*memSession
}

func (d *memDialer) Scheme() string { return d.scheme }

func (d *memDialer) Dial(ctx context.Context, _ *config.Remote) (protocols.Session, error) {
	d.dials.Add(1)
	if d.delay > 0 {
		select {
		case <-time.After(d.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if d.err != nil {
		return nil, d.err
	}
	s := newMemSession()
	d.mu.Lock()
	d.sessions = append(d.sessions, s)
	d.mu.Unlock()
	return s, nil
}

func (d *memDialer) last() *memSession {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.sessions) == 0 {
		return nil
	}
	return d.sessions[len(d.sessions)-1]
}

func testRegistry() *config.Registry {
	return config.NewRegistry([]config.Remote{
		{Name: "box", Scheme: config.SchemeSFTP, Host: "box.example.com", RootPath: "/home/u"},
		{Name: "mirror", Scheme: config.SchemeFTP, Host: "ftp.example.com"},
	})
}
