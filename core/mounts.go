package core

import (
	"fmt"
	"sync"
)

// Mounts routes virtual paths to the file system serving their scheme. A
// path whose scheme has no file system is reported to reporter, since no
// file system ever sees it.
type Mounts struct {
	mu       sync.RWMutex
	fss      map[string]*FileSystem
	reporter Reporter
}

func NewMounts(reporter Reporter, fss ...*FileSystem) *Mounts {
	if reporter == nil {
		reporter = NopReporter
	}
	m := &Mounts{fss: make(map[string]*FileSystem, len(fss)), reporter: reporter}
	for _, f := range fss {
		m.fss[f.Scheme()] = f
	}
	return m
}

func (m *Mounts) Register(f *FileSystem) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fss[f.Scheme()] = f
}

func (m *Mounts) For(vp VirtualPath) (*FileSystem, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	f, ok := m.fss[vp.Scheme]
	if !ok {
		err := newError(KindConfiguration, "mount", vp, fmt.Errorf("no file system for scheme %q", vp.Scheme))
		m.reporter.Report(err)
		return nil, err
	}
	return f, nil
}

// Destroy destroys every registered file system.
func (m *Mounts) Destroy() {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, f := range m.fss {
		f.Destroy()
	}
}
