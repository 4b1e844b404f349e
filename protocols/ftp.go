package protocols

import (
	"bytes"
	"context"
	"errors"
	"io"
	"io/fs"
	"path"

	"github.com/jlaffaye/ftp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// ftpConn is the subset of *ftp.ServerConn used by FTPSession. Calls must
// never overlap: one control connection carries one command at a time.
type ftpConn interface {
	List(path string) ([]*ftp.Entry, error)
	Retr(path string) (io.ReadCloser, error)
	Stor(path string, r io.Reader) error
	Delete(path string) error
	RemoveDir(path string) error
	MakeDir(path string) error
	Rename(from, to string) error
	NoOp() error
	Quit() error
}

type serverConn struct {
	*ftp.ServerConn
}

func (c serverConn) Retr(path string) (io.ReadCloser, error) {
	return c.ServerConn.Retr(path)
}

// FTPSession serializes every wire command through a single work queue.
type FTPSession struct {
	conn   ftpConn
	queue  *workQueue
	logger *zap.Logger
	life   *lifecycle
}

func newFTPSession(conn ftpConn, logger *zap.Logger) *FTPSession {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &FTPSession{
		conn:   conn,
		queue:  newWorkQueue(),
		logger: logger,
		life:   newLifecycle(),
	}
	s.life.onClose(func() error {
		// QUIT waits behind commands already queued.
		err := s.queue.Do(context.Background(), conn.Quit)
		s.queue.Close()
		return err
	})
	return s
}

func (s *FTPSession) Done() <-chan struct{} { return s.life.done }

func (s *FTPSession) Close() error { return s.life.close() }

// do runs fn on the queue. A transport failure terminates the session.
func (s *FTPSession) do(ctx context.Context, fn func(c ftpConn) error) error {
	err := s.queue.Do(ctx, func() error { return fn(s.conn) })
	if isConnectionError(err) {
		s.logger.Warn("FTP connection lost", zap.Error(err))
		go s.Close()
	}
	return err
}

func (s *FTPSession) list(ctx context.Context, dir string) ([]*ftp.Entry, error) {
	var entries []*ftp.Entry
	err := s.do(ctx, func(c ftpConn) error {
		var err error
		entries, err = c.List(dir)
		return err
	})
	if err != nil {
		return nil, ftpError("list", dir, err)
	}

	out := entries[:0]
	for _, e := range entries {
		if e.Name == "." || e.Name == ".." {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

// stat has no native command: the parent directory is listed and the entry
// picked by name. The root is always a directory.
func (s *FTPSession) stat(ctx context.Context, p string) (*ftp.Entry, error) {
	p = path.Clean(p)
	if p == "/" {
		return &ftp.Entry{Name: "/", Type: ftp.EntryTypeFolder}, nil
	}

	entries, err := s.list(ctx, path.Dir(p))
	if err != nil {
		return nil, err
	}
	name := path.Base(p)
	for _, e := range entries {
		if e.Name == name {
			return e, nil
		}
	}
	return nil, pathError("stat", p, fs.ErrNotExist)
}

func (s *FTPSession) Stat(ctx context.Context, p string) (*FileStat, error) {
	e, err := s.stat(ctx, p)
	if err != nil {
		return nil, err
	}
	return &FileStat{
		Type:    ftpFileType(e.Type),
		Size:    int64(e.Size),
		ModTime: e.Time,
	}, nil
}

func (s *FTPSession) ReadDir(ctx context.Context, p string) ([]DirEntry, error) {
	entries, err := s.list(ctx, p)
	if err != nil {
		return nil, err
	}
	out := make([]DirEntry, 0, len(entries))
	for _, e := range entries {
		out = append(out, DirEntry{Name: e.Name, Type: ftpFileType(e.Type)})
	}
	return out, nil
}

func (s *FTPSession) Mkdir(ctx context.Context, p string) error {
	err := s.do(ctx, func(c ftpConn) error { return c.MakeDir(p) })
	if err == nil {
		return nil
	}
	// MKD failures share reply 550 with missing parents; probe to tell them apart.
	if _, serr := s.stat(ctx, p); serr == nil {
		return pathError("mkdir", p, fs.ErrExist)
	}
	return s.writeError(ctx, "mkdir", p, err)
}

func (s *FTPSession) ReadFile(ctx context.Context, p string) ([]byte, error) {
	var buf bytes.Buffer
	err := s.do(ctx, func(c ftpConn) error {
		r, err := c.Retr(p)
		if err != nil {
			return err
		}
		_, err = io.Copy(&buf, r)
		if cerr := r.Close(); err == nil {
			err = cerr
		}
		return err
	})
	if err != nil {
		return nil, ftpError("retr", p, err)
	}
	return buf.Bytes(), nil
}

func (s *FTPSession) CreateFile(ctx context.Context, p string) error {
	return s.WriteFile(ctx, p, nil)
}

func (s *FTPSession) WriteFile(ctx context.Context, p string, data []byte) error {
	err := s.do(ctx, func(c ftpConn) error { return c.Stor(p, bytes.NewReader(data)) })
	if err == nil {
		return nil
	}
	return s.writeError(ctx, "stor", p, err)
}

// writeError maps a failed STOR or MKD. Servers answer 550 both for a
// missing parent and for a refused write, so a NotFound reply whose parent
// directory exists becomes a permission error.
func (s *FTPSession) writeError(ctx context.Context, op, p string, err error) error {
	err = ftpError(op, p, err)
	if !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	if parent, serr := s.stat(ctx, path.Dir(path.Clean(p))); serr == nil && parent.Type == ftp.EntryTypeFolder {
		return refusedError(err)
	}
	return err
}

func (s *FTPSession) Delete(ctx context.Context, p string, recursive bool) error {
	e, err := s.stat(ctx, p)
	if err != nil {
		return err
	}
	if e.Type == ftp.EntryTypeFolder {
		return s.deleteDir(ctx, p, recursive)
	}
	return s.deleteFile(ctx, p)
}

func (s *FTPSession) deleteFile(ctx context.Context, p string) error {
	return ftpError("dele", p, s.do(ctx, func(c ftpConn) error { return c.Delete(p) }))
}

func (s *FTPSession) removeDir(ctx context.Context, p string) error {
	return ftpError("rmd", p, s.do(ctx, func(c ftpConn) error { return c.RemoveDir(p) }))
}

// deleteDir fans out over the children, but each command still waits its
// turn on the queue, so the tree is removed one command at a time.
func (s *FTPSession) deleteDir(ctx context.Context, p string, recursive bool) error {
	if !recursive {
		return s.removeDir(ctx, p)
	}

	children, err := s.list(ctx, p)
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, e := range children {
		child := path.Join(p, e.Name)
		if e.Type == ftp.EntryTypeFolder {
			g.Go(func() error { return s.deleteDir(gctx, child, true) })
			continue
		}
		g.Go(func() error { return s.deleteFile(gctx, child) })
	}
	if err := g.Wait(); err != nil {
		return err
	}
	return s.removeDir(ctx, p)
}

// Rename sends RNFR and RNTO inside one queued task so that nothing can be
// interleaved between them. FTP servers replace an existing target.
func (s *FTPSession) Rename(ctx context.Context, from, to string, overwrite bool) error {
	err := s.do(ctx, func(c ftpConn) error { return c.Rename(from, to) })
	return ftpError("rename", from, err)
}

func (s *FTPSession) noop() error {
	return s.do(context.Background(), func(c ftpConn) error { return c.NoOp() })
}

func ftpFileType(t ftp.EntryType) FileType {
	switch t {
	case ftp.EntryTypeFile:
		return FileTypeFile
	case ftp.EntryTypeFolder:
		return FileTypeDirectory
	case ftp.EntryTypeLink:
		return FileTypeSymlink
	default:
		return FileTypeUnknown
	}
}
