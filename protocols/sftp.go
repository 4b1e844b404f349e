package protocols

import (
	"bytes"
	"context"
	"io"
	"io/fs"
	"os"
	"path"

	"github.com/pkg/sftp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Mode given to files created through the virtual file system.
const defaultFileMode fs.FileMode = 0o666

type SFTPSession struct {
	client *sftp.Client
	logger *zap.Logger
	life   *lifecycle
}

// NewSFTPSession wraps an established SFTP client. transport, when not nil, is
// closed together with the client. The session terminates on its own once
// the client connection ends.
func NewSFTPSession(client *sftp.Client, transport io.Closer, logger *zap.Logger) *SFTPSession {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &SFTPSession{
		client: client,
		logger: logger,
		life:   newLifecycle(),
	}
	if transport != nil {
		s.life.onClose(transport.Close)
	}
	s.life.onClose(client.Close)

	go func() {
		err := client.Wait()
		s.logger.Debug("SFTP connection ended", zap.Error(err))
		s.Close()
	}()
	return s
}

func (s *SFTPSession) Done() <-chan struct{} { return s.life.done }

func (s *SFTPSession) Close() error { return s.life.close() }

func (s *SFTPSession) Stat(ctx context.Context, p string) (*FileStat, error) {
	fi, err := s.client.Lstat(p)
	if err != nil {
		return nil, sftpError("lstat", p, err)
	}
	st := toFileStat(fi)
	if st.Type == FileTypeSymlink {
		st = s.dereference(p, st)
	}
	return st, nil
}

// dereference stats the target of the link at p. Links are reported with the
// type of what they point to; a dangling or unreadable link is Unknown.
func (s *SFTPSession) dereference(p string, link *FileStat) *FileStat {
	fi, err := s.client.Stat(p)
	if err != nil {
		s.logger.Debug("Cannot resolve symbolic link", zap.String("path", p), zap.Error(err))
		resolved := *link
		resolved.Type = FileTypeUnknown
		return &resolved
	}
	st := toFileStat(fi)
	if st.Type == FileTypeSymlink {
		st.Type = FileTypeUnknown
	}
	return st
}

func (s *SFTPSession) ReadDir(ctx context.Context, p string) ([]DirEntry, error) {
	infos, err := s.client.ReadDir(p)
	if err != nil {
		return nil, sftpError("readdir", p, err)
	}

	entries := make([]DirEntry, len(infos))
	var g errgroup.Group
	for i, fi := range infos {
		entries[i] = DirEntry{Name: fi.Name(), Type: fileType(fi.Mode())}
		if entries[i].Type != FileTypeSymlink {
			continue
		}
		i, fi := i, fi
		g.Go(func() error {
			st := s.dereference(path.Join(p, fi.Name()), toFileStat(fi))
			entries[i].Type = st.Type
			return nil
		})
	}
	_ = g.Wait()
	return entries, nil
}

func (s *SFTPSession) Mkdir(ctx context.Context, p string) error {
	err := s.client.Mkdir(p)
	if err == nil {
		return nil
	}
	if _, serr := s.client.Lstat(p); serr == nil {
		return pathError("mkdir", p, fs.ErrExist)
	}
	return sftpError("mkdir", p, err)
}

// ReadFile follows a symbolic link at p one level before reading.
func (s *SFTPSession) ReadFile(ctx context.Context, p string) ([]byte, error) {
	fi, err := s.client.Lstat(p)
	if err != nil {
		return nil, sftpError("lstat", p, err)
	}

	target := p
	if fi.Mode()&fs.ModeSymlink != 0 {
		link, err := s.client.ReadLink(p)
		if err != nil {
			return nil, sftpError("readlink", p, err)
		}
		if !path.IsAbs(link) {
			link = path.Join(path.Dir(p), link)
		}
		target = link
	}

	f, err := s.client.Open(target)
	if err != nil {
		return nil, sftpError("open", target, err)
	}
	defer f.Close()

	var buf bytes.Buffer
	if _, err := io.Copy(&buf, f); err != nil {
		return nil, sftpError("read", target, err)
	}
	return buf.Bytes(), nil
}

func (s *SFTPSession) CreateFile(ctx context.Context, p string) error {
	f, err := s.client.OpenFile(p, os.O_WRONLY|os.O_CREATE)
	if err != nil {
		return sftpError("create", p, err)
	}
	if err := f.Close(); err != nil {
		return sftpError("create", p, err)
	}
	return sftpError("chmod", p, s.client.Chmod(p, defaultFileMode))
}

// WriteFile keeps the permission bits of an existing file.
func (s *SFTPSession) WriteFile(ctx context.Context, p string, data []byte) error {
	mode := defaultFileMode
	if fi, err := s.client.Stat(p); err == nil {
		mode = fi.Mode().Perm()
	}

	f, err := s.client.OpenFile(p, os.O_WRONLY|os.O_CREATE|os.O_TRUNC)
	if err != nil {
		return sftpError("open", p, err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return sftpError("write", p, err)
	}
	if err := f.Close(); err != nil {
		return sftpError("write", p, err)
	}
	return sftpError("chmod", p, s.client.Chmod(p, mode))
}

func (s *SFTPSession) Delete(ctx context.Context, p string, recursive bool) error {
	fi, err := s.client.Lstat(p)
	if err != nil {
		return sftpError("lstat", p, err)
	}
	if fi.IsDir() {
		return s.deleteDir(ctx, p, recursive)
	}
	return sftpError("remove", p, s.client.Remove(p))
}

// deleteDir removes the children of p in parallel and p itself last. An
// empty directory goes through the same path and ends in a plain rmdir.
func (s *SFTPSession) deleteDir(ctx context.Context, p string, recursive bool) error {
	if !recursive {
		return sftpError("rmdir", p, s.client.RemoveDirectory(p))
	}

	children, err := s.client.ReadDir(p)
	if err != nil {
		return sftpError("readdir", p, err)
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, fi := range children {
		child := path.Join(p, fi.Name())
		if fi.IsDir() {
			g.Go(func() error { return s.deleteDir(gctx, child, true) })
			continue
		}
		g.Go(func() error { return sftpError("remove", child, s.client.Remove(child)) })
	}
	if err := g.Wait(); err != nil {
		return err
	}
	return sftpError("rmdir", p, s.client.RemoveDirectory(p))
}

// Rename issues a single wire rename. With overwrite it uses the
// posix-rename extension, which replaces an existing target.
func (s *SFTPSession) Rename(ctx context.Context, from, to string, overwrite bool) error {
	if overwrite {
		return sftpError("rename", from, s.client.PosixRename(from, to))
	}
	return sftpError("rename", from, s.client.Rename(from, to))
}

func toFileStat(fi fs.FileInfo) *FileStat {
	return &FileStat{
		Type:    fileType(fi.Mode()),
		Size:    fi.Size(),
		ModTime: fi.ModTime(),
		CTime:   fi.ModTime(),
		Mode:    fi.Mode(),
	}
}
