package core

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"remotefs/protocols"
)

type CopyOptions struct {
	Overwrite bool
}

// TransferManager copies files and directory trees between virtual paths,
// possibly on different remotes and protocols.
type TransferManager struct {
	mounts *Mounts
	logger *zap.Logger
}

func NewTransferManager(mounts *Mounts, logger *zap.Logger) *TransferManager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TransferManager{mounts: mounts, logger: logger}
}

// Copy copies src to dst. Directories are copied recursively; an existing
// destination file fails with ErrAlreadyExists unless opts.Overwrite is set.
func (tm *TransferManager) Copy(ctx context.Context, src, dst VirtualPath, opts CopyOptions) error {
	srcFS, err := tm.mounts.For(src)
	if err != nil {
		return err
	}
	dstFS, err := tm.mounts.For(dst)
	if err != nil {
		return err
	}

	st, err := srcFS.Stat(ctx, src)
	if err != nil {
		return err
	}
	if st.Type == protocols.FileTypeDirectory {
		return tm.copyDir(ctx, srcFS, dstFS, src, dst, opts)
	}
	return tm.copyFile(ctx, srcFS, dstFS, src, dst, opts)
}

func (tm *TransferManager) copyDir(ctx context.Context, srcFS, dstFS *FileSystem, src, dst VirtualPath, opts CopyOptions) error {
	if err := dstFS.CreateDirectory(ctx, dst); err != nil && !errors.Is(err, ErrAlreadyExists) {
		return err
	}

	entries, err := srcFS.ReadDirectory(ctx, src)
	if err != nil {
		return err
	}
	for _, entry := range entries {
		from, to := src.Join(entry.Name), dst.Join(entry.Name)
		switch entry.Type {
		case protocols.FileTypeDirectory:
			err = tm.copyDir(ctx, srcFS, dstFS, from, to, opts)
		case protocols.FileTypeFile:
			err = tm.copyFile(ctx, srcFS, dstFS, from, to, opts)
		default:
			tm.logger.Info("Skipping entry", zap.Stringer("path", from), zap.Stringer("type", entry.Type))
			continue
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func (tm *TransferManager) copyFile(ctx context.Context, srcFS, dstFS *FileSystem, src, dst VirtualPath, opts CopyOptions) error {
	if !opts.Overwrite {
		exists, err := dstFS.pathExists(ctx, dst)
		if err != nil {
			return err
		}
		if exists {
			err := newError(KindAlreadyExists, "copy", dst, nil)
			dstFS.reporter.Report(err)
			return err
		}
	}

	data, err := srcFS.ReadFile(ctx, src)
	if err != nil {
		return err
	}
	if err := dstFS.WriteFile(ctx, dst, data, WriteOptions{Create: true, Overwrite: true}); err != nil {
		return err
	}
	tm.logger.Info("Transferred file",
		zap.Stringer("from", src),
		zap.Stringer("to", dst),
		zap.Int("size", len(data)))
	return nil
}
