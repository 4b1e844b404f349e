package core

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"remotefs/config"
)

func TestCopyTreeAcrossProtocols(t *testing.T) {
	logger := zaptest.NewLogger(t)
	registry := testRegistry()
	sftpDialer := &memDialer{scheme: config.SchemeSFTP}
	ftpDialer := &memDialer{scheme: config.SchemeFTP}
	sftpFS := NewFileSystem(sftpDialer, registry, NewBroker(logger), WithLogger(logger), WithReporter(NopReporter))
	ftpFS := NewFileSystem(ftpDialer, registry, NewBroker(logger), WithLogger(logger), WithReporter(NopReporter))
	mounts := NewMounts(NopReporter, sftpFS)
	mounts.Register(ftpFS)
	t.Cleanup(mounts.Destroy)

	ctx := context.Background()
	src := MustParse("sftp://box/src")
	require.NoError(t, sftpFS.CreateDirectory(ctx, src))
	require.NoError(t, sftpFS.CreateDirectory(ctx, src.Join("nested")))
	require.NoError(t, sftpFS.WriteFile(ctx, src.Join("a.txt"), []byte("alpha"), WriteOptions{Create: true}))
	require.NoError(t, sftpFS.WriteFile(ctx, src.Join("nested/b.txt"), []byte("beta"), WriteOptions{Create: true}))

	tm := NewTransferManager(mounts, logger)
	dst := MustParse("ftp://mirror/dst")
	require.NoError(t, tm.Copy(ctx, src, dst, CopyOptions{}))

	mirror := ftpDialer.last()
	a, err := mirror.ReadFile(ctx, "/dst/a.txt")
	require.NoError(t, err)
	assert.Equal(t, "alpha", string(a))
	b, err := mirror.ReadFile(ctx, "/dst/nested/b.txt")
	require.NoError(t, err)
	assert.Equal(t, "beta", string(b))

	// A second copy without overwrite stops at the first existing file.
	err = tm.Copy(ctx, src, dst, CopyOptions{})
	assert.ErrorIs(t, err, ErrAlreadyExists)

	require.NoError(t, sftpFS.WriteFile(ctx, src.Join("a.txt"), []byte("changed"), WriteOptions{Overwrite: true}))
	require.NoError(t, tm.Copy(ctx, src, dst, CopyOptions{Overwrite: true}))
	a, err = mirror.ReadFile(ctx, "/dst/a.txt")
	require.NoError(t, err)
	assert.Equal(t, "changed", string(a))
}

func TestCopySingleFileAndMissingSource(t *testing.T) {
	logger := zaptest.NewLogger(t)
	d := &memDialer{scheme: config.SchemeSFTP}
	f := NewFileSystem(d, testRegistry(), NewBroker(logger), WithLogger(logger), WithReporter(NopReporter))
	mounts := NewMounts(NopReporter, f)
	t.Cleanup(mounts.Destroy)
	tm := NewTransferManager(mounts, logger)
	ctx := context.Background()

	require.NoError(t, f.WriteFile(ctx, MustParse("sftp://box/a"), []byte("x"), WriteOptions{Create: true}))
	require.NoError(t, tm.Copy(ctx, MustParse("sftp://box/a"), MustParse("sftp://box/b"), CopyOptions{}))
	data, err := f.ReadFile(ctx, MustParse("sftp://box/b"))
	require.NoError(t, err)
	assert.Equal(t, "x", string(data))

	err = tm.Copy(ctx, MustParse("sftp://box/none"), MustParse("sftp://box/c"), CopyOptions{})
	assert.ErrorIs(t, err, ErrNotFound)

	err = tm.Copy(ctx, MustParse("ftp://mirror/a"), MustParse("sftp://box/c"), CopyOptions{})
	assert.ErrorIs(t, err, ErrConfiguration)
}
