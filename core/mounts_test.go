package core

import (
	"context"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"remotefs/config"
)

func TestMountsReportUnknownScheme(t *testing.T) {
	logger := zaptest.NewLogger(t)
	var mountReports, fsReports atomic.Int32
	d := &memDialer{scheme: config.SchemeSFTP}
	f := NewFileSystem(d, testRegistry(), NewBroker(logger), WithLogger(logger),
		WithReporter(ReporterFunc(func(error) { fsReports.Add(1) })))
	mounts := NewMounts(ReporterFunc(func(error) { mountReports.Add(1) }), f)
	t.Cleanup(mounts.Destroy)

	got, err := mounts.For(MustParse("sftp://box/a"))
	require.NoError(t, err)
	assert.Same(t, f, got)
	assert.Zero(t, mountReports.Load())

	_, err = mounts.For(MustParse("ftp://mirror/a"))
	assert.ErrorIs(t, err, ErrConfiguration)
	assert.EqualValues(t, 1, mountReports.Load())

	tm := NewTransferManager(mounts, logger)
	err = tm.Copy(context.Background(), MustParse("sftp://box/a"), MustParse("ftp://mirror/a"), CopyOptions{})
	assert.ErrorIs(t, err, ErrConfiguration)
	assert.EqualValues(t, 2, mountReports.Load())
	assert.Zero(t, fsReports.Load())
	assert.Zero(t, d.dials.Load())
}
