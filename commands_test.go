package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"remotefs/core"
	"remotefs/protocols"
)

func testApp(t *testing.T) *app {
	t.Helper()
	p := filepath.Join(t.TempDir(), "remotefs.yaml")
	doc := `
remote:
  - name: box
    scheme: sftp
    host: 127.0.0.1
    username: u
    password: secret
    root_path: /home/u
  - name: mirror
    scheme: ftp
    host: 127.0.0.1
    password: secret
`
	require.NoError(t, os.WriteFile(p, []byte(doc), 0o600))
	a, err := newApp(p, zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(a.Close)
	return a
}

func TestRemotesCommand(t *testing.T) {
	a := testApp(t)
	var out bytes.Buffer
	err := runLine(context.Background(), func() *app { return a }, "remotes", strings.NewReader(""), &out)
	require.NoError(t, err)
	assert.Contains(t, out.String(), "sftp://box/")
	assert.Contains(t, out.String(), "ftp://mirror/")
	assert.Contains(t, out.String(), "127.0.0.1:21")
}

func TestCommandsRejectBadPaths(t *testing.T) {
	a := testApp(t)
	appRef := func() *app { return a }
	var out bytes.Buffer

	err := runLine(context.Background(), appRef, "stat not-a-path", strings.NewReader(""), &out)
	assert.Error(t, err)

	err = runLine(context.Background(), appRef, "ls smb://box/", strings.NewReader(""), &out)
	assert.ErrorIs(t, err, core.ErrConfiguration)

	err = runLine(context.Background(), appRef, "cat sftp://nowhere/a", strings.NewReader(""), &out)
	assert.ErrorIs(t, err, core.ErrConfiguration)
}

func TestRenderEntry(t *testing.T) {
	assert.Equal(t, "- a.txt", renderEntry(protocols.DirEntry{Name: "a.txt", Type: protocols.FileTypeFile}))
	assert.True(t, strings.HasPrefix(renderEntry(protocols.DirEntry{Name: "d", Type: protocols.FileTypeDirectory}), "d "))
	assert.Contains(t, renderEntry(protocols.DirEntry{Name: "d", Type: protocols.FileTypeDirectory}), "d/")
	assert.True(t, strings.HasPrefix(renderEntry(protocols.DirEntry{Name: "l", Type: protocols.FileTypeSymlink}), "l "))
}
