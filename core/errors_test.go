package core

import (
	"errors"
	"fmt"
	"io/fs"
	"testing"

	"github.com/stretchr/testify/assert"

	"remotefs/protocols"
)

func TestKindOf(t *testing.T) {
	tests := []struct {
		err  error
		want Kind
	}{
		{&fs.PathError{Op: "stat", Path: "/x", Err: fs.ErrNotExist}, KindNotFound},
		{&fs.PathError{Op: "open", Path: "/x", Err: fs.ErrPermission}, KindPermissionDenied},
		{&fs.PathError{Op: "mkdir", Path: "/x", Err: fs.ErrExist}, KindAlreadyExists},
		{fmt.Errorf("agent: %w", protocols.ErrConfiguration), KindConfiguration},
		{errors.New("bad reply"), KindProtocol},
		{newError(KindConnectionFailed, "stat", VirtualPath{}, nil), KindConnectionFailed},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, KindOf(tt.err), tt.err.Error())
	}
}

func TestMapErrorMatchesSentinelAndCause(t *testing.T) {
	vp := MustParse("sftp://box/a")
	cause := &fs.PathError{Op: "lstat", Path: "/home/u/a", Err: fs.ErrNotExist}

	err := mapError("stat", vp, cause)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, err, fs.ErrNotExist)
	assert.NotErrorIs(t, err, ErrPermissionDenied)

	var fe *Error
	assert.ErrorAs(t, err, &fe)
	assert.Equal(t, "stat", fe.Op)
	assert.Equal(t, vp, fe.Path)

	// Already classified errors pass through.
	assert.Same(t, err, mapError("other", vp, err))
	assert.NoError(t, mapError("stat", vp, nil))
}
