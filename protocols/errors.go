package protocols

import (
	"context"
	"errors"
	"io"
	"io/fs"
	"net"
	"net/textproto"
	"strings"

	"github.com/pkg/sftp"
)

var (
	// ErrConfiguration marks descriptor problems detected before dialing,
	// such as an unset agent environment variable.
	ErrConfiguration = errors.New("invalid remote configuration")
	ErrSessionClosed = errors.New("session closed")
)

// SFTP v3 status codes.
const (
	sshFxNoSuchFile       = 2
	sshFxPermissionDenied = 3
	sshFxFailure          = 4
)

// FTP reply codes that carry file-system meaning.
const (
	ftpServiceNotAvailable = 421
	ftpNotLoggedIn         = 530
	ftpNeedAccountStore    = 532
	ftpFileActionIgnored   = 450
	ftpFileUnavailable     = 550
	ftpBadFileName         = 553
)

func pathError(op, p string, err error) error {
	return &fs.PathError{Op: op, Path: p, Err: err}
}

// sftpError normalizes pkg/sftp failures. Most of them already arrive as
// os.ErrNotExist or os.ErrPermission; raw status codes are mapped here.
func sftpError(op, p string, err error) error {
	if err == nil {
		return nil
	}
	var se *sftp.StatusError
	if errors.As(err, &se) {
		switch se.Code {
		case sshFxNoSuchFile:
			err = fs.ErrNotExist
		case sshFxPermissionDenied:
			err = fs.ErrPermission
		}
	}
	return pathError(op, p, err)
}

func ftpError(op, p string, err error) error {
	if err == nil {
		return nil
	}
	var te *textproto.Error
	if errors.As(err, &te) {
		switch te.Code {
		case ftpFileUnavailable, ftpFileActionIgnored:
			kind := fs.ErrNotExist
			if deniedReply(te.Msg) {
				kind = fs.ErrPermission
			}
			err = &codeError{code: te.Code, msg: te.Msg, kind: kind}
		case ftpNotLoggedIn, ftpNeedAccountStore, ftpBadFileName:
			err = &codeError{code: te.Code, msg: te.Msg, kind: fs.ErrPermission}
		}
	}
	return pathError(op, p, err)
}

// deniedReplyWords appear in the text of 450/550 replies that refuse access
// rather than report a missing file.
var deniedReplyWords = []string{"permission", "denied", "not allowed", "forbidden", "read-only", "access"}

func deniedReply(msg string) bool {
	msg = strings.ToLower(msg)
	for _, w := range deniedReplyWords {
		if strings.Contains(msg, w) {
			return true
		}
	}
	return false
}

// refusedError turns err, a NotFound already mapped by ftpError, into a
// permission error. Used when a probe shows the path's parent exists.
func refusedError(err error) error {
	var pe *fs.PathError
	var ce *codeError
	if !errors.As(err, &pe) || !errors.As(err, &ce) {
		return err
	}
	return pathError(pe.Op, pe.Path, &codeError{code: ce.code, msg: ce.msg, kind: fs.ErrPermission})
}

// codeError keeps the FTP reply text while matching a fs sentinel.
type codeError struct {
	code int
	msg  string
	kind error
}

func (e *codeError) Error() string { return (&textproto.Error{Code: e.code, Msg: e.msg}).Error() }
func (e *codeError) Unwrap() error { return e.kind }

// isConnectionError reports whether err means the transport is gone.
func isConnectionError(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, net.ErrClosed) {
		return true
	}
	var ne net.Error
	if errors.As(err, &ne) {
		return true
	}
	var te *textproto.Error
	return errors.As(err, &te) && te.Code == ftpServiceNotAvailable
}
