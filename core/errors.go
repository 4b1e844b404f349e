package core

import (
	"errors"
	"fmt"
	"io/fs"

	"remotefs/protocols"
)

var (
	ErrNotFound         = errors.New("file not found")
	ErrPermissionDenied = errors.New("permission denied")
	ErrAlreadyExists    = errors.New("file exists")
	ErrConnectionFailed = errors.New("connection failed")
	ErrProtocol         = errors.New("protocol error")
	ErrConfiguration    = errors.New("configuration error")

	// ErrInconsistent is returned when the broker's bookkeeping contradicts
	// itself. It should never be seen.
	ErrInconsistent = errors.New("connection state without record")
)

type Kind int

const (
	KindProtocol Kind = iota
	KindNotFound
	KindPermissionDenied
	KindAlreadyExists
	KindConnectionFailed
	KindConfiguration
)

func (k Kind) sentinel() error {
	switch k {
	case KindNotFound:
		return ErrNotFound
	case KindPermissionDenied:
		return ErrPermissionDenied
	case KindAlreadyExists:
		return ErrAlreadyExists
	case KindConnectionFailed:
		return ErrConnectionFailed
	case KindConfiguration:
		return ErrConfiguration
	default:
		return ErrProtocol
	}
}

func (k Kind) String() string { return k.sentinel().Error() }

// Error is what every FileSystem operation returns on failure. It matches
// its kind's sentinel with errors.Is and unwraps to the underlying cause.
type Error struct {
	Kind Kind
	Op   string
	Path VirtualPath
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s %s: %s", e.Op, e.Path, e.Kind)
	}
	return fmt.Sprintf("%s %s: %s: %v", e.Op, e.Path, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Is(target error) bool { return target == e.Kind.sentinel() }

// KindOf classifies err. Errors already classified keep their kind.
func KindOf(err error) Kind {
	var fe *Error
	switch {
	case errors.As(err, &fe):
		return fe.Kind
	case errors.Is(err, fs.ErrNotExist):
		return KindNotFound
	case errors.Is(err, fs.ErrPermission):
		return KindPermissionDenied
	case errors.Is(err, fs.ErrExist):
		return KindAlreadyExists
	case errors.Is(err, protocols.ErrConfiguration):
		return KindConfiguration
	default:
		return KindProtocol
	}
}

// mapError wraps err in an *Error for op on vp. It returns err unchanged if
// it is already an *Error.
func mapError(op string, vp VirtualPath, err error) error {
	if err == nil {
		return nil
	}
	var fe *Error
	if errors.As(err, &fe) {
		return err
	}
	return &Error{Kind: KindOf(err), Op: op, Path: vp, Err: err}
}

func newError(kind Kind, op string, vp VirtualPath, err error) *Error {
	return &Error{Kind: kind, Op: op, Path: vp, Err: err}
}
