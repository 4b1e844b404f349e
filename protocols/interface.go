package protocols

import (
	"context"
	"io/fs"
	"time"

	"remotefs/config"
)

type FileType int

const (
	FileTypeUnknown FileType = iota
	FileTypeFile
	FileTypeDirectory
	FileTypeSymlink
)

func (t FileType) String() string {
	switch t {
	case FileTypeFile:
		return "file"
	case FileTypeDirectory:
		return "directory"
	case FileTypeSymlink:
		return "symlink"
	default:
		return "unknown"
	}
}

type FileStat struct {
	Type    FileType
	Size    int64
	ModTime time.Time
	CTime   time.Time
	Mode    fs.FileMode
}

type DirEntry struct {
	Name string
	Type FileType
}

// Session is an authenticated protocol connection. All paths are absolute
// remote paths. Errors wrap fs.ErrNotExist, fs.ErrPermission or fs.ErrExist
// when the wire reply carries that meaning.
type Session interface {
	Stat(ctx context.Context, p string) (*FileStat, error)
	ReadDir(ctx context.Context, p string) ([]DirEntry, error)
	Mkdir(ctx context.Context, p string) error
	ReadFile(ctx context.Context, p string) ([]byte, error)
	// CreateFile creates an empty file.
	CreateFile(ctx context.Context, p string) error
	// WriteFile replaces the content of p, creating it if needed.
	WriteFile(ctx context.Context, p string, data []byte) error
	Delete(ctx context.Context, p string, recursive bool) error
	Rename(ctx context.Context, from, to string, overwrite bool) error

	// Done is closed once the session has terminated.
	Done() <-chan struct{}
	// Close terminates the session. It is safe to call more than once.
	Close() error
}

// Dialer opens sessions for one scheme.
type Dialer interface {
	Scheme() string
	Dial(ctx context.Context, remote *config.Remote) (Session, error)
}

// Prompter asks the user for a secret. ok is false when the user declined.
type Prompter interface {
	PromptForSecret(ctx context.Context, prompt string) (secret string, ok bool)
}

type PromptFunc func(ctx context.Context, prompt string) (string, bool)

func (f PromptFunc) PromptForSecret(ctx context.Context, prompt string) (string, bool) {
	return f(ctx, prompt)
}

// NoPrompt declines every prompt.
var NoPrompt = PromptFunc(func(context.Context, string) (string, bool) { return "", false })

func fileType(mode fs.FileMode) FileType {
	switch {
	case mode&fs.ModeSymlink != 0:
		return FileTypeSymlink
	case mode.IsDir():
		return FileTypeDirectory
	case mode.IsRegular():
		return FileTypeFile
	default:
		return FileTypeUnknown
	}
}
