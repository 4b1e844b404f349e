package core

import (
	"fmt"
	"net/url"
	"path"
	"strings"
)

// Identity keys connections: one live session per identity.
type Identity string

// VirtualPath is a consumer-visible location: scheme://authority/path.
// The authority names a configured remote.
type VirtualPath struct {
	Scheme    string
	Authority string
	Path      string
	// Absolute marks a path that is already a remote path and must not be
	// joined with the remote's root.
	Absolute bool
}

// ParseVirtualPath parses scheme://authority/path. A query containing
// "absolute" marks the path as absolute.
func ParseVirtualPath(s string) (VirtualPath, error) {
	u, err := url.Parse(s)
	if err != nil {
		return VirtualPath{}, fmt.Errorf("invalid path %q: %w", s, err)
	}
	if u.Scheme == "" || u.Host == "" {
		return VirtualPath{}, fmt.Errorf("invalid path %q: want scheme://remote/path", s)
	}
	p := u.Path
	if p == "" {
		p = "/"
	}
	return VirtualPath{
		Scheme:    strings.ToLower(u.Scheme),
		Authority: strings.ToLower(u.Host),
		Path:      p,
		Absolute:  strings.Contains(u.RawQuery, "absolute"),
	}, nil
}

func MustParse(s string) VirtualPath {
	vp, err := ParseVirtualPath(s)
	if err != nil {
		panic(err)
	}
	return vp
}

// BuildPath returns the virtual path of p on the named remote.
func BuildPath(scheme, name, p string) VirtualPath {
	return VirtualPath{
		Scheme:    strings.ToLower(scheme),
		Authority: strings.ToLower(name),
		Path:      "/" + strings.TrimLeft(p, "/"),
	}
}

func (vp VirtualPath) Identity() Identity {
	return Identity(vp.Scheme + "://" + vp.Authority)
}

// Resolve returns the remote path for vp under root. Absolute paths and an
// empty root leave the path as is. Resolve is idempotent: resolving a path
// that Resolve produced, marked absolute, yields the same string.
func (vp VirtualPath) Resolve(root string) string {
	if root == "" || vp.Absolute {
		return vp.Path
	}
	return path.Join(root, strings.TrimLeft(vp.Path, "/"))
}

// WithResolved returns vp pointing at its absolute remote path.
func (vp VirtualPath) WithResolved(root string) VirtualPath {
	vp.Path = vp.Resolve(root)
	vp.Absolute = true
	return vp
}

func (vp VirtualPath) Dir() VirtualPath {
	vp.Path = path.Dir(vp.Path)
	return vp
}

func (vp VirtualPath) Join(name string) VirtualPath {
	vp.Path = path.Join(vp.Path, name)
	return vp
}

func (vp VirtualPath) Base() string {
	return path.Base(vp.Path)
}

func (vp VirtualPath) String() string {
	u := url.URL{Scheme: vp.Scheme, Host: vp.Authority, Path: vp.Path}
	if vp.Absolute {
		u.RawQuery = "absolute"
	}
	return u.String()
}
