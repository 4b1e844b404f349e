package config

import "strings"

// Registry resolves remote names to descriptors. It is read-only after
// construction and safe for concurrent use.
type Registry struct {
	remotes []Remote
	byName  map[string]int
}

func NewRegistry(remotes []Remote) *Registry {
	reg := &Registry{
		remotes: make([]Remote, 0, len(remotes)),
		byName:  make(map[string]int, len(remotes)),
	}
	for _, r := range remotes {
		r = r.WithDefaults()
		if _, ok := reg.byName[r.Name]; ok {
			continue
		}
		reg.byName[r.Name] = len(reg.remotes)
		reg.remotes = append(reg.remotes, r)
	}
	return reg
}

// Find returns a copy of the named remote.
func (reg *Registry) Find(name string) (*Remote, bool) {
	i, ok := reg.byName[strings.ToLower(name)]
	if !ok {
		return nil, false
	}
	r := reg.remotes[i]
	return &r, true
}

// Remotes returns the remotes in configuration order.
func (reg *Registry) Remotes() []Remote {
	out := make([]Remote, len(reg.remotes))
	copy(out, reg.remotes)
	return out
}
