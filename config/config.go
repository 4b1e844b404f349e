package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

const (
	SchemeSFTP = "sftp"
	SchemeFTP  = "ftp"

	DefaultRootPath       = "/"
	DefaultConnectTimeout = 10 * time.Second
)

type Config struct {
	Remotes []Remote `toml:"remote" yaml:"remote"`
}

// Remote describes one remote mount. ConnectTimeout is in milliseconds.
type Remote struct {
	Name             string `toml:"name" yaml:"name"`
	Scheme           string `toml:"scheme" yaml:"scheme"` // sftp, ftp
	Host             string `toml:"host" yaml:"host"`
	Port             int    `toml:"port" yaml:"port"`
	Username         string `toml:"username" yaml:"username"`
	Password         string `toml:"password" yaml:"password"`
	RootPath         string `toml:"root_path" yaml:"root_path"`
	ConnectTimeout   int    `toml:"connect_timeout" yaml:"connect_timeout"`
	PrivateKeyPath   string `toml:"private_key_path" yaml:"private_key_path"`
	Passphrase       string `toml:"passphrase" yaml:"passphrase"`
	PromptPassphrase bool   `toml:"prompt_passphrase" yaml:"prompt_passphrase"`
	Agent            string `toml:"agent" yaml:"agent"` // socket path or $ENV_NAME
	InteractiveAuth  bool   `toml:"interactive_auth" yaml:"interactive_auth"`
	KnownHosts       string `toml:"known_hosts" yaml:"known_hosts"`
}

func (r *Remote) Timeout() time.Duration {
	if r.ConnectTimeout <= 0 {
		return DefaultConnectTimeout
	}
	return time.Duration(r.ConnectTimeout) * time.Millisecond
}

func (r *Remote) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

// WithDefaults returns a copy of r with name and scheme lower-cased and the
// root path, timeout and protocol port filled in.
func (r Remote) WithDefaults() Remote {
	r.Name = strings.ToLower(r.Name)
	r.Scheme = strings.ToLower(r.Scheme)
	if r.RootPath == "" {
		r.RootPath = DefaultRootPath
	}
	if r.ConnectTimeout <= 0 {
		r.ConnectTimeout = int(DefaultConnectTimeout / time.Millisecond)
	}
	if r.Port == 0 {
		switch r.Scheme {
		case SchemeSFTP:
			r.Port = 22
		case SchemeFTP:
			r.Port = 21
		}
	}
	return r
}

func (r *Remote) Validate() error {
	if r.Name == "" {
		return fmt.Errorf("remote without name")
	}
	if r.Scheme != SchemeSFTP && r.Scheme != SchemeFTP {
		return fmt.Errorf("remote %s: unsupported scheme %q", r.Name, r.Scheme)
	}
	if r.Host == "" {
		return fmt.Errorf("remote %s: host required", r.Name)
	}
	return nil
}

func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(data, filepath.Ext(path))
}

// Parse decodes a configuration document. ext selects the format: ".yaml" and
// ".yml" are YAML, anything else is TOML.
func Parse(data []byte, ext string) (*Config, error) {
	var cfg Config
	var err error
	switch strings.ToLower(ext) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &cfg)
	default:
		err = toml.Unmarshal(data, &cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	seen := make(map[string]bool, len(cfg.Remotes))
	for i := range cfg.Remotes {
		cfg.Remotes[i] = cfg.Remotes[i].WithDefaults()
		r := &cfg.Remotes[i]
		if err := r.Validate(); err != nil {
			return nil, err
		}
		if seen[r.Name] {
			return nil, fmt.Errorf("duplicate remote %s", r.Name)
		}
		seen[r.Name] = true
	}
	return &cfg, nil
}
