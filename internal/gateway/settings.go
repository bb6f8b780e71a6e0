package gateway

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/alfredjeanlab/leafbus/internal/addr"
)

const DefaultStateDir = "/var/lib/leafbus"

// Settings is the gateway's TOML configuration file. Environment
// variables override file values:
//
//	LEAF_TREE, LEAF_HUB_URL, LEAF_GATEWAY_TOKEN, LEAF_STATE_DIR
type Settings struct {
	Tree         string        `toml:"tree"`
	HubURL       string        `toml:"hub_url"`
	Token        string        `toml:"token,omitempty"`
	StateDir     string        `toml:"state_dir"`
	BackoffFloor time.Duration `toml:"backoff_floor"`
	BackoffCap   time.Duration `toml:"backoff_cap"`
	LogLevel     string        `toml:"log_level"`
	Counter      bool          `toml:"counter"`
}

// LoadSettings reads path. A missing file yields defaults, so a gateway
// can be configured entirely from the environment.
func LoadSettings(path string) (*Settings, error) {
	s := &Settings{StateDir: DefaultStateDir, LogLevel: "info"}
	if path != "" {
		if _, err := toml.DecodeFile(path, s); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("reading %s: %w", path, err)
		}
	}
	for env, dst := range map[string]*string{
		"LEAF_TREE":          &s.Tree,
		"LEAF_HUB_URL":       &s.HubURL,
		"LEAF_GATEWAY_TOKEN": &s.Token,
		"LEAF_STATE_DIR":     &s.StateDir,
	} {
		if v := os.Getenv(env); v != "" {
			*dst = v
		}
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

// Validate checks required fields.
func (s *Settings) Validate() error {
	if s.Tree == "" {
		return fmt.Errorf("tree is required (LEAF_TREE)")
	}
	if a, err := addr.Parse(s.Tree); err != nil || a != (addr.Branch{Tree: s.Tree}) {
		return fmt.Errorf("tree %q is not a tree id", s.Tree)
	}
	if s.HubURL == "" {
		return fmt.Errorf("hub_url is required (LEAF_HUB_URL)")
	}
	return nil
}

// Addr is the gateway's address on its local bus.
func (s *Settings) Addr() string { return s.Tree + ":gateway" }

func (s *Settings) ConfigPath() string  { return filepath.Join(s.StateDir, "config.json") }
func (s *Settings) SecretsPath() string { return filepath.Join(s.StateDir, "secrets.json") }
func (s *Settings) CertDir() string     { return filepath.Join(s.StateDir, "certs") }
