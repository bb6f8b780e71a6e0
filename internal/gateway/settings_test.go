package gateway

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func clearGatewayEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{"LEAF_TREE", "LEAF_HUB_URL", "LEAF_GATEWAY_TOKEN", "LEAF_STATE_DIR"} {
		t.Setenv(k, "")
	}
}

func writeSettings(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "tree.toml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadSettings_File(t *testing.T) {
	clearGatewayEnv(t)
	path := writeSettings(t, `
tree = "oak"
hub_url = "wss://earth.example.org/gateway/ws"
state_dir = "/tmp/oak"
backoff_floor = "30s"
backoff_cap = "5m"
`)
	s, err := LoadSettings(path)
	if err != nil {
		t.Fatalf("LoadSettings: %v", err)
	}
	if s.Tree != "oak" || s.HubURL != "wss://earth.example.org/gateway/ws" {
		t.Errorf("got %+v", s)
	}
	if s.BackoffFloor != 30*time.Second || s.BackoffCap != 5*time.Minute {
		t.Errorf("backoff = %v..%v", s.BackoffFloor, s.BackoffCap)
	}
	if s.Addr() != "oak:gateway" {
		t.Errorf("Addr() = %q", s.Addr())
	}
	if s.SecretsPath() != "/tmp/oak/secrets.json" || s.CertDir() != "/tmp/oak/certs" {
		t.Errorf("paths = %s, %s", s.SecretsPath(), s.CertDir())
	}
}

func TestLoadSettings_EnvOverrides(t *testing.T) {
	clearGatewayEnv(t)
	path := writeSettings(t, "tree = \"oak\"\nhub_url = \"ws://old\"\n")
	t.Setenv("LEAF_HUB_URL", "ws://new")
	t.Setenv("LEAF_GATEWAY_TOKEN", "secret")

	s, err := LoadSettings(path)
	if err != nil {
		t.Fatalf("LoadSettings: %v", err)
	}
	if s.HubURL != "ws://new" || s.Token != "secret" || s.Tree != "oak" {
		t.Errorf("got %+v", s)
	}
}

func TestLoadSettings_MissingFile(t *testing.T) {
	clearGatewayEnv(t)
	t.Setenv("LEAF_TREE", "elm")
	t.Setenv("LEAF_HUB_URL", "ws://hub")

	s, err := LoadSettings(filepath.Join(t.TempDir(), "absent.toml"))
	if err != nil {
		t.Fatalf("LoadSettings: %v", err)
	}
	if s.StateDir != DefaultStateDir || s.LogLevel != "info" {
		t.Errorf("defaults not applied: %+v", s)
	}
}

func TestLoadSettings_Invalid(t *testing.T) {
	tests := []struct {
		name, body, want string
	}{
		{"no tree", `hub_url = "ws://hub"`, "tree is required"},
		{"branch as tree", "tree = \"oak:b1\"\nhub_url = \"ws://hub\"", "not a tree id"},
		{"group as tree", "tree = \"#earth\"\nhub_url = \"ws://hub\"", "not a tree id"},
		{"no hub", `tree = "oak"`, "hub_url is required"},
		{"bad toml", `tree = `, "reading"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearGatewayEnv(t)
			_, err := LoadSettings(writeSettings(t, tt.body))
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("got %v, want error containing %q", err, tt.want)
			}
		})
	}
}
