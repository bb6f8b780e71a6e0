package config

import (
	"os"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/alfredjeanlab/leafbus/internal/bus"
)

// loadWith runs Load with every LEAF_ variable cleared except env. The JWT
// secret is filled in unless env sets it.
func loadWith(t *testing.T, env map[string]string) (*Config, error) {
	t.Helper()
	for _, kv := range os.Environ() {
		if k, _, _ := strings.Cut(kv, "="); strings.HasPrefix(k, "LEAF_") {
			t.Setenv(k, "")
		}
	}
	if _, ok := env["LEAF_JWT_SECRET"]; !ok {
		t.Setenv("LEAF_JWT_SECRET", "s3cret")
	}
	for k, v := range env {
		t.Setenv(k, v)
	}
	return Load()
}

func mustLoad(t *testing.T, env map[string]string) *Config {
	t.Helper()
	cfg, err := loadWith(t, env)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	return cfg
}

func TestLoad_RequiresSecret(t *testing.T) {
	if _, err := loadWith(t, map[string]string{"LEAF_JWT_SECRET": ""}); err == nil {
		t.Fatal("expected error without LEAF_JWT_SECRET")
	}
}

func TestLoad_Defaults(t *testing.T) {
	cfg := mustLoad(t, nil)
	want := &Config{
		JWTSecret:         "s3cret",
		ConfigFile:        "earth-config.json",
		GRPCAddr:          ":9090",
		HTTPAddr:          ":8080",
		Domain:            "localhost",
		LogLevel:          "info",
		ConfigDefaultsDir: "default-config",
		ConfigUserDir:     "user-config",
		ProjectName:       "leafbus",
		Environment:       "production",
		CertDir:           "certs",
		CertS3Prefix:      "certs",
		CertS3Region:      "us-east-1",
		SyncS3Region:      "us-east-1",
		SyncS3Key:         "earth/snapshot.jsonl",
		SyncGitFile:       "snapshot.jsonl",
		SyncGitBranch:     "main",
		SyncInterval:      3 * time.Minute,
		Timeout:           5 * time.Second,
		LogHistory:        500,
		QueueSize:         256,
		DropPolicy:        bus.DropNewest,
	}
	if diff := cmp.Diff(want, cfg); diff != "" {
		t.Errorf("defaults (-want +got):\n%s", diff)
	}
}

func TestLoad_Overrides(t *testing.T) {
	cfg := mustLoad(t, map[string]string{
		"LEAF_GRPC_ADDR":        ":5050",
		"LEAF_HTTP_ADDR":        ":3000",
		"LEAF_NATS_URL":         "nats://localhost:4222",
		"LEAF_DOMAIN":           "example.org",
		"LEAF_ENVIRONMENT":      "staging",
		"LEAF_TIMEOUT":          "2s",
		"LEAF_LOG_HISTORY":      "50",
		"LEAF_DROP_POLICY":      "oldest",
		"LEAF_COUNTER_INTERVAL": "1s",
		"LEAF_SYNC_INTERVAL":    "10m",
		"LEAF_SYNC_S3_BUCKET":   "snapshots",
		"LEAF_SYNC_S3_ENDPOINT": "http://minio:9000",
		"LEAF_SYNC_GIT_REPO":    "/srv/leaf-snapshots",
		"LEAF_SYNC_GIT_BRANCH":  "backup",
	})
	type picked struct {
		GRPC, HTTP, NATS, Domain, Env string
		Timeout, Counter, Sync        time.Duration
		History                       int
		Policy                        bus.DropPolicy
		Bucket, Endpoint, Repo, Br    string
	}
	got := picked{
		cfg.GRPCAddr, cfg.HTTPAddr, cfg.NATSURL, cfg.Domain, cfg.Environment,
		cfg.Timeout, cfg.CounterInterval, cfg.SyncInterval,
		cfg.LogHistory,
		cfg.DropPolicy,
		cfg.SyncS3Bucket, cfg.SyncS3Endpoint, cfg.SyncGitRepo, cfg.SyncGitBranch,
	}
	want := picked{
		":5050", ":3000", "nats://localhost:4222", "example.org", "staging",
		2 * time.Second, time.Second, 10 * time.Minute,
		50,
		bus.DropOldest,
		"snapshots", "http://minio:9000", "/srv/leaf-snapshots", "backup",
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("overrides (-want +got):\n%s", diff)
	}
}

func TestLoad_SyncDisabled(t *testing.T) {
	if cfg := mustLoad(t, map[string]string{"LEAF_SYNC_INTERVAL": "0s"}); cfg.SyncInterval != 0 {
		t.Errorf("SyncInterval = %v, want disabled", cfg.SyncInterval)
	}
}

func TestLoad_Rejects(t *testing.T) {
	for key, value := range map[string]string{
		"LEAF_TIMEOUT":          "soon",
		"LEAF_LOG_HISTORY":      "many",
		"LEAF_QUEUE_SIZE":       "-1",
		"LEAF_DROP_POLICY":      "random",
		"LEAF_SYNC_INTERVAL":    "not-a-duration",
		"LEAF_COUNTER_INTERVAL": "often",
	} {
		t.Run(key, func(t *testing.T) {
			if _, err := loadWith(t, map[string]string{key: value}); err == nil {
				t.Fatalf("expected error for %s=%q", key, value)
			}
		})
	}
	t.Run("zero timeout", func(t *testing.T) {
		if _, err := loadWith(t, map[string]string{"LEAF_TIMEOUT": "0s"}); err == nil {
			t.Fatal("expected error for a zero timeout")
		}
	})
}

func TestEnvOrDefault(t *testing.T) {
	t.Setenv("LEAF_TEST_UNSET", "")
	t.Setenv("LEAF_TEST_SET", "custom")
	if got := envOrDefault("LEAF_TEST_UNSET", "fallback"); got != "fallback" {
		t.Errorf("unset: got %q", got)
	}
	if got := envOrDefault("LEAF_TEST_SET", "fallback"); got != "custom" {
		t.Errorf("set: got %q", got)
	}
}
