// Package config loads the hub's settings from LEAF_* environment
// variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/alfredjeanlab/leafbus/internal/bus"
)

type Config struct {
	JWTSecret   string // LEAF_JWT_SECRET (required)
	DatabaseURL string // LEAF_DATABASE_URL (optional; empty = config in ConfigFile, no tree checks)
	ConfigFile  string // LEAF_CONFIG_FILE (default "earth-config.json")
	GRPCAddr    string // LEAF_GRPC_ADDR (default ":9090")
	HTTPAddr    string // LEAF_HTTP_ADDR (default ":8080")
	NATSURL     string // LEAF_NATS_URL (optional, empty = no mirror)
	AdminToken  string // LEAF_ADMIN_TOKEN (optional, empty = admin auth disabled)
	Domain      string // LEAF_DOMAIN (default "localhost")
	LogLevel    string // LEAF_LOG_LEVEL (default "info")

	// Bus and connections
	Timeout    time.Duration  // LEAF_TIMEOUT (default 5s)
	LogHistory int            // LEAF_LOG_HISTORY (default 500)
	QueueSize  int            // LEAF_QUEUE_SIZE (default 256)
	DropPolicy bus.DropPolicy // LEAF_DROP_POLICY ("newest" or "oldest", default "newest")

	// Counter example; 0 = disabled
	CounterInterval time.Duration // LEAF_COUNTER_INTERVAL

	// Config document build
	ConfigDefaultsDir string // LEAF_CONFIG_DEFAULTS (default "default-config")
	ConfigUserDir     string // LEAF_CONFIG_USER (default "user-config")
	ProjectName       string // LEAF_PROJECT_NAME (default "leafbus")
	Environment       string // LEAF_ENVIRONMENT (default "production")

	// Certificates: a directory, or an S3 bucket when CertS3Bucket is set
	CertDir        string // LEAF_CERT_DIR (default "certs")
	CertS3Bucket   string // LEAF_CERT_S3_BUCKET
	CertS3Prefix   string // LEAF_CERT_S3_PREFIX (default "certs")
	CertS3Region   string // LEAF_CERT_S3_REGION (default "us-east-1")
	CertS3Endpoint string // LEAF_CERT_S3_ENDPOINT (custom endpoint for MinIO)

	// Sync settings
	SyncInterval   time.Duration // LEAF_SYNC_INTERVAL (default 3m; 0 = disabled)
	SyncS3Bucket   string        // LEAF_SYNC_S3_BUCKET (enables S3 when set)
	SyncS3Endpoint string        // LEAF_SYNC_S3_ENDPOINT (custom endpoint for MinIO)
	SyncS3Region   string        // LEAF_SYNC_S3_REGION (default "us-east-1")
	SyncS3Key      string        // LEAF_SYNC_S3_KEY (default "earth/snapshot.jsonl")
	SyncGitRepo    string        // LEAF_SYNC_GIT_REPO (enables git when set; path to clone)
	SyncGitFile    string        // LEAF_SYNC_GIT_FILE (default "snapshot.jsonl")
	SyncGitBranch  string        // LEAF_SYNC_GIT_BRANCH (default "main")
}

func Load() (*Config, error) {
	c := &Config{
		JWTSecret:         os.Getenv("LEAF_JWT_SECRET"),
		DatabaseURL:       os.Getenv("LEAF_DATABASE_URL"),
		ConfigFile:        envOrDefault("LEAF_CONFIG_FILE", "earth-config.json"),
		GRPCAddr:          envOrDefault("LEAF_GRPC_ADDR", ":9090"),
		HTTPAddr:          envOrDefault("LEAF_HTTP_ADDR", ":8080"),
		NATSURL:           os.Getenv("LEAF_NATS_URL"),
		AdminToken:        os.Getenv("LEAF_ADMIN_TOKEN"),
		Domain:            envOrDefault("LEAF_DOMAIN", "localhost"),
		LogLevel:          envOrDefault("LEAF_LOG_LEVEL", "info"),
		ConfigDefaultsDir: envOrDefault("LEAF_CONFIG_DEFAULTS", "default-config"),
		ConfigUserDir:     envOrDefault("LEAF_CONFIG_USER", "user-config"),
		ProjectName:       envOrDefault("LEAF_PROJECT_NAME", "leafbus"),
		Environment:       envOrDefault("LEAF_ENVIRONMENT", "production"),
		CertDir:           envOrDefault("LEAF_CERT_DIR", "certs"),
		CertS3Bucket:      os.Getenv("LEAF_CERT_S3_BUCKET"),
		CertS3Prefix:      envOrDefault("LEAF_CERT_S3_PREFIX", "certs"),
		CertS3Region:      envOrDefault("LEAF_CERT_S3_REGION", "us-east-1"),
		CertS3Endpoint:    os.Getenv("LEAF_CERT_S3_ENDPOINT"),
		SyncS3Bucket:      os.Getenv("LEAF_SYNC_S3_BUCKET"),
		SyncS3Endpoint:    os.Getenv("LEAF_SYNC_S3_ENDPOINT"),
		SyncS3Region:      envOrDefault("LEAF_SYNC_S3_REGION", "us-east-1"),
		SyncS3Key:         envOrDefault("LEAF_SYNC_S3_KEY", "earth/snapshot.jsonl"),
		SyncGitRepo:       os.Getenv("LEAF_SYNC_GIT_REPO"),
		SyncGitFile:       envOrDefault("LEAF_SYNC_GIT_FILE", "snapshot.jsonl"),
		SyncGitBranch:     envOrDefault("LEAF_SYNC_GIT_BRANCH", "main"),
	}
	if c.JWTSecret == "" {
		return nil, fmt.Errorf("LEAF_JWT_SECRET is required")
	}

	var err error
	if c.Timeout, err = durationEnv("LEAF_TIMEOUT", "5s"); err != nil {
		return nil, err
	}
	if c.Timeout <= 0 {
		return nil, fmt.Errorf("LEAF_TIMEOUT: must be positive")
	}
	if c.SyncInterval, err = durationEnv("LEAF_SYNC_INTERVAL", "3m"); err != nil {
		return nil, err
	}
	if c.CounterInterval, err = durationEnv("LEAF_COUNTER_INTERVAL", "0s"); err != nil {
		return nil, err
	}
	if c.LogHistory, err = intEnv("LEAF_LOG_HISTORY", 500); err != nil {
		return nil, err
	}
	if c.QueueSize, err = intEnv("LEAF_QUEUE_SIZE", 256); err != nil {
		return nil, err
	}

	switch p := envOrDefault("LEAF_DROP_POLICY", "newest"); p {
	case "newest":
		c.DropPolicy = bus.DropNewest
	case "oldest":
		c.DropPolicy = bus.DropOldest
	default:
		return nil, fmt.Errorf("LEAF_DROP_POLICY: %q is not newest or oldest", p)
	}

	return c, nil
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func durationEnv(key, fallback string) (time.Duration, error) {
	d, err := time.ParseDuration(envOrDefault(key, fallback))
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return d, nil
}

func intEnv(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	if n <= 0 {
		return 0, fmt.Errorf("%s: must be positive", key)
	}
	return n, nil
}
