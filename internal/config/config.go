// Package config loads server configuration from the environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds all runtime configuration for the drydock server.
type Config struct {
	// ListenAddr is the HTTP listen address.
	ListenAddr string

	// DatabaseDriver selects the backing database: "sqlite" or "postgres".
	DatabaseDriver string
	// DatabaseDSN is the driver-specific connection string.
	DatabaseDSN string

	// ProviderBackend selects the sandbox backend: "remote" or "docker".
	ProviderBackend string

	// Remote provider settings.
	ProviderAPIURL   string
	ProviderAPIKey   string
	ProviderDomain   string
	SandboxTemplate  string
	PreviewPort      int

	// Deployment endpoint settings.
	DeployEndpoint string
	DeployAPIKey   string

	// Docker backend settings.
	DockerImage string

	// RecoverySettle is the fixed wait after restarting a stopped sandbox
	// before retrying a file listing.
	RecoverySettle time.Duration

	// DevServerReadyTimeout bounds readiness polling.
	DevServerReadyTimeout time.Duration
}

// Load reads configuration from the environment, applying defaults.
func Load() (*Config, error) {
	cfg := &Config{
		ListenAddr:            getEnv("DRYDOCK_LISTEN_ADDR", ":8080"),
		DatabaseDriver:        getEnv("DRYDOCK_DB_DRIVER", "sqlite"),
		DatabaseDSN:           getEnv("DRYDOCK_DB_DSN", "drydock.db"),
		ProviderBackend:       getEnv("DRYDOCK_PROVIDER", "remote"),
		ProviderAPIURL:        os.Getenv("DRYDOCK_PROVIDER_API_URL"),
		ProviderAPIKey:        os.Getenv("DRYDOCK_PROVIDER_API_KEY"),
		ProviderDomain:        getEnv("DRYDOCK_PROVIDER_DOMAIN", "sandbox.dev"),
		SandboxTemplate:       getEnv("DRYDOCK_SANDBOX_TEMPLATE", "node-vite"),
		PreviewPort:           getEnvInt("DRYDOCK_PREVIEW_PORT", 3000),
		DeployEndpoint:        os.Getenv("DRYDOCK_DEPLOY_ENDPOINT"),
		DeployAPIKey:          os.Getenv("DRYDOCK_DEPLOY_API_KEY"),
		DockerImage:           getEnv("DRYDOCK_DOCKER_IMAGE", "node:20-bookworm"),
		RecoverySettle:        getEnvDuration("DRYDOCK_RECOVERY_SETTLE", 5*time.Second),
		DevServerReadyTimeout: getEnvDuration("DRYDOCK_DEVSERVER_READY_TIMEOUT", 60*time.Second),
	}

	if cfg.ProviderBackend == "remote" && cfg.ProviderAPIKey == "" {
		return nil, fmt.Errorf("DRYDOCK_PROVIDER_API_KEY is required for the remote backend")
	}

	return cfg, nil
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getEnvDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}
