// Command drydockd serves the drydock API: sandbox provisioning and
// recovery, the fragment snapshot store, dev-server supervision, and the
// deployment pipeline.
package main

import (
	"fmt"
	"net/http"
	"os"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/vesselworks/drydock/internal/config"
	"github.com/vesselworks/drydock/internal/database"
	"github.com/vesselworks/drydock/internal/handler"
	"github.com/vesselworks/drydock/internal/sandbox"
	dockerprovider "github.com/vesselworks/drydock/internal/sandbox/docker"
	"github.com/vesselworks/drydock/internal/sandbox/remote"
	"github.com/vesselworks/drydock/internal/service"
	"github.com/vesselworks/drydock/internal/store"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "drydockd: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// Optional; production supplies real environment variables.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logger, err := zap.NewProduction()
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer logger.Sync()

	db, err := database.Open(cfg.DatabaseDriver, cfg.DatabaseDSN)
	if err != nil {
		return err
	}
	defer db.Close()

	provider, err := buildProvider(cfg, logger)
	if err != nil {
		return err
	}

	st := store.New(db)
	clock := service.NewClock()

	registry := service.NewRegistryService(st, provider, clock, service.RegistryOptions{
		PreviewPort:    cfg.PreviewPort,
		PreviewDomain:  cfg.ProviderDomain,
		RecoverySettle: cfg.RecoverySettle,
	}, logger)
	fragments := service.NewFragmentService(st, logger)
	restorer := service.NewRestoreService(st, provider, logger)
	devserver := service.NewDevServerService(provider, clock, cfg.DevServerReadyTimeout, logger)
	recovery := service.NewRecoveryService(st, provider, registry, fragments, restorer, devserver, cfg.SandboxTemplate, logger)
	deploy := service.NewDeployService(provider, clock, service.EndpointConfig{
		URL:    cfg.DeployEndpoint,
		APIKey: cfg.DeployAPIKey,
	}, logger)

	h := handler.New(recovery, registry, fragments, devserver, deploy, logger)

	logger.Info("drydockd listening",
		zap.String("addr", cfg.ListenAddr),
		zap.String("provider", cfg.ProviderBackend))
	return http.ListenAndServe(cfg.ListenAddr, h.Routes())
}

func buildProvider(cfg *config.Config, logger *zap.Logger) (sandbox.Provider, error) {
	switch cfg.ProviderBackend {
	case "remote":
		return remote.New(remote.Config{
			APIURL: cfg.ProviderAPIURL,
			APIKey: cfg.ProviderAPIKey,
			Domain: cfg.ProviderDomain,
		}, logger)
	case "docker":
		return dockerprovider.New(cfg.DockerImage, logger)
	}
	return nil, fmt.Errorf("unknown provider backend %q", cfg.ProviderBackend)
}
