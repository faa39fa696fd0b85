// Package handler exposes the caller-facing operations over HTTP for the
// AI tool-calling layer.
package handler

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/vesselworks/drydock/internal/middleware"
	"github.com/vesselworks/drydock/internal/service"
)

// Handler wires the service layer to the HTTP API.
type Handler struct {
	recovery  *service.RecoveryService
	registry  *service.RegistryService
	fragments *service.FragmentService
	devserver *service.DevServerService
	deploy    *service.DeployService
	logger    *zap.Logger
}

// New creates a handler over the service layer.
func New(rec *service.RecoveryService, reg *service.RegistryService, frags *service.FragmentService, dev *service.DevServerService, dep *service.DeployService, logger *zap.Logger) *Handler {
	return &Handler{
		recovery:  rec,
		registry:  reg,
		fragments: frags,
		devserver: dev,
		deploy:    dep,
		logger:    logger,
	}
}

// Routes builds the API router.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Content-Type", "Authorization"},
	}))

	r.Route("/api/projects/{projectID}", func(r chi.Router) {
		r.Use(middleware.ProjectCtx)

		r.Post("/sandbox/ensure", h.EnsureSandbox)
		r.Delete("/sandbox", h.TeardownSandbox)

		r.Get("/fragments", h.ListFragments)
		r.Post("/fragments", h.CreateWorkingFragment)
		r.Post("/fragments/{fragmentID}/finalize", h.FinalizeFragment)
		r.Post("/commits", h.RecordCommit)

		r.Post("/devserver/start", h.StartDevServer)
		r.Post("/devserver/stop", h.StopDevServer)
		r.Get("/devserver/logs", h.StreamDevServerLogs)

		r.Post("/deploy", h.Deploy)
	})

	return r
}

// JSON writes a JSON response.
func (h *Handler) JSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Error("response encode failed", zap.Error(err))
	}
}

// Error writes a JSON error response.
func (h *Handler) Error(w http.ResponseWriter, status int, msg string) {
	h.JSON(w, status, map[string]string{"error": msg})
}
