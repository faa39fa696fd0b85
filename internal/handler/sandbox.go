package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/vesselworks/drydock/internal/middleware"
	"github.com/vesselworks/drydock/internal/sandbox"
	"github.com/vesselworks/drydock/internal/service"
	"github.com/vesselworks/drydock/internal/store"
)

type ensureSandboxRequest struct {
	Mode string `json:"mode,omitempty"`
}

type ensureSandboxResponse struct {
	SandboxID  string              `json:"sandboxId"`
	PreviewURL string              `json:"previewUrl"`
	Files      []sandbox.FileEntry `json:"files"`
}

// EnsureSandbox resolves or provisions a usable sandbox for the project.
// POST /api/projects/{projectID}/sandbox/ensure
func (h *Handler) EnsureSandbox(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	projectID := middleware.GetProjectID(ctx)

	var req ensureSandboxRequest
	if r.Body != nil {
		// An empty body selects the default mode.
		_ = json.NewDecoder(r.Body).Decode(&req)
	}
	mode, err := service.ParseMode(req.Mode)
	if err != nil {
		h.Error(w, http.StatusBadRequest, err.Error())
		return
	}

	resolved, err := h.recovery.EnsureSandbox(ctx, projectID, mode)
	if err != nil {
		h.logger.Error("ensure sandbox failed",
			zap.String("project_id", projectID), zap.Error(err))
		h.Error(w, http.StatusInternalServerError, "failed to provision sandbox")
		return
	}

	h.JSON(w, http.StatusOK, ensureSandboxResponse{
		SandboxID:  resolved.Handle.ID,
		PreviewURL: resolved.PreviewURL,
		Files:      resolved.Files,
	})
}

// TeardownSandbox is the explicit administrative cleanup path.
// DELETE /api/projects/{projectID}/sandbox
func (h *Handler) TeardownSandbox(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	projectID := middleware.GetProjectID(ctx)

	if err := h.registry.Teardown(ctx, projectID); err != nil {
		h.logger.Error("teardown failed",
			zap.String("project_id", projectID), zap.Error(err))
		h.Error(w, http.StatusInternalServerError, "failed to tear down sandbox")
		return
	}
	h.JSON(w, http.StatusOK, map[string]bool{"ok": true})
}

// resolveHandle re-acquires a live handle for request-scoped operations.
func (h *Handler) resolveHandle(w http.ResponseWriter, r *http.Request) (*service.Resolved, bool) {
	ctx := r.Context()
	projectID := middleware.GetProjectID(ctx)

	resolved, err := h.registry.Resolve(ctx, projectID)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, store.ErrNotFound) || errors.Is(err, sandbox.ErrNotFound) {
			status = http.StatusNotFound
		}
		h.Error(w, status, err.Error())
		return nil, false
	}
	if resolved == nil {
		h.Error(w, http.StatusNotFound, "no sandbox for project")
		return nil, false
	}
	return resolved, true
}
