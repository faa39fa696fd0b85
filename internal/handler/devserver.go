package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/vesselworks/drydock/internal/middleware"
)

// StartDevServer ensures the project's dev server session is running.
// POST /api/projects/{projectID}/devserver/start
func (h *Handler) StartDevServer(w http.ResponseWriter, r *http.Request) {
	resolved, ok := h.resolveHandle(w, r)
	if !ok {
		return
	}
	projectID := middleware.GetProjectID(r.Context())

	if err := h.devserver.EnsureDevServer(r.Context(), resolved.Handle, projectID); err != nil {
		h.Error(w, http.StatusInternalServerError, "failed to start dev server")
		return
	}
	h.JSON(w, http.StatusOK, map[string]bool{"ok": true})
}

// StopDevServer stops the project's dev server session; stopping a
// missing session succeeds.
// POST /api/projects/{projectID}/devserver/stop
func (h *Handler) StopDevServer(w http.ResponseWriter, r *http.Request) {
	resolved, ok := h.resolveHandle(w, r)
	if !ok {
		return
	}
	projectID := middleware.GetProjectID(r.Context())

	if err := h.devserver.StopDevServer(r.Context(), resolved.Handle, projectID); err != nil {
		h.Error(w, http.StatusInternalServerError, "failed to stop dev server")
		return
	}
	h.JSON(w, http.StatusOK, map[string]bool{"ok": true})
}

// Deploy runs the deployment pipeline on the project's running sandbox.
// POST /api/projects/{projectID}/deploy
func (h *Handler) Deploy(w http.ResponseWriter, r *http.Request) {
	resolved, ok := h.resolveHandle(w, r)
	if !ok {
		return
	}
	projectID := middleware.GetProjectID(r.Context())

	var req struct {
		AppName string `json:"appName,omitempty"`
	}
	if r.Body != nil {
		_ = json.NewDecoder(r.Body).Decode(&req)
	}

	result, err := h.deploy.Deploy(r.Context(), resolved.Handle, projectID, req.AppName)
	if err != nil {
		h.logger.Error("deploy failed",
			zap.String("project_id", projectID), zap.Error(err))
		h.Error(w, http.StatusInternalServerError, "deployment failed")
		return
	}
	h.JSON(w, http.StatusOK, result)
}

var upgrader = websocket.Upgrader{
	// The API is consumed by the tool-calling layer, not browsers.
	CheckOrigin: func(*http.Request) bool { return true },
}

// logPollInterval paces the websocket tail of the dev server log.
// Variable so tests can tighten it.
var logPollInterval = 2 * time.Second

// StreamDevServerLogs tails the dev server session output over a
// websocket, sending the full captured log whenever it grows.
// GET /api/projects/{projectID}/devserver/logs
func (h *Handler) StreamDevServerLogs(w http.ResponseWriter, r *http.Request) {
	resolved, ok := h.resolveHandle(w, r)
	if !ok {
		return
	}
	projectID := middleware.GetProjectID(r.Context())

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed",
			zap.String("project_id", projectID), zap.Error(err))
		return
	}
	defer conn.Close()

	// Upgrade hijacks the connection, so the request context no longer
	// reflects the peer; watch for the client closing on our own.
	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	sent := 0
	ticker := time.NewTicker(logPollInterval)
	defer ticker.Stop()

	for {
		out, err := h.devserver.SessionOutput(ctx, resolved.Handle)
		if err == nil && len(out) > sent {
			if werr := conn.WriteMessage(websocket.TextMessage, []byte(out[sent:])); werr != nil {
				return
			}
			sent = len(out)
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
