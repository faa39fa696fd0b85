package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/vesselworks/drydock/internal/middleware"
	"github.com/vesselworks/drydock/internal/store"
)

type createFragmentRequest struct {
	ChangedFiles     map[string]string `json:"changedFiles"`
	ActiveFragmentID string            `json:"activeFragmentId,omitempty"`
}

// CreateWorkingFragment folds changed files into the project's working
// fragment.
// POST /api/projects/{projectID}/fragments
func (h *Handler) CreateWorkingFragment(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	projectID := middleware.GetProjectID(ctx)

	var req createFragmentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if len(req.ChangedFiles) == 0 {
		h.Error(w, http.StatusBadRequest, "changedFiles is required")
		return
	}

	fragmentID := h.fragments.CreateOrUpdateWorking(ctx, projectID, req.ChangedFiles, req.ActiveFragmentID)
	h.JSON(w, http.StatusOK, map[string]string{"fragmentId": fragmentID})
}

type finalizeFragmentRequest struct {
	Title string `json:"title"`
}

// FinalizeFragment marks a working fragment finalized.
// POST /api/projects/{projectID}/fragments/{fragmentID}/finalize
func (h *Handler) FinalizeFragment(w http.ResponseWriter, r *http.Request) {
	fragmentID := chi.URLParam(r, "fragmentID")
	if fragmentID == "" {
		h.Error(w, http.StatusBadRequest, "fragmentID is required")
		return
	}

	var req finalizeFragmentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.Error(w, http.StatusBadRequest, "invalid request body")
		return
	}

	id, err := h.fragments.Finalize(r.Context(), fragmentID, req.Title)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, store.ErrNotFound) {
			status = http.StatusNotFound
		}
		h.Error(w, status, err.Error())
		return
	}
	h.JSON(w, http.StatusOK, map[string]string{"fragmentId": id})
}

// ListFragments returns the project's fragments, newest first.
// GET /api/projects/{projectID}/fragments
func (h *Handler) ListFragments(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	projectID := middleware.GetProjectID(ctx)

	frags, err := h.fragments.List(ctx, projectID)
	if err != nil {
		h.Error(w, http.StatusInternalServerError, "failed to list fragments")
		return
	}
	h.JSON(w, http.StatusOK, frags)
}

type recordCommitRequest struct {
	FragmentID string `json:"fragmentId,omitempty"`
	CommitHash string `json:"commitHash"`
	Branch     string `json:"branch"`
	Title      string `json:"title"`
	Message    string `json:"message,omitempty"`
}

// RecordCommit appends an entry to the project's durable commit trail.
// POST /api/projects/{projectID}/commits
func (h *Handler) RecordCommit(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	projectID := middleware.GetProjectID(ctx)

	var req recordCommitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.CommitHash == "" || req.Title == "" {
		h.Error(w, http.StatusBadRequest, "commitHash and title are required")
		return
	}

	if err := h.fragments.RecordCommit(ctx, projectID, req.FragmentID, req.CommitHash, req.Branch, req.Title, req.Message); err != nil {
		h.Error(w, http.StatusInternalServerError, "failed to record commit")
		return
	}
	h.JSON(w, http.StatusOK, map[string]bool{"ok": true})
}
