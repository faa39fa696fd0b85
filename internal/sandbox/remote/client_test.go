package remote

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"go.uber.org/zap"

	"github.com/vesselworks/drydock/internal/sandbox"
)

func newTestClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	c, err := New(Config{APIURL: srv.URL, APIKey: "test-key", Domain: "test.local"}, zap.NewNop())
	if err != nil {
		t.Fatalf("Failed to create client: %v", err)
	}
	return c
}

func TestCreate(t *testing.T) {
	var gotKey, gotPath string
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotKey = r.Header.Get("X-API-Key")
		gotPath = r.Method + " " + r.URL.Path

		var req map[string]any
		_ = json.NewDecoder(r.Body).Decode(&req)
		if req["templateId"] != "node-vite" {
			t.Errorf("Unexpected template: %v", req["templateId"])
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"sandboxId":  "sb-123",
			"templateId": "node-vite",
			"state":      "running",
		})
	}))

	h, err := c.Create(context.Background(), "node-vite")
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if gotKey != "test-key" {
		t.Fatalf("API key not sent, got %q", gotKey)
	}
	if gotPath != "POST /v1/sandboxes" {
		t.Fatalf("Unexpected request: %s", gotPath)
	}
	if h.ID != "sb-123" || h.Status != sandbox.StatusRunning {
		t.Fatalf("Unexpected handle: %+v", h)
	}
	if h.Workdir != sandbox.DefaultWorkdir {
		t.Fatalf("Unexpected workdir: %q", h.Workdir)
	}
}

func TestFindByIDNotFound(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"sandbox not found"}`, http.StatusNotFound)
	}))

	_, err := c.FindByID(context.Background(), "sb-gone")
	if !errors.Is(err, sandbox.ErrNotFound) {
		t.Fatalf("Expected ErrNotFound, got %v", err)
	}
}

func TestFindByIDServerError(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "internal error", http.StatusInternalServerError)
	}))

	_, err := c.FindByID(context.Background(), "sb-123")
	if err == nil {
		t.Fatal("Expected error")
	}
	// A 5xx must not look like a missing sandbox: callers clear state on
	// not-found.
	if errors.Is(err, sandbox.ErrNotFound) {
		t.Fatal("Server error must not map to ErrNotFound")
	}
}

func TestDeleteAlreadyGone(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "not found", http.StatusNotFound)
	}))

	if err := c.Delete(context.Background(), "sb-gone"); err != nil {
		t.Fatalf("Deleting an already-gone sandbox should succeed: %v", err)
	}
}

func TestStartNotFound(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "not found", http.StatusNotFound)
	}))

	if err := c.Start(context.Background(), "sb-gone"); !errors.Is(err, sandbox.ErrNotFound) {
		t.Fatalf("Expected ErrNotFound, got %v", err)
	}
}

func TestPreviewURLFallback(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "unavailable", http.StatusServiceUnavailable)
	}))

	h := &sandbox.Handle{ID: "sb-123"}
	u, err := c.PreviewURL(context.Background(), h, 3000)
	if err != nil {
		t.Fatalf("PreviewURL failed: %v", err)
	}
	if u != "https://3000-sb-123.test.local" {
		t.Fatalf("Unexpected fallback URL: %q", u)
	}
}

func TestNewRequiresCredentials(t *testing.T) {
	if _, err := New(Config{APIURL: "https://api.test"}, zap.NewNop()); err == nil {
		t.Fatal("Expected error without an API key")
	}
	if _, err := New(Config{APIKey: "k"}, zap.NewNop()); err == nil {
		t.Fatal("Expected error without an API URL")
	}
}
