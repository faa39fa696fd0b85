package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
)

func newProjectRouter() http.Handler {
	r := chi.NewRouter()
	r.Route("/api/projects/{projectID}", func(r chi.Router) {
		r.Use(ProjectCtx)
		r.Get("/ping", func(w http.ResponseWriter, req *http.Request) {
			w.Write([]byte(GetProjectID(req.Context())))
		})
	})
	return r
}

func TestProjectCtx(t *testing.T) {
	router := newProjectRouter()

	tests := []struct {
		path       string
		wantStatus int
		wantBody   string
	}{
		{"/api/projects/my-project-1/ping", http.StatusOK, "my-project-1"},
		{"/api/projects/UPPER-and-lower-42/ping", http.StatusOK, "UPPER-and-lower-42"},
		{"/api/projects/has_underscore/ping", http.StatusBadRequest, ""},
		{"/api/projects/has%20space/ping", http.StatusBadRequest, ""},
	}
	for _, tt := range tests {
		req := httptest.NewRequest(http.MethodGet, tt.path, nil)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)

		if rec.Code != tt.wantStatus {
			t.Errorf("%s: status %d, want %d", tt.path, rec.Code, tt.wantStatus)
			continue
		}
		if tt.wantBody != "" && rec.Body.String() != tt.wantBody {
			t.Errorf("%s: body %q, want %q", tt.path, rec.Body.String(), tt.wantBody)
		}
	}
}

func TestGetProjectIDWithoutMiddleware(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if got := GetProjectID(req.Context()); got != "" {
		t.Fatalf("Expected empty project ID, got %q", got)
	}
}
