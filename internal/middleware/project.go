// Package middleware provides request-scoping middleware for the API.
package middleware

import (
	"context"
	"net/http"
	"regexp"

	"github.com/go-chi/chi/v5"
)

type contextKey string

const projectIDKey contextKey = "projectID"

// projectIDPattern constrains project identifiers to the same vocabulary
// the rest of the system uses: alphanumerics and hyphens, bounded length.
var projectIDPattern = regexp.MustCompile(`^[a-zA-Z0-9-]{1,64}$`)

// ProjectCtx validates the {projectID} URL parameter and stores it in the
// request context. Must be mounted inside a route that defines
// {projectID}:
//
//	r.Route("/api/projects/{projectID}", func(r chi.Router) {
//	    r.Use(middleware.ProjectCtx)
//	    ...
//	})
func ProjectCtx(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		projectID := chi.URLParam(r, "projectID")
		if !projectIDPattern.MatchString(projectID) {
			http.Error(w, `{"error":"invalid project ID"}`, http.StatusBadRequest)
			return
		}
		ctx := context.WithValue(r.Context(), projectIDKey, projectID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// GetProjectID extracts the project ID from context (set by ProjectCtx).
func GetProjectID(ctx context.Context) string {
	id, _ := ctx.Value(projectIDKey).(string)
	return id
}
