// Package middleware holds HTTP middleware shared by all routes.
package middleware

import (
	"context"
	"net/http"
)

// WorkspaceHeader carries the caller's workspace on every request. Requests
// without it operate in the global scope.
const WorkspaceHeader = "X-Workspace-Id"

type contextKey string

const workspaceKey contextKey = "workspace"

// Workspace extracts the workspace header into the request context.
func Workspace(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if ws := r.Header.Get(WorkspaceHeader); ws != "" {
			r = r.WithContext(context.WithValue(r.Context(), workspaceKey, ws))
		}
		next.ServeHTTP(w, r)
	})
}

// WorkspaceID returns the caller's workspace, or "" for the global scope.
func WorkspaceID(ctx context.Context) string {
	ws, _ := ctx.Value(workspaceKey).(string)
	return ws
}
