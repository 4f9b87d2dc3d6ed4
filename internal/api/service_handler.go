package api

import (
	"context"
	"net/http"
	"time"
)

const appName = "AI Token Tracker"

// serviceHandler serves the unauthenticated service routes.
type serviceHandler struct {
	db          Pinger
	environment string
	version     string
	now         func() time.Time
}

func newServiceHandler(db Pinger, environment, version string, now func() time.Time) *serviceHandler {
	if version == "" {
		version = "dev"
	}
	return &serviceHandler{db: db, environment: environment, version: version, now: now}
}

// Root handles GET /.
func (h *serviceHandler) Root(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"message": "Welcome to " + appName + " API",
		"version": h.version,
		"endpoints": map[string]string{
			"auth":    "/api/auth",
			"logs":    "/api/logs",
			"ai":      "/api/ai",
			"health":  "/api/health",
			"metrics": "/metrics",
		},
	})
}

// Health handles GET /api/health. A failing database ping turns the
// response into a 503.
func (h *serviceHandler) Health(w http.ResponseWriter, r *http.Request) {
	status, code, database := "ok", http.StatusOK, "unknown"
	if h.db != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := h.db.Ping(ctx); err != nil {
			status, code, database = "degraded", http.StatusServiceUnavailable, "unreachable"
		} else {
			database = "connected"
		}
	}

	writeJSON(w, code, map[string]any{
		"message":     appName + " API is running",
		"status":      status,
		"database":    database,
		"environment": h.environment,
		"timestamp":   h.now().UTC(),
	})
}

// NotFound is the JSON 404 handler.
func (h *serviceHandler) NotFound(w http.ResponseWriter, r *http.Request) {
	writeError(w, http.StatusNotFound, "not_found", "Route not found: "+r.URL.Path)
}

// MethodNotAllowed is the JSON 405 handler.
func (h *serviceHandler) MethodNotAllowed(w http.ResponseWriter, r *http.Request) {
	writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", r.Method+" is not allowed on "+r.URL.Path)
}
