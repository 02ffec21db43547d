package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/sydlexius/rosterimport/internal/version"
)

func (r *Router) handleHealth(w http.ResponseWriter, req *http.Request) {
	status, code := "ok", http.StatusOK
	if r.db != nil {
		ctx, cancel := context.WithTimeout(req.Context(), 2*time.Second)
		defer cancel()
		if err := r.db.PingContext(ctx); err != nil {
			r.logger.Error("health check: database unreachable", "error", err)
			status, code = "degraded", http.StatusServiceUnavailable
		}
	}

	body := map[string]any{
		"status":  status,
		"version": version.Version,
		"commit":  version.Commit,
		"time":    time.Now().UTC().Format(time.RFC3339),
	}
	if r.jobStore != nil {
		body["pending_jobs"] = r.jobStore.Len()
	}
	writeJSON(w, code, body)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, "encode error", http.StatusInternalServerError)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// intParam reads a positive integer query parameter, falling back to def.
func intParam(req *http.Request, name string, def int) int {
	v, err := strconv.Atoi(req.URL.Query().Get(name))
	if err != nil || v < 1 {
		return def
	}
	return v
}
