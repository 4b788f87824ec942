// Package httpsurface wires the HTTP mux that fronts the proxy: a
// health check that is never forwarded or hooked, and a catch-all route
// delegated to the request pipeline (spec.md §4.8).
package httpsurface

import (
	"encoding/json"
	"net/http"
)

// Pipeline is the subset of internal/pipeline.Pipeline this package
// depends on, kept narrow so httpsurface can be tested without building
// a full pipeline.
type Pipeline interface {
	ServeHTTP(w http.ResponseWriter, r *http.Request)
}

// New builds the top-level mux: GET /health short-circuits with a
// static healthy response, and every other path is handed to pipeline.
func New(pipeline Pipeline) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", handleHealth)
	mux.HandleFunc("/", pipeline.ServeHTTP)
	return mux
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]string{"status": "healthy"})
}
