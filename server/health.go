package server

import (
	"net/http"
	"time"

	"github.com/veldtlabs/runq/version"
)

// HandleHealth serves the health check endpoint with version info
func (s *RunqServer) HandleHealth(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}

	versionInfo := version.Get()
	s.mu.RLock()
	clientCount := len(s.clients)
	s.mu.RUnlock()

	health := map[string]interface{}{
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"version":   versionInfo.Version,
		"commit":    versionInfo.CommitHash,
		"go":        versionInfo.GoVersion,
		"clients":   clientCount,
	}

	writeJSON(w, http.StatusOK, health)
}
