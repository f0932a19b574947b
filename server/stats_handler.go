package server

import (
	"net/http"
)

// HandleStats serves queue statistics and system resource gauges
func (s *RunqServer) HandleStats(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"queue":  s.svc.GetStats(),
		"system": s.svc.GetSystemMetrics(),
	})
}
