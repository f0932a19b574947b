package server

import (
	"net/http"
	"strings"
)

// setupHTTPRoutes configures all HTTP handlers
func (s *RunqServer) setupHTTPRoutes() {
	s.mux.HandleFunc("/health", s.middleware(s.HandleHealth))
	s.mux.HandleFunc("/api/jobs", s.middleware(s.HandleJobs))   // List (GET) / submit (POST)
	s.mux.HandleFunc("/api/jobs/", s.middleware(s.HandleJob))   // Individual job (GET/DELETE)
	s.mux.HandleFunc("/api/stats", s.middleware(s.HandleStats)) // Queue + system gauges (GET)
	s.mux.HandleFunc("/ws/jobs", s.middleware(s.HandleJobsWebSocket))
	s.mux.HandleFunc("/", s.middleware(s.handleNotFound))
}

// middleware applies request-id assignment and CORS to a handler
func (s *RunqServer) middleware(next http.HandlerFunc) http.HandlerFunc {
	return requestIDMiddleware(s.corsMiddleware(next))
}

// corsMiddleware adds CORS headers using the configured allowed origins
func (s *RunqServer) corsMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")

		if origin != "" && s.checkOrigin(origin) {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Credentials", "true")
		}
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, X-Request-ID")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next(w, r)
	}
}

// checkOrigin validates an origin against the configured allow list.
// Prefix matching allows any port number.
func (s *RunqServer) checkOrigin(origin string) bool {
	if origin == "" {
		return true
	}
	for _, allowed := range s.cfg.Server.AllowedOrigins {
		if strings.HasPrefix(origin, allowed) {
			return true
		}
	}
	return false
}

// handleNotFound answers every unrouted path
func (s *RunqServer) handleNotFound(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusNotFound, map[string]string{
		"error":   "not_found",
		"message": "no such route",
		"path":    r.URL.Path,
		"method":  r.Method,
	})
}
