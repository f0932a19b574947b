// Package server exposes the runq job queue core over HTTP.
package server

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/veldtlabs/runq/config"
	"github.com/veldtlabs/runq/errors"
	"github.com/veldtlabs/runq/queue"
)

// RunqServer serves the job queue API and the job-update WebSocket
// stream.
type RunqServer struct {
	cfg    *config.Config
	svc    *queue.Service
	logger *zap.SugaredLogger

	httpServer *http.Server
	mux        *http.ServeMux

	mu      sync.RWMutex
	clients map[*Client]struct{}

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewServer creates a server around an already-constructed service
func NewServer(cfg *config.Config, svc *queue.Service, logger *zap.SugaredLogger) *RunqServer {
	s := &RunqServer{
		cfg:     cfg,
		svc:     svc,
		logger:  logger.Named("server"),
		mux:     http.NewServeMux(),
		clients: make(map[*Client]struct{}),
	}
	// A usable context even when Start is never called (tests drive the
	// mux directly); Start re-derives it from its parent
	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.setupHTTPRoutes()
	return s
}

// Handler returns the configured HTTP handler, mainly for tests
func (s *RunqServer) Handler() http.Handler {
	return s.mux
}

// Start binds the listen port and serves until Shutdown. It blocks.
func (s *RunqServer) Start(parent context.Context) error {
	s.ctx, s.cancel = context.WithCancel(parent)

	port, err := findAvailablePort(s.cfg.Server.Port)
	if err != nil {
		return err
	}
	if port != s.cfg.Server.Port {
		s.logger.Warnw("Requested port unavailable, using fallback",
			"requested", s.cfg.Server.Port, "port", port)
	}

	s.startJobUpdateBroadcaster()

	s.httpServer = &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: s.mux,
	}

	s.logger.Infow("HTTP server listening", "port", port)
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.Wrap(err, "http server failed")
	}
	return nil
}

// Shutdown stops the HTTP server and disconnects WebSocket clients
func (s *RunqServer) Shutdown(ctx context.Context) error {
	if s.cancel != nil {
		s.cancel()
	}

	var err error
	if s.httpServer != nil {
		err = s.httpServer.Shutdown(ctx)
	}

	s.mu.Lock()
	for client := range s.clients {
		client.close()
	}
	s.clients = make(map[*Client]struct{})
	s.mu.Unlock()

	s.wg.Wait()
	return err
}

// isPortAvailable checks if a port is available for binding
func isPortAvailable(port int) bool {
	addr := fmt.Sprintf(":%d", port)
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return false
	}
	_ = listener.Close()
	return true
}

// findAvailablePort tries the requested port first, then up to 10
// alternative ports above it
func findAvailablePort(requestedPort int) (int, error) {
	if isPortAvailable(requestedPort) {
		return requestedPort, nil
	}
	for i := 1; i <= 10; i++ {
		port := requestedPort + i
		if isPortAvailable(port) {
			return port, nil
		}
	}
	return 0, errors.Newf("no available ports found (tried %d-%d)", requestedPort, requestedPort+10)
}

// shutdownTimeout bounds how long Shutdown waits for in-flight requests
const shutdownTimeout = 10 * time.Second

// ShutdownTimeout returns the default graceful shutdown window
func ShutdownTimeout() time.Duration {
	return shutdownTimeout
}
