// ABOUTME: HTTP surface of the coordinator: lifecycle, routing table, and shared components.
// ABOUTME: Owner identity arrives in the X-Owner-ID header from the upstream auth layer.

package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/2389/fleet-coordinator/internal/config"
	"github.com/2389/fleet-coordinator/internal/dispatch"
	"github.com/2389/fleet-coordinator/internal/history"
	"github.com/2389/fleet-coordinator/internal/metrics"
	"github.com/2389/fleet-coordinator/internal/registry"
)

// OwnerHeader carries the caller's owner id, issued by the authentication
// layer in front of the coordinator.
const OwnerHeader = "X-Owner-ID"

const shutdownTimeout = 10 * time.Second

// Server is the coordinator's HTTP API.
type Server struct {
	orch       *dispatch.Orchestrator
	registry   *registry.Store
	history    *history.Log
	logger     *slog.Logger
	deliveries *deliveryCache

	httpServer *http.Server
}

// New creates a Server listening on cfg.Server.HTTPAddr.
func New(cfg *config.Config, orch *dispatch.Orchestrator, reg *registry.Store, hist *history.Log, m *metrics.Metrics, logger *slog.Logger) *Server {
	s := &Server{
		orch:       orch,
		registry:   reg,
		history:    hist,
		logger:     logger,
		deliveries: newDeliveryCache(),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/health/ready", s.handleReady)
	mux.HandleFunc("/api/workers", s.handleWorkers)
	mux.HandleFunc("/api/workers/", s.handleWorkerBySlug)
	mux.HandleFunc("/api/namespaces", s.handleNamespaces)
	mux.HandleFunc("/api/namespaces/", s.handleNamespaceByName)
	mux.HandleFunc("/api/dispatch", s.handleDispatch)
	mux.HandleFunc("/api/dispatch/namespace", s.handleDispatchNamespace)
	mux.HandleFunc("/api/history", s.handleHistory)
	mux.HandleFunc("/api/connections", s.handleConnections)
	mux.HandleFunc("/api/cleanup", s.handleCleanup)
	if cfg.Metrics.Enabled {
		mux.Handle(cfg.Metrics.Path, m.Handler())
	}

	s.httpServer = &http.Server{
		Addr:    cfg.Server.HTTPAddr,
		Handler: mux,
	}
	return s
}

// Handler exposes the routing table, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Run serves HTTP until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	s.logger.Info("coordinator listening", "http_addr", s.httpServer.Addr)

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	return nil
}

// handleHealth returns 200 OK if the server is alive.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// handleReady returns 200 OK once the registry is readable, with a worker count.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	reg, err := s.registry.Load()
	if err != nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("registry unavailable"))
		return
	}
	workers := 0
	for _, rec := range reg {
		if !rec.IsNamespace {
			workers++
		}
	}
	w.WriteHeader(http.StatusOK)
	_, _ = fmt.Fprintf(w, "ready (%d workers)", workers)
}
