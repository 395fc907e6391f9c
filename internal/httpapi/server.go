// Package httpapi exposes the Mnemosyne daemon's event stream and state
// projection over plain net/http, grounded on
// original_source/src/api/server.rs's route table (re-expressed over
// http.ServeMux, exactly as cmd/cliairmonitor/main.go does, rather than
// introducing a framework the teacher never reached for) and on
// internal/events.Projector for the state it serves.
package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/mnemosyne/mnemosyne/internal/config"
	"github.com/mnemosyne/mnemosyne/internal/events"
	"github.com/mnemosyne/mnemosyne/internal/metrics"
)

// Version is reported by /health (spec.md §6). Bumped by hand on release;
// this module has no build-time stamping mechanism to wire it to.
const Version = "0.1.0"

// EscalationResolver answers a pending Escalation (SPEC_FULL §3A),
// satisfied by *orchestrator.Engine. A nil resolver makes
// /escalations/resolve respond 501, used by tests that don't wire an
// Engine.
type EscalationResolver interface {
	ResolveEscalation(id, answer string)
}

// Server serves the event SSE stream, the state projection endpoints, and
// a health check. It owns no state of its own beyond the bus and
// projector it was handed.
type Server struct {
	cfg         config.ServerConfig
	bus         *events.Bus
	projector   *events.Projector
	logger      *zap.Logger
	cacheStat   func() (hits, misses int64)
	escalations EscalationResolver

	httpServer *http.Server
	listener   net.Listener
	boundAddr  string
}

// NewServer builds a Server. cacheStats, if non-nil, is polled by the
// /health endpoint to report prefetch cache hit/miss counts (typically
// Store.CacheStats). escalations, if non-nil, backs POST
// /escalations/resolve (typically the Orchestration Engine).
func NewServer(cfg config.ServerConfig, bus *events.Bus, projector *events.Projector, cacheStats func() (hits, misses int64), escalations EscalationResolver, logger *zap.Logger) *Server {
	return &Server{
		cfg:         cfg,
		bus:         bus,
		projector:   projector,
		logger:      logger,
		cacheStat:   cacheStats,
		escalations: escalations,
	}
}

// Start binds a listener and begins serving in the background. It tries
// cfg.Port first, then up to cfg.PortRangeSize-1 consecutive ports above
// it if the preferred one is already in use, mirroring the dynamic-port
// fallback spec.md §6 requires for running multiple instances on one
// host. BoundAddr reports whichever port actually won.
func (s *Server) Start(ctx context.Context) error {
	rangeSize := s.cfg.PortRangeSize
	if rangeSize <= 0 {
		rangeSize = 1
	}

	var lastErr error
	for i := 0; i < rangeSize; i++ {
		port := s.cfg.Port + i
		ln, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
		if err == nil {
			s.listener = ln
			break
		}
		lastErr = err
	}
	if s.listener == nil {
		return fmt.Errorf("failed to bind any port in [%d, %d): %w", s.cfg.Port, s.cfg.Port+rangeSize, lastErr)
	}
	s.boundAddr = s.listener.Addr().String()

	s.httpServer = &http.Server{Handler: s.buildMux()}

	go func() {
		if err := s.httpServer.Serve(s.listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("http server error", zap.Error(err))
		}
	}()

	s.logger.Info("http api listening", zap.String("addr", s.boundAddr))
	return nil
}

// BoundAddr returns the address actually bound by Start, including the
// port chosen after any fallback.
func (s *Server) BoundAddr() string {
	return s.boundAddr
}

// Shutdown gracefully drains in-flight requests within ctx's deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return s.httpServer.Shutdown(shutdownCtx)
}

func (s *Server) buildMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/events", s.handleEvents)
	mux.HandleFunc("/state/agents", s.handleAgents)
	mux.HandleFunc("/state/context-files", s.handleContextFiles)
	mux.HandleFunc("/state/stats", s.handleStats)
	mux.HandleFunc("/escalations/resolve", s.handleResolveEscalation)
	mux.HandleFunc("/health", s.handleHealth)
	mux.Handle("/metrics", metrics.Handler())
	return mux
}
