package httpapi

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"agentindex/internal/domain"
	"agentindex/internal/infra/config"
	"agentindex/internal/infra/middleware"
	"agentindex/internal/usecase"
)

// Server exposes the discovery API over HTTP.
type Server struct {
	discovery *usecase.Discovery
	stats     *usecase.StatsService
	ranker    *usecase.Ranker
	keys      domain.KeyStore
	cfg       config.APIConfig
	logger    *slog.Logger
	httpSrv   *http.Server
	boundAddr string
}

// NewServer creates the API server. ranker may be nil; the rank trigger
// endpoint then returns 404.
func NewServer(discovery *usecase.Discovery, stats *usecase.StatsService, ranker *usecase.Ranker, keys domain.KeyStore, cfg config.APIConfig, logger *slog.Logger) *Server {
	return &Server{
		discovery: discovery,
		stats:     stats,
		ranker:    ranker,
		keys:      keys,
		cfg:       cfg,
		logger:    logger,
	}
}

// Handler builds the full middleware-wrapped handler. Exposed separately
// from Start so tests can drive it with httptest.
func (s *Server) Handler(ctx context.Context) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/discover", s.handleDiscover)
	mux.HandleFunc("GET /v1/agents/{id}", s.handleGetAgent)
	mux.HandleFunc("GET /v1/stats", s.handleStats)
	mux.HandleFunc("GET /v1/stats/trending", s.handleTrending)
	mux.HandleFunc("GET /v1/stats/categories", s.handleCategories)
	mux.HandleFunc("GET /v1/health", s.handleHealth)
	mux.HandleFunc("POST /v1/register", s.handleRegister)
	if s.ranker != nil {
		mux.HandleFunc("POST /v1/rank/run", s.handleRankRun)
	}

	identify := s.identity()
	var h http.Handler = mux
	h = middleware.RateLimit(ctx, identify)(h)
	h = middleware.SecurityHeaders(h)
	return h
}

// Start begins serving. Blocks until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("api listen: %w", err)
	}
	s.boundAddr = listener.Addr().String()

	s.httpSrv = &http.Server{
		Handler:           s.Handler(ctx),
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.logger.Info("api started", "addr", s.boundAddr)

	go func() {
		<-ctx.Done()
		s.Stop(context.Background())
	}()

	if err := s.httpSrv.Serve(listener); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("api serve: %w", err)
	}
	return nil
}

// Stop gracefully shuts down the server.
func (s *Server) Stop(ctx context.Context) error {
	if s.httpSrv == nil {
		return nil
	}
	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return s.httpSrv.Shutdown(shutdownCtx)
}

// BoundAddr returns the actual address the server bound to. Only valid after Start.
func (s *Server) BoundAddr() string { return s.boundAddr }

// identity resolves rate-limit buckets. A valid API key gets its own
// bucket with its own allowance; everyone else shares per-IP buckets.
func (s *Server) identity() middleware.IdentityFunc {
	byIP := middleware.IPIdentity(s.cfg.RateLimitPerHour, s.cfg.RateBurst)
	return func(r *http.Request) middleware.CallerIdentity {
		raw := r.Header.Get("X-API-Key")
		if raw == "" || s.keys == nil {
			return byIP(r)
		}
		key, err := s.keys.GetByHash(r.Context(), hashKey(raw))
		if err != nil {
			return byIP(r)
		}
		return middleware.CallerIdentity{
			Key:             "key:" + key.ID,
			RequestsPerHour: key.RateLimitPerHour,
			Burst:           s.cfg.RateBurst,
		}
	}
}
