// Package server implements the HTTP server that exposes document chat
// sessions via a JSON API. The server is started by the `docchat serve`
// CLI command.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/54b3r/docchat-go/internal/logging"
	"github.com/54b3r/docchat-go/internal/session"
)

// New constructs a Server from the provided session manager and config.
func New(sessions *session.Manager, cfg *Config) (*Server, error) {
	if sessions == nil {
		return nil, fmt.Errorf("server: session manager must not be nil")
	}
	if cfg == nil {
		cfg = &Config{}
	}
	if cfg.Host == "" {
		cfg.Host = "127.0.0.1"
	}
	if cfg.Port == 0 {
		cfg.Port = 8080
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = 30 * time.Second
	}
	if cfg.WriteTimeout == 0 {
		// Must cover the longest ingest.
		cfg.WriteTimeout = 20 * time.Minute
	}
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 10 * time.Second
	}
	if cfg.AskTimeout == 0 {
		cfg.AskTimeout = 2 * time.Minute
	}
	if cfg.IngestTimeout == 0 {
		cfg.IngestTimeout = 15 * time.Minute
	}
	if cfg.MaxUploadBytes == 0 {
		cfg.MaxUploadBytes = 64 << 20
	}
	if cfg.RateLimit == 0 {
		cfg.RateLimit = defaultRateLimit
	}
	if cfg.RateBurst == 0 {
		cfg.RateBurst = defaultRateBurst
	}
	if cfg.MetricsRegistry == nil {
		cfg.MetricsRegistry = prometheus.DefaultRegisterer
	}
	if cfg.MetricsGatherer == nil {
		cfg.MetricsGatherer = prometheus.DefaultGatherer
	}
	log := cfg.Logger
	if log == nil {
		log = logging.New()
	}

	s := &Server{
		sessions: sessions,
		cfg:      cfg,
		log:      log,
		pingers:  cfg.Pingers,
		metrics:  newServerMetrics(cfg.MetricsRegistry, sessions.Len),
	}

	if cfg.APIKey == "" {
		log.Warn("server: DOCCHAT_API_KEY not set, authentication disabled")
	}

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:      s.routes(newRateLimiter(cfg.RateLimit, cfg.RateBurst)),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}
	return s, nil
}

// routes builds the handler tree: request logging → metrics → mux, with auth
// on session routes and rate limiting on the expensive ones.
func (s *Server) routes(rl *rateLimiter) http.Handler {
	protect := func(h http.HandlerFunc) http.Handler {
		return authMiddleware(s.cfg.APIKey, h)
	}
	limited := func(h http.HandlerFunc) http.Handler {
		return authMiddleware(s.cfg.APIKey, rl.middleware(h))
	}

	mux := http.NewServeMux()
	mux.Handle("POST /api/sessions", protect(s.handleCreateSession))
	mux.Handle("GET /api/sessions/{id}", protect(s.handleGetSession))
	mux.Handle("DELETE /api/sessions/{id}", protect(s.handleDeleteSession))
	mux.Handle("POST /api/sessions/{id}/ingest", limited(s.handleIngest))
	mux.Handle("POST /api/sessions/{id}/upload", limited(s.handleUpload))
	mux.Handle("POST /api/sessions/{id}/ask", limited(s.handleAsk))
	mux.Handle("GET /api/sessions/{id}/history", protect(s.handleHistory))
	mux.Handle("DELETE /api/sessions/{id}/history", protect(s.handleClearHistory))
	mux.HandleFunc("GET /api/health", s.handleHealth)
	mux.HandleFunc("GET /api/ready", s.handleReady)
	mux.Handle("GET /metrics", promhttp.HandlerFor(s.cfg.MetricsGatherer, promhttp.HandlerOpts{}))

	return requestLogger(s.log, s.metrics.middleware(mux))
}

// Handler returns the fully wrapped HTTP handler.
func (s *Server) Handler() http.Handler { return s.httpServer.Handler }

// Start begins listening and serving HTTP requests. It blocks until the
// context is cancelled, then performs a graceful shutdown and releases every
// session's index.
func (s *Server) Start(ctx context.Context) error {
	errCh := make(chan error, 1)

	go func() {
		s.log.Info("server: listening", slog.String("addr", "http://"+s.httpServer.Addr))
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server: listen error: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server: graceful shutdown failed: %w", err)
		}
		if err := s.sessions.Close(shutdownCtx); err != nil {
			s.log.Warn("server: closing sessions", slog.Any("error", err))
		}
		return nil
	}
}

// handleHealth handles GET /api/health for liveness checks.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(map[string]string{"status": "ok"}); err != nil {
		logging.FromContext(r.Context()).Error("health encode error", slog.Any("error", err))
	}
}
