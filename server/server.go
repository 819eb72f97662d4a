// Package server exposes the card matching store over HTTP: image
// recognition, metadata search, price lookups and database management.
package server

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	cardex "github.com/cardexio/cardex"
	"github.com/cardexio/cardex/embed"
	"github.com/cardexio/cardex/observability"
	"github.com/cardexio/cardex/price"
)

// Config holds configuration for the HTTP server.
type Config struct {
	Addr            string
	MaxUploadBytes  int64
	ShutdownTimeout time.Duration
	EnableMetrics   bool
	Logger          *slog.Logger
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Addr:            ":8080",
		MaxUploadBytes:  16 << 20, // 16 MiB
		ShutdownTimeout: 30 * time.Second,
		EnableMetrics:   true,
		Logger:          slog.Default(),
	}
}

// Option configures a Server.
type Option func(*Server)

// WithAddr sets the listen address.
func WithAddr(addr string) Option {
	return func(s *Server) { s.config.Addr = addr }
}

// WithMaxUploadBytes sets the maximum request body size for image uploads.
func WithMaxUploadBytes(n int64) Option {
	return func(s *Server) { s.config.MaxUploadBytes = n }
}

// WithShutdownTimeout sets the graceful shutdown deadline.
func WithShutdownTimeout(d time.Duration) Option {
	return func(s *Server) { s.config.ShutdownTimeout = d }
}

// WithoutMetrics disables the /metrics endpoint and per-route metrics.
func WithoutMetrics() Option {
	return func(s *Server) { s.config.EnableMetrics = false }
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) { s.config.Logger = l; s.logger = l }
}

// Server wraps an http.Server around the store handlers and manages the
// full lifecycle including startup and graceful shutdown.
type Server struct {
	httpServer *http.Server
	config     Config
	logger     *slog.Logger
}

// New creates an HTTP server over the store. embedder and prices are
// optional: without an embedder, recognition degrades to hash-only
// matching; without a price client, responses omit price enrichment.
func New(db *cardex.Cardex, embedder embed.Embedder, prices *price.Client, opts ...Option) *Server {
	s := &Server{
		config: DefaultConfig(),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.config.Logger != nil {
		s.logger = s.config.Logger
	}

	h := &handler{
		db:        db,
		embedder:  embedder,
		prices:    prices,
		logger:    s.logger,
		maxUpload: s.config.MaxUploadBytes,
	}

	mux := http.NewServeMux()
	s.route(mux, "GET /health", "/health", h.health)
	s.route(mux, "POST /api/recognize", "/api/recognize", h.recognize)
	s.route(mux, "POST /api/identify", "/api/identify", h.identify)
	s.route(mux, "GET /api/search", "/api/search", h.search)
	s.route(mux, "GET /api/price/{productID}", "/api/price", h.price)
	s.route(mux, "POST /api/database/add", "/api/database/add", h.databaseAdd)
	s.route(mux, "GET /api/database/stats", "/api/database/stats", h.databaseStats)
	if s.config.EnableMetrics {
		mux.Handle("GET /metrics", promhttp.Handler())
	}

	s.httpServer = &http.Server{
		Addr:              s.config.Addr,
		Handler:           recovery(s.logger, logging(s.logger, mux)),
		ReadHeaderTimeout: 10 * time.Second,
	}

	return s
}

// route registers a handler with per-route metrics when enabled. route is
// the metrics label, kept free of path parameters.
func (s *Server) route(mux *http.ServeMux, pattern, route string, fn http.HandlerFunc) {
	var h http.Handler = fn
	if s.config.EnableMetrics {
		h = observability.MetricsMiddleware(route, h)
	}
	mux.Handle(pattern, h)
}

// ListenAndServe starts the server and blocks until a shutdown signal
// (SIGINT or SIGTERM) is received. It then gracefully shuts down, waiting
// for in-flight requests to complete within the configured timeout.
func (s *Server) ListenAndServe() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return s.listenAndServeWithContext(ctx)
}

func (s *Server) listenAndServeWithContext(ctx context.Context) error {
	errCh := make(chan error, 1)

	go func() {
		s.logger.Info("server starting", slog.String("addr", s.config.Addr))
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		s.logger.Info("shutdown signal received")
	}

	return s.shutdown()
}

// ServeOn starts the server on the given listener. Used for testing.
func (s *Server) ServeOn(ln net.Listener) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	return s.shutdown()
}

func (s *Server) shutdown() error {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
	defer cancel()

	s.logger.Info("shutting down gracefully", slog.Duration("timeout", s.config.ShutdownTimeout))
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		s.logger.Error("shutdown error", slog.String("error", err.Error()))
		return err
	}
	s.logger.Info("server stopped")
	return nil
}

// Shutdown gracefully shuts down the server with the given context.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// Handler returns the server's root handler. Used for testing.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}
