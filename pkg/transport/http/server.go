package http

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/rhuss/colloquy/pkg/transport"
)

// Server runs the adapter on an http.Server and shuts it down gracefully.
type Server struct {
	httpServer *http.Server
	config     ServerConfig
}

// ServerConfig holds configuration for the server.
type ServerConfig struct {
	Addr              string
	MaxBodySize       int64
	ReadHeaderTimeout time.Duration
	ShutdownTimeout   time.Duration
	Auth              func(http.Handler) http.Handler
	Logger            *slog.Logger
}

// DefaultServerConfig returns a ServerConfig with defaults.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Addr:              ":8080",
		MaxBodySize:       DefaultConfig().MaxBodySize,
		ReadHeaderTimeout: 10 * time.Second,
		ShutdownTimeout:   30 * time.Second,
		Logger:            slog.Default(),
	}
}

// ServerOption configures a Server.
type ServerOption func(*ServerConfig)

// WithAddr sets the listen address.
func WithAddr(addr string) ServerOption {
	return func(c *ServerConfig) { c.Addr = addr }
}

// WithMaxBodySize sets the maximum request body size.
func WithMaxBodySize(n int64) ServerOption {
	return func(c *ServerConfig) { c.MaxBodySize = n }
}

// WithReadHeaderTimeout bounds how long a client may take to send headers.
func WithReadHeaderTimeout(d time.Duration) ServerOption {
	return func(c *ServerConfig) { c.ReadHeaderTimeout = d }
}

// WithShutdownTimeout sets the graceful shutdown deadline. Open streams are
// cut when it expires.
func WithShutdownTimeout(d time.Duration) ServerOption {
	return func(c *ServerConfig) { c.ShutdownTimeout = d }
}

// WithAuth sets the middleware that authenticates API routes.
func WithAuth(mw func(http.Handler) http.Handler) ServerOption {
	return func(c *ServerConfig) { c.Auth = mw }
}

// WithLogger sets the logger of the exchange logging middleware.
func WithLogger(l *slog.Logger) ServerOption {
	return func(c *ServerConfig) { c.Logger = l }
}

// NewServer creates a server for svc. Recovery, request id and logging
// middleware wrap the chat service.
func NewServer(svc Services, opts ...ServerOption) *Server {
	cfg := DefaultServerConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	adapter := NewAdapter(svc, Config{MaxBodySize: cfg.MaxBodySize, Auth: cfg.Auth},
		transport.Recovery(),
		transport.RequestID(),
		transport.Logging(cfg.Logger),
	)

	return &Server{
		config: cfg,
		// No write timeout: streams last as long as the vendor takes.
		httpServer: &http.Server{
			Addr:              cfg.Addr,
			Handler:           adapter.Handler(),
			ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		},
	}
}

// Handler returns the server's root handler.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Run serves until ctx is done, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.config.Addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve is Run on an existing listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	errCh := make(chan error, 1)
	go func() {
		slog.Info("server starting", "addr", ln.Addr().String())
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		slog.Info("shutdown signal received")
	}
	return s.shutdown()
}

func (s *Server) shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
	defer cancel()

	slog.Info("shutting down gracefully", "timeout", s.config.ShutdownTimeout)
	if err := s.httpServer.Shutdown(ctx); err != nil {
		slog.Error("graceful shutdown incomplete, closing connections", "error", err)
		s.httpServer.Close()
		return err
	}
	slog.Info("server stopped")
	return nil
}
