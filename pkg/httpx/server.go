// Package httpx holds the HTTP plumbing shared by bizcast binaries: a server
// with graceful shutdown, JSON request and response helpers, and middleware.
package httpx

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"
)

// Server wraps http.Server with graceful shutdown and optional TLS.
type Server struct {
	http   *http.Server
	logger *slog.Logger
}

// NewServer creates a server for addr. A nil logger falls back to
// slog.Default.
func NewServer(addr string, handler http.Handler, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		http: &http.Server{
			Addr:              addr,
			Handler:           handler,
			ReadHeaderTimeout: 10 * time.Second,
			ReadTimeout:       30 * time.Second,
			// Explicit training requests can run for minutes.
			WriteTimeout: 5 * time.Minute,
			IdleTimeout:  60 * time.Second,
			ErrorLog:     slog.NewLogLogger(logger.Handler(), slog.LevelWarn),
		},
		logger: logger,
	}
}

// SetTLSConfig switches the server to HTTPS. The config must carry the
// server certificate. Call before Start or Serve.
func (s *Server) SetTLSConfig(config *tls.Config) {
	s.http.TLSConfig = config
}

// Start listens on the configured address and serves until Stop is called.
func (s *Server) Start() error {
	l, err := net.Listen("tcp", s.http.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.http.Addr, err)
	}
	return s.Serve(l)
}

// Serve accepts connections on l until Stop is called. A graceful stop
// returns nil.
func (s *Server) Serve(l net.Listener) error {
	scheme := "http"
	if s.http.TLSConfig != nil {
		scheme = "https"
		l = tls.NewListener(l, s.http.TLSConfig)
	}
	s.logger.Info("serving API", "addr", l.Addr().String(), "scheme", scheme)

	if err := s.http.Serve(l); !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serve %s: %w", scheme, err)
	}
	return nil
}

// Stop drains in-flight requests for up to timeout, then closes the server.
func (s *Server) Stop(timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := s.http.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	s.logger.Info("API server stopped")
	return nil
}
