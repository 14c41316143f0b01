// Package httpserver runs the short-lived local servers the CLI needs for
// the OAuth callback and the metrics endpoint.
package httpserver

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"
)

// Server wraps the http.Server with sensible defaults.
type Server struct {
	inner    *http.Server
	listener net.Listener
}

// New binds addr immediately so Addr is known before serving. An empty addr
// picks a free loopback port.
func New(addr string, handler http.Handler) (*Server, error) {
	if addr == "" {
		addr = "127.0.0.1:0"
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen on %s: %w", addr, err)
	}
	return &Server{
		listener: ln,
		inner: &http.Server{
			Handler:           handler,
			ReadHeaderTimeout: 5 * time.Second,
			WriteTimeout:      10 * time.Second,
		},
	}, nil
}

// Addr returns the bound host:port.
func (s *Server) Addr() string {
	return s.listener.Addr().String()
}

// URL returns an http URL for path on the bound address.
func (s *Server) URL(path string) string {
	return "http://" + s.Addr() + path
}

// Start begins serving HTTP traffic. It returns nil after Shutdown.
func (s *Server) Start() error {
	if err := s.inner.Serve(s.listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully terminates the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.inner.Shutdown(ctx)
}
