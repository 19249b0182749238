package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/zjrosen/repoloop/internal/log"
)

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Addr    string
	Handler *Handler
}

// Server serves the API on a listener bound at construction.
type Server struct {
	http     *http.Server
	listener net.Listener
}

// NewServer binds addr. Use port 0 for an ephemeral port.
func NewServer(cfg ServerConfig) (*Server, error) {
	if cfg.Handler == nil {
		return nil, errors.New("api server requires a handler")
	}
	ln, err := net.Listen("tcp", cfg.Addr)
	if err != nil {
		return nil, fmt.Errorf("listen on %s: %w", cfg.Addr, err)
	}
	// Event streams never go idle, so request contexts are cancelled as
	// soon as shutdown begins.
	base, cancel := context.WithCancel(context.Background())
	srv := &http.Server{
		Handler:           cfg.Handler.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return base },
	}
	srv.RegisterOnShutdown(cancel)

	return &Server{listener: ln, http: srv}, nil
}

// Start serves until Stop is called. It returns nil after a clean stop.
func (s *Server) Start() error {
	log.Info(log.CatHTTP, "API server listening", "addr", s.Addr())
	if err := s.http.Serve(s.listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Stop gracefully shuts the server down.
func (s *Server) Stop(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

// Addr returns the bound address.
func (s *Server) Addr() string {
	return s.listener.Addr().String()
}

// Port returns the bound TCP port.
func (s *Server) Port() int {
	if addr, ok := s.listener.Addr().(*net.TCPAddr); ok {
		return addr.Port
	}
	return 0
}

// URL returns the http base URL of the bound address.
func (s *Server) URL() string {
	return "http://" + s.Addr()
}
