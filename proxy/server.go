// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package proxy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/bureau-foundation/llmtap/lib/clock"
)

// Server is the capture proxy. It listens on a loopback TCP address.
type Server struct {
	listenAddress string
	routes        []Route
	httpServer    *http.Server
	logger        *slog.Logger

	mu       sync.Mutex
	listener net.Listener
}

// ServerConfig holds configuration for creating a new Server.
type ServerConfig struct {
	// ListenAddress is the TCP address to listen on. Port 0 picks an
	// ephemeral port; see [Server.Addr]. Default: 127.0.0.1:0
	ListenAddress string

	// Routes are the upstream APIs to mount. Default: [DefaultRoutes].
	Routes []Route

	// Transport carries every forwarded request, normally a capture
	// tap. Nil uses [NewTransport].
	Transport http.RoundTripper

	Clock  clock.Clock
	Logger *slog.Logger
}

// NewServer creates a new proxy server.
func NewServer(config ServerConfig) (*Server, error) {
	if config.ListenAddress == "" {
		config.ListenAddress = "127.0.0.1:0"
	}
	if config.Routes == nil {
		config.Routes = DefaultRoutes
	}
	if config.Transport == nil {
		config.Transport = NewTransport()
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.Write([]byte("ok\n"))
	})

	seen := make(map[string]bool, len(config.Routes))
	for _, route := range config.Routes {
		if err := route.validate(); err != nil {
			return nil, err
		}
		if seen[route.Name] {
			return nil, fmt.Errorf("duplicate route %q", route.Name)
		}
		seen[route.Name] = true

		service, err := NewService(ServiceConfig{
			Name:      route.Name,
			Upstream:  route.Upstream,
			Transport: config.Transport,
			Clock:     config.Clock,
			Logger:    logger,
		})
		if err != nil {
			return nil, err
		}
		prefix := "/" + route.Name
		mux.Handle(prefix+"/", http.StripPrefix(prefix, service))
	}

	return &Server{
		listenAddress: config.ListenAddress,
		routes:        config.Routes,
		httpServer: &http.Server{
			Handler:           mux,
			ReadHeaderTimeout: 30 * time.Second,
			// No write timeout: generation streams run for minutes.
		},
		logger: logger,
	}, nil
}

// Handler returns the proxy's HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start begins listening and serving in the background.
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return errors.New("proxy server already started")
	}

	listener, err := net.Listen("tcp", s.listenAddress)
	if err != nil {
		return fmt.Errorf("failed to listen on TCP %s: %w", s.listenAddress, err)
	}
	s.listener = listener
	s.logger.Info("capture proxy started", "address", listener.Addr().String())

	go func() {
		if err := s.httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("proxy server error", "error", err)
		}
	}()
	return nil
}

// Addr returns the address the server listens on, or "" before
// Start.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// BaseURL returns the proxy URL of a route, or "" before Start.
func (s *Server) BaseURL(route string) string {
	address := s.Addr()
	if address == "" {
		return ""
	}
	return "http://" + address + "/" + route
}

// Environment returns NAME=value pairs that point LLM tools at the
// proxy, one per route with an environment variable.
func (s *Server) Environment() []string {
	var environment []string
	for _, route := range s.routes {
		if route.EnvVar == "" {
			continue
		}
		environment = append(environment, route.EnvVar+"="+s.BaseURL(route.Name)+route.EnvSuffix)
	}
	return environment
}

// Shutdown stops accepting connections and waits for in-flight
// requests (including streams) until ctx is done.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down capture proxy")
	return s.httpServer.Shutdown(ctx)
}
