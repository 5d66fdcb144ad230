// Package server is the Control API shim (spec §4.4/§6): a thin HTTP
// layer that forwards JSON requests to the Analysis Service and
// returns its `{success, ...}` envelopes.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/bobmcallan/piiscan/internal/common"
	"github.com/bobmcallan/piiscan/internal/service"
)

// Server wraps the HTTP server and the Analysis Service it forwards to.
type Server struct {
	service *service.Service
	server  *http.Server
	logger  *common.Logger
}

// New creates a Control API server bound to host:port.
func New(svc *service.Service, logger *common.Logger, host string, port int) *Server {
	s := &Server{service: svc, logger: logger}

	mux := http.NewServeMux()
	s.registerRoutes(mux)
	handler := applyMiddleware(mux, logger)

	s.server = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", host, port),
		Handler:      handler,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 300 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

// Handler returns the HTTP handler for testing.
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

func (s *Server) registerRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/version", s.handleVersion)
	mux.HandleFunc("/start", s.handleStart)
	mux.HandleFunc("/stop", s.handleStop)
	mux.HandleFunc("/clear", s.handleClear)
	mux.HandleFunc("/status", s.handleStatus)
	mux.HandleFunc("/export", s.handleExport)
}

// Start starts the HTTP server (blocking).
func (s *Server) Start() error {
	s.logger.Info().Str("addr", s.server.Addr).Msg("starting control API server")
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}
