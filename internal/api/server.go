package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/rs/cors"

	"github.com/whisper/chatroom/internal/metrics"
)

// ServerConfig holds tunable parameters for the HTTP server.
type ServerConfig struct {
	ListenAddr   string        // address to listen on, e.g. ":5000"
	ReadTimeout  time.Duration // timeout for reading a request
	WriteTimeout time.Duration // timeout for writing a response
	CORSOrigins  []string      // allowed browser origins; "*" allows any
}

// DefaultServerConfig returns a ServerConfig with sensible defaults.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		ListenAddr:   ":5000",
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		CORSOrigins:  []string{"*"},
	}
}

// Server serves the room API together with /health and /metrics.
type Server struct {
	config     ServerConfig
	handler    *Handler
	log        *slog.Logger
	httpServer *http.Server
	startedAt  time.Time
}

// NewServer creates a Server for handler.
func NewServer(config ServerConfig, handler *Handler, log *slog.Logger) *Server {
	s := &Server{
		config:    config,
		handler:   handler,
		log:       log.With("component", "server"),
		startedAt: time.Now(),
	}
	s.httpServer = &http.Server{
		Addr:         config.ListenAddr,
		Handler:      s.Handler(),
		ReadTimeout:  config.ReadTimeout,
		WriteTimeout: config.WriteTimeout,
	}
	return s
}

// Handler returns the full route tree wrapped in the CORS policy.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.handler.Register(mux)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.Handle("GET /metrics", metrics.Handler())

	return cors.New(cors.Options{
		AllowedOrigins: s.config.CORSOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete},
		AllowedHeaders: []string{"Content-Type", UserHeader},
	}).Handler(mux)
}

// Start blocks serving HTTP until Shutdown is called.
func (s *Server) Start() error {
	s.log.Info("server listening", "addr", s.config.ListenAddr)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("api: http server error: %w", err)
	}
	return nil
}

// Shutdown stops accepting requests and waits for in-flight ones until ctx
// expires.
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info("shutting down server")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("api: http shutdown: %w", err)
	}
	return nil
}

// handleHealth responds with the server's status and uptime as JSON.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)

	resp := struct {
		Status string `json:"status"`
		Uptime string `json:"uptime"`
	}{
		Status: "ok",
		Uptime: time.Since(s.startedAt).Round(time.Second).String(),
	}

	_ = json.NewEncoder(w).Encode(resp)
}
