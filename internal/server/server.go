// Package server exposes the derived state over HTTP and WebSocket.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/predindexer/internal/server/handler"
	"github.com/alanyoungcy/predindexer/internal/server/middleware"
	"github.com/alanyoungcy/predindexer/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port        int
	CORSOrigins []string
	APIKey      string // if empty, authentication is disabled
}

// Handlers aggregates all HTTP handlers that the server needs to register.
// Diagnostics is nil when no signal bus is configured.
type Handlers struct {
	Health      *handler.HealthHandler
	Markets     *handler.MarketHandler
	Users       *handler.UserHandler
	Orders      *handler.OrderHandler
	Events      *handler.EventHandler
	Status      *handler.StatusHandler
	Diagnostics *handler.DiagnosticHandler
}

// Server is the headless HTTP + WebSocket API for the indexer's derived state.
type Server struct {
	httpServer *http.Server
	mux        *http.ServeMux
	logger     *slog.Logger
}

// NewServer creates a new Server with all routes registered on the ServeMux.
// It wires up middleware (logging, CORS, auth) and attaches the WebSocket hub.
func NewServer(cfg Config, handlers Handlers, wsHub *ws.Hub, logger *slog.Logger) *Server {
	mux := http.NewServeMux()

	// Health check (no auth required).
	mux.HandleFunc("GET /api/health", handlers.Health.HealthCheck)

	// Market endpoints.
	mux.HandleFunc("GET /api/markets", handlers.Markets.ListMarkets)
	mux.HandleFunc("GET /api/markets/{id}", handlers.Markets.GetMarket)

	// User endpoints.
	mux.HandleFunc("GET /api/users", handlers.Users.ListUsers)
	mux.HandleFunc("GET /api/users/{address}", handlers.Users.GetUser)

	// Order endpoints (derived history, read-only).
	mux.HandleFunc("GET /api/orders", handlers.Orders.ListOrders)
	mux.HandleFunc("GET /api/orders/{txHash}/{logIndex}", handlers.Orders.GetOrder)

	// Raw event mirror.
	mux.HandleFunc("GET /api/events", handlers.Events.ListEvents)

	// Indexing status.
	mux.HandleFunc("GET /api/status", handlers.Status.GetStatus)

	// Recorded diagnostics (needs the durable stream behind the signal bus).
	if handlers.Diagnostics != nil {
		mux.HandleFunc("GET /api/diagnostics", handlers.Diagnostics.ListDiagnostics)
	}

	// WebSocket endpoint.
	if wsHub != nil {
		mux.HandleFunc("GET /ws", wsHub.HandleWS)
	}

	// Build the middleware chain.
	var h http.Handler = mux
	h = middleware.Auth(cfg.APIKey)(h)
	h = middleware.Logging(logger)(h)
	h = middleware.CORS(cfg.CORSOrigins)(h)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      h,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return &Server{
		httpServer: srv,
		mux:        mux,
		logger:     logger,
	}
}

// Start begins listening for HTTP requests. It blocks until the server
// encounters an error or is shut down.
func (s *Server) Start() error {
	s.logger.Info("server: starting",
		slog.String("addr", s.httpServer.Addr),
	)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server: listen: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server, waiting for in-flight requests
// to complete within the given context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("server: shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}
