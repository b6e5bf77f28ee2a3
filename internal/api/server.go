// Package api exposes the administrative HTTP surface and the price stream
// WebSocket endpoint.
package api

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"smartstock/internal/logging"
	"smartstock/internal/models"
	"smartstock/internal/stream"
)

// RuleStore is the alert engine as seen by administrators.
type RuleStore interface {
	AddRule(symbol string, op models.Operator, threshold float64, description string, opts ...stream.RuleOption) models.AlertRule
	ListRules() []models.AlertRule
	RecentEvents() []models.AlertEvent
}

// Registry is the subscriber set the WebSocket endpoint joins.
type Registry interface {
	Register(sub stream.Subscriber)
	Unregister(sub stream.Subscriber)
	Count() int
}

// Deps are the components the server reads from.
type Deps struct {
	Rules        RuleStore
	Hub          Registry
	CacheBackend func() string
	Notifier     interface{ Enabled() bool }
	WebexEnabled bool
	Status       func(ctx context.Context) map[string]interface{} // extra health fields, may be nil
}

// Server serves the HTTP routes.
type Server struct {
	addr     string
	deps     Deps
	logger   zerolog.Logger
	upgrader websocket.Upgrader
	server   *http.Server
}

// NewServer creates a server listening on addr.
func NewServer(addr string, deps Deps, logger zerolog.Logger) *Server {
	return &Server{
		addr:   addr,
		deps:   deps,
		logger: logging.WithComponent(logger, "api"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

// Handler returns the routed handler wrapped in CORS.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /alerts/rules", s.handleListRules)
	mux.HandleFunc("POST /alerts/rules", s.handleAddRule)
	mux.HandleFunc("GET /alerts/events", s.handleEvents)
	mux.HandleFunc("GET /ws/prices", s.handlePrices)

	return withCORS(mux)
}

// Start listens and serves until Shutdown. Request contexts derive from ctx,
// so cancelling it also ends open WebSocket streams.
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:              s.addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	s.logger.Info().Str("addr", s.addr).Msg("Starting HTTP server")
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// withCORS allows any origin, method and header.
func withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("Access-Control-Allow-Origin", "*")
		h.Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		h.Set("Access-Control-Allow-Headers", "*")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
