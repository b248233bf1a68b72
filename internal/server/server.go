// Package server exposes the poll engine over HTTP and WebSocket.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/quadpoll/internal/domain"
	"github.com/alanyoungcy/quadpoll/internal/server/handler"
	"github.com/alanyoungcy/quadpoll/internal/server/middleware"
	"github.com/alanyoungcy/quadpoll/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port        int
	CORSOrigins []string
	// APIKey protects the admin routes; empty disables them.
	APIKey            string
	RequireSignatures bool
	SignatureMaxSkew  time.Duration
	// Nonces records accepted signed-request nonces.
	Nonces     domain.LockManager
	RateLimit  int
	RateWindow time.Duration
}

// Handlers aggregates the HTTP handlers the server registers. Faucet is
// optional.
type Handlers struct {
	Health     *handler.HealthHandler
	Polls      *handler.PollHandler
	Reputation *handler.ReputationHandler
	Audit      *handler.AuditHandler
	Faucet     *handler.FaucetHandler
}

// Server is the HTTP + WebSocket API server.
type Server struct {
	httpServer *http.Server
	handler    http.Handler
	logger     *slog.Logger
}

// NewServer registers every route and wraps the mux in the middleware
// chain. limiter and wsHub may be nil.
func NewServer(cfg Config, handlers Handlers, wsHub *ws.Hub, limiter domain.RateLimiter, logger *slog.Logger) *Server {
	logger = logger.With(slog.String("component", "server"))
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/health", handlers.Health.HealthCheck)

	p := handlers.Polls
	mux.HandleFunc("GET /api/polls", p.ListPolls)
	mux.HandleFunc("POST /api/polls", p.CreatePoll)
	mux.HandleFunc("GET /api/polls/{id}", p.GetPoll)
	mux.HandleFunc("GET /api/polls/{id}/results", p.GetResults)
	mux.HandleFunc("GET /api/polls/{id}/prices", p.GetPrices)
	mux.HandleFunc("GET /api/polls/{id}/prices/{address}", p.GetAdjustedPrices)
	mux.HandleFunc("GET /api/polls/{id}/participants/{address}", p.GetParticipant)
	mux.HandleFunc("GET /api/polls/{id}/winner", p.GetWinner)
	mux.HandleFunc("POST /api/polls/{id}/vote", p.Vote)
	mux.HandleFunc("POST /api/polls/{id}/buy", p.Buy)
	mux.HandleFunc("POST /api/polls/{id}/sell", p.Sell)
	mux.HandleFunc("POST /api/polls/{id}/claim", p.Claim)

	mux.HandleFunc("GET /api/reputation/{address}", handlers.Reputation.GetReputation)

	admin := middleware.Auth(cfg.APIKey)
	mux.Handle("GET /api/audit", admin(http.HandlerFunc(handlers.Audit.ListAudit)))

	if handlers.Faucet != nil {
		mux.HandleFunc("POST /api/dev/faucet", handlers.Faucet.Drip)
	}
	if wsHub != nil {
		mux.HandleFunc("GET /ws", wsHub.HandleWS)
	}

	// Outermost first: CORS, logging, rate limit, identity.
	var h http.Handler = mux
	h = middleware.Identity(middleware.IdentityConfig{
		RequireSignatures: cfg.RequireSignatures,
		MaxSkew:           cfg.SignatureMaxSkew,
		Nonces:            cfg.Nonces,
	})(h)
	h = middleware.RateLimit(limiter, cfg.RateLimit, cfg.RateWindow, logger)(h)
	h = middleware.Logging(logger)(h)
	h = middleware.CORS(cfg.CORSOrigins)(h)

	return &Server{
		httpServer: &http.Server{
			Addr:         fmt.Sprintf(":%d", cfg.Port),
			Handler:      h,
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 30 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		handler: h,
		logger:  logger,
	}
}

// Handler returns the fully wrapped root handler.
func (s *Server) Handler() http.Handler { return s.handler }

// Start begins listening for HTTP requests. It blocks until the server
// encounters an error or is shut down.
func (s *Server) Start() error {
	s.logger.Info("server: starting", slog.String("addr", s.httpServer.Addr))
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
