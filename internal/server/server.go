package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/opinionmkt/opiniond/internal/crypto"
	"github.com/opinionmkt/opiniond/internal/domain"
	"github.com/opinionmkt/opiniond/internal/server/handler"
	"github.com/opinionmkt/opiniond/internal/server/middleware"
	"github.com/opinionmkt/opiniond/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port        int
	CORSOrigins []string
	APIKey      string // if empty, API-key authentication is disabled

	// RequireWalletSig makes every mutating request prove control of the
	// caller address with an EIP-191 signature over the body.
	RequireWalletSig bool

	// AdminAuth secures the /api/admin and platform-withdraw routes with
	// HMAC-signed requests. Nil disables the extra check.
	AdminAuth *crypto.RequestAuth

	// RateLimit bounds requests per client IP per window. Zero disables.
	RateLimit       int
	RateLimitWindow time.Duration
}

// Handlers aggregates all HTTP handlers that the server needs to register.
type Handlers struct {
	Health   *handler.HealthHandler
	Status   *handler.StatusHandler
	Opinions *handler.OpinionHandler
	Pools    *handler.PoolHandler
	Fees     *handler.FeeHandler
	Admin    *handler.AdminHandler
}

// Server is the HTTP + WebSocket API server for the opinion market engine.
type Server struct {
	httpServer *http.Server
	mux        *http.ServeMux
	logger     *slog.Logger
}

// NewServer creates a Server with all routes registered on the ServeMux.
// It wires up middleware (logging, CORS, rate limiting, auth) and attaches
// the WebSocket hub. limiter may be nil to disable rate limiting.
func NewServer(cfg Config, handlers Handlers, wsHub *ws.Hub, limiter domain.RateLimiter, logger *slog.Logger) *Server {
	mux := http.NewServeMux()

	// --- Register routes ---

	// Health and status (no auth required).
	mux.HandleFunc("GET /api/health", handlers.Health.HealthCheck)
	mux.HandleFunc("GET /api/status", handlers.Status.GetStatus)

	// Opinion endpoints.
	mux.HandleFunc("GET /api/opinions", handlers.Opinions.ListOpinions)
	mux.HandleFunc("POST /api/opinions", handlers.Opinions.CreateOpinion)
	mux.HandleFunc("GET /api/opinions/{id}", handlers.Opinions.GetOpinion)
	mux.HandleFunc("GET /api/opinions/{id}/history", handlers.Opinions.GetHistory)
	mux.HandleFunc("POST /api/opinions/{id}/answer", handlers.Opinions.SubmitAnswer)
	mux.HandleFunc("POST /api/opinions/{id}/sale", handlers.Opinions.ListForSale)
	mux.HandleFunc("POST /api/opinions/{id}/buy", handlers.Opinions.BuyQuestion)
	mux.HandleFunc("GET /api/categories", handlers.Opinions.GetCategories)

	// Pool endpoints.
	mux.HandleFunc("GET /api/pools", handlers.Pools.ListPools)
	mux.HandleFunc("POST /api/pools", handlers.Pools.CreatePool)
	mux.HandleFunc("GET /api/pools/{id}", handlers.Pools.GetPool)
	mux.HandleFunc("GET /api/pools/{id}/contributions", handlers.Pools.GetContributors)
	mux.HandleFunc("POST /api/pools/{id}/contribute", handlers.Pools.Contribute)
	mux.HandleFunc("POST /api/pools/{id}/withdraw", handlers.Pools.WithdrawExpired)
	mux.HandleFunc("POST /api/pools/{id}/early-withdraw", handlers.Pools.EarlyWithdraw)

	// Fee ledger endpoints.
	mux.HandleFunc("GET /api/fees/balances", handlers.Fees.ListBalances)
	mux.HandleFunc("GET /api/fees/balances/{address}", handlers.Fees.GetBalance)
	mux.HandleFunc("GET /api/fees/totals", handlers.Fees.GetTotals)
	mux.HandleFunc("POST /api/fees/claim", handlers.Fees.Claim)

	// Privileged endpoints behind the admin HMAC check.
	adminAuth := middleware.AdminAuth(cfg.AdminAuth)
	admin := func(h http.HandlerFunc) http.Handler { return adminAuth(h) }
	mux.Handle("POST /api/fees/platform/withdraw", admin(handlers.Fees.WithdrawPlatform))
	mux.Handle("POST /api/admin/pause", admin(handlers.Admin.Pause))
	mux.Handle("POST /api/admin/unpause", admin(handlers.Admin.Unpause))
	mux.Handle("GET /api/admin/params", admin(handlers.Admin.GetParams))
	mux.Handle("PUT /api/admin/params", admin(handlers.Admin.SetParams))
	mux.Handle("POST /api/admin/roles/grant", admin(handlers.Admin.GrantRole))
	mux.Handle("POST /api/admin/roles/revoke", admin(handlers.Admin.RevokeRole))
	mux.Handle("POST /api/admin/opinions/{id}/moderate", admin(handlers.Admin.ModerateAnswer))
	mux.Handle("POST /api/admin/opinions/{id}/active", admin(handlers.Admin.SetActive))

	// WebSocket endpoint.
	if wsHub != nil {
		mux.HandleFunc("GET /ws", wsHub.HandleWS)
	}

	// Build the middleware chain.
	var h http.Handler = mux

	// Wallet signature check on mutating requests.
	h = middleware.WalletAuth(cfg.RequireWalletSig)(h)

	// Apply auth middleware (skips if APIKey is empty).
	h = middleware.Auth(cfg.APIKey)(h)

	// Per-IP rate limiting.
	if limiter != nil && cfg.RateLimit > 0 {
		h = middleware.RateLimit(limiter, cfg.RateLimit, cfg.RateLimitWindow)(h)
	}

	// Apply request logging middleware.
	h = middleware.Logging(logger)(h)

	// Apply CORS middleware.
	h = corsMiddleware(cfg.CORSOrigins)(h)

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

// corsMiddleware returns middleware that sets CORS headers for the allowed
// origins. If no origins are specified, it defaults to allowing all origins.
func corsMiddleware(allowedOrigins []string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")

			if origin != "" {
				allowed := len(allowedOrigins) == 0 // allow all if none specified
				for _, o := range allowedOrigins {
					if strings.EqualFold(o, "*") || strings.EqualFold(o, origin) {
						allowed = true
						break
					}
				}

				if allowed {
					w.Header().Set("Access-Control-Allow-Origin", origin)
					w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
					w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-API-Key, X-Wallet-Timestamp, X-Wallet-Signature, X-Admin-Key, X-Admin-Timestamp, X-Admin-Signature")
					w.Header().Set("Access-Control-Max-Age", "86400")
				}
			}

			// Handle preflight requests.
			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
