// Package api is the HTTP surface: session CRUD, the SSE message endpoint and
// health probes. TLS termination and authentication live in the reverse proxy
// in front of this server.
package api

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/zavodtech/yaroslav/internal/agent"
	"github.com/zavodtech/yaroslav/internal/gpu"
	"github.com/zavodtech/yaroslav/internal/session"
)

// ServerConfig contains configuration for creating the API server.
type ServerConfig struct {
	Logger      *slog.Logger
	Loop        *agent.Loop    // Required
	Store       session.Store  // Required
	Scheduler   *gpu.Scheduler // Optional: nil omits residency info from /health
	Pool        *pgxpool.Pool  // Optional: nil disables the DB check in /ready
	CORSOrigins []string       // Allowed origins for CORS
	TrustProxy  bool           // Trust X-Real-IP/X-Forwarded-For headers
	RateBurst   int            // Rate limiter burst size per IP (0 = default 60)
}

// Server is the JSON/SSE API HTTP server.
type Server struct {
	mux *http.ServeMux
}

// NewServer creates the server with all routes configured.
func NewServer(cfg ServerConfig) (*Server, error) {
	if cfg.Loop == nil {
		return nil, errors.New("agent loop is required")
	}
	if cfg.Store == nil {
		return nil, errors.New("session store is required")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	sh := &sessionHandler{store: cfg.Store, logger: logger}
	ch := &chatHandler{
		logger: logger,
		loop:   cfg.Loop,
		store:  cfg.Store,
		latch:  newTurnLatch(),
	}

	mux := http.NewServeMux()

	// Session CRUD
	mux.HandleFunc("GET /api/v1/sessions", sh.list)
	mux.HandleFunc("POST /api/v1/sessions", sh.create)
	mux.HandleFunc("GET /api/v1/sessions/{id}", sh.get)
	mux.HandleFunc("PATCH /api/v1/sessions/{id}", sh.rename)
	mux.HandleFunc("DELETE /api/v1/sessions/{id}", sh.delete)
	mux.HandleFunc("GET /api/v1/sessions/{id}/messages", sh.messages)

	// Turn execution (SSE)
	mux.HandleFunc("POST /api/v1/sessions/{id}/message", ch.message)

	burst := cfg.RateBurst
	if burst <= 0 {
		burst = 60
	}
	rl := newRateLimiter(1.0, burst)

	// Middleware stack (outermost first):
	//   Recovery → RequestID → Logging → CORS → RateLimit → Routes
	// RequestID sits before Logging so request_id is available in log attributes.
	// CORS sits before RateLimit so preflight OPTIONS gets proper CORS headers.
	var handler http.Handler = mux
	handler = rateLimitMiddleware(rl, cfg.TrustProxy, logger)(handler)
	handler = corsMiddleware(cfg.CORSOrigins)(handler)
	handler = loggingMiddleware(logger)(handler)
	handler = requestIDMiddleware()(handler)
	handler = recoveryMiddleware(logger)(handler)

	// Health probes bypass the middleware stack.
	topMux := http.NewServeMux()
	topMux.Handle("GET /health", health(cfg.Scheduler))
	topMux.Handle("GET /ready", readiness(cfg.Pool))
	topMux.Handle("/", handler)

	return &Server{mux: topMux}, nil
}

// Handler returns the server as an http.Handler.
func (s *Server) Handler() http.Handler {
	return s.mux
}
