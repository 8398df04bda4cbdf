// Package api exposes the HTTP surface: authentication, feed management,
// question answering, and chat history, behind a shared middleware stack.
package api

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pautahq/newsbot/internal/auth"
)

// ServerConfig contains the dependencies for building the API server.
type ServerConfig struct {
	Logger      *slog.Logger
	Auth        *auth.Service // Required
	Feeds       FeedStore     // Required
	Refresher   Refresher     // Required
	Engine      Answerer      // Required
	History     HistoryStore  // Required
	Pool        *pgxpool.Pool // Optional: nil fails /ready
	CORSOrigins []string      // Allowed origins for CORS
	IsDev       bool          // Skips HSTS
	TrustProxy  bool          // Trust X-Real-IP/X-Forwarded-For headers
	RateBurst   int           // Rate limiter burst size per IP (0 = default 60)
}

// Server is the JSON API HTTP server.
type Server struct {
	mux *http.ServeMux
}

// NewServer creates the API server with all routes configured.
func NewServer(cfg ServerConfig) (*Server, error) {
	if cfg.Auth == nil {
		return nil, errors.New("auth service is required")
	}
	if cfg.Feeds == nil {
		return nil, errors.New("feed store is required")
	}
	if cfg.Refresher == nil {
		return nil, errors.New("refresher is required")
	}
	if cfg.Engine == nil {
		return nil, errors.New("answer engine is required")
	}
	if cfg.History == nil {
		return nil, errors.New("history store is required")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	ah := &authHandler{service: cfg.Auth, logger: logger}
	fh := &feedHandler{store: cfg.Feeds, refresher: cfg.Refresher, logger: logger}
	ch := &chatHandler{engine: cfg.Engine, history: cfg.History, logger: logger}

	mux := http.NewServeMux()

	// Accounts and tokens (the only routes exempt from bearer auth)
	mux.HandleFunc("POST /api/auth/signup", ah.signup)
	mux.HandleFunc("POST /api/auth/token", ah.token)

	// Feed management
	mux.HandleFunc("GET /api/feeds", fh.list)
	mux.HandleFunc("POST /api/feeds", fh.create)
	mux.HandleFunc("GET /api/feeds/{id}", fh.get)
	mux.HandleFunc("DELETE /api/feeds/{id}", fh.delete)
	mux.HandleFunc("GET /api/feeds/{id}/articles", fh.articles)
	mux.HandleFunc("POST /api/feeds/{id}/refresh", fh.refresh)

	// Question answering
	mux.HandleFunc("POST /api/chat", ch.ask)
	mux.HandleFunc("POST /api/chat/stream", ch.stream)
	mux.HandleFunc("GET /api/chat/history", ch.listHistory)

	// Rate limiter: per-IP token bucket (1 token/sec refill)
	burst := cfg.RateBurst
	if burst <= 0 {
		burst = 60
	}
	rl := newRateLimiter(1.0, burst)

	// Build middleware stack (outermost first):
	//   Recovery → RequestID → Logging → CORS → RateLimit → Auth → Routes
	// RequestID must be before Logging so request_id is available in log
	// attributes. CORS must be before RateLimit so preflight OPTIONS gets
	// proper CORS headers.
	var handler http.Handler = mux
	handler = authMiddleware(cfg.Auth, logger)(handler)
	handler = rateLimitMiddleware(rl, cfg.TrustProxy, logger)(handler)
	handler = corsMiddleware(cfg.CORSOrigins)(handler)
	handler = loggingMiddleware(logger)(handler)
	handler = requestIDMiddleware()(handler)
	handler = recoveryMiddleware(logger)(handler)

	isDev := cfg.IsDev
	final := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		setSecurityHeaders(w, isDev)
		handler.ServeHTTP(w, r)
	})

	// Health probes sit outside the middleware stack so orchestrators are
	// never rate limited or asked for credentials.
	topMux := http.NewServeMux()
	topMux.HandleFunc("GET /health", health)
	topMux.Handle("GET /ready", readiness(cfg.Pool))
	topMux.Handle("/", final)

	return &Server{mux: topMux}, nil
}

// Handler returns the server as an http.Handler.
func (s *Server) Handler() http.Handler {
	return s.mux
}
