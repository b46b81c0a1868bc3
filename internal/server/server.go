package server

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dukerupert/pantry/internal/docstore"
	"github.com/dukerupert/pantry/internal/handler"
	"github.com/dukerupert/pantry/internal/middleware"
	ws "github.com/dukerupert/pantry/internal/websocket"
)

type Config struct {
	// TokenHash is the bcrypt hash of the API token; empty disables auth.
	TokenHash          string
	RateLimitPerSecond float64
	RateLimitBurst     int
}

// Server serves a document store to remote repositories.
type Server struct {
	store       docstore.Store
	hub         *ws.Hub
	documentH   *handler.DocumentHandler
	rateLimiter *middleware.RateLimiter
	cfg         Config
	logger      *slog.Logger
}

func New(store docstore.Store, cfg Config, logger *slog.Logger) *Server {
	if cfg.RateLimitPerSecond <= 0 {
		cfg.RateLimitPerSecond = 50
	}
	if cfg.RateLimitBurst <= 0 {
		cfg.RateLimitBurst = 100
	}
	return &Server{
		store:       store,
		hub:         ws.NewHub(logger.With("component", "websocket")),
		documentH:   handler.NewDocumentHandler(store, logger.With("component", "documents")),
		rateLimiter: middleware.NewRateLimiter(cfg.RateLimitPerSecond, cfg.RateLimitBurst),
		cfg:         cfg,
		logger:      logger,
	}
}

// Hub returns the listen session hub for shutdown.
func (s *Server) Hub() *ws.Hub {
	return s.hub
}

// RateLimiter returns the rate limiter for cleanup tasks.
func (s *Server) RateLimiter() *middleware.RateLimiter {
	return s.rateLimiter
}

func (s *Server) Router() http.Handler {
	outerMux := http.NewServeMux()

	outerMux.HandleFunc("GET /health", s.healthHandler)
	outerMux.Handle("GET /metrics", promhttp.Handler())

	apiMux := http.NewServeMux()
	apiMux.HandleFunc("GET /v1/documents/{path...}", s.documentH.Get)
	apiMux.HandleFunc("PUT /v1/documents/{path...}", s.documentH.Set)
	apiMux.HandleFunc("PATCH /v1/documents/{path...}", s.documentH.Update)
	apiMux.HandleFunc("DELETE /v1/documents/{path...}", s.documentH.Delete)
	apiMux.HandleFunc("POST /v1/query", s.documentH.Query)
	apiMux.HandleFunc("GET /v1/listen", ws.HandleListen(s.hub, s.store, s.logger.With("component", "listen")))

	var api http.Handler = apiMux
	api = middleware.RateLimit(s.rateLimiter, middleware.RealIP)(api)
	api = middleware.RequireToken(s.cfg.TokenHash)(api)
	outerMux.Handle("/v1/", api)

	return middleware.RequestLogger(s.logger.With("component", "http"))(outerMux)
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"status":   "ok",
		"sessions": s.hub.SessionCount(),
	})
}
