package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/capitalize-ai/chat-demo/internal/middleware"
	natsclient "github.com/capitalize-ai/chat-demo/internal/nats"
	"github.com/capitalize-ai/chat-demo/internal/script"
	"github.com/capitalize-ai/chat-demo/internal/service"
	"github.com/capitalize-ai/chat-demo/pkg/logger"
)

// RouterConfig holds everything the HTTP router is built from.
type RouterConfig struct {
	Demos     *service.DemoService
	Catalog   *script.Catalog
	Generator *service.ScriptGenerator
	NATS      *natsclient.Client
	Logger    *logger.Logger

	NATSRequired      bool
	JWTSecret         string
	AllowedOrigins    []string
	RateLimitRequests int
	RateLimitWindow   time.Duration
	Heartbeat         time.Duration
}

// NewRouter builds the API router.
func NewRouter(cfg RouterConfig) http.Handler {
	healthHandler := NewHealthHandler(cfg.NATS, cfg.NATSRequired)
	scriptHandler := NewScriptHandler(cfg.Catalog, cfg.Generator, cfg.Logger)
	demoHandler := NewDemoHandler(cfg.Demos, cfg.Logger)
	streamHandler := NewStreamHandler(cfg.Demos, cfg.Logger, cfg.Heartbeat)
	wsHandler := NewWSHandler(cfg.Demos, cfg.Logger, cfg.AllowedOrigins, cfg.Heartbeat)

	r := chi.NewRouter()

	// Global middleware
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Logging(cfg.Logger))
	r.Use(middleware.SecurityHeaders)
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.CORS(cfg.AllowedOrigins))

	// Health endpoints (no auth required)
	r.Get("/health", healthHandler.Health)
	r.Get("/ready", healthHandler.Ready)

	// Metrics endpoint
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		// Public widget routes
		r.Group(func(r chi.Router) {
			r.Use(middleware.RateLimit(cfg.RateLimitRequests, cfg.RateLimitWindow))

			r.Get("/scripts", scriptHandler.List)
			r.Get("/scripts/{scriptID}", scriptHandler.Get)

			r.Post("/demos", demoHandler.Create)
			r.Route("/demos/{id}", func(r chi.Router) {
				r.Get("/", demoHandler.Get)
				r.Delete("/", demoHandler.Delete)
				r.Post("/start", demoHandler.Start)
				r.Post("/stop", demoHandler.Stop)
				r.Get("/history", demoHandler.History)

				// Streaming
				r.Get("/stream", streamHandler.Stream)
				r.Get("/ws", wsHandler.Serve)
			})
		})

		// Operator routes
		r.Route("/admin", func(r chi.Router) {
			r.Use(middleware.Auth(cfg.JWTSecret))
			r.Use(middleware.RequireScope(middleware.ScopeAdmin))
			r.Use(middleware.RateLimit(cfg.RateLimitRequests, cfg.RateLimitWindow))

			r.Get("/demos", demoHandler.List)
			r.Post("/scripts/generate", scriptHandler.Generate)
		})
	})

	return r
}
