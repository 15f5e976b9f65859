package api

import (
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/eldtechnologies/sequencer/internal/api/middleware"
	"github.com/eldtechnologies/sequencer/internal/handlers"
	"github.com/eldtechnologies/sequencer/internal/store"
)

// Options configures the router's transport concerns.
type Options struct {
	MaxBodyBytes       int64
	RateLimitWhitelist []string
	AutoBlockEnabled   bool
}

// NewRouter creates and configures the HTTP router. Rate limiting is enabled
// only when redisStore is non-nil.
func NewRouter(logger zerolog.Logger, h *handlers.Handler, redisStore *store.RedisStore, opts Options) *chi.Mux {
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = 10 << 20
	}

	r := chi.NewRouter()

	// Metrics middleware (first to capture all requests)
	r.Use(middleware.Metrics)

	// Security middleware (order matters!)
	r.Use(middleware.SecurityHeaders)
	r.Use(middleware.MaxBodySize(opts.MaxBodyBytes))
	r.Use(middleware.ValidateRequest)

	// Standard middleware
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.Logger(logger))
	r.Use(chimw.Recoverer)

	// Rate limiting
	if redisStore != nil {
		limiter := middleware.NewRateLimiter(redisStore.Client(), logger, middleware.RateLimiterConfig{
			Whitelist:        opts.RateLimitWhitelist,
			AutoBlockEnabled: opts.AutoBlockEnabled,
		})
		r.Use(limiter.Middleware)
	}

	// CORS - allow all origins (clients submit from anywhere)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type"},
		ExposedHeaders:   []string{"X-RateLimit-Limit", "X-RateLimit-Remaining", "X-RateLimit-Reset", "Retry-After"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	// Metrics endpoint (for Prometheus scraping)
	r.Handle("/metrics", promhttp.Handler())

	r.Get("/api", h.Root)
	r.Get("/health", h.Health)

	// Writes
	r.Post("/", h.Write)
	r.Post("/message", h.WriteMessage)
	r.Post("/process", h.WriteProcess)
	r.Post("/recover", h.Recover)
	r.Post("/recover/{id}", h.RecoverFromLedger)

	// Reads
	r.Get("/timestamp", h.Timestamp)
	r.Get("/messages/{process_id}", h.ReadMessages)
	r.Get("/message/{id}", h.ReadMessage)
	r.Get("/processes/{id}", h.ReadProcess)

	return r
}
