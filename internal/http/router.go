package http

import (
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/phonedesk/server/internal/http/handlers"
	"github.com/phonedesk/server/internal/metrics"
	"github.com/phonedesk/server/internal/middleware"
)

// Deps holds what the router needs to serve every route
type Deps struct {
	Chat        *handlers.ChatHandler
	Stream      *handlers.StreamHandler
	Metrics     *metrics.Metrics
	ChatLimiter *middleware.RateLimiter
}

// NewRouter creates a new HTTP router with all routes configured
func NewRouter(d Deps) *chi.Mux {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Logger)
	r.Use(chimw.Recoverer)
	r.Use(middleware.PermissiveCORS())
	if d.Metrics != nil {
		r.Use(d.Metrics.Middleware)
		r.Method("GET", "/metrics", d.Metrics.Handler())
	}

	healthHandler := handlers.NewHealthHandler()
	r.Get("/health", healthHandler.ServeHTTP)

	r.Group(func(r chi.Router) {
		if d.ChatLimiter != nil {
			r.Use(middleware.RateLimitMiddleware(d.ChatLimiter, middleware.GetIPKey))
		}
		r.Post("/chat", d.Chat.HandleChat)
	})

	r.Post("/process", d.Stream.HandleProcess)
	r.Get("/encode/sample", handlers.HandleEncodeSample)

	return r
}
