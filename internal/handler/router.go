package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
)

// RouterConfig collects everything the router mounts.
type RouterConfig struct {
	Events         *EventHandler
	Webhooks       *WebhookHandler
	Metrics        http.Handler
	AllowedOrigins []string
	Log            *zap.Logger
}

// NewRouter builds the service's HTTP routes.
func NewRouter(cfg RouterConfig) http.Handler {
	log := cfg.Log
	if log == nil {
		log = zap.NewNop()
	}

	r := chi.NewRouter()

	// Global middleware stack
	r.Use(chimiddleware.Recoverer) // recover from panics, return 500
	r.Use(chimiddleware.RequestID) // attach request IDs
	r.Use(chimiddleware.RealIP)    // trust X-Forwarded-For
	r.Use(Logger(log))             // structured access log
	r.Use(CORS(cfg.AllowedOrigins))

	r.Get("/health", HealthCheck)
	if cfg.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", cfg.Metrics)
	}

	// Provider callbacks carry no user identity.
	if cfg.Webhooks != nil {
		r.Post("/webhooks/payments", cfg.Webhooks.Payments)
	}

	r.Group(func(r chi.Router) {
		r.Use(Identity)

		r.Route("/events", func(r chi.Router) {
			r.Get("/", cfg.Events.ListEvents)
			r.Get("/{id}", cfg.Events.GetEvent)
			r.Get("/{id}/capacity", cfg.Events.Capacity)
			r.Get("/{id}/registration", cfg.Events.Registered)
			r.Post("/{id}/register", cfg.Events.Register)
		})

		r.Route("/registrations", func(r chi.Router) {
			r.Get("/{id}", cfg.Events.GetRegistration)
			r.Post("/{id}/cancel", cfg.Events.CancelRegistration)
		})
	})

	return r
}
