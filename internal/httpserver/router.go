package httpserver

import (
	"log/slog"
	"net/http"

	"lv-tradecore/internal/auth"
	"lv-tradecore/internal/health"
	"lv-tradecore/internal/trading"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

type RouterDeps struct {
	Trading           *trading.Handler
	Health            *health.Handler
	AuthService       *auth.Service
	InternalTokenHash string
	StreamHandler     http.Handler
	RateLimiter       *RateLimiter
	Logger            *slog.Logger
}

func NewRouter(d RouterDeps) http.Handler {
	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}
	r := chi.NewRouter()
	r.Use(Correlation)
	r.Use(middleware.Recoverer)
	r.Use(AccessLog(logger))
	r.Use(SecurityHeaders)
	if d.RateLimiter != nil {
		r.Use(d.RateLimiter.Middleware)
	}

	r.Get("/health", d.Health.Live)
	r.Get("/ready", d.Health.Ready)
	r.Route("/v1", func(r chi.Router) {
		if d.StreamHandler != nil {
			r.Get("/stream", d.StreamHandler.ServeHTTP)
		}
		r.Group(func(r chi.Router) {
			r.Use(WithAuth(d.AuthService))
			r.Post("/orders", withUser(d.Trading.Place))
			r.Get("/orders", withUser(d.Trading.List))
			r.Get("/orders/{id}", withUser(d.Trading.Get))
			r.Delete("/orders/{id}", withUser(d.Trading.Cancel))
			r.Get("/holdings", withUser(d.Trading.Holdings))
		})
		r.Route("/internal", func(r chi.Router) {
			r.Use(InternalAuth(d.InternalTokenHash))
			r.Post("/executions/{id}/settlement", d.Trading.Settle)
			r.Post("/holdings/credit", d.Trading.Credit)
			r.Get("/metrics", d.Health.Metrics)
		})
	})
	return r
}
