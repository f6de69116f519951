package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/princedwivedi2/pet-help-backend/internal/appointment"
)

type RouterConfig struct {
	Service  *appointment.Service
	PgPool   *pgxpool.Pool
	Redis    *redis.Client
	Location *time.Location // clinic zone for date query parameters
	Logger   zerolog.Logger
	Env      string
	Version  string
}

func NewRouter(cfg RouterConfig) http.Handler {
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}

	r := chi.NewRouter()

	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(cfg.Logger))
	r.Use(RecoveryMiddleware)
	r.Use(MetricsMiddleware)

	var pgCheck, redisCheck Check
	if cfg.PgPool != nil {
		pgCheck = cfg.PgPool.Ping
	}
	if cfg.Redis != nil {
		redisCheck = func(ctx context.Context) error { return cfg.Redis.Ping(ctx).Err() }
	}
	health := NewHealthHandler(pgCheck, redisCheck, cfg.Env, cfg.Version)
	r.Get("/health/live", health.Liveness)
	r.Get("/health/ready", health.Readiness)
	r.Handle("/metrics", promhttp.Handler())

	h := &handlers{svc: cfg.Service, loc: cfg.Location}

	r.Get("/vets/{vetID}/slots", h.listSlots)

	r.Group(func(r chi.Router) {
		r.Use(ActorMiddleware)

		r.Post("/vets/{vetID}/appointments", h.createAppointment)
		r.Get("/vets/{vetID}/appointments", h.listVetAppointments)

		r.Get("/appointments", h.listMyAppointments)
		r.Get("/appointments/{id}", h.getAppointment)
		r.Delete("/appointments/{id}", h.archiveAppointment)
		r.Post("/appointments/{id}/transition", h.transition)
		r.Post("/appointments/{id}/confirm", h.transitionTo(appointment.StatusConfirmed))
		r.Post("/appointments/{id}/complete", h.transitionTo(appointment.StatusCompleted))
		r.Post("/appointments/{id}/cancel", h.transitionTo(appointment.StatusCancelled))
		r.Post("/appointments/{id}/no-show", h.transitionTo(appointment.StatusNoShow))
	})

	return otelhttp.NewHandler(r, "http.server")
}
