package rest

import (
	"log/slog"
	"net/http"

	"github.com/frahmantamala/payout-engine/internal/auth"
	"github.com/frahmantamala/payout-engine/internal/batch"
	"github.com/frahmantamala/payout-engine/internal/payment"
	"github.com/frahmantamala/payout-engine/internal/retry"
	"github.com/frahmantamala/payout-engine/internal/transport/middleware"
	"github.com/frahmantamala/payout-engine/internal/transport/swagger"
	"github.com/go-chi/chi"
	chiMiddleware "github.com/go-chi/chi/middleware"
)

// Handlers groups everything the router mounts. Nil handlers leave their routes unmounted.
type Handlers struct {
	Health  *HealthHandler
	Batch   *batch.Handler
	Payment *payment.Handler
	Retry   *retry.Handler
	Metrics MetricsProvider
}

type MetricsProvider interface {
	Handler() http.Handler
	Middleware(next http.Handler) http.Handler
}

func RegisterAllRoutes(router *chi.Mux, h Handlers, tokens auth.TokenValidator, metricsPath string, logger *slog.Logger) {
	// Apply global middleware
	router.Use(middleware.RequestID)
	router.Use(chiMiddleware.RealIP)
	router.Use(middleware.LoggingMiddleware(logger))
	router.Use(middleware.RecoveryMiddleware(logger))
	if h.Metrics != nil {
		router.Use(h.Metrics.Middleware)
		if metricsPath == "" {
			metricsPath = "/metrics"
		}
		router.Handle(metricsPath, h.Metrics.Handler())
	}

	router.Handle(swagger.SpecPath, swagger.SpecHandler())
	router.Handle("/swagger/*", swagger.Handler())

	// Mount API under /api/v1 to match the OpenAPI server url
	router.Route("/api/v1", func(r chi.Router) {
		if h.Health != nil {
			r.Get("/health", h.Health.Health)
			r.Get("/ping", h.Health.Ping)
		}

		r.Group(func(pr chi.Router) {
			pr.Use(middleware.Authenticate(tokens))
			pr.Use(middleware.RequireAdmin())

			if h.Batch != nil {
				pr.Route("/batches", func(br chi.Router) {
					br.Post("/", h.Batch.CreateBatch)
					br.Get("/", h.Batch.ListBatches)
					br.Get("/{id}", h.Batch.GetBatch)
					br.Patch("/{id}", h.Batch.UpdateBatch)
					br.Post("/{id}/process", h.Batch.ProcessBatch)
					br.Get("/{id}/audit", h.Batch.AuditTrail)
				})
			}

			if h.Payment != nil {
				pr.Get("/payments", h.Payment.ListPayments)
				pr.Post("/payments/approve", h.Payment.ApprovePayments)
			}

			if h.Retry != nil {
				pr.Get("/retries", h.Retry.ListRetries)
				pr.Post("/retries", h.Retry.ScheduleRetry)
				pr.Post("/retries/sweep", h.Retry.RunSweep)
			}
		})
	})
}
