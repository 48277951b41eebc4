package api

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"otp-gateway/internal/observability"
)

// SetupRoutes mounts every ingress endpoint, plus process-level
// health/readiness and Prometheus exposition, on app.
func SetupRoutes(app *fiber.App, handlers *Handlers, metrics *observability.Metrics) {
	app.Get("/healthz", handlers.HealthCheck)
	app.Get("/readyz", handlers.ReadyCheck)

	if metrics != nil {
		app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))
	}

	apiGroup := app.Group("/api")
	apiGroup.Post("/sms/inbound", handlers.InboundSMS)
	apiGroup.Post("/telemetry", handlers.Telemetry)
	apiGroup.Get("/health", handlers.Health)
	apiGroup.Get("/dlo", handlers.ListDLO)
	apiGroup.Post("/dlo/:sms_id/retry", handlers.RetryDLO)
	apiGroup.Delete("/dlo", handlers.PurgeDLO)
	apiGroup.Get("/metrics", handlers.Metrics)
	apiGroup.Get("/incidents", handlers.Incidents)
}
