package api

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// HealthCheck checks one dependency; nil means healthy.
type HealthCheck func(ctx context.Context) error

func RegisterRoutes(app *fiber.App, h *Handler, checks map[string]HealthCheck) {
	app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))

	// Health check
	app.Get("/health", func(c *fiber.Ctx) error {
		results := make(map[string]string, len(checks))
		status := "ok"
		code := fiber.StatusOK

		healthCtx, cancel := context.WithTimeout(c.UserContext(), 2*time.Second)
		defer cancel()
		for name, check := range checks {
			if err := check(healthCtx); err != nil {
				results[name] = err.Error()
				status = "degraded"
				code = fiber.StatusServiceUnavailable
				continue
			}
			results[name] = "ok"
		}

		return c.Status(code).JSON(fiber.Map{
			"status": status,
			"checks": results,
		})
	})

	// API routes
	v1 := app.Group("/api/v1")
	v1.Get("/sync", h.ListSync)
	v1.Get("/sync/:domain/status", h.SyncStatus)
	v1.Post("/sync/:domain/start", h.StartSync)
	v1.Post("/sync/:domain/pause", h.PauseSync)
	v1.Post("/sync/:domain/reset", h.ResetSync)

	v1.Get("/integrity", h.IntegrityStatus)
	v1.Post("/integrity/check", h.IntegrityCheck)
	v1.Post("/integrity/repair", h.IntegrityRepair)

	v1.Get("/products/:asin/economics", h.ProductEconomics)
}
