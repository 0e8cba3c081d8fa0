package routes

import (
	"context"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/sony/gobreaker"

	"github.com/congo-pay/funds/internal/metrics"
	"github.com/congo-pay/funds/internal/middleware"
)

const statusDisabled = "disabled"

// RegisterHealthRoutes adds liveness/readiness style endpoints.
func RegisterHealthRoutes(app *fiber.App, d Deps, cache *middleware.RedisResponseCache) {
	app.Get("/healthz", func(c *fiber.Ctx) error {
		dbStatus := statusDisabled
		redisStatus := statusDisabled
		breakerStatus := statusDisabled

		ctx, cancel := context.WithTimeout(c.UserContext(), 2*time.Second)
		defer cancel()
		if d.DB != nil {
			dbStatus = "ok"
			if err := d.DB.Ping(ctx); err != nil {
				dbStatus = err.Error()
			}
		}
		if d.Cache != nil {
			redisStatus = "ok"
			if err := d.Cache.Ping(ctx).Err(); err != nil {
				redisStatus = err.Error()
			}
		}
		if cache != nil {
			breakerStatus = cache.State().String()
		}

		status := http.StatusOK
		if !healthy(dbStatus) || !healthy(redisStatus) || breakerStatus == gobreaker.StateOpen.String() {
			status = http.StatusServiceUnavailable
		}
		return c.Status(status).JSON(fiber.Map{
			"status": fiber.Map{
				"postgres":      dbStatus,
				"redis":         redisStatus,
				"redis_circuit": breakerStatus,
			},
			"timestamp": time.Now().UTC().Format(time.RFC3339Nano),
		})
	})
}

// RegisterMetricsRoute serves the Prometheus registry.
func RegisterMetricsRoute(app *fiber.App, collector *metrics.PrometheusCollector) {
	app.Get("/metrics", adaptor.HTTPHandler(collector.Handler()))
}

func healthy(status string) bool {
	return status == "ok" || status == statusDisabled
}
