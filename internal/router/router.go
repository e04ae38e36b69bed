package router

import (
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/noah-isme/fairgig-proctor/internal/config"
	"github.com/noah-isme/fairgig-proctor/internal/handler"
	"github.com/noah-isme/fairgig-proctor/internal/middleware"
	"github.com/noah-isme/fairgig-proctor/internal/observability"
)

// Dependencies groups router dependencies for registration.
type Dependencies struct {
	FrameHandler         *handler.FrameHandler
	SessionHandler       *handler.SessionHandler
	AdminReviewHandler   *handler.AdminReviewHandler
	AdminActivityHandler *handler.AdminActivityHandler
	MonitorHandler       *handler.MonitorHandler
	HealthChecks         map[string]handler.Pinger
	JWTMiddleware        fiber.Handler
}

// Register wires the HTTP routes into the fiber application.
func Register(app *fiber.App, cfg config.Config, deps Dependencies) {
	app.Get("/metrics", observability.MetricsHandler())

	api := app.Group("/api/v1", func(c *fiber.Ctx) error {
		c.Set("X-Application", cfg.AppName)
		return c.Next()
	})
	api.Get("/health", handler.HealthCheck(cfg, deps.HealthChecks))

	jwtMiddleware := deps.JWTMiddleware
	if jwtMiddleware == nil {
		jwtMiddleware = func(c *fiber.Ctx) error { return c.Next() }
	}

	// Everything below health requires a bearer token. Ingestion carries its
	// own per-session limiter inside the service.
	protected := api.Group("", jwtMiddleware)

	if deps.FrameHandler != nil {
		deps.FrameHandler.Register(protected)
	}

	if deps.SessionHandler != nil {
		sessions := protected.Group("/sessions", middleware.RequireStudent(), middleware.RateLimit("sessions", 20, time.Minute))
		deps.SessionHandler.Register(sessions)
	}

	admin := protected.Group("/admin")

	if deps.AdminReviewHandler != nil {
		deps.AdminReviewHandler.Register(admin)
	}

	if deps.AdminActivityHandler != nil {
		audit := admin.Group("/audit", middleware.RequireRole(middleware.RoleAdmin))
		deps.AdminActivityHandler.Register(audit)
	}

	if deps.MonitorHandler != nil {
		deps.MonitorHandler.Register(admin.Group("/monitor"))
	}
}
