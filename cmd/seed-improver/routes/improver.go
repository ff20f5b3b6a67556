package routes

import (
	"github.com/labstack/echo/v4"
	"github.com/lyzr/seed-improver/cmd/seed-improver/container"
	"github.com/lyzr/seed-improver/cmd/seed-improver/handlers"
	"github.com/lyzr/seed-improver/cmd/seed-improver/middleware"
	commonmw "github.com/lyzr/seed-improver/common/middleware"
	"github.com/lyzr/seed-improver/common/ratelimit"
)

// RegisterImproverRoutes registers the internal seed improver routes
func RegisterImproverRoutes(e *echo.Echo, c *container.Container) {
	cfg := c.Components.Config
	limiter := c.Components.Limiter

	h := handlers.NewImproverHandler(c.Improver, c.Status, c.Dedup, c.Components.Logger)
	stream := handlers.NewStreamHandler(c.Hub, c.Components.Logger)

	internal := e.Group("/internal/seed-improver")
	internal.Use(middleware.InternalServiceAuth(cfg.Improver.InternalSecret))
	{
		internal.POST("/run", h.TriggerRun, commonmw.ManualRateLimitMiddleware(limiter, ratelimit.DefaultManualTrigger))
		internal.POST("/loss", h.TriggerLoss, commonmw.LossRateLimitMiddleware(limiter, ratelimit.LossTrigger(cfg.Improver.LossRateLimit)))
		internal.GET("/status/:run_id", h.GetStatus) // GET /internal/seed-improver/status/{run_id}
		internal.GET("/runs", h.ListRuns)            // GET /internal/seed-improver/runs?limit=20
		internal.GET("/patterns", h.ListPatterns)    // GET /internal/seed-improver/patterns?limit=20
		internal.GET("/events", stream.Events)       // websocket, one frame per finished run
	}
}

// RegisterHealthRoutes registers the health check
func RegisterHealthRoutes(e *echo.Echo, c *container.Container) {
	h := handlers.NewHealthHandler(c.Components)
	e.GET("/health", h.Health)
}
