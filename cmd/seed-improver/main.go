package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/lyzr/seed-improver/cmd/seed-improver/container"
	"github.com/lyzr/seed-improver/cmd/seed-improver/handlers"
	"github.com/lyzr/seed-improver/cmd/seed-improver/routes"
	"github.com/lyzr/seed-improver/cmd/seed-improver/service"
	"github.com/lyzr/seed-improver/common/bootstrap"
	"github.com/lyzr/seed-improver/common/db"
	"github.com/lyzr/seed-improver/common/server"
	"golang.org/x/sync/errgroup"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Bootstrap common components (DB, logger, redis, cache, telemetry)
	components, err := bootstrap.Setup(ctx, "seed-improver", bootstrap.WithDBInitHook(func(d *db.DB) error {
		return d.Migrate(ctx)
	}))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to bootstrap seed-improver: %v\n", err)
		os.Exit(1)
	}
	defer components.Shutdown(context.Background())

	// Initialize service container (singleton pattern - all services created once)
	serviceContainer, err := container.NewContainer(ctx, components)
	if err != nil {
		components.Logger.Error("Failed to initialize service container", "error", err)
		os.Exit(1)
	}

	e := setupEcho(components)
	registerRoutes(e, serviceContainer)

	if err := run(ctx, e, serviceContainer); err != nil {
		components.Logger.Error("seed-improver stopped with error", "error", err)
		serviceContainer.Improver.Wait()
		os.Exit(1)
	}

	// let detached async runs reach a terminal status before connections close
	serviceContainer.Improver.Wait()
}

// setupEcho initializes the Echo server with middleware and error rendering
func setupEcho(components *bootstrap.Components) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = handlers.ErrorHandler(components.Logger)

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:    true,
		LogURI:       true,
		LogStatus:    true,
		LogLatency:   true,
		LogRequestID: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			components.Logger.Debug("request",
				"method", v.Method,
				"uri", v.URI,
				"status", v.Status,
				"latency", v.Latency,
				"request_id", v.RequestID,
			)
			return nil
		},
	}))
	return e
}

// registerRoutes registers all application routes using the service container
func registerRoutes(e *echo.Echo, c *container.Container) {
	routes.RegisterHealthRoutes(e, c)
	routes.RegisterImproverRoutes(e, c)
}

// run serves HTTP and the background loops until ctx is cancelled or one of them fails
func run(ctx context.Context, e *echo.Echo, c *container.Container) error {
	cfg := c.Components.Config
	g, ctx := errgroup.WithContext(ctx)

	// synchronous triggers hold the request open for a whole run
	writeTimeout := cfg.Improver.RunTimeout + 30*time.Second
	srv := server.New("seed-improver", cfg.Service.Port, e, writeTimeout, c.Components.Logger)
	g.Go(func() error {
		return srv.Run(ctx)
	})

	g.Go(func() error {
		return c.Scheduler.Start(ctx)
	})

	g.Go(func() error {
		return c.Policies.Watch(ctx)
	})

	// hijacked websocket connections outlive http.Server.Shutdown
	g.Go(func() error {
		<-ctx.Done()
		c.Hub.Close()
		return nil
	})

	if c.Components.Redis != nil {
		g.Go(func() error {
			return service.RelayRunEvents(ctx, c.Components.Redis, c.Hub, c.Components.Logger)
		})
	}

	if cfg.Telemetry.EnablePprof && c.Components.Telemetry != nil {
		g.Go(func() error {
			return c.Components.Telemetry.StartPprof(ctx)
		})
	}

	return g.Wait()
}
