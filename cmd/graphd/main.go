package main

import (
	"context"
	"fmt"
	"net/http"
	"os"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/stratahq/strata/cmd/graphd/container"
	graphmw "github.com/stratahq/strata/cmd/graphd/middleware"
	"github.com/stratahq/strata/cmd/graphd/routes"
	"github.com/stratahq/strata/common/bootstrap"
	"github.com/stratahq/strata/common/server"
)

func main() {
	ctx := context.Background()

	// Bootstrap common components (DB, RLS sync, logger, queue, cache)
	components, err := bootstrap.Setup(ctx, "graphd")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to bootstrap graphd: %v\n", err)
		os.Exit(1)
	}
	defer components.Shutdown(ctx)

	// Initialize service container (singleton pattern, all services created once)
	serviceContainer, err := container.NewContainer(components)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize service container: %v\n", err)
		os.Exit(1)
	}

	e := setupEcho()
	setupMiddleware(e, components)
	setupHealthCheck(e, components)
	registerRoutes(e, serviceContainer)
	startServer(e, components)
}

// setupEcho initializes the Echo server with basic configuration
func setupEcho() *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	return e
}

// setupMiddleware configures all middleware for the Echo server. The
// tenant middleware runs after the built-ins so every handler sees a
// resolved scope on its context.
func setupMiddleware(e *echo.Echo, components *bootstrap.Components) {
	// Short routes are aliases for the versioned surface.
	e.Pre(middleware.Rewrite(map[string]string{
		"/graph/*": "/api/v1/graph/$1",
	}))
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())
	e.Use(middleware.RequestID())
	e.Use(graphmw.TenantScope(components.Config.Tenant, components.Scopes, components.Logger))
}

// setupHealthCheck registers the health check endpoint
func setupHealthCheck(e *echo.Echo, components *bootstrap.Components) {
	e.GET("/health", func(c echo.Context) error {
		body := map[string]any{
			"status":  "ok",
			"service": "graphd",
		}
		if components.RLS != nil {
			status := components.RLS.Status()
			body["rls_fingerprint"] = status.Fingerprint
			body["policy_count"] = status.PolicyCount
		}
		if err := components.Health(c.Request().Context()); err != nil {
			body["status"] = "degraded"
			body["error"] = err.Error()
			return c.JSON(http.StatusServiceUnavailable, body)
		}
		return c.JSON(http.StatusOK, body)
	})
}

// registerRoutes registers all application routes using the service container
func registerRoutes(e *echo.Echo, serviceContainer *container.Container) {
	routes.RegisterObjectRoutes(e, serviceContainer)
	routes.RegisterRelationshipRoutes(e, serviceContainer)
	routes.RegisterBranchRoutes(e, serviceContainer)
	routes.RegisterReleaseRoutes(e, serviceContainer)
	routes.RegisterSchemaRoutes(e, serviceContainer)
	routes.RegisterGraphRoutes(e, serviceContainer)
}

// startServer runs the HTTP server until a shutdown signal arrives
func startServer(e *echo.Echo, components *bootstrap.Components) {
	port := components.Config.Service.Port
	components.Logger.Info("Starting graphd", "port", port)

	srv := server.New("graphd", port, e, components.Logger)
	if err := srv.Start(); err != nil {
		components.Logger.Error("Server error", "error", err)
		os.Exit(1)
	}
}
