package bootstrap

import (
	"context"
	"fmt"

	"github.com/stratahq/strata/common/cache"
	"github.com/stratahq/strata/common/config"
	"github.com/stratahq/strata/common/db"
	"github.com/stratahq/strata/common/logger"
	"github.com/stratahq/strata/common/queue"
	redisclient "github.com/stratahq/strata/common/redis"
	"github.com/stratahq/strata/common/rls"
	"github.com/stratahq/strata/common/telemetry"
	"github.com/stratahq/strata/common/tenant"
)

// Components holds all initialized service dependencies
type Components struct {
	Config    *config.Config
	Logger    *logger.Logger
	DB        *db.DB
	Redis     *redisclient.Client
	Executor  *tenant.Executor
	Scopes    *tenant.ScopeResolver
	RLS       *rls.Synchronizer
	Queue     queue.Queue
	Cache     cache.Cache
	Telemetry *telemetry.Telemetry

	// Internal
	cleanupFuncs []func() error
}

// Shutdown performs graceful shutdown of all components
// Should be called with defer after Setup()
func (c *Components) Shutdown(ctx context.Context) error {
	c.Logger.Info("shutting down components")

	var errors []error

	// Run cleanup functions in reverse order (LIFO)
	for i := len(c.cleanupFuncs) - 1; i >= 0; i-- {
		if err := c.cleanupFuncs[i](); err != nil {
			errors = append(errors, err)
			c.Logger.Error("cleanup error", "error", err)
		}
	}

	if len(errors) > 0 {
		return fmt.Errorf("shutdown errors: %v", errors)
	}

	c.Logger.Info("shutdown complete")
	return nil
}

// Health checks health of all components
func (c *Components) Health(ctx context.Context) error {
	if c.DB != nil {
		if err := c.DB.Health(ctx); err != nil {
			return fmt.Errorf("database unhealthy: %w", err)
		}
	}

	if c.Redis != nil {
		if err := c.Redis.Health(ctx); err != nil {
			return fmt.Errorf("redis unhealthy: %w", err)
		}
	}

	if c.RLS != nil {
		if status := c.RLS.Status(); !status.OK {
			return fmt.Errorf("rls policies out of sync")
		}
	}

	return nil
}

// addCleanup registers a cleanup function
func (c *Components) addCleanup(fn func() error) {
	c.cleanupFuncs = append(c.cleanupFuncs, fn)
}
