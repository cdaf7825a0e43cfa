package bootstrap

import (
	"context"

	"github.com/tomehq/tome/common/config"
	"github.com/tomehq/tome/common/db"
	"github.com/tomehq/tome/common/logger"
	rediscommon "github.com/tomehq/tome/common/redis"
)

// Components holds all initialized shared components
type Components struct {
	Config *config.Config
	Logger *logger.Logger
	DB     *db.DB
	Redis  *rediscommon.Client

	cleanupFuncs []func() error
}

// addCleanup registers a cleanup function, run in reverse order on shutdown
func (c *Components) addCleanup(fn func() error) {
	c.cleanupFuncs = append(c.cleanupFuncs, fn)
}

// Shutdown runs all cleanup functions in reverse order
func (c *Components) Shutdown(ctx context.Context) {
	for i := len(c.cleanupFuncs) - 1; i >= 0; i-- {
		if err := c.cleanupFuncs[i](); err != nil && c.Logger != nil {
			c.Logger.Warn("cleanup failed", "error", err)
		}
	}
	c.cleanupFuncs = nil
}
