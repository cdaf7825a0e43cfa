package bootstrap

import (
	"github.com/tomehq/tome/common/config"
	"github.com/tomehq/tome/common/db"
	"github.com/tomehq/tome/common/logger"
)

// Option customizes Setup behavior
type Option func(*options)

type options struct {
	skipDB       bool
	skipRedis    bool
	customConfig *config.Config
	customLogger *logger.Logger
	dbInitHook   func(*db.DB) error
}

func defaultOptions() *options {
	return &options{}
}

// WithoutDB skips database initialization
func WithoutDB() Option {
	return func(o *options) { o.skipDB = true }
}

// WithoutRedis skips Redis initialization
func WithoutRedis() Option {
	return func(o *options) { o.skipRedis = true }
}

// WithConfig supplies a pre-built configuration instead of loading from env
func WithConfig(cfg *config.Config) Option {
	return func(o *options) { o.customConfig = cfg }
}

// WithLogger supplies a pre-built logger
func WithLogger(log *logger.Logger) Option {
	return func(o *options) { o.customLogger = log }
}

// WithDBInit runs a hook after the database connects, typically schema
// creation
func WithDBInit(hook func(*db.DB) error) Option {
	return func(o *options) { o.dbInitHook = hook }
}
