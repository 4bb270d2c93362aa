package slab

import (
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/Voskan/slabshard/internal/layout"
	"github.com/Voskan/slabshard/internal/shardconfig"
)

// Option configures a Slab at construction time.
type Option func(*shardconfig.Config)

// WithLayout overrides the §6 default bit-layout configuration (max
// threads/pages, initial page size, reserved bits).
func WithLayout(cfg layout.Config) Option {
	return func(c *shardconfig.Config) { c.Layout = cfg }
}

// WithLogger plugs an external zap.Logger. The slab never logs on the hot
// path; only slow events (participant exhaustion) are emitted.
func WithLogger(l *zap.Logger) Option {
	return func(c *shardconfig.Config) {
		if l != nil {
			c.Logger = l
		}
	}
}

// WithMetrics enables Prometheus metrics collection. Passing nil disables
// metrics (the default).
func WithMetrics(reg *prometheus.Registry) Option {
	return func(c *shardconfig.Config) { c.Registry = reg }
}
