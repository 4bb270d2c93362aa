package pool

import (
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/Voskan/slabshard/internal/layout"
	"github.com/Voskan/slabshard/internal/shardconfig"
)

// config bundles the shared shardconfig.Config with the pool-specific
// clear callback, which is generic over T and so cannot live in
// shardconfig itself.
type config[T Clearable] struct {
	shardconfig.Config
	clearCallback func(*T)
}

// Option configures a Pool at construction time.
type Option[T Clearable] func(*config[T])

// WithLayout overrides the §6 default bit-layout configuration.
func WithLayout[T Clearable](cfg layout.Config) Option[T] {
	return func(c *config[T]) { c.Layout = cfg }
}

// WithLogger plugs an external zap.Logger.
func WithLogger[T Clearable](l *zap.Logger) Option[T] {
	return func(c *config[T]) {
		if l != nil {
			c.Logger = l
		}
	}
}

// WithMetrics enables Prometheus metrics collection.
func WithMetrics[T Clearable](reg *prometheus.Registry) Option[T] {
	return func(c *config[T]) { c.Registry = reg }
}

// WithClearCallback registers a function invoked immediately after a
// value's Clear method runs and before its slot is returned to the free
// list — e.g. to persist the value being evicted, mirroring the teacher's
// disk_eject EjectCallback. The callback runs on whichever goroutine
// happened to release the slot's last reference and must not block.
func WithClearCallback[T Clearable](cb func(*T)) Option[T] {
	return func(c *config[T]) { c.clearCallback = cb }
}
