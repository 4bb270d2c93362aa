// Package shardconfig holds the configuration bundle shared by pkg/slab and
// pkg/pool: the bit-layout knobs from internal/layout plus the ambient
// logger/metrics wiring, validated once at construction time. It plays the
// same role here that the teacher's pkg/config.go plays for Cache, split out
// so both public packages can reuse it instead of duplicating validation.
package shardconfig

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/Voskan/slabshard/internal/layout"
)

// Config bundles every knob that influences allocator behaviour.
type Config struct {
	Layout layout.Config

	Logger   *zap.Logger
	Registry *prometheus.Registry // nil means metrics disabled
	Metrics  string                // Prometheus namespace, e.g. "slabshard_slab"
}

// Default returns the layout defaults (spec §6) with a no-op logger and
// metrics disabled.
func Default(namespace string) Config {
	return Config{
		Layout:  layout.DefaultConfig(),
		Logger:  zap.NewNop(),
		Metrics: namespace,
	}
}

var ErrNilLogger = errors.New("shardconfig: logger must not be nil")

// Validate derives and checks the bit-field geometry, and replaces a nil
// Logger with a no-op logger. Other ambient fields are left as given.
func Validate(cfg Config) (layout.Layout, Config, error) {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	lay, err := layout.Validate(cfg.Layout)
	if err != nil {
		return layout.Layout{}, cfg, err
	}
	return lay, cfg, nil
}
