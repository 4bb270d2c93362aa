// Package metrics is a thin abstraction over Prometheus shared by pkg/slab
// and pkg/pool, following the same no-registry-means-noop shape as the
// teacher's cache metrics: operations never pay for a metric update unless
// the caller opted in via a WithMetrics option.
package metrics

import (
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
)

// Sink is the interface Slab/Pool operate against; the namespace passed to
// New selects which Prometheus metric family an instance reports under —
// "slabshard_slab" or "slabshard_pool".
type Sink interface {
	IncInsert(ok bool)
	IncGet(hit bool)
	IncRemove(ok bool)
	IncTake(ok bool)
	SetLive(n int64)
	SetParticipants(n int64)
}

// Noop discards every observation; it is the default when no registry is
// supplied.
type Noop struct{}

func (Noop) IncInsert(bool)      {}
func (Noop) IncGet(bool)         {}
func (Noop) IncRemove(bool)      {}
func (Noop) IncTake(bool)        {}
func (Noop) SetLive(int64)       {}
func (Noop) SetParticipants(int64) {}

// Prom reports to a caller-supplied *prometheus.Registry. Gauges are
// mirrored in plain atomics so SetLive/SetParticipants never need a lock.
type Prom struct {
	inserts      *prometheus.CounterVec
	gets         *prometheus.CounterVec
	removes      *prometheus.CounterVec
	takes        *prometheus.CounterVec
	live         prometheus.Gauge
	participants prometheus.Gauge

	liveMirror atomic.Int64
	partMirror atomic.Int64
}

// NewProm registers a metric family under namespace ("slabshard_slab" or
// "slabshard_pool") on reg. Caller guarantees reg is non-nil.
func NewProm(namespace string, reg *prometheus.Registry) *Prom {
	result := []string{"result"}
	p := &Prom{
		inserts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "inserts_total",
			Help:      "Number of Insert/Create attempts by result.",
		}, result),
		gets: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "gets_total",
			Help:      "Number of Get attempts by result (hit/miss).",
		}, result),
		removes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "removes_total",
			Help:      "Number of Remove attempts by result.",
		}, result),
		takes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "takes_total",
			Help:      "Number of Take attempts by result.",
		}, result),
		live: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "live_values",
			Help:      "Current number of live values across all shards.",
		}),
		participants: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "participants",
			Help:      "Number of participants joined so far (closed participants are not subtracted).",
		}),
	}
	reg.MustRegister(p.inserts, p.gets, p.removes, p.takes, p.live, p.participants)
	return p
}

func resultLabel(ok bool) string {
	if ok {
		return "ok"
	}
	return "failed"
}

func (p *Prom) IncInsert(ok bool) { p.inserts.WithLabelValues(resultLabel(ok)).Inc() }

func (p *Prom) IncGet(hit bool) {
	label := "miss"
	if hit {
		label = "hit"
	}
	p.gets.WithLabelValues(label).Inc()
}

func (p *Prom) IncRemove(ok bool) { p.removes.WithLabelValues(resultLabel(ok)).Inc() }
func (p *Prom) IncTake(ok bool)   { p.takes.WithLabelValues(resultLabel(ok)).Inc() }

func (p *Prom) SetLive(n int64) {
	p.liveMirror.Store(n)
	p.live.Set(float64(n))
}

func (p *Prom) SetParticipants(n int64) {
	p.partMirror.Store(n)
	p.participants.Set(float64(n))
}

// New picks Noop or Prom depending on whether reg is nil.
func New(namespace string, reg *prometheus.Registry) Sink {
	if reg == nil {
		return Noop{}
	}
	return NewProm(namespace, reg)
}
