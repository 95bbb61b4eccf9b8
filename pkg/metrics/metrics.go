// Package metrics exposes zecd's Prometheus instrumentation: checkpoint
// verification progress, pending-queue depth, and per-error-kind
// resolution counts.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/zecwire/zecd/pkg/checkpoint"
)

// Collector implements checkpoint.Observer, translating verifier state
// transitions into Prometheus series. It is safe for concurrent use: every
// method just forwards to a prometheus metric, which is itself
// concurrency-safe.
type Collector struct {
	pendingDepth       prometheus.Gauge
	previousCheckpoint prometheus.Gauge
	finalized          prometheus.Gauge
	resolutions        *prometheus.CounterVec
}

// NewCollector builds a Collector and registers its metrics against reg.
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		pendingDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "zecd",
			Subsystem: "checkpoint",
			Name:      "pending_depth",
			Help:      "Number of blocks currently queued awaiting checkpoint admission.",
		}),
		previousCheckpoint: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "zecd",
			Subsystem: "checkpoint",
			Name:      "previous_checkpoint_height",
			Help:      "Height of the most recently verified checkpoint.",
		}),
		finalized: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "zecd",
			Subsystem: "checkpoint",
			Name:      "finalized",
			Help:      "1 once the verifier has reached its final checkpoint, 0 otherwise.",
		}),
		resolutions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "zecd",
			Subsystem: "checkpoint",
			Name:      "resolutions_total",
			Help:      "Completion handle resolutions, labeled by outcome.",
		}, []string{"kind"}),
	}

	reg.MustRegister(c.pendingDepth, c.previousCheckpoint, c.finalized, c.resolutions)
	return c
}

// ObservePendingDepth implements checkpoint.Observer.
func (c *Collector) ObservePendingDepth(n int) {
	c.pendingDepth.Set(float64(n))
}

// ObserveProgress implements checkpoint.Observer.
func (c *Collector) ObserveProgress(p checkpoint.Progress) {
	if p.IsFinal() {
		c.finalized.Set(1)
		return
	}
	c.finalized.Set(0)
	if h, ok := p.PreviousHeight(); ok {
		c.previousCheckpoint.Set(float64(h))
	}
}

// ObserveResolution implements checkpoint.Observer. err is nil for a
// successful resolution.
func (c *Collector) ObserveResolution(err error) {
	c.resolutions.WithLabelValues(resolutionKind(err)).Inc()
}

func resolutionKind(err error) string {
	switch err {
	case nil:
		return "ok"
	case checkpoint.ErrAlreadyVerified:
		return "already_verified"
	case checkpoint.ErrBeyondMaxCheckpoint:
		return "beyond_max_checkpoint"
	case checkpoint.ErrCheckpointHashMismatch:
		return "checkpoint_hash_mismatch"
	case checkpoint.ErrChainDiscontinuity:
		return "chain_discontinuity"
	case checkpoint.ErrSupersededByPeer:
		return "superseded_by_peer"
	case checkpoint.ErrAfterFinalCheckpoint:
		return "after_final_checkpoint"
	case checkpoint.ErrVerifierDropped:
		return "verifier_dropped"
	default:
		return "unknown"
	}
}

var _ checkpoint.Observer = (*Collector)(nil)
