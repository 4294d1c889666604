package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"worldstream.ai/internal/stream/cell"
)

const namespace = "worldstream"

// Exporter mirrors published snapshots into Prometheus collectors.
type Exporter struct {
	tick           prometheus.Gauge
	cells          *prometheus.GaugeVec
	capRefusals    *prometheus.GaugeVec
	queueLen       prometheus.Gauge
	queueDropped   prometheus.Gauge
	poolOps        *prometheus.GaugeVec
	poolHitRate    prometheus.Gauge
	poolInstances  *prometheus.GaugeVec
	decodeFailures prometheus.Gauge
	decodeInFlight prometheus.Gauge
	proxies        prometheus.Gauge
	providerErrors prometheus.Gauge
	tickDuration   prometheus.Histogram
}

// NewExporter creates the collectors and registers them with reg.
func NewExporter(reg prometheus.Registerer) *Exporter {
	e := &Exporter{
		tick: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "tick",
			Help: "Last completed tick number",
		}),
		cells: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Name: "cells",
			Help: "Cells per tier and lifecycle state",
		}, []string{"tier", "state"}),
		capRefusals: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Name: "tier_cap_refusals_total",
			Help: "Cells not enqueued because the tier cap was reached",
		}, []string{"tier"}),
		queueLen: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "load_queue_length",
			Help: "Entries waiting in the load queue",
		}),
		queueDropped: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "load_queue_dropped_total",
			Help: "Entries dropped because the load queue was full",
		}),
		poolOps: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Name: "pool_acquires_total",
			Help: "Pool acquisitions by result",
		}, []string{"result"}),
		poolHitRate: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "pool_hit_ratio",
			Help: "Fraction of acquisitions served from the idle stacks",
		}),
		poolInstances: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Name: "pool_instances",
			Help: "Pooled instances by disposition",
		}, []string{"kind"}),
		decodeFailures: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "decode_failures_total",
			Help: "Asset decodes that ended in a placeholder",
		}),
		decodeInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "decode_in_flight",
			Help: "Decode jobs not yet completed",
		}),
		proxies: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "far_proxies",
			Help: "FAR impostor proxies held",
		}),
		providerErrors: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "provider_errors_total",
			Help: "World data lookups that failed and were treated as missing",
		}),
		tickDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Name: "tick_duration_seconds",
			Help:    "Time spent in one scheduler Process call",
			Buckets: []float64{.0005, .001, .002, .004, .008, .016, .033, .066},
		}),
	}
	if reg != nil {
		reg.MustRegister(
			e.tick, e.cells, e.capRefusals, e.queueLen, e.queueDropped,
			e.poolOps, e.poolHitRate, e.poolInstances,
			e.decodeFailures, e.decodeInFlight, e.proxies, e.providerErrors,
			e.tickDuration,
		)
	}
	return e
}

// Publish copies s into the gauges.
func (e *Exporter) Publish(s Snapshot) {
	e.tick.Set(float64(s.Tick))
	for _, t := range cell.Tiers {
		if t == cell.Horizon {
			continue
		}
		tc := s.Tier(t)
		e.cells.WithLabelValues(t.String(), cell.Queued.String()).Set(float64(tc.Queued))
		e.cells.WithLabelValues(t.String(), cell.Loading.String()).Set(float64(tc.Loading))
		e.cells.WithLabelValues(t.String(), cell.Loaded.String()).Set(float64(tc.Loaded))
		e.capRefusals.WithLabelValues(t.String()).Set(float64(tc.Refused))
	}
	e.queueLen.Set(float64(s.QueueLen))
	e.queueDropped.Set(float64(s.QueueDropped))
	e.poolOps.WithLabelValues("hit").Set(float64(s.PoolHits))
	e.poolOps.WithLabelValues("miss").Set(float64(s.PoolMisses))
	e.poolHitRate.Set(s.PoolHitRate)
	e.poolInstances.WithLabelValues("idle").Set(float64(s.PoolIdle))
	e.poolInstances.WithLabelValues("owned").Set(float64(s.PoolOwned))
	e.poolInstances.WithLabelValues("discarded").Set(float64(s.PoolDiscarded))
	e.decodeFailures.Set(float64(s.DecodeFailures))
	e.decodeInFlight.Set(float64(s.DecodeInFlight))
	e.proxies.Set(float64(s.Proxies))
	e.providerErrors.Set(float64(s.ProviderErrors))
}

// ObserveTick records the duration of one tick's budgeted work.
func (e *Exporter) ObserveTick(seconds float64) {
	e.tickDuration.Observe(seconds)
}
