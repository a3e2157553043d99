// Package metrics exposes Prometheus collectors for the scene server. A nil
// *Collectors is valid and records nothing.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Fetch and slice outcomes.
const (
	OutcomeSuccess = "success"
	OutcomeError   = "error"
	OutcomeStale   = "stale"
)

// Collectors groups the server's metrics.
type Collectors struct {
	fetches     *prometheus.CounterVec
	slices      *prometheus.CounterVec
	frameRender *prometheus.HistogramVec
	entries     prometheus.Gauge
	exports     *prometheus.CounterVec
	wsClients   prometheus.Gauge
}

// New creates the collectors and registers them on reg.
func New(reg prometheus.Registerer) *Collectors {
	c := &Collectors{
		fetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ocs",
			Name:      "fetch_total",
			Help:      "Completed geometry fetches by outcome.",
		}, []string{"outcome"}),
		slices: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ocs",
			Name:      "slice_total",
			Help:      "Completed slice requests by outcome.",
		}, []string{"outcome"}),
		frameRender: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "ocs",
			Name:      "frame_render_seconds",
			Help:      "Time spent rasterizing a frame.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 12),
		}, []string{"kind"}),
		entries: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "ocs",
			Name:      "entries",
			Help:      "Number of entries in the scene.",
		}),
		exports: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ocs",
			Name:      "export_jobs_total",
			Help:      "Finished export jobs by status.",
		}, []string{"status"}),
		wsClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "ocs",
			Name:      "websocket_clients",
			Help:      "Connected websocket clients.",
		}),
	}
	reg.MustRegister(c.fetches, c.slices, c.frameRender, c.entries, c.exports, c.wsClients)
	return c
}

// Fetch counts a primary fetch completion.
func (c *Collectors) Fetch(outcome string) {
	if c == nil {
		return
	}
	c.fetches.WithLabelValues(outcome).Inc()
}

// Slice counts a slice completion.
func (c *Collectors) Slice(outcome string) {
	if c == nil {
		return
	}
	c.slices.WithLabelValues(outcome).Inc()
}

// FrameRendered observes one rasterization.
func (c *Collectors) FrameRendered(kind string, d time.Duration) {
	if c == nil {
		return
	}
	c.frameRender.WithLabelValues(kind).Observe(d.Seconds())
}

// SetEntries records the entry count.
func (c *Collectors) SetEntries(n int) {
	if c == nil {
		return
	}
	c.entries.Set(float64(n))
}

// ExportFinished counts a finished export job.
func (c *Collectors) ExportFinished(status string) {
	if c == nil {
		return
	}
	c.exports.WithLabelValues(status).Inc()
}

// ClientConnected adjusts the websocket client gauge by delta.
func (c *Collectors) ClientConnected(delta int) {
	if c == nil {
		return
	}
	c.wsClients.Add(float64(delta))
}
