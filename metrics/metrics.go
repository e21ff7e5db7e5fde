// Package metrics exposes backup run statistics in the Prometheus format.
//
// A nil *Collector is valid and records nothing, so components can take one
// unconditionally.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "folder_backup"

// Run results used as the "result" label.
const (
	ResultSuccess  = "success"
	ResultFailed   = "failed"
	ResultDeclined = "declined"
	ResultSkipped  = "skipped"
)

// Collector owns the backup metrics and the registry they live in.
type Collector struct {
	registry *prometheus.Registry

	runsTotal        *prometheus.CounterVec
	runDuration      prometheus.Histogram
	skippedTicks     prometheus.Counter
	bytesCopied      prometheus.Counter
	filesCopied      prometheus.Counter
	retentionRemoved prometheus.Counter
	retentionFailed  prometheus.Counter
	lastSuccess      prometheus.Gauge
	backupsRetained  prometheus.Gauge
}

// NewCollector registers all metrics in registry, or in a fresh one if nil.
func NewCollector(registry *prometheus.Registry) *Collector {
	if registry == nil {
		registry = prometheus.NewRegistry()
	}

	c := &Collector{
		registry: registry,
		runsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Backup runs by result.",
		}, []string{"result"}),
		runDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Wall time of completed backup runs.",
			Buckets:   []float64{1, 5, 15, 60, 300, 900, 3600, 4 * 3600},
		}),
		skippedTicks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "skipped_ticks_total",
			Help:      "Run requests dropped because a run was already in progress.",
		}),
		bytesCopied: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bytes_copied_total",
			Help:      "Bytes written into backup folders.",
		}),
		filesCopied: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "files_copied_total",
			Help:      "Files written into backup folders.",
		}),
		retentionRemoved: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "retention_removed_total",
			Help:      "Old backup folders deleted by retention.",
		}),
		retentionFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "retention_failures_total",
			Help:      "Old backup folders retention failed to delete.",
		}),
		lastSuccess: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_success_timestamp_seconds",
			Help:      "Unix time of the last successful backup.",
		}),
		backupsRetained: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "backups_retained",
			Help:      "Backup folders present after the last successful run.",
		}),
	}

	registry.MustRegister(
		c.runsTotal,
		c.runDuration,
		c.skippedTicks,
		c.bytesCopied,
		c.filesCopied,
		c.retentionRemoved,
		c.retentionFailed,
		c.lastSuccess,
		c.backupsRetained,
	)
	return c
}

// Registry backing the collector.
func (c *Collector) Registry() *prometheus.Registry {
	if c == nil {
		return nil
	}
	return c.registry
}

// Handler serves the collector's registry.
func (c *Collector) Handler() http.Handler {
	if c == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// RunFinished counts a run with the given result. Duration is observed for successes only.
func (c *Collector) RunFinished(result string, duration time.Duration) {
	if c == nil {
		return
	}
	c.runsTotal.WithLabelValues(result).Inc()
	if result == ResultSuccess {
		c.runDuration.Observe(duration.Seconds())
	}
}

func (c *Collector) TickSkipped() {
	if c == nil {
		return
	}
	c.skippedTicks.Inc()
}

func (c *Collector) Copied(files int, bytes int64) {
	if c == nil {
		return
	}
	c.filesCopied.Add(float64(files))
	c.bytesCopied.Add(float64(bytes))
}

func (c *Collector) Retention(removed, failed int) {
	if c == nil {
		return
	}
	c.retentionRemoved.Add(float64(removed))
	c.retentionFailed.Add(float64(failed))
}

// Succeeded records the completion time and the number of backups now on disk.
func (c *Collector) Succeeded(at time.Time, retained int) {
	if c == nil {
		return
	}
	c.lastSuccess.Set(float64(at.Unix()))
	c.backupsRetained.Set(float64(retained))
}
