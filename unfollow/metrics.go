package unfollow

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics 运行指标。使用独立的 registry，避免污染全局默认注册表。
type Metrics struct {
	registry *prometheus.Registry

	ScanPasses    prometheus.Counter
	Unfollows     prometheus.Counter
	DryRuns       prometheus.Counter
	Skips         *prometheus.CounterVec
	RateLimitHits prometheus.Counter
	Undos         prometheus.Counter
}

// NewMetrics 创建并注册所有计数器。
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		ScanPasses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "unfollow_radar",
			Name:      "scan_passes_total",
			Help:      "Total number of scan passes over the following list.",
		}),
		Unfollows: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "unfollow_radar",
			Name:      "unfollows_total",
			Help:      "Total number of successful unfollow actions.",
		}),
		DryRuns: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "unfollow_radar",
			Name:      "dry_runs_total",
			Help:      "Total number of simulated unfollow actions.",
		}),
		Skips: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "unfollow_radar",
			Name:      "skips_total",
			Help:      "Total number of skipped candidates by reason class.",
		}, []string{"reason"}),
		RateLimitHits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "unfollow_radar",
			Name:      "rate_limit_hits_total",
			Help:      "Total number of detected rate limits.",
		}),
		Undos: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "unfollow_radar",
			Name:      "undo_operations_total",
			Help:      "Total number of undo (refollow) operations.",
		}),
	}

	registry.MustRegister(m.ScanPasses, m.Unfollows, m.DryRuns, m.Skips, m.RateLimitHits, m.Undos)
	return m
}

// Handler 返回 /metrics 的 HTTP handler。
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
