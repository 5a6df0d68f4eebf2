package mirror

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type metricsProvider struct {
	passes      *prometheus.CounterVec
	calls       *prometheus.CounterVec
	rateLimited prometheus.Counter
	duration    prometheus.Histogram
}

func newMetricsProvider(registry *prometheus.Registry) *metricsProvider {
	if registry == nil {
		return nil
	}

	provider := &metricsProvider{
		passes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "taskrelay_sync_passes_total",
				Help: "Total number of sync passes by result",
			},
			[]string{"result"},
		),
		calls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "taskrelay_api_calls_total",
				Help: "Total number of messaging API calls by method and classified outcome",
			},
			[]string{"method", "condition"},
		),
		rateLimited: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "taskrelay_rate_limited_total",
				Help: "Total number of calls that were rate limited and retried",
			},
		),
		duration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "taskrelay_sync_pass_seconds",
				Help:    "Duration of sync passes",
				Buckets: prometheus.ExponentialBuckets(0.05, 2, 10),
			},
		),
	}

	registry.MustRegister(
		provider.passes,
		provider.calls,
		provider.rateLimited,
		provider.duration,
	)

	return provider
}

func (p *metricsProvider) incPass(result string) {
	if p != nil && p.passes != nil {
		p.passes.WithLabelValues(result).Inc()
	}
}

func (p *metricsProvider) incCall(method, condition string) {
	if p != nil && p.calls != nil {
		p.calls.WithLabelValues(method, condition).Inc()
	}
}

func (p *metricsProvider) incRateLimited() {
	if p != nil && p.rateLimited != nil {
		p.rateLimited.Inc()
	}
}

func (p *metricsProvider) observeDuration(d time.Duration) {
	if p != nil && p.duration != nil {
		p.duration.Observe(d.Seconds())
	}
}
