package recorder

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/hazyhaar/selfheal/autoheal/locator"
)

// Metrics exposes healing counters on a Prometheus registry.
type Metrics struct {
	attempts *prometheus.CounterVec
	duration *prometheus.HistogramVec
	direct   prometheus.Counter
}

// NewMetrics registers the healing metrics on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		attempts: f.NewCounterVec(prometheus.CounterOpts{
			Name: "autoheal_attempts_total",
			Help: "Healing attempts by strategy and outcome.",
		}, []string{"strategy", "outcome"}),
		duration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "autoheal_heal_duration_seconds",
			Help:    "Time spent healing a failed action.",
			Buckets: []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		}, []string{"strategy"}),
		direct: f.NewCounter(prometheus.CounterOpts{
			Name: "autoheal_direct_total",
			Help: "Actions that succeeded on the original locator.",
		}),
	}
}

func (m *Metrics) observe(rec locator.HealingRecord) {
	outcome := "failure"
	if rec.Success {
		outcome = "success"
	}
	m.attempts.WithLabelValues(string(rec.Strategy), outcome).Inc()
	m.duration.WithLabelValues(string(rec.Strategy)).Observe(float64(rec.LatencyMs) / 1000)
}

func (m *Metrics) incDirect() { m.direct.Inc() }
