package deploy

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/splax/templatehub/internal/domain"
)

var stageBuckets = []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300, 600}

type metrics struct {
	stageDuration *prometheus.HistogramVec
	outcomes      *prometheus.CounterVec
}

// newMetrics registers the deployment collectors on reg. A nil reg keeps
// the collectors unregistered, which tests rely on.
func newMetrics(reg prometheus.Registerer) *metrics {
	m := &metrics{
		stageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "templatehub",
			Subsystem: "deploy",
			Name:      "stage_duration_seconds",
			Help:      "Duration of deployment pipeline stages",
			Buckets:   stageBuckets,
		}, []string{"stage", "result"}),
		outcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "templatehub",
			Subsystem: "deploy",
			Name:      "deployments_total",
			Help:      "Count of finished deployments by terminal status",
		}, []string{"status"}),
	}
	if reg == nil {
		return m
	}
	if err := reg.Register(m.stageDuration); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(*prometheus.HistogramVec); ok {
				m.stageDuration = existing
			}
		}
	}
	if err := reg.Register(m.outcomes); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(*prometheus.CounterVec); ok {
				m.outcomes = existing
			}
		}
	}
	return m
}

func (m *metrics) observeStage(stage domain.Status, err error, d time.Duration) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.stageDuration.With(prometheus.Labels{"stage": string(stage), "result": result}).Observe(d.Seconds())
}

func (m *metrics) observeOutcome(status domain.Status) {
	m.outcomes.With(prometheus.Labels{"status": string(status)}).Inc()
}
