// Package metrics exposes pipeline metrics on a private Prometheus registry.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"call-review-go/internal/types"
)

type Metrics struct {
	registry *prometheus.Registry

	StageDuration *prometheus.HistogramVec
	StageOutcomes *prometheus.CounterVec
	Retries       *prometheus.CounterVec
	RunsInFlight  prometheus.Gauge
	Reports       *prometheus.CounterVec
	Rejected      prometheus.Counter
	QueueDepth    prometheus.Gauge
	PublishErrors prometheus.Counter
}

func New() *Metrics {
	m := &Metrics{
		registry:      prometheus.NewRegistry(),
		StageDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "callreview_stage_duration_seconds",
				Help:    "Time spent in each pipeline stage",
				Buckets: prometheus.ExponentialBuckets(0.01, 2, 14), // 10ms to ~80s
			},
			[]string{"stage"},
		),
		StageOutcomes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "callreview_stage_outcomes_total",
				Help: "Stage results by status",
			},
			[]string{"stage", "status"},
		),
		Retries: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "callreview_capability_retries_total",
				Help: "Retries of external capability calls",
			},
			[]string{"capability"},
		),
		RunsInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "callreview_runs_in_flight",
			Help: "Calls currently being processed",
		}),
		Reports: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "callreview_reports_total",
				Help: "Reports produced by overall status",
			},
			[]string{"status"},
		),
		Rejected: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "callreview_rejected_total",
			Help: "Recordings rejected at ingestion",
		}),
		QueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "callreview_queue_depth",
			Help: "Jobs waiting for a pool worker",
		}),
		PublishErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "callreview_publish_errors_total",
			Help: "Reports that could not be handed to a sink",
		}),
	}
	m.registry.MustRegister(
		m.StageDuration, m.StageOutcomes, m.Retries, m.RunsInFlight,
		m.Reports, m.Rejected, m.QueueDepth, m.PublishErrors,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// ObserveStage records one finished stage.
func (m *Metrics) ObserveStage(stage types.Stage, status types.StatusTag, d time.Duration) {
	if m == nil {
		return
	}
	m.StageDuration.WithLabelValues(string(stage)).Observe(d.Seconds())
	m.StageOutcomes.WithLabelValues(string(stage), string(status)).Inc()
}

// RetryHook returns a backoff notify function counting retries of capability.
func (m *Metrics) RetryHook(capability string) func(error, time.Duration) {
	return func(error, time.Duration) {
		if m != nil {
			m.Retries.WithLabelValues(capability).Inc()
		}
	}
}

func (m *Metrics) ObserveReport(status types.OverallStatus) {
	if m == nil {
		return
	}
	m.Reports.WithLabelValues(string(status)).Inc()
}

func (m *Metrics) ObserveRejected() {
	if m != nil {
		m.Rejected.Inc()
	}
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{EnableOpenMetrics: false})
}
