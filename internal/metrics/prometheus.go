package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PrometheusRecorder implements Recorder using Prometheus metrics.
type PrometheusRecorder struct {
	intakeTotal     *prometheus.CounterVec
	dequeueTotal    *prometheus.CounterVec
	dequeueDuration *prometheus.HistogramVec
	redirectRaces   prometheus.Counter
	staleEntries    prometheus.Counter
}

// NewPrometheusRecorder registers the dispatch metrics on reg.
func NewPrometheusRecorder(reg prometheus.Registerer) *PrometheusRecorder {
	f := promauto.With(reg)
	return &PrometheusRecorder{
		intakeTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "callqueue_intake_total",
				Help: "Inbound calls by route and result",
			},
			[]string{"route", "status"},
		),
		dequeueTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "callqueue_dequeue_total",
				Help: "Agent dequeue requests by outcome",
			},
			[]string{"outcome"},
		),
		dequeueDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "callqueue_dequeue_duration_seconds",
				Help:    "Time spent assigning a queued conversation to an agent",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"outcome"},
		),
		redirectRaces: f.NewCounter(prometheus.CounterOpts{
			Name: "callqueue_redirect_races_total",
			Help: "Claimed conversations whose customer hung up before the redirect",
		}),
		staleEntries: f.NewCounter(prometheus.CounterOpts{
			Name: "callqueue_stale_queue_entries_total",
			Help: "Queue entries skipped because the conversation was no longer enqueued",
		}),
	}
}

func (p *PrometheusRecorder) ObserveIntake(route string, success bool) {
	status := "success"
	if !success {
		status = "error"
	}
	p.intakeTotal.WithLabelValues(route, status).Inc()
}

func (p *PrometheusRecorder) ObserveDequeue(outcome string, duration time.Duration) {
	p.dequeueTotal.WithLabelValues(outcome).Inc()
	p.dequeueDuration.WithLabelValues(outcome).Observe(duration.Seconds())
}

func (p *PrometheusRecorder) IncRedirectRace() {
	p.redirectRaces.Inc()
}

func (p *PrometheusRecorder) IncStaleQueueEntry() {
	p.staleEntries.Inc()
}
