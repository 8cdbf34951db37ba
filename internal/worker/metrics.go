package worker

import "github.com/prometheus/client_golang/prometheus"

var (
	jobsEnqueued *prometheus.CounterVec
	jobsTotal    *prometheus.CounterVec
	jobDuration  *prometheus.HistogramVec
	jobsInFlight prometheus.Gauge
)

func init() {
	jobsEnqueued = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "smlgpt",
		Name:      "jobs_enqueued_total",
		Help:      "Number of jobs added to the queue",
	}, []string{"name"})
	jobsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "smlgpt",
		Name:      "jobs_total",
		Help:      "Job attempts partitioned by outcome (completed, retried, stalled, failed)",
	}, []string{"name", "outcome"})
	jobDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "smlgpt",
		Name:      "job_duration_seconds",
		Help:      "Time spent on one job attempt",
		Buckets:   []float64{0.5, 1, 5, 15, 30, 60, 120, 300},
	}, []string{"name"})
	jobsInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "smlgpt",
		Name:      "jobs_in_flight",
		Help:      "Jobs currently being processed",
	})

	prometheus.MustRegister(jobsEnqueued, jobsTotal, jobDuration, jobsInFlight)
}
