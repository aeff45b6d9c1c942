package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics bundles the prometheus collectors every study emits into,
// scoped to trial lifecycle events plus advisory host gauges.
type Metrics struct {
	TrialsStarted   *prometheus.CounterVec
	TrialsCompleted *prometheus.CounterVec
	TrialsFailed    *prometheus.CounterVec
	TrialsPruned    *prometheus.CounterVec
	TrialDuration   *prometheus.HistogramVec
	HostCPUPercent  prometheus.Gauge
	HostMemPercent  prometheus.Gauge
}

// NewMetrics registers a fresh metrics bundle on reg. Passing nil uses a
// private registry (safe for concurrent studies/tests that would otherwise
// collide on prometheus's global DefaultRegisterer).
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	m := &Metrics{
		TrialsStarted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "scout_trials_started_total",
			Help: "Total number of trials dequeued by a worker.",
		}, []string{"study_id"}),
		TrialsCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "scout_trials_completed_total",
			Help: "Total number of trials that finished with a score.",
		}, []string{"study_id"}),
		TrialsFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "scout_trials_failed_total",
			Help: "Total number of trials that failed.",
		}, []string{"study_id"}),
		TrialsPruned: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "scout_trials_pruned_total",
			Help: "Total number of trials stopped early by a pruner.",
		}, []string{"study_id"}),
		TrialDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "scout_trial_duration_seconds",
			Help:    "Wall-clock duration of a trial from dequeue to terminal status.",
			Buckets: prometheus.DefBuckets,
		}, []string{"study_id", "status"}),
		HostCPUPercent: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "scout_host_cpu_percent",
			Help: "Advisory host CPU utilization sampled by the scheduler's resource monitor.",
		}),
		HostMemPercent: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "scout_host_mem_percent",
			Help: "Advisory host memory utilization sampled by the scheduler's resource monitor.",
		}),
	}
	for _, c := range []prometheus.Collector{
		m.TrialsStarted, m.TrialsCompleted, m.TrialsFailed, m.TrialsPruned,
		m.TrialDuration, m.HostCPUPercent, m.HostMemPercent,
	} {
		_ = reg.Register(c)
	}
	return m
}

// Noop returns a Metrics bundle backed by an unreferenced registry, for
// callers (mostly tests) that don't care about observing values.
func Noop() *Metrics { return NewMetrics(prometheus.NewRegistry()) }
