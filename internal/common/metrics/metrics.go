package metrics

import (
	"time"

	"match-workers/internal/models"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	WorkerJobsCompleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "worker_jobs_completed_total",
			Help: "Total number of jobs completed by worker",
		},
		[]string{"task_type"},
	)

	WorkerJobsFailed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "worker_jobs_failed_total",
			Help: "Total number of jobs failed by worker",
		},
		[]string{"task_type", "error_code"},
	)

	WorkerJobDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "worker_job_duration_seconds",
			Help: "Duration of job processing in seconds",
		},
		[]string{"task_type"},
	)

	WorkerJobsActive = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "worker_jobs_active",
			Help: "Number of active jobs per worker",
		},
		[]string{"task_type"},
	)
)

// MatchMetrics records weekly run outcomes.
type MatchMetrics struct {
	usersProcessed *prometheus.CounterVec
	userDuration   *prometheus.HistogramVec
	matchesCreated prometheus.Counter
	runsTotal      *prometheus.CounterVec
	runDuration    prometheus.Histogram
	lastRunFailed  prometheus.Gauge
	lastRunAt      prometheus.Gauge
}

// NewMatchMetrics registers the run metrics with reg.
func NewMatchMetrics(reg prometheus.Registerer) *MatchMetrics {
	f := promauto.With(reg)
	return &MatchMetrics{
		usersProcessed: f.NewCounterVec(prometheus.CounterOpts{
			Name: "match_users_processed_total",
			Help: "Members processed by the weekly match run",
		}, []string{"outcome", "error_kind"}),
		userDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "match_user_duration_seconds",
			Help:    "Duration of one member's match pipeline",
			Buckets: prometheus.DefBuckets,
		}, []string{"outcome"}),
		matchesCreated: f.NewCounter(prometheus.CounterOpts{
			Name: "match_matches_created_total",
			Help: "Matches persisted by the weekly run",
		}),
		runsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "match_runs_total",
			Help: "Weekly match runs by final state",
		}, []string{"state"}),
		runDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "match_run_duration_seconds",
			Help:    "Duration of weekly match runs",
			Buckets: prometheus.ExponentialBuckets(1, 2, 14),
		}),
		lastRunFailed: f.NewGauge(prometheus.GaugeOpts{
			Name: "match_last_run_users_failed",
			Help: "Members that failed in the most recent run",
		}),
		lastRunAt: f.NewGauge(prometheus.GaugeOpts{
			Name: "match_last_run_completed_timestamp_seconds",
			Help: "Unix time the most recent run finished",
		}),
	}
}

func (m *MatchMetrics) UserProcessed(outcome, errorKind string, d time.Duration) {
	m.usersProcessed.WithLabelValues(outcome, errorKind).Inc()
	m.userDuration.WithLabelValues(outcome).Observe(d.Seconds())
}

func (m *MatchMetrics) MatchesCreated(n int) {
	if n > 0 {
		m.matchesCreated.Add(float64(n))
	}
}

func (m *MatchMetrics) RunFinished(r *models.BatchRunReport) {
	m.runsTotal.WithLabelValues(string(r.State)).Inc()
	m.runDuration.Observe(r.Duration().Seconds())
	m.lastRunFailed.Set(float64(r.UsersFailed))
	if !r.CompletedAt.IsZero() {
		m.lastRunAt.Set(float64(r.CompletedAt.Unix()))
	}
}
