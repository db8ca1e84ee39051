package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func init() {
	register(jobsSubmittedTotal, jobsFinishedTotal, stageDurationSeconds, transcriptionPollsTotal, staleJobsReapedTotal)
}

var (
	jobsSubmittedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pipeline_jobs_submitted_total",
			Help: "Job submissions by outcome (accepted, invalid, in_flight, rate_limited, queue_full).",
		},
		[]string{"outcome"},
	)

	jobsFinishedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pipeline_jobs_finished_total",
			Help: "Jobs that reached a terminal state, labeled by status and failing stage.",
		},
		[]string{"status", "stage"}, // 'completed'|'error', stage is empty on success
	)

	stageDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "pipeline_stage_duration_seconds",
			Help:    "Wall time spent per pipeline stage.",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1200},
		},
		[]string{"stage", "success"},
	)

	transcriptionPollsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "transcription_polls_total",
			Help: "Transcription status polls by reported sub-status.",
		},
		[]string{"status"},
	)

	staleJobsReapedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "pipeline_stale_jobs_reaped_total",
			Help: "Non-terminal jobs moved to error because they stopped making progress.",
		},
	)
)

func IncJobSubmitted(outcome string) {
	jobsSubmittedTotal.WithLabelValues(norm(outcome)).Inc()
}

func IncJobFinished(status, stage string) {
	jobsFinishedTotal.WithLabelValues(norm(status), norm(stage)).Inc()
}

func ObserveStage(stage string, d time.Duration, success bool) {
	stageDurationSeconds.WithLabelValues(norm(stage), strconv.FormatBool(success)).Observe(d.Seconds())
}

func IncTranscriptionPoll(status string) {
	transcriptionPollsTotal.WithLabelValues(norm(status)).Inc()
}

func AddStaleJobsReaped(n int) {
	staleJobsReapedTotal.Add(float64(n))
}
