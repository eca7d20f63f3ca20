package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	// SubmissionsGraded counts graded submissions by grading mode and outcome.
	SubmissionsGraded = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "grading_submissions_total",
			Help: "Total number of submissions processed by the grading workflow",
		},
		[]string{"mode", "status"},
	)

	// GradingDuration measures end-to-end grading duration per submission.
	GradingDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name: "grading_duration_seconds",
			Help: "Submission grading duration in seconds",
		},
	)

	// SimilarityRuns counts per-question similarity batches.
	SimilarityRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "similarity_runs_total",
			Help: "Total number of per-question similarity comparison batches",
		},
		[]string{"status"},
	)

	// SimilarityFlags counts persisted similarity flags.
	SimilarityFlags = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "similarity_flags_total",
			Help: "Total number of similarity flags persisted",
		},
	)
)

// InitPrometheus registers all service metrics.
func InitPrometheus() {
	prometheus.MustRegister(SubmissionsGraded)
	prometheus.MustRegister(GradingDuration)
	prometheus.MustRegister(SimilarityRuns)
	prometheus.MustRegister(SimilarityFlags)
}
