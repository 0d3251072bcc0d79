// Package metrics registers the Prometheus collectors served on /metrics.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "triad_api_request_duration_seconds",
			Help:    "Duration of API requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route", "status"},
	)

	APIRequestsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "triad_api_requests_in_flight",
			Help: "Current number of API requests being served",
		},
	)

	// category is a pillar name or "harmony"; outcome is a streak.Outcome.
	StreakEvaluations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "triad_streak_evaluations_total",
			Help: "Streak category evaluations by outcome",
		},
		[]string{"category", "outcome"},
	)

	StreakRecalculationDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "triad_streak_recalculation_duration_seconds",
			Help:    "Duration of a full per-user streak recalculation",
			Buckets: prometheus.DefBuckets,
		},
	)

	StreakRecalculationErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "triad_streak_recalculation_errors_total",
			Help: "Streak recalculations that failed and were rolled back",
		},
	)

	CheckInsSaved = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "triad_check_ins_saved_total",
			Help: "Saved check-ins by type (daily, morning_intent, evening_reflection)",
		},
		[]string{"type"},
	)

	ActivitiesLogged = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "triad_activities_logged_total",
			Help: "Activity log rows written by daily check-ins",
		},
	)
)

func RecordAPIRequest(method, route string, status int, duration time.Duration) {
	APIRequestDuration.WithLabelValues(method, route, strconv.Itoa(status)).Observe(duration.Seconds())
}

func TrackActiveRequest(inc bool) {
	if inc {
		APIRequestsInFlight.Inc()
	} else {
		APIRequestsInFlight.Dec()
	}
}

func RecordStreakEvaluation(category, outcome string) {
	StreakEvaluations.WithLabelValues(category, outcome).Inc()
}

func RecordStreakRecalculation(duration time.Duration, err error) {
	StreakRecalculationDuration.Observe(duration.Seconds())
	if err != nil {
		StreakRecalculationErrors.Inc()
	}
}

func RecordCheckIn(kind string, activities int) {
	CheckInsSaved.WithLabelValues(kind).Inc()
	if activities > 0 {
		ActivitiesLogged.Add(float64(activities))
	}
}
