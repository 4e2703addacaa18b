// SPDX-License-Identifier: Apache-2.0

package metrics

import (
	"sync"
	"time"

	"github.com/craftline/production-tracker/internal/domain"
	"github.com/prometheus/client_golang/prometheus"
)

// Transition outcomes.
const (
	OutcomeSuccess             = "success"
	OutcomeStale               = "stale"
	OutcomeChecklistIncomplete = "checklist_incomplete"
	OutcomeInvalid             = "invalid"
	OutcomeError               = "error"
)

var (
	initOnce sync.Once

	stageTransitionsCounter  *prometheus.CounterVec
	checkUpdatesCounter      *prometheus.CounterVec
	deliveriesCounter        *prometheus.CounterVec
	transitionDurationMetric prometheus.Histogram
	storeErrorsCounter       *prometheus.CounterVec
)

// Init registers metrics on the default Prometheus registry exactly once.
func Init() {
	initOnce.Do(func() {
		stageTransitionsCounter = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "stage_transitions_total",
				Help: "Total number of proceed attempts by stage left and outcome.",
			},
			[]string{"from", "outcome"},
		)

		checkUpdatesCounter = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "check_updates_total",
				Help: "Total number of checklist item updates by new status.",
			},
			[]string{"status"},
		)

		deliveriesCounter = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "deliveries_total",
				Help: "Total number of delivery requests by outcome.",
			},
			[]string{"outcome"},
		)

		transitionDurationMetric = prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "stage_transition_duration_seconds",
				Help:    "Duration of proceed calls in seconds.",
				Buckets: prometheus.DefBuckets,
			},
		)

		storeErrorsCounter = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "workflow_store_errors_total",
				Help: "Total number of data store failures by operation.",
			},
			[]string{"op"},
		)

		prometheus.MustRegister(
			stageTransitionsCounter,
			checkUpdatesCounter,
			deliveriesCounter,
			transitionDurationMetric,
			storeErrorsCounter,
		)

		// Ensure counter vectors are visible at /metrics before first increment.
		for _, stage := range domain.KnownStages {
			stageTransitionsCounter.WithLabelValues(string(stage), OutcomeSuccess)
		}

		for _, status := range []domain.CheckStatus{
			domain.CheckPending,
			domain.CheckPassed,
			domain.CheckFailed,
			domain.CheckSkipped,
		} {
			checkUpdatesCounter.WithLabelValues(string(status))
		}

		deliveriesCounter.WithLabelValues(OutcomeSuccess)
	})
}

func IncStageTransition(from domain.Stage, outcome string) {
	Init()
	stageTransitionsCounter.WithLabelValues(string(from), outcome).Inc()
}

func IncCheckUpdate(status domain.CheckStatus) {
	Init()
	checkUpdatesCounter.WithLabelValues(string(status)).Inc()
}

func IncDelivery(outcome string) {
	Init()
	deliveriesCounter.WithLabelValues(outcome).Inc()
}

func ObserveTransitionDuration(d time.Duration) {
	Init()
	transitionDurationMetric.Observe(d.Seconds())
}

func IncStoreError(op string) {
	Init()
	storeErrorsCounter.WithLabelValues(op).Inc()
}
