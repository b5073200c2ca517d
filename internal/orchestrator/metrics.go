package orchestrator

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// StepsTotal counts executed steps.
	// Labels: step, outcome (applied, discarded, collaborator_error, timeout)
	StepsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "foundry",
			Subsystem: "engine",
			Name:      "steps_total",
			Help:      "Total number of executed steps by outcome",
		},
		[]string{"step", "outcome"},
	)

	// StepDuration tracks collaborator call time per step, retries included.
	StepDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "foundry",
			Subsystem: "engine",
			Name:      "step_duration_seconds",
			Help:      "Duration of step execution in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"step"},
	)

	// CollaboratorRetries counts retried collaborator calls.
	CollaboratorRetries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "foundry",
			Subsystem: "engine",
			Name:      "collaborator_retries_total",
			Help:      "Total number of retried collaborator calls",
		},
		[]string{"step"},
	)

	// RunsActive is the number of runs currently holding a session.
	RunsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "foundry",
			Subsystem: "engine",
			Name:      "runs_active",
			Help:      "Number of runs currently in progress",
		},
	)

	// RunsFinished counts stopped runs.
	// Labels: outcome (halted, completed, failed, error, replayed)
	RunsFinished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "foundry",
			Subsystem: "engine",
			Name:      "runs_finished_total",
			Help:      "Total number of finished runs by outcome",
		},
		[]string{"outcome"},
	)
)
