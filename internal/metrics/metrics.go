package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Orchestration metrics for production monitoring
var (
	// Turn metrics
	TurnsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "faultmaven_turns_total",
			Help: "Total number of processed turns",
		},
		[]string{"phase", "outcome"}, // outcome: ok/degraded/escalated/failed
	)

	TurnDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "faultmaven_turn_duration_seconds",
			Help:    "End-to-end turn duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 12), // 50ms to ~100s
		},
		[]string{"phase"},
	)

	ActiveTurns = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "faultmaven_active_turns",
			Help: "Number of turns currently being processed",
		},
	)

	InvestigationsStarted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "faultmaven_investigations_started_total",
			Help: "Total number of investigations created",
		},
	)

	// Lifecycle metrics
	PhaseTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "faultmaven_phase_transitions_total",
			Help: "Total number of lifecycle phase transitions",
		},
		[]string{"from", "to", "forced"},
	)

	LoopIterations = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "faultmaven_loop_iterations_total",
			Help: "Total number of analysis-loop iterations opened",
		},
	)

	Escalations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "faultmaven_escalations_total",
			Help: "Total number of escalations by trigger",
		},
		[]string{"trigger"},
	)

	// Generation metrics
	GenerationRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "faultmaven_generation_requests_total",
			Help: "Total number of generation requests",
		},
		[]string{"provider", "status"},
	)

	GenerationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "faultmaven_generation_duration_seconds",
			Help:    "Generation request duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 10), // 100ms to ~1min
		},
		[]string{"provider"},
	)

	GenerationRetries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "faultmaven_generation_retries_total",
			Help: "Total number of generation retries by error class",
		},
		[]string{"class"},
	)

	// Recovery metrics
	ParseFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "faultmaven_parse_failures_total",
			Help: "Responses that fell back to degraded parsing",
		},
		[]string{"shape"},
	)

	StateRepairs = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "faultmaven_state_repairs_total",
			Help: "Invariant violations corrected on load",
		},
		[]string{"kind"},
	)

	LoopsDetected = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "faultmaven_control_loops_detected_total",
			Help: "Repeated-decision loops broken by a forced transition",
		},
	)

	// Storage metrics
	StateSaveConflicts = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "faultmaven_state_save_conflicts_total",
			Help: "State saves rejected by the optimistic version check",
		},
	)
)
