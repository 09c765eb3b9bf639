package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Cycle, scan and dispatch counters, partitioned by chain where it applies.

var (
	// Orchestrator
	CyclesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "buyxanbot",
		Subsystem: "monitor",
		Name:      "cycles_total",
		Help:      "Total monitoring cycles run",
	})

	CyclesSkipped = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "buyxanbot",
		Subsystem: "monitor",
		Name:      "cycles_skipped_total",
		Help:      "Trigger ticks dropped because a cycle was still in progress",
	})

	CycleDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "buyxanbot",
		Subsystem: "monitor",
		Name:      "cycle_duration_seconds",
		Help:      "Monitoring cycle duration",
		Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
	})

	CycleInProgress = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "buyxanbot",
		Subsystem: "monitor",
		Name:      "cycle_in_progress",
		Help:      "1 while a monitoring cycle is running",
	})

	// Scanner
	ScansTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "buyxanbot",
		Subsystem: "scanner",
		Name:      "scans_total",
		Help:      "Chain scans by outcome",
	}, []string{"chain", "outcome"})

	ScanDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "buyxanbot",
		Subsystem: "scanner",
		Name:      "scan_duration_seconds",
		Help:      "Chain scan duration",
		Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
	}, []string{"chain"})

	GapWarnings = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "buyxanbot",
		Subsystem: "scanner",
		Name:      "gap_warnings_total",
		Help:      "Scans that skipped an unreachable range",
	}, []string{"chain"})

	Checkpoint = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "buyxanbot",
		Subsystem: "scanner",
		Name:      "checkpoint",
		Help:      "Last stored checkpoint per chain",
	}, []string{"chain"})

	// Dispatcher
	EventsDispatched = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "buyxanbot",
		Subsystem: "dispatcher",
		Name:      "events_dispatched_total",
		Help:      "Events fully delivered to every subscriber",
	}, []string{"chain"})

	DispatchFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "buyxanbot",
		Subsystem: "dispatcher",
		Name:      "failures_total",
		Help:      "Dispatch batches stopped by a send failure",
	}, []string{"chain", "kind"})

	// Runtime
	SupervisorRestarts = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "buyxanbot",
		Subsystem: "runtime",
		Name:      "task_restarts_total",
		Help:      "Supervised task restarts",
	}, []string{"task"})

	WebhookUpdates = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "buyxanbot",
		Subsystem: "transport",
		Name:      "webhook_updates_total",
		Help:      "Inbound webhook requests by result",
	}, []string{"result"})
)
