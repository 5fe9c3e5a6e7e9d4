package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// TasksEnqueued counts tasks accepted into the store, by producer
	TasksEnqueued = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "claude_tasker",
		Subsystem: "queue",
		Name:      "tasks_enqueued_total",
		Help:      "Total tasks enqueued, labelled by producer.",
	}, []string{"source"})

	// QueueDepth is the number of queued tasks seen at the last poll
	QueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "claude_tasker",
		Subsystem: "queue",
		Name:      "depth",
		Help:      "Queued tasks at the last scheduler poll.",
	})

	// TasksInFlight is 1 while an attempt is running
	TasksInFlight = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "claude_tasker",
		Subsystem: "scheduler",
		Name:      "tasks_inflight",
		Help:      "Tasks currently being executed.",
	})

	// AttemptsTotal counts finished attempts by resulting task status
	AttemptsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "claude_tasker",
		Subsystem: "scheduler",
		Name:      "attempts_total",
		Help:      "Finished attempts, labelled by the status the task moved to.",
	}, []string{"status"})

	// AttemptDurationSeconds measures one attempt end to end
	AttemptDurationSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "claude_tasker",
		Subsystem: "scheduler",
		Name:      "attempt_duration_seconds",
		Help:      "End-to-end attempt time in seconds.",
		Buckets:   []float64{0.5, 1, 5, 10, 30, 60, 120, 300, 600},
	})

	// AgentErrors counts failed agent calls by backend and kind
	AgentErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "claude_tasker",
		Subsystem: "agent",
		Name:      "errors_total",
		Help:      "Failed agent invocations, labelled by backend and reason.",
	}, []string{"backend", "reason"})

	// ActionsExecuted counts executed actions by kind and result
	ActionsExecuted = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "claude_tasker",
		Subsystem: "executor",
		Name:      "actions_total",
		Help:      "Executed actions, labelled by kind and result.",
	}, []string{"kind", "result"})

	// WebhookDeliveries counts notification deliveries by provider and result
	WebhookDeliveries = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "claude_tasker",
		Subsystem: "webhook",
		Name:      "deliveries_total",
		Help:      "Webhook deliveries, labelled by provider and result.",
	}, []string{"provider", "result"})
)
