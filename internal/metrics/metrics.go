// Package metrics exposes coordinator activity as Prometheus collectors.
//
// Collectors are fed by subscribing Handle on the events Bus, so no
// component depends on Prometheus directly.
//
// Metrics:
//   - swarmweaver_messages_processed_total{outcome}
//   - swarmweaver_message_duration_seconds{outcome}
//   - swarmweaver_handoffs_total{from,to}
//   - swarmweaver_workflow_transitions_total{stage}
//   - swarmweaver_loops_suspected_total
//   - swarmweaver_function_calls_total{function,success}
//   - swarmweaver_errors_total{source,category}
package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/deeplifeai/swarmweaver-sub001/internal/events"
)

// Collectors holds the Prometheus metrics.
type Collectors struct {
	MessagesProcessed   *prometheus.CounterVec
	MessageDuration     *prometheus.HistogramVec
	Handoffs            *prometheus.CounterVec
	WorkflowTransitions *prometheus.CounterVec
	LoopsSuspected      prometheus.Counter
	FunctionCalls       *prometheus.CounterVec
	Errors              *prometheus.CounterVec
}

// New creates the collectors and registers them with reg.
// Pass prometheus.DefaultRegisterer to serve them from promhttp.Handler.
func New(reg prometheus.Registerer) *Collectors {
	f := promauto.With(reg)
	return &Collectors{
		MessagesProcessed: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "swarmweaver_messages_processed_total",
				Help: "Total number of inbound messages that reached a terminal state",
			},
			[]string{"outcome"}, // "delivered", "error_delivered" or "no_agent"
		),
		MessageDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "swarmweaver_message_duration_seconds",
				Help:    "Time from receipt to terminal state",
				Buckets: []float64{0.05, 0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
			},
			[]string{"outcome"},
		),
		Handoffs: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "swarmweaver_handoffs_total",
				Help: "Total number of recorded handoffs between agents",
			},
			[]string{"from", "to"},
		),
		WorkflowTransitions: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "swarmweaver_workflow_transitions_total",
				Help: "Total number of workflow stage changes, by new stage",
			},
			[]string{"stage"},
		),
		LoopsSuspected: f.NewCounter(
			prometheus.CounterOpts{
				Name: "swarmweaver_loops_suspected_total",
				Help: "Total number of repeated actions flagged as possible loops",
			},
		),
		FunctionCalls: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "swarmweaver_function_calls_total",
				Help: "Total number of agent function executions",
			},
			[]string{"function", "success"},
		),
		Errors: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "swarmweaver_errors_total",
				Help: "Total number of error events, by emitting component and category",
			},
			[]string{"source", "category"},
		),
	}
}

// Handle updates the collectors for one event. Subscribe it on a Bus.
func (c *Collectors) Handle(event events.Event) {
	switch e := event.(type) {
	case events.MessageProcessedEvent:
		c.MessagesProcessed.WithLabelValues(e.Outcome).Inc()
		c.MessageDuration.WithLabelValues(e.Outcome).Observe(e.Duration.Seconds())
	case events.HandoffEvent:
		c.Handoffs.WithLabelValues(e.FromAgentID, e.ToAgentID).Inc()
	case events.WorkflowTransitionEvent:
		c.WorkflowTransitions.WithLabelValues(e.NewStage).Inc()
	case events.LoopSuspectedEvent:
		c.LoopsSuspected.Inc()
	case events.FunctionCalledEvent:
		c.FunctionCalls.WithLabelValues(e.Name, strconv.FormatBool(e.Success)).Inc()
	case events.ErrorEvent:
		c.Errors.WithLabelValues(e.Source, e.Category).Inc()
	}
}
