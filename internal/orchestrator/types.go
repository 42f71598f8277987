package orchestrator

import (
	"context"
	"encoding/json"
	"time"

	"github.com/deeplifeai/swarmweaver-sub001/internal/agent"
	"github.com/deeplifeai/swarmweaver-sub001/internal/chat"
	"github.com/deeplifeai/swarmweaver-sub001/internal/events"
	"github.com/deeplifeai/swarmweaver-sub001/internal/functions"
	"github.com/deeplifeai/swarmweaver-sub001/internal/llm"
	"github.com/deeplifeai/swarmweaver-sub001/internal/workflow"
)

// Phase is a step of message processing.
type Phase string

const (
	PhaseReceived          Phase = "received"
	PhaseLoopChecked       Phase = "loop_checked"
	PhaseRouted            Phase = "routed"
	PhaseContextFetched    Phase = "context_fetched"
	PhaseGenerated         Phase = "generated"
	PhaseFunctionsExecuted Phase = "functions_executed"
	PhaseStateUpdated      Phase = "state_updated"
	PhaseDelivered         Phase = "delivered"
	PhaseErrorDelivered    Phase = "error_delivered"
	PhaseNoAgent           Phase = "no_agent"
)

// Sender delivers replies to the chat transport.
type Sender interface {
	Send(ctx context.Context, msg chat.Outbound) error
}

// SenderFunc adapts a function to Sender.
type SenderFunc func(ctx context.Context, msg chat.Outbound) error

// Send calls f.
func (f SenderFunc) Send(ctx context.Context, msg chat.Outbound) error {
	return f(ctx, msg)
}

// Executor runs agent-requested functions.
type Executor interface {
	Execute(ctx context.Context, key chat.Key, name string, args json.RawMessage, agentID string) functions.Result
	SpecsFor(a *agent.Agent) []functions.Spec
}

// CallRecord is one executed function call.
type CallRecord struct {
	Call   llm.ToolCall     `json:"call"`
	Result functions.Result `json:"result"`
	// Transition is the stage entered because of this call, if any.
	Transition workflow.Stage `json:"transition,omitempty"`
}

// Turn is the record of processing one inbound message.
type Turn struct {
	Key           chat.Key             `json:"conversation"`
	Message       chat.MessageReceived `json:"message"`
	RequestID     string               `json:"request_id"`
	Phase         Phase                `json:"phase"`
	AgentID       string               `json:"agent_id,omitempty"`
	RouteReason   string               `json:"route_reason,omitempty"`
	LoopSuspected bool                 `json:"loop_suspected"`
	Reply         string               `json:"reply,omitempty"`
	Calls         []CallRecord         `json:"calls,omitempty"`
	Handoffs      []string             `json:"handoffs,omitempty"`
	Error         string               `json:"error,omitempty"`
	StartedAt     time.Time            `json:"started_at"`
	CompletedAt   time.Time            `json:"completed_at"`
}

// Outcome maps the terminal phase to the event outcome.
func (t *Turn) Outcome() string {
	switch t.Phase {
	case PhaseDelivered:
		return events.OutcomeDelivered
	case PhaseNoAgent:
		return events.OutcomeNoAgent
	}
	return events.OutcomeErrorDelivered
}
