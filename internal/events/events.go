// Package events carries the coordinator's observability events.
//
// Components receive an Emitter at construction and call Emit; observers
// register on a Bus. Emission is fire-and-forget: observer failures never
// reach the emitting component.
package events

import (
	"time"

	"github.com/deeplifeai/swarmweaver-sub001/internal/chat"
)

// Event types.
const (
	TypeHandoff            = "handoff"
	TypeWorkflowTransition = "workflow_transition"
	TypeFunctionCalled     = "function_called"
	TypeError              = "error"
	TypeLoopSuspected      = "loop_suspected"
	TypeMessageProcessed   = "message_processed"
)

// Event is an observability event.
type Event interface {
	// Type returns the event type identifier.
	Type() string
	// Conversation returns the conversation the event relates to. The zero
	// Key means none.
	Conversation() chat.Key
}

// Emitter publishes events.
type Emitter interface {
	Emit(event Event)
}

// Nop discards events.
type Nop struct{}

// Emit does nothing.
func (Nop) Emit(Event) {}

// HandoffEvent records a transfer of a turn between agents.
type HandoffEvent struct {
	Key         chat.Key  `json:"conversation"`
	FromAgentID string    `json:"from_agent_id"`
	ToAgentID   string    `json:"to_agent_id"`
	Reason      string    `json:"reason"`
	Timestamp   time.Time `json:"timestamp"`
}

func (e HandoffEvent) Type() string           { return TypeHandoff }
func (e HandoffEvent) Conversation() chat.Key { return e.Key }

// WorkflowTransitionEvent records a workflow stage change. PreviousStage is
// empty when the conversation had no state.
type WorkflowTransitionEvent struct {
	Key           chat.Key  `json:"conversation"`
	PreviousStage string    `json:"previous_stage,omitempty"`
	NewStage      string    `json:"new_stage"`
	IssueNumber   int       `json:"issue_number,omitempty"`
	PRNumber      int       `json:"pr_number,omitempty"`
	Timestamp     time.Time `json:"timestamp"`
}

func (e WorkflowTransitionEvent) Type() string           { return TypeWorkflowTransition }
func (e WorkflowTransitionEvent) Conversation() chat.Key { return e.Key }

// FunctionCalledEvent records one function execution.
type FunctionCalledEvent struct {
	Key           chat.Key      `json:"conversation"`
	Name          string        `json:"name"`
	AgentID       string        `json:"agent_id"`
	Success       bool          `json:"success"`
	ErrorCategory string        `json:"error_category,omitempty"`
	Error         string        `json:"error,omitempty"`
	Duration      time.Duration `json:"duration_ns"`
	Timestamp     time.Time     `json:"timestamp"`
}

func (e FunctionCalledEvent) Type() string           { return TypeFunctionCalled }
func (e FunctionCalledEvent) Conversation() chat.Key { return e.Key }

// ErrorEvent records a failure. Source names the component
// ("orchestrator", "conversation", ...).
type ErrorEvent struct {
	Key       chat.Key  `json:"conversation"`
	Source    string    `json:"source"`
	Category  string    `json:"category"`
	Error     string    `json:"error"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

func (e ErrorEvent) Type() string           { return TypeError }
func (e ErrorEvent) Conversation() chat.Key { return e.Key }

// LoopSuspectedEvent records a repeated action within the loop window.
type LoopSuspectedEvent struct {
	Key    chat.Key `json:"conversation"`
	Action string   `json:"action"`
	// Repeats counts the action's records inside the detection window.
	Repeats   int       `json:"repeats"`
	Timestamp time.Time `json:"timestamp"`
}

func (e LoopSuspectedEvent) Type() string           { return TypeLoopSuspected }
func (e LoopSuspectedEvent) Conversation() chat.Key { return e.Key }

// Message outcomes.
const (
	OutcomeDelivered      = "delivered"
	OutcomeErrorDelivered = "error_delivered"
	OutcomeNoAgent        = "no_agent"
)

// MessageProcessedEvent records the terminal state of one inbound message.
type MessageProcessedEvent struct {
	Key       chat.Key      `json:"conversation"`
	AgentID   string        `json:"agent_id,omitempty"`
	Outcome   string        `json:"outcome"`
	Duration  time.Duration `json:"duration_ns"`
	Timestamp time.Time     `json:"timestamp"`
}

func (e MessageProcessedEvent) Type() string           { return TypeMessageProcessed }
func (e MessageProcessedEvent) Conversation() chat.Key { return e.Key }
