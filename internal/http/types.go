package http

import (
	"encoding/json"
	"time"

	"github.com/deeplifeai/swarmweaver-sub001/internal/chat"
	"github.com/deeplifeai/swarmweaver-sub001/internal/telemetry"
	"github.com/deeplifeai/swarmweaver-sub001/internal/workflow"
)

// HealthResponse is the response body for GET /health.
type HealthResponse struct {
	Status    string                  `json:"status"`
	Lanes     int                     `json:"lanes"`
	Telemetry *telemetry.HealthStatus `json:"telemetry,omitempty"`
}

// AcceptedResponse is the response body for asynchronous message submission.
type AcceptedResponse struct {
	Status       string   `json:"status"`
	Conversation chat.Key `json:"conversation"`
}

// AvailabilityRequest is the request body for PUT /api/v1/agents/:id/availability.
type AvailabilityRequest struct {
	Available *bool `json:"available"`
}

// StateResponse is the response body for GET /api/v1/conversations/:channel/state.
type StateResponse struct {
	Conversation chat.Key `json:"conversation"`
	// Stage is empty when the conversation has no workflow state.
	Stage                string           `json:"stage"`
	State                json.RawMessage  `json:"state,omitempty"`
	AvailableTransitions []workflow.Stage `json:"available_transitions"`
}

// SummaryView is the stored summary of a conversation.
type SummaryView struct {
	Text                string    `json:"text"`
	LastSummarizedIndex int       `json:"last_summarized_index"`
	LastUpdated         time.Time `json:"last_updated"`
	FailedAttempts      int       `json:"failed_attempts"`
}

// HistoryResponse is the response body for GET /api/v1/conversations/:channel/history.
type HistoryResponse struct {
	Conversation chat.Key       `json:"conversation"`
	Messages     []chat.Message `json:"messages"`
	Summary      *SummaryView   `json:"summary,omitempty"`
	// Stored is the number of turns held in memory, Total the number ever appended.
	Stored int `json:"stored"`
	Total  int `json:"total"`
}

// ResetResponse is the response body for POST /api/v1/conversations/:channel/reset.
type ResetResponse struct {
	Conversation chat.Key `json:"conversation"`
	Reset        bool     `json:"reset"`
}
