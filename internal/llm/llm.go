// Package llm adapts language-model providers to the coordinator.
//
// Generator produces an agent reply, optionally with requested function
// calls, from a persona, a history and the agent's function specs.
// Completer is the plain text capability the conversation summarizer uses.
// Both are implemented by the Anthropic Messages API client and by the
// langchaingo adapter used for OpenAI and Ollama.
package llm

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/deeplifeai/swarmweaver-sub001/internal/chat"
	"github.com/deeplifeai/swarmweaver-sub001/internal/config"
	"github.com/deeplifeai/swarmweaver-sub001/internal/functions"
	"github.com/deeplifeai/swarmweaver-sub001/internal/logging"
	"github.com/deeplifeai/swarmweaver-sub001/internal/retry"
)

// Request is one generation call.
type Request struct {
	// System is the agent persona.
	System string
	// Messages is the conversation context, oldest first. System-role
	// messages are folded into the system prompt by providers that require it.
	Messages []chat.Message
	// Tools are the functions the model may request.
	Tools []functions.Spec
	// MaxTokens overrides the client default when positive.
	MaxTokens int
}

// ToolCall is a function the model asked to run.
type ToolCall struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

// Response is the outcome of a generation call.
type Response struct {
	Text         string
	ToolCalls    []ToolCall
	StopReason   string
	InputTokens  int
	OutputTokens int
}

// Generator produces agent replies.
type Generator interface {
	Generate(ctx context.Context, req *Request) (*Response, error)
}

// Completer produces plain text from an instruction and a prompt.
type Completer interface {
	Complete(ctx context.Context, system, prompt string) (string, error)
}

// Client is a provider that serves both capabilities.
type Client interface {
	Generator
	Completer
}

// New builds the client for the configured provider.
func New(lc config.LLMConfig, rc retry.Config, logger *logging.Logger) (Client, error) {
	switch lc.Provider {
	case "anthropic":
		return NewAnthropic(AnthropicConfig{
			APIKey:            lc.APIKey.Value(),
			BaseURL:           lc.BaseURL,
			Model:             lc.Model,
			SummaryModel:      lc.SummaryModel,
			MaxTokens:         lc.MaxTokens,
			Timeout:           lc.Timeout,
			RequestsPerSecond: lc.RequestsPerSecond,
			Burst:             lc.Burst,
			Retry:             rc,
		}, WithLogger(logger))
	case "openai":
		return NewOpenAI(lc, rc, logger)
	case "ollama":
		return NewOllama(lc, rc, logger)
	}
	return nil, fmt.Errorf("unknown llm provider %q", lc.Provider)
}
