package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/deeplifeai/swarmweaver-sub001/internal/apperr"
	"github.com/deeplifeai/swarmweaver-sub001/internal/chat"
	"github.com/deeplifeai/swarmweaver-sub001/internal/logging"
	"github.com/deeplifeai/swarmweaver-sub001/internal/retry"
)

const instrumentationName = "github.com/deeplifeai/swarmweaver-sub001/internal/llm"

// Default configuration values.
const (
	defaultAnthropicBaseURL = "https://api.anthropic.com"
	defaultAnthropicModel   = "claude-sonnet-4-5-20250929"
	defaultMaxTokens        = 4096
	defaultTimeout          = 60 * time.Second
	defaultRateLimit        = 2.0
	defaultBurst            = 4
	anthropicVersion        = "2023-06-01"
	maxResponseBytes        = 4 << 20
)

// ErrEmptyResponse is returned when a provider answers with no content.
var ErrEmptyResponse = errors.New("empty response from model")

// AnthropicConfig configures the Anthropic client.
type AnthropicConfig struct {
	APIKey            string
	BaseURL           string
	Model             string
	SummaryModel      string
	MaxTokens         int
	Timeout           time.Duration
	RequestsPerSecond float64
	Burst             int
	Retry             retry.Config
}

// Anthropic talks to the Messages API.
type Anthropic struct {
	cfg        AnthropicConfig
	httpClient *http.Client
	limiter    *rate.Limiter
	logger     *logging.Logger
	tracer     trace.Tracer
}

// Option configures a client.
type Option func(*options)

type options struct {
	httpClient *http.Client
	logger     *logging.Logger
	tracer     trace.Tracer
}

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(o *options) { o.httpClient = c }
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithTracer sets the tracer used for generation spans.
func WithTracer(t trace.Tracer) Option {
	return func(o *options) { o.tracer = t }
}

func buildOptions(opts []Option) options {
	o := options{tracer: otel.Tracer(instrumentationName)}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = logging.Nop()
	}
	return o
}

// NewAnthropic creates an Anthropic client.
func NewAnthropic(cfg AnthropicConfig, opts ...Option) (*Anthropic, error) {
	if cfg.APIKey == "" {
		return nil, apperr.Newf(apperr.Authentication, "llm.NewAnthropic", "anthropic API key required")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultAnthropicBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Model == "" {
		cfg.Model = defaultAnthropicModel
	}
	if cfg.SummaryModel == "" {
		cfg.SummaryModel = cfg.Model
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = defaultMaxTokens
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = defaultRateLimit
	}
	if cfg.Burst <= 0 {
		cfg.Burst = defaultBurst
	}
	cfg.Retry.ApplyDefaults()

	o := buildOptions(opts)
	hc := o.httpClient
	if hc == nil {
		hc = &http.Client{Timeout: cfg.Timeout}
	}
	return &Anthropic{
		cfg:        cfg,
		httpClient: hc,
		limiter:    rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.Burst),
		logger:     o.logger.Named("llm"),
		tracer:     o.tracer,
	}, nil
}

type anthropicRequest struct {
	Model     string             `json:"model"`
	MaxTokens int                `json:"max_tokens"`
	System    string             `json:"system,omitempty"`
	Messages  []anthropicMessage `json:"messages"`
	Tools     []anthropicTool    `json:"tools,omitempty"`
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicTool struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"input_schema"`
}

type anthropicResponse struct {
	ID      string `json:"id"`
	Content []struct {
		Type  string          `json:"type"`
		Text  string          `json:"text,omitempty"`
		ID    string          `json:"id,omitempty"`
		Name  string          `json:"name,omitempty"`
		Input json.RawMessage `json:"input,omitempty"`
	} `json:"content"`
	StopReason string `json:"stop_reason"`
	Usage      struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

type anthropicError struct {
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

// Generate implements Generator.
func (a *Anthropic) Generate(ctx context.Context, req *Request) (*Response, error) {
	body := a.buildRequest(a.cfg.Model, req)
	return a.send(ctx, "llm.Generate", body)
}

// Complete implements Completer using the summary model. Credentials in
// prompt are masked before sending.
func (a *Anthropic) Complete(ctx context.Context, system, prompt string) (string, error) {
	body := anthropicRequest{
		Model:     a.cfg.SummaryModel,
		MaxTokens: a.cfg.MaxTokens,
		System:    system,
		Messages:  []anthropicMessage{{Role: "user", Content: ScrubSecrets(prompt)}},
	}
	resp, err := a.send(ctx, "llm.Complete", body)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(resp.Text) == "" {
		return "", apperr.New(apperr.API, "llm.Complete", ErrEmptyResponse)
	}
	return resp.Text, nil
}

// buildRequest folds system-role history into the system prompt and merges
// consecutive same-role turns; the Messages API requires alternation.
func (a *Anthropic) buildRequest(model string, req *Request) anthropicRequest {
	out := anthropicRequest{Model: model, MaxTokens: a.cfg.MaxTokens}
	if req.MaxTokens > 0 {
		out.MaxTokens = req.MaxTokens
	}

	system := []string{}
	if req.System != "" {
		system = append(system, req.System)
	}
	for _, m := range req.Messages {
		if m.Role == chat.RoleSystem {
			system = append(system, m.Content)
			continue
		}
		role := "user"
		if m.Role == chat.RoleAssistant {
			role = "assistant"
		}
		if n := len(out.Messages); n > 0 && out.Messages[n-1].Role == role {
			out.Messages[n-1].Content += "\n\n" + m.Content
			continue
		}
		out.Messages = append(out.Messages, anthropicMessage{Role: role, Content: m.Content})
	}
	if len(out.Messages) == 0 || out.Messages[0].Role != "user" {
		out.Messages = append([]anthropicMessage{{Role: "user", Content: "(conversation start)"}}, out.Messages...)
	}
	out.System = strings.Join(system, "\n\n")

	for _, t := range req.Tools {
		schema := t.Parameters
		if len(schema) == 0 {
			schema = json.RawMessage(`{"type":"object"}`)
		}
		out.Tools = append(out.Tools, anthropicTool{Name: t.Name, Description: t.Description, InputSchema: schema})
	}
	return out
}

func (a *Anthropic) send(ctx context.Context, op string, body anthropicRequest) (*Response, error) {
	ctx, span := a.tracer.Start(ctx, op, trace.WithAttributes(
		attribute.String("llm.provider", "anthropic"),
		attribute.String("llm.model", body.Model),
		attribute.Int("llm.tools", len(body.Tools)),
	))
	defer span.End()

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, apperr.New(apperr.Internal, op, fmt.Errorf("failed to marshal request: %w", err))
	}

	var out *Response
	err = retry.DoWithNotify(ctx, a.cfg.Retry, func(ctx context.Context) error {
		if err := a.limiter.Wait(ctx); err != nil {
			return apperr.New(apperr.Timeout, op, fmt.Errorf("rate limiter: %w", err))
		}
		resp, err := a.doRequest(ctx, op, payload)
		if err != nil {
			return err
		}
		out = resp
		return nil
	}, func(attempt int, err error) {
		a.logger.Warn(ctx, "model request failed",
			zap.String("op", op),
			zap.Int("attempt", attempt),
			zap.String("category", string(apperr.Classify(err))),
			zap.Error(err),
		)
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(
		attribute.Int("llm.input_tokens", out.InputTokens),
		attribute.Int("llm.output_tokens", out.OutputTokens),
		attribute.Int("llm.tool_calls", len(out.ToolCalls)),
	)
	return out, nil
}

func (a *Anthropic) doRequest(ctx context.Context, op string, payload []byte) (*Response, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.cfg.BaseURL+"/v1/messages", bytes.NewReader(payload))
	if err != nil {
		return nil, apperr.New(apperr.Internal, op, fmt.Errorf("failed to create request: %w", err))
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-API-Key", a.cfg.APIKey)
	httpReq.Header.Set("Anthropic-Version", anthropicVersion)

	resp, err := a.httpClient.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return nil, apperr.New(apperr.Timeout, op, err)
		}
		return nil, apperr.New(apperr.Classify(err), op, fmt.Errorf("API request failed: %w", err))
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, apperr.New(apperr.Network, op, fmt.Errorf("failed to read response: %w", err))
	}

	if resp.StatusCode != http.StatusOK {
		msg := string(raw)
		var apiErr anthropicError
		if json.Unmarshal(raw, &apiErr) == nil && apiErr.Error.Message != "" {
			msg = apiErr.Error.Message
		}
		return nil, apperr.New(CategoryForStatus(resp.StatusCode), op,
			fmt.Errorf("API error (%d): %s", resp.StatusCode, msg))
	}

	var parsed anthropicResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, apperr.New(apperr.API, op, fmt.Errorf("failed to parse response: %w", err))
	}

	out := &Response{
		StopReason:   parsed.StopReason,
		InputTokens:  parsed.Usage.InputTokens,
		OutputTokens: parsed.Usage.OutputTokens,
	}
	var text []string
	for _, block := range parsed.Content {
		switch block.Type {
		case "text":
			text = append(text, block.Text)
		case "tool_use":
			args := block.Input
			if len(args) == 0 {
				args = json.RawMessage(`{}`)
			}
			out.ToolCalls = append(out.ToolCalls, ToolCall{ID: block.ID, Name: block.Name, Arguments: args})
		}
	}
	out.Text = strings.Join(text, "\n")
	if out.Text == "" && len(out.ToolCalls) == 0 {
		return nil, apperr.New(apperr.API, op, ErrEmptyResponse)
	}
	return out, nil
}

// CategoryForStatus maps an HTTP status from a provider to an error
// category. 529 (overloaded) is treated like a rate limit.
func CategoryForStatus(status int) apperr.Category {
	switch {
	case status == http.StatusTooManyRequests || status == 529:
		return apperr.RateLimit
	case status == http.StatusUnauthorized:
		return apperr.Authentication
	case status == http.StatusForbidden:
		return apperr.Authorization
	case status == http.StatusNotFound:
		return apperr.NotFound
	case status == http.StatusRequestTimeout || status == http.StatusGatewayTimeout:
		return apperr.Timeout
	case status == http.StatusBadRequest || status == http.StatusUnprocessableEntity || status == http.StatusRequestEntityTooLarge:
		return apperr.Validation
	case status == http.StatusBadGateway || status == http.StatusServiceUnavailable:
		return apperr.Network
	case status >= 500:
		return apperr.API
	}
	return apperr.Unknown
}
