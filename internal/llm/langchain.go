package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/deeplifeai/swarmweaver-sub001/internal/apperr"
	"github.com/deeplifeai/swarmweaver-sub001/internal/chat"
	"github.com/deeplifeai/swarmweaver-sub001/internal/config"
	"github.com/deeplifeai/swarmweaver-sub001/internal/logging"
	"github.com/deeplifeai/swarmweaver-sub001/internal/retry"
)

// LangChain adapts an llms.Model.
type LangChain struct {
	model        llms.Model
	provider     string
	summaryModel string
	maxTokens    int
	retry        retry.Config
	logger       *logging.Logger
	tracer       trace.Tracer
}

// NewLangChain wraps model. summaryModel, when set, is passed as a model
// override on Complete calls.
func NewLangChain(model llms.Model, provider, summaryModel string, maxTokens int, rc retry.Config, opts ...Option) *LangChain {
	o := buildOptions(opts)
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}
	rc.ApplyDefaults()
	return &LangChain{
		model:        model,
		provider:     provider,
		summaryModel: summaryModel,
		maxTokens:    maxTokens,
		retry:        rc,
		logger:       o.logger.Named("llm"),
		tracer:       o.tracer,
	}
}

// NewOpenAI creates an OpenAI-backed client.
func NewOpenAI(lc config.LLMConfig, rc retry.Config, logger *logging.Logger) (*LangChain, error) {
	opts := []openai.Option{openai.WithModel(lc.Model)}
	if lc.APIKey.IsSet() {
		opts = append(opts, openai.WithToken(lc.APIKey.Value()))
	}
	if lc.BaseURL != "" && lc.BaseURL != defaultAnthropicBaseURL {
		opts = append(opts, openai.WithBaseURL(lc.BaseURL))
	}
	model, err := openai.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create openai model: %w", err)
	}
	return NewLangChain(model, "openai", lc.SummaryModel, lc.MaxTokens, rc, WithLogger(logger)), nil
}

// NewOllama creates an Ollama-backed client.
func NewOllama(lc config.LLMConfig, rc retry.Config, logger *logging.Logger) (*LangChain, error) {
	opts := []ollama.Option{ollama.WithModel(lc.Model)}
	if lc.BaseURL != "" && lc.BaseURL != defaultAnthropicBaseURL {
		opts = append(opts, ollama.WithServerURL(lc.BaseURL))
	}
	model, err := ollama.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create ollama model: %w", err)
	}
	return NewLangChain(model, "ollama", lc.SummaryModel, lc.MaxTokens, rc, WithLogger(logger)), nil
}

// Generate implements Generator.
func (l *LangChain) Generate(ctx context.Context, req *Request) (*Response, error) {
	options := []llms.CallOption{llms.WithMaxTokens(l.maxTokens)}
	if req.MaxTokens > 0 {
		options = []llms.CallOption{llms.WithMaxTokens(req.MaxTokens)}
	}
	if len(req.Tools) > 0 {
		options = append(options, llms.WithTools(convertTools(req)))
	}
	return l.call(ctx, "llm.Generate", convertMessages(req), options)
}

// Complete implements Completer.
func (l *LangChain) Complete(ctx context.Context, system, prompt string) (string, error) {
	messages := []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeSystem, system),
		llms.TextParts(llms.ChatMessageTypeHuman, ScrubSecrets(prompt)),
	}
	options := []llms.CallOption{llms.WithMaxTokens(l.maxTokens)}
	if l.summaryModel != "" {
		options = append(options, llms.WithModel(l.summaryModel))
	}
	resp, err := l.call(ctx, "llm.Complete", messages, options)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(resp.Text) == "" {
		return "", apperr.New(apperr.API, "llm.Complete", ErrEmptyResponse)
	}
	return resp.Text, nil
}

func (l *LangChain) call(ctx context.Context, op string, messages []llms.MessageContent, options []llms.CallOption) (*Response, error) {
	ctx, span := l.tracer.Start(ctx, op, trace.WithAttributes(attribute.String("llm.provider", l.provider)))
	defer span.End()

	var out *Response
	err := retry.DoWithNotify(ctx, l.retry, func(ctx context.Context) error {
		resp, err := l.model.GenerateContent(ctx, messages, options...)
		if err != nil {
			return apperr.New(apperr.Classify(err), op, fmt.Errorf("%s GenerateContent failed: %w", l.provider, err))
		}
		converted, err := convertResponse(resp)
		if err != nil {
			return apperr.New(apperr.API, op, err)
		}
		out = converted
		return nil
	}, func(attempt int, err error) {
		l.logger.Warn(ctx, "model request failed",
			zap.String("op", op),
			zap.String("provider", l.provider),
			zap.Int("attempt", attempt),
			zap.Error(err),
		)
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(attribute.Int("llm.tool_calls", len(out.ToolCalls)))
	return out, nil
}

func convertMessages(req *Request) []llms.MessageContent {
	messages := make([]llms.MessageContent, 0, len(req.Messages)+1)
	if req.System != "" {
		messages = append(messages, llms.TextParts(llms.ChatMessageTypeSystem, req.System))
	}
	for _, m := range req.Messages {
		messages = append(messages, llms.TextParts(mapRole(m.Role), m.Content))
	}
	return messages
}

func mapRole(r chat.Role) llms.ChatMessageType {
	switch r {
	case chat.RoleSystem:
		return llms.ChatMessageTypeSystem
	case chat.RoleAssistant:
		return llms.ChatMessageTypeAI
	default:
		return llms.ChatMessageTypeHuman
	}
}

func convertTools(req *Request) []llms.Tool {
	tools := make([]llms.Tool, 0, len(req.Tools))
	for _, t := range req.Tools {
		var params any = map[string]any{"type": "object"}
		if len(t.Parameters) > 0 {
			var decoded map[string]any
			if err := json.Unmarshal(t.Parameters, &decoded); err == nil {
				params = decoded
			}
		}
		tools = append(tools, llms.Tool{
			Type: "function",
			Function: &llms.FunctionDefinition{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  params,
			},
		})
	}
	return tools
}

func convertResponse(resp *llms.ContentResponse) (*Response, error) {
	if resp == nil || len(resp.Choices) == 0 {
		return nil, ErrEmptyResponse
	}
	choice := resp.Choices[0]
	out := &Response{Text: choice.Content, StopReason: choice.StopReason}
	for _, tc := range choice.ToolCalls {
		if tc.FunctionCall == nil {
			continue
		}
		args := json.RawMessage(tc.FunctionCall.Arguments)
		if len(args) == 0 {
			args = json.RawMessage(`{}`)
		}
		out.ToolCalls = append(out.ToolCalls, ToolCall{ID: tc.ID, Name: tc.FunctionCall.Name, Arguments: args})
	}
	if out.Text == "" && len(out.ToolCalls) == 0 {
		return nil, ErrEmptyResponse
	}
	return out, nil
}
