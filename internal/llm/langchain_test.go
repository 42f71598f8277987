package llm

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/llms"

	"github.com/deeplifeai/swarmweaver-sub001/internal/apperr"
	"github.com/deeplifeai/swarmweaver-sub001/internal/chat"
	"github.com/deeplifeai/swarmweaver-sub001/internal/functions"
)

type fakeModel struct {
	calls    int
	messages []llms.MessageContent
	opts     llms.CallOptions
	errs     []error
	resp     *llms.ContentResponse
}

func (f *fakeModel) GenerateContent(_ context.Context, messages []llms.MessageContent, options ...llms.CallOption) (*llms.ContentResponse, error) {
	f.calls++
	f.messages = messages
	f.opts = llms.CallOptions{}
	for _, o := range options {
		o(&f.opts)
	}
	if len(f.errs) > 0 {
		err := f.errs[0]
		f.errs = f.errs[1:]
		return nil, err
	}
	return f.resp, nil
}

func (f *fakeModel) Call(ctx context.Context, prompt string, options ...llms.CallOption) (string, error) {
	return llms.GenerateFromSinglePrompt(ctx, f, prompt, options...)
}

func TestLangChain_Generate(t *testing.T) {
	m := &fakeModel{resp: &llms.ContentResponse{Choices: []*llms.ContentChoice{{
		Content: "Opening the PR.",
		ToolCalls: []llms.ToolCall{{
			ID:           "call_1",
			Type:         "function",
			FunctionCall: &llms.FunctionCall{Name: "createPullRequest", Arguments: `{"title":"t","head":"b"}`},
		}},
	}}}}
	l := NewLangChain(m, "openai", "", 512, fastRetry)

	resp, err := l.Generate(context.Background(), &Request{
		System:   "You are Dev.",
		Messages: []chat.Message{{Role: chat.RoleUser, Content: "go"}, {Role: chat.RoleAssistant, Content: "ok"}},
		Tools:    []functions.Spec{{Name: "createPullRequest", Parameters: json.RawMessage(`{"type":"object","properties":{"title":{"type":"string"}}}`)}},
	})
	require.NoError(t, err)
	assert.Equal(t, "Opening the PR.", resp.Text)
	require.Len(t, resp.ToolCalls, 1)
	assert.Equal(t, "createPullRequest", resp.ToolCalls[0].Name)

	require.Len(t, m.messages, 3)
	assert.Equal(t, llms.ChatMessageTypeSystem, m.messages[0].Role)
	assert.Equal(t, llms.ChatMessageTypeHuman, m.messages[1].Role)
	assert.Equal(t, llms.ChatMessageTypeAI, m.messages[2].Role)
	assert.Equal(t, 512, m.opts.MaxTokens)
	require.Len(t, m.opts.Tools, 1)
	assert.Equal(t, "createPullRequest", m.opts.Tools[0].Function.Name)
}

func TestLangChain_RetriesNetworkErrors(t *testing.T) {
	m := &fakeModel{
		errs: []error{errors.New("connection reset by peer")},
		resp: &llms.ContentResponse{Choices: []*llms.ContentChoice{{Content: "hello"}}},
	}
	l := NewLangChain(m, "ollama", "", 0, fastRetry)

	resp, err := l.Generate(context.Background(), &Request{})
	require.NoError(t, err)
	assert.Equal(t, "hello", resp.Text)
	assert.Equal(t, 2, m.calls)
}

func TestLangChain_NonRetryable(t *testing.T) {
	m := &fakeModel{errs: []error{errors.New("401 unauthorized")}}
	l := NewLangChain(m, "openai", "", 0, fastRetry)

	_, err := l.Generate(context.Background(), &Request{})
	require.Error(t, err)
	assert.Equal(t, apperr.Authentication, apperr.Classify(err))
	assert.Equal(t, 1, m.calls)
}

func TestLangChain_Complete(t *testing.T) {
	m := &fakeModel{resp: &llms.ContentResponse{Choices: []*llms.ContentChoice{{Content: "short summary"}}}}
	l := NewLangChain(m, "openai", "gpt-summary", 0, fastRetry)

	out, err := l.Complete(context.Background(), "sys", "prompt")
	require.NoError(t, err)
	assert.Equal(t, "short summary", out)
	assert.Equal(t, "gpt-summary", m.opts.Model)

	m.resp = &llms.ContentResponse{Choices: []*llms.ContentChoice{{Content: "  "}}}
	_, err = l.Complete(context.Background(), "sys", "prompt")
	assert.ErrorIs(t, err, ErrEmptyResponse)
}

func TestLangChain_EmptyChoices(t *testing.T) {
	m := &fakeModel{resp: &llms.ContentResponse{}}
	l := NewLangChain(m, "openai", "", 0, fastRetry)
	_, err := l.Generate(context.Background(), &Request{})
	assert.ErrorIs(t, err, ErrEmptyResponse)
}
