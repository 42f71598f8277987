package llm

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deeplifeai/swarmweaver-sub001/internal/apperr"
	"github.com/deeplifeai/swarmweaver-sub001/internal/chat"
	"github.com/deeplifeai/swarmweaver-sub001/internal/functions"
	"github.com/deeplifeai/swarmweaver-sub001/internal/retry"
)

var fastRetry = retry.Config{MaxRetries: 2, InitialDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond}

func newTestAnthropic(t *testing.T, handler http.HandlerFunc) *Anthropic {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	c, err := NewAnthropic(AnthropicConfig{
		APIKey:            "sk-ant-test-key",
		BaseURL:           srv.URL + "/",
		Model:             "claude-test",
		SummaryModel:      "claude-summary",
		RequestsPerSecond: 1000,
		Burst:             100,
		Retry:             fastRetry,
	})
	require.NoError(t, err)
	return c
}

func TestNewAnthropic_RequiresKey(t *testing.T) {
	_, err := NewAnthropic(AnthropicConfig{})
	require.Error(t, err)
	assert.Equal(t, apperr.Authentication, apperr.Classify(err))
}

func TestAnthropic_Generate(t *testing.T) {
	var got anthropicRequest
	c := newTestAnthropic(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/messages", r.URL.Path)
		assert.Equal(t, "sk-ant-test-key", r.Header.Get("X-API-Key"))
		assert.Equal(t, anthropicVersion, r.Header.Get("Anthropic-Version"))
		body, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(body, &got))

		_, _ = w.Write([]byte(`{
			"id": "msg_1",
			"content": [
				{"type": "text", "text": "Creating the branch now."},
				{"type": "tool_use", "id": "toolu_1", "name": "createBranch", "input": {"name": "feature/x"}}
			],
			"stop_reason": "tool_use",
			"usage": {"input_tokens": 12, "output_tokens": 7}
		}`))
	})

	resp, err := c.Generate(context.Background(), &Request{
		System: "You are Dev.",
		Messages: []chat.Message{
			{Role: chat.RoleSystem, Content: "Previous conversation summary: x"},
			{Role: chat.RoleUser, Content: "hi"},
			{Role: chat.RoleUser, Content: "please branch"},
			{Role: chat.RoleAssistant, Content: "ok"},
		},
		Tools: []functions.Spec{{Name: "createBranch", Description: "d", Parameters: json.RawMessage(`{"type":"object"}`)}},
	})
	require.NoError(t, err)

	assert.Equal(t, "Creating the branch now.", resp.Text)
	require.Len(t, resp.ToolCalls, 1)
	assert.Equal(t, "createBranch", resp.ToolCalls[0].Name)
	assert.JSONEq(t, `{"name":"feature/x"}`, string(resp.ToolCalls[0].Arguments))
	assert.Equal(t, 12, resp.InputTokens)

	assert.Equal(t, "claude-test", got.Model)
	assert.Equal(t, "You are Dev.\n\nPrevious conversation summary: x", got.System)
	require.Len(t, got.Messages, 2)
	assert.Equal(t, "user", got.Messages[0].Role)
	assert.Equal(t, "hi\n\nplease branch", got.Messages[0].Content)
	assert.Equal(t, "assistant", got.Messages[1].Role)
	require.Len(t, got.Tools, 1)
	assert.Equal(t, "createBranch", got.Tools[0].Name)
}

func TestAnthropic_RetriesRateLimit(t *testing.T) {
	var calls atomic.Int32
	c := newTestAnthropic(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			_, _ = w.Write([]byte(`{"error":{"type":"rate_limit_error","message":"slow down"}}`))
			return
		}
		_, _ = w.Write([]byte(`{"content":[{"type":"text","text":"ok"}]}`))
	})

	resp, err := c.Generate(context.Background(), &Request{Messages: []chat.Message{{Role: chat.RoleUser, Content: "hi"}}})
	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Text)
	assert.Equal(t, int32(2), calls.Load())
}

func TestAnthropic_DoesNotRetryValidation(t *testing.T) {
	var calls atomic.Int32
	c := newTestAnthropic(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":{"type":"invalid_request_error","message":"bad tools"}}`))
	})

	_, err := c.Generate(context.Background(), &Request{})
	require.Error(t, err)
	assert.Equal(t, apperr.Validation, apperr.Classify(err))
	assert.Contains(t, err.Error(), "bad tools")
	assert.Equal(t, int32(1), calls.Load())
}

func TestAnthropic_GivesUpAfterMaxRetries(t *testing.T) {
	var calls atomic.Int32
	c := newTestAnthropic(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(529)
	})

	_, err := c.Generate(context.Background(), &Request{})
	require.Error(t, err)
	assert.Equal(t, apperr.RateLimit, apperr.Classify(err))
	assert.Equal(t, int32(3), calls.Load())
}

func TestAnthropic_Complete(t *testing.T) {
	var got anthropicRequest
	c := newTestAnthropic(t, func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(body, &got))
		_, _ = w.Write([]byte(`{"content":[{"type":"text","text":"summary"}]}`))
	})

	out, err := c.Complete(context.Background(), "be brief", "user: my api_key=abc123 is here")
	require.NoError(t, err)
	assert.Equal(t, "summary", out)
	assert.Equal(t, "claude-summary", got.Model)
	assert.Equal(t, "be brief", got.System)
	assert.NotContains(t, got.Messages[0].Content, "abc123")
}

func TestAnthropic_EmptyResponse(t *testing.T) {
	c := newTestAnthropic(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"content":[]}`))
	})
	_, err := c.Generate(context.Background(), &Request{})
	assert.ErrorIs(t, err, ErrEmptyResponse)
}

func TestCategoryForStatus(t *testing.T) {
	tests := map[int]apperr.Category{
		400: apperr.Validation,
		401: apperr.Authentication,
		403: apperr.Authorization,
		404: apperr.NotFound,
		408: apperr.Timeout,
		429: apperr.RateLimit,
		500: apperr.API,
		502: apperr.Network,
		503: apperr.Network,
		504: apperr.Timeout,
		529: apperr.RateLimit,
		418: apperr.Unknown,
	}
	for status, want := range tests {
		assert.Equal(t, want, CategoryForStatus(status), "status %d", status)
	}
}

func TestScrubSecrets(t *testing.T) {
	in := "key sk-ant-REDACTED and password: hunter2 and Bearer abc.def"
	out := ScrubSecrets(in)
	assert.NotContains(t, out, "abcdefghijklmnopqrstuvwxyz")
	assert.NotContains(t, out, "hunter2")
	assert.NotContains(t, out, "abc.def")
	assert.Contains(t, out, "[REDACTED:ANTHROPIC_KEY]")
}
