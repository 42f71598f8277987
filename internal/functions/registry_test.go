package functions

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	"github.com/deeplifeai/swarmweaver-sub001/internal/agent"
	"github.com/deeplifeai/swarmweaver-sub001/internal/apperr"
	"github.com/deeplifeai/swarmweaver-sub001/internal/chat"
	"github.com/deeplifeai/swarmweaver-sub001/internal/config"
	"github.com/deeplifeai/swarmweaver-sub001/internal/events"
	"github.com/deeplifeai/swarmweaver-sub001/internal/logging"
	"github.com/deeplifeai/swarmweaver-sub001/internal/telemetry"
)

var echoSpec = Spec{
	Name:        "echo",
	Description: "Echo the text back.",
	Parameters: json.RawMessage(`{
		"type": "object",
		"properties": {"text": {"type": "string", "minLength": 1}},
		"required": ["text"]
	}`),
}

func echo(_ context.Context, args json.RawMessage) (any, error) {
	var in struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal(args, &in); err != nil {
		return nil, err
	}
	return map[string]any{"text": in.Text}, nil
}

var key = chat.NewKey("C1", "")

func TestRegister(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(echoSpec, echo))
	assert.True(t, r.Has("echo"))

	assert.ErrorIs(t, r.Register(echoSpec, echo), ErrDuplicate)
	assert.ErrorIs(t, r.Register(Spec{}, echo), ErrInvalidSpec)
	assert.ErrorIs(t, r.Register(Spec{Name: "x"}, nil), ErrInvalidSpec)
	assert.ErrorIs(t, r.Register(Spec{Name: "bad", Parameters: json.RawMessage(`{"type":`)}, echo), ErrInvalidSpec)

	require.NoError(t, r.Register(Spec{Name: "noparams"}, echo))
	assert.Panics(t, func() { r.MustRegister(echoSpec, echo) })
}

func TestSpecs(t *testing.T) {
	r := NewRegistry()
	r.MustRegister(Spec{Name: "b"}, echo)
	r.MustRegister(Spec{Name: "a"}, echo)
	r.MustRegister(Spec{Name: "c"}, echo)

	names := func(specs []Spec) []string {
		out := make([]string, len(specs))
		for i, s := range specs {
			out[i] = s.Name
		}
		return out
	}
	assert.Equal(t, []string{"a", "b", "c"}, names(r.Specs()))
	assert.Equal(t, []string{"a", "c"}, names(r.Specs("c", "missing", "a", "c")))
	assert.Equal(t, []string{"b"}, names(r.SpecsFor(&agent.Agent{ID: "x", Functions: []string{"b"}})))
	assert.Empty(t, r.SpecsFor(&agent.Agent{ID: "y"}))
	assert.Empty(t, r.SpecsFor(nil))
}

func TestExecute_Success(t *testing.T) {
	rec := &events.Recorder{}
	tel := telemetry.NewTestTelemetry()
	r := NewRegistry(WithEmitter(rec), WithTracer(tel.Tracer("test")))
	r.MustRegister(echoSpec, echo)

	res := r.Execute(context.Background(), key, "echo", json.RawMessage(`{"text":"hi"}`), "dev")
	require.True(t, res.Success, res.Error)
	assert.Equal(t, map[string]any{"text": "hi"}, res.Data)
	assert.Empty(t, res.Category)

	evs := rec.OfType(events.TypeFunctionCalled)
	require.Len(t, evs, 1)
	ev := evs[0].(events.FunctionCalledEvent)
	assert.Equal(t, "echo", ev.Name)
	assert.Equal(t, "dev", ev.AgentID)
	assert.True(t, ev.Success)
	assert.Equal(t, key, ev.Key)

	tel.AssertSpanExists(t, "functions.Execute")
	tel.AssertSpanAttribute(t, "functions.Execute", "function.name", "echo")
	tel.AssertSpanAttribute(t, "functions.Execute", "function.success", true)
}

func TestExecute_Failures(t *testing.T) {
	reg, err := agent.NewRegistry(
		agent.Agent{ID: "dev", Name: "Dev", Role: agent.RoleDeveloper, Functions: []string{"echo", "boom", "fail"}},
		agent.Agent{ID: "pm", Name: "Pam", Role: agent.RoleProjectManager},
	)
	require.NoError(t, err)

	r := NewRegistry(WithAgents(reg))
	r.MustRegister(echoSpec, echo)
	r.MustRegister(Spec{Name: "boom"}, func(context.Context, json.RawMessage) (any, error) {
		panic("kaboom")
	})
	r.MustRegister(Spec{Name: "fail"}, func(context.Context, json.RawMessage) (any, error) {
		return nil, errors.New("connection refused")
	})

	tests := []struct {
		name    string
		fn      string
		args    string
		agentID string
		want    apperr.Category
	}{
		{"unknown function", "nope", `{}`, "dev", apperr.NotFound},
		{"not in allowlist", "echo", `{"text":"x"}`, "pm", apperr.Authorization},
		{"unknown agent", "echo", `{"text":"x"}`, "ghost", apperr.Authorization},
		{"missing required", "echo", `{}`, "dev", apperr.Validation},
		{"wrong type", "echo", `{"text":5}`, "dev", apperr.Validation},
		{"malformed json", "echo", `{"text"`, "dev", apperr.Validation},
		{"panic", "boom", ``, "dev", apperr.Internal},
		{"handler error classified", "fail", ``, "dev", apperr.Network},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := r.Execute(context.Background(), key, tt.fn, json.RawMessage(tt.args), tt.agentID)
			assert.False(t, res.Success)
			assert.Nil(t, res.Data)
			assert.NotEmpty(t, res.Error)
			assert.Equal(t, tt.want, res.Category)
		})
	}
}

func TestExecute_Timeout(t *testing.T) {
	release := make(chan struct{})
	defer close(release)

	rec := &events.Recorder{}
	r := NewRegistry(WithTimeout(20*time.Millisecond), WithEmitter(rec))
	r.MustRegister(Spec{Name: "slow"}, func(context.Context, json.RawMessage) (any, error) {
		<-release
		return "late", nil
	})

	start := time.Now()
	res := r.Execute(context.Background(), key, "slow", nil, "dev")
	assert.Less(t, time.Since(start), time.Second)
	assert.False(t, res.Success)
	assert.Equal(t, apperr.Timeout, res.Category)
	assert.Contains(t, res.Error, "timed out")

	ev := rec.OfType(events.TypeFunctionCalled)[0].(events.FunctionCalledEvent)
	assert.Equal(t, string(apperr.Timeout), ev.ErrorCategory)
}

func TestExecute_HandlerSeesCancellation(t *testing.T) {
	r := NewRegistry(WithTimeout(20 * time.Millisecond))
	observed := make(chan error, 1)
	r.MustRegister(Spec{Name: "wait"}, func(ctx context.Context, _ json.RawMessage) (any, error) {
		<-ctx.Done()
		observed <- ctx.Err()
		return nil, ctx.Err()
	})

	res := r.Execute(context.Background(), key, "wait", nil, "dev")
	assert.Equal(t, apperr.Timeout, res.Category)
	select {
	case err := <-observed:
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	case <-time.After(time.Second):
		t.Fatal("handler context was not cancelled")
	}
}

func TestExecute_LogsFailures(t *testing.T) {
	logger := logging.NewTestLogger()
	r := NewRegistry(WithLogger(logger.Logger))
	r.MustRegister(Spec{Name: "boom"}, func(context.Context, json.RawMessage) (any, error) {
		panic("kaboom")
	})

	r.Execute(context.Background(), key, "boom", nil, "dev")
	logger.AssertLogged(t, zapcore.ErrorLevel, "panicked")
	logger.AssertField(t, "function failed", "function", "boom")
}

func TestFromAppConfig(t *testing.T) {
	r := NewRegistry(FromAppConfig(config.FunctionsConfig{Timeout: time.Second})...)
	assert.Equal(t, time.Second, r.timeout)

	r = NewRegistry(FromAppConfig(config.FunctionsConfig{})...)
	assert.Equal(t, DefaultTimeout, r.timeout)
}
