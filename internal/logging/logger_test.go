package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/deeplifeai/swarmweaver-sub001/internal/config"
)

func newBufferLogger(t *testing.T, cfg *Config) (*Logger, *bytes.Buffer) {
	t.Helper()
	buf := &bytes.Buffer{}
	l, err := newLogger(cfg, nil, zapcore.AddSync(buf))
	require.NoError(t, err)
	return l, buf
}

func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var out []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var m map[string]any
		require.NoError(t, json.Unmarshal([]byte(line), &m))
		out = append(out, m)
	}
	return out
}

func TestNewLogger_InvalidConfig(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Format = "xml"
	_, err := NewLogger(cfg, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "format")
}

func TestLogger_WritesServiceAndContextFields(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Sampling.Enabled = false
	l, buf := newBufferLogger(t, cfg)

	ctx := WithConversation(context.Background(), "C1:100.1")
	ctx = WithAgent(ctx, "dev-1")
	ctx = WithRequestID(ctx, "req-9")
	l.Info(ctx, "agent selected", zap.String("reason", "mention"))

	lines := decodeLines(t, buf)
	require.Len(t, lines, 1)
	assert.Equal(t, "agent selected", lines[0]["msg"])
	assert.Equal(t, "swarmweaver", lines[0]["service"])
	assert.Equal(t, "C1:100.1", lines[0]["conversation.key"])
	assert.Equal(t, "dev-1", lines[0]["agent.id"])
	assert.Equal(t, "req-9", lines[0]["request.id"])
	assert.Equal(t, "mention", lines[0]["reason"])
}

func TestLogger_RedactsSensitiveFields(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Sampling.Enabled = false
	l, buf := newBufferLogger(t, cfg)

	l.Info(context.Background(), "calling model",
		zap.String("api_key", "sk-live-123"),
		zap.String("header", "Bearer abc.def"),
		zap.String("note", "key sk-ant-abcdefghijkl leaked"),
		Secret("llm_key", config.Secret("abcd")),
	)

	out := buf.String()
	assert.NotContains(t, out, "sk-live-123")
	assert.NotContains(t, out, "abc.def")
	assert.NotContains(t, out, "sk-ant-abcdefghijkl")
	assert.Contains(t, out, "[REDACTED:4]")
}

func TestLogger_TraceLevelGated(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Sampling.Enabled = false
	l, buf := newBufferLogger(t, cfg)

	l.Trace(context.Background(), "raw prompt")
	assert.Empty(t, buf.String())
	assert.False(t, l.Enabled(TraceLevel))

	cfg = NewDefaultConfig()
	cfg.Sampling.Enabled = false
	cfg.Level = TraceLevel
	l, buf = newBufferLogger(t, cfg)
	l.Trace(context.Background(), "raw prompt")
	assert.Contains(t, buf.String(), "raw prompt")
}

func TestLogger_TraceCorrelation(t *testing.T) {
	tl := NewTestLogger()
	sc := trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    trace.TraceID{1, 2, 3},
		SpanID:     trace.SpanID{4, 5, 6},
		TraceFlags: trace.FlagsSampled,
	})
	ctx := trace.ContextWithSpanContext(context.Background(), sc)

	tl.Info(ctx, "turn started")
	tl.AssertHasField(t, "turn started", "trace_id")
	tl.AssertField(t, "turn started", "span_id", sc.SpanID().String())
}

func TestLogger_NamedAndWith(t *testing.T) {
	tl := NewTestLogger()
	child := tl.Named("handoff").With(zap.String("agent", "qa-1"))
	child.Warn(context.Background(), "agent at capacity")

	entries := tl.FilterMessage("agent at capacity").All()
	require.Len(t, entries, 1)
	assert.Equal(t, "handoff", entries[0].LoggerName)
	tl.AssertField(t, "agent at capacity", "agent", "qa-1")
}

func TestWithConversation_PanicsOnInvalid(t *testing.T) {
	assert.Panics(t, func() { WithConversation(context.Background(), "") })
	assert.Panics(t, func() { WithAgent(context.Background(), "bad\nid") })
	assert.Panics(t, func() { WithRequestID(context.Background(), strings.Repeat("x", maxIDLen+1)) })
}

func TestLevelFromString(t *testing.T) {
	lvl, err := LevelFromString("trace")
	require.NoError(t, err)
	assert.Equal(t, TraceLevel, lvl)

	lvl, err = LevelFromString("warn")
	require.NoError(t, err)
	assert.Equal(t, zapcore.WarnLevel, lvl)

	_, err = LevelFromString("loud")
	assert.Error(t, err)
}

func TestFromAppConfig(t *testing.T) {
	cfg, err := FromAppConfig(config.LoggingConfig{Level: "debug", Format: "console"})
	require.NoError(t, err)
	assert.Equal(t, zapcore.DebugLevel, cfg.Level)
	assert.Equal(t, FormatConsole, cfg.Format)

	_, err = FromAppConfig(config.LoggingConfig{Level: "nope"})
	assert.Error(t, err)

	_, err = FromAppConfig(config.LoggingConfig{Format: "xml"})
	assert.Error(t, err)
}

func TestConfig_ValidateJoinsErrors(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Format = "xml"
	cfg.Stdout = false
	cfg.Redaction.Patterns = []string{"("}
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "format")
	assert.Contains(t, err.Error(), "no output enabled")
	assert.Contains(t, err.Error(), "redaction pattern")
}

func TestNewLogger_OTELWithoutProvider(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Stdout = false
	cfg.OTEL = true
	_, err := NewLogger(cfg, nil)
	assert.Error(t, err)
}

func TestLogger_TraceLevelName(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Sampling.Enabled = false
	cfg.Level = TraceLevel
	l, buf := newBufferLogger(t, cfg)
	l.Trace(context.Background(), "raw completion")
	lines := decodeLines(t, buf)
	require.Len(t, lines, 1)
	assert.Equal(t, "trace", lines[0]["level"])
}

func TestLogger_CallerPointsAtCallSite(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Sampling.Enabled = false
	l, buf := newBufferLogger(t, cfg)
	l.Info(context.Background(), "where")
	lines := decodeLines(t, buf)
	require.Len(t, lines, 1)
	assert.Contains(t, lines[0]["caller"], "logger_test.go")
}

func TestLogger_WithFieldsAreRedacted(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Sampling.Enabled = false
	l, buf := newBufferLogger(t, cfg)
	l.With(zap.String("Authorization", "Bearer xyz")).Info(context.Background(), "outbound call")
	assert.NotContains(t, buf.String(), "xyz")
	assert.Contains(t, buf.String(), `"Authorization":"[REDACTED]"`)
}

func TestTestLogger_AssertNoSecrets(t *testing.T) {
	tl := NewTestLogger()
	tl.Info(context.Background(), "ok", RedactedString("token", "abc"))
	tl.AssertNoSecrets(t)
	assert.Equal(t, 1, tl.Count(zapcore.InfoLevel, "ok"))
	tl.Reset()
	assert.Empty(t, tl.All())
}
