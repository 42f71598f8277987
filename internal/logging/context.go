package logging

import (
	"context"
	"fmt"
	"unicode"
	"unicode/utf8"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

type ctxKey int

const (
	conversationKey ctxKey = iota
	agentKey
	requestKey
)

// Field names of the correlation values.
const (
	FieldConversation = "conversation.key"
	FieldAgent        = "agent.id"
	FieldRequest      = "request.id"
)

const maxIDLen = 256

// ContextFields returns the trace and correlation fields carried by ctx.
func ContextFields(ctx context.Context) []zap.Field {
	var fields []zap.Field
	if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
		fields = append(fields,
			zap.String("trace_id", sc.TraceID().String()),
			zap.String("span_id", sc.SpanID().String()),
		)
		if sc.IsSampled() {
			fields = append(fields, zap.Bool("trace_sampled", true))
		}
	}
	for _, c := range []struct {
		key  ctxKey
		name string
	}{
		{conversationKey, FieldConversation},
		{agentKey, FieldAgent},
		{requestKey, FieldRequest},
	} {
		if v := value(ctx, c.key); v != "" {
			fields = append(fields, zap.String(c.name, v))
		}
	}
	return fields
}

func value(ctx context.Context, k ctxKey) string {
	s, _ := ctx.Value(k).(string)
	return s
}

// with panics on values that are empty, oversized, not UTF-8 or contain
// control characters. Callers validate untrusted input first.
func with(ctx context.Context, k ctxKey, what, v string) context.Context {
	if err := checkID(v); err != nil {
		panic(fmt.Sprintf("logging: %s: %v", what, err))
	}
	return context.WithValue(ctx, k, v)
}

func checkID(v string) error {
	switch {
	case v == "":
		return fmt.Errorf("empty")
	case len(v) > maxIDLen:
		return fmt.Errorf("longer than %d bytes", maxIDLen)
	case !utf8.ValidString(v):
		return fmt.Errorf("invalid UTF-8")
	}
	for _, r := range v {
		if unicode.IsControl(r) {
			return fmt.Errorf("control character %U", r)
		}
	}
	return nil
}

// WithConversation tags ctx with a "channel:thread" conversation key.
func WithConversation(ctx context.Context, key string) context.Context {
	return with(ctx, conversationKey, "conversation key", key)
}

// ConversationFromContext returns the key set by WithConversation.
func ConversationFromContext(ctx context.Context) string { return value(ctx, conversationKey) }

// WithAgent tags ctx with the acting agent.
func WithAgent(ctx context.Context, agentID string) context.Context {
	return with(ctx, agentKey, "agent id", agentID)
}

// AgentFromContext returns the id set by WithAgent.
func AgentFromContext(ctx context.Context) string { return value(ctx, agentKey) }

// WithRequestID tags ctx with an inbound request id.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return with(ctx, requestKey, "request id", requestID)
}

// RequestIDFromContext returns the id set by WithRequestID.
func RequestIDFromContext(ctx context.Context) string { return value(ctx, requestKey) }
