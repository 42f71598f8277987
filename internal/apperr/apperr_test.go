package apperr

import (
	"context"
	"errors"
	"fmt"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
)

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Category
	}{
		{"nil", nil, ""},
		{"explicit", New(Validation, "op", errors.New("boom")), Validation},
		{"wrapped explicit", fmt.Errorf("outer: %w", Newf(NotFound, "op", "agent %s", "x")), NotFound},
		{"deadline", fmt.Errorf("call: %w", context.DeadlineExceeded), Timeout},
		{"net timeout", timeoutErr{}, Timeout},
		{"op error", &net.OpError{Op: "dial", Err: errors.New("refused")}, Network},
		{"429", errors.New("status 429: too many requests"), RateLimit},
		{"401", errors.New("401 unauthorized"), Authentication},
		{"403", errors.New("forbidden"), Authorization},
		{"404", errors.New("issue not found"), NotFound},
		{"timed out", errors.New("request timed out"), Timeout},
		{"refused", errors.New("dial tcp: connection refused"), Network},
		{"schema", errors.New("args do not match schema"), Validation},
		{"503", errors.New("upstream 503"), API},
		{"unknown", errors.New("weird"), Unknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.err))
		})
	}
}

func TestIsRetryable(t *testing.T) {
	assert.True(t, IsRetryable(New(Network, "x", nil)))
	assert.True(t, IsRetryable(New(Timeout, "x", nil)))
	assert.True(t, IsRetryable(New(RateLimit, "x", nil)))
	assert.False(t, IsRetryable(New(Validation, "x", nil)))
	assert.False(t, IsRetryable(New(Authentication, "x", nil)))
	assert.False(t, IsRetryable(errors.New("weird")))
	assert.False(t, IsRetryable(nil))
}

func TestError_Format(t *testing.T) {
	err := New(API, "llm.generate", errors.New("status 500"))
	assert.Equal(t, "llm.generate: api: status 500", err.Error())
	assert.Equal(t, "validation: bad", Newf(Validation, "", "bad").Error())

	cause := errors.New("cause")
	assert.ErrorIs(t, New(Internal, "x", cause), cause)
	assert.True(t, Is(fmt.Errorf("w: %w", New(Internal, "x", cause)), Internal))
}

func TestUserMessage_NeverLeaksRawError(t *testing.T) {
	err := New(Authentication, "llm", errors.New("key sk-secret rejected"))
	msg := UserMessage(err)
	assert.NotContains(t, msg, "sk-secret")
	assert.Contains(t, msg, "authenticate")
	assert.NotEmpty(t, UserMessage(errors.New("weird")))
}
