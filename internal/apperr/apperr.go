// Package apperr implements the coordinator's error taxonomy.
//
// Every failure that crosses a component boundary is classified into a
// Category. NETWORK, TIMEOUT and RATE_LIMIT are retryable; everything else is
// not.
package apperr

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
)

// Category is an error class.
type Category string

// Categories.
const (
	Network        Category = "NETWORK"
	API            Category = "API"
	Validation     Category = "VALIDATION"
	Authentication Category = "AUTHENTICATION"
	Authorization  Category = "AUTHORIZATION"
	NotFound       Category = "NOT_FOUND"
	Timeout        Category = "TIMEOUT"
	RateLimit      Category = "RATE_LIMIT"
	Internal       Category = "INTERNAL"
	Unknown        Category = "UNKNOWN"
)

// Retryable reports whether errors of this category are retried by default.
func (c Category) Retryable() bool {
	switch c {
	case Network, Timeout, RateLimit:
		return true
	default:
		return false
	}
}

// Error is a classified error.
type Error struct {
	Category Category
	Op       string // operation that failed, e.g. "llm.generate"
	Message  string // optional human-readable detail
	Err      error
}

// Error implements the error interface.
func (e *Error) Error() string {
	var b strings.Builder
	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(": ")
	}
	b.WriteString(strings.ToLower(string(e.Category)))
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

// Unwrap allows errors.Is and errors.As to see the cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// New wraps err with a category and operation.
func New(cat Category, op string, err error) *Error {
	return &Error{Category: cat, Op: op, Err: err}
}

// Newf creates a classified error with a formatted message and no cause.
func Newf(cat Category, op, format string, args ...any) *Error {
	return &Error{Category: cat, Op: op, Message: fmt.Sprintf(format, args...)}
}

// Classify infers the category of err. An explicit *Error anywhere in the
// chain wins; otherwise well-known error types and then message heuristics
// are consulted.
func Classify(err error) Category {
	if err == nil {
		return ""
	}

	var ae *Error
	if errors.As(err, &ae) {
		return ae.Category
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return Timeout
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return Timeout
		}
		return Network
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return Network
	}

	return classifyMessage(strings.ToLower(err.Error()))
}

type rule struct {
	cat     Category
	needles []string
}

// Order matters: "rate limit exceeded (429)" must not fall through to API.
var messageRules = []rule{
	{RateLimit, []string{"rate limit", "ratelimit", "too many requests", "429"}},
	{Authentication, []string{"unauthorized", "unauthenticated", "invalid api key", "401"}},
	{Authorization, []string{"forbidden", "permission denied", "403"}},
	{NotFound, []string{"not found", "404"}},
	{Timeout, []string{"timeout", "timed out", "deadline exceeded"}},
	{Network, []string{"connection refused", "connection reset", "no such host", "network", "eof"}},
	{Validation, []string{"invalid", "validation", "schema", "required", "malformed"}},
	{API, []string{"500", "502", "503", "504", "overloaded", "api error", "server error"}},
}

func classifyMessage(msg string) Category {
	for _, r := range messageRules {
		for _, n := range r.needles {
			if strings.Contains(msg, n) {
				return r.cat
			}
		}
	}
	return Unknown
}

// IsRetryable reports whether err belongs to a retryable category.
func IsRetryable(err error) bool {
	return err != nil && Classify(err).Retryable()
}

// Is reports whether err is classified as cat.
func Is(err error, cat Category) bool {
	return err != nil && Classify(err) == cat
}

// UserMessage returns a short, human-readable explanation suitable for a
// chat reply. It never includes the raw error text.
func UserMessage(err error) string {
	switch Classify(err) {
	case Network:
		return "I couldn't reach a service I depend on. Please try again in a moment."
	case Timeout:
		return "That took too long and timed out. Please try again."
	case RateLimit:
		return "I'm being rate limited right now. Please try again shortly."
	case Authentication:
		return "I couldn't authenticate with an upstream service. An operator needs to check the credentials."
	case Authorization:
		return "I don't have permission to do that."
	case NotFound:
		return "I couldn't find what you asked for."
	case Validation:
		return "That request wasn't valid. Please check the details and try again."
	case API:
		return "An upstream service returned an error. Please try again later."
	default:
		return "Something went wrong while handling your message."
	}
}
