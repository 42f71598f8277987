// Package retry runs operations with exponential backoff and jitter.
// Only errors classified as retryable by apperr are retried.
package retry

import (
	"context"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/deeplifeai/swarmweaver-sub001/internal/apperr"
	"github.com/deeplifeai/swarmweaver-sub001/internal/config"
)

// Config configures backoff.
type Config struct {
	// MaxRetries is the number of attempts after the first.
	// Default: 3
	MaxRetries int

	// InitialDelay is the first backoff duration.
	// Default: 1 second
	InitialDelay time.Duration

	// MaxDelay caps each backoff duration.
	// Default: 30 seconds
	MaxDelay time.Duration

	// JitterPercent randomizes each delay by +/- this percentage.
	// Default: 20
	JitterPercent int
}

// DefaultConfig returns the default retry configuration.
func DefaultConfig() Config {
	return Config{
		MaxRetries:    3,
		InitialDelay:  time.Second,
		MaxDelay:      30 * time.Second,
		JitterPercent: 20,
	}
}

// FromAppConfig converts the configuration file section.
func FromAppConfig(rc config.RetryConfig) Config {
	return Config{
		MaxRetries:    rc.MaxRetries,
		InitialDelay:  rc.InitialDelay,
		MaxDelay:      rc.MaxDelay,
		JitterPercent: rc.JitterPercent,
	}
}

// ApplyDefaults sets default values for unset fields. A zero MaxRetries is
// kept: it means "try once".
func (c *Config) ApplyDefaults() {
	defaults := DefaultConfig()
	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	}
	if c.InitialDelay <= 0 {
		c.InitialDelay = defaults.InitialDelay
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = defaults.MaxDelay
	}
	if c.MaxDelay < c.InitialDelay {
		c.MaxDelay = c.InitialDelay
	}
	if c.JitterPercent < 0 || c.JitterPercent > 100 {
		c.JitterPercent = defaults.JitterPercent
	}
}

// Backoff builds a fresh backoff. go-retry backoffs are stateful, so one is
// built per Do call.
func (c Config) Backoff() retry.Backoff {
	c.ApplyDefaults()
	b := retry.NewExponential(c.InitialDelay)
	if c.JitterPercent > 0 {
		b = retry.WithJitterPercent(uint64(c.JitterPercent), b)
	}
	b = retry.WithCappedDuration(c.MaxDelay, b)
	return retry.WithMaxRetries(uint64(c.MaxRetries), b)
}

// Do calls op until it succeeds, returns a non-retryable error, the retry
// budget is spent or ctx is done. The last error from op is returned
// unchanged.
func Do(ctx context.Context, cfg Config, op func(ctx context.Context) error) error {
	return DoWithNotify(ctx, cfg, op, nil)
}

// DoWithNotify is Do with a callback invoked after every retryable failure,
// including the last one.
func DoWithNotify(ctx context.Context, cfg Config, op func(ctx context.Context) error, notify func(attempt int, err error)) error {
	attempt := 0
	return retry.Do(ctx, cfg.Backoff(), func(ctx context.Context) error {
		attempt++
		err := op(ctx)
		if err == nil {
			return nil
		}
		if !apperr.IsRetryable(err) {
			return err
		}
		if notify != nil {
			notify(attempt, err)
		}
		return retry.RetryableError(err)
	})
}
