package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deeplifeai/swarmweaver-sub001/internal/apperr"
	"github.com/deeplifeai/swarmweaver-sub001/internal/config"
)

func fastConfig(retries int) Config {
	return Config{MaxRetries: retries, InitialDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond}
}

func TestDo_SucceedsAfterRetryableFailures(t *testing.T) {
	calls := 0
	err := Do(context.Background(), fastConfig(3), func(context.Context) error {
		calls++
		if calls < 3 {
			return apperr.New(apperr.Network, "op", errors.New("reset"))
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestDo_StopsOnNonRetryable(t *testing.T) {
	calls := 0
	want := apperr.New(apperr.Validation, "op", errors.New("bad args"))
	err := Do(context.Background(), fastConfig(5), func(context.Context) error {
		calls++
		return want
	})
	assert.Equal(t, 1, calls)
	assert.ErrorIs(t, err, want)
}

func TestDo_ExhaustsBudget(t *testing.T) {
	calls := 0
	var notified []int
	err := DoWithNotify(context.Background(), fastConfig(2), func(context.Context) error {
		calls++
		return apperr.New(apperr.RateLimit, "op", errors.New("429"))
	}, func(attempt int, _ error) {
		notified = append(notified, attempt)
	})
	require.Error(t, err)
	assert.Equal(t, apperr.RateLimit, apperr.Classify(err))
	assert.Equal(t, 3, calls)
	assert.Equal(t, []int{1, 2, 3}, notified)
}

func TestDo_ZeroRetriesTriesOnce(t *testing.T) {
	calls := 0
	err := Do(context.Background(), fastConfig(0), func(context.Context) error {
		calls++
		return apperr.New(apperr.Timeout, "op", nil)
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestDo_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cfg := Config{MaxRetries: 10, InitialDelay: time.Hour, MaxDelay: time.Hour}
	calls := 0
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()
	err := Do(ctx, cfg, func(context.Context) error {
		calls++
		return apperr.New(apperr.Network, "op", nil)
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestApplyDefaults(t *testing.T) {
	c := Config{MaxRetries: -1, JitterPercent: 300}
	c.ApplyDefaults()
	assert.Equal(t, 0, c.MaxRetries)
	assert.Equal(t, time.Second, c.InitialDelay)
	assert.Equal(t, 30*time.Second, c.MaxDelay)
	assert.Equal(t, 20, c.JitterPercent)

	c = Config{InitialDelay: time.Minute, MaxDelay: time.Second}
	c.ApplyDefaults()
	assert.Equal(t, time.Minute, c.MaxDelay)
}

func TestFromAppConfig(t *testing.T) {
	c := FromAppConfig(config.Default().Retry)
	assert.Equal(t, DefaultConfig(), c)
}
