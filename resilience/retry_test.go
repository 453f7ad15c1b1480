package resilience

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/certflow/certflow/errors"
)

func testRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts: 3,
		BaseDelay:   time.Second,
		Factor:      2.0,
		MaxBackoff:  30 * time.Second,
	}
}

func testBreakerConfig() BreakerConfig {
	return BreakerConfig{
		FailureThreshold: 5,
		ResetTimeout:     time.Minute,
	}
}

// newTestExecutor captures backoff delays instead of sleeping.
func newTestExecutor(retry RetryConfig, breakers *BreakerGroup) (*Executor, *[]time.Duration) {
	e := NewExecutor(retry, breakers, nil)
	var delays []time.Duration
	e.sleep = func(ctx context.Context, d time.Duration) error {
		delays = append(delays, d)
		return nil
	}
	return e, &delays
}

func transientErr(msg string) error {
	return errors.WithKind(errors.New(msg), errors.KindNetwork)
}

func TestExecute(t *testing.T) {
	t.Run("success on first attempt", func(t *testing.T) {
		e, delays := newTestExecutor(testRetryConfig(), NewBreakerGroup(testBreakerConfig()))

		outcome := e.Execute(context.Background(), DependencyBrowser, func(ctx context.Context) error {
			return nil
		})

		assert.True(t, outcome.Succeeded)
		assert.Equal(t, 1, outcome.Attempts)
		assert.NoError(t, outcome.LastError)
		assert.Empty(t, *delays)
	})

	t.Run("three transient failures back off 1s then 2s", func(t *testing.T) {
		e, delays := newTestExecutor(testRetryConfig(), NewBreakerGroup(testBreakerConfig()))

		calls := 0
		outcome := e.Execute(context.Background(), DependencyBrowser, func(ctx context.Context) error {
			calls++
			return transientErr("connection reset")
		})

		assert.False(t, outcome.Succeeded)
		assert.Equal(t, 3, outcome.Attempts)
		assert.Equal(t, 3, calls)
		require.Error(t, outcome.LastError)

		// Two waits between three attempts: base*factor^0, base*factor^1
		require.Len(t, *delays, 2)
		assert.Equal(t, time.Second, (*delays)[0])
		assert.Equal(t, 2*time.Second, (*delays)[1])
	})

	t.Run("backoff is capped at max backoff", func(t *testing.T) {
		cfg := testRetryConfig()
		cfg.MaxAttempts = 6
		cfg.MaxBackoff = 3 * time.Second
		e, delays := newTestExecutor(cfg, NewBreakerGroup(testBreakerConfig()))

		e.Execute(context.Background(), DependencyBrowser, func(ctx context.Context) error {
			return transientErr("timeout")
		})

		require.Len(t, *delays, 5)
		assert.Equal(t, 3*time.Second, (*delays)[4])
	})

	t.Run("non-retryable kind stops immediately", func(t *testing.T) {
		e, delays := newTestExecutor(testRetryConfig(), NewBreakerGroup(testBreakerConfig()))

		calls := 0
		outcome := e.Execute(context.Background(), DependencyAnswerEngine, func(ctx context.Context) error {
			calls++
			return errors.WithKind(errors.New("bad credentials"), errors.KindAuth)
		})

		assert.False(t, outcome.Succeeded)
		assert.Equal(t, 1, outcome.Attempts)
		assert.Equal(t, 1, calls)
		assert.Empty(t, *delays)
	})

	t.Run("structural sentinel stops immediately", func(t *testing.T) {
		e, _ := newTestExecutor(testRetryConfig(), NewBreakerGroup(testBreakerConfig()))

		calls := 0
		outcome := e.Execute(context.Background(), DependencyBrowser, func(ctx context.Context) error {
			calls++
			return errors.Wrap(errors.ErrSelectorMissing, "platform coursera")
		})

		assert.Equal(t, 1, calls)
		assert.True(t, errors.Is(outcome.LastError, errors.ErrSelectorMissing))
	})

	t.Run("cancelled context aborts between attempts", func(t *testing.T) {
		e := NewExecutor(testRetryConfig(), NewBreakerGroup(testBreakerConfig()), nil)
		ctx, cancel := context.WithCancel(context.Background())

		calls := 0
		e.sleep = func(ctx context.Context, d time.Duration) error {
			cancel()
			return ctx.Err()
		}

		outcome := e.Execute(ctx, DependencyBrowser, func(ctx context.Context) error {
			calls++
			return transientErr("blip")
		})

		assert.False(t, outcome.Succeeded)
		assert.Equal(t, 1, calls)
		assert.True(t, errors.Is(outcome.LastError, context.Canceled))
	})
}

func TestCircuitBreaking(t *testing.T) {
	t.Run("open circuit fails fast without invoking operation", func(t *testing.T) {
		group := NewBreakerGroup(BreakerConfig{FailureThreshold: 2, ResetTimeout: time.Minute})
		e, _ := newTestExecutor(RetryConfig{MaxAttempts: 1, BaseDelay: time.Second, Factor: 2}, group)

		// Trip the circuit
		for i := 0; i < 2; i++ {
			e.Execute(context.Background(), DependencyBrowser, func(ctx context.Context) error {
				return transientErr("down")
			})
		}
		require.Equal(t, Open, group.Get(DependencyBrowser).State())

		// Spy must not be called
		spyCalled := false
		outcome := e.Execute(context.Background(), DependencyBrowser, func(ctx context.Context) error {
			spyCalled = true
			return nil
		})

		assert.False(t, spyCalled)
		assert.False(t, outcome.Succeeded)
		assert.Equal(t, 0, outcome.Attempts)
		assert.True(t, errors.IsCircuitOpen(outcome.LastError))
	})

	t.Run("failure that opens the circuit skips the backoff", func(t *testing.T) {
		group := NewBreakerGroup(BreakerConfig{FailureThreshold: 1, ResetTimeout: time.Minute})
		e, delays := newTestExecutor(testRetryConfig(), group)

		opErr := transientErr("socket hang up")
		calls := 0
		outcome := e.Execute(context.Background(), DependencyBrowser, func(ctx context.Context) error {
			calls++
			return opErr
		})

		// One failure trips the threshold; waiting out the backoff would
		// only lead to a fail-fast Allow, so the loop stops right away.
		assert.Equal(t, 1, calls)
		assert.Equal(t, 1, outcome.Attempts)
		assert.Empty(t, *delays)

		// The operation's error survives, not a circuit-open wrapper.
		assert.True(t, errors.Is(outcome.LastError, opErr))
		assert.False(t, errors.IsCircuitOpen(outcome.LastError))
	})

	t.Run("half-open permits exactly one trial", func(t *testing.T) {
		b := NewBreaker(BreakerConfig{FailureThreshold: 1, ResetTimeout: time.Minute})
		now := time.Now()
		b.now = func() time.Time { return now }

		b.Failure() // opens
		require.Equal(t, Open, b.State())

		// Before the reset timeout nothing passes
		require.Error(t, b.Allow())

		// After the timeout, the first Allow claims the trial slot
		now = now.Add(time.Minute)
		require.NoError(t, b.Allow())
		assert.Equal(t, HalfOpen, b.State())

		// A second concurrent caller is rejected while the trial is in flight
		assert.Error(t, b.Allow())
	})

	t.Run("successful trial closes the circuit and resets failures", func(t *testing.T) {
		b := NewBreaker(BreakerConfig{FailureThreshold: 1, ResetTimeout: time.Minute})
		now := time.Now()
		b.now = func() time.Time { return now }

		b.Failure()
		now = now.Add(time.Minute)
		require.NoError(t, b.Allow())

		b.Success()
		assert.Equal(t, Closed, b.State())
		assert.Equal(t, 0, b.ConsecutiveFailures())
	})

	t.Run("failed trial reopens and restarts the timeout", func(t *testing.T) {
		b := NewBreaker(BreakerConfig{FailureThreshold: 1, ResetTimeout: time.Minute})
		now := time.Now()
		b.now = func() time.Time { return now }

		b.Failure()
		now = now.Add(time.Minute)
		require.NoError(t, b.Allow())

		b.Failure()
		assert.Equal(t, Open, b.State())

		// Timeout restarted from the failed trial
		now = now.Add(30 * time.Second)
		assert.Error(t, b.Allow())
		now = now.Add(30 * time.Second)
		assert.NoError(t, b.Allow())
	})

	t.Run("circuit is shared across executors via group", func(t *testing.T) {
		group := NewBreakerGroup(BreakerConfig{FailureThreshold: 1, ResetTimeout: time.Minute})
		e1, _ := newTestExecutor(RetryConfig{MaxAttempts: 1, BaseDelay: time.Second, Factor: 2}, group)
		e2, _ := newTestExecutor(RetryConfig{MaxAttempts: 1, BaseDelay: time.Second, Factor: 2}, group)

		e1.Execute(context.Background(), DependencyAnswerEngine, func(ctx context.Context) error {
			return transientErr("provider degraded")
		})

		outcome := e2.Execute(context.Background(), DependencyAnswerEngine, func(ctx context.Context) error {
			t.Fatal("operation must not run while circuit is open")
			return nil
		})
		assert.True(t, errors.IsCircuitOpen(outcome.LastError))
	})

	t.Run("states snapshot names every dependency", func(t *testing.T) {
		group := NewBreakerGroup(testBreakerConfig())
		group.Get(DependencyBrowser)
		group.Get(DependencyAnswerEngine)

		states := group.States()
		assert.Equal(t, Closed, states[DependencyBrowser])
		assert.Equal(t, Closed, states[DependencyAnswerEngine])
	})
}
