package resilience

import (
	"context"
	"math"
	"time"

	"go.uber.org/zap"

	"github.com/certflow/certflow/errors"
)

// Dependency names used for the engine's shared circuits.
const (
	DependencyBrowser      = "browser"
	DependencyAnswerEngine = "answer-engine"
)

// ActionOutcome is the typed result of one Execute call, consumed immediately
// by the state machine to decide its next transition.
type ActionOutcome struct {
	Succeeded bool
	Attempts  int
	LastError error
	Elapsed   time.Duration
}

// RetryConfig holds backoff parameters.
type RetryConfig struct {
	MaxAttempts int
	BaseDelay   time.Duration
	Factor      float64
	MaxBackoff  time.Duration
}

// Operation is one unit of work against a dependency.
type Operation func(ctx context.Context) error

// Executor runs operations with retry and circuit breaking.
type Executor struct {
	retry    RetryConfig
	breakers *BreakerGroup
	logger   *zap.SugaredLogger

	// sleep is swapped out in tests to observe backoff without waiting.
	sleep func(ctx context.Context, d time.Duration) error
}

// NewExecutor creates an executor over the shared breaker group.
func NewExecutor(retry RetryConfig, breakers *BreakerGroup, log *zap.SugaredLogger) *Executor {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Executor{
		retry:    retry,
		breakers: breakers,
		logger:   log,
		sleep:    sleepCtx,
	}
}

// Breakers returns the shared breaker group.
func (e *Executor) Breakers() *BreakerGroup {
	return e.breakers
}

// Execute runs op against the named dependency. It retries retryable
// failures up to MaxAttempts with exponential backoff; non-retryable and
// structural errors stop immediately. If the dependency's circuit is open the
// operation is never invoked.
func (e *Executor) Execute(ctx context.Context, dependency string, op Operation) ActionOutcome {
	start := time.Now()
	breaker := e.breakers.Get(dependency)

	var lastErr error
	attempts := 0

	for attempt := 0; attempt < e.retry.MaxAttempts; attempt++ {
		if err := breaker.Allow(); err != nil {
			// Keep the operation's own error when one already failed; the
			// circuit-open rejection only stands in when nothing ran.
			if lastErr == nil {
				lastErr = errors.Wrapf(err, "dependency %s", dependency)
			}
			e.logger.Debugw("Circuit rejected call",
				"dependency", dependency,
				"attempts_so_far", attempts,
			)
			break
		}

		attempts++
		err := op(ctx)
		if err == nil {
			breaker.Success()
			return ActionOutcome{
				Succeeded: true,
				Attempts:  attempts,
				Elapsed:   time.Since(start),
			}
		}

		breaker.Failure()
		lastErr = err

		if errors.IsStructural(err) || !errors.IsRetryable(err) {
			e.logger.Debugw("Non-retryable failure, stopping",
				"dependency", dependency,
				"attempt", attempts,
				"kind", errors.KindOf(err).String(),
				"error", err,
			)
			break
		}

		if attempt == e.retry.MaxAttempts-1 {
			break
		}

		// A failure that just opened the circuit makes the backoff pointless:
		// the next Allow would fail fast anyway.
		if breaker.State() == Open {
			break
		}

		delay := e.backoff(attempt)
		e.logger.Debugw("Retrying after backoff",
			"dependency", dependency,
			"attempt", attempts,
			"delay", delay,
			"error", err,
		)
		if err := e.sleep(ctx, delay); err != nil {
			lastErr = err
			break
		}
	}

	return ActionOutcome{
		Succeeded: false,
		Attempts:  attempts,
		LastError: lastErr,
		Elapsed:   time.Since(start),
	}
}

// backoff computes the wait before the next attempt: base * factor^attempt,
// capped at MaxBackoff.
func (e *Executor) backoff(attempt int) time.Duration {
	delay := time.Duration(float64(e.retry.BaseDelay) * math.Pow(e.retry.Factor, float64(attempt)))
	if e.retry.MaxBackoff > 0 && delay > e.retry.MaxBackoff {
		delay = e.retry.MaxBackoff
	}
	return delay
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
