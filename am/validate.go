package am

import "github.com/certflow/certflow/errors"

// Validate checks that the configuration is valid
func (c *Config) Validate() error {
	if c.Scheduler.Workers <= 0 {
		return errors.Newf("scheduler.workers must be > 0, got %d", c.Scheduler.Workers)
	}
	if c.Scheduler.PollIntervalMS <= 0 {
		return errors.Newf("scheduler.poll_interval_ms must be > 0, got %d", c.Scheduler.PollIntervalMS)
	}
	// Run budget: 0 = no budget, negative = invalid
	if c.Scheduler.RunBudgetMinutes < 0 {
		return errors.Newf("scheduler.run_budget_minutes must be >= 0, got %d", c.Scheduler.RunBudgetMinutes)
	}
	if c.Scheduler.MaxMemoryPercent < 0 || c.Scheduler.MaxMemoryPercent > 100 {
		return errors.Newf("scheduler.max_memory_percent must be within [0,100], got %f", c.Scheduler.MaxMemoryPercent)
	}

	if c.Retry.MaxAttempts <= 0 {
		return errors.Newf("retry.max_attempts must be > 0, got %d", c.Retry.MaxAttempts)
	}
	if c.Retry.Factor < 1 {
		return errors.Newf("retry.factor must be >= 1, got %f", c.Retry.Factor)
	}
	if c.Retry.BaseDelayMS < 0 || c.Retry.MaxBackoffMS < 0 {
		return errors.New("retry delays must be >= 0")
	}

	if c.Breaker.FailureThreshold <= 0 {
		return errors.Newf("breaker.failure_threshold must be > 0, got %d", c.Breaker.FailureThreshold)
	}
	if c.Breaker.ResetTimeoutSecs <= 0 {
		return errors.Newf("breaker.reset_timeout_secs must be > 0, got %d", c.Breaker.ResetTimeoutSecs)
	}

	if c.Detector.ProgressThreshold <= 0 || c.Detector.ProgressThreshold > 1 {
		return errors.Newf("detector.progress_threshold must be within (0,1], got %f", c.Detector.ProgressThreshold)
	}
	if c.Detector.DebounceSamples <= 0 {
		return errors.Newf("detector.debounce_samples must be > 0, got %d", c.Detector.DebounceSamples)
	}
	if c.Detector.ConfidenceThreshold <= 0 || c.Detector.ConfidenceThreshold > 1 {
		return errors.Newf("detector.confidence_threshold must be within (0,1], got %f", c.Detector.ConfidenceThreshold)
	}

	if c.Browser.ActionTimeoutSecs <= 0 {
		return errors.Newf("browser.action_timeout_secs must be > 0, got %d", c.Browser.ActionTimeoutSecs)
	}
	if c.Browser.NavTimeoutSecs <= 0 {
		return errors.Newf("browser.nav_timeout_secs must be > 0, got %d", c.Browser.NavTimeoutSecs)
	}

	if c.OpenRouter.TimeoutSecs <= 0 {
		return errors.Newf("openrouter.timeout_secs must be > 0, got %d", c.OpenRouter.TimeoutSecs)
	}
	// Rate limit: 0 = unlimited, negative = invalid
	if c.OpenRouter.RequestsPerMinute < 0 {
		return errors.Newf("openrouter.requests_per_minute must be >= 0, got %d", c.OpenRouter.RequestsPerMinute)
	}
	if c.OpenRouter.QuizAttemptsPerTask <= 0 {
		return errors.Newf("openrouter.quiz_attempts_per_task must be > 0, got %d", c.OpenRouter.QuizAttemptsPerTask)
	}

	if c.Platforms.Dir == "" {
		return errors.New("platforms.dir cannot be empty")
	}

	return nil
}
