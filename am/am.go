// Package am holds the core certflow configuration.
package am

import "time"

// Config represents the core certflow configuration
type Config struct {
	Database     DatabaseConfig     `mapstructure:"database"`
	Scheduler    SchedulerConfig    `mapstructure:"scheduler"`
	Retry        RetryConfig        `mapstructure:"retry"`
	Breaker      BreakerConfig      `mapstructure:"breaker"`
	Detector     DetectorConfig     `mapstructure:"detector"`
	Browser      BrowserConfig      `mapstructure:"browser"`
	OpenRouter   OpenRouterConfig   `mapstructure:"openrouter"`
	Platforms    PlatformsConfig    `mapstructure:"platforms"`
	Certificates CertificatesConfig `mapstructure:"certificates"`
}

// DatabaseConfig configures the SQLite database
type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}

// SchedulerConfig configures the session scheduler
type SchedulerConfig struct {
	// Workers is the number of course tasks run concurrently.
	// Each worker owns one browser session, so keep this small.
	Workers int `mapstructure:"workers"`

	// PollIntervalMS is how often a state machine samples the screen.
	PollIntervalMS int `mapstructure:"poll_interval_ms"`

	// RunBudgetMinutes caps the wall-clock time of one course run.
	// A task exceeding it is forcibly failed and its session torn down.
	RunBudgetMinutes int `mapstructure:"run_budget_minutes"`

	// MaxMemoryPercent blocks admission of new sessions when system
	// memory usage is above this percentage. 0 disables the check.
	MaxMemoryPercent float64 `mapstructure:"max_memory_percent"`
}

// RetryConfig configures the retry layer
type RetryConfig struct {
	MaxAttempts  int     `mapstructure:"max_attempts"`
	BaseDelayMS  int     `mapstructure:"base_delay_ms"`
	Factor       float64 `mapstructure:"factor"`
	MaxBackoffMS int     `mapstructure:"max_backoff_ms"`
}

// BreakerConfig configures the per-dependency circuit breakers
type BreakerConfig struct {
	FailureThreshold int `mapstructure:"failure_threshold"`
	ResetTimeoutSecs int `mapstructure:"reset_timeout_secs"`
}

// DetectorConfig configures the visual state detector
type DetectorConfig struct {
	// ProgressThreshold is the filled fraction at which a video counts
	// as complete (default 0.9).
	ProgressThreshold float64 `mapstructure:"progress_threshold"`

	// DebounceSamples is how many consecutive readings over threshold
	// are required before VideoComplete is reported.
	DebounceSamples int `mapstructure:"debounce_samples"`

	// ConfidenceThreshold is the minimum template-match score accepted.
	ConfidenceThreshold float64 `mapstructure:"confidence_threshold"`

	// MotionThreshold is the mean absolute pixel difference between
	// consecutive frames above which the video counts as moving.
	MotionThreshold float64 `mapstructure:"motion_threshold"`

	// BlurThreshold is the minimum Laplacian variance for a frame to
	// count as sharp.
	BlurThreshold float64 `mapstructure:"blur_threshold"`

	// UnknownPollsBeforeNudge is how many consecutive Unknown
	// classifications trigger a nudge action.
	UnknownPollsBeforeNudge int `mapstructure:"unknown_polls_before_nudge"`

	// MaxNudges bounds corrective actions before the task escalates to
	// a manual-review failure.
	MaxNudges int `mapstructure:"max_nudges"`
}

// BrowserConfig configures browser sessions
type BrowserConfig struct {
	Headless          bool   `mapstructure:"headless"`
	UserDataDir       string `mapstructure:"user_data_dir"` // base dir; each session gets a private subdir
	ActionTimeoutSecs int    `mapstructure:"action_timeout_secs"`
	NavTimeoutSecs    int    `mapstructure:"nav_timeout_secs"`
}

// OpenRouterConfig configures OpenRouter.ai API access
type OpenRouterConfig struct {
	APIKey              string   `mapstructure:"api_key"`
	Model               string   `mapstructure:"model"`        // text model for quiz answering
	VisionModel         string   `mapstructure:"vision_model"` // multimodal model for OCR sub-operations
	Temperature         *float64 `mapstructure:"temperature"`  // nil = default 0.2
	MaxTokens           *int     `mapstructure:"max_tokens"`   // nil = default 1000
	TimeoutSecs         int      `mapstructure:"timeout_secs"`
	RequestsPerMinute   int      `mapstructure:"requests_per_minute"`
	QuizAttemptsPerTask int      `mapstructure:"quiz_attempts_per_task"`
}

// PlatformsConfig configures where per-platform tables live
type PlatformsConfig struct {
	Dir string `mapstructure:"dir"` // directory of <platform_id>.yaml tables
}

// CertificatesConfig configures completion artifact storage
type CertificatesConfig struct {
	Dir string `mapstructure:"dir"`
}

// PollInterval returns the detector polling interval as a duration.
func (c *SchedulerConfig) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalMS) * time.Millisecond
}

// RunBudget returns the per-run wall-clock budget as a duration.
func (c *SchedulerConfig) RunBudget() time.Duration {
	return time.Duration(c.RunBudgetMinutes) * time.Minute
}

// BaseDelay returns the first retry delay as a duration.
func (c *RetryConfig) BaseDelay() time.Duration {
	return time.Duration(c.BaseDelayMS) * time.Millisecond
}

// MaxBackoff returns the backoff cap as a duration.
func (c *RetryConfig) MaxBackoff() time.Duration {
	return time.Duration(c.MaxBackoffMS) * time.Millisecond
}

// ResetTimeout returns the Open->HalfOpen reset timeout as a duration.
func (c *BreakerConfig) ResetTimeout() time.Duration {
	return time.Duration(c.ResetTimeoutSecs) * time.Second
}
