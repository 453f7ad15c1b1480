package am

import "github.com/spf13/viper"

// SetDefaults configures default values for all configuration options
func SetDefaults(v *viper.Viper) {
	// Database defaults
	v.SetDefault("database.path", "certflow.db")

	// Scheduler defaults
	v.SetDefault("scheduler.workers", 3)
	v.SetDefault("scheduler.poll_interval_ms", 1000)
	v.SetDefault("scheduler.run_budget_minutes", 240) // 4h wall clock per course
	v.SetDefault("scheduler.max_memory_percent", 85.0)

	// Retry defaults
	v.SetDefault("retry.max_attempts", 3)
	v.SetDefault("retry.base_delay_ms", 1000)
	v.SetDefault("retry.factor", 2.0)
	v.SetDefault("retry.max_backoff_ms", 30000)

	// Circuit breaker defaults
	v.SetDefault("breaker.failure_threshold", 5)
	v.SetDefault("breaker.reset_timeout_secs", 60)

	// Detector defaults
	v.SetDefault("detector.progress_threshold", 0.9)
	v.SetDefault("detector.debounce_samples", 3)
	v.SetDefault("detector.confidence_threshold", 0.8)
	v.SetDefault("detector.motion_threshold", 4.0)
	v.SetDefault("detector.blur_threshold", 100.0)
	v.SetDefault("detector.unknown_polls_before_nudge", 5)
	v.SetDefault("detector.max_nudges", 3)

	// Browser defaults
	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.user_data_dir", "data/sessions")
	v.SetDefault("browser.action_timeout_secs", 5)
	v.SetDefault("browser.nav_timeout_secs", 30)

	// OpenRouter defaults
	v.SetDefault("openrouter.model", "openai/gpt-4o-mini") // Cost-effective default
	v.SetDefault("openrouter.vision_model", "openai/gpt-4o-mini")
	v.SetDefault("openrouter.temperature", 0.2) // Deterministic
	v.SetDefault("openrouter.max_tokens", 1000)
	v.SetDefault("openrouter.timeout_secs", 60) // Reasoning models take time
	v.SetDefault("openrouter.requests_per_minute", 10)
	v.SetDefault("openrouter.quiz_attempts_per_task", 3)

	// Platform tables
	v.SetDefault("platforms.dir", "config/platforms")

	// Certificates
	v.SetDefault("certificates.dir", "data/certificates")
}

// BindSensitiveEnvVars explicitly binds sensitive configuration to environment variables
func BindSensitiveEnvVars(v *viper.Viper) {
	v.BindEnv("openrouter.api_key", "CERTFLOW_OPENROUTER_API_KEY")
	v.BindEnv("database.path", "CERTFLOW_DATABASE_PATH")
}
