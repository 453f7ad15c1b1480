package am

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func defaultConfig(t *testing.T) *Config {
	t.Helper()

	v := viper.New()
	SetDefaults(v)

	var cfg Config
	require.NoError(t, v.Unmarshal(&cfg))
	return &cfg
}

func TestDefaultsAreValid(t *testing.T) {
	cfg := defaultConfig(t)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 3, cfg.Scheduler.Workers)
	assert.Equal(t, 1000, cfg.Scheduler.PollIntervalMS)
	assert.Equal(t, 3, cfg.Retry.MaxAttempts)
	assert.Equal(t, 2.0, cfg.Retry.Factor)
	assert.Equal(t, 5, cfg.Breaker.FailureThreshold)
	assert.Equal(t, 0.9, cfg.Detector.ProgressThreshold)
	assert.Equal(t, 3, cfg.Detector.DebounceSamples)
}

func TestValidateRejectsBadValues(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero workers", func(c *Config) { c.Scheduler.Workers = 0 }},
		{"negative poll interval", func(c *Config) { c.Scheduler.PollIntervalMS = -1 }},
		{"zero retry attempts", func(c *Config) { c.Retry.MaxAttempts = 0 }},
		{"factor below one", func(c *Config) { c.Retry.Factor = 0.5 }},
		{"zero failure threshold", func(c *Config) { c.Breaker.FailureThreshold = 0 }},
		{"progress threshold above one", func(c *Config) { c.Detector.ProgressThreshold = 1.5 }},
		{"zero debounce", func(c *Config) { c.Detector.DebounceSamples = 0 }},
		{"memory percent above 100", func(c *Config) { c.Scheduler.MaxMemoryPercent = 150 }},
		{"empty platforms dir", func(c *Config) { c.Platforms.Dir = "" }},
		{"zero quiz attempts", func(c *Config) { c.OpenRouter.QuizAttemptsPerTask = 0 }},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := defaultConfig(t)
			tc.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "certflow.toml")
	content := `
[scheduler]
workers = 5
poll_interval_ms = 500

[openrouter]
model = "deepseek/deepseek-r1"

[retry]
max_attempts = 4
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := LoadFromFile(path)
	require.NoError(t, err)

	assert.Equal(t, 5, cfg.Scheduler.Workers)
	assert.Equal(t, 500, cfg.Scheduler.PollIntervalMS)
	assert.Equal(t, "deepseek/deepseek-r1", cfg.OpenRouter.Model)
	assert.Equal(t, 4, cfg.Retry.MaxAttempts)
	// Untouched sections keep defaults
	assert.Equal(t, 5, cfg.Breaker.FailureThreshold)
}

func TestDurationHelpers(t *testing.T) {
	cfg := defaultConfig(t)

	assert.Equal(t, "1s", cfg.Scheduler.PollInterval().String())
	assert.Equal(t, "1s", cfg.Retry.BaseDelay().String())
	assert.Equal(t, "30s", cfg.Retry.MaxBackoff().String())
	assert.Equal(t, "1m0s", cfg.Breaker.ResetTimeout().String())
}
