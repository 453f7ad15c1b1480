package commands

import (
	"context"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/certflow/certflow/am"
	"github.com/certflow/certflow/answer"
	"github.com/certflow/certflow/browser"
	"github.com/certflow/certflow/course"
	"github.com/certflow/certflow/db"
	"github.com/certflow/certflow/errors"
	"github.com/certflow/certflow/logger"
	"github.com/certflow/certflow/platform"
	"github.com/certflow/certflow/resilience"
	"github.com/certflow/certflow/scheduler"
	"github.com/certflow/certflow/sym"
	"github.com/certflow/certflow/version"
	"github.com/certflow/certflow/vision"
)

// RunCmd starts the automation daemon.
var RunCmd = &cobra.Command{
	Use:   "run",
	Short: sym.Daemon + " Run the automation daemon",
	Long: `Run the scheduler and its worker pool until interrupted.

The daemon recovers tasks orphaned by a previous crash, admits queued tasks
in priority order up to the configured worker count, and drives each one
through its course with a dedicated browser session. SIGINT/SIGTERM stop
admission and drain in-flight runs; interrupted tasks are re-queued.

Examples:
  certflow run
  CERTFLOW_LOG_LEVEL=debug certflow run`,
	RunE: runDaemon,
}

func runDaemon(cmd *cobra.Command, args []string) error {
	cfg, err := am.Load()
	if err != nil {
		return errors.Wrap(err, "load configuration")
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	log := logger.Logger

	database, err := db.OpenWithMigrations(cfg.Database.Path, log)
	if err != nil {
		return errors.Wrap(err, "open database")
	}
	defer database.Close()

	tasks := course.NewTaskStore(database, log)
	checkpoints := course.NewCheckpointStore(database, log)
	usage := answer.NewUsageStore(database)

	registry, err := platform.NewRegistry(cfg.Platforms.Dir, log)
	if err != nil {
		return errors.Wrap(err, "load platform tables")
	}
	watcher, err := platform.NewWatcher(registry)
	if err != nil {
		log.Warnw("Platform table hot-reload unavailable", "error", err)
	} else {
		watcher.Start()
		defer watcher.Stop()
	}

	client := answer.NewClient(answer.Config{
		APIKey:            cfg.OpenRouter.APIKey,
		Model:             cfg.OpenRouter.Model,
		Temperature:       cfg.OpenRouter.Temperature,
		MaxTokens:         cfg.OpenRouter.MaxTokens,
		RequestsPerMinute: cfg.OpenRouter.RequestsPerMinute,
		Timeout:           time.Duration(cfg.OpenRouter.TimeoutSecs) * time.Second,
		Logger:            log,
		Usage:             usage,
	})

	detector := vision.NewDetector(vision.Config{
		ProgressThreshold:   cfg.Detector.ProgressThreshold,
		DebounceSamples:     cfg.Detector.DebounceSamples,
		ConfidenceThreshold: cfg.Detector.ConfidenceThreshold,
		MotionThreshold:     cfg.Detector.MotionThreshold,
		BlurThreshold:       cfg.Detector.BlurThreshold,
	}, cfg.Platforms.Dir, client, cfg.OpenRouter.VisionModel, log)

	executor := resilience.NewExecutor(
		resilience.RetryConfig{
			MaxAttempts: cfg.Retry.MaxAttempts,
			BaseDelay:   cfg.Retry.BaseDelay(),
			Factor:      cfg.Retry.Factor,
			MaxBackoff:  cfg.Retry.MaxBackoff(),
		},
		resilience.NewBreakerGroup(resilience.BreakerConfig{
			FailureThreshold: cfg.Breaker.FailureThreshold,
			ResetTimeout:     cfg.Breaker.ResetTimeout(),
		}),
		log,
	)

	machineCfg := course.MachineConfig{
		PollInterval:            cfg.Scheduler.PollInterval(),
		UnknownPollsBeforeNudge: cfg.Detector.UnknownPollsBeforeNudge,
		MaxNudges:               cfg.Detector.MaxNudges,
		QuizAttemptBudget:       cfg.OpenRouter.QuizAttemptsPerTask,
		CertificatesDir:         cfg.Certificates.Dir,
	}

	sessions := func(ctx context.Context) (browser.Session, error) {
		dataDir := ""
		if cfg.Browser.UserDataDir != "" {
			// Private profile per session so cookies never leak across tasks
			dataDir = filepath.Join(cfg.Browser.UserDataDir, uuid.NewString())
		}
		return browser.NewRodSession(browser.Options{
			Headless:      cfg.Browser.Headless,
			UserDataDir:   dataDir,
			NavTimeout:    time.Duration(cfg.Browser.NavTimeoutSecs) * time.Second,
			ActionTimeout: time.Duration(cfg.Browser.ActionTimeoutSecs) * time.Second,
		}, log)
	}

	sched := scheduler.New(
		scheduler.Config{
			Workers:          cfg.Scheduler.Workers,
			RunBudget:        cfg.Scheduler.RunBudget(),
			MaxMemoryPercent: cfg.Scheduler.MaxMemoryPercent,
		},
		tasks, checkpoints, registry, detector, client, executor,
		course.EnvCredentialResolver{}, machineCfg, sessions, log,
	)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Infow("Daemon starting",
		"version", version.Get().Short(),
		"workers", cfg.Scheduler.Workers,
		"platforms", registry.IDs(),
	)
	return sched.Run(ctx)
}
