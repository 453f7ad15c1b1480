// Package scheduler governs concurrency and fairness across course runs: a
// bounded worker pool admits queued tasks in priority order, one state
// machine and one browser session per slot. It performs no course logic of
// its own.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/mem"
	"go.uber.org/zap"

	"github.com/certflow/certflow/answer"
	"github.com/certflow/certflow/browser"
	"github.com/certflow/certflow/course"
	"github.com/certflow/certflow/errors"
	"github.com/certflow/certflow/platform"
	"github.com/certflow/certflow/resilience"
	"github.com/certflow/certflow/vision"
)

const (
	DefaultWorkers      = 3
	DefaultPollInterval = 2 * time.Second
)

// SessionFactory opens a fresh browser session for one course run. The
// scheduler owns the returned session and closes it when the run ends.
type SessionFactory func(ctx context.Context) (browser.Session, error)

// Config tunes the scheduler.
type Config struct {
	// Workers caps concurrent course runs. Defaults to DefaultWorkers.
	Workers int
	// PollInterval is how often the queue is checked for admittable tasks.
	PollInterval time.Duration
	// RunBudget is the wall-clock limit per course run. Zero means no limit.
	RunBudget time.Duration
	// MaxMemoryPercent skips admission while system memory usage is at or
	// above this percentage. Each browser session costs roughly half a
	// gigabyte. Zero disables the check.
	MaxMemoryPercent float64
}

// Scheduler runs queued CourseTasks through their state machines under a
// concurrency cap.
type Scheduler struct {
	cfg         Config
	tasks       *course.TaskStore
	checkpoints *course.CheckpointStore
	registry    *platform.Registry
	detector    *vision.Detector
	engine      answer.Engine
	executor    *resilience.Executor
	creds       course.CredentialResolver
	machineCfg  course.MachineConfig
	sessions    SessionFactory
	logger      *zap.SugaredLogger

	slots chan struct{}
	wg    sync.WaitGroup

	mu      sync.Mutex
	running map[string]*course.Machine

	memoryUsedPercent func() (float64, error)
}

// New wires a scheduler. sessions must not be nil; every other collaborator
// is shared across all runs.
func New(
	cfg Config,
	tasks *course.TaskStore,
	checkpoints *course.CheckpointStore,
	registry *platform.Registry,
	detector *vision.Detector,
	engine answer.Engine,
	executor *resilience.Executor,
	creds course.CredentialResolver,
	machineCfg course.MachineConfig,
	sessions SessionFactory,
	log *zap.SugaredLogger,
) *Scheduler {
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultWorkers
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Scheduler{
		cfg:               cfg,
		tasks:             tasks,
		checkpoints:       checkpoints,
		registry:          registry,
		detector:          detector,
		engine:            engine,
		executor:          executor,
		creds:             creds,
		machineCfg:        machineCfg,
		sessions:          sessions,
		logger:            log.Named("scheduler"),
		slots:             make(chan struct{}, cfg.Workers),
		running:           make(map[string]*course.Machine),
		memoryUsedPercent: systemMemoryUsedPercent,
	}
}

func systemMemoryUsedPercent() (float64, error) {
	vm, err := mem.VirtualMemory()
	if err != nil {
		return 0, errors.Wrap(err, "read virtual memory")
	}
	return vm.UsedPercent, nil
}

// Run recovers orphaned tasks, then admits queued tasks in priority order
// until ctx is cancelled. It blocks until every in-flight run has drained.
func (s *Scheduler) Run(ctx context.Context) error {
	orphans, err := s.tasks.RecoverOrphans()
	if err != nil {
		return errors.Wrap(err, "recover orphans")
	}
	if len(orphans) > 0 {
		s.logger.Infow("Re-queued orphaned tasks", "count", len(orphans), "ids", orphans)
	}

	s.logger.Infow("Scheduler started",
		"workers", s.cfg.Workers,
		"poll_interval", s.cfg.PollInterval,
		"run_budget", s.cfg.RunBudget,
	)

	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()

	for {
		for s.admit(ctx) {
		}

		select {
		case <-ctx.Done():
			s.logger.Infow("Scheduler stopping, draining runs", "in_flight", len(s.snapshot()))
			s.wg.Wait()
			return nil
		case <-ticker.C:
		}
	}
}

// admit claims and starts at most one task. Returns false when no slot is
// free, memory is under pressure, or the queue is empty.
func (s *Scheduler) admit(ctx context.Context) bool {
	if s.cfg.MaxMemoryPercent > 0 {
		pct, err := s.memoryUsedPercent()
		if err != nil {
			s.logger.Warnw("Memory check failed, admitting anyway", "error", err)
		} else if pct >= s.cfg.MaxMemoryPercent {
			s.logger.Infow("Memory pressure, deferring admission",
				"used_percent", pct,
				"max_percent", s.cfg.MaxMemoryPercent,
			)
			return false
		}
	}

	select {
	case s.slots <- struct{}{}:
	default:
		return false
	}

	task, err := s.tasks.ClaimNext()
	if err != nil {
		<-s.slots
		if !errors.IsTaskNotFound(err) {
			s.logger.Errorw("Failed to claim task", "error", err)
		}
		return false
	}

	s.wg.Add(1)
	go s.runTask(ctx, task)
	return true
}

func (s *Scheduler) runTask(ctx context.Context, task *course.CourseTask) {
	defer s.wg.Done()
	defer func() { <-s.slots }()

	log := s.logger.With("task_id", task.ID, "platform", task.Platform, "priority", task.Priority)
	log.Infow("Run admitted")

	runCtx := ctx
	if s.cfg.RunBudget > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, s.cfg.RunBudget)
		defer cancel()
	}

	plat, err := s.registry.Get(task.Platform)
	if err != nil {
		log.Errorw("Unknown platform", "error", err)
		if err := s.tasks.MarkFailed(task.ID, course.ReasonPlatformUnsupported); err != nil {
			log.Errorw("Failed to record failure", "error", err)
		}
		return
	}

	session, err := s.sessions(runCtx)
	if err != nil {
		// A browser that won't launch is a host problem, not a task problem;
		// put the task back for a later attempt.
		log.Errorw("Failed to open browser session", "error", err)
		if err := s.tasks.SetStatus(task.ID, course.StatusQueued); err != nil {
			log.Errorw("Failed to re-queue task", "error", err)
		}
		return
	}
	defer func() {
		if err := session.Close(); err != nil {
			log.Warnw("Failed to close browser session", "error", err)
		}
	}()

	m := course.NewMachine(task, plat, session, s.detector, s.engine, s.executor,
		s.tasks, s.checkpoints, s.creds, s.machineCfg, log)

	s.mu.Lock()
	s.running[task.ID] = m
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.running, task.ID)
		s.mu.Unlock()
	}()

	err = m.Run(runCtx)
	switch {
	case err == nil:
		log.Infow("Run completed")
	case errors.Is(err, course.ErrPaused):
		log.Infow("Run paused, slot released")
	case errors.Is(err, context.Canceled):
		log.Infow("Run interrupted by shutdown")
	default:
		// Terminal failure; the machine already recorded status and reason.
		log.Warnw("Run failed", "error", err)
	}
}

// Pause stops a task: a running task stops at its next polling boundary, a
// queued task is parked before it is ever admitted.
func (s *Scheduler) Pause(id string) error {
	s.mu.Lock()
	m, ok := s.running[id]
	s.mu.Unlock()
	if ok {
		m.Pause()
		s.logger.Infow("Pause requested for running task", "task_id", id)
		return nil
	}

	task, err := s.tasks.Get(id)
	if err != nil {
		return err
	}
	switch task.Status {
	case course.StatusQueued:
		return s.tasks.SetStatus(id, course.StatusPaused)
	case course.StatusPaused:
		return nil
	default:
		return errors.Newf("task %s is %s, not pausable", id, task.Status)
	}
}

// Resume puts a paused task back in the queue.
func (s *Scheduler) Resume(id string) error {
	task, err := s.tasks.Get(id)
	if err != nil {
		return err
	}
	if task.Status != course.StatusPaused {
		return errors.Newf("task %s is %s, not paused", id, task.Status)
	}
	return s.tasks.SetStatus(id, course.StatusQueued)
}

func (s *Scheduler) snapshot() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.running))
	for id := range s.running {
		ids = append(ids, id)
	}
	return ids
}
