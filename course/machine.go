package course

import (
	"context"
	"fmt"
	"image"
	"image/png"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/certflow/certflow/answer"
	"github.com/certflow/certflow/browser"
	"github.com/certflow/certflow/errors"
	"github.com/certflow/certflow/platform"
	"github.com/certflow/certflow/resilience"
	"github.com/certflow/certflow/vision"
)

// ErrPaused reports a run that stopped cleanly at a polling boundary because
// pause was requested. The task is resumable from its last checkpoint.
var ErrPaused = errors.New("course: run paused")

// Terminal reason codes surfaced on failed tasks.
const (
	ReasonAuth                  = "auth"
	ReasonPlatformUnsupported   = "platform_unsupported"
	ReasonSelectorMissing       = "selector_missing"
	ReasonDetectionAmbiguous    = "detection_ambiguous"
	ReasonQuizAttemptsExhausted = "quiz_attempts_exhausted"
	ReasonRunBudgetExceeded     = "run_budget_exceeded"
	ReasonRetriesExhausted      = "retries_exhausted"
)

// MachineConfig holds per-run pacing and budgets.
type MachineConfig struct {
	PollInterval            time.Duration
	UnknownPollsBeforeNudge int
	MaxNudges               int
	QuizAttemptBudget       int
	CertificatesDir         string
}

// Machine drives one CourseTask through its lifecycle. It owns the task
// exclusively for the duration of Run; all collaborator calls go through the
// resilience executor so the machine only ever sees typed outcomes.
type Machine struct {
	task        *CourseTask
	plat        *platform.Platform
	session     browser.Session
	detector    *vision.Detector
	engine      answer.Engine
	executor    *resilience.Executor
	tasks       *TaskStore
	checkpoints *CheckpointStore
	creds       CredentialResolver
	cfg         MachineConfig
	logger      *zap.SugaredLogger

	pauseRequested atomic.Bool

	// per-run state, reset on step advance
	step          Step
	stepIndex     int
	prevFrame     image.Image
	progress      *vision.Debounce
	unknownStreak int
	nudges        int
}

// NewMachine wires a machine for one task. session is owned by the caller;
// the machine never closes it.
func NewMachine(
	task *CourseTask,
	plat *platform.Platform,
	session browser.Session,
	detector *vision.Detector,
	engine answer.Engine,
	executor *resilience.Executor,
	tasks *TaskStore,
	checkpoints *CheckpointStore,
	creds CredentialResolver,
	cfg MachineConfig,
	log *zap.SugaredLogger,
) *Machine {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	if creds == nil {
		creds = EnvCredentialResolver{}
	}
	return &Machine{
		task:        task,
		plat:        plat,
		session:     session,
		detector:    detector,
		engine:      engine,
		executor:    executor,
		tasks:       tasks,
		checkpoints: checkpoints,
		creds:       creds,
		cfg:         cfg,
		logger:      log.Named("machine").With("task_id", task.ID),
		progress:    detector.NewProgressDebounce(),
	}
}

// Pause requests a stop at the next polling boundary, never mid-action, so
// the browser is not left half-submitted.
func (m *Machine) Pause() {
	m.pauseRequested.Store(true)
}

// Run executes the course lifecycle until a terminal state, pause, or context
// expiry. A resumed task picks up at its last checkpointed step; the login
// and navigation bootstrap always runs because the browser session is fresh,
// but already-confirmed steps are not re-checkpointed or re-submitted.
func (m *Machine) Run(ctx context.Context) error {
	resume, err := m.checkpoints.Load(m.task.ID)
	if err != nil {
		return m.fail(err, ReasonRetriesExhausted)
	}

	m.step = StepInitializing
	if resume != nil {
		m.stepIndex = resume.StepIndex
		m.logger.Infow("Resuming from checkpoint",
			"step", resume.Step.String(),
			"step_index", resume.StepIndex,
		)

		// A StepCompleted checkpoint means the certificate was captured but
		// the process died before the task row was stamped. Finish the
		// bookkeeping; there is no course left to run.
		if resume.Step == StepCompleted {
			path := filepath.Join(m.cfg.CertificatesDir, m.task.ID+".png")
			if err := m.tasks.MarkCompleted(m.task.ID, path); err != nil {
				return m.fail(err, ReasonRetriesExhausted)
			}
			m.task.Status = StatusCompleted
			m.task.Step = StepCompleted
			m.task.CertificatePath = path
			m.logger.Infow("Resumed task was already complete", "certificate", path)
			return nil
		}
	}

	// Bootstrap: validate the platform table, log in, open the course. On a
	// fresh run each stage is checkpointed; on resume they replay silently.
	fresh := resume == nil
	if err := m.initialize(fresh); err != nil {
		return err
	}
	if err := m.login(ctx, fresh); err != nil {
		return err
	}
	if err := m.navigate(ctx); err != nil {
		return err
	}

	if resume != nil && resume.Step > StepWatchingVideo {
		m.step = resume.Step
	} else {
		if fresh {
			if err := m.advance(StepWatchingVideo); err != nil {
				return err
			}
		} else {
			m.step = StepWatchingVideo
		}
	}

	return m.pollLoop(ctx)
}

func (m *Machine) initialize(checkpoint bool) error {
	if err := m.plat.Validate(); err != nil {
		return m.fail(err, ReasonSelectorMissing)
	}
	if checkpoint {
		if err := m.advance(StepLoggingIn); err != nil {
			return err
		}
	}
	return nil
}

func (m *Machine) login(ctx context.Context, checkpoint bool) error {
	creds, err := m.creds.Resolve(m.task.CredentialRef)
	if err != nil {
		return m.fail(err, ReasonAuth)
	}

	username, _ := m.plat.Selector(platform.SelectorUsername)
	password, _ := m.plat.Selector(platform.SelectorPassword)
	submit, _ := m.plat.Selector(platform.SelectorSubmit)

	outcome := m.executor.Execute(ctx, resilience.DependencyBrowser, func(ctx context.Context) error {
		if err := m.session.Navigate(ctx, m.plat.LoginURL); err != nil {
			return err
		}
		if err := m.session.Fill(ctx, username, creds.Username); err != nil {
			return err
		}
		if err := m.session.Fill(ctx, password, creds.Password); err != nil {
			return err
		}
		return m.session.Click(ctx, submit)
	})
	if !outcome.Succeeded {
		return m.failOutcome(outcome)
	}

	m.logger.Infow("Logged in", "platform", m.plat.ID, "attempts", outcome.Attempts)
	if checkpoint {
		return m.advance(StepNavigating)
	}
	return nil
}

func (m *Machine) navigate(ctx context.Context) error {
	outcome := m.executor.Execute(ctx, resilience.DependencyBrowser, func(ctx context.Context) error {
		return m.session.Navigate(ctx, m.task.CourseURL)
	})
	if !outcome.Succeeded {
		return m.failOutcome(outcome)
	}

	m.logger.Infow("Course page open", "url", m.task.CourseURL)
	return nil
}

// pollLoop is the machine's main suspension point: one detection per poll
// interval, pause and cancellation observed only here.
func (m *Machine) pollLoop(ctx context.Context) error {
	ticker := time.NewTicker(m.cfg.PollInterval)
	defer ticker.Stop()

	for {
		if m.pauseRequested.Load() {
			return m.pause()
		}

		select {
		case <-ctx.Done():
			return m.interrupted(ctx)
		case <-ticker.C:
		}

		if m.pauseRequested.Load() {
			return m.pause()
		}

		// A pause written to the store by another process is honored at the
		// same boundary as an in-process pause request.
		if current, err := m.tasks.Get(m.task.ID); err == nil && current.Status == StatusPaused {
			m.task.Status = StatusPaused
			m.logger.Infow("Run paused externally", "step", m.step.String())
			return ErrPaused
		}

		frame, err := m.capture(ctx)
		if err != nil {
			return err
		}

		detection, err := m.detector.Detect(m.prevFrame, frame, m.plat, m.progress)
		if err != nil {
			return m.fail(err, ReasonDetectionAmbiguous)
		}
		m.prevFrame = frame

		done, err := m.dispatch(ctx, frame, detection)
		if err != nil {
			return err
		}
		if done {
			return nil
		}
	}
}

// dispatch routes one detection through the current step. Returns done=true
// when the run reached Completed.
func (m *Machine) dispatch(ctx context.Context, frame image.Image, det vision.DetectionResult) (bool, error) {
	if det.Classification == vision.Unknown {
		return false, m.handleUnknown(ctx)
	}
	m.unknownStreak = 0

	switch m.step {
	case StepWatchingVideo:
		switch det.Classification {
		case vision.VideoPlaying:
			// stay
		case vision.VideoComplete:
			m.logger.Infow("Video complete", "region", det.RegionID, "confidence", det.Confidence)
			return false, m.advance(StepAnsweringQuiz)
		case vision.QuizVisible:
			return false, m.advance(StepAnsweringQuiz)
		case vision.AssignmentVisible:
			return false, m.advance(StepSubmittingAssignment)
		case vision.CertificateVisible:
			return false, m.advance(StepAwaitingCertificate)
		}

	case StepAnsweringQuiz:
		switch det.Classification {
		case vision.QuizVisible:
			return false, m.answerQuiz(ctx, frame, det)
		case vision.AssignmentVisible:
			// course had no quiz after this video
			return false, m.advance(StepSubmittingAssignment)
		case vision.CertificateVisible:
			return false, m.advance(StepAwaitingCertificate)
		}

	case StepSubmittingAssignment:
		switch det.Classification {
		case vision.AssignmentVisible:
			return false, m.submitAssignment(ctx)
		case vision.CertificateVisible:
			return false, m.advance(StepAwaitingCertificate)
		}

	case StepAwaitingCertificate:
		if det.Classification == vision.CertificateVisible {
			return true, m.captureCertificate(ctx, frame, det)
		}
	}

	return false, nil
}

// handleUnknown counts consecutive unclassifiable polls; past the threshold
// it fires the platform's nudge action, and past the nudge budget it fails
// the run as detection-ambiguous.
func (m *Machine) handleUnknown(ctx context.Context) error {
	m.unknownStreak++
	if m.unknownStreak < m.cfg.UnknownPollsBeforeNudge {
		return nil
	}

	if m.nudges >= m.cfg.MaxNudges {
		return m.fail(
			errors.Wrapf(errors.ErrDetectionAmbiguous, "unknown for %d polls after %d nudges", m.unknownStreak, m.nudges),
			ReasonDetectionAmbiguous)
	}

	m.nudges++
	m.unknownStreak = 0
	m.logger.Infow("Nudging stalled playback", "nudge", m.nudges, "selector", m.plat.NudgeSelector)

	if m.plat.NudgeSelector == "" {
		return nil
	}
	outcome := m.executor.Execute(ctx, resilience.DependencyBrowser, func(ctx context.Context) error {
		return m.session.Click(ctx, m.plat.NudgeSelector)
	})
	if !outcome.Succeeded && errors.IsStructural(outcome.LastError) {
		return m.failOutcome(outcome)
	}
	// A failed nudge is not terminal; the next polls decide.
	return nil
}

// answerQuiz runs one quiz interaction: read the question off the frame, ask
// the answer engine, submit. Attempts are counted and persisted before the
// non-idempotent submission so a crash cannot grant extra attempts.
func (m *Machine) answerQuiz(ctx context.Context, frame image.Image, det vision.DetectionResult) error {
	if m.task.QuizAttempts >= m.cfg.QuizAttemptBudget {
		err := errors.Newf("quiz attempt budget exhausted (%d)", m.cfg.QuizAttemptBudget)
		if storeErr := m.tasks.MarkFlagged(m.task.ID, ReasonQuizAttemptsExhausted); storeErr != nil {
			m.logger.Errorw("Failed to flag task", "error", storeErr)
		}
		return err
	}

	region := m.plat.Region(det.RegionID)
	if region == nil {
		return m.fail(errors.Newf("quiz region %q vanished from platform table", det.RegionID), ReasonSelectorMissing)
	}

	var question string
	outcome := m.executor.Execute(ctx, resilience.DependencyAnswerEngine, func(ctx context.Context) error {
		text, err := m.detector.ExtractText(ctx, frame, region)
		if err != nil {
			return err
		}
		question = text
		return nil
	})
	if !outcome.Succeeded {
		return m.failOutcome(outcome)
	}

	var proposed string
	outcome = m.executor.Execute(ctx, resilience.DependencyAnswerEngine, func(ctx context.Context) error {
		ans, err := m.engine.Complete(ctx, answer.Request{
			SystemPrompt: "You are taking an online course quiz. Answer with only the answer text, no explanation.",
			UserPrompt:   question,
			TaskID:       m.task.ID,
		})
		if err != nil {
			return err
		}
		proposed = ans.Content
		return nil
	})
	if !outcome.Succeeded {
		return m.failOutcome(outcome)
	}

	m.logger.Infow("Quiz answer proposed",
		"attempt", m.task.QuizAttempts+1,
		"budget", m.cfg.QuizAttemptBudget,
		"question_length", len(question),
	)

	answerSel, err := m.plat.Selector("quiz_answer")
	if err != nil {
		return m.fail(err, ReasonSelectorMissing)
	}
	submitSel, err := m.plat.Selector("quiz_submit")
	if err != nil {
		return m.fail(err, ReasonSelectorMissing)
	}

	// Count the attempt before the submission: resubmitting consumes limited
	// platform attempts, so under-counting is worse than over-counting.
	m.task.QuizAttempts++
	if err := m.tasks.SetQuizAttempts(m.task.ID, m.task.QuizAttempts); err != nil {
		return m.fail(err, ReasonRetriesExhausted)
	}

	outcome = m.executor.Execute(ctx, resilience.DependencyBrowser, func(ctx context.Context) error {
		if err := m.session.Fill(ctx, answerSel, proposed); err != nil {
			return err
		}
		return m.session.Click(ctx, submitSel)
	})
	if !outcome.Succeeded {
		return m.failOutcome(outcome)
	}

	// Re-poll; the next detection decides whether another question follows.
	m.progress.Reset()
	return nil
}

func (m *Machine) submitAssignment(ctx context.Context) error {
	submitSel, err := m.plat.Selector("assignment_submit")
	if err != nil {
		return m.fail(err, ReasonSelectorMissing)
	}

	outcome := m.executor.Execute(ctx, resilience.DependencyBrowser, func(ctx context.Context) error {
		return m.session.Click(ctx, submitSel)
	})
	if !outcome.Succeeded {
		return m.failOutcome(outcome)
	}

	m.logger.Infow("Assignment submitted")
	return m.advance(StepAwaitingCertificate)
}

// captureCertificate writes the certificate region as the completion artifact
// and moves the task to Completed.
func (m *Machine) captureCertificate(ctx context.Context, frame image.Image, det vision.DetectionResult) error {
	path := filepath.Join(m.cfg.CertificatesDir, m.task.ID+".png")
	if err := os.MkdirAll(m.cfg.CertificatesDir, 0o755); err != nil {
		return m.fail(errors.Wrap(err, "create certificates dir"), ReasonRetriesExhausted)
	}

	f, err := os.Create(path)
	if err != nil {
		return m.fail(errors.Wrap(err, "create certificate file"), ReasonRetriesExhausted)
	}
	defer f.Close()

	if err := png.Encode(f, frame); err != nil {
		return m.fail(errors.Wrap(err, "encode certificate"), ReasonRetriesExhausted)
	}

	if err := m.saveCheckpoint(StepCompleted); err != nil {
		return err
	}
	if err := m.tasks.MarkCompleted(m.task.ID, path); err != nil {
		return m.fail(err, ReasonRetriesExhausted)
	}

	m.task.CertificatePath = path
	m.logger.Infow("Certificate captured", "path", path, "region", det.RegionID)
	return nil
}

// advance confirms a transition: checkpoint, persist the step, reset the
// per-state detection counters.
func (m *Machine) advance(step Step) error {
	if err := m.saveCheckpoint(step); err != nil {
		return err
	}
	if err := m.tasks.SetStep(m.task.ID, step); err != nil {
		return m.fail(err, ReasonRetriesExhausted)
	}

	m.logger.Infow("Step confirmed",
		"from", m.step.String(),
		"to", step.String(),
		"step_index", m.stepIndex,
	)

	m.step = step
	m.task.Step = step
	m.progress.Reset()
	m.unknownStreak = 0
	m.nudges = 0
	return nil
}

func (m *Machine) saveCheckpoint(step Step) error {
	m.stepIndex++
	detail := fmt.Sprintf(`{"quiz_attempts":%d}`, m.task.QuizAttempts)
	if err := m.checkpoints.Save(m.task.ID, step, m.stepIndex, detail); err != nil {
		return m.fail(err, ReasonRetriesExhausted)
	}
	return nil
}

func (m *Machine) capture(ctx context.Context) (image.Image, error) {
	var frame image.Image
	outcome := m.executor.Execute(ctx, resilience.DependencyBrowser, func(ctx context.Context) error {
		f, err := m.session.Screenshot(ctx)
		if err != nil {
			return err
		}
		frame = f
		return nil
	})
	if !outcome.Succeeded {
		return nil, m.failOutcome(outcome)
	}
	return frame, nil
}

func (m *Machine) pause() error {
	if err := m.tasks.SetStatus(m.task.ID, StatusPaused); err != nil {
		return err
	}
	m.task.Status = StatusPaused
	m.logger.Infow("Run paused at polling boundary", "step", m.step.String())
	return ErrPaused
}

// interrupted handles context expiry: a deadline is the run budget, a cancel
// is a shutdown that re-queues the task for the next process.
func (m *Machine) interrupted(ctx context.Context) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return m.fail(
			errors.Wrap(errors.ErrRunBudgetExceeded, "wall-clock budget"),
			ReasonRunBudgetExceeded)
	}
	if err := m.tasks.SetStatus(m.task.ID, StatusQueued); err != nil {
		m.logger.Errorw("Failed to re-queue on shutdown", "error", err)
	}
	return ctx.Err()
}

// failOutcome converts an exhausted or short-circuited ActionOutcome into a
// terminal failure with the matching reason code.
func (m *Machine) failOutcome(outcome resilience.ActionOutcome) error {
	err := outcome.LastError
	if err == nil {
		err = errors.New("operation failed")
	}

	reason := ReasonRetriesExhausted
	switch {
	case errors.Is(err, errors.ErrPlatformUnsupported):
		reason = ReasonPlatformUnsupported
	case errors.Is(err, errors.ErrSelectorMissing):
		reason = ReasonSelectorMissing
	case errors.KindOf(err) == errors.KindAuth:
		reason = ReasonAuth
	}

	m.logger.Errorw("Action failed terminally",
		"reason", reason,
		"attempts", outcome.Attempts,
		"elapsed", outcome.Elapsed,
		"error", err,
	)
	return m.fail(err, reason)
}

func (m *Machine) fail(err error, reason string) error {
	if storeErr := m.tasks.MarkFailed(m.task.ID, reason); storeErr != nil {
		m.logger.Errorw("Failed to record failure", "error", storeErr)
	}
	m.task.Status = StatusFailed
	m.task.FailureReason = reason
	return errors.WithDetail(err, "reason: "+reason)
}
