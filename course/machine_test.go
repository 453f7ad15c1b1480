package course

import (
	"context"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/certflow/certflow/answer"
	"github.com/certflow/certflow/errors"
	certtest "github.com/certflow/certflow/internal/testing"
	"github.com/certflow/certflow/platform"
	"github.com/certflow/certflow/resilience"
	"github.com/certflow/certflow/vision"
)

// --- scripted collaborators ---

type sessionAction struct {
	op       string
	selector string
	value    string
}

// scriptedSession replays a fixed sequence of frames and records every
// browser action.
type scriptedSession struct {
	mu           sync.Mutex
	frames       []image.Image
	next         int
	actions      []sessionAction
	onScreenshot func(n int)
}

func (s *scriptedSession) record(op, selector, value string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.actions = append(s.actions, sessionAction{op: op, selector: selector, value: value})
}

func (s *scriptedSession) Navigate(ctx context.Context, url string) error {
	s.record("navigate", url, "")
	return nil
}

func (s *scriptedSession) Click(ctx context.Context, selector string) error {
	s.record("click", selector, "")
	return nil
}

func (s *scriptedSession) Fill(ctx context.Context, selector, value string) error {
	s.record("fill", selector, value)
	return nil
}

func (s *scriptedSession) WaitVisible(ctx context.Context, selector string) error {
	s.record("wait", selector, "")
	return nil
}

func (s *scriptedSession) Screenshot(ctx context.Context) (image.Image, error) {
	s.mu.Lock()
	i := s.next % len(s.frames)
	s.next++
	n := s.next
	cb := s.onScreenshot
	frame := s.frames[i]
	s.mu.Unlock()

	if cb != nil {
		cb(n)
	}
	return frame, nil
}

func (s *scriptedSession) CurrentURL(ctx context.Context) (string, error) { return "", nil }
func (s *scriptedSession) Close() error                                   { return nil }

func (s *scriptedSession) clicked(selector string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range s.actions {
		if a.op == "click" && a.selector == selector {
			return true
		}
	}
	return false
}

func (s *scriptedSession) filled(selector string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range s.actions {
		if a.op == "fill" && a.selector == selector {
			return a.value, true
		}
	}
	return "", false
}

// quizEngine answers OCR requests with the question and text requests with
// the answer.
type quizEngine struct{}

func (quizEngine) Complete(ctx context.Context, req answer.Request) (*answer.Answer, error) {
	if len(req.Attachments) > 0 {
		return &answer.Answer{Content: "What is 2+2?"}, nil
	}
	return &answer.Answer{Content: "4"}, nil
}

type staticCreds struct{}

func (staticCreds) Resolve(ref string) (Credentials, error) {
	return Credentials{Username: "student@example.com", Password: "hunter2"}, nil
}

// --- synthetic frames ---

// Frame layout: 200x100. Video surface is rows 0-59; the progress bar sits
// at rows 80-89.
const (
	frameW = 200
	frameH = 100
)

var (
	tmplStripesV = patternImage(24, 16, func(x, y int) bool { return x%4 < 2 })        // quiz
	tmplStripesH = patternImage(24, 16, func(x, y int) bool { return y%4 < 2 })        // assignment
	tmplDiagonal = patternImage(24, 16, func(x, y int) bool { return (x+y)%6 < 3 })    // certificate
	barColor     = color.RGBA{R: 0, G: 80, B: 230, A: 255}
	frameBG      = color.RGBA{R: 40, G: 40, B: 40, A: 255}
)

func patternImage(w, h int, on func(x, y int) bool) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			if on(x, y) {
				img.Set(x, y, color.White)
			} else {
				img.Set(x, y, color.Black)
			}
		}
	}
	return img
}

func baseFrame(fill float64) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, frameW, frameH))
	filledTo := int(fill * frameW)
	for y := 0; y < frameH; y++ {
		for x := 0; x < frameW; x++ {
			c := frameBG
			if y >= 80 && y < 90 && x < filledTo {
				c = barColor
			}
			img.Set(x, y, c)
		}
	}
	return img
}

// videoFrame renders a sharp checkerboard on the video surface, phase-shifted
// per call so consecutive frames register as motion.
func videoFrame(fill float64, phase int) *image.RGBA {
	img := baseFrame(fill)
	for y := 0; y < 60; y++ {
		for x := 0; x < frameW; x++ {
			if (x/8+y/8+phase)%2 == 0 {
				img.Set(x, y, color.White)
			} else {
				img.Set(x, y, color.Black)
			}
		}
	}
	return img
}

// panelFrame pastes a template patch onto a quiet video surface.
func panelFrame(fill float64, patch *image.RGBA) *image.RGBA {
	img := baseFrame(fill)
	b := patch.Bounds()
	for y := 0; y < b.Dy(); y++ {
		for x := 0; x < b.Dx(); x++ {
			img.Set(10+x, 10+y, patch.At(x, y))
		}
	}
	return img
}

// --- fixture wiring ---

func testPlatform(t *testing.T, dir string) *platform.Platform {
	t.Helper()
	for name, img := range map[string]*image.RGBA{
		"quiz.png":        tmplStripesV,
		"assignment.png":  tmplStripesH,
		"certificate.png": tmplDiagonal,
	} {
		f, err := os.Create(filepath.Join(dir, name))
		require.NoError(t, err)
		require.NoError(t, png.Encode(f, img))
		require.NoError(t, f.Close())
	}

	return &platform.Platform{
		ID:       "testplat",
		Name:     "Test Platform",
		LoginURL: "https://testplat.example.com/login",
		Selectors: map[string]string{
			"username":          "#email",
			"password":          "#password",
			"submit":            "#login",
			"quiz_answer":       "#quiz-answer",
			"quiz_submit":       "#quiz-submit",
			"assignment_submit": "#assignment-submit",
		},
		NudgeSelector: "#play",
		Regions: []platform.Region{
			{
				ID:   "progress_bar",
				Kind: platform.RegionColorRange,
				Rect: platform.Rect{X: 0, Y: 80, W: frameW, H: 10},
				HSV: &platform.HSVRange{
					Min: platform.HSV{H: 200, S: 0.5, V: 0.5},
					Max: platform.HSV{H: 260, S: 1.0, V: 1.0},
				},
			},
			{
				ID: "quiz_panel", Kind: platform.RegionTemplate,
				Rect:     platform.Rect{X: 0, Y: 0, W: frameW, H: 60},
				Template: "quiz.png", Classifies: "quiz_visible", Confidence: 0.85,
			},
			{
				ID: "assignment_panel", Kind: platform.RegionTemplate,
				Rect:     platform.Rect{X: 0, Y: 0, W: frameW, H: 60},
				Template: "assignment.png", Classifies: "assignment_visible", Confidence: 0.85,
			},
			{
				ID: "certificate_panel", Kind: platform.RegionTemplate,
				Rect:     platform.Rect{X: 0, Y: 0, W: frameW, H: 60},
				Template: "certificate.png", Classifies: "certificate_visible", Confidence: 0.85,
			},
		},
	}
}

type fixture struct {
	tasks       *TaskStore
	checkpoints *CheckpointStore
	detector    *vision.Detector
	executor    *resilience.Executor
	plat        *platform.Platform
	cfg         MachineConfig
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db := certtest.CreateTestDB(t)
	dir := t.TempDir()

	detector := vision.NewDetector(vision.Config{
		ProgressThreshold:   0.9,
		DebounceSamples:     3,
		ConfidenceThreshold: 0.85,
		MotionThreshold:     4.0,
		BlurThreshold:       50.0,
	}, dir, quizEngine{}, "openai/gpt-4o", nil)

	executor := resilience.NewExecutor(
		resilience.RetryConfig{MaxAttempts: 3, BaseDelay: time.Millisecond, Factor: 2, MaxBackoff: 10 * time.Millisecond},
		resilience.NewBreakerGroup(resilience.BreakerConfig{FailureThreshold: 5, ResetTimeout: time.Minute}),
		nil,
	)

	return &fixture{
		tasks:       NewTaskStore(db, nil),
		checkpoints: NewCheckpointStore(db, nil),
		detector:    detector,
		executor:    executor,
		plat:        testPlatform(t, dir),
		cfg: MachineConfig{
			PollInterval:            time.Millisecond,
			UnknownPollsBeforeNudge: 5,
			MaxNudges:               2,
			QuizAttemptBudget:       3,
			CertificatesDir:         t.TempDir(),
		},
	}
}

func (f *fixture) machine(task *CourseTask, session *scriptedSession) *Machine {
	return NewMachine(task, f.plat, session, f.detector, quizEngine{}, f.executor,
		f.tasks, f.checkpoints, staticCreds{}, f.cfg, nil)
}

// completionFrames walks a course from playing video to certificate.
func completionFrames() []image.Image {
	return []image.Image{
		videoFrame(0.3, 0),
		videoFrame(0.3, 1),
		videoFrame(0.3, 0),
		baseFrame(0.95), // three consecutive full readings trip the debounce
		baseFrame(0.95),
		baseFrame(0.95),
		panelFrame(0.95, tmplStripesV), // quiz appears
		panelFrame(0.95, tmplStripesH), // assignment
		panelFrame(0.95, tmplStripesH), // still there, submit happens here
		panelFrame(0.95, tmplDiagonal), // certificate
	}
}

func TestMachineRun(t *testing.T) {
	t.Run("drives a course from login to certificate", func(t *testing.T) {
		f := newFixture(t)
		task := newTask("testplat", "https://testplat.example.com/course/go-101", 0)
		require.NoError(t, f.tasks.Create(task))

		session := &scriptedSession{frames: completionFrames()}
		m := f.machine(task, session)

		require.NoError(t, m.Run(context.Background()))

		got, err := f.tasks.Get(task.ID)
		require.NoError(t, err)
		assert.Equal(t, StatusCompleted, got.Status)
		assert.Equal(t, StepCompleted, got.Step)
		assert.Equal(t, 1, got.QuizAttempts)

		// Completion artifact exists
		require.NotEmpty(t, got.CertificatePath)
		_, err = os.Stat(got.CertificatePath)
		assert.NoError(t, err)

		// Login and quiz actions went through the browser
		answerText, ok := session.filled("#quiz-answer")
		require.True(t, ok)
		assert.Equal(t, "4", answerText)
		assert.True(t, session.clicked("#quiz-submit"))
		assert.True(t, session.clicked("#assignment-submit"))
		user, _ := session.filled("#email")
		assert.Equal(t, "student@example.com", user)

		// Checkpoint log is monotonic and ends at completed
		cp, err := f.checkpoints.Load(task.ID)
		require.NoError(t, err)
		assert.Equal(t, StepCompleted, cp.Step)
	})

	t.Run("pause stops at the polling boundary and resume continues", func(t *testing.T) {
		f := newFixture(t)
		task := newTask("testplat", "https://testplat.example.com/course/go-102", 0)
		require.NoError(t, f.tasks.Create(task))

		// Endless playing video; pause after a few polls
		playingForever := []image.Image{
			videoFrame(0.3, 0), videoFrame(0.3, 1), videoFrame(0.3, 0),
			videoFrame(0.3, 1), videoFrame(0.3, 0), videoFrame(0.3, 1),
		}
		session := &scriptedSession{frames: playingForever}
		m := f.machine(task, session)
		session.onScreenshot = func(n int) {
			if n >= 4 {
				m.Pause()
			}
		}

		err := m.Run(context.Background())
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrPaused))

		got, err := f.tasks.Get(task.ID)
		require.NoError(t, err)
		assert.Equal(t, StatusPaused, got.Status)

		// Last confirmed step survives the pause
		cp, err := f.checkpoints.Load(task.ID)
		require.NoError(t, err)
		require.NotNil(t, cp)
		assert.Equal(t, StepWatchingVideo, cp.Step)
		pausedIndex := cp.StepIndex

		// Resume with frames that complete the course
		session2 := &scriptedSession{frames: completionFrames()}
		resumed, err := f.tasks.Get(task.ID)
		require.NoError(t, err)
		m2 := f.machine(resumed, session2)
		require.NoError(t, m2.Run(context.Background()))

		got, err = f.tasks.Get(task.ID)
		require.NoError(t, err)
		assert.Equal(t, StatusCompleted, got.Status)

		// Confirmed steps were not replayed: indices kept climbing
		cp, err = f.checkpoints.Load(task.ID)
		require.NoError(t, err)
		assert.Greater(t, cp.StepIndex, pausedIndex)
	})

	t.Run("crash after certificate capture completes on resume without re-running", func(t *testing.T) {
		f := newFixture(t)
		task := newTask("testplat", "https://testplat.example.com/course/go-107", 0)
		require.NoError(t, f.tasks.Create(task))

		// The capture wrote the artifact and its checkpoint, then the process
		// died before the task row was stamped
		certPath := filepath.Join(f.cfg.CertificatesDir, task.ID+".png")
		cf, err := os.Create(certPath)
		require.NoError(t, err)
		require.NoError(t, png.Encode(cf, baseFrame(0.95)))
		require.NoError(t, cf.Close())
		require.NoError(t, f.tasks.SetStatus(task.ID, StatusRunning))
		require.NoError(t, f.checkpoints.Save(task.ID, StepCompleted, 7, "{}"))

		ids, err := f.tasks.RecoverOrphans()
		require.NoError(t, err)
		require.Contains(t, ids, task.ID)

		session := &scriptedSession{frames: []image.Image{baseFrame(0.1)}}
		resumed, err := f.tasks.Get(task.ID)
		require.NoError(t, err)
		m := f.machine(resumed, session)
		require.NoError(t, m.Run(context.Background()))

		got, err := f.tasks.Get(task.ID)
		require.NoError(t, err)
		assert.Equal(t, StatusCompleted, got.Status)
		assert.Equal(t, StepCompleted, got.Step)
		assert.Equal(t, certPath, got.CertificatePath)

		// No browser on a finished course
		session.mu.Lock()
		defer session.mu.Unlock()
		assert.Empty(t, session.actions)
	})

	t.Run("quiz attempt budget exhaustion flags for review", func(t *testing.T) {
		f := newFixture(t)
		task := newTask("testplat", "https://testplat.example.com/course/go-103", 0)
		require.NoError(t, f.tasks.Create(task))

		// Skip straight to the quiz with the budget already spent
		task.QuizAttempts = f.cfg.QuizAttemptBudget
		require.NoError(t, f.tasks.SetQuizAttempts(task.ID, task.QuizAttempts))

		frames := []image.Image{
			baseFrame(0.95), baseFrame(0.95), baseFrame(0.95), // video complete
			panelFrame(0.95, tmplStripesV), // quiz
		}
		session := &scriptedSession{frames: frames}
		m := f.machine(task, session)

		err := m.Run(context.Background())
		require.Error(t, err)

		got, err := f.tasks.Get(task.ID)
		require.NoError(t, err)
		assert.Equal(t, StatusFailed, got.Status)
		assert.True(t, got.FlaggedForReview)
		assert.Equal(t, ReasonQuizAttemptsExhausted, got.FailureReason)

		// The answer was never submitted
		assert.False(t, session.clicked("#quiz-submit"))
	})

	t.Run("persistent unknown nudges then fails detection-ambiguous", func(t *testing.T) {
		f := newFixture(t)
		f.cfg.UnknownPollsBeforeNudge = 2
		f.cfg.MaxNudges = 1

		task := newTask("testplat", "https://testplat.example.com/course/go-104", 0)
		require.NoError(t, f.tasks.Create(task))

		// Identical flat frames classify as unknown forever
		session := &scriptedSession{frames: []image.Image{baseFrame(0.1)}}
		m := f.machine(task, session)

		err := m.Run(context.Background())
		require.Error(t, err)
		assert.True(t, errors.Is(err, errors.ErrDetectionAmbiguous))

		// The nudge fired before escalation
		assert.True(t, session.clicked("#play"))

		got, err := f.tasks.Get(task.ID)
		require.NoError(t, err)
		assert.Equal(t, StatusFailed, got.Status)
		assert.Equal(t, ReasonDetectionAmbiguous, got.FailureReason)
	})

	t.Run("missing credentials fail immediately without browser actions", func(t *testing.T) {
		f := newFixture(t)
		task := newTask("testplat", "https://testplat.example.com/course/go-105", 0)
		task.CredentialRef = "definitely-not-set"
		require.NoError(t, f.tasks.Create(task))

		session := &scriptedSession{frames: []image.Image{baseFrame(0.1)}}
		m := NewMachine(task, f.plat, session, f.detector, quizEngine{}, f.executor,
			f.tasks, f.checkpoints, EnvCredentialResolver{}, f.cfg, nil)

		err := m.Run(context.Background())
		require.Error(t, err)
		assert.Equal(t, errors.KindAuth, errors.KindOf(err))

		got, err := f.tasks.Get(task.ID)
		require.NoError(t, err)
		assert.Equal(t, StatusFailed, got.Status)
		assert.Equal(t, ReasonAuth, got.FailureReason)

		// No navigation ever happened
		session.mu.Lock()
		defer session.mu.Unlock()
		assert.Empty(t, session.actions)
	})

	t.Run("run budget expiry fails with its reason code", func(t *testing.T) {
		f := newFixture(t)
		task := newTask("testplat", "https://testplat.example.com/course/go-106", 0)
		require.NoError(t, f.tasks.Create(task))

		session := &scriptedSession{frames: []image.Image{videoFrame(0.3, 0), videoFrame(0.3, 1)}}
		m := f.machine(task, session)

		ctx, cancel := context.WithTimeout(context.Background(), 25*time.Millisecond)
		defer cancel()

		err := m.Run(ctx)
		require.Error(t, err)
		assert.True(t, errors.Is(err, errors.ErrRunBudgetExceeded))

		got, err := f.tasks.Get(task.ID)
		require.NoError(t, err)
		assert.Equal(t, ReasonRunBudgetExceeded, got.FailureReason)
	})
}
