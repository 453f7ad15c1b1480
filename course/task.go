// Package course contains the orchestration core: the CourseTask model, the
// checkpoint log, and the state machine that drives one course run from login
// to certificate.
package course

import (
	"time"
)

// Status is a task's scheduling status.
type Status string

const (
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusPaused    Status = "paused"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Terminal reports whether no further scheduling will happen for this status.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Step is a position in the course lifecycle.
type Step int

const (
	StepInitializing Step = iota
	StepLoggingIn
	StepNavigating
	StepWatchingVideo
	StepAnsweringQuiz
	StepSubmittingAssignment
	StepAwaitingCertificate
	StepCompleted
)

var stepNames = map[Step]string{
	StepInitializing:         "initializing",
	StepLoggingIn:            "logging_in",
	StepNavigating:           "navigating",
	StepWatchingVideo:        "watching_video",
	StepAnsweringQuiz:        "answering_quiz",
	StepSubmittingAssignment: "submitting_assignment",
	StepAwaitingCertificate:  "awaiting_certificate",
	StepCompleted:            "completed",
}

func (s Step) String() string {
	if name, ok := stepNames[s]; ok {
		return name
	}
	return "initializing"
}

// ParseStep maps a stored step name back to a Step. Unknown names map to
// StepInitializing so a damaged row restarts rather than wedges.
func ParseStep(name string) Step {
	for s, n := range stepNames {
		if n == name {
			return s
		}
	}
	return StepInitializing
}

// CourseTask is one course automation run. It is owned exclusively by the
// state machine running it; the scheduler holds a non-owning reference for
// bookkeeping.
type CourseTask struct {
	ID               string
	Platform         string
	CourseURL        string
	CredentialRef    string
	Status           Status
	Priority         int
	Step             Step
	QuizAttempts     int
	FlaggedForReview bool
	FailureReason    string
	CertificatePath  string
	CreatedAt        time.Time
	UpdatedAt        time.Time
	StartedAt        *time.Time
	FinishedAt       *time.Time
}
