package course

import (
	"database/sql"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/certflow/certflow/errors"
)

// TaskStore persists CourseTasks.
type TaskStore struct {
	db     *sql.DB
	logger *zap.SugaredLogger
}

// NewTaskStore creates a task store on db.
func NewTaskStore(db *sql.DB, logger *zap.SugaredLogger) *TaskStore {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &TaskStore{db: db, logger: logger}
}

const taskColumns = `id, platform, course_url, credential_ref, status, priority, state,
	quiz_attempts, flagged_for_review, COALESCE(failure_reason, ''), COALESCE(certificate_path, ''),
	created_at, updated_at, started_at, finished_at`

// Create inserts a new queued task. A missing ID is generated.
func (s *TaskStore) Create(task *CourseTask) error {
	if task.ID == "" {
		task.ID = uuid.New().String()
	}
	if task.Status == "" {
		task.Status = StatusQueued
	}

	_, err := s.db.Exec(`
		INSERT INTO course_tasks (id, platform, course_url, credential_ref, status, priority, state)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		task.ID, task.Platform, task.CourseURL, task.CredentialRef,
		string(task.Status), task.Priority, task.Step.String(),
	)
	if err != nil {
		return errors.WithDetail(errors.Wrap(err, "insert task"), "task_id: "+task.ID)
	}

	s.logger.Infow("Task enqueued",
		"task_id", task.ID,
		"platform", task.Platform,
		"priority", task.Priority,
	)
	return nil
}

// Get returns one task by ID.
func (s *TaskStore) Get(id string) (*CourseTask, error) {
	row := s.db.QueryRow("SELECT "+taskColumns+" FROM course_tasks WHERE id = ?", id)
	task, err := scanTask(row)
	if err == sql.ErrNoRows {
		return nil, errors.Wrapf(errors.ErrTaskNotFound, "task %s", id)
	}
	if err != nil {
		return nil, errors.Wrap(err, "query task")
	}
	return task, nil
}

// List returns all tasks, highest priority first, oldest first within a
// priority.
func (s *TaskStore) List() ([]*CourseTask, error) {
	rows, err := s.db.Query("SELECT " + taskColumns + " FROM course_tasks ORDER BY priority DESC, created_at ASC")
	if err != nil {
		return nil, errors.Wrap(err, "query tasks")
	}
	defer rows.Close()

	var tasks []*CourseTask
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, errors.Wrap(err, "scan task")
		}
		tasks = append(tasks, task)
	}
	return tasks, rows.Err()
}

// ClaimNext atomically claims the highest-priority queued task, moving it to
// running. Returns ErrTaskNotFound when the queue is empty.
func (s *TaskStore) ClaimNext() (*CourseTask, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return nil, errors.Wrap(err, "begin claim")
	}
	defer tx.Rollback()

	row := tx.QueryRow("SELECT " + taskColumns + ` FROM course_tasks
		WHERE status = 'queued'
		ORDER BY priority DESC, created_at ASC
		LIMIT 1`)
	task, err := scanTask(row)
	if err == sql.ErrNoRows {
		return nil, errors.ErrTaskNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "query queued task")
	}

	_, err = tx.Exec(`UPDATE course_tasks
		SET status = 'running', started_at = CURRENT_TIMESTAMP, updated_at = CURRENT_TIMESTAMP
		WHERE id = ?`, task.ID)
	if err != nil {
		return nil, errors.Wrap(err, "claim task")
	}
	if err := tx.Commit(); err != nil {
		return nil, errors.Wrap(err, "commit claim")
	}

	task.Status = StatusRunning
	return task, nil
}

// SetStatus moves a task to status. Terminal statuses also stamp finished_at.
func (s *TaskStore) SetStatus(id string, status Status) error {
	var err error
	if status.Terminal() {
		_, err = s.db.Exec(`UPDATE course_tasks
			SET status = ?, finished_at = CURRENT_TIMESTAMP, updated_at = CURRENT_TIMESTAMP
			WHERE id = ?`, string(status), id)
	} else {
		_, err = s.db.Exec(`UPDATE course_tasks
			SET status = ?, updated_at = CURRENT_TIMESTAMP
			WHERE id = ?`, string(status), id)
	}
	if err != nil {
		return errors.WithDetail(errors.Wrap(err, "update status"), "task_id: "+id)
	}
	return nil
}

// SetStep records the task's current lifecycle step.
func (s *TaskStore) SetStep(id string, step Step) error {
	_, err := s.db.Exec(`UPDATE course_tasks
		SET state = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`, step.String(), id)
	if err != nil {
		return errors.Wrap(err, "update step")
	}
	return nil
}

// SetQuizAttempts persists the quiz attempt counter.
func (s *TaskStore) SetQuizAttempts(id string, attempts int) error {
	_, err := s.db.Exec(`UPDATE course_tasks
		SET quiz_attempts = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`, attempts, id)
	if err != nil {
		return errors.Wrap(err, "update quiz attempts")
	}
	return nil
}

// MarkFailed moves a task to failed with its terminal reason code.
func (s *TaskStore) MarkFailed(id, reason string) error {
	_, err := s.db.Exec(`UPDATE course_tasks
		SET status = 'failed', failure_reason = ?, finished_at = CURRENT_TIMESTAMP, updated_at = CURRENT_TIMESTAMP
		WHERE id = ?`, reason, id)
	if err != nil {
		return errors.Wrap(err, "mark failed")
	}
	s.logger.Warnw("Task failed", "task_id", id, "reason", reason)
	return nil
}

// MarkFlagged parks a task for manual review: failed status plus the review
// flag, so an operator can distinguish it from a hard failure.
func (s *TaskStore) MarkFlagged(id, reason string) error {
	_, err := s.db.Exec(`UPDATE course_tasks
		SET status = 'failed', flagged_for_review = 1, failure_reason = ?,
		    finished_at = CURRENT_TIMESTAMP, updated_at = CURRENT_TIMESTAMP
		WHERE id = ?`, reason, id)
	if err != nil {
		return errors.Wrap(err, "mark flagged")
	}
	s.logger.Warnw("Task flagged for review", "task_id", id, "reason", reason)
	return nil
}

// MarkCompleted finishes a task and records its certificate artifact.
func (s *TaskStore) MarkCompleted(id, certificatePath string) error {
	_, err := s.db.Exec(`UPDATE course_tasks
		SET status = 'completed', state = 'completed', certificate_path = ?,
		    finished_at = CURRENT_TIMESTAMP, updated_at = CURRENT_TIMESTAMP
		WHERE id = ?`, certificatePath, id)
	if err != nil {
		return errors.Wrap(err, "mark completed")
	}
	s.logger.Infow("Task completed", "task_id", id, "certificate", certificatePath)
	return nil
}

// RecoverOrphans re-queues tasks left running by a crashed process. They
// resume from their last checkpoint when next claimed. Returns the IDs
// re-queued.
func (s *TaskStore) RecoverOrphans() ([]string, error) {
	rows, err := s.db.Query("SELECT id FROM course_tasks WHERE status = 'running'")
	if err != nil {
		return nil, errors.Wrap(err, "query orphans")
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, errors.Wrap(err, "scan orphan")
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for _, id := range ids {
		if err := s.SetStatus(id, StatusQueued); err != nil {
			return nil, err
		}
		s.logger.Infow("Orphaned task re-queued", "task_id", id)
	}
	return ids, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanTask(row rowScanner) (*CourseTask, error) {
	var task CourseTask
	var status, step string
	var flagged int
	err := row.Scan(
		&task.ID, &task.Platform, &task.CourseURL, &task.CredentialRef,
		&status, &task.Priority, &step,
		&task.QuizAttempts, &flagged, &task.FailureReason, &task.CertificatePath,
		&task.CreatedAt, &task.UpdatedAt, &task.StartedAt, &task.FinishedAt,
	)
	if err != nil {
		return nil, err
	}
	task.Status = Status(status)
	task.Step = ParseStep(step)
	task.FlaggedForReview = flagged != 0
	return &task, nil
}
