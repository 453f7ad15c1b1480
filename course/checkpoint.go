package course

import (
	"database/sql"
	"time"

	"go.uber.org/zap"

	"github.com/certflow/certflow/errors"
)

// Checkpoint is one confirmed position in a course run. The log is
// append-only; resume reads the latest row.
type Checkpoint struct {
	TaskID     string
	Step       Step
	StepIndex  int
	Detail     string
	RecordedAt time.Time
}

// CheckpointStore persists the append-only checkpoint log.
type CheckpointStore struct {
	db     *sql.DB
	logger *zap.SugaredLogger
}

// NewCheckpointStore creates a checkpoint store on db.
func NewCheckpointStore(db *sql.DB, logger *zap.SugaredLogger) *CheckpointStore {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &CheckpointStore{db: db, logger: logger}
}

// Save appends a checkpoint. The step index must not move backwards; a lower
// index than the latest recorded one is rejected, which keeps the log
// monotonic even if two processes briefly fight over one task.
func (s *CheckpointStore) Save(taskID string, step Step, stepIndex int, detail string) error {
	if detail == "" {
		detail = "{}"
	}

	tx, err := s.db.Begin()
	if err != nil {
		return errors.Wrap(err, "begin checkpoint")
	}
	defer tx.Rollback()

	var latest sql.NullInt64
	err = tx.QueryRow(
		"SELECT MAX(step_index) FROM checkpoints WHERE task_id = ?", taskID,
	).Scan(&latest)
	if err != nil {
		return errors.Wrap(err, "query latest checkpoint")
	}
	if latest.Valid && stepIndex < int(latest.Int64) {
		return errors.Newf("checkpoint step index moved backwards: %d < %d (task %s)",
			stepIndex, latest.Int64, taskID)
	}

	_, err = tx.Exec(`
		INSERT INTO checkpoints (task_id, state, step_index, detail)
		VALUES (?, ?, ?, ?)`,
		taskID, step.String(), stepIndex, detail,
	)
	if err != nil {
		return errors.WithDetail(errors.Wrap(err, "insert checkpoint"), "task_id: "+taskID)
	}
	if err := tx.Commit(); err != nil {
		return errors.Wrap(err, "commit checkpoint")
	}

	s.logger.Debugw("Checkpoint saved",
		"task_id", taskID,
		"step", step.String(),
		"step_index", stepIndex,
	)
	return nil
}

// Load returns the latest checkpoint for a task, or nil when none exists.
func (s *CheckpointStore) Load(taskID string) (*Checkpoint, error) {
	row := s.db.QueryRow(`
		SELECT task_id, state, step_index, detail, created_at
		FROM checkpoints WHERE task_id = ?
		ORDER BY step_index DESC, id DESC LIMIT 1`, taskID)

	var cp Checkpoint
	var step string
	err := row.Scan(&cp.TaskID, &step, &cp.StepIndex, &cp.Detail, &cp.RecordedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "query checkpoint")
	}
	cp.Step = ParseStep(step)
	return &cp, nil
}
