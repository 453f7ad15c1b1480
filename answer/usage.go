package answer

import (
	"database/sql"
	"time"

	"github.com/certflow/certflow/errors"
)

// UsageStore records per-request token accounting to the model_usage table.
type UsageStore struct {
	db *sql.DB
}

// NewUsageStore creates a usage store on db.
func NewUsageStore(db *sql.DB) *UsageStore {
	return &UsageStore{db: db}
}

// Record inserts one accounting row. taskID may be empty for requests made
// outside a course run. callErr carries the request outcome: a nil callErr
// records a success, anything else records a failure with its message, so
// failed completions stay distinguishable from zero-token successes.
func (s *UsageStore) Record(taskID, model string, usage Usage, elapsed time.Duration, callErr error) error {
	var task interface{}
	if taskID != "" {
		task = taskID
	}
	success := 1
	errText := ""
	if callErr != nil {
		success = 0
		errText = callErr.Error()
	}
	_, err := s.db.Exec(`
		INSERT INTO model_usage (task_id, model, prompt_tokens, completion_tokens, total_tokens, duration_ms, success, error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		task, model, usage.PromptTokens, usage.CompletionTokens, usage.TotalTokens, elapsed.Milliseconds(), success, errText,
	)
	if err != nil {
		return errors.Wrap(err, "insert model usage")
	}
	return nil
}

// TotalTokens sums recorded token usage for one task.
func (s *UsageStore) TotalTokens(taskID string) (int, error) {
	var total sql.NullInt64
	err := s.db.QueryRow(
		"SELECT SUM(total_tokens) FROM model_usage WHERE task_id = ?", taskID,
	).Scan(&total)
	if err != nil {
		return 0, errors.Wrap(err, "sum model usage")
	}
	return int(total.Int64), nil
}
