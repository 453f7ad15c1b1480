package db

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenWithMigrations(t *testing.T) {
	t.Run("successfully opens database and runs migrations", func(t *testing.T) {
		tmpDir := t.TempDir()
		dbPath := filepath.Join(tmpDir, "test.db")

		db, err := OpenWithMigrations(dbPath, nil)
		require.NoError(t, err)
		require.NotNil(t, db)
		defer db.Close()

		// Verify schema_migrations table exists (created by migrations)
		var exists int
		err = db.QueryRow("SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='schema_migrations'").Scan(&exists)
		require.NoError(t, err)
		assert.Equal(t, 1, exists, "schema_migrations table should exist after migrations")
	})

	t.Run("creates all application tables", func(t *testing.T) {
		tmpDir := t.TempDir()
		db, err := OpenWithMigrations(filepath.Join(tmpDir, "test.db"), nil)
		require.NoError(t, err)
		defer db.Close()

		for _, table := range []string{"course_tasks", "checkpoints", "model_usage"} {
			var exists int
			err = db.QueryRow("SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?", table).Scan(&exists)
			require.NoError(t, err)
			assert.Equal(t, 1, exists, "table %s should exist after migrations", table)
		}
	})

	t.Run("migrations are idempotent", func(t *testing.T) {
		tmpDir := t.TempDir()
		dbPath := filepath.Join(tmpDir, "test.db")

		db, err := OpenWithMigrations(dbPath, nil)
		require.NoError(t, err)

		var firstCount int
		err = db.QueryRow("SELECT COUNT(*) FROM schema_migrations").Scan(&firstCount)
		require.NoError(t, err)
		db.Close()

		// Reopen - already-applied migrations are skipped
		db, err = OpenWithMigrations(dbPath, nil)
		require.NoError(t, err)
		defer db.Close()

		var secondCount int
		err = db.QueryRow("SELECT COUNT(*) FROM schema_migrations").Scan(&secondCount)
		require.NoError(t, err)
		assert.Equal(t, firstCount, secondCount)
	})

	t.Run("checkpoint rows cascade with their task", func(t *testing.T) {
		tmpDir := t.TempDir()
		db, err := OpenWithMigrations(filepath.Join(tmpDir, "test.db"), nil)
		require.NoError(t, err)
		defer db.Close()

		_, err = db.Exec(`INSERT INTO course_tasks (id, platform, course_url) VALUES ('t1', 'coursera', 'https://example.com/c')`)
		require.NoError(t, err)
		_, err = db.Exec(`INSERT INTO checkpoints (task_id, state, step_index) VALUES ('t1', 'watching_video', 4)`)
		require.NoError(t, err)

		_, err = db.Exec(`DELETE FROM course_tasks WHERE id = 't1'`)
		require.NoError(t, err)

		var remaining int
		err = db.QueryRow("SELECT COUNT(*) FROM checkpoints WHERE task_id = 't1'").Scan(&remaining)
		require.NoError(t, err)
		assert.Equal(t, 0, remaining, "foreign key cascade should remove checkpoints")
	})
}
