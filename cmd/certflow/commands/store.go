package commands

import (
	"database/sql"

	"github.com/certflow/certflow/am"
	"github.com/certflow/certflow/course"
	"github.com/certflow/certflow/db"
	"github.com/certflow/certflow/errors"
	"github.com/certflow/certflow/logger"
)

// openTaskStore opens the configured database and returns a task store over
// it. The caller closes the returned database handle.
func openTaskStore() (*sql.DB, *course.TaskStore, error) {
	cfg, err := am.Load()
	if err != nil {
		return nil, nil, errors.Wrap(err, "load configuration")
	}

	database, err := db.OpenWithMigrations(cfg.Database.Path, logger.Logger)
	if err != nil {
		return nil, nil, errors.Wrap(err, "open database")
	}

	return database, course.NewTaskStore(database, logger.Logger), nil
}
