package commands

import (
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/certflow/certflow/am"
	"github.com/certflow/certflow/course"
	"github.com/certflow/certflow/errors"
	"github.com/certflow/certflow/platform"
	"github.com/certflow/certflow/sym"
)

// EnqueueCmd queues one course for automation.
var EnqueueCmd = &cobra.Command{
	Use:   "enqueue <platform> <course-url>",
	Short: sym.Task + " Queue a course for automation",
	Long: `Queue a course task. The daemon picks it up in priority order.

Credentials are referenced by name and resolved from the environment at run
time: --credentials acme reads CERTFLOW_CRED_ACME_USERNAME and
CERTFLOW_CRED_ACME_PASSWORD. The reference defaults to the platform id.

Examples:
  certflow enqueue coursera https://coursera.org/learn/go
  certflow enqueue udemy https://udemy.com/course/golang --priority 8 --credentials work`,
	Args: cobra.ExactArgs(2),
	RunE: runEnqueue,
}

var (
	enqueuePriorityFlag    int
	enqueueCredentialsFlag string
)

func init() {
	EnqueueCmd.Flags().IntVarP(&enqueuePriorityFlag, "priority", "p", 0, "Scheduling priority; higher runs first")
	EnqueueCmd.Flags().StringVarP(&enqueueCredentialsFlag, "credentials", "c", "", "Credential reference (defaults to the platform id)")
}

func runEnqueue(cmd *cobra.Command, args []string) error {
	platformID, courseURL := args[0], args[1]

	cfg, err := am.Load()
	if err != nil {
		return errors.Wrap(err, "load configuration")
	}

	// Reject unknown platforms at enqueue time instead of at first run
	registry, err := platform.NewRegistry(cfg.Platforms.Dir, nil)
	if err != nil {
		return errors.Wrap(err, "load platform tables")
	}
	if _, err := registry.Get(platformID); err != nil {
		return err
	}

	credRef := enqueueCredentialsFlag
	if credRef == "" {
		credRef = platformID
	}

	database, tasks, err := openTaskStore()
	if err != nil {
		return err
	}
	defer database.Close()

	task := &course.CourseTask{
		Platform:      platformID,
		CourseURL:     courseURL,
		CredentialRef: credRef,
		Priority:      enqueuePriorityFlag,
	}
	if err := tasks.Create(task); err != nil {
		return err
	}

	pterm.Success.Printf("Queued task %s (platform %s, priority %d)\n", task.ID, platformID, task.Priority)
	return nil
}
