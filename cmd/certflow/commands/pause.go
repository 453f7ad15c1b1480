package commands

import (
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/certflow/certflow/course"
	"github.com/certflow/certflow/errors"
)

// PauseCmd parks a queued or running task.
var PauseCmd = &cobra.Command{
	Use:   "pause <task-id>",
	Short: "Pause a queued or running task",
	Long: `Pause a task. A queued task is parked before it is admitted; a
running task stops at its next polling boundary, never mid-action, and keeps
its checkpoint for resume.`,
	Args: cobra.ExactArgs(1),
	RunE: runPause,
}

// ResumeCmd puts a paused task back in the queue.
var ResumeCmd = &cobra.Command{
	Use:   "resume <task-id>",
	Short: "Put a paused task back in the queue",
	Long: `Resume a paused task. It re-enters the queue at its original
priority and restarts from its last confirmed checkpoint.`,
	Args: cobra.ExactArgs(1),
	RunE: runResume,
}

func runPause(cmd *cobra.Command, args []string) error {
	database, tasks, err := openTaskStore()
	if err != nil {
		return err
	}
	defer database.Close()

	task, err := tasks.Get(args[0])
	if err != nil {
		return err
	}

	switch task.Status {
	case course.StatusPaused:
		pterm.Info.Printf("Task %s is already paused\n", shortID(task.ID))
		return nil
	case course.StatusQueued, course.StatusRunning:
		if err := tasks.SetStatus(task.ID, course.StatusPaused); err != nil {
			return err
		}
		pterm.Success.Printf("Paused task %s (was %s)\n", shortID(task.ID), task.Status)
		return nil
	default:
		return errors.Newf("task %s is %s, not pausable", task.ID, task.Status)
	}
}

func runResume(cmd *cobra.Command, args []string) error {
	database, tasks, err := openTaskStore()
	if err != nil {
		return err
	}
	defer database.Close()

	task, err := tasks.Get(args[0])
	if err != nil {
		return err
	}
	if task.Status != course.StatusPaused {
		return errors.Newf("task %s is %s, not paused", task.ID, task.Status)
	}
	if err := tasks.SetStatus(task.ID, course.StatusQueued); err != nil {
		return err
	}

	pterm.Success.Printf("Resumed task %s\n", shortID(task.ID))
	return nil
}
