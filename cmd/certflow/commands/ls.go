package commands

import (
	"fmt"
	"strconv"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/certflow/certflow/course"
	"github.com/certflow/certflow/sym"
)

// LsCmd lists course tasks.
var LsCmd = &cobra.Command{
	Use:   "ls",
	Short: sym.Task + " List course tasks",
	Long: `List course tasks, highest priority first.

Status filters:
  queued    - Tasks waiting for a worker slot
  running   - Tasks currently being driven
  paused    - Tasks parked by pause
  completed - Tasks with a captured certificate
  failed    - Tasks that hit a terminal failure

Examples:
  certflow ls
  certflow ls --status failed`,
	RunE: runLs,
}

var lsStatusFlag string

func init() {
	LsCmd.Flags().StringVarP(&lsStatusFlag, "status", "s", "", "Filter by status")
}

func runLs(cmd *cobra.Command, args []string) error {
	database, tasks, err := openTaskStore()
	if err != nil {
		return err
	}
	defer database.Close()

	all, err := tasks.List()
	if err != nil {
		return err
	}

	data := pterm.TableData{{"ID", "PLATFORM", "STATUS", "STEP", "PRIO", "QUIZ", "CREATED", "DETAIL"}}
	shown := 0
	for _, task := range all {
		if lsStatusFlag != "" && string(task.Status) != lsStatusFlag {
			continue
		}
		shown++
		data = append(data, []string{
			shortID(task.ID),
			task.Platform,
			statusCell(task),
			task.Step.String(),
			strconv.Itoa(task.Priority),
			strconv.Itoa(task.QuizAttempts),
			task.CreatedAt.Local().Format("2006-01-02 15:04"),
			detailCell(task),
		})
	}

	if shown == 0 {
		pterm.Info.Println("No tasks found")
		return nil
	}

	if err := pterm.DefaultTable.WithHasHeader().WithData(data).Render(); err != nil {
		return err
	}
	fmt.Printf("\n%d task(s)\n", shown)
	return nil
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func statusCell(task *course.CourseTask) string {
	s := sym.ForStatus(string(task.Status)) + " " + string(task.Status)
	if task.FlaggedForReview {
		s += " " + sym.Review
	}
	return s
}

func detailCell(task *course.CourseTask) string {
	switch {
	case task.FailureReason != "":
		return task.FailureReason
	case task.CertificatePath != "":
		return task.CertificatePath
	default:
		return task.CourseURL
	}
}
