package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/certflow/certflow/cmd/certflow/commands"
	"github.com/certflow/certflow/logger"
)

var rootCmd = &cobra.Command{
	Use:   "certflow",
	Short: "certflow - online course automation engine",
	Long: `certflow drives online courses to completion: it watches the course
page through a headless browser, detects videos, quizzes and assignments
visually, answers through a reasoning model, and captures the certificate.

Available commands:
  run     - Run the automation daemon (scheduler + workers)
  enqueue - Queue a course for automation
  ls      - List course tasks
  pause   - Pause a queued or running task
  resume  - Put a paused task back in the queue
  version - Show version information

Examples:
  certflow enqueue coursera https://coursera.org/learn/go --priority 5
  certflow run
  certflow ls --status running
  certflow pause 1b9d6bcd-bbfd-4b2d-9b5d-ab8dfbbd4bed`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		jsonLogs, _ := cmd.Flags().GetBool("json-logs")
		if err := logger.Initialize(jsonLogs); err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().Bool("json-logs", false, "Emit JSON structured logs")

	rootCmd.AddCommand(commands.RunCmd)
	rootCmd.AddCommand(commands.EnqueueCmd)
	rootCmd.AddCommand(commands.LsCmd)
	rootCmd.AddCommand(commands.PauseCmd)
	rootCmd.AddCommand(commands.ResumeCmd)
	rootCmd.AddCommand(commands.VersionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
