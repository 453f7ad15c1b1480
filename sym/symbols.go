// Package sym defines the canonical symbols certflow uses for CLI output.
// These are stable across commands and documentation; pick from here instead
// of inlining glyphs so output stays consistent.
package sym

// Lifecycle markers, one per task status.
const (
	Queued    = "◌" // waiting for a worker slot
	Running   = "▶" // state machine active
	Paused    = "⏸" // parked at a polling boundary
	Completed = "✓" // certificate captured
	Failed    = "✗" // terminal failure
	Review    = "⚑" // flagged for manual review
)

// Subsystem markers used in command headers.
const (
	Daemon   = "⟳" // scheduler and worker pool
	Task     = "▤" // course task operations
	Platform = "⌘" // platform table operations
)

// ForStatus maps a stored status string to its marker. Unknown statuses get
// the queued marker rather than an empty cell.
func ForStatus(status string) string {
	switch status {
	case "queued":
		return Queued
	case "running":
		return Running
	case "paused":
		return Paused
	case "completed":
		return Completed
	case "failed":
		return Failed
	default:
		return Queued
	}
}
