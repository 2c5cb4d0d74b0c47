package temporal

import "time"

// RetentionTaskQueue is the Temporal task queue serving notification retention.
const RetentionTaskQueue = "HIS_NOTIFY_RETENTION"

// RetentionWorkflowID identifies the single scheduled retention run.
const RetentionWorkflowID = "his-notify-retention"

// DefaultActivityTimeout bounds each retention activity.
const DefaultActivityTimeout = 5 * time.Minute

// RetentionParams defines the input of the retention workflow.
type RetentionParams struct {
	// MaxPerUser is how many notifications are kept per recipient; 0 disables trimming.
	MaxPerUser int
}

// RetentionResult reports how many rows each step removed.
type RetentionResult struct {
	Purged  int64
	Trimmed int64
}
