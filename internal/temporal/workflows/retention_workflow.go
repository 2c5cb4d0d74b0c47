package workflows

import (
	"time"

	"github.com/stanstork/his-notify/internal/temporal"
	"github.com/stanstork/his-notify/internal/temporal/activities"
	sdktemporal "go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"
)

// RetentionWorkflow deletes expired notifications, then trims each
// recipient's history to the newest MaxPerUser rows.
func RetentionWorkflow(ctx workflow.Context, params temporal.RetentionParams) (temporal.RetentionResult, error) {
	ao := workflow.ActivityOptions{
		StartToCloseTimeout: temporal.DefaultActivityTimeout,
		RetryPolicy: &sdktemporal.RetryPolicy{
			InitialInterval:    time.Second,
			BackoffCoefficient: 2,
			MaximumAttempts:    5,
		},
	}
	ctx = workflow.WithActivityOptions(ctx, ao)

	logger := workflow.GetLogger(ctx)
	logger.Info("Starting retention workflow", "MaxPerUser", params.MaxPerUser)

	// The actual implementation is on the worker; this is just a proxy.
	var a *activities.Activities
	var result temporal.RetentionResult

	err := workflow.ExecuteActivity(ctx, a.PurgeExpiredActivity, workflow.Now(ctx)).Get(ctx, &result.Purged)
	if err != nil {
		logger.Error("Failed to purge expired notifications.", "error", err)
		return result, err
	}

	if params.MaxPerUser > 0 {
		err = workflow.ExecuteActivity(ctx, a.TrimHistoryActivity, params.MaxPerUser).Get(ctx, &result.Trimmed)
		if err != nil {
			logger.Error("Failed to trim notification history.", "error", err)
			return result, err
		}
	}

	logger.Info("Retention workflow completed.", "Purged", result.Purged, "Trimmed", result.Trimmed)
	return result, nil
}
