package worker

import (
	"context"
	"strings"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/stanstork/his-notify/internal/config"
	"github.com/stanstork/his-notify/internal/repository"
	"github.com/stanstork/his-notify/internal/temporal"
	"github.com/stanstork/his-notify/internal/temporal/activities"
	"github.com/stanstork/his-notify/internal/temporal/workflows"
	tc "go.temporal.io/sdk/client"
	"go.temporal.io/sdk/worker"
)

// Scheduler is the subset of the Temporal client used to start the cron run.
type Scheduler interface {
	ExecuteWorkflow(ctx context.Context, options tc.StartWorkflowOptions, workflow interface{}, args ...interface{}) (tc.WorkflowRun, error)
}

// RetentionWorker runs the retention workflow on its own task queue.
type RetentionWorker struct {
	client tc.Client
	repo   repository.NotificationRepository
	cfg    config.RetentionConfig
	logger zerolog.Logger
	w      worker.Worker
}

func NewRetentionWorker(client tc.Client, repo repository.NotificationRepository, cfg config.RetentionConfig, logger zerolog.Logger) *RetentionWorker {
	return &RetentionWorker{
		client: client,
		repo:   repo,
		cfg:    cfg,
		logger: logger.With().Str("component", "retention_worker").Logger(),
	}
}

// Start registers the workflow and activities, starts polling, and schedules
// the cron run.
func (r *RetentionWorker) Start(ctx context.Context) error {
	r.w = worker.New(r.client, temporal.RetentionTaskQueue, worker.Options{})
	r.w.RegisterWorkflow(workflows.RetentionWorkflow)
	r.w.RegisterActivity(&activities.Activities{Repo: r.repo})

	if err := r.w.Start(); err != nil {
		return errors.Wrap(err, "failed to start retention worker")
	}
	r.logger.Info().Str("task_queue", temporal.RetentionTaskQueue).Msg("Temporal worker started")

	if err := Schedule(ctx, r.client, r.cfg); err != nil {
		r.w.Stop()
		return err
	}
	r.logger.Info().Str("schedule", r.cfg.Schedule).Int("max_per_user", r.cfg.MaxPerUser).Msg("retention scheduled")
	return nil
}

func (r *RetentionWorker) Stop() {
	if r.w != nil {
		r.w.Stop()
	}
}

// Schedule starts the cron retention workflow. A run already scheduled under
// the same id is reused.
func Schedule(ctx context.Context, s Scheduler, cfg config.RetentionConfig) error {
	schedule := strings.TrimSpace(cfg.Schedule)
	if schedule == "" {
		return errors.New("retention schedule is required")
	}
	opts := tc.StartWorkflowOptions{
		ID:           temporal.RetentionWorkflowID,
		TaskQueue:    temporal.RetentionTaskQueue,
		CronSchedule: schedule,
	}
	_, err := s.ExecuteWorkflow(ctx, opts, workflows.RetentionWorkflow, temporal.RetentionParams{MaxPerUser: cfg.MaxPerUser})
	if err != nil {
		return errors.Wrap(err, "failed to schedule retention workflow")
	}
	return nil
}
