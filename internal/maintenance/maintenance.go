// Package maintenance runs the dispatcher's periodic background work on a
// cron schedule: sweeping idle tenant limiter state and logging a health
// snapshot for operators tailing the logs.
package maintenance

import (
	"context"

	"github.com/robfig/cron/v3"

	apperrors "cae-dispatcher/internal/common/errors"
	"cae-dispatcher/internal/common/logging"
	"cae-dispatcher/internal/dispatch"
)

// Config holds the cron expressions for each task.
type Config struct {
	// SweepSchedule runs the idle-scope sweep
	SweepSchedule string
	// SnapshotSchedule logs the health snapshot
	SnapshotSchedule string
}

// DefaultConfig sweeps every 10 minutes and snapshots every minute.
func DefaultConfig() Config {
	return Config{
		SweepSchedule:    "*/10 * * * *",
		SnapshotSchedule: "* * * * *",
	}
}

// Runner owns the cron scheduler.
type Runner struct {
	cron   *cron.Cron
	client *dispatch.Client
	logger logging.Logger
}

// New registers the maintenance jobs.
func New(config Config, client *dispatch.Client, logger logging.Logger) (*Runner, error) {
	if client == nil {
		return nil, apperrors.ConfigError("maintenance runner requires a dispatch client")
	}
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}
	if config.SweepSchedule == "" {
		config.SweepSchedule = "*/10 * * * *"
	}
	if config.SnapshotSchedule == "" {
		config.SnapshotSchedule = "* * * * *"
	}

	r := &Runner{
		cron:   cron.New(),
		client: client,
		logger: logger.WithFields(logging.Field{Key: "component", Value: "maintenance"}),
	}

	if _, err := r.cron.AddFunc(config.SweepSchedule, r.sweep); err != nil {
		return nil, apperrors.ConfigError("invalid sweep schedule: " + err.Error())
	}
	if _, err := r.cron.AddFunc(config.SnapshotSchedule, r.snapshot); err != nil {
		return nil, apperrors.ConfigError("invalid snapshot schedule: " + err.Error())
	}

	return r, nil
}

// Start launches the scheduler.
func (r *Runner) Start() {
	r.cron.Start()
	r.logger.Info("Maintenance scheduler started")
}

// Stop halts the scheduler and waits for running jobs.
func (r *Runner) Stop() {
	ctx := r.cron.Stop()
	<-ctx.Done()
	r.logger.Info("Maintenance scheduler stopped")
}

func (r *Runner) sweep() {
	removed := r.client.SweepIdleScopes()
	if removed > 0 {
		r.logger.Info("Swept idle limiter scopes",
			logging.Field{Key: "removed", Value: removed},
		)
	}
}

func (r *Runner) snapshot() {
	status := r.client.SystemStatus(context.Background(), "")
	r.logger.Info("Health snapshot",
		logging.Field{Key: "state", Value: string(status.Health.State)},
		logging.Field{Key: "success_rate", Value: status.Health.SuccessRate},
		logging.Field{Key: "queue_length", Value: status.Queue.QueueLength},
		logging.Field{Key: "processing", Value: status.Queue.Processing},
		logging.Field{Key: "global_circuit", Value: status.GlobalCircuit.State},
	)
}
