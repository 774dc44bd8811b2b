package audit

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/veilnet/warden/pkg/observability"
)

// RetentionJob periodically deletes audit entries older than the
// retention window
type RetentionJob struct {
	dbLogger      *DBLogger
	logger        *observability.Logger
	retentionDays int
	schedule      string
	cron          *cron.Cron
}

// NewRetentionJob creates a retention job. schedule is a cron
// expression; an empty schedule defaults to nightly at 03:00.
func NewRetentionJob(dbLogger *DBLogger, logger *observability.Logger, retentionDays int, schedule string) *RetentionJob {
	if schedule == "" {
		schedule = "0 3 * * *"
	}
	return &RetentionJob{
		dbLogger:      dbLogger,
		logger:        logger,
		retentionDays: retentionDays,
		schedule:      schedule,
	}
}

// Start begins the scheduled cleanup. Returns an error only when the
// schedule expression is invalid.
func (j *RetentionJob) Start() error {
	j.cron = cron.New()
	_, err := j.cron.AddFunc(j.schedule, j.runOnce)
	if err != nil {
		return err
	}
	j.cron.Start()
	j.logger.WithFields(map[string]interface{}{
		"schedule":       j.schedule,
		"retention_days": j.retentionDays,
	}).Info("Started audit retention job")
	return nil
}

// Stop halts the schedule, waiting for a running cleanup to finish
func (j *RetentionJob) Stop() {
	if j.cron != nil {
		<-j.cron.Stop().Done()
	}
}

func (j *RetentionJob) runOnce() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	cutoff := time.Now().UTC().AddDate(0, 0, -j.retentionDays)
	if _, err := j.dbLogger.Cleanup(ctx, cutoff); err != nil {
		j.logger.WithError(err).Error("Audit retention cleanup failed")
	}
}
