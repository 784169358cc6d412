package di

import (
	"fmt"

	"github.com/aristath/quotafeed/internal/cache"
	"github.com/aristath/quotafeed/internal/config"
	"github.com/aristath/quotafeed/internal/reliability"
	"github.com/aristath/quotafeed/internal/scheduler"
	"github.com/rs/zerolog"
)

// Cron schedules (with seconds), evaluated in the market timezone.
const (
	ScheduleCacheCleanup      = "0 0 3 * * *"
	ScheduleLedgerCleanup     = "0 15 3 * * *"
	ScheduleWALCheckpoint     = "0 0 * * * *"
	ScheduleDailyMaintenance  = "0 0 2 * * *"
	ScheduleWeeklyMaintenance = "0 0 4 * * 0"
	ScheduleBackup            = "0 30 2 * * *"
)

// ledgerRetentionDays keeps enough ledger history for usage reports.
const ledgerRetentionDays = 90

// JobInstances holds the registered jobs for manual triggering
type JobInstances struct {
	CacheCleanup      scheduler.Job
	LedgerCleanup     scheduler.Job
	WALCheckpoint     scheduler.Job
	DailyMaintenance  scheduler.Job
	WeeklyMaintenance scheduler.Job
	Backup            scheduler.Job // nil when backups are disabled
}

// All returns the non-nil jobs.
func (j *JobInstances) All() []scheduler.Job {
	var jobs []scheduler.Job
	for _, job := range []scheduler.Job{
		j.CacheCleanup, j.LedgerCleanup, j.WALCheckpoint,
		j.DailyMaintenance, j.WeeklyMaintenance, j.Backup,
	} {
		if job != nil {
			jobs = append(jobs, job)
		}
	}
	return jobs
}

// RegisterJobs creates the maintenance jobs and registers them with sched
func RegisterJobs(container *Container, cfg *config.Config, sched *scheduler.Scheduler, log zerolog.Logger) (*JobInstances, error) {
	if container == nil {
		return nil, fmt.Errorf("container cannot be nil")
	}

	instances := &JobInstances{
		CacheCleanup:      cache.NewCleanupJob(container.CacheRepo, cfg.Cache.RetentionDays, log),
		LedgerCleanup:     scheduler.NewQuotaLedgerCleanupJob(container.Governor, ledgerRetentionDays, log),
		WALCheckpoint:     scheduler.NewWALCheckpointJob(log, container.Databases()...),
		DailyMaintenance:  reliability.NewDailyMaintenanceJob(cfg.Storage.DataDir, log, container.Databases()...),
		WeeklyMaintenance: reliability.NewWeeklyMaintenanceJob(log, container.CacheDB),
	}
	if container.Backups != nil {
		instances.Backup = reliability.NewBackupJob(container.Backups, cfg.Backup.RetentionDays, log)
	}

	schedules := []struct {
		schedule string
		job      scheduler.Job
	}{
		{ScheduleCacheCleanup, instances.CacheCleanup},
		{ScheduleLedgerCleanup, instances.LedgerCleanup},
		{ScheduleWALCheckpoint, instances.WALCheckpoint},
		{ScheduleDailyMaintenance, instances.DailyMaintenance},
		{ScheduleWeeklyMaintenance, instances.WeeklyMaintenance},
		{ScheduleBackup, instances.Backup},
	}
	for _, s := range schedules {
		if s.job == nil {
			continue
		}
		if err := sched.AddJob(s.schedule, s.job); err != nil {
			return nil, fmt.Errorf("failed to register %s: %w", s.job.Name(), err)
		}
	}

	log.Info().Int("jobs", len(instances.All())).Msg("Jobs registered")
	return instances, nil
}
