package cache

import (
	"github.com/rs/zerolog"
)

// CleanupJob removes cached bars and ranges older than the retention window.
// It should be scheduled to run daily.
type CleanupJob struct {
	repo          *Repository
	retentionDays int
	log           zerolog.Logger
}

// NewCleanupJob creates a new cache cleanup job.
func NewCleanupJob(repo *Repository, retentionDays int, log zerolog.Logger) *CleanupJob {
	return &CleanupJob{
		repo:          repo,
		retentionDays: retentionDays,
		log:           log.With().Str("job", "cache_cleanup").Logger(),
	}
}

// Run executes the cleanup job. A retention of zero keeps everything.
func (j *CleanupJob) Run() error {
	if j.retentionDays <= 0 {
		j.log.Debug().Msg("Cache retention disabled, skipping cleanup")
		return nil
	}

	deleted, err := j.repo.ClearCache(ClearFilter{OlderThanDays: j.retentionDays})
	if err != nil {
		j.log.Error().Err(err).Msg("Failed to clean up cache")
		return err
	}

	if deleted > 0 {
		j.log.Info().
			Int64("deleted", deleted).
			Int("retention_days", j.retentionDays).
			Msg("Cache cleanup completed")
	}

	return nil
}

// Name returns the job name for scheduling and logging.
func (j *CleanupJob) Name() string {
	return "cache_cleanup"
}
