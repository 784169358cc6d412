package scheduler

import (
	"fmt"

	"github.com/aristath/quotafeed/internal/database"
	"github.com/aristath/quotafeed/internal/utils"
	"github.com/rs/zerolog"
)

// LedgerCleaner prunes old quota ledger days.
type LedgerCleaner interface {
	CleanupOldRecords(keepDays int) (int64, error)
}

// QuotaLedgerCleanupJob removes ledger rows older than the retention window.
type QuotaLedgerCleanupJob struct {
	ledger   LedgerCleaner
	keepDays int
	log      zerolog.Logger
}

// NewQuotaLedgerCleanupJob creates a ledger cleanup job keeping keepDays days.
func NewQuotaLedgerCleanupJob(ledger LedgerCleaner, keepDays int, log zerolog.Logger) *QuotaLedgerCleanupJob {
	return &QuotaLedgerCleanupJob{
		ledger:   ledger,
		keepDays: keepDays,
		log:      log.With().Str("job", "quota_ledger_cleanup").Logger(),
	}
}

// Name returns the job name
func (j *QuotaLedgerCleanupJob) Name() string {
	return "quota_ledger_cleanup"
}

// Run executes the ledger cleanup
func (j *QuotaLedgerCleanupJob) Run() error {
	done := utils.MeasureDBQuery("quota_ledger_cleanup", j.log)
	deleted, err := j.ledger.CleanupOldRecords(j.keepDays)
	done(deleted)
	if err != nil {
		return fmt.Errorf("failed to clean quota ledger: %w", err)
	}
	j.log.Info().Int64("deleted", deleted).Int("keep_days", j.keepDays).Msg("Quota ledger cleaned")
	return nil
}

// WALCheckpointJob truncates the WAL of every database and warns about large ones.
type WALCheckpointJob struct {
	databases []*database.DB
	log       zerolog.Logger
}

// NewWALCheckpointJob creates a checkpoint job over databases.
func NewWALCheckpointJob(log zerolog.Logger, databases ...*database.DB) *WALCheckpointJob {
	return &WALCheckpointJob{
		databases: databases,
		log:       log.With().Str("job", "wal_checkpoint").Logger(),
	}
}

// Name returns the job name
func (j *WALCheckpointJob) Name() string {
	return "wal_checkpoint"
}

// Run checkpoints each database. A failure on one database does not stop the others;
// the first error is returned.
func (j *WALCheckpointJob) Run() error {
	var firstErr error
	checked := 0

	for _, db := range j.databases {
		if db == nil {
			continue
		}

		var busy, frames, checkpointed int
		if err := db.Conn().QueryRow("PRAGMA wal_checkpoint(PASSIVE)").Scan(&busy, &frames, &checkpointed); err != nil {
			j.log.Warn().Err(err).Str("database", db.Name()).Msg("Failed to read WAL status")
		} else if frames > 1000 {
			j.log.Warn().
				Str("database", db.Name()).
				Int("wal_frames", frames).
				Msg("WAL file is large, truncating")
		}

		if err := db.WALCheckpoint("TRUNCATE"); err != nil {
			j.log.Error().Err(err).Str("database", db.Name()).Msg("WAL checkpoint failed")
			if firstErr == nil {
				firstErr = fmt.Errorf("checkpoint %s: %w", db.Name(), err)
			}
			continue
		}
		checked++
	}

	j.log.Info().Int("checkpointed", checked).Msg("WAL checkpoint completed")
	return firstErr
}
