package scheduler

import (
	"context"
	"fmt"

	"github.com/aristath/optimizer/internal/database"
	"github.com/rs/zerolog"
)

// walFrameWarning is the WAL size, in frames, above which a TRUNCATE
// checkpoint is forced.
const walFrameWarning = 1000

// CheckWALCheckpointsJob inspects WAL growth on every store and truncates
// logs that outgrew the autocheckpoint.
type CheckWALCheckpointsJob struct {
	databases []*database.DB
	log       zerolog.Logger
}

// NewCheckWALCheckpointsJob creates a new CheckWALCheckpointsJob. Nil
// databases are skipped.
func NewCheckWALCheckpointsJob(log zerolog.Logger, dbs ...*database.DB) *CheckWALCheckpointsJob {
	j := &CheckWALCheckpointsJob{log: log.With().Str("job", "check_wal_checkpoints").Logger()}
	for _, db := range dbs {
		if db != nil {
			j.databases = append(j.databases, db)
		}
	}
	return j
}

// Name returns the job name
func (j *CheckWALCheckpointsJob) Name() string {
	return "check_wal_checkpoints"
}

// Run executes the check WAL checkpoints job
func (j *CheckWALCheckpointsJob) Run(ctx context.Context) error {
	var failed int
	for _, db := range j.databases {
		// PRAGMA wal_checkpoint returns: busy, log, checkpointed
		var busy, frames, checkpointed int
		err := db.Conn().QueryRowContext(ctx, "PRAGMA wal_checkpoint(PASSIVE)").Scan(&busy, &frames, &checkpointed)
		if err != nil {
			j.log.Warn().Err(err).Str("database", db.Name()).Msg("Failed to check WAL checkpoint")
			failed++
			continue
		}

		if frames <= walFrameWarning {
			j.log.Debug().Str("database", db.Name()).Int("wal_frames", frames).Msg("WAL checkpoint status OK")
			continue
		}

		j.log.Warn().
			Str("database", db.Name()).
			Int("wal_frames", frames).
			Int("checkpointed", checkpointed).
			Msg("WAL file is large, forcing checkpoint")
		if err := db.WALCheckpoint(ctx, "TRUNCATE"); err != nil {
			j.log.Warn().Err(err).Str("database", db.Name()).Msg("Forced checkpoint failed")
			failed++
		}
	}

	if failed > 0 {
		return fmt.Errorf("WAL check failed on %d of %d databases", failed, len(j.databases))
	}
	return nil
}
