package scheduler

import (
	"context"
	"time"

	"github.com/aristath/optimizer/internal/modules/prices"
	"github.com/rs/zerolog"
)

// WorkingStoreSyncer rebuilds the working store window from the master.
type WorkingStoreSyncer interface {
	SyncWorkingStore(ctx context.Context, now time.Time, years int) (*prices.SyncResult, error)
}

// ResultPurger drops expired cached results.
type ResultPurger interface {
	Purge(ctx context.Context) (int64, error)
}

// SyncWorkingStoreJob keeps the working store at the configured number of
// trailing years.
type SyncWorkingStoreJob struct {
	syncer WorkingStoreSyncer
	years  int
	now    func() time.Time
	log    zerolog.Logger
}

// NewSyncWorkingStoreJob creates a new SyncWorkingStoreJob
func NewSyncWorkingStoreJob(syncer WorkingStoreSyncer, years int, log zerolog.Logger) *SyncWorkingStoreJob {
	return &SyncWorkingStoreJob{
		syncer: syncer,
		years:  years,
		now:    time.Now,
		log:    log.With().Str("job", "sync_working_store").Logger(),
	}
}

// Name returns the job name
func (j *SyncWorkingStoreJob) Name() string {
	return "sync_working_store"
}

// Run executes the sync
func (j *SyncWorkingStoreJob) Run(ctx context.Context) error {
	res, err := j.syncer.SyncWorkingStore(ctx, j.now(), j.years)
	if err != nil {
		return err
	}
	j.log.Info().
		Str("window_start", res.WindowStart.Format(prices.DateLayout)).
		Int("copied", res.RowsCopied).
		Int64("pruned", res.RowsPruned).
		Msg("Working store synced")
	return nil
}

// PurgeResultsJob removes cached optimization results past their TTL
type PurgeResultsJob struct {
	purger ResultPurger
	log    zerolog.Logger
}

// NewPurgeResultsJob creates a new PurgeResultsJob
func NewPurgeResultsJob(purger ResultPurger, log zerolog.Logger) *PurgeResultsJob {
	return &PurgeResultsJob{purger: purger, log: log.With().Str("job", "purge_results").Logger()}
}

// Name returns the job name
func (j *PurgeResultsJob) Name() string {
	return "purge_results"
}

// Run executes the purge
func (j *PurgeResultsJob) Run(ctx context.Context) error {
	n, err := j.purger.Purge(ctx)
	if err != nil {
		return err
	}
	if n > 0 {
		j.log.Info().Int64("purged", n).Msg("Expired results purged")
	}
	return nil
}
