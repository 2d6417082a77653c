package di

import (
	"fmt"

	"github.com/aristath/optimizer/internal/config"
	"github.com/aristath/optimizer/internal/scheduler"
	"github.com/rs/zerolog"
)

// RegisterJobs creates the maintenance jobs and schedules them
func RegisterJobs(container *Container, cfg *config.Config, log zerolog.Logger) error {
	sched := scheduler.New(cfg.RequestTimeout*10, log)

	jobs := &JobInstances{
		SyncWorkingStore: scheduler.NewSyncWorkingStoreJob(container.PriceRepo, cfg.WorkingStoreYears, log),
		PurgeResults:     scheduler.NewPurgeResultsJob(container.ResultCache, log),
		WALCheckpoints:   scheduler.NewCheckWALCheckpointsJob(log, container.MasterDB, container.WorkingDB),
	}

	schedules := []struct {
		spec string
		job  scheduler.Job
	}{
		{cfg.SyncSchedule, jobs.SyncWorkingStore},
		{cfg.PurgeSchedule, jobs.PurgeResults},
		{cfg.CheckpointSchedule, jobs.WALCheckpoints},
	}
	for _, s := range schedules {
		if err := sched.AddJob(s.spec, s.job); err != nil {
			return fmt.Errorf("failed to register job: %w", err)
		}
	}

	container.Scheduler = sched
	container.Jobs = jobs
	return nil
}
