// Package di wires the optimizer's databases, repositories, engine and jobs.
package di

import (
	"github.com/aristath/optimizer/internal/database"
	"github.com/aristath/optimizer/internal/modules/optimization"
	optimizationhandlers "github.com/aristath/optimizer/internal/modules/optimization/handlers"
	"github.com/aristath/optimizer/internal/modules/portfolios"
	portfolioshandlers "github.com/aristath/optimizer/internal/modules/portfolios/handlers"
	"github.com/aristath/optimizer/internal/modules/prices"
	"github.com/aristath/optimizer/internal/modules/results"
	"github.com/aristath/optimizer/internal/scheduler"
	"github.com/aristath/optimizer/internal/server"
)

// Container holds every long-lived dependency of the service.
type Container struct {
	// Databases
	MasterDB  *database.DB // full price history and asset metadata
	WorkingDB *database.DB // trailing price window, saved portfolios, cached results

	// Repositories
	PriceRepo     *prices.Repository
	PortfolioRepo *portfolios.Repository
	ResultCache   *results.Cache

	// Services
	Engine  *optimization.Engine
	Metrics *server.Metrics

	// HTTP handlers
	OptimizationHandler *optimizationhandlers.Handler
	PortfolioHandler    *portfolioshandlers.Handler

	Scheduler *scheduler.Scheduler
	Jobs      *JobInstances
}

// JobInstances keeps the registered jobs so they can be run on demand.
type JobInstances struct {
	SyncWorkingStore *scheduler.SyncWorkingStoreJob
	PurgeResults     *scheduler.PurgeResultsJob
	WALCheckpoints   *scheduler.CheckWALCheckpointsJob
}

// Close releases both databases. Safe on a partially built container.
func (c *Container) Close() {
	if c.WorkingDB != nil {
		_ = c.WorkingDB.Close()
	}
	if c.MasterDB != nil {
		_ = c.MasterDB.Close()
	}
}
