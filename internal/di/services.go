package di

import (
	"github.com/aristath/optimizer/internal/config"
	"github.com/aristath/optimizer/internal/modules/optimization"
	optimizationhandlers "github.com/aristath/optimizer/internal/modules/optimization/handlers"
	"github.com/aristath/optimizer/internal/modules/portfolios"
	portfolioshandlers "github.com/aristath/optimizer/internal/modules/portfolios/handlers"
	"github.com/aristath/optimizer/internal/modules/prices"
	"github.com/aristath/optimizer/internal/modules/results"
	"github.com/aristath/optimizer/internal/server"
	"github.com/rs/zerolog"
)

// InitializeServices builds repositories, the engine and the HTTP handlers
// on top of an initialized container.
func InitializeServices(container *Container, cfg *config.Config, log zerolog.Logger) {
	container.PriceRepo = prices.NewRepository(container.MasterDB.Conn(), container.WorkingDB.Conn(), log)
	container.PortfolioRepo = portfolios.NewRepository(container.WorkingDB.Conn(), log)
	container.ResultCache = results.NewCache(container.WorkingDB.Conn(), cfg.ResultTTL, log)

	solver := optimization.DefaultSolverSettings()
	solver.MaxIterations = cfg.SolverMaxIterations
	solver.Timeout = cfg.SolverTimeout

	container.Engine = optimization.NewEngine(optimization.EngineConfig{
		Solver:         solver,
		RobustWorkers:  cfg.RobustWorkers,
		RiskFreeRate:   cfg.RiskFreeRate,
		PeriodsPerYear: cfg.PeriodsPerYear,
	}, log)

	container.Metrics = server.NewMetrics()
	container.Engine.SetObserver(container.Metrics)
	container.ResultCache.SetObserver(container.Metrics)

	container.OptimizationHandler = optimizationhandlers.NewHandler(
		container.Engine,
		container.PriceRepo,
		container.PortfolioRepo,
		container.ResultCache,
		log,
	)
	container.PortfolioHandler = portfolioshandlers.NewHandler(container.PortfolioRepo, container.PriceRepo, log)
}
