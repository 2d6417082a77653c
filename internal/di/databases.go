package di

import (
	"fmt"

	"github.com/aristath/optimizer/internal/config"
	"github.com/aristath/optimizer/internal/database"
	"github.com/rs/zerolog"
)

// InitializeDatabases opens and migrates the master and working stores
func InitializeDatabases(cfg *config.Config, log zerolog.Logger) (*Container, error) {
	container := &Container{}

	// master.db - complete price history, the source of truth
	masterDB, err := database.New(database.Config{
		Path:    cfg.MasterPath(),
		Profile: database.ProfileStandard,
		Name:    database.Master,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize master database: %w", err)
	}
	container.MasterDB = masterDB

	// working.db - rebuildable from the master, so it trades durability for speed
	workingDB, err := database.New(database.Config{
		Path:    cfg.WorkingPath(),
		Profile: database.ProfileCache,
		Name:    database.Working,
	})
	if err != nil {
		container.Close()
		return nil, fmt.Errorf("failed to initialize working database: %w", err)
	}
	container.WorkingDB = workingDB

	for _, db := range []*database.DB{masterDB, workingDB} {
		if err := db.Migrate(); err != nil {
			container.Close()
			return nil, fmt.Errorf("failed to migrate %s database: %w", db.Name(), err)
		}
	}

	log.Info().
		Str("master", masterDB.Path()).
		Str("working", workingDB.Path()).
		Msg("Databases initialized")

	return container, nil
}
