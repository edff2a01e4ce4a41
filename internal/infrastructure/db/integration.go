package db

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/sawpanic/pairsrun/internal/persistence"
	"github.com/sawpanic/pairsrun/internal/persistence/memory"
)

// Storage is the positions backend chosen from configuration: Postgres when
// enabled, otherwise an in-process repository.
type Storage struct {
	manager   *Manager
	positions persistence.PositionsRepo
}

// OpenStorage connects the configured backend and applies migrations when
// auto_migrate is set
func OpenStorage(ctx context.Context, config Config) (*Storage, error) {
	manager, err := NewManager(config)
	if err != nil {
		return nil, fmt.Errorf("failed to create database manager: %w", err)
	}
	return newStorage(ctx, manager, config.AutoMigrate)
}

func newStorage(ctx context.Context, manager *Manager, migrate bool) (*Storage, error) {
	s := &Storage{manager: manager}
	if !manager.IsEnabled() {
		s.positions = memory.NewPositionsRepo()
		log.Warn().Msg("Database disabled, positions will not survive a restart")
		return s, nil
	}

	if migrate {
		if err := manager.Migrate(ctx); err != nil {
			manager.Close()
			return nil, fmt.Errorf("failed to migrate: %w", err)
		}
		log.Info().Msg("Positions schema migrated")
	}
	s.positions = manager.Positions()

	log.Info().
		Bool("db_enabled", true).
		Int("max_open_conns", manager.config.MaxOpenConns).
		Dur("query_timeout", manager.config.QueryTimeout).
		Msg("Database storage initialized")
	return s, nil
}

// Positions returns the active positions repository
func (s *Storage) Positions() persistence.PositionsRepo {
	return s.positions
}

// Health returns the backend health checker
func (s *Storage) Health() persistence.RepositoryHealth {
	return s.manager.Health()
}

// Manager returns the database manager for migrations and stats
func (s *Storage) Manager() *Manager {
	return s.manager
}

// Close gracefully shuts down the database connection
func (s *Storage) Close() error {
	if !s.manager.IsEnabled() {
		return nil
	}
	log.Info().Msg("Closing database storage")
	return s.manager.Close()
}
