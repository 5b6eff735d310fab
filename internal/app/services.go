package app

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/dashd/internal/api"
	"github.com/dokzlo13/dashd/internal/condition"
	"github.com/dokzlo13/dashd/internal/config"
	"github.com/dokzlo13/dashd/internal/dashboard"
	"github.com/dokzlo13/dashd/internal/db"
	"github.com/dokzlo13/dashd/internal/entities"
	"github.com/dokzlo13/dashd/internal/eventbus"
	"github.com/dokzlo13/dashd/internal/ledger"
	"github.com/dokzlo13/dashd/internal/mediaquery"
	"github.com/dokzlo13/dashd/internal/reload"
	"github.com/dokzlo13/dashd/internal/storage"
)

// Services is a container for all application services.
// It manages service initialization order and dependencies.
type Services struct {
	cfg *config.Config

	// Core infrastructure
	DB     *db.DB
	Ledger *ledger.Ledger
	Store  *storage.Store
	Bus    *eventbus.Bus

	// Dashboard state
	Entities *entities.Registry
	Env      *mediaquery.Environment
	Board    *dashboard.Board
	Watcher  *reload.Watcher

	// Optional services
	API     *api.Server
	Lua     *LuaService
	Cleanup *CleanupService

	wg sync.WaitGroup
}

// NewServices creates all services with proper dependency injection.
func NewServices(cfg *config.Config) (*Services, error) {
	s := &Services{cfg: cfg}

	loc, err := cfg.Locale.Location()
	if err != nil {
		return nil, err
	}

	// Initialize database
	database, err := db.Open(cfg.Database.Path)
	if err != nil {
		return nil, err
	}
	s.DB = database

	// Initialize ledger
	if cfg.Ledger.Enabled {
		s.Ledger = ledger.New(database.DB)
		s.Cleanup, err = NewCleanupService(s.Ledger, cfg.Ledger.CleanupSchedule, cfg.Ledger.RetentionDays, loc)
		if err != nil {
			s.Close()
			return nil, fmt.Errorf("invalid ledger cleanup schedule: %w", err)
		}
	}

	s.Store = storage.NewStore(database.DB)
	s.Bus = eventbus.NewWithConfig(cfg.EventBus.GetWorkers(), cfg.EventBus.GetQueueSize())
	s.Entities = entities.New(storage.NewTypedStore[condition.EntityState](s.Store, entities.Kind), s.Bus)

	s.Env = mediaquery.NewEnvironment(mediaquery.Viewport{
		Width:       cfg.Viewport.Width,
		Height:      cfg.Viewport.Height,
		ColorScheme: cfg.Viewport.ColorScheme,
		Hover:       cfg.Viewport.Hover,
	})

	s.Board = dashboard.NewBoard(dashboard.Options{
		Entities: s.Entities,
		Env:      s.Env,
		Ledger:   s.Ledger,
		Bus:      s.Bus,
		Location: loc,
		User:     cfg.Locale.User,
	})

	s.Watcher = reload.New(cfg.Dashboard.Path, cfg.Dashboard.Debounce.Duration(), s.Board)

	if cfg.API.Enabled {
		s.API = api.NewServer(cfg.API.Host, cfg.API.Port, api.Deps{
			Board:    s.Board,
			Entities: s.Entities,
			Ledger:   s.Ledger,
			Bus:      s.Bus,
			Ingest: entities.IngestPaths{
				Entity:     cfg.API.Ingest.EntityPath,
				State:      cfg.API.Ingest.StatePath,
				Attributes: cfg.API.Ingest.AttributesPath,
			},
			Limiter: api.NewLimiter(cfg.API.RateLimitRPS, cfg.API.Burst),
		})
	}

	if cfg.Script != "" {
		s.Lua = NewLuaService(cfg, s.Board, s.Entities)
	}

	return s, nil
}

// Start starts all services in the correct order.
// The onFatalError callback is called when a background service fails.
func (s *Services) Start(ctx context.Context, onFatalError func(error)) error {
	restored, err := s.Entities.Restore()
	if err != nil {
		return err
	}
	log.Info().Int("entities", restored).Msg("Restored entity states")

	// The board must be running before anything is mounted
	go s.Board.Run(ctx)

	if err := s.Watcher.Reload(ctx, "startup"); err != nil {
		return err
	}

	// Load Lua script before starting worker
	if s.Lua != nil {
		if err := s.Lua.LoadScript(); err != nil {
			return err
		}
		s.Lua.Start(ctx, s.Bus)
	}

	if s.API != nil {
		s.goBackground(func() {
			if err := s.API.Run(ctx, s.cfg.ShutdownTimeout.Duration()); err != nil {
				onFatalError(fmt.Errorf("api server: %w", err))
			}
		})
	}

	s.goBackground(func() {
		if err := s.Watcher.Run(ctx, s.cfg.Dashboard.Watch); err != nil {
			onFatalError(fmt.Errorf("dashboard watcher: %w", err))
		}
	})

	if s.Cleanup != nil {
		s.Cleanup.Start()
	}

	return nil
}

func (s *Services) goBackground(fn func()) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		fn()
	}()
}

// ClearState removes persisted entity states and all visibility history.
func (s *Services) ClearState() error {
	if err := s.Store.Clear(entities.Kind); err != nil {
		return err
	}
	if s.Ledger != nil {
		if _, err := s.Ledger.DeleteOlderThan(0); err != nil {
			return err
		}
	}
	return nil
}

// Stop gracefully stops all services. The context given to Start must be
// cancelled first.
func (s *Services) Stop() error {
	s.wg.Wait()
	s.Close()
	return nil
}

// Close releases all resources.
func (s *Services) Close() {
	if s.Cleanup != nil {
		s.Cleanup.Stop()
	}
	if s.Lua != nil {
		s.Lua.Close()
	}
	if s.Board != nil {
		s.Board.Close()
	}
	if s.Bus != nil {
		ctx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout.Duration())
		s.Bus.Close(ctx)
		cancel()
	}
	if s.DB != nil {
		s.DB.Close()
	}
}
