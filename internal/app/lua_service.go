package app

import (
	"context"
	"path/filepath"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/dashd/internal/config"
	"github.com/dokzlo13/dashd/internal/dashboard"
	"github.com/dokzlo13/dashd/internal/entities"
	"github.com/dokzlo13/dashd/internal/eventbus"
	luart "github.com/dokzlo13/dashd/internal/lua"
)

// LuaService wraps the Lua runtime that runs the hook script.
type LuaService struct {
	cfg     *config.Config
	Runtime *luart.Runtime
	done    chan struct{}
	started bool
}

// NewLuaService creates a new LuaService.
func NewLuaService(cfg *config.Config, board *dashboard.Board, registry *entities.Registry) *LuaService {
	runtime := luart.NewRuntime(luart.RuntimeDeps{
		Board:     board,
		States:    registry,
		QueueSize: cfg.EventBus.GetQueueSize(),
	})

	return &LuaService{
		cfg:     cfg,
		Runtime: runtime,
		done:    make(chan struct{}),
	}
}

// LoadScript loads and executes the hook script. Relative paths are tried
// next to the configured dashboard file as well.
// Must be called before Start().
func (s *LuaService) LoadScript() error {
	return s.Runtime.LoadScript(s.cfg.Script, filepath.Dir(s.cfg.Dashboard.Path))
}

// Start subscribes the hooks to the bus and begins the Lua worker goroutine.
func (s *LuaService) Start(ctx context.Context, bus *eventbus.Bus) {
	if !s.Runtime.HasHooks() {
		log.Info().Msg("Lua script registered no hooks")
	}
	s.Runtime.Subscribe(ctx, bus)

	s.started = true

	// Start Lua worker goroutine - this is the ONLY goroutine that touches Lua
	go func() {
		defer close(s.done)
		s.Runtime.Run(ctx)
	}()
}

// Close stops the Lua runtime and waits for its worker to drain.
func (s *LuaService) Close() {
	if s.Runtime == nil {
		return
	}
	s.Runtime.Close()
	if !s.started {
		// The worker owns the state once started
		s.Runtime.L.Close()
		return
	}
	<-s.done
}
