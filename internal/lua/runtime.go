package lua

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/rs/zerolog/log"
	lua "github.com/yuin/gopher-lua"

	"github.com/dokzlo13/dashd/internal/eventbus"
	"github.com/dokzlo13/dashd/internal/lua/modules"
)

// ErrRuntimeClosed is returned when the Lua runtime is closed
var ErrRuntimeClosed = fmt.Errorf("lua runtime closed")

// LuaWork represents work to be executed on the Lua VM.
// All Lua execution MUST go through this to ensure thread safety
type LuaWork func(ctx context.Context)

// Runtime manages the Lua VM with single-threaded execution
type Runtime struct {
	L    *lua.LState
	dash *modules.DashModule

	// Work queue for thread-safe Lua execution
	workQueue chan LuaWork

	// Closing this channel signals senders to stop
	closing   chan struct{}
	closeOnce sync.Once
}

// NewRuntime creates a new Lua runtime with the log and dash modules
// preloaded.
func NewRuntime(deps RuntimeDeps) *Runtime {
	queueSize := deps.QueueSize
	if queueSize <= 0 {
		queueSize = 100
	}
	r := &Runtime{
		L:         lua.NewState(),
		dash:      modules.NewDashModule(deps.Board, deps.States),
		workQueue: make(chan LuaWork, queueSize),
		closing:   make(chan struct{}),
	}
	r.L.PreloadModule("log", modules.NewLogModule().Loader)
	r.L.PreloadModule("dash", r.dash.Loader)
	return r
}

// Close signals the runtime to stop accepting new work and closes the Lua
// state once the worker has drained.
func (r *Runtime) Close() {
	r.closeOnce.Do(func() {
		close(r.closing)
	})
}

// Do queues work to be executed on the Lua VM (thread-safe, non-blocking).
// Returns false if the runtime is closing, queue is full, or context is cancelled.
func (r *Runtime) Do(ctx context.Context, work LuaWork) bool {
	if r.isClosing() {
		log.Warn().Msg("Lua runtime closing, dropping work")
		return false
	}
	select {
	case <-ctx.Done():
		log.Warn().Msg("Context cancelled, dropping Lua work")
		return false
	case r.workQueue <- work:
		return true
	default:
		log.Warn().Msg("Lua work queue full, dropping work")
		return false
	}
}

// DoSync queues work, waits for space, and waits for the result.
func (r *Runtime) DoSync(ctx context.Context, work func(context.Context) error) error {
	done := make(chan error, 1)
	wrapped := LuaWork(func(c context.Context) {
		done <- work(c)
	})
	if r.isClosing() {
		return ErrRuntimeClosed
	}

	select {
	case <-r.closing:
		return ErrRuntimeClosed
	case <-ctx.Done():
		return ctx.Err()
	case r.workQueue <- wrapped:
	}

	select {
	case <-r.closing:
		return ErrRuntimeClosed
	case <-ctx.Done():
		return ctx.Err()
	case err := <-done:
		return err
	}
}

func (r *Runtime) isClosing() bool {
	select {
	case <-r.closing:
		return true
	default:
		return false
	}
}

// Subscribe forwards visibility changes and dashboard reloads from the bus to
// the script hooks.
func (r *Runtime) Subscribe(ctx context.Context, bus *eventbus.Bus) {
	bus.Subscribe(eventbus.EventTypeVisibilityChanged, func(e eventbus.Event) {
		id, _ := e.Data["element_id"].(string)
		visible, _ := e.Data["visible"].(bool)
		reason, _ := e.Data["reason"].(string)
		r.Do(ctx, func(context.Context) {
			r.dash.DispatchVisibility(r.L, id, visible, reason)
		})
	})
	bus.Subscribe(eventbus.EventTypeDashboardReloaded, func(e eventbus.Event) {
		r.Do(ctx, func(context.Context) {
			r.dash.DispatchReload(r.L, e.Data)
		})
	})
}

// HasHooks reports whether the loaded script registered any hook.
func (r *Runtime) HasHooks() bool {
	return r.dash.HasHooks()
}

// Run starts the Lua worker goroutine - this is the ONLY goroutine that touches Lua.
// Exits when context is cancelled or runtime is closed.
func (r *Runtime) Run(ctx context.Context) {
	defer r.L.Close()
	for {
		select {
		case <-ctx.Done():
			r.drainQueue(ctx)
			return
		case <-r.closing:
			r.drainQueue(ctx)
			return
		case work := <-r.workQueue:
			r.executeWork(ctx, work)
		}
	}
}

// drainQueue processes any remaining work in the queue before exiting
func (r *Runtime) drainQueue(ctx context.Context) {
	for {
		select {
		case work := <-r.workQueue:
			r.executeWork(ctx, work)
		default:
			return
		}
	}
}

// executeWork runs a single work item with panic recovery
func (r *Runtime) executeWork(ctx context.Context, work LuaWork) {
	defer func() {
		if rec := recover(); rec != nil {
			log.Error().
				Interface("panic", rec).
				Msg("Lua work panicked - worker continuing")
		}
	}()

	// Modules reach the context via L.Context()
	r.L.SetContext(ctx)
	work(ctx)
}

// LoadScript executes a script (must be called before Run). Relative paths
// that do not exist are resolved against baseDir.
func (r *Runtime) LoadScript(path, baseDir string) error {
	if !filepath.IsAbs(path) && baseDir != "" {
		if _, err := os.Stat(path); os.IsNotExist(err) {
			path = filepath.Join(baseDir, path)
		}
	}

	log.Info().Str("path", path).Msg("Loading Lua script")
	if err := r.L.DoFile(path); err != nil {
		return fmt.Errorf("failed to execute Lua script: %w", err)
	}
	log.Info().Bool("hooks", r.HasHooks()).Msg("Lua script loaded successfully")
	return nil
}

// DoString executes a chunk on the Lua goroutine.
func (r *Runtime) DoString(ctx context.Context, src string) error {
	return r.DoSync(ctx, func(context.Context) error {
		return r.L.DoString(src)
	})
}
