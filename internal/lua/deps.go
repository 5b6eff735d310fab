package lua

import "github.com/dokzlo13/dashd/internal/lua/modules"

// RuntimeDeps groups the dependencies of the Lua runtime.
type RuntimeDeps struct {
	Board  modules.Board
	States modules.States

	// QueueSize bounds pending script work (default: 100)
	QueueSize int
}
