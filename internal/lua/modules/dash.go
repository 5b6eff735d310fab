package modules

import (
	"context"

	"github.com/rs/zerolog/log"
	lua "github.com/yuin/gopher-lua"

	"github.com/dokzlo13/dashd/internal/condition"
	"github.com/dokzlo13/dashd/internal/mediaquery"
)

// Board is the part of the dashboard board scripts can reach.
type Board interface {
	Evaluate(conds condition.List) bool
	Visible(id string) bool
	User() string
	SetUser(ctx context.Context, user string) error
	Viewport() mediaquery.Viewport
}

// States is the entity state registry.
type States interface {
	Get(id string) (condition.EntityState, bool)
	Set(id string, st condition.EntityState) (bool, error)
	Remove(id string) (bool, error)
}

const anyElement = "*"

// DashModule provides the dash Lua module: entity state access, condition
// evaluation and visibility hooks.
type DashModule struct {
	board  Board
	states States

	visibility map[string][]*lua.LFunction
	reload     []*lua.LFunction
}

// NewDashModule creates a new dash module
func NewDashModule(board Board, states States) *DashModule {
	return &DashModule{
		board:      board,
		states:     states,
		visibility: make(map[string][]*lua.LFunction),
	}
}

// Loader is the module loader for Lua
func (m *DashModule) Loader(L *lua.LState) int {
	mod := L.NewTable()

	L.SetField(mod, "on_visibility", L.NewFunction(m.onVisibility))
	L.SetField(mod, "on_reload", L.NewFunction(m.onReload))
	L.SetField(mod, "state", L.NewFunction(m.state))
	L.SetField(mod, "attributes", L.NewFunction(m.attributes))
	L.SetField(mod, "set_state", L.NewFunction(m.setState))
	L.SetField(mod, "remove_state", L.NewFunction(m.removeState))
	L.SetField(mod, "evaluate", L.NewFunction(m.evaluate))
	L.SetField(mod, "validate", L.NewFunction(m.validate))
	L.SetField(mod, "visible", L.NewFunction(m.visible))
	L.SetField(mod, "user", L.NewFunction(m.user))
	L.SetField(mod, "set_user", L.NewFunction(m.setUser))
	L.SetField(mod, "viewport", L.NewFunction(m.viewport))

	L.Push(mod)
	return 1
}

// on_visibility([element_id,] fn) - fn(element_id, visible, reason) runs on
// every visibility change of the element, or of any element.
func (m *DashModule) onVisibility(L *lua.LState) int {
	id := anyElement
	var fn *lua.LFunction
	if L.Get(1).Type() == lua.LTFunction {
		fn = L.CheckFunction(1)
	} else {
		id = L.CheckString(1)
		fn = L.CheckFunction(2)
	}
	m.visibility[id] = append(m.visibility[id], fn)

	log.Info().Str("element_id", id).Msg("Registered visibility hook")
	return 0
}

// on_reload(fn) - fn(info) runs after a dashboard is mounted.
func (m *DashModule) onReload(L *lua.LState) int {
	m.reload = append(m.reload, L.CheckFunction(1))
	return 0
}

// state(entity_id) - current state string, or nil when unknown
func (m *DashModule) state(L *lua.LState) int {
	st, ok := m.states.Get(L.CheckString(1))
	if !ok {
		L.Push(lua.LNil)
		return 1
	}
	L.Push(lua.LString(st.State))
	return 1
}

// attributes(entity_id) - attribute table, or nil when unknown
func (m *DashModule) attributes(L *lua.LState) int {
	st, ok := m.states.Get(L.CheckString(1))
	if !ok {
		L.Push(lua.LNil)
		return 1
	}
	L.Push(MapToLuaTable(L, st.Attributes))
	return 1
}

// set_state(entity_id, state, attributes) - returns whether anything changed
func (m *DashModule) setState(L *lua.LState) int {
	id := L.CheckString(1)
	st := condition.EntityState{State: L.CheckString(2)}
	if tbl := L.OptTable(3, nil); tbl != nil {
		st.Attributes = LuaTableToMap(tbl)
	}

	changed, err := m.states.Set(id, st)
	if err != nil {
		L.RaiseError("set_state: %v", err)
		return 0
	}
	L.Push(lua.LBool(changed))
	return 1
}

// remove_state(entity_id) - returns whether the entity was known
func (m *DashModule) removeState(L *lua.LState) int {
	removed, err := m.states.Remove(L.CheckString(1))
	if err != nil {
		L.RaiseError("remove_state: %v", err)
		return 0
	}
	L.Push(lua.LBool(removed))
	return 1
}

func checkConditions(L *lua.LState, idx int) condition.List {
	conds, err := condition.FromValue(LuaToGo(L.CheckTable(idx)))
	if err != nil {
		L.ArgError(idx, err.Error())
		return nil
	}
	if entity := L.OptString(idx+1, ""); entity != "" {
		conds = condition.AddEntityToConditions(conds, entity)
	}
	return conds
}

// evaluate(conditions, entity_id) - checks a condition list against live state
func (m *DashModule) evaluate(L *lua.LState) int {
	conds := checkConditions(L, 1)
	L.Push(lua.LBool(m.board.Evaluate(conds)))
	return 1
}

// validate(conditions, entity_id) - returns ok and a list of problems
func (m *DashModule) validate(L *lua.LState) int {
	conds := checkConditions(L, 1)
	problems := L.NewTable()
	for _, p := range condition.Lint(conds) {
		problems.Append(lua.LString(p.Error()))
	}
	L.Push(lua.LBool(problems.Len() == 0))
	L.Push(problems)
	return 2
}

func (m *DashModule) visible(L *lua.LState) int {
	L.Push(lua.LBool(m.board.Visible(L.CheckString(1))))
	return 1
}

func (m *DashModule) user(L *lua.LState) int {
	L.Push(lua.LString(m.board.User()))
	return 1
}

func (m *DashModule) setUser(L *lua.LState) int {
	ctx := L.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	if err := m.board.SetUser(ctx, L.CheckString(1)); err != nil {
		L.RaiseError("set_user: %v", err)
	}
	return 0
}

func (m *DashModule) viewport(L *lua.LState) int {
	v := m.board.Viewport()
	tbl := L.NewTable()
	L.SetField(tbl, "width", lua.LNumber(v.Width))
	L.SetField(tbl, "height", lua.LNumber(v.Height))
	L.SetField(tbl, "color_scheme", lua.LString(v.ColorScheme))
	L.SetField(tbl, "hover", lua.LBool(v.Hover))
	L.SetField(tbl, "orientation", lua.LString(v.Orientation()))
	L.Push(tbl)
	return 1
}

// HasHooks reports whether any hook was registered.
func (m *DashModule) HasHooks() bool {
	return len(m.visibility) > 0 || len(m.reload) > 0
}

// DispatchVisibility calls the hooks registered for the element and the
// wildcard hooks. Must run on the Lua goroutine.
func (m *DashModule) DispatchVisibility(L *lua.LState, elementID string, visible bool, reason string) {
	hooks := append(append([]*lua.LFunction{}, m.visibility[elementID]...), m.visibility[anyElement]...)
	for _, fn := range hooks {
		err := L.CallByParam(lua.P{Fn: fn, NRet: 0, Protect: true},
			lua.LString(elementID), lua.LBool(visible), lua.LString(reason))
		if err != nil {
			log.Error().Err(err).Str("element_id", elementID).Msg("Visibility hook failed")
		}
	}
}

// DispatchReload calls the reload hooks. Must run on the Lua goroutine.
func (m *DashModule) DispatchReload(L *lua.LState, info map[string]any) {
	for _, fn := range m.reload {
		if err := L.CallByParam(lua.P{Fn: fn, NRet: 0, Protect: true}, MapToLuaTable(L, info)); err != nil {
			log.Error().Err(err).Msg("Reload hook failed")
		}
	}
}
