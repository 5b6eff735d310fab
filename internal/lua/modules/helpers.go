package modules

import (
	"fmt"
	"sort"

	lua "github.com/yuin/gopher-lua"
)

// LuaToGo converts a Lua value to a Go value. Tables with only positive
// integer keys become slices, an empty table becomes an empty slice, and any
// other table becomes a map.
func LuaToGo(v lua.LValue) interface{} {
	switch val := v.(type) {
	case lua.LString:
		return string(val)
	case lua.LNumber:
		return float64(val)
	case lua.LBool:
		return bool(val)
	case *lua.LTable:
		return tableToGo(val)
	case *lua.LNilType:
		return nil
	default:
		return v.String()
	}
}

func tableToGo(t *lua.LTable) interface{} {
	isArray := true
	maxIdx := 0
	count := 0
	t.ForEach(func(k, _ lua.LValue) {
		count++
		num, ok := k.(lua.LNumber)
		if !ok || float64(num) != float64(int(num)) || int(num) < 1 {
			isArray = false
			return
		}
		if int(num) > maxIdx {
			maxIdx = int(num)
		}
	})

	if count == 0 {
		return []interface{}{}
	}
	if isArray {
		arr := make([]interface{}, maxIdx)
		t.ForEach(func(k, v lua.LValue) {
			arr[int(k.(lua.LNumber))-1] = LuaToGo(v)
		})
		return arr
	}

	obj := make(map[string]interface{}, count)
	t.ForEach(func(k, v lua.LValue) {
		obj[lua.LVAsString(k)] = LuaToGo(v)
	})
	return obj
}

// GoToLuaValue converts a Go value to a Lua value
func GoToLuaValue(L *lua.LState, v interface{}) lua.LValue {
	switch val := v.(type) {
	case nil:
		return lua.LNil
	case bool:
		return lua.LBool(val)
	case int:
		return lua.LNumber(val)
	case int64:
		return lua.LNumber(val)
	case float64:
		return lua.LNumber(val)
	case string:
		return lua.LString(val)
	case []string:
		tbl := L.NewTable()
		for i, item := range val {
			tbl.RawSetInt(i+1, lua.LString(item))
		}
		return tbl
	case []interface{}:
		tbl := L.NewTable()
		for i, item := range val {
			tbl.RawSetInt(i+1, GoToLuaValue(L, item))
		}
		return tbl
	case map[string]interface{}:
		return MapToLuaTable(L, val)
	default:
		return lua.LString(fmt.Sprintf("%v", v))
	}
}

// MapToLuaTable converts a Go map to a Lua table. Keys are set in sorted order
// so iteration in scripts is stable.
func MapToLuaTable(L *lua.LState, m map[string]any) *lua.LTable {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	tbl := L.NewTable()
	for _, k := range keys {
		L.SetField(tbl, k, GoToLuaValue(L, m[k]))
	}
	return tbl
}

// LuaTableToMap converts the string-keyed part of a Lua table to a Go map
func LuaTableToMap(tbl *lua.LTable) map[string]any {
	m := make(map[string]any)
	tbl.ForEach(func(k, v lua.LValue) {
		if ks, ok := k.(lua.LString); ok {
			m[string(ks)] = LuaToGo(v)
		}
	})
	return m
}
