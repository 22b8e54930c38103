package tagtransform

import (
	lua "github.com/yuin/gopher-lua"
)

// Script is an optional user-supplied Lua override for node-tag filtering,
// loaded the way internal/flex's Runtime loads its processing callbacks —
// a global function looked up once at construction and called per feature.
// This is a deliberately small surface compared to flex's full custom-table
// output system: §4.B allows "additional user scripts" without specifying
// them, so only the one hook actually useful alongside the style-driven
// classifier (a final veto over filter_node_tags) is exposed.
type Script struct {
	L        *lua.LState
	filterFn lua.LValue
}

// LoadScript compiles a Lua file exposing an optional global function
// "filter_node_tags(tags) -> keep" (a Lua table of string->string and a
// boolean return). A missing function is not an error; FilterNode then
// reports ok=false and the caller falls back to the style-driven rule.
func LoadScript(path string) (*Script, error) {
	L := lua.NewState(lua.Options{SkipOpenLibs: false})
	if err := L.DoFile(path); err != nil {
		L.Close()
		return nil, err
	}
	fn := L.GetGlobal("filter_node_tags")
	return &Script{L: L, filterFn: fn}, nil
}

// Close releases the Lua interpreter.
func (s *Script) Close() {
	if s != nil && s.L != nil {
		s.L.Close()
	}
}

// FilterNode calls the user's filter_node_tags hook, if defined. ok is
// false when no such function was present in the script.
func (s *Script) FilterNode(tags map[string]string) (drop bool, ok bool) {
	if s == nil || s.filterFn == nil || s.filterFn.Type() != lua.LTFunction {
		return false, false
	}

	tbl := s.L.NewTable()
	for k, v := range tags {
		s.L.SetField(tbl, k, lua.LString(v))
	}

	if err := s.L.CallByParam(lua.P{
		Fn:      s.filterFn,
		NRet:    1,
		Protect: true,
	}, tbl); err != nil {
		return false, false
	}

	ret := s.L.Get(-1)
	s.L.Pop(1)
	keep, isBool := ret.(lua.LBool)
	if !isBool {
		return false, false
	}
	return !bool(keep), true
}
