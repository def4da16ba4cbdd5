// Package rules loads optional house rules written in Lua.
//
// A script defines a global function allow_move(move) which receives a table
// {row=, col=, color=, move_count=} and returns true to accept the move or
// false plus a reason to reject it. While allow_move runs, the global
// function cell(row, col) reads the board (0 empty, 1 black, 2 white) and
// board_size holds the edge length.
//
//	function allow_move(move)
//	  if move.move_count == 0 and move.row == 9 and move.col == 9 then
//	    return false, "opening on tengen is not allowed"
//	  end
//	  return true
//	end
package rules

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	lua "github.com/yuin/gopher-lua"

	"github.com/youngZwiebelandtheGemuseBeat/goban/server/internal/game"
)

const (
	entryPoint     = "allow_move"
	defaultTimeout = 100 * time.Millisecond
)

// Globals removed after the base and package libraries open; they reach
// the file system.
var blockedGlobals = []string{"dofile", "loadfile", "require", "module"}

// Policy is a game.MovePolicy backed by one Lua state. Calls are serialized.
type Policy struct {
	mu      sync.Mutex
	state   *lua.LState
	fn      *lua.LFunction
	timeout time.Duration
	board   game.BoardView // set only during CheckMove
}

// Option configures a Policy.
type Option func(*Policy)

// WithTimeout bounds one allow_move call. A script still running at the
// deadline rejects the move.
func WithTimeout(d time.Duration) Option {
	return func(p *Policy) {
		if d > 0 {
			p.timeout = d
		}
	}
}

// LoadFile compiles the script at path.
func LoadFile(path string, opts ...Option) (*Policy, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read rules script: %w", err)
	}
	return New(string(src), opts...)
}

// New compiles source, which must define allow_move.
func New(source string, opts ...Option) (*Policy, error) {
	L := lua.NewState(lua.Options{SkipOpenLibs: true})
	if err := openSafeLibs(L); err != nil {
		L.Close()
		return nil, err
	}

	p := &Policy{state: L, timeout: defaultTimeout}
	for _, opt := range opts {
		opt(p)
	}
	L.SetGlobal("board_size", lua.LNumber(game.Size))
	L.SetGlobal("cell", L.NewFunction(p.luaCell))

	if err := L.DoString(source); err != nil {
		L.Close()
		return nil, fmt.Errorf("load rules script: %w", err)
	}
	fn, ok := L.GetGlobal(entryPoint).(*lua.LFunction)
	if !ok {
		L.Close()
		return nil, fmt.Errorf("rules script must define function %s", entryPoint)
	}
	p.fn = fn
	return p, nil
}

// openSafeLibs opens base, package, table, string and math, then removes
// the loaders that read files. io, os and debug are never opened.
func openSafeLibs(L *lua.LState) error {
	libs := []struct {
		name string
		fn   lua.LGFunction
	}{
		{lua.LoadLibName, lua.OpenPackage},
		{lua.BaseLibName, lua.OpenBase},
		{lua.TabLibName, lua.OpenTable},
		{lua.StringLibName, lua.OpenString},
		{lua.MathLibName, lua.OpenMath},
	}
	for _, lib := range libs {
		if err := L.CallByParam(lua.P{
			Fn:      L.NewFunction(lib.fn),
			NRet:    0,
			Protect: true,
		}, lua.LString(lib.name)); err != nil {
			return fmt.Errorf("open lua %s: %w", lib.name, err)
		}
	}
	for _, name := range blockedGlobals {
		L.SetGlobal(name, lua.LNil)
	}
	if pkg, ok := L.GetGlobal("package").(*lua.LTable); ok {
		pkg.RawSetString("loaders", L.NewTable())
		pkg.RawSetString("loadlib", lua.LNil)
	}
	return nil
}

// CheckMove implements game.MovePolicy.
func (p *Policy) CheckMove(m game.Move, board game.BoardView) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	L := p.state
	p.board = board
	defer func() { p.board = nil }()

	move := L.NewTable()
	move.RawSetString("row", lua.LNumber(m.Row))
	move.RawSetString("col", lua.LNumber(m.Col))
	move.RawSetString("color", lua.LNumber(int(m.Color)))
	move.RawSetString("move_count", lua.LNumber(m.MoveCount))

	ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
	defer cancel()
	L.SetContext(ctx)
	defer L.RemoveContext()

	if err := L.CallByParam(lua.P{Fn: p.fn, NRet: 2, Protect: true}, move); err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("rules script exceeded %s", p.timeout)
		}
		return fmt.Errorf("rules script: %w", err)
	}
	allowed, reason := L.Get(-2), L.Get(-1)
	L.Pop(2)

	if lua.LVAsBool(allowed) {
		return nil
	}
	if msg := lua.LVAsString(reason); msg != "" {
		return errors.New(msg)
	}
	return errors.New("move not allowed")
}

func (p *Policy) luaCell(L *lua.LState) int {
	row, col := L.CheckInt(1), L.CheckInt(2)
	if p.board == nil {
		L.RaiseError("cell called outside allow_move")
		return 0
	}
	color, err := p.board.Get(row, col)
	if err != nil {
		L.Push(lua.LNil)
		return 1
	}
	L.Push(lua.LNumber(int(color)))
	return 1
}

// Close releases the Lua state.
func (p *Policy) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.state.Close()
}
