package handler

// Lua scripting: EVAL, EVALSHA and SCRIPT.

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"

	lua "github.com/yuin/gopher-lua"

	"github.com/mnorrsken/memkeys/internal/resp"
	"github.com/mnorrsken/memkeys/internal/storage"
)

// ScriptCache holds loaded Lua scripts indexed by SHA1
type ScriptCache struct {
	mu      sync.RWMutex
	scripts map[string]string // SHA1 -> script source
}

// NewScriptCache creates an empty script cache.
func NewScriptCache() *ScriptCache {
	return &ScriptCache{scripts: make(map[string]string)}
}

func scriptSHA1(script string) string {
	sum := sha1.Sum([]byte(script))
	return hex.EncodeToString(sum[:])
}

// Get retrieves a script by SHA1
func (sc *ScriptCache) Get(sha string) (string, bool) {
	sc.mu.RLock()
	defer sc.mu.RUnlock()
	script, ok := sc.scripts[strings.ToLower(sha)]
	return script, ok
}

// Store caches a script and returns its SHA1
func (sc *ScriptCache) Store(script string) string {
	sha := scriptSHA1(script)
	sc.mu.Lock()
	defer sc.mu.Unlock()
	sc.scripts[sha] = script
	return sha
}

// Exists reports for each SHA1 whether the script is loaded.
func (sc *ScriptCache) Exists(shas []string) []bool {
	sc.mu.RLock()
	defer sc.mu.RUnlock()
	results := make([]bool, len(shas))
	for i, sha := range shas {
		_, results[i] = sc.scripts[strings.ToLower(sha)]
	}
	return results
}

// Flush clears all cached scripts
func (sc *ScriptCache) Flush() {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	sc.scripts = make(map[string]string)
}

// scriptKeys splits the arguments of EVAL / EVALSHA (script numkeys
// key... arg...) into KEYS and ARGV.
func scriptKeys(args []string) ([]string, []string, error) {
	if len(args) < 2 {
		return nil, nil, fmt.Errorf("wrong number of arguments")
	}
	n, err := strconv.Atoi(args[1])
	if err != nil {
		return nil, nil, fmt.Errorf("value is not an integer or out of range")
	}
	if n < 0 {
		return nil, nil, fmt.Errorf("Number of keys can't be negative")
	}
	if n > len(args)-2 {
		return nil, nil, fmt.Errorf("Number of keys can't be greater than number of args")
	}
	return args[2 : 2+n], args[2+n:], nil
}

// luaExecutor runs one script against a locked store view.
type luaExecutor struct {
	ctx  context.Context
	h    *Handler
	ops  storage.Operations
	keys []string
	argv []string
}

func newLuaExecutor(ctx context.Context, h *Handler, ops storage.Operations, keys, argv []string) *luaExecutor {
	return &luaExecutor{ctx: ctx, h: h, ops: ops, keys: keys, argv: argv}
}

// Execute runs a Lua script and returns its converted result.
func (le *luaExecutor) Execute(script string) resp.Value {
	L := lua.NewState()
	defer L.Close()
	L.SetContext(le.ctx)

	redisTable := L.NewTable()
	L.SetField(redisTable, "call", L.NewFunction(le.redisCall))
	L.SetField(redisTable, "pcall", L.NewFunction(le.redisPCall))
	L.SetField(redisTable, "error_reply", L.NewFunction(redisErrorReply))
	L.SetField(redisTable, "status_reply", L.NewFunction(redisStatusReply))
	L.SetField(redisTable, "log", L.NewFunction(le.redisLog))
	L.SetField(redisTable, "sha1hex", L.NewFunction(redisSha1Hex))
	L.SetGlobal("redis", redisTable)

	keysTable := L.NewTable()
	for i, k := range le.keys {
		L.RawSetInt(keysTable, i+1, lua.LString(k))
	}
	L.SetGlobal("KEYS", keysTable)

	argvTable := L.NewTable()
	for i, a := range le.argv {
		L.RawSetInt(argvTable, i+1, lua.LString(a))
	}
	L.SetGlobal("ARGV", argvTable)

	fn, err := L.LoadString(script)
	if err != nil {
		return resp.Err("Error compiling script: " + err.Error())
	}
	L.Push(fn)
	if err := L.PCall(0, 1, nil); err != nil {
		// an uncaught error table, raised by redis.call or by the script,
		// is the reply
		var apiErr *lua.ApiError
		if errors.As(err, &apiErr) {
			if reply := luaToResp(apiErr.Object); reply.IsError() {
				return reply
			}
		}
		return resp.Err("Error running script: " + err.Error())
	}

	result := L.Get(-1)
	L.Pop(1)
	return luaToResp(result)
}

// redisCall implements redis.call(): an error reply raises its {err=...}
// table as a Lua error.
func (le *luaExecutor) redisCall(L *lua.LState) int {
	result := le.executeRedisCommand(L)
	if result.IsError() {
		L.Error(respToLua(L, result), 1)
		return 0
	}
	L.Push(respToLua(L, result))
	return 1
}

// redisPCall implements redis.pcall(): an error reply is returned as a table.
func (le *luaExecutor) redisPCall(L *lua.LState) int {
	result := le.executeRedisCommand(L)
	L.Push(respToLua(L, result))
	return 1
}

func redisErrorReply(L *lua.LState) int {
	t := L.NewTable()
	L.SetField(t, "err", lua.LString(L.CheckString(1)))
	L.Push(t)
	return 1
}

func redisStatusReply(L *lua.LState) int {
	t := L.NewTable()
	L.SetField(t, "ok", lua.LString(L.CheckString(1)))
	L.Push(t)
	return 1
}

// redisLog implements redis.log(level, message...).
func (le *luaExecutor) redisLog(L *lua.LState) int {
	parts := make([]string, 0, L.GetTop())
	for i := 2; i <= L.GetTop(); i++ {
		parts = append(parts, luaToString(L.Get(i)))
	}
	le.h.logger.Debug("script log", "message", strings.Join(parts, " "))
	return 0
}

func redisSha1Hex(L *lua.LState) int {
	L.Push(lua.LString(scriptSHA1(L.CheckString(1))))
	return 1
}

func (le *luaExecutor) executeRedisCommand(L *lua.LState) resp.Value {
	nargs := L.GetTop()
	if nargs == 0 {
		return resp.Err("Please specify at least one argument for this redis lib call")
	}
	name := luaToString(L.Get(1))
	args := make([]string, nargs-1)
	for i := 2; i <= nargs; i++ {
		args[i-2] = luaToString(L.Get(i))
	}

	c, ok := Lookup(name)
	if !ok {
		return resp.Err("Unknown Redis command called from script")
	}
	spec := &commandTable[c]
	if spec.has(flagNoScript) || spec.op == nil {
		return resp.Err("This Redis command is not allowed from script")
	}
	return le.h.call(le.ctx, le.ops, name, args)
}

func luaToString(v lua.LValue) string {
	switch val := v.(type) {
	case lua.LString:
		return string(val)
	case lua.LNumber:
		f := float64(val)
		if f == float64(int64(f)) {
			return strconv.FormatInt(int64(f), 10)
		}
		return strconv.FormatFloat(f, 'f', -1, 64)
	case lua.LBool:
		if val {
			return "1"
		}
		return "0"
	case *lua.LNilType:
		return ""
	default:
		return v.String()
	}
}

// respToLua converts a command reply the way Redis hands it to a script:
// nulls become false, status and error replies become {ok=...}/{err=...}.
func respToLua(L *lua.LState, v resp.Value) lua.LValue {
	switch v.Type {
	case resp.SimpleString:
		t := L.NewTable()
		L.SetField(t, "ok", lua.LString(v.Str))
		return t
	case resp.Error:
		t := L.NewTable()
		L.SetField(t, "err", lua.LString(v.Str))
		return t
	case resp.Integer:
		return lua.LNumber(v.Num)
	case resp.Boolean:
		if v.Num != 0 {
			return lua.LNumber(1)
		}
		return lua.LNumber(0)
	case resp.Double:
		return lua.LString(storage.FormatFloat(v.Dbl))
	case resp.BulkString:
		if v.Null {
			return lua.LFalse
		}
		return lua.LString(v.Bulk)
	case resp.Array, resp.Map, resp.Set, resp.Push:
		if v.Null {
			return lua.LFalse
		}
		t := L.NewTable()
		for i, item := range v.Array {
			L.RawSetInt(t, i+1, respToLua(L, item))
		}
		return t
	}
	return lua.LFalse
}

// luaToResp converts a script's return value. Numbers are truncated to
// integers and a table stops at its first nil.
func luaToResp(v lua.LValue) resp.Value {
	switch val := v.(type) {
	case lua.LString:
		return resp.Bulk(string(val))
	case lua.LNumber:
		return resp.Int(int64(val))
	case lua.LBool:
		if val {
			return resp.Int(1)
		}
		return resp.NullBulk()
	case *lua.LTable:
		if e := val.RawGetString("err"); e != lua.LNil {
			return resp.ErrRaw(luaToString(e))
		}
		if ok := val.RawGetString("ok"); ok != lua.LNil {
			return resp.Simple(luaToString(ok))
		}
		out := make([]resp.Value, 0, val.Len())
		for i := 1; ; i++ {
			item := val.RawGetInt(i)
			if item == lua.LNil {
				break
			}
			out = append(out, luaToResp(item))
		}
		return resp.Arr(out...)
	}
	return resp.NullBulk()
}

// ============== EVAL/EVALSHA/SCRIPT Command Handlers ==============

func (h *Handler) runScript(ctx context.Context, ops storage.Operations, script string, args []string) resp.Value {
	keys, argv, err := scriptKeys(args)
	if err != nil {
		return resp.Err(err.Error())
	}
	return newLuaExecutor(ctx, h, ops, keys, argv).Execute(script)
}

func (h *Handler) evalOp(ctx context.Context, ops storage.Operations, args []string) resp.Value {
	h.scripts.Store(args[0])
	return h.runScript(ctx, ops, args[0], args)
}

func (h *Handler) evalshaOp(ctx context.Context, ops storage.Operations, args []string) resp.Value {
	script, ok := h.scripts.Get(args[0])
	if !ok {
		return resp.ErrRaw("NOSCRIPT No matching script. Please use EVAL.")
	}
	return h.runScript(ctx, ops, script, args)
}

func (h *Handler) scriptOp(ctx context.Context, ops storage.Operations, args []string) resp.Value {
	sub := strings.ToUpper(args[0])
	args = args[1:]

	switch sub {
	case "LOAD":
		if len(args) != 1 {
			return resp.ErrWrongArgs("script|load")
		}
		return resp.Bulk(h.scripts.Store(args[0]))

	case "EXISTS":
		if len(args) == 0 {
			return resp.ErrWrongArgs("script|exists")
		}
		found := h.scripts.Exists(args)
		out := make([]resp.Value, len(found))
		for i, ok := range found {
			out[i] = boolInt(ok)
		}
		return resp.Arr(out...)

	case "FLUSH":
		if len(args) > 1 {
			return resp.ErrSyntax()
		}
		h.scripts.Flush()
		return resp.OK()

	case "KILL":
		return resp.ErrRaw("NOTBUSY No scripts in execution right now.")
	}
	return resp.Err(fmt.Sprintf("unknown subcommand '%s'. Try SCRIPT HELP.", strings.ToLower(sub)))
}
