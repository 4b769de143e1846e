package handler

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/mnorrsken/memkeys/internal/resp"
	"github.com/mnorrsken/memkeys/internal/storage"
)

func newTestHandler(password string) *Handler {
	return New(storage.NewStore(), Options{Password: password})
}

// send runs one command on a session, the way the server does.
func send(h *Handler, s *Session, args ...string) resp.Value {
	replies := h.Handle(context.Background(), s, resp.BulkArr(args))
	if len(replies) != 1 {
		panic(fmt.Sprintf("%s: expected one reply, got %d", args[0], len(replies)))
	}
	return replies[0]
}

func TestCommandTableComplete(t *testing.T) {
	seen := make(map[string]Command)
	for i := range commandTable {
		spec := &commandTable[i]
		if spec.name == "" {
			t.Errorf("command %d has no name", i)
			continue
		}
		if spec.name != strings.ToLower(spec.name) {
			t.Errorf("command %q is not lower case", spec.name)
		}
		if prev, dup := seen[spec.name]; dup {
			t.Errorf("command %q registered twice (%d and %d)", spec.name, prev, i)
		}
		seen[spec.name] = Command(i)
		if spec.arity == 0 {
			t.Errorf("command %q has zero arity", spec.name)
		}
		if spec.op == nil && spec.direct == nil && spec.multi == nil {
			t.Errorf("command %q has no handler", spec.name)
		}
	}
	if len(commandIndex) != int(numCommands) {
		t.Errorf("index has %d names, table has %d slots", len(commandIndex), numCommands)
	}
}

func TestLookupIgnoresCase(t *testing.T) {
	for _, name := range []string{"get", "GET", "GeT"} {
		c, ok := Lookup(name)
		if !ok || c != CmdGet {
			t.Errorf("Lookup(%q) = %v, %v", name, c, ok)
		}
	}
	if _, ok := Lookup("nosuchcommand"); ok {
		t.Error("Lookup of an unknown name succeeded")
	}
	if CmdGet.String() != "get" {
		t.Errorf("CmdGet.String() = %q", CmdGet.String())
	}
}

func TestExecuteErrors(t *testing.T) {
	h := newTestHandler("")
	ctx := context.Background()
	h.Execute(ctx, "SET", "str", "abc")
	h.Execute(ctx, "LPUSH", "list", "a")

	tests := []struct {
		name string
		args []string
		want string
	}{
		{"unknown", []string{"FOO", "a"}, "ERR unknown command 'FOO', with args beginning with: 'a' "},
		{"arity", []string{"GET"}, "ERR wrong number of arguments for 'get' command"},
		{"not integer", []string{"INCR", "str"}, "ERR value is not an integer or out of range"},
		{"bad expire", []string{"EXPIRE", "str", "soon"}, "ERR value is not an integer or out of range"},
		{"wrong type", []string{"GET", "list"}, storage.ErrWrongType.Error()},
		{"syntax", []string{"SET", "k", "v", "BOGUS"}, "ERR syntax error"},
		{"bad unit", []string{"GEODIST", "geo", "a", "b", "yards"}, "ERR unsupported unit provided. please use M, KM, FT, MI"},
		{"bad coordinates", []string{"GEOADD", "geo", "10", "10", "ok", "10", "89", "pole"}, "ERR invalid longitude,latitude pair 10.000000,89.000000"},
		{"connection only", []string{"MULTI"}, "ERR 'multi' command requires a client connection"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := h.Execute(ctx, tt.args[0], tt.args[1:]...)
			if !got.IsError() || got.Str != tt.want {
				t.Errorf("got %+v, want error %q", got, tt.want)
			}
		})
	}

	if v := h.Execute(ctx, "LRANGE", "list", "0", "-1"); len(v.Array) != 1 {
		t.Errorf("list changed after WRONGTYPE: %+v", v)
	}
}

func TestErrorReply(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{storage.ErrWrongType, "WRONGTYPE Operation against a key holding the wrong kind of value"},
		{storage.ErrNotInteger, "ERR value is not an integer or out of range"},
		{storage.ErrBusyGroup, "BUSYGROUP Consumer Group name already exists"},
		{&storage.NoGroupError{Key: "s", Group: "g"}, "NOGROUP No such key 's' or consumer group 'g'"},
		{fmt.Errorf("xadd: %w", storage.ErrStreamIDTooSmall), "ERR xadd: " + storage.ErrStreamIDTooSmall.Error()},
		{context.Canceled, "ERR operation interrupted: context canceled"},
	}
	for _, tt := range tests {
		if got := errorReply(tt.err); got.Str != tt.want {
			t.Errorf("errorReply(%v) = %q, want %q", tt.err, got.Str, tt.want)
		}
	}
}

func TestAuth(t *testing.T) {
	h := newTestHandler("secret")
	s := NewSession("test")

	if got := send(h, s, "GET", "k"); got.Str != "NOAUTH Authentication required." {
		t.Errorf("GET before AUTH: %+v", got)
	}
	if got := send(h, s, "PING"); got.Str != "PONG" {
		t.Errorf("PING before AUTH: %+v", got)
	}
	if got := send(h, s, "AUTH", "wrong"); !strings.HasPrefix(got.Str, "WRONGPASS") {
		t.Errorf("AUTH wrong: %+v", got)
	}
	if got := send(h, s, "AUTH", "secret"); got.Str != "OK" {
		t.Errorf("AUTH: %+v", got)
	}
	if got := send(h, s, "GET", "k"); got.IsError() {
		t.Errorf("GET after AUTH: %+v", got)
	}
}

func TestHello(t *testing.T) {
	h := newTestHandler("")
	s := NewSession("test")

	got := send(h, s, "HELLO", "3", "SETNAME", "worker")
	if got.Type != resp.Map {
		t.Fatalf("HELLO 3: %+v", got)
	}
	if s.Proto() != 3 || s.GetName() != "worker" {
		t.Errorf("proto=%d name=%q", s.Proto(), s.GetName())
	}
	if got := send(h, s, "HELLO", "4"); !strings.HasPrefix(got.Str, "NOPROTO") {
		t.Errorf("HELLO 4: %+v", got)
	}
	if s.Proto() != 3 {
		t.Errorf("failed HELLO changed protocol to %d", s.Proto())
	}
}

func TestMultiExec(t *testing.T) {
	h := newTestHandler("")
	s := NewSession("test")

	steps := []struct {
		args []string
		want string
	}{
		{[]string{"MULTI"}, "OK"},
		{[]string{"SET", "a", "1"}, "QUEUED"},
		{[]string{"INCRBY", "a", "41"}, "QUEUED"},
		{[]string{"LPUSH", "a", "x"}, "QUEUED"},
	}
	for _, st := range steps {
		if got := send(h, s, st.args...); got.Str != st.want {
			t.Fatalf("%v: got %+v, want %s", st.args, got, st.want)
		}
	}
	if got := send(h, s, "MULTI"); got.Str != "ERR MULTI calls can not be nested" {
		t.Errorf("nested MULTI: %+v", got)
	}

	got := send(h, s, "EXEC")
	if got.Type != resp.Array || len(got.Array) != 3 {
		t.Fatalf("EXEC: %+v", got)
	}
	if got.Array[1].Num != 42 {
		t.Errorf("INCRBY reply: %+v", got.Array[1])
	}
	// a runtime error stays in its slot
	if got.Array[2].Str != storage.ErrWrongType.Error() {
		t.Errorf("LPUSH reply: %+v", got.Array[2])
	}
	if got := send(h, s, "EXEC"); got.Str != "ERR EXEC without MULTI" {
		t.Errorf("second EXEC: %+v", got)
	}
}

func TestExecAbortAfterQueueError(t *testing.T) {
	h := newTestHandler("")
	s := NewSession("test")

	send(h, s, "MULTI")
	send(h, s, "SET", "k", "v")
	if got := send(h, s, "SET", "k"); !got.IsError() {
		t.Errorf("arity error not reported while queuing: %+v", got)
	}
	if got := send(h, s, "NOSUCH"); !got.IsError() {
		t.Errorf("unknown command not reported while queuing: %+v", got)
	}
	got := send(h, s, "EXEC")
	if got.Str != "EXECABORT Transaction discarded because of previous errors." {
		t.Errorf("EXEC: %+v", got)
	}
	if v := h.Execute(context.Background(), "EXISTS", "k"); v.Num != 0 {
		t.Error("aborted transaction applied a command")
	}
}

func TestWatch(t *testing.T) {
	ctx := context.Background()

	t.Run("conflict", func(t *testing.T) {
		h := newTestHandler("")
		s := NewSession("test")
		h.Execute(ctx, "SET", "k", "1")

		send(h, s, "WATCH", "k")
		h.Execute(ctx, "SET", "k", "2")
		send(h, s, "MULTI")
		send(h, s, "SET", "k", "3")
		got := send(h, s, "EXEC")
		if got.Type != resp.Array || !got.Null {
			t.Fatalf("EXEC after conflict: %+v", got)
		}
		if v := h.Execute(ctx, "GET", "k"); v.Bulk != "2" {
			t.Errorf("k = %q, want 2", v.Bulk)
		}
	})

	t.Run("delete counts as a change", func(t *testing.T) {
		h := newTestHandler("")
		s := NewSession("test")
		h.Execute(ctx, "SET", "k", "1")

		send(h, s, "WATCH", "k")
		h.Execute(ctx, "DEL", "k")
		send(h, s, "MULTI")
		send(h, s, "SET", "k", "3")
		if got := send(h, s, "EXEC"); !got.Null {
			t.Errorf("EXEC after delete: %+v", got)
		}
	})

	t.Run("unwatch", func(t *testing.T) {
		h := newTestHandler("")
		s := NewSession("test")

		send(h, s, "WATCH", "k")
		h.Execute(ctx, "SET", "k", "2")
		send(h, s, "UNWATCH")
		send(h, s, "MULTI")
		send(h, s, "SET", "k", "3")
		got := send(h, s, "EXEC")
		if got.Null || len(got.Array) != 1 {
			t.Fatalf("EXEC after UNWATCH: %+v", got)
		}
	})

	t.Run("inside multi", func(t *testing.T) {
		h := newTestHandler("")
		s := NewSession("test")
		send(h, s, "MULTI")
		if got := send(h, s, "WATCH", "k"); got.Str != "ERR WATCH inside MULTI is not allowed" {
			t.Errorf("WATCH in MULTI: %+v", got)
		}
	})
}

func TestScriptKeys(t *testing.T) {
	tests := []struct {
		args    []string
		keys    int
		argv    int
		wantErr bool
	}{
		{[]string{"s", "0"}, 0, 0, false},
		{[]string{"s", "2", "a", "b", "c"}, 2, 1, false},
		{[]string{"s", "3", "a"}, 0, 0, true},
		{[]string{"s", "-1"}, 0, 0, true},
		{[]string{"s", "x"}, 0, 0, true},
	}
	for _, tt := range tests {
		keys, argv, err := scriptKeys(tt.args)
		if (err != nil) != tt.wantErr {
			t.Errorf("scriptKeys(%v) error = %v", tt.args, err)
			continue
		}
		if !tt.wantErr && (len(keys) != tt.keys || len(argv) != tt.argv) {
			t.Errorf("scriptKeys(%v) = %v, %v", tt.args, keys, argv)
		}
	}
}

func TestEval(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name   string
		script string
		args   []string
		check  func(resp.Value) bool
	}{
		{
			"integer",
			"return redis.call('INCRBY', KEYS[1], ARGV[1]) * 2",
			[]string{"1", "n", "21"},
			func(v resp.Value) bool { return v.Type == resp.Integer && v.Num == 42 },
		},
		{
			"status",
			"return redis.call('SET', KEYS[1], 'v')",
			[]string{"1", "k"},
			func(v resp.Value) bool { return v.Type == resp.SimpleString && v.Str == "OK" },
		},
		{
			"nil is false",
			"return redis.call('GET', 'missing') == false",
			[]string{"0"},
			func(v resp.Value) bool { return v.Num == 1 },
		},
		{
			"table stops at nil",
			"return {1, 'two', nil, 4}",
			[]string{"0"},
			func(v resp.Value) bool { return len(v.Array) == 2 && v.Array[1].Bulk == "two" },
		},
		{
			"call error propagates",
			"redis.call('LPUSH', 'str', 'x')",
			[]string{"0"},
			func(v resp.Value) bool { return v.Str == storage.ErrWrongType.Error() },
		},
		{
			"pcall catches",
			"local r = redis.pcall('LPUSH', 'str', 'x'); return r['err'] ~= nil",
			[]string{"0"},
			func(v resp.Value) bool { return v.Num == 1 },
		},
		{
			"caught call error then script error",
			"pcall(redis.call, 'LPUSH', 'str', 'x'); error('custom failure')",
			[]string{"0"},
			func(v resp.Value) bool {
				return strings.HasPrefix(v.Str, "ERR Error running script") && strings.Contains(v.Str, "custom failure")
			},
		},
		{
			"caught call error then success",
			"local ok, e = pcall(redis.call, 'LPUSH', 'str', 'x'); return {ok and 1 or 0, e['err']}",
			[]string{"0"},
			func(v resp.Value) bool {
				return len(v.Array) == 2 && v.Array[0].Num == 0 && v.Array[1].Bulk == storage.ErrWrongType.Error()
			},
		},
		{
			"second call error wins",
			"pcall(redis.call, 'LPUSH', 'str', 'x'); redis.call('INCR', 'str')",
			[]string{"0"},
			func(v resp.Value) bool { return v.Str == "ERR value is not an integer or out of range" },
		},
		{
			"error table from script",
			"error({err='MY own failure'})",
			[]string{"0"},
			func(v resp.Value) bool { return v.IsError() && v.Str == "MY own failure" },
		},
		{
			"blocking rejected",
			"return redis.call('BLPOP', 'q', 0)",
			[]string{"0"},
			func(v resp.Value) bool { return v.Str == "ERR This Redis command is not allowed from script" },
		},
		{
			"error_reply",
			"return redis.error_reply('MY failure')",
			[]string{"0"},
			func(v resp.Value) bool { return v.IsError() && v.Str == "MY failure" },
		},
		{
			"compile error",
			"return (",
			[]string{"0"},
			func(v resp.Value) bool { return strings.HasPrefix(v.Str, "ERR Error compiling script") },
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newTestHandler("")
			h.Execute(ctx, "SET", "str", "abc")
			got := h.Execute(ctx, "EVAL", append([]string{tt.script}, tt.args...)...)
			if !tt.check(got) {
				t.Errorf("EVAL %q = %+v", tt.script, got)
			}
		})
	}
}

func TestEvalSHA(t *testing.T) {
	h := newTestHandler("")
	ctx := context.Background()

	if got := h.Execute(ctx, "EVALSHA", scriptSHA1("return 1"), "0"); !strings.HasPrefix(got.Str, "NOSCRIPT") {
		t.Errorf("EVALSHA before LOAD: %+v", got)
	}
	sha := h.Execute(ctx, "SCRIPT", "LOAD", "return ARGV[1]").Bulk
	if sha != scriptSHA1("return ARGV[1]") {
		t.Fatalf("SCRIPT LOAD returned %q", sha)
	}
	if got := h.Execute(ctx, "EVALSHA", sha, "0", "hi"); got.Bulk != "hi" {
		t.Errorf("EVALSHA: %+v", got)
	}
	exists := h.Execute(ctx, "SCRIPT", "EXISTS", sha, "nope")
	if len(exists.Array) != 2 || exists.Array[0].Num != 1 || exists.Array[1].Num != 0 {
		t.Errorf("SCRIPT EXISTS: %+v", exists)
	}
	h.Execute(ctx, "SCRIPT", "FLUSH")
	if got := h.Execute(ctx, "EVALSHA", sha, "0"); !strings.HasPrefix(got.Str, "NOSCRIPT") {
		t.Errorf("EVALSHA after FLUSH: %+v", got)
	}
}
