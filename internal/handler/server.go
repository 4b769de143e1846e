package handler

import (
	"context"
	"fmt"
	"runtime"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/mnorrsken/memkeys/internal/resp"
	"github.com/mnorrsken/memkeys/internal/storage"
)

// ============== Connection Commands ==============

func (h *Handler) pingOp(ctx context.Context, ops storage.Operations, args []string) resp.Value {
	return h.pingDirect(ctx, nil, args)
}

func (h *Handler) pingDirect(ctx context.Context, s *Session, args []string) resp.Value {
	if len(args) > 1 {
		return resp.ErrWrongArgs("ping")
	}
	if s != nil && s.Proto() == 2 && s.InPubSubMode(h.hub) {
		msg := ""
		if len(args) == 1 {
			msg = args[0]
		}
		return resp.Arr(resp.Bulk("pong"), resp.Bulk(msg))
	}
	if len(args) == 0 {
		return resp.Simple("PONG")
	}
	return resp.Bulk(args[0])
}

func (h *Handler) echoOp(ctx context.Context, ops storage.Operations, args []string) resp.Value {
	return resp.Bulk(args[0])
}

func (h *Handler) quitCmd(ctx context.Context, s *Session, args []string) resp.Value {
	s.mu.Lock()
	s.closing = true
	s.mu.Unlock()
	return resp.OK()
}

var errWrongPass = resp.ErrRaw("WRONGPASS invalid username-password pair or user is disabled.")

func (h *Handler) authCmd(ctx context.Context, s *Session, args []string) resp.Value {
	if len(args) > 2 {
		return resp.ErrSyntax()
	}
	if !h.RequiresAuth() {
		return resp.Err("AUTH <password> called without any password configured for the default user. Are you sure your configuration is correct?")
	}
	password := args[len(args)-1]
	if len(args) == 2 && args[0] != "default" {
		return errWrongPass
	}
	if !h.CheckAuth(password) {
		return errWrongPass
	}
	s.setAuthenticated()
	return resp.OK()
}

func (h *Handler) helloCmd(ctx context.Context, s *Session, args []string) resp.Value {
	proto := s.Proto()
	if len(args) > 0 {
		v, err := strconv.Atoi(args[0])
		if err != nil {
			return resp.Err("Protocol version is not an integer or out of range")
		}
		if v < 2 || v > 3 {
			return resp.ErrRaw("NOPROTO unsupported protocol version")
		}
		proto = v
	}

	authed := false
	name, setName := "", false
	for i := 1; i < len(args); i++ {
		switch strings.ToUpper(args[i]) {
		case "AUTH":
			if i+2 >= len(args) {
				return resp.ErrSyntax()
			}
			if h.RequiresAuth() && (args[i+1] != "default" || !h.CheckAuth(args[i+2])) {
				return errWrongPass
			}
			authed = true
			i += 2
		case "SETNAME":
			if i+1 >= len(args) {
				return resp.ErrSyntax()
			}
			name, setName = args[i+1], true
			i++
		default:
			return resp.Err(fmt.Sprintf("Syntax error in HELLO option '%s'", args[i]))
		}
	}

	if authed {
		s.setAuthenticated()
	}
	if h.RequiresAuth() && !s.Authenticated() {
		return resp.ErrRaw("NOAUTH HELLO must be called with the client already authenticated, otherwise the HELLO <proto> AUTH <user> <pass> option can be used to authenticate the client and select the RESP protocol version at the same time")
	}
	if setName {
		s.SetName(name)
	}
	s.setProto(proto)

	return resp.MapVal(
		resp.Bulk("server"), resp.Bulk("memkeys"),
		resp.Bulk("version"), resp.Bulk(Version),
		resp.Bulk("proto"), resp.Int(int64(proto)),
		resp.Bulk("id"), resp.Int(int64(s.ID)),
		resp.Bulk("mode"), resp.Bulk("standalone"),
		resp.Bulk("role"), resp.Bulk("master"),
		resp.Bulk("modules"), resp.Arr(),
	)
}

func (h *Handler) selectOp(ctx context.Context, ops storage.Operations, args []string) resp.Value {
	n, ok := parseInt(args[0])
	if !ok {
		return errNotInteger
	}
	if n != 0 {
		return resp.Err("DB index is out of range")
	}
	return resp.OK()
}

func (h *Handler) clientCmd(ctx context.Context, s *Session, args []string) resp.Value {
	sub := strings.ToUpper(args[0])
	args = args[1:]

	switch sub {
	case "ID":
		return resp.Int(int64(s.GetID()))

	case "GETNAME":
		name := s.GetName()
		if name == "" {
			return resp.NullBulk()
		}
		return resp.Bulk(name)

	case "SETNAME":
		if len(args) != 1 {
			return resp.ErrWrongArgs("client|setname")
		}
		if strings.ContainsAny(args[0], " \n") {
			return resp.Err("Client names cannot contain spaces, newlines or special characters.")
		}
		s.SetName(args[0])
		return resp.OK()

	case "SETINFO":
		if len(args) != 2 {
			return resp.ErrWrongArgs("client|setinfo")
		}
		switch strings.ToUpper(args[0]) {
		case "LIB-NAME":
			s.SetLibInfo(args[1], "")
		case "LIB-VER":
			s.SetLibInfo("", args[1])
		default:
			return resp.Err("Unrecognized option '" + args[0] + "'")
		}
		return resp.OK()

	case "INFO":
		return resp.Bulk(s.GetInfo() + "\n")

	case "LIST":
		return resp.Bulk(s.GetInfo() + "\n")

	case "TRACKINGINFO":
		return resp.Arr()

	case "GETREDIR":
		return resp.Int(-1)

	case "CACHING", "REPLY", "PAUSE", "UNPAUSE", "NO-EVICT", "NO-TOUCH":
		return resp.OK()
	}
	return resp.Err(fmt.Sprintf("unknown subcommand '%s'. Try CLIENT HELP.", strings.ToLower(sub)))
}

// ============== Server Commands ==============

func commandEntry(spec *commandSpec) resp.Value {
	var flags []resp.Value
	if spec.has(flagWrite) {
		flags = append(flags, resp.Simple("write"))
	}
	if spec.has(flagReadOnly) {
		flags = append(flags, resp.Simple("readonly"))
	}
	if spec.has(flagBlocking) {
		flags = append(flags, resp.Simple("blocking"))
	}
	if spec.has(flagPubSub) {
		flags = append(flags, resp.Simple("pubsub"))
	}
	if spec.has(flagNoScript) {
		flags = append(flags, resp.Simple("noscript"))
	}
	first, last, step := int64(0), int64(0), int64(0)
	if spec.has(flagWrite) || spec.has(flagReadOnly) {
		first, last, step = 1, 1, 1
	}
	return resp.Arr(
		resp.Bulk(spec.name),
		resp.Int(int64(spec.arity)),
		resp.Arr(flags...),
		resp.Int(first),
		resp.Int(last),
		resp.Int(step),
	)
}

func (h *Handler) commandOp(ctx context.Context, ops storage.Operations, args []string) resp.Value {
	if len(args) == 0 {
		out := make([]resp.Value, 0, numCommands)
		for i := range commandTable {
			out = append(out, commandEntry(&commandTable[i]))
		}
		return resp.Arr(out...)
	}

	switch strings.ToUpper(args[0]) {
	case "COUNT":
		return resp.Int(int64(numCommands))
	case "LIST":
		names := make([]string, 0, numCommands)
		for i := range commandTable {
			names = append(names, commandTable[i].name)
		}
		sort.Strings(names)
		return resp.BulkArr(names)
	case "INFO":
		out := make([]resp.Value, len(args)-1)
		for i, name := range args[1:] {
			c, ok := Lookup(name)
			if !ok {
				out[i] = resp.NullArray()
				continue
			}
			out[i] = commandEntry(&commandTable[c])
		}
		return resp.Arr(out...)
	case "DOCS":
		return resp.MapVal()
	}
	return resp.Err(fmt.Sprintf("unknown subcommand '%s'. Try COMMAND HELP.", strings.ToLower(args[0])))
}

func (h *Handler) infoOp(ctx context.Context, ops storage.Operations, args []string) resp.Value {
	uptime := time.Since(h.startTime)
	dbSize, _ := ops.DBSize(ctx)

	section := "all"
	if len(args) > 0 {
		section = strings.ToLower(args[0])
	}
	want := func(name string) bool {
		return section == "all" || section == "default" || section == "everything" || section == name
	}

	var b strings.Builder
	if want("server") {
		fmt.Fprintf(&b, "# Server\r\nredis_version:7.2.0\r\nmemkeys_version:%s\r\nredis_mode:standalone\r\nos:%s\r\narch_bits:64\r\nrun_id:%s\r\nuptime_in_seconds:%d\r\nuptime_in_days:%d\r\n\r\n",
			Version, runtime.GOOS+" "+runtime.GOARCH, h.runID, int64(uptime.Seconds()), int64(uptime.Hours()/24))
	}
	if want("clients") {
		fmt.Fprintf(&b, "# Clients\r\nblocked_clients:%d\r\npubsub_patterns:%d\r\n\r\n", h.notifier.Blocked(), h.hub.NumPat())
	}
	if want("replication") {
		b.WriteString("# Replication\r\nrole:master\r\nconnected_slaves:0\r\n\r\n")
	}
	if want("keyspace") {
		b.WriteString("# Keyspace\r\n")
		if dbSize > 0 {
			fmt.Fprintf(&b, "db0:keys=%d,expires=0,avg_ttl=0\r\n", dbSize)
		}
	}
	return resp.Bulk(b.String())
}

func (h *Handler) timeOp(ctx context.Context, ops storage.Operations, args []string) resp.Value {
	now := h.store.Now()
	return resp.BulkArr([]string{
		strconv.FormatInt(now.Unix(), 10),
		strconv.FormatInt(int64(now.Nanosecond()/1000), 10),
	})
}

func (h *Handler) dbsizeOp(ctx context.Context, ops storage.Operations, args []string) resp.Value {
	size, err := ops.DBSize(ctx)
	if err != nil {
		return errorReply(err)
	}
	return resp.Int(size)
}

func (h *Handler) flushdbOp(ctx context.Context, ops storage.Operations, args []string) resp.Value {
	if len(args) > 1 {
		return resp.ErrSyntax()
	}
	if len(args) == 1 {
		switch strings.ToUpper(args[0]) {
		case "ASYNC", "SYNC":
		default:
			return resp.ErrSyntax()
		}
	}
	if err := ops.FlushDB(ctx); err != nil {
		return errorReply(err)
	}
	return resp.OK()
}

// clusterOp answers the CLUSTER queries clients send. This is a standalone
// server, not a cluster.
func (h *Handler) clusterOp(ctx context.Context, ops storage.Operations, args []string) resp.Value {
	switch strings.ToUpper(args[0]) {
	case "INFO":
		return resp.Bulk("cluster_state:fail\r\ncluster_slots_assigned:0\r\ncluster_slots_ok:0\r\ncluster_slots_pfail:0\r\ncluster_slots_fail:0\r\ncluster_known_nodes:1\r\ncluster_size:0\r\ncluster_current_epoch:0\r\ncluster_my_epoch:0\r\n")
	case "SLOTS", "SHARDS":
		return resp.Arr()
	case "NODES":
		return resp.Bulk("")
	case "MYID":
		return resp.Bulk(h.runID)
	case "KEYSLOT":
		return resp.Int(0)
	}
	return resp.Err("This instance has cluster support disabled")
}

// memoryOp implements MEMORY USAGE with a rough per-element estimate.
func (h *Handler) memoryOp(ctx context.Context, ops storage.Operations, args []string) resp.Value {
	if !strings.EqualFold(args[0], "USAGE") {
		return resp.Err(fmt.Sprintf("unknown subcommand '%s'. Try MEMORY HELP.", strings.ToLower(args[0])))
	}
	if len(args) < 2 {
		return resp.ErrWrongArgs("memory|usage")
	}
	key := args[1]
	kt, err := ops.Type(ctx, key)
	if err != nil {
		return errorReply(err)
	}

	const (
		keyOverhead  = 56
		elemOverhead = 24
	)
	var n int64
	switch kt {
	case storage.TypeNone:
		return resp.NullBulk()
	case storage.TypeString:
		n, err = ops.StrLen(ctx, key)
	case storage.TypeHyperLogLog:
		n = 12 * 1024
	case storage.TypeList:
		n, err = ops.LLen(ctx, key)
		n *= elemOverhead
	case storage.TypeSet:
		n, err = ops.SCard(ctx, key)
		n *= elemOverhead
	case storage.TypeHash:
		n, err = ops.HLen(ctx, key)
		n *= 2 * elemOverhead
	case storage.TypeZSet:
		n, err = ops.ZCard(ctx, key)
		n *= 2 * elemOverhead
	case storage.TypeStream:
		n, err = ops.XLen(ctx, key)
		n *= 4 * elemOverhead
	}
	if err != nil {
		return errorReply(err)
	}
	return resp.Int(keyOverhead + int64(len(key)) + n)
}
