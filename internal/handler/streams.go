package handler

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/mnorrsken/memkeys/internal/resp"
	"github.com/mnorrsken/memkeys/internal/storage"
)

// ============== Stream Commands ==============

func entryReply(e storage.StreamEntry) resp.Value {
	if e.Fields == nil {
		return resp.Arr(resp.Bulk(e.ID.String()), resp.NullArray())
	}
	return resp.Arr(resp.Bulk(e.ID.String()), resp.BulkArr(e.Fields))
}

func entriesReply(entries []storage.StreamEntry) resp.Value {
	out := make([]resp.Value, len(entries))
	for i, e := range entries {
		out[i] = entryReply(e)
	}
	return resp.Arr(out...)
}

// streamResultsReply renders XREAD / XREADGROUP results as an array of
// [key, entries] pairs, or a null array when nothing was read.
func streamResultsReply(results []storage.StreamResult) resp.Value {
	if len(results) == 0 {
		return resp.NullArray()
	}
	out := make([]resp.Value, len(results))
	for i, r := range results {
		out[i] = resp.Arr(resp.Bulk(r.Key), entriesReply(r.Entries))
	}
	return resp.Arr(out...)
}

// parseTrim parses MAXLEN|MINID [=|~] threshold [LIMIT count] starting at
// args[i]. It returns the index of the first argument after the clause.
func parseTrim(args []string, i int, opts *storage.XAddOptions) (int, resp.Value, bool) {
	strategy := strings.ToUpper(args[i])
	i++
	if i < len(args) && (args[i] == "~" || args[i] == "=") {
		opts.Approx = args[i] == "~"
		i++
	}
	if i >= len(args) {
		return i, resp.ErrSyntax(), false
	}
	switch strategy {
	case "MAXLEN":
		n, ok := parseInt(args[i])
		if !ok {
			return i, errNotInteger, false
		}
		if n < 0 {
			return i, resp.Err("The MAXLEN argument must be >= 0."), false
		}
		opts.Trim, opts.MaxLen = storage.TrimMaxLen, n
	case "MINID":
		id, err := storage.ParseStreamID(args[i], 0)
		if err != nil {
			return i, errorReply(err), false
		}
		opts.Trim, opts.MinID = storage.TrimMinID, id
	}
	i++
	if i+1 < len(args) && strings.EqualFold(args[i], "LIMIT") {
		n, ok := parseInt(args[i+1])
		if !ok || n < 0 {
			return i, resp.Err("The LIMIT argument must be >= 0."), false
		}
		if !opts.Approx {
			return i, resp.Err("syntax error, LIMIT cannot be used without the special ~ option"), false
		}
		opts.Limit = n
		i += 2
	}
	return i, resp.Value{}, true
}

func (h *Handler) xaddOp(ctx context.Context, ops storage.Operations, args []string) resp.Value {
	key := args[0]
	var opts storage.XAddOptions
	i := 1
loop:
	for i < len(args) {
		switch strings.ToUpper(args[i]) {
		case "NOMKSTREAM":
			opts.NoMkStream = true
			i++
		case "MAXLEN", "MINID":
			next, errReply, ok := parseTrim(args, i, &opts)
			if !ok {
				return errReply
			}
			i = next
		default:
			break loop
		}
	}
	if i >= len(args) {
		return resp.ErrSyntax()
	}
	id := args[i]
	fields := args[i+1:]
	if len(fields) == 0 || len(fields)%2 != 0 {
		return resp.ErrWrongArgs("xadd")
	}

	added, created, err := ops.XAdd(ctx, key, id, fields, opts)
	if err != nil {
		return errorReply(err)
	}
	if !created {
		return resp.NullBulk()
	}
	return resp.Bulk(added.String())
}

func (h *Handler) xlenOp(ctx context.Context, ops storage.Operations, args []string) resp.Value {
	n, err := ops.XLen(ctx, args[0])
	if err != nil {
		return errorReply(err)
	}
	return resp.Int(n)
}

func (h *Handler) xrangeWith(ctx context.Context, ops storage.Operations, key, startArg, endArg string, tail []string, rev bool) resp.Value {
	start, err := storage.ParseRangeID(startArg, true)
	if err != nil {
		return errorReply(err)
	}
	end, err := storage.ParseRangeID(endArg, false)
	if err != nil {
		return errorReply(err)
	}
	count := int64(0)
	switch {
	case len(tail) == 0:
	case len(tail) == 2 && strings.EqualFold(tail[0], "COUNT"):
		n, ok := parseInt(tail[1])
		if !ok {
			return errNotInteger
		}
		if n <= 0 {
			return resp.Arr()
		}
		count = n
	default:
		return resp.ErrSyntax()
	}
	entries, err := ops.XRange(ctx, key, start, end, count, rev)
	if err != nil {
		return errorReply(err)
	}
	return entriesReply(entries)
}

func (h *Handler) xrangeOp(ctx context.Context, ops storage.Operations, args []string) resp.Value {
	return h.xrangeWith(ctx, ops, args[0], args[1], args[2], args[3:], false)
}

// xrevrangeOp takes the end bound first.
func (h *Handler) xrevrangeOp(ctx context.Context, ops storage.Operations, args []string) resp.Value {
	return h.xrangeWith(ctx, ops, args[0], args[2], args[1], args[3:], true)
}

func parseIDs(args []string) ([]storage.StreamID, error) {
	ids := make([]storage.StreamID, len(args))
	for i, a := range args {
		id, err := storage.ParseStreamID(a, 0)
		if err != nil {
			return nil, err
		}
		ids[i] = id
	}
	return ids, nil
}

func (h *Handler) xdelOp(ctx context.Context, ops storage.Operations, args []string) resp.Value {
	ids, err := parseIDs(args[1:])
	if err != nil {
		return errorReply(err)
	}
	n, err := ops.XDel(ctx, args[0], ids)
	if err != nil {
		return errorReply(err)
	}
	return resp.Int(n)
}

func (h *Handler) xtrimOp(ctx context.Context, ops storage.Operations, args []string) resp.Value {
	var opts storage.XAddOptions
	switch strings.ToUpper(args[1]) {
	case "MAXLEN", "MINID":
	default:
		return resp.ErrSyntax()
	}
	next, errReply, ok := parseTrim(args, 1, &opts)
	if !ok {
		return errReply
	}
	if next != len(args) {
		return resp.ErrSyntax()
	}
	n, err := ops.XTrim(ctx, args[0], opts)
	if err != nil {
		return errorReply(err)
	}
	return resp.Int(n)
}

// xreadArgs is the parsed form of XREAD and XREADGROUP.
type xreadArgs struct {
	group    string
	consumer string
	count    int64
	block    time.Duration
	blocking bool
	noack    bool
	keys     []string
	ids      []string
}

func parseXRead(args []string, withGroup bool) (xreadArgs, resp.Value, bool) {
	var x xreadArgs
	cmd := "xread"
	if withGroup {
		cmd = "xreadgroup"
	}
	for i := 0; i < len(args); i++ {
		switch strings.ToUpper(args[i]) {
		case "GROUP":
			if !withGroup || i+2 >= len(args) {
				return x, resp.ErrSyntax(), false
			}
			x.group, x.consumer = args[i+1], args[i+2]
			i += 2
		case "COUNT":
			if i+1 >= len(args) {
				return x, resp.ErrSyntax(), false
			}
			n, ok := parseInt(args[i+1])
			if !ok {
				return x, errNotInteger, false
			}
			if n > 0 {
				x.count = n
			}
			i++
		case "BLOCK":
			if i+1 >= len(args) {
				return x, resp.ErrSyntax(), false
			}
			d, errReply, ok := parseBlockMillis(args[i+1])
			if !ok {
				return x, errReply, false
			}
			x.block, x.blocking = d, true
			i++
		case "NOACK":
			if !withGroup {
				return x, resp.ErrSyntax(), false
			}
			x.noack = true
		case "STREAMS":
			rest := args[i+1:]
			if len(rest) == 0 || len(rest)%2 != 0 {
				return x, resp.Err(fmt.Sprintf("Unbalanced '%s' list of streams: for each stream key an ID or '$' must be specified.", cmd)), false
			}
			x.keys, x.ids = rest[:len(rest)/2], rest[len(rest)/2:]
			if withGroup && x.group == "" {
				return x, resp.Err("Missing GROUP option for XREADGROUP"), false
			}
			return x, resp.Value{}, true
		default:
			return x, resp.ErrSyntax(), false
		}
	}
	return x, resp.ErrSyntax(), false
}

// resolveAfter turns XREAD IDs into exclusive lower bounds; "$" is the
// stream's current top ID.
func resolveAfter(ctx context.Context, ops storage.Operations, keys, ids []string) ([]storage.StreamID, error) {
	after := make([]storage.StreamID, len(ids))
	for i, raw := range ids {
		if raw == "$" {
			last, err := ops.XLastID(ctx, keys[i])
			if err != nil {
				return nil, err
			}
			after[i] = last
			continue
		}
		id, err := storage.ParseStreamID(raw, 0)
		if err != nil {
			return nil, err
		}
		after[i] = id
	}
	return after, nil
}

// xreadOp is XREAD without blocking, as run inside MULTI or a script.
func (h *Handler) xreadOp(ctx context.Context, ops storage.Operations, args []string) resp.Value {
	x, errReply, ok := parseXRead(args, false)
	if !ok {
		return errReply
	}
	after, err := resolveAfter(ctx, ops, x.keys, x.ids)
	if err != nil {
		return errorReply(err)
	}
	results, err := ops.XRead(ctx, x.keys, after, x.count)
	if err != nil {
		return errorReply(err)
	}
	return streamResultsReply(results)
}

func (h *Handler) xreadCmd(ctx context.Context, s *Session, args []string) resp.Value {
	x, errReply, ok := parseXRead(args, false)
	if !ok {
		return errReply
	}
	if !x.blocking {
		return h.run(ctx, &commandTable[CmdXRead], args)
	}

	// "$" is resolved once, before blocking: only entries added from now on count.
	var after []storage.StreamID
	err := h.store.Do(ctx, func(ops storage.Operations) error {
		var err error
		after, err = resolveAfter(ctx, ops, x.keys, x.ids)
		return err
	})
	if err != nil {
		return errorReply(err)
	}

	return h.block(ctx, x.keys, x.block, func(ops storage.Operations) (resp.Value, bool) {
		results, err := ops.XRead(ctx, x.keys, after, x.count)
		if err != nil {
			return errorReply(err), true
		}
		if len(results) == 0 {
			return resp.Value{}, false
		}
		return streamResultsReply(results), true
	})
}

func (h *Handler) xreadgroupOp(ctx context.Context, ops storage.Operations, args []string) resp.Value {
	x, errReply, ok := parseXRead(args, true)
	if !ok {
		return errReply
	}
	results, err := ops.XReadGroup(ctx, x.group, x.consumer, x.keys, x.ids, x.count, x.noack)
	if err != nil {
		return errorReply(err)
	}
	return streamResultsReply(results)
}

func (h *Handler) xreadgroupCmd(ctx context.Context, s *Session, args []string) resp.Value {
	x, errReply, ok := parseXRead(args, true)
	if !ok {
		return errReply
	}
	history := false
	for _, id := range x.ids {
		if id != ">" {
			history = true
		}
	}
	if !x.blocking || history {
		return h.run(ctx, &commandTable[CmdXReadGroup], args)
	}

	return h.block(ctx, x.keys, x.block, func(ops storage.Operations) (resp.Value, bool) {
		results, err := ops.XReadGroup(ctx, x.group, x.consumer, x.keys, x.ids, x.count, x.noack)
		if err != nil {
			return errorReply(err), true
		}
		if len(results) == 0 {
			return resp.Value{}, false
		}
		return streamResultsReply(results), true
	})
}

func (h *Handler) xgroupOp(ctx context.Context, ops storage.Operations, args []string) resp.Value {
	sub := strings.ToUpper(args[0])
	args = args[1:]
	wrongArgs := resp.ErrWrongArgs("xgroup|" + strings.ToLower(sub))

	switch sub {
	case "CREATE":
		if len(args) < 3 {
			return wrongArgs
		}
		mkstream := false
		for i := 3; i < len(args); i++ {
			switch strings.ToUpper(args[i]) {
			case "MKSTREAM":
				mkstream = true
			case "ENTRIESREAD":
				// accepted for compatibility; lag is derived from entries added
				i++
			default:
				return resp.ErrSyntax()
			}
		}
		if err := ops.XGroupCreate(ctx, args[0], args[1], args[2], mkstream); err != nil {
			return errorReply(err)
		}
		return resp.OK()

	case "CREATECONSUMER":
		if len(args) != 3 {
			return wrongArgs
		}
		created, err := ops.XGroupCreateConsumer(ctx, args[0], args[1], args[2])
		if err != nil {
			return errorReply(err)
		}
		return boolInt(created)

	case "DELCONSUMER":
		if len(args) != 3 {
			return wrongArgs
		}
		n, err := ops.XGroupDelConsumer(ctx, args[0], args[1], args[2])
		if err != nil {
			return errorReply(err)
		}
		return resp.Int(n)

	case "DESTROY":
		if len(args) != 2 {
			return wrongArgs
		}
		destroyed, err := ops.XGroupDestroy(ctx, args[0], args[1])
		if err != nil {
			return errorReply(err)
		}
		return boolInt(destroyed)

	case "SETID":
		if len(args) != 3 && len(args) != 5 {
			return wrongArgs
		}
		if err := ops.XGroupSetID(ctx, args[0], args[1], args[2]); err != nil {
			return errorReply(err)
		}
		return resp.OK()
	}
	return resp.Err(fmt.Sprintf("unknown subcommand '%s'. Try XGROUP HELP.", strings.ToLower(sub)))
}

func (h *Handler) xackOp(ctx context.Context, ops storage.Operations, args []string) resp.Value {
	ids, err := parseIDs(args[2:])
	if err != nil {
		return errorReply(err)
	}
	n, err := ops.XAck(ctx, args[0], args[1], ids)
	if err != nil {
		return errorReply(err)
	}
	return resp.Int(n)
}

// xpendingOp serves both forms: the summary (key group) and the extended
// one (key group [IDLE ms] start end count [consumer]).
func (h *Handler) xpendingOp(ctx context.Context, ops storage.Operations, args []string) resp.Value {
	key, group := args[0], args[1]
	rest := args[2:]

	if len(rest) == 0 {
		sum, err := ops.XPending(ctx, key, group)
		if err != nil {
			return errorReply(err)
		}
		if sum.Count == 0 {
			return resp.Arr(resp.Int(0), resp.NullBulk(), resp.NullBulk(), resp.NullArray())
		}
		consumers := make([]resp.Value, len(sum.Consumers))
		for i, c := range sum.Consumers {
			consumers[i] = resp.Arr(resp.Bulk(c.Name), resp.Bulk(fmt.Sprint(c.Count)))
		}
		return resp.Arr(
			resp.Int(sum.Count),
			resp.Bulk(sum.Lowest.String()),
			resp.Bulk(sum.Highest.String()),
			resp.Arr(consumers...),
		)
	}

	var minIdle time.Duration
	if strings.EqualFold(rest[0], "IDLE") {
		if len(rest) < 2 {
			return resp.ErrSyntax()
		}
		ms, ok := parseInt(rest[1])
		if !ok {
			return errNotInteger
		}
		minIdle = time.Duration(ms) * time.Millisecond
		rest = rest[2:]
	}
	if len(rest) != 3 && len(rest) != 4 {
		return resp.ErrSyntax()
	}
	start, err := storage.ParseRangeID(rest[0], true)
	if err != nil {
		return errorReply(err)
	}
	end, err := storage.ParseRangeID(rest[1], false)
	if err != nil {
		return errorReply(err)
	}
	count, ok := parseInt(rest[2])
	if !ok {
		return errNotInteger
	}
	if count <= 0 {
		return resp.Arr()
	}
	consumer := ""
	if len(rest) == 4 {
		consumer = rest[3]
	}

	// IDLE filters before COUNT applies
	limit := count
	if minIdle > 0 {
		limit = 0
	}
	entries, err := ops.XPendingRange(ctx, key, group, start, end, limit, consumer)
	if err != nil {
		return errorReply(err)
	}
	out := make([]resp.Value, 0, len(entries))
	for _, e := range entries {
		if e.Idle < minIdle {
			continue
		}
		if int64(len(out)) >= count {
			break
		}
		out = append(out, resp.Arr(
			resp.Bulk(e.ID.String()),
			resp.Bulk(e.Consumer),
			resp.Int(e.Idle.Milliseconds()),
			resp.Int(e.Deliveries),
		))
	}
	return resp.Arr(out...)
}

func (h *Handler) xinfoOp(ctx context.Context, ops storage.Operations, args []string) resp.Value {
	sub := strings.ToUpper(args[0])
	args = args[1:]
	wrongArgs := resp.ErrWrongArgs("xinfo|" + strings.ToLower(sub))

	switch sub {
	case "GROUPS":
		if len(args) != 1 {
			return wrongArgs
		}
		groups, err := ops.XInfoGroups(ctx, args[0])
		if err != nil {
			return errorReply(err)
		}
		out := make([]resp.Value, len(groups))
		for i, g := range groups {
			out[i] = resp.MapVal(
				resp.Bulk("name"), resp.Bulk(g.Name),
				resp.Bulk("consumers"), resp.Int(g.Consumers),
				resp.Bulk("pending"), resp.Int(g.Pending),
				resp.Bulk("last-delivered-id"), resp.Bulk(g.LastDeliveredID.String()),
				resp.Bulk("entries-read"), resp.Int(g.EntriesRead),
				resp.Bulk("lag"), resp.Int(g.Lag),
			)
		}
		return resp.Arr(out...)

	case "CONSUMERS":
		if len(args) != 2 {
			return wrongArgs
		}
		consumers, err := ops.XInfoConsumers(ctx, args[0], args[1])
		if err != nil {
			return errorReply(err)
		}
		out := make([]resp.Value, len(consumers))
		for i, c := range consumers {
			inactive := int64(-1)
			if c.Inactive >= 0 {
				inactive = c.Inactive.Milliseconds()
			}
			out[i] = resp.MapVal(
				resp.Bulk("name"), resp.Bulk(c.Name),
				resp.Bulk("pending"), resp.Int(c.Pending),
				resp.Bulk("idle"), resp.Int(c.Idle.Milliseconds()),
				resp.Bulk("inactive"), resp.Int(inactive),
			)
		}
		return resp.Arr(out...)

	case "STREAM":
		if len(args) != 1 {
			return resp.ErrSyntax()
		}
		info, err := ops.XInfoStream(ctx, args[0])
		if err != nil {
			return errorReply(err)
		}
		first, last := resp.NullArray(), resp.NullArray()
		recordedFirst := "0-0"
		if info.First != nil {
			first = entryReply(*info.First)
			recordedFirst = info.First.ID.String()
		}
		if info.Last != nil {
			last = entryReply(*info.Last)
		}
		return resp.MapVal(
			resp.Bulk("length"), resp.Int(info.Length),
			resp.Bulk("radix-tree-keys"), resp.Int(1),
			resp.Bulk("radix-tree-nodes"), resp.Int(2),
			resp.Bulk("last-generated-id"), resp.Bulk(info.LastGeneratedID.String()),
			resp.Bulk("max-deleted-entry-id"), resp.Bulk(info.MaxDeletedID.String()),
			resp.Bulk("entries-added"), resp.Int(info.EntriesAdded),
			resp.Bulk("recorded-first-entry-id"), resp.Bulk(recordedFirst),
			resp.Bulk("groups"), resp.Int(info.Groups),
			resp.Bulk("first-entry"), first,
			resp.Bulk("last-entry"), last,
		)
	}
	return resp.Err(fmt.Sprintf("unknown subcommand '%s'. Try XINFO HELP.", strings.ToLower(sub)))
}
