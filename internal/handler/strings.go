package handler

import (
	"context"
	"math"
	"strings"
	"time"

	"github.com/mnorrsken/memkeys/internal/resp"
	"github.com/mnorrsken/memkeys/internal/storage"
)

// ============== String Commands ==============

func (h *Handler) getOp(ctx context.Context, ops storage.Operations, args []string) resp.Value {
	value, found, err := ops.Get(ctx, args[0])
	if err != nil {
		return errorReply(err)
	}
	return bulkOrNull(value, found)
}

// errExpireTime is the reply for a TTL that is out of range for cmd.
func errExpireTime(cmd string) resp.Value {
	return resp.Err("invalid expire time in '" + cmd + "' command")
}

// expireTTL converts n units to a TTL. ok is false when the product does
// not fit in a time.Duration.
func expireTTL(n int64, unit time.Duration) (time.Duration, bool) {
	if n > math.MaxInt64/int64(unit) || n < math.MinInt64/int64(unit) {
		return 0, false
	}
	return time.Duration(n) * unit, true
}

// parseExpiry parses the value following EX, PX, EXAT or PXAT of cmd into
// a TTL. Absolute times are converted against now.
func parseExpiry(cmd, opt, arg string, now time.Time) (time.Duration, resp.Value, bool) {
	n, ok := parseInt(arg)
	if !ok {
		return 0, errNotInteger, false
	}
	if n <= 0 {
		return 0, errExpireTime(cmd), false
	}
	switch opt {
	case "EX", "PX":
		unit := time.Second
		if opt == "PX" {
			unit = time.Millisecond
		}
		ttl, ok := expireTTL(n, unit)
		if !ok {
			return 0, errExpireTime(cmd), false
		}
		return ttl, resp.Value{}, true
	case "EXAT":
		if n > math.MaxInt64/1000 {
			return 0, errExpireTime(cmd), false
		}
		return time.Unix(n, 0).Sub(now), resp.Value{}, true
	default: // PXAT
		return time.UnixMilli(n).Sub(now), resp.Value{}, true
	}
}

func (h *Handler) setOp(ctx context.Context, ops storage.Operations, args []string) resp.Value {
	key, value := args[0], args[1]
	var opts storage.SetOptions
	hasExpiry := false

	// Parse options (EX, PX, NX, XX, etc.)
	for i := 2; i < len(args); i++ {
		opt := strings.ToUpper(args[i])
		switch opt {
		case "EX", "PX", "EXAT", "PXAT":
			if i+1 >= len(args) || hasExpiry || opts.KeepTTL {
				return resp.ErrSyntax()
			}
			i++
			ttl, errReply, ok := parseExpiry("set", opt, args[i], h.store.Now())
			if !ok {
				return errReply
			}
			if ttl <= 0 {
				// already in the past: the key is written and expires at once
				ttl = time.Nanosecond
			}
			opts.TTL = ttl
			hasExpiry = true
		case "NX":
			if opts.XX {
				return resp.ErrSyntax()
			}
			opts.NX = true
		case "XX":
			if opts.NX {
				return resp.ErrSyntax()
			}
			opts.XX = true
		case "KEEPTTL":
			if hasExpiry {
				return resp.ErrSyntax()
			}
			opts.KeepTTL = true
		case "GET":
			opts.Get = true
		default:
			return resp.ErrSyntax()
		}
	}

	res, err := ops.Set(ctx, key, value, opts)
	if err != nil {
		return errorReply(err)
	}
	if opts.Get {
		return bulkOrNull(res.Old, res.HadOld)
	}
	if !res.Written {
		return resp.NullBulk()
	}
	return resp.OK()
}

func (h *Handler) setnxOp(ctx context.Context, ops storage.Operations, args []string) resp.Value {
	ok, err := ops.SetNX(ctx, args[0], args[1])
	if err != nil {
		return errorReply(err)
	}
	return boolInt(ok)
}

func (h *Handler) setexWith(ctx context.Context, ops storage.Operations, args []string, unit time.Duration, name string) resp.Value {
	n, ok := parseInt(args[1])
	if !ok {
		return errNotInteger
	}
	ttl, ok := expireTTL(n, unit)
	if n <= 0 || !ok {
		return errExpireTime(name)
	}
	if _, err := ops.Set(ctx, args[0], args[2], storage.SetOptions{TTL: ttl}); err != nil {
		return errorReply(err)
	}
	return resp.OK()
}

func (h *Handler) setexOp(ctx context.Context, ops storage.Operations, args []string) resp.Value {
	return h.setexWith(ctx, ops, args, time.Second, "setex")
}

func (h *Handler) psetexOp(ctx context.Context, ops storage.Operations, args []string) resp.Value {
	return h.setexWith(ctx, ops, args, time.Millisecond, "psetex")
}

func (h *Handler) getsetOp(ctx context.Context, ops storage.Operations, args []string) resp.Value {
	res, err := ops.Set(ctx, args[0], args[1], storage.SetOptions{Get: true})
	if err != nil {
		return errorReply(err)
	}
	return bulkOrNull(res.Old, res.HadOld)
}

func (h *Handler) getdelOp(ctx context.Context, ops storage.Operations, args []string) resp.Value {
	value, found, err := ops.GetDel(ctx, args[0])
	if err != nil {
		return errorReply(err)
	}
	return bulkOrNull(value, found)
}

func (h *Handler) getexOp(ctx context.Context, ops storage.Operations, args []string) resp.Value {
	var ttl time.Duration
	persist := false
	for i := 1; i < len(args); i++ {
		opt := strings.ToUpper(args[i])
		switch opt {
		case "EX", "PX", "EXAT", "PXAT":
			if i+1 >= len(args) || ttl != 0 || persist {
				return resp.ErrSyntax()
			}
			i++
			d, errReply, ok := parseExpiry("getex", opt, args[i], h.store.Now())
			if !ok {
				return errReply
			}
			if d <= 0 {
				d = time.Nanosecond
			}
			ttl = d
		case "PERSIST":
			if ttl != 0 {
				return resp.ErrSyntax()
			}
			persist = true
		default:
			return resp.ErrSyntax()
		}
	}
	value, found, err := ops.GetEx(ctx, args[0], ttl, persist)
	if err != nil {
		return errorReply(err)
	}
	return bulkOrNull(value, found)
}

func (h *Handler) mgetOp(ctx context.Context, ops storage.Operations, args []string) resp.Value {
	values, err := ops.MGet(ctx, args)
	if err != nil {
		return errorReply(err)
	}
	return interfacesReply(values)
}

func (h *Handler) msetOp(ctx context.Context, ops storage.Operations, args []string) resp.Value {
	if len(args)%2 != 0 {
		return resp.ErrWrongArgs("mset")
	}
	if err := ops.MSet(ctx, args); err != nil {
		return errorReply(err)
	}
	return resp.OK()
}

func (h *Handler) msetnxOp(ctx context.Context, ops storage.Operations, args []string) resp.Value {
	if len(args)%2 != 0 {
		return resp.ErrWrongArgs("msetnx")
	}
	ok, err := ops.MSetNX(ctx, args)
	if err != nil {
		return errorReply(err)
	}
	return boolInt(ok)
}

func (h *Handler) incrWith(ctx context.Context, ops storage.Operations, key string, delta int64) resp.Value {
	n, err := ops.Incr(ctx, key, delta)
	if err != nil {
		return errorReply(err)
	}
	return resp.Int(n)
}

func (h *Handler) incrOp(ctx context.Context, ops storage.Operations, args []string) resp.Value {
	return h.incrWith(ctx, ops, args[0], 1)
}

func (h *Handler) decrOp(ctx context.Context, ops storage.Operations, args []string) resp.Value {
	return h.incrWith(ctx, ops, args[0], -1)
}

func (h *Handler) incrbyOp(ctx context.Context, ops storage.Operations, args []string) resp.Value {
	delta, ok := parseInt(args[1])
	if !ok {
		return errNotInteger
	}
	return h.incrWith(ctx, ops, args[0], delta)
}

func (h *Handler) decrbyOp(ctx context.Context, ops storage.Operations, args []string) resp.Value {
	delta, ok := parseInt(args[1])
	if !ok || delta == math.MinInt64 {
		return errNotInteger
	}
	return h.incrWith(ctx, ops, args[0], -delta)
}

func (h *Handler) incrbyfloatOp(ctx context.Context, ops storage.Operations, args []string) resp.Value {
	delta, ok := parseFloat(args[1])
	if !ok {
		return errNotFloat
	}
	f, err := ops.IncrByFloat(ctx, args[0], delta)
	if err != nil {
		return errorReply(err)
	}
	return floatBulk(f)
}

func (h *Handler) appendOp(ctx context.Context, ops storage.Operations, args []string) resp.Value {
	n, err := ops.Append(ctx, args[0], args[1])
	if err != nil {
		return errorReply(err)
	}
	return resp.Int(n)
}

func (h *Handler) strlenOp(ctx context.Context, ops storage.Operations, args []string) resp.Value {
	n, err := ops.StrLen(ctx, args[0])
	if err != nil {
		return errorReply(err)
	}
	return resp.Int(n)
}

func (h *Handler) getrangeOp(ctx context.Context, ops storage.Operations, args []string) resp.Value {
	start, ok1 := parseInt(args[1])
	end, ok2 := parseInt(args[2])
	if !ok1 || !ok2 {
		return errNotInteger
	}
	s, err := ops.GetRange(ctx, args[0], start, end)
	if err != nil {
		return errorReply(err)
	}
	return resp.Bulk(s)
}

func (h *Handler) setrangeOp(ctx context.Context, ops storage.Operations, args []string) resp.Value {
	offset, ok := parseInt(args[1])
	if !ok {
		return errNotInteger
	}
	if offset < 0 {
		return resp.Err("offset is out of range")
	}
	n, err := ops.SetRange(ctx, args[0], offset, args[2])
	if err != nil {
		if err == storage.ErrSyntax {
			return resp.Err("string exceeds maximum allowed size (proto-max-bulk-len)")
		}
		return errorReply(err)
	}
	return resp.Int(n)
}
