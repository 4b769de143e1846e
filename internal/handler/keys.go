package handler

import (
	"context"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/mnorrsken/memkeys/internal/resp"
	"github.com/mnorrsken/memkeys/internal/storage"
)

// ============== Key Commands ==============

func (h *Handler) delOp(ctx context.Context, ops storage.Operations, args []string) resp.Value {
	n, err := ops.Del(ctx, args)
	if err != nil {
		return errorReply(err)
	}
	return resp.Int(n)
}

func (h *Handler) existsOp(ctx context.Context, ops storage.Operations, args []string) resp.Value {
	n, err := ops.Exists(ctx, args)
	if err != nil {
		return errorReply(err)
	}
	return resp.Int(n)
}

// expireAt applies EXPIRE-family modifiers (NX, XX, GT, LT) and sets the
// deadline. A key without a TTL counts as infinite for GT and LT.
func (h *Handler) expireAt(ctx context.Context, ops storage.Operations, key string, at time.Time, flags []string) resp.Value {
	var nx, xx, gt, lt bool
	for _, f := range flags {
		switch strings.ToUpper(f) {
		case "NX":
			nx = true
		case "XX":
			xx = true
		case "GT":
			gt = true
		case "LT":
			lt = true
		default:
			return resp.Err("Unsupported option " + f)
		}
	}
	if nx && (xx || gt || lt) {
		return resp.Err("NX and XX, GT or LT options at the same time are not compatible")
	}
	if gt && lt {
		return resp.Err("GT and LT options at the same time are not compatible")
	}

	pttl, err := ops.PTTL(ctx, key)
	if err != nil {
		return errorReply(err)
	}
	if pttl == -2 {
		return resp.Int(0)
	}
	hasTTL := pttl >= 0
	current := h.store.Now().Add(time.Duration(pttl) * time.Millisecond)
	switch {
	case nx && hasTTL,
		xx && !hasTTL,
		gt && (!hasTTL || !at.After(current)),
		lt && hasTTL && !at.Before(current):
		return resp.Int(0)
	}

	ok, err := ops.ExpireAt(ctx, key, at)
	if err != nil {
		return errorReply(err)
	}
	return boolInt(ok)
}

func (h *Handler) expireWith(ctx context.Context, ops storage.Operations, args []string, name string, toTime func(n int64) (time.Time, bool)) resp.Value {
	n, ok := parseInt(args[1])
	if !ok {
		return errNotInteger
	}
	at, ok := toTime(n)
	if !ok {
		return errExpireTime(name)
	}
	return h.expireAt(ctx, ops, args[0], at, args[2:])
}

// relativeDeadline is now plus n units on the store clock.
func (h *Handler) relativeDeadline(n int64, unit time.Duration) (time.Time, bool) {
	ttl, ok := expireTTL(n, unit)
	if !ok {
		return time.Time{}, false
	}
	return h.store.Now().Add(ttl), true
}

func (h *Handler) expireOp(ctx context.Context, ops storage.Operations, args []string) resp.Value {
	return h.expireWith(ctx, ops, args, "expire", func(n int64) (time.Time, bool) {
		return h.relativeDeadline(n, time.Second)
	})
}

func (h *Handler) pexpireOp(ctx context.Context, ops storage.Operations, args []string) resp.Value {
	return h.expireWith(ctx, ops, args, "pexpire", func(n int64) (time.Time, bool) {
		return h.relativeDeadline(n, time.Millisecond)
	})
}

func (h *Handler) expireatOp(ctx context.Context, ops storage.Operations, args []string) resp.Value {
	return h.expireWith(ctx, ops, args, "expireat", func(n int64) (time.Time, bool) {
		if n > math.MaxInt64/1000 || n < math.MinInt64/1000 {
			return time.Time{}, false
		}
		return time.Unix(n, 0), true
	})
}

func (h *Handler) pexpireatOp(ctx context.Context, ops storage.Operations, args []string) resp.Value {
	return h.expireWith(ctx, ops, args, "pexpireat", func(n int64) (time.Time, bool) {
		return time.UnixMilli(n), true
	})
}

func (h *Handler) ttlOp(ctx context.Context, ops storage.Operations, args []string) resp.Value {
	n, err := ops.TTL(ctx, args[0])
	if err != nil {
		return errorReply(err)
	}
	return resp.Int(n)
}

func (h *Handler) pttlOp(ctx context.Context, ops storage.Operations, args []string) resp.Value {
	n, err := ops.PTTL(ctx, args[0])
	if err != nil {
		return errorReply(err)
	}
	return resp.Int(n)
}

func (h *Handler) persistOp(ctx context.Context, ops storage.Operations, args []string) resp.Value {
	ok, err := ops.Persist(ctx, args[0])
	if err != nil {
		return errorReply(err)
	}
	return boolInt(ok)
}

func (h *Handler) keysOp(ctx context.Context, ops storage.Operations, args []string) resp.Value {
	keys, err := ops.Keys(ctx, args[0])
	if err != nil {
		return errorReply(err)
	}
	return resp.BulkArr(keys)
}

func (h *Handler) scanOp(ctx context.Context, ops storage.Operations, args []string) resp.Value {
	cursor, err := strconv.ParseUint(args[0], 10, 64)
	if err != nil {
		return resp.Err("invalid cursor")
	}
	pattern := ""
	count := int64(10)
	var typ storage.KeyType
	for i := 1; i < len(args); i += 2 {
		if i+1 >= len(args) {
			return resp.ErrSyntax()
		}
		switch strings.ToUpper(args[i]) {
		case "MATCH":
			pattern = args[i+1]
		case "COUNT":
			n, ok := parseInt(args[i+1])
			if !ok {
				return errNotInteger
			}
			if n < 1 {
				return resp.ErrSyntax()
			}
			count = n
		case "TYPE":
			typ = storage.KeyType(strings.ToLower(args[i+1]))
		default:
			return resp.ErrSyntax()
		}
	}

	next, keys, err := ops.Scan(ctx, cursor, pattern, count, typ)
	if err != nil {
		return errorReply(err)
	}
	return resp.Arr(resp.Bulk(strconv.FormatUint(next, 10)), resp.BulkArr(keys))
}

func (h *Handler) typeOp(ctx context.Context, ops storage.Operations, args []string) resp.Value {
	kt, err := ops.Type(ctx, args[0])
	if err != nil {
		return errorReply(err)
	}
	return resp.Simple(kt.Reported())
}

func (h *Handler) renameOp(ctx context.Context, ops storage.Operations, args []string) resp.Value {
	if err := ops.Rename(ctx, args[0], args[1]); err != nil {
		return errorReply(err)
	}
	return resp.OK()
}

func (h *Handler) renamenxOp(ctx context.Context, ops storage.Operations, args []string) resp.Value {
	ok, err := ops.RenameNX(ctx, args[0], args[1])
	if err != nil {
		return errorReply(err)
	}
	return boolInt(ok)
}

func (h *Handler) randomkeyOp(ctx context.Context, ops storage.Operations, args []string) resp.Value {
	key, ok, err := ops.RandomKey(ctx)
	if err != nil {
		return errorReply(err)
	}
	return bulkOrNull(key, ok)
}
