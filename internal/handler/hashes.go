package handler

import (
	"context"

	"github.com/mnorrsken/memkeys/internal/resp"
	"github.com/mnorrsken/memkeys/internal/storage"
)

// ============== Hash Commands ==============

func (h *Handler) hgetOp(ctx context.Context, ops storage.Operations, args []string) resp.Value {
	value, found, err := ops.HGet(ctx, args[0], args[1])
	if err != nil {
		return errorReply(err)
	}
	return bulkOrNull(value, found)
}

func (h *Handler) hsetOp(ctx context.Context, ops storage.Operations, args []string) resp.Value {
	if len(args[1:])%2 != 0 {
		return resp.ErrWrongArgs("hset")
	}
	n, err := ops.HSet(ctx, args[0], args[1:])
	if err != nil {
		return errorReply(err)
	}
	return resp.Int(n)
}

func (h *Handler) hmsetOp(ctx context.Context, ops storage.Operations, args []string) resp.Value {
	if len(args[1:])%2 != 0 {
		return resp.ErrWrongArgs("hmset")
	}
	if _, err := ops.HSet(ctx, args[0], args[1:]); err != nil {
		return errorReply(err)
	}
	return resp.OK()
}

func (h *Handler) hsetnxOp(ctx context.Context, ops storage.Operations, args []string) resp.Value {
	ok, err := ops.HSetNX(ctx, args[0], args[1], args[2])
	if err != nil {
		return errorReply(err)
	}
	return boolInt(ok)
}

func (h *Handler) hdelOp(ctx context.Context, ops storage.Operations, args []string) resp.Value {
	n, err := ops.HDel(ctx, args[0], args[1:])
	if err != nil {
		return errorReply(err)
	}
	return resp.Int(n)
}

func (h *Handler) hgetallOp(ctx context.Context, ops storage.Operations, args []string) resp.Value {
	flat, err := ops.HGetAll(ctx, args[0])
	if err != nil {
		return errorReply(err)
	}
	pairs := make([]resp.Value, len(flat))
	for i, s := range flat {
		pairs[i] = resp.Bulk(s)
	}
	return resp.MapVal(pairs...)
}

func (h *Handler) hmgetOp(ctx context.Context, ops storage.Operations, args []string) resp.Value {
	values, err := ops.HMGet(ctx, args[0], args[1:])
	if err != nil {
		return errorReply(err)
	}
	return interfacesReply(values)
}

func (h *Handler) hexistsOp(ctx context.Context, ops storage.Operations, args []string) resp.Value {
	ok, err := ops.HExists(ctx, args[0], args[1])
	if err != nil {
		return errorReply(err)
	}
	return boolInt(ok)
}

func (h *Handler) hkeysOp(ctx context.Context, ops storage.Operations, args []string) resp.Value {
	keys, err := ops.HKeys(ctx, args[0])
	if err != nil {
		return errorReply(err)
	}
	return resp.BulkArr(keys)
}

func (h *Handler) hvalsOp(ctx context.Context, ops storage.Operations, args []string) resp.Value {
	vals, err := ops.HVals(ctx, args[0])
	if err != nil {
		return errorReply(err)
	}
	return resp.BulkArr(vals)
}

func (h *Handler) hlenOp(ctx context.Context, ops storage.Operations, args []string) resp.Value {
	n, err := ops.HLen(ctx, args[0])
	if err != nil {
		return errorReply(err)
	}
	return resp.Int(n)
}

func (h *Handler) hstrlenOp(ctx context.Context, ops storage.Operations, args []string) resp.Value {
	n, err := ops.HStrLen(ctx, args[0], args[1])
	if err != nil {
		return errorReply(err)
	}
	return resp.Int(n)
}

func (h *Handler) hincrbyOp(ctx context.Context, ops storage.Operations, args []string) resp.Value {
	delta, ok := parseInt(args[2])
	if !ok {
		return errNotInteger
	}
	n, err := ops.HIncrBy(ctx, args[0], args[1], delta)
	if err != nil {
		return errorReply(err)
	}
	return resp.Int(n)
}

func (h *Handler) hincrbyfloatOp(ctx context.Context, ops storage.Operations, args []string) resp.Value {
	delta, ok := parseFloat(args[2])
	if !ok {
		return errNotFloat
	}
	f, err := ops.HIncrByFloat(ctx, args[0], args[1], delta)
	if err != nil {
		return errorReply(err)
	}
	return floatBulk(f)
}
