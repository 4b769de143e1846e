package handler

import (
	"context"
	"strings"

	"github.com/mnorrsken/memkeys/internal/resp"
	"github.com/mnorrsken/memkeys/internal/storage"
)

// ============== List Commands ==============

func (h *Handler) pushWith(ctx context.Context, ops storage.Operations, args []string, left, onlyExisting bool) resp.Value {
	var (
		n   int64
		err error
	)
	if left {
		n, err = ops.LPush(ctx, args[0], args[1:], onlyExisting)
	} else {
		n, err = ops.RPush(ctx, args[0], args[1:], onlyExisting)
	}
	if err != nil {
		return errorReply(err)
	}
	return resp.Int(n)
}

func (h *Handler) lpushOp(ctx context.Context, ops storage.Operations, args []string) resp.Value {
	return h.pushWith(ctx, ops, args, true, false)
}

func (h *Handler) rpushOp(ctx context.Context, ops storage.Operations, args []string) resp.Value {
	return h.pushWith(ctx, ops, args, false, false)
}

func (h *Handler) lpushxOp(ctx context.Context, ops storage.Operations, args []string) resp.Value {
	return h.pushWith(ctx, ops, args, true, true)
}

func (h *Handler) rpushxOp(ctx context.Context, ops storage.Operations, args []string) resp.Value {
	return h.pushWith(ctx, ops, args, false, true)
}

// popWith implements LPOP/RPOP. Without a count the reply is a single bulk
// string; with one it is an array.
func (h *Handler) popWith(ctx context.Context, ops storage.Operations, args []string, left bool) resp.Value {
	if len(args) > 2 {
		return resp.ErrSyntax()
	}
	count := int64(1)
	withCount := len(args) == 2
	if withCount {
		n, ok := parseInt(args[1])
		if !ok || n < 0 {
			return resp.Err("value is out of range, must be positive")
		}
		count = n
	}

	var (
		popped []string
		err    error
	)
	if left {
		popped, err = ops.LPop(ctx, args[0], count)
	} else {
		popped, err = ops.RPop(ctx, args[0], count)
	}
	if err != nil {
		return errorReply(err)
	}
	if !withCount {
		if len(popped) == 0 {
			return resp.NullBulk()
		}
		return resp.Bulk(popped[0])
	}
	if popped == nil {
		return resp.NullArray()
	}
	return resp.BulkArr(popped)
}

func (h *Handler) lpopOp(ctx context.Context, ops storage.Operations, args []string) resp.Value {
	return h.popWith(ctx, ops, args, true)
}

func (h *Handler) rpopOp(ctx context.Context, ops storage.Operations, args []string) resp.Value {
	return h.popWith(ctx, ops, args, false)
}

func (h *Handler) llenOp(ctx context.Context, ops storage.Operations, args []string) resp.Value {
	n, err := ops.LLen(ctx, args[0])
	if err != nil {
		return errorReply(err)
	}
	return resp.Int(n)
}

func (h *Handler) lrangeOp(ctx context.Context, ops storage.Operations, args []string) resp.Value {
	start, ok1 := parseInt(args[1])
	stop, ok2 := parseInt(args[2])
	if !ok1 || !ok2 {
		return errNotInteger
	}
	values, err := ops.LRange(ctx, args[0], start, stop)
	if err != nil {
		return errorReply(err)
	}
	return resp.BulkArr(values)
}

func (h *Handler) lindexOp(ctx context.Context, ops storage.Operations, args []string) resp.Value {
	index, ok := parseInt(args[1])
	if !ok {
		return errNotInteger
	}
	value, found, err := ops.LIndex(ctx, args[0], index)
	if err != nil {
		return errorReply(err)
	}
	return bulkOrNull(value, found)
}

func (h *Handler) lsetOp(ctx context.Context, ops storage.Operations, args []string) resp.Value {
	index, ok := parseInt(args[1])
	if !ok {
		return errNotInteger
	}
	if err := ops.LSet(ctx, args[0], index, args[2]); err != nil {
		return errorReply(err)
	}
	return resp.OK()
}

func (h *Handler) linsertOp(ctx context.Context, ops storage.Operations, args []string) resp.Value {
	var before bool
	switch strings.ToUpper(args[1]) {
	case "BEFORE":
		before = true
	case "AFTER":
	default:
		return resp.ErrSyntax()
	}
	n, err := ops.LInsert(ctx, args[0], before, args[2], args[3])
	if err != nil {
		return errorReply(err)
	}
	return resp.Int(n)
}

func (h *Handler) lremOp(ctx context.Context, ops storage.Operations, args []string) resp.Value {
	count, ok := parseInt(args[1])
	if !ok {
		return errNotInteger
	}
	n, err := ops.LRem(ctx, args[0], count, args[2])
	if err != nil {
		return errorReply(err)
	}
	return resp.Int(n)
}

func (h *Handler) ltrimOp(ctx context.Context, ops storage.Operations, args []string) resp.Value {
	start, ok1 := parseInt(args[1])
	stop, ok2 := parseInt(args[2])
	if !ok1 || !ok2 {
		return errNotInteger
	}
	if err := ops.LTrim(ctx, args[0], start, stop); err != nil {
		return errorReply(err)
	}
	return resp.OK()
}

func parseSide(s string) (left bool, ok bool) {
	switch strings.ToUpper(s) {
	case "LEFT":
		return true, true
	case "RIGHT":
		return false, true
	}
	return false, false
}

func (h *Handler) lmoveOp(ctx context.Context, ops storage.Operations, args []string) resp.Value {
	fromLeft, ok1 := parseSide(args[2])
	toLeft, ok2 := parseSide(args[3])
	if !ok1 || !ok2 {
		return resp.ErrSyntax()
	}
	value, moved, err := ops.LMove(ctx, args[0], args[1], fromLeft, toLeft)
	if err != nil {
		return errorReply(err)
	}
	return bulkOrNull(value, moved)
}

func (h *Handler) rpoplpushOp(ctx context.Context, ops storage.Operations, args []string) resp.Value {
	value, moved, err := ops.LMove(ctx, args[0], args[1], false, true)
	if err != nil {
		return errorReply(err)
	}
	return bulkOrNull(value, moved)
}

// popFirst pops one element from the first non-empty list among keys. ready
// is false when every list is empty.
func popFirst(ctx context.Context, ops storage.Operations, keys []string, left bool) (resp.Value, bool) {
	for _, key := range keys {
		var (
			popped []string
			err    error
		)
		if left {
			popped, err = ops.LPop(ctx, key, 1)
		} else {
			popped, err = ops.RPop(ctx, key, 1)
		}
		if err != nil {
			return errorReply(err), true
		}
		if len(popped) > 0 {
			return resp.BulkArr([]string{key, popped[0]}), true
		}
	}
	return resp.NullArray(), false
}

// blpopOp is BLPOP inside MULTI or a script: it never blocks.
func (h *Handler) blpopOp(ctx context.Context, ops storage.Operations, args []string) resp.Value {
	if _, errReply, ok := parseTimeout(args[len(args)-1]); !ok {
		return errReply
	}
	reply, _ := popFirst(ctx, ops, args[:len(args)-1], true)
	return reply
}

func (h *Handler) brpopOp(ctx context.Context, ops storage.Operations, args []string) resp.Value {
	if _, errReply, ok := parseTimeout(args[len(args)-1]); !ok {
		return errReply
	}
	reply, _ := popFirst(ctx, ops, args[:len(args)-1], false)
	return reply
}

func (h *Handler) blpopCmd(ctx context.Context, s *Session, args []string) resp.Value {
	return h.bpop(ctx, args, true)
}

func (h *Handler) brpopCmd(ctx context.Context, s *Session, args []string) resp.Value {
	return h.bpop(ctx, args, false)
}

func (h *Handler) bpop(ctx context.Context, args []string, left bool) resp.Value {
	timeout, errReply, ok := parseTimeout(args[len(args)-1])
	if !ok {
		return errReply
	}
	keys := args[:len(args)-1]
	return h.block(ctx, keys, timeout, func(ops storage.Operations) (resp.Value, bool) {
		return popFirst(ctx, ops, keys, left)
	})
}
