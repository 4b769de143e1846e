package handler

import (
	"context"

	"github.com/mnorrsken/memkeys/internal/resp"
	"github.com/mnorrsken/memkeys/internal/storage"
)

// ============== Set Commands ==============

func (h *Handler) saddOp(ctx context.Context, ops storage.Operations, args []string) resp.Value {
	n, err := ops.SAdd(ctx, args[0], args[1:])
	if err != nil {
		return errorReply(err)
	}
	return resp.Int(n)
}

func (h *Handler) sremOp(ctx context.Context, ops storage.Operations, args []string) resp.Value {
	n, err := ops.SRem(ctx, args[0], args[1:])
	if err != nil {
		return errorReply(err)
	}
	return resp.Int(n)
}

func (h *Handler) smembersOp(ctx context.Context, ops storage.Operations, args []string) resp.Value {
	members, err := ops.SMembers(ctx, args[0])
	if err != nil {
		return errorReply(err)
	}
	return resp.BulkArr(members)
}

func (h *Handler) sismemberOp(ctx context.Context, ops storage.Operations, args []string) resp.Value {
	ok, err := ops.SIsMember(ctx, args[0], args[1])
	if err != nil {
		return errorReply(err)
	}
	return boolInt(ok)
}

func (h *Handler) smismemberOp(ctx context.Context, ops storage.Operations, args []string) resp.Value {
	found, err := ops.SMIsMember(ctx, args[0], args[1:])
	if err != nil {
		return errorReply(err)
	}
	out := make([]resp.Value, len(found))
	for i, ok := range found {
		out[i] = boolInt(ok)
	}
	return resp.Arr(out...)
}

func (h *Handler) scardOp(ctx context.Context, ops storage.Operations, args []string) resp.Value {
	n, err := ops.SCard(ctx, args[0])
	if err != nil {
		return errorReply(err)
	}
	return resp.Int(n)
}

func (h *Handler) spopOp(ctx context.Context, ops storage.Operations, args []string) resp.Value {
	if len(args) > 2 {
		return resp.ErrSyntax()
	}
	if len(args) == 1 {
		popped, err := ops.SPop(ctx, args[0], 1)
		if err != nil {
			return errorReply(err)
		}
		if len(popped) == 0 {
			return resp.NullBulk()
		}
		return resp.Bulk(popped[0])
	}
	count, ok := parseInt(args[1])
	if !ok || count < 0 {
		return resp.Err("value is out of range, must be positive")
	}
	popped, err := ops.SPop(ctx, args[0], count)
	if err != nil {
		return errorReply(err)
	}
	return resp.BulkArr(popped)
}

func (h *Handler) srandmemberOp(ctx context.Context, ops storage.Operations, args []string) resp.Value {
	if len(args) > 2 {
		return resp.ErrSyntax()
	}
	if len(args) == 1 {
		members, err := ops.SRandMember(ctx, args[0], 1)
		if err != nil {
			return errorReply(err)
		}
		if len(members) == 0 {
			return resp.NullBulk()
		}
		return resp.Bulk(members[0])
	}
	count, ok := parseInt(args[1])
	if !ok {
		return errNotInteger
	}
	members, err := ops.SRandMember(ctx, args[0], count)
	if err != nil {
		return errorReply(err)
	}
	return resp.BulkArr(members)
}

func (h *Handler) smoveOp(ctx context.Context, ops storage.Operations, args []string) resp.Value {
	ok, err := ops.SMove(ctx, args[0], args[1], args[2])
	if err != nil {
		return errorReply(err)
	}
	return boolInt(ok)
}

func (h *Handler) combineWith(ctx context.Context, ops storage.Operations, op storage.SetOp, keys []string) resp.Value {
	members, err := ops.SCombine(ctx, op, keys)
	if err != nil {
		return errorReply(err)
	}
	return resp.BulkArr(members)
}

func (h *Handler) combineStoreWith(ctx context.Context, ops storage.Operations, op storage.SetOp, args []string) resp.Value {
	n, err := ops.SCombineStore(ctx, op, args[0], args[1:])
	if err != nil {
		return errorReply(err)
	}
	return resp.Int(n)
}

func (h *Handler) sinterOp(ctx context.Context, ops storage.Operations, args []string) resp.Value {
	return h.combineWith(ctx, ops, storage.SetInter, args)
}

func (h *Handler) sunionOp(ctx context.Context, ops storage.Operations, args []string) resp.Value {
	return h.combineWith(ctx, ops, storage.SetUnion, args)
}

func (h *Handler) sdiffOp(ctx context.Context, ops storage.Operations, args []string) resp.Value {
	return h.combineWith(ctx, ops, storage.SetDiff, args)
}

func (h *Handler) sinterstoreOp(ctx context.Context, ops storage.Operations, args []string) resp.Value {
	return h.combineStoreWith(ctx, ops, storage.SetInter, args)
}

func (h *Handler) sunionstoreOp(ctx context.Context, ops storage.Operations, args []string) resp.Value {
	return h.combineStoreWith(ctx, ops, storage.SetUnion, args)
}

func (h *Handler) sdiffstoreOp(ctx context.Context, ops storage.Operations, args []string) resp.Value {
	return h.combineStoreWith(ctx, ops, storage.SetDiff, args)
}
