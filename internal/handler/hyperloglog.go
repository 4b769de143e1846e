package handler

import (
	"context"

	"github.com/mnorrsken/memkeys/internal/resp"
	"github.com/mnorrsken/memkeys/internal/storage"
)

// ============== HyperLogLog Commands ==============

func (h *Handler) pfaddOp(ctx context.Context, ops storage.Operations, args []string) resp.Value {
	n, err := ops.PFAdd(ctx, args[0], args[1:])
	if err != nil {
		return errorReply(err)
	}
	return resp.Int(n)
}

func (h *Handler) pfcountOp(ctx context.Context, ops storage.Operations, args []string) resp.Value {
	n, err := ops.PFCount(ctx, args)
	if err != nil {
		return errorReply(err)
	}
	return resp.Int(n)
}

func (h *Handler) pfmergeOp(ctx context.Context, ops storage.Operations, args []string) resp.Value {
	if err := ops.PFMerge(ctx, args[0], args[1:]); err != nil {
		return errorReply(err)
	}
	return resp.OK()
}
