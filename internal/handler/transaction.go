package handler

import (
	"context"
	"errors"

	"github.com/mnorrsken/memkeys/internal/resp"
	"github.com/mnorrsken/memkeys/internal/storage"
)

// ============== Transaction Commands ==============

func (h *Handler) multiCmd(ctx context.Context, s *Session, args []string) resp.Value {
	if s.inMulti {
		return resp.Err("MULTI calls can not be nested")
	}
	s.inMulti = true
	s.dirty = false
	s.queue = nil
	return resp.OK()
}

func (h *Handler) execCmd(ctx context.Context, s *Session, args []string) resp.Value {
	if !s.inMulti {
		return resp.Err("EXEC without MULTI")
	}
	queue, dirty, ws := s.queue, s.dirty, s.watched
	s.resetMulti()
	s.watched = nil
	defer h.store.Unwatch(ws)

	if dirty {
		return resp.ErrRaw("EXECABORT Transaction discarded because of previous errors.")
	}

	calls := make([]Call, len(queue))
	for i, q := range queue {
		calls[i] = Call{Name: q.name, Args: q.args}
	}
	replies, err := h.ExecBatch(ctx, ws, calls)
	if errors.Is(err, storage.ErrTxAborted) {
		return resp.NullArray()
	}
	if err != nil {
		return errorReply(err)
	}
	return resp.Arr(replies...)
}

func (h *Handler) discardCmd(ctx context.Context, s *Session, args []string) resp.Value {
	if !s.inMulti {
		return resp.Err("DISCARD without MULTI")
	}
	s.resetMulti()
	h.unwatchSession(s)
	return resp.OK()
}

func (h *Handler) watchCmd(ctx context.Context, s *Session, args []string) resp.Value {
	if s.inMulti {
		return resp.Err("WATCH inside MULTI is not allowed")
	}
	var fresh []string
	for _, key := range args {
		if _, ok := s.watched[key]; !ok {
			fresh = append(fresh, key)
		}
	}
	if len(fresh) == 0 {
		return resp.OK()
	}
	ws := h.store.Watch(fresh...)
	if s.watched == nil {
		s.watched = ws
		return resp.OK()
	}
	for k, v := range ws {
		s.watched[k] = v
	}
	return resp.OK()
}

func (h *Handler) unwatchCmd(ctx context.Context, s *Session, args []string) resp.Value {
	h.unwatchSession(s)
	return resp.OK()
}

func (h *Handler) unwatchSession(s *Session) {
	if s.watched != nil {
		h.store.Unwatch(s.watched)
		s.watched = nil
	}
}

// ReleaseSession drops the per-connection state a closed client still holds
// in the store and the hub.
func (h *Handler) ReleaseSession(s *Session) {
	s.resetMulti()
	h.unwatchSession(s)
	h.hub.RemoveSubscriber(s.ID)
}
