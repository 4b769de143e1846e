package handler

import (
	"context"
	"fmt"
	"strings"

	"github.com/mnorrsken/memkeys/internal/pubsub"
	"github.com/mnorrsken/memkeys/internal/resp"
	"github.com/mnorrsken/memkeys/internal/storage"
)

// ============== Pub/Sub Commands ==============

var errNoSubscriber = resp.Err("pub/sub is not available on this connection")

func (h *Handler) subscribeCmd(ctx context.Context, s *Session, args []string) []resp.Value {
	if s.Subscriber == nil {
		return one(errNoSubscriber)
	}
	counts := h.hub.Subscribe(s.Subscriber, args...)
	out := make([]resp.Value, len(args))
	for i, ch := range args {
		out[i] = pubsub.Reply("subscribe", ch, counts[i])
	}
	return out
}

func (h *Handler) psubscribeCmd(ctx context.Context, s *Session, args []string) []resp.Value {
	if s.Subscriber == nil {
		return one(errNoSubscriber)
	}
	counts := h.hub.PSubscribe(s.Subscriber, args...)
	out := make([]resp.Value, len(args))
	for i, p := range args {
		out[i] = pubsub.Reply("psubscribe", p, counts[i])
	}
	return out
}

// unsubscribeReplies renders one confirmation per removed name. With nothing
// to remove a single reply with a null name is sent.
func unsubscribeReplies(kind string, names []string, counts []int) []resp.Value {
	if len(names) == 0 {
		return one(pubsub.Reply(kind, "", 0))
	}
	out := make([]resp.Value, len(names))
	for i, name := range names {
		out[i] = pubsub.Reply(kind, name, counts[i])
	}
	return out
}

func (h *Handler) unsubscribeCmd(ctx context.Context, s *Session, args []string) []resp.Value {
	if s.Subscriber == nil {
		return one(errNoSubscriber)
	}
	names, counts := h.hub.Unsubscribe(s.Subscriber, args...)
	return unsubscribeReplies("unsubscribe", names, counts)
}

func (h *Handler) punsubscribeCmd(ctx context.Context, s *Session, args []string) []resp.Value {
	if s.Subscriber == nil {
		return one(errNoSubscriber)
	}
	names, counts := h.hub.PUnsubscribe(s.Subscriber, args...)
	return unsubscribeReplies("punsubscribe", names, counts)
}

func (h *Handler) publishCmd(ctx context.Context, s *Session, args []string) resp.Value {
	n, err := h.hub.Publish(ctx, args[0], args[1])
	if err != nil {
		// local subscribers got the message; the count still stands
		h.logger.Warn("relay publish failed", "channel", args[0], "error", err)
	}
	return resp.Int(n)
}

func (h *Handler) pubsubOp(ctx context.Context, ops storage.Operations, args []string) resp.Value {
	sub := strings.ToUpper(args[0])
	args = args[1:]
	switch sub {
	case "CHANNELS":
		if len(args) > 1 {
			return resp.ErrWrongArgs("pubsub|channels")
		}
		pattern := ""
		if len(args) == 1 {
			pattern = args[0]
		}
		return resp.BulkArr(h.hub.Channels(pattern))

	case "NUMSUB":
		counts := h.hub.NumSub(args...)
		out := make([]resp.Value, 0, 2*len(args))
		for i, ch := range args {
			out = append(out, resp.Bulk(ch), resp.Int(int64(counts[i])))
		}
		return resp.Arr(out...)

	case "NUMPAT":
		if len(args) != 0 {
			return resp.ErrWrongArgs("pubsub|numpat")
		}
		return resp.Int(int64(h.hub.NumPat()))
	}
	return resp.Err(fmt.Sprintf("unknown subcommand '%s'. Try PUBSUB HELP.", strings.ToLower(sub)))
}
