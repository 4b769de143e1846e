package handler

import (
	"context"
	"math"
	"strconv"
	"time"

	"github.com/mnorrsken/memkeys/internal/metrics"
	"github.com/mnorrsken/memkeys/internal/resp"
	"github.com/mnorrsken/memkeys/internal/storage"
)

// parseTimeout parses a BLPOP-style timeout in seconds. Zero means forever.
func parseTimeout(s string) (time.Duration, resp.Value, bool) {
	secs, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(secs) || math.IsInf(secs, 0) {
		return 0, resp.Err("timeout is not a float or out of range"), false
	}
	if secs < 0 {
		return 0, resp.Err("timeout is negative"), false
	}
	return time.Duration(secs * float64(time.Second)), resp.Value{}, true
}

// parseBlockMillis parses the BLOCK argument of XREAD and XREADGROUP.
func parseBlockMillis(s string) (time.Duration, resp.Value, bool) {
	ms, ok := parseInt(s)
	if !ok {
		return 0, resp.Err("timeout is not an integer or out of range"), false
	}
	if ms < 0 {
		return 0, resp.Err("timeout is negative"), false
	}
	return time.Duration(ms) * time.Millisecond, resp.Value{}, true
}

// block runs attempt under the store lock until it reports ready, the
// timeout elapses or ctx is done. A zero timeout waits forever. On timeout
// the reply is a null array.
//
// The waiter is registered before each attempt, so a write landing between
// the attempt and the wait still wakes us.
func (h *Handler) block(ctx context.Context, keys []string, timeout time.Duration, attempt func(ops storage.Operations) (resp.Value, bool)) resp.Value {
	var deadline time.Time
	if timeout > 0 {
		deadline = time.Now().Add(timeout)
	}

	for {
		w := h.notifier.Register(keys...)

		var (
			reply resp.Value
			ready bool
		)
		err := h.store.Do(ctx, func(ops storage.Operations) error {
			reply, ready = attempt(ops)
			return nil
		})
		if err != nil {
			w.Close()
			if ctx.Err() != nil {
				return resp.NullArray()
			}
			return errorReply(err)
		}
		if ready {
			w.Close()
			return reply
		}

		var wait time.Duration
		if timeout > 0 {
			wait = time.Until(deadline)
			if wait <= 0 {
				w.Close()
				return resp.NullArray()
			}
		}

		metrics.BlockedClients.Inc()
		woke := w.Wait(ctx, wait)
		metrics.BlockedClients.Dec()
		w.Close()
		if !woke {
			return resp.NullArray()
		}
	}
}
