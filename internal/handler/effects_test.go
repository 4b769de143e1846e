package handler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/mnorrsken/memkeys/internal/pubsub"
	"github.com/mnorrsken/memkeys/internal/resp"
	"github.com/mnorrsken/memkeys/internal/storage"
)

func waitForBlocked(t *testing.T, h *Handler) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for h.notifier.Blocked() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("no client blocked")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestScriptWritesWakeBlockedReaders(t *testing.T) {
	ctx := context.Background()
	script := "return redis.call('LPUSH', ARGV[1], 'x')"

	tests := []struct {
		name string
		run  func(h *Handler) resp.Value
	}{
		{"eval", func(h *Handler) resp.Value {
			return h.Execute(ctx, "EVAL", script, "0", "q")
		}},
		{"eval inside exec", func(h *Handler) resp.Value {
			replies, err := h.ExecBatch(ctx, nil, []Call{{Name: "EVAL", Args: []string{script, "0", "q"}}})
			if err != nil {
				return errorReply(err)
			}
			return replies[0]
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newTestHandler("")
			done := make(chan resp.Value, 1)
			go func() {
				done <- h.Execute(ctx, "BLPOP", "q", "10")
			}()
			waitForBlocked(t, h)

			if got := tt.run(h); got.Num != 1 {
				t.Fatalf("script reply = %+v, want 1", got)
			}
			select {
			case got := <-done:
				if len(got.Array) != 2 || got.Array[0].Bulk != "q" || got.Array[1].Bulk != "x" {
					t.Errorf("BLPOP = %+v, want [q x]", got)
				}
			case <-time.After(2 * time.Second):
				t.Fatal("BLPOP not woken by the script's LPUSH")
			}
		})
	}
}

// storeReader reads the store from inside Deliver, which only returns if
// the store is not locked during delivery.
type storeReader struct {
	id    uint64
	store *storage.Store

	mu    sync.Mutex
	got   []string
	sizes []int
}

func (r *storeReader) GetID() uint64 { return r.id }

func (r *storeReader) Deliver(msg pubsub.Message) error {
	n := r.store.Len()
	r.mu.Lock()
	defer r.mu.Unlock()
	r.got = append(r.got, msg.Payload)
	r.sizes = append(r.sizes, n)
	return nil
}

func TestPublishInsideExecDeliversAfterUnlock(t *testing.T) {
	h := newTestHandler("")
	s := NewSession("test")
	r := &storeReader{id: pubsub.NextID(), store: h.store}
	h.hub.Subscribe(r, "events")

	done := make(chan resp.Value, 1)
	go func() {
		send(h, s, "MULTI")
		send(h, s, "SET", "k", "v")
		send(h, s, "PUBLISH", "events", "set k")
		done <- send(h, s, "EXEC")
	}()

	var got resp.Value
	select {
	case got = <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("EXEC did not return; PUBLISH delivered under the store lock")
	}
	if len(got.Array) != 2 || got.Array[1].Num != 1 {
		t.Fatalf("EXEC = %+v", got)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.got) != 1 || r.got[0] != "set k" {
		t.Fatalf("delivered %v", r.got)
	}
	// the transaction's write is visible to the subscriber
	if r.sizes[0] != 1 {
		t.Errorf("store size seen on delivery = %d, want 1", r.sizes[0])
	}
}

func TestPublishInsideAbortedExecDeliversNothing(t *testing.T) {
	h := newTestHandler("")
	s := NewSession("test")
	r := &storeReader{id: pubsub.NextID(), store: h.store}
	h.hub.Subscribe(r, "events")

	send(h, s, "WATCH", "k")
	h.Execute(context.Background(), "SET", "k", "changed")
	send(h, s, "MULTI")
	send(h, s, "PUBLISH", "events", "never")
	if got := send(h, s, "EXEC"); !got.Null {
		t.Fatalf("EXEC = %+v, want null", got)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.got) != 0 {
		t.Errorf("aborted transaction delivered %v", r.got)
	}
}

type failingRelay struct{}

func (failingRelay) Publish(ctx context.Context, channel, message string) error {
	return pubsub.ErrPayloadTooLarge
}

func TestPublishReportsLocalCountWhenRelayFails(t *testing.T) {
	h := newTestHandler("")
	h.hub.SetRelay(failingRelay{})
	sub := pubsub.NewChannelSubscriber(h.hub, 4)
	defer sub.Close()
	sub.Subscribe("events")

	if got := h.Execute(context.Background(), "PUBLISH", "events", "m"); got.IsError() || got.Num != 1 {
		t.Errorf("PUBLISH = %+v, want 1", got)
	}
	select {
	case msg := <-sub.Messages():
		if msg.Payload != "m" {
			t.Errorf("payload = %q", msg.Payload)
		}
	default:
		t.Error("local subscriber missed the message")
	}
}
