// Package pubsub provides Redis-compatible publish/subscribe. Delivery is
// in-process. An optional Relay fans messages out to other instances.
package pubsub

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/hashicorp/go-hclog"
	"github.com/mnorrsken/memkeys/internal/glob"
	"github.com/mnorrsken/memkeys/internal/metrics"
	"github.com/mnorrsken/memkeys/internal/resp"
)

var subscriberIDCounter uint64

// NextID returns a process-unique subscriber ID. Connection IDs come from
// the same sequence so a hub never sees two subscribers with one ID.
func NextID() uint64 {
	return atomic.AddUint64(&subscriberIDCounter, 1)
}

// ErrSlowSubscriber is returned by Deliver when a subscriber's buffer is full
// and the message was dropped.
var ErrSlowSubscriber = errors.New("subscriber buffer full, message dropped")

// Message is one delivered publication. Pattern is set for pmessage.
type Message struct {
	Kind    string
	Pattern string
	Channel string
	Payload string
}

// Value encodes the message as the reply a subscribed client receives.
func (m Message) Value() resp.Value {
	if m.Kind == "pmessage" {
		return resp.PushVal(resp.Bulk(m.Kind), resp.Bulk(m.Pattern), resp.Bulk(m.Channel), resp.Bulk(m.Payload))
	}
	return resp.PushVal(resp.Bulk(m.Kind), resp.Bulk(m.Channel), resp.Bulk(m.Payload))
}

// Reply builds a (p)(un)subscribe confirmation. An empty name is sent as null,
// which is what UNSUBSCRIBE without subscriptions replies with.
func Reply(kind, name string, count int) resp.Value {
	nameVal := resp.Bulk(name)
	if name == "" {
		nameVal = resp.NullBulk()
	}
	return resp.PushVal(resp.Bulk(kind), nameVal, resp.Int(int64(count)))
}

// Subscriber represents a client that can receive pub/sub messages
type Subscriber interface {
	// Deliver hands a message to the client. It must not block.
	Deliver(msg Message) error
	// GetID returns the subscriber's unique identifier
	GetID() uint64
}

// Relay forwards publications to other instances.
type Relay interface {
	Publish(ctx context.Context, channel, message string) error
}

// Hub manages pub/sub subscriptions and message routing
type Hub struct {
	mu            sync.RWMutex
	subscriptions map[string]map[uint64]Subscriber // channel -> subscriberID -> subscriber
	subscribers   map[uint64]map[string]bool       // subscriberID -> channels
	patterns      map[string]map[uint64]Subscriber // pattern -> subscriberID -> subscriber
	subPatterns   map[uint64]map[string]bool       // subscriberID -> patterns

	relay  Relay
	logger hclog.Logger
}

// NewHub creates a new pub/sub hub
func NewHub(logger hclog.Logger) *Hub {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &Hub{
		subscriptions: make(map[string]map[uint64]Subscriber),
		subscribers:   make(map[uint64]map[string]bool),
		patterns:      make(map[string]map[uint64]Subscriber),
		subPatterns:   make(map[uint64]map[string]bool),
		logger:        logger,
	}
}

// SetRelay makes Publish forward every message through r.
func (h *Hub) SetRelay(r Relay) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.relay = r
}

// Subscribe adds a subscriber to channels. The returned counts are the
// subscriber's total subscriptions after each channel.
func (h *Hub) Subscribe(sub Subscriber, channels ...string) []int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return subscribe(h.subscriptions, h.subscribers, h.subPatterns, sub, channels)
}

// PSubscribe adds a subscriber to glob patterns.
func (h *Hub) PSubscribe(sub Subscriber, patterns ...string) []int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return subscribe(h.patterns, h.subPatterns, h.subscribers, sub, patterns)
}

// Unsubscribe removes a subscriber from channels, or from all of them when
// none are given. It returns the channels removed and the remaining count
// after each.
func (h *Hub) Unsubscribe(sub Subscriber, channels ...string) ([]string, []int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return unsubscribe(h.subscriptions, h.subscribers, h.subPatterns, sub.GetID(), channels)
}

// PUnsubscribe removes a subscriber from patterns, or from all of them.
func (h *Hub) PUnsubscribe(sub Subscriber, patterns ...string) ([]string, []int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return unsubscribe(h.patterns, h.subPatterns, h.subscribers, sub.GetID(), patterns)
}

func subscribe(index map[string]map[uint64]Subscriber, own, other map[uint64]map[string]bool, sub Subscriber, names []string) []int {
	id := sub.GetID()
	counts := make([]int, len(names))
	if own[id] == nil {
		own[id] = make(map[string]bool)
	}
	for i, name := range names {
		if index[name] == nil {
			index[name] = make(map[uint64]Subscriber)
		}
		index[name][id] = sub
		own[id][name] = true
		counts[i] = len(own[id]) + len(other[id])
	}
	return counts
}

func unsubscribe(index map[string]map[uint64]Subscriber, own, other map[uint64]map[string]bool, id uint64, names []string) ([]string, []int) {
	if len(names) == 0 {
		for name := range own[id] {
			names = append(names, name)
		}
		sort.Strings(names)
	}
	counts := make([]int, len(names))
	for i, name := range names {
		if subs, ok := index[name]; ok {
			delete(subs, id)
			if len(subs) == 0 {
				delete(index, name)
			}
		}
		if mine, ok := own[id]; ok {
			delete(mine, name)
			if len(mine) == 0 {
				delete(own, id)
			}
		}
		counts[i] = len(own[id]) + len(other[id])
	}
	return names, counts
}

// RemoveSubscriber drops every subscription of a disconnected client.
func (h *Hub) RemoveSubscriber(subID uint64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	unsubscribe(h.subscriptions, h.subscribers, h.subPatterns, subID, nil)
	unsubscribe(h.patterns, h.subPatterns, h.subscribers, subID, nil)
}

// SubscriptionCount returns how many channels and patterns a subscriber has.
func (h *Hub) SubscriptionCount(subID uint64) (channels int, patterns int) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subscribers[subID]), len(h.subPatterns[subID])
}

// Publish delivers message to local subscribers, then to the relay if one is
// set. It returns the number of local receivers, channel and pattern
// subscriptions both counted. A relay failure is returned alongside that
// count; local delivery has happened regardless.
func (h *Hub) Publish(ctx context.Context, channel, message string) (int64, error) {
	n := h.Deliver(channel, message)

	h.mu.RLock()
	relay := h.relay
	h.mu.RUnlock()
	if relay != nil {
		if err := relay.Publish(ctx, channel, message); err != nil {
			return n, fmt.Errorf("relay publish to %q: %w", channel, err)
		}
	}
	return n, nil
}

// Receivers counts the local subscriptions a message on channel would
// reach, without delivering anything.
func (h *Hub) Receivers(channel string) int64 {
	h.mu.RLock()
	defer h.mu.RUnlock()
	n := int64(len(h.subscriptions[channel]))
	for pattern, subs := range h.patterns {
		if glob.Match(pattern, channel) {
			n += int64(len(subs))
		}
	}
	return n
}

// Deliver fans a message out to local subscribers without relaying it. The
// relay calls it for messages published by other instances.
func (h *Hub) Deliver(channel, message string) int64 {
	type target struct {
		sub Subscriber
		msg Message
	}

	h.mu.RLock()
	var targets []target
	for _, sub := range h.subscriptions[channel] {
		targets = append(targets, target{sub, Message{Kind: "message", Channel: channel, Payload: message}})
	}
	for pattern, subs := range h.patterns {
		if !glob.Match(pattern, channel) {
			continue
		}
		for _, sub := range subs {
			targets = append(targets, target{sub, Message{Kind: "pmessage", Pattern: pattern, Channel: channel, Payload: message}})
		}
	}
	h.mu.RUnlock()

	for _, t := range targets {
		if err := t.sub.Deliver(t.msg); err != nil {
			h.logger.Debug("delivery failed", "subscriber", t.sub.GetID(), "channel", channel, "error", err)
			continue
		}
		metrics.PubSubMessages.Inc()
	}
	return int64(len(targets))
}

// Channels lists active channels matching pattern, all of them when pattern
// is empty.
func (h *Hub) Channels(pattern string) []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]string, 0, len(h.subscriptions))
	for ch := range h.subscriptions {
		if pattern == "" || glob.Match(pattern, ch) {
			out = append(out, ch)
		}
	}
	sort.Strings(out)
	return out
}

// NumSub returns the subscriber count of each channel.
func (h *Hub) NumSub(channels ...string) []int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	counts := make([]int, len(channels))
	for i, ch := range channels {
		counts[i] = len(h.subscriptions[ch])
	}
	return counts
}

// NumPat returns the number of distinct patterns subscribed to.
func (h *Hub) NumPat() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.patterns)
}
