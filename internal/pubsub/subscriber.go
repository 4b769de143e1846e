package pubsub

import (
	"sync"
)

// DefaultBufferSize is the message buffer of a ChannelSubscriber.
const DefaultBufferSize = 256

// ChannelSubscriber receives messages on a Go channel. It is the embedded
// API's counterpart to a subscribed connection.
type ChannelSubscriber struct {
	id  uint64
	hub *Hub

	mu     sync.Mutex
	ch     chan Message
	done   chan struct{}
	closed bool
}

// NewChannelSubscriber creates a subscriber on hub with a buffer of size
// messages. A full buffer drops new messages.
func NewChannelSubscriber(hub *Hub, size int) *ChannelSubscriber {
	if size <= 0 {
		size = DefaultBufferSize
	}
	return &ChannelSubscriber{
		id:   NextID(),
		hub:  hub,
		ch:   make(chan Message, size),
		done: make(chan struct{}),
	}
}

// GetID returns the subscriber's unique identifier
func (s *ChannelSubscriber) GetID() uint64 {
	return s.id
}

// Deliver queues msg without blocking.
func (s *ChannelSubscriber) Deliver(msg Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	select {
	case s.ch <- msg:
		return nil
	default:
		return ErrSlowSubscriber
	}
}

// Subscribe adds channels.
func (s *ChannelSubscriber) Subscribe(channels ...string) {
	s.hub.Subscribe(s, channels...)
}

// PSubscribe adds glob patterns.
func (s *ChannelSubscriber) PSubscribe(patterns ...string) {
	s.hub.PSubscribe(s, patterns...)
}

// Unsubscribe removes channels, all of them when none are given.
func (s *ChannelSubscriber) Unsubscribe(channels ...string) {
	s.hub.Unsubscribe(s, channels...)
}

// PUnsubscribe removes patterns, all of them when none are given.
func (s *ChannelSubscriber) PUnsubscribe(patterns ...string) {
	s.hub.PUnsubscribe(s, patterns...)
}

// Messages returns the delivery channel. It is closed by Close.
func (s *ChannelSubscriber) Messages() <-chan Message {
	return s.ch
}

// Done is closed once the subscriber is closed.
func (s *ChannelSubscriber) Done() <-chan struct{} {
	return s.done
}

// Close removes every subscription and closes Messages.
func (s *ChannelSubscriber) Close() {
	s.hub.RemoveSubscriber(s.id)
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.ch)
		close(s.done)
	}
}
