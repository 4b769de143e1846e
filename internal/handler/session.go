package handler

import (
	"fmt"
	"sync"
	"time"

	"github.com/mnorrsken/memkeys/internal/pubsub"
	"github.com/mnorrsken/memkeys/internal/storage"
)

// Session is the per-connection state commands read and change: identity,
// protocol version, authentication, the MULTI queue and watched keys.
type Session struct {
	ID        uint64
	Addr      string
	CreatedAt time.Time

	mu         sync.Mutex
	name       string
	libName    string
	libVersion string
	proto      int
	authed     bool
	closing    bool

	inMulti bool
	dirty   bool
	queue   []queuedCall
	watched storage.WatchSet

	// Subscriber receives pub/sub messages. The server sets it before the
	// first command.
	Subscriber pubsub.Subscriber
}

type queuedCall struct {
	name string
	args []string
}

// NewSession creates the state of a new connection.
func NewSession(addr string) *Session {
	return &Session{
		ID:        pubsub.NextID(),
		Addr:      addr,
		CreatedAt: time.Now(),
		proto:     2,
	}
}

// GetID returns the client ID
func (s *Session) GetID() uint64 {
	return s.ID
}

// GetName returns the client name
func (s *Session) GetName() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.name
}

// SetName sets the client name
func (s *Session) SetName(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.name = name
}

// SetLibInfo sets the client library info
func (s *Session) SetLibInfo(libName, libVersion string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if libName != "" {
		s.libName = libName
	}
	if libVersion != "" {
		s.libVersion = libVersion
	}
}

// Proto returns the negotiated protocol version, 2 or 3.
func (s *Session) Proto() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.proto
}

func (s *Session) setProto(p int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.proto = p
}

// Authenticated reports whether AUTH (or HELLO AUTH) succeeded.
func (s *Session) Authenticated() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.authed
}

func (s *Session) setAuthenticated() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.authed = true
}

// Closing reports whether the client asked to close the connection (QUIT).
func (s *Session) Closing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closing
}

// InMulti reports whether commands are being queued.
func (s *Session) InMulti() bool {
	return s.inMulti
}

// InPubSubMode reports whether the connection holds any subscription.
func (s *Session) InPubSubMode(hub *pubsub.Hub) bool {
	if hub == nil || s.Subscriber == nil {
		return false
	}
	ch, pat := hub.SubscriptionCount(s.ID)
	return ch+pat > 0
}

// GetInfo returns the CLIENT INFO / CLIENT LIST line for this session.
func (s *Session) GetInfo() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	age := int64(time.Since(s.CreatedAt).Seconds())
	multi := -1
	if s.inMulti {
		multi = len(s.queue)
	}
	return fmt.Sprintf("id=%d addr=%s laddr= fd=0 name=%s age=%d idle=0 flags=N db=0 sub=0 psub=0 multi=%d qbuf=0 qbuf-free=0 obl=0 oll=0 omem=0 events=r cmd=client|info user=default lib-name=%s lib-ver=%s resp=%d",
		s.ID, s.Addr, s.name, age, multi, s.libName, s.libVersion, s.proto)
}

func (s *Session) resetMulti() {
	s.inMulti = false
	s.dirty = false
	s.queue = nil
}

// pendingCount is the number of queued commands, used by tests and INFO.
func (s *Session) pendingCount() int {
	return len(s.queue)
}
