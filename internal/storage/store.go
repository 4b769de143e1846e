package storage

import (
	"context"
	"sync"
	"time"
)

// entry is one value in the keyspace. value holds, by kind:
//
//	TypeString      string
//	TypeList        *[]string
//	TypeSet         map[string]struct{}
//	TypeZSet        *sortedSet
//	TypeHash        map[string]string
//	TypeHyperLogLog *HyperLogLog
//	TypeStream      *stream
type entry struct {
	kind  KeyType
	value any
}

// Store is an in-memory keyspace. All access goes through Do or Exec, which
// serialize callers on a single mutex.
type Store struct {
	mu sync.Mutex
	ks *keyspace
}

// Option configures a Store.
type Option func(*Store)

// WithClock replaces time.Now, mainly for expiry tests.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		s.ks.now = now
	}
}

// WithExpireHook registers fn to be called with the key of every entry
// removed because its TTL elapsed.
func WithExpireHook(fn func(key string)) Option {
	return func(s *Store) {
		s.ks.onExpire = fn
	}
}

// NewStore creates an empty store
func NewStore(opts ...Option) *Store {
	s := &Store{ks: newKeyspace()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Do runs fn inside the store's critical section.
func (s *Store) Do(ctx context.Context, fn func(ops Operations) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn(s.ks)
}

// WatchSet is a snapshot of key versions taken by Watch.
type WatchSet map[string]uint64

// Watch snapshots the versions of keys for a later Exec. Every Watch must be
// paired with an Unwatch.
func (s *Store) Watch(keys ...string) WatchSet {
	s.mu.Lock()
	defer s.mu.Unlock()

	ws := make(WatchSet, len(keys))
	for _, key := range keys {
		s.ks.lookup(key)
		if _, ok := ws[key]; ok {
			continue
		}
		s.ks.watchers[key]++
		ws[key] = s.ks.versions[key]
	}
	return ws
}

// Unwatch releases the keys registered by Watch.
func (s *Store) Unwatch(ws WatchSet) {
	if len(ws) == 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	for key := range ws {
		s.ks.watchers[key]--
		if s.ks.watchers[key] <= 0 {
			delete(s.ks.watchers, key)
			if _, ok := s.ks.entries[key]; !ok {
				delete(s.ks.versions, key)
			}
		}
	}
}

// Exec runs fn like Do, but first checks that no key in ws changed since it
// was watched. If one did, fn is not run and ErrTxAborted is returned.
func (s *Store) Exec(ctx context.Context, ws WatchSet, fn func(ops Operations) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	for key, version := range ws {
		s.ks.lookup(key)
		if s.ks.versions[key] != version {
			return ErrTxAborted
		}
	}
	return fn(s.ks)
}

// Len returns the number of live keys, counting keys whose TTL elapsed but
// that have not been reclaimed yet.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.ks.entries)
}

// Now reads the store's clock. Relative expiry times are resolved against
// it so they agree with the deadlines the store checks.
func (s *Store) Now() time.Time {
	return s.ks.now()
}

// keyspace holds the entries and implements Operations. It is never used
// without holding Store.mu.
type keyspace struct {
	entries  map[string]*entry
	expires  map[string]time.Time
	versions map[string]uint64
	watchers map[string]int
	clock    uint64

	now      func() time.Time
	onExpire func(key string)
}

func newKeyspace() *keyspace {
	return &keyspace{
		entries:  make(map[string]*entry),
		expires:  make(map[string]time.Time),
		versions: make(map[string]uint64),
		watchers: make(map[string]int),
		now:      time.Now,
	}
}

var _ Operations = (*keyspace)(nil)

// lookup returns the live entry for key, reclaiming it first if its TTL
// elapsed.
func (ks *keyspace) lookup(key string) *entry {
	e, ok := ks.entries[key]
	if !ok {
		return nil
	}
	if ks.expireIfNeeded(key) {
		return nil
	}
	return e
}

// get returns the entry for key if it exists and holds kind. A missing key
// yields (nil, nil).
func (ks *keyspace) get(key string, kind KeyType) (*entry, error) {
	e := ks.lookup(key)
	if e == nil {
		return nil, nil
	}
	if e.kind != kind {
		return nil, ErrWrongType
	}
	return e, nil
}

// getOrCreate returns the entry for key, creating it with init() when absent.
func (ks *keyspace) getOrCreate(key string, kind KeyType, init func() any) (*entry, error) {
	e, err := ks.get(key, kind)
	if err != nil {
		return nil, err
	}
	if e == nil {
		e = &entry{kind: kind, value: init()}
		ks.entries[key] = e
	}
	return e, nil
}

// put replaces whatever key holds and clears its TTL.
func (ks *keyspace) put(key string, kind KeyType, value any) {
	ks.entries[key] = &entry{kind: kind, value: value}
	delete(ks.expires, key)
	ks.touch(key)
}

// touch records a modification of key for WATCH.
func (ks *keyspace) touch(key string) {
	ks.clock++
	ks.versions[key] = ks.clock
}

// remove deletes key and reports whether it existed.
func (ks *keyspace) remove(key string) bool {
	if _, ok := ks.entries[key]; !ok {
		return false
	}
	delete(ks.entries, key)
	delete(ks.expires, key)
	if ks.watchers[key] > 0 {
		ks.touch(key)
	} else {
		delete(ks.versions, key)
	}
	return true
}

// removeIfEmpty deletes container entries that became empty.
func (ks *keyspace) removeIfEmpty(key string, e *entry) {
	var n int
	switch v := e.value.(type) {
	case *[]string:
		n = len(*v)
	case map[string]struct{}:
		n = len(v)
	case map[string]string:
		n = len(v)
	case *sortedSet:
		n = v.Len()
	default:
		return
	}
	if n == 0 {
		ks.remove(key)
	}
}
