// Package notify wakes clients blocked on keys (BLPOP, BRPOP, XREAD BLOCK,
// XREADGROUP BLOCK) when a writer touches one of those keys. Waiting never
// holds the store lock.
package notify

import (
	"context"
	"sync"
	"time"
)

// Notifier tracks blocked clients per key.
type Notifier struct {
	mu      sync.Mutex
	waiters map[string]map[*Waiter]struct{}
	blocked int

	done     chan struct{}
	stopOnce sync.Once
}

// New creates a new notifier
func New() *Notifier {
	return &Notifier{
		waiters: make(map[string]map[*Waiter]struct{}),
		done:    make(chan struct{}),
	}
}

// Waiter is a registration on a set of keys. Register it before checking
// whether data is available so a push between the check and the wait is not
// missed.
type Waiter struct {
	n    *Notifier
	keys []string
	ch   chan string
	once sync.Once
}

// Register starts listening for pushes to any of keys.
func (n *Notifier) Register(keys ...string) *Waiter {
	w := &Waiter{n: n, keys: keys, ch: make(chan string, 1)}

	n.mu.Lock()
	defer n.mu.Unlock()
	for _, key := range keys {
		set, ok := n.waiters[key]
		if !ok {
			set = make(map[*Waiter]struct{})
			n.waiters[key] = set
		}
		set[w] = struct{}{}
	}
	n.blocked++
	return w
}

// Wait blocks until one of the keys is notified, the timeout elapses, ctx is
// done or the notifier stops. A timeout <= 0 waits without a deadline.
// It reports whether a key was notified.
func (w *Waiter) Wait(ctx context.Context, timeout time.Duration) bool {
	var timer <-chan time.Time
	if timeout > 0 {
		t := time.NewTimer(timeout)
		defer t.Stop()
		timer = t.C
	}

	select {
	case <-w.ch:
		return true
	case <-timer:
		return false
	case <-ctx.Done():
		return false
	case <-w.n.done:
		return false
	}
}

// Close unregisters the waiter. It is safe to call more than once.
func (w *Waiter) Close() {
	w.once.Do(func() {
		n := w.n
		n.mu.Lock()
		defer n.mu.Unlock()
		for _, key := range w.keys {
			set := n.waiters[key]
			delete(set, w)
			if len(set) == 0 {
				delete(n.waiters, key)
			}
		}
		n.blocked--
	})
}

// Notify wakes every waiter registered on key.
func (n *Notifier) Notify(key string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	for w := range n.waiters[key] {
		select {
		case w.ch <- key:
		default:
			// already woken
		}
	}
}

// Blocked returns the number of registered waiters.
func (n *Notifier) Blocked() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.blocked
}

// Stop releases every waiter. Later waits return immediately.
func (n *Notifier) Stop() {
	n.stopOnce.Do(func() { close(n.done) })
}
