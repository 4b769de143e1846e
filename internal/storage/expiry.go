package storage

import (
	"context"
	"sync"
	"time"

	"github.com/hashicorp/go-hclog"
)

const (
	// sweepRepeatRatio is the share of expired keys in a sample above which
	// a sweep cycle samples again.
	sweepRepeatRatio = 0.25
	// sweepBudget bounds how long one cycle may hold the store lock.
	sweepBudget = 25 * time.Millisecond
)

// expireIfNeeded removes key if its deadline passed and reports whether it
// did.
func (ks *keyspace) expireIfNeeded(key string) bool {
	exp, ok := ks.expires[key]
	if !ok || ks.now().Before(exp) {
		return false
	}
	ks.remove(key)
	if ks.onExpire != nil {
		ks.onExpire(key)
	}
	return true
}

// setDeadline sets or clears the absolute expiry of an existing key.
// A deadline that is not in the future deletes the key immediately.
func (ks *keyspace) setDeadline(key string, at time.Time) {
	if !at.After(ks.now()) {
		ks.remove(key)
		return
	}
	ks.expires[key] = at
	ks.touch(key)
}

func (ks *keyspace) Expire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	return ks.ExpireAt(ctx, key, ks.now().Add(ttl))
}

func (ks *keyspace) ExpireAt(ctx context.Context, key string, at time.Time) (bool, error) {
	if ks.lookup(key) == nil {
		return false, nil
	}
	ks.setDeadline(key, at)
	return true, nil
}

func (ks *keyspace) TTL(ctx context.Context, key string) (int64, error) {
	pttl, err := ks.PTTL(ctx, key)
	if err != nil || pttl < 0 {
		return pttl, err
	}
	// round like Redis: 1500ms left reports 2s
	return (pttl + 500) / 1000, nil
}

func (ks *keyspace) PTTL(ctx context.Context, key string) (int64, error) {
	if ks.lookup(key) == nil {
		return -2, nil
	}
	exp, ok := ks.expires[key]
	if !ok {
		return -1, nil
	}
	return exp.Sub(ks.now()).Milliseconds(), nil
}

func (ks *keyspace) Persist(ctx context.Context, key string) (bool, error) {
	if ks.lookup(key) == nil {
		return false, nil
	}
	if _, ok := ks.expires[key]; !ok {
		return false, nil
	}
	delete(ks.expires, key)
	ks.touch(key)
	return true, nil
}

// sweep samples up to samples keys carrying a TTL and removes the expired
// ones. It repeats while more than a quarter of a sample was expired and the
// time budget allows. It returns the number of keys removed.
func (ks *keyspace) sweep(samples int) int {
	start := ks.now()
	removed := 0
	for {
		checked, expired := 0, 0
		// map iteration order is randomized, which gives us the sample
		for key := range ks.expires {
			if checked >= samples {
				break
			}
			checked++
			if ks.expireIfNeeded(key) {
				expired++
			}
		}
		removed += expired
		if checked == 0 || float64(expired) <= float64(checked)*sweepRepeatRatio {
			return removed
		}
		if ks.now().Sub(start) > sweepBudget {
			return removed
		}
	}
}

// Sweep runs one active expiry cycle.
func (s *Store) Sweep(samples int) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ks.sweep(samples)
}

// Sweeper reclaims expired keys that nobody reads.
type Sweeper struct {
	store    *Store
	interval time.Duration
	samples  int
	logger   hclog.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewSweeper creates a sweeper for store. Call Start to run it.
func NewSweeper(store *Store, interval time.Duration, samples int, logger hclog.Logger) *Sweeper {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &Sweeper{
		store:    store,
		interval: interval,
		samples:  samples,
		logger:   logger.Named("expiry"),
	}
}

// Start launches the sweep loop.
func (sw *Sweeper) Start(ctx context.Context) {
	ctx, sw.cancel = context.WithCancel(ctx)
	sw.wg.Add(1)
	go sw.loop(ctx)
}

func (sw *Sweeper) loop(ctx context.Context) {
	defer sw.wg.Done()

	ticker := time.NewTicker(sw.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := sw.store.Sweep(sw.samples); n > 0 && sw.logger.IsTrace() {
				sw.logger.Trace("reclaimed expired keys", "count", n)
			}
		}
	}
}

// Stop ends the sweep loop and waits for it to return.
func (sw *Sweeper) Stop() {
	if sw.cancel != nil {
		sw.cancel()
	}
	sw.wg.Wait()
}
