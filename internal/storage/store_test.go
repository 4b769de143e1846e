package storage

import (
	"context"
	"errors"
	"reflect"
	"sync"
	"testing"
	"time"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func newTestStore(opts ...Option) (*Store, *fakeClock) {
	clock := &fakeClock{t: time.Unix(1700000000, 0)}
	opts = append([]Option{WithClock(clock.Now)}, opts...)
	return NewStore(opts...), clock
}

// run executes fn in one critical section and fails the test on error.
func run(t *testing.T, s *Store, fn func(ctx context.Context, ops Operations) error) {
	t.Helper()
	ctx := context.Background()
	if err := s.Do(ctx, func(ops Operations) error { return fn(ctx, ops) }); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestStringSetGet(t *testing.T) {
	s, _ := newTestStore()
	run(t, s, func(ctx context.Context, ops Operations) error {
		if _, err := ops.Set(ctx, "name", "memkeys", SetOptions{}); err != nil {
			return err
		}
		val, ok, err := ops.Get(ctx, "name")
		if err != nil {
			return err
		}
		if !ok || val != "memkeys" {
			t.Errorf("Get = %q, %v; want memkeys, true", val, ok)
		}
		_, ok, _ = ops.Get(ctx, "missing")
		if ok {
			t.Error("missing key should not exist")
		}
		return nil
	})
}

func TestSetOptions(t *testing.T) {
	s, _ := newTestStore()
	run(t, s, func(ctx context.Context, ops Operations) error {
		res, _ := ops.Set(ctx, "k", "v1", SetOptions{XX: true})
		if res.Written {
			t.Error("SET XX on missing key should not write")
		}
		res, _ = ops.Set(ctx, "k", "v1", SetOptions{NX: true})
		if !res.Written {
			t.Error("SET NX on missing key should write")
		}
		res, _ = ops.Set(ctx, "k", "v2", SetOptions{NX: true})
		if res.Written {
			t.Error("SET NX on existing key should not write")
		}
		res, _ = ops.Set(ctx, "k", "v3", SetOptions{Get: true})
		if !res.HadOld || res.Old != "v1" {
			t.Errorf("SET GET old = %q, %v; want v1", res.Old, res.HadOld)
		}
		return nil
	})
}

func TestExpiryIsLazy(t *testing.T) {
	expired := 0
	s, clock := newTestStore(WithExpireHook(func(string) { expired++ }))
	run(t, s, func(ctx context.Context, ops Operations) error {
		_, err := ops.Set(ctx, "session", "abc", SetOptions{TTL: 2 * time.Second})
		return err
	})

	clock.Advance(1 * time.Second)
	run(t, s, func(ctx context.Context, ops Operations) error {
		val, ok, _ := ops.Get(ctx, "session")
		if !ok || val != "abc" {
			t.Errorf("before deadline Get = %q, %v", val, ok)
		}
		ttl, _ := ops.TTL(ctx, "session")
		if ttl != 1 {
			t.Errorf("TTL = %d, want 1", ttl)
		}
		return nil
	})

	clock.Advance(1500 * time.Millisecond)
	run(t, s, func(ctx context.Context, ops Operations) error {
		if _, ok, _ := ops.Get(ctx, "session"); ok {
			t.Error("key should be gone after its deadline")
		}
		if ttl, _ := ops.TTL(ctx, "session"); ttl != -2 {
			t.Errorf("TTL of expired key = %d, want -2", ttl)
		}
		return nil
	})
	if expired != 1 {
		t.Errorf("expire hook called %d times, want 1", expired)
	}
}

func TestExpireInThePastDeletes(t *testing.T) {
	s, _ := newTestStore()
	run(t, s, func(ctx context.Context, ops Operations) error {
		ops.Set(ctx, "k", "v", SetOptions{})
		ok, _ := ops.Expire(ctx, "k", -time.Second)
		if !ok {
			t.Error("Expire on existing key should return true")
		}
		if n, _ := ops.Exists(ctx, []string{"k"}); n != 0 {
			t.Error("key with past deadline should be deleted")
		}
		return nil
	})
}

func TestPersist(t *testing.T) {
	s, clock := newTestStore()
	run(t, s, func(ctx context.Context, ops Operations) error {
		ops.Set(ctx, "k", "v", SetOptions{TTL: time.Second})
		if ok, _ := ops.Persist(ctx, "k"); !ok {
			t.Error("Persist should remove the TTL")
		}
		if ttl, _ := ops.TTL(ctx, "k"); ttl != -1 {
			t.Errorf("TTL after Persist = %d, want -1", ttl)
		}
		return nil
	})
	clock.Advance(time.Minute)
	run(t, s, func(ctx context.Context, ops Operations) error {
		if _, ok, _ := ops.Get(ctx, "k"); !ok {
			t.Error("persisted key should survive")
		}
		return nil
	})
}

func TestSweepRemovesUntouchedKeys(t *testing.T) {
	s, clock := newTestStore()
	run(t, s, func(ctx context.Context, ops Operations) error {
		for _, k := range []string{"a", "b", "c", "d"} {
			ops.Set(ctx, k, "v", SetOptions{TTL: time.Second})
		}
		ops.Set(ctx, "keep", "v", SetOptions{})
		return nil
	})
	clock.Advance(2 * time.Second)

	if n := s.Sweep(20); n != 4 {
		t.Errorf("Sweep removed %d keys, want 4", n)
	}
	if n := s.Len(); n != 1 {
		t.Errorf("Len = %d after sweep, want 1", n)
	}
}

func TestIncr(t *testing.T) {
	s, _ := newTestStore()
	run(t, s, func(ctx context.Context, ops Operations) error {
		n, err := ops.Incr(ctx, "counter", 5)
		if err != nil || n != 5 {
			t.Errorf("Incr = %d, %v; want 5", n, err)
		}
		n, _ = ops.Incr(ctx, "counter", -2)
		if n != 3 {
			t.Errorf("Incr = %d, want 3", n)
		}
		ops.Set(ctx, "text", "abc", SetOptions{})
		if _, err := ops.Incr(ctx, "text", 1); !errors.Is(err, ErrNotInteger) {
			t.Errorf("Incr on text err = %v, want ErrNotInteger", err)
		}
		f, err := ops.IncrByFloat(ctx, "counter", 0.5)
		if err != nil || f != 3.5 {
			t.Errorf("IncrByFloat = %v, %v; want 3.5", f, err)
		}
		return nil
	})
}

func TestWrongTypeLeavesEntryUntouched(t *testing.T) {
	s, _ := newTestStore()
	run(t, s, func(ctx context.Context, ops Operations) error {
		ops.RPush(ctx, "mylist", []string{"a", "b"}, false)

		checks := []struct {
			name string
			call func() error
		}{
			{"Get", func() error { _, _, err := ops.Get(ctx, "mylist"); return err }},
			{"SAdd", func() error { _, err := ops.SAdd(ctx, "mylist", []string{"x"}); return err }},
			{"HSet", func() error { _, err := ops.HSet(ctx, "mylist", []string{"f", "v"}); return err }},
			{"ZAdd", func() error { _, err := ops.ZAdd(ctx, "mylist", []ZMember{{"m", 1}}, ZAddOptions{}); return err }},
			{"Incr", func() error { _, err := ops.Incr(ctx, "mylist", 1); return err }},
			{"XAdd", func() error { _, _, err := ops.XAdd(ctx, "mylist", "*", []string{"f", "v"}, XAddOptions{}); return err }},
		}
		for _, c := range checks {
			if err := c.call(); !errors.Is(err, ErrWrongType) {
				t.Errorf("%s on list: err = %v, want ErrWrongType", c.name, err)
			}
		}
		if _, err := ops.PFAdd(ctx, "mylist", []string{"x"}); !errors.Is(err, ErrHLLCorrupt) {
			t.Errorf("PFAdd on list: err = %v, want ErrHLLCorrupt", err)
		}

		got, _ := ops.LRange(ctx, "mylist", 0, -1)
		if !reflect.DeepEqual(got, []string{"a", "b"}) {
			t.Errorf("list changed after failed commands: %v", got)
		}
		return nil
	})
}

func TestListFIFO(t *testing.T) {
	s, _ := newTestStore()
	run(t, s, func(ctx context.Context, ops Operations) error {
		for _, v := range []string{"job1", "job2", "job3"} {
			ops.RPush(ctx, "queue", []string{v}, false)
		}
		all, _ := ops.LRange(ctx, "queue", 0, -1)
		if !reflect.DeepEqual(all, []string{"job1", "job2", "job3"}) {
			t.Errorf("LRange = %v", all)
		}
		for _, want := range []string{"job1", "job2", "job3"} {
			got, _ := ops.LPop(ctx, "queue", 1)
			if len(got) != 1 || got[0] != want {
				t.Errorf("LPop = %v, want %s", got, want)
			}
		}
		if n, _ := ops.Exists(ctx, []string{"queue"}); n != 0 {
			t.Error("empty list should be removed")
		}
		if got, _ := ops.LPop(ctx, "queue", 1); got != nil {
			t.Errorf("LPop on missing list = %v, want nil", got)
		}
		return nil
	})
}

func TestListIndexing(t *testing.T) {
	s, _ := newTestStore()
	run(t, s, func(ctx context.Context, ops Operations) error {
		ops.LPush(ctx, "l", []string{"c", "b", "a"}, false)
		tests := []struct {
			start, stop int64
			want        []string
		}{
			{0, -1, []string{"a", "b", "c"}},
			{-2, -1, []string{"b", "c"}},
			{1, 100, []string{"b", "c"}},
			{5, 10, []string{}},
			{2, 1, []string{}},
		}
		for _, tt := range tests {
			got, _ := ops.LRange(ctx, "l", tt.start, tt.stop)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("LRange(%d, %d) = %v, want %v", tt.start, tt.stop, got, tt.want)
			}
		}
		if v, ok, _ := ops.LIndex(ctx, "l", -1); !ok || v != "c" {
			t.Errorf("LIndex(-1) = %q, %v", v, ok)
		}
		if err := ops.LSet(ctx, "l", 10, "x"); !errors.Is(err, ErrIndexOutOfRange) {
			t.Errorf("LSet out of range err = %v", err)
		}
		ops.RPush(ctx, "l", []string{"a", "a"}, false)
		if n, _ := ops.LRem(ctx, "l", -1, "a"); n != 1 {
			t.Errorf("LRem = %d, want 1", n)
		}
		got, _ := ops.LRange(ctx, "l", 0, -1)
		if !reflect.DeepEqual(got, []string{"a", "b", "c", "a"}) {
			t.Errorf("after LRem = %v", got)
		}
		return nil
	})
}

func TestSetIsIdempotent(t *testing.T) {
	s, _ := newTestStore()
	run(t, s, func(ctx context.Context, ops Operations) error {
		n, _ := ops.SAdd(ctx, "tags", []string{"go", "redis", "go", "kv", "redis"})
		if n != 3 {
			t.Errorf("SAdd = %d, want 3", n)
		}
		n, _ = ops.SAdd(ctx, "tags", []string{"go"})
		if n != 0 {
			t.Errorf("SAdd existing = %d, want 0", n)
		}
		members, _ := ops.SMembers(ctx, "tags")
		if !reflect.DeepEqual(members, []string{"go", "kv", "redis"}) {
			t.Errorf("SMembers = %v", members)
		}
		ops.SAdd(ctx, "other", []string{"go", "rust"})
		inter, _ := ops.SCombine(ctx, SetInter, []string{"tags", "other"})
		if !reflect.DeepEqual(inter, []string{"go"}) {
			t.Errorf("SInter = %v", inter)
		}
		diff, _ := ops.SCombine(ctx, SetDiff, []string{"tags", "other"})
		if !reflect.DeepEqual(diff, []string{"kv", "redis"}) {
			t.Errorf("SDiff = %v", diff)
		}
		return nil
	})
}

func TestSortedSetUpdatesScore(t *testing.T) {
	s, _ := newTestStore()
	run(t, s, func(ctx context.Context, ops Operations) error {
		n, _ := ops.ZAdd(ctx, "board", []ZMember{{"alice", 10}, {"bob", 5}, {"carol", 7}}, ZAddOptions{})
		if n != 3 {
			t.Errorf("ZAdd = %d, want 3", n)
		}
		n, _ = ops.ZAdd(ctx, "board", []ZMember{{"bob", 20}}, ZAddOptions{})
		if n != 0 {
			t.Errorf("ZAdd update = %d, want 0", n)
		}
		if card, _ := ops.ZCard(ctx, "board"); card != 3 {
			t.Errorf("ZCard = %d, want 3", card)
		}
		got, _ := ops.ZRange(ctx, "board", 0, -1, false)
		want := []ZMember{{"carol", 7}, {"alice", 10}, {"bob", 20}}
		if !reflect.DeepEqual(got, want) {
			t.Errorf("ZRange = %v, want %v", got, want)
		}
		rev, _ := ops.ZRange(ctx, "board", 0, 0, true)
		if len(rev) != 1 || rev[0].Member != "bob" {
			t.Errorf("ZREVRANGE 0 0 = %v", rev)
		}
		if r, ok, _ := ops.ZRank(ctx, "board", "alice", false); !ok || r != 1 {
			t.Errorf("ZRank alice = %d, %v", r, ok)
		}
		byScore, _ := ops.ZRangeByScore(ctx, "board", ScoreBound{Value: 7, Exclusive: true}, ScoreBound{Value: 20}, false, 0, -1)
		if len(byScore) != 2 || byScore[0].Member != "alice" {
			t.Errorf("ZRangeByScore (7 20 = %v", byScore)
		}
		return nil
	})
}

func TestSortedSetTieBreaksByMember(t *testing.T) {
	s, _ := newTestStore()
	run(t, s, func(ctx context.Context, ops Operations) error {
		ops.ZAdd(ctx, "z", []ZMember{{"b", 1}, {"c", 1}, {"a", 1}}, ZAddOptions{})
		got, _ := ops.ZRange(ctx, "z", 0, -1, false)
		names := []string{got[0].Member, got[1].Member, got[2].Member}
		if !reflect.DeepEqual(names, []string{"a", "b", "c"}) {
			t.Errorf("order = %v", names)
		}
		return nil
	})
}

func TestZAddFlags(t *testing.T) {
	s, _ := newTestStore()
	run(t, s, func(ctx context.Context, ops Operations) error {
		ops.ZAdd(ctx, "z", []ZMember{{"m", 10}}, ZAddOptions{})
		ops.ZAdd(ctx, "z", []ZMember{{"m", 5}}, ZAddOptions{GT: true})
		if score, _, _ := ops.ZScore(ctx, "z", "m"); score != 10 {
			t.Errorf("GT lowered score to %v", score)
		}
		n, _ := ops.ZAdd(ctx, "z", []ZMember{{"m", 15}, {"n", 1}}, ZAddOptions{CH: true})
		if n != 2 {
			t.Errorf("ZAdd CH = %d, want 2", n)
		}
		if _, err := ops.ZAdd(ctx, "z", []ZMember{{"m", 1}}, ZAddOptions{NX: true, XX: true}); !errors.Is(err, ErrZAddOptions) {
			t.Errorf("NX+XX err = %v", err)
		}
		score, ok, _ := ops.ZIncrBy(ctx, "z", 2.5, "n", ZAddOptions{})
		if !ok || score != 3.5 {
			t.Errorf("ZIncrBy = %v, %v", score, ok)
		}
		return nil
	})
}

func TestHashRoundTrip(t *testing.T) {
	s, _ := newTestStore()
	run(t, s, func(ctx context.Context, ops Operations) error {
		n, _ := ops.HSet(ctx, "user:1", []string{"name", "Budi", "age", "17", "city", "Bandung"})
		if n != 3 {
			t.Errorf("HSet = %d, want 3", n)
		}
		n, _ = ops.HSet(ctx, "user:1", []string{"age", "18"})
		if n != 0 {
			t.Errorf("HSet update = %d, want 0", n)
		}
		all, _ := ops.HGetAll(ctx, "user:1")
		want := []string{"age", "18", "city", "Bandung", "name", "Budi"}
		if !reflect.DeepEqual(all, want) {
			t.Errorf("HGetAll = %v, want %v", all, want)
		}
		age, _ := ops.HIncrBy(ctx, "user:1", "age", 2)
		if age != 20 {
			t.Errorf("HIncrBy = %d", age)
		}
		if _, err := ops.HIncrBy(ctx, "user:1", "name", 1); err == nil {
			t.Error("HIncrBy on text field should fail")
		}
		ops.HDel(ctx, "user:1", []string{"name", "age", "city"})
		if n, _ := ops.Exists(ctx, []string{"user:1"}); n != 0 {
			t.Error("empty hash should be removed")
		}
		return nil
	})
}

func TestRenameKeepsTTL(t *testing.T) {
	s, _ := newTestStore()
	run(t, s, func(ctx context.Context, ops Operations) error {
		ops.Set(ctx, "old", "v", SetOptions{TTL: 10 * time.Second})
		if err := ops.Rename(ctx, "old", "new"); err != nil {
			return err
		}
		if ttl, _ := ops.TTL(ctx, "new"); ttl != 10 {
			t.Errorf("TTL after rename = %d", ttl)
		}
		if err := ops.Rename(ctx, "old", "x"); !errors.Is(err, ErrNoSuchKey) {
			t.Errorf("rename missing err = %v", err)
		}
		return nil
	})
}

func TestKeysAndScan(t *testing.T) {
	s, _ := newTestStore()
	run(t, s, func(ctx context.Context, ops Operations) error {
		ops.MSet(ctx, []string{"user:1", "a", "user:2", "b", "order:1", "c"})
		keys, _ := ops.Keys(ctx, "user:*")
		if !reflect.DeepEqual(keys, []string{"user:1", "user:2"}) {
			t.Errorf("Keys = %v", keys)
		}

		var seen []string
		cursor := uint64(0)
		for {
			next, batch, _ := ops.Scan(ctx, cursor, "*", 2, "")
			seen = append(seen, batch...)
			if next == 0 {
				break
			}
			cursor = next
		}
		if len(seen) != 3 {
			t.Errorf("Scan visited %v", seen)
		}
		return nil
	})
}

func TestWatchDetectsChanges(t *testing.T) {
	s, _ := newTestStore()
	ctx := context.Background()

	ws := s.Watch("balance")
	defer s.Unwatch(ws)

	run(t, s, func(ctx context.Context, ops Operations) error {
		_, err := ops.Set(ctx, "balance", "100", SetOptions{})
		return err
	})

	err := s.Exec(ctx, ws, func(ops Operations) error {
		t.Error("transaction body must not run after a watched key changed")
		return nil
	})
	if !errors.Is(err, ErrTxAborted) {
		t.Errorf("Exec err = %v, want ErrTxAborted", err)
	}
}

func TestWatchUnchangedCommits(t *testing.T) {
	s, _ := newTestStore()
	ctx := context.Background()
	run(t, s, func(ctx context.Context, ops Operations) error {
		ops.Set(ctx, "balance", "100", SetOptions{})
		return nil
	})

	ws := s.Watch("balance", "other")
	defer s.Unwatch(ws)

	// reads do not invalidate a watch
	run(t, s, func(ctx context.Context, ops Operations) error {
		ops.Get(ctx, "balance")
		ops.Set(ctx, "unrelated", "x", SetOptions{})
		return nil
	})

	ran := false
	err := s.Exec(ctx, ws, func(ops Operations) error {
		ran = true
		_, err := ops.Incr(ctx, "balance", -10)
		return err
	})
	if err != nil || !ran {
		t.Fatalf("Exec err = %v, ran = %v", err, ran)
	}
}

func TestWatchSeesCreateThenDelete(t *testing.T) {
	s, _ := newTestStore()
	ctx := context.Background()

	ws := s.Watch("ghost")
	defer s.Unwatch(ws)
	run(t, s, func(ctx context.Context, ops Operations) error {
		ops.Set(ctx, "ghost", "boo", SetOptions{})
		ops.Del(ctx, []string{"ghost"})
		return nil
	})
	if err := s.Exec(ctx, ws, func(Operations) error { return nil }); !errors.Is(err, ErrTxAborted) {
		t.Errorf("Exec err = %v, want ErrTxAborted", err)
	}
}

func TestWatchSeesExpiry(t *testing.T) {
	s, clock := newTestStore()
	ctx := context.Background()
	run(t, s, func(ctx context.Context, ops Operations) error {
		ops.Set(ctx, "lease", "x", SetOptions{TTL: time.Second})
		return nil
	})
	ws := s.Watch("lease")
	defer s.Unwatch(ws)

	clock.Advance(2 * time.Second)
	if err := s.Exec(ctx, ws, func(Operations) error { return nil }); !errors.Is(err, ErrTxAborted) {
		t.Errorf("Exec err = %v, want ErrTxAborted", err)
	}
}

func TestDoHonoursCancelledContext(t *testing.T) {
	s, _ := newTestStore()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := s.Do(ctx, func(Operations) error {
		t.Error("fn must not run with a cancelled context")
		return nil
	})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Do err = %v", err)
	}
}
