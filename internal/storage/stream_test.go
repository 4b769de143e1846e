package storage

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestXAddAutoIDsStrictlyIncrease(t *testing.T) {
	s, clock := newTestStore()
	run(t, s, func(ctx context.Context, ops Operations) error {
		var prev StreamID
		for i := 0; i < 10; i++ {
			id, ok, err := ops.XAdd(ctx, "members", "*", []string{"name", fmt.Sprintf("Gusti %d", i), "address", "Indonesia"}, XAddOptions{})
			if err != nil || !ok {
				return fmt.Errorf("XAdd #%d: %v", i, err)
			}
			if i > 0 && !prev.Less(id) {
				t.Errorf("id %s not greater than %s", id, prev)
			}
			prev = id
		}
		if n, _ := ops.XLen(ctx, "members"); n != 10 {
			t.Errorf("XLen = %d, want 10", n)
		}
		return nil
	})

	// the clock going backwards must not produce a smaller ID
	clock.Advance(-time.Hour)
	run(t, s, func(ctx context.Context, ops Operations) error {
		last, _ := ops.XLastID(ctx, "members")
		id, _, err := ops.XAdd(ctx, "members", "*", []string{"k", "v"}, XAddOptions{})
		if err != nil {
			return err
		}
		if !last.Less(id) {
			t.Errorf("id %s not greater than %s after clock skew", id, last)
		}
		return nil
	})
}

func TestXAddExplicitIDs(t *testing.T) {
	s, _ := newTestStore()
	run(t, s, func(ctx context.Context, ops Operations) error {
		if _, _, err := ops.XAdd(ctx, "s", "0-0", []string{"a", "1"}, XAddOptions{}); !errors.Is(err, ErrStreamIDZero) {
			t.Errorf("0-0 err = %v", err)
		}
		if n, _ := ops.Exists(ctx, []string{"s"}); n != 0 {
			t.Error("failed XADD must not create the stream")
		}
		id, _, _ := ops.XAdd(ctx, "s", "5-1", []string{"a", "1"}, XAddOptions{})
		if id != (StreamID{5, 1}) {
			t.Errorf("id = %s", id)
		}
		if _, _, err := ops.XAdd(ctx, "s", "5-1", []string{"a", "1"}, XAddOptions{}); !errors.Is(err, ErrStreamIDTooSmall) {
			t.Errorf("duplicate id err = %v", err)
		}
		id, _, _ = ops.XAdd(ctx, "s", "5-*", []string{"a", "1"}, XAddOptions{})
		if id != (StreamID{5, 2}) {
			t.Errorf("5-* = %s, want 5-2", id)
		}
		_, ok, _ := ops.XAdd(ctx, "other", "*", []string{"a", "1"}, XAddOptions{NoMkStream: true})
		if ok {
			t.Error("NOMKSTREAM must not create a stream")
		}
		return nil
	})
}

func TestXAddTrim(t *testing.T) {
	s, _ := newTestStore()
	run(t, s, func(ctx context.Context, ops Operations) error {
		for i := 1; i <= 5; i++ {
			ops.XAdd(ctx, "s", fmt.Sprintf("%d-0", i), []string{"n", fmt.Sprint(i)}, XAddOptions{Trim: TrimMaxLen, MaxLen: 3})
		}
		if n, _ := ops.XLen(ctx, "s"); n != 3 {
			t.Errorf("XLen = %d, want 3", n)
		}
		removed, _ := ops.XTrim(ctx, "s", XAddOptions{Trim: TrimMinID, MinID: StreamID{5, 0}})
		if removed != 2 {
			t.Errorf("XTrim MINID removed %d, want 2", removed)
		}
		return nil
	})
}

func TestXRange(t *testing.T) {
	s, _ := newTestStore()
	run(t, s, func(ctx context.Context, ops Operations) error {
		for i := 1; i <= 4; i++ {
			ops.XAdd(ctx, "s", fmt.Sprintf("%d-0", i), []string{"n", fmt.Sprint(i)}, XAddOptions{})
		}
		all, _ := ops.XRange(ctx, "s", StreamID{}, MaxStreamID, 0, false)
		if len(all) != 4 {
			t.Fatalf("XRange - + = %d entries", len(all))
		}
		start, _ := ParseRangeID("(2-0", true)
		tail, _ := ops.XRange(ctx, "s", start, MaxStreamID, 0, false)
		if len(tail) != 2 || tail[0].ID != (StreamID{3, 0}) {
			t.Errorf("exclusive XRange = %v", tail)
		}
		rev, _ := ops.XRange(ctx, "s", StreamID{}, MaxStreamID, 2, true)
		if len(rev) != 2 || rev[0].ID != (StreamID{4, 0}) {
			t.Errorf("XREVRANGE COUNT 2 = %v", rev)
		}
		ops.XDel(ctx, "s", []StreamID{{2, 0}})
		all, _ = ops.XRange(ctx, "s", StreamID{}, MaxStreamID, 0, false)
		if len(all) != 3 {
			t.Errorf("after XDel = %d entries", len(all))
		}
		return nil
	})
}

func seedMembers(t *testing.T, s *Store, n int) {
	t.Helper()
	run(t, s, func(ctx context.Context, ops Operations) error {
		for i := 1; i <= n; i++ {
			if _, _, err := ops.XAdd(ctx, "members", fmt.Sprintf("%d-0", i), []string{"name", fmt.Sprintf("Gusti %d", i)}, XAddOptions{}); err != nil {
				return err
			}
		}
		return nil
	})
}

func TestXGroupCreate(t *testing.T) {
	s, _ := newTestStore()
	run(t, s, func(ctx context.Context, ops Operations) error {
		if err := ops.XGroupCreate(ctx, "missing", "g", "0", false); !errors.Is(err, ErrGroupKeyMissing) {
			t.Errorf("create on missing key err = %v", err)
		}
		if err := ops.XGroupCreate(ctx, "fresh", "g", "$", true); err != nil {
			t.Errorf("MKSTREAM create err = %v", err)
		}
		if err := ops.XGroupCreate(ctx, "fresh", "g", "$", true); !errors.Is(err, ErrBusyGroup) {
			t.Errorf("duplicate create err = %v", err)
		}
		created, _ := ops.XGroupCreateConsumer(ctx, "fresh", "g", "consumer-1")
		if !created {
			t.Error("first CREATECONSUMER should report 1")
		}
		created, _ = ops.XGroupCreateConsumer(ctx, "fresh", "g", "consumer-1")
		if created {
			t.Error("second CREATECONSUMER should report 0")
		}
		_, err := ops.XGroupCreateConsumer(ctx, "fresh", "nogroup", "c")
		var ng *NoGroupError
		if !errors.As(err, &ng) {
			t.Errorf("CREATECONSUMER on missing group err = %v", err)
		}
		return nil
	})
}

func TestXReadGroupDeliversOnce(t *testing.T) {
	s, _ := newTestStore()
	seedMembers(t, s, 10)
	run(t, s, func(ctx context.Context, ops Operations) error {
		if err := ops.XGroupCreate(ctx, "members", "group1", "0", false); err != nil {
			return err
		}
		ops.XGroupCreateConsumer(ctx, "members", "group1", "consumer-1")
		ops.XGroupCreateConsumer(ctx, "members", "group1", "consumer-2")

		first, err := ops.XReadGroup(ctx, "group1", "consumer-1", []string{"members"}, []string{">"}, 3, false)
		if err != nil {
			return err
		}
		if len(first) != 1 || len(first[0].Entries) != 3 {
			t.Fatalf("first read = %v", first)
		}
		if first[0].Entries[0].ID != (StreamID{1, 0}) {
			t.Errorf("first entry = %s", first[0].Entries[0].ID)
		}

		second, _ := ops.XReadGroup(ctx, "group1", "consumer-2", []string{"members"}, []string{">"}, 3, false)
		if second[0].Entries[0].ID != (StreamID{4, 0}) {
			t.Errorf("consumer-2 got %s, want 4-0", second[0].Entries[0].ID)
		}

		sum, _ := ops.XPending(ctx, "members", "group1")
		if sum.Count != 6 || len(sum.Consumers) != 2 {
			t.Errorf("XPENDING = %+v", sum)
		}

		history, _ := ops.XReadGroup(ctx, "group1", "consumer-1", []string{"members"}, []string{"0"}, 0, false)
		if len(history[0].Entries) != 3 {
			t.Errorf("history read = %d entries, want 3", len(history[0].Entries))
		}

		acked, _ := ops.XAck(ctx, "members", "group1", []StreamID{{1, 0}, {2, 0}, {99, 0}})
		if acked != 2 {
			t.Errorf("XACK = %d, want 2", acked)
		}
		rows, _ := ops.XPendingRange(ctx, "members", "group1", StreamID{}, MaxStreamID, 10, "consumer-1")
		if len(rows) != 1 || rows[0].ID != (StreamID{3, 0}) || rows[0].Deliveries != 2 {
			t.Errorf("XPENDING consumer-1 = %+v", rows)
		}

		rest, _ := ops.XReadGroup(ctx, "group1", "consumer-1", []string{"members"}, []string{">"}, 0, false)
		if len(rest) != 1 || len(rest[0].Entries) != 4 {
			t.Errorf("remaining read = %v", rest)
		}
		none, _ := ops.XReadGroup(ctx, "group1", "consumer-1", []string{"members"}, []string{">"}, 0, false)
		if len(none) != 0 {
			t.Errorf("drained group returned %v", none)
		}
		return nil
	})
}

func TestXReadGroupMissingGroup(t *testing.T) {
	s, _ := newTestStore()
	seedMembers(t, s, 1)
	run(t, s, func(ctx context.Context, ops Operations) error {
		_, err := ops.XReadGroup(ctx, "nope", "c", []string{"members"}, []string{">"}, 1, false)
		var ng *NoGroupError
		if !errors.As(err, &ng) {
			t.Fatalf("err = %v, want NoGroupError", err)
		}
		want := "NOGROUP No such key 'members' or consumer group 'nope' in XREADGROUP with GROUP option"
		if err.Error() != want {
			t.Errorf("message = %q", err.Error())
		}
		return nil
	})
}

func TestXGroupDelConsumerDropsPending(t *testing.T) {
	s, _ := newTestStore()
	seedMembers(t, s, 3)
	run(t, s, func(ctx context.Context, ops Operations) error {
		ops.XGroupCreate(ctx, "members", "g", "0", false)
		ops.XReadGroup(ctx, "g", "c", []string{"members"}, []string{">"}, 0, false)
		n, _ := ops.XGroupDelConsumer(ctx, "members", "g", "c")
		if n != 3 {
			t.Errorf("DELCONSUMER = %d, want 3", n)
		}
		if sum, _ := ops.XPending(ctx, "members", "g"); sum.Count != 0 {
			t.Errorf("pending after DELCONSUMER = %d", sum.Count)
		}
		groups, _ := ops.XInfoGroups(ctx, "members")
		if len(groups) != 1 || groups[0].LastDeliveredID != (StreamID{3, 0}) || groups[0].Lag != 0 {
			t.Errorf("XINFO GROUPS = %+v", groups)
		}
		return nil
	})
}

func TestXRead(t *testing.T) {
	s, _ := newTestStore()
	seedMembers(t, s, 3)
	run(t, s, func(ctx context.Context, ops Operations) error {
		res, _ := ops.XRead(ctx, []string{"members", "missing"}, []StreamID{{1, 0}, {}}, 0)
		if len(res) != 1 || len(res[0].Entries) != 2 {
			t.Errorf("XREAD = %v", res)
		}
		return nil
	})
}

func TestParseRangeID(t *testing.T) {
	tests := []struct {
		in    string
		start bool
		want  StreamID
		err   bool
	}{
		{"-", true, StreamID{}, false},
		{"+", false, MaxStreamID, false},
		{"5", true, StreamID{5, 0}, false},
		{"5", false, StreamID{5, MaxStreamID.Seq}, false},
		{"(5-1", true, StreamID{5, 2}, false},
		{"(5-0", false, StreamID{4, MaxStreamID.Seq}, false},
		{"abc", true, StreamID{}, true},
	}
	for _, tt := range tests {
		got, err := ParseRangeID(tt.in, tt.start)
		if (err != nil) != tt.err {
			t.Errorf("ParseRangeID(%q) err = %v", tt.in, err)
			continue
		}
		if !tt.err && got != tt.want {
			t.Errorf("ParseRangeID(%q) = %s, want %s", tt.in, got, tt.want)
		}
	}
}
