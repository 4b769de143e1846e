package handler

import (
	"context"
	"strconv"
	"testing"
	"time"

	"github.com/mnorrsken/memkeys/internal/resp"
	"github.com/mnorrsken/memkeys/internal/storage"
)

// newClockHandler returns a handler whose store reads the returned clock.
func newClockHandler(start time.Time) (*Handler, *time.Time) {
	now := start
	store := storage.NewStore(storage.WithClock(func() time.Time { return now }))
	return New(store, Options{}), &now
}

func TestExpireOutOfRange(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name string
		args []string
		want string
	}{
		{"expire", []string{"EXPIRE", "k", "9999999999"}, "ERR invalid expire time in 'expire' command"},
		{"expire negative", []string{"EXPIRE", "k", "-9999999999"}, "ERR invalid expire time in 'expire' command"},
		{"pexpire", []string{"PEXPIRE", "k", "9999999999999"}, "ERR invalid expire time in 'pexpire' command"},
		{"expireat", []string{"EXPIREAT", "k", "9223372036854775807"}, "ERR invalid expire time in 'expireat' command"},
		{"setex", []string{"SETEX", "k", "9999999999", "other"}, "ERR invalid expire time in 'setex' command"},
		{"psetex", []string{"PSETEX", "k", "9999999999999", "other"}, "ERR invalid expire time in 'psetex' command"},
		{"set ex", []string{"SET", "k", "other", "EX", "9999999999"}, "ERR invalid expire time in 'set' command"},
		{"set px", []string{"SET", "k", "other", "PX", "9999999999999"}, "ERR invalid expire time in 'set' command"},
		{"set exat", []string{"SET", "k", "other", "EXAT", "9223372036854775807"}, "ERR invalid expire time in 'set' command"},
		{"getex ex", []string{"GETEX", "k", "EX", "9999999999"}, "ERR invalid expire time in 'getex' command"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, _ := newClockHandler(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
			h.Execute(ctx, "SET", "k", "v", "EX", "100")

			got := h.Execute(ctx, tt.args[0], tt.args[1:]...)
			if !got.IsError() || got.Str != tt.want {
				t.Fatalf("got %+v, want error %q", got, tt.want)
			}
			if v := h.Execute(ctx, "GET", "k"); v.Bulk != "v" {
				t.Errorf("GET k = %+v, want v", v)
			}
			if v := h.Execute(ctx, "PTTL", "k"); v.Num != 100000 {
				t.Errorf("PTTL k = %d, want 100000", v.Num)
			}
		})
	}
}

func TestExpireLargeButInRange(t *testing.T) {
	h, _ := newClockHandler(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	ctx := context.Background()
	h.Execute(ctx, "SET", "k", "v")

	// about 115 days in milliseconds
	if got := h.Execute(ctx, "PEXPIRE", "k", "9999999999"); got.Num != 1 {
		t.Fatalf("PEXPIRE = %+v", got)
	}
	if v := h.Execute(ctx, "PTTL", "k"); v.Num != 9999999999 {
		t.Errorf("PTTL k = %d", v.Num)
	}
}

func TestExpiryFollowsStoreClock(t *testing.T) {
	start := time.Date(2001, 9, 9, 1, 46, 40, 0, time.UTC)
	ctx := context.Background()

	tests := []struct {
		name string
		set  [][]string
	}{
		{"expire", [][]string{{"SET", "k", "v"}, {"EXPIRE", "k", "10"}}},
		{"pexpire", [][]string{{"SET", "k", "v"}, {"PEXPIRE", "k", "10000"}}},
		{"expireat", [][]string{{"SET", "k", "v"}, {"EXPIREAT", "k", strconv.FormatInt(start.Unix()+10, 10)}}},
		{"set ex", [][]string{{"SET", "k", "v", "EX", "10"}}},
		{"set exat", [][]string{{"SET", "k", "v", "EXAT", strconv.FormatInt(start.Unix()+10, 10)}}},
		{"set pxat", [][]string{{"SET", "k", "v", "PXAT", strconv.FormatInt(start.UnixMilli()+10000, 10)}}},
		{"getex", [][]string{{"SET", "k", "v"}, {"GETEX", "k", "EX", "10"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, now := newClockHandler(start)
			for _, args := range tt.set {
				if got := h.Execute(ctx, args[0], args[1:]...); got.IsError() {
					t.Fatalf("%v: %+v", args, got)
				}
			}
			if v := h.Execute(ctx, "TTL", "k"); v.Num != 10 {
				t.Fatalf("TTL k = %d, want 10", v.Num)
			}

			*now = start.Add(9 * time.Second)
			if v := h.Execute(ctx, "GET", "k"); v.Bulk != "v" {
				t.Errorf("key gone before its deadline: %+v", v)
			}
			*now = start.Add(10 * time.Second)
			if v := h.Execute(ctx, "GET", "k"); v.Type != resp.BulkString || !v.Null {
				t.Errorf("key alive after its deadline: %+v", v)
			}
		})
	}
}

func TestTimeUsesStoreClock(t *testing.T) {
	start := time.Date(2001, 9, 9, 1, 46, 40, 5000, time.UTC)
	h, _ := newClockHandler(start)

	got := h.Execute(context.Background(), "TIME")
	if len(got.Array) != 2 {
		t.Fatalf("TIME = %+v", got)
	}
	if got.Array[0].Bulk != strconv.FormatInt(start.Unix(), 10) || got.Array[1].Bulk != "5" {
		t.Errorf("TIME = %q %q", got.Array[0].Bulk, got.Array[1].Bulk)
	}
}
