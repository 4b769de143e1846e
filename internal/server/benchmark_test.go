package server_test

import (
	"context"
	"fmt"
	"testing"

	"github.com/redis/go-redis/v9"
)

func BenchmarkSetGet(b *testing.B) {
	ts := newTestServer(b, "", 3)
	ctx := context.Background()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		key := fmt.Sprintf("bench_key_%d", i)
		if err := ts.client.Set(ctx, key, "bench_value", 0).Err(); err != nil {
			b.Fatalf("SET failed: %v", err)
		}
		if _, err := ts.client.Get(ctx, key).Result(); err != nil {
			b.Fatalf("GET failed: %v", err)
		}
	}
}

func BenchmarkMGet(b *testing.B) {
	ts := newTestServer(b, "", 3)
	ctx := context.Background()

	keys := make([]string, 10)
	pairs := make([]interface{}, 20)
	for j := range keys {
		keys[j] = fmt.Sprintf("mget_key_%d", j)
		pairs[j*2] = keys[j]
		pairs[j*2+1] = fmt.Sprintf("value_%d", j)
	}
	ts.client.MSet(ctx, pairs...)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := ts.client.MGet(ctx, keys...).Result(); err != nil {
			b.Fatalf("MGET failed: %v", err)
		}
	}
}

func BenchmarkIncr(b *testing.B) {
	ts := newTestServer(b, "", 3)
	ctx := context.Background()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if err := ts.client.Incr(ctx, "incr_key").Err(); err != nil {
			b.Fatalf("INCR failed: %v", err)
		}
	}
}

func BenchmarkLPushLPop(b *testing.B) {
	ts := newTestServer(b, "", 3)
	ctx := context.Background()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if err := ts.client.LPush(ctx, "bench_list", "v").Err(); err != nil {
			b.Fatalf("LPUSH failed: %v", err)
		}
		if err := ts.client.LPop(ctx, "bench_list").Err(); err != nil {
			b.Fatalf("LPOP failed: %v", err)
		}
	}
}

func BenchmarkZAdd(b *testing.B) {
	ts := newTestServer(b, "", 3)
	ctx := context.Background()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		z := redis.Z{Score: float64(i % 1000), Member: fmt.Sprintf("m%d", i)}
		if err := ts.client.ZAdd(ctx, "bench_zset", z).Err(); err != nil {
			b.Fatalf("ZADD failed: %v", err)
		}
	}
}

func BenchmarkPipeline(b *testing.B) {
	ts := newTestServer(b, "", 3)
	ctx := context.Background()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		pipe := ts.client.Pipeline()
		for j := 0; j < 10; j++ {
			pipe.Set(ctx, fmt.Sprintf("pipe_%d_%d", i, j), "value", 0)
		}
		if _, err := pipe.Exec(ctx); err != nil {
			b.Fatalf("Pipeline failed: %v", err)
		}
	}
}
