package storage

import (
	"context"
	"math"
	"sort"
	"strconv"
)

// ============== Hash Commands ==============

type hash = map[string]string

func (ks *keyspace) getHash(key string) (hash, error) {
	e, err := ks.get(key, TypeHash)
	if err != nil || e == nil {
		return nil, err
	}
	return e.value.(hash), nil
}

func sortedFields(h hash) []string {
	fields := make([]string, 0, len(h))
	for f := range h {
		fields = append(fields, f)
	}
	sort.Strings(fields)
	return fields
}

func (ks *keyspace) HGet(ctx context.Context, key, field string) (string, bool, error) {
	h, err := ks.getHash(key)
	if err != nil {
		return "", false, err
	}
	val, ok := h[field]
	return val, ok, nil
}

// HSet upserts field/value pairs and returns how many fields were new.
func (ks *keyspace) HSet(ctx context.Context, key string, pairs []string) (int64, error) {
	e, err := ks.getOrCreate(key, TypeHash, func() any { return make(hash) })
	if err != nil {
		return 0, err
	}
	h := e.value.(hash)
	var created int64
	for i := 0; i+1 < len(pairs); i += 2 {
		if _, ok := h[pairs[i]]; !ok {
			created++
		}
		h[pairs[i]] = pairs[i+1]
	}
	ks.touch(key)
	return created, nil
}

func (ks *keyspace) HSetNX(ctx context.Context, key, field, value string) (bool, error) {
	h, err := ks.getHash(key)
	if err != nil {
		return false, err
	}
	if _, ok := h[field]; ok {
		return false, nil
	}
	_, err = ks.HSet(ctx, key, []string{field, value})
	return err == nil, err
}

func (ks *keyspace) HDel(ctx context.Context, key string, fields []string) (int64, error) {
	h, err := ks.getHash(key)
	if err != nil || h == nil {
		return 0, err
	}
	var deleted int64
	for _, f := range fields {
		if _, ok := h[f]; ok {
			delete(h, f)
			deleted++
		}
	}
	if deleted > 0 {
		ks.touch(key)
		ks.removeIfEmpty(key, ks.entries[key])
	}
	return deleted, nil
}

// HGetAll returns field, value, field, value... ordered by field.
func (ks *keyspace) HGetAll(ctx context.Context, key string) ([]string, error) {
	h, err := ks.getHash(key)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, 2*len(h))
	for _, f := range sortedFields(h) {
		out = append(out, f, h[f])
	}
	return out, nil
}

func (ks *keyspace) HMGet(ctx context.Context, key string, fields []string) ([]interface{}, error) {
	h, err := ks.getHash(key)
	if err != nil {
		return nil, err
	}
	results := make([]interface{}, len(fields))
	for i, f := range fields {
		if val, ok := h[f]; ok {
			results[i] = val
		}
	}
	return results, nil
}

func (ks *keyspace) HExists(ctx context.Context, key, field string) (bool, error) {
	h, err := ks.getHash(key)
	if err != nil {
		return false, err
	}
	_, ok := h[field]
	return ok, nil
}

func (ks *keyspace) HKeys(ctx context.Context, key string) ([]string, error) {
	h, err := ks.getHash(key)
	if err != nil {
		return nil, err
	}
	return sortedFields(h), nil
}

func (ks *keyspace) HVals(ctx context.Context, key string) ([]string, error) {
	h, err := ks.getHash(key)
	if err != nil {
		return nil, err
	}
	fields := sortedFields(h)
	vals := make([]string, len(fields))
	for i, f := range fields {
		vals[i] = h[f]
	}
	return vals, nil
}

func (ks *keyspace) HLen(ctx context.Context, key string) (int64, error) {
	h, err := ks.getHash(key)
	return int64(len(h)), err
}

func (ks *keyspace) HStrLen(ctx context.Context, key, field string) (int64, error) {
	h, err := ks.getHash(key)
	return int64(len(h[field])), err
}

func (ks *keyspace) HIncrBy(ctx context.Context, key, field string, delta int64) (int64, error) {
	h, err := ks.getHash(key)
	if err != nil {
		return 0, err
	}
	var current int64
	if val, ok := h[field]; ok {
		current, err = strconv.ParseInt(val, 10, 64)
		if err != nil {
			return 0, errHashNotInteger
		}
	}
	if (delta > 0 && current > math.MaxInt64-delta) || (delta < 0 && current < math.MinInt64-delta) {
		return 0, ErrOverflow
	}
	result := current + delta
	_, err = ks.HSet(ctx, key, []string{field, strconv.FormatInt(result, 10)})
	return result, err
}

func (ks *keyspace) HIncrByFloat(ctx context.Context, key, field string, delta float64) (float64, error) {
	h, err := ks.getHash(key)
	if err != nil {
		return 0, err
	}
	var current float64
	if val, ok := h[field]; ok {
		current, err = strconv.ParseFloat(val, 64)
		if err != nil {
			return 0, errHashNotFloat
		}
	}
	result := current + delta
	if math.IsNaN(result) || math.IsInf(result, 0) {
		return 0, ErrNaN
	}
	_, err = ks.HSet(ctx, key, []string{field, FormatFloat(result)})
	return result, err
}
