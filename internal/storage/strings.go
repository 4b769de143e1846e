package storage

import (
	"context"
	"math"
	"strconv"
	"time"
)

// maxStringLength mirrors proto-max-bulk-len.
const maxStringLength = 512 * 1024 * 1024

// ============== String Commands ==============

func (ks *keyspace) getString(key string) (string, bool, error) {
	e, err := ks.get(key, TypeString)
	if err != nil || e == nil {
		return "", false, err
	}
	return e.value.(string), true, nil
}

// setString stores value keeping the key's current TTL.
func (ks *keyspace) setString(key, value string) {
	if e := ks.lookup(key); e != nil && e.kind == TypeString {
		e.value = value
		ks.touch(key)
		return
	}
	ks.put(key, TypeString, value)
}

func (ks *keyspace) Get(ctx context.Context, key string) (string, bool, error) {
	return ks.getString(key)
}

func (ks *keyspace) Set(ctx context.Context, key, value string, opts SetOptions) (SetResult, error) {
	var res SetResult
	e := ks.lookup(key)

	if opts.Get && e != nil {
		if e.kind != TypeString {
			return res, ErrWrongType
		}
		res.Old, res.HadOld = e.value.(string), true
	}
	if (opts.NX && e != nil) || (opts.XX && e == nil) {
		return res, nil
	}

	exp, hadExp := ks.expires[key]
	ks.put(key, TypeString, value)
	switch {
	case opts.TTL > 0:
		ks.setDeadline(key, ks.now().Add(opts.TTL))
	case opts.KeepTTL && hadExp:
		ks.expires[key] = exp
	}
	res.Written = true
	return res, nil
}

func (ks *keyspace) SetNX(ctx context.Context, key, value string) (bool, error) {
	if ks.lookup(key) != nil {
		return false, nil
	}
	ks.put(key, TypeString, value)
	return true, nil
}

func (ks *keyspace) GetDel(ctx context.Context, key string) (string, bool, error) {
	val, ok, err := ks.getString(key)
	if err != nil || !ok {
		return "", false, err
	}
	ks.remove(key)
	return val, true, nil
}

func (ks *keyspace) GetEx(ctx context.Context, key string, ttl time.Duration, persist bool) (string, bool, error) {
	val, ok, err := ks.getString(key)
	if err != nil || !ok {
		return "", false, err
	}
	switch {
	case persist:
		if _, has := ks.expires[key]; has {
			delete(ks.expires, key)
			ks.touch(key)
		}
	case ttl > 0:
		ks.setDeadline(key, ks.now().Add(ttl))
	}
	return val, true, nil
}

func (ks *keyspace) MGet(ctx context.Context, keys []string) ([]interface{}, error) {
	results := make([]interface{}, len(keys))
	for i, key := range keys {
		e := ks.lookup(key)
		if e == nil || e.kind != TypeString {
			results[i] = nil
			continue
		}
		results[i] = e.value.(string)
	}
	return results, nil
}

func (ks *keyspace) MSet(ctx context.Context, pairs []string) error {
	for i := 0; i+1 < len(pairs); i += 2 {
		ks.lookup(pairs[i])
		ks.put(pairs[i], TypeString, pairs[i+1])
	}
	return nil
}

func (ks *keyspace) MSetNX(ctx context.Context, pairs []string) (bool, error) {
	for i := 0; i+1 < len(pairs); i += 2 {
		if ks.lookup(pairs[i]) != nil {
			return false, nil
		}
	}
	return true, ks.MSet(ctx, pairs)
}

func (ks *keyspace) Incr(ctx context.Context, key string, delta int64) (int64, error) {
	val, ok, err := ks.getString(key)
	if err != nil {
		return 0, err
	}
	var current int64
	if ok {
		current, err = strconv.ParseInt(val, 10, 64)
		if err != nil {
			return 0, ErrNotInteger
		}
	}
	if (delta > 0 && current > math.MaxInt64-delta) || (delta < 0 && current < math.MinInt64-delta) {
		return 0, ErrOverflow
	}
	result := current + delta
	ks.setString(key, strconv.FormatInt(result, 10))
	return result, nil
}

func (ks *keyspace) IncrByFloat(ctx context.Context, key string, delta float64) (float64, error) {
	val, ok, err := ks.getString(key)
	if err != nil {
		return 0, err
	}
	var current float64
	if ok {
		current, err = strconv.ParseFloat(val, 64)
		if err != nil {
			return 0, ErrNotFloat
		}
	}
	result := current + delta
	if math.IsNaN(result) || math.IsInf(result, 0) {
		return 0, ErrNaN
	}
	ks.setString(key, FormatFloat(result))
	return result, nil
}

func (ks *keyspace) Append(ctx context.Context, key, value string) (int64, error) {
	val, _, err := ks.getString(key)
	if err != nil {
		return 0, err
	}
	val += value
	ks.setString(key, val)
	return int64(len(val)), nil
}

func (ks *keyspace) StrLen(ctx context.Context, key string) (int64, error) {
	val, _, err := ks.getString(key)
	return int64(len(val)), err
}

func (ks *keyspace) GetRange(ctx context.Context, key string, start, end int64) (string, error) {
	val, ok, err := ks.getString(key)
	if err != nil || !ok {
		return "", err
	}
	lo, hi, ok := clampRange(start, end, int64(len(val)))
	if !ok {
		return "", nil
	}
	return val[lo : hi+1], nil
}

func (ks *keyspace) SetRange(ctx context.Context, key string, offset int64, value string) (int64, error) {
	if offset < 0 {
		return 0, ErrIndexOutOfRange
	}
	if offset+int64(len(value)) > maxStringLength {
		return 0, ErrSyntax
	}
	val, _, err := ks.getString(key)
	if err != nil {
		return 0, err
	}
	if len(value) == 0 {
		return int64(len(val)), nil
	}

	buf := []byte(val)
	if need := offset + int64(len(value)); int64(len(buf)) < need {
		buf = append(buf, make([]byte, need-int64(len(buf)))...)
	}
	copy(buf[offset:], value)
	ks.setString(key, string(buf))
	return int64(len(buf)), nil
}

// clampRange resolves Redis-style inclusive start/stop indices, where
// negative values count from the end, against a sequence of length n.
func clampRange(start, stop, n int64) (int64, int64, bool) {
	if n == 0 {
		return 0, 0, false
	}
	if start < 0 {
		start = n + start
	}
	if stop < 0 {
		stop = n + stop
	}
	if start < 0 {
		start = 0
	}
	if stop >= n {
		stop = n - 1
	}
	if start > stop || start >= n {
		return 0, 0, false
	}
	return start, stop, true
}

// FormatFloat renders a float the way Redis replies with one: shortest
// representation, integers without a decimal point.
func FormatFloat(f float64) string {
	switch {
	case math.IsInf(f, 1):
		return "inf"
	case math.IsInf(f, -1):
		return "-inf"
	}
	return strconv.FormatFloat(f, 'f', -1, 64)
}
