package storage

import (
	"context"
	"sort"

	"github.com/mnorrsken/memkeys/internal/glob"
)

// ============== Key Commands ==============

func (ks *keyspace) Del(ctx context.Context, keys []string) (int64, error) {
	var deleted int64
	for _, key := range keys {
		if ks.lookup(key) != nil && ks.remove(key) {
			deleted++
		}
	}
	return deleted, nil
}

func (ks *keyspace) Exists(ctx context.Context, keys []string) (int64, error) {
	var count int64
	for _, key := range keys {
		if ks.lookup(key) != nil {
			count++
		}
	}
	return count, nil
}

// liveKeys returns every non-expired key in lexical order.
func (ks *keyspace) liveKeys() []string {
	keys := make([]string, 0, len(ks.entries))
	for key := range ks.entries {
		if ks.expireIfNeeded(key) {
			continue
		}
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

func (ks *keyspace) Keys(ctx context.Context, pattern string) ([]string, error) {
	keys := make([]string, 0)
	for _, key := range ks.liveKeys() {
		if glob.Match(pattern, key) {
			keys = append(keys, key)
		}
	}
	return keys, nil
}

// Scan walks the lexically ordered keyspace. The cursor is the position of
// the next key to visit; 0 is returned once the walk is complete.
func (ks *keyspace) Scan(ctx context.Context, cursor uint64, pattern string, count int64, typ KeyType) (uint64, []string, error) {
	if count <= 0 {
		count = 10
	}
	all := ks.liveKeys()
	if cursor >= uint64(len(all)) {
		return 0, []string{}, nil
	}

	matched := make([]string, 0)
	pos := cursor
	for visited := int64(0); visited < count && pos < uint64(len(all)); visited++ {
		key := all[pos]
		pos++
		if pattern != "" && !glob.Match(pattern, key) {
			continue
		}
		if typ != "" && ks.entries[key].kind != typ {
			continue
		}
		matched = append(matched, key)
	}
	if pos >= uint64(len(all)) {
		pos = 0
	}
	return pos, matched, nil
}

func (ks *keyspace) Type(ctx context.Context, key string) (KeyType, error) {
	e := ks.lookup(key)
	if e == nil {
		return TypeNone, nil
	}
	return e.kind, nil
}

func (ks *keyspace) Rename(ctx context.Context, oldKey, newKey string) error {
	e := ks.lookup(oldKey)
	if e == nil {
		return ErrNoSuchKey
	}
	if oldKey == newKey {
		return nil
	}
	exp, hasExp := ks.expires[oldKey]

	ks.remove(oldKey)
	ks.lookup(newKey)
	ks.remove(newKey)
	ks.entries[newKey] = e
	if hasExp {
		ks.expires[newKey] = exp
	}
	ks.touch(newKey)
	return nil
}

func (ks *keyspace) RenameNX(ctx context.Context, oldKey, newKey string) (bool, error) {
	if ks.lookup(oldKey) == nil {
		return false, ErrNoSuchKey
	}
	if ks.lookup(newKey) != nil {
		return false, nil
	}
	if err := ks.Rename(ctx, oldKey, newKey); err != nil {
		return false, err
	}
	return true, nil
}

func (ks *keyspace) RandomKey(ctx context.Context) (string, bool, error) {
	for key := range ks.entries {
		if ks.expireIfNeeded(key) {
			continue
		}
		return key, true, nil
	}
	return "", false, nil
}

// ============== Server Commands ==============

func (ks *keyspace) DBSize(ctx context.Context) (int64, error) {
	var count int64
	for key := range ks.entries {
		if !ks.expireIfNeeded(key) {
			count++
		}
	}
	return count, nil
}

func (ks *keyspace) FlushDB(ctx context.Context) error {
	for key := range ks.entries {
		ks.remove(key)
	}
	return nil
}
