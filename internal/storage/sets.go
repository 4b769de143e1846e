package storage

import (
	"context"
	"math/rand/v2"
	"sort"
)

// ============== Set Commands ==============

type set = map[string]struct{}

func (ks *keyspace) getSet(key string) (set, error) {
	e, err := ks.get(key, TypeSet)
	if err != nil || e == nil {
		return nil, err
	}
	return e.value.(set), nil
}

func sortedMembers(s set) []string {
	members := make([]string, 0, len(s))
	for m := range s {
		members = append(members, m)
	}
	sort.Strings(members)
	return members
}

func (ks *keyspace) SAdd(ctx context.Context, key string, members []string) (int64, error) {
	e, err := ks.getOrCreate(key, TypeSet, func() any { return make(set) })
	if err != nil {
		return 0, err
	}
	s := e.value.(set)
	var added int64
	for _, m := range members {
		if _, ok := s[m]; !ok {
			s[m] = struct{}{}
			added++
		}
	}
	if added > 0 {
		ks.touch(key)
	}
	return added, nil
}

func (ks *keyspace) SRem(ctx context.Context, key string, members []string) (int64, error) {
	s, err := ks.getSet(key)
	if err != nil || s == nil {
		return 0, err
	}
	var removed int64
	for _, m := range members {
		if _, ok := s[m]; ok {
			delete(s, m)
			removed++
		}
	}
	if removed > 0 {
		ks.touch(key)
		ks.removeIfEmpty(key, ks.entries[key])
	}
	return removed, nil
}

// SMembers returns members in lexical order. Callers must not rely on it.
func (ks *keyspace) SMembers(ctx context.Context, key string) ([]string, error) {
	s, err := ks.getSet(key)
	if err != nil {
		return nil, err
	}
	return sortedMembers(s), nil
}

func (ks *keyspace) SIsMember(ctx context.Context, key, member string) (bool, error) {
	s, err := ks.getSet(key)
	if err != nil {
		return false, err
	}
	_, ok := s[member]
	return ok, nil
}

func (ks *keyspace) SMIsMember(ctx context.Context, key string, members []string) ([]bool, error) {
	s, err := ks.getSet(key)
	if err != nil {
		return nil, err
	}
	result := make([]bool, len(members))
	for i, m := range members {
		_, result[i] = s[m]
	}
	return result, nil
}

func (ks *keyspace) SCard(ctx context.Context, key string) (int64, error) {
	s, err := ks.getSet(key)
	return int64(len(s)), err
}

// randomMembers picks count distinct members, or |count| members with
// repetition when count is negative.
func randomMembers(s set, count int64) []string {
	members := sortedMembers(s)
	if count < 0 {
		out := make([]string, -count)
		for i := range out {
			out[i] = members[rand.IntN(len(members))]
		}
		return out
	}
	rand.Shuffle(len(members), func(i, j int) { members[i], members[j] = members[j], members[i] })
	if count < int64(len(members)) {
		members = members[:count]
	}
	return members
}

func (ks *keyspace) SPop(ctx context.Context, key string, count int64) ([]string, error) {
	s, err := ks.getSet(key)
	if err != nil || s == nil {
		return nil, err
	}
	if count < 0 {
		count = -count
	}
	popped := randomMembers(s, count)
	for _, m := range popped {
		delete(s, m)
	}
	if len(popped) > 0 {
		ks.touch(key)
		ks.removeIfEmpty(key, ks.entries[key])
	}
	return popped, nil
}

func (ks *keyspace) SRandMember(ctx context.Context, key string, count int64) ([]string, error) {
	s, err := ks.getSet(key)
	if err != nil || len(s) == 0 {
		return nil, err
	}
	return randomMembers(s, count), nil
}

func (ks *keyspace) SMove(ctx context.Context, source, destination, member string) (bool, error) {
	src, err := ks.getSet(source)
	if err != nil {
		return false, err
	}
	if _, err := ks.getSet(destination); err != nil {
		return false, err
	}
	if _, ok := src[member]; !ok {
		return false, nil
	}
	if _, err := ks.SRem(ctx, source, []string{member}); err != nil {
		return false, err
	}
	if _, err := ks.SAdd(ctx, destination, []string{member}); err != nil {
		return false, err
	}
	return true, nil
}

// combine evaluates op over the sets at keys. Missing keys are empty sets.
func (ks *keyspace) combine(op SetOp, keys []string) (set, error) {
	sets := make([]set, len(keys))
	for i, key := range keys {
		s, err := ks.getSet(key)
		if err != nil {
			return nil, err
		}
		sets[i] = s
	}

	result := make(set)
	if len(sets) == 0 {
		return result, nil
	}
	switch op {
	case SetUnion:
		for _, s := range sets {
			for m := range s {
				result[m] = struct{}{}
			}
		}
	case SetInter:
	outer:
		for m := range sets[0] {
			for _, s := range sets[1:] {
				if _, ok := s[m]; !ok {
					continue outer
				}
			}
			result[m] = struct{}{}
		}
	case SetDiff:
		for m := range sets[0] {
			result[m] = struct{}{}
		}
		for _, s := range sets[1:] {
			for m := range s {
				delete(result, m)
			}
		}
	}
	return result, nil
}

func (ks *keyspace) SCombine(ctx context.Context, op SetOp, keys []string) ([]string, error) {
	s, err := ks.combine(op, keys)
	if err != nil {
		return nil, err
	}
	return sortedMembers(s), nil
}

func (ks *keyspace) SCombineStore(ctx context.Context, op SetOp, destination string, keys []string) (int64, error) {
	s, err := ks.combine(op, keys)
	if err != nil {
		return 0, err
	}
	ks.lookup(destination)
	ks.remove(destination)
	if len(s) > 0 {
		ks.put(destination, TypeSet, s)
	}
	return int64(len(s)), nil
}
