package storage

import (
	"context"
	"math"

	"github.com/google/btree"
)

// sortedSet keeps a member->score map for point lookups and a B-tree ordered
// by (score, member) for range queries.
type sortedSet struct {
	scores map[string]float64
	tree   *btree.BTreeG[ZMember]
}

func zless(a, b ZMember) bool {
	if a.Score != b.Score {
		return a.Score < b.Score
	}
	return a.Member < b.Member
}

func newSortedSet() *sortedSet {
	return &sortedSet{
		scores: make(map[string]float64),
		tree:   btree.NewG[ZMember](16, zless),
	}
}

func (z *sortedSet) Len() int { return len(z.scores) }

// set inserts or moves member and reports whether it was new.
func (z *sortedSet) set(member string, score float64) bool {
	old, exists := z.scores[member]
	if exists {
		if old == score {
			return false
		}
		z.tree.Delete(ZMember{Member: member, Score: old})
	}
	z.scores[member] = score
	z.tree.ReplaceOrInsert(ZMember{Member: member, Score: score})
	return !exists
}

func (z *sortedSet) del(member string) bool {
	score, ok := z.scores[member]
	if !ok {
		return false
	}
	delete(z.scores, member)
	z.tree.Delete(ZMember{Member: member, Score: score})
	return true
}

// rank returns the 0-based ascending position of member.
func (z *sortedSet) rank(member string) (int64, bool) {
	score, ok := z.scores[member]
	if !ok {
		return 0, false
	}
	var r int64
	z.tree.AscendLessThan(ZMember{Member: member, Score: score}, func(ZMember) bool {
		r++
		return true
	})
	return r, true
}

// byRank returns the members in ascending rank positions [lo, hi].
func (z *sortedSet) byRank(lo, hi int64) []ZMember {
	out := make([]ZMember, 0, hi-lo+1)
	var i int64
	z.tree.Ascend(func(m ZMember) bool {
		if i > hi {
			return false
		}
		if i >= lo {
			out = append(out, m)
		}
		i++
		return true
	})
	return out
}

func (b ScoreBound) above(score float64) bool {
	if b.Exclusive {
		return score > b.Value
	}
	return score >= b.Value
}

func (b ScoreBound) below(score float64) bool {
	if b.Exclusive {
		return score < b.Value
	}
	return score <= b.Value
}

// byScore returns members with min <= score <= max in ascending order.
func (z *sortedSet) byScore(min, max ScoreBound) []ZMember {
	out := make([]ZMember, 0)
	pivot := ZMember{Score: min.Value}
	z.tree.AscendGreaterOrEqual(pivot, func(m ZMember) bool {
		if !max.below(m.Score) {
			return false
		}
		if min.above(m.Score) {
			out = append(out, m)
		}
		return true
	})
	return out
}

// ============== Sorted Set Commands ==============

func (ks *keyspace) getZSet(key string) (*sortedSet, error) {
	e, err := ks.get(key, TypeZSet)
	if err != nil || e == nil {
		return nil, err
	}
	return e.value.(*sortedSet), nil
}

func validZAddOptions(opts ZAddOptions) error {
	if (opts.NX && opts.XX) || (opts.GT && opts.LT) || (opts.NX && (opts.GT || opts.LT)) {
		return ErrZAddOptions
	}
	return nil
}

// zapply runs the NX/XX/GT/LT rules for one member and reports whether the
// set changed and whether the member was added.
func (z *sortedSet) zapply(member string, score float64, opts ZAddOptions) (changed, added bool) {
	old, exists := z.scores[member]
	switch {
	case opts.NX && exists, opts.XX && !exists:
		return false, false
	case exists && opts.GT && score <= old, exists && opts.LT && score >= old:
		return false, false
	}
	added = z.set(member, score)
	return added || old != score, added
}

func (ks *keyspace) ZAdd(ctx context.Context, key string, members []ZMember, opts ZAddOptions) (int64, error) {
	if err := validZAddOptions(opts); err != nil {
		return 0, err
	}
	for _, m := range members {
		if math.IsNaN(m.Score) {
			return 0, ErrNotFloat
		}
	}
	z, err := ks.getZSet(key)
	if err != nil {
		return 0, err
	}
	if z == nil {
		if opts.XX {
			return 0, nil
		}
		z = newSortedSet()
		ks.entries[key] = &entry{kind: TypeZSet, value: z}
	}

	var added, changed int64
	for _, m := range members {
		c, a := z.zapply(m.Member, m.Score, opts)
		if a {
			added++
		}
		if c {
			changed++
		}
	}
	if changed > 0 {
		ks.touch(key)
	}
	ks.removeIfEmpty(key, ks.entries[key])
	if opts.CH {
		return changed, nil
	}
	return added, nil
}

// ZIncrBy adds increment to member's score. The bool is false when NX/XX/GT/LT
// prevented the update.
func (ks *keyspace) ZIncrBy(ctx context.Context, key string, increment float64, member string, opts ZAddOptions) (float64, bool, error) {
	if err := validZAddOptions(opts); err != nil {
		return 0, false, err
	}
	z, err := ks.getZSet(key)
	if err != nil {
		return 0, false, err
	}
	var current float64
	if z != nil {
		current = z.scores[member]
	}
	score := current + increment
	if math.IsNaN(score) {
		return 0, false, ErrNaN
	}
	if _, err := ks.ZAdd(ctx, key, []ZMember{{Member: member, Score: score}}, opts); err != nil {
		return 0, false, err
	}
	z, _ = ks.getZSet(key)
	if z == nil {
		return 0, false, nil
	}
	got, ok := z.scores[member]
	if !ok || got != score {
		return 0, false, nil
	}
	return score, true, nil
}

func (ks *keyspace) ZRange(ctx context.Context, key string, start, stop int64, rev bool) ([]ZMember, error) {
	z, err := ks.getZSet(key)
	if err != nil {
		return nil, err
	}
	if z == nil {
		return []ZMember{}, nil
	}
	n := int64(z.Len())
	lo, hi, ok := clampRange(start, stop, n)
	if !ok {
		return []ZMember{}, nil
	}
	if rev {
		members := z.byRank(n-1-hi, n-1-lo)
		reverse(members)
		return members, nil
	}
	return z.byRank(lo, hi), nil
}

func (ks *keyspace) ZRangeByScore(ctx context.Context, key string, min, max ScoreBound, rev bool, offset, count int64) ([]ZMember, error) {
	z, err := ks.getZSet(key)
	if err != nil {
		return nil, err
	}
	if z == nil {
		return []ZMember{}, nil
	}
	members := z.byScore(min, max)
	if rev {
		reverse(members)
	}
	if offset < 0 {
		return []ZMember{}, nil
	}
	if offset >= int64(len(members)) {
		return []ZMember{}, nil
	}
	members = members[offset:]
	if count >= 0 && count < int64(len(members)) {
		members = members[:count]
	}
	return members, nil
}

func reverse(m []ZMember) {
	for i, j := 0, len(m)-1; i < j; i, j = i+1, j-1 {
		m[i], m[j] = m[j], m[i]
	}
}

func (ks *keyspace) ZScore(ctx context.Context, key, member string) (float64, bool, error) {
	z, err := ks.getZSet(key)
	if err != nil || z == nil {
		return 0, false, err
	}
	score, ok := z.scores[member]
	return score, ok, nil
}

func (ks *keyspace) ZMScore(ctx context.Context, key string, members []string) ([]*float64, error) {
	z, err := ks.getZSet(key)
	if err != nil {
		return nil, err
	}
	out := make([]*float64, len(members))
	if z == nil {
		return out, nil
	}
	for i, m := range members {
		if score, ok := z.scores[m]; ok {
			out[i] = &score
		}
	}
	return out, nil
}

func (ks *keyspace) ZRem(ctx context.Context, key string, members []string) (int64, error) {
	z, err := ks.getZSet(key)
	if err != nil || z == nil {
		return 0, err
	}
	var removed int64
	for _, m := range members {
		if z.del(m) {
			removed++
		}
	}
	if removed > 0 {
		ks.touch(key)
		ks.removeIfEmpty(key, ks.entries[key])
	}
	return removed, nil
}

func (ks *keyspace) ZCard(ctx context.Context, key string) (int64, error) {
	z, err := ks.getZSet(key)
	if err != nil || z == nil {
		return 0, err
	}
	return int64(z.Len()), nil
}

func (ks *keyspace) ZCount(ctx context.Context, key string, min, max ScoreBound) (int64, error) {
	z, err := ks.getZSet(key)
	if err != nil || z == nil {
		return 0, err
	}
	return int64(len(z.byScore(min, max))), nil
}

func (ks *keyspace) ZRank(ctx context.Context, key, member string, rev bool) (int64, bool, error) {
	z, err := ks.getZSet(key)
	if err != nil || z == nil {
		return 0, false, err
	}
	r, ok := z.rank(member)
	if !ok {
		return 0, false, nil
	}
	if rev {
		r = int64(z.Len()) - 1 - r
	}
	return r, true, nil
}

func (ks *keyspace) zremove(key string, z *sortedSet, members []ZMember) int64 {
	for _, m := range members {
		z.del(m.Member)
	}
	if len(members) > 0 {
		ks.touch(key)
		ks.removeIfEmpty(key, ks.entries[key])
	}
	return int64(len(members))
}

func (ks *keyspace) ZRemRangeByRank(ctx context.Context, key string, start, stop int64) (int64, error) {
	z, err := ks.getZSet(key)
	if err != nil || z == nil {
		return 0, err
	}
	lo, hi, ok := clampRange(start, stop, int64(z.Len()))
	if !ok {
		return 0, nil
	}
	return ks.zremove(key, z, z.byRank(lo, hi)), nil
}

func (ks *keyspace) ZRemRangeByScore(ctx context.Context, key string, min, max ScoreBound) (int64, error) {
	z, err := ks.getZSet(key)
	if err != nil || z == nil {
		return 0, err
	}
	return ks.zremove(key, z, z.byScore(min, max)), nil
}

// ZPop removes and returns up to count members with the lowest scores, or
// the highest when max is set.
func (ks *keyspace) ZPop(ctx context.Context, key string, count int64, max bool) ([]ZMember, error) {
	z, err := ks.getZSet(key)
	if err != nil || z == nil {
		return []ZMember{}, err
	}
	n := int64(z.Len())
	if count > n {
		count = n
	}
	if count <= 0 {
		return []ZMember{}, nil
	}
	var popped []ZMember
	if max {
		popped = z.byRank(n-count, n-1)
		reverse(popped)
	} else {
		popped = z.byRank(0, count-1)
	}
	ks.zremove(key, z, popped)
	return popped, nil
}
