package storage

import (
	"context"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"
)

// StreamID identifies a stream entry: milliseconds and a sequence number
// within that millisecond.
type StreamID struct {
	Ms  uint64
	Seq uint64
}

// MaxStreamID sorts after every other ID.
var MaxStreamID = StreamID{Ms: math.MaxUint64, Seq: math.MaxUint64}

func (id StreamID) String() string {
	return strconv.FormatUint(id.Ms, 10) + "-" + strconv.FormatUint(id.Seq, 10)
}

// Compare returns -1, 0 or 1.
func (id StreamID) Compare(o StreamID) int {
	switch {
	case id.Ms < o.Ms:
		return -1
	case id.Ms > o.Ms:
		return 1
	case id.Seq < o.Seq:
		return -1
	case id.Seq > o.Seq:
		return 1
	}
	return 0
}

func (id StreamID) Less(o StreamID) bool { return id.Compare(o) < 0 }

func (id StreamID) IsZero() bool { return id.Ms == 0 && id.Seq == 0 }

// Next returns the smallest ID greater than id. ok is false for MaxStreamID.
func (id StreamID) Next() (StreamID, bool) {
	switch {
	case id.Seq < math.MaxUint64:
		return StreamID{Ms: id.Ms, Seq: id.Seq + 1}, true
	case id.Ms < math.MaxUint64:
		return StreamID{Ms: id.Ms + 1}, true
	}
	return id, false
}

// Prev returns the largest ID smaller than id. ok is false for 0-0.
func (id StreamID) Prev() (StreamID, bool) {
	switch {
	case id.Seq > 0:
		return StreamID{Ms: id.Ms, Seq: id.Seq - 1}, true
	case id.Ms > 0:
		return StreamID{Ms: id.Ms - 1, Seq: math.MaxUint64}, true
	}
	return id, false
}

// ParseStreamID parses "ms-seq" or "ms". A missing sequence becomes
// defaultSeq.
func ParseStreamID(s string, defaultSeq uint64) (StreamID, error) {
	msPart, seqPart, hasSeq := strings.Cut(s, "-")
	ms, err := strconv.ParseUint(msPart, 10, 64)
	if err != nil {
		return StreamID{}, ErrInvalidStreamID
	}
	if !hasSeq {
		return StreamID{Ms: ms, Seq: defaultSeq}, nil
	}
	seq, err := strconv.ParseUint(seqPart, 10, 64)
	if err != nil {
		return StreamID{}, ErrInvalidStreamID
	}
	return StreamID{Ms: ms, Seq: seq}, nil
}

// ParseRangeID parses an XRANGE / XPENDING bound: "-", "+", "(id" or id.
// start selects the default sequence of a bare millisecond value.
func ParseRangeID(s string, start bool) (StreamID, error) {
	switch s {
	case "-":
		return StreamID{}, nil
	case "+":
		return MaxStreamID, nil
	}
	exclusive := strings.HasPrefix(s, "(")
	s = strings.TrimPrefix(s, "(")

	defaultSeq := uint64(0)
	if !start {
		defaultSeq = math.MaxUint64
	}
	id, err := ParseStreamID(s, defaultSeq)
	if err != nil || !exclusive {
		return id, err
	}
	var ok bool
	if start {
		id, ok = id.Next()
	} else {
		id, ok = id.Prev()
	}
	if !ok {
		return id, ErrInvalidStreamID
	}
	return id, nil
}

// StreamEntry is one stream record. Fields alternate field, value. Fields is
// nil for a pending entry that was deleted from the stream.
type StreamEntry struct {
	ID     StreamID
	Fields []string
}

// StreamResult groups the entries read from one key.
type StreamResult struct {
	Key     string
	Entries []StreamEntry
}

// TrimStrategy selects how XADD / XTRIM cap a stream.
type TrimStrategy int

const (
	TrimNone TrimStrategy = iota
	TrimMaxLen
	TrimMinID
)

// XAddOptions carries the NOMKSTREAM and trimming arguments of XADD. XTRIM
// uses the trimming part only.
type XAddOptions struct {
	NoMkStream bool
	Trim       TrimStrategy
	MaxLen     int64
	MinID      StreamID
	Approx     bool
	Limit      int64
}

// PendingSummary is the summary form of XPENDING.
type PendingSummary struct {
	Count     int64
	Lowest    StreamID
	Highest   StreamID
	Consumers []ConsumerPending
}

// ConsumerPending is one consumer's share of a PEL.
type ConsumerPending struct {
	Name  string
	Count int64
}

// PendingEntry is one row of the extended form of XPENDING.
type PendingEntry struct {
	ID         StreamID
	Consumer   string
	Idle       time.Duration
	Deliveries int64
}

// GroupInfo is one row of XINFO GROUPS.
type GroupInfo struct {
	Name            string
	Consumers       int64
	Pending         int64
	LastDeliveredID StreamID
	EntriesRead     int64
	Lag             int64
}

// ConsumerInfo is one row of XINFO CONSUMERS.
type ConsumerInfo struct {
	Name     string
	Pending  int64
	Idle     time.Duration
	Inactive time.Duration
}

// StreamInfo is the reply of XINFO STREAM.
type StreamInfo struct {
	Length          int64
	Groups          int64
	LastGeneratedID StreamID
	MaxDeletedID    StreamID
	EntriesAdded    int64
	First           *StreamEntry
	Last            *StreamEntry
}

type pendingEntry struct {
	consumer  string
	delivered time.Time
	count     int64
}

type consumer struct {
	name    string
	seen    time.Time
	active  time.Time
	pending int64
}

type consumerGroup struct {
	name        string
	lastID      StreamID
	entriesRead int64
	consumers   map[string]*consumer
	pel         map[StreamID]*pendingEntry
}

type stream struct {
	entries      []StreamEntry
	lastID       StreamID
	maxDeletedID StreamID
	entriesAdded int64
	groups       map[string]*consumerGroup
}

func newStream() *stream {
	return &stream{groups: make(map[string]*consumerGroup)}
}

// search returns the index of the first entry with ID >= id.
func (s *stream) search(id StreamID) int {
	return sort.Search(len(s.entries), func(i int) bool {
		return !s.entries[i].ID.Less(id)
	})
}

func (s *stream) find(id StreamID) (StreamEntry, bool) {
	i := s.search(id)
	if i < len(s.entries) && s.entries[i].ID == id {
		return s.entries[i], true
	}
	return StreamEntry{}, false
}

// after returns up to count entries with ID > id; count <= 0 means all.
func (s *stream) after(id StreamID, count int64) []StreamEntry {
	next, ok := id.Next()
	if !ok {
		return nil
	}
	i := s.search(next)
	end := len(s.entries)
	if count > 0 && int64(end-i) > count {
		end = i + int(count)
	}
	return cloneEntries(s.entries[i:end])
}

func cloneEntries(src []StreamEntry) []StreamEntry {
	out := make([]StreamEntry, len(src))
	for i, e := range src {
		out[i] = StreamEntry{ID: e.ID, Fields: append([]string(nil), e.Fields...)}
	}
	return out
}

// nextID resolves the ID argument of XADD against the current top item.
func (s *stream) nextID(arg string, now time.Time) (StreamID, error) {
	last := s.lastID
	if arg == "*" {
		ms := uint64(now.UnixMilli())
		if ms <= last.Ms {
			// clock did not advance (or went backwards): stay on last.Ms
			if last.Seq == math.MaxUint64 {
				return StreamID{Ms: last.Ms + 1}, nil
			}
			return StreamID{Ms: last.Ms, Seq: last.Seq + 1}, nil
		}
		return StreamID{Ms: ms}, nil
	}

	if msPart, ok := strings.CutSuffix(arg, "-*"); ok {
		ms, err := strconv.ParseUint(msPart, 10, 64)
		if err != nil {
			return StreamID{}, ErrInvalidStreamID
		}
		switch {
		case ms < last.Ms:
			return StreamID{}, ErrStreamIDTooSmall
		case ms == last.Ms && !last.IsZero():
			if last.Seq == math.MaxUint64 {
				return StreamID{}, ErrStreamIDTooSmall
			}
			return StreamID{Ms: ms, Seq: last.Seq + 1}, nil
		case ms == 0:
			return StreamID{Seq: 1}, nil
		}
		return StreamID{Ms: ms}, nil
	}

	id, err := ParseStreamID(arg, 0)
	if err != nil {
		return StreamID{}, err
	}
	if id.IsZero() {
		return StreamID{}, ErrStreamIDZero
	}
	if !last.Less(id) {
		return StreamID{}, ErrStreamIDTooSmall
	}
	return id, nil
}

// trim applies opts and returns the number of entries removed.
func (s *stream) trim(opts XAddOptions) int64 {
	var n int
	switch opts.Trim {
	case TrimMaxLen:
		if excess := int64(len(s.entries)) - opts.MaxLen; excess > 0 {
			n = int(excess)
		}
	case TrimMinID:
		n = s.search(opts.MinID)
	default:
		return 0
	}
	if opts.Approx && opts.Limit > 0 && int64(n) > opts.Limit {
		n = int(opts.Limit)
	}
	if n == 0 {
		return 0
	}
	if removedTop := s.entries[n-1].ID; s.maxDeletedID.Less(removedTop) {
		s.maxDeletedID = removedTop
	}
	s.entries = append([]StreamEntry(nil), s.entries[n:]...)
	return int64(n)
}

// ============== Stream Commands ==============

func (ks *keyspace) getStream(key string) (*stream, error) {
	e, err := ks.get(key, TypeStream)
	if err != nil || e == nil {
		return nil, err
	}
	return e.value.(*stream), nil
}

// XAdd appends an entry. The bool is false when NOMKSTREAM was given and the
// key does not exist.
func (ks *keyspace) XAdd(ctx context.Context, key, id string, fields []string, opts XAddOptions) (StreamID, bool, error) {
	s, err := ks.getStream(key)
	if err != nil {
		return StreamID{}, false, err
	}
	if s == nil && opts.NoMkStream {
		return StreamID{}, false, nil
	}

	target := s
	if target == nil {
		target = newStream()
	}
	newID, err := target.nextID(id, ks.now())
	if err != nil {
		return StreamID{}, false, err
	}

	if s == nil {
		s = target
		ks.entries[key] = &entry{kind: TypeStream, value: s}
	}
	s.entries = append(s.entries, StreamEntry{ID: newID, Fields: append([]string(nil), fields...)})
	s.lastID = newID
	s.entriesAdded++
	s.trim(opts)
	ks.touch(key)
	return newID, true, nil
}

func (ks *keyspace) XLen(ctx context.Context, key string) (int64, error) {
	s, err := ks.getStream(key)
	if err != nil || s == nil {
		return 0, err
	}
	return int64(len(s.entries)), nil
}

// XRange returns entries with start <= ID <= end, newest first when rev.
func (ks *keyspace) XRange(ctx context.Context, key string, start, end StreamID, count int64, rev bool) ([]StreamEntry, error) {
	s, err := ks.getStream(key)
	if err != nil {
		return nil, err
	}
	out := make([]StreamEntry, 0)
	if s == nil || end.Less(start) {
		return out, nil
	}
	lo := s.search(start)
	hi := lo
	for hi < len(s.entries) && !end.Less(s.entries[hi].ID) {
		hi++
	}
	selected := s.entries[lo:hi]
	if rev {
		for i := len(selected) - 1; i >= 0 && (count <= 0 || int64(len(out)) < count); i-- {
			out = append(out, selected[i])
		}
		return cloneEntries(out), nil
	}
	if count > 0 && int64(len(selected)) > count {
		selected = selected[:count]
	}
	return cloneEntries(selected), nil
}

func (ks *keyspace) XDel(ctx context.Context, key string, ids []StreamID) (int64, error) {
	s, err := ks.getStream(key)
	if err != nil || s == nil {
		return 0, err
	}
	var deleted int64
	for _, id := range ids {
		i := s.search(id)
		if i >= len(s.entries) || s.entries[i].ID != id {
			continue
		}
		s.entries = append(s.entries[:i], s.entries[i+1:]...)
		if s.maxDeletedID.Less(id) {
			s.maxDeletedID = id
		}
		deleted++
	}
	if deleted > 0 {
		ks.touch(key)
	}
	return deleted, nil
}

func (ks *keyspace) XTrim(ctx context.Context, key string, opts XAddOptions) (int64, error) {
	s, err := ks.getStream(key)
	if err != nil || s == nil {
		return 0, err
	}
	n := s.trim(opts)
	if n > 0 {
		ks.touch(key)
	}
	return n, nil
}

// XLastID returns the top ID of the stream, or 0-0 if it does not exist.
func (ks *keyspace) XLastID(ctx context.Context, key string) (StreamID, error) {
	s, err := ks.getStream(key)
	if err != nil || s == nil {
		return StreamID{}, err
	}
	return s.lastID, nil
}

// XRead returns, for each key with new data, up to count entries after the
// matching ID. Keys without new entries are omitted.
func (ks *keyspace) XRead(ctx context.Context, keys []string, after []StreamID, count int64) ([]StreamResult, error) {
	streams := make([]*stream, len(keys))
	for i, key := range keys {
		s, err := ks.getStream(key)
		if err != nil {
			return nil, err
		}
		streams[i] = s
	}

	var results []StreamResult
	for i, s := range streams {
		if s == nil {
			continue
		}
		if entries := s.after(after[i], count); len(entries) > 0 {
			results = append(results, StreamResult{Key: keys[i], Entries: entries})
		}
	}
	return results, nil
}

// ============== Consumer Groups ==============

func (ks *keyspace) getGroup(key, group, suffix string) (*stream, *consumerGroup, error) {
	s, err := ks.getStream(key)
	if err != nil {
		return nil, nil, err
	}
	if s == nil {
		return nil, nil, &NoGroupError{Key: key, Group: group, Context: suffix}
	}
	g, ok := s.groups[group]
	if !ok {
		return nil, nil, &NoGroupError{Key: key, Group: group, Context: suffix}
	}
	return s, g, nil
}

func (s *stream) resolveGroupID(id string) (StreamID, error) {
	if id == "$" {
		return s.lastID, nil
	}
	return ParseStreamID(id, 0)
}

func (ks *keyspace) XGroupCreate(ctx context.Context, key, group, id string, mkstream bool) error {
	s, err := ks.getStream(key)
	if err != nil {
		return err
	}
	if s == nil && !mkstream {
		return ErrGroupKeyMissing
	}
	target := s
	if target == nil {
		target = newStream()
	}
	lastID, err := target.resolveGroupID(id)
	if err != nil {
		return err
	}
	if _, exists := target.groups[group]; exists {
		return ErrBusyGroup
	}

	if s == nil {
		s = target
		ks.entries[key] = &entry{kind: TypeStream, value: s}
	}
	s.groups[group] = &consumerGroup{
		name:      group,
		lastID:    lastID,
		consumers: make(map[string]*consumer),
		pel:       make(map[StreamID]*pendingEntry),
	}
	ks.touch(key)
	return nil
}

func (g *consumerGroup) consumer(name string, now time.Time) (*consumer, bool) {
	if c, ok := g.consumers[name]; ok {
		c.seen = now
		return c, false
	}
	c := &consumer{name: name, seen: now}
	g.consumers[name] = c
	return c, true
}

func (ks *keyspace) XGroupCreateConsumer(ctx context.Context, key, group, name string) (bool, error) {
	_, g, err := ks.getGroup(key, group, "")
	if err != nil {
		return false, err
	}
	_, created := g.consumer(name, ks.now())
	if created {
		ks.touch(key)
	}
	return created, nil
}

// XGroupDelConsumer removes a consumer and its pending entries, returning how
// many entries it had pending.
func (ks *keyspace) XGroupDelConsumer(ctx context.Context, key, group, name string) (int64, error) {
	_, g, err := ks.getGroup(key, group, "")
	if err != nil {
		return 0, err
	}
	c, ok := g.consumers[name]
	if !ok {
		return 0, nil
	}
	for id, pe := range g.pel {
		if pe.consumer == name {
			delete(g.pel, id)
		}
	}
	delete(g.consumers, name)
	ks.touch(key)
	return c.pending, nil
}

func (ks *keyspace) XGroupDestroy(ctx context.Context, key, group string) (bool, error) {
	s, err := ks.getStream(key)
	if err != nil {
		return false, err
	}
	if s == nil {
		return false, ErrGroupKeyMissing
	}
	if _, ok := s.groups[group]; !ok {
		return false, nil
	}
	delete(s.groups, group)
	ks.touch(key)
	return true, nil
}

func (ks *keyspace) XGroupSetID(ctx context.Context, key, group, id string) error {
	s, g, err := ks.getGroup(key, group, "")
	if err != nil {
		return err
	}
	lastID, err := s.resolveGroupID(id)
	if err != nil {
		return err
	}
	g.lastID = lastID
	ks.touch(key)
	return nil
}

// XReadGroup delivers entries to consumer. An id of ">" reads entries never
// delivered to the group and adds them to the consumer's PEL; any other id
// re-reads the consumer's own pending entries after it.
func (ks *keyspace) XReadGroup(ctx context.Context, group, consumerName string, keys, ids []string, count int64, noack bool) ([]StreamResult, error) {
	type target struct {
		s       *stream
		g       *consumerGroup
		history bool
		after   StreamID
	}
	targets := make([]target, len(keys))
	for i, key := range keys {
		s, g, err := ks.getGroup(key, group, " in XREADGROUP with GROUP option")
		if err != nil {
			return nil, err
		}
		t := target{s: s, g: g}
		if ids[i] != ">" {
			after, err := ParseStreamID(ids[i], 0)
			if err != nil {
				return nil, err
			}
			t.history, t.after = true, after
		}
		targets[i] = t
	}

	now := ks.now()
	var results []StreamResult
	for i, t := range targets {
		c, created := t.g.consumer(consumerName, now)
		if t.history {
			results = append(results, StreamResult{Key: keys[i], Entries: t.g.history(t.s, c, t.after, count, now)})
			if created {
				ks.touch(keys[i])
			}
			continue
		}

		entries := t.s.after(t.g.lastID, count)
		if len(entries) == 0 {
			if created {
				ks.touch(keys[i])
			}
			continue
		}
		c.active = now
		for _, e := range entries {
			t.g.lastID = e.ID
			t.g.entriesRead++
			if noack {
				continue
			}
			if prev, ok := t.g.pel[e.ID]; ok {
				if owner, ok := t.g.consumers[prev.consumer]; ok {
					owner.pending--
				}
			}
			t.g.pel[e.ID] = &pendingEntry{consumer: consumerName, delivered: now, count: 1}
			c.pending++
		}
		ks.touch(keys[i])
		results = append(results, StreamResult{Key: keys[i], Entries: entries})
	}
	return results, nil
}

func (g *consumerGroup) sortedPending() []StreamID {
	ids := make([]StreamID, 0, len(g.pel))
	for id := range g.pel {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i].Less(ids[j]) })
	return ids
}

// history re-delivers c's pending entries with ID > after. Entries deleted
// from the stream come back with nil fields.
func (g *consumerGroup) history(s *stream, c *consumer, after StreamID, count int64, now time.Time) []StreamEntry {
	out := make([]StreamEntry, 0)
	for _, id := range g.sortedPending() {
		if count > 0 && int64(len(out)) >= count {
			break
		}
		pe := g.pel[id]
		if pe.consumer != c.name || !after.Less(id) {
			continue
		}
		pe.delivered = now
		pe.count++
		e, ok := s.find(id)
		if !ok {
			out = append(out, StreamEntry{ID: id})
			continue
		}
		out = append(out, StreamEntry{ID: id, Fields: append([]string(nil), e.Fields...)})
	}
	return out
}

func (ks *keyspace) XAck(ctx context.Context, key, group string, ids []StreamID) (int64, error) {
	s, err := ks.getStream(key)
	if err != nil || s == nil {
		return 0, err
	}
	g, ok := s.groups[group]
	if !ok {
		return 0, nil
	}
	var acked int64
	for _, id := range ids {
		pe, ok := g.pel[id]
		if !ok {
			continue
		}
		if c, ok := g.consumers[pe.consumer]; ok {
			c.pending--
		}
		delete(g.pel, id)
		acked++
	}
	if acked > 0 {
		ks.touch(key)
	}
	return acked, nil
}

func (ks *keyspace) XPending(ctx context.Context, key, group string) (PendingSummary, error) {
	_, g, err := ks.getGroup(key, group, "")
	if err != nil {
		return PendingSummary{}, err
	}
	var sum PendingSummary
	ids := g.sortedPending()
	if len(ids) == 0 {
		return sum, nil
	}
	sum.Count = int64(len(ids))
	sum.Lowest, sum.Highest = ids[0], ids[len(ids)-1]

	perConsumer := make(map[string]int64)
	for _, pe := range g.pel {
		perConsumer[pe.consumer]++
	}
	names := make([]string, 0, len(perConsumer))
	for name := range perConsumer {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		sum.Consumers = append(sum.Consumers, ConsumerPending{Name: name, Count: perConsumer[name]})
	}
	return sum, nil
}

func (ks *keyspace) XPendingRange(ctx context.Context, key, group string, start, end StreamID, count int64, consumerName string) ([]PendingEntry, error) {
	_, g, err := ks.getGroup(key, group, "")
	if err != nil {
		return nil, err
	}
	now := ks.now()
	out := make([]PendingEntry, 0)
	for _, id := range g.sortedPending() {
		if count > 0 && int64(len(out)) >= count {
			break
		}
		if id.Less(start) || end.Less(id) {
			continue
		}
		pe := g.pel[id]
		if consumerName != "" && pe.consumer != consumerName {
			continue
		}
		out = append(out, PendingEntry{
			ID:         id,
			Consumer:   pe.consumer,
			Idle:       now.Sub(pe.delivered),
			Deliveries: pe.count,
		})
	}
	return out, nil
}

func (ks *keyspace) XInfoGroups(ctx context.Context, key string) ([]GroupInfo, error) {
	s, err := ks.getStream(key)
	if err != nil {
		return nil, err
	}
	if s == nil {
		return nil, ErrNoSuchKey
	}
	names := make([]string, 0, len(s.groups))
	for name := range s.groups {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make([]GroupInfo, 0, len(names))
	for _, name := range names {
		g := s.groups[name]
		lag := s.entriesAdded - g.entriesRead
		if lag < 0 {
			lag = 0
		}
		out = append(out, GroupInfo{
			Name:            name,
			Consumers:       int64(len(g.consumers)),
			Pending:         int64(len(g.pel)),
			LastDeliveredID: g.lastID,
			EntriesRead:     g.entriesRead,
			Lag:             lag,
		})
	}
	return out, nil
}

func (ks *keyspace) XInfoConsumers(ctx context.Context, key, group string) ([]ConsumerInfo, error) {
	_, g, err := ks.getGroup(key, group, "")
	if err != nil {
		return nil, err
	}
	now := ks.now()
	names := make([]string, 0, len(g.consumers))
	for name := range g.consumers {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make([]ConsumerInfo, 0, len(names))
	for _, name := range names {
		c := g.consumers[name]
		info := ConsumerInfo{Name: name, Pending: c.pending, Idle: now.Sub(c.seen), Inactive: -1}
		if !c.active.IsZero() {
			info.Inactive = now.Sub(c.active)
		}
		out = append(out, info)
	}
	return out, nil
}

func (ks *keyspace) XInfoStream(ctx context.Context, key string) (StreamInfo, error) {
	s, err := ks.getStream(key)
	if err != nil {
		return StreamInfo{}, err
	}
	if s == nil {
		return StreamInfo{}, ErrNoSuchKey
	}
	info := StreamInfo{
		Length:          int64(len(s.entries)),
		Groups:          int64(len(s.groups)),
		LastGeneratedID: s.lastID,
		MaxDeletedID:    s.maxDeletedID,
		EntriesAdded:    s.entriesAdded,
	}
	if n := len(s.entries); n > 0 {
		first := cloneEntries(s.entries[:1])[0]
		last := cloneEntries(s.entries[n-1:])[0]
		info.First, info.Last = &first, &last
	}
	return info, nil
}
