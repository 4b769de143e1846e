package storage

import (
	"context"
	"time"
)

// KeyType represents the type of a key
type KeyType string

const (
	TypeString      KeyType = "string"
	TypeHash        KeyType = "hash"
	TypeList        KeyType = "list"
	TypeSet         KeyType = "set"
	TypeZSet        KeyType = "zset"
	TypeStream      KeyType = "stream"
	TypeHyperLogLog KeyType = "hyperloglog"
	TypeNone        KeyType = "none"
)

// Reported returns the type name TYPE replies with. HyperLogLogs are strings
// as far as clients are concerned.
func (t KeyType) Reported() string {
	if t == TypeHyperLogLog {
		return string(TypeString)
	}
	return string(t)
}

// ZMember represents a sorted set member with its score
type ZMember struct {
	Member string
	Score  float64
}

// SetOptions carries the modifiers of SET.
type SetOptions struct {
	TTL     time.Duration
	KeepTTL bool
	NX      bool
	XX      bool
	Get     bool
}

// SetResult reports what SET did. Old/HadOld are only filled when Get is set.
type SetResult struct {
	Written bool
	Old     string
	HadOld  bool
}

// ZAddOptions carries the modifiers shared by ZADD and GEOADD.
type ZAddOptions struct {
	NX bool
	XX bool
	GT bool
	LT bool
	CH bool
}

// ScoreBound is one end of a score range.
type ScoreBound struct {
	Value     float64
	Exclusive bool
}

// SetOp selects the algebra used by SInter/SUnion/SDiff and their STORE forms.
type SetOp int

const (
	SetInter SetOp = iota
	SetUnion
	SetDiff
)

// GeoPoint is a member with its coordinates.
type GeoPoint struct {
	Longitude float64
	Latitude  float64
	Member    string
}

// GeoQuery describes a GEORADIUS / GEOSEARCH query. Distances are in meters.
type GeoQuery struct {
	// Center, used unless FromMember is set.
	Longitude float64
	Latitude  float64
	// FromMember centers the query on an existing member.
	FromMember string

	Radius float64
	ByBox  bool
	Width  float64
	Height float64

	Count int
	Any   bool
	Desc  bool
}

// GeoResult is one match of a GeoQuery.
type GeoResult struct {
	Member    string
	Dist      float64
	Hash      uint64
	Longitude float64
	Latitude  float64
}

// Operations defines the commands a Store exposes inside a critical section.
// Every call made through one Operations value is atomic with respect to
// other Store users.
type Operations interface {
	// String commands
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string, opts SetOptions) (SetResult, error)
	SetNX(ctx context.Context, key, value string) (bool, error)
	GetDel(ctx context.Context, key string) (string, bool, error)
	GetEx(ctx context.Context, key string, ttl time.Duration, persist bool) (string, bool, error)
	MGet(ctx context.Context, keys []string) ([]interface{}, error)
	MSet(ctx context.Context, pairs []string) error
	MSetNX(ctx context.Context, pairs []string) (bool, error)
	Incr(ctx context.Context, key string, delta int64) (int64, error)
	IncrByFloat(ctx context.Context, key string, delta float64) (float64, error)
	Append(ctx context.Context, key, value string) (int64, error)
	StrLen(ctx context.Context, key string) (int64, error)
	GetRange(ctx context.Context, key string, start, end int64) (string, error)
	SetRange(ctx context.Context, key string, offset int64, value string) (int64, error)

	// Key commands
	Del(ctx context.Context, keys []string) (int64, error)
	Exists(ctx context.Context, keys []string) (int64, error)
	Expire(ctx context.Context, key string, ttl time.Duration) (bool, error)
	ExpireAt(ctx context.Context, key string, at time.Time) (bool, error)
	TTL(ctx context.Context, key string) (int64, error)
	PTTL(ctx context.Context, key string) (int64, error)
	Persist(ctx context.Context, key string) (bool, error)
	Keys(ctx context.Context, pattern string) ([]string, error)
	Scan(ctx context.Context, cursor uint64, pattern string, count int64, typ KeyType) (uint64, []string, error)
	Type(ctx context.Context, key string) (KeyType, error)
	Rename(ctx context.Context, oldKey, newKey string) error
	RenameNX(ctx context.Context, oldKey, newKey string) (bool, error)
	RandomKey(ctx context.Context) (string, bool, error)
	DBSize(ctx context.Context) (int64, error)
	FlushDB(ctx context.Context) error

	// Hash commands
	HGet(ctx context.Context, key, field string) (string, bool, error)
	HSet(ctx context.Context, key string, pairs []string) (int64, error)
	HSetNX(ctx context.Context, key, field, value string) (bool, error)
	HDel(ctx context.Context, key string, fields []string) (int64, error)
	HGetAll(ctx context.Context, key string) ([]string, error)
	HMGet(ctx context.Context, key string, fields []string) ([]interface{}, error)
	HExists(ctx context.Context, key, field string) (bool, error)
	HKeys(ctx context.Context, key string) ([]string, error)
	HVals(ctx context.Context, key string) ([]string, error)
	HLen(ctx context.Context, key string) (int64, error)
	HStrLen(ctx context.Context, key, field string) (int64, error)
	HIncrBy(ctx context.Context, key, field string, delta int64) (int64, error)
	HIncrByFloat(ctx context.Context, key, field string, delta float64) (float64, error)

	// List commands
	LPush(ctx context.Context, key string, values []string, onlyExisting bool) (int64, error)
	RPush(ctx context.Context, key string, values []string, onlyExisting bool) (int64, error)
	LPop(ctx context.Context, key string, count int64) ([]string, error)
	RPop(ctx context.Context, key string, count int64) ([]string, error)
	LLen(ctx context.Context, key string) (int64, error)
	LRange(ctx context.Context, key string, start, stop int64) ([]string, error)
	LIndex(ctx context.Context, key string, index int64) (string, bool, error)
	LSet(ctx context.Context, key string, index int64, value string) error
	LInsert(ctx context.Context, key string, before bool, pivot, value string) (int64, error)
	LRem(ctx context.Context, key string, count int64, element string) (int64, error)
	LTrim(ctx context.Context, key string, start, stop int64) error
	LMove(ctx context.Context, source, destination string, fromLeft, toLeft bool) (string, bool, error)

	// Set commands
	SAdd(ctx context.Context, key string, members []string) (int64, error)
	SRem(ctx context.Context, key string, members []string) (int64, error)
	SMembers(ctx context.Context, key string) ([]string, error)
	SIsMember(ctx context.Context, key, member string) (bool, error)
	SMIsMember(ctx context.Context, key string, members []string) ([]bool, error)
	SCard(ctx context.Context, key string) (int64, error)
	SPop(ctx context.Context, key string, count int64) ([]string, error)
	SRandMember(ctx context.Context, key string, count int64) ([]string, error)
	SMove(ctx context.Context, source, destination, member string) (bool, error)
	SCombine(ctx context.Context, op SetOp, keys []string) ([]string, error)
	SCombineStore(ctx context.Context, op SetOp, destination string, keys []string) (int64, error)

	// Sorted set commands
	ZAdd(ctx context.Context, key string, members []ZMember, opts ZAddOptions) (int64, error)
	ZIncrBy(ctx context.Context, key string, increment float64, member string, opts ZAddOptions) (float64, bool, error)
	ZRange(ctx context.Context, key string, start, stop int64, rev bool) ([]ZMember, error)
	ZRangeByScore(ctx context.Context, key string, min, max ScoreBound, rev bool, offset, count int64) ([]ZMember, error)
	ZScore(ctx context.Context, key, member string) (float64, bool, error)
	ZMScore(ctx context.Context, key string, members []string) ([]*float64, error)
	ZRem(ctx context.Context, key string, members []string) (int64, error)
	ZCard(ctx context.Context, key string) (int64, error)
	ZCount(ctx context.Context, key string, min, max ScoreBound) (int64, error)
	ZRank(ctx context.Context, key, member string, rev bool) (int64, bool, error)
	ZRemRangeByRank(ctx context.Context, key string, start, stop int64) (int64, error)
	ZRemRangeByScore(ctx context.Context, key string, min, max ScoreBound) (int64, error)
	ZPop(ctx context.Context, key string, count int64, max bool) ([]ZMember, error)

	// Geo commands
	GeoAdd(ctx context.Context, key string, points []GeoPoint, opts ZAddOptions) (int64, error)
	GeoPos(ctx context.Context, key string, members []string) ([]*GeoPoint, error)
	GeoHash(ctx context.Context, key string, members []string) ([]*string, error)
	GeoDist(ctx context.Context, key, member1, member2 string) (float64, bool, error)
	GeoSearch(ctx context.Context, key string, q GeoQuery) ([]GeoResult, error)

	// HyperLogLog commands
	PFAdd(ctx context.Context, key string, elements []string) (int64, error)
	PFCount(ctx context.Context, keys []string) (int64, error)
	PFMerge(ctx context.Context, destKey string, sourceKeys []string) error

	// Stream commands
	XAdd(ctx context.Context, key, id string, fields []string, opts XAddOptions) (StreamID, bool, error)
	XLen(ctx context.Context, key string) (int64, error)
	XRange(ctx context.Context, key string, start, end StreamID, count int64, rev bool) ([]StreamEntry, error)
	XDel(ctx context.Context, key string, ids []StreamID) (int64, error)
	XTrim(ctx context.Context, key string, opts XAddOptions) (int64, error)
	XLastID(ctx context.Context, key string) (StreamID, error)
	XRead(ctx context.Context, keys []string, after []StreamID, count int64) ([]StreamResult, error)
	XGroupCreate(ctx context.Context, key, group, id string, mkstream bool) error
	XGroupCreateConsumer(ctx context.Context, key, group, consumer string) (bool, error)
	XGroupDelConsumer(ctx context.Context, key, group, consumer string) (int64, error)
	XGroupDestroy(ctx context.Context, key, group string) (bool, error)
	XGroupSetID(ctx context.Context, key, group, id string) error
	XReadGroup(ctx context.Context, group, consumer string, keys, ids []string, count int64, noack bool) ([]StreamResult, error)
	XAck(ctx context.Context, key, group string, ids []StreamID) (int64, error)
	XPending(ctx context.Context, key, group string) (PendingSummary, error)
	XPendingRange(ctx context.Context, key, group string, start, end StreamID, count int64, consumer string) ([]PendingEntry, error)
	XInfoGroups(ctx context.Context, key string) ([]GroupInfo, error)
	XInfoConsumers(ctx context.Context, key, group string) ([]ConsumerInfo, error)
	XInfoStream(ctx context.Context, key string) (StreamInfo, error)
}
