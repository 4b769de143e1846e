package handler

import (
	"context"
	"strings"

	"github.com/mnorrsken/memkeys/internal/resp"
	"github.com/mnorrsken/memkeys/internal/storage"
)

// Command identifies a supported command.
type Command uint16

const (
	// Connection and server
	CmdPing Command = iota
	CmdEcho
	CmdQuit
	CmdAuth
	CmdHello
	CmdSelect
	CmdClient
	CmdCommand
	CmdInfo
	CmdTime
	CmdDBSize
	CmdFlushDB
	CmdFlushAll
	CmdCluster
	CmdMemory

	// Keys
	CmdDel
	CmdUnlink
	CmdExists
	CmdExpire
	CmdPExpire
	CmdExpireAt
	CmdPExpireAt
	CmdTTL
	CmdPTTL
	CmdPersist
	CmdKeys
	CmdScan
	CmdType
	CmdRename
	CmdRenameNX
	CmdRandomKey

	// Strings
	CmdGet
	CmdSet
	CmdSetNX
	CmdSetEX
	CmdPSetEX
	CmdGetSet
	CmdGetDel
	CmdGetEx
	CmdMGet
	CmdMSet
	CmdMSetNX
	CmdIncr
	CmdIncrBy
	CmdDecr
	CmdDecrBy
	CmdIncrByFloat
	CmdAppend
	CmdStrLen
	CmdGetRange
	CmdSetRange

	// Hashes
	CmdHGet
	CmdHSet
	CmdHMSet
	CmdHSetNX
	CmdHDel
	CmdHGetAll
	CmdHMGet
	CmdHExists
	CmdHKeys
	CmdHVals
	CmdHLen
	CmdHStrLen
	CmdHIncrBy
	CmdHIncrByFloat

	// Lists
	CmdLPush
	CmdRPush
	CmdLPushX
	CmdRPushX
	CmdLPop
	CmdRPop
	CmdLLen
	CmdLRange
	CmdLIndex
	CmdLSet
	CmdLInsert
	CmdLRem
	CmdLTrim
	CmdLMove
	CmdRPopLPush
	CmdBLPop
	CmdBRPop

	// Sets
	CmdSAdd
	CmdSRem
	CmdSMembers
	CmdSIsMember
	CmdSMIsMember
	CmdSCard
	CmdSPop
	CmdSRandMember
	CmdSMove
	CmdSInter
	CmdSUnion
	CmdSDiff
	CmdSInterStore
	CmdSUnionStore
	CmdSDiffStore

	// Sorted sets
	CmdZAdd
	CmdZIncrBy
	CmdZRange
	CmdZRevRange
	CmdZRangeByScore
	CmdZRevRangeByScore
	CmdZScore
	CmdZMScore
	CmdZRem
	CmdZCard
	CmdZCount
	CmdZRank
	CmdZRevRank
	CmdZRemRangeByRank
	CmdZRemRangeByScore
	CmdZPopMin
	CmdZPopMax

	// Geo
	CmdGeoAdd
	CmdGeoDist
	CmdGeoPos
	CmdGeoHash
	CmdGeoRadius
	CmdGeoRadiusRO
	CmdGeoRadiusByMember
	CmdGeoRadiusByMemberRO
	CmdGeoSearch

	// HyperLogLog
	CmdPFAdd
	CmdPFCount
	CmdPFMerge

	// Streams
	CmdXAdd
	CmdXLen
	CmdXRange
	CmdXRevRange
	CmdXDel
	CmdXTrim
	CmdXRead
	CmdXGroup
	CmdXReadGroup
	CmdXAck
	CmdXPending
	CmdXInfo

	// Transactions
	CmdMulti
	CmdExec
	CmdDiscard
	CmdWatch
	CmdUnwatch

	// Scripting
	CmdEval
	CmdEvalSHA
	CmdScript

	// Pub/sub
	CmdSubscribe
	CmdUnsubscribe
	CmdPSubscribe
	CmdPUnsubscribe
	CmdPublish
	CmdPubSub

	numCommands
)

type cmdFlag uint16

const (
	flagWrite cmdFlag = 1 << iota
	flagReadOnly
	flagBlocking
	flagPubSub
	flagTxControl
	flagNoScript
	// flagNoAuth commands run before AUTH.
	flagNoAuth
	// flagSession commands need a connection.
	flagSession
	// flagSubscribedOK commands are accepted on a RESP2 connection in
	// subscribed mode.
	flagSubscribedOK
	// flagDestKey writes args[1] as well as args[0].
	flagDestKey
)

// opFunc runs a command against a store view, inside a critical section.
type opFunc func(h *Handler, ctx context.Context, ops storage.Operations, args []string) resp.Value

// directFunc runs a command that manages its own locking or needs the
// connection: blocking reads, transactions, connection state.
type directFunc func(h *Handler, ctx context.Context, s *Session, args []string) resp.Value

// multiFunc runs a command that replies with several frames (SUBSCRIBE).
type multiFunc func(h *Handler, ctx context.Context, s *Session, args []string) []resp.Value

type commandSpec struct {
	name  string
	arity int
	flags cmdFlag

	op     opFunc
	direct directFunc
	multi  multiFunc
}

func (c *commandSpec) arityOK(n int) bool {
	if c.arity >= 0 {
		return n == c.arity
	}
	return n >= -c.arity
}

func (c *commandSpec) has(f cmdFlag) bool {
	return c.flags&f != 0
}

// String returns the command's lower-case name.
func (c Command) String() string {
	if c >= numCommands {
		return "unknown"
	}
	return commandTable[c].name
}

var (
	commandTable [numCommands]commandSpec
	commandIndex map[string]Command
)

// Lookup resolves a command name, ignoring case.
func Lookup(name string) (Command, bool) {
	c, ok := commandIndex[strings.ToLower(name)]
	return c, ok
}

func init() {
	const (
		w   = flagWrite
		r   = flagReadOnly
		ns  = flagNoScript
		ses = flagSession | flagNoScript
	)

	commandTable = [numCommands]commandSpec{
		CmdPing:     {name: "ping", arity: -1, flags: flagNoAuth | flagSubscribedOK, op: (*Handler).pingOp, direct: (*Handler).pingDirect},
		CmdEcho:     {name: "echo", arity: 2, op: (*Handler).echoOp},
		CmdQuit:     {name: "quit", arity: -1, flags: ses | flagNoAuth | flagSubscribedOK, direct: (*Handler).quitCmd},
		CmdAuth:     {name: "auth", arity: -2, flags: ses | flagNoAuth, direct: (*Handler).authCmd},
		CmdHello:    {name: "hello", arity: -1, flags: ses | flagNoAuth, direct: (*Handler).helloCmd},
		CmdSelect:   {name: "select", arity: 2, op: (*Handler).selectOp},
		CmdClient:   {name: "client", arity: -2, flags: ses, direct: (*Handler).clientCmd},
		CmdCommand:  {name: "command", arity: -1, flags: flagNoAuth, op: (*Handler).commandOp},
		CmdInfo:     {name: "info", arity: -1, op: (*Handler).infoOp},
		CmdTime:     {name: "time", arity: 1, op: (*Handler).timeOp},
		CmdDBSize:   {name: "dbsize", arity: 1, flags: r, op: (*Handler).dbsizeOp},
		CmdFlushDB:  {name: "flushdb", arity: -1, flags: w, op: (*Handler).flushdbOp},
		CmdFlushAll: {name: "flushall", arity: -1, flags: w, op: (*Handler).flushdbOp},
		CmdCluster:  {name: "cluster", arity: -2, op: (*Handler).clusterOp},
		CmdMemory:   {name: "memory", arity: -2, flags: r, op: (*Handler).memoryOp},

		CmdDel:       {name: "del", arity: -2, flags: w, op: (*Handler).delOp},
		CmdUnlink:    {name: "unlink", arity: -2, flags: w, op: (*Handler).delOp},
		CmdExists:    {name: "exists", arity: -2, flags: r, op: (*Handler).existsOp},
		CmdExpire:    {name: "expire", arity: -3, flags: w, op: (*Handler).expireOp},
		CmdPExpire:   {name: "pexpire", arity: -3, flags: w, op: (*Handler).pexpireOp},
		CmdExpireAt:  {name: "expireat", arity: -3, flags: w, op: (*Handler).expireatOp},
		CmdPExpireAt: {name: "pexpireat", arity: -3, flags: w, op: (*Handler).pexpireatOp},
		CmdTTL:       {name: "ttl", arity: 2, flags: r, op: (*Handler).ttlOp},
		CmdPTTL:      {name: "pttl", arity: 2, flags: r, op: (*Handler).pttlOp},
		CmdPersist:   {name: "persist", arity: 2, flags: w, op: (*Handler).persistOp},
		CmdKeys:      {name: "keys", arity: 2, flags: r, op: (*Handler).keysOp},
		CmdScan:      {name: "scan", arity: -2, flags: r, op: (*Handler).scanOp},
		CmdType:      {name: "type", arity: 2, flags: r, op: (*Handler).typeOp},
		CmdRename:    {name: "rename", arity: 3, flags: w | flagDestKey, op: (*Handler).renameOp},
		CmdRenameNX:  {name: "renamenx", arity: 3, flags: w | flagDestKey, op: (*Handler).renamenxOp},
		CmdRandomKey: {name: "randomkey", arity: 1, flags: r, op: (*Handler).randomkeyOp},

		CmdGet:         {name: "get", arity: 2, flags: r, op: (*Handler).getOp},
		CmdSet:         {name: "set", arity: -3, flags: w, op: (*Handler).setOp},
		CmdSetNX:       {name: "setnx", arity: 3, flags: w, op: (*Handler).setnxOp},
		CmdSetEX:       {name: "setex", arity: 4, flags: w, op: (*Handler).setexOp},
		CmdPSetEX:      {name: "psetex", arity: 4, flags: w, op: (*Handler).psetexOp},
		CmdGetSet:      {name: "getset", arity: 3, flags: w, op: (*Handler).getsetOp},
		CmdGetDel:      {name: "getdel", arity: 2, flags: w, op: (*Handler).getdelOp},
		CmdGetEx:       {name: "getex", arity: -2, flags: w, op: (*Handler).getexOp},
		CmdMGet:        {name: "mget", arity: -2, flags: r, op: (*Handler).mgetOp},
		CmdMSet:        {name: "mset", arity: -3, flags: w, op: (*Handler).msetOp},
		CmdMSetNX:      {name: "msetnx", arity: -3, flags: w, op: (*Handler).msetnxOp},
		CmdIncr:        {name: "incr", arity: 2, flags: w, op: (*Handler).incrOp},
		CmdIncrBy:      {name: "incrby", arity: 3, flags: w, op: (*Handler).incrbyOp},
		CmdDecr:        {name: "decr", arity: 2, flags: w, op: (*Handler).decrOp},
		CmdDecrBy:      {name: "decrby", arity: 3, flags: w, op: (*Handler).decrbyOp},
		CmdIncrByFloat: {name: "incrbyfloat", arity: 3, flags: w, op: (*Handler).incrbyfloatOp},
		CmdAppend:      {name: "append", arity: 3, flags: w, op: (*Handler).appendOp},
		CmdStrLen:      {name: "strlen", arity: 2, flags: r, op: (*Handler).strlenOp},
		CmdGetRange:    {name: "getrange", arity: 4, flags: r, op: (*Handler).getrangeOp},
		CmdSetRange:    {name: "setrange", arity: 4, flags: w, op: (*Handler).setrangeOp},

		CmdHGet:         {name: "hget", arity: 3, flags: r, op: (*Handler).hgetOp},
		CmdHSet:         {name: "hset", arity: -4, flags: w, op: (*Handler).hsetOp},
		CmdHMSet:        {name: "hmset", arity: -4, flags: w, op: (*Handler).hmsetOp},
		CmdHSetNX:       {name: "hsetnx", arity: 4, flags: w, op: (*Handler).hsetnxOp},
		CmdHDel:         {name: "hdel", arity: -3, flags: w, op: (*Handler).hdelOp},
		CmdHGetAll:      {name: "hgetall", arity: 2, flags: r, op: (*Handler).hgetallOp},
		CmdHMGet:        {name: "hmget", arity: -3, flags: r, op: (*Handler).hmgetOp},
		CmdHExists:      {name: "hexists", arity: 3, flags: r, op: (*Handler).hexistsOp},
		CmdHKeys:        {name: "hkeys", arity: 2, flags: r, op: (*Handler).hkeysOp},
		CmdHVals:        {name: "hvals", arity: 2, flags: r, op: (*Handler).hvalsOp},
		CmdHLen:         {name: "hlen", arity: 2, flags: r, op: (*Handler).hlenOp},
		CmdHStrLen:      {name: "hstrlen", arity: 3, flags: r, op: (*Handler).hstrlenOp},
		CmdHIncrBy:      {name: "hincrby", arity: 4, flags: w, op: (*Handler).hincrbyOp},
		CmdHIncrByFloat: {name: "hincrbyfloat", arity: 4, flags: w, op: (*Handler).hincrbyfloatOp},

		CmdLPush:     {name: "lpush", arity: -3, flags: w, op: (*Handler).lpushOp},
		CmdRPush:     {name: "rpush", arity: -3, flags: w, op: (*Handler).rpushOp},
		CmdLPushX:    {name: "lpushx", arity: -3, flags: w, op: (*Handler).lpushxOp},
		CmdRPushX:    {name: "rpushx", arity: -3, flags: w, op: (*Handler).rpushxOp},
		CmdLPop:      {name: "lpop", arity: -2, flags: w, op: (*Handler).lpopOp},
		CmdRPop:      {name: "rpop", arity: -2, flags: w, op: (*Handler).rpopOp},
		CmdLLen:      {name: "llen", arity: 2, flags: r, op: (*Handler).llenOp},
		CmdLRange:    {name: "lrange", arity: 4, flags: r, op: (*Handler).lrangeOp},
		CmdLIndex:    {name: "lindex", arity: 3, flags: r, op: (*Handler).lindexOp},
		CmdLSet:      {name: "lset", arity: 4, flags: w, op: (*Handler).lsetOp},
		CmdLInsert:   {name: "linsert", arity: 5, flags: w, op: (*Handler).linsertOp},
		CmdLRem:      {name: "lrem", arity: 4, flags: w, op: (*Handler).lremOp},
		CmdLTrim:     {name: "ltrim", arity: 4, flags: w, op: (*Handler).ltrimOp},
		CmdLMove:     {name: "lmove", arity: 5, flags: w | flagDestKey, op: (*Handler).lmoveOp},
		CmdRPopLPush: {name: "rpoplpush", arity: 3, flags: w | flagDestKey, op: (*Handler).rpoplpushOp},
		CmdBLPop:     {name: "blpop", arity: -3, flags: w | flagBlocking | ns, op: (*Handler).blpopOp, direct: (*Handler).blpopCmd},
		CmdBRPop:     {name: "brpop", arity: -3, flags: w | flagBlocking | ns, op: (*Handler).brpopOp, direct: (*Handler).brpopCmd},

		CmdSAdd:        {name: "sadd", arity: -3, flags: w, op: (*Handler).saddOp},
		CmdSRem:        {name: "srem", arity: -3, flags: w, op: (*Handler).sremOp},
		CmdSMembers:    {name: "smembers", arity: 2, flags: r, op: (*Handler).smembersOp},
		CmdSIsMember:   {name: "sismember", arity: 3, flags: r, op: (*Handler).sismemberOp},
		CmdSMIsMember:  {name: "smismember", arity: -3, flags: r, op: (*Handler).smismemberOp},
		CmdSCard:       {name: "scard", arity: 2, flags: r, op: (*Handler).scardOp},
		CmdSPop:        {name: "spop", arity: -2, flags: w, op: (*Handler).spopOp},
		CmdSRandMember: {name: "srandmember", arity: -2, flags: r, op: (*Handler).srandmemberOp},
		CmdSMove:       {name: "smove", arity: 4, flags: w | flagDestKey, op: (*Handler).smoveOp},
		CmdSInter:      {name: "sinter", arity: -2, flags: r, op: (*Handler).sinterOp},
		CmdSUnion:      {name: "sunion", arity: -2, flags: r, op: (*Handler).sunionOp},
		CmdSDiff:       {name: "sdiff", arity: -2, flags: r, op: (*Handler).sdiffOp},
		CmdSInterStore: {name: "sinterstore", arity: -3, flags: w, op: (*Handler).sinterstoreOp},
		CmdSUnionStore: {name: "sunionstore", arity: -3, flags: w, op: (*Handler).sunionstoreOp},
		CmdSDiffStore:  {name: "sdiffstore", arity: -3, flags: w, op: (*Handler).sdiffstoreOp},

		CmdZAdd:             {name: "zadd", arity: -4, flags: w, op: (*Handler).zaddOp},
		CmdZIncrBy:          {name: "zincrby", arity: 4, flags: w, op: (*Handler).zincrbyOp},
		CmdZRange:           {name: "zrange", arity: -4, flags: r, op: (*Handler).zrangeOp},
		CmdZRevRange:        {name: "zrevrange", arity: -4, flags: r, op: (*Handler).zrevrangeOp},
		CmdZRangeByScore:    {name: "zrangebyscore", arity: -4, flags: r, op: (*Handler).zrangebyscoreOp},
		CmdZRevRangeByScore: {name: "zrevrangebyscore", arity: -4, flags: r, op: (*Handler).zrevrangebyscoreOp},
		CmdZScore:           {name: "zscore", arity: 3, flags: r, op: (*Handler).zscoreOp},
		CmdZMScore:          {name: "zmscore", arity: -3, flags: r, op: (*Handler).zmscoreOp},
		CmdZRem:             {name: "zrem", arity: -3, flags: w, op: (*Handler).zremOp},
		CmdZCard:            {name: "zcard", arity: 2, flags: r, op: (*Handler).zcardOp},
		CmdZCount:           {name: "zcount", arity: 4, flags: r, op: (*Handler).zcountOp},
		CmdZRank:            {name: "zrank", arity: -3, flags: r, op: (*Handler).zrankOp},
		CmdZRevRank:         {name: "zrevrank", arity: -3, flags: r, op: (*Handler).zrevrankOp},
		CmdZRemRangeByRank:  {name: "zremrangebyrank", arity: 4, flags: w, op: (*Handler).zremrangebyrankOp},
		CmdZRemRangeByScore: {name: "zremrangebyscore", arity: 4, flags: w, op: (*Handler).zremrangebyscoreOp},
		CmdZPopMin:          {name: "zpopmin", arity: -2, flags: w, op: (*Handler).zpopminOp},
		CmdZPopMax:          {name: "zpopmax", arity: -2, flags: w, op: (*Handler).zpopmaxOp},

		CmdGeoAdd:              {name: "geoadd", arity: -5, flags: w, op: (*Handler).geoaddOp},
		CmdGeoDist:             {name: "geodist", arity: -4, flags: r, op: (*Handler).geodistOp},
		CmdGeoPos:              {name: "geopos", arity: -2, flags: r, op: (*Handler).geoposOp},
		CmdGeoHash:             {name: "geohash", arity: -2, flags: r, op: (*Handler).geohashOp},
		CmdGeoRadius:           {name: "georadius", arity: -6, flags: r, op: (*Handler).georadiusOp},
		CmdGeoRadiusRO:         {name: "georadius_ro", arity: -6, flags: r, op: (*Handler).georadiusOp},
		CmdGeoRadiusByMember:   {name: "georadiusbymember", arity: -5, flags: r, op: (*Handler).georadiusbymemberOp},
		CmdGeoRadiusByMemberRO: {name: "georadiusbymember_ro", arity: -5, flags: r, op: (*Handler).georadiusbymemberOp},
		CmdGeoSearch:           {name: "geosearch", arity: -7, flags: r, op: (*Handler).geosearchOp},

		CmdPFAdd:   {name: "pfadd", arity: -2, flags: w, op: (*Handler).pfaddOp},
		CmdPFCount: {name: "pfcount", arity: -2, flags: r, op: (*Handler).pfcountOp},
		CmdPFMerge: {name: "pfmerge", arity: -2, flags: w, op: (*Handler).pfmergeOp},

		CmdXAdd:       {name: "xadd", arity: -5, flags: w, op: (*Handler).xaddOp},
		CmdXLen:       {name: "xlen", arity: 2, flags: r, op: (*Handler).xlenOp},
		CmdXRange:     {name: "xrange", arity: -4, flags: r, op: (*Handler).xrangeOp},
		CmdXRevRange:  {name: "xrevrange", arity: -4, flags: r, op: (*Handler).xrevrangeOp},
		CmdXDel:       {name: "xdel", arity: -3, flags: w, op: (*Handler).xdelOp},
		CmdXTrim:      {name: "xtrim", arity: -4, flags: w, op: (*Handler).xtrimOp},
		CmdXRead:      {name: "xread", arity: -4, flags: r | flagBlocking, op: (*Handler).xreadOp, direct: (*Handler).xreadCmd},
		CmdXGroup:     {name: "xgroup", arity: -2, flags: w, op: (*Handler).xgroupOp},
		CmdXReadGroup: {name: "xreadgroup", arity: -7, flags: w | flagBlocking, op: (*Handler).xreadgroupOp, direct: (*Handler).xreadgroupCmd},
		CmdXAck:       {name: "xack", arity: -4, flags: w, op: (*Handler).xackOp},
		CmdXPending:   {name: "xpending", arity: -3, flags: r, op: (*Handler).xpendingOp},
		CmdXInfo:      {name: "xinfo", arity: -2, flags: r, op: (*Handler).xinfoOp},

		CmdMulti:   {name: "multi", arity: 1, flags: ses | flagTxControl, direct: (*Handler).multiCmd},
		CmdExec:    {name: "exec", arity: 1, flags: ses | flagTxControl, direct: (*Handler).execCmd},
		CmdDiscard: {name: "discard", arity: 1, flags: ses | flagTxControl, direct: (*Handler).discardCmd},
		CmdWatch:   {name: "watch", arity: -2, flags: ses | flagTxControl, direct: (*Handler).watchCmd},
		CmdUnwatch: {name: "unwatch", arity: 1, flags: ses | flagTxControl, direct: (*Handler).unwatchCmd},

		CmdEval:    {name: "eval", arity: -3, flags: w | ns, op: (*Handler).evalOp},
		CmdEvalSHA: {name: "evalsha", arity: -3, flags: w | ns, op: (*Handler).evalshaOp},
		CmdScript:  {name: "script", arity: -2, flags: ns, op: (*Handler).scriptOp},

		CmdSubscribe:    {name: "subscribe", arity: -2, flags: ses | flagPubSub | flagSubscribedOK, multi: (*Handler).subscribeCmd},
		CmdUnsubscribe:  {name: "unsubscribe", arity: -1, flags: ses | flagPubSub | flagSubscribedOK, multi: (*Handler).unsubscribeCmd},
		CmdPSubscribe:   {name: "psubscribe", arity: -2, flags: ses | flagPubSub | flagSubscribedOK, multi: (*Handler).psubscribeCmd},
		CmdPUnsubscribe: {name: "punsubscribe", arity: -1, flags: ses | flagPubSub | flagSubscribedOK, multi: (*Handler).punsubscribeCmd},
		CmdPublish:      {name: "publish", arity: 3, flags: flagPubSub | ns, direct: (*Handler).publishCmd},
		CmdPubSub:       {name: "pubsub", arity: -2, flags: flagPubSub, op: (*Handler).pubsubOp},
	}

	commandIndex = make(map[string]Command, numCommands)
	for i := range commandTable {
		commandIndex[commandTable[i].name] = Command(i)
	}
}
