package handler

import (
	"context"
	"strings"

	"github.com/mnorrsken/memkeys/internal/resp"
	"github.com/mnorrsken/memkeys/internal/storage"
)

// ============== Sorted Set Commands ==============

var errMinMax = resp.Err("min or max is not a float")

// parseScoreBound parses a ZRANGEBYSCORE bound: a float, optionally prefixed
// with "(" for an exclusive bound.
func parseScoreBound(s string) (storage.ScoreBound, bool) {
	var b storage.ScoreBound
	if strings.HasPrefix(s, "(") {
		b.Exclusive = true
		s = s[1:]
	}
	f, ok := parseFloat(s)
	if !ok {
		return b, false
	}
	b.Value = f
	return b, true
}

// zmembersReply renders members, flat member/score pairs when withScores.
func zmembersReply(members []storage.ZMember, withScores bool) resp.Value {
	if !withScores {
		out := make([]resp.Value, len(members))
		for i, m := range members {
			out[i] = resp.Bulk(m.Member)
		}
		return resp.Arr(out...)
	}
	out := make([]resp.Value, 0, 2*len(members))
	for _, m := range members {
		out = append(out, resp.Bulk(m.Member), floatBulk(m.Score))
	}
	return resp.Arr(out...)
}

// parseZAddFlags consumes the leading NX/XX/GT/LT/CH/INCR options of ZADD and
// GEOADD. It returns the index of the first non-option argument.
func parseZAddFlags(args []string, allowIncr bool) (storage.ZAddOptions, bool, int) {
	var opts storage.ZAddOptions
	incr := false
	i := 0
	for ; i < len(args); i++ {
		switch strings.ToUpper(args[i]) {
		case "NX":
			opts.NX = true
		case "XX":
			opts.XX = true
		case "GT":
			opts.GT = true
		case "LT":
			opts.LT = true
		case "CH":
			opts.CH = true
		case "INCR":
			if !allowIncr {
				return opts, incr, i
			}
			incr = true
		default:
			return opts, incr, i
		}
	}
	return opts, incr, i
}

func (h *Handler) zaddOp(ctx context.Context, ops storage.Operations, args []string) resp.Value {
	key := args[0]
	opts, incr, i := parseZAddFlags(args[1:], true)
	rest := args[1+i:]

	if opts.NX && opts.XX {
		return resp.Err("XX and NX options at the same time are not compatible")
	}
	if len(rest) == 0 || len(rest)%2 != 0 {
		return resp.ErrSyntax()
	}
	if incr && len(rest) != 2 {
		return resp.Err("INCR option supports a single increment-element pair")
	}

	members := make([]storage.ZMember, 0, len(rest)/2)
	for j := 0; j < len(rest); j += 2 {
		score, ok := parseFloat(rest[j])
		if !ok {
			return errNotFloat
		}
		members = append(members, storage.ZMember{Member: rest[j+1], Score: score})
	}

	if incr {
		score, updated, err := ops.ZIncrBy(ctx, key, members[0].Score, members[0].Member, opts)
		if err != nil {
			return errorReply(err)
		}
		if !updated {
			return resp.NullBulk()
		}
		return resp.Dbl(score)
	}

	n, err := ops.ZAdd(ctx, key, members, opts)
	if err != nil {
		return errorReply(err)
	}
	return resp.Int(n)
}

func (h *Handler) zincrbyOp(ctx context.Context, ops storage.Operations, args []string) resp.Value {
	incr, ok := parseFloat(args[1])
	if !ok {
		return errNotFloat
	}
	score, _, err := ops.ZIncrBy(ctx, args[0], incr, args[2], storage.ZAddOptions{})
	if err != nil {
		return errorReply(err)
	}
	return resp.Dbl(score)
}

// zrangeGeneric implements ZRANGE with its BYSCORE, REV, LIMIT and
// WITHSCORES options.
func (h *Handler) zrangeGeneric(ctx context.Context, ops storage.Operations, key, start, stop string, opts []string, rev bool) resp.Value {
	byScore, withScores := false, false
	offset, count := int64(0), int64(-1)
	hasLimit := false
	for i := 0; i < len(opts); i++ {
		switch strings.ToUpper(opts[i]) {
		case "BYSCORE":
			byScore = true
		case "REV":
			rev = true
		case "WITHSCORES":
			withScores = true
		case "LIMIT":
			if i+2 >= len(opts) {
				return resp.ErrSyntax()
			}
			o, ok1 := parseInt(opts[i+1])
			c, ok2 := parseInt(opts[i+2])
			if !ok1 || !ok2 {
				return errNotInteger
			}
			offset, count, hasLimit = o, c, true
			i += 2
		default:
			return resp.ErrSyntax()
		}
	}

	if !byScore {
		if hasLimit {
			return resp.Err("syntax error, LIMIT is only supported in combination with either BYSCORE or BYLEX")
		}
		lo, ok1 := parseInt(start)
		hi, ok2 := parseInt(stop)
		if !ok1 || !ok2 {
			return errNotInteger
		}
		members, err := ops.ZRange(ctx, key, lo, hi, rev)
		if err != nil {
			return errorReply(err)
		}
		return zmembersReply(members, withScores)
	}

	// with REV the first bound is the maximum
	minArg, maxArg := start, stop
	if rev {
		minArg, maxArg = stop, start
	}
	min, ok1 := parseScoreBound(minArg)
	max, ok2 := parseScoreBound(maxArg)
	if !ok1 || !ok2 {
		return errMinMax
	}
	members, err := ops.ZRangeByScore(ctx, key, min, max, rev, offset, count)
	if err != nil {
		return errorReply(err)
	}
	return zmembersReply(members, withScores)
}

func (h *Handler) zrangeOp(ctx context.Context, ops storage.Operations, args []string) resp.Value {
	return h.zrangeGeneric(ctx, ops, args[0], args[1], args[2], args[3:], false)
}

func (h *Handler) zrevrangeOp(ctx context.Context, ops storage.Operations, args []string) resp.Value {
	for _, o := range args[3:] {
		if !strings.EqualFold(o, "WITHSCORES") {
			return resp.ErrSyntax()
		}
	}
	return h.zrangeGeneric(ctx, ops, args[0], args[1], args[2], args[3:], true)
}

func (h *Handler) zrangebyscoreOp(ctx context.Context, ops storage.Operations, args []string) resp.Value {
	return h.zrangeGeneric(ctx, ops, args[0], args[1], args[2], append([]string{"BYSCORE"}, args[3:]...), false)
}

func (h *Handler) zrevrangebyscoreOp(ctx context.Context, ops storage.Operations, args []string) resp.Value {
	return h.zrangeGeneric(ctx, ops, args[0], args[1], args[2], append([]string{"BYSCORE"}, args[3:]...), true)
}

func (h *Handler) zscoreOp(ctx context.Context, ops storage.Operations, args []string) resp.Value {
	score, found, err := ops.ZScore(ctx, args[0], args[1])
	if err != nil {
		return errorReply(err)
	}
	if !found {
		return resp.NullBulk()
	}
	return resp.Dbl(score)
}

func (h *Handler) zmscoreOp(ctx context.Context, ops storage.Operations, args []string) resp.Value {
	scores, err := ops.ZMScore(ctx, args[0], args[1:])
	if err != nil {
		return errorReply(err)
	}
	out := make([]resp.Value, len(scores))
	for i, s := range scores {
		if s == nil {
			out[i] = resp.NullBulk()
		} else {
			out[i] = resp.Dbl(*s)
		}
	}
	return resp.Arr(out...)
}

func (h *Handler) zremOp(ctx context.Context, ops storage.Operations, args []string) resp.Value {
	n, err := ops.ZRem(ctx, args[0], args[1:])
	if err != nil {
		return errorReply(err)
	}
	return resp.Int(n)
}

func (h *Handler) zcardOp(ctx context.Context, ops storage.Operations, args []string) resp.Value {
	n, err := ops.ZCard(ctx, args[0])
	if err != nil {
		return errorReply(err)
	}
	return resp.Int(n)
}

func (h *Handler) zcountOp(ctx context.Context, ops storage.Operations, args []string) resp.Value {
	min, ok1 := parseScoreBound(args[1])
	max, ok2 := parseScoreBound(args[2])
	if !ok1 || !ok2 {
		return errMinMax
	}
	n, err := ops.ZCount(ctx, args[0], min, max)
	if err != nil {
		return errorReply(err)
	}
	return resp.Int(n)
}

func (h *Handler) zrankWith(ctx context.Context, ops storage.Operations, args []string, rev bool) resp.Value {
	withScore := false
	switch {
	case len(args) == 3 && strings.EqualFold(args[2], "WITHSCORE"):
		withScore = true
	case len(args) != 2:
		return resp.ErrSyntax()
	}
	rank, found, err := ops.ZRank(ctx, args[0], args[1], rev)
	if err != nil {
		return errorReply(err)
	}
	if !found {
		if withScore {
			return resp.NullArray()
		}
		return resp.NullBulk()
	}
	if !withScore {
		return resp.Int(rank)
	}
	score, _, err := ops.ZScore(ctx, args[0], args[1])
	if err != nil {
		return errorReply(err)
	}
	return resp.Arr(resp.Int(rank), resp.Dbl(score))
}

func (h *Handler) zrankOp(ctx context.Context, ops storage.Operations, args []string) resp.Value {
	return h.zrankWith(ctx, ops, args, false)
}

func (h *Handler) zrevrankOp(ctx context.Context, ops storage.Operations, args []string) resp.Value {
	return h.zrankWith(ctx, ops, args, true)
}

func (h *Handler) zremrangebyrankOp(ctx context.Context, ops storage.Operations, args []string) resp.Value {
	start, ok1 := parseInt(args[1])
	stop, ok2 := parseInt(args[2])
	if !ok1 || !ok2 {
		return errNotInteger
	}
	n, err := ops.ZRemRangeByRank(ctx, args[0], start, stop)
	if err != nil {
		return errorReply(err)
	}
	return resp.Int(n)
}

func (h *Handler) zremrangebyscoreOp(ctx context.Context, ops storage.Operations, args []string) resp.Value {
	min, ok1 := parseScoreBound(args[1])
	max, ok2 := parseScoreBound(args[2])
	if !ok1 || !ok2 {
		return errMinMax
	}
	n, err := ops.ZRemRangeByScore(ctx, args[0], min, max)
	if err != nil {
		return errorReply(err)
	}
	return resp.Int(n)
}

func (h *Handler) zpopWith(ctx context.Context, ops storage.Operations, args []string, max bool) resp.Value {
	if len(args) > 2 {
		return resp.ErrSyntax()
	}
	count := int64(1)
	if len(args) == 2 {
		n, ok := parseInt(args[1])
		if !ok || n < 0 {
			return resp.Err("value is out of range, must be positive")
		}
		count = n
	}
	popped, err := ops.ZPop(ctx, args[0], count, max)
	if err != nil {
		return errorReply(err)
	}
	return zmembersReply(popped, true)
}

func (h *Handler) zpopminOp(ctx context.Context, ops storage.Operations, args []string) resp.Value {
	return h.zpopWith(ctx, ops, args, false)
}

func (h *Handler) zpopmaxOp(ctx context.Context, ops storage.Operations, args []string) resp.Value {
	return h.zpopWith(ctx, ops, args, true)
}
