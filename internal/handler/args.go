package handler

import (
	"math"
	"strconv"
	"strings"

	"github.com/mnorrsken/memkeys/internal/resp"
	"github.com/mnorrsken/memkeys/internal/storage"
)

var (
	errNotInteger = resp.Err(storage.ErrNotInteger.Error())
	errNotFloat   = resp.Err(storage.ErrNotFloat.Error())
)

func parseInt(s string) (int64, bool) {
	n, err := strconv.ParseInt(s, 10, 64)
	return n, err == nil
}

// parseFloat accepts what Redis accepts for scores and increments,
// including inf, +inf and -inf, but not NaN.
func parseFloat(s string) (float64, bool) {
	switch strings.ToLower(s) {
	case "inf", "+inf":
		return math.Inf(1), true
	case "-inf":
		return math.Inf(-1), true
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(f) {
		return 0, false
	}
	return f, true
}

func bulkOrNull(s string, ok bool) resp.Value {
	if !ok {
		return resp.NullBulk()
	}
	return resp.Bulk(s)
}

// interfacesReply renders MGET / HMGET results: string or nil.
func interfacesReply(values []interface{}) resp.Value {
	out := make([]resp.Value, len(values))
	for i, v := range values {
		if s, ok := v.(string); ok {
			out[i] = resp.Bulk(s)
		} else {
			out[i] = resp.NullBulk()
		}
	}
	return resp.Arr(out...)
}

func boolInt(b bool) resp.Value {
	if b {
		return resp.Int(1)
	}
	return resp.Int(0)
}

func floatBulk(f float64) resp.Value {
	return resp.Bulk(storage.FormatFloat(f))
}
