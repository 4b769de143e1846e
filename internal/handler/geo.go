package handler

import (
	"context"
	"errors"
	"strconv"
	"strings"

	"github.com/mnorrsken/memkeys/internal/resp"
	"github.com/mnorrsken/memkeys/internal/storage"
)

// ============== Geo Commands ==============

var errUnit = resp.Err("unsupported unit provided. please use M, KM, FT, MI")

// unitFactor returns the number of meters in one unit.
func unitFactor(unit string) (float64, bool) {
	switch strings.ToLower(unit) {
	case "m":
		return 1, true
	case "km":
		return 1000, true
	case "mi":
		return 1609.34, true
	case "ft":
		return 0.3048, true
	}
	return 0, false
}

// formatDistance renders a distance with four decimals, as Redis does.
func formatDistance(meters, factor float64) resp.Value {
	return resp.Bulk(strconv.FormatFloat(meters/factor, 'f', 4, 64))
}

func coordReply(lon, lat float64) resp.Value {
	return resp.Arr(floatBulk(lon), floatBulk(lat))
}

func (h *Handler) geoaddOp(ctx context.Context, ops storage.Operations, args []string) resp.Value {
	opts, _, i := parseZAddFlags(args[1:], false)
	if opts.GT || opts.LT {
		return resp.ErrSyntax()
	}
	if opts.NX && opts.XX {
		return resp.Err("XX and NX options at the same time are not compatible")
	}
	rest := args[1+i:]
	if len(rest) == 0 || len(rest)%3 != 0 {
		return resp.ErrSyntax()
	}

	points := make([]storage.GeoPoint, 0, len(rest)/3)
	for j := 0; j < len(rest); j += 3 {
		lon, ok1 := parseFloat(rest[j])
		lat, ok2 := parseFloat(rest[j+1])
		if !ok1 || !ok2 {
			return errNotFloat
		}
		points = append(points, storage.GeoPoint{Longitude: lon, Latitude: lat, Member: rest[j+2]})
	}

	n, err := ops.GeoAdd(ctx, args[0], points, opts)
	if err != nil {
		if errors.Is(err, storage.ErrInvalidLonLat) {
			p := points[0]
			for _, pt := range points {
				if pt.Longitude < storage.GeoLonMin || pt.Longitude > storage.GeoLonMax ||
					pt.Latitude < storage.GeoLatMin || pt.Latitude > storage.GeoLatMax {
					p = pt
					break
				}
			}
			return resp.Err(storage.ErrInvalidLonLat.Error() + " " + strconv.FormatFloat(p.Longitude, 'f', 6, 64) + "," + strconv.FormatFloat(p.Latitude, 'f', 6, 64))
		}
		return errorReply(err)
	}
	return resp.Int(n)
}

func (h *Handler) geodistOp(ctx context.Context, ops storage.Operations, args []string) resp.Value {
	factor := 1.0
	switch len(args) {
	case 3:
	case 4:
		f, ok := unitFactor(args[3])
		if !ok {
			return errUnit
		}
		factor = f
	default:
		return resp.ErrSyntax()
	}
	dist, found, err := ops.GeoDist(ctx, args[0], args[1], args[2])
	if err != nil {
		return errorReply(err)
	}
	if !found {
		return resp.NullBulk()
	}
	return formatDistance(dist, factor)
}

func (h *Handler) geoposOp(ctx context.Context, ops storage.Operations, args []string) resp.Value {
	points, err := ops.GeoPos(ctx, args[0], args[1:])
	if err != nil {
		return errorReply(err)
	}
	out := make([]resp.Value, len(points))
	for i, p := range points {
		if p == nil {
			out[i] = resp.NullArray()
			continue
		}
		out[i] = coordReply(p.Longitude, p.Latitude)
	}
	return resp.Arr(out...)
}

func (h *Handler) geohashOp(ctx context.Context, ops storage.Operations, args []string) resp.Value {
	hashes, err := ops.GeoHash(ctx, args[0], args[1:])
	if err != nil {
		return errorReply(err)
	}
	out := make([]resp.Value, len(hashes))
	for i, s := range hashes {
		if s == nil {
			out[i] = resp.NullBulk()
			continue
		}
		out[i] = resp.Bulk(*s)
	}
	return resp.Arr(out...)
}

// geoReplyOptions selects the optional fields of each search result.
type geoReplyOptions struct {
	withDist  bool
	withHash  bool
	withCoord bool
	factor    float64
}

// parseGeoTail parses the options shared by GEORADIUS and GEOSEARCH:
// WITHCOORD, WITHDIST, WITHHASH, COUNT n [ANY], ASC and DESC.
func parseGeoTail(args []string, q *storage.GeoQuery, ro *geoReplyOptions) (resp.Value, bool) {
	for i := 0; i < len(args); i++ {
		switch strings.ToUpper(args[i]) {
		case "WITHCOORD":
			ro.withCoord = true
		case "WITHDIST":
			ro.withDist = true
		case "WITHHASH":
			ro.withHash = true
		case "ASC":
			q.Desc = false
		case "DESC":
			q.Desc = true
		case "COUNT":
			if i+1 >= len(args) {
				return resp.ErrSyntax(), false
			}
			n, ok := parseInt(args[i+1])
			if !ok {
				return errNotInteger, false
			}
			if n <= 0 {
				return resp.Err("COUNT must be > 0"), false
			}
			q.Count = int(n)
			i++
			if i+1 < len(args) && strings.EqualFold(args[i+1], "ANY") {
				q.Any = true
				i++
			}
		case "ANY":
			return resp.Err("the ANY argument requires COUNT argument"), false
		default:
			return resp.ErrSyntax(), false
		}
	}
	return resp.Value{}, true
}

func geoResultsReply(results []storage.GeoResult, ro geoReplyOptions) resp.Value {
	out := make([]resp.Value, len(results))
	plain := !ro.withDist && !ro.withHash && !ro.withCoord
	for i, r := range results {
		if plain {
			out[i] = resp.Bulk(r.Member)
			continue
		}
		item := []resp.Value{resp.Bulk(r.Member)}
		if ro.withDist {
			item = append(item, formatDistance(r.Dist, ro.factor))
		}
		if ro.withHash {
			item = append(item, resp.Int(int64(r.Hash)))
		}
		if ro.withCoord {
			item = append(item, coordReply(r.Longitude, r.Latitude))
		}
		out[i] = resp.Arr(item...)
	}
	return resp.Arr(out...)
}

func parseRadius(radius, unit string) (float64, float64, resp.Value, bool) {
	r, ok := parseFloat(radius)
	if !ok {
		return 0, 0, errNotFloat, false
	}
	if r < 0 {
		return 0, 0, resp.Err("radius cannot be negative"), false
	}
	factor, ok := unitFactor(unit)
	if !ok {
		return 0, 0, errUnit, false
	}
	return r * factor, factor, resp.Value{}, true
}

func (h *Handler) runGeoSearch(ctx context.Context, ops storage.Operations, key string, q storage.GeoQuery, ro geoReplyOptions) resp.Value {
	results, err := ops.GeoSearch(ctx, key, q)
	if err != nil {
		return errorReply(err)
	}
	return geoResultsReply(results, ro)
}

// georadiusOp serves GEORADIUS and GEORADIUS_RO:
// key longitude latitude radius unit [options].
func (h *Handler) georadiusOp(ctx context.Context, ops storage.Operations, args []string) resp.Value {
	var q storage.GeoQuery
	lon, ok1 := parseFloat(args[1])
	lat, ok2 := parseFloat(args[2])
	if !ok1 || !ok2 {
		return errNotFloat
	}
	q.Longitude, q.Latitude = lon, lat

	radius, factor, errReply, ok := parseRadius(args[3], args[4])
	if !ok {
		return errReply
	}
	q.Radius = radius
	ro := geoReplyOptions{factor: factor}
	if errReply, ok := parseGeoTail(args[5:], &q, &ro); !ok {
		return errReply
	}
	return h.runGeoSearch(ctx, ops, args[0], q, ro)
}

// georadiusbymemberOp serves GEORADIUSBYMEMBER[_RO]:
// key member radius unit [options].
func (h *Handler) georadiusbymemberOp(ctx context.Context, ops storage.Operations, args []string) resp.Value {
	q := storage.GeoQuery{FromMember: args[1]}
	radius, factor, errReply, ok := parseRadius(args[2], args[3])
	if !ok {
		return errReply
	}
	q.Radius = radius
	ro := geoReplyOptions{factor: factor}
	if errReply, ok := parseGeoTail(args[4:], &q, &ro); !ok {
		return errReply
	}
	return h.runGeoSearch(ctx, ops, args[0], q, ro)
}

// geosearchOp serves GEOSEARCH key FROMMEMBER m | FROMLONLAT lon lat
// BYRADIUS r unit | BYBOX w h unit [options].
func (h *Handler) geosearchOp(ctx context.Context, ops storage.Operations, args []string) resp.Value {
	var (
		q       storage.GeoQuery
		ro      geoReplyOptions
		hasFrom bool
		hasBy   bool
		tail    []string
	)
	for i := 1; i < len(args); i++ {
		switch strings.ToUpper(args[i]) {
		case "FROMMEMBER":
			if hasFrom || i+1 >= len(args) {
				return resp.ErrSyntax()
			}
			q.FromMember = args[i+1]
			hasFrom = true
			i++
		case "FROMLONLAT":
			if hasFrom || i+2 >= len(args) {
				return resp.ErrSyntax()
			}
			lon, ok1 := parseFloat(args[i+1])
			lat, ok2 := parseFloat(args[i+2])
			if !ok1 || !ok2 {
				return errNotFloat
			}
			q.Longitude, q.Latitude = lon, lat
			hasFrom = true
			i += 2
		case "BYRADIUS":
			if hasBy || i+2 >= len(args) {
				return resp.ErrSyntax()
			}
			radius, factor, errReply, ok := parseRadius(args[i+1], args[i+2])
			if !ok {
				return errReply
			}
			q.Radius, ro.factor = radius, factor
			hasBy = true
			i += 2
		case "BYBOX":
			if hasBy || i+3 >= len(args) {
				return resp.ErrSyntax()
			}
			w, ok1 := parseFloat(args[i+1])
			ht, ok2 := parseFloat(args[i+2])
			if !ok1 || !ok2 {
				return errNotFloat
			}
			if w < 0 || ht < 0 {
				return resp.Err("height or width cannot be negative")
			}
			factor, ok := unitFactor(args[i+3])
			if !ok {
				return errUnit
			}
			q.ByBox, q.Width, q.Height, ro.factor = true, w*factor, ht*factor, factor
			hasBy = true
			i += 3
		default:
			tail = append(tail, args[i])
		}
	}
	if !hasFrom {
		return resp.Err("exactly one of FROMMEMBER or FROMLONLAT can be specified for GEOSEARCH")
	}
	if !hasBy {
		return resp.Err("exactly one of BYRADIUS and BYBOX can be specified for GEOSEARCH")
	}
	if errReply, ok := parseGeoTail(tail, &q, &ro); !ok {
		return errReply
	}
	return h.runGeoSearch(ctx, ops, args[0], q, ro)
}
