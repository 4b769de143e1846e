package storage

import (
	"context"
	"errors"
	"math"
	"sort"

	"github.com/mmcloughlin/geohash"
)

const (
	// geoBits is the precision of the interleaved hash kept as the score
	// (26 bits per axis), exact in a float64 mantissa.
	geoBits = 52
	// geoHashChars is the length of GEOHASH strings.
	geoHashChars = 11

	// EarthRadiusMeters matches the radius Redis uses for haversine.
	EarthRadiusMeters = 6372797.560856

	GeoLatMin = -85.05112878
	GeoLatMax = 85.05112878
	GeoLonMin = -180.0
	GeoLonMax = 180.0
)

// ErrGeoMemberMissing is returned when a FROMMEMBER query names an absent member.
var ErrGeoMemberMissing = errors.New("could not decode requested zset member")

func validLonLat(lon, lat float64) bool {
	return lon >= GeoLonMin && lon <= GeoLonMax && lat >= GeoLatMin && lat <= GeoLatMax
}

func geoEncode(lon, lat float64) uint64 {
	return geohash.EncodeIntWithPrecision(lat, lon, geoBits)
}

func geoDecode(hash uint64) (lon, lat float64) {
	lat, lon = geohash.DecodeIntWithPrecision(hash, geoBits)
	return lon, lat
}

func radians(deg float64) float64 { return deg * math.Pi / 180 }

// Haversine returns the great-circle distance in meters.
func Haversine(lon1, lat1, lon2, lat2 float64) float64 {
	lat1r, lat2r := radians(lat1), radians(lat2)
	u := math.Sin((lat2r - lat1r) / 2)
	v := math.Sin(radians(lon2-lon1) / 2)
	return 2 * EarthRadiusMeters * math.Asin(math.Sqrt(u*u+math.Cos(lat1r)*math.Cos(lat2r)*v*v))
}

// latDistance is the north-south distance between two latitudes in meters.
func latDistance(lat1, lat2 float64) float64 {
	return EarthRadiusMeters * math.Abs(radians(lat2)-radians(lat1))
}

// ============== Geo Commands ==============

func (ks *keyspace) GeoAdd(ctx context.Context, key string, points []GeoPoint, opts ZAddOptions) (int64, error) {
	members := make([]ZMember, len(points))
	for i, p := range points {
		if !validLonLat(p.Longitude, p.Latitude) {
			return 0, ErrInvalidLonLat
		}
		members[i] = ZMember{Member: p.Member, Score: float64(geoEncode(p.Longitude, p.Latitude))}
	}
	return ks.ZAdd(ctx, key, members, opts)
}

func (ks *keyspace) geoMember(z *sortedSet, member string) (*GeoPoint, bool) {
	if z == nil {
		return nil, false
	}
	score, ok := z.scores[member]
	if !ok {
		return nil, false
	}
	lon, lat := geoDecode(uint64(score))
	return &GeoPoint{Longitude: lon, Latitude: lat, Member: member}, true
}

func (ks *keyspace) GeoPos(ctx context.Context, key string, members []string) ([]*GeoPoint, error) {
	z, err := ks.getZSet(key)
	if err != nil {
		return nil, err
	}
	out := make([]*GeoPoint, len(members))
	for i, m := range members {
		out[i], _ = ks.geoMember(z, m)
	}
	return out, nil
}

func (ks *keyspace) GeoHash(ctx context.Context, key string, members []string) ([]*string, error) {
	z, err := ks.getZSet(key)
	if err != nil {
		return nil, err
	}
	out := make([]*string, len(members))
	for i, m := range members {
		if p, ok := ks.geoMember(z, m); ok {
			h := geohash.EncodeWithPrecision(p.Latitude, p.Longitude, geoHashChars)
			out[i] = &h
		}
	}
	return out, nil
}

// GeoDist returns the distance between two members in meters.
func (ks *keyspace) GeoDist(ctx context.Context, key, member1, member2 string) (float64, bool, error) {
	z, err := ks.getZSet(key)
	if err != nil {
		return 0, false, err
	}
	a, ok1 := ks.geoMember(z, member1)
	b, ok2 := ks.geoMember(z, member2)
	if !ok1 || !ok2 {
		return 0, false, nil
	}
	return Haversine(a.Longitude, a.Latitude, b.Longitude, b.Latitude), true, nil
}

// within reports whether (lon, lat) falls inside q's shape and its distance
// from the center.
func (q GeoQuery) within(lon, lat float64) (float64, bool) {
	dist := Haversine(q.Longitude, q.Latitude, lon, lat)
	if !q.ByBox {
		return dist, dist <= q.Radius
	}
	if latDistance(q.Latitude, lat) > q.Height/2 {
		return 0, false
	}
	if Haversine(q.Longitude, lat, lon, lat) > q.Width/2 {
		return 0, false
	}
	return dist, true
}

// GeoSearch returns members inside the query shape ordered by distance from
// the center, nearest first unless q.Desc is set.
func (ks *keyspace) GeoSearch(ctx context.Context, key string, q GeoQuery) ([]GeoResult, error) {
	z, err := ks.getZSet(key)
	if err != nil {
		return nil, err
	}
	if q.FromMember != "" {
		center, ok := ks.geoMember(z, q.FromMember)
		if !ok {
			return nil, ErrGeoMemberMissing
		}
		q.Longitude, q.Latitude = center.Longitude, center.Latitude
	}
	results := make([]GeoResult, 0)
	if z == nil {
		return results, nil
	}

	z.tree.Ascend(func(m ZMember) bool {
		hash := uint64(m.Score)
		lon, lat := geoDecode(hash)
		dist, ok := q.within(lon, lat)
		if !ok {
			return true
		}
		results = append(results, GeoResult{
			Member:    m.Member,
			Dist:      dist,
			Hash:      hash,
			Longitude: lon,
			Latitude:  lat,
		})
		return !(q.Any && q.Count > 0 && len(results) >= q.Count)
	})

	sort.SliceStable(results, func(i, j int) bool {
		a, b := results[i], results[j]
		if a.Dist != b.Dist {
			if q.Desc {
				return a.Dist > b.Dist
			}
			return a.Dist < b.Dist
		}
		return a.Member < b.Member
	})
	if q.Count > 0 && len(results) > q.Count {
		results = results[:q.Count]
	}
	return results, nil
}
