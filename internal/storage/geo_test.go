package storage

import (
	"context"
	"errors"
	"math"
	"testing"
)

// distanceTolerance is how far (in meters) computed distances may drift from
// the reference values, which were rounded to 10 m.
const distanceTolerance = 10.0

func addSellers(t *testing.T, s *Store) {
	t.Helper()
	run(t, s, func(ctx context.Context, ops Operations) error {
		n, err := ops.GeoAdd(ctx, "sellers", []GeoPoint{
			{Longitude: 106.820990, Latitude: -6.174704, Member: "Toko A"},
			{Longitude: 106.822696, Latitude: -6.176870, Member: "Toko B"},
		}, ZAddOptions{})
		if n != 2 {
			t.Errorf("GeoAdd = %d, want 2", n)
		}
		return err
	})
}

func TestGeoDist(t *testing.T) {
	s, _ := newTestStore()
	addSellers(t, s)
	run(t, s, func(ctx context.Context, ops Operations) error {
		dist, ok, err := ops.GeoDist(ctx, "sellers", "Toko A", "Toko B")
		if err != nil || !ok {
			t.Fatalf("GeoDist = %v, %v, %v", dist, ok, err)
		}
		if math.Abs(dist-310) > distanceTolerance {
			t.Errorf("GeoDist = %.2f m, want about 310 m", dist)
		}
		if _, ok, _ := ops.GeoDist(ctx, "sellers", "Toko A", "Toko Z"); ok {
			t.Error("GeoDist with missing member should report not found")
		}
		return nil
	})
}

func TestGeoRadiusNearestFirst(t *testing.T) {
	s, _ := newTestStore()
	addSellers(t, s)
	run(t, s, func(ctx context.Context, ops Operations) error {
		results, err := ops.GeoSearch(ctx, "sellers", GeoQuery{
			Longitude: 106.819875,
			Latitude:  -6.176091,
			Radius:    5000,
		})
		if err != nil {
			return err
		}
		if len(results) != 2 {
			t.Fatalf("got %d results, want 2", len(results))
		}
		if results[0].Member != "Toko A" || results[1].Member != "Toko B" {
			t.Errorf("order = %s, %s; want Toko A first", results[0].Member, results[1].Member)
		}
		if results[0].Dist > results[1].Dist {
			t.Error("results must be sorted by ascending distance")
		}

		desc, _ := ops.GeoSearch(ctx, "sellers", GeoQuery{
			Longitude: 106.819875,
			Latitude:  -6.176091,
			Radius:    5000,
			Desc:      true,
			Count:     1,
		})
		if len(desc) != 1 || desc[0].Member != "Toko B" {
			t.Errorf("DESC COUNT 1 = %v", desc)
		}

		tight, _ := ops.GeoSearch(ctx, "sellers", GeoQuery{
			Longitude: 106.819875,
			Latitude:  -6.176091,
			Radius:    250,
		})
		if len(tight) != 1 || tight[0].Member != "Toko A" {
			t.Errorf("250 m radius = %v, want only Toko A", tight)
		}
		return nil
	})
}

func TestGeoSearchFromMemberAndBox(t *testing.T) {
	s, _ := newTestStore()
	addSellers(t, s)
	run(t, s, func(ctx context.Context, ops Operations) error {
		results, err := ops.GeoSearch(ctx, "sellers", GeoQuery{FromMember: "Toko A", Radius: 1000})
		if err != nil {
			return err
		}
		if len(results) != 2 || results[0].Member != "Toko A" || results[0].Dist > 1 {
			t.Errorf("FROMMEMBER results = %v", results)
		}

		box, _ := ops.GeoSearch(ctx, "sellers", GeoQuery{
			Longitude: 106.820990,
			Latitude:  -6.174704,
			ByBox:     true,
			Width:     100,
			Height:    100,
		})
		if len(box) != 1 || box[0].Member != "Toko A" {
			t.Errorf("100x100 m box = %v", box)
		}

		if _, err := ops.GeoSearch(ctx, "sellers", GeoQuery{FromMember: "nope", Radius: 1}); !errors.Is(err, ErrGeoMemberMissing) {
			t.Errorf("missing FROMMEMBER err = %v", err)
		}
		return nil
	})
}

func TestGeoPosRoundTrip(t *testing.T) {
	s, _ := newTestStore()
	addSellers(t, s)
	run(t, s, func(ctx context.Context, ops Operations) error {
		pos, _ := ops.GeoPos(ctx, "sellers", []string{"Toko A", "missing"})
		if pos[0] == nil || pos[1] != nil {
			t.Fatalf("GeoPos = %v", pos)
		}
		if math.Abs(pos[0].Longitude-106.820990) > 1e-5 || math.Abs(pos[0].Latitude+6.174704) > 1e-5 {
			t.Errorf("GeoPos drifted: %+v", *pos[0])
		}
		hashes, _ := ops.GeoHash(ctx, "sellers", []string{"Toko A"})
		if hashes[0] == nil || len(*hashes[0]) != 11 {
			t.Errorf("GeoHash = %v", hashes)
		}
		return nil
	})
}

func TestGeoAddRejectsInvalidCoordinates(t *testing.T) {
	s, _ := newTestStore()
	run(t, s, func(ctx context.Context, ops Operations) error {
		_, err := ops.GeoAdd(ctx, "places", []GeoPoint{
			{Longitude: 10, Latitude: 10, Member: "ok"},
			{Longitude: 10, Latitude: 89, Member: "pole"},
		}, ZAddOptions{})
		if !errors.Is(err, ErrInvalidLonLat) {
			t.Errorf("err = %v, want ErrInvalidLonLat", err)
		}
		if n, _ := ops.Exists(ctx, []string{"places"}); n != 0 {
			t.Error("a rejected GEOADD must not create the key")
		}
		return nil
	})
}

func TestHaversine(t *testing.T) {
	// Palermo to Catania, the classic GEODIST example: 166274.1516 m
	d := Haversine(13.361389, 38.115556, 15.087269, 37.502669)
	if math.Abs(d-166274.15) > 1 {
		t.Errorf("Haversine = %.2f", d)
	}
}
