package storage

import (
	"context"
	"fmt"
	"testing"
)

func TestHyperLogLogSmallIsExact(t *testing.T) {
	hll := NewHyperLogLog()
	for _, elem := range []string{"a", "b", "c", "d", "e", "a", "c"} {
		hll.Add(elem)
	}
	if count := hll.Count(); count != 5 {
		t.Errorf("Count = %d, want 5", count)
	}
}

func TestHyperLogLogAddReportsChange(t *testing.T) {
	hll := NewHyperLogLog()
	if !hll.Add("x") {
		t.Error("first Add should change state")
	}
	if hll.Add("x") {
		t.Error("repeated Add should not change state")
	}
}

func TestHyperLogLogLarge(t *testing.T) {
	hll := NewHyperLogLog()

	for i := 0; i < 1000; i++ {
		hll.Add(fmt.Sprintf("element%d", i))
	}
	if hll.sparse != nil {
		t.Fatal("estimator should be dense past the sparse limit")
	}

	nonzero := 0
	for _, v := range hll.registers {
		if v > 0 {
			nonzero++
		}
	}
	t.Logf("Non-zero registers for 1000 elements: %d", nonzero)

	count := hll.Count()
	// Allow 5% error
	if count < 950 || count > 1050 {
		t.Errorf("Expected approximately 1000, got %d", count)
	}
}

func TestHyperLogLogMerge(t *testing.T) {
	hll1 := NewHyperLogLog()
	hll2 := NewHyperLogLog()

	for _, elem := range []string{"a", "b", "c"} {
		hll1.Add(elem)
	}
	for _, elem := range []string{"c", "d", "e", "f"} {
		hll2.Add(elem)
	}

	hll1.Merge(hll2)
	if count := hll1.Count(); count != 6 {
		t.Errorf("merged count = %d, want 6", count)
	}

	// merging again changes nothing
	hll1.Merge(hll2)
	if count := hll1.Count(); count != 6 {
		t.Errorf("count after idempotent merge = %d, want 6", count)
	}
}

func TestHyperLogLogMergeDenseIntoSparse(t *testing.T) {
	dense := NewHyperLogLog()
	for i := 0; i < 2000; i++ {
		dense.Add(fmt.Sprintf("d%d", i))
	}
	sparse := NewHyperLogLog()
	sparse.Add("lonely")

	sparse.Merge(dense)
	count := sparse.Count()
	if count < 1900 || count > 2100 {
		t.Errorf("Expected approximately 2001, got %d", count)
	}
}

func TestPFAddOverlappingBatches(t *testing.T) {
	s, _ := newTestStore()
	run(t, s, func(ctx context.Context, ops Operations) error {
		batches := [][]string{
			{"Andi", "Budi", "Cici"},
			{"Budi", "Dedi", "Euis"},
			{"Andi", "Euis", "Fafa"},
		}
		for _, b := range batches {
			if _, err := ops.PFAdd(ctx, "visitors", b); err != nil {
				return err
			}
		}
		count, err := ops.PFCount(ctx, []string{"visitors"})
		if err != nil {
			return err
		}
		if count != 6 {
			t.Errorf("PFCount = %d, want 6", count)
		}
		if n, _ := ops.PFAdd(ctx, "visitors", []string{"Andi"}); n != 0 {
			t.Errorf("PFAdd of known member = %d, want 0", n)
		}
		typ, _ := ops.Type(ctx, "visitors")
		if typ.Reported() != "string" {
			t.Errorf("TYPE reports %q, want string", typ.Reported())
		}
		return nil
	})
}

func TestPFMergeAndMultiCount(t *testing.T) {
	s, _ := newTestStore()
	run(t, s, func(ctx context.Context, ops Operations) error {
		ops.PFAdd(ctx, "day1", []string{"a", "b", "c"})
		ops.PFAdd(ctx, "day2", []string{"c", "d"})

		union, _ := ops.PFCount(ctx, []string{"day1", "day2", "missing"})
		if union != 4 {
			t.Errorf("PFCount over keys = %d, want 4", union)
		}
		if one, _ := ops.PFCount(ctx, []string{"day1"}); one != 3 {
			t.Errorf("PFCount day1 changed to %d", one)
		}
		if err := ops.PFMerge(ctx, "week", []string{"day1", "day2"}); err != nil {
			return err
		}
		if week, _ := ops.PFCount(ctx, []string{"week"}); week != 4 {
			t.Errorf("PFCount week = %d, want 4", week)
		}
		return nil
	})
}
