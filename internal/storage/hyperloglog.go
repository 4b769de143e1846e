package storage

import (
	"context"
	"math"
	"math/bits"

	"github.com/spaolacci/murmur3"
)

const (
	// hllPrecision is the number of bits used for register indexing
	hllPrecision = 14
	// hllRegisters is 2^14 = 16384 registers
	hllRegisters = 1 << hllPrecision
	// hllAlpha is the bias correction factor for 16384 registers
	hllAlpha = 0.7213 / (1 + 1.079/float64(hllRegisters))
	// hllSparseMax is how many distinct hashes are kept verbatim before the
	// estimator switches to dense registers.
	hllSparseMax = 256
)

// HyperLogLog estimates the number of distinct elements added to it. While
// small it remembers each 64-bit hash and counts exactly; past hllSparseMax it
// switches to 16384 dense registers.
type HyperLogLog struct {
	sparse    map[uint64]struct{}
	registers []uint8
}

// NewHyperLogLog creates an empty estimator in sparse form
func NewHyperLogLog() *HyperLogLog {
	return &HyperLogLog{sparse: make(map[uint64]struct{})}
}

func hllHash(element string) uint64 {
	return murmur3.Sum64([]byte(element))
}

// registerOf splits a hash into a register index (low 14 bits) and the rank
// of the remaining 50 bits: leading zeros + 1.
func registerOf(hash uint64) (uint64, uint8) {
	index := hash & (hllRegisters - 1)
	rest := hash >> hllPrecision
	if rest == 0 {
		return index, 64 - hllPrecision + 1
	}
	return index, uint8(bits.LeadingZeros64(rest) - hllPrecision + 1)
}

func (hll *HyperLogLog) densify() {
	hll.registers = make([]uint8, hllRegisters)
	for h := range hll.sparse {
		hll.addDense(h)
	}
	hll.sparse = nil
}

func (hll *HyperLogLog) addDense(hash uint64) bool {
	index, rank := registerOf(hash)
	if rank > hll.registers[index] {
		hll.registers[index] = rank
		return true
	}
	return false
}

// Add adds an element and reports whether the internal state changed.
func (hll *HyperLogLog) Add(element string) bool {
	return hll.AddHash(hllHash(element))
}

// AddHash adds a pre-computed hash.
func (hll *HyperLogLog) AddHash(hash uint64) bool {
	if hll.sparse != nil {
		if _, ok := hll.sparse[hash]; ok {
			return false
		}
		hll.sparse[hash] = struct{}{}
		if len(hll.sparse) > hllSparseMax {
			hll.densify()
		}
		return true
	}
	return hll.addDense(hash)
}

// Count returns the estimated cardinality
func (hll *HyperLogLog) Count() int64 {
	if hll.sparse != nil {
		return int64(len(hll.sparse))
	}

	sum := 0.0
	zeros := 0
	for _, val := range hll.registers {
		sum += math.Ldexp(1, -int(val))
		if val == 0 {
			zeros++
		}
	}

	estimate := hllAlpha * float64(hllRegisters) * float64(hllRegisters) / sum
	if estimate <= 2.5*float64(hllRegisters) && zeros > 0 {
		// linear counting for small cardinalities
		estimate = float64(hllRegisters) * math.Log(float64(hllRegisters)/float64(zeros))
	}
	return int64(math.Round(estimate))
}

// Merge folds other into hll. Merging is commutative and idempotent.
func (hll *HyperLogLog) Merge(other *HyperLogLog) {
	if other.sparse != nil {
		for h := range other.sparse {
			hll.AddHash(h)
		}
		return
	}
	if hll.sparse != nil {
		hll.densify()
	}
	for i := range hll.registers {
		if other.registers[i] > hll.registers[i] {
			hll.registers[i] = other.registers[i]
		}
	}
}

// Clone returns an independent copy.
func (hll *HyperLogLog) Clone() *HyperLogLog {
	c := &HyperLogLog{}
	if hll.sparse != nil {
		c.sparse = make(map[uint64]struct{}, len(hll.sparse))
		for h := range hll.sparse {
			c.sparse[h] = struct{}{}
		}
		return c
	}
	c.registers = append([]uint8(nil), hll.registers...)
	return c
}

// IsEmpty returns true if the HyperLogLog has no data
func (hll *HyperLogLog) IsEmpty() bool {
	if hll.sparse != nil {
		return len(hll.sparse) == 0
	}
	for _, v := range hll.registers {
		if v > 0 {
			return false
		}
	}
	return true
}

// ============== HyperLogLog Commands ==============

func (ks *keyspace) getHLL(key string) (*HyperLogLog, error) {
	e := ks.lookup(key)
	if e == nil {
		return nil, nil
	}
	if e.kind != TypeHyperLogLog {
		return nil, ErrHLLCorrupt
	}
	return e.value.(*HyperLogLog), nil
}

// PFAdd returns 1 when the key was created or any register moved.
func (ks *keyspace) PFAdd(ctx context.Context, key string, elements []string) (int64, error) {
	hll, err := ks.getHLL(key)
	if err != nil {
		return 0, err
	}
	changed := false
	if hll == nil {
		hll = NewHyperLogLog()
		ks.entries[key] = &entry{kind: TypeHyperLogLog, value: hll}
		changed = true
	}
	for _, elem := range elements {
		if hll.Add(elem) {
			changed = true
		}
	}
	if changed {
		ks.touch(key)
		return 1, nil
	}
	return 0, nil
}

func (ks *keyspace) PFCount(ctx context.Context, keys []string) (int64, error) {
	if len(keys) == 1 {
		hll, err := ks.getHLL(keys[0])
		if err != nil || hll == nil {
			return 0, err
		}
		return hll.Count(), nil
	}

	merged := NewHyperLogLog()
	for _, key := range keys {
		hll, err := ks.getHLL(key)
		if err != nil {
			return 0, err
		}
		if hll != nil {
			merged.Merge(hll)
		}
	}
	return merged.Count(), nil
}

func (ks *keyspace) PFMerge(ctx context.Context, destKey string, sourceKeys []string) error {
	dest, err := ks.getHLL(destKey)
	if err != nil {
		return err
	}
	merged := NewHyperLogLog()
	if dest != nil {
		merged = dest.Clone()
	}
	for _, key := range sourceKeys {
		hll, err := ks.getHLL(key)
		if err != nil {
			return err
		}
		if hll != nil {
			merged.Merge(hll)
		}
	}

	exp, hadExp := ks.expires[destKey]
	ks.put(destKey, TypeHyperLogLog, merged)
	if hadExp {
		ks.expires[destKey] = exp
	}
	return nil
}
