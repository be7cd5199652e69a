// Package feedback implements the pure post-run analysis that turns a
// classified coverage map and a performance map into the four signals the
// agent cares about: new-bits classification, new-max detection, hotspot
// count, and the P[0]==sum(P[1..K)) consistency check.
package feedback

import (
	"fmt"

	"github.com/jihwankim/fuzzcore/internal/str"
)

// NewBits classifies how a run's classified coverage map compares to the
// virgin bitmap.
type NewBits int

const (
	// None: no position had a bit set in cov that was also set in virgin.
	None NewBits = 0
	// EdgeRefined: at least one already-seen edge showed a new bucket, but
	// no previously untouched edge was hit.
	EdgeRefined NewBits = 1
	// NewEdge: at least one position had cov[i] != 0 while virgin[i] was
	// still 0xFF — an edge never hit before.
	NewEdge NewBits = 2
)

// HasNewBits scans cov (already classified) against virgin in lockstep,
// clearing every bit in virgin that cov also sets, and reports the
// strongest novelty flavor observed. It must be called exactly once per
// actual run, never on a warmup run.
func HasNewBits(cov []byte, virgin *str.Virgin) NewBits {
	vbits := virgin.Bytes()
	ret := None
	for i, c := range cov {
		if c == 0 {
			continue
		}
		v := vbits[i]
		if c&v == 0 {
			continue
		}
		if ret < NewEdge {
			if v == 0xFF {
				ret = NewEdge
			} else if ret < EdgeRefined {
				ret = EdgeRefined
			}
		}
		vbits[i] = v &^ c
	}
	return ret
}

// HasNewMax scans P[1..K), advancing MAX wherever a new per-edge maximum is
// observed, and reports whether anything changed. Index 0 (the aggregate
// cost) is never examined here.
func HasNewMax(perf *str.Region, max *str.MaxCounters) bool {
	changed := false
	for i := 1; i < max.Len(); i++ {
		v := perf.PerfAt(i)
		if v == 0 {
			continue
		}
		if v > max.At(i) {
			max.Set(i, v)
			changed = true
		}
	}
	return changed
}

// HotspotCount returns max(P[1..K)), the single busiest edge in this run.
func HotspotCount(perf *str.Region) uint32 {
	var max uint32
	n := perf.PerfLen()
	for i := 1; i < n; i++ {
		if v := perf.PerfAt(i); v > max {
			max = v
		}
	}
	return max
}

// ErrInconsistent is wrapped with the observed values when a consistency
// check fails.
type ErrInconsistent struct {
	Cost uint32
	Sum  uint64
}

func (e *ErrInconsistent) Error() string {
	return fmt.Sprintf("consistency check failed: P[0]=%d sum(P[1..K))=%d", e.Cost, e.Sum)
}

// CheckConsistency asserts P[0] == sum(P[1..K)).
func CheckConsistency(perf *str.Region) error {
	cost := perf.PerfAt(0)
	sum := perf.PerfSum()
	if uint64(cost) != sum {
		return &ErrInconsistent{Cost: cost, Sum: sum}
	}
	return nil
}
