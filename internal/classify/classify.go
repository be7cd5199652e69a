// Package classify implements the byte-level hit-count bucketing used to
// turn a raw coverage bitmap into a small set of equivalence classes before
// it is compared against the virgin map.
package classify

import "encoding/binary"

// lookup8 buckets a single raw byte hit count into one of nine classes:
// 0, 1, 2, 3, 4-7, 8-15, 16-31, 32-127, 128-255.
var lookup8 = [256]byte{}

// lookup16 is the 65536-entry word-at-a-time table derived from lookup8.
// Index by a big-endian uint16 built from two adjacent bytes (the first byte
// is the high byte); the result is the same two bytes independently bucketed.
var lookup16 [65536]uint16

func init() {
	for n := 0; n < 256; n++ {
		lookup8[n] = bucket(n)
	}
	for b1 := 0; b1 < 256; b1++ {
		for b2 := 0; b2 < 256; b2++ {
			lookup16[(b1<<8)+b2] = uint16(lookup8[b1])<<8 | uint16(lookup8[b2])
		}
	}
}

func bucket(n int) byte {
	switch {
	case n == 0:
		return 0
	case n == 1:
		return 1
	case n == 2:
		return 2
	case n == 3:
		return 4
	case n <= 7:
		return 8
	case n <= 15:
		return 16
	case n <= 31:
		return 32
	case n <= 127:
		return 64
	default:
		return 128
	}
}

// Counts destructively rewrites every byte of cov through the bucket
// function, processing it two bytes (one lookup16 entry) at a time. Rows
// that are all-zero are skipped without a table lookup, since a freshly
// reset coverage map is sparse.
//
// Classifying an already-classified map is not a no-op: the bucket values
// 0, 1, 2, 64 and 128 map to themselves under bucket(), but 4, 8, 16 and 32
// each move up one class (for example a raw 3 becomes 4, then 8).
func Counts(cov []byte) {
	n := len(cov) &^ 1
	for i := 0; i < n; i += 2 {
		if cov[i] == 0 && cov[i+1] == 0 {
			continue
		}
		word := binary.BigEndian.Uint16(cov[i : i+2])
		binary.BigEndian.PutUint16(cov[i:i+2], lookup16[word])
	}
	if len(cov)%2 == 1 {
		cov[len(cov)-1] = lookup8[cov[len(cov)-1]]
	}
}
