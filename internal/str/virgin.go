package str

// Virgin is the process-wide reference bitmap V: a byte per coverage-map
// position, initialized to 0xFF, whose bits are cleared (never set) as
// buckets are observed at that edge for the first time.
type Virgin struct {
	bits []byte
}

// NewVirgin allocates a virgin map of the given size, initialized to all
// ones.
func NewVirgin(size int) *Virgin {
	v := &Virgin{bits: make([]byte, size)}
	v.Reset()
	return v
}

// Reset restores V to 0xFF...FF, as done at the start of every agent
// connection.
func (v *Virgin) Reset() {
	for i := range v.bits {
		v.bits[i] = 0xFF
	}
}

// Bytes exposes the raw bitmap, e.g. for the on-demand fuzz_bitmap dump.
func (v *Virgin) Bytes() []byte { return v.bits }

// Len returns M.
func (v *Virgin) Len() int { return len(v.bits) }
