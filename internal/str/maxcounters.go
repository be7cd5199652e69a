package str

// MaxCounters is the process-wide running maximum MAX[0..K): the largest
// value observed at each performance-map index across all actual runs in
// the current agent connection.
type MaxCounters struct {
	counts []uint32
}

// NewMaxCounters allocates a zeroed max-counter array of length perfSize.
func NewMaxCounters(perfSize int) *MaxCounters {
	return &MaxCounters{counts: make([]uint32, perfSize)}
}

// Reset zeroes MAX, as done at the start of every agent connection.
func (m *MaxCounters) Reset() {
	for i := range m.counts {
		m.counts[i] = 0
	}
}

// At returns MAX[i].
func (m *MaxCounters) At(i int) uint32 { return m.counts[i] }

// Len returns K.
func (m *MaxCounters) Len() int { return len(m.counts) }

// Set sets MAX[i] = v. Only the feedback engine calls this, and only to
// advance the running maximum — MAX must be monotonically non-decreasing
// within a connection.
func (m *MaxCounters) Set(i int, v uint32) { m.counts[i] = v }
