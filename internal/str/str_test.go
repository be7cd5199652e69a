package str_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jihwankim/fuzzcore/internal/str"
)

func newRegion(t *testing.T) *str.Region {
	t.Helper()
	r, err := str.New(256, 16)
	if err != nil {
		t.Skipf("shared memory unavailable in this sandbox: %v", err)
	}
	t.Cleanup(func() { _ = r.Close() })
	return r
}

func TestRegionCoverAndPerfSizing(t *testing.T) {
	r := newRegion(t)
	assert.Equal(t, 256, len(r.Cover))
	assert.Equal(t, 16, r.PerfLen())
}

func TestRegionPerfRoundTrip(t *testing.T) {
	r := newRegion(t)
	r.SetPerfAt(3, 42)
	assert.Equal(t, uint32(42), r.PerfAt(3))
	r.SetPerfAt(3, 0)
	assert.Equal(t, uint32(0), r.PerfAt(3))
}

func TestRegionPerfSum(t *testing.T) {
	r := newRegion(t)
	r.SetPerfAt(1, 1)
	r.SetPerfAt(2, 2)
	r.SetPerfAt(3, 3)
	assert.Equal(t, uint64(6), r.PerfSum())
}

func TestRegionZeroClearsCoverAndPerf(t *testing.T) {
	r := newRegion(t)
	r.Cover[0] = 0xAB
	r.SetPerfAt(0, 99)
	r.SetPerfAt(1, 7)
	r.Zero()
	assert.Equal(t, byte(0), r.Cover[0])
	assert.Equal(t, uint32(0), r.PerfAt(0))
	assert.Equal(t, uint32(0), r.PerfAt(1))
}

func TestRegionEnvAndID(t *testing.T) {
	r := newRegion(t)
	require.NotEqual(t, 0, r.ID())
	assert.Equal(t, str.ShmEnvVar+"=", r.Env()[:len(str.ShmEnvVar)+1])
}

func TestRegionFirstWordReadsExecFailSig(t *testing.T) {
	r := newRegion(t)
	r.SetPerfAt(0, 0) // no-op, just exercise PerfAt(0) path separately
	r.Cover[0] = byte(str.ExecFailSig)
	r.Cover[1] = byte(str.ExecFailSig >> 8)
	r.Cover[2] = byte(str.ExecFailSig >> 16)
	r.Cover[3] = byte(str.ExecFailSig >> 24)
	assert.Equal(t, str.ExecFailSig, r.FirstWord())
}

func TestVirginInitializedToAllOnes(t *testing.T) {
	v := str.NewVirgin(32)
	for _, b := range v.Bytes() {
		assert.Equal(t, byte(0xFF), b)
	}
	assert.Equal(t, 32, v.Len())
}

func TestVirginResetRestoresAllOnes(t *testing.T) {
	v := str.NewVirgin(8)
	v.Bytes()[0] = 0x00
	v.Bytes()[4] = 0x12
	v.Reset()
	for _, b := range v.Bytes() {
		assert.Equal(t, byte(0xFF), b)
	}
}

func TestMaxCountersStartsZeroed(t *testing.T) {
	m := str.NewMaxCounters(8)
	assert.Equal(t, 8, m.Len())
	for i := 0; i < m.Len(); i++ {
		assert.Equal(t, uint32(0), m.At(i))
	}
}

func TestMaxCountersSetAndReset(t *testing.T) {
	m := str.NewMaxCounters(4)
	m.Set(2, 17)
	assert.Equal(t, uint32(17), m.At(2))
	m.Reset()
	assert.Equal(t, uint32(0), m.At(2))
}
