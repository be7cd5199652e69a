package outdir_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jihwankim/fuzzcore/internal/outdir"
)

func TestOpenScaffoldsSubdirectories(t *testing.T) {
	root := filepath.Join(t.TempDir(), "out")
	d, err := outdir.Open(root)
	require.NoError(t, err)
	defer d.Close()

	for _, sub := range []string{outdir.QueueDir, outdir.CrashesDir, outdir.HangsDir} {
		info, err := os.Stat(filepath.Join(root, sub))
		require.NoError(t, err)
		assert.True(t, info.IsDir())
	}
}

func TestOpenRejectsSecondInstance(t *testing.T) {
	root := filepath.Join(t.TempDir(), "out")
	d1, err := outdir.Open(root)
	require.NoError(t, err)
	defer d1.Close()

	_, err = outdir.Open(root)
	assert.Error(t, err)
}

func TestCloseReleasesLockForNextInstance(t *testing.T) {
	root := filepath.Join(t.TempDir(), "out")
	d1, err := outdir.Open(root)
	require.NoError(t, err)
	require.NoError(t, d1.Close())

	d2, err := outdir.Open(root)
	require.NoError(t, err)
	defer d2.Close()
}

func TestWriteBitmapRoundTrip(t *testing.T) {
	root := filepath.Join(t.TempDir(), "out")
	d, err := outdir.Open(root)
	require.NoError(t, err)
	defer d.Close()

	bits := []byte{0xFF, 0x00, 0xAB}
	require.NoError(t, d.WriteBitmap(bits))

	got, err := os.ReadFile(d.Path(outdir.BitmapFile))
	require.NoError(t, err)
	assert.Equal(t, bits, got)
}

func TestSubdirPathHelpers(t *testing.T) {
	root := filepath.Join(t.TempDir(), "out")
	d, err := outdir.Open(root)
	require.NoError(t, err)
	defer d.Close()

	assert.Equal(t, filepath.Join(root, outdir.QueueDir, "id:0"), d.QueuePath("id:0"))
	assert.Equal(t, filepath.Join(root, outdir.CrashesDir, "id:0"), d.CrashesPath("id:0"))
	assert.Equal(t, filepath.Join(root, outdir.HangsDir, "id:0"), d.HangsPath("id:0"))
}
