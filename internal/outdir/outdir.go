// Package outdir scaffolds and locks the fuzzer's output directory: the
// queue/crashes/hangs subdirectories, the names of the stats and plot files,
// the on-demand bitmap dump, and the names of the diagnostic log files (which
// nothing in this module writes), plus the exclusive advisory lock that keeps
// two instances from sharing one directory.
package outdir

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
)

// Names of the well-known entries under the output directory.
const (
	QueueDir       = "queue"
	CrashesDir     = "crashes"
	HangsDir       = "hangs"
	StatsFile      = "fuzzer_stats"
	PlotDataFile   = "plot_data"
	BitmapFile     = "fuzz_bitmap"
	FuzzLogFile    = "max-ct-fuzzing.log"
	InteractionLog = "rl_interactions.log"
	lockFile       = ".lock"
)

// Dir is a scaffolded, locked output directory.
type Dir struct {
	root string
	lock *flock.Flock
}

// Open creates root and its subdirectories if absent, and acquires an
// exclusive advisory lock on it. A lock held by another live instance is a
// fatal condition per the error taxonomy.
func Open(root string) (*Dir, error) {
	for _, sub := range []string{"", QueueDir, CrashesDir, HangsDir} {
		if err := os.MkdirAll(filepath.Join(root, sub), 0755); err != nil {
			return nil, fmt.Errorf("creating output directory %s: %w", filepath.Join(root, sub), err)
		}
	}

	lock := flock.New(filepath.Join(root, lockFile))
	locked, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("locking output directory %s: %w", root, err)
	}
	if !locked {
		return nil, fmt.Errorf("output directory %s is locked by another instance", root)
	}

	return &Dir{root: root, lock: lock}, nil
}

// Close releases the advisory lock. It does not remove any files.
func (d *Dir) Close() error {
	if d.lock == nil {
		return nil
	}
	return d.lock.Unlock()
}

// Root returns the output directory path.
func (d *Dir) Root() string { return d.root }

// Path joins name onto the output directory.
func (d *Dir) Path(name string) string { return filepath.Join(d.root, name) }

// QueuePath, CrashesPath, and HangsPath return the path to a named entry
// inside the corresponding subdirectory.
func (d *Dir) QueuePath(name string) string   { return filepath.Join(d.root, QueueDir, name) }
func (d *Dir) CrashesPath(name string) string { return filepath.Join(d.root, CrashesDir, name) }
func (d *Dir) HangsPath(name string) string   { return filepath.Join(d.root, HangsDir, name) }

// WriteBitmap dumps V verbatim to fuzz_bitmap, overwriting any prior dump.
func (d *Dir) WriteBitmap(bits []byte) error {
	return os.WriteFile(d.Path(BitmapFile), bits, 0644)
}
