// Package binscan inspects a target binary before the forkserver is
// started: it verifies the file is executable and scans its contents for
// the magic strings an instrumented target embeds to announce optional
// forkserver capabilities.
package binscan

import (
	"bytes"
	"fmt"
	"os"
)

// Marker strings an instrumented target links in to announce a capability.
// These match the conventional names used across the AFL family; a target
// that does not care about a capability simply never embeds the marker.
const (
	DeferredForkserverMarker = "##SIG_AFL_DEFER_FORKSRV##"
	PersistentModeMarker     = "##SIG_AFL_PERSISTENT##"
)

// Capabilities reports which optional protocol extensions a target
// advertises.
type Capabilities struct {
	DeferredForkserver bool
	Persistent         bool
}

// Check verifies path exists, is a regular file, and is executable by this
// process. It returns a descriptive error suitable for a fatal diagnostic
// otherwise.
func Check(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("target not executable: %w", err)
	}
	if info.IsDir() {
		return fmt.Errorf("target not executable: %s is a directory", path)
	}
	if info.Mode()&0111 == 0 {
		return fmt.Errorf("target not executable: %s has no execute bit set", path)
	}
	return nil
}

// Scan reads path and searches it for the capability markers. It does not
// parse the binary format; a raw substring search is how the source itself
// detects these markers, and it works across ELF, Mach-O, and PE targets
// uniformly.
func Scan(path string) (Capabilities, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Capabilities{}, fmt.Errorf("reading target for capability scan: %w", err)
	}
	return Capabilities{
		DeferredForkserver: bytes.Contains(data, []byte(DeferredForkserverMarker)),
		Persistent:         bytes.Contains(data, []byte(PersistentModeMarker)),
	}, nil
}
