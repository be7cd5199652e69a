// Package str implements the shared telemetry region (STR): the System V
// shared-memory segment the forkserver child writes into and the parent
// reads from after every run. It also owns the two pieces of process-wide
// reference state derived from it — the virgin bitmap and the per-edge
// running maximum.
package str

import (
	"encoding/binary"
	"fmt"
	"strconv"

	"golang.org/x/sys/unix"
)

// ShmEnvVar is the environment variable the parent sets, and the target's
// instrumentation reads, to locate the shared segment.
const ShmEnvVar = "__AFL_SHM_ID"

// ExecFailSig is written to the first four bytes of the coverage map by the
// forkserver child's exec-fallthrough branch when execv itself fails.
const ExecFailSig uint32 = 0xfee1dead

// DefaultMapSize and DefaultPerfSize are the conventional power-of-two
// sizes for the coverage bitmap and the performance counter array.
const (
	DefaultMapSize  = 65536
	DefaultPerfSize = 65536
)

// Region is the parent-side view of the shared telemetry region: a
// contiguous allocation of mapSize bytes (C) followed by perfSize*4 bytes
// (P), attached via System V shared memory so a forked child inherits the
// same mapping without re-attaching.
//
// Cover aliases the C portion of the segment directly. Perf reads are
// little-endian decodes over the P portion performed on demand, since the
// child writes P using the host's native instrumentation runtime and the
// parent must never cache a stale copy across a run boundary.
type Region struct {
	id      int
	mem     []byte
	mapSize int
	Cover   []byte
}

// New allocates and attaches a shared telemetry region sized for mapSize
// coverage bytes and perfSize 32-bit performance counters.
func New(mapSize, perfSize int) (*Region, error) {
	total := mapSize + perfSize*4
	id, err := unix.SysvShmGet(unix.IPC_PRIVATE, total, unix.IPC_CREAT|unix.IPC_EXCL|0600)
	if err != nil {
		return nil, fmt.Errorf("shmget failed: %w", err)
	}
	mem, err := unix.SysvShmAttach(id, 0, 0)
	if err != nil {
		_, _ = unix.SysvShmCtl(id, unix.IPC_RMID, nil)
		return nil, fmt.Errorf("shmat failed: %w", err)
	}
	return &Region{
		id:      id,
		mem:     mem,
		mapSize: mapSize,
		Cover:   mem[:mapSize],
	}, nil
}

// ID returns the System V shared memory identifier, exported to the child
// via ShmEnvVar before exec.
func (r *Region) ID() int { return r.id }

// Env returns the "KEY=VALUE" string to append to the child's environment.
func (r *Region) Env() string { return ShmEnvVar + "=" + strconv.Itoa(r.id) }

// PerfLen returns K, the number of 32-bit performance counters.
func (r *Region) PerfLen() int { return (len(r.mem) - r.mapSize) / 4 }

// PerfAt returns P[i].
func (r *Region) PerfAt(i int) uint32 {
	off := r.mapSize + i*4
	return binary.LittleEndian.Uint32(r.mem[off : off+4])
}

// SetPerfAt sets P[i]. Only used by tests standing in for a target's
// instrumentation; Zero clears P directly.
func (r *Region) SetPerfAt(i int, v uint32) {
	off := r.mapSize + i*4
	binary.LittleEndian.PutUint32(r.mem[off:off+4], v)
}

// PerfSum returns sum(P[1..K)), used for the consistency check against
// P[0].
func (r *Region) PerfSum() uint64 {
	var sum uint64
	for i := 1; i < r.PerfLen(); i++ {
		sum += uint64(r.PerfAt(i))
	}
	return sum
}

// Zero clears both C and P. The parent does this as a belt-and-braces
// guarantee even though well-behaved instrumentation resets its own
// regions at the start of each run.
func (r *Region) Zero() {
	for i := range r.Cover {
		r.Cover[i] = 0
	}
	perfBytes := r.mem[r.mapSize:]
	for i := range perfBytes {
		perfBytes[i] = 0
	}
	Barrier()
}

// Barrier is the Go analogue of the compiler/memory barrier the source
// inserts around the zero-then-exec and wait-then-read transitions. Every
// crossing between parent and child in this implementation happens through
// a blocking pipe read or a completed wait4, and the Go memory model
// already establishes the needed ordering at those points; Barrier exists
// so call sites can mark the transition explicitly, matching the protocol
// description in the spec.
func Barrier() {}

// FirstWord returns the first four bytes of the coverage map interpreted as
// a little-endian uint32 — the slot the forkserver child's exec-fallthrough
// branch overwrites with ExecFailSig.
func (r *Region) FirstWord() uint32 {
	if len(r.Cover) < 4 {
		return 0
	}
	return binary.LittleEndian.Uint32(r.Cover[:4])
}

// Close detaches and destroys the segment. It is unconditional: the parent
// destroys the STR on every exit path, clean or fatal.
func (r *Region) Close() error {
	var err error
	if r.mem != nil {
		if derr := unix.SysvShmDetach(r.mem); derr != nil {
			err = fmt.Errorf("shmdt failed: %w", derr)
		}
	}
	if _, cerr := unix.SysvShmCtl(r.id, unix.IPC_RMID, nil); cerr != nil && err == nil {
		err = fmt.Errorf("shmctl(IPC_RMID) failed: %w", cerr)
	}
	return err
}
