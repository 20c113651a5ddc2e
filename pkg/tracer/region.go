// Copyright 2025 topfuzz project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

// Package tracer talks to the DBI client that instruments the target: it
// owns the per-worker shared-memory trace region and runs the target under
// drrun, feeding the input on stdin and harvesting the recorded trace.
package tracer

import (
	"encoding/binary"
	"fmt"
	"path/filepath"
	"strings"

	"golang.org/x/sys/unix"

	"github.com/topfuzz/topfuzz/pkg/flow"
)

const (
	// ShmNameBase is the fixed prefix of per-worker region names;
	// worker i attaches to "<base>_<i>".
	ShmNameBase = "/topfuzz_trace"

	// DefaultMaxEntries bounds the recorded trace: 16 MiB of 32-bit offsets.
	DefaultMaxEntries = (16 << 20) / 4
)

// RegionName returns the shared-memory name of the given worker.
func RegionName(workerID int) string {
	return fmt.Sprintf("%v_%v", ShmNameBase, workerID)
}

// Region is a mapped trace region. Layout, in order: a u32 trace count,
// maxEntries u32 block offsets, and a u32 input hash. The DBI client
// publishes the count last; we read it only after the child is reaped, so
// no further synchronization is needed.
type Region struct {
	name       string
	mem        []byte
	maxEntries int
}

func regionSize(maxEntries int) int {
	return 4 + 4*maxEntries + 4
}

// OpenRegion creates or reuses the POSIX shared-memory object with the
// given name (leading slash, as in shm_open) and maps it.
func OpenRegion(name string, maxEntries int) (*Region, error) {
	size := regionSize(maxEntries)
	path := filepath.Join("/dev/shm", strings.TrimPrefix(name, "/"))
	fd, err := unix.Open(path, unix.O_CREAT|unix.O_RDWR, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open shared memory %v: %w", name, err)
	}
	if err := unix.Ftruncate(fd, int64(size)); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("failed to size shared memory %v: %w", name, err)
	}
	mem, err := unix.Mmap(fd, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	unix.Close(fd)
	if err != nil {
		return nil, fmt.Errorf("failed to map shared memory %v: %w", name, err)
	}
	return &Region{name: name, mem: mem, maxEntries: maxEntries}, nil
}

// Unlink removes the named region from the system.
func Unlink(name string) error {
	return unix.Unlink(filepath.Join("/dev/shm", strings.TrimPrefix(name, "/")))
}

func (r *Region) Name() string {
	return r.name
}

// ClearCount zeroes the trace count before a run, so that a child that
// dies before the instrumentation starts leaves an unambiguous empty trace.
func (r *Region) ClearCount() {
	binary.LittleEndian.PutUint32(r.mem[0:4], 0)
}

// ReadTrace copies out the recorded trace. The published count is clamped
// to the region's capacity. An empty trace comes back as a nil slice.
func (r *Region) ReadTrace() flow.Trace {
	count := int(binary.LittleEndian.Uint32(r.mem[0:4]))
	if count > r.maxEntries {
		count = r.maxEntries
	}
	if count == 0 {
		return nil
	}
	trace := make(flow.Trace, count)
	for i := 0; i < count; i++ {
		trace[i] = binary.LittleEndian.Uint32(r.mem[4+4*i:])
	}
	return trace
}

// InputHash returns the hash the DBI client wrote at the end of the
// region. Recorded for diagnostics; the reader does not verify it.
func (r *Region) InputHash() uint32 {
	return binary.LittleEndian.Uint32(r.mem[4+4*r.maxEntries:])
}

// Close unmaps the region. The object itself stays in the system for the
// next run to reuse.
func (r *Region) Close() error {
	if r.mem == nil {
		return nil
	}
	err := unix.Munmap(r.mem)
	r.mem = nil
	return err
}
