// Copyright 2025 topfuzz project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package knowledge

import (
	"bufio"
	"fmt"
	"io"
	"os"

	"github.com/topfuzz/topfuzz/pkg/embed"
	"github.com/topfuzz/topfuzz/pkg/flow"
	"github.com/topfuzz/topfuzz/pkg/wire"
)

// Checkpoint layout: endianness marker, effective settings (input-size
// triple, worker count, history capacity, path strings), write index, the
// full ring (empty slots included, so the index stays meaningful), then the
// graph payload.

// Serialize writes a checkpoint of the current store state.
func (s *Store) Serialize(w io.Writer) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.serializeLocked(w)
}

func (s *Store) serializeLocked(w io.Writer) error {
	if err := wire.WriteEndianness(w); err != nil {
		return err
	}
	for _, v := range []uint32{s.meta.MinLen, s.meta.MaxLen, s.meta.StepLen, s.meta.Workers, s.meta.MaxHistory} {
		if err := wire.WriteU32(w, v); err != nil {
			return err
		}
	}
	for _, str := range []string{s.meta.Target, s.meta.TracerLib, s.meta.DrrunPath, s.meta.WorkDir} {
		if err := wire.WriteString(w, str); err != nil {
			return err
		}
	}
	if err := wire.WriteU32(w, s.writeIdx); err != nil {
		return err
	}
	if err := wire.WriteU32(w, uint32(len(s.slots))); err != nil {
		return err
	}
	for i := range s.slots {
		if err := wire.WriteU32Vector(w, s.slots[i].Trace); err != nil {
			return err
		}
		if err := wire.WriteBytes(w, s.slots[i].Input); err != nil {
			return err
		}
	}
	return s.graph.WritePayload(w)
}

// Deserialize reads a checkpoint written by Serialize.
func Deserialize(r io.Reader) (*Store, error) {
	if err := wire.ReadEndianness(r); err != nil {
		return nil, err
	}
	var meta Meta
	for _, field := range []*uint32{&meta.MinLen, &meta.MaxLen, &meta.StepLen, &meta.Workers, &meta.MaxHistory} {
		v, err := wire.ReadU32(r)
		if err != nil {
			return nil, fmt.Errorf("failed to read settings header: %w", err)
		}
		*field = v
	}
	for _, field := range []*string{&meta.Target, &meta.TracerLib, &meta.DrrunPath, &meta.WorkDir} {
		str, err := wire.ReadString(r)
		if err != nil {
			return nil, fmt.Errorf("failed to read settings path: %w", err)
		}
		*field = str
	}
	writeIdx, err := wire.ReadU32(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read write index: %w", err)
	}
	numSlots, err := wire.ReadU32(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read ring size: %w", err)
	}
	if meta.MaxHistory == 0 || numSlots != meta.MaxHistory {
		return nil, fmt.Errorf("ring size %v disagrees with capacity %v", numSlots, meta.MaxHistory)
	}
	if writeIdx >= numSlots {
		return nil, fmt.Errorf("write index %v is out of range for capacity %v", writeIdx, numSlots)
	}
	slots := make([]flow.Execution, numSlots)
	for i := range slots {
		trace, err := wire.ReadU32Vector(r)
		if err != nil {
			return nil, fmt.Errorf("failed to read slot %v trace: %w", i, err)
		}
		input, err := wire.ReadBytes(r)
		if err != nil {
			return nil, fmt.Errorf("failed to read slot %v input: %w", i, err)
		}
		slots[i] = flow.Execution{Input: input, Trace: trace}
		// Occupied slots are non-empty on both sides; a trace without an
		// input (or vice versa) cannot have been written by us.
		if (len(trace) == 0) != (len(input) == 0) {
			return nil, fmt.Errorf("slot %v is half-empty", i)
		}
	}
	graph, err := embed.ReadPayload(r)
	if err != nil {
		return nil, err
	}
	store := NewStore(meta, graph)
	store.writeIdx = writeIdx
	store.slots = slots
	return store, nil
}

// Load reads a checkpoint file. A missing, corrupt or endianness-mismatched
// file yields an error; the caller starts from an empty store instead.
func Load(path string) (*Store, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	store, err := Deserialize(bufio.NewReader(f))
	if err != nil {
		return nil, fmt.Errorf("checkpoint %v: %w", path, err)
	}
	return store, nil
}
