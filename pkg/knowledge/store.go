// Copyright 2025 topfuzz project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

// Package knowledge keeps what the fuzzer has learned: a fixed-capacity
// ring of distinct (input, trace) executions and, nested inside it, the
// explored control-flow graph with its embeddings. The store is the only
// state shared between workers and the serialization root for checkpoints.
package knowledge

import (
	"bytes"
	"sync"

	"github.com/topfuzz/topfuzz/pkg/embed"
	"github.com/topfuzz/topfuzz/pkg/flow"
	"github.com/topfuzz/topfuzz/pkg/log"
	"github.com/topfuzz/topfuzz/pkg/osutil"
)

// Meta is the effective-settings header serialized with every checkpoint.
// It records the run shape so a resumed run can be sanity-checked against
// the original one.
type Meta struct {
	MinLen     uint32
	MaxLen     uint32
	StepLen    uint32
	Workers    uint32
	MaxHistory uint32
	Target     string
	TracerLib  string
	DrrunPath  string
	WorkDir    string
}

// Store is the bounded deduplicating history of interesting executions.
// All operations are serialized under one mutex; the nested graph engine
// has its own lock for direct reads by the mutator.
type Store struct {
	mu         sync.Mutex
	slots      []flow.Execution
	writeIdx   uint32
	graph      *embed.Graph
	meta       Meta
	checkpoint string // filepath for best-effort checkpoints, empty disables
}

func NewStore(meta Meta, graph *embed.Graph) *Store {
	if meta.MaxHistory == 0 {
		panic("knowledge: history capacity cannot be zero")
	}
	return &Store{
		slots: make([]flow.Execution, meta.MaxHistory),
		graph: graph,
		meta:  meta,
	}
}

// SetCheckpointPath enables automatic checkpoint writes after every
// accepted insert.
func (s *Store) SetCheckpointPath(path string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.checkpoint = path
}

// Graph lends out the nested engine. The engine serializes its own state;
// callers must not hold the store lock while using it.
func (s *Store) Graph() *embed.Graph {
	return s.graph
}

func (s *Store) Meta() Meta {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.meta
}

func (s *Store) Capacity() int {
	return len(s.slots)
}

// Count returns the number of occupied slots.
func (s *Store) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for i := range s.slots {
		if !s.slots[i].Empty() {
			n++
		}
	}
	return n
}

// TryInsert adds the execution to the ring unless an identical trace is
// already present. On insert the trace is absorbed into the graph, one
// training round runs, and a checkpoint is written best-effort. Feeding an
// execution with an empty input or trace violates the store contract.
func (s *Store) TryInsert(exec flow.Execution) bool {
	if len(exec.Trace) == 0 {
		panic("knowledge: cannot insert execution with empty trace")
	}
	if len(exec.Input) == 0 {
		panic("knowledge: cannot insert execution with empty input")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.slots {
		if s.slots[i].Empty() {
			continue
		}
		if flow.EqualTrace(s.slots[i].Trace, exec.Trace) {
			return false
		}
	}

	s.slots[s.writeIdx] = exec.Clone()
	s.writeIdx = (s.writeIdx + 1) % uint32(len(s.slots))

	s.graph.Absorb(exec.Trace)
	s.graph.Train()

	if s.checkpoint != "" {
		if err := s.writeCheckpoint(); err != nil {
			log.Logf(1, "checkpoint write failed: %v", err)
		}
	}
	return true
}

// Snapshot returns a deep copy of the ring contents and the write index.
func (s *Store) Snapshot() ([]flow.Execution, uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	slots := make([]flow.Execution, len(s.slots))
	for i := range s.slots {
		slots[i] = s.slots[i].Clone()
	}
	return slots, s.writeIdx
}

func (s *Store) writeCheckpoint() error {
	buf := new(bytes.Buffer)
	if err := s.serializeLocked(buf); err != nil {
		return err
	}
	return osutil.WriteFile(s.checkpoint, buf.Bytes())
}
