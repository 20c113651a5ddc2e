// Copyright 2025 topfuzz project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

// Package flow holds the basic data model shared by the whole fuzzer:
// inputs, execution traces and their pairing.
package flow

// Trace is the sequence of basic-block offsets executed by the target on one
// run. Offsets are relative to the target's main-module base.
type Trace []uint32

// Input is the byte vector fed to the target's stdin.
type Input []byte

// Execution pairs an input with the trace it produced.
// Executions stored in the knowledge ring are non-empty on both sides.
type Execution struct {
	Input Input
	Trace Trace
}

func (e Execution) Empty() bool {
	return len(e.Trace) == 0
}

// Clone returns a deep copy. Ring snapshots hand out clones so that callers
// can resize inputs without aliasing store memory.
func (e Execution) Clone() Execution {
	return Execution{
		Input: append(Input{}, e.Input...),
		Trace: append(Trace{}, e.Trace...),
	}
}

// EqualTrace reports byte-exact equality of two traces.
func EqualTrace(a, b Trace) bool {
	if len(a) != len(b) {
		return false
	}
	for i, v := range a {
		if v != b[i] {
			return false
		}
	}
	return true
}
