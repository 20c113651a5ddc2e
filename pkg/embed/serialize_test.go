// Copyright 2025 topfuzz project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package embed

import (
	"bytes"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/topfuzz/topfuzz/pkg/flow"
	"github.com/topfuzz/topfuzz/pkg/wire"
)

func TestPayloadRoundTrip(t *testing.T) {
	params := Params{Dim: 4, P: 2.5, Q: 0.5, WalkLen: 7, NumWalks: 3, Window: 2, LearningRate: 0.0125, Seed: 42}
	g := NewGraph(params)
	g.Absorb(flow.Trace{1, 2, 3, 1, 4})
	g.Train()
	g.Absorb(flow.Trace{4, 4, 5})
	g.Train()

	buf := new(bytes.Buffer)
	require.NoError(t, g.WritePayload(buf))
	restored, err := ReadPayload(buf)
	require.NoError(t, err)

	assert.Equal(t, params, restored.Params())
	if diff := cmp.Diff(g.Adjacency(), restored.Adjacency()); diff != "" {
		t.Fatalf("adjacency mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(g.Embeddings(), restored.Embeddings()); diff != "" {
		t.Fatalf("embeddings mismatch (-want +got):\n%s", diff)
	}
}

func TestPayloadRoundTripEmpty(t *testing.T) {
	g := NewGraph(DefaultParams())
	buf := new(bytes.Buffer)
	require.NoError(t, g.WritePayload(buf))
	restored, err := ReadPayload(buf)
	require.NoError(t, err)
	assert.Zero(t, restored.NumNodes())
}

func TestPayloadRejectsDimensionMismatch(t *testing.T) {
	g := NewGraph(DefaultParams())
	g.Absorb(flow.Trace{1, 2})
	buf := new(bytes.Buffer)
	require.NoError(t, g.WritePayload(buf))

	// Rewrite the recorded dimension so the embedding entries no longer fit.
	data := buf.Bytes()
	bad := append([]byte{}, data...)
	bad[0] = 3 // dim is the first u32, little-endian
	_, err := ReadPayload(bytes.NewReader(bad))
	assert.Error(t, err)
}

func TestPayloadRejectsTruncation(t *testing.T) {
	g := NewGraph(DefaultParams())
	g.Absorb(flow.Trace{1, 2, 3})
	buf := new(bytes.Buffer)
	require.NoError(t, g.WritePayload(buf))
	data := buf.Bytes()
	for _, cut := range []int{1, 4, 16, len(data) / 2, len(data) - 1} {
		_, err := ReadPayload(bytes.NewReader(data[:cut]))
		assert.Error(t, err, "truncated to %v bytes", cut)
	}
}

func TestPayloadRejectsHugeLength(t *testing.T) {
	buf := new(bytes.Buffer)
	require.NoError(t, wire.WriteU32(buf, 4))            // dim
	require.NoError(t, wire.WriteF64(buf, 1))            // p
	require.NoError(t, wire.WriteF64(buf, 1))            // q
	require.NoError(t, wire.WriteU32(buf, 10))           // walk len
	require.NoError(t, wire.WriteU32(buf, 5))            // num walks
	require.NoError(t, wire.WriteU32(buf, 3))            // window
	require.NoError(t, wire.WriteF64(buf, 0.025))        // learning rate
	require.NoError(t, wire.WriteU32(buf, 1))            // node count
	require.NoError(t, wire.WriteU32(buf, 7))            // node id
	require.NoError(t, wire.WriteU32(buf, 0xffffffff))   // absurd neighbor count
	_, err := ReadPayload(bytes.NewReader(buf.Bytes()))
	assert.Error(t, err)
}
