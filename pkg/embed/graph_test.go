// Copyright 2025 topfuzz project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package embed

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/topfuzz/topfuzz/pkg/flow"
	"github.com/topfuzz/topfuzz/pkg/testutil"
)

func TestAbsorbBuildsGraph(t *testing.T) {
	g := NewGraph(DefaultParams())
	g.Absorb(flow.Trace{1, 2, 3, 2, 4})

	adj := g.Adjacency()
	assert.ElementsMatch(t, []uint32{2}, adj[1])
	assert.ElementsMatch(t, []uint32{3, 4}, adj[2])
	assert.ElementsMatch(t, []uint32{2}, adj[3])
	assert.Empty(t, adj[4])
	assert.Equal(t, 4, g.NumNodes())
}

func TestAbsorbNoDuplicateEdges(t *testing.T) {
	g := NewGraph(DefaultParams())
	g.Absorb(flow.Trace{1, 2, 1, 2, 1, 2})
	adj := g.Adjacency()
	assert.Equal(t, []uint32{2}, adj[1])
	assert.Equal(t, []uint32{1}, adj[2])
}

func TestAbsorbSelfTransition(t *testing.T) {
	g := NewGraph(DefaultParams())
	g.Absorb(flow.Trace{7, 7, 7})
	assert.Equal(t, []uint32{7}, g.Adjacency()[7])
}

func TestGraphMonotonicity(t *testing.T) {
	rnd := rand.New(testutil.RandSource(t))
	g := NewGraph(DefaultParams())
	seenNodes := make(map[uint32]bool)
	seenEdges := make(map[[2]uint32]bool)
	for i := 0; i < 50; i++ {
		trace := make(flow.Trace, 1+rnd.Intn(20))
		for j := range trace {
			trace[j] = uint32(rnd.Intn(10))
		}
		g.Absorb(trace)

		adj := g.Adjacency()
		for node := range seenNodes {
			_, ok := adj[node]
			require.True(t, ok, "node %v disappeared", node)
		}
		for edge := range seenEdges {
			require.Contains(t, adj[edge[0]], edge[1], "edge %v disappeared", edge)
		}
		for node, neighbors := range adj {
			seenNodes[node] = true
			for _, next := range neighbors {
				seenEdges[[2]uint32{node, next}] = true
			}
		}
	}
}

func TestEmbeddingShape(t *testing.T) {
	params := DefaultParams()
	g := NewGraph(params)
	g.Absorb(flow.Trace{1, 2, 3, 4, 5})
	g.Train()
	emb := g.Embeddings()
	require.Len(t, emb, 5)
	for node, vec := range emb {
		assert.Len(t, vec, params.Dim, "node %v", node)
	}
}

func TestNewEmbeddingInitNoise(t *testing.T) {
	g := NewGraph(DefaultParams())
	g.Absorb(flow.Trace{1, 2, 3})
	for node, vec := range g.Embeddings() {
		for d, v := range vec {
			assert.LessOrEqual(t, v, initNoise, "node %v dim %v", node, d)
			assert.GreaterOrEqual(t, v, -initNoise, "node %v dim %v", node, d)
		}
	}
}

func TestUnknownNodeIsZero(t *testing.T) {
	g := NewGraph(DefaultParams())
	assert.Equal(t, make([]float64, DefaultParams().Dim), g.NodeEmbedding(0xdead))
	assert.Equal(t, 0.0, g.NodeDistance(0xdead, 0xbeef))
	assert.Equal(t, 0.0, g.OriginDistance(0xdead))
}

// With p very large, a walk must not return to the node it just came from:
// after the prefix [a, b] the walk cannot go back to a.
func TestBiasedWalkReturnSuppressed(t *testing.T) {
	params := DefaultParams()
	params.P = 1e12
	params.WalkLen = 3
	g := NewGraph(params)
	g.Absorb(flow.Trace{10, 20, 10}) // 10->20, 20->10
	g.Absorb(flow.Trace{20, 30})     // 20->30
	returns := 0
	for i := 0; i < 1000; i++ {
		walk := g.biasedWalk(10)
		require.GreaterOrEqual(t, len(walk), 2)
		if len(walk) == 3 && walk[2] == 10 {
			returns++
		}
	}
	assert.Zero(t, returns, "return transitions survived p -> inf")
}

// With q very large, the walk must not step outside the previous node's
// neighborhood: after [a, b] it cannot take the explore edge b->c when c
// is not adjacent to a.
func TestBiasedWalkExploreSuppressed(t *testing.T) {
	params := DefaultParams()
	params.Q = 1e12
	params.WalkLen = 3
	g := NewGraph(params)
	g.Absorb(flow.Trace{10, 20, 10})
	g.Absorb(flow.Trace{20, 30})
	explores := 0
	for i := 0; i < 1000; i++ {
		walk := g.biasedWalk(10)
		if len(walk) == 3 && walk[2] == 30 {
			explores++
		}
	}
	assert.Zero(t, explores, "explore transitions survived q -> inf")
}

func TestWalkStopsAtDeadEnd(t *testing.T) {
	g := NewGraph(DefaultParams())
	g.Absorb(flow.Trace{1, 2, 3}) // 3 has no successors
	for i := 0; i < 100; i++ {
		walk := g.biasedWalk(1)
		require.NotEmpty(t, walk)
		assert.LessOrEqual(t, len(walk), DefaultParams().WalkLen)
	}
}

func TestTrainMovesCooccurringNodesCloser(t *testing.T) {
	g := NewGraph(DefaultParams())
	g.Absorb(flow.Trace{1, 2, 1, 2, 1, 2})
	// A separate component gives the walks over {1, 2} unrelated negatives.
	// Without it the negative universe falls back to all nodes, and node 2
	// is drawn as a negative whenever node 1 is its own context.
	g.Absorb(flow.Trace{3, 4, 3, 4, 3, 4})
	before := g.NodeDistance(1, 2)
	for i := 0; i < 50; i++ {
		g.Train()
	}
	after := g.NodeDistance(1, 2)
	// 1 and 2 co-occur in every walk; training should not push them apart.
	assert.Less(t, after, before+1e-9)
}

func TestMeanEmbedding(t *testing.T) {
	g := NewGraph(DefaultParams())
	g.Absorb(flow.Trace{1, 2})
	emb := g.Embeddings()
	mean := g.MeanEmbedding(flow.Trace{1, 2})
	for d := range mean {
		assert.InDelta(t, (emb[1][d]+emb[2][d])/2, mean[d], 1e-12)
	}
	// Unknown nodes contribute nothing, the divisor stays the trace length.
	diluted := g.MeanEmbedding(flow.Trace{1, 0xdead})
	for d := range diluted {
		assert.InDelta(t, emb[1][d]/2, diluted[d], 1e-12)
	}
}

func TestMeanEmbeddingEmptyTracePanics(t *testing.T) {
	g := NewGraph(DefaultParams())
	assert.Panics(t, func() { g.MeanEmbedding(nil) })
}

func TestDistance(t *testing.T) {
	assert.InDelta(t, 5.0, Distance([]float64{0, 0}, []float64{3, 4}), 1e-12)
	assert.InDelta(t, 5.0, Distance([]float64{3, 4}, nil), 1e-12)
	assert.InDelta(t, 1.0, Distance([]float64{1, 0, 0}, []float64{0, 0}), 1e-12)
	assert.Zero(t, Distance(nil, nil))
}

func TestCloneIsDetached(t *testing.T) {
	g := NewGraph(DefaultParams())
	g.Absorb(flow.Trace{1, 2, 3})
	clone := g.Clone()
	g.Absorb(flow.Trace{4, 5})
	assert.Equal(t, 5, g.NumNodes())
	assert.Equal(t, 3, clone.NumNodes())
	assert.Equal(t, g.Params(), clone.Params())
}

func TestDeterministicForSameSeed(t *testing.T) {
	build := func() *Graph {
		g := NewGraph(DefaultParams())
		g.Absorb(flow.Trace{1, 2, 3, 1, 4})
		g.Train()
		g.Absorb(flow.Trace{4, 2, 5})
		g.Train()
		return g
	}
	assert.Equal(t, build().Embeddings(), build().Embeddings())
}
