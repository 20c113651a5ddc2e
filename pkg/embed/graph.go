// Copyright 2025 topfuzz project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

// Package embed maintains the model of the target's observed control flow:
// a directed graph whose nodes are basic-block offsets and whose edges are
// observed transitions, plus continuously trained Node2Vec embeddings that
// let the mutator measure how alike two executions are.
//
// Traces are walks in this graph. Absorb extends the graph from a trace,
// Train runs biased random walks and skip-gram updates over the current
// structure. Nodes and edges are only ever added, never removed.
package embed

import (
	"fmt"
	"math"
	"math/rand"
	"sync"

	"gonum.org/v1/gonum/floats"

	"github.com/topfuzz/topfuzz/pkg/flow"
)

// Params are the Node2Vec hyperparameters. They are fixed for the lifetime
// of a Graph and serialized with it.
type Params struct {
	Dim          int     // embedding dimension
	P            float64 // return parameter (BFS bias)
	Q            float64 // in-out parameter (DFS bias)
	WalkLen      int     // length of random walks
	NumWalks     int     // walks generated per node per training round
	Window       int     // skip-gram window size
	LearningRate float64 // SGD step for skip-gram updates
	Seed         int64   // seed of the engine's deterministic rand source
}

func DefaultParams() Params {
	return Params{
		Dim:          4,
		P:            1.0,
		Q:            1.0,
		WalkLen:      10,
		NumWalks:     5,
		Window:       3,
		LearningRate: 0.025,
		Seed:         42,
	}
}

const (
	// New nodes start at small uniform noise rather than zero so that the
	// first skip-gram updates have a usable gradient.
	initNoise = 0.1
	// Negative samples drawn per (center, context) pair.
	negSamples = 5
)

// Graph is the explored control-flow graph together with its embeddings.
// All state is guarded by a single mutex; every exported method locks it.
// The rand source is the engine's own and is deterministic for a given seed.
type Graph struct {
	mu     sync.Mutex
	params Params
	adj    map[uint32][]uint32
	nodes  []uint32 // insertion order, for deterministic walks and serialization
	emb    map[uint32][]float64
	zero   []float64
	rnd    *rand.Rand
}

func NewGraph(params Params) *Graph {
	return &Graph{
		params: params,
		adj:    make(map[uint32][]uint32),
		emb:    make(map[uint32][]float64),
		zero:   make([]float64, params.Dim),
		rnd:    rand.New(rand.NewSource(params.Seed)),
	}
}

func (g *Graph) Params() Params {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.params
}

// NumNodes returns the number of distinct nodes observed so far.
func (g *Graph) NumNodes() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.nodes)
}

// Absorb extends the graph with one trace: every offset becomes a node
// (with a freshly initialized embedding) and every adjacent pair becomes a
// directed edge unless that edge is already present. Self-transitions are
// stored like any other edge.
func (g *Graph) Absorb(trace flow.Trace) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for i, node := range trace {
		g.addNode(node)
		if i+1 < len(trace) {
			g.addEdge(node, trace[i+1])
		}
	}
}

func (g *Graph) addNode(node uint32) {
	if _, ok := g.adj[node]; !ok {
		g.adj[node] = nil
		g.nodes = append(g.nodes, node)
	}
	if _, ok := g.emb[node]; !ok {
		emb := make([]float64, g.params.Dim)
		for d := range emb {
			emb[d] = (g.rnd.Float64()*2 - 1) * initNoise
		}
		g.emb[node] = emb
	}
}

func (g *Graph) addEdge(from, to uint32) {
	for _, n := range g.adj[from] {
		if n == to {
			return
		}
	}
	g.adj[from] = append(g.adj[from], to)
}

// Train runs one round of Node2Vec: NumWalks biased walks from every node
// that has at least one out-neighbor, each walk trained with skip-gram and
// negative sampling.
func (g *Graph) Train() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if len(g.nodes) == 0 {
		return
	}
	for iter := 0; iter < g.params.NumWalks; iter++ {
		for _, node := range g.nodes {
			if len(g.adj[node]) == 0 {
				continue
			}
			walk := g.biasedWalk(node)
			if len(walk) >= 2 {
				g.trainSkipGram(walk)
			}
		}
	}
}

// biasedWalk generates a single Node2Vec walk of length up to WalkLen.
// The first successor is drawn uniformly; subsequent transitions are biased
// by the return parameter p (going back to the previous node) and the
// in-out parameter q (stepping outside the previous node's neighborhood).
func (g *Graph) biasedWalk(start uint32) []uint32 {
	neighbors := g.adj[start]
	if len(neighbors) == 0 {
		return nil
	}
	walk := make([]uint32, 0, g.params.WalkLen)
	walk = append(walk, start)
	if g.params.WalkLen == 1 {
		return walk
	}

	prev := start
	curr := neighbors[g.rnd.Intn(len(neighbors))]
	walk = append(walk, curr)

	for i := 2; i < g.params.WalkLen; i++ {
		next, ok := g.step(prev, curr)
		if !ok {
			break
		}
		prev, curr = curr, next
		walk = append(walk, curr)
	}
	return walk
}

// step samples the next node after curr given the previous node by
// inverse-CDF over the unnormalized Node2Vec weights.
func (g *Graph) step(prev, curr uint32) (uint32, bool) {
	neighbors := g.adj[curr]
	if len(neighbors) == 0 {
		return 0, false
	}
	probs := make([]float64, len(neighbors))
	sum := 0.0
	for i, next := range neighbors {
		probs[i] = g.transitionWeight(prev, next)
		sum += probs[i]
	}
	if sum > 0 {
		for i := range probs {
			probs[i] /= sum
		}
	} else {
		uniform := 1.0 / float64(len(neighbors))
		for i := range probs {
			probs[i] = uniform
		}
	}
	r := g.rnd.Float64()
	cumsum := 0.0
	next := neighbors[0]
	for i := range neighbors {
		cumsum += probs[i]
		if r <= cumsum {
			next = neighbors[i]
			break
		}
	}
	return next, true
}

func (g *Graph) transitionWeight(prev, next uint32) float64 {
	if next == prev {
		return 1.0 / g.params.P
	}
	for _, n := range g.adj[prev] {
		if n == next {
			return 1.0
		}
	}
	return 1.0 / g.params.Q
}

// trainSkipGram applies skip-gram with negative sampling to one walk.
// Each update reads the pre-update values of the vectors involved, so the
// result is deterministic for a given state snapshot and rand state.
func (g *Graph) trainSkipGram(walk []uint32) {
	inWalk := make(map[uint32]bool, len(walk))
	for _, n := range walk {
		inWalk[n] = true
	}
	// Negative samples come from the universe of known nodes minus the
	// walk; when the walk covers every known node, fall back to all nodes.
	negUniverse := make([]uint32, 0, len(g.nodes))
	for _, n := range g.nodes {
		if !inWalk[n] {
			negUniverse = append(negUniverse, n)
		}
	}
	if len(negUniverse) == 0 {
		negUniverse = g.nodes
	}

	window := g.params.Window
	lr := g.params.LearningRate
	for i, center := range walk {
		centerEmb, ok := g.emb[center]
		if !ok {
			continue
		}
		lo := max(0, i-window)
		hi := min(len(walk), i+window+1)
		for j := lo; j < hi; j++ {
			if j == i {
				continue
			}
			ctx := walk[j]
			ctxEmb, ok := g.emb[ctx]
			if !ok {
				continue
			}

			// Positive sample: pull center and context together.
			centerPre := append([]float64{}, centerEmb...)
			ctxPre := append([]float64{}, ctxEmb...)
			sig := sigmoid(floats.Dot(centerPre, ctxPre))
			floats.AddScaled(centerEmb, lr*(1-sig), ctxPre)
			floats.AddScaled(ctxEmb, lr*(1-sig), centerPre)

			// Negative samples: push center away from unrelated nodes.
			for k := 0; k < negSamples; k++ {
				neg := negUniverse[g.rnd.Intn(len(negUniverse))]
				if neg == center || neg == ctx {
					continue
				}
				negEmb := g.emb[neg]
				negPre := append([]float64{}, negEmb...)
				centerPre = append(centerPre[:0], centerEmb...)
				sigNeg := sigmoid(floats.Dot(centerPre, negPre))
				floats.AddScaled(centerEmb, -lr*sigNeg, negPre)
				floats.AddScaled(negEmb, -lr*sigNeg, centerPre)
			}
		}
	}
}

func sigmoid(x float64) float64 {
	return 1.0 / (1.0 + math.Exp(-x))
}

// MeanEmbedding returns the average embedding over the trace's nodes.
// Nodes without an embedding contribute nothing to the sum; the divisor is
// still the trace length. Empty traces violate the engine contract.
func (g *Graph) MeanEmbedding(trace flow.Trace) []float64 {
	if len(trace) == 0 {
		panic("embed: MeanEmbedding: trace cannot be empty")
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	result := make([]float64, g.params.Dim)
	for _, node := range trace {
		if emb, ok := g.emb[node]; ok {
			floats.Add(result, emb)
		}
	}
	floats.Scale(1.0/float64(len(trace)), result)
	return result
}

// NodeEmbedding returns a copy of the node's embedding,
// or the zero vector for unknown nodes.
func (g *Graph) NodeEmbedding(node uint32) []float64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.nodeEmbedding(node)
}

func (g *Graph) nodeEmbedding(node uint32) []float64 {
	if emb, ok := g.emb[node]; ok {
		return append([]float64{}, emb...)
	}
	return append([]float64{}, g.zero...)
}

// NodeDistance returns the Euclidean distance between two node embeddings.
func (g *Graph) NodeDistance(a, b uint32) float64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return Distance(g.nodeEmbedding(a), g.nodeEmbedding(b))
}

// OriginDistance returns the Euclidean norm of the node's embedding.
func (g *Graph) OriginDistance(node uint32) float64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return Distance(g.nodeEmbedding(node), g.zero)
}

// Distance is the Euclidean distance between two vectors,
// treating missing trailing components as zero.
func Distance(a, b []float64) float64 {
	if len(a) == len(b) {
		return floats.Distance(a, b, 2)
	}
	n := max(len(a), len(b))
	distSq := 0.0
	for d := 0; d < n; d++ {
		var av, bv float64
		if d < len(a) {
			av = a[d]
		}
		if d < len(b) {
			bv = b[d]
		}
		diff := bv - av
		distSq += diff * diff
	}
	return math.Sqrt(distSq)
}

// Clone returns a deep copy of the graph state. The copy gets a fresh rand
// source reseeded from the configured seed; rand state is deliberately not
// carried over (checkpoints and crash artifacts omit it as well).
func (g *Graph) Clone() *Graph {
	g.mu.Lock()
	defer g.mu.Unlock()
	clone := NewGraph(g.params)
	clone.nodes = append([]uint32{}, g.nodes...)
	for node, neighbors := range g.adj {
		clone.adj[node] = append([]uint32{}, neighbors...)
	}
	for node, emb := range g.emb {
		clone.emb[node] = append([]float64{}, emb...)
	}
	clone.zero = append([]float64{}, g.zero...)
	return clone
}

// Embeddings returns a copy of the embedding table, for introspection.
func (g *Graph) Embeddings() map[uint32][]float64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	emb := make(map[uint32][]float64, len(g.emb))
	for node, vec := range g.emb {
		emb[node] = append([]float64{}, vec...)
	}
	return emb
}

// Adjacency returns a copy of the adjacency list, for introspection.
func (g *Graph) Adjacency() map[uint32][]uint32 {
	g.mu.Lock()
	defer g.mu.Unlock()
	adj := make(map[uint32][]uint32, len(g.adj))
	for node, neighbors := range g.adj {
		adj[node] = append([]uint32{}, neighbors...)
	}
	return adj
}

func (g *Graph) String() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	edges := 0
	for _, neighbors := range g.adj {
		edges += len(neighbors)
	}
	return fmt.Sprintf("graph{nodes: %v, edges: %v, dim: %v}", len(g.nodes), edges, g.params.Dim)
}
