// Copyright 2025 topfuzz project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package embed

import (
	"fmt"
	"io"

	"github.com/topfuzz/topfuzz/pkg/wire"
)

// WritePayload serializes the graph in the shared artifact layout:
// embedding dimension, Node2Vec parameters, adjacency list, embedding
// table, then the zero embedding. Neither the rand state nor the seed is
// serialized; deserialized graphs are reseeded from the default seed.
func (g *Graph) WritePayload(w io.Writer) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := wire.WriteU32(w, uint32(g.params.Dim)); err != nil {
		return err
	}
	if err := wire.WriteF64(w, g.params.P); err != nil {
		return err
	}
	if err := wire.WriteF64(w, g.params.Q); err != nil {
		return err
	}
	if err := wire.WriteU32(w, uint32(g.params.WalkLen)); err != nil {
		return err
	}
	if err := wire.WriteU32(w, uint32(g.params.NumWalks)); err != nil {
		return err
	}
	if err := wire.WriteU32(w, uint32(g.params.Window)); err != nil {
		return err
	}
	if err := wire.WriteF64(w, g.params.LearningRate); err != nil {
		return err
	}
	if err := wire.WriteU32(w, uint32(len(g.nodes))); err != nil {
		return err
	}
	for _, node := range g.nodes {
		if err := wire.WriteU32(w, node); err != nil {
			return err
		}
		if err := wire.WriteU32Vector(w, g.adj[node]); err != nil {
			return err
		}
	}
	if err := wire.WriteU32(w, uint32(len(g.nodes))); err != nil {
		return err
	}
	for _, node := range g.nodes {
		if err := wire.WriteU32(w, node); err != nil {
			return err
		}
		if err := wire.WriteF64Vector(w, g.emb[node]); err != nil {
			return err
		}
	}
	return wire.WriteF64Vector(w, g.zero)
}

// ReadPayload deserializes a graph written by WritePayload.
// Embeddings whose dimension disagrees with the recorded one are treated
// as corruption. The engine's rand source is reseeded from the fixed
// default seed; walk reproducibility restarts from there.
func ReadPayload(r io.Reader) (*Graph, error) {
	dim, err := wire.ReadU32(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read embedding dimension: %w", err)
	}
	params := Params{Dim: int(dim), Seed: DefaultParams().Seed}
	if params.P, err = wire.ReadF64(r); err != nil {
		return nil, fmt.Errorf("failed to read p: %w", err)
	}
	if params.Q, err = wire.ReadF64(r); err != nil {
		return nil, fmt.Errorf("failed to read q: %w", err)
	}
	walkLen, err := wire.ReadU32(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read walk length: %w", err)
	}
	numWalks, err := wire.ReadU32(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read walk count: %w", err)
	}
	window, err := wire.ReadU32(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read window size: %w", err)
	}
	params.WalkLen = int(walkLen)
	params.NumWalks = int(numWalks)
	params.Window = int(window)
	if params.LearningRate, err = wire.ReadF64(r); err != nil {
		return nil, fmt.Errorf("failed to read learning rate: %w", err)
	}

	g := NewGraph(params)
	numNodes, err := wire.ReadU32(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read node count: %w", err)
	}
	for i := uint32(0); i < numNodes; i++ {
		node, err := wire.ReadU32(r)
		if err != nil {
			return nil, fmt.Errorf("failed to read node id: %w", err)
		}
		neighbors, err := wire.ReadU32Vector(r)
		if err != nil {
			return nil, fmt.Errorf("failed to read adjacency of node %#x: %w", node, err)
		}
		if _, ok := g.adj[node]; !ok {
			g.nodes = append(g.nodes, node)
		}
		g.adj[node] = neighbors
	}
	numEmb, err := wire.ReadU32(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read embedding count: %w", err)
	}
	for i := uint32(0); i < numEmb; i++ {
		node, err := wire.ReadU32(r)
		if err != nil {
			return nil, fmt.Errorf("failed to read embedding node id: %w", err)
		}
		emb, err := wire.ReadF64Vector(r)
		if err != nil {
			return nil, fmt.Errorf("failed to read embedding of node %#x: %w", node, err)
		}
		if len(emb) != params.Dim {
			return nil, fmt.Errorf("embedding of node %#x has %v components, want %v",
				node, len(emb), params.Dim)
		}
		g.emb[node] = emb
	}
	zero, err := wire.ReadF64Vector(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read zero embedding: %w", err)
	}
	if len(zero) != params.Dim {
		return nil, fmt.Errorf("zero embedding has %v components, want %v", len(zero), params.Dim)
	}
	g.zero = zero
	return g, nil
}
