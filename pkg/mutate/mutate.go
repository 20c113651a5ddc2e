// Copyright 2025 topfuzz project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

// Package mutate derives the next input from the current one by gradient
// descent away from a forbidden execution. The "gradient" is a heuristic
// chain-rule product: a loss measuring how alike the two traces are in
// embedding space, a per-position trace gradient, and a pair-wise
// finite-difference Jacobian of trace change per byte change.
//
// The Jacobian construction is deliberately naive (distances divided by
// byte deltas across just two executions). It is the algorithm being
// studied, not an analytical derivative, and must not be "improved" into
// one: rows with zero embedding distance contribute nothing, columns with
// zero byte delta are zeroed.
package mutate

import (
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/topfuzz/topfuzz/pkg/embed"
	"github.com/topfuzz/topfuzz/pkg/flow"
)

// Cosine returns the cosine similarity of two vectors, treating missing
// trailing components as zero. Zero-magnitude vectors yield 0.
func Cosine(a, b []float64) float64 {
	n := max(len(a), len(b))
	dot, magA, magB := 0.0, 0.0, 0.0
	for i := 0; i < n; i++ {
		var av, bv float64
		if i < len(a) {
			av = a[i]
		}
		if i < len(b) {
			bv = b[i]
		}
		dot += av * bv
		magA += av * av
		magB += bv * bv
	}
	if magA == 0 || magB == 0 {
		return 0
	}
	return dot / math.Sqrt(magA*magB)
}

// Loss measures how alike two traces are in embedding space, in [0, 1]:
// 1 for identical direction, 0.5 for orthogonal, 0 for opposite. Both
// traces are absorbed into the graph and one training round runs before
// the mean embeddings are compared.
func Loss(g *embed.Graph, forbidden, current flow.Trace) float64 {
	if len(current) == 0 {
		panic("mutate: Loss: current trace cannot be empty")
	}
	if len(forbidden) == 0 {
		panic("mutate: Loss: forbidden trace cannot be empty")
	}
	g.Absorb(current)
	g.Absorb(forbidden)
	g.Train()

	similarity := Cosine(g.MeanEmbedding(current), g.MeanEmbedding(forbidden))
	return (similarity + 1.0) / 2.0
}

// positionDistance is the embedding-space distance between the nodes the
// two traces have at position i, with the zero vector standing in for the
// missing side.
func positionDistance(g *embed.Graph, forbidden, current flow.Trace, i int) float64 {
	switch {
	case i < len(forbidden) && i < len(current):
		return g.NodeDistance(forbidden[i], current[i])
	case i < len(forbidden):
		return g.OriginDistance(forbidden[i])
	default:
		return g.OriginDistance(current[i])
	}
}

// lossGradient computes dL/dy: for every trace position, the loss divided
// by the embedding distance at that position, or the loss itself where the
// distance vanishes (identical nodes).
func lossGradient(g *embed.Graph, forbidden, current flow.Trace) []float64 {
	loss := Loss(g, forbidden, current)
	dLdy := make([]float64, max(len(forbidden), len(current)))
	for i := range dLdy {
		if d := positionDistance(g, forbidden, current, i); d != 0 {
			dLdy[i] = loss / d
		} else {
			dLdy[i] = loss
		}
	}
	return dLdy
}

// jacobian computes the M x N behavioral Jacobian dy/dx: embedding-space
// change at trace position i divided by the byte delta at input position j,
// across the forbidden and current executions.
func jacobian(g *embed.Graph, forbidden, current flow.Execution) *mat.Dense {
	g.Absorb(current.Trace)
	g.Absorb(forbidden.Trace)
	g.Train()

	dimY := max(len(forbidden.Trace), len(current.Trace))
	dimX := max(len(forbidden.Input), len(current.Input))
	if dimY == 0 || dimX == 0 {
		panic("mutate: jacobian is empty")
	}

	dy := make([]float64, dimY)
	for i := range dy {
		dy[i] = positionDistance(g, forbidden.Trace, current.Trace, i)
	}
	dx := make([]float64, dimX)
	for j := range dx {
		var a, b float64
		if j < len(current.Input) {
			a = float64(current.Input[j])
		}
		if j < len(forbidden.Input) {
			b = float64(forbidden.Input[j])
		}
		dx[j] = b - a
	}

	jac := mat.NewDense(dimY, dimX, nil)
	for i := 0; i < dimY; i++ {
		for j := 0; j < dimX; j++ {
			if dx[j] != 0 {
				jac.Set(i, j, dy[i]/dx[j])
			}
		}
	}
	return jac
}

// Descend produces the next input: dL/dx = Jᵀ · dL/dy, then a per-byte
// update x - η·dL/dx under the exploration-speed vector. Frozen bytes
// (η ≤ 0) are copied through. Updated bytes clamp to 0 from below and wrap
// modulo 256 from above.
//
// The caller must have resized both inputs and the speed vector to the
// same length; a mismatch is a programmer error.
func Descend(g *embed.Graph, forbidden, current flow.Execution, speed Speed) flow.Input {
	dLdy := lossGradient(g, forbidden.Trace, current.Trace)
	jac := jacobian(g, forbidden, current)

	dimY, dimX := jac.Dims()
	if dimY != len(dLdy) {
		panic("mutate: jacobian and dL/dy disagree on trace length")
	}
	if len(speed) != dimX {
		panic("mutate: exploration speed does not match input length")
	}

	var dLdx mat.VecDense
	dLdx.MulVec(jac.T(), mat.NewVecDense(dimY, dLdy))

	xNew := make(flow.Input, dimX)
	for j := 0; j < dimX; j++ {
		var curr byte
		if j < len(current.Input) {
			curr = current.Input[j]
		}
		eta := speed[j]
		if eta <= 0 {
			xNew[j] = curr
			continue
		}
		u := float64(curr) - eta*dLdx.AtVec(j)
		if u < 0 {
			u = 0
		} else if u > 255 {
			u = math.Mod(u, 256)
		}
		// Rounding can land exactly on 256; that wraps too.
		xNew[j] = byte(int(math.Round(u)) % 256)
	}
	return xNew
}
