// Copyright 2025 topfuzz project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package mutate

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/topfuzz/topfuzz/pkg/embed"
	"github.com/topfuzz/topfuzz/pkg/flow"
	"github.com/topfuzz/topfuzz/pkg/testutil"
)

func TestCosineBounds(t *testing.T) {
	rnd := rand.New(testutil.RandSource(t))
	for i := 0; i < testutil.IterCount(); i++ {
		a := make([]float64, 1+rnd.Intn(6))
		b := make([]float64, 1+rnd.Intn(6))
		for j := range a {
			a[j] = rnd.NormFloat64() * 10
		}
		for j := range b {
			b[j] = rnd.NormFloat64() * 10
		}
		c := Cosine(a, b)
		assert.GreaterOrEqual(t, c, -1.0-1e-9)
		assert.LessOrEqual(t, c, 1.0+1e-9)
	}
}

func TestCosineSpecialCases(t *testing.T) {
	assert.Equal(t, 0.0, Cosine(nil, nil))
	assert.Equal(t, 0.0, Cosine([]float64{0, 0}, []float64{1, 2}))
	assert.InDelta(t, 1.0, Cosine([]float64{1, 2, 3}, []float64{2, 4, 6}), 1e-12)
	assert.InDelta(t, -1.0, Cosine([]float64{1, 0}, []float64{-3, 0}), 1e-12)
	// Unequal lengths zero-extend.
	assert.InDelta(t, 1.0, Cosine([]float64{1, 0, 0}, []float64{2}), 1e-12)
}

func TestLossIdentity(t *testing.T) {
	g := embed.NewGraph(embed.DefaultParams())
	trace := flow.Trace{1, 2, 3, 2, 4}
	loss := Loss(g, trace, trace)
	assert.InDelta(t, 1.0, loss, 1e-9)
}

func TestLossBounds(t *testing.T) {
	rnd := rand.New(testutil.RandSource(t))
	g := embed.NewGraph(embed.DefaultParams())
	for i := 0; i < 20; i++ {
		a := randTrace(rnd)
		b := randTrace(rnd)
		loss := Loss(g, a, b)
		assert.GreaterOrEqual(t, loss, 0.0)
		assert.LessOrEqual(t, loss, 1.0)
	}
}

func TestLossEmptyTracePanics(t *testing.T) {
	g := embed.NewGraph(embed.DefaultParams())
	assert.Panics(t, func() { Loss(g, nil, flow.Trace{1}) })
	assert.Panics(t, func() { Loss(g, flow.Trace{1}, nil) })
}

func randTrace(rnd *rand.Rand) flow.Trace {
	trace := make(flow.Trace, 1+rnd.Intn(10))
	for i := range trace {
		trace[i] = uint32(rnd.Intn(8))
	}
	return trace
}

func TestDescendEmitsValidBytes(t *testing.T) {
	rnd := rand.New(testutil.RandSource(t))
	g := embed.NewGraph(embed.DefaultParams())
	for i := 0; i < 50; i++ {
		n := 1 + rnd.Intn(16)
		forbidden := flow.Execution{Input: testutil.RandBytes(rnd, n), Trace: randTrace(rnd)}
		current := flow.Execution{Input: testutil.RandBytes(rnd, n), Trace: randTrace(rnd)}
		speed := NewSpeed(n)
		for j := range speed {
			speed[j] = rnd.Float64()*2 - 1
		}
		input := Descend(g, forbidden, current, speed)
		require.Len(t, input, n)
	}
}

func TestDescendFrozenBytesCopied(t *testing.T) {
	g := embed.NewGraph(embed.DefaultParams())
	forbidden := flow.Execution{Input: flow.Input{10, 20, 30}, Trace: flow.Trace{1, 2}}
	current := flow.Execution{Input: flow.Input{40, 50, 60}, Trace: flow.Trace{3, 4}}
	speed := Speed{-1.0, 0.0, -0.5}
	input := Descend(g, forbidden, current, speed)
	assert.Equal(t, flow.Input{40, 50, 60}, input)
}

func TestDescendSpeedMismatchPanics(t *testing.T) {
	g := embed.NewGraph(embed.DefaultParams())
	forbidden := flow.Execution{Input: flow.Input{1, 2}, Trace: flow.Trace{1}}
	current := flow.Execution{Input: flow.Input{3, 4}, Trace: flow.Trace{2}}
	assert.Panics(t, func() { Descend(g, forbidden, current, NewSpeed(5)) })
}

func TestDescendEmptyInputsPanic(t *testing.T) {
	g := embed.NewGraph(embed.DefaultParams())
	forbidden := flow.Execution{Trace: flow.Trace{1}}
	current := flow.Execution{Trace: flow.Trace{2}}
	assert.Panics(t, func() { Descend(g, forbidden, current, NewSpeed(0)) })
}

// The update clamps below zero and wraps above 255: drive it with inputs
// engineered to push in each direction by using a large learning rate.
func TestDescendClampAndWrap(t *testing.T) {
	g := embed.NewGraph(embed.DefaultParams())
	// Distinct traces give nonzero distances, hence a nonzero gradient.
	forbidden := flow.Execution{Input: flow.Input{0, 255}, Trace: flow.Trace{1, 2, 3}}
	current := flow.Execution{Input: flow.Input{255, 0}, Trace: flow.Trace{4, 5, 6}}
	for i := 0; i < 100; i++ {
		speed := Speed{1.0, 1.0}
		input := Descend(g, forbidden, current, speed)
		require.Len(t, input, 2)
		// Byte range is guaranteed by construction; re-check the arithmetic
		// by descending repeatedly as the graph trains further.
		for _, b := range input {
			assert.GreaterOrEqual(t, int(b), 0)
			assert.LessOrEqual(t, int(b), 255)
		}
	}
}

func TestJacobianShape(t *testing.T) {
	g := embed.NewGraph(embed.DefaultParams())
	forbidden := flow.Execution{Input: flow.Input{1, 2, 3, 4}, Trace: flow.Trace{1, 2}}
	current := flow.Execution{Input: flow.Input{5, 6}, Trace: flow.Trace{3, 4, 5}}
	jac := jacobian(g, forbidden, current)
	rows, cols := jac.Dims()
	assert.Equal(t, 3, rows) // max trace length
	assert.Equal(t, 4, cols) // max input length
}

func TestJacobianZeroDeltaColumn(t *testing.T) {
	g := embed.NewGraph(embed.DefaultParams())
	// Byte 0 is identical in both inputs: its column must be all zeros.
	forbidden := flow.Execution{Input: flow.Input{9, 2}, Trace: flow.Trace{1, 2}}
	current := flow.Execution{Input: flow.Input{9, 7}, Trace: flow.Trace{3, 4}}
	jac := jacobian(g, forbidden, current)
	rows, _ := jac.Dims()
	for i := 0; i < rows; i++ {
		assert.Zero(t, jac.At(i, 0))
	}
}

func TestLossGradientUsesLossFallback(t *testing.T) {
	g := embed.NewGraph(embed.DefaultParams())
	trace := flow.Trace{1, 2, 3}
	// Identical traces: every position distance is zero, so every gradient
	// component falls back to the loss itself (1.0 for identical traces).
	dLdy := lossGradient(g, trace, trace)
	require.Len(t, dLdy, 3)
	for _, v := range dLdy {
		assert.InDelta(t, 1.0, v, 1e-9)
	}
}
