// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package randgen

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerator_SameSeedSameStream(t *testing.T) {
	a, b := New(0), New(0)
	for i := 0; i < 50; i++ {
		assert.Equal(t, a.Float64(), b.Float64())
		assert.Equal(t, a.NormFloat64(), b.NormFloat64())
		assert.Equal(t, a.Gamma(2.5, 1.5), b.Gamma(2.5, 1.5))
	}
}

func TestGenerator_DifferentSeeds(t *testing.T) {
	assert.NotEqual(t, New(1).Float64(), New(2).Float64())
}

func TestGenerator_StateRoundTrip(t *testing.T) {
	g := New(17)
	for i := 0; i < 10; i++ {
		g.NormFloat64()
	}

	state, err := g.State()
	require.NoError(t, err)

	want := make([]float64, 20)
	for i := range want {
		want[i] = g.Gamma(3, 2) + g.PolyaGamma(1, 0.7) + g.TiltedStable(0.25, []float64{1.5})[0]
	}

	restored := New(12345)
	require.NoError(t, restored.SetState(state))
	for i := range want {
		got := restored.Gamma(3, 2) + restored.PolyaGamma(1, 0.7) + restored.TiltedStable(0.25, []float64{1.5})[0]
		assert.Equal(t, want[i], got, "draw %d", i)
	}
}

func TestGenerator_SetStateErrors(t *testing.T) {
	g := New(1)
	assert.ErrorIs(t, g.SetState(nil), ErrEmptyState)
	assert.Error(t, g.SetState(State("garbage")))
}

func TestGenerator_NormalInto(t *testing.T) {
	g, h := New(8), New(8)
	out := make([]float64, 5)
	g.NormalInto(out)
	for _, v := range out {
		assert.Equal(t, h.NormFloat64(), v)
	}
}

func TestGenerator_GammaMean(t *testing.T) {
	g := New(5)
	const n = 100000
	sum := 0.0
	for i := 0; i < n; i++ {
		sum += g.Gamma(4, 2)
	}
	assert.InEpsilon(t, 2.0, sum/n, 0.01)
}

func TestPolyaGammaMean(t *testing.T) {
	assert.Equal(t, 0.25, PolyaGammaMean(1, 0))
	assert.Equal(t, 0.75, PolyaGammaMean(3, 1e-10))
	assert.InDelta(t, 1/(2*2.0)*math.Tanh(1), PolyaGammaMean(1, 2), 1e-15)
	assert.Equal(t, PolyaGammaMean(2, 3), PolyaGammaMean(2, -3))
}

func TestPolyaGamma_EmpiricalMean(t *testing.T) {
	g := New(2)
	for _, c := range []float64{0, 0.5, 2, 5, 20} {
		const n = 40000
		sum := 0.0
		for i := 0; i < n; i++ {
			x := g.PolyaGamma(1, c)
			require.Greater(t, x, 0.0)
			sum += x
		}
		assert.InEpsilon(t, PolyaGammaMean(1, c), sum/n, 0.02, "c=%v", c)
	}
}

func TestPolyaGammaVec(t *testing.T) {
	g := New(3)
	out := g.PolyaGammaVec([]int{1, 2, 5}, []float64{0.1, -1, 3})
	require.Len(t, out, 3)
	for _, x := range out {
		assert.Greater(t, x, 0.0)
	}
}
