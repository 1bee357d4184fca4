// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package tiltedstable

import (
	"math"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSampler(seed uint64) *Sampler {
	return New(rand.New(rand.NewPCG(seed, seed+1)))
}

// laplaceTransform is E[exp(-s·X)] for the tilted law.
func laplaceTransform(alpha, lam, s float64) float64 {
	return math.Exp(math.Pow(lam, alpha) - math.Pow(lam+s, alpha))
}

func TestSinc(t *testing.T) {
	assert.Equal(t, 1.0, sinc(0))
	assert.InDelta(t, 1.0, sinc(1e-12), 1e-15)
	assert.InDelta(t, math.Sin(0.7)/0.7, sinc(0.7), 1e-15)
	assert.InDelta(t, 0.0, sinc(math.Pi), 1e-15)
}

func TestZolotarevFunction_AtZero(t *testing.T) {
	for _, alpha := range []float64{0.1, 0.25, 0.5, 0.9} {
		want := math.Pow(math.Pow(1-alpha, 1-alpha)*math.Pow(alpha, alpha), 1/(1-alpha))
		assert.InDelta(t, want, zolotarevFunction(0, alpha), 1e-12, "alpha=%v", alpha)
	}
}

func TestZolotarevPDFExponentiated_AtZero(t *testing.T) {
	assert.Equal(t, 1.0, zolotarevPDFExponentiated(0, 0.3))
}

func TestStage_String(t *testing.T) {
	assert.Equal(t, "sample_aux", StageSampleAux.String())
	assert.Equal(t, "sample_reference", StageSampleReference.String())
	assert.Equal(t, "accept", StageAccept.String())
	assert.Equal(t, "stage(7)", Stage(7).String())
}

func TestLogAcceptProb_NegativeReferenceDraw(t *testing.T) {
	p := newParams(0.5, 2)
	got := logAcceptProb(p, referenceDraw{X: -0.1, a: 1, m: 1, delta: 1})
	assert.True(t, math.IsInf(got, -1))
}

func TestAuxAcceptProb_PositiveAndFinite(t *testing.T) {
	for _, lam := range []float64{0.01, 2, 50, 1e4} {
		p := newParams(0.5, lam)
		for _, U := range []float64{0, 0.5, 1.5, 3.0} {
			zeta := math.Sqrt(zolotarevPDFExponentiated(U, p.alpha))
			z := 1 / (1 - math.Pow(1+p.alpha*zeta/p.sqrtGamma, -1/p.alpha))
			prob := auxAcceptProb(p, U, zeta, z)
			assert.Greater(t, prob, 0.0, "lam=%v U=%v", lam, U)
			assert.False(t, math.IsInf(prob, 0), "lam=%v U=%v", lam, U)
		}
	}
}

func TestSample_Moments(t *testing.T) {
	const (
		alpha = 0.5
		lam   = 2.0
		n     = 400000
	)
	s := newTestSampler(42)

	var sum, sumSq float64
	for i := 0; i < n; i++ {
		x := s.Sample(alpha, lam)
		require.False(t, math.IsNaN(x))
		require.Greater(t, x, 0.0)
		sum += x
		sumSq += x * x
	}
	mean := sum / n
	variance := sumSq/n - mean*mean

	// Cumulants of the tilted law: K(t) = lam^a - (lam - t)^a.
	wantMean := alpha * math.Pow(lam, alpha-1)
	wantVar := alpha * (1 - alpha) * math.Pow(lam, alpha-2)

	assert.InEpsilon(t, wantMean, mean, 0.02)
	assert.InEpsilon(t, wantVar, variance, 0.02)
}

func TestSample_LaplaceTransform(t *testing.T) {
	tests := []struct {
		name  string
		alpha float64
		lam   float64
	}{
		{"small gamma", 0.5, 2},
		{"large gamma", 0.5, 50},
		{"small alpha", 0.1, 10},
		{"alpha near one", 0.9, 1},
		{"tiny tilt", 0.25, 1e-6},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			const n = 50000
			s := newTestSampler(7)
			sum := 0.0
			for i := 0; i < n; i++ {
				sum += math.Exp(-s.Sample(tt.alpha, tt.lam))
			}
			assert.InDelta(t, laplaceTransform(tt.alpha, tt.lam, 1), sum/n, 0.01)
		})
	}
}

func TestSample_ZeroTilt(t *testing.T) {
	const n = 50000
	s := newTestSampler(3)
	sum := 0.0
	for i := 0; i < n; i++ {
		sum += math.Exp(-s.Sample(0.5, 0))
	}
	assert.InDelta(t, math.Exp(-1), sum/n, 0.01)
}

func TestSampleHofert_LaplaceTransform(t *testing.T) {
	for _, lam := range []float64{0.5, 3} {
		const n = 50000
		s := newTestSampler(11)
		sum := 0.0
		for i := 0; i < n; i++ {
			sum += math.Exp(-s.SampleHofert(0.5, lam))
		}
		assert.InDelta(t, laplaceTransform(0.5, lam, 1), sum/n, 0.01, "lam=%v", lam)
	}
}

func TestSample_SmallTiltUsesHofert(t *testing.T) {
	a := newTestSampler(13)
	b := newTestSampler(13)
	for _, lam := range []float64{1e-8, 1e-4, 0.009} {
		require.Less(t, math.Pow(lam, 0.5), SmallTiltPower)
		assert.Equal(t, b.SampleHofert(0.5, lam), a.Sample(0.5, lam), "lam=%v", lam)
	}
}

func TestSample_HugeTiltTerminates(t *testing.T) {
	s := newTestSampler(17)
	for _, alpha := range []float64{0.125, 0.5, 0.95} {
		for _, lam := range []float64{1e60, 1e64, 1e200, math.MaxFloat64} {
			if math.Pow(lam, alpha) <= LargeTiltPower {
				continue
			}
			mean := alpha * math.Exp((alpha-1)*math.Log(lam))
			for i := 0; i < 10; i++ {
				x := s.Sample(alpha, lam)
				require.Greater(t, x, 0.0, "alpha=%v lam=%v", alpha, lam)
				assert.InEpsilon(t, mean, x, 1e-6, "alpha=%v lam=%v", alpha, lam)
			}
		}
	}
}

func TestSample_Deterministic(t *testing.T) {
	a := newTestSampler(99)
	b := newTestSampler(99)
	for i := 0; i < 100; i++ {
		lam := float64(i) / 10
		assert.Equal(t, a.Sample(0.25, lam), b.Sample(0.25, lam))
	}
}

func TestSampleInto(t *testing.T) {
	s := newTestSampler(5)
	lam := []float64{0, 0.1, 1, 10, 100}
	out := make([]float64, len(lam))
	s.SampleInto(out, 0.25, lam)
	for i, x := range out {
		assert.Greater(t, x, 0.0, "index %d", i)
	}

	assert.Panics(t, func() { s.SampleInto(make([]float64, 2), 0.25, lam) })
}

func TestSample_InvalidParams(t *testing.T) {
	s := newTestSampler(1)
	assert.Panics(t, func() { s.Sample(0, 1) })
	assert.Panics(t, func() { s.Sample(1, 1) })
	assert.Panics(t, func() { s.Sample(0.5, -1) })
	assert.Panics(t, func() { s.Sample(0.5, math.NaN()) })
	assert.Panics(t, func() { s.Sample(0.5, math.Inf(1)) })
}
