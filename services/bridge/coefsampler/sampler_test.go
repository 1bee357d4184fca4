// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package coefsampler

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/AleutianAI/bayesbridge/pkg/randgen"
	"github.com/AleutianAI/bayesbridge/services/bridge/design"
	"github.com/AleutianAI/bayesbridge/services/bridge/model"
)

// gaussianFixture is a linear model whose conditional posterior is known in
// closed form.
type gaussianFixture struct {
	m      *model.Linear
	x      *design.Dense
	prec   []float64
	global float64
	local  []float64
	mean   []float64
	sd     []float64
}

func newGaussianFixture(t *testing.T, slab float64) gaussianFixture {
	t.Helper()
	const n, p0 = 40, 3
	rng := randgen.New(7)
	rows := make([][]float64, n)
	y := make([]float64, n)
	truth := []float64{0.5, 1.0, -2.0, 0.0}
	for i := range rows {
		rows[i] = make([]float64, p0)
		y[i] = truth[0] + 0.5*rng.NormFloat64()
		for j := range rows[i] {
			rows[i][j] = rng.NormFloat64()
			y[i] += truth[j+1] * rows[i][j]
		}
	}
	x, err := design.NewDenseFromRows(rows, design.Options{Intercept: true})
	require.NoError(t, err)
	m, err := model.NewLinear(y, x)
	require.NoError(t, err)

	f := gaussianFixture{m: m, x: x, prec: []float64{4}, global: 0.5, local: []float64{1, 2, 0.5}}

	// Φ = prec·XᵀX + diag(prior precision), mean = Φ⁻¹·prec·Xᵀy.
	p := p0 + 1
	var phi mat.SymDense
	phi.SymOuterK(f.prec[0], x.Raw().T())
	slabPrec := 1 / (slab * slab)
	phi.SetSym(0, 0, phi.At(0, 0)+slabPrec)
	for j, l := range f.local {
		s := f.global * l
		phi.SetSym(j+1, j+1, phi.At(j+1, j+1)+1/(s*s)+slabPrec)
	}
	var xty mat.VecDense
	xty.MulVec(x.Raw().T(), mat.NewVecDense(n, y))
	xty.ScaleVec(f.prec[0], &xty)

	var chol mat.Cholesky
	require.True(t, chol.Factorize(&phi))
	var mean mat.VecDense
	require.NoError(t, chol.SolveVecTo(&mean, &xty))
	var cov mat.SymDense
	require.NoError(t, chol.InverseTo(&cov))

	f.mean = make([]float64, p)
	f.sd = make([]float64, p)
	for j := 0; j < p; j++ {
		f.mean[j] = mean.AtVec(j)
		f.sd[j] = math.Sqrt(cov.At(j, j))
	}
	return f
}

func newTestSampler(t *testing.T, method Method, slab float64) *Sampler {
	t.Helper()
	cfg := DefaultConfig(4, []float64{math.Inf(1)}, method)
	cfg.SlabSize = slab
	s, err := New(cfg)
	require.NoError(t, err)
	return s
}

type drawFunc func(s *Sampler, f gaussianFixture, coef []float64, rng *randgen.Generator) ([]float64, Info)

func drawGaussian(s *Sampler, f gaussianFixture, _ []float64, rng *randgen.Generator) ([]float64, Info) {
	z, omega := f.m.GaussianConditional(f.prec)
	return s.SampleGaussianPosterior(z, f.x, omega, f.global, f.local, rng)
}

func drawHMC(s *Sampler, f gaussianFixture, coef []float64, rng *randgen.Generator) ([]float64, Info) {
	return s.SampleByHMC(coef, f.global, f.local, f.m, f.prec, rng)
}

func empiricalMoments(t *testing.T, s *Sampler, f gaussianFixture, draw drawFunc, nDraw int) (mean, sd []float64) {
	t.Helper()
	rng := randgen.New(11)
	p := len(f.mean)
	sum := make([]float64, p)
	sumSq := make([]float64, p)
	coef := make([]float64, p)
	for i := 0; i < nDraw; i++ {
		var info Info
		coef, info = draw(s, f, coef, rng)
		require.Len(t, coef, p)
		require.True(t, info.IsSuccess)
		for j, v := range coef {
			sum[j] += v
			sumSq[j] += v * v
		}
	}
	mean = make([]float64, p)
	sd = make([]float64, p)
	for j := range mean {
		mean[j] = sum[j] / float64(nDraw)
		sd[j] = math.Sqrt(sumSq[j]/float64(nDraw) - mean[j]*mean[j])
	}
	return mean, sd
}

func TestSamplers_MatchGaussianPosterior(t *testing.T) {
	f := newGaussianFixture(t, math.Inf(1))
	tests := []struct {
		method Method
		draw   drawFunc
		nDraw  int
		meanSE float64
	}{
		{MethodDirect, drawGaussian, 4000, 5},
		{MethodCG, drawGaussian, 4000, 5},
		{MethodHMC, drawHMC, 3000, 10},
		{MethodNUTS, drawHMC, 3000, 10},
	}
	for _, tt := range tests {
		t.Run(string(tt.method), func(t *testing.T) {
			s := newTestSampler(t, tt.method, math.Inf(1))
			mean, sd := empiricalMoments(t, s, f, tt.draw, tt.nDraw)
			for j := range mean {
				se := f.sd[j] / math.Sqrt(float64(tt.nDraw))
				assert.InDelta(t, f.mean[j], mean[j], tt.meanSE*se, "mean of coefficient %d", j)
				assert.InEpsilon(t, f.sd[j], sd[j], 0.15, "sd of coefficient %d", j)
			}
			assert.Equal(t, tt.nDraw, s.summarizer.Count())
		})
	}
}

func TestSampleGaussianPosterior_SlabShrinksTowardZero(t *testing.T) {
	const slab = 0.2
	f := newGaussianFixture(t, slab)
	s := newTestSampler(t, MethodDirect, slab)
	mean, _ := empiricalMoments(t, s, f, drawGaussian, 3000)
	for j := range mean {
		assert.InDelta(t, f.mean[j], mean[j], 6*f.sd[j]/math.Sqrt(3000), "coefficient %d", j)
	}
}

func TestSampleGaussianPosterior_Diagnostics(t *testing.T) {
	f := newGaussianFixture(t, math.Inf(1))
	rng := randgen.New(3)

	t.Run("direct", func(t *testing.T) {
		s := newTestSampler(t, MethodDirect, math.Inf(1))
		_, info := drawGaussian(s, f, nil, rng)
		assert.True(t, info.IsSuccess)
		assert.Zero(t, info.NIter)
		assert.Positive(t, info.NDesignMatvec)
	})

	t.Run("cg", func(t *testing.T) {
		s := newTestSampler(t, MethodCG, math.Inf(1))
		_, info := drawGaussian(s, f, nil, rng)
		assert.True(t, info.IsSuccess)
		assert.Positive(t, info.NIter)
		assert.LessOrEqual(t, info.NIter, 500)
		assert.GreaterOrEqual(t, info.NDesignMatvec, int64(2*info.NIter))
	})

	t.Run("cg iteration cap", func(t *testing.T) {
		s := newTestSampler(t, MethodCG, math.Inf(1))
		s.cfg.CGMaxIter = 1
		s.cfg.CGTolerance = 1e-14
		_, info := drawGaussian(s, f, nil, rng)
		assert.False(t, info.IsSuccess)
		assert.Equal(t, 1, info.NIter)
	})
}

func TestSampleGaussianPosterior_ZeroGlobalScalePinsShrunk(t *testing.T) {
	f := newGaussianFixture(t, math.Inf(1))
	f.global = 0
	for _, method := range []Method{MethodDirect, MethodCG} {
		t.Run(string(method), func(t *testing.T) {
			s := newTestSampler(t, method, math.Inf(1))
			coef, _ := drawGaussian(s, f, nil, randgen.New(5))
			for j := 1; j < len(coef); j++ {
				assert.Zero(t, coef[j])
			}
			assert.False(t, math.IsNaN(coef[0]))
		})
	}
}

func TestSampleByHMC_Diagnostics(t *testing.T) {
	f := newGaussianFixture(t, math.Inf(1))

	t.Run("hmc", func(t *testing.T) {
		s := newTestSampler(t, MethodHMC, math.Inf(1))
		_, info := drawHMC(s, f, f.mean, randgen.New(1))
		assert.True(t, info.IsSuccess)
		assert.Positive(t, info.Stepsize)
		assert.GreaterOrEqual(t, info.NSteps, 1)
		assert.LessOrEqual(t, info.NSteps, 256)
		assert.Equal(t, info.NSteps+1, info.NGradEvals)
		assert.Positive(t, info.NHessianMatvec)
		assert.LessOrEqual(t, info.NHessianMatvec, 30)
		assert.GreaterOrEqual(t, info.AcceptProb, 0.0)
		assert.LessOrEqual(t, info.AcceptProb, 1.0)
		assert.NotNil(t, s.summarizer.Direction())
	})

	t.Run("nuts", func(t *testing.T) {
		s := newTestSampler(t, MethodNUTS, math.Inf(1))
		_, info := drawHMC(s, f, f.mean, randgen.New(1))
		assert.True(t, info.IsSuccess)
		assert.GreaterOrEqual(t, info.TreeDepth, 1)
		assert.LessOrEqual(t, info.TreeDepth, 8)
		assert.Positive(t, info.NDesignMatvec)
	})
}

func TestSampleByHMC_Logistic(t *testing.T) {
	rng := randgen.New(21)
	const n = 200
	rows := make([][]float64, n)
	nSuccess := make([]float64, n)
	for i := range rows {
		rows[i] = []float64{rng.NormFloat64(), rng.NormFloat64()}
		eta := 0.3 + 1.5*rows[i][0] - rows[i][1]
		if rng.Float64() < 1/(1+math.Exp(-eta)) {
			nSuccess[i] = 1
		}
	}
	x, err := design.NewDenseFromRows(rows, design.Options{Intercept: true})
	require.NoError(t, err)
	m, err := model.NewLogistic(nSuccess, nil, x)
	require.NoError(t, err)

	global, local := 1.0, []float64{1, 1}
	s := newTestSampler(t, MethodNUTS, math.Inf(1))
	mode, modeInfo := newTestSampler(t, MethodNUTS, math.Inf(1)).SearchMode(make([]float64, 3), local, global, nil, m)
	require.True(t, modeInfo.IsSuccess)

	sum := make([]float64, 3)
	coef := append([]float64(nil), mode...)
	const nDraw = 1500
	for i := 0; i < nDraw; i++ {
		coef, _ = s.SampleByHMC(coef, global, local, m, nil, rng)
		for j, v := range coef {
			sum[j] += v
		}
	}
	// The posterior is close to Gaussian with n = 200, so its mean sits near
	// the mode.
	for j := range sum {
		assert.InDelta(t, mode[j], sum[j]/nDraw, 0.1, "coefficient %d", j)
	}
}

func TestSearchMode_LinearMatchesClosedForm(t *testing.T) {
	f := newGaussianFixture(t, math.Inf(1))
	s := newTestSampler(t, MethodDirect, math.Inf(1))

	mode, info := s.SearchMode(make([]float64, 4), f.local, f.global, f.prec, f.m)
	assert.True(t, info.IsSuccess)
	assert.Positive(t, info.NIter)
	assert.LessOrEqual(t, info.NIter, 50)
	assert.Positive(t, info.NDesignMatvec)
	for j := range mode {
		assert.InDelta(t, f.mean[j], mode[j], 1e-4, "coefficient %d", j)
	}
	assert.Zero(t, s.summarizer.Count())
}

func TestNew_Validation(t *testing.T) {
	_, err := New(DefaultConfig(3, nil, Method("gibbs")))
	assert.ErrorIs(t, err, ErrUnknownMethod)

	_, err = New(DefaultConfig(1, []float64{1, 1}, MethodDirect))
	assert.Error(t, err)

	cfg := DefaultConfig(3, nil, MethodCG)
	cfg.SlabSize = 0
	s, err := New(cfg)
	require.NoError(t, err)
	assert.True(t, math.IsInf(s.cfg.SlabSize, 1))
}

func TestMethod_Predicates(t *testing.T) {
	assert.True(t, MethodDirect.Gaussian())
	assert.True(t, MethodCG.Gaussian())
	assert.False(t, MethodHMC.Gaussian())
	assert.False(t, MethodNUTS.Gaussian())
	assert.True(t, MethodNUTS.Valid())
	assert.False(t, Method("").Valid())
}

func TestSampler_PanicsOnScaleLength(t *testing.T) {
	f := newGaussianFixture(t, math.Inf(1))
	s := newTestSampler(t, MethodDirect, math.Inf(1))
	z, omega := f.m.GaussianConditional(f.prec)
	assert.Panics(t, func() {
		s.SampleGaussianPosterior(z, f.x, omega, f.global, []float64{1, 1}, randgen.New(1))
	})
}

func TestSampler_StateRoundTrip(t *testing.T) {
	f := newGaussianFixture(t, math.Inf(1))
	s := newTestSampler(t, MethodCG, math.Inf(1))
	empiricalMoments(t, s, f, drawGaussian, 20)

	restored := newTestSampler(t, MethodCG, math.Inf(1))
	require.NoError(t, restored.SetState(s.State()))
	assert.Equal(t, s.State(), restored.State())

	// Identical state and seed give identical draws.
	a, _ := drawGaussian(s, f, nil, randgen.New(9))
	b, _ := drawGaussian(restored, f, nil, randgen.New(9))
	assert.Equal(t, a, b)

	other, err := New(DefaultConfig(5, []float64{math.Inf(1)}, MethodCG))
	require.NoError(t, err)
	assert.ErrorIs(t, other.SetState(s.State()), ErrStateMismatch)
}
