// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package chain

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/AleutianAI/bayesbridge/pkg/randgen"
	"github.com/AleutianAI/bayesbridge/services/bridge/coefsampler"
	"github.com/AleutianAI/bayesbridge/services/bridge/model"
	"github.com/AleutianAI/bayesbridge/services/bridge/prior"
	"github.com/AleutianAI/bayesbridge/services/bridge/shrinkage"
)

// simulate draws an n×p design with 5 strong and 10 decaying true
// coefficients (fewer when p is small) and the matching outcome.
func simulate(n, p int, name string, seed uint64) (*mat.Dense, model.Outcome) {
	rng := randgen.New(seed)
	beta := make([]float64, p)
	for j := 0; j < min(5, p); j++ {
		beta[j] = 4
	}
	for k := 0; k < 10 && 5+k < p; k++ {
		beta[5+k] = math.Pow(2, -4.5*float64(k)/9)
	}

	x := mat.NewDense(n, p, nil)
	eta := make([]float64, n)
	for i := 0; i < n; i++ {
		for j := 0; j < p; j++ {
			v := rng.NormFloat64()
			x.Set(i, j, v)
			eta[i] += v * beta[j]
		}
	}

	var out model.Outcome
	switch name {
	case model.NameLinear:
		out.Y = make([]float64, n)
		for i := range eta {
			out.Y[i] = eta[i] + 2*rng.NormFloat64()
		}
	case model.NameLogistic:
		out.NSuccess = make([]float64, n)
		for i := range eta {
			if rng.Float64() < 1/(1+math.Exp(-eta[i])) {
				out.NSuccess[i] = 1
			}
		}
	case model.NameCox:
		out.EventTime = make([]float64, n)
		out.Censored = make([]bool, n)
		for i := range eta {
			out.EventTime[i] = rng.ExpFloat64() / math.Exp(0.2*eta[i])
			out.Censored[i] = rng.Float64() < 0.2
		}
	}
	return x, out
}

func newTestSampler(t *testing.T, name string, n, p int, opts ...Option) *Sampler {
	t.Helper()
	x, out := simulate(n, p, name, 1)
	m, err := BuildModel(name, out, x, BuildOptions{}, nil)
	require.NoError(t, err)
	s, err := New(m, prior.Default(), opts...)
	require.NoError(t, err)
	return s
}

func seeded(cfg RunConfig, seed uint64) RunConfig {
	cfg.Seed = &seed
	return cfg
}

func smallConfig(method coefsampler.Method, nBurnin, nPost int) RunConfig {
	cfg := DefaultRunConfig()
	cfg.SamplingMethod = method
	cfg.NBurnin = nBurnin
	cfg.NPostBurnin = nPost
	cfg.NInitOptimStep = 2
	cfg.ParamsToSave = []string{ParamAll}
	return seeded(cfg, 0)
}

// =============================================================================
// Run
// =============================================================================

func TestRun_ArchiveShape(t *testing.T) {
	s := newTestSampler(t, model.NameLinear, 60, 10)
	cfg := smallConfig(coefsampler.MethodCG, 3, 9)
	cfg.Thin = 3

	a, err := s.Run(context.Background(), cfg, InitialState{})
	require.NoError(t, err)

	assert.Equal(t, ArchiveVersion, a.Version)
	assert.Equal(t, uint64(0), a.Seed)
	assert.Equal(t, model.NameLinear, a.Model)
	assert.Equal(t, 1, a.NUnshrunk)
	assert.Equal(t, []string{ParamGlobalScale, ParamLocalScale, ParamLogp, ParamObsPrec, ParamCoef}, a.Params())
	assert.Equal(t, 3, a.NSamples())
	assert.Len(t, a.SamplerInfo, 3)
	for _, d := range a.Samples[ParamCoef] {
		assert.Len(t, d, 11)
	}
	for _, d := range a.Samples[ParamLocalScale] {
		assert.Len(t, d, 10)
	}
	for _, d := range a.Samples[ParamObsPrec] {
		assert.Len(t, d, 1)
	}
	assert.Equal(t, 2, a.InitialOptimInfo.NOptim)
	assert.Len(t, a.InitialOptimInfo.NIter, 2)
	assert.NotEmpty(t, a.RNGState)
	assert.Equal(t, 12, a.CoefSamplerState.Summary.NAveraged)

	// The last stored draw is the final state.
	last := a.Samples[ParamCoef][2]
	assert.Equal(t, last, a.FinalState.Coef)
	assert.Equal(t, a.Scalar(ParamGlobalScale)[2], a.FinalState.GlobalScale)
}

func TestRun_DefaultParams(t *testing.T) {
	s := newTestSampler(t, model.NameLinear, 40, 5)
	cfg := smallConfig(coefsampler.MethodDirect, 0, 4)
	cfg.ParamsToSave = nil

	a, err := s.Run(context.Background(), cfg, InitialState{})
	require.NoError(t, err)
	assert.Equal(t, []string{ParamGlobalScale, ParamLogp, ParamCoef}, a.Params())
}

func TestRun_CoxAllOmitsPrecision(t *testing.T) {
	s := newTestSampler(t, model.NameCox, 50, 4)
	a, err := s.Run(context.Background(), smallConfig(coefsampler.MethodNUTS, 0, 3), InitialState{})
	require.NoError(t, err)
	assert.NotContains(t, a.Params(), ParamObsPrec)
	assert.Equal(t, 0, a.NUnshrunk)
	assert.Nil(t, a.FinalState.ObsPrec)
}

func TestRun_Deterministic(t *testing.T) {
	if testing.Short() {
		t.Skip("500 x 500 design")
	}
	s := newTestSampler(t, model.NameLinear, 500, 500)
	cfg := DefaultRunConfig()
	cfg.NPostBurnin = 10
	cfg = seeded(cfg, 0)

	a, err := s.Run(context.Background(), cfg, InitialState{})
	require.NoError(t, err)
	b, err := s.Run(context.Background(), cfg, InitialState{})
	require.NoError(t, err)

	assert.Equal(t, a.Samples, b.Samples)
	assert.Equal(t, a.RNGState, b.RNGState)
	assert.NotEqual(t, a.RunID, b.RunID)
}

func TestRun_ParametrizationAppliedToEveryDraw(t *testing.T) {
	x, out := simulate(50, 6, model.NameLinear, 2)
	m, err := BuildModel(model.NameLinear, out, x, BuildOptions{}, nil)
	require.NoError(t, err)

	rawPrior := prior.Default()
	rawPrior.Parametrization = shrinkage.Raw
	rawSampler, err := New(m, rawPrior)
	require.NoError(t, err)
	rcSampler, err := New(m, prior.Default())
	require.NoError(t, err)

	cfg := smallConfig(coefsampler.MethodCG, 2, 6)
	raw, err := rawSampler.Run(context.Background(), cfg, InitialState{})
	require.NoError(t, err)
	rc, err := rcSampler.Run(context.Background(), cfg, InitialState{})
	require.NoError(t, err)

	factor := shrinkage.UnitBridgeMagnitude(cfg.BridgeExponent)
	assert.Equal(t, raw.Samples[ParamCoef], rc.Samples[ParamCoef])
	for i, g := range raw.Scalar(ParamGlobalScale) {
		assert.InEpsilon(t, g*factor, rc.Scalar(ParamGlobalScale)[i], 1e-12)
		for j, l := range raw.Samples[ParamLocalScale][i] {
			assert.InEpsilon(t, l/factor, rc.Samples[ParamLocalScale][i][j], 1e-12)
		}
	}
	assert.InEpsilon(t, raw.FinalState.GlobalScale*factor, rc.FinalState.GlobalScale, 1e-12)
	assert.Equal(t, raw.ResumeState, rc.ResumeState)
}

func TestRun_InitialState(t *testing.T) {
	s := newTestSampler(t, model.NameLinear, 40, 5)
	cfg := smallConfig(coefsampler.MethodCG, 0, 2)
	cfg.NInitOptimStep = 0

	t.Run("scales as given", func(t *testing.T) {
		g := 0.3
		local := []float64{1, 2, 3, 4, 5}
		a, err := s.Run(context.Background(), cfg, InitialState{GlobalScale: &g, LocalScale: local})
		require.NoError(t, err)
		assert.InEpsilon(t, g, a.InitialState.GlobalScale, 1e-12)
		for j := range local {
			assert.InEpsilon(t, local[j], a.InitialState.LocalScale[j], 1e-12)
		}
	})

	t.Run("default scales", func(t *testing.T) {
		a, err := s.Run(context.Background(), cfg, InitialState{})
		require.NoError(t, err)
		assert.InEpsilon(t, defaultGlobalScale, a.InitialState.GlobalScale, 1e-12)
		for _, l := range a.InitialState.LocalScale {
			assert.InEpsilon(t, 1/defaultGlobalScale, l, 1e-12)
		}
		assert.Equal(t, make([]float64, 6), a.InitialState.Coef)
	})

	t.Run("intercept", func(t *testing.T) {
		b0 := 1.5
		a, err := s.Run(context.Background(), cfg, InitialState{Intercept: &b0})
		require.NoError(t, err)
		assert.Equal(t, b0, a.InitialState.Coef[0])
	})

	t.Run("from coefficients", func(t *testing.T) {
		coef := []float64{0.1, 4, 4, 0.5, -0.2, 0.01}
		a, err := s.Run(context.Background(), cfg, InitialState{Coef: coef})
		require.NoError(t, err)
		assert.Equal(t, coef, a.InitialState.Coef)
		raw := shrinkage.OptimizeGlobal(coef[1:], cfg.BridgeExponent)
		want := raw * shrinkage.UnitBridgeMagnitude(cfg.BridgeExponent)
		assert.InEpsilon(t, want, a.InitialState.GlobalScale, 1e-12)
	})
}

func TestRun_InvalidState(t *testing.T) {
	s := newTestSampler(t, model.NameLinear, 40, 5)
	cfg := smallConfig(coefsampler.MethodCG, 0, 2)

	scale := func(v float64) *float64 { return &v }
	ones := []float64{1, 1, 1, 1, 1}
	badCoef := make([]float64, 6)
	badCoef[3] = math.Inf(1)

	tests := []struct {
		name  string
		init  InitialState
		field string
	}{
		{"coef", InitialState{Coef: make([]float64, 5)}, ParamCoef},
		{"local scale", InitialState{LocalScale: make([]float64, 6)}, ParamLocalScale},
		{"obs prec", InitialState{ObsPrec: []float64{1, 2}}, ParamObsPrec},
		{"coef not finite", InitialState{Coef: badCoef}, ParamCoef},
		{"intercept nan", InitialState{Intercept: scale(math.NaN())}, "intercept"},
		{"obs prec negative", InitialState{ObsPrec: []float64{-1}}, ParamObsPrec},
		{"global zero", InitialState{GlobalScale: scale(0)}, ParamGlobalScale},
		{"global negative", InitialState{GlobalScale: scale(-0.5)}, ParamGlobalScale},
		{"global nan", InitialState{GlobalScale: scale(math.NaN()), LocalScale: ones}, ParamGlobalScale},
		{"global inf", InitialState{GlobalScale: scale(math.Inf(1))}, ParamGlobalScale},
		{"local negative", InitialState{LocalScale: []float64{1, -1, 1, 1, 1}}, ParamLocalScale},
		{"local nan", InitialState{GlobalScale: scale(0.2), LocalScale: []float64{1, 1, math.NaN(), 1, 1}}, ParamLocalScale},
		{"local inf", InitialState{LocalScale: []float64{1, 1, 1, 1, math.Inf(1)}}, ParamLocalScale},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a, err := s.Run(context.Background(), cfg, tt.init)
			assert.Nil(t, a)
			assert.ErrorIs(t, err, ErrInvalidState)
			var stateErr *InvalidStateError
			require.True(t, errors.As(err, &stateErr))
			assert.Equal(t, tt.field, stateErr.Field)
		})
	}
}

func TestRun_ZeroGlobalScaleWithLocalScales(t *testing.T) {
	s := newTestSampler(t, model.NameLinear, 40, 5)
	zero := 0.0
	init := InitialState{GlobalScale: &zero, LocalScale: []float64{1, 1, 1, 1, 1}}

	for _, mode := range []shrinkage.Mode{shrinkage.ModeSample, shrinkage.ModeNone} {
		t.Run(string(mode), func(t *testing.T) {
			cfg := smallConfig(coefsampler.MethodDirect, 1, 3)
			cfg.GlobalScaleUpdate = mode
			a, err := s.Run(context.Background(), cfg, init)
			require.NoError(t, err)
			require.Equal(t, 3, a.NSamples())
			for _, g := range a.Scalar(ParamGlobalScale) {
				assert.GreaterOrEqual(t, g, 0.0)
				assert.False(t, math.IsInf(g, 0) || math.IsNaN(g))
			}
			for _, draw := range a.Samples[ParamCoef] {
				for _, c := range draw {
					assert.False(t, math.IsInf(c, 0) || math.IsNaN(c))
				}
			}
		})
	}
}

func TestRun_CoefMagnitudeLowerBound(t *testing.T) {
	x, out := simulate(40, 5, model.NameLinear, 3)
	m, err := BuildModel(model.NameLinear, out, x, BuildOptions{}, nil)
	require.NoError(t, err)

	const floor = 1e3
	p := prior.Default()
	bound := floor
	p.CoefMagnitudeLowerBound = &bound
	s, err := New(m, p)
	require.NoError(t, err)

	a, err := s.Run(context.Background(), smallConfig(coefsampler.MethodCG, 0, 4), InitialState{})
	require.NoError(t, err)
	// In regress_coef units the floor equals the magnitude bound.
	for _, g := range a.Scalar(ParamGlobalScale) {
		assert.InEpsilon(t, floor, g, 1e-9)
	}
	var kinds []shrinkage.EventKind
	for _, e := range a.Events {
		kinds = append(kinds, e.Kind)
	}
	assert.Contains(t, kinds, shrinkage.GlobalScaleBelowBound)
}

func TestRun_InvalidConfig(t *testing.T) {
	linear := newTestSampler(t, model.NameLinear, 30, 3)
	cox := newTestSampler(t, model.NameCox, 30, 3)

	tests := []struct {
		name string
		s    *Sampler
		edit func(*RunConfig)
	}{
		{"thin", linear, func(c *RunConfig) { c.Thin = 0 }},
		{"exponent", linear, func(c *RunConfig) { c.BridgeExponent = 2 }},
		{"method", linear, func(c *RunConfig) { c.SamplingMethod = "gibbs" }},
		{"update mode", linear, func(c *RunConfig) { c.GlobalScaleUpdate = "em" }},
		{"param", linear, func(c *RunConfig) { c.ParamsToSave = []string{"beta"} }},
		{"cox cg", cox, func(c *RunConfig) { c.SamplingMethod = coefsampler.MethodCG }},
		{"cox obs prec", cox, func(c *RunConfig) {
			c.SamplingMethod = coefsampler.MethodHMC
			c.ParamsToSave = []string{ParamObsPrec}
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := smallConfig(coefsampler.MethodCG, 0, 2)
			tt.edit(&cfg)
			_, err := tt.s.Run(context.Background(), cfg, InitialState{})
			assert.ErrorIs(t, err, ErrInvalidConfig)
		})
	}
}

func TestRun_Canceled(t *testing.T) {
	s := newTestSampler(t, model.NameLinear, 30, 3)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	a, err := s.Run(ctx, smallConfig(coefsampler.MethodCG, 0, 5), InitialState{})
	assert.Nil(t, a)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRun_Progress(t *testing.T) {
	var got []Progress
	s := newTestSampler(t, model.NameLinear, 30, 3, WithProgress(func(p Progress) { got = append(got, p) }))
	cfg := smallConfig(coefsampler.MethodCG, 2, 8)
	cfg.NStatusUpdate = 5

	_, err := s.Run(context.Background(), cfg, InitialState{})
	require.NoError(t, err)
	require.Len(t, got, 6)
	assert.Equal(t, PhaseOptim, got[0].Phase)
	for i, p := range got[1:] {
		assert.Equal(t, PhaseSampling, p.Phase)
		assert.Equal(t, 2*(i+1), p.Iteration)
		assert.Equal(t, 10, p.Total)
	}
}

func TestRun_GlobalScaleNone(t *testing.T) {
	s := newTestSampler(t, model.NameLinear, 30, 4)
	cfg := smallConfig(coefsampler.MethodDirect, 0, 5)
	cfg.GlobalScaleUpdate = shrinkage.ModeNone
	g := 0.25
	a, err := s.Run(context.Background(), cfg, InitialState{GlobalScale: &g})
	require.NoError(t, err)
	for _, v := range a.Scalar(ParamGlobalScale) {
		assert.InEpsilon(t, g, v, 1e-12)
	}
}

// =============================================================================
// Continue / Merge
// =============================================================================

func TestContinue_MatchesUninterruptedRun(t *testing.T) {
	tests := []struct {
		name   string
		model  string
		method coefsampler.Method
	}{
		{"linear cg", model.NameLinear, coefsampler.MethodCG},
		{"logit direct", model.NameLogistic, coefsampler.MethodDirect},
		{"linear nuts", model.NameLinear, coefsampler.MethodNUTS},
		{"cox hmc", model.NameCox, coefsampler.MethodHMC},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestSampler(t, tt.model, 60, 8)
			full, err := s.Run(context.Background(), smallConfig(tt.method, 2, 10), InitialState{})
			require.NoError(t, err)

			for _, k := range []int{1, 4, 9} {
				first, err := s.Run(context.Background(), smallConfig(tt.method, 2, k), InitialState{})
				require.NoError(t, err)
				merged, err := s.Continue(context.Background(), first, 10-k, ContinueOptions{Merge: true})
				require.NoError(t, err)

				assert.Equal(t, full.Samples, merged.Samples, "k=%d", k)
				assert.Equal(t, full.ResumeState, merged.ResumeState, "k=%d", k)
				assert.Equal(t, full.RNGState, merged.RNGState, "k=%d", k)
				assert.Equal(t, full.CoefSamplerState, merged.CoefSamplerState, "k=%d", k)
				assert.Equal(t, 10, merged.Config.NPostBurnin)
				assert.Equal(t, first.RunID, merged.RunID)
			}
		})
	}
}

func TestContinue_WithoutMerge(t *testing.T) {
	s := newTestSampler(t, model.NameLinear, 40, 5)
	first, err := s.Run(context.Background(), smallConfig(coefsampler.MethodCG, 0, 3), InitialState{})
	require.NoError(t, err)

	next, err := s.Continue(context.Background(), first, 4, ContinueOptions{})
	require.NoError(t, err)
	assert.Equal(t, 4, next.NSamples())
	assert.Equal(t, first.Params(), next.Params())
	assert.Equal(t, first.Seed, next.Seed)
	assert.Equal(t, first.FinalState, next.InitialState)
	assert.Equal(t, 3, first.NSamples())
}

func TestContinue_Clear(t *testing.T) {
	s := newTestSampler(t, model.NameLinear, 40, 5)

	t.Run("clear", func(t *testing.T) {
		first, err := s.Run(context.Background(), smallConfig(coefsampler.MethodCG, 0, 3), InitialState{})
		require.NoError(t, err)
		_, err = s.Continue(context.Background(), first, 2, ContinueOptions{Clear: true})
		require.NoError(t, err)
		assert.Zero(t, first.NSamples())
		assert.NotEmpty(t, first.RNGState)
	})

	t.Run("merge wins over clear", func(t *testing.T) {
		var buf bytes.Buffer
		logged := newTestSampler(t, model.NameLinear, 40, 5, WithLogger(slog.New(slog.NewTextHandler(&buf, nil))))
		first, err := logged.Run(context.Background(), smallConfig(coefsampler.MethodCG, 0, 3), InitialState{})
		require.NoError(t, err)

		merged, err := logged.Continue(context.Background(), first, 2, ContinueOptions{Merge: true, Clear: true})
		require.NoError(t, err)
		assert.Equal(t, 3, first.NSamples())
		assert.Equal(t, 5, merged.NSamples())

		var kinds []shrinkage.EventKind
		for _, e := range merged.Events {
			kinds = append(kinds, e.Kind)
		}
		assert.Contains(t, kinds, shrinkage.MergeClearConflict)
		assert.Contains(t, buf.String(), "event="+string(shrinkage.MergeClearConflict))
	})
}

func TestContinue_RejectsForeignArchive(t *testing.T) {
	s := newTestSampler(t, model.NameLinear, 40, 5)
	other := newTestSampler(t, model.NameLinear, 40, 7)
	a, err := other.Run(context.Background(), smallConfig(coefsampler.MethodCG, 0, 2), InitialState{})
	require.NoError(t, err)

	_, err = s.Continue(context.Background(), a, 2, ContinueOptions{})
	assert.ErrorIs(t, err, ErrIncompatibleArchives)

	_, err = s.Continue(context.Background(), nil, 2, ContinueOptions{})
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestContinue_RejectsOtherPrior(t *testing.T) {
	x, out := simulate(40, 5, model.NameLinear, 1)
	m, err := BuildModel(model.NameLinear, out, x, BuildOptions{}, nil)
	require.NoError(t, err)

	rawPrior := prior.Default()
	rawPrior.Parametrization = shrinkage.Raw
	rawSampler, err := New(m, rawPrior)
	require.NoError(t, err)
	first, err := rawSampler.Run(context.Background(), smallConfig(coefsampler.MethodCG, 0, 3), InitialState{})
	require.NoError(t, err)

	rcSampler, err := New(m, prior.Default())
	require.NoError(t, err)
	for _, opts := range []ContinueOptions{{}, {Merge: true}} {
		_, err = rcSampler.Continue(context.Background(), first, 3, opts)
		assert.ErrorIs(t, err, ErrIncompatibleArchives)
	}

	informative := rawPrior
	informative.SDForIntercept = 10
	sdSampler, err := New(m, informative)
	require.NoError(t, err)
	_, err = sdSampler.Continue(context.Background(), first, 3, ContinueOptions{Merge: true})
	assert.ErrorIs(t, err, ErrIncompatibleArchives)

	// The failed attempts leave the archive usable.
	next, err := rawSampler.Continue(context.Background(), first, 3, ContinueOptions{Merge: true})
	require.NoError(t, err)
	assert.Equal(t, 6, next.NSamples())
}

func TestMerge_Ordering(t *testing.T) {
	s := newTestSampler(t, model.NameLinear, 40, 5)
	a, err := s.Run(context.Background(), seeded(smallConfig(coefsampler.MethodCG, 0, 3), 1), InitialState{})
	require.NoError(t, err)
	b, err := s.Run(context.Background(), seeded(smallConfig(coefsampler.MethodCG, 0, 4), 2), InitialState{})
	require.NoError(t, err)

	merged, err := Merge(a, b)
	require.NoError(t, err)
	for _, name := range a.Params() {
		require.Len(t, merged.Samples[name], 7)
		assert.Equal(t, a.Samples[name], merged.Samples[name][:3], name)
		assert.Equal(t, b.Samples[name], merged.Samples[name][3:], name)
	}
	assert.Len(t, merged.SamplerInfo, 7)
	assert.Equal(t, b.RNGState, merged.RNGState)
	assert.Equal(t, a.InitialState, merged.InitialState)

	// Inputs are untouched.
	assert.Equal(t, 3, a.NSamples())
	assert.Equal(t, 4, b.NSamples())
}

func TestMerge_Incompatible(t *testing.T) {
	s := newTestSampler(t, model.NameLinear, 40, 5)
	base := smallConfig(coefsampler.MethodCG, 0, 4)
	a, err := s.Run(context.Background(), base, InitialState{})
	require.NoError(t, err)

	thinned := base
	thinned.Thin = 2
	b, err := s.Run(context.Background(), thinned, InitialState{})
	require.NoError(t, err)
	_, err = Merge(a, b)
	assert.ErrorIs(t, err, ErrIncompatibleArchives)

	fewer := base
	fewer.ParamsToSave = []string{ParamCoef}
	c, err := s.Run(context.Background(), fewer, InitialState{})
	require.NoError(t, err)
	_, err = Merge(a, c)
	assert.ErrorIs(t, err, ErrIncompatibleArchives)

	_, err = Merge(a, nil)
	assert.ErrorIs(t, err, ErrIncompatibleArchives)

	tests := []struct {
		name string
		edit func(*Archive)
	}{
		{"parametrization", func(b *Archive) { b.Parametrization = shrinkage.Raw }},
		{"bridge exponent", func(b *Archive) { b.Config.BridgeExponent = 1.5 }},
		{"sampling method", func(b *Archive) { b.Config.SamplingMethod = coefsampler.MethodDirect }},
		{"global scale update", func(b *Archive) { b.Config.GlobalScaleUpdate = shrinkage.ModeOptimize }},
		{"unshrunk sd", func(b *Archive) { b.UnshrunkSD = []float64{10} }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, err := s.Run(context.Background(), base, InitialState{})
			require.NoError(t, err)
			_, err = Merge(a, b)
			require.NoError(t, err)

			tt.edit(b)
			_, err = Merge(a, b)
			assert.ErrorIs(t, err, ErrIncompatibleArchives)
			_, err = Merge(b, a)
			assert.ErrorIs(t, err, ErrIncompatibleArchives)
		})
	}

	// Archives actually drawn under different exponents.
	other := base
	other.BridgeExponent = 1.5
	d, err := s.Run(context.Background(), other, InitialState{})
	require.NoError(t, err)
	_, err = Merge(a, d)
	assert.ErrorIs(t, err, ErrIncompatibleArchives)
}

// =============================================================================
// Config and builders
// =============================================================================

func TestRunConfig_SaveSlot(t *testing.T) {
	cfg := RunConfig{NBurnin: 2, NPostBurnin: 7, Thin: 3}
	assert.Equal(t, 2, cfg.NSaved())
	var slots []int
	for iter := 1; iter <= cfg.NIter(); iter++ {
		if s := cfg.saveSlot(iter); s >= 0 {
			slots = append(slots, iter, s)
		}
	}
	assert.Equal(t, []int{5, 0, 8, 1}, slots)
}

func TestBuildModel_CoxDropsIntercept(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	x, out := simulate(20, 3, model.NameCox, 3)
	on := true

	m, err := BuildModel(model.NameCox, out, x, BuildOptions{Intercept: &on}, logger)
	require.NoError(t, err)
	assert.False(t, m.Design().HasIntercept())
	assert.Contains(t, buf.String(), "intercept is not identifiable")

	lin, err := BuildModel(model.NameLinear, model.Outcome{Y: make([]float64, 20)}, x, BuildOptions{}, logger)
	require.NoError(t, err)
	assert.True(t, lin.Design().HasIntercept())
}

func TestNew_TooManyUnshrunk(t *testing.T) {
	x, out := simulate(20, 2, model.NameLinear, 3)
	m, err := BuildModel(model.NameLinear, out, x, BuildOptions{}, nil)
	require.NoError(t, err)
	pr := prior.Default()
	pr.SDForFixed = []float64{1, 1, 1}
	_, err = New(m, pr)
	assert.ErrorIs(t, err, ErrInvalidConfig)
}
