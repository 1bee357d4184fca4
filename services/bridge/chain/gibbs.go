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
	"context"
	"fmt"
	"log/slog"
	"math"
	"slices"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/AleutianAI/bayesbridge/services/bridge/coefsampler"
	"github.com/AleutianAI/bayesbridge/services/bridge/model"
	"github.com/AleutianAI/bayesbridge/services/bridge/shrinkage"
	"github.com/AleutianAI/bayesbridge/services/bridge/telemetry"
)

// defaultGlobalScale is the starting global scale in regression
// coefficient units.
const defaultGlobalScale = 0.1

// =============================================================================
// Initialization
// =============================================================================

// initialize resolves the starting raw state and runs the warm start.
func (r *run) initialize(ctx context.Context, init InitialState) (ChainState, error) {
	s := r.s
	p := s.NCoef()
	alpha := r.cfg.BridgeExponent
	logger := telemetry.LoggerWithTrace(ctx, s.logger)

	var coef []float64
	if init.Coef != nil {
		if len(init.Coef) != p {
			return ChainState{}, &InvalidStateError{Field: ParamCoef, Want: p, Got: len(init.Coef)}
		}
		coef = slices.Clone(init.Coef)
	} else {
		coef = make([]float64, p)
		if init.Intercept != nil && s.model.Design().HasIntercept() {
			coef[0] = *init.Intercept
		}
	}
	if init.LocalScale != nil && len(init.LocalScale) != p-s.nUnshrunk {
		return ChainState{}, &InvalidStateError{Field: ParamLocalScale, Want: p - s.nUnshrunk, Got: len(init.LocalScale)}
	}
	if err := checkInitialValues(init); err != nil {
		return ChainState{}, err
	}

	prec, err := r.initPrecision(init.ObsPrec, coef)
	if err != nil {
		return ChainState{}, err
	}
	global, local := r.initShrinkage(ctx, logger, init, coef)

	// Warm start: the global scale stays fixed while the coefficients move
	// to the conditional mode and the local scales are redrawn.
	n := r.cfg.NInitOptimStep
	optim := OptimInfo{
		NOptim:        n,
		IsSuccess:     make([]bool, n),
		NIter:         make([]int, n),
		NDesignMatvec: make([]int64, n),
	}
	for i := 0; i < n; i++ {
		if ctx.Err() != nil {
			return ChainState{}, errCanceled(ctx, 0)
		}
		var info coefsampler.Info
		coef, info = r.coef.SearchMode(coef, local, global, prec, s.model)
		optim.IsSuccess[i] = info.IsSuccess
		optim.NIter[i] = info.NIter
		optim.NDesignMatvec[i] = info.NDesignMatvec

		prec = r.updatePrecision(coef)
		var events []shrinkage.Event
		local, events = r.updater.UpdateLocal(global, coef[s.nUnshrunk:], alpha)
		r.recordEvents(ctx, logger, 0, events)
	}
	if n > 0 {
		logger.Info("warm start finished", slog.Int("n_optim", n))
		r.notify(PhaseOptim, n, n)
	}

	state := ChainState{Coef: coef, ObsPrec: prec, LocalScale: local, GlobalScale: global, BridgeExponent: alpha}
	r.archive.InitialState = s.toUser(state, alpha)
	r.archive.InitialOptimInfo = optim
	return state, nil
}

// checkInitialValues rejects caller-given values the sampler cannot start
// from. Scales must be finite and non-negative. A zero global scale is
// accepted only together with explicit local scales, since the default
// local scales are its reciprocal.
func checkInitialValues(init InitialState) error {
	if i := slices.IndexFunc(init.Coef, nonFinite); i >= 0 {
		return &InvalidStateError{Field: ParamCoef, Reason: fmt.Sprintf("[%d] = %v is not finite", i, init.Coef[i])}
	}
	if init.Intercept != nil && nonFinite(*init.Intercept) {
		return &InvalidStateError{Field: "intercept", Reason: fmt.Sprintf("%v is not finite", *init.Intercept)}
	}
	if i := slices.IndexFunc(init.ObsPrec, badScale); i >= 0 {
		return &InvalidStateError{Field: ParamObsPrec, Reason: fmt.Sprintf("[%d] = %v is not a finite non-negative value", i, init.ObsPrec[i])}
	}
	if i := slices.IndexFunc(init.LocalScale, badScale); i >= 0 {
		return &InvalidStateError{Field: ParamLocalScale, Reason: fmt.Sprintf("[%d] = %v is not a finite non-negative value", i, init.LocalScale[i])}
	}
	if g := init.GlobalScale; g != nil {
		if badScale(*g) {
			return &InvalidStateError{Field: ParamGlobalScale, Reason: fmt.Sprintf("%v is not a finite non-negative value", *g)}
		}
		if *g == 0 && init.LocalScale == nil {
			return &InvalidStateError{Field: ParamGlobalScale, Reason: "is zero and no local scales are given"}
		}
	}
	return nil
}

func nonFinite(v float64) bool { return math.IsNaN(v) || math.IsInf(v, 0) }

func badScale(v float64) bool { return nonFinite(v) || v < 0 }

func (r *run) initPrecision(given, coef []float64) ([]float64, error) {
	pm, ok := r.s.model.(model.PrecisionModel)
	if given != nil {
		want := 0
		if ok {
			want = pm.PrecisionLen()
		}
		if len(given) != want {
			return nil, &InvalidStateError{Field: ParamObsPrec, Want: want, Got: len(given)}
		}
		return slices.Clone(given), nil
	}
	if !ok {
		return nil, nil
	}
	return pm.InitObsPrecision(coef), nil
}

// initShrinkage returns raw scales. Scales derived from coefficients and
// the defaults are computed in raw units directly; caller-given scales are
// converted.
func (r *run) initShrinkage(ctx context.Context, logger *slog.Logger, init InitialState, coef []float64) (float64, []float64) {
	s := r.s
	alpha := r.cfg.BridgeExponent
	shrunk := coef[s.nUnshrunk:]

	if init.LocalScale != nil && init.GlobalScale != nil {
		return r.toRaw(*init.GlobalScale, slices.Clone(init.LocalScale))
	}
	if init.Coef != nil && len(shrunk) > 0 && slices.ContainsFunc(shrunk, func(b float64) bool { return b != 0 }) {
		global, events := r.updater.UpdateGlobal(0, shrunk, alpha, shrinkage.ModeOptimize)
		r.recordEvents(ctx, logger, 0, events)
		local, events := r.updater.UpdateLocal(global, shrunk, alpha)
		r.recordEvents(ctx, logger, 0, events)
		return global, local
	}

	if init.GlobalScale != nil {
		return r.toRaw(*init.GlobalScale, reciprocals(len(shrunk), *init.GlobalScale))
	}
	global := defaultGlobalScale / shrinkage.UnitBridgeMagnitude(alpha)
	return global, reciprocals(len(shrunk), global)
}

func reciprocals(n int, v float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = 1 / v
	}
	return out
}

func (r *run) toRaw(global float64, local []float64) (float64, []float64) {
	if r.s.prior.Parametrization != shrinkage.RegressCoef {
		return global, local
	}
	global, local, _, _ = shrinkage.Convert(global, local, r.cfg.BridgeExponent, shrinkage.Raw)
	return global, local
}

// =============================================================================
// Gibbs loop
// =============================================================================

// sample runs the main loop from a raw state and finalizes the archive.
func (r *run) sample(ctx context.Context, state ChainState) (*Archive, error) {
	s := r.s
	cfg := r.cfg
	nIter := cfg.NIter()
	alpha := cfg.BridgeExponent
	logger := telemetry.LoggerWithTrace(ctx, s.logger)

	every := 0
	if nStatus := min(nIter, cfg.NStatusUpdate); nStatus > 0 {
		every = nIter / nStatus
	}
	iterAttrs := metric.WithAttributes(
		attribute.String("model", s.model.Name()),
		attribute.String("method", string(cfg.SamplingMethod)),
	)

	coef, prec := state.Coef, state.ObsPrec
	local, global := state.LocalScale, state.GlobalScale
	logger.Info("gibbs sampling started",
		slog.String("run_id", r.archive.RunID.String()),
		slog.String("model", s.model.Name()),
		slog.String("method", string(cfg.SamplingMethod)),
		slog.Int("n_iter", nIter),
	)

	for iter := 1; iter <= nIter; iter++ {
		if ctx.Err() != nil {
			return nil, errCanceled(ctx, iter)
		}

		var info coefsampler.Info
		coef, info = r.updateCoef(coef, prec, global, local)
		prec = r.updatePrecision(coef)

		var events []shrinkage.Event
		global, events = r.updater.UpdateGlobal(global, coef[s.nUnshrunk:], alpha, cfg.GlobalScaleUpdate)
		r.recordEvents(ctx, logger, iter, events)
		local, events = r.updater.UpdateLocal(global, coef[s.nUnshrunk:], alpha)
		r.recordEvents(ctx, logger, iter, events)

		logp := r.eval.LogPosterior(coef, global, prec, alpha)

		if slot := cfg.saveSlot(iter); slot >= 0 {
			r.store(slot, coef, prec, local, global, logp)
			r.archive.SamplerInfo[slot] = info
		}
		if m := s.metrics; m != nil {
			m.IterationsTotal.Add(ctx, 1, iterAttrs)
			m.CoefSamplerIterations.Record(ctx, int64(max(info.NIter, info.NSteps)), iterAttrs)
		}
		if every > 0 && iter%every == 0 {
			logger.Debug("gibbs progress", slog.Int("iteration", iter), slog.Int("n_iter", nIter))
			r.notify(PhaseSampling, iter, nIter)
		}
	}

	final := ChainState{Coef: coef, ObsPrec: prec, LocalScale: local, GlobalScale: global, BridgeExponent: alpha}
	if err := r.finalize(final); err != nil {
		return nil, err
	}
	if m := s.metrics; m != nil {
		m.RunDuration.Record(ctx, r.archive.Runtime.Seconds(), iterAttrs)
	}
	logger.Info("gibbs sampling finished",
		slog.String("run_id", r.archive.RunID.String()),
		slog.Duration("runtime", r.archive.Runtime),
		slog.Int("n_saved", cfg.NSaved()),
		slog.Int("n_events", len(r.archive.Events)),
	)
	return r.archive, nil
}

func (r *run) updateCoef(coef, prec []float64, global float64, local []float64) ([]float64, coefsampler.Info) {
	m := r.s.model
	if r.cfg.SamplingMethod.Gaussian() {
		z, omega := m.(model.GaussianModel).GaussianConditional(prec)
		return r.coef.SampleGaussianPosterior(z, m.Design(), omega, global, local, r.rng)
	}
	return r.coef.SampleByHMC(coef, global, local, m, prec, r.rng)
}

func (r *run) updatePrecision(coef []float64) []float64 {
	pm, ok := r.s.model.(model.PrecisionModel)
	if !ok {
		return nil
	}
	return pm.SampleObsPrecision(coef, r.rng)
}

func (r *run) store(slot int, coef, prec, local []float64, global, logp float64) {
	for _, name := range r.params {
		var v []float64
		switch name {
		case ParamCoef:
			v = slices.Clone(coef)
		case ParamLocalScale:
			v = slices.Clone(local)
		case ParamGlobalScale:
			v = []float64{global}
		case ParamLogp:
			v = []float64{logp}
		case ParamObsPrec:
			v = slices.Clone(prec)
		}
		r.archive.Samples[name][slot] = v
	}
}

// finalize converts stored scales to the user parametrization and packs
// the resume metadata.
func (r *run) finalize(final ChainState) error {
	alpha := r.cfg.BridgeExponent
	a := r.archive
	a.ResumeState = final.Clone()
	a.FinalState = r.s.toUser(final, alpha)

	if r.s.prior.Parametrization == shrinkage.RegressCoef {
		factor := shrinkage.UnitBridgeMagnitude(alpha)
		for _, d := range a.Samples[ParamGlobalScale] {
			d[0] *= factor
		}
		for _, d := range a.Samples[ParamLocalScale] {
			for i := range d {
				d[i] /= factor
			}
		}
	}

	rngState, err := r.rng.State()
	if err != nil {
		return err
	}
	a.RNGState = rngState
	a.CoefSamplerState = r.coef.State()
	a.Runtime = time.Since(r.start)
	a.CreatedAt = time.Now().UTC()
	return nil
}
