// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package chain drives the Gibbs sampler for Bayesian bridge regression.
//
// Each iteration draws, in this order, the coefficients, the observation
// precision, the global scale and then the local scales given the fresh
// global scale. The order fixes the random stream, so a resumed chain
// reproduces an uninterrupted one exactly.
package chain

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"slices"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/AleutianAI/bayesbridge/pkg/randgen"
	"github.com/AleutianAI/bayesbridge/services/bridge/coefsampler"
	"github.com/AleutianAI/bayesbridge/services/bridge/model"
	"github.com/AleutianAI/bayesbridge/services/bridge/posterior"
	"github.com/AleutianAI/bayesbridge/services/bridge/prior"
	"github.com/AleutianAI/bayesbridge/services/bridge/shrinkage"
	"github.com/AleutianAI/bayesbridge/services/bridge/telemetry"
)

const tracerName = "bayesbridge/chain"

// Phase names reported in Progress.
const (
	PhaseOptim    = "optim"
	PhaseSampling = "sampling"
)

// Progress is a status notification.
type Progress struct {
	Phase     string
	Iteration int
	Total     int
	Elapsed   time.Duration
}

// Option configures a Sampler.
type Option func(*Sampler)

// WithLogger sets the logger. Nil means slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(s *Sampler) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithMetrics records chain metrics on m.
func WithMetrics(m *telemetry.Metrics) Option {
	return func(s *Sampler) { s.metrics = m }
}

// WithProgress registers a callback invoked RunConfig.NStatusUpdate times
// per run, and after the warm start.
func WithProgress(fn func(Progress)) Option {
	return func(s *Sampler) { s.progress = fn }
}

// WithCoefSamplerConfig adjusts the coefficient sampler settings before
// each run. NCoef, UnshrunkSD, SlabSize and Method are always overwritten.
func WithCoefSamplerConfig(fn func(*coefsampler.Config)) Option {
	return func(s *Sampler) { s.tuneCoef = fn }
}

// Sampler runs Gibbs chains for one model and prior.
//
// Thread Safety: A Sampler may run several chains concurrently; each run
// owns its generator and state. The model must be safe for concurrent
// reads.
type Sampler struct {
	model      model.Model
	prior      prior.Prior
	nUnshrunk  int
	unshrunkSD []float64
	logger     *slog.Logger
	metrics    *telemetry.Metrics
	progress   func(Progress)
	tuneCoef   func(*coefsampler.Config)
}

// New creates a Sampler.
//
// Description:
//
//	The unshrunk coefficients are the intercept, when the design has one,
//	followed by the predictors listed in the prior's SDForFixed.
//
// Inputs:
//
//	m - The likelihood.
//	pr - The coefficient prior. Validated.
//	opts - Options.
//
// Outputs:
//
//	*Sampler - The sampler.
//	error - prior.ErrInvalidPrior, or ErrInvalidConfig when the prior
//	leaves more unshrunk coefficients than the design has.
func New(m model.Model, pr prior.Prior, opts ...Option) (*Sampler, error) {
	if m == nil {
		return nil, fmt.Errorf("%w: nil model", ErrInvalidConfig)
	}
	if err := pr.Validate(); err != nil {
		return nil, err
	}
	sd := pr.UnshrunkSD(m.Design().HasIntercept())
	if _, p := m.Design().Dims(); len(sd) > p {
		return nil, fmt.Errorf("%w: %d unshrunk coefficients, design has %d columns", ErrInvalidConfig, len(sd), p)
	}
	s := &Sampler{
		model:      m,
		prior:      pr,
		nUnshrunk:  len(sd),
		unshrunkSD: sd,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// NUnshrunk returns the number of coefficients without shrinkage.
func (s *Sampler) NUnshrunk() int { return s.nUnshrunk }

// NCoef returns the number of coefficients.
func (s *Sampler) NCoef() int {
	_, p := s.model.Design().Dims()
	return p
}

// -----------------------------------------------------------------------------
// Run / Continue
// -----------------------------------------------------------------------------

// Run samples a new chain.
//
// Description:
//
//	Resolves the initial state from init and defaults, runs the optional
//	warm start, then NBurnin + NPostBurnin Gibbs iterations. Draws after
//	burn-in whose offset is a multiple of Thin are stored. Scales are
//	converted to the prior's parametrization on output, including every
//	stored scale draw.
//
// Inputs:
//
//	ctx - Checked between iterations. Cancellation returns ctx.Err() and
//	no archive.
//	cfg - Run configuration.
//	init - Initial state overrides.
//
// Outputs:
//
//	*Archive - The draws and resume metadata.
//	error - ErrInvalidConfig or an InvalidStateError before any iteration
//	runs, or the context error.
func (s *Sampler) Run(ctx context.Context, cfg RunConfig, init InitialState) (*Archive, error) {
	if err := cfg.checkModel(s.model); err != nil {
		return nil, err
	}
	ctx, span := telemetry.StartSpan(ctx, tracerName, "bridge.chain.Run", s.spanAttributes(cfg))
	defer span.End()

	seed := rand.Uint64()
	if cfg.Seed != nil {
		seed = *cfg.Seed
	}
	r, err := s.newRun(cfg, randgen.New(seed))
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}
	r.archive.Seed = seed

	state, err := r.initialize(ctx, init)
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}
	archive, err := r.sample(ctx, state)
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}
	telemetry.SetSpanOK(span)
	return archive, nil
}

// ContinueOptions controls Continue.
type ContinueOptions struct {
	// Merge returns the previous draws followed by the new ones.
	Merge bool

	// Clear releases the previous archive's draws. Ignored, with a
	// MergeClearConflict event, when Merge is set.
	Clear bool

	// NStatusUpdate overrides the number of progress notifications.
	NStatusUpdate int
}

// Continue resumes a chain for nIter more iterations.
//
// Description:
//
//	Restores the generator and coefficient sampler state bit for bit and
//	re-enters the main loop from the archived raw state with no burn-in
//	and no warm start. The run config, including the saved parameter set,
//	is carried over.
//
// Inputs:
//
//	ctx - Checked between iterations.
//	prev - Archive of the previous run. Cleared in place when opts.Clear
//	is set without opts.Merge.
//	nIter - Number of further iterations, all stored subject to thinning.
//	opts - Merge and clear options.
//
// Outputs:
//
//	*Archive - The new draws, or the merged archive.
//	error - ErrInvalidConfig or ErrIncompatibleArchives if prev does not
//	belong to this sampler's model, or the context error.
func (s *Sampler) Continue(ctx context.Context, prev *Archive, nIter int, opts ContinueOptions) (*Archive, error) {
	if prev == nil {
		return nil, fmt.Errorf("%w: nil archive", ErrInvalidConfig)
	}
	if nIter < 0 {
		return nil, fmt.Errorf("%w: %d iterations", ErrInvalidConfig, nIter)
	}
	if prev.Model != s.model.Name() || prev.NUnshrunk != s.nUnshrunk || len(prev.ResumeState.Coef) != s.NCoef() {
		return nil, fmt.Errorf("%w: archive of model %s with %d coefficients (%d unshrunk)",
			ErrIncompatibleArchives, prev.Model, len(prev.ResumeState.Coef), prev.NUnshrunk)
	}
	if prev.Parametrization != s.prior.Parametrization {
		return nil, fmt.Errorf("%w: archive in %s parametrization, prior uses %s",
			ErrIncompatibleArchives, prev.Parametrization, s.prior.Parametrization)
	}
	if !slices.Equal(prev.UnshrunkSD, s.unshrunkSD) {
		return nil, fmt.Errorf("%w: archive unshrunk prior sd %v, prior has %v",
			ErrIncompatibleArchives, prev.UnshrunkSD, s.unshrunkSD)
	}

	cfg := prev.Config
	cfg.NBurnin = 0
	cfg.NPostBurnin = nIter
	cfg.NInitOptimStep = 0
	cfg.NStatusUpdate = opts.NStatusUpdate
	cfg.ParamsToSave = prev.Params()
	if err := cfg.checkModel(s.model); err != nil {
		return nil, err
	}

	ctx, span := telemetry.StartSpan(ctx, tracerName, "bridge.chain.Continue", s.spanAttributes(cfg))
	defer span.End()
	logger := telemetry.LoggerWithTrace(ctx, s.logger)

	rng := randgen.New(0)
	if err := rng.SetState(prev.RNGState); err != nil {
		err = fmt.Errorf("%w: restore generator: %v", ErrInvalidConfig, err)
		telemetry.RecordError(span, err)
		return nil, err
	}
	r, err := s.newRun(cfg, rng)
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}
	if err := r.coef.SetState(prev.CoefSamplerState); err != nil {
		err = fmt.Errorf("%w: %v", ErrInvalidConfig, err)
		telemetry.RecordError(span, err)
		return nil, err
	}
	r.archive.Seed = prev.Seed

	if opts.Merge && opts.Clear {
		r.recordEvents(ctx, logger, 0, []shrinkage.Event{{Kind: shrinkage.MergeClearConflict, Count: 1}})
		opts.Clear = false
	}

	state := prev.ResumeState.Clone()
	r.archive.InitialState = s.toUser(state, cfg.BridgeExponent)
	r.archive.InitialOptimInfo = OptimInfo{IsSuccess: []bool{}, NIter: []int{}, NDesignMatvec: []int64{}}

	if opts.Clear {
		prev.Clear()
	}
	next, err := r.sample(ctx, state)
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}
	if opts.Merge {
		next, err = Merge(prev, next)
		if err != nil {
			telemetry.RecordError(span, err)
			return nil, err
		}
	}
	telemetry.SetSpanOK(span)
	return next, nil
}

func (s *Sampler) spanAttributes(cfg RunConfig) trace.SpanStartEventOption {
	return trace.WithAttributes(
		attribute.String("model", s.model.Name()),
		attribute.String("method", string(cfg.SamplingMethod)),
		attribute.Int("n_iter", cfg.NIter()),
		attribute.Float64("bridge_exponent", cfg.BridgeExponent),
	)
}

// toUser converts a raw state to the prior's parametrization.
func (s *Sampler) toUser(raw ChainState, alpha float64) ChainState {
	out := raw.Clone()
	if s.prior.Parametrization == shrinkage.RegressCoef {
		out.GlobalScale, out.LocalScale, _, _ = shrinkage.Convert(raw.GlobalScale, raw.LocalScale, alpha, shrinkage.RegressCoef)
	}
	return out
}

// -----------------------------------------------------------------------------
// Run state
// -----------------------------------------------------------------------------

// run holds the per-chain collaborators. It is not shared between chains.
type run struct {
	s       *Sampler
	cfg     RunConfig
	rng     *randgen.Generator
	coef    *coefsampler.Sampler
	updater *shrinkage.Updater
	eval    *posterior.Evaluator
	params  []string
	archive *Archive
	start   time.Time
}

func (s *Sampler) newRun(cfg RunConfig, rng *randgen.Generator) (*run, error) {
	ccfg := coefsampler.DefaultConfig(s.NCoef(), s.unshrunkSD, cfg.SamplingMethod)
	if s.tuneCoef != nil {
		s.tuneCoef(&ccfg)
	}
	ccfg.NCoef = s.NCoef()
	ccfg.UnshrunkSD = s.unshrunkSD
	ccfg.SlabSize = s.prior.SlabSize
	ccfg.Method = cfg.SamplingMethod
	cs, err := coefsampler.New(ccfg)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}

	params := cfg.resolveParams(s.model)
	samples := make(map[string][][]float64, len(params))
	for _, name := range params {
		samples[name] = make([][]float64, cfg.NSaved())
	}
	return &run{
		s:       s,
		cfg:     cfg,
		rng:     rng,
		coef:    cs,
		updater: shrinkage.NewUpdater(rng, s.prior.GlobalScale).WithCoefMagnitudeLowerBound(s.prior.CoefMagnitudeBound()),
		eval:    posterior.New(s.model, s.unshrunkSD, s.prior.SlabSize, s.prior.GlobalScale),
		params:  params,
		archive: &Archive{
			Version:         ArchiveVersion,
			RunID:           uuid.New(),
			Model:           s.model.Name(),
			Config:          cfg,
			Parametrization: s.prior.Parametrization,
			NUnshrunk:       s.nUnshrunk,
			UnshrunkSD:      append([]float64(nil), s.unshrunkSD...),
			Samples:         samples,
			SamplerInfo:     make([]coefsampler.Info, cfg.NSaved()),
		},
		start: time.Now(),
	}, nil
}

func (r *run) recordEvents(ctx context.Context, logger *slog.Logger, iter int, events []shrinkage.Event) {
	if len(events) == 0 {
		return
	}
	span := trace.SpanFromContext(ctx)
	for _, e := range events {
		e.Iteration = iter
		r.archive.Events = append(r.archive.Events, e)
		logger.Warn(e.Message(),
			slog.String("event", string(e.Kind)),
			slog.Int("iteration", e.Iteration),
			slog.Int("count", e.Count),
			slog.Float64("value", e.Value),
		)
		telemetry.AddSpanEvent(span, string(e.Kind),
			attribute.Int("iteration", e.Iteration),
			attribute.Int("count", e.Count),
		)
		if m := r.s.metrics; m != nil {
			m.RecoverableEventsTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", string(e.Kind))))
		}
	}
}

func (r *run) notify(phase string, iter, total int) {
	if r.s.progress == nil {
		return
	}
	r.s.progress(Progress{Phase: phase, Iteration: iter, Total: total, Elapsed: time.Since(r.start)})
}

// errCanceled wraps a context error so callers see both.
func errCanceled(ctx context.Context, iter int) error {
	return fmt.Errorf("chain canceled at iteration %d: %w", iter, context.Cause(ctx))
}
