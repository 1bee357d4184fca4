// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package coefsampler draws regression coefficients from their conditional
// posterior given the shrinkage scales.
//
// All methods work in coordinates scaled by the prior standard deviation,
// β = D·θ, so a coefficient whose scale collapses to zero is pinned at zero
// without dividing by it. The Gaussian methods (direct, cg) require a model
// with a Gaussian conditional; hmc and nuts work with any model.
//
// A posterior summarizer carried by the sampler warm-starts conjugate
// gradient, preconditions Hamiltonian dynamics and seeds the curvature
// estimate. Its state is exported for checkpoints.
package coefsampler

import (
	"errors"
	"fmt"
	"math"

	"github.com/AleutianAI/bayesbridge/pkg/summary"
)

// Method selects how coefficients are drawn.
type Method string

const (
	// MethodDirect factorizes the posterior precision with Cholesky.
	MethodDirect Method = "direct"

	// MethodCG solves a randomized system with conjugate gradient.
	MethodCG Method = "cg"

	// MethodHMC uses Hamiltonian Monte Carlo with a fixed trajectory.
	MethodHMC Method = "hmc"

	// MethodNUTS uses the No-U-Turn sampler.
	MethodNUTS Method = "nuts"
)

// Gaussian reports whether the method needs a Gaussian conditional.
func (m Method) Gaussian() bool { return m == MethodDirect || m == MethodCG }

// Valid reports whether m names a supported method.
func (m Method) Valid() bool {
	switch m {
	case MethodDirect, MethodCG, MethodHMC, MethodNUTS:
		return true
	}
	return false
}

var (
	// ErrUnknownMethod indicates an unsupported sampling method.
	ErrUnknownMethod = errors.New("unknown sampling method")

	// ErrStateMismatch indicates a checkpointed state for another sampler.
	ErrStateMismatch = errors.New("coefficient sampler state mismatch")
)

// Random supplies the variates the sampler needs.
type Random interface {
	Float64() float64
	NormFloat64() float64
	ExpFloat64() float64

	// NormalInto fills out with standard normal variates.
	NormalInto(out []float64)
}

// Config configures a Sampler.
type Config struct {
	// NCoef is the total number of coefficients.
	NCoef int

	// UnshrunkSD holds prior SDs of the leading unshrunk coefficients.
	UnshrunkSD []float64

	// SlabSize is the SD of the slab applied to every coefficient.
	SlabSize float64

	// Method is the sampling method.
	Method Method

	// CGTolerance is the relative residual at which CG stops.
	CGTolerance float64

	// CGMaxIter caps CG iterations.
	CGMaxIter int

	// MaxLeapfrog caps leapfrog steps per HMC trajectory.
	MaxLeapfrog int

	// MaxTreeDepth caps NUTS tree doublings.
	MaxTreeDepth int

	// PowerIter caps power iterations for the curvature estimate.
	PowerIter int

	// DirectionMode controls how curvature directions are summarized.
	DirectionMode summary.DirectionMode
}

// DefaultConfig returns defaults for nCoef coefficients with flat priors on
// the unshrunk ones.
func DefaultConfig(nCoef int, unshrunkSD []float64, method Method) Config {
	return Config{
		NCoef:         nCoef,
		UnshrunkSD:    unshrunkSD,
		SlabSize:      math.Inf(1),
		Method:        method,
		CGTolerance:   1e-5,
		CGMaxIter:     500,
		MaxLeapfrog:   256,
		MaxTreeDepth:  8,
		PowerIter:     30,
		DirectionMode: summary.DirectionAverage,
	}
}

// Info is the per-draw diagnostics record.
type Info struct {
	IsSuccess      bool    `json:"is_success"`
	NIter          int     `json:"n_iter,omitempty"`
	NDesignMatvec  int64   `json:"n_design_matvec"`
	Stepsize       float64 `json:"stepsize,omitempty"`
	NSteps         int     `json:"n_steps,omitempty"`
	NGradEvals     int     `json:"n_grad_evals,omitempty"`
	AcceptProb     float64 `json:"accept_prob,omitempty"`
	NHessianMatvec int     `json:"n_hessian_matvec,omitempty"`
	TreeDepth      int     `json:"tree_depth,omitempty"`
}

// State is the checkpointable internal state.
type State struct {
	Method  Method        `json:"method"`
	NCoef   int           `json:"n_coef"`
	Summary summary.State `json:"summary"`
}

// Sampler draws regression coefficients.
//
// Thread Safety: Not safe for concurrent use.
type Sampler struct {
	cfg        Config
	nUnshrunk  int
	summarizer *summary.CoefSummarizer
}

// New creates a sampler.
func New(cfg Config) (*Sampler, error) {
	if !cfg.Method.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrUnknownMethod, cfg.Method)
	}
	if len(cfg.UnshrunkSD) > cfg.NCoef {
		return nil, fmt.Errorf("coefficient sampler: %d unshrunk of %d coefficients", len(cfg.UnshrunkSD), cfg.NCoef)
	}
	if cfg.SlabSize == 0 {
		cfg.SlabSize = math.Inf(1)
	}
	return &Sampler{
		cfg:        cfg,
		nUnshrunk:  len(cfg.UnshrunkSD),
		summarizer: summary.NewCoefSummarizer(cfg.NCoef, len(cfg.UnshrunkSD), cfg.DirectionMode),
	}, nil
}

// Method returns the configured method.
func (s *Sampler) Method() Method { return s.cfg.Method }

// State exports the internal state.
func (s *Sampler) State() State {
	return State{Method: s.cfg.Method, NCoef: s.cfg.NCoef, Summary: s.summarizer.State()}
}

// SetState restores a state exported by State.
func (s *Sampler) SetState(st State) error {
	if st.NCoef != s.cfg.NCoef || st.Summary.NUnshrunk != s.nUnshrunk {
		return fmt.Errorf("%w: state for %d coefficients (%d unshrunk), sampler has %d (%d)",
			ErrStateMismatch, st.NCoef, st.Summary.NUnshrunk, s.cfg.NCoef, s.nUnshrunk)
	}
	sum, err := summary.RestoreCoefSummarizer(st.Summary)
	if err != nil {
		return fmt.Errorf("restore summarizer: %w", err)
	}
	s.summarizer = sum
	return nil
}

// -----------------------------------------------------------------------------
// Prior scaling
// -----------------------------------------------------------------------------

// priorScale returns the scaling D of β = D·θ and the prior precision of θ.
//
// Shrunk coefficients have D = global·local and unit prior precision;
// unshrunk ones have D = prior SD, or 1 with zero precision when the SD is
// infinite. The slab adds D²/slab² to every precision.
func (s *Sampler) priorScale(global float64, local []float64) (d, lam []float64) {
	p := s.cfg.NCoef
	d = make([]float64, p)
	lam = make([]float64, p)
	slabPrec := 1 / (s.cfg.SlabSize * s.cfg.SlabSize)
	for j := 0; j < p; j++ {
		if j < s.nUnshrunk {
			sd := s.cfg.UnshrunkSD[j]
			if math.IsInf(sd, 1) {
				d[j] = 1
				lam[j] = slabPrec
				continue
			}
			d[j] = sd
		} else {
			d[j] = global * local[j-s.nUnshrunk]
		}
		lam[j] = 1 + d[j]*d[j]*slabPrec
	}
	return d, lam
}

func (s *Sampler) checkScales(coefLen int, local []float64) {
	if coefLen != s.cfg.NCoef || len(local) != s.cfg.NCoef-s.nUnshrunk {
		panic(fmt.Sprintf("coefficient sampler: %d coefficients and %d local scales, want %d and %d",
			coefLen, len(local), s.cfg.NCoef, s.cfg.NCoef-s.nUnshrunk))
	}
}

func scaleUp(d, theta []float64) []float64 {
	beta := make([]float64, len(d))
	for j := range d {
		beta[j] = d[j] * theta[j]
	}
	return beta
}

func scaleDown(d, beta []float64) []float64 {
	theta := make([]float64, len(d))
	for j := range d {
		if d[j] != 0 {
			theta[j] = beta[j] / d[j]
		}
	}
	return theta
}
