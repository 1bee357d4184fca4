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
	"errors"
	"fmt"
	"maps"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/AleutianAI/bayesbridge/pkg/randgen"
	"github.com/AleutianAI/bayesbridge/services/bridge/coefsampler"
	"github.com/AleutianAI/bayesbridge/services/bridge/shrinkage"
)

// ArchiveVersion is the version of the Archive layout.
const ArchiveVersion = 1

// ErrIncompatibleArchives indicates archives that cannot be merged.
var ErrIncompatibleArchives = errors.New("incompatible archives")

// OptimInfo records the warm-start phase, one entry per step.
type OptimInfo struct {
	NOptim        int     `json:"n_optim"`
	IsSuccess     []bool  `json:"is_success"`
	NIter         []int   `json:"n_iter"`
	NDesignMatvec []int64 `json:"n_design_matvec"`
}

// Archive is the output of a run: stored draws plus everything needed to
// resume.
//
// # Samples
//
// Samples maps a parameter name to its draws in iteration order. Every
// draw is a vector; scalar parameters are stored as length-one vectors.
// Use Scalar for those. Scales are in the prior's parametrization.
//
// # Resume
//
// ResumeState, RNGState and CoefSamplerState restore the chain exactly.
// ResumeState holds raw scales so that no parametrization round trip is
// involved.
type Archive struct {
	Version         int                       `json:"version"`
	RunID           uuid.UUID                 `json:"run_id"`
	Seed            uint64                    `json:"seed"`
	Model           string                    `json:"model"`
	Config          RunConfig                 `json:"config"`
	Parametrization shrinkage.Parametrization `json:"parametrization"`
	NUnshrunk       int                       `json:"n_coef_wo_shrinkage"`
	UnshrunkSD      []float64                 `json:"prior_sd_for_unshrunk"`
	Samples         map[string][][]float64    `json:"samples"`
	SamplerInfo     []coefsampler.Info        `json:"reg_coef_sampling_info"`
	Events          []shrinkage.Event         `json:"events,omitempty"`
	Runtime         time.Duration             `json:"runtime"`
	CreatedAt       time.Time                 `json:"created_at"`

	InitialState     ChainState        `json:"init"`
	InitialOptimInfo OptimInfo         `json:"initial_optimization_info"`
	FinalState       ChainState        `json:"final_state"`
	ResumeState      ChainState        `json:"markov_chain_state"`
	RNGState         randgen.State     `json:"random_gen_state"`
	CoefSamplerState coefsampler.State `json:"reg_coef_sampler_state"`
}

// Params returns the stored parameter names, sorted.
func (a *Archive) Params() []string {
	return slices.Sorted(maps.Keys(a.Samples))
}

// NSamples returns the number of stored draws.
func (a *Archive) NSamples() int {
	for _, draws := range a.Samples {
		return len(draws)
	}
	return 0
}

// Scalar returns the draws of a scalar parameter, or nil if it was not
// stored.
func (a *Archive) Scalar(name string) []float64 {
	draws, ok := a.Samples[name]
	if !ok {
		return nil
	}
	out := make([]float64, len(draws))
	for i, d := range draws {
		if len(d) > 0 {
			out[i] = d[0]
		}
	}
	return out
}

// Clear releases the stored draws and diagnostics. Resume metadata is
// kept.
func (a *Archive) Clear() {
	a.Samples = map[string][][]float64{}
	a.SamplerInfo = nil
}

// Merge concatenates two archives of the same chain.
//
// Description:
//
//	For every stored parameter the result holds a's draws followed by b's.
//	Diagnostics and events are concatenated the same way. Resume metadata
//	comes from b, the later run; identity and initial state from a.
//
// Inputs:
//
//	a, b - Archives produced with the same model, thinning, parameter set,
//	parametrization, bridge exponent, sampling method, global scale update
//	and unshrunk prior. Neither is modified.
//
// Outputs:
//
//	*Archive - The merged archive.
//	error - ErrIncompatibleArchives if the archives do not match.
func Merge(a, b *Archive) (*Archive, error) {
	if a == nil || b == nil {
		return nil, fmt.Errorf("%w: nil archive", ErrIncompatibleArchives)
	}
	if a.Config.Thin != b.Config.Thin {
		return nil, fmt.Errorf("%w: thin %d and %d", ErrIncompatibleArchives, a.Config.Thin, b.Config.Thin)
	}
	if pa, pb := a.Params(), b.Params(); !slices.Equal(pa, pb) {
		return nil, fmt.Errorf("%w: saved parameters %v and %v", ErrIncompatibleArchives, pa, pb)
	}
	if a.Model != b.Model || a.NUnshrunk != b.NUnshrunk {
		return nil, fmt.Errorf("%w: model %s/%d and %s/%d",
			ErrIncompatibleArchives, a.Model, a.NUnshrunk, b.Model, b.NUnshrunk)
	}
	if err := sameSampling(a, b); err != nil {
		return nil, err
	}

	merged := *b
	merged.RunID = a.RunID
	merged.Seed = a.Seed
	merged.InitialState = a.InitialState.Clone()
	merged.InitialOptimInfo = a.InitialOptimInfo
	merged.Config.NBurnin = a.Config.NBurnin
	merged.Config.NPostBurnin = a.Config.NPostBurnin + b.Config.NPostBurnin
	merged.Config.NInitOptimStep = a.Config.NInitOptimStep
	merged.Runtime = a.Runtime + b.Runtime
	merged.CreatedAt = a.CreatedAt

	merged.Samples = make(map[string][][]float64, len(a.Samples))
	for name, draws := range a.Samples {
		merged.Samples[name] = append(slices.Clone(draws), b.Samples[name]...)
	}
	merged.SamplerInfo = append(slices.Clone(a.SamplerInfo), b.SamplerInfo...)
	merged.Events = append(slices.Clone(a.Events), b.Events...)
	return &merged, nil
}

// sameSampling reports whether two archives were drawn under the same prior
// and update scheme. Draws of different parametrizations or exponents
// cannot share one archive.
func sameSampling(a, b *Archive) error {
	ca, cb := a.Config, b.Config
	switch {
	case a.Parametrization != b.Parametrization:
		return fmt.Errorf("%w: parametrization %s and %s", ErrIncompatibleArchives, a.Parametrization, b.Parametrization)
	case ca.BridgeExponent != cb.BridgeExponent:
		return fmt.Errorf("%w: bridge exponent %g and %g", ErrIncompatibleArchives, ca.BridgeExponent, cb.BridgeExponent)
	case ca.SamplingMethod != cb.SamplingMethod:
		return fmt.Errorf("%w: sampling method %s and %s", ErrIncompatibleArchives, ca.SamplingMethod, cb.SamplingMethod)
	case ca.GlobalScaleUpdate != cb.GlobalScaleUpdate:
		return fmt.Errorf("%w: global scale update %s and %s", ErrIncompatibleArchives, ca.GlobalScaleUpdate, cb.GlobalScaleUpdate)
	case !slices.Equal(a.UnshrunkSD, b.UnshrunkSD):
		return fmt.Errorf("%w: unshrunk prior sd %v and %v", ErrIncompatibleArchives, a.UnshrunkSD, b.UnshrunkSD)
	}
	return nil
}
