// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package randgen provides the single pseudo-random generator a Markov chain
// draws from.
//
// A Generator wraps a PCG source from math/rand/v2. Its full state can be
// captured with State and restored with SetState, which is what makes a
// resumed chain reproduce the draws of an uninterrupted one. Every
// stochastic operation in the sampler takes the Generator explicitly; there
// is no package-level generator.
package randgen

import (
	"errors"
	"fmt"
	"math/rand/v2"

	"gonum.org/v1/gonum/stat/distuv"

	"github.com/AleutianAI/bayesbridge/pkg/tiltedstable"
)

// pcgStream is the fixed second PCG seed word. Only the first word varies
// with the user seed so that seeds map one-to-one onto streams.
const pcgStream = 0xda3e39cb94b95bdb

// ErrEmptyState indicates SetState was called with no data.
var ErrEmptyState = errors.New("randgen: empty generator state")

// State is the serialized generator state.
type State []byte

// Generator is a seeded, checkpointable random number generator.
//
// Thread Safety: Not safe for concurrent use. Each chain owns one.
type Generator struct {
	pcg    *rand.PCG
	rng    *rand.Rand
	stable *tiltedstable.Sampler
}

// New creates a generator seeded with seed.
func New(seed uint64) *Generator {
	pcg := rand.NewPCG(seed, pcgStream)
	rng := rand.New(pcg)
	return &Generator{
		pcg:    pcg,
		rng:    rng,
		stable: tiltedstable.New(rng),
	}
}

// Float64 returns a uniform variate in [0, 1).
func (g *Generator) Float64() float64 {
	return g.rng.Float64()
}

// NormFloat64 returns a standard normal variate.
func (g *Generator) NormFloat64() float64 {
	return g.rng.NormFloat64()
}

// ExpFloat64 returns a standard exponential variate.
func (g *Generator) ExpFloat64() float64 {
	return g.rng.ExpFloat64()
}

// NormalInto fills out with standard normal variates.
func (g *Generator) NormalInto(out []float64) {
	for i := range out {
		out[i] = g.rng.NormFloat64()
	}
}

// Gamma returns a Gamma(shape, rate) variate. Panics if shape or rate is
// not positive.
func (g *Generator) Gamma(shape, rate float64) float64 {
	return distuv.Gamma{Alpha: shape, Beta: rate, Src: g.pcg}.Rand()
}

// TiltedStable draws one exponentially tilted stable variate per element of
// lam with shape alpha in (0, 1).
func (g *Generator) TiltedStable(alpha float64, lam []float64) []float64 {
	out := make([]float64, len(lam))
	g.stable.SampleInto(out, alpha, lam)
	return out
}

// State captures the generator state.
func (g *Generator) State() (State, error) {
	b, err := g.pcg.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("marshal pcg state: %w", err)
	}
	return State(b), nil
}

// SetState restores a state captured by State. Subsequent draws continue
// the captured stream exactly.
func (g *Generator) SetState(s State) error {
	if len(s) == 0 {
		return ErrEmptyState
	}
	if err := g.pcg.UnmarshalBinary(s); err != nil {
		return fmt.Errorf("unmarshal pcg state: %w", err)
	}
	return nil
}
