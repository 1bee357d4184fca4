// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package summary

import (
	"fmt"
)

// CoefSummarizer summarizes regression coefficients on the scale of their
// prior: shrunk coefficients are divided by global·local before being
// averaged, so the summary stays comparable as the scales move.
//
// The coefficient sampler uses it to warm-start solvers
// (ExtrapolateCondMean), to precondition (EstimateScaledSD) and to seed
// eigenvector searches (Direction).
type CoefSummarizer struct {
	nUnshrunk int
	moments   *Moments
	direction *Direction
}

// NewCoefSummarizer creates a summarizer for nCoef coefficients of which the
// first nUnshrunk are not shrunk.
func NewCoefSummarizer(nCoef, nUnshrunk int, mode DirectionMode) *CoefSummarizer {
	return &CoefSummarizer{
		nUnshrunk: nUnshrunk,
		moments:   NewMoments(nCoef, DefaultPriorPseudoCount),
		direction: NewDirection(mode),
	}
}

// Update records a new coefficient draw.
func (c *CoefSummarizer) Update(coef []float64, global float64, local []float64) {
	c.moments.Update(c.scale(coef, global, local))
}

// UpdateDirection records a new preconditioning direction.
func (c *CoefSummarizer) UpdateDirection(v []float64) {
	c.direction.Update(v)
}

// ExtrapolateCondMean maps the running mean of scaled coefficients back to
// coefficient units under the given scales.
func (c *CoefSummarizer) ExtrapolateCondMean(global float64, local []float64) []float64 {
	mean := c.moments.Mean()
	for i, l := range local {
		mean[c.nUnshrunk+i] *= global * l
	}
	return mean
}

// EstimateScaledSD returns the posterior SD estimate of the scaled
// coefficients.
func (c *CoefSummarizer) EstimateScaledSD() []float64 {
	return c.moments.EstimateSD()
}

// Direction returns the running preconditioning direction, or nil.
func (c *CoefSummarizer) Direction() []float64 {
	return c.direction.Mean()
}

// Count returns the number of coefficient draws recorded.
func (c *CoefSummarizer) Count() int {
	return c.moments.Count()
}

func (c *CoefSummarizer) scale(coef []float64, global float64, local []float64) []float64 {
	if len(coef)-c.nUnshrunk != len(local) {
		panic(fmt.Sprintf("summary: %d coefficients with %d unshrunk but %d local scales",
			len(coef), c.nUnshrunk, len(local)))
	}
	scaled := append([]float64(nil), coef...)
	for i, l := range local {
		// A zero scale pins the coefficient at zero; leave it at zero
		// instead of producing NaN.
		if s := global * l; s != 0 {
			scaled[c.nUnshrunk+i] /= s
		} else {
			scaled[c.nUnshrunk+i] = 0
		}
	}
	return scaled
}

// -----------------------------------------------------------------------------
// Checkpointing
// -----------------------------------------------------------------------------

// State is the exportable state of a CoefSummarizer.
type State struct {
	NUnshrunk        int           `json:"n_unshrunk"`
	Mean             []float64     `json:"mean"`
	Square           []float64     `json:"square"`
	NAveraged        int           `json:"n_averaged"`
	PriorPseudoCount float64       `json:"prior_pseudo_count"`
	DirectionMode    DirectionMode `json:"direction_mode"`
	Direction        []float64     `json:"direction,omitempty"`
	NDirection       int           `json:"n_direction"`
}

// State exports a deep copy of the summarizer state.
func (c *CoefSummarizer) State() State {
	return State{
		NUnshrunk:        c.nUnshrunk,
		Mean:             append([]float64(nil), c.moments.mean...),
		Square:           append([]float64(nil), c.moments.square...),
		NAveraged:        c.moments.n,
		PriorPseudoCount: c.moments.priorPseudoCount,
		DirectionMode:    c.direction.mode,
		Direction:        c.direction.Mean(),
		NDirection:       c.direction.n,
	}
}

// RestoreCoefSummarizer rebuilds a summarizer from an exported State.
func RestoreCoefSummarizer(s State) (*CoefSummarizer, error) {
	if len(s.Mean) != len(s.Square) {
		return nil, fmt.Errorf("%w: mean has %d entries, square has %d",
			ErrDimensionMismatch, len(s.Mean), len(s.Square))
	}
	if s.NUnshrunk < 0 || s.NUnshrunk > len(s.Mean) {
		return nil, fmt.Errorf("%w: %d unshrunk of %d", ErrDimensionMismatch, s.NUnshrunk, len(s.Mean))
	}
	if s.Direction != nil && len(s.Direction) != len(s.Mean) {
		return nil, fmt.Errorf("%w: direction has %d entries, want %d",
			ErrDimensionMismatch, len(s.Direction), len(s.Mean))
	}
	d := NewDirection(s.DirectionMode)
	d.v = append([]float64(nil), s.Direction...)
	if s.Direction == nil {
		d.v = nil
	}
	d.n = s.NDirection
	return &CoefSummarizer{
		nUnshrunk: s.NUnshrunk,
		moments: &Moments{
			mean:             append([]float64(nil), s.Mean...),
			square:           append([]float64(nil), s.Square...),
			n:                s.NAveraged,
			priorPseudoCount: s.PriorPseudoCount,
		},
		direction: d,
	}, nil
}
