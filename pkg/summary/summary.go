// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package summary maintains single-pass posterior summaries of a Markov
// chain: running moments of a vector and a running consensus direction.
//
// Both estimators use incremental weighted averaging with weight 1/(n+1) at
// the n-th update instead of running sums, so they tolerate an unbounded
// number of updates without overflow. They are pure state machines; their
// State can be exported and restored when a caller wants to checkpoint them.
package summary

import (
	"errors"
	"fmt"
	"math"
)

// DefaultPriorPseudoCount is how many draws the all-ones prior guess of the
// standard deviation is worth.
const DefaultPriorPseudoCount = 5

// ErrDimensionMismatch indicates a vector of the wrong length.
var ErrDimensionMismatch = errors.New("summary: dimension mismatch")

// -----------------------------------------------------------------------------
// Moments
// -----------------------------------------------------------------------------

// Moments tracks the running mean and second moment of a vector sequence.
//
// Thread Safety: Not safe for concurrent use.
type Moments struct {
	mean             []float64
	square           []float64
	n                int
	priorPseudoCount float64
}

// NewMoments creates an accumulator for vectors of length dim. The second
// moment starts at one so that the prior guess is a unit standard deviation.
func NewMoments(dim int, priorPseudoCount float64) *Moments {
	square := make([]float64, dim)
	for i := range square {
		square[i] = 1
	}
	return &Moments{
		mean:             make([]float64, dim),
		square:           square,
		priorPseudoCount: priorPseudoCount,
	}
}

// Update folds x into the running mean and second moment.
func (m *Moments) Update(x []float64) {
	if len(x) != len(m.mean) {
		panic(fmt.Sprintf("summary: update with length %d, want %d", len(x), len(m.mean)))
	}
	w := 1 / float64(m.n+1)
	for i, v := range x {
		m.mean[i] = w*v + (1-w)*m.mean[i]
		m.square[i] = w*v*v + (1-w)*m.square[i]
	}
	m.n++
}

// Count returns the number of updates so far.
func (m *Moments) Count() int { return m.n }

// Mean returns a copy of the running mean.
func (m *Moments) Mean() []float64 {
	return append([]float64(nil), m.mean...)
}

// EstimateSD returns a standard deviation estimate shrunk toward one.
//
// After more than one update the empirical variance n/(n-1)·(E[X²]-E[X]²)
// is blended with the unit prior guess using weight
// (n-1)/(n-1+priorPseudoCount). Before that the prior guess is returned.
func (m *Moments) EstimateSD() []float64 {
	sd := make([]float64, len(m.mean))
	if m.n <= 1 {
		for i := range sd {
			sd[i] = 1
		}
		return sd
	}
	n := float64(m.n)
	weight := (n - 1) / (n - 1 + m.priorPseudoCount)
	for i := range sd {
		variance := n / (n - 1) * (m.square[i] - m.mean[i]*m.mean[i])
		sd[i] = math.Sqrt(weight*variance + (1 - weight))
	}
	return sd
}

// -----------------------------------------------------------------------------
// Direction
// -----------------------------------------------------------------------------

// DirectionMode selects how Direction combines successive vectors.
type DirectionMode string

const (
	// DirectionAverage sign-aligns each new vector with the running one and
	// averages it in.
	DirectionAverage DirectionMode = "average"

	// DirectionPrevious keeps only the most recent vector.
	DirectionPrevious DirectionMode = "previous"
)

// Direction tracks a consensus direction from a sequence of vectors whose
// sign is arbitrary, such as eigenvectors.
//
// Thread Safety: Not safe for concurrent use.
type Direction struct {
	mode DirectionMode
	v    []float64
	n    int
}

// NewDirection creates an empty direction accumulator.
func NewDirection(mode DirectionMode) *Direction {
	if mode == "" {
		mode = DirectionAverage
	}
	return &Direction{mode: mode}
}

// Update folds v into the running direction. The first vector is stored
// as-is. Later vectors are flipped to agree in sign with the running
// direction before averaging, unless the mode is DirectionPrevious.
func (d *Direction) Update(v []float64) {
	if d.n == 0 || d.mode == DirectionPrevious {
		d.v = append(d.v[:0], v...)
		d.n++
		return
	}
	if len(v) != len(d.v) {
		panic(fmt.Sprintf("summary: direction update with length %d, want %d", len(v), len(d.v)))
	}
	sign := 1.0
	if dot(d.v, v) < 0 {
		sign = -1
	}
	w := 1 / float64(d.n+1)
	for i := range d.v {
		d.v[i] = w*sign*v[i] + (1-w)*d.v[i]
	}
	d.n++
}

// Mean returns a copy of the running direction, or nil before any update.
func (d *Direction) Mean() []float64 {
	if d.v == nil {
		return nil
	}
	return append([]float64(nil), d.v...)
}

// Count returns the number of updates so far.
func (d *Direction) Count() int { return d.n }

func dot(a, b []float64) float64 {
	s := 0.0
	for i := range a {
		s += a[i] * b[i]
	}
	return s
}
