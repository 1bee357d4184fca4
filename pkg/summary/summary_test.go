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
	"math"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var approx = cmpopts.EquateApprox(0, 1e-12)

func TestMoments_InitialState(t *testing.T) {
	m := NewMoments(3, DefaultPriorPseudoCount)
	assert.Equal(t, 0, m.Count())
	assert.Equal(t, []float64{0, 0, 0}, m.Mean())
	assert.Equal(t, []float64{1, 1, 1}, m.EstimateSD())
}

func TestMoments_FirstUpdateReplacesPrior(t *testing.T) {
	m := NewMoments(2, DefaultPriorPseudoCount)
	m.Update([]float64{3, -2})

	assert.Equal(t, []float64{3, -2}, m.Mean())
	// A single draw carries no spread information.
	assert.Equal(t, []float64{1, 1}, m.EstimateSD())
}

func TestMoments_MeanMatchesArithmeticMean(t *testing.T) {
	draws := [][]float64{{1, 10}, {2, 20}, {3, 30}, {4, 40}, {5, 50}}
	m := NewMoments(2, DefaultPriorPseudoCount)
	for _, d := range draws {
		m.Update(d)
	}
	if diff := cmp.Diff([]float64{3, 30}, m.Mean(), approx); diff != "" {
		t.Errorf("mean mismatch (-want +got):\n%s", diff)
	}
}

func TestMoments_EstimateSDBlendsWithPrior(t *testing.T) {
	draws := []float64{1, 2, 3, 4, 5}
	m := NewMoments(1, DefaultPriorPseudoCount)
	for _, d := range draws {
		m.Update([]float64{d})
	}

	// Sample variance of 1..5 is 2.5; weight is 4/(4+5).
	weight := 4.0 / 9.0
	want := math.Sqrt(weight*2.5 + (1 - weight))
	assert.InDelta(t, want, m.EstimateSD()[0], 1e-12)
}

func TestMoments_ZeroPseudoCountIsEmpirical(t *testing.T) {
	m := NewMoments(1, 0)
	for _, d := range []float64{2, 4, 4, 4, 5, 5, 7, 9} {
		m.Update([]float64{d})
	}
	// Unbiased variance of this sequence is 32/7.
	assert.InDelta(t, math.Sqrt(32.0/7.0), m.EstimateSD()[0], 1e-12)
}

func TestMoments_UpdateWrongLengthPanics(t *testing.T) {
	m := NewMoments(2, DefaultPriorPseudoCount)
	assert.Panics(t, func() { m.Update([]float64{1}) })
}

func TestDirection_FirstUpdateStoredAsIs(t *testing.T) {
	d := NewDirection(DirectionAverage)
	assert.Nil(t, d.Mean())

	d.Update([]float64{1, -1})
	assert.Equal(t, []float64{1, -1}, d.Mean())
	assert.Equal(t, 1, d.Count())
}

func TestDirection_AlignsSign(t *testing.T) {
	d := NewDirection(DirectionAverage)
	d.Update([]float64{1, 0})
	d.Update([]float64{-1, 0})

	// The second vector is flipped before averaging.
	if diff := cmp.Diff([]float64{1, 0}, d.Mean(), approx); diff != "" {
		t.Errorf("direction mismatch (-want +got):\n%s", diff)
	}
}

func TestDirection_OrthogonalTreatedAsPositive(t *testing.T) {
	d := NewDirection(DirectionAverage)
	d.Update([]float64{1, 0})
	d.Update([]float64{0, 1})

	if diff := cmp.Diff([]float64{0.5, 0.5}, d.Mean(), approx); diff != "" {
		t.Errorf("direction mismatch (-want +got):\n%s", diff)
	}
}

func TestDirection_PreviousMode(t *testing.T) {
	d := NewDirection(DirectionPrevious)
	d.Update([]float64{1, 0})
	d.Update([]float64{-3, 2})
	assert.Equal(t, []float64{-3, 2}, d.Mean())
}

func TestDirection_EmptyModeDefaultsToAverage(t *testing.T) {
	d := NewDirection("")
	assert.Equal(t, DirectionAverage, d.mode)
}

func TestCoefSummarizer_ScalesShrunkCoefficients(t *testing.T) {
	c := NewCoefSummarizer(3, 1, DirectionAverage)
	c.Update([]float64{5, 2, -6}, 2, []float64{0.5, 3})

	// Unshrunk coefficient untouched, shrunk ones divided by global·local.
	if diff := cmp.Diff([]float64{5, 2, -1}, c.moments.Mean(), approx); diff != "" {
		t.Errorf("scaled mean mismatch (-want +got):\n%s", diff)
	}

	got := c.ExtrapolateCondMean(4, []float64{1, 0.25})
	if diff := cmp.Diff([]float64{5, 8, -1}, got, approx); diff != "" {
		t.Errorf("extrapolated mean mismatch (-want +got):\n%s", diff)
	}
}

func TestCoefSummarizer_ZeroScaleDoesNotProduceNaN(t *testing.T) {
	c := NewCoefSummarizer(2, 0, DirectionAverage)
	c.Update([]float64{0, 1}, 1, []float64{0, 1})

	for _, v := range c.moments.Mean() {
		assert.False(t, math.IsNaN(v))
	}
}

func TestCoefSummarizer_StateRoundTrip(t *testing.T) {
	c := NewCoefSummarizer(3, 1, DirectionAverage)
	c.Update([]float64{1, 2, 3}, 1, []float64{1, 1})
	c.Update([]float64{2, 3, 4}, 0.5, []float64{2, 1})
	c.UpdateDirection([]float64{1, 0, 0})
	c.UpdateDirection([]float64{-1, 1, 0})

	restored, err := RestoreCoefSummarizer(c.State())
	require.NoError(t, err)
	assert.Equal(t, c.State(), restored.State())

	// Both evolve identically after the restore.
	c.Update([]float64{0, 0, 1}, 1, []float64{1, 1})
	restored.Update([]float64{0, 0, 1}, 1, []float64{1, 1})
	assert.Equal(t, c.EstimateScaledSD(), restored.EstimateScaledSD())
	assert.Equal(t, c.Direction(), restored.Direction())
}

func TestCoefSummarizer_StateIsDeepCopy(t *testing.T) {
	c := NewCoefSummarizer(2, 0, DirectionAverage)
	c.Update([]float64{1, 1}, 1, []float64{1, 1})

	s := c.State()
	s.Mean[0] = 100
	assert.Equal(t, 1.0, c.moments.mean[0])
}

func TestRestoreCoefSummarizer_RejectsMismatch(t *testing.T) {
	tests := []struct {
		name  string
		state State
	}{
		{"square length", State{Mean: []float64{0, 0}, Square: []float64{1}}},
		{"unshrunk too large", State{NUnshrunk: 3, Mean: []float64{0}, Square: []float64{1}}},
		{"direction length", State{Mean: []float64{0}, Square: []float64{1}, Direction: []float64{1, 2}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := RestoreCoefSummarizer(tt.state)
			assert.ErrorIs(t, err, ErrDimensionMismatch)
		})
	}
}
