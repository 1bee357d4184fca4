// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package shrinkage updates the global and local scale parameters of the
// Bayesian bridge prior.
//
// The prior on a shrunk coefficient β_j is a scale mixture of normals whose
// mixing distribution is governed by a global scale τ and a local scale λ_j.
// Conditional on the coefficients, τ has a conjugate gamma update on
// φ = τ^(-α) and each λ_j is drawn through an exponentially tilted stable
// variate.
//
// Every operation in this package works in the raw parametrization, in which
// the scales multiply a unit bridge variate. Convert translates to and from
// the regression-coefficient parametrization, in which the global scale is
// the expected coefficient magnitude.
//
// Numerical corner cases never abort: clamped values are returned together
// with Events the caller can log and count.
package shrinkage

import (
	"errors"
	"fmt"
	"math"
)

// Mode selects how the global scale is updated.
type Mode string

const (
	// ModeSample draws the global scale from its conditional posterior.
	ModeSample Mode = "sample"

	// ModeOptimize sets the global scale to the maximizer of the
	// coefficient likelihood.
	ModeOptimize Mode = "optimize"

	// ModeNone leaves the global scale unchanged.
	ModeNone Mode = "none"
)

// Parametrization names the units in which scale parameters are expressed.
type Parametrization string

const (
	// Raw scales multiply a unit bridge-distributed latent variable.
	Raw Parametrization = "raw"

	// RegressCoef scales are expressed in regression-coefficient units.
	RegressCoef Parametrization = "regress_coef"
)

// ErrUnknownParametrization is returned by Convert for an unsupported target.
var ErrUnknownParametrization = errors.New("shrinkage: unknown parametrization")

// DefaultCoefMagnitudeLowerBound is the smallest expected coefficient
// magnitude the global scale may imply before it is floored.
const DefaultCoefMagnitudeLowerBound = 0.001

// UnitBridgeMagnitude returns E|X| for X with density proportional to
// exp(-|x|^alpha), that is Γ(2/α)/Γ(1/α).
//
// It is the factor between the two parametrizations.
func UnitBridgeMagnitude(alpha float64) float64 {
	a, _ := math.Lgamma(2 / alpha)
	b, _ := math.Lgamma(1 / alpha)
	return math.Exp(a - b)
}

// Convert rescales (global, local) into the target parametrization and
// returns the factor used. The input slice is not modified.
//
// Converting to RegressCoef multiplies the global scale by the factor and
// divides the local scales by it; converting to Raw is the exact inverse.
func Convert(global float64, local []float64, alpha float64, to Parametrization) (float64, []float64, float64, error) {
	factor := UnitBridgeMagnitude(alpha)
	out := make([]float64, len(local))
	switch to {
	case Raw:
		for i, l := range local {
			out[i] = l * factor
		}
		return global / factor, out, factor, nil
	case RegressCoef:
		for i, l := range local {
			out[i] = l / factor
		}
		return global * factor, out, factor, nil
	default:
		return 0, nil, 0, fmt.Errorf("%w: %q", ErrUnknownParametrization, to)
	}
}

// GlobalScaleLowerBound returns the raw global scale at which the expected
// magnitude of a shrunk coefficient equals magnitude.
func GlobalScaleLowerBound(alpha, magnitude float64) float64 {
	return magnitude / UnitBridgeMagnitude(alpha)
}
