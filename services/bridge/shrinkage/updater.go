// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package shrinkage

import (
	"math"
)

// LocalScaleFloor replaces local scales that underflow to zero.
const LocalScaleFloor = 1e-15

// emptyGlobalScale is returned when there is nothing to shrink.
const emptyGlobalScale = 1.0

// Random supplies the variates the updater needs.
//
// *randgen.Generator satisfies it.
type Random interface {
	// Gamma draws from Gamma(shape, rate).
	Gamma(shape, rate float64) float64

	// TiltedStable draws one exponentially tilted stable variate per
	// entry of lam.
	TiltedStable(alpha float64, lam []float64) []float64
}

// Hyperprior is the gamma prior on φ = τ^(-α).
//
// Shape = Rate = 0 gives the improper reference prior.
type Hyperprior struct {
	Shape float64 `json:"shape" yaml:"shape" validate:"gte=0"`
	Rate  float64 `json:"rate" yaml:"rate" validate:"gte=0"`
}

// Updater performs the conditional updates of the shrinkage parameters.
//
// Thread Safety: Not safe for concurrent use; it shares the caller's
// random source.
type Updater struct {
	rng              Random
	hyper            Hyperprior
	lowerBdMagnitude float64
}

// NewUpdater creates an updater drawing from rng.
func NewUpdater(rng Random, hyper Hyperprior) *Updater {
	return &Updater{
		rng:              rng,
		hyper:            hyper,
		lowerBdMagnitude: DefaultCoefMagnitudeLowerBound,
	}
}

// WithCoefMagnitudeLowerBound overrides the expected-magnitude floor used
// to derive the global scale lower bound.
func (u *Updater) WithCoefMagnitudeLowerBound(m float64) *Updater {
	u.lowerBdMagnitude = m
	return u
}

// Hyperprior returns the gamma prior on φ.
func (u *Updater) Hyperprior() Hyperprior { return u.hyper }

// UpdateGlobal returns the new raw global scale given the shrunk
// coefficients.
//
// Description:
//
//	With no shrunk coefficients a placeholder of 1 is returned. ModeOptimize
//	uses the closed-form likelihood maximizer
//	(α·Σ|β|^α / n)^(-1/α). ModeSample draws φ ~ Gamma(shape + n/α,
//	rate + Σ|β|^α) and returns φ^(-1/α), except that all-zero coefficients
//	give 0 without drawing. ModeNone returns current untouched.
//
//	Outside ModeNone the result is floored at GlobalScaleLowerBound and a
//	GlobalScaleBelowBound event is reported when the floor applies. This
//	includes the degenerate all-zero draw; set the magnitude bound to zero
//	with WithCoefMagnitudeLowerBound to keep it at exactly 0.
//
// Inputs:
//
//	current - The current global scale, used only by ModeNone.
//	shrunk - Shrunk coefficients.
//	alpha - Bridge exponent in (0, 2).
//	mode - Update mode.
//
// Outputs:
//
//	float64 - The new global scale.
//	[]Event - Recoverable events, nil when none occurred.
func (u *Updater) UpdateGlobal(current float64, shrunk []float64, alpha float64, mode Mode) (float64, []Event) {
	if len(shrunk) == 0 {
		return emptyGlobalScale, nil
	}

	var gscale float64
	switch mode {
	case ModeOptimize:
		gscale = OptimizeGlobal(shrunk, alpha)
	case ModeSample:
		gscale = u.SampleGlobal(shrunk, alpha)
	default:
		return current, nil
	}

	lowerBd := GlobalScaleLowerBound(alpha, u.lowerBdMagnitude)
	if gscale < lowerBd {
		return lowerBd, []Event{{Kind: GlobalScaleBelowBound, Count: 1, Value: lowerBd}}
	}
	return gscale, nil
}

// OptimizeGlobal maximizes the likelihood of the shrunk coefficients given
// the global scale.
func OptimizeGlobal(shrunk []float64, alpha float64) float64 {
	phi := float64(len(shrunk)) / alpha / powerSum(shrunk, alpha)
	return math.Pow(phi, -1/alpha)
}

// SampleGlobal draws the global scale from its conditional posterior
// without applying the lower bound. All-zero coefficients make the
// posterior degenerate at zero, so 0 is returned without a gamma draw.
func (u *Updater) SampleGlobal(shrunk []float64, alpha float64) float64 {
	if allZero(shrunk) {
		return 0
	}
	shape := u.hyper.Shape + float64(len(shrunk))/alpha
	rate := u.hyper.Rate + powerSum(shrunk, alpha)
	if rate <= 0 {
		// Σ|β|^α underflowed; the posterior of φ is as degenerate as for
		// exact zeros.
		return 0
	}
	phi := u.rng.Gamma(shape, rate)
	return math.Pow(phi, -1/alpha)
}

// UpdateLocal draws new raw local scales given the global scale.
//
// Description:
//
//	Each λ_j = sqrt(0.5 / T_j) with T_j an exponentially tilted stable
//	variate of index α/2 and tilt (β_j/τ)². A zero coefficient has zero
//	tilt regardless of τ, and τ = 0 gives zero tilt for every coefficient.
//	A tilt that overflows is capped at the largest float64. Zeros are
//	replaced by LocalScaleFloor and infinities by 2/τ, each reported as an
//	event.
//
// Inputs:
//
//	global - Raw global scale.
//	shrunk - Shrunk coefficients.
//	alpha - Bridge exponent in (0, 2).
//
// Outputs:
//
//	[]float64 - New local scales, one per shrunk coefficient.
//	[]Event - Recoverable events, nil when none occurred.
func (u *Updater) UpdateLocal(global float64, shrunk []float64, alpha float64) ([]float64, []Event) {
	if len(shrunk) == 0 {
		return []float64{}, nil
	}
	lam := make([]float64, len(shrunk))
	for i, b := range shrunk {
		if b == 0 || global == 0 {
			continue
		}
		r := b / global
		lam[i] = min(r*r, math.MaxFloat64)
	}
	draws := u.rng.TiltedStable(alpha/2, lam)

	local := make([]float64, len(shrunk))
	for i, t := range draws {
		local[i] = math.Sqrt(0.5 / t)
	}
	return local, ClampLocal(local, global)
}

// ClampLocal replaces zero and infinite local scales in place and reports
// what it replaced.
func ClampLocal(local []float64, global float64) []Event {
	var events []Event
	var under, over int
	ceiling := math.MaxFloat64
	if global > 0 {
		ceiling = min(2/global, math.MaxFloat64)
	}
	for i, l := range local {
		switch {
		case l == 0:
			local[i] = LocalScaleFloor
			under++
		case math.IsInf(l, 1):
			local[i] = ceiling
			over++
		}
	}
	if under > 0 {
		events = append(events, Event{Kind: LocalScaleUnderflow, Count: under, Value: LocalScaleFloor})
	}
	if over > 0 {
		events = append(events, Event{Kind: LocalScaleOverflow, Count: over, Value: ceiling})
	}
	return events
}

func powerSum(x []float64, alpha float64) float64 {
	s := 0.0
	for _, v := range x {
		s += math.Pow(math.Abs(v), alpha)
	}
	return s
}

func allZero(x []float64) bool {
	for _, v := range x {
		if v != 0 {
			return false
		}
	}
	return true
}
