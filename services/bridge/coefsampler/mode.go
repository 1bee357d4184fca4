// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package coefsampler

import (
	"math"

	"gonum.org/v1/gonum/floats"

	"github.com/AleutianAI/bayesbridge/services/bridge/model"
)

const (
	modeMaxIter      = 50
	modeMaxBacktrack = 30
	modeGradTol      = 1e-6
	modeArmijo       = 1e-4
)

// SearchMode finds the mode of the conditional posterior of β given the
// shrinkage scales, treating the bridge prior as Gaussian with the current
// scales.
//
// Description:
//
//	Runs Newton-CG with backtracking line search in the scaled coordinates
//	θ = β/D, where the objective is log L(Dθ) - ½·Σ λ_j·θ_j². Newton
//	directions are solved inexactly with conjugate gradient using
//	Hessian-vector products. The running summary is not updated.
//
// Inputs:
//
//	coef - Starting point.
//	local, global - Raw shrinkage scales.
//	prec - Observation precision, nil when the model has none.
//	m - The likelihood.
//
// Outputs:
//
//	[]float64 - The mode estimate.
//	Info - IsSuccess reports convergence; NIter counts Newton steps.
func (s *Sampler) SearchMode(coef, local []float64, global float64, prec []float64, m model.Model) ([]float64, Info) {
	s.checkScales(len(coef), local)
	start := m.Design().MatVecCount()
	d, lam := s.priorScale(global, local)

	objective := func(theta []float64) (float64, []float64) {
		ll, g := m.LogLikGrad(scaleUp(d, theta), prec)
		grad := make([]float64, len(theta))
		for j := range theta {
			grad[j] = d[j]*g[j] - lam[j]*theta[j]
			ll -= 0.5 * lam[j] * theta[j] * theta[j]
		}
		return ll, grad
	}

	theta := scaleDown(d, coef)
	f, grad := objective(theta)
	info := Info{}
	ones := make([]float64, len(theta))
	for j := range ones {
		ones[j] = 1
	}

	for info.NIter < modeMaxIter {
		gNorm := floats.Norm(grad, math.Inf(1))
		if gNorm <= modeGradTol*math.Max(1, math.Abs(f)) {
			info.IsSuccess = true
			break
		}
		info.NIter++

		at := theta
		negHess := func(v []float64) []float64 {
			info.NHessianMatvec++
			hv := m.HessianVec(scaleUp(d, at), prec, scaleUp(d, v))
			out := make([]float64, len(v))
			for j := range v {
				out[j] = -d[j]*hv[j] + lam[j]*v[j]
			}
			return out
		}
		tol := math.Min(0.5, math.Sqrt(floats.Norm(grad, 2)))
		step := conjugateGradient(negHess, grad, nil, ones, tol, len(theta)+10).x
		slope := floats.Dot(grad, step)
		if !(slope > 0) {
			step = append([]float64(nil), grad...)
			slope = floats.Dot(grad, grad)
		}

		next := make([]float64, len(theta))
		accepted := false
		for t, k := 1.0, 0; k < modeMaxBacktrack; t, k = t/2, k+1 {
			floats.AddScaledTo(next, theta, t, step)
			fNext, gNext := objective(next)
			if fNext >= f+modeArmijo*t*slope {
				if fNext-f <= 1e-12*math.Max(1, math.Abs(f)) {
					info.IsSuccess = true
				}
				theta, f, grad = next, fNext, gNext
				accepted = true
				break
			}
		}
		if !accepted || info.IsSuccess {
			break
		}
	}

	info.NDesignMatvec = m.Design().MatVecCount() - start
	return scaleUp(d, theta), info
}
