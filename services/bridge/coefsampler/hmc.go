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

// SampleByHMC draws β with Hamiltonian dynamics targeting the exact
// conditional posterior of a model with no Gaussian representation.
//
// Description:
//
//	Coordinates are preconditioned as β = E⊙ψ, where E is the current
//	shrinkage scale times the running posterior SD estimate. The step size
//	comes from the largest eigenvalue of the preconditioned negative
//	Hessian, found by power iteration seeded with the running curvature
//	direction, and is jittered by a uniform factor in [0.8, 1). MethodHMC
//	integrates a trajectory of length π/2 and applies a Metropolis
//	correction; MethodNUTS builds a No-U-Turn tree.
//
// Inputs:
//
//	coef - The current draw, which starts the trajectory.
//	global, local - Raw shrinkage scales.
//	m - The likelihood.
//	prec - Observation precision, nil when the model has none.
//	rng - Random source.
//
// Outputs:
//
//	[]float64 - The new draw; the current one when the proposal is
//	rejected.
//	Info - Step size, trajectory length and acceptance diagnostics.
func (s *Sampler) SampleByHMC(coef []float64, global float64, local []float64, m model.Model, prec []float64, rng Random) ([]float64, Info) {
	s.checkScales(len(coef), local)
	start := m.Design().MatVecCount()

	t := s.newTarget(global, local, m, prec)
	psi0 := scaleDown(t.e, coef)

	lambdaMax, nHess := s.maxCurvature(t, psi0)
	stepsize := (0.8 + 0.2*rng.Float64()) / math.Sqrt(lambdaMax)

	var (
		psi  []float64
		info Info
	)
	if s.cfg.Method == MethodNUTS {
		psi, info = s.nuts(t, psi0, stepsize, rng)
	} else {
		psi, info = s.hmc(t, psi0, stepsize, rng)
	}

	beta := scaleUp(t.e, psi)
	s.summarizer.Update(beta, global, local)

	info.Stepsize = stepsize
	info.NHessianMatvec = nHess
	info.NGradEvals = t.nGrad
	info.NDesignMatvec = m.Design().MatVecCount() - start
	return beta, info
}

// -----------------------------------------------------------------------------
// Target
// -----------------------------------------------------------------------------

// target is the log conditional posterior in preconditioned coordinates:
// log L(E⊙ψ) - ½·Σ λψ_j·ψ_j².
type target struct {
	m     model.Model
	prec  []float64
	e     []float64
	lam   []float64
	nGrad int
}

func (s *Sampler) newTarget(global float64, local []float64, m model.Model, prec []float64) *target {
	p := s.cfg.NCoef
	sdEst := s.summarizer.EstimateScaledSD()
	slabPrec := 1 / (s.cfg.SlabSize * s.cfg.SlabSize)
	t := &target{m: m, prec: prec, e: make([]float64, p), lam: make([]float64, p)}
	for j := 0; j < p; j++ {
		sd2 := sdEst[j] * sdEst[j]
		if j < s.nUnshrunk {
			t.e[j] = sdEst[j]
			priorSD := s.cfg.UnshrunkSD[j]
			t.lam[j] = sd2 * (1/(priorSD*priorSD) + slabPrec)
			continue
		}
		scale := global * local[j-s.nUnshrunk]
		t.e[j] = scale * sdEst[j]
		t.lam[j] = sd2 * (1 + scale*scale*slabPrec)
	}
	return t
}

func (t *target) logpGrad(psi []float64) (float64, []float64) {
	t.nGrad++
	ll, g := t.m.LogLikGrad(scaleUp(t.e, psi), t.prec)
	grad := make([]float64, len(psi))
	for j := range psi {
		grad[j] = t.e[j]*g[j] - t.lam[j]*psi[j]
		ll -= 0.5 * t.lam[j] * psi[j] * psi[j]
	}
	if math.IsNaN(ll) {
		ll = math.Inf(-1)
	}
	return ll, grad
}

// negHessianVec applies -∇²log π(ψ) to v.
func (t *target) negHessianVec(psi, v []float64) []float64 {
	hv := t.m.HessianVec(scaleUp(t.e, psi), t.prec, scaleUp(t.e, v))
	out := make([]float64, len(v))
	for j := range v {
		out[j] = -t.e[j]*hv[j] + t.lam[j]*v[j]
	}
	return out
}

// maxCurvature estimates the largest eigenvalue of the negative Hessian at
// psi by power iteration and records the eigenvector as the new curvature
// direction.
func (s *Sampler) maxCurvature(t *target, psi []float64) (float64, int) {
	p := len(psi)
	v := s.summarizer.Direction()
	if len(v) != p || floats.Norm(v, 2) == 0 {
		v = make([]float64, p)
		for j := range v {
			v[j] = 1
		}
	}
	floats.Scale(1/floats.Norm(v, 2), v)

	eig := 0.0
	nIter := 0
	for nIter < s.cfg.PowerIter {
		hv := t.negHessianVec(psi, v)
		nIter++
		norm := floats.Norm(hv, 2)
		if norm == 0 || math.IsNaN(norm) {
			break
		}
		next := floats.Dot(v, hv)
		floats.ScaleTo(v, 1/norm, hv)
		if math.Abs(next-eig) <= 1e-3*math.Abs(next) {
			eig = next
			break
		}
		eig = next
	}
	s.summarizer.UpdateDirection(v)

	if !(eig > 0) || math.IsInf(eig, 1) {
		// Fall back to the prior curvature.
		eig = floats.Max(t.lam)
		if !(eig > 0) {
			eig = 1
		}
	}
	return eig, nIter
}

// -----------------------------------------------------------------------------
// Fixed-length HMC
// -----------------------------------------------------------------------------

type point struct {
	q, p, grad []float64
	logp       float64
}

func (pt point) joint() float64 {
	return pt.logp - 0.5*floats.Dot(pt.p, pt.p)
}

func leapfrog(t *target, pt point, eps float64) point {
	p := append([]float64(nil), pt.p...)
	q := append([]float64(nil), pt.q...)
	floats.AddScaled(p, eps/2, pt.grad)
	floats.AddScaled(q, eps, p)
	logp, grad := t.logpGrad(q)
	floats.AddScaled(p, eps/2, grad)
	return point{q: q, p: p, grad: grad, logp: logp}
}

func momentum(n int, rng Random) []float64 {
	p := make([]float64, n)
	rng.NormalInto(p)
	return p
}

func (s *Sampler) hmc(t *target, psi0 []float64, eps float64, rng Random) ([]float64, Info) {
	nSteps := int(math.Ceil(math.Pi / 2 / eps))
	if nSteps > s.cfg.MaxLeapfrog {
		nSteps = s.cfg.MaxLeapfrog
	}
	if nSteps < 1 {
		nSteps = 1
	}

	logp, grad := t.logpGrad(psi0)
	init := point{q: psi0, p: momentum(len(psi0), rng), grad: grad, logp: logp}
	pt := init
	for i := 0; i < nSteps && !math.IsInf(pt.logp, -1); i++ {
		pt = leapfrog(t, pt, eps)
	}

	accept := math.Exp(pt.joint() - init.joint())
	if math.IsNaN(accept) {
		accept = 0
	}
	accept = math.Min(1, accept)
	info := Info{IsSuccess: true, NSteps: nSteps, AcceptProb: accept}
	if rng.Float64() < accept {
		return pt.q, info
	}
	return append([]float64(nil), psi0...), info
}
