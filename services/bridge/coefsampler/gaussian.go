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
	"errors"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/AleutianAI/bayesbridge/services/bridge/design"
)

// SampleGaussianPosterior draws β from the Gaussian conditional
//
//	β | z, Ω, τ, λ ~ N(Φ⁻¹XᵀΩz, Φ⁻¹),  Φ = XᵀΩX + diag(prior precision).
//
// Description:
//
//	In scaled coordinates the precision is DXᵀΩXD + diag(λ̃). MethodDirect
//	factorizes it and adds U⁻¹η to the mean; MethodCG solves it against a
//	right-hand side perturbed so that the solution is an exact draw, warm
//	started from the running posterior mean. When the Cholesky
//	factorization fails the draw falls back to CG.
//
// Inputs:
//
//	z - Gaussian pseudo-outcome, one per observation.
//	x - Design matrix.
//	omega - Diagonal of Ω, one per observation.
//	global, local - Raw shrinkage scales.
//	rng - Random source.
//
// Outputs:
//
//	[]float64 - The coefficient draw.
//	Info - Diagnostics; IsSuccess is false when CG did not converge.
func (s *Sampler) SampleGaussianPosterior(z []float64, x design.Matrix, omega []float64, global float64, local []float64, rng Random) ([]float64, Info) {
	s.checkScales(s.cfg.NCoef, local)
	start := x.MatVecCount()
	d, lam := s.priorScale(global, local)

	wz := make([]float64, len(z))
	floats.MulTo(wz, omega, z)
	b := x.MulVecT(wz)
	floats.Mul(b, d)

	var (
		theta []float64
		info  Info
	)
	if s.cfg.Method == MethodDirect {
		var ok bool
		theta, ok = s.sampleDirect(x, omega, d, lam, b, rng)
		info = Info{IsSuccess: ok}
		if !ok {
			theta, info = s.sampleCG(x, omega, d, lam, b, global, local, rng)
		}
	} else {
		theta, info = s.sampleCG(x, omega, d, lam, b, global, local, rng)
	}

	beta := scaleUp(d, theta)
	s.summarizer.Update(beta, global, local)
	info.NDesignMatvec = x.MatVecCount() - start
	return beta, info
}

func (s *Sampler) sampleDirect(x design.Matrix, omega, d, lam, b []float64, rng Random) ([]float64, bool) {
	p := len(d)
	gram := x.WeightedGram(omega)
	phi := mat.NewSymDense(p, nil)
	for i := 0; i < p; i++ {
		for j := i; j < p; j++ {
			v := d[i] * gram.At(i, j) * d[j]
			if i == j {
				v += lam[i]
			}
			phi.SetSym(i, j, v)
		}
	}

	var chol mat.Cholesky
	if !chol.Factorize(phi) {
		return nil, false
	}
	mean := mat.NewVecDense(p, nil)
	if err := chol.SolveVecTo(mean, mat.NewVecDense(p, b)); !acceptable(err) {
		return nil, false
	}

	var u mat.TriDense
	chol.UTo(&u)
	eta := make([]float64, p)
	rng.NormalInto(eta)
	noise := mat.NewVecDense(p, nil)
	if err := noise.SolveVec(&u, mat.NewVecDense(p, eta)); !acceptable(err) {
		return nil, false
	}
	mean.AddVec(mean, noise)
	return mean.RawVector().Data, true
}

// acceptable treats an ill-conditioning warning as success.
func acceptable(err error) bool {
	if err == nil {
		return true
	}
	var c mat.Condition
	return errors.As(err, &c) && !math.IsInf(float64(c), 1)
}

func (s *Sampler) sampleCG(x design.Matrix, omega, d, lam, b []float64, global float64, local []float64, rng Random) ([]float64, Info) {
	n := len(omega)
	p := len(d)

	// Perturbed right-hand side: b + D·Xᵀ·Ω^{1/2}·η₁ + λ^{1/2}·η₂.
	eta := make([]float64, n)
	for i := range eta {
		eta[i] = math.Sqrt(omega[i]) * rng.NormFloat64()
	}
	perturb := x.MulVecT(eta)
	rhs := make([]float64, p)
	for j := range rhs {
		rhs[j] = b[j] + d[j]*perturb[j] + math.Sqrt(lam[j])*rng.NormFloat64()
	}

	apply := func(v []float64) []float64 {
		out := x.MulVecT(mulElem(omega, x.MulVec(scaleUp(d, v))))
		for j := range out {
			out[j] = d[j]*out[j] + lam[j]*v[j]
		}
		return out
	}

	colNorm := x.ColumnSquaredNorms(omega)
	precond := make([]float64, p)
	for j := range precond {
		precond[j] = d[j]*d[j]*colNorm[j] + lam[j]
		if precond[j] <= 0 {
			precond[j] = 1
		}
	}

	var x0 []float64
	if s.summarizer.Count() > 0 {
		x0 = scaleDown(d, s.summarizer.ExtrapolateCondMean(global, local))
	}
	res := conjugateGradient(apply, rhs, x0, precond, s.cfg.CGTolerance, s.cfg.CGMaxIter)
	return res.x, Info{IsSuccess: res.converged, NIter: res.iter}
}

func mulElem(a, b []float64) []float64 {
	out := make([]float64, len(a))
	floats.MulTo(out, a, b)
	return out
}

type cgResult struct {
	x         []float64
	iter      int
	converged bool
}

// conjugateGradient solves A·x = b for symmetric positive definite A given
// as an operator, with a Jacobi preconditioner. A nil x0 starts at zero.
func conjugateGradient(apply func([]float64) []float64, b, x0, precond []float64, tol float64, maxIter int) cgResult {
	p := len(b)
	x := make([]float64, p)
	r := append([]float64(nil), b...)
	if x0 != nil {
		copy(x, x0)
		ax := apply(x)
		floats.Sub(r, ax)
	}
	bNorm := floats.Norm(b, 2)
	if bNorm == 0 {
		return cgResult{x: make([]float64, p), converged: true}
	}

	z := make([]float64, p)
	floats.DivTo(z, r, precond)
	dir := append([]float64(nil), z...)
	rz := floats.Dot(r, z)

	for it := 0; it < maxIter; it++ {
		if floats.Norm(r, 2) <= tol*bNorm {
			return cgResult{x: x, iter: it, converged: true}
		}
		ad := apply(dir)
		curv := floats.Dot(dir, ad)
		if curv <= 0 || math.IsNaN(curv) {
			return cgResult{x: x, iter: it}
		}
		step := rz / curv
		floats.AddScaled(x, step, dir)
		floats.AddScaled(r, -step, ad)

		floats.DivTo(z, r, precond)
		rzNext := floats.Dot(r, z)
		floats.AddScaledTo(dir, z, rzNext/rz, dir)
		rz = rzNext
	}
	return cgResult{x: x, iter: maxIter, converged: floats.Norm(r, 2) <= tol*bNorm}
}
