// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package tiltedstable draws from the exponentially tilted positive stable
// distribution.
//
// The target law has characteristic exponent alpha in (0, 1), skewness 1,
// scale cos(alpha·pi/2)^(1/alpha) and location 0, with its density p(x)
// reweighted by exp(-lam·x). Its Laplace transform is
//
//	E[exp(-s·X)] = exp(lam^alpha - (lam + s)^alpha)
//
// There is no closed-form inverse CDF, so Sampler implements Devroye's
// double-rejection algorithm. Each draw cycles through three stages
// (auxiliary variable, reference variable, final acceptance) until
// accepted. Hofert's sum-of-stable-draws algorithm is exact but slows down
// as lam^alpha grows; Sample falls back to it for small tilts.
//
// # Thread Safety
//
// A Sampler is not safe for concurrent use because its Source is not.
package tiltedstable

import (
	"fmt"
	"math"
)

// Source supplies the uniform and standard normal variates the sampler
// consumes. *rand.Rand from math/rand/v2 satisfies it.
type Source interface {
	// Float64 returns a uniform variate in [0, 1).
	Float64() float64

	// NormFloat64 returns a standard normal variate.
	NormFloat64() float64
}

// Stage identifies a step of the double-rejection loop.
type Stage int

const (
	// StageSampleAux draws the auxiliary angle U and the uniform Z.
	StageSampleAux Stage = iota

	// StageSampleReference draws X from the three-piece reference law given U.
	StageSampleReference

	// StageAccept compares the log acceptance probability against log Z.
	StageAccept
)

// String returns the stage name.
func (s Stage) String() string {
	switch s {
	case StageSampleAux:
		return "sample_aux"
	case StageSampleReference:
		return "sample_reference"
	case StageAccept:
		return "accept"
	default:
		return fmt.Sprintf("stage(%d)", int(s))
	}
}

// Thresholds on lam^alpha that select the sampling method in Sample.
const (
	SmallTiltPower = 0.1
	LargeTiltPower = 1e24
)

const (
	sqrtPi = 1.7724538509055160273
	c1     = 1.2533141373155002512 // sqrt(pi/2)
	c2     = 2 + c1
)

// Sampler draws exponentially tilted stable variates.
type Sampler struct {
	src Source
}

// New creates a Sampler drawing its randomness from src.
func New(src Source) *Sampler {
	return &Sampler{src: src}
}

// params holds the quantities that depend only on (alpha, lam).
type params struct {
	alpha     float64
	lam       float64
	b         float64
	lamAlpha  float64
	gamma     float64
	sqrtGamma float64
	xi        float64
	psi       float64
}

func newParams(alpha, lam float64) params {
	lamAlpha := math.Pow(lam, alpha)
	gamma := lamAlpha * alpha * (1 - alpha)
	sqrtGamma := math.Sqrt(gamma)
	c3 := c2 * sqrtGamma
	return params{
		alpha:     alpha,
		lam:       lam,
		b:         (1 - alpha) / alpha,
		lamAlpha:  lamAlpha,
		gamma:     gamma,
		sqrtGamma: sqrtGamma,
		xi:        (1 + math.Sqrt2*c3) / math.Pi,
		psi:       c3 * math.Exp(-gamma*math.Pi*math.Pi/8) / sqrtPi,
	}
}

// auxDraw is the output of StageSampleAux.
type auxDraw struct {
	U float64 // auxiliary angle in [0, pi)
	Z float64 // uniform, independent of U and X
	z float64 // carried into the reference stage
}

// referenceDraw is the output of StageSampleReference.
type referenceDraw struct {
	X     float64
	N     float64 // normal used for the left piece, else 0
	E     float64 // exponential used for the right piece, else 0
	a     float64 // Zolotarev function at U
	m     float64 // mode of the reference law
	delta float64 // width of the uniform middle piece
}

// Sample draws one variate with shape alpha in (0, 1) and tilt lam >= 0.
//
// The method depends on lam^alpha. Below SmallTiltPower Hofert's algorithm
// needs a single piece accepted with probability exp(-lam^alpha) and is
// used instead of double rejection. Above LargeTiltPower the law is normal
// to within a relative SD of about lam^(-alpha/2), and the double-rejection
// envelope no longer resolves in float64, so the normal limit is drawn.
//
// Panics if alpha or lam is out of range, matching the convention of
// gonum's distuv package for invalid parameters.
func (s *Sampler) Sample(alpha, lam float64) float64 {
	checkParams(alpha, lam)
	if lam == 0 {
		// No tilting: Kanter's representation is exact.
		return s.sampleNonTilted(alpha)
	}

	p := newParams(alpha, lam)
	switch {
	case p.lamAlpha < SmallTiltPower:
		return s.SampleHofert(alpha, lam)
	case p.lamAlpha > LargeTiltPower:
		return s.sampleNormalLimit(alpha, lam)
	}
	var (
		aux auxDraw
		ref referenceDraw
	)
	stage := StageSampleAux
	for {
		switch stage {
		case StageSampleAux:
			aux = s.sampleAux(p)
			stage = StageSampleReference
		case StageSampleReference:
			ref = s.sampleReference(p, aux)
			stage = StageAccept
		case StageAccept:
			if logAcceptProb(p, ref) > math.Log(aux.Z) {
				return math.Pow(ref.X, -p.b)
			}
			stage = StageSampleAux
		}
	}
}

// sampleNormalLimit draws from the normal with the mean α·lam^(α-1) and
// variance α(1-α)·lam^(α-2) of the tilted law.
func (s *Sampler) sampleNormalLimit(alpha, lam float64) float64 {
	logLam := math.Log(lam)
	mean := alpha * math.Exp((alpha-1)*logLam)
	sd := math.Sqrt(alpha*(1-alpha)) * math.Exp((alpha-2)/2*logLam)
	if x := mean + sd*s.src.NormFloat64(); x > 0 {
		return x
	}
	return mean
}

// SampleInto fills out[i] with a draw for tilt lam[i]. out and lam must
// have the same length.
func (s *Sampler) SampleInto(out []float64, alpha float64, lam []float64) {
	if len(out) != len(lam) {
		panic("tiltedstable: length mismatch")
	}
	for i, l := range lam {
		out[i] = s.Sample(alpha, l)
	}
}

func checkParams(alpha, lam float64) {
	if !(alpha > 0 && alpha < 1) {
		panic(fmt.Sprintf("tiltedstable: alpha %v outside (0, 1)", alpha))
	}
	if !(lam >= 0) || math.IsInf(lam, 1) {
		panic(fmt.Sprintf("tiltedstable: invalid tilt %v", lam))
	}
}

// sampleAux runs the inner rejection loop for the auxiliary angle U.
func (s *Sampler) sampleAux(p params) auxDraw {
	for {
		U := s.sampleAuxProposal(p)
		if U >= math.Pi {
			// Outside the support of U; the Zolotarev terms are undefined here.
			continue
		}
		zeta := math.Sqrt(zolotarevPDFExponentiated(U, p.alpha))
		z := 1 / (1 - math.Pow(1+p.alpha*zeta/p.sqrtGamma, -1/p.alpha))
		acceptProb := auxAcceptProb(p, U, zeta, z)
		if acceptProb == 0 || math.IsNaN(acceptProb) {
			continue
		}
		Z := s.src.Float64() / acceptProb
		if Z <= 1 {
			return auxDraw{U: U, Z: Z, z: z}
		}
	}
}

// sampleAuxProposal draws U from the two-branch dominating mixture whose
// shape depends on whether gamma >= 1.
func (s *Sampler) sampleAuxProposal(p params) float64 {
	w1 := c1 * p.xi / p.sqrtGamma
	w2 := 2 * sqrtPi * p.psi
	w3 := p.xi * math.Pi
	V := s.src.Float64()
	if p.gamma >= 1 {
		if V < w1/(w1+w2) {
			return math.Abs(s.src.NormFloat64()) / p.sqrtGamma
		}
		W := s.src.Float64()
		return math.Pi * (1 - W*W)
	}
	W := s.src.Float64()
	if V < w3/(w2+w3) {
		return math.Pi * W
	}
	return math.Pi * (1 - W*W)
}

// auxAcceptProb is the acceptance probability of a proposed U.
func auxAcceptProb(p params, U, zeta, z float64) float64 {
	inverse := math.Pi * math.Exp(-p.lamAlpha*(1-1/(zeta*zeta))) /
		((1+c1)*p.sqrtGamma/zeta + z)
	d := 0.0
	if U >= 0 && p.gamma >= 1 {
		d += p.xi * math.Exp(-p.gamma*U*U/2)
	}
	if U > 0 && U < math.Pi {
		d += p.psi / math.Sqrt(math.Pi-U)
	}
	if U >= 0 && U <= math.Pi && p.gamma < 1 {
		d += p.xi
	}
	return 1 / (inverse * d)
}

// sampleReference draws X from the reference law conditional on U: a
// half-normal left piece, a uniform middle piece or an exponential right tail.
func (s *Sampler) sampleReference(p params, aux auxDraw) referenceDraw {
	a := zolotarevFunction(aux.U, p.alpha)
	m := math.Pow(p.b/a, p.alpha) * p.lamAlpha
	delta := math.Sqrt(m * p.alpha / a)
	a1 := delta * c1
	a3 := aux.z / a
	total := a1 + delta + a3

	ref := referenceDraw{a: a, m: m, delta: delta}
	V := s.src.Float64()
	switch {
	case V < a1/total:
		ref.N = s.src.NormFloat64()
		ref.X = m - delta*math.Abs(ref.N)
	case V < (a1+delta)/total:
		ref.X = m + delta*s.src.Float64()
	default:
		ref.E = s.exponential()
		ref.X = m + delta + ref.E*a3
	}
	return ref
}

// logAcceptProb is the log acceptance probability of the final stage.
func logAcceptProb(p params, ref referenceDraw) float64 {
	if ref.X < 0 {
		return math.Inf(-1)
	}
	scale := math.Exp((1/p.alpha)*math.Log(p.lamAlpha) - p.b*math.Log(ref.m))
	logProb := -(ref.a*(ref.X-ref.m) + scale*(math.Pow(ref.m/ref.X, p.b)-1))
	switch {
	case ref.X < ref.m:
		logProb += ref.N * ref.N / 2
	case ref.X > ref.m+ref.delta:
		logProb += ref.E
	}
	return logProb
}

// exponential returns a standard exponential variate by inversion.
func (s *Sampler) exponential() float64 {
	return -math.Log(1 - s.src.Float64())
}
