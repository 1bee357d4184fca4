// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package model

import (
	"fmt"
	"math"

	"github.com/AleutianAI/bayesbridge/pkg/randgen"
	"github.com/AleutianAI/bayesbridge/services/bridge/design"
)

// Logistic is the binomial logistic regression model with Polya-Gamma
// auxiliary variables as its observation precision.
type Logistic struct {
	nSuccess []float64
	nTrial   []int
	x        design.Matrix
}

// NewLogistic creates a logistic model. A nil nTrial means binary outcomes.
func NewLogistic(nSuccess []float64, nTrial []int, x design.Matrix) (*Logistic, error) {
	n, _ := x.Dims()
	if err := checkLen("n_success", len(nSuccess), n); err != nil {
		return nil, err
	}
	if nTrial == nil {
		nTrial = make([]int, n)
		for i := range nTrial {
			nTrial[i] = 1
		}
	}
	if err := checkLen("n_trial", len(nTrial), n); err != nil {
		return nil, err
	}
	for i, s := range nSuccess {
		if s < 0 || s > float64(nTrial[i]) {
			return nil, fmt.Errorf("%w: n_success[%d]=%v outside [0, %d]", ErrInvalidOutcome, i, s, nTrial[i])
		}
	}
	return &Logistic{nSuccess: nSuccess, nTrial: nTrial, x: x}, nil
}

// Name implements Model.
func (m *Logistic) Name() string { return NameLogistic }

// Design implements Model.
func (m *Logistic) Design() design.Matrix { return m.x }

// LogLik implements Model: Σ yᵢηᵢ − nᵢ·log(1 + e^ηᵢ).
func (m *Logistic) LogLik(coef, _ []float64) float64 {
	eta := m.x.MulVec(coef)
	ll := 0.0
	for i, e := range eta {
		ll += m.nSuccess[i]*e - float64(m.nTrial[i])*log1pExp(e)
	}
	return ll
}

// LogLikGrad implements Model. The gradient is Xᵀ(y − n·p).
func (m *Logistic) LogLikGrad(coef, _ []float64) (float64, []float64) {
	eta := m.x.MulVec(coef)
	ll := 0.0
	resid := make([]float64, len(eta))
	for i, e := range eta {
		n := float64(m.nTrial[i])
		ll += m.nSuccess[i]*e - n*log1pExp(e)
		resid[i] = m.nSuccess[i] - n*sigmoid(e)
	}
	return ll, m.x.MulVecT(resid)
}

// HessianVec implements Model: −Xᵀ·diag(n·p(1 − p))·Xv.
func (m *Logistic) HessianVec(coef, _, v []float64) []float64 {
	eta := m.x.MulVec(coef)
	xv := m.x.MulVec(v)
	for i, e := range eta {
		p := sigmoid(e)
		xv[i] *= -float64(m.nTrial[i]) * p * (1 - p)
	}
	return m.x.MulVecT(xv)
}

// PrecisionLen implements PrecisionModel.
func (m *Logistic) PrecisionLen() int { return len(m.nTrial) }

// InitObsPrecision implements PrecisionModel with the Polya-Gamma mean.
func (m *Logistic) InitObsPrecision(coef []float64) []float64 {
	eta := m.x.MulVec(coef)
	out := make([]float64, len(eta))
	for i, e := range eta {
		out[i] = randgen.PolyaGammaMean(m.nTrial[i], e)
	}
	return out
}

// SampleObsPrecision implements PrecisionModel: ωᵢ ~ PG(nᵢ, ηᵢ).
func (m *Logistic) SampleObsPrecision(coef []float64, rng Random) []float64 {
	return rng.PolyaGammaVec(m.nTrial, m.x.MulVec(coef))
}

// GaussianConditional implements GaussianModel: z = (y − n/2)/ω, Ω = ω.
func (m *Logistic) GaussianConditional(prec []float64) ([]float64, []float64) {
	z := make([]float64, len(prec))
	for i, w := range prec {
		z[i] = (m.nSuccess[i] - float64(m.nTrial[i])/2) / w
	}
	return z, prec
}

func sigmoid(x float64) float64 {
	if x >= 0 {
		return 1 / (1 + math.Exp(-x))
	}
	e := math.Exp(x)
	return e / (1 + e)
}

// log1pExp returns log(1 + e^x) without overflow.
func log1pExp(x float64) float64 {
	if x > 0 {
		return x + math.Log1p(math.Exp(-x))
	}
	return math.Log1p(math.Exp(x))
}
