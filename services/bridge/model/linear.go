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
	"math"

	"gonum.org/v1/gonum/floats"

	"github.com/AleutianAI/bayesbridge/services/bridge/design"
)

// Linear is the Gaussian linear model y ~ N(Xβ, τ⁻¹I) with a scalar
// precision τ.
type Linear struct {
	y []float64
	x design.Matrix
}

// NewLinear creates a linear model.
func NewLinear(y []float64, x design.Matrix) (*Linear, error) {
	n, _ := x.Dims()
	if err := checkLen("y", len(y), n); err != nil {
		return nil, err
	}
	return &Linear{y: y, x: x}, nil
}

// Name implements Model.
func (m *Linear) Name() string { return NameLinear }

// Design implements Model.
func (m *Linear) Design() design.Matrix { return m.x }

// Y returns the response.
func (m *Linear) Y() []float64 { return m.y }

func (m *Linear) residual(coef []float64) []float64 {
	r := m.x.MulVec(coef)
	floats.SubTo(r, m.y, r)
	return r
}

// LogLik implements Model: n/2·log τ − τ/2·‖y − Xβ‖².
func (m *Linear) LogLik(coef, prec []float64) float64 {
	tau := prec[0]
	r := m.residual(coef)
	return float64(len(m.y))/2*math.Log(tau) - tau/2*floats.Dot(r, r)
}

// LogLikGrad implements Model. The gradient is τ·Xᵀ(y − Xβ).
func (m *Linear) LogLikGrad(coef, prec []float64) (float64, []float64) {
	tau := prec[0]
	r := m.residual(coef)
	ll := float64(len(m.y))/2*math.Log(tau) - tau/2*floats.Dot(r, r)
	grad := m.x.MulVecT(r)
	floats.Scale(tau, grad)
	return ll, grad
}

// HessianVec implements Model: −τ·XᵀXv.
func (m *Linear) HessianVec(_, prec, v []float64) []float64 {
	out := m.x.MulVecT(m.x.MulVec(v))
	floats.Scale(-prec[0], out)
	return out
}

// PrecisionLen implements PrecisionModel.
func (m *Linear) PrecisionLen() int { return 1 }

// InitObsPrecision implements PrecisionModel: 1/mean((y − Xβ)²).
func (m *Linear) InitObsPrecision(coef []float64) []float64 {
	r := m.residual(coef)
	return []float64{float64(len(r)) / floats.Dot(r, r)}
}

// SampleObsPrecision implements PrecisionModel: Gamma(n/2, 1)/(‖y − Xβ‖²/2).
func (m *Linear) SampleObsPrecision(coef []float64, rng Random) []float64 {
	r := m.residual(coef)
	scale := floats.Dot(r, r) / 2
	return []float64{rng.Gamma(float64(len(r))/2, 1) / scale}
}

// GaussianConditional implements GaussianModel.
func (m *Linear) GaussianConditional(prec []float64) ([]float64, []float64) {
	omega := make([]float64, len(m.y))
	for i := range omega {
		omega[i] = prec[0]
	}
	return m.y, omega
}
