// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package posterior evaluates the unnormalized log posterior density of a
// chain state. The value is a trace quantity; the Gibbs sampler never
// accepts or rejects on it.
package posterior

import (
	"fmt"
	"math"

	"github.com/AleutianAI/bayesbridge/services/bridge/model"
	"github.com/AleutianAI/bayesbridge/services/bridge/shrinkage"
)

// Evaluator computes log posterior densities for one model and prior.
//
// Thread Safety: Safe for concurrent use when the model is.
type Evaluator struct {
	m          model.Model
	unshrunkSD []float64
	slabSize   float64
	hyper      shrinkage.Hyperprior
	// logNorm is -Σ log sd over the finite unshrunk prior SDs.
	logNorm float64
}

// New creates an evaluator.
//
// Inputs:
//
//	m - The likelihood.
//	unshrunkSD - Prior SDs of the leading unshrunk coefficients; +Inf is flat.
//	slabSize - Slab SD applied to every coefficient; +Inf disables it.
//	hyper - Gamma hyperprior on φ = τ^(-α).
func New(m model.Model, unshrunkSD []float64, slabSize float64, hyper shrinkage.Hyperprior) *Evaluator {
	e := &Evaluator{
		m:          m,
		unshrunkSD: append([]float64(nil), unshrunkSD...),
		slabSize:   slabSize,
		hyper:      hyper,
	}
	for _, sd := range unshrunkSD {
		if !math.IsInf(sd, 1) {
			e.logNorm -= math.Log(sd)
		}
	}
	return e
}

// LogPosterior returns the unnormalized log posterior at a state.
//
// Description:
//
//	Sums the model log-likelihood, the slab term -½Σ(β/slab)², the bridge
//	prior -m·log τ - Σ|β_j/τ|^α over the m shrunk coefficients, the
//	Gaussian prior of the unshrunk coefficients, and the Gamma log density
//	of φ = τ^(-α) under the hyperprior. Scales are in the raw
//	parametrization.
//
//	A zero global scale is the limit of a point mass: the result is +Inf
//	when every shrunk coefficient is zero and -Inf otherwise.
//
// Inputs:
//
//	coef - Coefficients, unshrunk first.
//	global - Raw global scale.
//	prec - Observation precision, nil when the model has none.
//	alpha - Bridge exponent.
//
// Outputs:
//
//	float64 - The log density up to a constant.
func (e *Evaluator) LogPosterior(coef []float64, global float64, prec []float64, alpha float64) float64 {
	nUnshrunk := len(e.unshrunkSD)
	if len(coef) < nUnshrunk {
		panic(fmt.Sprintf("posterior: %d coefficients, %d unshrunk", len(coef), nUnshrunk))
	}

	logp := e.m.LogLik(coef, prec)
	if !math.IsInf(e.slabSize, 1) {
		for _, c := range coef {
			z := c / e.slabSize
			logp -= 0.5 * z * z
		}
	}

	for j, sd := range e.unshrunkSD {
		z := coef[j] / sd
		logp -= 0.5 * z * z
	}
	logp += e.logNorm

	shrunk := coef[nUnshrunk:]
	if len(shrunk) == 0 {
		return logp
	}
	if global == 0 {
		for _, c := range shrunk {
			if c != 0 {
				return math.Inf(-1)
			}
		}
		return math.Inf(1)
	}
	logp += e.BridgeLogPrior(shrunk, global, alpha)
	logp += e.GlobalScaleLogPrior(global, alpha)
	return logp
}

// BridgeLogPrior returns -m·log τ - Σ|β_j/τ|^α for the shrunk
// coefficients.
func (e *Evaluator) BridgeLogPrior(shrunk []float64, global, alpha float64) float64 {
	logp := -float64(len(shrunk)) * math.Log(global)
	for _, c := range shrunk {
		logp -= math.Pow(math.Abs(c/global), alpha)
	}
	return logp
}

// GlobalScaleLogPrior returns the Gamma(shape, rate) log density of
// φ = τ^(-α) up to a constant.
func (e *Evaluator) GlobalScaleLogPrior(global, alpha float64) float64 {
	phi := math.Pow(global, -alpha)
	return (e.hyper.Shape-1)*math.Log(phi) - e.hyper.Rate*phi
}
