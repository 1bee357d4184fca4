// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package model implements the likelihoods a bridge regression can be
// fitted to.
//
// Each model is a variant of the Model capability interface, chosen once
// when a chain is built. Models that carry an observation precision (the
// residual precision of the linear model, the Polya-Gamma auxiliary
// variables of the logistic model) additionally implement PrecisionModel;
// models whose coefficient conditional is Gaussian given that precision
// implement GaussianModel.
//
// Precision values travel as a []float64: nil when a model has none, a
// single element for a scalar precision, one element per observation
// otherwise.
package model

import (
	"errors"
	"fmt"

	"github.com/AleutianAI/bayesbridge/services/bridge/design"
)

// Names accepted by New.
const (
	NameLinear   = "linear"
	NameLogistic = "logit"
	NameCox      = "cox"
)

var (
	// ErrUnknownModel indicates an unsupported model name.
	ErrUnknownModel = errors.New("unknown model")

	// ErrInvalidOutcome indicates outcome data inconsistent with the design.
	ErrInvalidOutcome = errors.New("invalid outcome")
)

// Model is the likelihood capability used by samplers and the posterior
// evaluator.
type Model interface {
	// Name returns one of NameLinear, NameLogistic, NameCox.
	Name() string

	// Design returns the design matrix.
	Design() design.Matrix

	// LogLik returns the log-likelihood at coef.
	LogLik(coef, prec []float64) float64

	// LogLikGrad returns the log-likelihood and its gradient at coef.
	LogLikGrad(coef, prec []float64) (float64, []float64)

	// HessianVec returns the Hessian of the log-likelihood at coef applied
	// to v.
	HessianVec(coef, prec, v []float64) []float64
}

// Random supplies the draws precision updates need.
//
// *randgen.Generator satisfies it.
type Random interface {
	Gamma(shape, rate float64) float64
	PolyaGammaVec(b []int, c []float64) []float64
}

// PrecisionModel is implemented by models with an observation precision.
type PrecisionModel interface {
	Model

	// InitObsPrecision returns the closed-form initial precision at coef.
	InitObsPrecision(coef []float64) []float64

	// SampleObsPrecision draws the precision from its conditional.
	SampleObsPrecision(coef []float64, rng Random) []float64

	// PrecisionLen is the number of precision values: 1 or the number of
	// observations.
	PrecisionLen() int
}

// GaussianModel is implemented by models whose coefficient conditional is
// Gaussian given the precision: y ~ N(Xβ, Ω⁻¹) for a pseudo-outcome z.
type GaussianModel interface {
	PrecisionModel

	// GaussianConditional returns the pseudo-outcome z and the diagonal of
	// Ω for the given precision.
	GaussianConditional(prec []float64) (z, omega []float64)
}

// Outcome carries the response of any model. Unused fields are ignored.
type Outcome struct {
	// Y is the response of the linear model.
	Y []float64

	// NSuccess and NTrial are binomial counts for the logistic model.
	// A nil NTrial means binary outcomes.
	NSuccess []float64
	NTrial   []int

	// EventTime and Censored describe survival outcomes for the Cox model.
	// Censored[i] is true when observation i is right-censored at
	// EventTime[i].
	EventTime []float64
	Censored  []bool
}

// New builds the named model on x.
func New(name string, outcome Outcome, x design.Matrix) (Model, error) {
	switch name {
	case NameLinear:
		return NewLinear(outcome.Y, x)
	case NameLogistic:
		return NewLogistic(outcome.NSuccess, outcome.NTrial, x)
	case NameCox:
		return NewCox(outcome.EventTime, outcome.Censored, x)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownModel, name)
	}
}

func checkLen(what string, got, want int) error {
	if got != want {
		return fmt.Errorf("%w: %s has %d entries, design has %d rows", ErrInvalidOutcome, what, got, want)
	}
	return nil
}
