// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package prior describes the prior on regression coefficients of a bridge
// regression: which coefficients escape shrinkage and with what Gaussian
// prior, the slab regularization applied to every coefficient, and the
// hyperprior on the global scale.
package prior

import (
	"errors"
	"fmt"
	"math"

	"github.com/go-playground/validator/v10"

	"github.com/AleutianAI/bayesbridge/services/bridge/shrinkage"
)

// =============================================================================
// Shared Validator Instance
// =============================================================================

// priorValidate validates Prior values. Initialized in init() with custom
// validators.
var priorValidate *validator.Validate

func init() {
	priorValidate = validator.New()
	_ = priorValidate.RegisterValidation("notnan", validateNotNaN)
}

func validateNotNaN(fl validator.FieldLevel) bool {
	return !math.IsNaN(fl.Field().Float())
}

// ErrInvalidPrior wraps every validation failure.
var ErrInvalidPrior = errors.New("invalid prior")

// =============================================================================
// Prior
// =============================================================================

// Prior is the coefficient prior.
//
// # Fields
//
//   - SDForFixed: Prior SDs of predictors excluded from shrinkage. They are
//     the leading columns of the design matrix (after the intercept). +Inf
//     gives a flat prior.
//   - SDForIntercept: Prior SD of the intercept when one is added.
//   - SlabSize: SD of the Gaussian slab applied to every coefficient. +Inf
//     disables it.
//   - GlobalScale: Gamma hyperprior on φ = τ^(-α).
//   - Parametrization: Units in which callers supply and receive scales.
//   - CoefMagnitudeLowerBound: Smallest expected shrunk coefficient
//     magnitude the global scale may imply; the global scale is floored
//     accordingly. Nil means shrinkage.DefaultCoefMagnitudeLowerBound, zero
//     disables the floor.
//
// # Validation
//
// Uses go-playground/validator:
//   - SDForFixed: each element > 0
//   - SDForIntercept, SlabSize: > 0, not NaN
//   - GlobalScale: shape, rate >= 0
//   - Parametrization: raw or regress_coef
//   - CoefMagnitudeLowerBound: >= 0 when set
type Prior struct {
	SDForFixed      []float64                 `json:"sd_for_fixed,omitempty" yaml:"sd_for_fixed" validate:"dive,gt=0,notnan"`
	SDForIntercept  float64                   `json:"sd_for_intercept" yaml:"sd_for_intercept" validate:"gt=0,notnan"`
	SlabSize        float64                   `json:"slab_size" yaml:"slab_size" validate:"gt=0,notnan"`
	GlobalScale     shrinkage.Hyperprior      `json:"global_scale_prior" yaml:"global_scale_prior"`
	Parametrization shrinkage.Parametrization `json:"parametrization" yaml:"parametrization" validate:"oneof=raw regress_coef"`

	CoefMagnitudeLowerBound *float64 `json:"coef_magnitude_lower_bound,omitempty" yaml:"coef_magnitude_lower_bound,omitempty" validate:"omitempty,gte=0"`
}

// Default returns a flat prior on the intercept, no slab, the reference
// hyperprior on the global scale and the regression-coefficient
// parametrization.
func Default() Prior {
	return Prior{
		SDForIntercept:  math.Inf(1),
		SlabSize:        math.Inf(1),
		Parametrization: shrinkage.RegressCoef,
	}
}

// Validate checks the prior.
func (p Prior) Validate() error {
	if err := priorValidate.Struct(p); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPrior, err)
	}
	return nil
}

// CoefMagnitudeBound returns the effective coefficient magnitude floor.
func (p Prior) CoefMagnitudeBound() float64 {
	if p.CoefMagnitudeLowerBound == nil {
		return shrinkage.DefaultCoefMagnitudeLowerBound
	}
	return *p.CoefMagnitudeLowerBound
}

// NFixed returns the number of non-intercept predictors excluded from
// shrinkage.
func (p Prior) NFixed() int { return len(p.SDForFixed) }

// UnshrunkSD returns the prior SDs of all unshrunk coefficients in design
// matrix order: the intercept first when present, then the fixed
// predictors.
func (p Prior) UnshrunkSD(intercept bool) []float64 {
	sd := make([]float64, 0, len(p.SDForFixed)+1)
	if intercept {
		sd = append(sd, p.SDForIntercept)
	}
	return append(sd, p.SDForFixed...)
}
