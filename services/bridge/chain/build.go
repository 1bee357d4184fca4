// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package chain

import (
	"log/slog"

	"gonum.org/v1/gonum/mat"

	"github.com/AleutianAI/bayesbridge/services/bridge/design"
	"github.com/AleutianAI/bayesbridge/services/bridge/model"
)

// BuildOptions controls the design matrix built for a model.
type BuildOptions struct {
	// Intercept adds an intercept column. Nil means on, except for the Cox
	// model where an intercept is not identifiable.
	Intercept *bool

	// Center subtracts column means from the predictors.
	Center bool
}

func (o BuildOptions) design(name string, logger *slog.Logger) design.Options {
	intercept := name != model.NameCox
	if o.Intercept != nil {
		intercept = *o.Intercept
	}
	if intercept && name == model.NameCox {
		if logger == nil {
			logger = slog.Default()
		}
		logger.Warn("intercept is not identifiable in the Cox model and will not be added")
		intercept = false
	}
	return design.Options{Intercept: intercept, Center: o.Center}
}

// BuildModel creates the named model on a dense predictor matrix.
//
// Inputs:
//
//	name - model.NameLinear, model.NameLogistic or model.NameCox.
//	outcome - The response.
//	x - Predictors, n×p0, without an intercept column.
//	opts - Design options.
//	logger - Receives the Cox intercept warning. Nil means slog.Default().
//
// Outputs:
//
//	model.Model - The model.
//	error - model.ErrUnknownModel or model.ErrInvalidOutcome.
func BuildModel(name string, outcome model.Outcome, x mat.Matrix, opts BuildOptions, logger *slog.Logger) (model.Model, error) {
	return model.New(name, outcome, design.NewDense(x, opts.design(name, logger)))
}

// BuildSparseModel is BuildModel for predictors given as coordinate
// entries of an n×p0 matrix.
func BuildSparseModel(name string, outcome model.Outcome, n, p0 int, entries []design.Entry, opts BuildOptions, logger *slog.Logger) (model.Model, error) {
	x, err := design.NewSparse(n, p0, entries, opts.design(name, logger))
	if err != nil {
		return nil, err
	}
	return model.New(name, outcome, x)
}
