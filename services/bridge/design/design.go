// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package design provides the design matrix of a regression: dense or
// sparse predictors, an optional intercept column and optional centering,
// behind a single Matrix interface that counts its products.
package design

import (
	"errors"
	"fmt"
	"math"
	"sync/atomic"

	"gonum.org/v1/gonum/mat"
)

// ErrShape indicates inconsistent dimensions.
var ErrShape = errors.New("design: shape mismatch")

// Matrix is the design matrix seen by models and samplers.
//
// Every call to MulVec or MulVecT increments the product counter.
type Matrix interface {
	// Dims returns the number of observations and of coefficients,
	// including the intercept column when present.
	Dims() (n, p int)

	// MulVec returns X·v.
	MulVec(v []float64) []float64

	// MulVecT returns Xᵀ·w.
	MulVecT(w []float64) []float64

	// WeightedGram returns Xᵀ·diag(w)·X. w must be non-negative.
	WeightedGram(w []float64) *mat.SymDense

	// ColumnSquaredNorms returns Σ_i w_i·x_ij² for each column j.
	ColumnSquaredNorms(w []float64) []float64

	// MatVecCount returns the number of products computed so far.
	MatVecCount() int64

	// HasIntercept reports whether column 0 is the intercept.
	HasIntercept() bool
}

// Options control the columns built from the raw predictors.
type Options struct {
	// Intercept prepends a column of ones.
	Intercept bool

	// Center subtracts each predictor's mean.
	Center bool
}

// counter is embedded by both matrix types.
type counter struct {
	n atomic.Int64
}

func (c *counter) add(k int64) { c.n.Add(k) }

// MatVecCount returns the number of products computed so far.
func (c *counter) MatVecCount() int64 { return c.n.Load() }

// =============================================================================
// Dense
// =============================================================================

// Dense is a design matrix backed by a gonum dense matrix. The intercept
// and centering are materialized at construction.
//
// Thread Safety: Safe for concurrent reads; the counter is atomic.
type Dense struct {
	counter
	x         *mat.Dense
	intercept bool
}

// NewDense builds a dense design from an n×p0 predictor matrix.
//
// Description:
//
//	Copies x, optionally centers each column and optionally prepends an
//	intercept column, giving an n×(p0+1) or n×p0 matrix.
//
// Inputs:
//
//	x - Raw predictors. Not modified.
//	opts - Column options.
//
// Outputs:
//
//	*Dense - The design matrix.
func NewDense(x mat.Matrix, opts Options) *Dense {
	n, p0 := x.Dims()
	offset := 0
	if opts.Intercept {
		offset = 1
	}
	data := make([]float64, n*(p0+offset))
	p := p0 + offset
	for j := 0; j < p0; j++ {
		mean := 0.0
		if opts.Center {
			for i := 0; i < n; i++ {
				mean += x.At(i, j)
			}
			mean /= float64(n)
		}
		for i := 0; i < n; i++ {
			data[i*p+j+offset] = x.At(i, j) - mean
		}
	}
	if opts.Intercept {
		for i := 0; i < n; i++ {
			data[i*p] = 1
		}
	}
	return &Dense{x: mat.NewDense(n, p, data), intercept: opts.Intercept}
}

// NewDenseFromRows builds a dense design from row slices.
func NewDenseFromRows(rows [][]float64, opts Options) (*Dense, error) {
	if len(rows) == 0 {
		return nil, fmt.Errorf("%w: no rows", ErrShape)
	}
	p0 := len(rows[0])
	data := make([]float64, 0, len(rows)*p0)
	for i, r := range rows {
		if len(r) != p0 {
			return nil, fmt.Errorf("%w: row %d has %d columns, want %d", ErrShape, i, len(r), p0)
		}
		data = append(data, r...)
	}
	return NewDense(mat.NewDense(len(rows), p0, data), opts), nil
}

// Dims implements Matrix.
func (d *Dense) Dims() (int, int) { return d.x.Dims() }

// HasIntercept implements Matrix.
func (d *Dense) HasIntercept() bool { return d.intercept }

// Raw returns the underlying matrix. It must not be modified.
func (d *Dense) Raw() *mat.Dense { return d.x }

// MulVec implements Matrix.
func (d *Dense) MulVec(v []float64) []float64 {
	n, p := d.x.Dims()
	if len(v) != p {
		panic(fmt.Sprintf("design: MulVec with length %d, want %d", len(v), p))
	}
	d.add(1)
	out := mat.NewVecDense(n, nil)
	out.MulVec(d.x, mat.NewVecDense(p, v))
	return out.RawVector().Data
}

// MulVecT implements Matrix.
func (d *Dense) MulVecT(w []float64) []float64 {
	n, p := d.x.Dims()
	if len(w) != n {
		panic(fmt.Sprintf("design: MulVecT with length %d, want %d", len(w), n))
	}
	d.add(1)
	out := mat.NewVecDense(p, nil)
	out.MulVec(d.x.T(), mat.NewVecDense(n, w))
	return out.RawVector().Data
}

// WeightedGram implements Matrix.
func (d *Dense) WeightedGram(w []float64) *mat.SymDense {
	n, p := d.x.Dims()
	scaled := mat.NewDense(n, p, nil)
	scaled.Apply(func(i, _ int, v float64) float64 {
		return v * math.Sqrt(w[i])
	}, d.x)
	gram := mat.NewSymDense(p, nil)
	gram.SymOuterK(1, scaled.T())
	return gram
}

// ColumnSquaredNorms implements Matrix.
func (d *Dense) ColumnSquaredNorms(w []float64) []float64 {
	n, p := d.x.Dims()
	out := make([]float64, p)
	for i := 0; i < n; i++ {
		row := d.x.RawRowView(i)
		for j, v := range row {
			out[j] += w[i] * v * v
		}
	}
	return out
}
