// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package design

import (
	"fmt"
	"sort"

	"gonum.org/v1/gonum/mat"
)

// Sparse is a compressed sparse row design matrix.
//
// Centering is applied implicitly so the stored predictors stay sparse:
// X̃ = X - 1·cᵀ where c holds the column means.
//
// Thread Safety: Safe for concurrent reads; the counter is atomic.
type Sparse struct {
	counter
	n, p0     int
	rowPtr    []int
	colIdx    []int
	values    []float64
	center    []float64
	intercept bool
}

// Entry is one non-zero predictor value.
type Entry struct {
	Row, Col int
	Value    float64
}

// NewSparse builds a CSR design with n rows and p0 raw predictors.
//
// Description:
//
//	Entries may come in any order; duplicates are summed. Zero values are
//	dropped.
//
// Inputs:
//
//	n, p0 - Shape of the raw predictor matrix.
//	entries - Non-zero values.
//	opts - Column options.
//
// Outputs:
//
//	*Sparse - The design matrix.
//	error - Non-nil when an entry lies outside the shape.
func NewSparse(n, p0 int, entries []Entry, opts Options) (*Sparse, error) {
	sorted := append([]Entry(nil), entries...)
	for _, e := range sorted {
		if e.Row < 0 || e.Row >= n || e.Col < 0 || e.Col >= p0 {
			return nil, fmt.Errorf("%w: entry (%d, %d) outside %dx%d", ErrShape, e.Row, e.Col, n, p0)
		}
	}
	sort.Slice(sorted, func(a, b int) bool {
		if sorted[a].Row != sorted[b].Row {
			return sorted[a].Row < sorted[b].Row
		}
		return sorted[a].Col < sorted[b].Col
	})

	s := &Sparse{n: n, p0: p0, rowPtr: make([]int, n+1), intercept: opts.Intercept}
	for k := 0; k < len(sorted); {
		e := sorted[k]
		v := e.Value
		k++
		for k < len(sorted) && sorted[k].Row == e.Row && sorted[k].Col == e.Col {
			v += sorted[k].Value
			k++
		}
		if v == 0 {
			continue
		}
		s.colIdx = append(s.colIdx, e.Col)
		s.values = append(s.values, v)
		s.rowPtr[e.Row+1]++
	}
	for i := 0; i < n; i++ {
		s.rowPtr[i+1] += s.rowPtr[i]
	}

	if opts.Center {
		s.center = make([]float64, p0)
		for k, j := range s.colIdx {
			s.center[j] += s.values[k]
		}
		for j := range s.center {
			s.center[j] /= float64(n)
		}
	}
	return s, nil
}

func (s *Sparse) offset() int {
	if s.intercept {
		return 1
	}
	return 0
}

// Dims implements Matrix.
func (s *Sparse) Dims() (int, int) { return s.n, s.p0 + s.offset() }

// HasIntercept implements Matrix.
func (s *Sparse) HasIntercept() bool { return s.intercept }

// NNZ returns the number of stored non-zeros.
func (s *Sparse) NNZ() int { return len(s.values) }

// MulVec implements Matrix.
func (s *Sparse) MulVec(v []float64) []float64 {
	off := s.offset()
	if len(v) != s.p0+off {
		panic(fmt.Sprintf("design: MulVec with length %d, want %d", len(v), s.p0+off))
	}
	s.add(1)
	base := 0.0
	if s.intercept {
		base = v[0]
	}
	for j, c := range s.center {
		base -= c * v[j+off]
	}
	out := make([]float64, s.n)
	for i := 0; i < s.n; i++ {
		sum := base
		for k := s.rowPtr[i]; k < s.rowPtr[i+1]; k++ {
			sum += s.values[k] * v[s.colIdx[k]+off]
		}
		out[i] = sum
	}
	return out
}

// MulVecT implements Matrix.
func (s *Sparse) MulVecT(w []float64) []float64 {
	if len(w) != s.n {
		panic(fmt.Sprintf("design: MulVecT with length %d, want %d", len(w), s.n))
	}
	s.add(1)
	off := s.offset()
	out := make([]float64, s.p0+off)
	total := 0.0
	for i := 0; i < s.n; i++ {
		total += w[i]
		for k := s.rowPtr[i]; k < s.rowPtr[i+1]; k++ {
			out[s.colIdx[k]+off] += s.values[k] * w[i]
		}
	}
	if s.intercept {
		out[0] = total
	}
	for j, c := range s.center {
		out[j+off] -= c * total
	}
	return out
}

// Dense materializes the matrix, including intercept and centering.
func (s *Sparse) Dense() *mat.Dense {
	off := s.offset()
	p := s.p0 + off
	d := mat.NewDense(s.n, p, nil)
	for i := 0; i < s.n; i++ {
		if s.intercept {
			d.Set(i, 0, 1)
		}
		for j, c := range s.center {
			d.Set(i, j+off, -c)
		}
		for k := s.rowPtr[i]; k < s.rowPtr[i+1]; k++ {
			j := s.colIdx[k] + off
			d.Set(i, j, d.At(i, j)+s.values[k])
		}
	}
	return d
}

// WeightedGram implements Matrix by materializing the dense form.
func (s *Sparse) WeightedGram(w []float64) *mat.SymDense {
	d := &Dense{x: s.Dense(), intercept: s.intercept}
	return d.WeightedGram(w)
}

// ColumnSquaredNorms implements Matrix.
func (s *Sparse) ColumnSquaredNorms(w []float64) []float64 {
	off := s.offset()
	out := make([]float64, s.p0+off)
	if s.center == nil {
		for i := 0; i < s.n; i++ {
			if s.intercept {
				out[0] += w[i]
			}
			for k := s.rowPtr[i]; k < s.rowPtr[i+1]; k++ {
				v := s.values[k]
				out[s.colIdx[k]+off] += w[i] * v * v
			}
		}
		return out
	}
	d := &Dense{x: s.Dense(), intercept: s.intercept}
	return d.ColumnSquaredNorms(w)
}
