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
	"sort"

	"github.com/AleutianAI/bayesbridge/services/bridge/design"
)

// Cox is the proportional hazards model with the Breslow partial
// likelihood. Observations tied at the same time share one risk set.
//
// It has no observation precision and no intercept: a constant shift of
// the linear predictor cancels out of the partial likelihood.
type Cox struct {
	x design.Matrix

	// order lists observations by increasing time.
	order []int

	// groupStart[g] is the position in order where the g-th distinct time
	// begins; groupStart has one trailing entry equal to len(order).
	groupStart []int

	// nEvent[g] counts uncensored observations in group g.
	nEvent []float64

	// groupOf[i] is the group of observation i.
	groupOf []int

	event []bool
}

// NewCox creates a Cox model.
func NewCox(eventTime []float64, censored []bool, x design.Matrix) (*Cox, error) {
	n, _ := x.Dims()
	if err := checkLen("event_time", len(eventTime), n); err != nil {
		return nil, err
	}
	if censored == nil {
		censored = make([]bool, n)
	}
	if err := checkLen("censored", len(censored), n); err != nil {
		return nil, err
	}
	if x.HasIntercept() {
		return nil, fmt.Errorf("%w: the Cox model does not identify an intercept", ErrInvalidOutcome)
	}

	order := make([]int, n)
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool { return eventTime[order[a]] < eventTime[order[b]] })

	m := &Cox{x: x, order: order, groupOf: make([]int, n), event: make([]bool, n)}
	for k, i := range order {
		if k == 0 || eventTime[i] != eventTime[order[k-1]] {
			m.groupStart = append(m.groupStart, k)
			m.nEvent = append(m.nEvent, 0)
		}
		g := len(m.groupStart) - 1
		m.groupOf[i] = g
		if !censored[i] {
			m.event[i] = true
			m.nEvent[g]++
		}
	}
	m.groupStart = append(m.groupStart, n)
	return m, nil
}

// Name implements Model.
func (m *Cox) Name() string { return NameCox }

// Design implements Model.
func (m *Cox) Design() design.Matrix { return m.x }

// riskSums returns, for each group, Σ_{j at risk} e^{η_j - shift}·u_j with
// u = 1 when u is nil.
func (m *Cox) riskSums(expEta, u []float64) []float64 {
	nGroup := len(m.nEvent)
	sums := make([]float64, nGroup)
	running := 0.0
	for g := nGroup - 1; g >= 0; g-- {
		for k := m.groupStart[g]; k < m.groupStart[g+1]; k++ {
			i := m.order[k]
			if u == nil {
				running += expEta[i]
			} else {
				running += expEta[i] * u[i]
			}
		}
		sums[g] = running
	}
	return sums
}

// expShifted returns e^{η - max η} and the shift.
func expShifted(eta []float64) ([]float64, float64) {
	shift := math.Inf(-1)
	for _, e := range eta {
		shift = math.Max(shift, e)
	}
	if math.IsInf(shift, -1) {
		shift = 0
	}
	out := make([]float64, len(eta))
	for i, e := range eta {
		out[i] = math.Exp(e - shift)
	}
	return out, shift
}

func (m *Cox) logLikEta(eta []float64) (float64, []float64, []float64) {
	expEta, shift := expShifted(eta)
	sums := m.riskSums(expEta, nil)
	ll := 0.0
	for i, e := range eta {
		if m.event[i] {
			ll += e
		}
	}
	for g, d := range m.nEvent {
		if d > 0 {
			ll -= d * (math.Log(sums[g]) + shift)
		}
	}
	return ll, expEta, sums
}

// LogLik implements Model.
func (m *Cox) LogLik(coef, _ []float64) float64 {
	ll, _, _ := m.logLikEta(m.x.MulVec(coef))
	return ll
}

// LogLikGrad implements Model.
func (m *Cox) LogLikGrad(coef, _ []float64) (float64, []float64) {
	ll, expEta, sums := m.logLikEta(m.x.MulVec(coef))
	hazard := m.cumulative(sums, nil, 1)
	g := make([]float64, len(expEta))
	for i := range g {
		if m.event[i] {
			g[i] = 1
		}
		g[i] -= expEta[i] * hazard[m.groupOf[i]]
	}
	return ll, m.x.MulVecT(g)
}

// cumulative returns, per group g, Σ_{h ≤ g} d_h·num_h / sums_h^power, with
// num = 1 when nil.
func (m *Cox) cumulative(sums, num []float64, power float64) []float64 {
	out := make([]float64, len(sums))
	running := 0.0
	for g, d := range m.nEvent {
		if d > 0 {
			term := d / math.Pow(sums[g], power)
			if num != nil {
				term *= num[g]
			}
			running += term
		}
		out[g] = running
	}
	return out
}

// HessianVec implements Model.
//
// In η coordinates (H·u)_k = e^{η_k}·(B_k − u_k·A_k) where
// A_k = Σ_{g ≤ g(k)} d_g/S_g and B_k = Σ_{g ≤ g(k)} d_g·U_g/S_g², S_g and
// U_g being the risk-set sums of e^η and e^η·u.
func (m *Cox) HessianVec(coef, _, v []float64) []float64 {
	eta := m.x.MulVec(coef)
	u := m.x.MulVec(v)
	expEta, _ := expShifted(eta)
	sums := m.riskSums(expEta, nil)
	weighted := m.riskSums(expEta, u)
	a := m.cumulative(sums, nil, 1)
	b := m.cumulative(sums, weighted, 2)
	hu := make([]float64, len(u))
	for i := range hu {
		g := m.groupOf[i]
		hu[i] = expEta[i] * (b[g] - u[i]*a[g])
	}
	return m.x.MulVecT(hu)
}
