// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package coefsampler

import (
	"math"

	"gonum.org/v1/gonum/floats"
)

// maxEnergyError is the energy drop beyond which a NUTS trajectory is
// declared divergent.
const maxEnergyError = 1000

// tree is a NUTS subtree: its two ends, the proposal drawn from it, the
// number of valid states, and the acceptance statistics used for step size
// diagnostics.
type tree struct {
	minus, plus point
	proposal    point
	n           int
	ok          bool
	sumAccept   float64
	nAccept     int
}

func noUTurn(minus, plus point) bool {
	dq := make([]float64, len(plus.q))
	floats.SubTo(dq, plus.q, minus.q)
	return floats.Dot(dq, minus.p) >= 0 && floats.Dot(dq, plus.p) >= 0
}

// nuts draws one state with the slice variant of the No-U-Turn sampler.
func (s *Sampler) nuts(t *target, psi0 []float64, eps float64, rng Random) ([]float64, Info) {
	logp, grad := t.logpGrad(psi0)
	init := point{q: psi0, p: momentum(len(psi0), rng), grad: grad, logp: logp}
	joint0 := init.joint()
	logSlice := joint0 - rng.ExpFloat64()

	minus, plus := init, init
	proposal := init
	n := 1
	depth := 0
	sumAccept, nAccept := 0.0, 0
	nSteps := 0

	for depth < s.cfg.MaxTreeDepth {
		dir := 1.0
		if rng.Float64() < 0.5 {
			dir = -1
		}
		var sub tree
		if dir < 0 {
			sub = buildTree(t, minus, logSlice, joint0, dir*eps, depth, rng)
			minus = sub.minus
		} else {
			sub = buildTree(t, plus, logSlice, joint0, dir*eps, depth, rng)
			plus = sub.plus
		}
		nSteps += 1 << depth
		sumAccept += sub.sumAccept
		nAccept += sub.nAccept
		depth++

		if !sub.ok {
			break
		}
		if rng.Float64() < float64(sub.n)/float64(n) {
			proposal = sub.proposal
		}
		n += sub.n
		if !noUTurn(minus, plus) {
			break
		}
	}

	accept := 0.0
	if nAccept > 0 {
		accept = sumAccept / float64(nAccept)
	}
	return append([]float64(nil), proposal.q...), Info{
		IsSuccess:  true,
		NSteps:     nSteps,
		AcceptProb: accept,
		TreeDepth:  depth,
	}
}

func buildTree(t *target, from point, logSlice, joint0, eps float64, depth int, rng Random) tree {
	if depth == 0 {
		next := leapfrog(t, from, eps)
		joint := next.joint()
		if math.IsNaN(joint) {
			joint = math.Inf(-1)
		}
		n := 0
		if logSlice <= joint {
			n = 1
		}
		return tree{
			minus:     next,
			plus:      next,
			proposal:  next,
			n:         n,
			ok:        logSlice < joint+maxEnergyError,
			sumAccept: math.Min(1, math.Exp(joint-joint0)),
			nAccept:   1,
		}
	}

	first := buildTree(t, from, logSlice, joint0, eps, depth-1, rng)
	if !first.ok {
		return first
	}
	var second tree
	if eps < 0 {
		second = buildTree(t, first.minus, logSlice, joint0, eps, depth-1, rng)
		first.minus = second.minus
	} else {
		second = buildTree(t, first.plus, logSlice, joint0, eps, depth-1, rng)
		first.plus = second.plus
	}

	total := first.n + second.n
	if total > 0 && rng.Float64() < float64(second.n)/float64(total) {
		first.proposal = second.proposal
	}
	first.n = total
	first.ok = second.ok && noUTurn(first.minus, first.plus)
	first.sumAccept += second.sumAccept
	first.nAccept += second.nAccept
	return first
}
