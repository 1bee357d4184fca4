// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package randgen

import (
	"math"

	"gonum.org/v1/gonum/stat/distuv"
)

// -----------------------------------------------------------------------------
// Polya-Gamma sampling
// -----------------------------------------------------------------------------

// pgTrunc is the switching point between the two proposal pieces of the
// Polya-Gamma(1, z) sampler.
const pgTrunc = 0.64

// PolyaGamma draws from PG(b, c) for a positive integer b as the sum of b
// independent PG(1, c) draws.
func (g *Generator) PolyaGamma(b int, c float64) float64 {
	sum := 0.0
	for i := 0; i < b; i++ {
		sum += g.polyaGammaOne(c)
	}
	return sum
}

// PolyaGammaVec draws omega[i] ~ PG(b[i], c[i]).
func (g *Generator) PolyaGammaVec(b []int, c []float64) []float64 {
	out := make([]float64, len(c))
	for i := range c {
		out[i] = g.PolyaGamma(b[i], c[i])
	}
	return out
}

// PolyaGammaMean is E[PG(b, c)] = b/(2c)·tanh(c/2), with limit b/4 at c = 0.
func PolyaGammaMean(b int, c float64) float64 {
	if math.Abs(c) < 1e-8 {
		return float64(b) / 4
	}
	return float64(b) / (2 * c) * math.Tanh(c/2)
}

// polyaGammaOne draws PG(1, c) with Devroye's alternating-series method.
func (g *Generator) polyaGammaOne(c float64) float64 {
	z := math.Abs(c) / 2
	fz := math.Pi*math.Pi/8 + z*z/2
	pExpon := pgExponentialMass(z, fz)
	for {
		var x float64
		if g.Float64() < pExpon {
			x = pgTrunc + g.ExpFloat64()/fz
		} else {
			x = g.truncatedInverseGaussian(z)
		}

		s := pgCoefficient(0, x)
		y := g.Float64() * s
		for n := 1; ; n++ {
			if n%2 == 1 {
				s -= pgCoefficient(n, x)
				if y <= s {
					return x / 4
				}
			} else {
				s += pgCoefficient(n, x)
				if y > s {
					break
				}
			}
		}
	}
}

// pgExponentialMass is the probability of proposing from the exponential
// piece on (pgTrunc, inf).
func pgExponentialMass(z, fz float64) float64 {
	b := math.Sqrt(1/pgTrunc) * (pgTrunc*z - 1)
	a := -math.Sqrt(1/pgTrunc) * (pgTrunc*z + 1)
	x0 := math.Log(fz) + fz*pgTrunc
	xb := x0 - z + math.Log(distuv.UnitNormal.CDF(b))
	xa := x0 + z + math.Log(distuv.UnitNormal.CDF(a))
	qOverP := 4 / math.Pi * (math.Exp(xb) + math.Exp(xa))
	return 1 / (1 + qOverP)
}

// pgCoefficient is the n-th term of the alternating series for the J*(1)
// density, piecewise on either side of pgTrunc.
func pgCoefficient(n int, x float64) float64 {
	k := (float64(n) + 0.5) * math.Pi
	switch {
	case x > pgTrunc:
		return k * math.Exp(-k*k*x/2)
	case x > 0:
		h := float64(n) + 0.5
		return math.Exp(-1.5*(math.Log(math.Pi/2)+math.Log(x)) + math.Log(k) - 2*h*h/x)
	default:
		return 0
	}
}

// truncatedInverseGaussian draws from IG(1/z, 1) restricted to (0, pgTrunc).
func (g *Generator) truncatedInverseGaussian(z float64) float64 {
	if z < 1/pgTrunc {
		// Mean beyond the truncation point: propose from the truncated
		// 1/chi-square and accept with exp(-z²x/2).
		for {
			e1, e2 := g.ExpFloat64(), g.ExpFloat64()
			for e1*e1 > 2*e2/pgTrunc {
				e1, e2 = g.ExpFloat64(), g.ExpFloat64()
			}
			x := 1 + e1*pgTrunc
			x = pgTrunc / (x * x)
			if g.Float64() <= math.Exp(-0.5*z*z*x) {
				return x
			}
		}
	}

	mu := 1 / z
	x := pgTrunc + 1
	for x > pgTrunc {
		y := g.NormFloat64()
		y *= y
		muY := mu * y
		x = mu + 0.5*mu*muY - 0.5*mu*math.Sqrt(4*muY+muY*muY)
		if g.Float64() > mu/(mu+x) {
			x = mu * mu / x
		}
	}
	return x
}
