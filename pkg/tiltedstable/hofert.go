// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package tiltedstable

import "math"

// SampleHofert draws one variate with Hofert's algorithm: the tilted law is
// split into m = max(1, floor(lam^alpha)) independent pieces, each drawn by
// rejecting scaled non-tilted stable variates with probability
// exp(-lam·S). Exact, but the expected cost grows with lam, so Sample only
// delegates here below SmallTiltPower.
func (s *Sampler) SampleHofert(alpha, lam float64) float64 {
	checkParams(alpha, lam)
	m := math.Max(1, math.Floor(math.Pow(lam, alpha)))
	c := math.Pow(1/m, 1/alpha)
	x := 0.0
	for i := 0; i < int(m); i++ {
		x += s.sampleDivided(alpha, lam, c)
	}
	return x
}

func (s *Sampler) sampleDivided(alpha, lam, c float64) float64 {
	for {
		S := c * s.sampleNonTilted(alpha)
		if s.src.Float64() < math.Exp(-lam*S) {
			return S
		}
	}
}

// sampleNonTilted draws a positive stable variate with Laplace transform
// exp(-s^alpha) using Kanter's representation.
func (s *Sampler) sampleNonTilted(alpha float64) float64 {
	V := s.src.Float64()
	E := s.exponential()
	return math.Pow(zolotarevFunction(math.Pi*V, alpha)/E, (1-alpha)/alpha)
}
