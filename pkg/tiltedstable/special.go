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

// sinc returns sin(x)/x with the removable singularity at zero filled in.
func sinc(x float64) float64 {
	if x == 0 {
		return 1
	}
	return math.Sin(x) / x
}

// zolotarevFunction evaluates Zolotarev's function A(x) for shape alpha:
//
//	A(x) = [((1-a)·sinc((1-a)x))^(1-a) · (a·sinc(ax))^a / sinc(x)]^(1/(1-a))
//
// It is the kernel of Kanter's representation of the positive stable law.
func zolotarevFunction(x, alpha float64) float64 {
	inner := math.Pow((1-alpha)*sinc((1-alpha)*x), 1-alpha) *
		math.Pow(alpha*sinc(alpha*x), alpha) /
		sinc(x)
	return math.Pow(inner, 1/(1-alpha))
}

// zolotarevPDFExponentiated evaluates a function proportional to a power of
// the Zolotarev density. Only defined for 0 <= x < pi.
func zolotarevPDFExponentiated(x, alpha float64) float64 {
	denominator := math.Pow(sinc(alpha*x), alpha) *
		math.Pow(sinc((1-alpha)*x), 1-alpha)
	return sinc(x) / denominator
}
