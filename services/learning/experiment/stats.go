// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package experiment

import "math"

// zCritical returns the two-sided z critical value for the supported
// significance levels. Unknown levels fall back to 0.05.
func zCritical(alpha float64) float64 {
	switch alpha {
	case 0.01:
		return 2.576
	case 0.10:
		return 1.645
	default:
		return 1.96
	}
}

// twoProportionZ computes the pooled two-proportion z statistic for
// conversion counts x1/n1 vs x2/n2. Returns 0 when the pooled standard
// error degenerates (all or no conversions).
func twoProportionZ(x1, n1, x2, n2 float64) float64 {
	if n1 == 0 || n2 == 0 {
		return 0
	}
	p1 := x1 / n1
	p2 := x2 / n2
	pooled := (x1 + x2) / (n1 + n2)
	se := math.Sqrt(pooled * (1 - pooled) * (1/n1 + 1/n2))
	if se == 0 {
		return 0
	}
	return math.Abs(p1-p2) / se
}

// pValueFromZ converts a z statistic to a two-sided p-value via the
// normal CDF.
func pValueFromZ(z float64) float64 {
	return 2 * (1 - normalCDF(math.Abs(z)))
}

// waldInterval returns the Wald confidence interval for proportion p
// over n trials at the configured significance level, clamped to [0,1].
func waldInterval(p float64, n float64, alpha float64) (lo, hi float64) {
	if n == 0 {
		return 0, 0
	}
	se := math.Sqrt(p * (1 - p) / n)
	margin := zCritical(alpha) * se
	lo = math.Max(0, p-margin)
	hi = math.Min(1, p+margin)
	return lo, hi
}

// normalCDF is the standard normal CDF using the Abramowitz-Stegun erf
// approximation (formula 7.1.26).
func normalCDF(z float64) float64 {
	return 0.5 * (1 + erfApprox(z/math.Sqrt2))
}

func erfApprox(x float64) float64 {
	sign := 1.0
	if x < 0 {
		sign = -1
		x = -x
	}

	const (
		a1 = 0.254829592
		a2 = -0.284496736
		a3 = 1.421413741
		a4 = -1.453152027
		a5 = 1.061405429
		p  = 0.3275911
	)

	t := 1 / (1 + p*x)
	y := 1 - (((((a5*t+a4)*t)+a3)*t+a2)*t+a1)*t*math.Exp(-x*x)
	return sign * y
}

// userHash is the polynomial string hash used for variant assignment.
// It must stay stable across releases: the same user must land in the
// same variant for the lifetime of an experiment.
func userHash(userID string) uint32 {
	var h uint32
	for _, c := range userID {
		h = h*31 + uint32(c)
	}
	return h
}
