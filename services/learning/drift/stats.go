// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package drift

import (
	"math"
	"sort"
)

// TestResult is the outcome of one statistical test on one feature.
type TestResult struct {
	// Test names the test that ran: "ks", "psi", or "chi2".
	Test string `json:"test"`

	// Statistic is the raw test statistic (KS D, PSI value, chi-square).
	Statistic float64 `json:"statistic"`

	// PValue is the approximate p-value. PSI uses a banded pseudo
	// p-value since it has no sampling distribution here.
	PValue float64 `json:"p_value"`

	// Score is the normalized drift score used for severity ranking.
	Score float64 `json:"score"`

	// IsDrift is true when PValue is below the configured threshold.
	IsDrift bool `json:"is_drift"`
}

// ksTest runs the two-sample Kolmogorov-Smirnov test.
//
// # Description
//
// Computes the maximum distance between the empirical CDFs of reference
// and current, compares it against the 0.05-level critical value
// 1.36*sqrt((n1+n2)/(n1*n2)), and approximates the p-value with the
// asymptotic tail bound 2*exp(-2*lambda^2). The approximation is kept
// deliberately; exact KS distributions are out of scope.
func ksTest(reference, current []float64, alpha float64) TestResult {
	n1 := float64(len(reference))
	n2 := float64(len(current))

	ref := append([]float64(nil), reference...)
	cur := append([]float64(nil), current...)
	sort.Float64s(ref)
	sort.Float64s(cur)

	// Walk the merged samples tracking the CDF gap.
	var statistic float64
	i, j := 0, 0
	for i < len(ref) && j < len(cur) {
		if ref[i] <= cur[j] {
			i++
		} else {
			j++
		}
		d := math.Abs(float64(i)/n1 - float64(j)/n2)
		if d > statistic {
			statistic = d
		}
	}

	critical := 1.36 * math.Sqrt((n1+n2)/(n1*n2))
	lambda := statistic * math.Sqrt(n1*n2/(n1+n2))
	pValue := 2 * math.Exp(-2*lambda*lambda)
	if pValue > 1 {
		pValue = 1
	}

	return TestResult{
		Test:      "ks",
		Statistic: statistic,
		PValue:    pValue,
		Score:     statistic / critical,
		IsDrift:   pValue < alpha,
	}
}

// psiBins is the fixed bin count for the Population Stability Index.
const psiBins = 10

// psiTest computes the Population Stability Index over 10 equal-width
// bins spanning the combined min-max range.
//
// # Description
//
// psi = sum((cur_p - ref_p) * ln(cur_p / ref_p)) over bins where both
// proportions are nonzero. PSI has no p-value; the banded pseudo p-value
// follows the conventional interpretation bands (>0.25 major shift,
// >0.10 moderate, otherwise stable). Zero-variance inputs contribute 0.
func psiTest(reference, current []float64, alpha float64) TestResult {
	lo, hi := math.Inf(1), math.Inf(-1)
	for _, v := range reference {
		lo = math.Min(lo, v)
		hi = math.Max(hi, v)
	}
	for _, v := range current {
		lo = math.Min(lo, v)
		hi = math.Max(hi, v)
	}

	result := TestResult{Test: "psi", PValue: 0.5}
	width := (hi - lo) / psiBins
	if width == 0 || math.IsInf(lo, 1) {
		// All values identical: no distribution to compare.
		return result
	}

	binIndex := func(v float64) int {
		idx := int((v - lo) / width)
		if idx >= psiBins {
			idx = psiBins - 1
		}
		return idx
	}

	var refCounts, curCounts [psiBins]float64
	for _, v := range reference {
		refCounts[binIndex(v)]++
	}
	for _, v := range current {
		curCounts[binIndex(v)]++
	}

	var psi float64
	for b := 0; b < psiBins; b++ {
		refP := refCounts[b] / float64(len(reference))
		curP := curCounts[b] / float64(len(current))
		if refP > 0 && curP > 0 {
			psi += (curP - refP) * math.Log(curP/refP)
		}
	}

	result.Statistic = psi
	result.Score = psi
	switch {
	case psi > 0.25:
		result.PValue = 0.01
	case psi > 0.10:
		result.PValue = 0.10
	default:
		result.PValue = 0.5
	}
	result.IsDrift = result.PValue < alpha
	return result
}

// chiSquareTest compares two categorical samples.
//
// # Description
//
// Builds category counts for reference and current, keeps categories
// whose expected current count exceeds 5, and sums (observed-expected)^2
// / expected. Degrees of freedom is the number of qualifying categories
// minus one, floored at 1. The p-value uses the Wilson-Hilferty cube-root
// normal approximation, preserved from the original implementation.
func chiSquareTest(reference, current []string, alpha float64) TestResult {
	refCounts := make(map[string]float64)
	curCounts := make(map[string]float64)
	for _, c := range reference {
		refCounts[c]++
	}
	for _, c := range current {
		curCounts[c]++
	}

	refTotal := float64(len(reference))
	curTotal := float64(len(current))
	result := TestResult{Test: "chi2", PValue: 1}
	if refTotal == 0 || curTotal == 0 {
		return result
	}

	var statistic float64
	qualifying := 0
	for category, refCount := range refCounts {
		expected := refCount / refTotal * curTotal
		if expected <= 5 {
			continue
		}
		qualifying++
		observed := curCounts[category]
		diff := observed - expected
		statistic += diff * diff / expected
	}

	df := float64(qualifying - 1)
	if df < 1 {
		df = 1
	}

	pValue := chiSquareP(statistic, df)
	result.Statistic = statistic
	result.PValue = pValue
	result.Score = statistic / (2 * df)
	result.IsDrift = pValue < alpha
	return result
}

// chiSquareP approximates the upper-tail chi-square probability via the
// Wilson-Hilferty transformation.
func chiSquareP(statistic, df float64) float64 {
	if statistic <= 0 {
		return 1
	}
	z := (math.Cbrt(statistic/df) - (1 - 2/(9*df))) / math.Sqrt(2/(9*df))
	return 1 - normalCDF(z)
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
