// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package patterns

import "math"

// olsResult is an ordinary least-squares fit of y against the index 0..n-1.
type olsResult struct {
	slope     float64
	intercept float64
	tStat     float64
}

// olsFit regresses ys against their indices. The t statistic is
// slope / stderr(slope); fewer than three points yield a zero result.
func olsFit(ys []float64) olsResult {
	n := float64(len(ys))
	if len(ys) < 3 {
		return olsResult{}
	}

	var sumX, sumY, sumXY, sumXX float64
	for i, y := range ys {
		x := float64(i)
		sumX += x
		sumY += y
		sumXY += x * y
		sumXX += x * x
	}

	denom := n*sumXX - sumX*sumX
	if denom == 0 {
		return olsResult{}
	}
	slope := (n*sumXY - sumX*sumY) / denom
	intercept := (sumY - slope*sumX) / n

	// Residual standard error of the slope.
	var sse float64
	for i, y := range ys {
		resid := y - (intercept + slope*float64(i))
		sse += resid * resid
	}
	mse := sse / (n - 2)
	meanX := sumX / n
	var sxx float64
	for i := range ys {
		d := float64(i) - meanX
		sxx += d * d
	}
	if mse == 0 || sxx == 0 {
		// Perfect fit. A finite stand-in keeps the value JSON-encodable.
		t := 0.0
		if slope != 0 {
			t = 1000
		}
		return olsResult{slope: slope, intercept: intercept, tStat: t}
	}
	return olsResult{
		slope:     slope,
		intercept: intercept,
		tStat:     slope / math.Sqrt(mse/sxx),
	}
}

// pearson computes the Pearson correlation of two equal-length series.
// Returns 0 when either series has no variance.
func pearson(a, b []float64) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	n := float64(len(a))

	var meanA, meanB float64
	for i := range a {
		meanA += a[i]
		meanB += b[i]
	}
	meanA /= n
	meanB /= n

	var cov, varA, varB float64
	for i := range a {
		da := a[i] - meanA
		db := b[i] - meanB
		cov += da * db
		varA += da * da
		varB += db * db
	}
	if varA == 0 || varB == 0 {
		return 0
	}
	return cov / math.Sqrt(varA*varB)
}

// meanStd returns the mean and population standard deviation of xs.
func meanStd(xs []float64) (mean, std float64) {
	if len(xs) == 0 {
		return 0, 0
	}
	n := float64(len(xs))
	for _, x := range xs {
		mean += x
	}
	mean /= n
	for _, x := range xs {
		d := x - mean
		std += d * d
	}
	return mean, math.Sqrt(std / n)
}

// variance returns the population variance of xs.
func variance(xs []float64) float64 {
	_, std := meanStd(xs)
	return std * std
}
