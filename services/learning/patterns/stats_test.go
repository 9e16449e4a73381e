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

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestOLSFitPerfectLine(t *testing.T) {
	fit := olsFit([]float64{2, 4, 6, 8, 10})
	assert.InDelta(t, 2.0, fit.slope, 1e-9)
	assert.InDelta(t, 2.0, fit.intercept, 1e-9)
	assert.GreaterOrEqual(t, fit.tStat, 2.0)
}

func TestOLSFitNoisyLine(t *testing.T) {
	fit := olsFit([]float64{1.1, 2.0, 2.9, 4.2, 4.8, 6.1, 7.0, 7.9})
	assert.InDelta(t, 1.0, fit.slope, 0.1)
	assert.Greater(t, fit.tStat, 2.0)
}

func TestOLSFitFlatSeries(t *testing.T) {
	fit := olsFit([]float64{5, 5, 5, 5, 5})
	assert.Zero(t, fit.slope)
	assert.Zero(t, fit.tStat)
}

func TestOLSFitTooShort(t *testing.T) {
	fit := olsFit([]float64{1, 2})
	assert.Zero(t, fit.slope)
}

func TestPearsonExtremes(t *testing.T) {
	a := []float64{1, 2, 3, 4, 5}
	b := []float64{2, 4, 6, 8, 10}
	inv := []float64{10, 8, 6, 4, 2}
	flat := []float64{3, 3, 3, 3, 3}

	assert.InDelta(t, 1.0, pearson(a, b), 1e-9)
	assert.InDelta(t, -1.0, pearson(a, inv), 1e-9)
	assert.Zero(t, pearson(a, flat))
	assert.Zero(t, pearson(a, []float64{1}))
}

func TestMeanStd(t *testing.T) {
	mean, std := meanStd([]float64{2, 4, 4, 4, 5, 5, 7, 9})
	assert.InDelta(t, 5.0, mean, 1e-9)
	assert.InDelta(t, 2.0, std, 1e-9)

	mean, std = meanStd(nil)
	assert.Zero(t, mean)
	assert.Zero(t, std)
}

func TestVarianceUniformIsZero(t *testing.T) {
	assert.Zero(t, variance([]float64{0.25, 0.25, 0.25, 0.25}))
	assert.Greater(t, variance([]float64{1, 0, 0, 0}), 0.1)
}
