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
	"testing"

	"github.com/stretchr/testify/assert"
)

// ramp returns n evenly spaced values in [lo, hi).
func ramp(n int, lo, hi float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = lo + (hi-lo)*float64(i)/float64(n)
	}
	return out
}

func TestKSIdenticalDistributions(t *testing.T) {
	ref := ramp(100, 0, 1)
	cur := ramp(100, 0, 1)

	r := ksTest(ref, cur, 0.05)

	assert.InDelta(t, 0, r.Statistic, 0.02)
	assert.False(t, r.IsDrift)
	assert.GreaterOrEqual(t, r.PValue, 0.05)
}

func TestKSShiftedDistribution(t *testing.T) {
	// Disjoint supports: the empirical CDFs separate completely.
	ref := ramp(100, 4, 5)
	cur := ramp(100, 1, 2)

	r := ksTest(ref, cur, 0.05)

	assert.InDelta(t, 1.0, r.Statistic, 0.02)
	assert.True(t, r.IsDrift)
	assert.Less(t, r.PValue, 0.05)
	assert.Greater(t, r.Score, 1.0, "statistic should exceed the critical value")
}

func TestPSIIdenticalDistributions(t *testing.T) {
	ref := ramp(200, 0, 10)
	cur := ramp(200, 0, 10)

	r := psiTest(ref, cur, 0.05)

	assert.InDelta(t, 0, r.Statistic, 0.01)
	assert.False(t, r.IsDrift)
}

func TestPSIZeroVariance(t *testing.T) {
	ref := []float64{3, 3, 3, 3}
	cur := []float64{3, 3, 3, 3}

	r := psiTest(ref, cur, 0.05)

	assert.Equal(t, 0.0, r.Statistic)
	assert.False(t, r.IsDrift)
}

func TestPSIMajorShift(t *testing.T) {
	// Overlapping supports so shared bins exist, but mass concentrated
	// at opposite ends of the range.
	ref := append(ramp(95, 0, 2), ramp(5, 8, 10)...)
	cur := append(ramp(5, 0, 2), ramp(95, 8, 10)...)

	r := psiTest(ref, cur, 0.05)

	assert.Greater(t, r.Statistic, 0.25)
	assert.True(t, r.IsDrift)
	assert.Equal(t, 0.01, r.PValue)
}

func TestChiSquareIdenticalProportions(t *testing.T) {
	ref := repeatCats(map[string]int{"mobile": 60, "desktop": 40})
	cur := repeatCats(map[string]int{"mobile": 120, "desktop": 80})

	r := chiSquareTest(ref, cur, 0.05)

	assert.InDelta(t, 0, r.Statistic, 0.001)
	assert.False(t, r.IsDrift)
}

func TestChiSquareShiftedProportions(t *testing.T) {
	ref := repeatCats(map[string]int{"mobile": 80, "desktop": 20})
	cur := repeatCats(map[string]int{"mobile": 20, "desktop": 80})

	r := chiSquareTest(ref, cur, 0.05)

	assert.True(t, r.IsDrift)
	assert.Less(t, r.PValue, 0.05)
	assert.Greater(t, r.Statistic, 0.0)
}

func TestChiSquareEmptySamples(t *testing.T) {
	r := chiSquareTest(nil, []string{"a"}, 0.05)
	assert.False(t, r.IsDrift)
	assert.Equal(t, 1.0, r.PValue)
}

func TestNormalCDF(t *testing.T) {
	tests := []struct {
		z    float64
		want float64
	}{
		{0, 0.5},
		{1.96, 0.975},
		{-1.96, 0.025},
		{3, 0.9987},
	}
	for _, tt := range tests {
		got := normalCDF(tt.z)
		if math.Abs(got-tt.want) > 0.001 {
			t.Errorf("normalCDF(%v) = %v, want ~%v", tt.z, got, tt.want)
		}
	}
}

func repeatCats(counts map[string]int) []string {
	var out []string
	for cat, n := range counts {
		for i := 0; i < n; i++ {
			out = append(out, cat)
		}
	}
	return out
}
