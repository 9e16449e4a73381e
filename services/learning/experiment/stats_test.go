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

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestZCriticalLookup(t *testing.T) {
	assert.InDelta(t, 2.576, zCritical(0.01), 1e-9)
	assert.InDelta(t, 1.96, zCritical(0.05), 1e-9)
	assert.InDelta(t, 1.645, zCritical(0.10), 1e-9)
	// Unknown alpha falls back to 0.05.
	assert.InDelta(t, 1.96, zCritical(0.20), 1e-9)
}

func TestTwoProportionZKnownValue(t *testing.T) {
	// 20/100 vs 10/100: pooled p = 0.15, se = sqrt(0.15*0.85*0.02).
	z := twoProportionZ(20, 100, 10, 100)
	assert.InDelta(t, 1.980, z, 0.01)
}

func TestTwoProportionZDegenerate(t *testing.T) {
	assert.Zero(t, twoProportionZ(0, 0, 5, 10))
	assert.Zero(t, twoProportionZ(0, 100, 0, 100))
	assert.Zero(t, twoProportionZ(100, 100, 100, 100))
}

func TestPValueFromZ(t *testing.T) {
	// z = 1.96 is the 0.05 two-sided boundary.
	assert.InDelta(t, 0.05, pValueFromZ(1.96), 0.002)
	assert.InDelta(t, 1.0, pValueFromZ(0), 0.001)
	assert.Less(t, pValueFromZ(4), 0.001)
}

func TestWaldIntervalClamped(t *testing.T) {
	lo, hi := waldInterval(0.5, 100, 0.05)
	assert.InDelta(t, 0.402, lo, 0.005)
	assert.InDelta(t, 0.598, hi, 0.005)

	lo, hi = waldInterval(0.01, 10, 0.05)
	assert.Zero(t, lo)
	assert.Less(t, hi, 1.0)

	lo, hi = waldInterval(0, 0, 0.05)
	assert.Zero(t, lo)
	assert.Zero(t, hi)
}

func TestUserHashStableAndSpread(t *testing.T) {
	assert.Equal(t, userHash("alice"), userHash("alice"))
	assert.NotEqual(t, userHash("alice"), userHash("bob"))

	// Uniform-ish spread across two variants for sequential ids.
	counts := [2]int{}
	for i := 0; i < 1000; i++ {
		counts[userHash(userID(i))%2]++
	}
	assert.Greater(t, counts[0], 300)
	assert.Greater(t, counts[1], 300)
}
