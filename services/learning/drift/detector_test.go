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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/relearn/services/learning/config"
	"github.com/AleutianAI/relearn/services/learning/events"
	"github.com/AleutianAI/relearn/services/learning/feedback"
)

func testDriftConfig() config.Drift {
	return config.Drift{
		WindowSize:        200,
		MinSamplesForTest: 50,
		AlertThreshold:    0.05,
		Tests:             []string{"ks", "psi", "chi2"},
	}
}

// ratingBatch builds n samples whose rating covers [lo, hi) in a strided
// order (so any prefix is representative of the whole range) while every
// other feature stays constant, so only the rating feature can drift.
func ratingBatch(n int, lo, hi float64) []feedback.Sample {
	ts := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	out := make([]feedback.Sample, n)
	for i := range out {
		out[i] = feedback.Sample{
			UserID:         "u",
			Rating:         lo + (hi-lo)*float64((i*37)%100)/100,
			Accuracy:       0.9,
			Usefulness:     4,
			Relevance:      4,
			SuggestionType: "article",
			UserSegment:    "pro",
			DeviceType:     "desktop",
			Timestamp:      ts,
		}
	}
	return out
}

func TestInsufficientSamplesNoEvent(t *testing.T) {
	d := NewDetector(testDriftConfig(), nil, nil)

	event, err := d.CheckForDrift(ratingBatch(10, 4, 5))
	require.NoError(t, err)
	assert.Nil(t, event)
}

func TestStableDistributionNoEvent(t *testing.T) {
	d := NewDetector(testDriftConfig(), nil, nil)

	event, err := d.CheckForDrift(ratingBatch(200, 4, 5))
	require.NoError(t, err)
	assert.Nil(t, event, "identical distribution must not flag drift")
}

func TestShiftedRatingsHighSeverity(t *testing.T) {
	d := NewDetector(testDriftConfig(), nil, nil)

	// 200 samples uniform in [4,5], then 200 more uniform in [1,2].
	_, err := d.CheckForDrift(ratingBatch(200, 4, 5))
	require.NoError(t, err)

	event, err := d.CheckForDrift(ratingBatch(200, 1, 2))
	require.NoError(t, err)

	require.NotNil(t, event, "disjoint rating distributions must drift")
	assert.Equal(t, SeverityHigh, event.Severity)
	assert.Contains(t, event.Features, "rating")
	assert.Equal(t, TypePerformance, event.Type)
	assert.NotEmpty(t, event.Recommendation)
	assert.NotEmpty(t, event.ID)
}

func TestDriftEventPublishedOnBus(t *testing.T) {
	bus := events.NewBus(nil)
	var received *Event
	bus.Subscribe(events.TopicDriftDetected, func(payload any) {
		received = payload.(*Event)
	})

	d := NewDetector(testDriftConfig(), bus, nil)
	_, err := d.CheckForDrift(ratingBatch(200, 4, 5))
	require.NoError(t, err)
	event, err := d.CheckForDrift(ratingBatch(200, 1, 2))
	require.NoError(t, err)

	require.NotNil(t, event)
	assert.Equal(t, event, received)
}

func TestHistoryRetainsEvents(t *testing.T) {
	d := NewDetector(testDriftConfig(), nil, nil)

	_, _ = d.CheckForDrift(ratingBatch(200, 4, 5))
	event, _ := d.CheckForDrift(ratingBatch(200, 1, 2))
	require.NotNil(t, event)

	history := d.History()
	require.Len(t, history, 1)
	assert.Equal(t, event.ID, history[0].ID)
}

func TestResetClearsState(t *testing.T) {
	d := NewDetector(testDriftConfig(), nil, nil)

	_, _ = d.CheckForDrift(ratingBatch(200, 4, 5))
	event, _ := d.CheckForDrift(ratingBatch(200, 1, 2))
	require.NotNil(t, event)

	d.Reset()

	assert.Empty(t, d.History())
	assert.Empty(t, d.Status())

	// After reset the same stable batch starts fresh: no drift.
	fresh, err := d.CheckForDrift(ratingBatch(200, 1, 2))
	require.NoError(t, err)
	assert.Nil(t, fresh)
}

func TestUpdateReferenceData(t *testing.T) {
	d := NewDetector(testDriftConfig(), nil, nil)

	// Establish windows with low ratings.
	_, _ = d.CheckForDrift(ratingBatch(200, 1, 2))

	// Replace the rating baseline with a high-rating reference; the
	// current low window should now read as drifted.
	highRef := make([]float64, 100)
	for i := range highRef {
		highRef[i] = 4 + float64(i%100)/100
	}
	require.NoError(t, d.UpdateReferenceData("rating", highRef))

	event, err := d.CheckForDrift(ratingBatch(50, 1, 2))
	require.NoError(t, err)
	require.NotNil(t, event)
	assert.Contains(t, event.Features, "rating")
}

func TestUpdateReferenceDataRejectsEmpty(t *testing.T) {
	d := NewDetector(testDriftConfig(), nil, nil)
	err := d.UpdateReferenceData("rating", nil)
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestCategoricalDrift(t *testing.T) {
	cfg := testDriftConfig()
	cfg.Tests = []string{"chi2"}
	d := NewDetector(cfg, nil, nil)

	desktop := ratingBatch(200, 4, 5)
	_, err := d.CheckForDrift(desktop)
	require.NoError(t, err)

	mobile := ratingBatch(200, 4, 5)
	for i := range mobile {
		mobile[i].DeviceType = "mobile"
	}
	event, err := d.CheckForDrift(mobile)
	require.NoError(t, err)

	require.NotNil(t, event)
	assert.Contains(t, event.Features, "device_type")
	assert.Equal(t, TypeDemographic, event.Type)
}

func TestEmptyBatchIsNoop(t *testing.T) {
	d := NewDetector(testDriftConfig(), nil, nil)
	event, err := d.CheckForDrift(nil)
	require.NoError(t, err)
	assert.Nil(t, event)
}
