// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package telemetry

import (
	"fmt"

	"go.opentelemetry.io/otel/metric"
)

// Metrics holds the learning pipeline's instruments, all prefixed
// "learning_".
//
// # Thread Safety
//
// Safe for concurrent use after creation.
type Metrics struct {
	// CyclesTotal counts completed learning cycles by outcome.
	CyclesTotal metric.Int64Counter

	// CycleDuration records learning cycle duration in seconds.
	CycleDuration metric.Float64Histogram

	// DriftEventsTotal counts detected drift events by severity.
	DriftEventsTotal metric.Int64Counter

	// ExperimentsTotal counts experiment lifecycle transitions by state.
	ExperimentsTotal metric.Int64Counter

	// ConversionsTotal counts recorded experiment conversions.
	ConversionsTotal metric.Int64Counter

	// AlertsTotal counts raised metric alerts by metric name.
	AlertsTotal metric.Int64Counter

	// RetrainsTotal counts retraining runs by trigger.
	RetrainsTotal metric.Int64Counter

	// FeedbackSamplesTotal counts ingested feedback samples.
	FeedbackSamplesTotal metric.Int64Counter
}

// NewMetrics registers every instrument against the meter.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}
	var err error

	if m.CyclesTotal, err = meter.Int64Counter("learning_cycles_total",
		metric.WithDescription("Completed learning cycles by outcome")); err != nil {
		return nil, fmt.Errorf("create learning_cycles_total: %w", err)
	}
	if m.CycleDuration, err = meter.Float64Histogram("learning_cycle_duration_seconds",
		metric.WithDescription("Learning cycle duration in seconds")); err != nil {
		return nil, fmt.Errorf("create learning_cycle_duration_seconds: %w", err)
	}
	if m.DriftEventsTotal, err = meter.Int64Counter("learning_drift_events_total",
		metric.WithDescription("Detected drift events by severity")); err != nil {
		return nil, fmt.Errorf("create learning_drift_events_total: %w", err)
	}
	if m.ExperimentsTotal, err = meter.Int64Counter("learning_experiments_total",
		metric.WithDescription("Experiment lifecycle transitions by state")); err != nil {
		return nil, fmt.Errorf("create learning_experiments_total: %w", err)
	}
	if m.ConversionsTotal, err = meter.Int64Counter("learning_conversions_total",
		metric.WithDescription("Recorded experiment conversions")); err != nil {
		return nil, fmt.Errorf("create learning_conversions_total: %w", err)
	}
	if m.AlertsTotal, err = meter.Int64Counter("learning_alerts_total",
		metric.WithDescription("Raised metric alerts by metric name")); err != nil {
		return nil, fmt.Errorf("create learning_alerts_total: %w", err)
	}
	if m.RetrainsTotal, err = meter.Int64Counter("learning_retrains_total",
		metric.WithDescription("Retraining runs by trigger")); err != nil {
		return nil, fmt.Errorf("create learning_retrains_total: %w", err)
	}
	if m.FeedbackSamplesTotal, err = meter.Int64Counter("learning_feedback_samples_total",
		metric.WithDescription("Ingested feedback samples")); err != nil {
		return nil, fmt.Errorf("create learning_feedback_samples_total: %w", err)
	}

	return m, nil
}
