// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package feedback defines the records the learning pipeline consumes:
// user/operator feedback samples and operational incident records.
//
// Both types are immutable once recorded. They are produced upstream
// (collection is an external concern) and consumed here by the metrics
// collector, the drift detector, and the pattern analyzer.
package feedback

import (
	"context"
	"sync"
	"time"
)

// Sample is a single feedback event about a knowledge-base suggestion.
//
// Numeric ratings use a 1-5 scale unless stated otherwise. Accuracy and
// Quality are normalized 0-1 scores from the serving layer.
type Sample struct {
	// ID is the upstream identifier, opaque to this module.
	ID string `json:"id"`

	// UserID identifies the user who gave the feedback.
	UserID string `json:"user_id"`

	// Rating is the overall 1-5 satisfaction rating.
	Rating float64 `json:"rating"`

	// Accuracy is the 0-1 answer accuracy score.
	Accuracy float64 `json:"accuracy"`

	// Usefulness is the 1-5 usefulness rating.
	Usefulness float64 `json:"usefulness"`

	// Relevance is the 1-5 relevance rating.
	Relevance float64 `json:"relevance"`

	// Quality is the 0-1 suggestion quality score.
	Quality float64 `json:"quality"`

	// ResponseTimeMs is the serving latency observed by the user.
	ResponseTimeMs float64 `json:"response_time_ms"`

	// SuggestionType is the categorical kind of suggestion rated.
	SuggestionType string `json:"suggestion_type"`

	// UserSegment is the categorical user cohort.
	UserSegment string `json:"user_segment"`

	// DeviceType is the categorical device class.
	DeviceType string `json:"device_type"`

	// Context is free-form text around the interaction (query, answer
	// excerpt). Used for derived features only.
	Context string `json:"context,omitempty"`

	// Timestamp is when the feedback was recorded.
	Timestamp time.Time `json:"timestamp"`
}

// Incident is an operational incident record analyzed for patterns.
type Incident struct {
	// ID is the incident identifier.
	ID string `json:"id"`

	// SystemID names the system the incident occurred on.
	SystemID string `json:"system_id"`

	// Category is the incident classification.
	Category string `json:"category"`

	// Severity is a normalized 0-1 severity score.
	Severity float64 `json:"severity"`

	// Description is the free-form incident text, used for embedding.
	Description string `json:"description"`

	// ResolutionTime is how long the incident took to resolve.
	ResolutionTime time.Duration `json:"resolution_time"`

	// Timestamp is when the incident occurred.
	Timestamp time.Time `json:"timestamp"`
}

// Source supplies feedback samples for a time range. Implementations are
// external (search index, queue consumer); the pipeline polls once per
// learning cycle.
type Source interface {
	// Collect returns samples recorded in [from, to).
	Collect(ctx context.Context, from, to time.Time) ([]Sample, error)
}

// IncidentSource supplies incident records for pattern analysis.
type IncidentSource interface {
	// CollectIncidents returns incidents recorded in [from, to).
	CollectIncidents(ctx context.Context, from, to time.Time) ([]Incident, error)
}

// MemorySource is an in-memory Source and IncidentSource.
//
// # Description
//
// Used by tests and by offline runs where feedback is loaded from a file
// instead of a live collector. Safe for concurrent use.
type MemorySource struct {
	mu        sync.RWMutex
	samples   []Sample
	incidents []Incident
}

// NewMemorySource creates an empty in-memory source.
func NewMemorySource() *MemorySource {
	return &MemorySource{}
}

// Add appends samples to the source.
func (s *MemorySource) Add(samples ...Sample) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.samples = append(s.samples, samples...)
}

// AddIncidents appends incidents to the source.
func (s *MemorySource) AddIncidents(incidents ...Incident) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.incidents = append(s.incidents, incidents...)
}

// Collect returns samples with Timestamp in [from, to).
func (s *MemorySource) Collect(ctx context.Context, from, to time.Time) ([]Sample, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []Sample
	for _, sample := range s.samples {
		if !sample.Timestamp.Before(from) && sample.Timestamp.Before(to) {
			out = append(out, sample)
		}
	}
	return out, nil
}

// CollectIncidents returns incidents with Timestamp in [from, to).
func (s *MemorySource) CollectIncidents(ctx context.Context, from, to time.Time) ([]Incident, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []Incident
	for _, inc := range s.incidents {
		if !inc.Timestamp.Before(from) && inc.Timestamp.Before(to) {
			out = append(out, inc)
		}
	}
	return out, nil
}
