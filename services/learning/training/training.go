// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package training defines the retraining and validation collaborators
// the pipeline invokes. Real implementations live outside this module
// (model training is an external concern); StaticTrainer and
// StaticValidator serve tests and offline runs.
package training

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/AleutianAI/relearn/services/learning/feedback"
)

// Data is the corpus handed to a trainer: the feedback window that
// triggered retraining plus the reason it fired.
type Data struct {
	Samples []feedback.Sample `json:"samples"`
	Reason  string            `json:"reason"`
	From    time.Time         `json:"from"`
	To      time.Time         `json:"to"`
}

// Options tune a single retraining run.
type Options struct {
	// Emergency marks a run triggered by high-severity drift; trainers
	// may trade quality for turnaround.
	Emergency bool `json:"emergency"`

	// BaseVersion is the incumbent model version being improved.
	BaseVersion string `json:"base_version"`
}

// Candidate is a retrained model awaiting validation and rollout.
type Candidate struct {
	ID          string    `json:"id"`
	Version     string    `json:"version"`
	BaseVersion string    `json:"base_version"`
	TrainedAt   time.Time `json:"trained_at"`
	SampleCount int       `json:"sample_count"`
	Emergency   bool      `json:"emergency"`
}

// ValidationReport is the validator's verdict on a candidate.
type ValidationReport struct {
	CandidateID string    `json:"candidate_id"`
	Passed      bool      `json:"passed"`
	Score       float64   `json:"score"`
	Details     string    `json:"details,omitempty"`
	ValidatedAt time.Time `json:"validated_at"`
}

// Trainer produces a candidate model from feedback data.
type Trainer interface {
	Retrain(ctx context.Context, data Data, opts Options) (*Candidate, error)
}

// Validator judges a candidate before it may enter an experiment.
type Validator interface {
	Validate(ctx context.Context, c *Candidate) (*ValidationReport, error)
}

// StaticTrainer returns a synthetic candidate without training anything.
type StaticTrainer struct {
	// Version overrides the generated candidate version when set.
	Version string
}

// Retrain fabricates a candidate describing the input data.
func (t *StaticTrainer) Retrain(_ context.Context, data Data, opts Options) (*Candidate, error) {
	version := t.Version
	if version == "" {
		version = "candidate-" + uuid.NewString()[:8]
	}
	return &Candidate{
		ID:          uuid.NewString(),
		Version:     version,
		BaseVersion: opts.BaseVersion,
		TrainedAt:   time.Now(),
		SampleCount: len(data.Samples),
		Emergency:   opts.Emergency,
	}, nil
}

// StaticValidator approves or rejects every candidate with a fixed
// verdict.
type StaticValidator struct {
	Pass  bool
	Score float64
}

// Validate returns the configured verdict.
func (v *StaticValidator) Validate(_ context.Context, c *Candidate) (*ValidationReport, error) {
	return &ValidationReport{
		CandidateID: c.ID,
		Passed:      v.Pass,
		Score:       v.Score,
		ValidatedAt: time.Now(),
	}, nil
}
