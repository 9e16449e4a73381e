// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package experiment implements the A/B testing manager.
//
// # Description
//
// Experiments move through a draft -> active -> completed lifecycle. Users
// are assigned to variants deterministically by a polynomial hash of their
// user id, so the same user always sees the same variant for a given
// experiment. Conversions are recorded per assignment, and a two-proportion
// z-test decides statistical significance; significant experiments finalize
// automatically, as does every active experiment once its duration elapses.
//
// # Thread Safety
//
// Manager is safe for concurrent use.
package experiment

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/AleutianAI/relearn/pkg/logging"
	"github.com/AleutianAI/relearn/services/learning/config"
	"github.com/AleutianAI/relearn/services/learning/events"
	"github.com/AleutianAI/relearn/services/learning/telemetry"
)

// Status is an experiment lifecycle state.
type Status string

const (
	StatusDraft     Status = "draft"
	StatusActive    Status = "active"
	StatusCompleted Status = "completed"
)

// VariantDef describes one arm of an experiment at creation time.
type VariantDef struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Config      map[string]any `json:"config,omitempty"`
}

// Definition is the caller-supplied experiment description.
//
// TrafficAllocation and Duration fall back to the configured defaults when
// zero.
type Definition struct {
	Name              string        `json:"name"`
	Description       string        `json:"description,omitempty"`
	TargetMetric      string        `json:"target_metric,omitempty"`
	Variants          []VariantDef  `json:"variants"`
	TrafficAllocation float64       `json:"traffic_allocation,omitempty"`
	Duration          time.Duration `json:"duration,omitempty"`
}

// Variant is one arm of a running experiment with its accumulated counters.
type Variant struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Config      map[string]any `json:"config,omitempty"`

	// Participants is the number of users assigned to this variant.
	Participants int `json:"participants"`

	// Conversions counts distinct converted users.
	Conversions int `json:"conversions"`

	// ConversionValue is the sum of all recorded conversion values.
	ConversionValue float64 `json:"conversion_value"`

	Outcomes []Outcome `json:"outcomes,omitempty"`
}

// Outcome is a single recorded conversion event.
type Outcome struct {
	UserID    string         `json:"user_id"`
	Value     float64        `json:"value"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Experiment is a single A/B test.
type Experiment struct {
	ID                string        `json:"id"`
	Name              string        `json:"name"`
	Description       string        `json:"description,omitempty"`
	TargetMetric      string        `json:"target_metric,omitempty"`
	Status            Status        `json:"status"`
	Variants          []*Variant    `json:"variants"`
	TrafficAllocation float64       `json:"traffic_allocation"`
	Duration          time.Duration `json:"duration"`
	CreatedAt         time.Time     `json:"created_at"`
	StartedAt         time.Time     `json:"started_at,omitzero"`
	EndedAt           time.Time     `json:"ended_at,omitzero"`
}

// Assignment binds a user to a variant for one experiment.
type Assignment struct {
	UserID       string    `json:"user_id"`
	ExperimentID string    `json:"experiment_id"`
	VariantIndex int       `json:"variant_index"`
	VariantName  string    `json:"variant_name"`
	AssignedAt   time.Time `json:"assigned_at"`
	Converted    bool      `json:"converted"`
}

// VariantStats is the per-arm summary in a finalized Result.
type VariantStats struct {
	Name           string  `json:"name"`
	Participants   int     `json:"participants"`
	Conversions    int     `json:"conversions"`
	ConversionRate float64 `json:"conversion_rate"`

	// AvgValue is the mean recorded conversion value (e.g. satisfaction
	// rating) across this arm's outcomes.
	AvgValue     float64 `json:"avg_value"`
	StdErr       float64 `json:"std_err"`
	IntervalLow  float64 `json:"interval_low"`
	IntervalHigh float64 `json:"interval_high"`
}

// Result is the outcome of a finalized experiment.
type Result struct {
	ExperimentID string         `json:"experiment_id"`
	Name         string         `json:"name"`
	Reason       string         `json:"reason"`
	Variants     []VariantStats `json:"variants"`
	PValue       float64        `json:"p_value"`
	Significant  bool           `json:"significant"`
	Winner       string         `json:"winner,omitempty"`
	CompletedAt  time.Time      `json:"completed_at"`
}

// Manager owns experiment lifecycle, assignment, and significance testing.
type Manager struct {
	cfg    config.Experiment
	logger *logging.Logger
	bus    *events.Bus
	tel    *telemetry.Metrics

	mu          sync.Mutex
	experiments map[string]*Experiment
	assignments map[string]map[string]*Assignment // experiment id -> user id
	timers      map[string]*time.Timer
	closed      bool

	// sample draws a value in [0,1) for traffic allocation. Tests
	// override it for deterministic in/out-of-sample behavior.
	sample func() float64
}

// NewManager creates an experiment manager with no experiments.
func NewManager(cfg config.Experiment, logger *logging.Logger, bus *events.Bus) *Manager {
	if logger == nil {
		logger = logging.Default()
	}
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	return &Manager{
		cfg:         cfg,
		logger:      logger,
		bus:         bus,
		experiments: make(map[string]*Experiment),
		assignments: make(map[string]map[string]*Assignment),
		timers:      make(map[string]*time.Timer),
		sample:      rng.Float64,
	}
}

// WithTelemetry sets the telemetry counters for conversion recording.
func (m *Manager) WithTelemetry(tel *telemetry.Metrics) *Manager {
	m.tel = tel
	return m
}

// Create registers a new draft experiment.
//
// # Description
//
// Rejects with ErrExperimentCapacity when the number of active experiments
// has reached MaxConcurrentTests, and with ErrInvalidExperiment when the
// definition has fewer than two variants or an out-of-range traffic
// allocation. Zero TrafficAllocation and Duration take the configured
// defaults.
//
// # Outputs
//
//   - *Experiment: the stored experiment in StatusDraft.
//   - error: ErrExperimentCapacity or ErrInvalidExperiment.
func (m *Manager) Create(def Definition) (*Experiment, error) {
	if len(def.Variants) < 2 {
		return nil, fmt.Errorf("%w: need at least 2 variants, got %d",
			ErrInvalidExperiment, len(def.Variants))
	}
	if def.TrafficAllocation < 0 || def.TrafficAllocation > 100 {
		return nil, fmt.Errorf("%w: traffic allocation %.1f out of (0,100]",
			ErrInvalidExperiment, def.TrafficAllocation)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.activeCountLocked() >= m.cfg.MaxConcurrentTests {
		return nil, fmt.Errorf("%w: limit %d", ErrExperimentCapacity, m.cfg.MaxConcurrentTests)
	}

	exp := &Experiment{
		ID:                uuid.NewString(),
		Name:              def.Name,
		Description:       def.Description,
		TargetMetric:      def.TargetMetric,
		Status:            StatusDraft,
		TrafficAllocation: def.TrafficAllocation,
		Duration:          def.Duration,
		CreatedAt:         time.Now(),
	}
	if exp.TrafficAllocation == 0 {
		exp.TrafficAllocation = m.cfg.DefaultTrafficAllocation
	}
	if exp.Duration == 0 {
		exp.Duration = m.cfg.DefaultDuration
	}
	for _, v := range def.Variants {
		exp.Variants = append(exp.Variants, &Variant{
			Name:        v.Name,
			Description: v.Description,
			Config:      v.Config,
		})
	}

	m.experiments[exp.ID] = exp
	m.assignments[exp.ID] = make(map[string]*Assignment)

	m.logger.Info("experiment created",
		"experiment_id", exp.ID, "name", exp.Name, "variants", len(exp.Variants))
	return copyExperiment(exp), nil
}

// Start transitions a draft experiment to active and arms the
// auto-finalize timer for its duration.
func (m *Manager) Start(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	exp, ok := m.experiments[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if exp.Status != StatusDraft {
		return fmt.Errorf("%w: cannot start %s experiment %s", ErrInvalidState, exp.Status, id)
	}

	exp.Status = StatusActive
	exp.StartedAt = time.Now()

	if !m.closed {
		m.timers[id] = time.AfterFunc(exp.Duration, func() {
			if _, err := m.Finalize(id, "duration elapsed"); err != nil {
				m.logger.Debug("auto-finalize skipped", "experiment_id", id, "error", err)
			}
		})
	}

	m.logger.Info("experiment started",
		"experiment_id", id, "name", exp.Name, "duration", exp.Duration.String())
	return nil
}

// AssignVariant returns the user's variant assignment, creating one if the
// user enters the sample.
//
// # Description
//
// Assignment is idempotent: an existing (user, experiment) assignment is
// returned as-is. New users first pass traffic-allocation sampling; users
// outside the sample get (nil, nil) and will be re-sampled on the next
// call. In-sample users land on variant hash(userID) mod len(variants),
// so assignment is deterministic per user and uniform across variants.
//
// # Outputs
//
//   - *Assignment: the assignment, or nil when the user is out of sample.
//   - error: ErrNotFound, or ErrInvalidState when the experiment is not
//     active.
func (m *Manager) AssignVariant(userID, experimentID string) (*Assignment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	exp, ok := m.experiments[experimentID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, experimentID)
	}
	if exp.Status != StatusActive {
		return nil, fmt.Errorf("%w: experiment %s is %s", ErrInvalidState, experimentID, exp.Status)
	}

	if existing, ok := m.assignments[experimentID][userID]; ok {
		a := *existing
		return &a, nil
	}

	if m.sample()*100 > exp.TrafficAllocation {
		return nil, nil
	}

	idx := int(userHash(userID) % uint32(len(exp.Variants)))
	assignment := &Assignment{
		UserID:       userID,
		ExperimentID: experimentID,
		VariantIndex: idx,
		VariantName:  exp.Variants[idx].Name,
		AssignedAt:   time.Now(),
	}
	m.assignments[experimentID][userID] = assignment
	exp.Variants[idx].Participants++

	a := *assignment
	return &a, nil
}

// RecordConversion records a conversion for an assigned user.
//
// # Description
//
// Requires an active experiment and an existing assignment. The first
// conversion per user increments the variant's conversion count; every
// call accumulates the conversion value and appends an outcome record.
// After recording, significance is evaluated and the experiment finalizes
// itself when the z-test passes.
func (m *Manager) RecordConversion(userID, experimentID string, value float64, metadata map[string]any) error {
	m.mu.Lock()

	exp, ok := m.experiments[experimentID]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNotFound, experimentID)
	}
	if exp.Status != StatusActive {
		m.mu.Unlock()
		return fmt.Errorf("%w: experiment %s is %s", ErrInvalidState, experimentID, exp.Status)
	}
	assignment, ok := m.assignments[experimentID][userID]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("%w: user %s has no assignment in experiment %s",
			ErrInvalidState, userID, experimentID)
	}

	variant := exp.Variants[assignment.VariantIndex]
	if !assignment.Converted {
		assignment.Converted = true
		variant.Conversions++
	}
	variant.ConversionValue += value
	variant.Outcomes = append(variant.Outcomes, Outcome{
		UserID:    userID,
		Value:     value,
		Metadata:  metadata,
		Timestamp: time.Now(),
	})

	var result *Result
	if m.significantLocked(exp) {
		result = m.finalizeLocked(exp, "statistical significance reached")
	}
	m.mu.Unlock()

	if m.tel != nil {
		m.tel.ConversionsTotal.Add(context.Background(), 1)
	}
	if result != nil {
		m.publishResult(result)
	}
	return nil
}

// HasStatisticalSignificance reports whether the experiment's two variants
// differ significantly. Returns false without error when either arm is
// below MinSampleSize or the experiment has more than two variants.
func (m *Manager) HasStatisticalSignificance(id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	exp, ok := m.experiments[id]
	if !ok {
		return false, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return m.significantLocked(exp), nil
}

// Finalize completes an active experiment, computes its Result, and emits
// the experiment.completed event.
func (m *Manager) Finalize(id, reason string) (*Result, error) {
	m.mu.Lock()

	exp, ok := m.experiments[id]
	if !ok {
		m.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if exp.Status != StatusActive {
		m.mu.Unlock()
		return nil, fmt.Errorf("%w: cannot finalize %s experiment %s", ErrInvalidState, exp.Status, id)
	}

	result := m.finalizeLocked(exp, reason)
	m.mu.Unlock()

	m.publishResult(result)
	return result, nil
}

// Get returns a copy of the experiment.
func (m *Manager) Get(id string) (*Experiment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	exp, ok := m.experiments[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return copyExperiment(exp), nil
}

// ActiveCount returns the number of active experiments.
func (m *Manager) ActiveCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.activeCountLocked()
}

// Snapshot returns copies of all experiments, newest first.
func (m *Manager) Snapshot() []*Experiment {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]*Experiment, 0, len(m.experiments))
	for _, exp := range m.experiments {
		out = append(out, copyExperiment(exp))
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}

// Close cancels all auto-finalize timers. Experiments stay queryable but
// no further timers are armed.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.closed = true
	for id, t := range m.timers {
		t.Stop()
		delete(m.timers, id)
	}
}

func (m *Manager) activeCountLocked() int {
	n := 0
	for _, exp := range m.experiments {
		if exp.Status == StatusActive {
			n++
		}
	}
	return n
}

// significantLocked applies the two-proportion z-test. Only two-variant
// experiments are testable; both arms must meet the minimum sample size.
func (m *Manager) significantLocked(exp *Experiment) bool {
	if len(exp.Variants) != 2 {
		return false
	}
	a, b := exp.Variants[0], exp.Variants[1]
	if a.Participants < m.cfg.MinSampleSize || b.Participants < m.cfg.MinSampleSize {
		return false
	}
	z := twoProportionZ(
		float64(a.Conversions), float64(a.Participants),
		float64(b.Conversions), float64(b.Participants))
	return z >= zCritical(m.cfg.SignificanceLevel)
}

// finalizeLocked completes the experiment and computes its result. The
// caller publishes the returned result after releasing the lock so bus
// handlers can call back into the manager.
func (m *Manager) finalizeLocked(exp *Experiment, reason string) *Result {
	exp.Status = StatusCompleted
	exp.EndedAt = time.Now()

	if t, ok := m.timers[exp.ID]; ok {
		t.Stop()
		delete(m.timers, exp.ID)
	}

	alpha := m.cfg.SignificanceLevel
	result := &Result{
		ExperimentID: exp.ID,
		Name:         exp.Name,
		Reason:       reason,
		Significant:  m.significantLocked(exp),
		CompletedAt:  exp.EndedAt,
	}

	for _, v := range exp.Variants {
		stats := VariantStats{
			Name:         v.Name,
			Participants: v.Participants,
			Conversions:  v.Conversions,
		}
		if v.Participants > 0 {
			n := float64(v.Participants)
			stats.ConversionRate = float64(v.Conversions) / n
			stats.StdErr = stdErr(stats.ConversionRate, n)
			stats.IntervalLow, stats.IntervalHigh = waldInterval(stats.ConversionRate, n, alpha)
		}
		if len(v.Outcomes) > 0 {
			stats.AvgValue = v.ConversionValue / float64(len(v.Outcomes))
		}
		result.Variants = append(result.Variants, stats)
	}

	if len(exp.Variants) == 2 {
		a, b := exp.Variants[0], exp.Variants[1]
		z := twoProportionZ(
			float64(a.Conversions), float64(a.Participants),
			float64(b.Conversions), float64(b.Participants))
		result.PValue = pValueFromZ(z)
	} else {
		result.PValue = 1
	}

	if result.Significant {
		best := result.Variants[0]
		for _, v := range result.Variants[1:] {
			if v.ConversionRate > best.ConversionRate {
				best = v
			}
		}
		result.Winner = best.Name
	}

	m.logger.Info("experiment finalized",
		"experiment_id", exp.ID,
		"name", exp.Name,
		"reason", reason,
		"significant", result.Significant,
		"winner", result.Winner,
		"p_value", result.PValue)
	return result
}

func (m *Manager) publishResult(result *Result) {
	if m.bus != nil {
		m.bus.Publish(events.TopicExperimentCompleted, result)
	}
}

func stdErr(p, n float64) float64 {
	if n == 0 {
		return 0
	}
	return math.Sqrt(p * (1 - p) / n)
}

func copyExperiment(exp *Experiment) *Experiment {
	out := *exp
	out.Variants = make([]*Variant, len(exp.Variants))
	for i, v := range exp.Variants {
		vc := *v
		vc.Outcomes = append([]Outcome(nil), v.Outcomes...)
		out.Variants[i] = &vc
	}
	return &out
}
