// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package drift detects statistical drift in the feedback stream.
//
// # Description
//
// The detector maintains a sliding window per feature plus an immutable
// reference sample captured once enough data accumulates. Each batch is
// decomposed into a fixed feature set (numeric ratings, context-derived
// length and complexity, time-of-day features, and categorical metadata).
// Numeric features are tested with the two-sample Kolmogorov-Smirnov test
// and the Population Stability Index; categorical features with a
// chi-square test. Features whose p-value falls below the configured
// threshold are aggregated into a single Event per batch.
//
// # Thread Safety
//
// Detector is safe for concurrent use, though the pipeline drives all
// mutations from a single goroutine; the lock exists for the read-only
// snapshot accessors.
package drift

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/AleutianAI/relearn/pkg/logging"
	"github.com/AleutianAI/relearn/pkg/ringbuf"
	"github.com/AleutianAI/relearn/services/learning/config"
	"github.com/AleutianAI/relearn/services/learning/events"
	"github.com/AleutianAI/relearn/services/learning/feedback"
)

// Severity classifies how far a drift event departed from the baseline.
type Severity string

const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

// Type classifies what kind of drift an event represents, inferred from
// the affected feature names.
type Type string

const (
	TypePerformance Type = "performance"
	TypeDemographic Type = "demographic"
	TypeTemporal    Type = "temporal"
	TypeBehavioral  Type = "behavioral"
)

// Event is the aggregated result of one drifted batch. Immutable after
// creation.
type Event struct {
	// ID is the event identifier.
	ID string `json:"id"`

	// Score is the maximum per-test drift score across features.
	Score float64 `json:"score"`

	// Severity is high when Score > 0.5, medium when > 0.2, else low.
	Severity Severity `json:"severity"`

	// Features lists the drifted feature names.
	Features []string `json:"features"`

	// Type is the drift classification.
	Type Type `json:"type"`

	// Recommendation is the suggested operator response.
	Recommendation string `json:"recommendation"`

	// Results holds the per-feature test outcomes that flagged drift.
	Results map[string][]TestResult `json:"results"`

	// DetectedAt is when the event was created.
	DetectedAt time.Time `json:"detected_at"`
}

// historyCap bounds the retained drift event history.
const historyCap = 100

// Detector maintains per-feature windows and classifies drift.
type Detector struct {
	cfg    config.Drift
	logger *logging.Logger
	bus    *events.Bus

	mu          sync.Mutex
	numeric     map[string]*numericWindow
	categorical map[string]*categoricalWindow
	history     *ringbuf.Ring[*Event]
}

type numericWindow struct {
	values    []float64
	reference []float64 // immutable once captured
}

type categoricalWindow struct {
	values    []string
	reference []string
}

// NewDetector creates a detector. The bus may be nil; events are then
// only recorded in the local history.
func NewDetector(cfg config.Drift, bus *events.Bus, logger *logging.Logger) *Detector {
	if logger == nil {
		logger = logging.Default()
	}
	return &Detector{
		cfg:         cfg,
		logger:      logger.With("component", "drift"),
		bus:         bus,
		numeric:     make(map[string]*numericWindow),
		categorical: make(map[string]*categoricalWindow),
		history:     ringbuf.New[*Event](historyCap),
	}
}

// CheckForDrift ingests a feedback batch and reports aggregated drift.
//
// # Description
//
// Appends each sample's features to the sliding windows, captures
// references where windows first reach the test minimum, then runs the
// configured tests on every feature with both a reference and a full
// enough window. Returns nil when nothing drifted; insufficient data is
// not an error.
//
// # Outputs
//
//   - *Event: The aggregated drift event, or nil when no feature drifted.
//   - error: Reserved; currently always nil for well-formed batches.
func (d *Detector) CheckForDrift(batch []feedback.Sample) (*Event, error) {
	if len(batch) == 0 {
		return nil, nil
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	for _, sample := range batch {
		d.ingest(sample)
	}

	affected := make([]string, 0)
	results := make(map[string][]TestResult)
	var maxScore float64

	for name, w := range d.numeric {
		if len(w.reference) == 0 || len(w.values) < d.cfg.MinSamplesForTest {
			continue
		}
		var featureResults []TestResult
		var featureMax float64
		drifted := false
		for _, test := range d.cfg.Tests {
			var r TestResult
			switch test {
			case "ks":
				r = ksTest(w.reference, w.values, d.cfg.AlertThreshold)
			case "psi":
				r = psiTest(w.reference, w.values, d.cfg.AlertThreshold)
			default:
				continue
			}
			featureResults = append(featureResults, r)
			if r.IsDrift {
				drifted = true
			}
			if r.Score > featureMax {
				featureMax = r.Score
			}
		}
		if drifted {
			affected = append(affected, name)
			results[name] = featureResults
			if featureMax > maxScore {
				maxScore = featureMax
			}
		}
	}

	chi2Enabled := false
	for _, test := range d.cfg.Tests {
		if test == "chi2" {
			chi2Enabled = true
		}
	}
	if chi2Enabled {
		for name, w := range d.categorical {
			if len(w.reference) == 0 || len(w.values) < d.cfg.MinSamplesForTest {
				continue
			}
			r := chiSquareTest(w.reference, w.values, d.cfg.AlertThreshold)
			if r.IsDrift {
				affected = append(affected, name)
				results[name] = []TestResult{r}
				if r.Score > maxScore {
					maxScore = r.Score
				}
			}
		}
	}

	if len(affected) == 0 {
		return nil, nil
	}

	event := &Event{
		ID:         uuid.NewString(),
		Score:      maxScore,
		Severity:   severityFor(maxScore),
		Features:   affected,
		Type:       classify(affected),
		Results:    results,
		DetectedAt: time.Now(),
	}
	event.Recommendation = recommendationFor(event)
	d.history.Push(event)

	d.logger.Warn("drift detected",
		"severity", string(event.Severity),
		"type", string(event.Type),
		"score", event.Score,
		"features", strings.Join(affected, ","),
	)
	if d.bus != nil {
		d.bus.Publish(events.TopicDriftDetected, event)
	}
	return event, nil
}

// ingest appends one sample's features to the windows, truncating each
// window to the configured size and capturing references on first fill.
func (d *Detector) ingest(sample feedback.Sample) {
	d.pushNumeric("rating", sample.Rating)
	d.pushNumeric("accuracy", sample.Accuracy)
	d.pushNumeric("usefulness", sample.Usefulness)
	d.pushNumeric("relevance", sample.Relevance)
	d.pushNumeric("context_length", float64(len(sample.Context)))
	d.pushNumeric("query_complexity", float64(len(strings.Fields(sample.Context))))
	d.pushNumeric("hour_of_day", float64(sample.Timestamp.Hour()))
	d.pushNumeric("day_of_week", float64(sample.Timestamp.Weekday()))

	d.pushCategorical("suggestion_type", sample.SuggestionType)
	d.pushCategorical("user_segment", sample.UserSegment)
	d.pushCategorical("device_type", sample.DeviceType)
}

func (d *Detector) pushNumeric(name string, value float64) {
	w, ok := d.numeric[name]
	if !ok {
		w = &numericWindow{}
		d.numeric[name] = w
	}
	w.values = append(w.values, value)
	if len(w.values) > d.cfg.WindowSize {
		w.values = w.values[len(w.values)-d.cfg.WindowSize:]
	}
	// The first half of the first window to reach the test minimum
	// becomes the permanent reference.
	if w.reference == nil && len(w.values) >= d.cfg.MinSamplesForTest {
		half := len(w.values) / 2
		w.reference = append([]float64(nil), w.values[:half]...)
	}
}

func (d *Detector) pushCategorical(name, value string) {
	if value == "" {
		return
	}
	w, ok := d.categorical[name]
	if !ok {
		w = &categoricalWindow{}
		d.categorical[name] = w
	}
	w.values = append(w.values, value)
	if len(w.values) > d.cfg.WindowSize {
		w.values = w.values[len(w.values)-d.cfg.WindowSize:]
	}
	if w.reference == nil && len(w.values) >= d.cfg.MinSamplesForTest {
		half := len(w.values) / 2
		w.reference = append([]string(nil), w.values[:half]...)
	}
}

// UpdateReferenceData replaces one numeric feature's baseline without
// affecting any other feature.
func (d *Detector) UpdateReferenceData(feature string, values []float64) error {
	if len(values) == 0 {
		return fmt.Errorf("%w: empty reference for %s", ErrInvalidInput, feature)
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	w, ok := d.numeric[feature]
	if !ok {
		w = &numericWindow{}
		d.numeric[feature] = w
	}
	w.reference = append([]float64(nil), values...)
	d.logger.Info("reference updated", "feature", feature, "samples", len(values))
	return nil
}

// Reset clears all windows, references, and history.
func (d *Detector) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.numeric = make(map[string]*numericWindow)
	d.categorical = make(map[string]*categoricalWindow)
	d.history.Reset()
	d.logger.Info("detector reset")
}

// History returns the retained drift events, oldest first.
func (d *Detector) History() []*Event {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.history.Items()
}

// FeatureStatus describes one tracked feature for status reporting.
type FeatureStatus struct {
	Name          string `json:"name"`
	Categorical   bool   `json:"categorical"`
	WindowLen     int    `json:"window_len"`
	ReferenceLen  int    `json:"reference_len"`
	ReadyForTests bool   `json:"ready_for_tests"`
}

// Status returns the per-feature window state for dashboards.
func (d *Detector) Status() []FeatureStatus {
	d.mu.Lock()
	defer d.mu.Unlock()

	var out []FeatureStatus
	for name, w := range d.numeric {
		out = append(out, FeatureStatus{
			Name:          name,
			WindowLen:     len(w.values),
			ReferenceLen:  len(w.reference),
			ReadyForTests: len(w.reference) > 0 && len(w.values) >= d.cfg.MinSamplesForTest,
		})
	}
	for name, w := range d.categorical {
		out = append(out, FeatureStatus{
			Name:          name,
			Categorical:   true,
			WindowLen:     len(w.values),
			ReferenceLen:  len(w.reference),
			ReadyForTests: len(w.reference) > 0 && len(w.values) >= d.cfg.MinSamplesForTest,
		})
	}
	return out
}

func severityFor(score float64) Severity {
	switch {
	case score > 0.5:
		return SeverityHigh
	case score > 0.2:
		return SeverityMedium
	default:
		return SeverityLow
	}
}

// classify infers the drift type from affected feature names. The first
// matching category in priority order wins.
func classify(features []string) Type {
	joined := strings.Join(features, " ")
	switch {
	case containsAny(joined, "accuracy", "rating", "usefulness", "relevance", "quality", "response"):
		return TypePerformance
	case containsAny(joined, "segment", "device"):
		return TypeDemographic
	case containsAny(joined, "hour", "day"):
		return TypeTemporal
	default:
		return TypeBehavioral
	}
}

func containsAny(s string, substrings ...string) bool {
	for _, sub := range substrings {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

func recommendationFor(e *Event) string {
	switch e.Severity {
	case SeverityHigh:
		return fmt.Sprintf("significant %s drift across %d feature(s); trigger retraining and review recent content changes", e.Type, len(e.Features))
	case SeverityMedium:
		return fmt.Sprintf("moderate %s drift; increase monitoring frequency and prepare a retraining candidate", e.Type)
	default:
		return fmt.Sprintf("minor %s drift; no action needed, continue monitoring", e.Type)
	}
}
