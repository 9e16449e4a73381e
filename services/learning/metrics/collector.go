// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package metrics aggregates feedback into KPIs, threshold alerts, and
// coarse per-metric trends.
//
// # Thread Safety
//
// Collector is safe for concurrent use.
package metrics

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/AleutianAI/relearn/pkg/logging"
	"github.com/AleutianAI/relearn/pkg/ringbuf"
	"github.com/AleutianAI/relearn/services/learning/config"
	"github.com/AleutianAI/relearn/services/learning/events"
	"github.com/AleutianAI/relearn/services/learning/feedback"
)

const (
	// trendPoints is how many aggregate data points each metric trend
	// retains.
	trendPoints = 100

	// trendDeadband is the |slope| below which a trend reads stable.
	trendDeadband = 0.001

	// engagementVolumeRef is the batch size at which the engagement
	// KPI's volume factor saturates.
	engagementVolumeRef = 100.0

	// reliabilityDecayMs controls how fast the reliability KPI decays
	// with mean response time.
	reliabilityDecayMs = 1000.0
)

// SegmentStats summarizes one segment value within a dimension.
type SegmentStats struct {
	Count     int     `json:"count"`
	AvgRating float64 `json:"avg_rating"`
}

// Aggregate is the per-batch metric summary.
type Aggregate struct {
	Timestamp   time.Time `json:"timestamp"`
	SampleCount int       `json:"sample_count"`

	AvgRating         float64 `json:"avg_rating"`
	AvgUsefulness     float64 `json:"avg_usefulness"`
	AvgRelevance      float64 `json:"avg_relevance"`
	AvgAccuracy       float64 `json:"avg_accuracy"`
	AvgResponseTimeMs float64 `json:"avg_response_time_ms"`
	AvgQuality        float64 `json:"avg_quality"`

	// ErrorRate is the fraction of samples with rating < 2.
	ErrorRate float64 `json:"error_rate"`

	// Segments maps dimension ("user_segment", "suggestion_type",
	// "device_type") to value to stats.
	Segments map[string]map[string]SegmentStats `json:"segments"`

	KPIs KPIs `json:"kpis"`
}

// KPIs are the derived key performance indicators, all on a 0-1 scale.
type KPIs struct {
	OverallPerformance float64 `json:"overall_performance"`
	UserEngagement     float64 `json:"user_engagement"`
	SystemReliability  float64 `json:"system_reliability"`
}

// Alert is a breached KPI threshold.
type Alert struct {
	ID           string    `json:"id"`
	Metric       string    `json:"metric"`
	Threshold    float64   `json:"threshold"`
	Value        float64   `json:"value"`
	Message      string    `json:"message"`
	Timestamp    time.Time `json:"timestamp"`
	Acknowledged bool      `json:"acknowledged"`
}

// Collector ingests feedback and produces aggregates, alerts, and trends.
type Collector struct {
	cfg    config.Metrics
	logger *logging.Logger
	bus    *events.Bus
	sink   *InfluxSink

	mu      sync.Mutex
	history []*Aggregate
	alerts  []*Alert
	trends  map[string]*ringbuf.Ring[float64]

	now func() time.Time
}

// NewCollector creates a collector. The sink may be nil (no export).
func NewCollector(cfg config.Metrics, logger *logging.Logger, bus *events.Bus, sink *InfluxSink) *Collector {
	if logger == nil {
		logger = logging.Default()
	}
	return &Collector{
		cfg:    cfg,
		logger: logger,
		bus:    bus,
		sink:   sink,
		trends: make(map[string]*ringbuf.Ring[float64]),
		now:    time.Now,
	}
}

// RecordFeedback checks a single sample against the alert thresholds
// immediately. Batch aggregation happens separately in ProcessBatch.
func (c *Collector) RecordFeedback(sample feedback.Sample) {
	errRate := 0.0
	if sample.Rating < 2 {
		errRate = 1
	}
	c.checkThresholds(sample.Accuracy, sample.Rating, sample.ResponseTimeMs, errRate)
}

// ProcessBatch aggregates a feedback batch.
//
// # Description
//
// Computes means, error rate, and three-way segmentation; derives KPIs;
// raises one alert per breached threshold; feeds the trend rings; purges
// snapshots older than the retention window; and exports to the InfluxDB
// sink when configured (export failures are logged, never fatal).
//
// # Outputs
//
//   - *Aggregate: nil for an empty batch.
func (c *Collector) ProcessBatch(ctx context.Context, samples []feedback.Sample) *Aggregate {
	if len(samples) == 0 {
		return nil
	}

	agg := &Aggregate{
		Timestamp:   c.now(),
		SampleCount: len(samples),
		Segments: map[string]map[string]SegmentStats{
			"user_segment":    {},
			"suggestion_type": {},
			"device_type":     {},
		},
	}

	errorCount := 0
	ratingSums := map[string]map[string]float64{
		"user_segment":    {},
		"suggestion_type": {},
		"device_type":     {},
	}
	for _, s := range samples {
		agg.AvgRating += s.Rating
		agg.AvgUsefulness += s.Usefulness
		agg.AvgRelevance += s.Relevance
		agg.AvgAccuracy += s.Accuracy
		agg.AvgResponseTimeMs += s.ResponseTimeMs
		agg.AvgQuality += s.Quality
		if s.Rating < 2 {
			errorCount++
		}
		for dim, value := range map[string]string{
			"user_segment":    s.UserSegment,
			"suggestion_type": s.SuggestionType,
			"device_type":     s.DeviceType,
		} {
			if value == "" {
				continue
			}
			stats := agg.Segments[dim][value]
			stats.Count++
			agg.Segments[dim][value] = stats
			ratingSums[dim][value] += s.Rating
		}
	}

	n := float64(len(samples))
	agg.AvgRating /= n
	agg.AvgUsefulness /= n
	agg.AvgRelevance /= n
	agg.AvgAccuracy /= n
	agg.AvgResponseTimeMs /= n
	agg.AvgQuality /= n
	agg.ErrorRate = float64(errorCount) / n

	for dim, values := range agg.Segments {
		for value, stats := range values {
			stats.AvgRating = ratingSums[dim][value] / float64(stats.Count)
			values[value] = stats
		}
	}

	agg.KPIs = deriveKPIs(agg)

	c.checkThresholds(agg.AvgAccuracy, agg.AvgRating, agg.AvgResponseTimeMs, agg.ErrorRate)

	c.mu.Lock()
	c.history = append(c.history, agg)
	c.purgeLocked()
	c.pushTrendLocked("avg_rating", agg.AvgRating)
	c.pushTrendLocked("avg_accuracy", agg.AvgAccuracy)
	c.pushTrendLocked("avg_response_time_ms", agg.AvgResponseTimeMs)
	c.pushTrendLocked("error_rate", agg.ErrorRate)
	c.pushTrendLocked("overall_performance", agg.KPIs.OverallPerformance)
	c.mu.Unlock()

	if c.sink != nil {
		if err := c.sink.Export(ctx, agg); err != nil {
			c.logger.Warn("influx export failed", "error", err)
		}
	}

	c.logger.Info("feedback batch aggregated",
		"samples", len(samples),
		"avg_rating", agg.AvgRating,
		"error_rate", agg.ErrorRate,
		"overall_performance", agg.KPIs.OverallPerformance)
	return agg
}

// deriveKPIs blends aggregate metrics into the three 0-1 indicators.
func deriveKPIs(agg *Aggregate) KPIs {
	satisfaction := agg.AvgRating / 5

	performance := 0.3*agg.AvgAccuracy +
		0.4*satisfaction +
		0.2*agg.AvgQuality +
		0.1*(1-agg.ErrorRate)

	volumeFactor := math.Min(1, float64(agg.SampleCount)/engagementVolumeRef)
	engagement := 0.4*volumeFactor + 0.3*satisfaction + 0.3*agg.AvgQuality

	responseFactor := math.Exp(-agg.AvgResponseTimeMs / reliabilityDecayMs)
	reliability := 0.5*responseFactor + 0.5*(1-agg.ErrorRate)

	return KPIs{
		OverallPerformance: performance,
		UserEngagement:     engagement,
		SystemReliability:  reliability,
	}
}

// checkThresholds raises one alert per breached threshold, each
// independently.
func (c *Collector) checkThresholds(accuracy, rating, responseTimeMs, errorRate float64) {
	thr := c.cfg.Thresholds

	type breach struct {
		metric    string
		threshold float64
		value     float64
		isCeiling bool
	}
	checks := []breach{
		{"accuracy", thr.Accuracy, accuracy, false},
		{"user_satisfaction", thr.UserSatisfaction, rating, false},
		{"response_time_ms", thr.ResponseTimeMs, responseTimeMs, true},
		{"error_rate", thr.ErrorRate, errorRate, true},
	}

	for _, b := range checks {
		breached := b.value < b.threshold
		if b.isCeiling {
			breached = b.value > b.threshold
		}
		if !breached {
			continue
		}

		alert := &Alert{
			ID:        uuid.NewString(),
			Metric:    b.metric,
			Threshold: b.threshold,
			Value:     b.value,
			Message:   alertMessage(b.metric, b.isCeiling),
			Timestamp: c.now(),
		}

		c.mu.Lock()
		c.alerts = append(c.alerts, alert)
		c.mu.Unlock()

		c.logger.Warn("metric threshold breached",
			"metric", b.metric, "value", b.value, "threshold", b.threshold)
		if c.bus != nil {
			c.bus.Publish(events.TopicAlertRaised, alert)
		}
	}
}

func alertMessage(metric string, isCeiling bool) string {
	if isCeiling {
		return metric + " above threshold"
	}
	return metric + " below threshold"
}

// TrendDirections returns improving/declining/stable per tracked metric,
// from the linear-regression slope of the retained data points. Higher is
// better for every metric except response time and error rate.
func (c *Collector) TrendDirections() map[string]string {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make(map[string]string, len(c.trends))
	for metric, ring := range c.trends {
		s := slope(ring.Items())
		direction := "stable"
		switch {
		case math.Abs(s) < trendDeadband:
			// deadband
		case s > 0:
			direction = "improving"
		default:
			direction = "declining"
		}
		// Lower response time and error rate are improvements.
		if metric == "avg_response_time_ms" || metric == "error_rate" {
			switch direction {
			case "improving":
				direction = "declining"
			case "declining":
				direction = "improving"
			}
		}
		out[metric] = direction
	}
	return out
}

// History returns the retained aggregates, oldest first.
func (c *Collector) History() []*Aggregate {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*Aggregate, len(c.history))
	copy(out, c.history)
	return out
}

// Latest returns the most recent aggregate, or nil.
func (c *Collector) Latest() *Aggregate {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.history) == 0 {
		return nil
	}
	return c.history[len(c.history)-1]
}

// Alerts returns all raised alerts, oldest first.
func (c *Collector) Alerts() []*Alert {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*Alert, len(c.alerts))
	copy(out, c.alerts)
	return out
}

// Acknowledge marks an alert as handled. Returns false when the id is
// unknown.
func (c *Collector) Acknowledge(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, a := range c.alerts {
		if a.ID == id {
			a.Acknowledged = true
			return true
		}
	}
	return false
}

func (c *Collector) pushTrendLocked(metric string, value float64) {
	ring, ok := c.trends[metric]
	if !ok {
		ring = ringbuf.New[float64](trendPoints)
		c.trends[metric] = ring
	}
	ring.Push(value)
}

// purgeLocked drops aggregates older than the retention window.
func (c *Collector) purgeLocked() {
	cutoff := c.now().Add(-c.cfg.Retention)
	keep := c.history[:0]
	for _, agg := range c.history {
		if agg.Timestamp.After(cutoff) {
			keep = append(keep, agg)
		}
	}
	c.history = keep
}

// slope is the least-squares slope of ys against their indices.
func slope(ys []float64) float64 {
	n := float64(len(ys))
	if len(ys) < 2 {
		return 0
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
		return 0
	}
	return (n*sumXY - sumX*sumY) / denom
}
