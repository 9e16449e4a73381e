// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package patterns analyzes incident streams for emerging structure.
//
// # Description
//
// The Analyzer runs five independent analyses over each batch of recent
// incidents: new incident types (embedding clusters dissimilar from every
// known pattern), per-system behavior changes against rolling baselines,
// least-squares trends over bucketed metrics, cross-system Pearson
// correlations over hourly volumes, and hour/day/month seasonality. An
// optional sixth pass flags z-score volume anomalies. Findings combine
// into deterministic operator recommendations.
//
// # Thread Safety
//
// Analyzer is safe for concurrent use, though analyses of overlapping
// incident batches will race on baseline refresh; the pipeline calls it
// from a single goroutine.
package patterns

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/AleutianAI/relearn/pkg/logging"
	"github.com/AleutianAI/relearn/services/learning/config"
	"github.com/AleutianAI/relearn/services/learning/embedding"
	"github.com/AleutianAI/relearn/services/learning/events"
	"github.com/AleutianAI/relearn/services/learning/feedback"
)

// seasonalityVarianceMin is the distribution variance above which a
// seasonal concentration is flagged. A perfectly uniform distribution
// has variance 0.
const seasonalityVarianceMin = 0.01

// NewTypePattern is a newly discovered incident type.
type NewTypePattern struct {
	Pattern       *KnownPattern `json:"pattern"`
	SampleCount   int           `json:"sample_count"`
	MaxSimilarity float64       `json:"max_similarity"`
}

// BehaviorChange is a per-system metric deviation from its baseline.
type BehaviorChange struct {
	SystemID  string  `json:"system_id"`
	Metric    string  `json:"metric"`
	Baseline  float64 `json:"baseline"`
	Current   float64 `json:"current"`
	Deviation float64 `json:"deviation"`
	Critical  bool    `json:"critical"`
}

// Trend is a significant linear trend over the bucketed window.
type Trend struct {
	Metric     string  `json:"metric"`
	Slope      float64 `json:"slope"`
	TStat      float64 `json:"t_stat"`
	Direction  string  `json:"direction"`
	Current    float64 `json:"current"`
	Projected  float64 `json:"projected"`
	DaysAhead  int     `json:"days_ahead"`
	BucketSize string  `json:"bucket_size"`
}

// Correlation is a significant cross-system incident-volume correlation.
type Correlation struct {
	SystemA     string  `json:"system_a"`
	SystemB     string  `json:"system_b"`
	Coefficient float64 `json:"coefficient"`
	PValue      float64 `json:"p_value"`
}

// Seasonality summarizes temporal concentration of incident volume.
type Seasonality struct {
	HourOfDay   []float64 `json:"hour_of_day"`
	DayOfWeek   []float64 `json:"day_of_week"`
	MonthOfYear []float64 `json:"month_of_year"`

	HourVariance  float64 `json:"hour_variance"`
	DayVariance   float64 `json:"day_variance"`
	MonthVariance float64 `json:"month_variance"`

	Significant bool   `json:"significant"`
	PeakHour    int    `json:"peak_hour"`
	PeakDay     string `json:"peak_day"`
}

// Anomaly is an hourly volume bucket beyond the z-score threshold.
type Anomaly struct {
	BucketStart time.Time `json:"bucket_start"`
	Count       int       `json:"count"`
	ZScore      float64   `json:"z_score"`
}

// Report is the combined output of one analysis run.
type Report struct {
	GeneratedAt     time.Time        `json:"generated_at"`
	IncidentCount   int              `json:"incident_count"`
	NewTypes        []NewTypePattern `json:"new_types,omitempty"`
	BehaviorChanges []BehaviorChange `json:"behavior_changes,omitempty"`
	Trends          []Trend          `json:"trends,omitempty"`
	Correlations    []Correlation    `json:"correlations,omitempty"`
	Seasonality     *Seasonality     `json:"seasonality,omitempty"`
	Anomalies       []Anomaly        `json:"anomalies,omitempty"`
	Recommendations []string         `json:"recommendations"`
}

// systemBaseline holds the last observed aggregate metrics for a system.
type systemBaseline struct {
	Volume        float64
	AvgSeverity   float64
	AvgResolution float64 // minutes
}

// Analyzer runs pattern analysis over incident batches.
type Analyzer struct {
	cfg      config.Patterns
	logger   *logging.Logger
	bus      *events.Bus
	provider embedding.Provider
	store    PatternStore

	mu        sync.Mutex
	baselines map[string]systemBaseline
	corr      map[string]float64

	// now is stubbed in tests.
	now func() time.Time
}

// NewAnalyzer creates an analyzer. A nil store gets a fresh MemoryStore;
// a nil logger falls back to the default.
func NewAnalyzer(cfg config.Patterns, logger *logging.Logger, bus *events.Bus,
	provider embedding.Provider, store PatternStore) *Analyzer {
	if logger == nil {
		logger = logging.Default()
	}
	if store == nil {
		store = NewMemoryStore()
	}
	return &Analyzer{
		cfg:       cfg,
		logger:    logger,
		bus:       bus,
		provider:  provider,
		store:     store,
		baselines: make(map[string]systemBaseline),
		corr:      make(map[string]float64),
		now:       time.Now,
	}
}

// AnalyzeRecent runs all analyses over the incident batch.
//
// # Description
//
// The five analyses are independent: a failure in embedding (new-type
// detection) does not abort the statistical passes, it is logged and the
// new-type section comes back empty. An empty batch yields an empty
// report with no recommendations.
//
// # Outputs
//
//   - *Report: findings plus deterministic recommendations.
//   - error: only on context cancellation.
func (a *Analyzer) AnalyzeRecent(ctx context.Context, incidents []feedback.Incident) (*Report, error) {
	report := &Report{
		GeneratedAt:   a.now(),
		IncidentCount: len(incidents),
	}
	if len(incidents) == 0 {
		return report, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	newTypes, err := a.detectNewTypes(ctx, incidents)
	if err != nil {
		if ctx.Err() != nil {
			return nil, err
		}
		a.logger.Warn("new-type detection failed", "error", err)
	}
	report.NewTypes = newTypes

	report.BehaviorChanges = a.detectBehaviorChanges(incidents)
	report.Trends = a.detectTrends(incidents)
	report.Correlations = a.detectCorrelations(incidents)
	report.Seasonality = a.analyzeSeasonality(incidents)
	if a.cfg.AnomalyDetection {
		report.Anomalies = a.detectAnomalies(incidents)
	}
	report.Recommendations = a.recommend(report)

	a.logger.Info("pattern analysis complete",
		"incidents", len(incidents),
		"new_types", len(report.NewTypes),
		"behavior_changes", len(report.BehaviorChanges),
		"trends", len(report.Trends),
		"correlations", len(report.Correlations),
		"anomalies", len(report.Anomalies))
	return report, nil
}

// CorrelationMatrix returns a copy of the persistent pairwise correlation
// matrix, keyed "systemA|systemB" with the pair sorted.
func (a *Analyzer) CorrelationMatrix() map[string]float64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make(map[string]float64, len(a.corr))
	for k, v := range a.corr {
		out[k] = v
	}
	return out
}

// RestoreCorrelations seeds the persistent matrix, used when resuming
// from a checkpoint.
func (a *Analyzer) RestoreCorrelations(matrix map[string]float64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for k, v := range matrix {
		a.corr[k] = v
	}
}

// detectNewTypes embeds each incident and clusters the ones dissimilar
// from every known pattern centroid. Clusters of at least
// MinSamplesForPattern incidents register a new pattern, which later
// incidents in the same batch are matched against too.
func (a *Analyzer) detectNewTypes(ctx context.Context, incidents []feedback.Incident) ([]NewTypePattern, error) {
	if a.provider == nil {
		return nil, nil
	}

	var candidates []*candidate
	for _, inc := range incidents {
		if strings.TrimSpace(inc.Description) == "" {
			continue
		}
		vec, err := a.provider.Embed(ctx, inc.Description)
		if err != nil {
			return nil, fmt.Errorf("embed incident %s: %w", inc.ID, err)
		}

		maxSim := 0.0
		for _, p := range a.store.All() {
			if sim := embedding.Cosine(vec, p.Centroid); sim > maxSim {
				maxSim = sim
			}
		}
		if maxSim < a.cfg.NewTypeThreshold {
			candidates = append(candidates, &candidate{incident: inc, vector: vec, maxSim: maxSim})
		}
	}

	var found []NewTypePattern
	assigned := make(map[int]bool)
	for i, seed := range candidates {
		if assigned[i] {
			continue
		}
		cluster := []*candidate{seed}
		members := []int{i}
		for j := i + 1; j < len(candidates); j++ {
			if assigned[j] {
				continue
			}
			if embedding.Cosine(seed.vector, candidates[j].vector) >= a.cfg.NewTypeThreshold {
				cluster = append(cluster, candidates[j])
				members = append(members, j)
			}
		}
		if len(cluster) < a.cfg.MinSamplesForPattern {
			continue
		}
		for _, m := range members {
			assigned[m] = true
		}

		pattern := a.synthesizePattern(cluster)
		a.store.Put(pattern)

		maxSim := 0.0
		for _, c := range cluster {
			if c.maxSim > maxSim {
				maxSim = c.maxSim
			}
		}

		nt := NewTypePattern{
			Pattern:       pattern,
			SampleCount:   len(cluster),
			MaxSimilarity: maxSim,
		}
		found = append(found, nt)

		if a.bus != nil {
			a.bus.Publish(events.TopicPatternDiscovered, &nt)
		}
		a.logger.Info("new incident type discovered",
			"pattern_id", pattern.ID, "name", pattern.Name, "samples", len(cluster))
	}
	return found, nil
}

// candidate is an incident dissimilar from every known pattern, awaiting
// clustering.
type candidate struct {
	incident feedback.Incident
	vector   []float32
	maxSim   float64
}

// synthesizePattern builds a KnownPattern from a candidate cluster:
// normalized mean centroid, shared keywords, average severity.
func (a *Analyzer) synthesizePattern(cluster []*candidate) *KnownPattern {
	dims := len(cluster[0].vector)
	centroid := make([]float32, dims)
	var sevSum float64
	exampleIDs := make([]string, 0, len(cluster))
	descriptions := make([]string, 0, len(cluster))

	for _, c := range cluster {
		for i, v := range c.vector {
			centroid[i] += v
		}
		sevSum += c.incident.Severity
		exampleIDs = append(exampleIDs, c.incident.ID)
		descriptions = append(descriptions, c.incident.Description)
	}
	var norm float64
	for i := range centroid {
		centroid[i] /= float32(len(cluster))
		norm += float64(centroid[i]) * float64(centroid[i])
	}
	if norm > 0 {
		inv := float32(1 / math.Sqrt(norm))
		for i := range centroid {
			centroid[i] *= inv
		}
	}

	keywords := commonKeywords(descriptions, 5)
	name := "unclassified incident type"
	if len(keywords) > 0 {
		name = strings.Join(keywords, " ")
	}

	return &KnownPattern{
		ID:          uuid.NewString(),
		Name:        name,
		Centroid:    centroid,
		Keywords:    keywords,
		ExampleIDs:  exampleIDs,
		Frequency:   len(cluster),
		AvgSeverity: sevSum / float64(len(cluster)),
		CreatedAt:   a.now(),
	}
}

// commonKeywords returns up to max tokens (length > 3, lowercased) that
// appear in at least half of the descriptions, most frequent first.
func commonKeywords(descriptions []string, max int) []string {
	counts := make(map[string]int)
	for _, d := range descriptions {
		seen := make(map[string]bool)
		for _, tok := range strings.Fields(strings.ToLower(d)) {
			tok = strings.Trim(tok, ".,;:!?()[]\"'")
			if len(tok) <= 3 || seen[tok] {
				continue
			}
			seen[tok] = true
			counts[tok]++
		}
	}

	floor := (len(descriptions) + 1) / 2
	type kw struct {
		token string
		count int
	}
	var keep []kw
	for tok, c := range counts {
		if c >= floor {
			keep = append(keep, kw{tok, c})
		}
	}
	sort.Slice(keep, func(i, j int) bool {
		if keep[i].count != keep[j].count {
			return keep[i].count > keep[j].count
		}
		return keep[i].token < keep[j].token
	})

	out := make([]string, 0, max)
	for _, k := range keep {
		if len(out) == max {
			break
		}
		out = append(out, k.token)
	}
	return out
}

// detectBehaviorChanges compares per-system aggregates against the stored
// baselines and refreshes every baseline afterward (last write wins).
func (a *Analyzer) detectBehaviorChanges(incidents []feedback.Incident) []BehaviorChange {
	current := make(map[string]systemBaseline)
	counts := make(map[string]int)
	for _, inc := range incidents {
		b := current[inc.SystemID]
		b.Volume++
		b.AvgSeverity += inc.Severity
		b.AvgResolution += inc.ResolutionTime.Minutes()
		current[inc.SystemID] = b
		counts[inc.SystemID]++
	}
	for id, b := range current {
		n := float64(counts[id])
		b.AvgSeverity /= n
		b.AvgResolution /= n
		current[id] = b
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	var changes []BehaviorChange
	systems := make([]string, 0, len(current))
	for id := range current {
		systems = append(systems, id)
	}
	sort.Strings(systems)

	for _, id := range systems {
		cur := current[id]
		base, ok := a.baselines[id]
		if ok {
			for _, m := range []struct {
				name       string
				base, curr float64
			}{
				{"volume", base.Volume, cur.Volume},
				{"avg_severity", base.AvgSeverity, cur.AvgSeverity},
				{"avg_resolution_minutes", base.AvgResolution, cur.AvgResolution},
			} {
				if m.base == 0 {
					continue
				}
				dev := (m.curr - m.base) / m.base
				if math.Abs(dev) > a.cfg.BehaviorChangeThreshold {
					changes = append(changes, BehaviorChange{
						SystemID:  id,
						Metric:    m.name,
						Baseline:  m.base,
						Current:   m.curr,
						Deviation: dev,
						Critical:  math.Abs(dev) > 2*a.cfg.BehaviorChangeThreshold,
					})
				}
			}
		}
		a.baselines[id] = cur
	}
	return changes
}

// detectTrends buckets the trend window and fits OLS per tracked metric.
// A trend is significant when |t| >= 2, the simplified check carried over
// from the original heuristic.
func (a *Analyzer) detectTrends(incidents []feedback.Incident) []Trend {
	nBuckets := int(a.cfg.TrendWindow / a.cfg.TrendBucket)
	if nBuckets < 3 {
		return nil
	}

	end := a.now()
	start := end.Add(-a.cfg.TrendWindow)

	volume := make([]float64, nBuckets)
	sevSum := make([]float64, nBuckets)
	resSum := make([]float64, nBuckets)
	catSet := make([]map[string]bool, nBuckets)
	for i := range catSet {
		catSet[i] = make(map[string]bool)
	}

	for _, inc := range incidents {
		if inc.Timestamp.Before(start) || !inc.Timestamp.Before(end) {
			continue
		}
		idx := int(inc.Timestamp.Sub(start) / a.cfg.TrendBucket)
		if idx >= nBuckets {
			idx = nBuckets - 1
		}
		volume[idx]++
		sevSum[idx] += inc.Severity
		resSum[idx] += inc.ResolutionTime.Minutes()
		if inc.Category != "" {
			catSet[idx][inc.Category] = true
		}
	}

	severity := make([]float64, nBuckets)
	resolution := make([]float64, nBuckets)
	diversity := make([]float64, nBuckets)
	for i := 0; i < nBuckets; i++ {
		if volume[i] > 0 {
			severity[i] = sevSum[i] / volume[i]
			resolution[i] = resSum[i] / volume[i]
		}
		diversity[i] = float64(len(catSet[i]))
	}

	bucketsPerDay := float64(24*time.Hour) / float64(a.cfg.TrendBucket)
	projectAt := float64(nBuckets-1) + float64(a.cfg.ProjectionDays)*bucketsPerDay

	var trends []Trend
	for _, series := range []struct {
		name string
		ys   []float64
	}{
		{"volume", volume},
		{"severity", severity},
		{"resolution_minutes", resolution},
		{"category_diversity", diversity},
	} {
		fit := olsFit(series.ys)
		if math.Abs(fit.tStat) < 2 || fit.slope == 0 {
			continue
		}
		direction := "increasing"
		if fit.slope < 0 {
			direction = "decreasing"
		}
		trends = append(trends, Trend{
			Metric:     series.name,
			Slope:      fit.slope,
			TStat:      fit.tStat,
			Direction:  direction,
			Current:    fit.intercept + fit.slope*float64(nBuckets-1),
			Projected:  fit.intercept + fit.slope*projectAt,
			DaysAhead:  a.cfg.ProjectionDays,
			BucketSize: a.cfg.TrendBucket.String(),
		})
	}
	return trends
}

// detectCorrelations computes pairwise Pearson correlation of hourly
// incident counts per system and updates the persistent matrix. The
// p-value is the 1-|r| heuristic, not an exact test.
func (a *Analyzer) detectCorrelations(incidents []feedback.Incident) []Correlation {
	if len(incidents) == 0 {
		return nil
	}

	minTime, maxTime := incidents[0].Timestamp, incidents[0].Timestamp
	for _, inc := range incidents[1:] {
		if inc.Timestamp.Before(minTime) {
			minTime = inc.Timestamp
		}
		if inc.Timestamp.After(maxTime) {
			maxTime = inc.Timestamp
		}
	}
	base := minTime.Truncate(time.Hour)
	nBuckets := int(maxTime.Sub(base)/time.Hour) + 1
	if nBuckets < 3 {
		return nil
	}

	bySystem := make(map[string][]float64)
	for _, inc := range incidents {
		if _, ok := bySystem[inc.SystemID]; !ok {
			bySystem[inc.SystemID] = make([]float64, nBuckets)
		}
		bySystem[inc.SystemID][int(inc.Timestamp.Sub(base)/time.Hour)]++
	}

	systems := make([]string, 0, len(bySystem))
	for id := range bySystem {
		systems = append(systems, id)
	}
	sort.Strings(systems)

	a.mu.Lock()
	defer a.mu.Unlock()

	var out []Correlation
	for i := 0; i < len(systems); i++ {
		for j := i + 1; j < len(systems); j++ {
			r := pearson(bySystem[systems[i]], bySystem[systems[j]])
			a.corr[systems[i]+"|"+systems[j]] = r
			if math.Abs(r) > a.cfg.CorrelationThreshold {
				out = append(out, Correlation{
					SystemA:     systems[i],
					SystemB:     systems[j],
					Coefficient: r,
					PValue:      1 - math.Abs(r),
				})
			}
		}
	}
	return out
}

// analyzeSeasonality builds normalized hour/day/month distributions and
// flags concentration when any variance exceeds the fixed minimum.
func (a *Analyzer) analyzeSeasonality(incidents []feedback.Incident) *Seasonality {
	hours := make([]float64, 24)
	days := make([]float64, 7)
	months := make([]float64, 12)
	for _, inc := range incidents {
		hours[inc.Timestamp.Hour()]++
		days[int(inc.Timestamp.Weekday())]++
		months[int(inc.Timestamp.Month())-1]++
	}

	n := float64(len(incidents))
	normalize := func(xs []float64) {
		for i := range xs {
			xs[i] /= n
		}
	}
	normalize(hours)
	normalize(days)
	normalize(months)

	s := &Seasonality{
		HourOfDay:     hours,
		DayOfWeek:     days,
		MonthOfYear:   months,
		HourVariance:  variance(hours),
		DayVariance:   variance(days),
		MonthVariance: variance(months),
	}
	s.Significant = s.HourVariance > seasonalityVarianceMin ||
		s.DayVariance > seasonalityVarianceMin ||
		s.MonthVariance > seasonalityVarianceMin

	peakHour, peakDay := 0, 0
	for h := range hours {
		if hours[h] > hours[peakHour] {
			peakHour = h
		}
	}
	for d := range days {
		if days[d] > days[peakDay] {
			peakDay = d
		}
	}
	s.PeakHour = peakHour
	s.PeakDay = time.Weekday(peakDay).String()
	return s
}

// detectAnomalies z-scores each hourly volume bucket against the mean and
// standard deviation of all buckets.
func (a *Analyzer) detectAnomalies(incidents []feedback.Incident) []Anomaly {
	if len(incidents) == 0 {
		return nil
	}

	minTime := incidents[0].Timestamp
	for _, inc := range incidents[1:] {
		if inc.Timestamp.Before(minTime) {
			minTime = inc.Timestamp
		}
	}
	base := minTime.Truncate(time.Hour)

	counts := make(map[int]int)
	maxIdx := 0
	for _, inc := range incidents {
		idx := int(inc.Timestamp.Sub(base) / time.Hour)
		counts[idx]++
		if idx > maxIdx {
			maxIdx = idx
		}
	}

	series := make([]float64, maxIdx+1)
	for idx, c := range counts {
		series[idx] = float64(c)
	}
	mean, std := meanStd(series)
	if std == 0 {
		return nil
	}

	var anomalies []Anomaly
	for idx, v := range series {
		z := (v - mean) / std
		if math.Abs(z) > a.cfg.AnomalyThreshold {
			anomalies = append(anomalies, Anomaly{
				BucketStart: base.Add(time.Duration(idx) * time.Hour),
				Count:       int(v),
				ZScore:      z,
			})
		}
	}
	return anomalies
}

// recommend derives operator actions from the findings. Output order is
// stable for a given report.
func (a *Analyzer) recommend(report *Report) []string {
	var recs []string

	if n := len(report.NewTypes); n > 0 {
		recs = append(recs, fmt.Sprintf(
			"Update the knowledge base: %d new incident type(s) discovered", n))
		for _, nt := range report.NewTypes {
			recs = append(recs, fmt.Sprintf(
				"Document new incident type %q (%d samples, avg severity %.2f)",
				nt.Pattern.Name, nt.SampleCount, nt.Pattern.AvgSeverity))
		}
	}

	for _, bc := range report.BehaviorChanges {
		if !bc.Critical {
			continue
		}
		recs = append(recs, fmt.Sprintf(
			"Investigate system %s: %s deviated %+.0f%% from baseline",
			bc.SystemID, bc.Metric, bc.Deviation*100))
	}

	for _, tr := range report.Trends {
		if tr.Direction != "increasing" {
			continue
		}
		recs = append(recs, fmt.Sprintf(
			"Plan capacity: %s trending up, projected %.1f in %d day(s)",
			tr.Metric, tr.Projected, tr.DaysAhead))
	}

	for _, c := range report.Correlations {
		recs = append(recs, fmt.Sprintf(
			"Monitor systems %s and %s together (correlation %.2f)",
			c.SystemA, c.SystemB, c.Coefficient))
	}

	return recs
}
