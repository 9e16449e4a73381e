// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/AleutianAI/relearn/services/learning/config"
	"github.com/AleutianAI/relearn/services/learning/drift"
	"github.com/AleutianAI/relearn/services/learning/events"
	"github.com/AleutianAI/relearn/services/learning/experiment"
	"github.com/AleutianAI/relearn/services/learning/feedback"
	"github.com/AleutianAI/relearn/services/learning/metrics"
	"github.com/AleutianAI/relearn/services/learning/storage"
	"github.com/AleutianAI/relearn/services/learning/telemetry"
	"github.com/AleutianAI/relearn/services/learning/training"
)

type stubSource struct {
	mu      sync.Mutex
	samples []feedback.Sample
	err     error
	calls   int
}

func (s *stubSource) Collect(_ context.Context, _, _ time.Time) ([]feedback.Sample, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return s.samples, nil
}

func (s *stubSource) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

type stubIncidents struct {
	incidents []feedback.Incident
}

func (s *stubIncidents) CollectIncidents(_ context.Context, _, _ time.Time) ([]feedback.Incident, error) {
	return s.incidents, nil
}

func testPipelineConfig() config.Config {
	cfg := config.Default()
	cfg.Pipeline.CycleInterval = time.Hour
	cfg.Pipeline.MinSamplesForRetraining = 5
	cfg.Pipeline.EmergencyRetrainDelay = 10 * time.Millisecond
	cfg.Pipeline.DeployMinSamplesPerArm = 2
	cfg.Experiment.MinSampleSize = 2
	return cfg
}

// ratedSamples builds n samples with a fixed rating and healthy scores
// elsewhere.
func ratedSamples(n int, rating float64) []feedback.Sample {
	out := make([]feedback.Sample, n)
	for i := range out {
		out[i] = feedback.Sample{
			ID:             fmt.Sprintf("fb-%03d", i),
			UserID:         fmt.Sprintf("user-%03d", i),
			Rating:         rating,
			Accuracy:       0.9,
			Usefulness:     4,
			Relevance:      4,
			Quality:        0.9,
			ResponseTimeMs: 120,
			SuggestionType: "article",
			UserSegment:    "standard",
			DeviceType:     "desktop",
			Timestamp:      time.Now(),
		}
	}
	return out
}

func newTestPipeline(t *testing.T, cfg config.Config, src *stubSource) *Pipeline {
	t.Helper()
	p, err := New(cfg, Deps{
		Source:    src,
		Trainer:   &training.StaticTrainer{Version: "v2"},
		Validator: &training.StaticValidator{Pass: true, Score: 0.9},
	})
	require.NoError(t, err)
	return p
}

func TestNewRequiresSource(t *testing.T) {
	_, err := New(testPipelineConfig(), Deps{})
	assert.ErrorIs(t, err, config.ErrInvalidConfig)
}

func TestStartStopLifecycle(t *testing.T) {
	src := &stubSource{}
	p := newTestPipeline(t, testPipelineConfig(), src)

	assert.ErrorIs(t, p.Stop(), ErrNotRunning)
	assert.ErrorIs(t, p.ForceCycle(context.Background()), ErrNotRunning)

	require.NoError(t, p.Start(context.Background()))
	assert.ErrorIs(t, p.Start(context.Background()), ErrAlreadyRunning)
	assert.True(t, p.Status().Running)

	require.NoError(t, p.Stop())
	assert.False(t, p.Status().Running)
	assert.ErrorIs(t, p.Stop(), ErrNotRunning)
}

func TestForcedCycleWithNoFeedback(t *testing.T) {
	src := &stubSource{}
	p := newTestPipeline(t, testPipelineConfig(), src)
	require.NoError(t, p.Start(context.Background()))
	defer p.Stop()

	require.NoError(t, p.ForceCycle(context.Background()))

	st := p.Status()
	assert.Equal(t, 1, st.CyclesCompleted)
	assert.Zero(t, st.CyclesFailed)
	assert.Equal(t, "idle", st.Phase)
	assert.Empty(t, st.LastCycleError)
	assert.False(t, st.LastCycleAt.IsZero())
	assert.True(t, st.NextCycleAt.After(st.LastCycleAt))
	assert.Equal(t, 1, src.callCount())
}

func TestRetrainGateRequiresSamplesAndTrigger(t *testing.T) {
	// Healthy ratings and no new patterns: enough samples alone must
	// not trigger a retrain.
	src := &stubSource{samples: ratedSamples(20, 5)}
	p := newTestPipeline(t, testPipelineConfig(), src)
	require.NoError(t, p.Start(context.Background()))
	defer p.Stop()

	require.NoError(t, p.ForceCycle(context.Background()))
	assert.True(t, p.Status().LastRetrainAt.IsZero())
	assert.Empty(t, p.Status().ActiveExperimentID)
}

func TestLowSatisfactionTriggersRetrainAndExperiment(t *testing.T) {
	src := &stubSource{samples: ratedSamples(20, 2)}
	p := newTestPipeline(t, testPipelineConfig(), src)
	require.NoError(t, p.Start(context.Background()))
	defer p.Stop()

	require.NoError(t, p.ForceCycle(context.Background()))

	st := p.Status()
	assert.False(t, st.LastRetrainAt.IsZero())
	assert.Equal(t, 1, st.ModelsRetrained)
	assert.Equal(t, "v2", st.CandidateVersion)
	require.NotEmpty(t, st.ActiveExperimentID)
	assert.InDelta(t, 0.9, st.LastValidationScore, 1e-9)

	exp, err := p.Experiments().Get(st.ActiveExperimentID)
	require.NoError(t, err)
	assert.Equal(t, experiment.StatusActive, exp.Status)
	require.Len(t, exp.Variants, 2)
	assert.Equal(t, "incumbent", exp.Variants[0].Name)
	assert.Equal(t, "candidate", exp.Variants[1].Name)
}

func TestFailedValidationSkipsExperiment(t *testing.T) {
	src := &stubSource{samples: ratedSamples(20, 2)}
	p, err := New(testPipelineConfig(), Deps{
		Source:    src,
		Trainer:   &training.StaticTrainer{Version: "v2"},
		Validator: &training.StaticValidator{Pass: false, Score: 0.4},
	})
	require.NoError(t, err)
	require.NoError(t, p.Start(context.Background()))
	defer p.Stop()

	require.NoError(t, p.ForceCycle(context.Background()))

	st := p.Status()
	assert.False(t, st.LastRetrainAt.IsZero())
	assert.Empty(t, st.ActiveExperimentID)
	assert.Equal(t, 1, st.CyclesCompleted)
}

func TestCycleErrorIsIsolated(t *testing.T) {
	src := &stubSource{err: errors.New("index unavailable")}
	p := newTestPipeline(t, testPipelineConfig(), src)

	var mu sync.Mutex
	var cycleErrs int
	p.bus.Subscribe(events.TopicCycleError, func(any) {
		mu.Lock()
		cycleErrs++
		mu.Unlock()
	})

	require.NoError(t, p.Start(context.Background()))
	defer p.Stop()

	require.NoError(t, p.ForceCycle(context.Background()))

	st := p.Status()
	assert.Equal(t, 1, st.CyclesFailed)
	assert.Zero(t, st.CyclesCompleted)
	assert.Contains(t, st.LastCycleError, "index unavailable")
	assert.True(t, st.Running)

	mu.Lock()
	assert.Equal(t, 1, cycleErrs)
	mu.Unlock()

	// Recovery: the next cycle succeeds and clears the error.
	src.mu.Lock()
	src.err = nil
	src.mu.Unlock()
	require.NoError(t, p.ForceCycle(context.Background()))
	st = p.Status()
	assert.Equal(t, 1, st.CyclesCompleted)
	assert.Empty(t, st.LastCycleError)
}

func TestDeployDecisionThresholds(t *testing.T) {
	cfg := testPipelineConfig()
	p := newTestPipeline(t, cfg, &stubSource{})

	base := func() *experiment.Result {
		return &experiment.Result{
			ExperimentID: "exp-1",
			Significant:  true,
			Variants: []experiment.VariantStats{
				{Name: "incumbent", Participants: 100, ConversionRate: 0.10, AvgValue: 3.0},
				{Name: "candidate", Participants: 100, ConversionRate: 0.20, AvgValue: 3.5},
			},
		}
	}

	deploy, reason := p.deployDecision(base())
	assert.True(t, deploy, reason)

	r := base()
	r.Significant = false
	deploy, reason = p.deployDecision(r)
	assert.False(t, deploy)
	assert.Contains(t, reason, "significant")

	r = base()
	r.Variants[1].Participants = 1
	deploy, reason = p.deployDecision(r)
	assert.False(t, deploy)
	assert.Contains(t, reason, "per arm")

	r = base()
	r.Variants[1].ConversionRate = 0.12
	deploy, reason = p.deployDecision(r)
	assert.False(t, deploy)
	assert.Contains(t, reason, "conversion lift")

	r = base()
	r.Variants[1].AvgValue = 3.1
	deploy, reason = p.deployDecision(r)
	assert.False(t, deploy)
	assert.Contains(t, reason, "satisfaction lift")
}

func TestExperimentCompletionPromotesCandidate(t *testing.T) {
	src := &stubSource{samples: ratedSamples(20, 2)}
	p := newTestPipeline(t, testPipelineConfig(), src)
	require.NoError(t, p.Start(context.Background()))
	defer p.Stop()

	require.NoError(t, p.ForceCycle(context.Background()))
	expID := p.Status().ActiveExperimentID
	require.NotEmpty(t, expID)

	p.bus.Publish(events.TopicExperimentCompleted, &experiment.Result{
		ExperimentID: expID,
		Significant:  true,
		Variants: []experiment.VariantStats{
			{Name: "incumbent", Participants: 100, ConversionRate: 0.10, AvgValue: 3.0},
			{Name: "candidate", Participants: 100, ConversionRate: 0.20, AvgValue: 3.5},
		},
	})

	st := p.Status()
	assert.Equal(t, "v2", st.CurrentModelVersion)
	assert.Empty(t, st.ActiveExperimentID)
	assert.True(t, strings.HasPrefix(st.LastDeployDecision, "deployed"))
}

func TestUnrelatedExperimentResultIgnored(t *testing.T) {
	p := newTestPipeline(t, testPipelineConfig(), &stubSource{})
	require.NoError(t, p.Start(context.Background()))
	defer p.Stop()

	p.bus.Publish(events.TopicExperimentCompleted, &experiment.Result{
		ExperimentID: "someone-elses",
		Significant:  true,
	})
	assert.Equal(t, "baseline", p.Status().CurrentModelVersion)
	assert.Empty(t, p.Status().LastDeployDecision)
}

func TestCheckpointRoundTrip(t *testing.T) {
	store, err := storage.Open(storage.InMemoryConfig())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	cfg := testPipelineConfig()
	src := &stubSource{samples: ratedSamples(20, 2)}

	p1, err := New(cfg, Deps{
		Source:    src,
		Trainer:   &training.StaticTrainer{Version: "v2"},
		Validator: &training.StaticValidator{Pass: true, Score: 0.9},
		Store:     store,
	})
	require.NoError(t, err)
	require.NoError(t, p1.Start(context.Background()))
	require.NoError(t, p1.ForceCycle(context.Background()))
	require.NoError(t, p1.Stop())

	p2, err := New(cfg, Deps{
		Source:    src,
		Trainer:   &training.StaticTrainer{Version: "v3"},
		Validator: &training.StaticValidator{Pass: true, Score: 0.9},
		Store:     store,
	})
	require.NoError(t, err)
	require.NoError(t, p2.Start(context.Background()))
	defer p2.Stop()

	st := p2.Status()
	assert.Equal(t, 1, st.CyclesCompleted)
	assert.Equal(t, 1, st.ModelsRetrained)
	assert.False(t, st.LastRetrainAt.IsZero())
	assert.InDelta(t, 0.9, st.LastValidationScore, 1e-9)
	// The rollout experiment is not resurrected across restarts.
	assert.Empty(t, st.ActiveExperimentID)
}

func TestScheduledCycleRuns(t *testing.T) {
	cfg := testPipelineConfig()
	cfg.Pipeline.CycleInterval = 20 * time.Millisecond

	src := &stubSource{}
	p := newTestPipeline(t, cfg, src)
	require.NoError(t, p.Start(context.Background()))
	defer p.Stop()

	require.Eventually(t, func() bool {
		return p.Status().CyclesCompleted >= 2
	}, 2*time.Second, 5*time.Millisecond)
}

func newTestMetrics(t *testing.T) (*telemetry.Metrics, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = provider.Shutdown(context.Background()) })
	tel, err := telemetry.NewMetrics(provider.Meter("pipeline_test"))
	require.NoError(t, err)
	return tel, reader
}

// counterTotal sums every data point of the named Int64 counter.
func counterTotal(t *testing.T, reader *sdkmetric.ManualReader, name string) int64 {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	var total int64
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != name {
				continue
			}
			sum, ok := m.Data.(metricdata.Sum[int64])
			require.True(t, ok)
			for _, dp := range sum.DataPoints {
				total += dp.Value
			}
		}
	}
	return total
}

func TestDriftCounterCoversEverySeverity(t *testing.T) {
	tel, reader := newTestMetrics(t)
	bus := events.NewBus(nil)
	p, err := New(testPipelineConfig(), Deps{
		Source:  &stubSource{},
		Bus:     bus,
		Metrics: tel,
	})
	require.NoError(t, err)

	bus.Publish(events.TopicDriftDetected, &drift.Event{
		ID: "d-1", Severity: drift.SeverityMedium, Features: []string{"rating"},
	})
	bus.Publish(events.TopicDriftDetected, &drift.Event{
		ID: "d-2", Severity: drift.SeverityLow, Features: []string{"accuracy"},
	})

	assert.Equal(t, int64(2), counterTotal(t, reader, "learning_drift_events_total"))
	// Non-high events never schedule an emergency retrain.
	assert.Zero(t, p.Status().EmergencyRetrains)
}

func TestAlertCounterTracksRaisedAlerts(t *testing.T) {
	tel, reader := newTestMetrics(t)
	bus := events.NewBus(nil)
	_, err := New(testPipelineConfig(), Deps{
		Source:  &stubSource{},
		Bus:     bus,
		Metrics: tel,
	})
	require.NoError(t, err)

	bus.Publish(events.TopicAlertRaised, &metrics.Alert{
		ID: "al-1", Metric: "error_rate", Threshold: 0.01, Value: 0.05,
	})
	bus.Publish(events.TopicAlertRaised, &metrics.Alert{
		ID: "al-2", Metric: "avg_response_time_ms", Threshold: 1000, Value: 2400,
	})

	assert.Equal(t, int64(2), counterTotal(t, reader, "learning_alerts_total"))
}

// gatedSource parks Collect until released so a test can hold a retrain
// mid-flight.
type gatedSource struct {
	entered chan struct{}
	release chan struct{}
}

func (g *gatedSource) Collect(_ context.Context, _, _ time.Time) ([]feedback.Sample, error) {
	select {
	case g.entered <- struct{}{}:
	default:
	}
	<-g.release
	return ratedSamples(10, 2), nil
}

func TestStopDiscardsInFlightEmergencyRetrain(t *testing.T) {
	src := &gatedSource{
		entered: make(chan struct{}, 1),
		release: make(chan struct{}),
	}
	p, err := New(testPipelineConfig(), Deps{
		Source:    src,
		Trainer:   &training.StaticTrainer{Version: "v2"},
		Validator: &training.StaticValidator{Pass: true, Score: 0.9},
	})
	require.NoError(t, err)
	require.NoError(t, p.Start(context.Background()))

	retrainDone := make(chan struct{})
	go func() {
		defer close(retrainDone)
		p.emergencyRetrain()
	}()
	<-src.entered

	stopDone := make(chan error, 1)
	go func() { stopDone <- p.Stop() }()
	require.Eventually(t, func() bool {
		return !p.Status().Running
	}, 2*time.Second, time.Millisecond)

	close(src.release)
	<-retrainDone
	require.NoError(t, <-stopDone)

	st := p.Status()
	assert.Zero(t, st.EmergencyRetrains)
	assert.Empty(t, st.ActiveExperimentID)
	assert.Equal(t, "baseline", st.CurrentModelVersion)
}
