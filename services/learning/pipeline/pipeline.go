// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package pipeline orchestrates the continuous learning loop.
//
// # Description
//
// The Pipeline owns the four leaf components (metrics collector, drift
// detector, pattern analyzer, experiment manager) and drives them with a
// single scheduler goroutine. Each learning cycle runs its phases in
// strict order: collect feedback, aggregate metrics and check drift,
// analyze incident patterns, decide whether to retrain, and on a passing
// validation open a candidate-vs-incumbent experiment. The scheduler
// re-arms only after a cycle settles, so cycles never overlap; a failed
// cycle is logged and emitted as a cycle.error event, never fatal.
//
// High-severity drift schedules an out-of-band emergency retrain. The
// experiment manager's completion event drives the deploy decision.
// After every cycle the pipeline checkpoints its state, the pattern
// registry, the correlation matrix, and experiment snapshots to the
// storage layer so a restart resumes counters and registries.
//
// # Thread Safety
//
// All exported methods are safe for concurrent use; cycle execution is
// serialized internally.
package pipeline

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/AleutianAI/relearn/pkg/logging"
	"github.com/AleutianAI/relearn/services/learning/config"
	"github.com/AleutianAI/relearn/services/learning/drift"
	"github.com/AleutianAI/relearn/services/learning/embedding"
	"github.com/AleutianAI/relearn/services/learning/events"
	"github.com/AleutianAI/relearn/services/learning/experiment"
	"github.com/AleutianAI/relearn/services/learning/feedback"
	"github.com/AleutianAI/relearn/services/learning/metrics"
	"github.com/AleutianAI/relearn/services/learning/patterns"
	"github.com/AleutianAI/relearn/services/learning/storage"
	"github.com/AleutianAI/relearn/services/learning/telemetry"
	"github.com/AleutianAI/relearn/services/learning/training"
)

// Checkpoint keys in the storage layer.
const (
	keyState        = "pipeline/state"
	keyPatterns     = "pipeline/patterns"
	keyCorrelations = "pipeline/correlations"
	keyExperiments  = "pipeline/experiments"
)

const (
	variantIncumbent = "incumbent"
	variantCandidate = "candidate"
)

// State is the pipeline's externally visible status. A single writer
// (the scheduler) mutates it; readers get copies.
type State struct {
	Running             bool      `json:"running"`
	Phase               string    `json:"phase"`
	CyclesCompleted     int       `json:"cycles_completed"`
	CyclesFailed        int       `json:"cycles_failed"`
	LastCycleAt         time.Time `json:"last_cycle_at,omitzero"`
	NextCycleAt         time.Time `json:"next_cycle_at,omitzero"`
	LastCycleError      string    `json:"last_cycle_error,omitempty"`
	ModelsRetrained     int       `json:"models_retrained"`
	PatternsDiscovered  int       `json:"patterns_discovered"`
	LastRetrainAt       time.Time `json:"last_retrain_at,omitzero"`
	EmergencyRetrains   int       `json:"emergency_retrains"`
	CurrentModelVersion string    `json:"current_model_version"`
	CandidateVersion    string    `json:"candidate_version,omitempty"`
	ActiveExperimentID  string    `json:"active_experiment_id,omitempty"`
	LastDeployDecision  string    `json:"last_deploy_decision,omitempty"`
	LastValidationScore float64   `json:"last_validation_score"`
}

// Deps are the pipeline's collaborators. Nil leaf components are built
// from the configuration; Source, Trainer, and Validator are required.
type Deps struct {
	Logger         *logging.Logger
	Bus            *events.Bus
	Source         feedback.Source
	IncidentSource feedback.IncidentSource
	Trainer        training.Trainer
	Validator      training.Validator

	Collector    *metrics.Collector
	Detector     *drift.Detector
	Analyzer     *patterns.Analyzer
	PatternStore *patterns.MemoryStore
	Experiments  *experiment.Manager

	// Store enables checkpoint persistence when non-nil.
	Store *storage.Store

	// Metrics enables telemetry counters when non-nil.
	Metrics *telemetry.Metrics
}

// Pipeline is the learning-loop orchestrator.
type Pipeline struct {
	cfg    config.Config
	logger *logging.Logger
	bus    *events.Bus

	source         feedback.Source
	incidentSource feedback.IncidentSource
	trainer        training.Trainer
	validator      training.Validator

	collector    *metrics.Collector
	detector     *drift.Detector
	analyzer     *patterns.Analyzer
	patternStore *patterns.MemoryStore
	experiments  *experiment.Manager
	store        *storage.Store
	tel          *telemetry.Metrics

	mu      sync.Mutex
	state   State
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
	resetCh chan struct{}

	// cycleMu serializes cycle execution between the scheduler,
	// ForceCycle, and emergency retrains.
	cycleMu sync.Mutex

	emergencyMu    sync.Mutex
	emergencyTimer *time.Timer
}

// New builds a pipeline from the configuration and collaborators.
//
// # Outputs
//
//   - *Pipeline: ready to Start.
//   - error: missing required collaborators.
func New(cfg config.Config, deps Deps) (*Pipeline, error) {
	if deps.Source == nil {
		return nil, fmt.Errorf("%w: feedback source is required", config.ErrInvalidConfig)
	}

	logger := deps.Logger
	if logger == nil {
		logger = logging.Default()
	}
	bus := deps.Bus
	if bus == nil {
		bus = events.NewBus(logger)
	}

	p := &Pipeline{
		cfg:            cfg,
		logger:         logger,
		bus:            bus,
		source:         deps.Source,
		incidentSource: deps.IncidentSource,
		trainer:        deps.Trainer,
		validator:      deps.Validator,
		collector:      deps.Collector,
		detector:       deps.Detector,
		analyzer:       deps.Analyzer,
		patternStore:   deps.PatternStore,
		experiments:    deps.Experiments,
		store:          deps.Store,
		tel:            deps.Metrics,
	}
	p.state.Phase = "idle"
	p.state.CurrentModelVersion = "baseline"

	if p.trainer == nil {
		p.trainer = &training.StaticTrainer{}
	}
	if p.validator == nil {
		p.validator = &training.StaticValidator{Pass: true, Score: 1.0}
	}
	if p.collector == nil {
		p.collector = metrics.NewCollector(cfg.Metrics, logger, bus, metrics.NewInfluxSink(cfg.Metrics.Influx))
	}
	if p.detector == nil {
		p.detector = drift.NewDetector(cfg.Drift, bus, logger)
	}
	if p.patternStore == nil {
		p.patternStore = patterns.NewMemoryStore()
	}
	if p.analyzer == nil {
		provider, err := embedding.NewProvider(cfg.Embedding, "")
		if err != nil {
			// Offline fallback when no API key is configured.
			provider = embedding.NewHashProvider(0)
			logger.Warn("embedding provider unavailable, using hash provider", "error", err)
		}
		p.analyzer = patterns.NewAnalyzer(cfg.Patterns, logger, bus, provider, p.patternStore)
	}
	if p.experiments == nil {
		p.experiments = experiment.NewManager(cfg.Experiment, logger, bus)
	}
	if p.tel != nil {
		p.experiments.WithTelemetry(p.tel)
	}

	bus.Subscribe(events.TopicDriftDetected, p.onDrift)
	bus.Subscribe(events.TopicExperimentCompleted, p.onExperimentCompleted)
	bus.Subscribe(events.TopicAlertRaised, p.onAlert)

	return p, nil
}

// Start restores the last checkpoint and launches the scheduler.
func (p *Pipeline) Start(ctx context.Context) error {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return ErrAlreadyRunning
	}
	p.running = true
	p.state.Running = true
	p.state.NextCycleAt = time.Now().Add(p.cfg.Pipeline.CycleInterval)
	p.stopCh = make(chan struct{})
	p.doneCh = make(chan struct{})
	p.resetCh = make(chan struct{}, 1)
	stopCh, doneCh := p.stopCh, p.doneCh
	p.mu.Unlock()

	p.restoreCheckpoint()

	p.logger.Info("pipeline started",
		"cycle_interval", p.cfg.Pipeline.CycleInterval.String(),
		"feedback_window", p.cfg.Pipeline.FeedbackWindow.String())

	go p.loop(ctx, stopCh, doneCh)
	return nil
}

// Stop halts the scheduler, cancels pending timers, and checkpoints.
// In-flight cycle results are discarded once the stop flag is set.
func (p *Pipeline) Stop() error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return ErrNotRunning
	}
	p.running = false
	p.state.Running = false
	close(p.stopCh)
	doneCh := p.doneCh
	p.mu.Unlock()

	<-doneCh

	p.emergencyMu.Lock()
	if p.emergencyTimer != nil {
		p.emergencyTimer.Stop()
		p.emergencyTimer = nil
	}
	p.emergencyMu.Unlock()

	p.experiments.Close()

	// Wait out any in-flight emergency retrain so the shutdown
	// checkpoint is the last write.
	p.cycleMu.Lock()
	p.saveCheckpoint()
	p.cycleMu.Unlock()
	p.logger.Info("pipeline stopped")
	return nil
}

// ForceCycle runs one learning cycle immediately. The next scheduled
// cycle is pushed out a full interval from the forced run.
func (p *Pipeline) ForceCycle(ctx context.Context) error {
	if !p.isRunning() {
		return ErrNotRunning
	}
	p.runCycle(ctx)

	p.mu.Lock()
	resetCh := p.resetCh
	p.mu.Unlock()
	select {
	case resetCh <- struct{}{}:
	default:
	}
	return nil
}

// Status returns a copy of the pipeline state.
func (p *Pipeline) Status() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Collector exposes the metrics collector for read-only consumers.
func (p *Pipeline) Collector() *metrics.Collector { return p.collector }

// Detector exposes the drift detector for read-only consumers.
func (p *Pipeline) Detector() *drift.Detector { return p.detector }

// Experiments exposes the experiment manager for read-only consumers.
func (p *Pipeline) Experiments() *experiment.Manager { return p.experiments }

// loop is the scheduler goroutine. The timer re-arms only after the
// previous cycle settles, so cycles never overlap.
func (p *Pipeline) loop(ctx context.Context, stopCh, doneCh chan struct{}) {
	defer close(doneCh)

	interval := p.cfg.Pipeline.CycleInterval
	timer := time.NewTimer(interval)
	defer timer.Stop()

	p.mu.Lock()
	resetCh := p.resetCh
	p.mu.Unlock()

	for {
		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		case <-resetCh:
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(interval)
		case <-timer.C:
			p.runCycle(ctx)
			timer.Reset(interval)
		}
	}
}

// runCycle executes one learning cycle. Errors are caught here: the
// cycle is marked failed, a cycle.error event fires, and the caller's
// scheduler re-arms as usual.
func (p *Pipeline) runCycle(ctx context.Context) {
	p.cycleMu.Lock()
	defer p.cycleMu.Unlock()

	started := time.Now()
	p.logger.Info("learning cycle started")

	err := p.cycle(ctx)

	if !p.isRunning() {
		// Stopped mid-cycle: discard the results.
		p.logger.Debug("cycle results discarded after stop")
		return
	}

	elapsed := time.Since(started)
	outcome := "ok"

	p.mu.Lock()
	p.state.LastCycleAt = started
	p.state.NextCycleAt = time.Now().Add(p.cfg.Pipeline.CycleInterval)
	p.state.Phase = "idle"
	if err != nil {
		p.state.CyclesFailed++
		p.state.LastCycleError = err.Error()
		outcome = "error"
	} else {
		p.state.CyclesCompleted++
		p.state.LastCycleError = ""
	}
	p.mu.Unlock()

	if err != nil {
		p.logger.Error("learning cycle failed", "error", err, "duration", elapsed.String())
		p.bus.Publish(events.TopicCycleError, err)
	} else {
		p.logger.Info("learning cycle completed", "duration", elapsed.String())
	}

	if p.tel != nil {
		attrs := metric.WithAttributes(attribute.String("outcome", outcome))
		p.tel.CyclesTotal.Add(ctx, 1, attrs)
		p.tel.CycleDuration.Record(ctx, elapsed.Seconds())
	}

	p.saveCheckpoint()
}

// cycle runs the phases in strict order.
func (p *Pipeline) cycle(ctx context.Context) error {
	now := time.Now()
	from := now.Add(-p.cfg.Pipeline.FeedbackWindow)

	// Phase 1: collect and process feedback.
	p.setPhase("collecting")
	samples, err := p.source.Collect(ctx, from, now)
	if err != nil {
		return fmt.Errorf("collect feedback: %w", err)
	}
	if p.tel != nil {
		p.tel.FeedbackSamplesTotal.Add(ctx, int64(len(samples)))
	}

	agg := p.collector.ProcessBatch(ctx, samples)

	if _, err := p.detector.CheckForDrift(samples); err != nil {
		// Drift trouble is isolated; the cycle continues.
		p.logger.Warn("drift check failed", "error", err)
	}

	// Phase 2: pattern analysis.
	p.setPhase("analyzing")
	var report *patterns.Report
	if p.incidentSource != nil {
		incidents, err := p.incidentSource.CollectIncidents(ctx, from, now)
		if err != nil {
			p.logger.Warn("incident collection failed", "error", err)
		} else if report, err = p.analyzer.AnalyzeRecent(ctx, incidents); err != nil {
			return fmt.Errorf("pattern analysis: %w", err)
		}
	}
	if report != nil && len(report.NewTypes) > 0 {
		p.mu.Lock()
		p.state.PatternsDiscovered += len(report.NewTypes)
		p.mu.Unlock()
	}

	// Phase 3: retrain gate.
	if !p.shouldRetrain(len(samples), report, agg) {
		return nil
	}

	// Phases 4-5: retrain, validate, experiment.
	return p.retrainAndExperiment(ctx, training.Data{
		Samples: samples,
		Reason:  "cycle gate",
		From:    from,
		To:      now,
	}, training.Options{BaseVersion: p.currentVersion()})
}

// shouldRetrain is the cycle gate: enough samples AND at least one of
// new patterns, low confidence, or low satisfaction.
func (p *Pipeline) shouldRetrain(sampleCount int, report *patterns.Report, agg *metrics.Aggregate) bool {
	if sampleCount < p.cfg.Pipeline.MinSamplesForRetraining {
		return false
	}

	newPatterns := report != nil && len(report.NewTypes) > 0

	p.mu.Lock()
	lowConfidence := p.state.LastValidationScore > 0 &&
		p.state.LastValidationScore < p.cfg.Pipeline.ConfidenceThreshold
	p.mu.Unlock()

	lowSatisfaction := agg != nil && agg.AvgRating < p.cfg.Pipeline.SatisfactionFloor

	if !newPatterns && !lowConfidence && !lowSatisfaction {
		return false
	}

	p.logger.Info("retrain gate passed",
		"samples", sampleCount,
		"new_patterns", newPatterns,
		"low_confidence", lowConfidence,
		"low_satisfaction", lowSatisfaction)
	return true
}

// retrainAndExperiment invokes the trainer and validator, then opens a
// candidate-vs-incumbent experiment when validation passes.
func (p *Pipeline) retrainAndExperiment(ctx context.Context, data training.Data, opts training.Options) error {
	p.mu.Lock()
	active := p.state.ActiveExperimentID
	p.mu.Unlock()
	if active != "" {
		// One rollout at a time; the next cycle retries after the
		// experiment completes.
		p.logger.Info("retrain skipped, rollout experiment still active",
			"experiment_id", active)
		return nil
	}

	p.setPhase("retraining")
	candidate, err := p.trainer.Retrain(ctx, data, opts)
	if err != nil {
		return fmt.Errorf("retrain: %w", err)
	}

	trigger := "cycle"
	if opts.Emergency {
		trigger = "emergency"
	}
	if p.tel != nil {
		p.tel.RetrainsTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("trigger", trigger)))
	}

	p.mu.Lock()
	p.state.ModelsRetrained++
	p.state.LastRetrainAt = time.Now()
	p.mu.Unlock()

	p.setPhase("validating")
	verdict, err := p.validator.Validate(ctx, candidate)
	if err != nil {
		return fmt.Errorf("validate candidate %s: %w", candidate.Version, err)
	}

	p.mu.Lock()
	p.state.LastValidationScore = verdict.Score
	p.mu.Unlock()

	if !verdict.Passed {
		p.logger.Info("candidate rejected by validation",
			"candidate", candidate.Version, "score", verdict.Score)
		return nil
	}

	p.setPhase("experimenting")
	exp, err := p.experiments.Create(experiment.Definition{
		Name:         "rollout-" + candidate.Version,
		TargetMetric: "conversion",
		Variants: []experiment.VariantDef{
			{Name: variantIncumbent, Config: map[string]any{"model_version": opts.BaseVersion}},
			{Name: variantCandidate, Config: map[string]any{"model_version": candidate.Version}},
		},
	})
	if err != nil {
		return fmt.Errorf("create rollout experiment: %w", err)
	}
	if err := p.experiments.Start(exp.ID); err != nil {
		return fmt.Errorf("start rollout experiment: %w", err)
	}

	p.mu.Lock()
	p.state.CandidateVersion = candidate.Version
	p.state.ActiveExperimentID = exp.ID
	p.mu.Unlock()

	if p.tel != nil {
		p.tel.ExperimentsTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("state", "started")))
	}
	p.logger.Info("rollout experiment opened",
		"experiment_id", exp.ID, "candidate", candidate.Version)
	return nil
}

// onDrift schedules an out-of-band emergency retrain for high-severity
// drift, bypassing the regular cycle gate.
func (p *Pipeline) onDrift(payload any) {
	event, ok := payload.(*drift.Event)
	if !ok {
		return
	}
	if p.tel != nil {
		p.tel.DriftEventsTotal.Add(context.Background(), 1,
			metric.WithAttributes(attribute.String("severity", string(event.Severity))))
	}
	if event.Severity != drift.SeverityHigh || !p.isRunning() {
		return
	}

	p.emergencyMu.Lock()
	defer p.emergencyMu.Unlock()
	if p.emergencyTimer != nil {
		// One pending emergency retrain at a time.
		return
	}

	p.logger.Warn("high-severity drift, scheduling emergency retrain",
		"features", event.Features,
		"delay", p.cfg.Pipeline.EmergencyRetrainDelay.String())

	p.emergencyTimer = time.AfterFunc(p.cfg.Pipeline.EmergencyRetrainDelay, func() {
		p.emergencyMu.Lock()
		p.emergencyTimer = nil
		p.emergencyMu.Unlock()
		p.emergencyRetrain()
	})
}

// onAlert counts KPI alerts raised by the collector.
func (p *Pipeline) onAlert(payload any) {
	alert, ok := payload.(*metrics.Alert)
	if !ok {
		return
	}
	if p.tel != nil {
		p.tel.AlertsTotal.Add(context.Background(), 1,
			metric.WithAttributes(attribute.String("metric", alert.Metric)))
	}
}

func (p *Pipeline) emergencyRetrain() {
	p.cycleMu.Lock()
	defer p.cycleMu.Unlock()
	if !p.isRunning() {
		return
	}

	ctx := context.Background()
	now := time.Now()
	from := now.Add(-p.cfg.Pipeline.FeedbackWindow)

	samples, err := p.source.Collect(ctx, from, now)
	if err != nil {
		p.logger.Error("emergency retrain: collect failed", "error", err)
		return
	}
	// Stop may have raced the collect; drop the work.
	if !p.isRunning() {
		return
	}

	p.mu.Lock()
	p.state.EmergencyRetrains++
	p.mu.Unlock()

	err = p.retrainAndExperiment(ctx, training.Data{
		Samples: samples,
		Reason:  "high-severity drift",
		From:    from,
		To:      now,
	}, training.Options{Emergency: true, BaseVersion: p.currentVersion()})
	if err != nil {
		p.logger.Error("emergency retrain failed", "error", err)
		p.bus.Publish(events.TopicCycleError, err)
	}
	p.setPhase("idle")
	p.saveCheckpoint()
}

// onExperimentCompleted applies the deploy decision when the active
// rollout experiment finalizes.
func (p *Pipeline) onExperimentCompleted(payload any) {
	result, ok := payload.(*experiment.Result)
	if !ok {
		return
	}

	p.mu.Lock()
	if result.ExperimentID != p.state.ActiveExperimentID {
		p.mu.Unlock()
		return
	}
	candidateVersion := p.state.CandidateVersion
	p.state.ActiveExperimentID = ""
	p.state.CandidateVersion = ""
	p.mu.Unlock()

	deploy, reason := p.deployDecision(result)

	p.mu.Lock()
	if deploy {
		p.state.CurrentModelVersion = candidateVersion
		p.state.LastDeployDecision = "deployed " + candidateVersion
	} else {
		p.state.LastDeployDecision = "rejected " + candidateVersion + ": " + reason
	}
	p.mu.Unlock()

	if p.tel != nil {
		state := "rejected"
		if deploy {
			state = "deployed"
		}
		p.tel.ExperimentsTotal.Add(context.Background(), 1,
			metric.WithAttributes(attribute.String("state", state)))
	}

	p.logger.Info("rollout decision",
		"experiment_id", result.ExperimentID,
		"candidate", candidateVersion,
		"deployed", deploy,
		"reason", reason)
	p.saveCheckpoint()
}

// deployDecision requires a significant result, enough samples per arm,
// and both conversion and satisfaction lifts above the configured
// minimums.
func (p *Pipeline) deployDecision(result *experiment.Result) (bool, string) {
	if !result.Significant {
		return false, "not statistically significant"
	}

	var incumbent, candidate *experiment.VariantStats
	for i := range result.Variants {
		switch result.Variants[i].Name {
		case variantIncumbent:
			incumbent = &result.Variants[i]
		case variantCandidate:
			candidate = &result.Variants[i]
		}
	}
	if incumbent == nil || candidate == nil {
		return false, "missing variant stats"
	}

	minArm := p.cfg.Pipeline.DeployMinSamplesPerArm
	if incumbent.Participants < minArm || candidate.Participants < minArm {
		return false, fmt.Sprintf("fewer than %d samples per arm", minArm)
	}

	conversionLift := candidate.ConversionRate - incumbent.ConversionRate
	if conversionLift <= p.cfg.Pipeline.DeployConversionLift {
		return false, fmt.Sprintf("conversion lift %.3f below %.3f",
			conversionLift, p.cfg.Pipeline.DeployConversionLift)
	}

	satisfactionLift := candidate.AvgValue - incumbent.AvgValue
	if satisfactionLift <= p.cfg.Pipeline.DeploySatisfactionLift {
		return false, fmt.Sprintf("satisfaction lift %.3f below %.3f",
			satisfactionLift, p.cfg.Pipeline.DeploySatisfactionLift)
	}

	return true, "lift thresholds met"
}

func (p *Pipeline) isRunning() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

func (p *Pipeline) setPhase(phase string) {
	p.mu.Lock()
	p.state.Phase = phase
	p.mu.Unlock()
}

func (p *Pipeline) currentVersion() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state.CurrentModelVersion
}

// LoadState reads the last checkpointed State from store without
// constructing a Pipeline. Used by the status CLI.
func LoadState(store *storage.Store) (*State, bool, error) {
	var saved State
	ok, err := store.GetJSON(keyState, &saved)
	if err != nil || !ok {
		return nil, false, err
	}
	return &saved, true, nil
}

// saveCheckpoint persists state, the pattern registry, the correlation
// matrix, and experiment snapshots. Failures are logged, never fatal.
func (p *Pipeline) saveCheckpoint() {
	if p.store == nil {
		return
	}

	p.mu.Lock()
	state := p.state
	p.mu.Unlock()

	entries := map[string]any{
		keyState:        state,
		keyPatterns:     p.patternStore.All(),
		keyCorrelations: p.analyzer.CorrelationMatrix(),
		keyExperiments:  p.experiments.Snapshot(),
	}
	for key, value := range entries {
		if err := p.store.PutJSON(key, value); err != nil {
			p.logger.Warn("checkpoint write failed", "key", key, "error", err)
		}
	}
}

// restoreCheckpoint resumes counters and registries from the last saved
// checkpoint. Active experiment snapshots are informational only; the
// rollout experiment is not resurrected across restarts.
func (p *Pipeline) restoreCheckpoint() {
	if p.store == nil {
		return
	}

	var saved State
	ok, err := p.store.GetJSON(keyState, &saved)
	if err != nil {
		p.logger.Warn("checkpoint read failed", "key", keyState, "error", err)
		return
	}
	if ok {
		p.mu.Lock()
		p.state.CyclesCompleted = saved.CyclesCompleted
		p.state.CyclesFailed = saved.CyclesFailed
		p.state.LastCycleAt = saved.LastCycleAt
		p.state.ModelsRetrained = saved.ModelsRetrained
		p.state.PatternsDiscovered = saved.PatternsDiscovered
		p.state.LastRetrainAt = saved.LastRetrainAt
		p.state.EmergencyRetrains = saved.EmergencyRetrains
		p.state.LastDeployDecision = saved.LastDeployDecision
		p.state.LastValidationScore = saved.LastValidationScore
		if saved.CurrentModelVersion != "" {
			p.state.CurrentModelVersion = saved.CurrentModelVersion
		}
		p.mu.Unlock()
	}

	var known []*patterns.KnownPattern
	if ok, err := p.store.GetJSON(keyPatterns, &known); err == nil && ok {
		for _, pattern := range known {
			p.patternStore.Put(pattern)
		}
	}

	var matrix map[string]float64
	if ok, err := p.store.GetJSON(keyCorrelations, &matrix); err == nil && ok {
		p.analyzer.RestoreCorrelations(matrix)
	}

	p.mu.Lock()
	completed := p.state.CyclesCompleted
	version := p.state.CurrentModelVersion
	p.mu.Unlock()
	p.logger.Info("checkpoint restored",
		"cycles_completed", completed,
		"known_patterns", len(known),
		"model_version", version)
}
