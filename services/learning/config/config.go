// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config defines the typed configuration tree for the learning
// pipeline and its components.
//
// # Description
//
// Configuration is loaded once from YAML, merged over Default(), and
// validated at construction time. Components receive their sub-structs by
// value through constructors; there is no global config state. Malformed
// thresholds fail fast before the pipeline starts.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Config is the root configuration for the relearn control plane.
type Config struct {
	Logging    Logging    `yaml:"logging"`
	Pipeline   Pipeline   `yaml:"pipeline"`
	Drift      Drift      `yaml:"drift"`
	Experiment Experiment `yaml:"experiments"`
	Patterns   Patterns   `yaml:"patterns"`
	Metrics    Metrics    `yaml:"metrics"`
	Storage    Storage    `yaml:"storage"`
	Embedding  Embedding  `yaml:"embedding"`
	Telemetry  Telemetry  `yaml:"telemetry"`
	API        API        `yaml:"api"`
}

// Logging configures the structured logger.
type Logging struct {
	// Level is one of debug, info, warn, error.
	Level string `yaml:"level" validate:"oneof=debug info warn error"`

	// Dir enables file logging when non-empty.
	Dir string `yaml:"dir"`

	// JSON switches stderr output to JSON.
	JSON bool `yaml:"json"`
}

// Pipeline configures the orchestrator's learning cycle.
type Pipeline struct {
	// CycleInterval is the time between learning cycles.
	CycleInterval time.Duration `yaml:"cycle_interval" validate:"min=1s"`

	// FeedbackWindow is how far back each cycle collects feedback.
	FeedbackWindow time.Duration `yaml:"feedback_window" validate:"min=1s"`

	// MinSamplesForRetraining gates the retrain decision.
	MinSamplesForRetraining int `yaml:"min_samples_for_retraining" validate:"min=1"`

	// ConfidenceThreshold triggers retraining when model confidence in
	// the last validation drops below it.
	ConfidenceThreshold float64 `yaml:"confidence_threshold" validate:"gt=0,lte=1"`

	// SatisfactionFloor triggers retraining when mean rating drops
	// below it (1-5 scale).
	SatisfactionFloor float64 `yaml:"satisfaction_floor" validate:"gt=0,lte=5"`

	// EmergencyRetrainDelay is the out-of-band delay after a
	// high-severity drift event before emergency retraining runs.
	EmergencyRetrainDelay time.Duration `yaml:"emergency_retrain_delay" validate:"min=0"`

	// DeployConversionLift is the minimum candidate conversion-rate
	// lift required to deploy after an experiment completes.
	DeployConversionLift float64 `yaml:"deploy_conversion_lift" validate:"gte=0"`

	// DeploySatisfactionLift is the minimum satisfaction lift required
	// to deploy.
	DeploySatisfactionLift float64 `yaml:"deploy_satisfaction_lift" validate:"gte=0"`

	// DeployMinSamplesPerArm is the minimum participants per variant
	// before a deploy decision is trusted.
	DeployMinSamplesPerArm int `yaml:"deploy_min_samples_per_arm" validate:"min=1"`
}

// Drift configures the drift detector.
type Drift struct {
	// WindowSize caps each feature's sliding window.
	WindowSize int `yaml:"window_size" validate:"min=10"`

	// MinSamplesForTest is the minimum window length before any
	// statistical test runs.
	MinSamplesForTest int `yaml:"min_samples_for_test" validate:"min=5"`

	// AlertThreshold is the p-value below which a feature counts as
	// drifted.
	AlertThreshold float64 `yaml:"alert_threshold" validate:"gt=0,lt=1"`

	// Tests selects which tests run: ks, psi, chi2.
	Tests []string `yaml:"tests" validate:"min=1,dive,oneof=ks psi chi2"`
}

// Experiment configures the A/B testing manager.
type Experiment struct {
	// MaxConcurrentTests caps simultaneously active experiments.
	MaxConcurrentTests int `yaml:"max_concurrent_tests" validate:"min=1"`

	// MinSampleSize is the per-variant participant floor for
	// significance evaluation.
	MinSampleSize int `yaml:"min_sample_size" validate:"min=2"`

	// SignificanceLevel is the alpha for the two-proportion z-test.
	// Supported values: 0.01, 0.05, 0.10.
	SignificanceLevel float64 `yaml:"significance_level" validate:"oneof=0.01 0.05 0.1"`

	// DefaultDuration is the experiment duration when the caller does
	// not specify one.
	DefaultDuration time.Duration `yaml:"default_duration" validate:"min=1s"`

	// DefaultTrafficAllocation is the percentage (0-100] of traffic
	// entering an experiment when unspecified.
	DefaultTrafficAllocation float64 `yaml:"default_traffic_allocation" validate:"gt=0,lte=100"`
}

// Patterns configures the pattern analyzer.
type Patterns struct {
	// NewTypeThreshold is the cosine-similarity floor below which an
	// incident counts as dissimilar from all known patterns.
	NewTypeThreshold float64 `yaml:"new_type_threshold" validate:"gt=0,lt=1"`

	// MinSamplesForPattern is the cluster size needed to register a
	// new incident type.
	MinSamplesForPattern int `yaml:"min_samples_for_pattern" validate:"min=2"`

	// BehaviorChangeThreshold is the fractional deviation from the
	// baseline that flags a behavior change.
	BehaviorChangeThreshold float64 `yaml:"behavior_change_threshold" validate:"gt=0"`

	// TrendWindow is the total span bucketed for trend detection.
	TrendWindow time.Duration `yaml:"trend_window" validate:"min=1m"`

	// TrendBucket is the size of each trend bucket.
	TrendBucket time.Duration `yaml:"trend_bucket" validate:"min=1m"`

	// ProjectionDays extends detected trends this many days ahead.
	ProjectionDays int `yaml:"projection_days" validate:"min=1"`

	// CorrelationThreshold is the absolute Pearson coefficient that
	// flags a cross-system correlation.
	CorrelationThreshold float64 `yaml:"correlation_threshold" validate:"gt=0,lt=1"`

	// AnomalyDetection enables z-score volume anomaly detection.
	AnomalyDetection bool `yaml:"anomaly_detection"`

	// AnomalyThreshold is the |z| that flags an anomalous bucket.
	AnomalyThreshold float64 `yaml:"anomaly_threshold" validate:"gt=0"`
}

// Metrics configures the metrics collector.
type Metrics struct {
	// Retention is how long aggregate snapshots are kept.
	Retention time.Duration `yaml:"retention" validate:"min=1m"`

	// Thresholds holds the alerting thresholds.
	Thresholds Thresholds `yaml:"thresholds"`

	// Influx optionally exports KPI snapshots to InfluxDB.
	Influx Influx `yaml:"influx"`
}

// Thresholds are the KPI alert boundaries.
type Thresholds struct {
	// Accuracy alerts when mean accuracy drops below it (0-1).
	Accuracy float64 `yaml:"accuracy" validate:"gt=0,lte=1"`

	// UserSatisfaction alerts when mean rating drops below it (1-5).
	UserSatisfaction float64 `yaml:"user_satisfaction" validate:"gt=0,lte=5"`

	// ResponseTimeMs alerts when mean latency exceeds it.
	ResponseTimeMs float64 `yaml:"response_time_ms" validate:"gt=0"`

	// ErrorRate alerts when the error rate exceeds it (0-1).
	ErrorRate float64 `yaml:"error_rate" validate:"gt=0,lt=1"`
}

// Influx configures the optional InfluxDB KPI sink.
type Influx struct {
	// Enabled turns the sink on.
	Enabled bool `yaml:"enabled"`

	// URL is the InfluxDB endpoint.
	URL string `yaml:"url" validate:"required_if=Enabled true"`

	// Token is the API token. May also come from INFLUXDB_TOKEN.
	Token string `yaml:"token"`

	// Org is the InfluxDB organization.
	Org string `yaml:"org" validate:"required_if=Enabled true"`

	// Bucket is the destination bucket.
	Bucket string `yaml:"bucket" validate:"required_if=Enabled true"`
}

// Storage configures the checkpoint store.
type Storage struct {
	// Path is the BadgerDB directory. Empty selects in-memory mode.
	Path string `yaml:"path"`

	// SyncWrites enables synchronous writes for durability.
	SyncWrites bool `yaml:"sync_writes"`
}

// Embedding configures the embedding provider.
type Embedding struct {
	// Provider is "openai" or "hash" (deterministic offline provider).
	Provider string `yaml:"provider" validate:"oneof=openai hash"`

	// Model is the OpenAI embedding model name.
	Model string `yaml:"model"`

	// RequestsPerSecond rate-limits provider calls.
	RequestsPerSecond float64 `yaml:"requests_per_second" validate:"gt=0"`
}

// Telemetry configures OpenTelemetry export.
type Telemetry struct {
	// ServiceName identifies this process in traces and metrics.
	ServiceName string `yaml:"service_name" validate:"required"`

	// Environment is the deployment environment name.
	Environment string `yaml:"environment"`

	// TraceExporter is "otlp" or "none".
	TraceExporter string `yaml:"trace_exporter" validate:"oneof=otlp none"`

	// OTLPEndpoint is the OTLP gRPC receiver endpoint.
	OTLPEndpoint string `yaml:"otlp_endpoint"`
}

// API configures the read-only status server.
type API struct {
	// Enabled turns the HTTP server on.
	Enabled bool `yaml:"enabled"`

	// Port is the listen port.
	Port int `yaml:"port" validate:"min=1,max=65535"`
}

// Default returns the configuration used when a field is absent from the
// YAML file. Every default validates.
func Default() Config {
	return Config{
		Logging: Logging{
			Level: "info",
		},
		Pipeline: Pipeline{
			CycleInterval:           time.Hour,
			FeedbackWindow:          time.Hour,
			MinSamplesForRetraining: 100,
			ConfidenceThreshold:     0.7,
			SatisfactionFloor:       3.5,
			EmergencyRetrainDelay:   5 * time.Minute,
			DeployConversionLift:    0.05,
			DeploySatisfactionLift:  0.2,
			DeployMinSamplesPerArm:  50,
		},
		Drift: Drift{
			WindowSize:        1000,
			MinSamplesForTest: 50,
			AlertThreshold:    0.05,
			Tests:             []string{"ks", "psi", "chi2"},
		},
		Experiment: Experiment{
			MaxConcurrentTests:       3,
			MinSampleSize:            100,
			SignificanceLevel:        0.05,
			DefaultDuration:          7 * 24 * time.Hour,
			DefaultTrafficAllocation: 100,
		},
		Patterns: Patterns{
			NewTypeThreshold:        0.7,
			MinSamplesForPattern:    5,
			BehaviorChangeThreshold: 0.3,
			TrendWindow:             7 * 24 * time.Hour,
			TrendBucket:             24 * time.Hour,
			ProjectionDays:          7,
			CorrelationThreshold:    0.7,
			AnomalyDetection:        true,
			AnomalyThreshold:        3.0,
		},
		Metrics: Metrics{
			Retention: 30 * 24 * time.Hour,
			Thresholds: Thresholds{
				Accuracy:         0.8,
				UserSatisfaction: 3.5,
				ResponseTimeMs:   2000,
				ErrorRate:        0.1,
			},
		},
		Storage: Storage{
			SyncWrites: true,
		},
		Embedding: Embedding{
			Provider:          "hash",
			Model:             "text-embedding-3-small",
			RequestsPerSecond: 5,
		},
		Telemetry: Telemetry{
			ServiceName:   "relearn",
			Environment:   "development",
			TraceExporter: "none",
			OTLPEndpoint:  "localhost:4317",
		},
		API: API{
			Enabled: true,
			Port:    12260,
		},
	}
}

// Load reads the YAML file at path over Default() and validates the
// result.
//
// # Outputs
//
//   - *Config: The validated configuration.
//   - error: Non-nil if the file is unreadable, malformed, or invalid.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks struct tags plus cross-field constraints.
func (c *Config) Validate() error {
	v := validator.New()
	if err := v.Struct(c); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}

	// Cross-field checks the tag language cannot express.
	if c.Drift.MinSamplesForTest > c.Drift.WindowSize {
		return fmt.Errorf("%w: drift.min_samples_for_test (%d) exceeds window_size (%d)",
			ErrInvalidConfig, c.Drift.MinSamplesForTest, c.Drift.WindowSize)
	}
	if c.Patterns.TrendBucket > c.Patterns.TrendWindow {
		return fmt.Errorf("%w: patterns.trend_bucket exceeds trend_window", ErrInvalidConfig)
	}
	return nil
}
