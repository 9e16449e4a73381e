// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package metrics

import (
	"context"
	"fmt"
	"os"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"

	"github.com/AleutianAI/relearn/services/learning/config"
)

// InfluxSink exports aggregate KPI snapshots to InfluxDB.
type InfluxSink struct {
	client influxdb2.Client
	write  api.WriteAPIBlocking
}

// NewInfluxSink creates a sink from the configuration. Returns nil when
// the sink is disabled. The token falls back to INFLUXDB_TOKEN.
func NewInfluxSink(cfg config.Influx) *InfluxSink {
	if !cfg.Enabled {
		return nil
	}
	token := cfg.Token
	if token == "" {
		token = os.Getenv("INFLUXDB_TOKEN")
	}
	client := influxdb2.NewClient(cfg.URL, token)
	return &InfluxSink{
		client: client,
		write:  client.WriteAPIBlocking(cfg.Org, cfg.Bucket),
	}
}

// Export writes one learning_kpis point for the aggregate.
func (s *InfluxSink) Export(ctx context.Context, agg *Aggregate) error {
	point := influxdb2.NewPoint(
		"learning_kpis",
		map[string]string{},
		map[string]any{
			"sample_count":         agg.SampleCount,
			"avg_rating":           agg.AvgRating,
			"avg_accuracy":         agg.AvgAccuracy,
			"avg_response_time_ms": agg.AvgResponseTimeMs,
			"error_rate":           agg.ErrorRate,
			"overall_performance":  agg.KPIs.OverallPerformance,
			"user_engagement":      agg.KPIs.UserEngagement,
			"system_reliability":   agg.KPIs.SystemReliability,
		},
		agg.Timestamp,
	)
	if err := s.write.WritePoint(ctx, point); err != nil {
		return fmt.Errorf("write kpi point: %w", err)
	}
	return nil
}

// Close releases the underlying client.
func (s *InfluxSink) Close() {
	if s != nil && s.client != nil {
		s.client.Close()
	}
}
