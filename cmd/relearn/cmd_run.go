// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel"
	"golang.org/x/sync/errgroup"

	"github.com/AleutianAI/relearn/pkg/logging"
	"github.com/AleutianAI/relearn/services/learning/api"
	"github.com/AleutianAI/relearn/services/learning/config"
	"github.com/AleutianAI/relearn/services/learning/feedback"
	"github.com/AleutianAI/relearn/services/learning/pipeline"
	"github.com/AleutianAI/relearn/services/learning/telemetry"
)

func runRun(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := newLogger(cfg, "pipeline")
	defer logger.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdown, err := telemetry.Init(ctx, cfg.Telemetry)
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		if err := shutdown(context.Background()); err != nil {
			logger.Warn("telemetry shutdown failed", "error", err)
		}
	}()

	tel, err := telemetry.NewMetrics(otel.Meter("github.com/AleutianAI/relearn"))
	if err != nil {
		return fmt.Errorf("register metrics: %w", err)
	}

	store, err := openStore(cfg, logger)
	if err != nil {
		return fmt.Errorf("open checkpoint store: %w", err)
	}
	defer store.Close()

	source, err := buildSource(logger)
	if err != nil {
		return err
	}

	pipe, err := pipeline.New(cfg, pipeline.Deps{
		Logger:         logger,
		Source:         source,
		IncidentSource: source,
		Store:          store,
		Metrics:        tel,
	})
	if err != nil {
		return err
	}

	if err := pipe.Start(ctx); err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	if configPath != "" {
		watcher := config.NewWatcher(configPath, func(_ *config.Config) {
			logger.Warn("configuration changed on disk, restart to apply")
		})
		g.Go(func() error {
			return watcher.Run(gctx)
		})
		g.Go(func() error {
			for {
				select {
				case <-gctx.Done():
					return nil
				case err := <-watcher.Errors():
					logger.Warn("config reload failed", "error", err)
				}
			}
		})
	}
	if cfg.API.Enabled {
		server := api.NewServer(cfg.API, logger.With("component", "api"), pipe)
		g.Go(func() error {
			return server.Run(gctx)
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		return pipe.Stop()
	})

	return g.Wait()
}

// buildSource wires the in-memory source, optionally preloaded from
// JSONL files. Live deployments replace this with a real collector.
func buildSource(logger *logging.Logger) (*feedback.MemorySource, error) {
	source := feedback.NewMemorySource()

	if feedbackPath != "" {
		samples, err := loadJSONL[feedback.Sample](feedbackPath)
		if err != nil {
			return nil, fmt.Errorf("load feedback %s: %w", feedbackPath, err)
		}
		source.Add(samples...)
		logger.Info("feedback loaded", "path", feedbackPath, "samples", len(samples))
	}
	if incidentsPath != "" {
		incidents, err := loadJSONL[feedback.Incident](incidentsPath)
		if err != nil {
			return nil, fmt.Errorf("load incidents %s: %w", incidentsPath, err)
		}
		source.AddIncidents(incidents...)
		logger.Info("incidents loaded", "path", incidentsPath, "incidents", len(incidents))
	}

	return source, nil
}

// loadJSONL decodes one JSON record per line, skipping blank lines.
func loadJSONL[T any](path string) ([]T, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var out []T
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	line := 0
	for scanner.Scan() {
		line++
		raw := scanner.Bytes()
		if len(raw) == 0 {
			continue
		}
		var rec T
		if err := json.Unmarshal(raw, &rec); err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		out = append(out, rec)
	}
	return out, scanner.Err()
}
