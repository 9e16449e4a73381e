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
	"os"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/AleutianAI/relearn/pkg/logging"
	"github.com/AleutianAI/relearn/services/learning/config"
	"github.com/AleutianAI/relearn/services/learning/storage"
)

var (
	configPath    string
	feedbackPath  string
	incidentsPath string

	rootCmd = &cobra.Command{
		Use:          "relearn",
		Short:        "Continuous learning pipeline for the knowledge base",
		SilenceUsage: true,
	}

	runCmd = &cobra.Command{
		Use:   "run",
		Short: "Run the learning pipeline with the HTTP API until interrupted",
		RunE:  runRun,
	}

	cycleCmd = &cobra.Command{
		Use:   "cycle",
		Short: "Force a single learning cycle, then exit",
		RunE:  runCycle,
	}

	statusCmd = &cobra.Command{
		Use:   "status",
		Short: "Print the last checkpointed pipeline state",
		RunE:  runStatus,
	}
)

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "",
		"path to the YAML configuration file")

	for _, cmd := range []*cobra.Command{runCmd, cycleCmd} {
		cmd.Flags().StringVar(&feedbackPath, "feedback", "",
			"JSONL file of feedback samples to load into the in-memory source")
		cmd.Flags().StringVar(&incidentsPath, "incidents", "",
			"JSONL file of incident records to load into the in-memory source")
	}

	rootCmd.AddCommand(runCmd, cycleCmd, statusCmd)
}

func loadConfig() (config.Config, error) {
	if configPath == "" {
		return config.Default(), nil
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		return config.Config{}, err
	}
	return *cfg, nil
}

// newLogger builds the process logger. Text output on a terminal, JSON
// otherwise or when the configuration forces it.
func newLogger(cfg config.Config, service string) *logging.Logger {
	jsonOut := cfg.Logging.JSON
	if !jsonOut && !isatty.IsTerminal(os.Stderr.Fd()) &&
		!isatty.IsCygwinTerminal(os.Stderr.Fd()) {
		jsonOut = true
	}
	return logging.New(logging.Config{
		Level:   logging.ParseLevel(cfg.Logging.Level),
		LogDir:  cfg.Logging.Dir,
		Service: service,
		JSON:    jsonOut,
	})
}

// openStore opens the checkpoint store, in-memory when no path is
// configured.
func openStore(cfg config.Config, logger *logging.Logger) (*storage.Store, error) {
	if cfg.Storage.Path == "" {
		return storage.Open(storage.InMemoryConfig())
	}
	storeCfg := storage.DefaultConfig(cfg.Storage.Path)
	storeCfg.SyncWrites = cfg.Storage.SyncWrites
	storeCfg.Logger = logger.Slog()
	return storage.Open(storeCfg)
}
