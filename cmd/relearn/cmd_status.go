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
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/relearn/services/learning/pipeline"
	"github.com/AleutianAI/relearn/services/learning/storage"
)

// runStatus prints a summary of the last checkpointed pipeline state.
func runStatus(_ *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if cfg.Storage.Path == "" {
		return errors.New("status requires storage.path in the configuration")
	}

	logger := newLogger(cfg, "cli")
	defer logger.Close()

	storeCfg := storage.DefaultConfig(cfg.Storage.Path)
	storeCfg.GCInterval = 0
	storeCfg.Logger = logger.Slog()
	store, err := storage.Open(storeCfg)
	if err != nil {
		return fmt.Errorf("open checkpoint store: %w", err)
	}
	defer store.Close()

	state, ok, err := pipeline.LoadState(store)
	if err != nil {
		return fmt.Errorf("read checkpoint: %w", err)
	}
	if !ok {
		fmt.Println("no checkpoint found")
		return nil
	}

	w := os.Stdout
	fmt.Fprintf(w, "Model version:     %s\n", state.CurrentModelVersion)
	fmt.Fprintf(w, "Cycles completed:  %d\n", state.CyclesCompleted)
	fmt.Fprintf(w, "Cycles failed:     %d\n", state.CyclesFailed)
	fmt.Fprintf(w, "Models retrained:  %d\n", state.ModelsRetrained)
	fmt.Fprintf(w, "Patterns found:    %d\n", state.PatternsDiscovered)
	fmt.Fprintf(w, "Emergency retrains: %d\n", state.EmergencyRetrains)
	if !state.LastCycleAt.IsZero() {
		fmt.Fprintf(w, "Last cycle:        %s\n", state.LastCycleAt.Format(time.RFC3339))
	}
	if state.LastCycleError != "" {
		fmt.Fprintf(w, "Last cycle error:  %s\n", state.LastCycleError)
	}
	if !state.LastRetrainAt.IsZero() {
		fmt.Fprintf(w, "Last retrain:      %s\n", state.LastRetrainAt.Format(time.RFC3339))
	}
	if state.LastValidationScore > 0 {
		fmt.Fprintf(w, "Validation score:  %.3f\n", state.LastValidationScore)
	}
	if state.LastDeployDecision != "" {
		fmt.Fprintf(w, "Last deploy:       %s\n", state.LastDeployDecision)
	}
	return nil
}
