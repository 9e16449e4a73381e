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
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/relearn/services/learning/pipeline"
)

// runCycle forces a single learning cycle against the checkpoint store
// and prints the resulting pipeline state as JSON.
func runCycle(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := newLogger(cfg, "cli")
	defer logger.Close()

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
	})
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	if err := pipe.Start(ctx); err != nil {
		return err
	}
	if err := pipe.ForceCycle(ctx); err != nil {
		return err
	}
	state := pipe.Status()
	if err := pipe.Stop(); err != nil {
		return err
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(state)
}
