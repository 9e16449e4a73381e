// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package experiment

import "errors"

var (
	// ErrNotFound indicates the referenced experiment does not exist.
	ErrNotFound = errors.New("experiment not found")

	// ErrInvalidState indicates the operation is not valid for the
	// experiment's current lifecycle state.
	ErrInvalidState = errors.New("invalid experiment state")

	// ErrExperimentCapacity indicates the concurrent active experiment
	// limit has been reached.
	ErrExperimentCapacity = errors.New("max concurrent experiments reached")

	// ErrInvalidExperiment indicates the experiment definition is
	// malformed (missing variants, bad allocations).
	ErrInvalidExperiment = errors.New("invalid experiment definition")
)
