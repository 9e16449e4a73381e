// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package patterns

import (
	"sync"
	"time"
)

// KnownPattern is a registered incident type with its embedding centroid.
type KnownPattern struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Centroid    []float32 `json:"centroid"`
	Keywords    []string  `json:"keywords,omitempty"`
	ExampleIDs  []string  `json:"example_ids,omitempty"`
	Frequency   int       `json:"frequency"`
	AvgSeverity float64   `json:"avg_severity"`
	CreatedAt   time.Time `json:"created_at"`
}

// PatternStore is the registry of known incident patterns. New patterns
// discovered during analysis are registered here so later incidents are
// matched against them.
type PatternStore interface {
	Get(id string) (*KnownPattern, bool)
	Put(p *KnownPattern)
	All() []*KnownPattern
}

// MemoryStore is the in-process PatternStore.
type MemoryStore struct {
	mu       sync.RWMutex
	patterns map[string]*KnownPattern
}

// NewMemoryStore creates an empty registry, optionally seeded.
func NewMemoryStore(seed ...*KnownPattern) *MemoryStore {
	s := &MemoryStore{patterns: make(map[string]*KnownPattern)}
	for _, p := range seed {
		s.Put(p)
	}
	return s
}

// Get returns the pattern with the given id.
func (s *MemoryStore) Get(id string) (*KnownPattern, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.patterns[id]
	return p, ok
}

// Put registers or replaces a pattern.
func (s *MemoryStore) Put(p *KnownPattern) {
	if p == nil || p.ID == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.patterns[p.ID] = p
}

// All returns every registered pattern in unspecified order.
func (s *MemoryStore) All() []*KnownPattern {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*KnownPattern, 0, len(s.patterns))
	for _, p := range s.patterns {
		out = append(out, p)
	}
	return out
}
