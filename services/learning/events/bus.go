// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package events provides the in-process event bus connecting the learning
// components to the pipeline.
//
// # Description
//
// Leaf components (drift detector, experiment manager, metrics collector,
// pattern analyzer) publish events; the pipeline subscribes. Delivery is
// synchronous fire-and-forget: Publish invokes every registered handler
// before returning, in unspecified order. A panicking handler is recovered
// and logged so one listener cannot take down the publisher.
//
// # Thread Safety
//
// Bus is safe for concurrent use. Handlers must be safe to call from the
// publisher's goroutine.
package events

import (
	"sync"

	"github.com/AleutianAI/relearn/pkg/logging"
)

// Topic identifies an event stream on the bus.
type Topic string

const (
	// TopicDriftDetected carries *drift.Event payloads.
	TopicDriftDetected Topic = "drift.detected"

	// TopicPatternDiscovered carries *patterns.NewTypePattern payloads.
	TopicPatternDiscovered Topic = "pattern.discovered"

	// TopicExperimentCompleted carries *experiment.Result payloads.
	TopicExperimentCompleted Topic = "experiment.completed"

	// TopicAlertRaised carries *metrics.Alert payloads.
	TopicAlertRaised Topic = "alert.raised"

	// TopicCycleError carries error payloads from failed learning cycles.
	TopicCycleError Topic = "cycle.error"
)

// Handler receives event payloads for a topic.
type Handler func(payload any)

// Bus is a synchronous publish/subscribe hub.
type Bus struct {
	mu       sync.RWMutex
	handlers map[Topic][]Handler
	logger   *logging.Logger
}

// NewBus creates an empty bus. A nil logger falls back to the default.
func NewBus(logger *logging.Logger) *Bus {
	if logger == nil {
		logger = logging.Default()
	}
	return &Bus{
		handlers: make(map[Topic][]Handler),
		logger:   logger,
	}
}

// Subscribe registers a handler for a topic. Handlers cannot be removed;
// subscribers live as long as the bus.
func (b *Bus) Subscribe(topic Topic, handler Handler) {
	if handler == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[topic] = append(b.handlers[topic], handler)
}

// Publish delivers the payload to every handler registered for the topic.
//
// # Description
//
// Handlers run synchronously on the caller's goroutine. Panics inside a
// handler are recovered and logged; remaining handlers still run.
func (b *Bus) Publish(topic Topic, payload any) {
	b.mu.RLock()
	handlers := make([]Handler, len(b.handlers[topic]))
	copy(handlers, b.handlers[topic])
	b.mu.RUnlock()

	for _, handler := range handlers {
		b.dispatch(topic, handler, payload)
	}
}

// SubscriberCount returns the number of handlers for a topic.
func (b *Bus) SubscriberCount(topic Topic) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.handlers[topic])
}

func (b *Bus) dispatch(topic Topic, handler Handler, payload any) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("event handler panicked", "topic", string(topic), "panic", r)
		}
	}()
	handler(payload)
}
