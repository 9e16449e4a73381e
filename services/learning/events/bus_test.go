// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package events

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPublishFanOut(t *testing.T) {
	bus := NewBus(nil)

	var got []int
	bus.Subscribe(TopicDriftDetected, func(payload any) {
		got = append(got, payload.(int)*10)
	})
	bus.Subscribe(TopicDriftDetected, func(payload any) {
		got = append(got, payload.(int)*100)
	})

	bus.Publish(TopicDriftDetected, 3)

	assert.Len(t, got, 2)
	assert.Contains(t, got, 30)
	assert.Contains(t, got, 300)
}

func TestPublishNoSubscribers(t *testing.T) {
	bus := NewBus(nil)
	// Must not panic or block.
	bus.Publish(TopicAlertRaised, "orphan")
}

func TestPanickingHandlerIsIsolated(t *testing.T) {
	bus := NewBus(nil)

	called := false
	bus.Subscribe(TopicCycleError, func(any) {
		panic("handler exploded")
	})
	bus.Subscribe(TopicCycleError, func(any) {
		called = true
	})

	assert.NotPanics(t, func() {
		bus.Publish(TopicCycleError, nil)
	})
	assert.True(t, called, "second handler should still run after first panics")
}

func TestSubscriberCount(t *testing.T) {
	bus := NewBus(nil)
	assert.Equal(t, 0, bus.SubscriberCount(TopicPatternDiscovered))

	bus.Subscribe(TopicPatternDiscovered, func(any) {})
	bus.Subscribe(TopicPatternDiscovered, func(any) {})
	bus.Subscribe(TopicPatternDiscovered, nil) // ignored

	assert.Equal(t, 2, bus.SubscriberCount(TopicPatternDiscovered))
}
