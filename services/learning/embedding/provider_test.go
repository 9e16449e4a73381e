// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package embedding

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/relearn/services/learning/config"
)

func TestHashProviderDeterministic(t *testing.T) {
	p := NewHashProvider(64)

	a, err := p.Embed(context.Background(), "database timeout on replica")
	require.NoError(t, err)
	b, err := p.Embed(context.Background(), "database timeout on replica")
	require.NoError(t, err)

	assert.Equal(t, a, b)
	assert.Len(t, a, 64)
}

func TestHashProviderNormalized(t *testing.T) {
	p := NewHashProvider(0)

	vec, err := p.Embed(context.Background(), "disk pressure on node worker-3")
	require.NoError(t, err)

	assert.Len(t, vec, hashDims)
	assert.InDelta(t, 1.0, Cosine(vec, vec), 1e-6)
}

func TestHashProviderSimilarity(t *testing.T) {
	p := NewHashProvider(256)
	ctx := context.Background()

	a, err := p.Embed(ctx, "database connection timeout in checkout")
	require.NoError(t, err)
	b, err := p.Embed(ctx, "database connection timeout in billing")
	require.NoError(t, err)
	c, err := p.Embed(ctx, "certificate expired on ingress gateway")
	require.NoError(t, err)

	assert.Greater(t, Cosine(a, b), Cosine(a, c))
}

func TestEmbedRejectsEmptyText(t *testing.T) {
	p := NewHashProvider(32)

	_, err := p.Embed(context.Background(), "   ")
	require.ErrorIs(t, err, ErrEmptyText)
}

func TestCosineEdgeCases(t *testing.T) {
	assert.Zero(t, Cosine(nil, nil))
	assert.Zero(t, Cosine([]float32{1, 0}, []float32{1}))
	assert.Zero(t, Cosine([]float32{0, 0}, []float32{1, 1}))
	assert.InDelta(t, -1.0, Cosine([]float32{1, 0}, []float32{-1, 0}), 1e-9)
}

func TestNewProviderSelection(t *testing.T) {
	p, err := NewProvider(config.Embedding{Provider: "hash"}, "")
	require.NoError(t, err)
	assert.IsType(t, &HashProvider{}, p)

	_, err = NewProvider(config.Embedding{Provider: "openai"}, "")
	require.Error(t, err)

	p, err = NewProvider(config.Embedding{Provider: "openai", RequestsPerSecond: 2}, "sk-test")
	require.NoError(t, err)
	assert.IsType(t, &OpenAIProvider{}, p)

	_, err = NewProvider(config.Embedding{Provider: "pinecone"}, "")
	require.Error(t, err)
}
