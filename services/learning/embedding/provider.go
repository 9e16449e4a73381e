// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package embedding provides text embedding for incident clustering.
//
// Two providers exist: OpenAIProvider for real deployments and
// HashProvider, a deterministic offline fallback used in tests and
// air-gapped installs.
package embedding

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"math"
	"strings"

	openai "github.com/sashabaranov/go-openai"
	"golang.org/x/time/rate"

	"github.com/AleutianAI/relearn/services/learning/config"
)

// ErrEmptyText indicates Embed was called with no content.
var ErrEmptyText = errors.New("cannot embed empty text")

// Provider turns text into a dense vector.
type Provider interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// NewProvider builds the provider named by the configuration.
func NewProvider(cfg config.Embedding, apiKey string) (Provider, error) {
	switch cfg.Provider {
	case "openai":
		if apiKey == "" {
			return nil, errors.New("openai embedding provider requires an API key")
		}
		return NewOpenAIProvider(apiKey, cfg.Model, cfg.RequestsPerSecond), nil
	case "hash":
		return NewHashProvider(hashDims), nil
	default:
		return nil, fmt.Errorf("unknown embedding provider %q", cfg.Provider)
	}
}

// OpenAIProvider embeds via the OpenAI embeddings API, rate limited so
// pattern analysis cannot exhaust the account quota.
type OpenAIProvider struct {
	client  *openai.Client
	model   openai.EmbeddingModel
	limiter *rate.Limiter
}

// NewOpenAIProvider creates a provider with the given model and request
// rate. An empty model falls back to text-embedding-3-small.
func NewOpenAIProvider(apiKey, model string, requestsPerSecond float64) *OpenAIProvider {
	if model == "" {
		model = string(openai.SmallEmbedding3)
	}
	if requestsPerSecond <= 0 {
		requestsPerSecond = 5
	}
	return &OpenAIProvider{
		client:  openai.NewClient(apiKey),
		model:   openai.EmbeddingModel(model),
		limiter: rate.NewLimiter(rate.Limit(requestsPerSecond), 1),
	}
}

// Embed returns the embedding vector for text, blocking on the rate
// limiter first.
func (p *OpenAIProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyText
	}
	if err := p.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("embedding rate limiter: %w", err)
	}

	resp, err := p.client.CreateEmbeddings(ctx, openai.EmbeddingRequestStrings{
		Input: []string{text},
		Model: p.model,
	})
	if err != nil {
		return nil, fmt.Errorf("create embeddings: %w", err)
	}
	if len(resp.Data) == 0 {
		return nil, errors.New("embedding response contained no vectors")
	}
	return resp.Data[0].Embedding, nil
}

const hashDims = 128

// HashProvider is a deterministic local embedder. Each whitespace token
// is hashed into one of the vector's dimensions; the result is
// L2-normalized so cosine similarity behaves like the real provider's.
type HashProvider struct {
	dims int
}

// NewHashProvider creates a hash embedder with the given dimensionality.
// Non-positive dims use the default.
func NewHashProvider(dims int) *HashProvider {
	if dims <= 0 {
		dims = hashDims
	}
	return &HashProvider{dims: dims}
}

// Embed produces the token-hash vector for text. Never calls out and
// never fails for non-empty input.
func (p *HashProvider) Embed(_ context.Context, text string) ([]float32, error) {
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyText
	}

	vec := make([]float32, p.dims)
	for _, token := range strings.Fields(strings.ToLower(text)) {
		h := fnv.New32a()
		h.Write([]byte(token))
		vec[int(h.Sum32())%p.dims]++
	}

	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm > 0 {
		inv := float32(1 / math.Sqrt(norm))
		for i := range vec {
			vec[i] *= inv
		}
	}
	return vec, nil
}

// Cosine returns the cosine similarity of two vectors, 0 when lengths
// differ or either vector is zero.
func Cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
