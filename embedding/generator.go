// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.


package embedding

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"
	"github.com/poiesic/docqa/ai"
	"github.com/poiesic/docqa/core"
	"github.com/poiesic/docqa/retry"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"
)

const (
	// DefaultBatchSize is the number of cache misses sent per sub-batch.
	DefaultBatchSize = 100
	// DefaultConcurrency bounds in-flight requests to the embedding service.
	DefaultConcurrency = 8
)

var (
	// ErrEmbedderRequired is returned when no embedder is supplied.
	ErrEmbedderRequired = errors.New("embedder is required")
)

// Generator resolves texts to vectors.
type Generator struct {
	embedder  ai.Embedder
	cache     *Cache
	pool      *ants.Pool
	batchSize int
	limiter   *rate.Limiter
	policy    retry.Policy
	inflight  singleflight.Group
	logger    *slog.Logger
}

// Option configures a Generator.
type Option func(*Generator) error

// WithCache enables the content-addressed cache. Without it every text is a miss.
func WithCache(c *Cache) Option {
	return func(g *Generator) error {
		g.cache = c
		return nil
	}
}

// WithBatchSize sets the number of misses per sub-batch.
func WithBatchSize(size int) Option {
	return func(g *Generator) error {
		if size < 1 {
			return fmt.Errorf("batch size must be positive, got %d", size)
		}
		g.batchSize = size
		return nil
	}
}

// WithConcurrency sets the worker pool size, the maximum number of
// concurrent requests to the embedding service.
func WithConcurrency(n int) Option {
	return func(g *Generator) error {
		if n < 1 {
			n = 1
		}
		pool, err := ants.NewPool(n)
		if err != nil {
			return err
		}
		if g.pool != nil {
			g.pool.Release()
		}
		g.pool = pool
		return nil
	}
}

// WithRateLimit caps requests per second with the given burst.
// A non-positive rate disables limiting.
func WithRateLimit(perSecond float64, burst int) Option {
	return func(g *Generator) error {
		if perSecond <= 0 {
			g.limiter = nil
			return nil
		}
		if burst < 1 {
			burst = 1
		}
		g.limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
		return nil
	}
}

// WithRetryPolicy sets how failed items are retried.
func WithRetryPolicy(p retry.Policy) Option {
	return func(g *Generator) error {
		if p.MaxAttempts < 1 {
			return retry.ErrInvalidMaxAttempts
		}
		g.policy = p
		return nil
	}
}

// WithLogger sets a custom logger.
// Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(g *Generator) error {
		if logger == nil {
			logger = slog.Default()
		}
		g.logger = logger
		return nil
	}
}

// NewGenerator creates a generator. Defaults: batch size 100, 8 concurrent
// requests, no rate limit, 3 attempts per item starting at 1s.
func NewGenerator(embedder ai.Embedder, opts ...Option) (*Generator, error) {
	if embedder == nil {
		return nil, ErrEmbedderRequired
	}

	pool, err := ants.NewPool(DefaultConcurrency)
	if err != nil {
		return nil, err
	}

	g := &Generator{
		embedder:  embedder,
		pool:      pool,
		batchSize: DefaultBatchSize,
		policy:    retry.DefaultPolicy(),
		logger:    slog.Default(),
	}

	for _, opt := range opts {
		if err := opt(g); err != nil {
			g.Release()
			return nil, err
		}
	}
	g.logger = g.logger.With("component", "embedding-generator")

	return g, nil
}

// Release stops the worker pool. The generator must not be used afterwards.
func (g *Generator) Release() {
	if g.pool != nil {
		g.pool.Release()
	}
}

// ProgressFunc receives the number of misses resolved so far and the total.
type ProgressFunc func(done, total int)

type batchOptions struct {
	ignoreErrors bool
	refresh      bool
	progress     ProgressFunc
}

// BatchOption changes how one EmbedBatch call behaves.
type BatchOption func(*batchOptions)

// IgnoreErrors makes failed items non-fatal: they are logged, reported in
// BatchResult.Failed, and left nil in BatchResult.Vectors.
func IgnoreErrors() BatchOption {
	return func(o *batchOptions) { o.ignoreErrors = true }
}

// Refresh skips cache reads so every text is re-embedded. Results are still
// written back to the cache.
func Refresh() BatchOption {
	return func(o *batchOptions) { o.refresh = true }
}

// WithProgress registers a callback invoked after each sub-batch.
func WithProgress(fn ProgressFunc) BatchOption {
	return func(o *batchOptions) { o.progress = fn }
}

// Failure describes one input that could not be embedded.
type Failure struct {
	Index int
	Text  string
	Err   error
}

// BatchResult holds one vector per input, in input order.
type BatchResult struct {
	Vectors     [][]float32
	Failed      []Failure
	CacheHits   int
	CacheMisses int // distinct texts sent to the service
}

// EmbedBatch returns a vector for every text in texts. Unless IgnoreErrors is
// given, any item that still fails after retries fails the whole batch with
// core.ErrEmbeddingService.
func (g *Generator) EmbedBatch(ctx context.Context, texts []string, opts ...BatchOption) (*BatchResult, error) {
	var o batchOptions
	for _, opt := range opts {
		opt(&o)
	}

	res := &BatchResult{Vectors: make([][]float32, len(texts))}

	// Partition into hits and distinct misses. Repeated texts in one batch
	// collapse to a single request.
	pending := make(map[string][]int)
	var misses []string
	keyText := make(map[string]string)
	for i, text := range texts {
		key := core.CacheKey(text)
		if !o.refresh && g.cache != nil {
			if vec, ok := g.cache.Get(key); ok {
				res.Vectors[i] = vec
				res.CacheHits++
				continue
			}
		}
		if _, seen := pending[key]; !seen {
			misses = append(misses, key)
			keyText[key] = text
		}
		pending[key] = append(pending[key], i)
	}
	res.CacheMisses = len(misses)

	g.logger.Debug("embedding batch", "texts", len(texts), "hits", res.CacheHits, "misses", len(misses))

	for start := 0; start < len(misses); start += g.batchSize {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		end := min(start+g.batchSize, len(misses))
		sub := misses[start:end]

		vecs, errs := g.runSubBatch(ctx, sub, keyText, o.refresh)

		var firstErr error
		for j, key := range sub {
			if errs[j] != nil {
				if firstErr == nil {
					firstErr = errs[j]
				}
				for _, idx := range pending[key] {
					res.Failed = append(res.Failed, Failure{Index: idx, Text: keyText[key], Err: errs[j]})
				}
				continue
			}
			for _, idx := range pending[key] {
				res.Vectors[idx] = vecs[j]
			}
		}

		if firstErr != nil {
			if !o.ignoreErrors {
				return nil, wrapServiceErr(firstErr)
			}
			g.logger.Warn("skipping texts that failed to embed", "failed", countFailed(errs), "error", firstErr)
		}

		if o.progress != nil {
			o.progress(end, len(misses))
		}
	}

	sort.Slice(res.Failed, func(a, b int) bool { return res.Failed[a].Index < res.Failed[b].Index })
	return res, nil
}

// Embed is EmbedBatch without partial results: any failure is an error.
func (g *Generator) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	res, err := g.EmbedBatch(ctx, texts)
	if err != nil {
		return nil, err
	}
	return res.Vectors, nil
}

// EmbedText embeds one text, satisfying ai.Embedder so a Generator can sit
// anywhere a plain embedder is expected.
func (g *Generator) EmbedText(ctx context.Context, text string) ([]float32, error) {
	vecs, err := g.Embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

var _ ai.Embedder = (*Generator)(nil)

// runSubBatch embeds every key concurrently on the pool and waits for all.
// vecs[i] and errs[i] correspond to keys[i].
func (g *Generator) runSubBatch(ctx context.Context, keys []string, keyText map[string]string, refresh bool) ([][]float32, []error) {
	vecs := make([][]float32, len(keys))
	errs := make([]error, len(keys))

	var wg sync.WaitGroup
	for i, key := range keys {
		wg.Add(1)
		task := func() {
			defer wg.Done()
			vecs[i], errs[i] = g.embedOne(ctx, key, keyText[key], refresh)
		}
		if err := g.pool.Submit(task); err != nil {
			wg.Done()
			errs[i] = err
		}
	}
	wg.Wait()

	return vecs, errs
}

// embedOne resolves one text. Concurrent callers for the same key share one
// request, and the vector reaches the cache before any of them returns.
// The shared request ignores the cancellation of whichever caller started
// it; each caller stops waiting when its own ctx is done.
func (g *Generator) embedOne(ctx context.Context, key, text string, refresh bool) ([]float32, error) {
	flightCtx := context.WithoutCancel(ctx)
	ch := g.inflight.DoChan(key, func() (any, error) {
		if !refresh && g.cache != nil {
			if vec, ok := g.cache.Get(key); ok {
				return vec, nil
			}
		}

		started := time.Now()
		vec, err := retry.DoValue(flightCtx, g.policy, func(ctx context.Context) ([]float32, error) {
			if g.limiter != nil {
				if err := g.limiter.Wait(ctx); err != nil {
					return nil, retry.Permanent(err)
				}
			}
			return g.embedder.EmbedText(ctx, text)
		})
		if err != nil {
			return nil, err
		}
		if len(vec) == 0 {
			return nil, fmt.Errorf("%w: empty vector", core.ErrEmbeddingService)
		}

		if g.cache != nil {
			if err := g.cache.Put(key, vec); err != nil {
				g.logger.Warn("failed to cache embedding", "key", key, "error", err)
			}
		}
		g.logger.Debug("embedded text", "key", key, "dim", len(vec), "elapsed", time.Since(started))
		return vec, nil
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case r := <-ch:
		if r.Err != nil {
			return nil, r.Err
		}
		if r.Shared {
			g.logger.Debug("shared in-flight embedding", "key", key)
		}
		return r.Val.([]float32), nil
	}
}

func wrapServiceErr(err error) error {
	if errors.Is(err, core.ErrEmbeddingService) {
		return err
	}
	return fmt.Errorf("%w: %w", core.ErrEmbeddingService, err)
}

func countFailed(errs []error) int {
	n := 0
	for _, err := range errs {
		if err != nil {
			n++
		}
	}
	return n
}
