package embedding

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync/atomic"
	"testing"
	"time"

	"github.com/poiesic/docqa/ai/mock"
	"github.com/poiesic/docqa/core"
	"github.com/poiesic/docqa/retry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testDim = 8

func fastRetry(attempts int) retry.Policy {
	return retry.Policy{MaxAttempts: attempts, InitialDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond}
}

func newTestGenerator(t *testing.T, embedder *mock.MockEmbedder, opts ...Option) (*Generator, *Cache) {
	t.Helper()
	cache, err := NewCache(t.TempDir())
	require.NoError(t, err)

	opts = append([]Option{WithCache(cache), WithRetryPolicy(fastRetry(3))}, opts...)
	g, err := NewGenerator(embedder, opts...)
	require.NoError(t, err)
	t.Cleanup(g.Release)
	return g, cache
}

func TestEmbedBatch_CacheIdempotence(t *testing.T) {
	m := mock.NewMockEmbedder().WithDimension(testDim)
	g, _ := newTestGenerator(t, m)
	ctx := context.Background()

	first, err := g.EmbedBatch(ctx, []string{"alpha"})
	require.NoError(t, err)
	assert.Equal(t, 1, first.CacheMisses)
	assert.Equal(t, 1, m.CallCount())

	second, err := g.EmbedBatch(ctx, []string{"alpha"})
	require.NoError(t, err)
	assert.Equal(t, 1, second.CacheHits)
	assert.Zero(t, second.CacheMisses)
	assert.Equal(t, 1, m.CallCount(), "second call must be a pure cache hit")
	assert.Equal(t, first.Vectors, second.Vectors)
}

func TestEmbedBatch_OrderPreserved(t *testing.T) {
	m := mock.NewMockEmbedder().WithDimension(testDim)
	m.WithEmbedTextFunc(func(ctx context.Context, text string) ([]float32, error) {
		time.Sleep(time.Duration(rand.IntN(5)) * time.Millisecond)
		return mock.DeterministicVector(text, testDim), nil
	})
	g, _ := newTestGenerator(t, m, WithConcurrency(6), WithBatchSize(7))

	texts := make([]string, 40)
	for i := range texts {
		texts[i] = fmt.Sprintf("text number %d", i)
	}
	// prime a few cache entries so hits and misses interleave
	_, err := g.Embed(context.Background(), []string{texts[3], texts[17], texts[30]})
	require.NoError(t, err)

	vecs, err := g.Embed(context.Background(), texts)
	require.NoError(t, err)
	require.Len(t, vecs, len(texts))
	for i, text := range texts {
		assert.Equal(t, mock.DeterministicVector(text, testDim), vecs[i], "index %d", i)
	}
}

func TestEmbedBatch_DuplicateTextsOneRequest(t *testing.T) {
	m := mock.NewMockEmbedder().WithDimension(testDim)
	g, cache := newTestGenerator(t, m)

	// the same sentence in two documents
	res, err := g.EmbedBatch(context.Background(), []string{"shared sentence.", "doc one only", "shared sentence."})
	require.NoError(t, err)

	assert.Equal(t, 1, m.CallsFor("shared sentence."))
	assert.Equal(t, res.Vectors[0], res.Vectors[2])
	n, err := cache.Len()
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestEmbedBatch_FailsBatchWithoutIgnore(t *testing.T) {
	m := mock.NewMockEmbedder().WithDimension(testDim)
	m.WithEmbedTextFunc(func(ctx context.Context, text string) ([]float32, error) {
		if text == "bad" {
			return nil, errors.New("service down")
		}
		return mock.DeterministicVector(text, testDim), nil
	})
	g, _ := newTestGenerator(t, m)

	_, err := g.EmbedBatch(context.Background(), []string{"good", "bad"})
	require.Error(t, err)
	assert.ErrorIs(t, err, core.ErrEmbeddingService)
	assert.Equal(t, 3, m.CallsFor("bad"), "failed item is retried up to the policy limit")
}

func TestEmbedBatch_IgnoreErrors(t *testing.T) {
	m := mock.NewMockEmbedder().WithDimension(testDim)
	m.WithEmbedTextFunc(func(ctx context.Context, text string) ([]float32, error) {
		if text == "bad" {
			return nil, errors.New("service down")
		}
		return mock.DeterministicVector(text, testDim), nil
	})
	g, _ := newTestGenerator(t, m)

	res, err := g.EmbedBatch(context.Background(), []string{"good", "bad", "also good", "bad"}, IgnoreErrors())
	require.NoError(t, err)

	assert.NotNil(t, res.Vectors[0])
	assert.Nil(t, res.Vectors[1])
	assert.NotNil(t, res.Vectors[2])
	assert.Nil(t, res.Vectors[3])
	require.Len(t, res.Failed, 2)
	assert.Equal(t, 1, res.Failed[0].Index)
	assert.Equal(t, 3, res.Failed[1].Index)
	assert.Equal(t, "bad", res.Failed[0].Text)
}

func TestEmbedBatch_RetriesTransientFailure(t *testing.T) {
	var calls atomic.Int32
	m := mock.NewMockEmbedder().WithDimension(testDim)
	m.WithEmbedTextFunc(func(ctx context.Context, text string) ([]float32, error) {
		if calls.Add(1) < 3 {
			return nil, errors.New("timeout")
		}
		return mock.DeterministicVector(text, testDim), nil
	})
	g, _ := newTestGenerator(t, m)

	vecs, err := g.Embed(context.Background(), []string{"flaky"})
	require.NoError(t, err)
	assert.Len(t, vecs[0], testDim)
	assert.Equal(t, int32(3), calls.Load())
}

func TestEmbedBatch_BoundedConcurrency(t *testing.T) {
	const limit = 3
	var inFlight, peak atomic.Int32
	m := mock.NewMockEmbedder().WithDimension(testDim)
	m.WithEmbedTextFunc(func(ctx context.Context, text string) ([]float32, error) {
		n := inFlight.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		inFlight.Add(-1)
		return mock.DeterministicVector(text, testDim), nil
	})
	g, _ := newTestGenerator(t, m, WithConcurrency(limit))

	texts := make([]string, 30)
	for i := range texts {
		texts[i] = fmt.Sprintf("t%d", i)
	}
	_, err := g.Embed(context.Background(), texts)
	require.NoError(t, err)
	assert.LessOrEqual(t, peak.Load(), int32(limit))
	assert.Greater(t, peak.Load(), int32(1), "sub-batch items should run concurrently")
}

func TestEmbedBatch_ProgressPerSubBatch(t *testing.T) {
	m := mock.NewMockEmbedder().WithDimension(testDim)
	g, _ := newTestGenerator(t, m, WithBatchSize(2))

	var calls [][2]int
	_, err := g.EmbedBatch(context.Background(), []string{"a", "b", "c", "d", "e"},
		WithProgress(func(done, total int) { calls = append(calls, [2]int{done, total}) }))
	require.NoError(t, err)
	assert.Equal(t, [][2]int{{2, 5}, {4, 5}, {5, 5}}, calls)
}

func TestEmbedBatch_RefreshBypassesCache(t *testing.T) {
	m := mock.NewMockEmbedder().WithDimension(testDim)
	g, _ := newTestGenerator(t, m)

	_, err := g.Embed(context.Background(), []string{"x"})
	require.NoError(t, err)
	res, err := g.EmbedBatch(context.Background(), []string{"x"}, Refresh())
	require.NoError(t, err)

	assert.Zero(t, res.CacheHits)
	assert.Equal(t, 2, m.CallsFor("x"))
}

func TestEmbedBatch_Empty(t *testing.T) {
	g, _ := newTestGenerator(t, mock.NewMockEmbedder())
	res, err := g.EmbedBatch(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, res.Vectors)
}

func TestNewGenerator_Validation(t *testing.T) {
	_, err := NewGenerator(nil)
	assert.ErrorIs(t, err, ErrEmbedderRequired)

	_, err = NewGenerator(mock.NewMockEmbedder(), WithBatchSize(0))
	assert.Error(t, err)

	_, err = NewGenerator(mock.NewMockEmbedder(), WithRetryPolicy(retry.Policy{}))
	assert.ErrorIs(t, err, retry.ErrInvalidMaxAttempts)
}

func TestGenerator_RateLimit(t *testing.T) {
	m := mock.NewMockEmbedder().WithDimension(testDim)
	g, _ := newTestGenerator(t, m, WithRateLimit(50, 1))

	start := time.Now()
	_, err := g.Embed(context.Background(), []string{"r1", "r2", "r3", "r4", "r5"})
	require.NoError(t, err)
	// 5 requests at 50/s with burst 1 need at least ~80ms
	assert.GreaterOrEqual(t, time.Since(start), 60*time.Millisecond)
}

// gatedEmbedder blocks every call until release is closed and reports each
// call on entered.
func gatedEmbedder(entered chan<- string, release <-chan struct{}) *mock.MockEmbedder {
	return mock.NewMockEmbedder().WithDimension(testDim).WithEmbedTextFunc(func(ctx context.Context, text string) ([]float32, error) {
		entered <- text
		select {
		case <-release:
			return mock.DeterministicVector(text, testDim), nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	})
}

func TestEmbedBatch_ConcurrentDuplicatesShareOneRequest(t *testing.T) {
	entered := make(chan string, 4)
	release := make(chan struct{})
	m := gatedEmbedder(entered, release)
	g, cache := newTestGenerator(t, m)
	ctx := context.Background()

	const callers = 4
	results := make(chan *BatchResult, callers)
	errs := make(chan error, callers)
	for range callers {
		go func() {
			res, err := g.EmbedBatch(ctx, []string{"same paragraph"})
			results <- res
			errs <- err
		}()
	}

	<-entered
	// Let the other callers reach the in-flight request.
	time.Sleep(50 * time.Millisecond)
	close(release)

	var first []float32
	for range callers {
		require.NoError(t, <-errs)
		res := <-results
		require.Len(t, res.Vectors, 1)
		if first == nil {
			first = res.Vectors[0]
		}
		assert.Equal(t, first, res.Vectors[0])
	}

	assert.Equal(t, 1, m.CallCount())
	vec, ok := cache.Get(core.CacheKey("same paragraph"))
	require.True(t, ok)
	assert.Equal(t, first, vec)
}

func TestEmbedBatch_SharedRequestOutlivesCanceledCaller(t *testing.T) {
	entered := make(chan string, 2)
	release := make(chan struct{})
	m := gatedEmbedder(entered, release)
	g, _ := newTestGenerator(t, m)

	firstCtx, cancel := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, err := g.EmbedBatch(firstCtx, []string{"shared"})
		firstErr <- err
	}()
	<-entered

	cancel()
	assert.ErrorIs(t, <-firstErr, context.Canceled)

	secondErr := make(chan error, 1)
	var second *BatchResult
	go func() {
		var err error
		second, err = g.EmbedBatch(context.Background(), []string{"shared"})
		secondErr <- err
	}()
	time.Sleep(20 * time.Millisecond)
	close(release)

	require.NoError(t, <-secondErr)
	assert.Equal(t, mock.DeterministicVector("shared", testDim), second.Vectors[0])
	assert.Equal(t, 1, m.CallCount())
}
