package badger

import (
	"context"
	"fmt"
	"math"
	"testing"

	"github.com/google/uuid"
	"github.com/poiesic/docqa/ai"
	"github.com/poiesic/docqa/ai/mock"
	"github.com/poiesic/docqa/core"
	"github.com/poiesic/docqa/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// unitAt returns a 2-D unit vector whose cosine with (1, 0) is c.
func unitAt(c float64) []float32 {
	return []float32{float32(c), float32(math.Sqrt(1 - c*c))}
}

func newStore(t *testing.T, embedder ai.Embedder) *VectorStore {
	t.Helper()
	store, backend, err := NewMemoryVectorStore(context.Background(), "test", embedder)
	require.NoError(t, err)
	t.Cleanup(func() {
		store.Close()
		backend.Close()
	})
	return store
}

func TestUpsert_MismatchedLengthsWritesNothing(t *testing.T) {
	m := mock.NewMockEmbedder().WithDimension(4)
	store := newStore(t, m)
	ctx := context.Background()

	_, err := store.Upsert(ctx, []string{"a", "b"}, []map[string]string{{}})
	require.Error(t, err)
	assert.ErrorIs(t, err, core.ErrValidation)

	stats, err := store.Stats(ctx)
	require.NoError(t, err)
	assert.Zero(t, stats.Count)
	assert.Zero(t, m.CallCount(), "validation runs before embedding")
}

func TestUpsert_ValidationCases(t *testing.T) {
	store := newStore(t, mock.NewMockEmbedder().WithDimension(2))
	ctx := context.Background()

	tests := []struct {
		name  string
		texts []string
		meta  []map[string]string
		opts  []storage.UpsertOption
	}{
		{name: "ids length", texts: []string{"a", "b"}, opts: []storage.UpsertOption{storage.WithIDs([]string{"1"})}},
		{name: "embeddings length", texts: []string{"a"}, opts: []storage.UpsertOption{storage.WithEmbeddings([][]float32{{1, 0}, {0, 1}})}},
		{name: "empty text", texts: []string{"a", "  "}},
		{name: "duplicate ids", texts: []string{"a", "b"}, opts: []storage.UpsertOption{storage.WithIDs([]string{"x", "x"})}},
		{name: "mixed dimensions", texts: []string{"a", "b"}, opts: []storage.UpsertOption{storage.WithEmbeddings([][]float32{{1, 0}, {1, 0, 0}})}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := store.Upsert(ctx, tt.texts, tt.meta, tt.opts...)
			assert.ErrorIs(t, err, core.ErrValidation)
		})
	}

	stats, err := store.Stats(ctx)
	require.NoError(t, err)
	assert.Zero(t, stats.Count)
}

func TestUpsert_AssignsIDsAndEmbeds(t *testing.T) {
	m := mock.NewMockEmbedder().WithDimension(4)
	store := newStore(t, m)
	ctx := context.Background()

	ids, err := store.Upsert(ctx, []string{"first", "second"}, []map[string]string{
		{core.MetaDocumentID: "doc1", core.MetaPage: "1"},
		{core.MetaDocumentID: "doc1", core.MetaPage: "2"},
	})
	require.NoError(t, err)
	require.Len(t, ids, 2)
	for _, id := range ids {
		_, err := uuid.Parse(id)
		assert.NoError(t, err)
	}
	assert.Equal(t, 2, m.CallCount())

	rec, err := store.Get(ctx, ids[1])
	require.NoError(t, err)
	assert.Equal(t, "second", rec.Text)
	assert.Equal(t, "doc1", rec.DocumentID)
	assert.Equal(t, mock.DeterministicVector("second", 4), rec.Embedding)
}

func TestUpsert_DimensionFixedPerCollection(t *testing.T) {
	store := newStore(t, nil)
	ctx := context.Background()

	_, err := store.Upsert(ctx, []string{"a"}, nil, storage.WithEmbeddings([][]float32{{1, 0}}))
	require.NoError(t, err)

	_, err = store.Upsert(ctx, []string{"b"}, nil, storage.WithEmbeddings([][]float32{{1, 0, 0}}))
	assert.ErrorIs(t, err, storage.ErrDimensionMismatch)
	assert.ErrorIs(t, err, core.ErrValidation)
}

func TestUpsert_WithoutEmbedder(t *testing.T) {
	store := newStore(t, nil)
	_, err := store.Upsert(context.Background(), []string{"a"}, nil)
	assert.ErrorIs(t, err, storage.ErrEmbedderRequired)
}

func TestUpsert_ReplacesInPlace(t *testing.T) {
	store := newStore(t, nil)
	ctx := context.Background()

	_, err := store.Upsert(ctx, []string{"one", "two", "three"}, nil,
		storage.WithIDs([]string{"a", "b", "c"}),
		storage.WithEmbeddings([][]float32{{1, 0}, {1, 0}, {1, 0}}))
	require.NoError(t, err)

	_, err = store.Upsert(ctx, []string{"TWO"}, nil,
		storage.WithIDs([]string{"b"}), storage.WithEmbeddings([][]float32{{1, 0}}))
	require.NoError(t, err)

	var texts []string
	require.NoError(t, store.ForEach(ctx, func(r *core.VectorRecord) error {
		texts = append(texts, r.Text)
		return nil
	}))
	assert.Equal(t, []string{"one", "TWO", "three"}, texts)
}

func TestUpsert_SmallBatches(t *testing.T) {
	store := newStore(t, mock.NewMockEmbedder().WithDimension(3))
	texts := []string{"a", "b", "c", "d", "e", "f", "g"}

	ids, err := store.Upsert(context.Background(), texts, nil, storage.WithBatchSize(2))
	require.NoError(t, err)
	assert.Len(t, ids, 7)

	stats, err := store.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 7, stats.Count)
	assert.Equal(t, 3, stats.Dimension)
}

func TestSearchByVector_Ranking(t *testing.T) {
	store := newStore(t, nil)
	ctx := context.Background()

	_, err := store.Upsert(ctx, []string{"low", "high", "mid"}, nil,
		storage.WithEmbeddings([][]float32{unitAt(0.1), unitAt(0.9), unitAt(0.5)}))
	require.NoError(t, err)

	results, err := store.SearchByVector(ctx, []float32{1, 0}, 2, nil)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "high", results[0].Record.Text)
	assert.InDelta(t, 0.9, results[0].Score, 1e-5)
	assert.Equal(t, "mid", results[1].Record.Text)
	assert.InDelta(t, 0.5, results[1].Score, 1e-5)
}

func TestSearch_EmbedsQueries(t *testing.T) {
	m := mock.NewMockEmbedder()
	m.WithEmbedTextFunc(func(ctx context.Context, text string) ([]float32, error) {
		if text == "query" {
			return []float32{1, 0}, nil
		}
		return []float32{0, 1}, nil
	})
	store := newStore(t, m)
	ctx := context.Background()

	_, err := store.Upsert(ctx, []string{"low", "high", "mid"}, nil,
		storage.WithEmbeddings([][]float32{unitAt(0.1), unitAt(0.9), unitAt(0.5)}))
	require.NoError(t, err)

	results, err := store.Search(ctx, []string{"query", "other"}, 2, nil)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "high", results[0][0].Record.Text)
	assert.Equal(t, "mid", results[0][1].Record.Text)
	assert.Equal(t, "low", results[1][0].Record.Text)
}

func TestSearch_TiesKeepInsertionOrder(t *testing.T) {
	store := newStore(t, nil)
	ctx := context.Background()

	texts := []string{"t0", "t1", "t2", "t3", "t4"}
	vecs := make([][]float32, len(texts))
	for i := range vecs {
		vecs[i] = []float32{0.6, 0.8}
	}
	_, err := store.Upsert(ctx, texts, nil, storage.WithEmbeddings(vecs))
	require.NoError(t, err)

	results, err := store.SearchByVector(ctx, []float32{1, 0}, 5, nil)
	require.NoError(t, err)
	for i, r := range results {
		assert.Equal(t, texts[i], r.Record.Text)
	}
}

func TestSearch_WhereFilter(t *testing.T) {
	store := newStore(t, nil)
	ctx := context.Background()

	_, err := store.Upsert(ctx, []string{"a", "b", "c"}, []map[string]string{
		{core.MetaDocumentID: "d1", core.MetaPage: "1"},
		{core.MetaDocumentID: "d2", core.MetaPage: "1"},
		{core.MetaDocumentID: "d1", core.MetaPage: "2"},
	}, storage.WithEmbeddings([][]float32{unitAt(0.9), unitAt(0.99), unitAt(0.1)}))
	require.NoError(t, err)

	results, err := store.SearchByVector(ctx, []float32{1, 0}, 10, storage.Where{core.MetaDocumentID: "d1"})
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "a", results[0].Record.Text)
	assert.Equal(t, "c", results[1].Record.Text)

	results, err = store.SearchByVector(ctx, []float32{1, 0}, 10, storage.Where{core.MetaDocumentID: "d1", core.MetaPage: "2"})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "c", results[0].Record.Text)
}

func TestSearch_EmptyCollection(t *testing.T) {
	m := mock.NewMockEmbedder()
	store := newStore(t, m)

	results, err := store.Search(context.Background(), []string{"q1", "q2"}, 3, nil)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Empty(t, results[0])
	assert.NotNil(t, results[0])
	assert.Zero(t, m.CallCount())
}

func TestSearch_InvalidN(t *testing.T) {
	store := newStore(t, nil)
	_, err := store.SearchByVector(context.Background(), []float32{1}, 0, nil)
	assert.ErrorIs(t, err, storage.ErrInvalidQuery)
}

func TestSearch_ZeroNormQuery(t *testing.T) {
	store := newStore(t, nil)
	ctx := context.Background()
	_, err := store.Upsert(ctx, []string{"a"}, nil, storage.WithEmbeddings([][]float32{{1, 0}}))
	require.NoError(t, err)

	results, err := store.SearchByVector(ctx, []float32{0, 0}, 1, nil)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Zero(t, results[0].Score)
}

func TestDeleteDocument(t *testing.T) {
	store := newStore(t, nil)
	ctx := context.Background()

	_, err := store.Upsert(ctx, []string{"a", "b", "c"}, []map[string]string{
		{core.MetaDocumentID: "d1"}, {core.MetaDocumentID: "d2"}, {core.MetaDocumentID: "d1"},
	}, storage.WithEmbeddings([][]float32{{1, 0}, {0, 1}, {1, 1}}))
	require.NoError(t, err)

	n, err := store.DeleteDocument(ctx, "d1")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	stats, err := store.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Count)
	assert.Equal(t, 1, stats.Documents)

	n, err = store.DeleteDocument(ctx, "missing")
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestVectorStore_PersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	backend, err := OpenBackend(dir, false)
	require.NoError(t, err)
	store, err := NewVectorStore(ctx, backend, "docs", nil)
	require.NoError(t, err)

	_, err = store.Upsert(ctx, []string{"first", "second", "third"}, nil,
		storage.WithIDs([]string{"z", "y", "x"}),
		storage.WithEmbeddings([][]float32{{1, 0}, {0, 1}, {1, 1}}))
	require.NoError(t, err)
	require.NoError(t, store.Close())
	require.NoError(t, backend.Close())

	backend, err = OpenBackend(dir, false)
	require.NoError(t, err)
	defer backend.Close()
	store, err = NewVectorStore(ctx, backend, "docs", nil)
	require.NoError(t, err)
	defer store.Close()

	var ids []string
	require.NoError(t, store.ForEach(ctx, func(r *core.VectorRecord) error {
		ids = append(ids, r.ID)
		return nil
	}))
	assert.Equal(t, []string{"z", "y", "x"}, ids, "insertion order survives reopen")

	stats, err := store.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Dimension)

	// new records sort after reloaded ones
	_, err = store.Upsert(ctx, []string{"fourth"}, nil, storage.WithIDs([]string{"a"}), storage.WithEmbeddings([][]float32{{1, 0}}))
	require.NoError(t, err)
	ids = ids[:0]
	require.NoError(t, store.ForEach(ctx, func(r *core.VectorRecord) error {
		ids = append(ids, r.ID)
		return nil
	}))
	assert.Equal(t, []string{"z", "y", "x", "a"}, ids)
}

func TestDeleteCollection(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	backend, err := OpenBackend(dir, false)
	require.NoError(t, err)
	defer backend.Close()

	store, err := NewVectorStore(ctx, backend, "docs", nil)
	require.NoError(t, err)
	other, err := NewVectorStore(ctx, backend, "other", nil)
	require.NoError(t, err)
	defer other.Close()

	_, err = store.Upsert(ctx, []string{"a"}, nil, storage.WithEmbeddings([][]float32{{1, 0}}))
	require.NoError(t, err)
	_, err = other.Upsert(ctx, []string{"keep"}, nil, storage.WithEmbeddings([][]float32{{1, 0, 0}}))
	require.NoError(t, err)

	require.NoError(t, store.DeleteCollection(ctx))
	stats, err := store.Stats(ctx)
	require.NoError(t, err)
	assert.Zero(t, stats.Count)
	assert.Zero(t, stats.Dimension)
	require.NoError(t, store.Close())

	reopened, err := NewVectorStore(ctx, backend, "docs", nil)
	require.NoError(t, err)
	defer reopened.Close()
	stats, err = reopened.Stats(ctx)
	require.NoError(t, err)
	assert.Zero(t, stats.Count)

	stats, err = other.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Count, "other collections are untouched")
}

func TestDeleteCollection_SequenceSurvivesDrop(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	backend, err := OpenBackend(dir, false)
	require.NoError(t, err)
	defer backend.Close()

	store, err := NewVectorStore(ctx, backend, "docs", nil)
	require.NoError(t, err)

	upsertN := func(n int, tag string) {
		texts := make([]string, n)
		vecs := make([][]float32, n)
		for i := range n {
			texts[i] = fmt.Sprintf("%s-%d", tag, i)
			vecs[i] = unitAt(float64(i%7) / 7)
		}
		_, err := store.Upsert(ctx, texts, nil, storage.WithEmbeddings(vecs))
		require.NoError(t, err)
	}

	upsertN(10, "before")
	require.NoError(t, store.DeleteCollection(ctx))

	// Spans more than one sequence lease.
	after := 2*defaultSequenceBandwidth + 5
	upsertN(after, "after")
	stats, err := store.Stats(ctx)
	require.NoError(t, err)
	require.Equal(t, after, stats.Count)
	require.NoError(t, store.Close())

	reopened, err := NewVectorStore(ctx, backend, "docs", nil)
	require.NoError(t, err)
	defer reopened.Close()

	stats, err = reopened.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, after, stats.Count)

	seen := make(map[string]bool)
	require.NoError(t, reopened.ForEach(ctx, func(rec *core.VectorRecord) error {
		seen[rec.Text] = true
		return nil
	}))
	for i := range after {
		assert.True(t, seen[fmt.Sprintf("after-%d", i)], "record after-%d persisted", i)
	}
}

func TestVectorStore_Closed(t *testing.T) {
	store, backend, err := NewMemoryVectorStore(context.Background(), "c", nil)
	require.NoError(t, err)
	defer backend.Close()
	require.NoError(t, store.Close())

	_, err = store.Stats(context.Background())
	assert.ErrorIs(t, err, storage.ErrStorageClosed)
}

func TestNewVectorStore_InvalidCollection(t *testing.T) {
	_, _, err := NewMemoryVectorStore(context.Background(), "bad:name", nil)
	assert.ErrorIs(t, err, core.ErrValidation)
}
