package search

import (
	"context"
	"log/slog"
	"math"
	"testing"

	"github.com/poiesic/docqa/ai/mock"
	"github.com/poiesic/docqa/core"
	"github.com/poiesic/docqa/storage"
	"github.com/poiesic/docqa/storage/badger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// unitAt returns a 2-D unit vector whose cosine with (1, 0) is c.
func unitAt(c float64) []float32 {
	return []float32{float32(c), float32(math.Sqrt(1 - c*c))}
}

// queryEmbedder maps every query to (1, 0).
func queryEmbedder() *mock.MockEmbedder {
	return mock.NewMockEmbedder().WithEmbedTextFunc(func(ctx context.Context, text string) ([]float32, error) {
		return []float32{1, 0}, nil
	})
}

func seededStore(t *testing.T) *badger.VectorStore {
	t.Helper()
	store, backend, err := badger.NewMemoryVectorStore(context.Background(), "docs", nil)
	require.NoError(t, err)
	t.Cleanup(func() {
		store.Close()
		backend.Close()
	})

	_, err = store.Upsert(context.Background(),
		[]string{
			"Rotate the backup keys every ninety days.",
			"Backups run nightly at two in the morning.",
			"The cafeteria menu changes on Mondays.",
		},
		[]map[string]string{
			{core.MetaDocumentID: "ops", core.MetaPage: "1"},
			{core.MetaDocumentID: "ops", core.MetaPage: "2"},
			{core.MetaDocumentID: "hr", core.MetaPage: "1"},
		},
		storage.WithEmbeddings([][]float32{unitAt(0.9), unitAt(0.5), unitAt(0.1)}),
	)
	require.NoError(t, err)
	return store
}

type recordingMonitor struct {
	started    string
	candidates int
	filtered   map[string]string
	finished   []*core.SearchResult
}

func (m *recordingMonitor) Start(query string) { m.started = query }
func (m *recordingMonitor) AfterVectorSearch(c []*core.SearchResult) {
	m.candidates = len(c)
}
func (m *recordingMonitor) Filtered(r *core.SearchResult, reason string) {
	if m.filtered == nil {
		m.filtered = map[string]string{}
	}
	m.filtered[r.Record.Text] = reason
}
func (m *recordingMonitor) Finish(results []*core.SearchResult) { m.finished = results }

func TestNewSearcher(t *testing.T) {
	store := seededStore(t)

	t.Run("valid configuration", func(t *testing.T) {
		s, err := NewSearcher(store, queryEmbedder(), WithLogger(slog.Default()))
		require.NoError(t, err)
		assert.NotNil(t, s)
	})

	t.Run("nil store", func(t *testing.T) {
		_, err := NewSearcher(nil, queryEmbedder())
		assert.Equal(t, ErrVectorStoreRequired, err)
	})

	t.Run("nil embedder", func(t *testing.T) {
		_, err := NewSearcher(store, nil)
		assert.Equal(t, ErrEmbedderRequired, err)
	})

	t.Run("invalid min score", func(t *testing.T) {
		_, err := NewSearcher(store, queryEmbedder(), WithMinScore(2))
		assert.ErrorIs(t, err, core.ErrValidation)
	})
}

func TestSearch_Ranking(t *testing.T) {
	s, err := NewSearcher(seededStore(t), queryEmbedder())
	require.NoError(t, err)

	results, err := s.Search(context.Background(), "backup keys", nil, 2)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.InDelta(t, 0.9, results[0].Score, 1e-5)
	assert.InDelta(t, 0.5, results[1].Score, 1e-5)
}

func TestSearch_WhereFilter(t *testing.T) {
	s, err := NewSearcher(seededStore(t), queryEmbedder())
	require.NoError(t, err)

	results, err := s.Search(context.Background(), "menu", storage.Where{core.MetaDocumentID: "hr"}, 5)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Contains(t, results[0].Record.Text, "cafeteria")
}

func TestSearch_MinScore(t *testing.T) {
	s, err := NewSearcher(seededStore(t), queryEmbedder(), WithMinScore(0.4))
	require.NoError(t, err)

	monitor := &recordingMonitor{}
	results, err := s.SearchWithMonitor(context.Background(), "backups", nil, 5, monitor)
	require.NoError(t, err)
	assert.Len(t, results, 2)
	assert.Equal(t, "backups", monitor.started)
	assert.Equal(t, 3, monitor.candidates)
	assert.Equal(t, ReasonBelowMinScore, monitor.filtered["The cafeteria menu changes on Mondays."])
	assert.Equal(t, results, monitor.finished)
}

func TestSearch_RequireAllTerms(t *testing.T) {
	s, err := NewSearcher(seededStore(t), queryEmbedder(), WithRequireAllTerms(true))
	require.NoError(t, err)

	results, err := s.Search(context.Background(), "When do backups run?", nil, 5)
	require.NoError(t, err)
	require.Len(t, results, 0, "'when' is not in any chunk")

	results, err = s.Search(context.Background(), "How are the backups run?", nil, 5)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Contains(t, results[0].Record.Text, "nightly")
}

func TestSearch_EmptyStore(t *testing.T) {
	store, backend, err := badger.NewMemoryVectorStore(context.Background(), "empty", nil)
	require.NoError(t, err)
	defer backend.Close()
	defer store.Close()

	embedder := queryEmbedder()
	s, err := NewSearcher(store, embedder)
	require.NoError(t, err)

	results, err := s.Search(context.Background(), "anything", nil, 3)
	require.NoError(t, err)
	assert.Empty(t, results)
	assert.Zero(t, embedder.CallCount())
}

func TestSearch_InvalidInput(t *testing.T) {
	s, err := NewSearcher(seededStore(t), queryEmbedder())
	require.NoError(t, err)

	_, err = s.Search(context.Background(), "   ", nil, 3)
	assert.ErrorIs(t, err, ErrEmptyQuery)

	_, err = s.Search(context.Background(), "query", nil, 0)
	assert.ErrorIs(t, err, storage.ErrInvalidQuery)
}

func TestContainsAllQueryWords(t *testing.T) {
	tests := []struct {
		name     string
		document string
		query    string
		want     bool
	}{
		{"all terms", "Rotate the backup keys.", "backup keys", true},
		{"punctuation and case", "ROTATE: the Backup-keys!", "rotate", true},
		{"missing term", "Rotate the backup keys.", "backup passwords", false},
		{"stop words only", "anything at all", "the of and", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, containsAllQueryWords(tt.document, tt.query))
		})
	}
}
