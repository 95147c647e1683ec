package docqa

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/poiesic/docqa/ai"
	"github.com/poiesic/docqa/ai/mock"
	"github.com/poiesic/docqa/core"
	"github.com/poiesic/docqa/extract/pdftest"
	"github.com/poiesic/docqa/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig(t *testing.T) *Config {
	t.Helper()
	cfg := DefaultConfig(filepath.Join(t.TempDir(), "data"))
	cfg.ChunkSize = 30
	cfg.ChunkOverlap = 5
	cfg.MaxRetries = 0
	cfg.InitialDelay = time.Millisecond
	cfg.MaxDelay = time.Millisecond
	return cfg
}

func openTestDB(t *testing.T, cfg *Config) (*Database, *mock.MockEmbedder) {
	t.Helper()
	embedder := mock.NewMockEmbedder().WithDimension(16)
	db, err := Open(cfg, WithProvider(mock.NewMockProviderWithEmbedder(embedder)))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db, embedder
}

func TestOpen(t *testing.T) {
	t.Run("creates data directories", func(t *testing.T) {
		cfg := testConfig(t)
		db, _ := openTestDB(t, cfg)
		assert.Equal(t, "mock-embed", db.Model())

		for _, sub := range []string{"vectors", "state", "cache"} {
			info, err := os.Stat(filepath.Join(cfg.DataDir, sub))
			require.NoError(t, err)
			assert.True(t, info.IsDir())
		}
	})

	t.Run("rejects invalid config", func(t *testing.T) {
		cfg := testConfig(t)
		cfg.ChunkOverlap = cfg.ChunkSize
		_, err := Open(cfg, WithProvider(mock.NewMockProvider()))
		assert.ErrorIs(t, err, core.ErrValidation)

		_, err = Open(nil)
		assert.ErrorIs(t, err, core.ErrValidation)

		cfg = testConfig(t)
		cfg.TargetChunks = -1
		_, err = Open(cfg, WithProvider(mock.NewMockProvider()))
		assert.ErrorIs(t, err, core.ErrValidation)
	})

	t.Run("data dir is a file", func(t *testing.T) {
		file := filepath.Join(t.TempDir(), "not_a_dir")
		require.NoError(t, os.WriteFile(file, []byte("x"), 0o644))

		provider := mock.NewMockProvider()
		db, err := Open(DefaultConfig(file), WithProvider(provider))
		assert.Error(t, err)
		assert.Nil(t, db)
	})

	t.Run("unknown provider", func(t *testing.T) {
		cfg := testConfig(t)
		cfg.AI = ai.NewConfig(ai.WithProvider("carrier-pigeon"))
		_, err := Open(cfg)
		assert.Error(t, err)
	})
}

func TestDatabase_IngestAndSearch(t *testing.T) {
	cfg := testConfig(t)
	db, embedder := openTestDB(t, cfg)
	ctx := context.Background()
	dir := t.TempDir()

	_, err := pdftest.WriteFile(dir, "ops.pdf", []string{"Rotate the backup keys every ninety days."}, pdftest.Options{Title: "Ops"})
	require.NoError(t, err)
	_, err = pdftest.WriteFile(dir, "hr.pdf", []string{"The cafeteria menu changes on Mondays."}, pdftest.Options{Title: "HR"})
	require.NoError(t, err)

	stats, err := db.ProcessDirectory(ctx, dir, false)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.FilesSucceeded)

	// The mock maps identical text to identical vectors, so searching for a
	// chunk's exact text ranks that chunk first with a perfect score.
	var target *core.VectorRecord
	require.NoError(t, db.store.ForEach(ctx, func(r *core.VectorRecord) error {
		if r.Metadata[core.MetaTitle] == "HR" {
			target = r
		}
		return nil
	}))
	require.NotNil(t, target)

	results, err := db.Search(ctx, target.Text, nil, 1)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, target.ID, results[0].Record.ID)
	assert.InDelta(t, 1.0, results[0].Score, 1e-5)

	results, err = db.Search(ctx, target.Text, storage.Where{core.MetaTitle: "Ops"}, 5)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "Ops", results[0].Record.Metadata[core.MetaTitle])

	calls := embedder.CallCount()
	_, err = db.Search(ctx, target.Text, nil, 1)
	require.NoError(t, err)
	assert.Equal(t, calls, embedder.CallCount(), "query embeddings are cached")
}

func TestDatabase_DeleteDocumentAllowsReingest(t *testing.T) {
	db, _ := openTestDB(t, testConfig(t))
	ctx := context.Background()
	path, err := pdftest.WriteFile(t.TempDir(), "a.pdf", []string{"Some text."}, pdftest.Options{})
	require.NoError(t, err)

	res, err := db.AddDocument(ctx, path)
	require.NoError(t, err)

	n, err := db.DeleteDocument(ctx, res.DocumentID)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	res, err = db.AddDocument(ctx, path)
	require.NoError(t, err)
	assert.False(t, res.Skipped)
}

func TestDatabase_DeleteCollection(t *testing.T) {
	db, _ := openTestDB(t, testConfig(t))
	ctx := context.Background()
	path, err := pdftest.WriteFile(t.TempDir(), "a.pdf", []string{"Some text."}, pdftest.Options{})
	require.NoError(t, err)

	_, err = db.AddDocument(ctx, path)
	require.NoError(t, err)
	require.NoError(t, db.DeleteCollection(ctx))

	stats, err := db.Stats(ctx)
	require.NoError(t, err)
	assert.Zero(t, stats.Count)

	res, err := db.AddDocument(ctx, path)
	require.NoError(t, err)
	assert.False(t, res.Skipped, "ingest history is cleared with the collection")
}

func TestDatabase_PersistsAcrossReopen(t *testing.T) {
	cfg := testConfig(t)
	ctx := context.Background()
	path, err := pdftest.WriteFile(t.TempDir(), "a.pdf", []string{"Persistent text."}, pdftest.Options{})
	require.NoError(t, err)

	db, err := Open(cfg, WithProvider(mock.NewMockProvider()))
	require.NoError(t, err)
	_, err = db.AddDocument(ctx, path)
	require.NoError(t, err)
	require.NoError(t, db.Close())

	db, _ = openTestDB(t, cfg)
	stats, err := db.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Count)

	res, err := db.AddDocument(ctx, path)
	require.NoError(t, err)
	assert.True(t, res.Skipped)
}

func TestDatabase_Reembed(t *testing.T) {
	db, embedder := openTestDB(t, testConfig(t))
	ctx := context.Background()
	path, err := pdftest.WriteFile(t.TempDir(), "a.pdf", []string{"One page.", "Two page."}, pdftest.Options{})
	require.NoError(t, err)

	_, err = db.AddDocument(ctx, path)
	require.NoError(t, err)
	before := embedder.CallCount()

	n, err := db.Reembed(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, before+2, embedder.CallCount())
}

func TestDatabase_FailedOperations(t *testing.T) {
	db, _ := openTestDB(t, testConfig(t))
	ctx := context.Background()
	bad := filepath.Join(t.TempDir(), "bad.pdf")
	require.NoError(t, os.WriteFile(bad, []byte("garbage"), 0o644))

	stats, err := db.ProcessFiles(ctx, []string{bad})
	require.NoError(t, err)
	assert.Equal(t, 1, stats.FilesFailed)

	failed, err := db.FailedOperations(ctx)
	require.NoError(t, err)
	require.Len(t, failed, 1)
	for _, state := range failed {
		assert.Equal(t, bad, state.Input["path"])
		assert.NotEmpty(t, state.Error)
	}
}
