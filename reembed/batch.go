package reembed

import (
	"context"
	"fmt"

	"github.com/poiesic/docqa/core"
	"github.com/poiesic/docqa/embedding"
	"github.com/poiesic/docqa/storage"
)

// BatchEmbedder embeds many texts at once. *embedding.Generator implements it.
type BatchEmbedder interface {
	EmbedBatch(ctx context.Context, texts []string, opts ...embedding.BatchOption) (*embedding.BatchResult, error)
}

// BatchProcessor re-embeds one batch of records and writes them back.
type BatchProcessor struct {
	store    storage.VectorStore
	embedder BatchEmbedder
}

// NewBatchProcessor creates a new batch processor.
func NewBatchProcessor(store storage.VectorStore, embedder BatchEmbedder) *BatchProcessor {
	return &BatchProcessor{
		store:    store,
		embedder: embedder,
	}
}

// Process embeds the records' texts, bypassing the cache, and upserts them
// under their existing ids. Retries happen inside the embedder.
func (bp *BatchProcessor) Process(ctx context.Context, records []*core.VectorRecord) error {
	if len(records) == 0 {
		return nil
	}

	texts := make([]string, len(records))
	ids := make([]string, len(records))
	metas := make([]map[string]string, len(records))
	for i, record := range records {
		texts[i] = record.Text
		ids[i] = record.ID
		metas[i] = record.Metadata
	}

	res, err := bp.embedder.EmbedBatch(ctx, texts, embedding.Refresh())
	if err != nil {
		return fmt.Errorf("failed to generate embeddings: %w", err)
	}
	if len(res.Vectors) != len(records) {
		return fmt.Errorf("%w: expected %d, got %d", ErrEmbeddingCountMismatch, len(records), len(res.Vectors))
	}

	if _, err := bp.store.Upsert(ctx, texts, metas,
		storage.WithIDs(ids),
		storage.WithEmbeddings(res.Vectors),
		storage.WithBatchSize(len(records)),
	); err != nil {
		return fmt.Errorf("failed to update records: %w", err)
	}
	return nil
}
