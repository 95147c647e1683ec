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

package ingestion

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/poiesic/docqa/chunker"
	"github.com/poiesic/docqa/core"
	"github.com/poiesic/docqa/embedding"
	"github.com/poiesic/docqa/extract"
	"github.com/poiesic/docqa/progress"
	"github.com/poiesic/docqa/recovery"
	"github.com/poiesic/docqa/storage"
)

// OpIngest is the recovery operation type for ingesting one file.
const OpIngest = "ingest"

// InputPath is the recovery input key holding the source path.
const InputPath = "path"

const defaultUpsertBatchSize = 100

// BatchEmbedder embeds many texts at once. *embedding.Generator implements it.
type BatchEmbedder interface {
	EmbedBatch(ctx context.Context, texts []string, opts ...embedding.BatchOption) (*embedding.BatchResult, error)
}

// FileResult describes the outcome of ingesting one file.
type FileResult struct {
	Path              string
	DocumentID        string
	Pages             int
	Chunks            int
	Tokens            int
	EmbeddingFailures int
	Skipped           bool // already ingested
	Duration          time.Duration
}

// Pipeline orchestrates ingestion of PDF files into a vector store.
type Pipeline struct {
	extractor         extract.Extractor
	embedder          BatchEmbedder
	store             storage.VectorStore
	recovery          *recovery.Manager
	chunkConfig       chunker.Config
	targetChunks      int
	upsertBatchSize   int
	force             bool
	ignoreEmbedErrors bool
	progressOut       io.Writer
	logger            *slog.Logger
}

// Option configures a Pipeline.
type Option func(*Pipeline) error

// WithChunkConfig sets chunk size and overlap.
func WithChunkConfig(cfg chunker.Config) Option {
	return func(p *Pipeline) error {
		if err := cfg.Validate(); err != nil {
			return err
		}
		p.chunkConfig = cfg
		return nil
	}
}

// WithTargetChunks sizes chunks per document so each yields about n chunks,
// within bounds derived from the chunk config. Zero disables it.
func WithTargetChunks(n int) Option {
	return func(p *Pipeline) error {
		p.targetChunks = max(n, 0)
		return nil
	}
}

// WithUpsertBatchSize sets how many records are written per store transaction.
func WithUpsertBatchSize(n int) Option {
	return func(p *Pipeline) error {
		if n < 1 {
			return fmt.Errorf("%w: upsert batch size must be positive, got %d", core.ErrValidation, n)
		}
		p.upsertBatchSize = n
		return nil
	}
}

// WithForce re-ingests files even when their content was already ingested.
func WithForce(force bool) Option {
	return func(p *Pipeline) error {
		p.force = force
		return nil
	}
}

// WithIgnoreEmbeddingErrors stores the chunks that embedded and skips the
// rest instead of failing the file.
func WithIgnoreEmbeddingErrors(ignore bool) Option {
	return func(p *Pipeline) error {
		p.ignoreEmbedErrors = ignore
		return nil
	}
}

// WithProgressWriter enables progress lines on w (typically os.Stderr).
func WithProgressWriter(w io.Writer) Option {
	return func(p *Pipeline) error {
		p.progressOut = w
		return nil
	}
}

// WithLogger sets a custom logger.
// Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(p *Pipeline) error {
		if logger == nil {
			logger = slog.Default()
		}
		p.logger = logger
		return nil
	}
}

// NewPipeline creates a new ingestion pipeline.
func NewPipeline(
	extractor extract.Extractor,
	embedder BatchEmbedder,
	store storage.VectorStore,
	manager *recovery.Manager,
	opts ...Option,
) (*Pipeline, error) {
	if extractor == nil {
		return nil, ErrExtractorRequired
	}
	if embedder == nil {
		return nil, ErrEmbedderRequired
	}
	if store == nil {
		return nil, ErrVectorStoreRequired
	}
	if manager == nil {
		return nil, ErrRecoveryManagerRequired
	}

	p := &Pipeline{
		extractor:       extractor,
		embedder:        embedder,
		store:           store,
		recovery:        manager,
		chunkConfig:     chunker.DefaultConfig(),
		upsertBatchSize: defaultUpsertBatchSize,
		logger:          slog.Default(),
	}

	for _, opt := range opts {
		if err := opt(p); err != nil {
			return nil, err
		}
	}
	p.logger = p.logger.With("component", "ingestion")
	return p, nil
}

// AddDocument ingests a single file. Unlike ProcessFiles, the file's error is
// returned to the caller.
func (p *Pipeline) AddDocument(ctx context.Context, path string) (*FileResult, error) {
	return p.processFile(ctx, path, p.force)
}

// ProcessFiles ingests paths in order. A failing file is recorded in the
// returned stats and processing continues with the next one. The returned
// error is non-nil only when the run had to stop: recovery state could not
// be persisted, or ctx was cancelled.
func (p *Pipeline) ProcessFiles(ctx context.Context, paths []string) (*core.ProcessingStats, error) {
	stats := core.NewProcessingStats()
	start := time.Now()
	defer func() { stats.Duration = time.Since(start) }()

	var tracker *progress.Tracker
	if p.progressOut != nil {
		tracker = progress.New(p.progressOut, "Files", "files", len(paths), 1)
		tracker.Start()
		defer tracker.Finish()
	}

	for _, path := range paths {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		if err := p.record(ctx, stats, path, func() (*FileResult, error) { return p.processFile(ctx, path, p.force) }); err != nil {
			return stats, err
		}
		tracker.Increment(1)
	}

	p.logger.Info("batch complete",
		"attempted", stats.FilesAttempted,
		"succeeded", stats.FilesSucceeded,
		"failed", stats.FilesFailed,
		"skipped", stats.FilesSkipped,
		"chunks", stats.Chunks)
	return stats, nil
}

// record runs one file and folds its outcome into stats. It returns an error
// only when the run must stop.
func (p *Pipeline) record(ctx context.Context, stats *core.ProcessingStats, path string, run func() (*FileResult, error)) error {
	stats.FilesAttempted++
	res, err := run()
	if res != nil {
		stats.Chunks += res.Chunks
		stats.Tokens += res.Tokens
		stats.EmbeddingFailures += res.EmbeddingFailures
	}

	switch {
	case err == nil && res.Skipped:
		stats.FilesSkipped++
	case err == nil:
		stats.FilesSucceeded++
	case errors.Is(err, core.ErrRecovery):
		stats.FilesFailed++
		stats.Errors[path] = err.Error()
		p.logger.Error("recovery state unavailable, stopping run", "path", path, "error", err)
		return err
	case ctx.Err() != nil:
		return ctx.Err()
	default:
		stats.FilesFailed++
		stats.Errors[path] = err.Error()
		p.logger.Error("failed to ingest file", "path", path, "error", err)
	}
	return nil
}

// processFile ingests one file under recovery tracking. Unless force is set,
// a file whose content was already ingested is skipped.
func (p *Pipeline) processFile(ctx context.Context, path string, force bool) (*FileResult, error) {
	start := time.Now()
	res := &FileResult{Path: path}
	defer func() { res.Duration = time.Since(start) }()

	docID, err := hashFile(path)
	if err != nil {
		return res, err
	}
	res.DocumentID = docID
	id := opID(docID)

	if !force {
		done, err := p.recovery.IsCompleted(ctx, id)
		if err != nil {
			return res, err
		}
		if done {
			p.logger.Info("skipping already ingested file", "path", path, "document_id", docID)
			res.Skipped = true
			return res, nil
		}
	}

	if _, err := p.recovery.StartOperation(ctx, OpIngest, docID, map[string]string{InputPath: path}); err != nil {
		return res, err
	}

	if err := p.ingest(ctx, path, docID, res); err != nil {
		if ctx.Err() != nil {
			// Interrupted, not failed: leave the operation in_progress for Resume.
			return res, err
		}
		if _, uerr := p.recovery.UpdateOperation(ctx, id, core.StatusFailed, err); uerr != nil {
			return res, errors.Join(err, uerr)
		}
		return res, err
	}

	if _, err := p.recovery.UpdateOperation(ctx, id, core.StatusCompleted, nil); err != nil {
		return res, err
	}
	p.logger.Info("ingested file",
		"path", path,
		"document_id", docID,
		"pages", res.Pages,
		"chunks", res.Chunks,
		"duration", time.Since(start))
	return res, nil
}

// ingest extracts, chunks, embeds and stores one document.
func (p *Pipeline) ingest(ctx context.Context, path, docID string, res *FileResult) error {
	var pageProgress extract.ProgressFunc
	if p.progressOut != nil {
		t := progress.New(p.progressOut, "Pages "+filepath.Base(path), "pages", 0, 10)
		defer t.Finish()
		pageProgress = t.Report
	}

	doc, err := p.extractor.Extract(ctx, path, pageProgress)
	if err != nil {
		return err
	}
	if doc.ID != docID {
		return fmt.Errorf("%w: %s", ErrSourceChanged, path)
	}
	res.Pages = doc.PageCount

	chunks, err := chunker.Chunk(doc, p.chunkConfigFor(doc))
	if err != nil {
		return err
	}

	// Re-ingesting replaces the document's previous records.
	if removed, err := p.store.DeleteDocument(ctx, docID); err != nil {
		return err
	} else if removed > 0 {
		p.logger.Debug("removed stale records", "document_id", docID, "count", removed)
	}

	if len(chunks) == 0 {
		p.logger.Warn("document has no extractable text", "path", path)
		return nil
	}

	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}

	batchOpts := []embedding.BatchOption{}
	if p.ignoreEmbedErrors {
		batchOpts = append(batchOpts, embedding.IgnoreErrors())
	}
	if p.progressOut != nil {
		t := progress.New(p.progressOut, "Embedding", "chunks", 0, 10)
		defer t.Finish()
		batchOpts = append(batchOpts, embedding.WithProgress(t.Report))
	}

	embedded, err := p.embedder.EmbedBatch(ctx, texts, batchOpts...)
	if err != nil {
		return err
	}
	res.EmbeddingFailures = len(embedded.Failed)

	ids := make([]string, 0, len(chunks))
	keep := make([]string, 0, len(chunks))
	metas := make([]map[string]string, 0, len(chunks))
	vecs := make([][]float32, 0, len(chunks))
	for i, c := range chunks {
		if embedded.Vectors[i] == nil {
			continue
		}
		meta := maps.Clone(c.Metadata)
		if meta == nil {
			meta = make(map[string]string, 1)
		}
		meta[core.MetaChunkIndex] = strconv.Itoa(c.Index)
		ids = append(ids, ChunkID(docID, c.Index))
		keep = append(keep, c.Text)
		metas = append(metas, meta)
		vecs = append(vecs, embedded.Vectors[i])
		res.Tokens += chunker.EstimateTokens(c.Text)
	}
	if len(keep) == 0 {
		return fmt.Errorf("%w: no chunk of %s could be embedded", core.ErrEmbeddingService, path)
	}

	if _, err := p.store.Upsert(ctx, keep, metas,
		storage.WithIDs(ids),
		storage.WithEmbeddings(vecs),
		storage.WithBatchSize(p.upsertBatchSize),
	); err != nil {
		return err
	}
	res.Chunks = len(keep)
	return nil
}

// chunkConfigFor applies WithTargetChunks to doc.
func (p *Pipeline) chunkConfigFor(doc *core.Document) chunker.Config {
	cfg := p.chunkConfig
	if p.targetChunks == 0 {
		return cfg
	}
	pages := make([]string, len(doc.Pages))
	for i, pg := range doc.Pages {
		pages[i] = pg.Text
	}
	minSize := max(cfg.ChunkSize/4, cfg.ChunkOverlap+1)
	cfg.ChunkSize = chunker.OptimalChunkSize(chunker.CountWords(pages), p.targetChunks, cfg.ChunkOverlap, minSize, cfg.ChunkSize*4)
	return cfg
}

// ChunkID is the record id of chunk index of document docID. Ids are stable,
// so re-ingesting a document overwrites rather than duplicates.
func ChunkID(docID string, index int) string {
	return docID + "-" + strconv.Itoa(index)
}

func opID(docID string) string {
	return recovery.OperationID(OpIngest, docID)
}

func hashFile(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return core.ContentHash(data), nil
}
