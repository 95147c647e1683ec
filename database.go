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

// Package docqa ingests PDF documents into a local vector store and answers
// similarity queries over them.
package docqa

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"

	"github.com/poiesic/docqa/ai"
	"github.com/poiesic/docqa/ai/ollama"
	"github.com/poiesic/docqa/ai/openai"
	"github.com/poiesic/docqa/core"
	"github.com/poiesic/docqa/embedding"
	"github.com/poiesic/docqa/extract"
	"github.com/poiesic/docqa/ingestion"
	"github.com/poiesic/docqa/recovery"
	"github.com/poiesic/docqa/reembed"
	"github.com/poiesic/docqa/retry"
	"github.com/poiesic/docqa/search"
	"github.com/poiesic/docqa/storage"
	"github.com/poiesic/docqa/storage/badger"
)

// Database wires extraction, embedding, storage and recovery together.
type Database struct {
	config       *Config
	vecBackend   *badger.Backend
	stateBackend *badger.Backend
	store        *badger.VectorStore
	stateRepo    *badger.RecoveryRepository
	provider     ai.Provider
	generator    *embedding.Generator
	recovery     *recovery.Manager
	pipeline     *ingestion.Pipeline
	searcher     *search.Searcher
	progress     io.Writer
	logger       *slog.Logger
}

// Option configures a Database.
type Option func(*options)

type options struct {
	provider        ai.Provider
	logger          *slog.Logger
	progress        io.Writer
	pipelineOptions []ingestion.Option
	searchOptions   []search.Option
}

// WithProvider uses provider instead of building one from Config.AI.
// The Database takes ownership and closes it.
func WithProvider(provider ai.Provider) Option {
	return func(o *options) { o.provider = provider }
}

// WithLogger sets a custom logger.
// Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithProgressWriter enables progress lines for long runs.
func WithProgressWriter(w io.Writer) Option {
	return func(o *options) { o.progress = w }
}

// WithPipelineOptions passes extra options to the ingestion pipeline.
func WithPipelineOptions(opts ...ingestion.Option) Option {
	return func(o *options) { o.pipelineOptions = append(o.pipelineOptions, opts...) }
}

// WithSearchOptions passes extra options to the searcher.
func WithSearchOptions(opts ...search.Option) Option {
	return func(o *options) { o.searchOptions = append(o.searchOptions, opts...) }
}

// NewProvider builds the embedding provider named by config.Provider.
func NewProvider(config *ai.Config) (ai.Provider, error) {
	config.Normalize()
	if err := config.Validate(); err != nil {
		return nil, err
	}
	switch config.Provider {
	case ai.ProviderOpenAI:
		return openai.NewProvider(config)
	default:
		return ollama.NewProvider(config)
	}
}

// Open opens or creates the databases under cfg.DataDir.
func Open(cfg *Config, opts ...Option) (db *Database, err error) {
	if cfg == nil {
		return nil, fmt.Errorf("%w: config is required", core.ErrValidation)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.AI == nil {
		cfg.AI = ai.DefaultConfig()
	}

	o := &options{logger: slog.Default()}
	for _, opt := range opts {
		opt(o)
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}

	db = &Database{
		config:   cfg,
		progress: o.progress,
		logger:   o.logger.With("component", "docqa"),
	}
	defer func() {
		if err != nil {
			db.Close()
			db = nil
		}
	}()

	db.vecBackend, err = badger.OpenBackend(filepath.Join(cfg.DataDir, "vectors"), false,
		badger.WithBackendLogger(o.logger))
	if err != nil {
		return db, err
	}
	db.stateBackend, err = badger.OpenBackend(filepath.Join(cfg.DataDir, "state"), false,
		badger.WithSyncWrites(), badger.WithBackendLogger(o.logger))
	if err != nil {
		return db, err
	}

	db.provider = o.provider
	if db.provider == nil {
		if db.provider, err = NewProvider(cfg.AI); err != nil {
			return db, err
		}
	}

	cache, err := embedding.NewCache(cfg.cacheDir())
	if err != nil {
		return db, err
	}

	policy := retry.Policy{
		MaxAttempts:  cfg.MaxRetries + 1,
		InitialDelay: cfg.InitialDelay,
		MaxDelay:     cfg.MaxDelay,
		Multiplier:   2,
	}
	if cfg.AI.Provider == ai.ProviderOllama && o.provider == nil {
		policy = policy.WithRetryable(ollama.Retryable)
	}

	db.generator, err = embedding.NewGenerator(db.provider.Embedder(),
		embedding.WithCache(cache),
		embedding.WithBatchSize(cfg.EmbedBatchSize),
		embedding.WithConcurrency(cfg.EmbedConcurrency),
		embedding.WithRateLimit(cfg.EmbedRatePerSecond, cfg.EmbedConcurrency),
		embedding.WithRetryPolicy(policy),
		embedding.WithLogger(o.logger),
	)
	if err != nil {
		return db, err
	}

	ctx := context.Background()
	db.store, err = badger.NewVectorStore(ctx, db.vecBackend, cfg.Collection, db.generator)
	if err != nil {
		return db, err
	}
	db.stateRepo = badger.NewRecoveryRepository(db.stateBackend)

	db.recovery, err = recovery.NewManager(db.stateRepo,
		recovery.WithMaxRetries(cfg.MaxRetries),
		recovery.WithLogger(o.logger))
	if err != nil {
		return db, err
	}

	extractor := extract.NewPDFExtractor(
		extract.WithTimeout(cfg.ExtractTimeout),
		extract.WithLogger(o.logger))

	pipelineOpts := []ingestion.Option{
		ingestion.WithChunkConfig(cfg.chunkConfig()),
		ingestion.WithTargetChunks(cfg.TargetChunks),
		ingestion.WithIgnoreEmbeddingErrors(cfg.IgnoreEmbeddingErrors),
		ingestion.WithLogger(o.logger),
	}
	if o.progress != nil {
		pipelineOpts = append(pipelineOpts, ingestion.WithProgressWriter(o.progress))
	}
	db.pipeline, err = ingestion.NewPipeline(extractor, db.generator, db.store, db.recovery,
		append(pipelineOpts, o.pipelineOptions...)...)
	if err != nil {
		return db, err
	}

	db.searcher, err = search.NewSearcher(db.store, db.generator,
		append([]search.Option{search.WithLogger(o.logger)}, o.searchOptions...)...)
	if err != nil {
		return db, err
	}

	db.logger.Info("opened database",
		"data_dir", cfg.DataDir,
		"collection", cfg.Collection,
		"model", db.provider.Model())
	return db, nil
}

// Close releases every component. It is safe on a partially opened Database.
func (db *Database) Close() error {
	var errs []error
	if db.store != nil {
		errs = append(errs, db.store.Close())
	}
	if db.generator != nil {
		db.generator.Release()
	}
	if db.provider != nil {
		if err := db.provider.Close(); err != nil {
			db.logger.Error("error closing embedding provider", "err", err)
		}
	}
	if db.stateBackend != nil && !db.stateBackend.IsClosed() {
		errs = append(errs, db.stateBackend.Close())
	}
	if db.vecBackend != nil && !db.vecBackend.IsClosed() {
		errs = append(errs, db.vecBackend.Close())
	}
	err := errors.Join(errs...)
	if err != nil {
		db.logger.Error("error closing database", "err", err)
	}
	return err
}

// AddDocument ingests one PDF.
func (db *Database) AddDocument(ctx context.Context, path string) (*ingestion.FileResult, error) {
	return db.pipeline.AddDocument(ctx, path)
}

// ProcessFiles ingests paths, isolating per-file failures.
func (db *Database) ProcessFiles(ctx context.Context, paths []string) (*core.ProcessingStats, error) {
	return db.pipeline.ProcessFiles(ctx, paths)
}

// ProcessDirectory ingests every PDF under dir.
func (db *Database) ProcessDirectory(ctx context.Context, dir string, recursive bool) (*core.ProcessingStats, error) {
	return db.pipeline.ProcessDirectory(ctx, dir, recursive)
}

// Resume finishes ingest operations interrupted by a crash.
func (db *Database) Resume(ctx context.Context) (*core.ProcessingStats, error) {
	return db.pipeline.Resume(ctx)
}

// Search returns the n chunks most similar to query that match where.
func (db *Database) Search(ctx context.Context, query string, where storage.Where, n int) ([]*core.SearchResult, error) {
	return db.searcher.Search(ctx, query, where, n)
}

// Stats describes the collection.
func (db *Database) Stats(ctx context.Context) (*storage.CollectionStats, error) {
	return db.store.Stats(ctx)
}

// DeleteDocument removes a document's records and its ingest history, so the
// same file can be ingested again.
func (db *Database) DeleteDocument(ctx context.Context, documentID string) (int, error) {
	n, err := db.store.DeleteDocument(ctx, documentID)
	if err != nil {
		return n, err
	}
	return n, db.recovery.Forget(ctx, recovery.OperationID(ingestion.OpIngest, documentID))
}

// DeleteCollection drops every record and all ingest history. The embedding
// cache is kept.
func (db *Database) DeleteCollection(ctx context.Context) error {
	if err := db.store.DeleteCollection(ctx); err != nil {
		return err
	}
	return db.recovery.Reset(ctx)
}

// Reembed refreshes every stored vector from the embedding service.
func (db *Database) Reembed(ctx context.Context) (int, error) {
	r := reembed.NewReembedder(db.store, db.generator, &reembed.Config{
		BatchSize:      db.config.EmbedBatchSize,
		ReportInterval: db.config.EmbedBatchSize,
	}, db.progress)
	return r.Run(ctx)
}

// FailedOperations lists operations that failed and are not retried
// automatically.
func (db *Database) FailedOperations(ctx context.Context) (map[string]*core.RecoveryState, error) {
	return db.recovery.ListFailedOperations(ctx)
}

// Model names the embedding model in use.
func (db *Database) Model() string {
	return db.provider.Model()
}
