package search

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/poiesic/docqa/ai"
	"github.com/poiesic/docqa/core"
	"github.com/poiesic/docqa/storage"
)

// defaultOverfetch widens the vector search when post filters may drop
// candidates.
const defaultOverfetch = 4

// Searcher ranks stored chunks against a query.
type Searcher struct {
	store           storage.VectorStore
	embedder        ai.Embedder
	minScore        float32
	requireAllTerms bool
	overfetch       int
	logger          *slog.Logger
}

// Option configures a Searcher.
type Option func(*Searcher) error

// WithMinScore drops results whose similarity is below score.
func WithMinScore(score float32) Option {
	return func(s *Searcher) error {
		if score < -1 || score > 1 {
			return fmt.Errorf("%w: min score %v outside [-1, 1]", core.ErrValidation, score)
		}
		s.minScore = score
		return nil
	}
}

// WithRequireAllTerms keeps only results containing every non stop-word
// term of the query.
func WithRequireAllTerms(require bool) Option {
	return func(s *Searcher) error {
		s.requireAllTerms = require
		return nil
	}
}

// WithOverfetch sets how many candidates per requested result are scored
// when post filters are active.
func WithOverfetch(factor int) Option {
	return func(s *Searcher) error {
		s.overfetch = max(factor, 1)
		return nil
	}
}

// WithLogger sets a custom logger.
// Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(s *Searcher) error {
		if logger == nil {
			logger = slog.Default()
		}
		s.logger = logger
		return nil
	}
}

// NewSearcher creates a new searcher. embedder should be the same one used at
// ingestion so query and chunk vectors share a space.
func NewSearcher(store storage.VectorStore, embedder ai.Embedder, opts ...Option) (*Searcher, error) {
	if store == nil {
		return nil, ErrVectorStoreRequired
	}
	if embedder == nil {
		return nil, ErrEmbedderRequired
	}

	s := &Searcher{
		store:     store,
		embedder:  embedder,
		minScore:  -1,
		overfetch: defaultOverfetch,
		logger:    slog.Default(),
	}

	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, err
		}
	}

	return s, nil
}

// Search returns up to n chunks most similar to query among those matching
// where, highest score first.
func (s *Searcher) Search(ctx context.Context, query string, where storage.Where, n int) ([]*core.SearchResult, error) {
	return s.SearchWithMonitor(ctx, query, where, n, nil)
}

// SearchWithMonitor is Search with callbacks at each stage.
func (s *Searcher) SearchWithMonitor(ctx context.Context, query string, where storage.Where, n int, monitor SearchMonitor) ([]*core.SearchResult, error) {
	if monitor == nil {
		monitor = &noopMonitor{}
	}
	if strings.TrimSpace(query) == "" {
		return nil, ErrEmptyQuery
	}
	if n <= 0 {
		return nil, fmt.Errorf("%w: n must be positive, got %d", storage.ErrInvalidQuery, n)
	}

	monitor.Start(query)

	stats, err := s.store.Stats(ctx)
	if err != nil {
		return nil, err
	}
	if stats.Count == 0 {
		monitor.Finish(nil)
		return []*core.SearchResult{}, nil
	}

	vector, err := s.embedder.EmbedText(ctx, query)
	if err != nil {
		s.logger.Error("error generating embedding for query", "query", query, "err", err)
		return nil, err
	}

	limit := n
	if s.filtering() {
		limit = n * s.overfetch
	}
	candidates, err := s.store.SearchByVector(ctx, vector, limit, where)
	if err != nil {
		s.logger.Error("error querying for similar records", "err", err)
		return nil, err
	}
	monitor.AfterVectorSearch(candidates)

	results := make([]*core.SearchResult, 0, min(n, len(candidates)))
	for _, c := range candidates {
		if c.Score < s.minScore {
			monitor.Filtered(c, ReasonBelowMinScore)
			continue
		}
		if s.requireAllTerms && !containsAllQueryWords(c.Record.Text, query) {
			monitor.Filtered(c, ReasonMissingTerms)
			continue
		}
		results = append(results, c)
		if len(results) == n {
			break
		}
	}

	s.logger.Debug("search complete", "query", query, "candidates", len(candidates), "results", len(results))
	monitor.Finish(results)
	return results, nil
}

func (s *Searcher) filtering() bool {
	return s.minScore > -1 || s.requireAllTerms
}
