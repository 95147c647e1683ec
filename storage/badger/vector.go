package badger

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
	"github.com/poiesic/docqa/ai"
	"github.com/poiesic/docqa/core"
	"github.com/poiesic/docqa/storage"
)

const defaultUpsertBatchSize = 100

// batchEmbedder is implemented by embedders that resolve many texts at once
// (embedding.Generator). Others are called once per text.
type batchEmbedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

type entry struct {
	seq    uint64
	record *core.VectorRecord
}

// VectorStore implements storage.VectorStore on BadgerDB. Records are
// persisted under per-collection key prefixes and mirrored in memory, in
// insertion order, for brute-force search.
type VectorStore struct {
	backend    *Backend
	keys       collectionKeys
	collection string
	embedder   ai.Embedder
	seq        *badger.Sequence
	logger     *slog.Logger

	writeMu sync.Mutex // single writer

	mu      sync.RWMutex
	entries []*entry
	byID    map[string]*entry
	dim     int
	closed  bool
}

var _ storage.VectorStore = (*VectorStore)(nil)

// NewVectorStore opens collection on backend and loads its records into
// memory. embedder computes vectors for upserts without embeddings and for
// text queries; it may be nil when callers always supply vectors.
func NewVectorStore(ctx context.Context, backend *Backend, collection string, embedder ai.Embedder) (*VectorStore, error) {
	keys, err := newCollectionKeys(collection)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", core.ErrValidation, err)
	}

	seq, err := backend.GetSequence(keys.sequenceName())
	if err != nil {
		return nil, err
	}

	s := &VectorStore{
		backend:    backend,
		keys:       keys,
		collection: collection,
		embedder:   embedder,
		seq:        seq,
		logger:     slog.Default().With("component", "vector-store", "collection", collection),
		byID:       make(map[string]*entry),
	}

	if err := s.load(ctx); err != nil {
		_ = seq.Release()
		return nil, err
	}
	s.logger.Debug("loaded collection", "records", len(s.entries), "dimension", s.dim)
	return s, nil
}

func (s *VectorStore) load(ctx context.Context) error {
	return s.backend.WithTx(func(tx *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = s.keys.recordPrefix()
		iter := tx.NewIterator(opts)
		defer iter.Close()

		prefixLen := len(opts.Prefix)
		for iter.Rewind(); iter.Valid(); iter.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			item := iter.Item()
			key := item.Key()
			if len(key) != prefixLen+8 {
				continue
			}

			var record *core.VectorRecord
			err := item.Value(func(val []byte) error {
				var err error
				record, err = storage.UnmarshalRecord(val)
				return err
			})
			if err != nil {
				return err
			}

			e := &entry{seq: binary.BigEndian.Uint64(key[prefixLen:]), record: record}
			s.entries = append(s.entries, e)
			s.byID[record.ID] = e
			if s.dim == 0 {
				s.dim = len(record.Embedding)
			}
		}
		return nil
	}, false)
}

// Upsert validates inputs, computes missing embeddings and writes records in
// batches. Nothing is written when validation fails.
func (s *VectorStore) Upsert(ctx context.Context, texts []string, metadata []map[string]string, opts ...storage.UpsertOption) ([]string, error) {
	var o storage.UpsertOptions
	for _, opt := range opts {
		opt(&o)
	}
	if o.BatchSize <= 0 {
		o.BatchSize = defaultUpsertBatchSize
	}

	if err := validateUpsert(texts, metadata, o); err != nil {
		return nil, err
	}
	if len(texts) == 0 {
		return []string{}, nil
	}
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	vectors := o.Embeddings
	if len(vectors) == 0 {
		var err error
		if vectors, err = s.embed(ctx, texts); err != nil {
			return nil, err
		}
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if err := s.checkDimensions(vectors); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	ids := make([]string, len(texts))
	records := make([]*core.VectorRecord, len(texts))
	for i, text := range texts {
		id := uuid.NewString()
		if len(o.IDs) > 0 {
			id = o.IDs[i]
		}
		meta := map[string]string{}
		if metadata != nil {
			for k, v := range metadata[i] {
				meta[k] = v
			}
		}
		ids[i] = id
		records[i] = &core.VectorRecord{
			ID:         id,
			DocumentID: meta[core.MetaDocumentID],
			Text:       text,
			Metadata:   meta,
			Embedding:  vectors[i],
			InsertedAt: now,
		}
	}

	for start := 0; start < len(records); start += o.BatchSize {
		end := min(start+o.BatchSize, len(records))
		if err := s.writeBatch(records[start:end]); err != nil {
			return nil, err
		}
	}

	s.logger.Debug("upserted records", "count", len(records))
	return ids, nil
}

func validateUpsert(texts []string, metadata []map[string]string, o storage.UpsertOptions) error {
	if metadata != nil && len(metadata) != len(texts) {
		return fmt.Errorf("%w: %d texts but %d metadata entries", core.ErrValidation, len(texts), len(metadata))
	}
	if len(o.IDs) > 0 && len(o.IDs) != len(texts) {
		return fmt.Errorf("%w: %d texts but %d ids", core.ErrValidation, len(texts), len(o.IDs))
	}
	if len(o.Embeddings) > 0 && len(o.Embeddings) != len(texts) {
		return fmt.Errorf("%w: %d texts but %d embeddings", core.ErrValidation, len(texts), len(o.Embeddings))
	}
	for i, text := range texts {
		if strings.TrimSpace(text) == "" {
			return fmt.Errorf("%w: text %d: %w", core.ErrValidation, i, core.ErrEmptyText)
		}
	}
	seen := make(map[string]struct{}, len(o.IDs))
	for _, id := range o.IDs {
		if id == "" {
			return fmt.Errorf("%w: empty id", core.ErrValidation)
		}
		if _, dup := seen[id]; dup {
			return fmt.Errorf("%w: duplicate id %q", core.ErrValidation, id)
		}
		seen[id] = struct{}{}
	}
	return nil
}

func (s *VectorStore) embed(ctx context.Context, texts []string) ([][]float32, error) {
	if s.embedder == nil {
		return nil, storage.ErrEmbedderRequired
	}
	if be, ok := s.embedder.(batchEmbedder); ok {
		return be.Embed(ctx, texts)
	}
	out := make([][]float32, len(texts))
	for i, text := range texts {
		vec, err := s.embedder.EmbedText(ctx, text)
		if err != nil {
			return nil, err
		}
		out[i] = vec
	}
	return out, nil
}

// checkDimensions requires every vector to share the collection's size.
func (s *VectorStore) checkDimensions(vectors [][]float32) error {
	s.mu.RLock()
	dim := s.dim
	s.mu.RUnlock()

	for i, vec := range vectors {
		if len(vec) == 0 {
			return fmt.Errorf("%w: embedding %d is empty", core.ErrValidation, i)
		}
		if dim == 0 {
			dim = len(vec)
		}
		if len(vec) != dim {
			return fmt.Errorf("%w: %w: embedding %d has %d dimensions, collection has %d",
				core.ErrValidation, storage.ErrDimensionMismatch, i, len(vec), dim)
		}
	}
	return nil
}

// writeBatch commits one transaction and then publishes it to memory.
// Existing ids keep their sequence, so replacement preserves order.
func (s *VectorStore) writeBatch(records []*core.VectorRecord) error {
	staged := make([]*entry, len(records))

	err := s.backend.Update(func(tx *badger.Txn) error {
		for i, rec := range records {
			s.mu.RLock()
			existing, ok := s.byID[rec.ID]
			s.mu.RUnlock()

			var seq uint64
			if ok {
				seq = existing.seq
				rec.InsertedAt = existing.record.InsertedAt
			} else {
				next, err := s.seq.Next()
				if err != nil {
					return err
				}
				seq = next
			}

			value, err := storage.MarshalRecord(rec)
			if err != nil {
				return err
			}
			if err := tx.Set(s.keys.recordKey(seq), value); err != nil {
				return err
			}
			staged[i] = &entry{seq: seq, record: rec}
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, badger.ErrTxnTooBig) {
			return fmt.Errorf("upsert batch of %d records too large, lower the batch size: %w", len(records), err)
		}
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range staged {
		if existing, ok := s.byID[e.record.ID]; ok {
			existing.record = e.record
			continue
		}
		s.entries = append(s.entries, e)
		s.byID[e.record.ID] = e
		if s.dim == 0 {
			s.dim = len(e.record.Embedding)
		}
	}
	return nil
}

// Search embeds each query and ranks stored records against it.
func (s *VectorStore) Search(ctx context.Context, queries []string, n int, where storage.Where) ([][]*core.SearchResult, error) {
	if n <= 0 {
		return nil, fmt.Errorf("%w: n must be positive, got %d", storage.ErrInvalidQuery, n)
	}
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	results := make([][]*core.SearchResult, len(queries))
	if s.count() == 0 {
		for i := range results {
			results[i] = []*core.SearchResult{}
		}
		return results, nil
	}

	vectors, err := s.embed(ctx, queries)
	if err != nil {
		return nil, err
	}
	for i, vec := range vectors {
		if results[i], err = s.SearchByVector(ctx, vec, n, where); err != nil {
			return nil, err
		}
	}
	return results, nil
}

// SearchByVector scores every record passing where and returns the top n.
// The sort is stable, so equal scores keep insertion order.
func (s *VectorStore) SearchByVector(ctx context.Context, vector []float32, n int, where storage.Where) ([]*core.SearchResult, error) {
	if n <= 0 {
		return nil, fmt.Errorf("%w: n must be positive, got %d", storage.ErrInvalidQuery, n)
	}
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if len(s.entries) == 0 {
		return []*core.SearchResult{}, nil
	}
	if len(vector) != s.dim {
		return nil, fmt.Errorf("%w: query has %d dimensions, collection has %d",
			storage.ErrDimensionMismatch, len(vector), s.dim)
	}

	results := make([]*core.SearchResult, 0, len(s.entries))
	for i, e := range s.entries {
		if i%1024 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		if !where.Matches(e.record.Metadata) {
			continue
		}
		results = append(results, &core.SearchResult{
			Record: e.record,
			Score:  storage.CosineSimilarity(vector, e.record.Embedding),
		})
	}

	slices.SortStableFunc(results, func(a, b *core.SearchResult) int {
		switch {
		case a.Score > b.Score:
			return -1
		case a.Score < b.Score:
			return 1
		default:
			return 0
		}
	})

	if len(results) > n {
		results = results[:n]
	}
	return results, nil
}

// Get returns the record with id.
func (s *VectorStore) Get(ctx context.Context, id string) (*core.VectorRecord, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.byID[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return e.record, nil
}

// ForEach visits records in insertion order over a snapshot of the collection.
func (s *VectorStore) ForEach(ctx context.Context, fn func(*core.VectorRecord) error) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	s.mu.RLock()
	snapshot := make([]*core.VectorRecord, len(s.entries))
	for i, e := range s.entries {
		snapshot[i] = e.record
	}
	s.mu.RUnlock()

	for _, rec := range snapshot {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := fn(rec); err != nil {
			return err
		}
	}
	return nil
}

// DeleteDocument removes all records whose DocumentID is documentID.
func (s *VectorStore) DeleteDocument(ctx context.Context, documentID string) (int, error) {
	if err := s.checkOpen(); err != nil {
		return 0, err
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.mu.RLock()
	var doomed []*entry
	for _, e := range s.entries {
		if e.record.DocumentID == documentID {
			doomed = append(doomed, e)
		}
	}
	s.mu.RUnlock()

	if len(doomed) == 0 {
		return 0, nil
	}

	for start := 0; start < len(doomed); start += defaultUpsertBatchSize {
		end := min(start+defaultUpsertBatchSize, len(doomed))
		err := s.backend.Update(func(tx *badger.Txn) error {
			for _, e := range doomed[start:end] {
				if err := tx.Delete(s.keys.recordKey(e.seq)); err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			return 0, err
		}
	}

	s.mu.Lock()
	s.entries = slices.DeleteFunc(s.entries, func(e *entry) bool {
		return e.record.DocumentID == documentID
	})
	for _, e := range doomed {
		delete(s.byID, e.record.ID)
	}
	if len(s.entries) == 0 {
		s.dim = 0
	}
	s.mu.Unlock()

	s.logger.Debug("deleted document records", "document_id", documentID, "count", len(doomed))
	return len(doomed), nil
}

// DeleteCollection drops every record of the collection. This cannot be undone.
func (s *VectorStore) DeleteCollection(ctx context.Context) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.logger.Warn("deleting collection; this is irreversible", "records", s.count())

	if err := s.backend.DropPrefix(s.keys.collectionPrefix()); err != nil {
		return err
	}

	s.mu.Lock()
	s.entries = nil
	s.byID = make(map[string]*entry)
	s.dim = 0
	s.mu.Unlock()
	return nil
}

// Stats reports the collection's size. StorageBytes covers the whole
// backend, which may hold other collections.
func (s *VectorStore) Stats(ctx context.Context) (*storage.CollectionStats, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	docs := make(map[string]struct{})
	for _, e := range s.entries {
		docs[e.record.DocumentID] = struct{}{}
	}
	return &storage.CollectionStats{
		Collection:   s.collection,
		Count:        len(s.entries),
		Dimension:    s.dim,
		Documents:    len(docs),
		StorageBytes: s.backend.Size(),
	}, nil
}

// Close releases the id sequence. The backend stays open; its owner closes it.
func (s *VectorStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.seq.Release()
}

func (s *VectorStore) checkOpen() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed || s.backend.IsClosed() {
		return storage.ErrStorageClosed
	}
	return nil
}

func (s *VectorStore) count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}
