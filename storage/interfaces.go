package storage

import (
	"context"

	"github.com/poiesic/docqa/core"
)

// Where is an exact-match metadata predicate. A record matches when every
// key is present in its metadata with exactly the given value.
type Where map[string]string

// Matches reports whether metadata satisfies w. A nil or empty w matches everything.
func (w Where) Matches(metadata map[string]string) bool {
	for k, v := range w {
		got, ok := metadata[k]
		if !ok || got != v {
			return false
		}
	}
	return true
}

// CollectionStats describes a collection.
type CollectionStats struct {
	Collection   string
	Count        int
	Dimension    int
	Documents    int
	StorageBytes int64
}

// UpsertOptions holds optional inputs to Upsert.
type UpsertOptions struct {
	IDs        []string    // explicit ids; generated when empty
	Embeddings [][]float32 // precomputed vectors; computed from texts when empty
	BatchSize  int         // records per write transaction
}

// UpsertOption configures one Upsert call.
type UpsertOption func(*UpsertOptions)

// WithIDs supplies one id per text. Existing records with these ids are replaced.
func WithIDs(ids []string) UpsertOption {
	return func(o *UpsertOptions) { o.IDs = ids }
}

// WithEmbeddings supplies one vector per text, skipping embedding.
func WithEmbeddings(vecs [][]float32) UpsertOption {
	return func(o *UpsertOptions) { o.Embeddings = vecs }
}

// WithBatchSize sets the number of records written per transaction.
func WithBatchSize(n int) UpsertOption {
	return func(o *UpsertOptions) { o.BatchSize = n }
}

// VectorStore persists chunk records and searches them by cosine similarity.
// Implementations treat writes as single-writer; concurrent Upsert calls are
// serialized.
type VectorStore interface {
	// Upsert stores one record per text and returns their ids in input order.
	// texts and metadata must have equal length, as must any ids or embeddings
	// supplied through options; otherwise core.ErrValidation is returned and
	// nothing is written.
	Upsert(ctx context.Context, texts []string, metadata []map[string]string, opts ...UpsertOption) ([]string, error)

	// Search embeds each query and returns the top n records per query,
	// highest cosine similarity first. Ties keep insertion order.
	// Searching an empty collection returns empty result sets.
	Search(ctx context.Context, queries []string, n int, where Where) ([][]*core.SearchResult, error)

	// SearchByVector ranks records against an already embedded query.
	SearchByVector(ctx context.Context, vector []float32, n int, where Where) ([]*core.SearchResult, error)

	// Get returns one record by id, or ErrNotFound.
	Get(ctx context.Context, id string) (*core.VectorRecord, error)

	// ForEach visits records in insertion order until fn returns an error.
	ForEach(ctx context.Context, fn func(*core.VectorRecord) error) error

	// DeleteDocument removes every record owned by documentID and returns how many.
	DeleteDocument(ctx context.Context, documentID string) (int, error)

	// DeleteCollection irreversibly drops all records in the collection.
	DeleteCollection(ctx context.Context) error

	// Stats returns record count, dimensionality and storage size.
	Stats(ctx context.Context) (*CollectionStats, error)

	// Close releases resources.
	Close() error
}

// RecoveryRepository persists RecoveryState records keyed by operation id.
// Each call is one atomic write.
type RecoveryRepository interface {
	// Save writes the active state for state.ID.
	Save(ctx context.Context, state *core.RecoveryState) error

	// Get returns the active state for id, or ErrNotFound.
	Get(ctx context.Context, id string) (*core.RecoveryState, error)

	// List returns all active states ordered by id.
	List(ctx context.Context) ([]*core.RecoveryState, error)

	// Archive removes the active state and stores it in the archive in one transaction.
	Archive(ctx context.Context, state *core.RecoveryState) error

	// GetArchived returns the archived state for id, or ErrNotFound.
	GetArchived(ctx context.Context, id string) (*core.RecoveryState, error)

	// Delete removes both the active and archived state for id.
	Delete(ctx context.Context, id string) error

	// Clear removes every active and archived state.
	Clear(ctx context.Context) error

	// Close releases resources.
	Close() error
}
