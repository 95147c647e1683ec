package badger

import (
	"context"

	"github.com/poiesic/docqa/ai"
)

// NewMemoryVectorStore creates an in-memory vector store for testing.
// Caller must close both the store and the backend when done.
func NewMemoryVectorStore(ctx context.Context, collection string, embedder ai.Embedder) (*VectorStore, *Backend, error) {
	backend, err := OpenBackend("", true)
	if err != nil {
		return nil, nil, err
	}

	store, err := NewVectorStore(ctx, backend, collection, embedder)
	if err != nil {
		backend.Close()
		return nil, nil, err
	}
	return store, backend, nil
}

// NewMemoryRecoveryRepository creates an in-memory recovery repository for testing.
// Caller must close the backend when done.
func NewMemoryRecoveryRepository() (*RecoveryRepository, *Backend, error) {
	backend, err := OpenBackend("", true)
	if err != nil {
		return nil, nil, err
	}
	return NewRecoveryRepository(backend), backend, nil
}
