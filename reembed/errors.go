package reembed

import "errors"

var (
	// ErrEmbeddingCountMismatch is returned when the embedder returns a
	// different number of vectors than records it was given.
	ErrEmbeddingCountMismatch = errors.New("embedding count mismatch")
)
