package ingestion

import "errors"

var (
	// ErrExtractorRequired is returned when an extractor is not provided.
	ErrExtractorRequired = errors.New("extractor required")

	// ErrEmbedderRequired is returned when an embedding generator is not provided.
	ErrEmbedderRequired = errors.New("embedding generator required")

	// ErrVectorStoreRequired is returned when a vector store is not provided.
	ErrVectorStoreRequired = errors.New("vector store required")

	// ErrRecoveryManagerRequired is returned when a recovery manager is not provided.
	ErrRecoveryManagerRequired = errors.New("recovery manager required")

	// ErrSourceChanged is recorded when a file left mid-ingestion no longer
	// matches the content it was started with.
	ErrSourceChanged = errors.New("source file changed since the operation started")
)
