package docqa

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/poiesic/docqa/ai"
	"github.com/poiesic/docqa/chunker"
	"github.com/poiesic/docqa/core"
	"github.com/poiesic/docqa/embedding"
	"github.com/poiesic/docqa/extract"
	"github.com/poiesic/docqa/recovery"
)

// DefaultCollection is the collection used when none is configured.
const DefaultCollection = "documents"

// Config holds everything needed to open a Database.
type Config struct {
	// DataDir holds the vector and recovery-state databases.
	DataDir string

	// CacheDir holds the embedding cache. Default: <DataDir>/cache
	CacheDir string

	// Collection names the vector collection.
	Collection string

	// ChunkSize and ChunkOverlap are measured in words.
	ChunkSize    int
	ChunkOverlap int
	// TargetChunks, when positive, resizes chunks per document to yield about
	// this many, within a quarter to four times ChunkSize.
	TargetChunks int

	// EmbedBatchSize is the number of cache misses per sub-batch.
	EmbedBatchSize int
	// EmbedConcurrency bounds concurrent requests to the embedding service.
	EmbedConcurrency int
	// EmbedRatePerSecond caps request rate. Zero means unlimited.
	EmbedRatePerSecond float64

	// MaxRetries is how often a failed embedding request or ingest operation
	// is retried.
	MaxRetries   int
	InitialDelay time.Duration
	MaxDelay     time.Duration

	// ExtractTimeout bounds the page scan of one PDF.
	ExtractTimeout time.Duration

	// IgnoreEmbeddingErrors stores what embedded and skips failed chunks.
	IgnoreEmbeddingErrors bool

	AI *ai.Config
}

// DefaultConfig returns a Config rooted at dataDir.
func DefaultConfig(dataDir string) *Config {
	cc := chunker.DefaultConfig()
	return &Config{
		DataDir:          dataDir,
		Collection:       DefaultCollection,
		ChunkSize:        cc.ChunkSize,
		ChunkOverlap:     cc.ChunkOverlap,
		EmbedBatchSize:   embedding.DefaultBatchSize,
		EmbedConcurrency: embedding.DefaultConcurrency,
		MaxRetries:       recovery.DefaultMaxRetries,
		InitialDelay:     time.Second,
		MaxDelay:         30 * time.Second,
		ExtractTimeout:   extract.DefaultTimeout,
		AI:               ai.DefaultConfig(),
	}
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	if c.DataDir == "" {
		return fmt.Errorf("%w: data directory is required", core.ErrValidation)
	}
	if c.Collection == "" {
		return fmt.Errorf("%w: collection is required", core.ErrValidation)
	}
	if err := c.chunkConfig().Validate(); err != nil {
		return err
	}
	if c.TargetChunks < 0 {
		return fmt.Errorf("%w: target chunks must not be negative", core.ErrValidation)
	}
	if c.EmbedBatchSize < 1 || c.EmbedConcurrency < 1 {
		return fmt.Errorf("%w: embed batch size and concurrency must be positive", core.ErrValidation)
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("%w: max retries must not be negative", core.ErrValidation)
	}
	if c.InitialDelay < 0 || c.MaxDelay < c.InitialDelay {
		return fmt.Errorf("%w: need 0 <= initial delay <= max delay", core.ErrValidation)
	}
	if c.ExtractTimeout <= 0 {
		return fmt.Errorf("%w: extract timeout must be positive", core.ErrValidation)
	}
	return nil
}

func (c *Config) chunkConfig() chunker.Config {
	return chunker.Config{ChunkSize: c.ChunkSize, ChunkOverlap: c.ChunkOverlap}
}

func (c *Config) cacheDir() string {
	if c.CacheDir != "" {
		return c.CacheDir
	}
	return filepath.Join(c.DataDir, "cache")
}
