package core

import (
	"encoding/hex"
	"time"

	"github.com/go-crypt/x/blake2b"
)

// ContentHash returns the hex BLAKE2b-256 digest of data.
// Document ids and cache keys are both derived from it, so identical
// bytes always produce the same identifier.
func ContentHash(data []byte) string {
	h, _ := blake2b.New(32, nil)
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// CacheKey returns the content-addressed key for an embedding of text.
func CacheKey(text string) string {
	return ContentHash([]byte(text))
}

// Page is the extracted text of a single PDF page. Number is 1-based.
type Page struct {
	Number int
	Text   string
}

// Document is the immutable result of extracting a PDF.
type Document struct {
	ID         string // content hash of the source file
	SourcePath string
	PageCount  int
	Title      string
	Author     string
	Pages      []Page
}

// Metadata keys attached to chunks and vector records.
const (
	MetaDocumentID = "document_id"
	MetaSource     = "source"
	MetaPage       = "page"
	MetaChapter    = "chapter"
	MetaChunkType  = "chunk_type"
	MetaTitle      = "title"
	MetaChunkIndex = "chunk_index"
)

// TextChunk is a bounded span of page text. Offsets are byte offsets into
// the source page's text.
type TextChunk struct {
	Text        string
	Page        int
	Index       int
	Total       int
	StartOffset int
	EndOffset   int
	Metadata    map[string]string
}

// VectorRecord is a stored chunk with its embedding.
type VectorRecord struct {
	ID         string
	DocumentID string
	Text       string
	Metadata   map[string]string
	Embedding  []float32
	InsertedAt time.Time
}

// SearchResult represents a search hit with the full record and its cosine score.
type SearchResult struct {
	Record *VectorRecord
	Score  float32
}

// OperationStatus is the state of a recovery-tracked operation.
type OperationStatus string

const (
	StatusInProgress OperationStatus = "in_progress"
	StatusCompleted  OperationStatus = "completed"
	StatusFailed     OperationStatus = "failed"
)

// RecoveryState is the durable record of one operation.
type RecoveryState struct {
	ID         string            `json:"id"`
	Type       string            `json:"type"`
	Input      map[string]string `json:"input,omitempty"`
	Status     OperationStatus   `json:"status"`
	Error      string            `json:"error,omitempty"`
	RetryCount int               `json:"retry_count"`
	StartedAt  time.Time         `json:"started_at"`
	UpdatedAt  time.Time         `json:"updated_at"`
}

// ProcessingStats aggregates the outcome of one batch run. It is reported,
// never persisted.
type ProcessingStats struct {
	FilesAttempted    int
	FilesSucceeded    int
	FilesFailed       int
	FilesSkipped      int
	Chunks            int
	Tokens            int
	EmbeddingFailures int
	Duration          time.Duration
	Errors            map[string]string // path -> error text
}

// NewProcessingStats returns zeroed stats with an initialized error map.
func NewProcessingStats() *ProcessingStats {
	return &ProcessingStats{Errors: make(map[string]string)}
}

// Merge folds other into s.
func (s *ProcessingStats) Merge(other *ProcessingStats) {
	if other == nil {
		return
	}
	s.FilesAttempted += other.FilesAttempted
	s.FilesSucceeded += other.FilesSucceeded
	s.FilesFailed += other.FilesFailed
	s.FilesSkipped += other.FilesSkipped
	s.Chunks += other.Chunks
	s.Tokens += other.Tokens
	s.EmbeddingFailures += other.EmbeddingFailures
	s.Duration += other.Duration
	if s.Errors == nil {
		s.Errors = make(map[string]string)
	}
	for k, v := range other.Errors {
		s.Errors[k] = v
	}
}
