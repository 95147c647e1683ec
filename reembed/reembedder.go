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

package reembed

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/poiesic/docqa/core"
	"github.com/poiesic/docqa/progress"
	"github.com/poiesic/docqa/storage"
)

// Config holds configuration for the reembedding operation.
type Config struct {
	// BatchSize is the number of records to process in each batch
	BatchSize int

	// ReportInterval is how often to report progress (number of records)
	ReportInterval int
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		BatchSize:      DefaultBatchSize,
		ReportInterval: 100,
	}
}

// Reembedder refreshes the embeddings of every record in a store.
type Reembedder struct {
	store     storage.VectorStore
	config    *Config
	progress  io.Writer
	processor *BatchProcessor
	iterator  *RecordIterator
}

// NewReembedder creates a new reembedder.
// progress: where to write progress output (typically os.Stderr, or nil)
func NewReembedder(store storage.VectorStore, embedder BatchEmbedder, config *Config, progress io.Writer) *Reembedder {
	if config == nil {
		config = DefaultConfig()
	}
	if progress == nil {
		progress = io.Discard
	}

	return &Reembedder{
		store:     store,
		config:    config,
		progress:  progress,
		processor: NewBatchProcessor(store, embedder),
		iterator:  NewRecordIterator(store, config.BatchSize),
	}
}

// Run re-embeds all records and returns how many were processed. The
// embedding model must produce vectors of the collection's dimension;
// switching to a model of another size requires a fresh collection.
func (r *Reembedder) Run(ctx context.Context) (int, error) {
	stats, err := r.store.Stats(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to read collection stats: %w", err)
	}

	total := stats.Count
	if total == 0 {
		fmt.Fprintf(r.progress, "No records found in collection %q\n", stats.Collection)
		return 0, nil
	}

	fmt.Fprintf(r.progress, "Starting reembedding of %d records (batch size: %d)\n",
		total, r.iterator.batchSize)

	tracker := progress.New(r.progress, "Reembedding", "records", total, r.config.ReportInterval)
	tracker.Start()

	processed := 0
	err = r.iterator.ForEach(ctx, func(records []*core.VectorRecord) error {
		if err := r.processor.Process(ctx, records); err != nil {
			return fmt.Errorf("failed to process batch at record %d: %w", processed, err)
		}
		processed += len(records)
		tracker.Update(processed)
		return nil
	})
	if err != nil {
		return processed, err
	}

	elapsed := tracker.Elapsed()
	tracker.Finish()

	fmt.Fprintf(r.progress, "Reembedding complete. Processed %d records in %v\n",
		processed, elapsed.Round(time.Millisecond))
	return processed, nil
}
