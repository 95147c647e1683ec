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

	"github.com/poiesic/docqa/core"
	"github.com/poiesic/docqa/storage"
)

const (
	// DefaultBatchSize is the default number of records per batch
	DefaultBatchSize = 100
)

// RecordIterator iterates over all records of a collection in batches.
type RecordIterator struct {
	store     storage.VectorStore
	batchSize int
}

// NewRecordIterator creates a new record iterator.
// batchSize: number of records per batch (defaults when <= 0)
func NewRecordIterator(store storage.VectorStore, batchSize int) *RecordIterator {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}

	return &RecordIterator{
		store:     store,
		batchSize: batchSize,
	}
}

// ForEach calls fn with consecutive batches in insertion order. The
// collection is snapshotted first, so fn may write back to the store.
// Iteration stops on the first error from fn or when ctx is done.
func (it *RecordIterator) ForEach(ctx context.Context, fn func([]*core.VectorRecord) error) error {
	var records []*core.VectorRecord
	err := it.store.ForEach(ctx, func(r *core.VectorRecord) error {
		records = append(records, r)
		return nil
	})
	if err != nil {
		return err
	}

	for i := 0; i < len(records); i += it.batchSize {
		if err := ctx.Err(); err != nil {
			return err
		}
		end := min(i+it.batchSize, len(records))
		if err := fn(records[i:end]); err != nil {
			return err
		}
	}
	return nil
}
