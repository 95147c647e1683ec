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


package badger

import (
	"context"
	"errors"

	"github.com/dgraph-io/badger/v4"
	"github.com/poiesic/docqa/core"
	"github.com/poiesic/docqa/storage"
)

// RecoveryRepository implements storage.RecoveryRepository for BadgerDB.
// Open its backend with WithSyncWrites so each acknowledged write is durable.
type RecoveryRepository struct {
	backend *Backend
}

var _ storage.RecoveryRepository = (*RecoveryRepository)(nil)

// NewRecoveryRepository creates a new RecoveryRepository.
func NewRecoveryRepository(backend *Backend) *RecoveryRepository {
	return &RecoveryRepository{
		backend: backend,
	}
}

// Save persists the active state.
func (r *RecoveryRepository) Save(ctx context.Context, state *core.RecoveryState) error {
	value, err := storage.MarshalState(state)
	if err != nil {
		return err
	}
	return r.backend.Update(func(tx *badger.Txn) error {
		return tx.Set(makeRecoveryStateKey(state.ID), value)
	})
}

// Get retrieves the active state for id.
func (r *RecoveryRepository) Get(ctx context.Context, id string) (*core.RecoveryState, error) {
	return r.read(makeRecoveryStateKey(id))
}

// GetArchived retrieves the archived state for id.
func (r *RecoveryRepository) GetArchived(ctx context.Context, id string) (*core.RecoveryState, error) {
	return r.read(makeRecoveryArchiveKey(id))
}

func (r *RecoveryRepository) read(key []byte) (*core.RecoveryState, error) {
	var state *core.RecoveryState
	err := r.backend.WithTx(func(tx *badger.Txn) error {
		item, err := tx.Get(key)
		if err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return storage.ErrNotFound
			}
			return err
		}
		return item.Value(func(val []byte) error {
			var unmarshalErr error
			state, unmarshalErr = storage.UnmarshalState(val)
			return unmarshalErr
		})
	}, false)
	return state, err
}

// List returns every active state, ordered by id.
func (r *RecoveryRepository) List(ctx context.Context) ([]*core.RecoveryState, error) {
	var states []*core.RecoveryState
	err := r.backend.WithTx(func(tx *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(recoveryStatePrefix)
		iter := tx.NewIterator(opts)
		defer iter.Close()

		for iter.Rewind(); iter.Valid(); iter.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			err := iter.Item().Value(func(val []byte) error {
				state, err := storage.UnmarshalState(val)
				if err != nil {
					return err
				}
				states = append(states, state)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	}, false)
	return states, err
}

// Archive moves state from the active set to the archive atomically.
func (r *RecoveryRepository) Archive(ctx context.Context, state *core.RecoveryState) error {
	value, err := storage.MarshalState(state)
	if err != nil {
		return err
	}
	return r.backend.Update(func(tx *badger.Txn) error {
		if err := tx.Delete(makeRecoveryStateKey(state.ID)); err != nil {
			return err
		}
		return tx.Set(makeRecoveryArchiveKey(state.ID), value)
	})
}

// Delete removes the active and archived state for id.
func (r *RecoveryRepository) Delete(ctx context.Context, id string) error {
	return r.backend.Update(func(tx *badger.Txn) error {
		if err := tx.Delete(makeRecoveryStateKey(id)); err != nil {
			return err
		}
		return tx.Delete(makeRecoveryArchiveKey(id))
	})
}

// Clear drops every active and archived state.
func (r *RecoveryRepository) Clear(ctx context.Context) error {
	if err := r.backend.DropPrefix([]byte(recoveryStatePrefix)); err != nil {
		return err
	}
	return r.backend.DropPrefix([]byte(recoveryArchPrefix))
}

// Close is a no-op; the backend is closed by its owner.
func (r *RecoveryRepository) Close() error {
	return nil
}
