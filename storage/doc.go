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


// Package storage defines the persistence contracts for docqa.
//
// VectorStore holds chunk records with their embeddings and answers exact
// (brute-force) cosine similarity queries. It is an interface so an
// approximate index or an external vector database can replace the
// in-process implementation without touching callers.
//
// RecoveryRepository holds one RecoveryState per operation id. The keyspace
// itself is the index of operations; nothing is inferred from directory
// listings.
//
// # Implementations
//
//   - storage/badger: BadgerDB-backed VectorStore and RecoveryRepository
//
// # Usage
//
//	backend, err := badger.OpenBackend("/path/to/vectors", false)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	store, err := badger.NewVectorStore(ctx, backend, "default", generator)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer store.Close()
//
// Use in tests with in-memory storage:
//
//	store, backend, err := badger.NewMemoryVectorStore(ctx, "test", embedder)
//
// # Thread Safety
//
// Implementations are safe for concurrent use. VectorStore serializes
// writers internally; searches may run alongside them.
//
// # Context Support
//
// All methods accept context.Context for cancellation.
package storage
