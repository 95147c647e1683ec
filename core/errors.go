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


package core

import "errors"

// Pipeline error taxonomy. Callers match these with errors.Is; concrete
// failures wrap them with context via fmt.Errorf("%w: ...").
var (
	// ErrCorruptDocument indicates the PDF could not be parsed. Never retried.
	ErrCorruptDocument = errors.New("corrupt document")

	// ErrEncryptedDocument indicates the PDF is password protected. Never retried.
	ErrEncryptedDocument = errors.New("encrypted document")

	// ErrExtractionTimeout indicates the page scan exceeded its time budget.
	ErrExtractionTimeout = errors.New("extraction timed out")

	// ErrValidation indicates malformed input to a store operation.
	ErrValidation = errors.New("validation failed")

	// ErrEmbeddingService indicates the embedding endpoint failed after retries.
	ErrEmbeddingService = errors.New("embedding service error")

	// ErrRecovery indicates recovery state could not be persisted or loaded.
	ErrRecovery = errors.New("recovery state error")
)

// Recovery state machine errors
var (
	// ErrInvalidTransition indicates a status change the state machine does not allow.
	ErrInvalidTransition = errors.New("invalid status transition")

	// ErrRetriesExhausted indicates an operation already used all of its retries.
	ErrRetriesExhausted = errors.New("retries exhausted")

	// ErrOperationNotFound indicates no state exists for an operation id.
	ErrOperationNotFound = errors.New("operation not found")

	// ErrEmptyText indicates a chunk or record carries no text.
	ErrEmptyText = errors.New("text cannot be empty")
)
