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

import (
	"fmt"
	"strings"
)

// ValidateRecord validates a VectorRecord before it is persisted.
//
// Validation rules:
//   - Text must not be empty or whitespace only
//   - Embedding must not be empty
//
// NOT validated:
//   - ID (assigned by the store when empty)
//   - Metadata (free-form)
func ValidateRecord(record *VectorRecord) error {
	if record == nil {
		return fmt.Errorf("%w: record is nil", ErrValidation)
	}
	if strings.TrimSpace(record.Text) == "" {
		return fmt.Errorf("%w: %w", ErrValidation, ErrEmptyText)
	}
	if len(record.Embedding) == 0 {
		return fmt.Errorf("%w: record %q has no embedding", ErrValidation, record.ID)
	}
	return nil
}

// ValidateStatus reports whether s is a known OperationStatus.
func ValidateStatus(s OperationStatus) error {
	switch s {
	case StatusInProgress, StatusCompleted, StatusFailed:
		return nil
	default:
		return fmt.Errorf("%w: unknown status %q", ErrInvalidTransition, s)
	}
}

// CanTransition reports whether the state machine allows from -> to.
// failed -> in_progress is the retry path; completed is terminal.
func CanTransition(from, to OperationStatus) bool {
	switch from {
	case StatusInProgress:
		return to == StatusCompleted || to == StatusFailed
	case StatusFailed:
		return to == StatusInProgress
	default:
		return false
	}
}
