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

package recovery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"sync"
	"time"

	"github.com/poiesic/docqa/core"
	"github.com/poiesic/docqa/storage"
)

// DefaultMaxRetries bounds how often a failed operation may be restarted.
const DefaultMaxRetries = 3

// ErrRepositoryRequired is returned when no repository is provided.
var ErrRepositoryRequired = errors.New("recovery repository required")

// Manager owns the lifecycle of RecoveryState records.
type Manager struct {
	repo       storage.RecoveryRepository
	maxRetries int
	now        func() time.Time
	logger     *slog.Logger

	mu sync.Mutex // serializes read-modify-write of a state
}

// Option configures a Manager.
type Option func(*Manager)

// WithMaxRetries sets how many restarts a failed operation gets.
func WithMaxRetries(n int) Option {
	return func(m *Manager) {
		if n >= 0 {
			m.maxRetries = n
		}
	}
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// NewManager creates a Manager persisting to repo.
func NewManager(repo storage.RecoveryRepository, opts ...Option) (*Manager, error) {
	if repo == nil {
		return nil, ErrRepositoryRequired
	}
	m := &Manager{
		repo:       repo,
		maxRetries: DefaultMaxRetries,
		now:        time.Now,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.logger = m.logger.With("component", "recovery")
	return m, nil
}

// OperationID returns the id StartOperation assigns to (opType, key).
func OperationID(opType, key string) string {
	return opType + ":" + key
}

// StartOperation records that work identified by (opType, key) is starting.
// The state is persisted as in_progress before StartOperation returns.
//
// An operation left in_progress by a crash, or previously failed, is
// restarted with its retry count incremented. Once the count reaches the
// retry limit the state is left failed and ErrRetriesExhausted is returned.
func (m *Manager) StartOperation(ctx context.Context, opType, key string, input map[string]string) (*core.RecoveryState, error) {
	if opType == "" || key == "" {
		return nil, fmt.Errorf("%w: operation type and key are required", core.ErrValidation)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	id := OperationID(opType, key)
	now := m.now().UTC()

	state, err := m.repo.Get(ctx, id)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		state = &core.RecoveryState{
			ID:        id,
			Type:      opType,
			Input:     maps.Clone(input),
			Status:    core.StatusInProgress,
			StartedAt: now,
			UpdatedAt: now,
		}
	case err != nil:
		return nil, fmt.Errorf("%w: load %s: %w", core.ErrRecovery, id, err)
	default:
		if state.Status == core.StatusInProgress {
			// Interrupted attempt. Count it as a failure before retrying.
			state.Status = core.StatusFailed
			if state.Error == "" {
				state.Error = "interrupted"
			}
		}
		if state.RetryCount >= m.maxRetries {
			state.UpdatedAt = now
			if err := m.repo.Save(ctx, state); err != nil {
				return nil, fmt.Errorf("%w: save %s: %w", core.ErrRecovery, id, err)
			}
			return state, fmt.Errorf("%w: %s failed %d times: %s",
				core.ErrRetriesExhausted, id, state.RetryCount+1, state.Error)
		}
		if !core.CanTransition(state.Status, core.StatusInProgress) {
			return nil, fmt.Errorf("%w: %s is %s", core.ErrInvalidTransition, id, state.Status)
		}
		state.RetryCount++
		state.Status = core.StatusInProgress
		state.Error = ""
		state.UpdatedAt = now
		if input != nil {
			state.Input = maps.Clone(input)
		}
		m.logger.Info("retrying operation", "id", id, "attempt", state.RetryCount+1)
	}

	if err := m.repo.Save(ctx, state); err != nil {
		return nil, fmt.Errorf("%w: save %s: %w", core.ErrRecovery, id, err)
	}
	m.logger.Debug("operation started", "id", id)
	return state, nil
}

// UpdateOperation moves operation id to status, recording cause when it
// failed. Completed operations are archived in the same write.
func (m *Manager) UpdateOperation(ctx context.Context, id string, status core.OperationStatus, cause error) (*core.RecoveryState, error) {
	if err := core.ValidateStatus(status); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	state, err := m.repo.Get(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", core.ErrOperationNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: load %s: %w", core.ErrRecovery, id, err)
	}

	if !core.CanTransition(state.Status, status) {
		return nil, fmt.Errorf("%w: %s cannot move from %s to %s",
			core.ErrInvalidTransition, id, state.Status, status)
	}

	state.Status = status
	state.UpdatedAt = m.now().UTC()
	state.Error = ""
	if cause != nil {
		state.Error = cause.Error()
	}

	if status == core.StatusCompleted {
		err = m.repo.Archive(ctx, state)
	} else {
		err = m.repo.Save(ctx, state)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: save %s: %w", core.ErrRecovery, id, err)
	}

	if status == core.StatusFailed {
		m.logger.Warn("operation failed", "id", id, "retries", state.RetryCount, "error", state.Error)
	} else {
		m.logger.Debug("operation updated", "id", id, "status", status)
	}
	return state, nil
}

// ListIncompleteOperations returns operations left in_progress, keyed by id.
// These are the candidates for automatic resume after a crash.
func (m *Manager) ListIncompleteOperations(ctx context.Context) (map[string]*core.RecoveryState, error) {
	return m.listByStatus(ctx, core.StatusInProgress)
}

// ListFailedOperations returns failed operations, keyed by id. They are not
// resumed automatically.
func (m *Manager) ListFailedOperations(ctx context.Context) (map[string]*core.RecoveryState, error) {
	return m.listByStatus(ctx, core.StatusFailed)
}

func (m *Manager) listByStatus(ctx context.Context, status core.OperationStatus) (map[string]*core.RecoveryState, error) {
	states, err := m.repo.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: list: %w", core.ErrRecovery, err)
	}
	out := make(map[string]*core.RecoveryState)
	for _, s := range states {
		if s.Status == status {
			out[s.ID] = s
		}
	}
	return out, nil
}

// IsCompleted reports whether operation id has completed.
func (m *Manager) IsCompleted(ctx context.Context, id string) (bool, error) {
	_, err := m.repo.GetArchived(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("%w: load %s: %w", core.ErrRecovery, id, err)
	}
	return true, nil
}

// Forget drops every record of operation id, so the next start begins fresh.
func (m *Manager) Forget(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.repo.Delete(ctx, id); err != nil {
		return fmt.Errorf("%w: delete %s: %w", core.ErrRecovery, id, err)
	}
	return nil
}

// Reset drops every operation record, active or archived.
func (m *Manager) Reset(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.repo.Clear(ctx); err != nil {
		return fmt.Errorf("%w: clear: %w", core.ErrRecovery, err)
	}
	m.logger.Info("cleared all operation records")
	return nil
}
