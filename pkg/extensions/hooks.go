package extensions

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/Eashwar-S/knowledge-map/domain/versioning"
)

// HookPoint represents a point in the mutation path where hooks can be registered
type HookPoint string

// HookAfterCommit runs once a snapshot and its history record are written
const HookAfterCommit HookPoint = "after_commit"

// Hook receives the record of a committed mutation
type Hook func(ctx context.Context, record versioning.HistoryRecord) error

// HookManager manages hooks for extension points. It satisfies
// ports.ChangePublisher by running the after-commit hooks.
type HookManager struct {
	hooks map[HookPoint][]namedHook
	mu    sync.RWMutex
}

type namedHook struct {
	name string
	fn   Hook
}

// NewHookManager creates a new hook manager
func NewHookManager() *HookManager {
	return &HookManager{
		hooks: make(map[HookPoint][]namedHook),
	}
}

// Register registers a hook for a specific hook point
func (m *HookManager) Register(point HookPoint, name string, hook Hook) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.hooks[point] = append(m.hooks[point], namedHook{name: name, fn: hook})
}

// Execute runs every hook registered at point. A failing hook does not
// stop the others; their errors are joined.
func (m *HookManager) Execute(ctx context.Context, point HookPoint, record versioning.HistoryRecord) error {
	m.mu.RLock()
	hooks := m.hooks[point]
	m.mu.RUnlock()

	var errs []error
	for _, h := range hooks {
		if err := h.fn(ctx, record); err != nil {
			errs = append(errs, fmt.Errorf("hook %s at %s failed: %w", h.name, point, err))
		}
	}
	return errors.Join(errs...)
}

// Publish runs the after-commit hooks
func (m *HookManager) Publish(ctx context.Context, record versioning.HistoryRecord) error {
	return m.Execute(ctx, HookAfterCommit, record)
}

// Len returns the number of hooks registered at point
func (m *HookManager) Len(point HookPoint) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.hooks[point])
}

// Clear removes all hooks for a specific hook point
func (m *HookManager) Clear(point HookPoint) {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.hooks, point)
}
