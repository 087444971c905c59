package drivers

import (
	"context"
	"sync"

	"github.com/echokit/echokit/streamcache"
)

// Memory implements streamcache.Store with an in-process map. It is the
// default backend and suits single-instance deployments.
type Memory struct {
	mu     sync.RWMutex
	stacks map[string][]streamcache.Stream
}

// NewMemory creates an empty in-memory stream store.
func NewMemory() *Memory {
	return &Memory{stacks: make(map[string][]streamcache.Stream)}
}

// Get implements streamcache.Store. A missing key yields a nil stack.
func (m *Memory) Get(_ context.Context, key string) ([]streamcache.Stream, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stack, ok := m.stacks[key]
	if !ok {
		return nil, nil
	}
	out := make([]streamcache.Stream, len(stack))
	copy(out, stack)
	return out, nil
}

// Set implements streamcache.Store.
func (m *Memory) Set(_ context.Context, key string, stack []streamcache.Stream) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	stored := make([]streamcache.Stream, len(stack))
	copy(stored, stack)
	m.stacks[key] = stored
	return nil
}

// Delete implements streamcache.Store.
func (m *Memory) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.stacks, key)
	return nil
}
