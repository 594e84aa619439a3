package frontier

import (
	"context"
	"sync"
	"time"
)

// Memory holds the frontier in process memory. Claims are atomic within the
// process but nothing survives a restart.
type Memory struct {
	mu      sync.RWMutex
	visited map[string]struct{}
	queue   map[string]struct{}
	elapsed time.Duration
}

// NewMemory creates an empty in-memory frontier
func NewMemory() *Memory {
	return &Memory{
		visited: make(map[string]struct{}),
		queue:   make(map[string]struct{}),
	}
}

func (m *Memory) TryClaim(_ context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.visited[id]; exists {
		return false, nil
	}
	m.visited[id] = struct{}{}
	m.queue[id] = struct{}{}
	return true, nil
}

func (m *Memory) Pop(_ context.Context) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for id := range m.queue {
		delete(m.queue, id)
		return id, true, nil
	}
	return "", false, nil
}

func (m *Memory) Requeue(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.visited[id]; exists {
		m.queue[id] = struct{}{}
	}
	return nil
}

func (m *Memory) Contains(_ context.Context, id string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	_, exists := m.visited[id]
	return exists, nil
}

func (m *Memory) QueueSize(_ context.Context) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return int64(len(m.queue)), nil
}

func (m *Memory) SetSize(_ context.Context) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return int64(len(m.visited)), nil
}

func (m *Memory) LoadElapsed(_ context.Context) (time.Duration, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.elapsed, nil
}

func (m *Memory) SaveElapsed(_ context.Context, d time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.elapsed = d
	return nil
}

// Snapshot returns copies of the visited set and the queue.
func (m *Memory) Snapshot() (visited, queued []string) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for id := range m.visited {
		visited = append(visited, id)
	}
	for id := range m.queue {
		queued = append(queued, id)
	}
	return visited, queued
}

func (m *Memory) Close() error { return nil }
