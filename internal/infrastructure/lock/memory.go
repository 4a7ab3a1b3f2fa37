package lock

import (
	"context"
	"sync"
	"time"
)

// MemoryLocker is a process-local Locker for single-node setups and tests.
type MemoryLocker struct {
	mu    sync.Mutex
	held  map[string]memoryHold
	seq   uint64
	clock func() time.Time
}

type memoryHold struct {
	token   uint64
	expires time.Time
}

func NewMemoryLocker() *MemoryLocker {
	return &MemoryLocker{held: make(map[string]memoryHold), clock: time.Now}
}

func (m *MemoryLocker) Acquire(_ context.Context, key string, ttl time.Duration) (func(context.Context) error, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.clock()
	if h, ok := m.held[key]; ok && now.Before(h.expires) {
		return nil, ErrLockFailed
	}
	m.seq++
	token := m.seq
	m.held[key] = memoryHold{token: token, expires: now.Add(ttl)}

	return func(context.Context) error {
		m.mu.Lock()
		defer m.mu.Unlock()
		// only the holder that took this token may release
		if h, ok := m.held[key]; ok && h.token == token {
			delete(m.held, key)
		}
		return nil
	}, nil
}
