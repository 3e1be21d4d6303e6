package lock

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryLocker is an in-process Locker for single-node deployments and tests.
type MemoryLocker struct {
	mu    sync.Mutex
	held  map[string]memoryEntry
	retry time.Duration
	now   func() time.Time
}

type memoryEntry struct {
	token   string
	expires time.Time
}

// NewMemoryLocker returns an empty locker.
func NewMemoryLocker(retry time.Duration) *MemoryLocker {
	if retry <= 0 {
		retry = 5 * time.Millisecond
	}
	return &MemoryLocker{held: make(map[string]memoryEntry), retry: retry, now: time.Now}
}

func (l *MemoryLocker) tryAcquire(name, token string, ttl time.Duration) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	if cur, ok := l.held[name]; ok && now.Before(cur.expires) {
		return false
	}
	l.held[name] = memoryEntry{token: token, expires: now.Add(ttl)}
	return true
}

// Acquire polls until the lock is free or opts.BlockingTimeout elapses.
func (l *MemoryLocker) Acquire(ctx context.Context, name string, opts Options) (Handle, error) {
	if opts.Timeout <= 0 {
		return nil, errors.New("lock timeout must be positive")
	}
	token := uuid.NewString()
	start := time.Now()
	deadline := start.Add(opts.BlockingTimeout)
	for {
		if l.tryAcquire(name, token, opts.Timeout) {
			return &memoryHandle{locker: l, name: name, token: token}, nil
		}
		if !time.Now().Before(deadline) {
			return nil, &AcquisitionError{Name: name, Waited: time.Since(start)}
		}
		if err := wait(ctx, nextDelay(l.retry, deadline)); err != nil {
			return nil, err
		}
	}
}

// Held reports whether name is currently locked.
func (l *MemoryLocker) Held(name string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	cur, ok := l.held[name]
	return ok && l.now().Before(cur.expires)
}

type memoryHandle struct {
	locker *MemoryLocker
	name   string
	token  string
}

func (h *memoryHandle) Name() string {
	return h.name
}

func (h *memoryHandle) Release(context.Context) error {
	h.locker.mu.Lock()
	defer h.locker.mu.Unlock()
	if cur, ok := h.locker.held[h.name]; ok && cur.token == h.token {
		delete(h.locker.held, h.name)
	}
	return nil
}
