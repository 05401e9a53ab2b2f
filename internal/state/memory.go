package state

import (
	"context"
	"encoding/json"
	"sync"
	"time"
)

// MemoryStore is an in-process Store. Values are stored encoded so callers
// never share mutable memory with the store.
//
// It is suitable for tests and single-process deployments.
type MemoryStore struct {
	mu    sync.Mutex
	docs  map[string]memoryDoc
	locks map[string]*keyLock

	// Now is injectable for deterministic TTL tests.
	Now func() time.Time
}

type memoryDoc struct {
	raw       []byte
	expiresAt time.Time
}

type keyLock struct {
	ch   chan struct{}
	refs int
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		docs:  map[string]memoryDoc{},
		locks: map[string]*keyLock{},
		Now:   time.Now,
	}
}

func (s *MemoryStore) Load(ctx context.Context, key string, v any) (bool, error) {
	s.mu.Lock()
	d, ok := s.docs[key]
	if ok && !d.expiresAt.IsZero() && !s.Now().Before(d.expiresAt) {
		delete(s.docs, key)
		ok = false
	}
	s.mu.Unlock()
	if !ok {
		return false, nil
	}
	if err := json.Unmarshal(d.raw, v); err != nil {
		return false, err
	}
	return true, nil
}

func (s *MemoryStore) Save(ctx context.Context, key string, v any, ttl time.Duration) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	d := memoryDoc{raw: raw}
	if ttl > 0 {
		d.expiresAt = s.Now().Add(ttl)
	}
	s.mu.Lock()
	s.docs[key] = d
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	delete(s.docs, key)
	s.mu.Unlock()
	return nil
}

// Locked serializes fn per key. Waiting honours ctx cancellation.
func (s *MemoryStore) Locked(ctx context.Context, key string, fn func(ctx context.Context) error) error {
	s.mu.Lock()
	l, ok := s.locks[key]
	if !ok {
		l = &keyLock{ch: make(chan struct{}, 1)}
		s.locks[key] = l
	}
	l.refs++
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(s.locks, key)
		}
		s.mu.Unlock()
	}()

	select {
	case l.ch <- struct{}{}:
	case <-ctx.Done():
		return ErrLockTimeout
	}
	defer func() { <-l.ch }()

	return fn(ctx)
}

var _ Store = (*MemoryStore)(nil)
