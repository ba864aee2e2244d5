package session

import (
	"context"
	"hash/maphash"
	"sync"
	"time"
)

const shardCount = 32

type entry[V any] struct {
	value V
	since time.Time
}

type shard[V any] struct {
	mu      sync.Mutex
	entries map[string]entry[V]
}

// MemoryStore keeps sessions in process memory. Keys are spread over
// independently locked shards; every transition on a key runs under its
// shard lock. A ttl <= 0 disables expiry.
type MemoryStore[V any] struct {
	seed   maphash.Seed
	shards [shardCount]*shard[V]
	ttl    time.Duration
	now    func() time.Time
}

func NewMemoryStore[V any](ttl time.Duration) *MemoryStore[V] {
	s := &MemoryStore[V]{
		seed: maphash.MakeSeed(),
		ttl:  ttl,
		now:  time.Now,
	}
	for i := range s.shards {
		s.shards[i] = &shard[V]{entries: make(map[string]entry[V])}
	}
	return s
}

func (s *MemoryStore[V]) TTL() time.Duration {
	return s.ttl
}

func (s *MemoryStore[V]) Submit(_ context.Context, key string, value V) (Submission[V], error) {
	if key == "" {
		return Submission[V]{}, ErrEmptyKey
	}

	sh := s.shardFor(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	now := s.now()
	if held, ok := sh.entries[key]; ok {
		delete(sh.entries, key)
		if !s.expired(held, now) {
			return Submission[V]{Role: RoleSecond, First: held.value}, nil
		}
	}

	sh.entries[key] = entry[V]{value: value, since: now}
	return Submission[V]{Role: RoleFirst}, nil
}

func (s *MemoryStore[V]) Reset(_ context.Context, key string) (ResetOutcome, error) {
	if key == "" {
		return NothingToReset, ErrEmptyKey
	}

	sh := s.shardFor(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	held, ok := sh.entries[key]
	if !ok {
		return NothingToReset, nil
	}
	delete(sh.entries, key)
	if s.expired(held, s.now()) {
		return SessionExpired, nil
	}
	return Cleared, nil
}

// Expire drops the session for key if it has outlived the TTL.
func (s *MemoryStore[V]) Expire(key string) bool {
	sh := s.shardFor(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	held, ok := sh.entries[key]
	if !ok || !s.expired(held, s.now()) {
		return false
	}
	delete(sh.entries, key)
	return true
}

// Sweep drops every expired session and returns how many were removed.
func (s *MemoryStore[V]) Sweep() int {
	if s.ttl <= 0 {
		return 0
	}

	removed := 0
	for _, sh := range s.shards {
		sh.mu.Lock()
		now := s.now()
		for key, held := range sh.entries {
			if s.expired(held, now) {
				delete(sh.entries, key)
				removed++
			}
		}
		sh.mu.Unlock()
	}
	return removed
}

// Len counts held sessions, including expired ones not yet swept.
func (s *MemoryStore[V]) Len() int {
	n := 0
	for _, sh := range s.shards {
		sh.mu.Lock()
		n += len(sh.entries)
		sh.mu.Unlock()
	}
	return n
}

// Run sweeps expired sessions every interval until ctx is done. onSweep, if
// set, is called with the number of sessions removed by each non-empty sweep.
func (s *MemoryStore[V]) Run(ctx context.Context, interval time.Duration, onSweep func(removed int)) {
	if interval <= 0 || s.ttl <= 0 {
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if removed := s.Sweep(); removed > 0 && onSweep != nil {
				onSweep(removed)
			}
		}
	}
}

func (s *MemoryStore[V]) expired(e entry[V], now time.Time) bool {
	return s.ttl > 0 && now.Sub(e.since) > s.ttl
}

func (s *MemoryStore[V]) shardFor(key string) *shard[V] {
	return s.shards[maphash.String(s.seed, key)%shardCount]
}
