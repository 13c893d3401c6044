// Package coordination provides CoordinationStore implementations used for
// payout locks, the idempotency ledger and rate limit counters.
package coordination

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/goliatone/go-bounties/core"
)

const defaultMaxEntries = 65536

type entry struct {
	value     string
	expiresAt time.Time
}

func (e entry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && !now.Before(e.expiresAt)
}

// MemoryStore is a process-local CoordinationStore. It is only safe for a
// single orchestrator instance; multi-instance deployments use the SQL store.
type MemoryStore struct {
	mu         sync.Mutex
	entries    map[string]entry
	maxEntries int
	Now        func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return NewMemoryStoreWithLimits(defaultMaxEntries)
}

func NewMemoryStoreWithLimits(maxEntries int) *MemoryStore {
	if maxEntries <= 0 {
		maxEntries = defaultMaxEntries
	}
	return &MemoryStore{
		entries:    map[string]entry{},
		maxEntries: maxEntries,
		Now: func() time.Time {
			return time.Now().UTC()
		},
	}
}

func (s *MemoryStore) SetNX(_ context.Context, key string, value string, ttl time.Duration) (bool, error) {
	key, err := s.normalize(key)
	if err != nil {
		return false, err
	}
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	if current, ok := s.entries[key]; ok && !current.expired(now) {
		return false, nil
	}
	s.pruneExpiredLocked(now)
	if len(s.entries) >= s.maxEntries {
		return false, fmt.Errorf("coordination: memory store is full (%d entries)", s.maxEntries)
	}
	s.entries[key] = entry{value: value, expiresAt: expiry(now, ttl)}
	return true, nil
}

func (s *MemoryStore) Get(_ context.Context, key string) (string, bool, error) {
	key, err := s.normalize(key)
	if err != nil {
		return "", false, err
	}
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.entries[key]
	if !ok {
		return "", false, nil
	}
	if current.expired(now) {
		delete(s.entries, key)
		return "", false, nil
	}
	return current.value, true, nil
}

func (s *MemoryStore) Delete(_ context.Context, key string) error {
	key, err := s.normalize(key)
	if err != nil {
		return err
	}
	s.mu.Lock()
	delete(s.entries, key)
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) DeleteIfEquals(_ context.Context, key string, value string) (bool, error) {
	key, err := s.normalize(key)
	if err != nil {
		return false, err
	}
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.entries[key]
	if !ok || current.expired(now) || current.value != value {
		return false, nil
	}
	delete(s.entries, key)
	return true, nil
}

func (s *MemoryStore) TTL(_ context.Context, key string) (time.Duration, bool, error) {
	key, err := s.normalize(key)
	if err != nil {
		return 0, false, err
	}
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.entries[key]
	if !ok || current.expired(now) {
		return 0, false, nil
	}
	if current.expiresAt.IsZero() {
		return 0, true, nil
	}
	return current.expiresAt.Sub(now), true, nil
}

func (s *MemoryStore) Incr(_ context.Context, key string, ttl time.Duration) (int64, error) {
	key, err := s.normalize(key)
	if err != nil {
		return 0, err
	}
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.entries[key]
	if !ok || current.expired(now) {
		if len(s.entries) >= s.maxEntries {
			s.pruneExpiredLocked(now)
		}
		s.entries[key] = entry{value: "1", expiresAt: expiry(now, ttl)}
		return 1, nil
	}
	count, err := strconv.ParseInt(current.value, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("coordination: key %q does not hold a counter", key)
	}
	count++
	current.value = strconv.FormatInt(count, 10)
	s.entries[key] = current
	return count, nil
}

// PurgeExpired drops expired keys and returns how many were removed.
func (s *MemoryStore) PurgeExpired(_ context.Context) (int, error) {
	if s == nil {
		return 0, fmt.Errorf("coordination: memory store is not configured")
	}
	now := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pruneExpiredLocked(now), nil
}

func (s *MemoryStore) pruneExpiredLocked(now time.Time) int {
	pruned := 0
	for key, current := range s.entries {
		if current.expired(now) {
			delete(s.entries, key)
			pruned++
		}
	}
	return pruned
}

func (s *MemoryStore) normalize(key string) (string, error) {
	if s == nil {
		return "", fmt.Errorf("coordination: memory store is not configured")
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return "", fmt.Errorf("coordination: key is required")
	}
	return key, nil
}

func (s *MemoryStore) now() time.Time {
	if s != nil && s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

func expiry(now time.Time, ttl time.Duration) time.Time {
	if ttl <= 0 {
		return time.Time{}
	}
	return now.Add(ttl)
}

var _ core.CoordinationStore = (*MemoryStore)(nil)
