package usage

import (
	"context"
	"sync"
	"time"
)

type memCounter struct {
	value int64
	// expires is zero when the counter has no deadline.
	expires time.Time
}

// MemStore is an in-memory counter store. Expired counters read as
// absent and are dropped lazily on access.
type MemStore struct {
	mu       sync.Mutex
	counters map[string]*memCounter

	// now is swappable for TTL tests.
	now func() time.Time
}

// NewMemStore returns an empty in-memory store.
func NewMemStore() *MemStore {
	return &MemStore{
		counters: make(map[string]*memCounter),
		now:      time.Now,
	}
}

func key(accountID string, w Window) string {
	return accountID + ":" + string(w)
}

// ReadBatch implements Store. All windows are read under one lock
// acquisition, the in-memory analogue of a pipelined multi-read.
func (s *MemStore) ReadBatch(ctx context.Context, accountID string, windows []Window) ([]Counter, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	out := make([]Counter, len(windows))
	for i, w := range windows {
		c := s.getLocked(key(accountID, w), now)
		if c == nil {
			out[i] = Counter{Used: 0, TTL: -1}
			continue
		}
		ttl := int64(-1)
		if !c.expires.IsZero() {
			ttl = int64(c.expires.Sub(now).Seconds())
			if ttl < 0 {
				ttl = 0
			}
		}
		out[i] = Counter{Used: c.value, TTL: ttl}
	}
	return out, nil
}

// Add implements Store.
func (s *MemStore) Add(ctx context.Context, accountID string, w Window, n int64, lifetime time.Duration) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	k := key(accountID, w)
	c := s.getLocked(k, now)
	if c == nil {
		c = &memCounter{}
		if lifetime > 0 {
			c.expires = now.Add(lifetime)
		}
		s.counters[k] = c
	}
	c.value += n
	return c.value, nil
}

// getLocked returns the live counter for k, dropping it when expired.
func (s *MemStore) getLocked(k string, now time.Time) *memCounter {
	c, ok := s.counters[k]
	if !ok {
		return nil
	}
	if !c.expires.IsZero() && !c.expires.After(now) {
		delete(s.counters, k)
		return nil
	}
	return c
}
