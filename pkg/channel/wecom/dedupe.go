package wecom

import (
	"strings"
	"sync"
	"time"
)

const (
	defaultDedupeTTL     = 10 * time.Minute
	defaultDedupeSweepAt = 2000
)

// makeDedupeKey joins the non-empty parts with ":". Two logically distinct
// events never collide because every component is position-stable; a retried
// delivery always reproduces the same key.
func makeDedupeKey(parts ...string) string {
	kept := make([]string, 0, len(parts))
	for _, part := range parts {
		if part == "" {
			continue
		}
		kept = append(kept, part)
	}

	return strings.Join(kept, ":")
}

// seenSet is a time-bounded in-memory seen set guarding against at-least-once
// redelivery. It is best-effort and non-durable: a restart resets all state,
// which is an accepted risk.
type seenSet struct {
	mu      sync.Mutex
	ttl     time.Duration
	sweepAt int
	now     func() time.Time
	entries map[string]time.Time
}

func newSeenSet(ttl time.Duration, sweepAt int) *seenSet {
	if ttl <= 0 {
		ttl = defaultDedupeTTL
	}
	if sweepAt <= 0 {
		sweepAt = defaultDedupeSweepAt
	}

	return &seenSet{
		ttl:     ttl,
		sweepAt: sweepAt,
		now:     time.Now,
		entries: make(map[string]time.Time),
	}
}

// Seen reports whether the key is inside its TTL window. A miss records the
// key with a fresh expiry before returning. When the table has grown past the
// sweep threshold, already-expired entries are removed opportunistically; no
// background timer runs.
func (s *seenSet) Seen(key string) bool {
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	if expiry, ok := s.entries[key]; ok && now.Before(expiry) {
		return true
	}
	s.entries[key] = now.Add(s.ttl)

	if len(s.entries) > s.sweepAt {
		for k, expiry := range s.entries {
			if !now.Before(expiry) {
				delete(s.entries, k)
			}
		}
	}

	return false
}
