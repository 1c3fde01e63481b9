package wecom

import (
	"fmt"
	"testing"
	"time"
)

func TestMakeDedupeKey(t *testing.T) {
	t.Parallel()

	if got := makeDedupeKey("wecom", "default", "user", "media-1"); got != "wecom:default:user:media-1" {
		t.Fatalf("key = %q", got)
	}
	if got := makeDedupeKey("wecom", "", "user"); got != "wecom:user" {
		t.Fatalf("empty parts should be skipped, got %q", got)
	}
}

func TestSeenSetTTL(t *testing.T) {
	t.Parallel()

	current := time.Unix(1_700_000_000, 0)
	set := newSeenSet(10*time.Minute, 2000)
	set.now = func() time.Time { return current }

	if set.Seen("k") {
		t.Fatal("first sighting should not be a duplicate")
	}
	if !set.Seen("k") {
		t.Fatal("second sighting inside TTL should be a duplicate")
	}

	current = current.Add(9 * time.Minute)
	if !set.Seen("k") {
		t.Fatal("sighting at 9 minutes should still be a duplicate")
	}

	current = current.Add(2 * time.Minute)
	if set.Seen("k") {
		t.Fatal("sighting past TTL should be treated as new")
	}
	if !set.Seen("k") {
		t.Fatal("re-recorded key should be a duplicate again")
	}
}

func TestSeenSetDefaults(t *testing.T) {
	t.Parallel()

	set := newSeenSet(0, 0)
	if set.ttl != 10*time.Minute {
		t.Fatalf("default ttl = %v, want 10m", set.ttl)
	}
	if set.sweepAt != 2000 {
		t.Fatalf("default sweepAt = %d, want 2000", set.sweepAt)
	}
}

func TestSeenSetSweepsExpiredEntries(t *testing.T) {
	t.Parallel()

	current := time.Unix(1_700_000_000, 0)
	set := newSeenSet(10*time.Minute, 10)
	set.now = func() time.Time { return current }

	for i := 0; i < 10; i++ {
		set.Seen(fmt.Sprintf("old-%d", i))
	}

	// Let the first batch expire, then push past the sweep threshold.
	current = current.Add(11 * time.Minute)
	set.Seen("trigger")

	set.mu.Lock()
	size := len(set.entries)
	_, oldKept := set.entries["old-0"]
	set.mu.Unlock()

	if oldKept {
		t.Fatal("expired entry survived the sweep")
	}
	if size != 1 {
		t.Fatalf("entries after sweep = %d, want 1", size)
	}
}
