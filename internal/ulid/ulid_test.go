package ulid

import (
	"sort"
	"testing"
	"time"
)

func TestNew_Format(t *testing.T) {
	id := New()
	if len(id) != 26 {
		t.Fatalf("expected 26-character ULID, got %d: %q", len(id), id)
	}
	for _, c := range id {
		if !(c >= '0' && c <= '9') && !(c >= 'A' && c <= 'Z' && c != 'I' && c != 'L' && c != 'O' && c != 'U') {
			t.Fatalf("unexpected character %q in ULID %q", c, id)
		}
	}
}

func TestNew_Unique(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 1000; i++ {
		id := New()
		if seen[id] {
			t.Fatalf("duplicate ULID minted: %s", id)
		}
		seen[id] = true
	}
}

func TestNewAt_MonotonicWithinSameMillisecond(t *testing.T) {
	ts := time.UnixMilli(1_700_000_000_000)
	ids := make([]string, 20)
	for i := range ids {
		ids[i] = NewAt(ts)
	}

	sorted := append([]string(nil), ids...)
	sort.Strings(sorted)
	for i := range ids {
		if ids[i] != sorted[i] {
			t.Fatalf("ULIDs minted at the same millisecond are not monotonically sortable by generation order: %v", ids)
		}
	}
}

func TestNewAt_SortsByTime(t *testing.T) {
	early := NewAt(time.UnixMilli(1_600_000_000_000))
	late := NewAt(time.UnixMilli(1_700_000_000_000))

	if early >= late {
		t.Fatalf("expected earlier timestamp to sort first: early=%s late=%s", early, late)
	}
}
