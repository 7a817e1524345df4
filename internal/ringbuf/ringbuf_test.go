package ringbuf

import (
	"testing"

	"pgregory.net/rapid"
)

func TestPushEvictsOldest(t *testing.T) {
	t.Parallel()

	buf := New[int](3)
	for i := 1; i <= 3; i++ {
		if buf.Push(i) {
			t.Fatalf("unexpected eviction at %d", i)
		}
	}
	if !buf.Push(4) {
		t.Fatalf("expected eviction when full")
	}
	got := buf.Snapshot()
	want := []int{2, 3, 4}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected %v got %v", want, got)
		}
	}

	buf.Reset()
	if buf.Len() != 0 || len(buf.Snapshot()) != 0 {
		t.Fatalf("expected empty buffer after reset")
	}
}

func TestNewClampsCapacity(t *testing.T) {
	t.Parallel()

	buf := New[string](0)
	buf.Push("a")
	buf.Push("b")
	if got := buf.Snapshot(); len(got) != 1 || got[0] != "b" {
		t.Fatalf("expected capacity clamped to 1, got %v", got)
	}
}

func TestBufferKeepsMostRecentSuffix(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		capacity := rapid.IntRange(1, 64).Draw(t, "capacity")
		items := rapid.SliceOf(rapid.Int()).Draw(t, "items")

		buf := New[int](capacity)
		for _, item := range items {
			buf.Push(item)
		}

		if buf.Len() > capacity {
			t.Fatalf("length %d exceeds capacity %d", buf.Len(), capacity)
		}
		start := 0
		if len(items) > capacity {
			start = len(items) - capacity
		}
		want := items[start:]
		got := buf.Snapshot()
		if len(got) != len(want) {
			t.Fatalf("expected %d items got %d", len(want), len(got))
		}
		for i := range want {
			if got[i] != want[i] {
				t.Fatalf("index %d: expected %d got %d", i, want[i], got[i])
			}
		}
	})
}
