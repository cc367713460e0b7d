package sysevent

import "testing"

func TestQueue_DuplicateSuppression(t *testing.T) {
	q := New()
	q.Enqueue("k", "x")
	q.Enqueue("k", "x")

	if got := q.Peek("k"); len(got) != 1 || got[0] != "x" {
		t.Fatalf("expected exactly one event \"x\", got %v", got)
	}
}

func TestQueue_DrainClearsLastText(t *testing.T) {
	q := New()
	q.Enqueue("k", "x")
	_ = q.Drain("k")

	// lastText was cleared by Drain, so a repeat of "x" is not a duplicate.
	q.Enqueue("k", "x")
	if got := q.Peek("k"); len(got) != 1 {
		t.Fatalf("expected re-enqueue after drain to succeed, got %v", got)
	}
}

func TestQueue_CapEvictsOldestNotNewest(t *testing.T) {
	q := New()
	for i := 0; i < 21; i++ {
		q.Enqueue("k", string(rune('a'+i)))
	}

	got := q.Peek("k")
	if len(got) != capacity {
		t.Fatalf("expected queue capped at %d, got %d", capacity, len(got))
	}
	if got[0] == "a" {
		t.Fatal("expected oldest event to be evicted, not retained")
	}
	if got[len(got)-1] != string(rune('a'+20)) {
		t.Fatalf("expected newest event retained, got tail %q", got[len(got)-1])
	}
}

func TestQueue_EmptyTextDropped(t *testing.T) {
	q := New()
	q.Enqueue("k", "   ")
	if got := q.Peek("k"); len(got) != 0 {
		t.Fatalf("expected blank text to be dropped, got %v", got)
	}
}

func TestQueue_NoConsecutiveDuplicateText(t *testing.T) {
	q := New()
	q.Enqueue("k", "a")
	q.Enqueue("k", "b")
	q.Enqueue("k", "b")
	q.Enqueue("k", "a")

	got := q.Peek("k")
	for i := 1; i < len(got); i++ {
		if got[i] == got[i-1] {
			t.Fatalf("found consecutive duplicate at index %d: %v", i, got)
		}
	}
}
