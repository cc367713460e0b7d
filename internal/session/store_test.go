package session

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestStore_UpdateAndLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sessions.json")
	s := New(path, nil)

	now := time.Now().UnixMilli()
	err := s.Update(func(snap map[string]Entry) error {
		return Put(snap, "agent:a1:main", Entry{SessionID: "sess-1", UpdatedAtMs: now, ChatType: ChatDirect})
	})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}

	snap, err := s.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	e, ok := snap["agent:a1:main"]
	if !ok || e.SessionID != "sess-1" {
		t.Fatalf("unexpected entry: %+v ok=%v", e, ok)
	}
}

func TestStore_SessionIDImmutable(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sessions.json")
	s := New(path, nil)

	base := time.Now().UnixMilli()
	_ = s.Update(func(snap map[string]Entry) error {
		return Put(snap, "k", Entry{SessionID: "sess-1", UpdatedAtMs: base + 1})
	})

	err := s.Update(func(snap map[string]Entry) error {
		return Put(snap, "k", Entry{SessionID: "sess-2", UpdatedAtMs: base + 2})
	})
	if err == nil {
		t.Fatal("expected error changing sessionId on existing key")
	}
}

func TestStore_UpdatedAtNeverMovesBackward(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sessions.json")
	s := New(path, nil)

	base := time.Now().UnixMilli()
	_ = s.Update(func(snap map[string]Entry) error {
		return Put(snap, "k", Entry{SessionID: "sess-1", UpdatedAtMs: base + 100})
	})
	_ = s.Update(func(snap map[string]Entry) error {
		return Put(snap, "k", Entry{SessionID: "sess-1", UpdatedAtMs: base + 50})
	})

	snap, _ := s.Load()
	if snap["k"].UpdatedAtMs != base+100 {
		t.Fatalf("expected UpdatedAtMs to stay at %d, got %d", base+100, snap["k"].UpdatedAtMs)
	}
}

func TestStore_LoadIdentityRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sessions.json")
	s := New(path, nil)

	_ = s.Update(func(snap map[string]Entry) error {
		return Put(snap, "k", Entry{SessionID: "sess-1", UpdatedAtMs: 1, Subject: "hello"})
	})

	before, _ := s.Load()
	_ = s.Update(func(map[string]Entry) error { return nil })
	after, _ := s.Load()

	if before["k"] != after["k"] {
		t.Fatalf("load(); update(identity); load() changed entry: %+v vs %+v", before["k"], after["k"])
	}
}

func TestStore_CapEvictsLeastRecentlyUpdated(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sessions.json")
	s := New(path, nil)

	base := time.Now().UnixMilli()
	err := s.Update(func(snap map[string]Entry) error {
		for i := 0; i < maxEntries+5; i++ {
			key := fmt.Sprintf("agent:a1:peer%d", i)
			if err := Put(snap, key, Entry{SessionID: fmt.Sprintf("sess-%d", i), UpdatedAtMs: base + int64(i)}); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}

	snap, _ := s.Load()
	if len(snap) != maxEntries {
		t.Fatalf("expected cap at %d entries, got %d", maxEntries, len(snap))
	}
	if _, ok := snap["agent:a1:peer0"]; ok {
		t.Fatal("expected the least-recently-updated entry to be evicted")
	}
	if _, ok := snap[fmt.Sprintf("agent:a1:peer%d", maxEntries+4)]; !ok {
		t.Fatal("expected the most-recently-updated entry to be kept")
	}
}

func TestStore_CorruptFileResetsEmpty(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sessions.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o644); err != nil {
		t.Fatalf("seed corrupt file: %v", err)
	}

	s := New(path, nil)
	snap, err := s.Load()
	if err != nil {
		t.Fatalf("Load after corruption should recover, got: %v", err)
	}
	if len(snap) != 0 {
		t.Fatalf("expected empty snapshot after recovery, got %d entries", len(snap))
	}
}
