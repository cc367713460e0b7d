package cron

import (
	"os"
	"path/filepath"
	"testing"
)

func TestStore_AddUpdateRemoveRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "jobs.json")

	s := NewStore(path, nil)
	if err := s.Load(); err != nil {
		t.Fatalf("Load on missing file: %v", err)
	}

	job := Job{ID: "job-1", Name: "daily-digest", Enabled: true, Schedule: Schedule{Kind: ScheduleAt, AtMs: 1000}}
	if err := s.Add(job); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := s.Save(); err != nil {
		t.Fatalf("Save: %v", err)
	}

	reloaded := NewStore(path, nil)
	if err := reloaded.Load(); err != nil {
		t.Fatalf("reload: %v", err)
	}
	got, ok := reloaded.Get("job-1")
	if !ok {
		t.Fatal("job-1 not found after reload")
	}
	if got.Name != "daily-digest" {
		t.Errorf("Name = %q, want daily-digest", got.Name)
	}

	got.Enabled = false
	reloaded.Update(got)
	reloaded.Remove("job-1")
	if _, ok := reloaded.Get("job-1"); ok {
		t.Error("expected job-1 to be removed")
	}
}

func TestStore_AddDuplicateIDFails(t *testing.T) {
	s := NewStore(filepath.Join(t.TempDir(), "jobs.json"), nil)
	job := Job{ID: "dup", Name: "one"}
	if err := s.Add(job); err != nil {
		t.Fatalf("first Add: %v", err)
	}
	if err := s.Add(job); err == nil {
		t.Error("expected error adding duplicate job ID")
	}
}

func TestStore_CorruptFileResetsEmptyAndEmitsEvent(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "jobs.json")

	if err := os.WriteFile(path, []byte("{not json"), 0o644); err != nil {
		t.Fatalf("seed corrupt file: %v", err)
	}

	s := NewStore(path, nil)
	if err := s.Load(); err != nil {
		t.Fatalf("Load on corrupt file should recover, got: %v", err)
	}
	if len(s.List()) != 0 {
		t.Errorf("expected empty job table after corruption recovery, got %d", len(s.List()))
	}
}
