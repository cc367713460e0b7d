package cron

import (
	"testing"
	"time"
)

func TestBackoffDelay_ClampsAtFiveConsecutiveErrors(t *testing.T) {
	cases := map[int]time.Duration{
		1: 30 * time.Second,
		2: 60 * time.Second,
		3: 5 * time.Minute,
		4: 15 * time.Minute,
		5: 60 * time.Minute,
		6: 60 * time.Minute,
		50: 60 * time.Minute,
	}
	for errs, want := range cases {
		if got := backoffDelay(errs); got != want {
			t.Errorf("backoffDelay(%d) = %v, want %v", errs, got, want)
		}
	}
}

// TestComputeNextRunAtMs_BackoffClampsEveryInterval grounds §8's literal
// boundary test: a job with everyMs=1000 and consecutiveErrors=6 must
// schedule its next run at endedAt + 3_600_000 (60 minutes), not endedAt +
// 1000.
func TestComputeNextRunAtMs_BackoffClampsEveryInterval(t *testing.T) {
	endedAt := time.UnixMilli(1_700_000_000_000)
	job := &Job{
		Schedule: Schedule{Kind: ScheduleEvery, EveryMs: 1000},
		State:    State{ConsecutiveErrors: 6},
	}

	next, ok, err := computeNextRunAtMs(job, endedAt.Add(time.Millisecond), endedAt)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ok {
		t.Fatal("expected ok=true")
	}

	want := endedAt.UnixMilli() + 3_600_000
	if next != want {
		t.Errorf("nextRunAtMs = %d, want %d", next, want)
	}
}

func TestComputeNextRunAtMs_NoBackoffWhenHealthy(t *testing.T) {
	endedAt := time.UnixMilli(1_700_000_000_000)
	job := &Job{
		Schedule: Schedule{Kind: ScheduleEvery, EveryMs: 1000},
		State:    State{ConsecutiveErrors: 0},
	}

	next, ok, err := computeNextRunAtMs(job, endedAt, endedAt)
	if err != nil || !ok {
		t.Fatalf("unexpected result: next=%d ok=%v err=%v", next, ok, err)
	}
	if want := endedAt.UnixMilli() + 1000; next != want {
		t.Errorf("nextRunAtMs = %d, want %d", next, want)
	}
}

// TestNaturalNext_CronBoundary grounds §8's literal boundary test: "0 9 * *
// MON-FRI" in America/New_York evaluated at 2025-01-03T13:59:59.500Z (a
// Friday) must produce 2025-01-03T14:00:00Z.
func TestNaturalNext_CronBoundary(t *testing.T) {
	now, err := time.Parse(time.RFC3339Nano, "2025-01-03T13:59:59.5Z")
	if err != nil {
		t.Fatalf("parse now: %v", err)
	}
	job := &Job{
		Schedule: Schedule{Kind: ScheduleCron, Expr: "0 9 * * MON-FRI", TZ: "America/New_York"},
	}

	next, ok, err := naturalNext(job, now, now)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ok {
		t.Fatal("expected ok=true")
	}

	want, _ := time.Parse(time.RFC3339Nano, "2025-01-03T14:00:00Z")
	if next != want.UnixMilli() {
		gotT := time.UnixMilli(next).UTC()
		t.Errorf("next = %s, want %s", gotT.Format(time.RFC3339), want.Format(time.RFC3339))
	}
}

func TestNaturalNext_AtInThePastSignalsDisable(t *testing.T) {
	now := time.UnixMilli(2_000)
	job := &Job{Schedule: Schedule{Kind: ScheduleAt, AtMs: 1_000}}

	_, ok, err := naturalNext(job, now, now)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Fatal("expected ok=false for a past \"at\" instant")
	}
}

func TestNaturalNext_EveryWithAnchorAlignsToGrid(t *testing.T) {
	anchor := int64(0)
	job := &Job{Schedule: Schedule{Kind: ScheduleEvery, EveryMs: 1000, AnchorMs: &anchor}}

	now := time.UnixMilli(2_500)
	next, ok, err := naturalNext(job, now, now)
	if err != nil || !ok {
		t.Fatalf("unexpected result: ok=%v err=%v", ok, err)
	}
	if next != 3000 {
		t.Errorf("next = %d, want 3000", next)
	}
}

func TestNaturalNext_EveryWithoutAnchorUsesLastEndedAt(t *testing.T) {
	job := &Job{Schedule: Schedule{Kind: ScheduleEvery, EveryMs: 5000}}
	lastEndedAt := time.UnixMilli(10_000)
	now := time.UnixMilli(10_001)

	next, ok, err := naturalNext(job, now, lastEndedAt)
	if err != nil || !ok {
		t.Fatalf("unexpected result: ok=%v err=%v", ok, err)
	}
	if next != 15_000 {
		t.Errorf("next = %d, want 15000", next)
	}
}
