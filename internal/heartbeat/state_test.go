package heartbeat

import (
	"testing"
	"time"
)

func TestActiveHours_SimpleWindow(t *testing.T) {
	ah := ActiveHours{StartMinuteLocal: 9 * 60, EndMinuteLocal: 17 * 60, Timezone: "UTC"}

	inside := time.Date(2025, 1, 3, 12, 0, 0, 0, time.UTC)
	outside := time.Date(2025, 1, 3, 20, 0, 0, 0, time.UTC)

	if ok, err := ah.Contains(inside); err != nil || !ok {
		t.Errorf("expected 12:00 to be inside [9,17), got ok=%v err=%v", ok, err)
	}
	if ok, err := ah.Contains(outside); err != nil || ok {
		t.Errorf("expected 20:00 to be outside [9,17), got ok=%v err=%v", ok, err)
	}
}

func TestActiveHours_WraparoundPastMidnight(t *testing.T) {
	ah := ActiveHours{StartMinuteLocal: 22 * 60, EndMinuteLocal: 6 * 60, Timezone: "UTC"}

	lateNight := time.Date(2025, 1, 3, 23, 30, 0, 0, time.UTC)
	earlyMorning := time.Date(2025, 1, 4, 3, 0, 0, 0, time.UTC)
	midday := time.Date(2025, 1, 3, 12, 0, 0, 0, time.UTC)

	if ok, _ := ah.Contains(lateNight); !ok {
		t.Error("expected 23:30 to be inside wraparound window [22,6)")
	}
	if ok, _ := ah.Contains(earlyMorning); !ok {
		t.Error("expected 03:00 to be inside wraparound window [22,6)")
	}
	if ok, _ := ah.Contains(midday); ok {
		t.Error("expected 12:00 to be outside wraparound window [22,6)")
	}
}

func TestVisibility_Permits(t *testing.T) {
	if (Visibility{}).Permits() {
		t.Error("all-false visibility must not permit sending")
	}
	if !(Visibility{ShowOK: true}).Permits() {
		t.Error("showOk alone must permit sending")
	}
}

func TestAgentState_ComputeNextDue_FirstRunIsImmediate(t *testing.T) {
	s := &AgentState{IntervalMs: 60_000}
	now := time.Now()
	s.computeNextDue(now)
	if s.NextDueMs != now.UnixMilli() {
		t.Errorf("expected first-registration nextDue to equal now, got %d vs %d", s.NextDueMs, now.UnixMilli())
	}
}

func TestAgentState_ComputeNextDue_AfterRun(t *testing.T) {
	last := int64(1_000_000)
	s := &AgentState{IntervalMs: 5_000, LastRunMs: &last}
	s.computeNextDue(time.UnixMilli(1_001_000))
	if s.NextDueMs != 1_005_000 {
		t.Errorf("nextDueMs = %d, want 1005000", s.NextDueMs)
	}
}
