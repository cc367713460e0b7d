// Package heartbeat implements the Heartbeat Coordinator (§4.D): a
// coalescing single-wake handler layered with a per-agent interval
// scheduler, active-hours gating, a gate sequence, and digest-based
// duplicate suppression, grounded on the teacher's built-in heartbeat cron
// job (internal/cronjob/heartbeat.go) generalized from a single reserved
// cron job into a standalone coordinator with its own timer.
package heartbeat

import "time"

// ActiveHours bounds when an agent's heartbeat is allowed to send anything,
// evaluated in the agent's own IANA time zone, with wraparound when the
// window crosses midnight.
type ActiveHours struct {
	StartMinuteLocal int
	EndMinuteLocal   int
	Timezone         string
}

// Contains reports whether now (converted into the configured zone) falls
// inside [StartMinuteLocal, EndMinuteLocal), wrapping past midnight when
// EndMinuteLocal <= StartMinuteLocal.
func (a ActiveHours) Contains(now time.Time) (bool, error) {
	loc := time.UTC
	if a.Timezone != "" {
		l, err := time.LoadLocation(a.Timezone)
		if err != nil {
			return false, err
		}
		loc = l
	}
	local := now.In(loc)
	minute := local.Hour()*60 + local.Minute()

	if a.EndMinuteLocal <= a.StartMinuteLocal {
		return minute >= a.StartMinuteLocal || minute < a.EndMinuteLocal, nil
	}
	return minute >= a.StartMinuteLocal && minute < a.EndMinuteLocal, nil
}

// Visibility controls whether a passed gate sequence is actually allowed to
// produce outbound content.
type Visibility struct {
	ShowAlerts   bool
	ShowOK       bool
	UseIndicator bool
}

// Permits reports whether any visibility channel is enabled.
func (v Visibility) Permits() bool {
	return v.ShowAlerts || v.ShowOK || v.UseIndicator
}

// AgentConfig is the per-agent heartbeatConfig block from §3.
type AgentConfig struct {
	Enabled          bool
	EveryMs          int64
	Prompt           string
	Target           string
	Model            string
	AckMaxChars      int
	IncludeReasoning bool
	ActiveHours      *ActiveHours
	Visibility       Visibility
}

// AgentState is the in-memory HeartbeatAgentState from §3.
type AgentState struct {
	AgentID    string
	IntervalMs int64
	LastRunMs  *int64
	NextDueMs  int64
	Config     AgentConfig
}

func (s *AgentState) computeNextDue(now time.Time) {
	interval := s.IntervalMs
	if interval <= 0 {
		interval = int64(30 * time.Minute / time.Millisecond)
	}
	if s.LastRunMs == nil {
		s.NextDueMs = now.UnixMilli()
		return
	}
	s.NextDueMs = *s.LastRunMs + interval
}
