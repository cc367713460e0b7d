package heartbeat

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/openclaw/core/internal/agentexec"
	"github.com/openclaw/core/internal/session"
	"github.com/openclaw/core/internal/sysevent"
)

type stubContent struct {
	prompt  string
	hasWork bool
}

func (c stubContent) StandardPrompt(agentID string) (string, bool) { return c.prompt, c.hasWork }

type stubTargets struct {
	delivery session.Delivery
	ok       bool
}

func (t stubTargets) Resolve(agentID, target string) (session.Delivery, bool) { return t.delivery, t.ok }

type recordingDeliverer struct {
	delivered []string
}

func (d *recordingDeliverer) Deliver(ctx context.Context, delivery session.Delivery, text string) error {
	d.delivered = append(d.delivered, text)
	return nil
}

type stubHeartbeatExecutor struct {
	text string
}

func (e *stubHeartbeatExecutor) Run(ctx context.Context, req agentexec.RunRequest) (agentexec.RunResult, error) {
	return agentexec.RunResult{Text: e.text}, nil
}
func (e *stubHeartbeatExecutor) Compact(context.Context, agentexec.CompactRequest) error { return nil }
func (e *stubHeartbeatExecutor) IsBusy(string) bool                                     { return false }
func (e *stubHeartbeatExecutor) EnqueueFollowUp(string, string) bool                    { return true }
func (e *stubHeartbeatExecutor) WaitForIdle(context.Context, string, int64) bool        { return true }

func TestCoordinator_RunAgent_FullPassDelivers(t *testing.T) {
	deliverer := &recordingDeliverer{}
	c := New(Deps{
		Content:   stubContent{prompt: "check the news", hasWork: true},
		Targets:   stubTargets{delivery: session.Delivery{Channel: "slack"}, ok: true},
		Deliverer: deliverer,
		Executor:  &stubHeartbeatExecutor{text: "nothing urgent"},
	})

	state := &AgentState{AgentID: "a1", IntervalMs: 60_000, Config: AgentConfig{
		Enabled:    true,
		EveryMs:    60_000,
		Visibility: Visibility{ShowOK: true},
	}}

	res := c.runAgent(context.Background(), state, "interval", time.Now())
	if res.Status != StatusRan {
		t.Fatalf("expected StatusRan, got %v (%s)", res.Status, res.Reason)
	}
	if len(deliverer.delivered) != 1 || deliverer.delivered[0] != "nothing urgent" {
		t.Errorf("unexpected delivered content: %+v", deliverer.delivered)
	}
}

func TestCoordinator_RunAgent_SkipsWhenDisabled(t *testing.T) {
	c := New(Deps{Content: stubContent{hasWork: true}})
	state := &AgentState{AgentID: "a1", Config: AgentConfig{Enabled: false}}

	res := c.runAgent(context.Background(), state, "interval", time.Now())
	if res.Status != StatusSkipped {
		t.Fatalf("expected StatusSkipped, got %v", res.Status)
	}
}

func TestCoordinator_RunAgent_SkipsOutsideActiveHours(t *testing.T) {
	c := New(Deps{Content: stubContent{hasWork: true}})
	ah := &ActiveHours{StartMinuteLocal: 9 * 60, EndMinuteLocal: 17 * 60, Timezone: "UTC"}
	state := &AgentState{AgentID: "a1", IntervalMs: 60_000, Config: AgentConfig{Enabled: true, EveryMs: 60_000, ActiveHours: ah}}

	night := time.Date(2025, 1, 3, 23, 0, 0, 0, time.UTC)
	res := c.runAgent(context.Background(), state, "interval", night)
	if res.Status != StatusSkipped || res.Reason != "outside active hours" {
		t.Fatalf("expected outside-active-hours skip, got %v (%s)", res.Status, res.Reason)
	}
}

func TestCoordinator_RunAgent_SkipsWhenNothingToProcess(t *testing.T) {
	c := New(Deps{Content: stubContent{hasWork: false}, SysEvents: sysevent.New()})
	state := &AgentState{AgentID: "a1", IntervalMs: 60_000, Config: AgentConfig{Enabled: true, EveryMs: 60_000}}

	res := c.runAgent(context.Background(), state, "interval", time.Now())
	if res.Status != StatusSkipped || res.Reason != "nothing to process" {
		t.Fatalf("expected nothing-to-process skip, got %v (%s)", res.Status, res.Reason)
	}
}

func TestCoordinator_RunAgent_SkipsWhenVisibilityDisabled(t *testing.T) {
	c := New(Deps{
		Content:   stubContent{hasWork: true},
		Targets:   stubTargets{delivery: session.Delivery{Channel: "slack"}, ok: true},
		Executor:  &stubHeartbeatExecutor{text: "something"},
		Deliverer: &recordingDeliverer{},
	})
	state := &AgentState{AgentID: "a1", IntervalMs: 60_000, Config: AgentConfig{Enabled: true, EveryMs: 60_000}}

	res := c.runAgent(context.Background(), state, "interval", time.Now())
	if res.Status != StatusSkipped || res.Reason != "visibility does not permit delivery" {
		t.Fatalf("expected visibility-gated skip, got %v (%s)", res.Status, res.Reason)
	}
}

func TestCoordinator_RunAgent_DuplicateSuppressedOnSecondRun(t *testing.T) {
	deliverer := &recordingDeliverer{}
	c := New(Deps{
		Content:   stubContent{hasWork: true},
		Targets:   stubTargets{delivery: session.Delivery{Channel: "slack"}, ok: true},
		Executor:  &stubHeartbeatExecutor{text: "same every time"},
		Deliverer: deliverer,
	})
	state := &AgentState{AgentID: "a1", IntervalMs: 60_000, Config: AgentConfig{Enabled: true, EveryMs: 60_000, Visibility: Visibility{ShowOK: true}}}

	first := c.runAgent(context.Background(), state, "interval", time.Now())
	second := c.runAgent(context.Background(), state, "interval", time.Now())

	if first.Status != StatusRan {
		t.Fatalf("first run: expected StatusRan, got %v", first.Status)
	}
	if second.Status != StatusSkipped || second.Reason != "duplicate content" {
		t.Fatalf("second run: expected duplicate-content skip, got %v (%s)", second.Status, second.Reason)
	}
	if len(deliverer.delivered) != 1 {
		t.Errorf("expected exactly one delivery, got %d", len(deliverer.delivered))
	}
}

func TestCoordinator_SelectPrompt_PrefersCronEventOverExecEvent(t *testing.T) {
	c := New(Deps{})
	state := &AgentState{AgentID: "a1", Config: AgentConfig{Prompt: "standard prompt"}}

	events := []sysevent.Event{
		{Text: "exec finished a task", TsMs: time.Now().UnixMilli()},
		{Text: "cron:daily-digest fired", TsMs: time.Now().UnixMilli()},
	}
	prompt := c.selectPrompt(state, events)
	if !strings.HasSuffix(prompt, "cron:daily-digest fired") {
		t.Errorf("expected cron-event prompt to win, got: %q", prompt)
	}
}

func TestCoordinator_RequestHeartbeatNow_CoalescesReason(t *testing.T) {
	c := New(Deps{})
	c.requestHeartbeatNow("first", 50*time.Millisecond)
	c.mu.Lock()
	c.pendingReason = "first"
	c.mu.Unlock()
	c.requestHeartbeatNow("second", 50*time.Millisecond)

	c.mu.Lock()
	got := c.pendingReason
	c.mu.Unlock()
	if got != "first" {
		t.Errorf("pendingReason = %q, want %q (first reason should win while pending)", got, "first")
	}
	c.Stop()
}
