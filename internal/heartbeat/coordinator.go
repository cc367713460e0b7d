package heartbeat

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/openclaw/core/internal/agentexec"
	"github.com/openclaw/core/internal/lane"
	"github.com/openclaw/core/internal/pkg/events"
	"github.com/openclaw/core/internal/pkg/logs"
	metrics "github.com/openclaw/core/internal/pkg/metrics"
	"github.com/openclaw/core/internal/session"
	"github.com/openclaw/core/internal/sysevent"
)

const (
	defaultCoalesceMs  = 250
	retryBackoff       = 1 * time.Second
	maxIntervalTimer   = 60 * time.Second
	requestsInFlightReason = "requests-in-flight"
	retryReason        = "retry"
)

// Status is the outcome of a gate-sequence evaluation or a completed run.
type Status string

const (
	StatusRan     Status = "ran"
	StatusSkipped Status = "skipped"
	StatusError   Status = "error"
)

// Result is returned by the per-agent gate-and-run pass.
type Result struct {
	Status Status
	Reason string
}

// ContentProvider supplies an agent's standard heartbeat prompt, grounded on
// the teacher's BuildHeartbeatPrompt(workspace) — it reads whatever the
// agent's standing heartbeat instructions are and reports whether there is
// any work to surface at all.
type ContentProvider interface {
	StandardPrompt(agentID string) (prompt string, hasWork bool)
}

// TargetResolver decides where a given agent's heartbeat output should be
// delivered, and whether a target can be resolved at all.
type TargetResolver interface {
	Resolve(agentID, target string) (session.Delivery, bool)
}

// Deliverer sends heartbeat output to a resolved delivery target.
type Deliverer interface {
	Deliver(ctx context.Context, delivery session.Delivery, text string) error
}

// Deps bundles the Coordinator's collaborators.
type Deps struct {
	SysEvents *sysevent.Queue
	Lanes     *lane.Dispatcher
	Executor  agentexec.Executor
	Content   ContentProvider
	Targets   TargetResolver
	Deliverer Deliverer
	Emitter   *events.Emitter

	// GloballyEnabled reports the first gate in the sequence: are
	// heartbeats enabled at all, process-wide. Defaults to "always true".
	GloballyEnabled func() bool
}

// Coordinator is the single-wake heartbeat loop plus interval scheduler
// from §4.D.
type Coordinator struct {
	deps   Deps
	emitter *events.Emitter
	dedup  *dedup

	mu             sync.Mutex
	agents         map[string]*AgentState
	pendingReason  string
	wakeTimer      *time.Timer
	running        bool
	intervalTimer  *time.Timer
	stopCh         chan struct{}
}

// New constructs a Coordinator. Call Start to arm the interval scheduler.
func New(deps Deps) *Coordinator {
	if deps.Emitter == nil {
		deps.Emitter = events.NewEmitter()
	}
	if deps.GloballyEnabled == nil {
		deps.GloballyEnabled = func() bool { return true }
	}
	return &Coordinator{
		deps:    deps,
		emitter: deps.Emitter,
		dedup:   newDedup(),
		agents:  make(map[string]*AgentState),
		stopCh:  make(chan struct{}),
	}
}

// RegisterAgent adds or replaces an agent's heartbeat configuration and
// recomputes its next-due time.
func (c *Coordinator) RegisterAgent(agentID string, cfg AgentConfig) {
	c.mu.Lock()
	defer c.mu.Unlock()

	state, ok := c.agents[agentID]
	if !ok {
		state = &AgentState{AgentID: agentID}
		c.agents[agentID] = state
	}
	state.IntervalMs = cfg.EveryMs
	state.Config = cfg
	state.computeNextDue(time.Now())
	c.rearmIntervalTimerLocked()
}

// UnregisterAgent removes an agent from the interval scheduler.
func (c *Coordinator) UnregisterAgent(agentID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.agents, agentID)
}

// Start arms the interval scheduler's timer.
func (c *Coordinator) Start() {
	c.mu.Lock()
	c.rearmIntervalTimerLocked()
	c.mu.Unlock()
}

// Stop tears down both timers.
func (c *Coordinator) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.wakeTimer != nil {
		c.wakeTimer.Stop()
	}
	if c.intervalTimer != nil {
		c.intervalTimer.Stop()
	}
	select {
	case <-c.stopCh:
	default:
		close(c.stopCh)
	}
}

// RequestHeartbeatNow implements cron.HeartbeatRequester: records reason
// and arms the coalescing timer with the default 250ms window.
func (c *Coordinator) RequestHeartbeatNow(reason string) {
	c.requestHeartbeatNow(reason, defaultCoalesceMs*time.Millisecond)
}

// requestHeartbeatNow is §4.D's coalescing wake request: later calls keep
// whichever reason arrived first while a request is already pending.
func (c *Coordinator) requestHeartbeatNow(reason string, coalesce time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.pendingReason == "" {
		c.pendingReason = reason
	}
	if c.wakeTimer != nil {
		c.wakeTimer.Stop()
	}
	c.wakeTimer = time.AfterFunc(coalesce, c.onWakeTimerFired)
}

// onWakeTimerFired is the coalescing timer's callback. If a wake is already
// running it re-arms for another coalesce window; otherwise it runs the
// captured reason and re-arms on a fresh pending reason or on failure.
func (c *Coordinator) onWakeTimerFired() {
	c.mu.Lock()
	if c.running {
		c.wakeTimer = time.AfterFunc(defaultCoalesceMs*time.Millisecond, c.onWakeTimerFired)
		c.mu.Unlock()
		return
	}
	reason := c.pendingReason
	c.pendingReason = ""
	c.running = true
	c.mu.Unlock()

	result := c.runWake(context.Background(), reason)

	c.mu.Lock()
	c.running = false
	rearm := false
	var rearmDelay time.Duration
	switch {
	case c.pendingReason != "":
		rearm, rearmDelay = true, defaultCoalesceMs*time.Millisecond
	case result.Status == StatusSkipped && result.Reason == requestsInFlightReason:
		rearm, rearmDelay = true, retryBackoff
		c.pendingReason = reason
	case result.Status == StatusError:
		rearm, rearmDelay = true, retryBackoff
		c.pendingReason = retryReason
	}
	if rearm {
		c.wakeTimer = time.AfterFunc(rearmDelay, c.onWakeTimerFired)
	}
	c.mu.Unlock()
}

// runWake runs the gate sequence and, for agents that pass it, a full
// heartbeat turn. The interval scheduler's "interval" reason fans out to
// every due agent; any other reason (a cron job tag, an exec-completion
// tag) is treated as relevant to every registered agent too, since the
// source tag alone does not name an agent — callers scope reasons to a
// single agent by registering only that agent's state before calling.
func (c *Coordinator) runWake(ctx context.Context, reason string) Result {
	metrics.HeartbeatTicksTotal.Inc()
	c.mu.Lock()
	states := make([]*AgentState, 0, len(c.agents))
	for _, s := range c.agents {
		states = append(states, s)
	}
	c.mu.Unlock()

	now := time.Now()
	var anyRan, anySkippedBusy, anyErr bool
	for _, state := range states {
		if reason == "interval" && state.NextDueMs > now.UnixMilli() {
			continue
		}
		res := c.runAgent(ctx, state, reason, now)
		switch res.Status {
		case StatusRan:
			anyRan = true
		case StatusError:
			anyErr = true
		case StatusSkipped:
			if res.Reason == requestsInFlightReason {
				anySkippedBusy = true
			}
		}
	}

	switch {
	case anyErr:
		return Result{Status: StatusError, Reason: "one or more agents failed"}
	case anyRan:
		return Result{Status: StatusRan}
	case anySkippedBusy:
		return Result{Status: StatusSkipped, Reason: requestsInFlightReason}
	default:
		return Result{Status: StatusSkipped, Reason: "no agent due"}
	}
}

// runAgent evaluates the gate sequence for one agent — including the
// lane-busy, target-resolution, and visibility gates, which need the
// dispatcher and resolver and so live here rather than in evaluateGates —
// and only once every gate has passed does it drain system events, select a
// prompt, dispatch an agent turn on the main lane, and deliver the result
// subject to duplicate suppression. Draining after every gate, not before,
// means a heartbeat skipped for backpressure or a missing target leaves the
// queued events untouched for the next run to pick up.
func (c *Coordinator) runAgent(ctx context.Context, state *AgentState, reason string, now time.Time) Result {
	if gated, res := c.evaluateGates(state, now); !gated {
		return res
	}

	if c.deps.Lanes != nil {
		queued := c.deps.Lanes.QueueSize(lane.Main)
		if queued > 0 {
			return Result{Status: StatusSkipped, Reason: requestsInFlightReason}
		}
	}

	delivery, resolved := c.resolveTarget(state)
	if !resolved {
		return Result{Status: StatusSkipped, Reason: "no delivery target"}
	}

	if !state.Config.Visibility.Permits() {
		c.emitter.Emit("heartbeat.run", map[string]any{"agentId": state.AgentID, "reason": reason, "status": StatusSkipped})
		return Result{Status: StatusSkipped, Reason: "visibility does not permit delivery"}
	}

	sessionEvents := c.drainSystemEvents(state.AgentID)
	prompt := c.selectPrompt(state, sessionEvents)

	text, err := c.dispatch(ctx, state, prompt)
	lastRun := now.UnixMilli()
	state.LastRunMs = &lastRun
	state.computeNextDue(now)

	if err != nil {
		logs.Warn("heartbeat: agent %s run failed: %v", state.AgentID, err)
		c.emitter.Emit("heartbeat.run", map[string]any{"agentId": state.AgentID, "reason": reason, "status": StatusError, "error": err.Error()})
		return Result{Status: StatusError, Reason: err.Error()}
	}

	if text == "" {
		c.emitter.Emit("heartbeat.run", map[string]any{"agentId": state.AgentID, "reason": reason, "status": StatusSkipped})
		return Result{Status: StatusSkipped, Reason: "nothing to deliver"}
	}

	if c.dedup.ShouldSuppress(state.AgentID, state.Config.Target, text) {
		c.emitter.Emit("heartbeat.run", map[string]any{"agentId": state.AgentID, "reason": reason, "status": StatusSkipped, "skipReason": "duplicate"})
		return Result{Status: StatusSkipped, Reason: "duplicate content"}
	}

	if c.deps.Deliverer != nil {
		if err := c.deps.Deliverer.Deliver(ctx, delivery, text); err != nil {
			metrics.HeartbeatDeliveriesTotal.WithLabelValues("error").Inc()
			return Result{Status: StatusError, Reason: err.Error()}
		}
		metrics.HeartbeatDeliveriesTotal.WithLabelValues("ok").Inc()
	}
	c.dedup.Record(state.AgentID, state.Config.Target, text)
	c.emitter.Emit("heartbeat.run", map[string]any{"agentId": state.AgentID, "reason": reason, "status": StatusRan})
	return Result{Status: StatusRan}
}

// evaluateGates runs the gate sequence from §4.D up to (but not including)
// lane-busy/target-resolution/delivery, which need the dispatcher and
// resolver and are checked by the caller.
func (c *Coordinator) evaluateGates(state *AgentState, now time.Time) (bool, Result) {
	if !c.deps.GloballyEnabled() {
		return false, Result{Status: StatusSkipped, Reason: "heartbeats globally disabled"}
	}
	if !state.Config.Enabled {
		return false, Result{Status: StatusSkipped, Reason: "agent heartbeat disabled"}
	}
	if state.IntervalMs <= 0 {
		return false, Result{Status: StatusSkipped, Reason: "invalid interval"}
	}
	if state.Config.ActiveHours != nil {
		within, err := state.Config.ActiveHours.Contains(now)
		if err != nil {
			return false, Result{Status: StatusError, Reason: fmt.Sprintf("active hours: %v", err)}
		}
		if !within {
			return false, Result{Status: StatusSkipped, Reason: "outside active hours"}
		}
	}

	_, hasWork := c.standardContent(state.AgentID)
	hasEvents := c.deps.SysEvents != nil && c.deps.SysEvents.Len(state.AgentID) > 0
	if !hasWork && !hasEvents {
		return false, Result{Status: StatusSkipped, Reason: "nothing to process"}
	}

	return true, Result{}
}

func (c *Coordinator) standardContent(agentID string) (string, bool) {
	if c.deps.Content == nil {
		return "", false
	}
	return c.deps.Content.StandardPrompt(agentID)
}

func (c *Coordinator) drainSystemEvents(agentID string) []sysevent.Event {
	if c.deps.SysEvents == nil {
		return nil
	}
	return c.deps.SysEvents.Drain(agentID)
}

// selectPrompt implements §4.D's priority: cron event > exec-completion
// event > standard prompt, with drained events prepended as
// "System: [hh:mm:ss] <text>" lines.
func (c *Coordinator) selectPrompt(state *AgentState, events []sysevent.Event) string {
	var cronText, execText string
	for _, e := range events {
		if cronText == "" && strings.HasPrefix(e.Text, "cron:") {
			cronText = e.Text
		} else if execText == "" {
			execText = e.Text
		}
	}

	base := state.Config.Prompt
	if base == "" {
		base, _ = c.standardContent(state.AgentID)
	}
	if cronText != "" {
		base = cronText
	} else if execText != "" {
		base = execText
	}

	prefix := ""
	for _, e := range events {
		ts := time.UnixMilli(e.TsMs).Format("15:04:05")
		prefix += fmt.Sprintf("System: [%s] %s\n", ts, e.Text)
	}
	return prefix + base
}

func (c *Coordinator) resolveTarget(state *AgentState) (session.Delivery, bool) {
	if c.deps.Targets == nil {
		return session.Delivery{}, false
	}
	return c.deps.Targets.Resolve(state.AgentID, state.Config.Target)
}

func (c *Coordinator) dispatch(ctx context.Context, state *AgentState, prompt string) (string, error) {
	if c.deps.Executor == nil {
		return "", fmt.Errorf("heartbeat: no agent executor configured")
	}

	run := func(taskCtx context.Context) (any, error) {
		result, err := c.deps.Executor.Run(taskCtx, agentexec.RunRequest{
			SessionID:  state.AgentID,
			SessionKey: fmt.Sprintf("agent:%s:main", state.AgentID),
			Prompt:     prompt,
		})
		if err != nil {
			return "", err
		}
		return result.Text, nil
	}

	if c.deps.Lanes == nil {
		out, err := run(ctx)
		if err != nil {
			return "", err
		}
		return out.(string), nil
	}

	future := c.deps.Lanes.EnqueueInLane(lane.Main, run)
	out, err := future.Wait(ctx)
	if err != nil {
		return "", err
	}
	return out.(string), nil
}

// rearmIntervalTimerLocked must be called with c.mu held. It schedules the
// next wake at clamp(min(nextDueMs) - now, 0, 60s) across every enabled
// agent.
func (c *Coordinator) rearmIntervalTimerLocked() {
	now := time.Now()
	delay := maxIntervalTimer
	found := false
	for _, state := range c.agents {
		if !state.Config.Enabled {
			continue
		}
		d := time.UnixMilli(state.NextDueMs).Sub(now)
		if d < 0 {
			d = 0
		}
		if !found || d < delay {
			delay, found = d, true
		}
	}
	if !found || delay > maxIntervalTimer {
		delay = maxIntervalTimer
	}

	if c.intervalTimer != nil {
		c.intervalTimer.Stop()
	}
	c.intervalTimer = time.AfterFunc(delay, c.onIntervalTimerFired)
}

func (c *Coordinator) onIntervalTimerFired() {
	select {
	case <-c.stopCh:
		return
	default:
	}
	c.requestHeartbeatNow("interval", 0)
	c.mu.Lock()
	c.rearmIntervalTimerLocked()
	c.mu.Unlock()
}
