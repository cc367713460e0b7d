package cron

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/openclaw/core/internal/agentexec"
	"github.com/openclaw/core/internal/coreerr"
	"github.com/openclaw/core/internal/lane"
	"github.com/openclaw/core/internal/pkg/events"
	"github.com/openclaw/core/internal/pkg/logs"
	metrics "github.com/openclaw/core/internal/pkg/metrics"
	"github.com/openclaw/core/internal/session"
	"github.com/openclaw/core/internal/sysevent"
)

const (
	maxTimerDelay          = 60 * time.Second
	defaultJobTimeout      = 10 * time.Minute
	staleRunningThreshold  = 2 * time.Hour
	reaperMinInterval      = 5 * time.Minute
	defaultReaperRetention = 24 * time.Hour
	mainLaneDrainWait      = 2 * time.Minute
	announceChannelLast    = "last"
)

// EventAction tags the job-lifecycle transitions reported through the
// Scheduler's event callback (§4.E "state machine per job").
type EventAction string

const (
	ActionAdded   EventAction = "added"
	ActionUpdated EventAction = "updated"
	ActionRemoved EventAction = "removed"
	ActionStarted EventAction = "started"
)

// HeartbeatRequester lets the scheduler ask the Heartbeat Coordinator to
// wake a main-target agent immediately. sourceTag identifies the cause
// (e.g. "cron:{jobId}") for diagnostics.
type HeartbeatRequester interface {
	RequestHeartbeatNow(sourceTag string)
}

// Deliverer sends a final isolated-job result out through whatever channel
// the job's delivery block names, resolving "last" from the session's
// LastDelivery fields.
type Deliverer interface {
	Deliver(ctx context.Context, channel string, delivery session.Delivery, text string) error
}

// Scheduler owns the persistent cron job table, its timer, and dispatch of
// due jobs through the Command-Lane Dispatcher (§4.E).
type Scheduler struct {
	store      *Store
	sessions   *session.Store
	sysEvents  *sysevent.Queue
	lanes      *lane.Dispatcher
	executor   agentexec.Executor
	heartbeats HeartbeatRequester
	deliverer  Deliverer
	emitter    *events.Emitter

	jobTimeout           time.Duration
	ephemeralRetention    time.Duration // 0 means "never reap"
	maxConcurrentRuns     int

	mu          sync.Mutex
	timer       *time.Timer
	lastReapAt  time.Time
	cancel      context.CancelFunc
	stopped     chan struct{}
}

// Deps bundles the Scheduler's collaborators. Executor, Heartbeats and
// Deliverer are narrow interfaces; Sessions, SysEvents, Lanes and Emitter
// are pointers to the concrete components.
type Deps struct {
	Sessions           *session.Store
	SysEvents          *sysevent.Queue
	Lanes              *lane.Dispatcher
	Executor           agentexec.Executor
	Heartbeats         HeartbeatRequester
	Deliverer          Deliverer
	Emitter            *events.Emitter
	JobTimeout         time.Duration
	EphemeralRetention time.Duration // 0 disables the reaper entirely
	MaxConcurrentRuns  int
}

// NewScheduler constructs a Scheduler backed by storePath.
func NewScheduler(storePath string, deps Deps) *Scheduler {
	emitter := deps.Emitter
	if emitter == nil {
		emitter = events.NewEmitter()
	}
	jobTimeout := deps.JobTimeout
	if jobTimeout <= 0 {
		jobTimeout = defaultJobTimeout
	}
	maxConcurrent := deps.MaxConcurrentRuns
	if maxConcurrent <= 0 {
		maxConcurrent = 1
	}

	s := &Scheduler{
		store:              NewStore(storePath, emitter),
		sessions:           deps.Sessions,
		sysEvents:          deps.SysEvents,
		lanes:              deps.Lanes,
		executor:           deps.Executor,
		heartbeats:         deps.Heartbeats,
		deliverer:          deps.Deliverer,
		emitter:            emitter,
		jobTimeout:         jobTimeout,
		ephemeralRetention: deps.EphemeralRetention,
		maxConcurrentRuns:  maxConcurrent,
	}
	if s.lanes != nil {
		s.lanes.SetMaxConcurrent(lane.Cron, maxConcurrent)
	}
	return s
}

// Start runs the startup recovery sequence from §4.E and arms the timer:
// load, clear stale runningAtMs, replay missed jobs synchronously in
// nextRunAtMs order, compute nextRunAtMs for enabled jobs that have none,
// persist, arm. Enabled jobs that were not replayed and already carry a
// nextRunAtMs keep the persisted value; it is not recomputed.
func (s *Scheduler) Start(ctx context.Context) error {
	if err := s.store.Load(); err != nil {
		return fmt.Errorf("cron: load store: %w", err)
	}

	now := time.Now()
	s.clearStaleRunning(now)

	for _, job := range s.missedJobsInOrder(now) {
		s.runJob(ctx, job, now)
	}

	// Recompute nextRunAtMs for any enabled job that still lacks one (newly
	// added jobs, or ones whose schedule could not be evaluated earlier);
	// jobs just replayed above already got a fresh nextRunAtMs from runJob.
	for _, job := range s.store.List() {
		if !job.Enabled || job.State.NextRunAtMs != nil {
			continue
		}
		next, ok, err := computeNextRunAtMs(&job, time.Now(), time.Now())
		if err != nil {
			logs.Error("cron: recompute next run for %s at startup: %v, disabling", job.ID, err)
			job.Enabled = false
		} else if ok {
			job.State.NextRunAtMs = &next
		}
		s.store.Update(job)
	}

	if err := s.store.Save(); err != nil {
		logs.Error("cron: persist after startup recovery: %v", err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.stopped = make(chan struct{})
	go s.run(runCtx)

	logs.Info("cron: scheduler started with %d job(s)", len(s.store.List()))
	return nil
}

// Stop cancels the timer loop and waits for it to exit.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if s.timer != nil {
		s.timer.Stop()
	}
	cancel := s.cancel
	stopped := s.stopped
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if stopped != nil {
		<-stopped
	}
}

// clearStaleRunning implements the crash-recovery half of startup: a
// runningAtMs older than 2 hours means the process died mid-run, so the
// field is cleared and treated as a completed-with-error run.
func (s *Scheduler) clearStaleRunning(now time.Time) {
	for _, job := range s.store.List() {
		if job.State.RunningAtMs == nil {
			continue
		}
		ranAt := time.UnixMilli(*job.State.RunningAtMs)
		if now.Sub(ranAt) <= staleRunningThreshold {
			continue
		}
		job.State.RunningAtMs = nil
		job.State.LastStatus = StatusError
		job.State.LastError = "scheduler restarted while job was running"
		job.State.ConsecutiveErrors++
		s.store.Update(job)
		logs.Warn("cron: cleared stale runningAtMs for job %s", job.ID)
	}
}

// missedJobsInOrder returns enabled jobs whose nextRunAtMs has already
// passed (or whose "at" target instant has passed), sorted ascending by
// nextRunAtMs so they replay in the order they were due.
func (s *Scheduler) missedJobsInOrder(now time.Time) []Job {
	var missed []Job
	for _, job := range s.store.List() {
		if !job.Enabled || job.State.NextRunAtMs == nil {
			continue
		}
		if *job.State.NextRunAtMs <= now.UnixMilli() {
			missed = append(missed, job)
		}
	}
	sort.Slice(missed, func(i, j int) bool {
		return *missed[i].State.NextRunAtMs < *missed[j].State.NextRunAtMs
	})
	return missed
}

// run is the timer loop: wait for the next wakeup (or an external poke via
// wake), process every due job, recompute the timer, repeat.
func (s *Scheduler) run(ctx context.Context) {
	defer close(s.stopped)

	s.armTimer()
	for {
		s.mu.Lock()
		t := s.timer
		s.mu.Unlock()
		if t == nil {
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-t.C:
			s.tick(ctx)
			s.armTimer()
		}
	}
}

// armTimer schedules the next wakeup at clamp(min(nextRunAtMs) - now, 0,
// 60s), the 60-second ceiling defending against system clock jumps (§4.E).
func (s *Scheduler) armTimer() {
	now := time.Now()
	delay := maxTimerDelay
	found := false
	for _, job := range s.store.List() {
		if !job.Enabled || job.State.NextRunAtMs == nil {
			continue
		}
		d := time.UnixMilli(*job.State.NextRunAtMs).Sub(now)
		if d < 0 {
			d = 0
		}
		if !found || d < delay {
			delay = d
			found = true
		}
	}
	if !found || delay > maxTimerDelay {
		delay = maxTimerDelay
	}

	s.mu.Lock()
	if s.timer != nil {
		s.timer.Stop()
	}
	s.timer = time.NewTimer(delay)
	s.mu.Unlock()
}

// tick marks every due job running and dispatches it onto the cron lane,
// then runs the ephemeral-session reaper.
func (s *Scheduler) tick(ctx context.Context) {
	now := time.Now()
	for _, job := range s.store.List() {
		if !job.Enabled || job.State.RunningAtMs != nil {
			continue
		}
		if job.State.NextRunAtMs == nil || *job.State.NextRunAtMs > now.UnixMilli() {
			continue
		}
		s.dispatch(ctx, job, now)
	}
	s.maybeReap(now)
}

// dispatch marks job running and submits it to the lane.Dispatcher's cron
// lane, wrapped in its own timeout.
func (s *Scheduler) dispatch(ctx context.Context, job Job, now time.Time) {
	runningAt := now.UnixMilli()
	job.State.RunningAtMs = &runningAt
	job.State.NextRunAtMs = nil
	s.store.Update(job)
	s.emitter.Emit("cron.job", map[string]any{"jobId": job.ID, "action": ActionStarted})

	timeout := s.jobTimeout
	if job.Payload.TimeoutSeconds > 0 {
		timeout = time.Duration(job.Payload.TimeoutSeconds) * time.Second
	}

	task := func(taskCtx context.Context) (any, error) {
		runCtx, cancel := context.WithTimeout(taskCtx, timeout)
		defer cancel()
		s.runJob(runCtx, job, time.Now())
		return nil, nil
	}

	if s.lanes != nil {
		s.lanes.EnqueueInLane(lane.Cron, task)
	} else {
		go func() { _, _ = task(ctx) }()
	}
}

// runJob executes one run of job synchronously (used both for the startup
// missed-run replay and for normal lane-dispatched ticks) and records the
// outcome.
func (s *Scheduler) runJob(ctx context.Context, job Job, startedAt time.Time) {
	var runErr error
	switch job.SessionTarget {
	case TargetMain:
		runErr = s.runMainTarget(ctx, &job)
	case TargetIsolated:
		runErr = s.runIsolatedTarget(ctx, &job)
	default:
		runErr = fmt.Errorf("cron: job %s has unknown sessionTarget %q", job.ID, job.SessionTarget)
	}

	endedAt := time.Now()
	job.State.RunningAtMs = nil
	job.State.LastRunAtMs = ptr(endedAt.UnixMilli())
	job.State.LastDurationMs = endedAt.Sub(startedAt).Milliseconds()

	if runErr != nil {
		job.State.LastStatus = StatusError
		job.State.LastError = runErr.Error()
		job.State.ConsecutiveErrors++
		logs.Warn("cron: job %s failed: %v", job.ID, runErr)
	} else {
		job.State.LastStatus = StatusOK
		job.State.LastError = ""
		job.State.ConsecutiveErrors = 0
	}

	metrics.CronJobRunsTotal.WithLabelValues(job.ID, string(job.State.LastStatus)).Inc()
	metrics.CronJobDuration.WithLabelValues(job.ID).Observe(endedAt.Sub(startedAt).Seconds())

	removed := s.rescheduleAfterRun(&job, endedAt)
	if !removed {
		s.store.Update(job)
	}
	if err := s.store.Save(); err != nil {
		logs.Error("cron: persist after run %s: %v", job.ID, err)
	}
	s.emitter.Emit("cron.finished", map[string]any{"jobId": job.ID, "status": job.State.LastStatus})
}

// rescheduleAfterRun applies the schedule-kind-specific next-run formula
// plus backoff clamping, or disables/deletes one-shot "at" jobs. It reports
// removed=true when job was deleted from the store, so the caller must not
// resurrect it with a subsequent store.Update upsert.
func (s *Scheduler) rescheduleAfterRun(job *Job, endedAt time.Time) (removed bool) {
	next, ok, err := computeNextRunAtMs(job, time.Now(), endedAt)
	if err != nil {
		logs.Error("cron: compute next run for %s: %v, disabling", job.ID, err)
		job.Enabled = false
		job.State.NextRunAtMs = nil
		return false
	}
	if !ok {
		// "at" job whose instant has passed: terminal, per §4.E.
		job.Enabled = false
		job.State.NextRunAtMs = nil
		if job.Schedule.Kind == ScheduleAt && job.DeleteAfterRun {
			s.store.Remove(job.ID)
			s.emitter.Emit("cron.job", map[string]any{"jobId": job.ID, "action": ActionRemoved})
			return true
		}
		return false
	}
	job.State.NextRunAtMs = &next
	return false
}

// runMainTarget enqueues a system event into the job's owning session and
// optionally requests an immediate heartbeat wake.
func (s *Scheduler) runMainTarget(ctx context.Context, job *Job) error {
	text := job.Payload.Text
	if text == "" {
		text = "scheduled reminder"
	}

	sessionKey := JobSessionKey(job.ID)
	if s.sysEvents != nil {
		s.sysEvents.Enqueue(sessionKey, text)
	}

	if job.WakeMode == WakeNow && s.heartbeats != nil {
		s.heartbeats.RequestHeartbeatNow(fmt.Sprintf("cron:%s", job.ID))
		if s.lanes != nil {
			waitCtx, cancel := context.WithTimeout(ctx, mainLaneDrainWait)
			defer cancel()
			s.lanes.EnqueueInLane(lane.Main, func(context.Context) (any, error) { return nil, nil }).Wait(waitCtx)
		}
	}
	return nil
}

// runIsolatedTarget mints a fresh run-scoped session key, dispatches an
// agent turn through the Agent Executor Facade, and delivers the result.
func (s *Scheduler) runIsolatedTarget(ctx context.Context, job *Job) error {
	if s.executor == nil {
		return fmt.Errorf("cron: job %s targets an isolated session but no agent executor is configured", job.ID)
	}

	runKey := IsolatedSessionKey(job.ID, uuid.New().String())
	prompt := job.Payload.Message
	if job.Payload.Kind == PayloadSystemEvent {
		prompt = job.Payload.Text
	}

	timeoutMs := int64(defaultJobTimeout / time.Millisecond)
	if job.Payload.TimeoutSeconds > 0 {
		timeoutMs = int64(job.Payload.TimeoutSeconds) * 1000
	}

	result, err := s.executor.Run(ctx, agentexec.RunRequest{
		SessionID:  runKey,
		SessionKey: runKey,
		Prompt:     prompt,
		ThinkLevel: agentexec.ThinkLevel(job.Payload.Thinking),
		TimeoutMs:  timeoutMs,
	})
	if err != nil {
		return fmt.Errorf("agent run: %w", err)
	}

	if job.Delivery == nil || job.Delivery.Mode == DeliveryNone {
		return nil
	}
	return s.deliverResult(ctx, job, result.Text)
}

// deliverResult routes an isolated job's final text according to its
// delivery block, resolving "last" from the session store's last-delivery
// routing on the job's persistent JobSessionKey.
func (s *Scheduler) deliverResult(ctx context.Context, job *Job, text string) error {
	if s.deliverer == nil {
		return coreerr.New(coreerr.CodeInternal, "cron: delivery requested but no deliverer configured")
	}

	channel := job.Delivery.Channel
	delivery := session.Delivery{}
	if strings.EqualFold(channel, announceChannelLast) && s.sessions != nil {
		if entry, ok, err := s.sessions.Get(JobSessionKey(job.ID)); err == nil && ok {
			delivery = entry.LastDelivery
			channel = delivery.Channel
		}
	}

	err := s.deliverer.Deliver(ctx, channel, delivery, text)
	if err != nil && job.Delivery.BestEffort {
		logs.Warn("cron: best-effort delivery for job %s failed: %v", job.ID, err)
		return nil
	}
	return err
}

// maybeReap runs the ephemeral-session reaper at most once per
// reaperMinInterval (§4.E). A zero ephemeralRetention disables reaping.
func (s *Scheduler) maybeReap(now time.Time) {
	if s.ephemeralRetention <= 0 || s.sessions == nil {
		return
	}
	if !s.lastReapAt.IsZero() && now.Sub(s.lastReapAt) < reaperMinInterval {
		return
	}
	s.lastReapAt = now

	cutoff := now.Add(-s.ephemeralRetention).UnixMilli()
	err := s.sessions.Update(func(snapshot map[string]session.Entry) error {
		for key, entry := range snapshot {
			if strings.HasPrefix(key, "cron:") && entry.UpdatedAtMs < cutoff {
				delete(snapshot, key)
			}
		}
		return nil
	})
	if err != nil {
		logs.Error("cron: ephemeral session reaper: %v", err)
	}
}

// AddJob registers a new job, computing its initial nextRunAtMs if absent,
// and persists it.
func (s *Scheduler) AddJob(job Job) error {
	if job.State.NextRunAtMs == nil {
		next, ok, err := computeNextRunAtMs(&job, time.Now(), time.Now())
		if err != nil {
			return fmt.Errorf("cron: compute initial next run: %w", err)
		}
		if ok {
			job.State.NextRunAtMs = &next
		}
	}
	if err := s.store.Add(job); err != nil {
		return err
	}
	if err := s.store.Save(); err != nil {
		return err
	}
	s.emitter.Emit("cron.job", map[string]any{"jobId": job.ID, "action": ActionAdded})
	s.armTimer()
	return nil
}

// RemoveJob deletes a job and persists the change.
func (s *Scheduler) RemoveJob(jobID string) error {
	s.store.Remove(jobID)
	if err := s.store.Save(); err != nil {
		return err
	}
	s.emitter.Emit("cron.job", map[string]any{"jobId": jobID, "action": ActionRemoved})
	s.armTimer()
	return nil
}

// UpdateJob replaces an existing job's definition and persists the change.
func (s *Scheduler) UpdateJob(job Job) error {
	s.store.Update(job)
	if err := s.store.Save(); err != nil {
		return err
	}
	s.emitter.Emit("cron.job", map[string]any{"jobId": job.ID, "action": ActionUpdated})
	s.armTimer()
	return nil
}

// ListJobs returns every registered job.
func (s *Scheduler) ListJobs() []Job {
	return s.store.List()
}

func ptr(v int64) *int64 { return &v }
