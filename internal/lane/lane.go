// Package lane implements the Command-Lane Dispatcher: named FIFO lanes with
// independent concurrency ceilings, generalizing the teacher's per-session
// message queue (internal/gateway/message.go) from a single global
// concurrency semaphore into the per-lane drain algorithm the spec requires.
package lane

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	metrics "github.com/openclaw/core/internal/pkg/metrics"
)

// Task is an opaque unit of work submitted to a lane.
type Task func(ctx context.Context) (any, error)

// EnqueueOptions tunes a single enqueue call.
type EnqueueOptions struct {
	// WarnAfterMs, if positive, arms OnWait: once a task has waited at least
	// this long in the queue before starting, OnWait is invoked exactly once
	// for that task.
	WarnAfterMs int64
	OnWait      func(waitMs int64, queuedAhead int)
}

// Future is returned by EnqueueInLane; call Wait to block for the task's
// result or failure.
type Future struct {
	done     chan struct{}
	mu       sync.Mutex
	result   any
	err      error
	resolved bool
}

func newFuture() *Future {
	return &Future{done: make(chan struct{})}
}

func (f *Future) resolve(result any, err error) {
	f.mu.Lock()
	if f.resolved {
		f.mu.Unlock()
		return
	}
	f.result, f.err, f.resolved = result, err, true
	f.mu.Unlock()
	close(f.done)
}

// Wait blocks until the task resolves or ctx is cancelled.
func (f *Future) Wait(ctx context.Context) (any, error) {
	select {
	case <-f.done:
		return f.result, f.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Done reports whether the future has already resolved, without blocking.
func (f *Future) Done() bool {
	select {
	case <-f.done:
		return true
	default:
		return false
	}
}

// Built-in lane names and their default per-lane concurrency ceilings (§4.B,
// §5). Arbitrary lane names are accepted; anything not listed here, and not
// matching the "session:{sessionKey}" convention, defaults to 1.
const (
	Main     = "main"
	Cron     = "cron"
	Subagent = "subagent"
	Nested   = "nested"

	sessionLanePrefix = "session:"
)

var defaultMaxConcurrent = map[string]int{
	Main:     1,
	Cron:     1,
	Subagent: 2,
	Nested:   1,
}

type queuedTask struct {
	task       Task
	future     *Future
	enqueuedAt time.Time
	opts       EnqueueOptions
	warned     bool
}

type laneState struct {
	mu            sync.Mutex
	queue         []*queuedTask
	active        int
	maxConcurrent int
	draining      bool
}

// Dispatcher is the process-wide (or test-scoped) lane registry. The spec
// models this as explicit state created once at startup and passed by
// reference, not a package-level singleton — construct one per runtime.
type Dispatcher struct {
	mu    sync.Mutex
	lanes map[string]*laneState
}

// NewDispatcher constructs an empty Dispatcher. Lane state is created
// lazily on first use, picking up the built-in defaults unless overridden
// via SetMaxConcurrent.
func NewDispatcher() *Dispatcher {
	return &Dispatcher{lanes: make(map[string]*laneState)}
}

func defaultConcurrencyFor(name string) int {
	if n, ok := defaultMaxConcurrent[name]; ok {
		return n
	}
	return 1
}

func (d *Dispatcher) lane(name string) *laneState {
	d.mu.Lock()
	defer d.mu.Unlock()
	l, ok := d.lanes[name]
	if !ok {
		l = &laneState{maxConcurrent: defaultConcurrencyFor(name)}
		d.lanes[name] = l
	}
	return l
}

// SetMaxConcurrent overrides a lane's concurrency ceiling. Safe to call
// before or after the lane has seen traffic; a non-positive n is ignored.
func (d *Dispatcher) SetMaxConcurrent(name string, n int) {
	if n <= 0 {
		return
	}
	l := d.lane(name)
	l.mu.Lock()
	l.maxConcurrent = n
	l.mu.Unlock()
}

// SessionLane builds the conventional "session:{sessionKey}" lane name used
// for per-session serialization.
func SessionLane(sessionKey string) string {
	return sessionLanePrefix + sessionKey
}

// EnqueueInLane enqueues task on lane and returns a future for its result.
// Tasks enqueued on the same lane observe a strict happens-before relation:
// task n+1 begins only after task n has resolved or failed.
func (d *Dispatcher) EnqueueInLane(lane string, task Task, opts ...EnqueueOptions) *Future {
	var o EnqueueOptions
	if len(opts) > 0 {
		o = opts[0]
	}

	l := d.lane(lane)
	qt := &queuedTask{task: task, future: newFuture(), enqueuedAt: time.Now(), opts: o}

	l.mu.Lock()
	l.queue = append(l.queue, qt)
	needPump := !l.draining
	if needPump {
		l.draining = true
	}
	depth := len(l.queue) + l.active
	l.mu.Unlock()
	metrics.LaneQueueDepth.WithLabelValues(lane).Set(float64(depth))

	if needPump {
		go d.pump(lane, l)
	}
	return qt.future
}

// pump drains l while capacity allows, spawning one goroutine per dispatched
// task. It is only ever running under l.draining == true, and the flag
// prevents two pump invocations for the same lane from overlapping.
func (d *Dispatcher) pump(lane string, l *laneState) {
	for {
		l.mu.Lock()
		if l.active >= l.maxConcurrent || len(l.queue) == 0 {
			l.draining = false
			l.mu.Unlock()
			return
		}

		qt := l.queue[0]
		l.queue = l.queue[1:]
		queuedAhead := len(l.queue)
		l.active++
		depth := len(l.queue) + l.active
		l.mu.Unlock()
		metrics.LaneQueueDepth.WithLabelValues(lane).Set(float64(depth))

		if qt.opts.OnWait != nil && qt.opts.WarnAfterMs > 0 {
			waitMs := time.Since(qt.enqueuedAt).Milliseconds()
			if waitMs >= qt.opts.WarnAfterMs {
				qt.opts.OnWait(waitMs, queuedAhead)
			}
		}

		go d.runTask(lane, l, qt)
	}
}

func (d *Dispatcher) runTask(lane string, l *laneState, qt *queuedTask) {
	defer d.afterTaskDone(lane, l)
	started := time.Now()
	var resolveErr error
	defer func() {
		metrics.LaneTaskDuration.WithLabelValues(lane).Observe(time.Since(started).Seconds())
		result := "ok"
		if resolveErr != nil {
			result = "error"
		}
		metrics.LaneTasksTotal.WithLabelValues(lane, result).Inc()
	}()
	defer func() {
		if r := recover(); r != nil {
			resolveErr = fmt.Errorf("lane %s: task panicked: %v", lane, r)
			qt.future.resolve(nil, resolveErr)
		}
	}()

	result, err := qt.task(context.Background())
	resolveErr = err
	qt.future.resolve(result, err)
}

func (d *Dispatcher) afterTaskDone(lane string, l *laneState) {
	l.mu.Lock()
	l.active--
	needPump := !l.draining && len(l.queue) > 0
	if needPump {
		l.draining = true
	}
	depth := len(l.queue) + l.active
	l.mu.Unlock()
	metrics.LaneQueueDepth.WithLabelValues(lane).Set(float64(depth))

	if needPump {
		d.pump(lane, l)
	}
}

// ClearLane drops every pending (not yet started) task on lane, resolving
// each dropped future with an error, and returns how many were dropped.
// In-flight tasks are left to finish.
func (d *Dispatcher) ClearLane(lane string) int {
	l := d.lane(lane)
	l.mu.Lock()
	dropped := l.queue
	l.queue = nil
	l.mu.Unlock()

	for _, qt := range dropped {
		qt.future.resolve(nil, fmt.Errorf("lane %s: cleared before execution", lane))
	}
	return len(dropped)
}

// QueueSize returns a lane's depth: tasks queued plus tasks currently
// executing. This is the signal the Heartbeat Coordinator's backpressure
// gate reads from the main lane.
func (d *Dispatcher) QueueSize(lane string) int {
	l := d.lane(lane)
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.queue) + l.active
}

// IsSessionLane reports whether name follows the "session:{sessionKey}"
// convention.
func IsSessionLane(name string) bool {
	return strings.HasPrefix(name, sessionLanePrefix)
}
