package cron

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

// cronParser is a standard 5-field cron expression parser (minute hour dom
// month dow), matching the boundary test in §8 ("0 9 * * MON-FRI").
var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// backoffSteps is the exponential retry table from §4.E: 30s, 60s, 5min,
// 15min, 60min, with the last value reused for every consecutiveErrors >= 5.
var backoffSteps = []time.Duration{
	30 * time.Second,
	60 * time.Second,
	5 * time.Minute,
	15 * time.Minute,
	60 * time.Minute,
}

// backoffDelay returns the retry delay for the given consecutive error count.
func backoffDelay(consecutiveErrors int) time.Duration {
	idx := consecutiveErrors - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(backoffSteps) {
		idx = len(backoffSteps) - 1
	}
	return backoffSteps[idx]
}

// naturalNext computes a job's next run time ignoring backoff, per the three
// schedule kinds in §4.E. lastEndedAt is the time the previous run
// completed (or the job's creation time if it has never run); ok is false
// for an "at" job whose target instant has already passed, signalling the
// caller should disable (or delete) the job instead of rescheduling it.
func naturalNext(job *Job, now, lastEndedAt time.Time) (nextMs int64, ok bool, err error) {
	switch job.Schedule.Kind {
	case ScheduleAt:
		at := time.UnixMilli(job.Schedule.AtMs)
		if !at.After(now) {
			return 0, false, nil
		}
		return at.UnixMilli(), true, nil

	case ScheduleEvery:
		if job.Schedule.EveryMs <= 0 {
			return 0, false, fmt.Errorf("cron: every.everyMs must be positive, got %d", job.Schedule.EveryMs)
		}
		every := time.Duration(job.Schedule.EveryMs) * time.Millisecond
		if job.Schedule.AnchorMs == nil {
			return lastEndedAt.Add(every).UnixMilli(), true, nil
		}
		anchor := time.UnixMilli(*job.Schedule.AnchorMs)
		elapsed := now.Sub(anchor)
		ticks := elapsed / every
		if elapsed%every != 0 || elapsed < 0 {
			ticks++
		}
		next := anchor.Add(ticks * every)
		return next.UnixMilli(), true, nil

	case ScheduleCron:
		loc := time.UTC
		if job.Schedule.TZ != "" {
			l, err := time.LoadLocation(job.Schedule.TZ)
			if err != nil {
				return 0, false, fmt.Errorf("cron: load tz %q: %w", job.Schedule.TZ, err)
			}
			loc = l
		}

		sched, err := cronParser.Parse(job.Schedule.Expr)
		if err != nil {
			return 0, false, fmt.Errorf("cron: parse expr %q: %w", job.Schedule.Expr, err)
		}

		floored := now.Truncate(time.Second)
		next := sched.Next(floored.In(loc))
		return next.UnixMilli(), true, nil

	default:
		return 0, false, fmt.Errorf("cron: unknown schedule kind %q", job.Schedule.Kind)
	}
}

// computeNextRunAtMs applies naturalNext and then, if the job's last run
// failed, clamps the result forward by the backoff table: final
// nextRunAtMs = max(naturalNext, endedAt + backoff(consecutiveErrors)).
func computeNextRunAtMs(job *Job, now, lastEndedAt time.Time) (nextMs int64, ok bool, err error) {
	next, ok, err := naturalNext(job, now, lastEndedAt)
	if err != nil || !ok {
		return next, ok, err
	}

	if job.State.ConsecutiveErrors > 0 {
		backoff := lastEndedAt.Add(backoffDelay(job.State.ConsecutiveErrors)).UnixMilli()
		if backoff > next {
			next = backoff
		}
	}
	return next, true, nil
}
