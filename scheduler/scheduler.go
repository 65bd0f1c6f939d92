// Package scheduler turns a duration or a Spec into a long-lived
// background task suitable for lifecycle.Controller.AddBackgroundTask.
//
// Built around a loop that re-arms a time.NewTimer for each run, with
// support for run-immediately and skew-free rescheduling.
package scheduler

import (
	"context"
	"time"

	"gobus/berrors"
)

// Task is the function shape a Scheduler produces: a long-lived coroutine
// that runs until ctx is cancelled or its callable returns an error.
type Task func(ctx context.Context) error

// Spec is the external scheduling collaborator Schedule delegates to: it
// reports how long until the next run, and is told when a run completed.
type Spec interface {
	// Until returns the duration from now until the next scheduled run.
	Until(now time.Time) time.Duration
	// MarkExecuted records that a run completed at now.
	MarkExecuted(now time.Time)
}

// Callable is a user-provided unit of work a scheduled Task invokes.
type Callable func(ctx context.Context) error

// Every builds a Task that runs fn at the given interval. If
// runImmediately, the first call happens at t=0; otherwise at t=duration.
// The next call is scheduled as lastStart+duration, so a call's own
// runtime is accounted for rather than causing drift — unless a call
// overruns the period, in which case the next one runs immediately.
//
// duration == 0 is rejected with berrors.InvalidSchedule.
func Every(duration time.Duration, runImmediately bool, fn Callable) (Task, error) {
	if duration <= 0 {
		return nil, &berrors.InvalidSchedule{Reason: "duration must be positive"}
	}
	return func(ctx context.Context) error {
		next := time.Now().Add(duration)
		if runImmediately {
			if err := fn(ctx); err != nil {
				return err
			}
		}
		for {
			wait := time.Until(next)
			if wait < 0 {
				wait = 0
			}
			timer := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				timer.Stop()
				return nil
			case start := <-timer.C:
				if err := fn(ctx); err != nil {
					return err
				}
				next = start.Add(duration)
			}
		}
	}, nil
}

// Schedule builds a Task that runs fn according to spec. runImmediately has
// the same semantics as Every.
func Schedule(spec Spec, runImmediately bool, fn Callable) (Task, error) {
	if spec == nil {
		return nil, &berrors.InvalidSchedule{Reason: "spec must not be nil"}
	}
	return func(ctx context.Context) error {
		if runImmediately {
			now := time.Now()
			if err := fn(ctx); err != nil {
				return err
			}
			spec.MarkExecuted(now)
		}
		for {
			now := time.Now()
			wait := spec.Until(now)
			if wait < 0 {
				wait = 0
			}
			timer := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				timer.Stop()
				return nil
			case fired := <-timer.C:
				if err := fn(ctx); err != nil {
					return err
				}
				spec.MarkExecuted(fired)
			}
		}
	}, nil
}

// Interval is the minimal Spec implementation this module ships: a fixed
// period with no calendar semantics. Richer schedule kinds (cron
// expressions, calendar rules) are left as an extension point behind the
// Spec interface rather than hand-rolled here.
type Interval struct {
	Period time.Duration
	last   time.Time
}

func (i *Interval) Until(now time.Time) time.Duration {
	if i.last.IsZero() {
		return 0
	}
	return i.last.Add(i.Period).Sub(now)
}

func (i *Interval) MarkExecuted(now time.Time) {
	i.last = now
}
