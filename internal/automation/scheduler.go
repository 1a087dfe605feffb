package automation

import (
	"context"
	"fmt"
	"time"
)

// Scheduler selects due scheduled rules and advances their schedule after
// each attempt.
type Scheduler struct {
	store RuleStore
	now   func() time.Time
}

// NewScheduler creates a scheduler over store using the wall clock.
func NewScheduler(store RuleStore) *Scheduler {
	return &Scheduler{store: store, now: time.Now}
}

// SetClock replaces the time source. Intended for tests.
func (s *Scheduler) SetClock(now func() time.Time) {
	s.now = now
}

// Now returns the scheduler's current time in UTC.
func (s *Scheduler) Now() time.Time {
	return s.now().UTC()
}

// DueRules returns every rule due at the current time. The store query is
// re-checked in memory so a store that over-selects cannot run ineligible rules.
func (s *Scheduler) DueRules(ctx context.Context) ([]ExecutionRule, error) {
	now := s.Now()
	rules, err := s.store.GetScheduledRulesDue(ctx, now)
	if err != nil {
		return nil, fmt.Errorf("selecting due rules: %w", err)
	}
	due := rules[:0]
	for _, r := range rules {
		if r.EligibleForSchedule(now) {
			due = append(due, r)
		}
	}
	return due, nil
}

// invalidIntervalBackoff is how far a rule with an unrecognised interval
// is pushed out, so it cannot fire on every sweep.
const invalidIntervalBackoff = 24 * time.Hour

// Advance records an attempt: last run becomes now and next run becomes
// now plus the rule's interval. It is called whether or not the run succeeded.
//
// An unrecognised interval still advances the rule, by invalidIntervalBackoff,
// and returns an error wrapping ErrInvalidInterval.
func (s *Scheduler) Advance(ctx context.Context, rule *ExecutionRule) (ScheduleRun, error) {
	d, valid := rule.ScheduleInterval.Duration()
	if !valid {
		d = invalidIntervalBackoff
	}
	now := s.Now()
	run := ScheduleRun{LastRun: now, NextRun: now.Add(d)}
	if err := s.store.UpdateScheduleRun(ctx, rule.ID, run); err != nil {
		return ScheduleRun{}, fmt.Errorf("advancing schedule for rule %s: %w", rule.ID, err)
	}
	if !valid {
		return run, fmt.Errorf("%w: %q (rule %s backed off until %s)",
			ErrInvalidInterval, rule.ScheduleInterval, rule.ID, run.NextRun.Format(time.RFC3339))
	}
	return run, nil
}
