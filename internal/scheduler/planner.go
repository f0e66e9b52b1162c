package scheduler

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"go.uber.org/zap"

	"github.com/t77yq/alarm-rules/internal/model"
	"github.com/t77yq/alarm-rules/internal/rules"
	"github.com/t77yq/alarm-rules/internal/storage"
)

// PlannerOption configures a Planner
type PlannerOption func(*Planner)

// WithMaxSkipChain bounds how many consecutive occurrences rules may skip before
// a repeating alarm is reported as having no trigger
func WithMaxSkipChain(n int) PlannerOption {
	return func(p *Planner) {
		if n > 0 {
			p.maxSkipChain = n
		}
	}
}

// WithClock overrides the clock used to stamp plans
func WithClock(now func() time.Time) PlannerOption {
	return func(p *Planner) {
		p.now = now
	}
}

// Planner decides when an alarm next fires by applying the first matching rule
// to each upcoming occurrence
type Planner struct {
	logger       *zap.Logger
	rules        RuleSource
	events       EventSource
	engine       *rules.Engine
	maxSkipChain int
	now          func() time.Time
}

// NewPlanner creates a planner. events may be nil when no calendar is configured.
func NewPlanner(ruleSource RuleSource, events EventSource, engine *rules.Engine, logger *zap.Logger, opts ...PlannerOption) *Planner {
	p := &Planner{
		logger:       logger.Named("planner"),
		rules:        ruleSource,
		events:       events,
		engine:       engine,
		maxSkipChain: defaultMaxSkipChain,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Plan returns the next trigger of alarm strictly after the given instant
func (p *Planner) Plan(ctx context.Context, alarm *model.Alarm, after time.Time) (*model.TriggerPlan, error) {
	return p.plan(ctx, alarm, after, after)
}

// plan considers occurrences strictly after since and only fires strictly after
// after. since runs ahead of after once an adjusted trigger fired before its
// own occurrence.
func (p *Planner) plan(ctx context.Context, alarm *model.Alarm, after, since time.Time) (*model.TriggerPlan, error) {
	if !alarm.Enabled {
		return nil, fmt.Errorf("%w: %s", ErrAlarmDisabled, alarm.ID)
	}
	if since.Before(after) {
		since = after
	}

	applicable, err := p.applicableRules(ctx, alarm)
	if err != nil {
		return nil, err
	}

	plan := &model.TriggerPlan{
		AlarmID:   alarm.ID,
		PlannedAt: p.now(),
	}
	cursor := since
	for skips := 0; skips <= p.maxSkipChain; skips++ {
		candidate := alarm.NextTrigger(cursor)
		if candidate.IsZero() {
			return nil, fmt.Errorf("%w: alarm %s has no occurrence after %s", ErrNoTrigger, alarm.ID, cursor)
		}

		match := p.match(applicable, candidate, p.eventsFor(ctx, applicable, candidate))
		if match == nil {
			plan.ScheduledFor = candidate
			plan.FireAt = candidate
			return plan, nil
		}

		ruleID := match.Rule.ID
		if adjust, ok := match.Action.(model.AdjustAlarmTime); ok {
			fireAt := adjust.NewTime.On(candidate)
			if fireAt.After(after) {
				plan.ScheduledFor = candidate
				plan.FireAt = fireAt
				plan.RuleID = &ruleID
				plan.Action = match.Action.Kind()
				return plan, nil
			}
		}

		p.logger.Debug("Rule skipped occurrence",
			zap.String("alarm_id", alarm.ID.String()),
			zap.String("rule_id", ruleID.String()),
			zap.String("action", string(match.Action.Kind())),
			zap.Time("scheduled_for", candidate))
		plan.Skipped = append(plan.Skipped, model.SkippedOccurrence{
			ScheduledFor: candidate,
			RuleID:       ruleID,
			Action:       match.Action.Kind(),
		})

		if !alarm.Repeating() {
			plan.ScheduledFor = candidate
			plan.Disarmed = true
			return plan, nil
		}
		cursor = candidate
	}

	return nil, fmt.Errorf("%w: alarm %s skipped %d consecutive occurrences",
		ErrNoTrigger, alarm.ID, len(plan.Skipped))
}

// match applies the rules in order, each seeing only the events of its own
// calendars, and returns the first match
func (p *Planner) match(applicable []*model.Rule, at time.Time, events []model.CalendarEvent) *rules.Match {
	for _, rule := range applicable {
		if m := p.engine.Match([]*model.Rule{rule}, at, scoped(rule.CalendarIDs, events)); m != nil {
			return m
		}
	}
	return nil
}

// scoped keeps the events from calendarIDs. No ids means every event.
func scoped(calendarIDs []int64, events []model.CalendarEvent) []model.CalendarEvent {
	if len(calendarIDs) == 0 {
		return events
	}
	var out []model.CalendarEvent
	for _, event := range events {
		if slices.Contains(calendarIDs, event.CalendarID) {
			out = append(out, event)
		}
	}
	return out
}

// applicableRules loads one rule snapshot and keeps the enabled rules targeting
// alarm, preserving store order
func (p *Planner) applicableRules(ctx context.Context, alarm *model.Alarm) ([]*model.Rule, error) {
	all, err := p.rules.List(ctx)
	if err != nil {
		var corrupt *storage.CorruptRulesError
		if !errors.As(err, &corrupt) {
			return nil, fmt.Errorf("failed to load rules: %w", err)
		}
		for _, r := range corrupt.Rules {
			p.logger.Warn("Excluding rule that failed to decode",
				zap.String("rule_id", r.ID),
				zap.Error(r.Err))
		}
	}

	var applicable []*model.Rule
	for _, rule := range all {
		if rule.Enabled && rule.AppliesTo(alarm.ID) {
			applicable = append(applicable, rule)
		}
	}
	return applicable, nil
}

// eventsFor fetches the events calendar rules may consult for an occurrence: the
// occurrence's whole day widened by the largest rule time range
func (p *Planner) eventsFor(ctx context.Context, applicable []*model.Rule, at time.Time) []model.CalendarEvent {
	if p.events == nil {
		return nil
	}

	var (
		ids       []int64
		allIDs    bool
		needed    bool
		widestMin int
	)
	seen := make(map[int64]struct{})
	for _, rule := range applicable {
		c, ok := rule.Criteria.(model.IfCalendarEventExists)
		if !ok {
			continue
		}
		needed = true
		if c.TimeRangeMinutes > widestMin {
			widestMin = c.TimeRangeMinutes
		}
		if len(rule.CalendarIDs) == 0 {
			allIDs = true
		}
		for _, id := range rule.CalendarIDs {
			if _, dup := seen[id]; !dup {
				seen[id] = struct{}{}
				ids = append(ids, id)
			}
		}
	}
	if !needed {
		return nil
	}
	if allIDs {
		ids = nil
	}

	widen := time.Duration(widestMin) * time.Minute
	dayStart := model.TimeOfDay{}.On(at)
	from := dayStart.Add(-widen)
	to := dayStart.AddDate(0, 0, 1).Add(widen)

	// all-day events only count on the days they cover; the widened window would
	// otherwise pull in the neighbouring days' events
	var events []model.CalendarEvent
	for _, event := range p.events.Events(ctx, ids, from, to) {
		if event.IsAllDay && (event.StartTime.After(at) || !event.EndTime.After(at)) {
			continue
		}
		events = append(events, event)
	}
	return events
}
