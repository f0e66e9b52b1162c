package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/t77yq/alarm-rules/internal/model"
	"github.com/t77yq/alarm-rules/internal/rules"
	"github.com/t77yq/alarm-rules/internal/storage"
)

type staticRules struct {
	rules []*model.Rule
	err   error
}

func (s *staticRules) List(context.Context) ([]*model.Rule, error) {
	return s.rules, s.err
}

type recordingEvents struct {
	events []model.CalendarEvent
	calls  int
	ids    []int64
	from   time.Time
	to     time.Time
}

func (r *recordingEvents) Events(_ context.Context, ids []int64, from, to time.Time) []model.CalendarEvent {
	r.calls++
	r.ids, r.from, r.to = ids, from, to
	var out []model.CalendarEvent
	for _, e := range r.events {
		if !e.StartTime.After(to) && !e.EndTime.Before(from) {
			out = append(out, e)
		}
	}
	return out
}

// Monday 2024-05-06
func may(day, hour, min int) time.Time {
	return time.Date(2024, 5, day, hour, min, 0, 0, time.UTC)
}

var everyDay = []time.Weekday{
	time.Sunday, time.Monday, time.Tuesday, time.Wednesday, time.Thursday, time.Friday, time.Saturday,
}

func newAlarm(h, m int, days ...time.Weekday) *model.Alarm {
	return &model.Alarm{ID: uuid.New(), Time: model.NewTimeOfDay(h, m), Days: days, Enabled: true}
}

func newTestPlanner(t *testing.T, source RuleSource, events EventSource, opts ...PlannerOption) *Planner {
	t.Helper()
	opts = append([]PlannerOption{WithClock(func() time.Time { return may(6, 0, 0) })}, opts...)
	return NewPlanner(source, events, rules.NewEngine(), zaptest.NewLogger(t), opts...)
}

func TestPlanner_NoRules(t *testing.T) {
	planner := newTestPlanner(t, &staticRules{}, nil)
	alarm := newAlarm(7, 0)

	plan, err := planner.Plan(context.Background(), alarm, may(6, 6, 0))
	require.NoError(t, err)
	assert.Equal(t, alarm.ID, plan.AlarmID)
	assert.Equal(t, may(6, 7, 0), plan.ScheduledFor)
	assert.Equal(t, may(6, 7, 0), plan.FireAt)
	assert.Nil(t, plan.RuleID)
	assert.Empty(t, plan.Skipped)
	assert.False(t, plan.Disarmed)
	assert.Equal(t, may(6, 0, 0), plan.PlannedAt)

	plan, err = planner.Plan(context.Background(), alarm, may(6, 7, 0))
	require.NoError(t, err)
	assert.Equal(t, may(7, 7, 0), plan.FireAt)
}

func TestPlanner_ShiftWorkSkipsOnDays(t *testing.T) {
	rule := model.NewRule("on shift", model.ShiftWork{
		CycleDays:       2,
		ShiftsPerCycle:  1,
		StartDate:       may(6, 0, 0).UnixMilli(),
		HolidayHandling: model.HolidayNormalSchedule,
	})
	planner := newTestPlanner(t, &staticRules{rules: []*model.Rule{rule}}, nil)
	alarm := newAlarm(7, 0, everyDay...)

	plan, err := planner.Plan(context.Background(), alarm, may(6, 6, 0))
	require.NoError(t, err)
	assert.Equal(t, may(7, 7, 0), plan.FireAt)
	require.Len(t, plan.Skipped, 1)
	assert.Equal(t, may(6, 7, 0), plan.Skipped[0].ScheduledFor)
	assert.Equal(t, rule.ID, plan.Skipped[0].RuleID)
	assert.Equal(t, model.ActionSkipNextAlarm, plan.Skipped[0].Action)
}

func TestPlanner_OneShotSkipDisarms(t *testing.T) {
	rule := model.NewRule("always", model.AlwaysTrue{})
	planner := newTestPlanner(t, &staticRules{rules: []*model.Rule{rule}}, nil)
	alarm := newAlarm(7, 0)

	plan, err := planner.Plan(context.Background(), alarm, may(6, 6, 0))
	require.NoError(t, err)
	assert.True(t, plan.Disarmed)
	assert.True(t, plan.FireAt.IsZero())
	assert.Equal(t, may(6, 7, 0), plan.ScheduledFor)
	require.Len(t, plan.Skipped, 1)
}

func TestPlanner_SkipChainLimit(t *testing.T) {
	rule := model.NewRule("always", model.AlwaysTrue{})
	planner := newTestPlanner(t, &staticRules{rules: []*model.Rule{rule}}, nil, WithMaxSkipChain(5))

	_, err := planner.Plan(context.Background(), newAlarm(7, 0, time.Monday, time.Friday), may(6, 6, 0))
	assert.ErrorIs(t, err, ErrNoTrigger)
}

func TestPlanner_AdjustAlarmTime(t *testing.T) {
	rule := model.NewRule("sleep in", model.BasedOnTime{Start: model.NewTimeOfDay(6, 0), End: model.NewTimeOfDay(8, 0)})
	rule.Action = model.AdjustAlarmTime{NewTime: model.NewTimeOfDay(8, 30)}
	planner := newTestPlanner(t, &staticRules{rules: []*model.Rule{rule}}, nil)

	plan, err := planner.Plan(context.Background(), newAlarm(7, 0), may(6, 6, 0))
	require.NoError(t, err)
	assert.Equal(t, may(6, 7, 0), plan.ScheduledFor)
	assert.Equal(t, may(6, 8, 30), plan.FireAt)
	require.NotNil(t, plan.RuleID)
	assert.Equal(t, rule.ID, *plan.RuleID)
	assert.Equal(t, model.ActionAdjustAlarmTime, plan.Action)
}

func TestPlanner_AdjustIntoThePastSkips(t *testing.T) {
	rule := model.NewRule("early", model.AlwaysTrue{})
	rule.Action = model.AdjustAlarmTime{NewTime: model.NewTimeOfDay(5, 0)}
	planner := newTestPlanner(t, &staticRules{rules: []*model.Rule{rule}}, nil)
	alarm := newAlarm(7, 0, everyDay...)

	plan, err := planner.Plan(context.Background(), alarm, may(6, 6, 0))
	require.NoError(t, err)
	assert.Equal(t, may(7, 7, 0), plan.ScheduledFor)
	assert.Equal(t, may(7, 5, 0), plan.FireAt)
	require.Len(t, plan.Skipped, 1)
	assert.Equal(t, model.ActionAdjustAlarmTime, plan.Skipped[0].Action)
}

func TestPlanner_SinceAfterServedOccurrence(t *testing.T) {
	rule := model.NewRule("early", model.AlwaysTrue{})
	rule.Action = model.AdjustAlarmTime{NewTime: model.NewTimeOfDay(6, 0)}
	planner := newTestPlanner(t, &staticRules{rules: []*model.Rule{rule}}, nil)
	alarm := newAlarm(7, 0, everyDay...)

	// Monday's 07:00 occurrence already fired at 06:00
	plan, err := planner.plan(context.Background(), alarm, may(6, 6, 0), may(6, 7, 0))
	require.NoError(t, err)
	assert.Equal(t, may(7, 7, 0), plan.ScheduledFor)
	assert.Equal(t, may(7, 6, 0), plan.FireAt)
	assert.Empty(t, plan.Skipped)
}

func TestPlanner_RuleApplicability(t *testing.T) {
	alarm := newAlarm(7, 0)

	other := model.NewRule("other alarm", model.AlwaysTrue{})
	other.TargetAlarmIDs = []uuid.UUID{uuid.New()}

	disabled := model.NewRule("disabled", model.AlwaysTrue{}).WithEnabled(false)

	adjust := model.NewRule("targeted", model.AlwaysTrue{})
	adjust.TargetAlarmIDs = []uuid.UUID{alarm.ID}
	adjust.Action = model.AdjustAlarmTime{NewTime: model.NewTimeOfDay(9, 0)}

	planner := newTestPlanner(t, &staticRules{rules: []*model.Rule{other, disabled, adjust}}, nil)

	plan, err := planner.Plan(context.Background(), alarm, may(6, 6, 0))
	require.NoError(t, err)
	require.NotNil(t, plan.RuleID)
	assert.Equal(t, adjust.ID, *plan.RuleID)
	assert.Equal(t, may(6, 9, 0), plan.FireAt)
}

func TestPlanner_FirstMatchWins(t *testing.T) {
	adjust := model.NewRule("a", model.AlwaysTrue{})
	adjust.Action = model.AdjustAlarmTime{NewTime: model.NewTimeOfDay(9, 0)}
	skip := model.NewRule("b", model.AlwaysTrue{})

	planner := newTestPlanner(t, &staticRules{rules: []*model.Rule{adjust, skip}}, nil)
	plan, err := planner.Plan(context.Background(), newAlarm(7, 0), may(6, 6, 0))
	require.NoError(t, err)
	assert.False(t, plan.Disarmed)
	assert.Equal(t, may(6, 9, 0), plan.FireAt)

	planner = newTestPlanner(t, &staticRules{rules: []*model.Rule{skip, adjust}}, nil)
	plan, err = planner.Plan(context.Background(), newAlarm(7, 0), may(6, 6, 0))
	require.NoError(t, err)
	assert.True(t, plan.Disarmed)
}

func TestPlanner_DisabledAlarm(t *testing.T) {
	planner := newTestPlanner(t, &staticRules{}, nil)
	alarm := newAlarm(7, 0)
	alarm.Enabled = false

	_, err := planner.Plan(context.Background(), alarm, may(6, 6, 0))
	assert.ErrorIs(t, err, ErrAlarmDisabled)
}

func TestPlanner_ToleratesCorruptRules(t *testing.T) {
	skip := model.NewRule("skip", model.AlwaysTrue{})
	source := &staticRules{
		rules: []*model.Rule{skip},
		err:   &storage.CorruptRulesError{Rules: []storage.CorruptRule{{ID: "bad", Err: errors.New("unknown variant")}}},
	}
	planner := newTestPlanner(t, source, nil)

	plan, err := planner.Plan(context.Background(), newAlarm(7, 0), may(6, 6, 0))
	require.NoError(t, err)
	assert.True(t, plan.Disarmed)
}

func TestPlanner_RuleSourceFailure(t *testing.T) {
	planner := newTestPlanner(t, &staticRules{err: errors.New("database is locked")}, nil)

	_, err := planner.Plan(context.Background(), newAlarm(7, 0), may(6, 6, 0))
	assert.Error(t, err)
	assert.NotErrorIs(t, err, ErrNoTrigger)
}

func TestPlanner_CalendarEvents(t *testing.T) {
	holiday := model.NewRule("holiday", model.IfCalendarEventExists{Keywords: []string{"holiday"}, AllDay: true})
	holiday.CalendarIDs = []int64{2}
	meeting := model.NewRule("meeting", model.IfCalendarEventExists{Keywords: []string{"meeting"}, TimeRangeMinutes: 90})
	meeting.CalendarIDs = []int64{1, 2}
	meeting.Action = model.AdjustAlarmTime{NewTime: model.NewTimeOfDay(6, 0)}

	events := &recordingEvents{events: []model.CalendarEvent{{
		CalendarID: 2,
		Title:      "Bank Holiday",
		StartTime:  may(7, 0, 0),
		EndTime:    may(8, 0, 0),
		IsAllDay:   true,
	}}}
	planner := newTestPlanner(t, &staticRules{rules: []*model.Rule{holiday, meeting}}, events)
	alarm := newAlarm(7, 0, everyDay...)

	plan, err := planner.Plan(context.Background(), alarm, may(6, 6, 0))
	require.NoError(t, err)
	assert.Equal(t, []int64{2, 1}, events.ids)
	assert.Equal(t, may(5, 22, 30), events.from)
	assert.Equal(t, may(7, 1, 30), events.to)
	// the holiday overlaps the widened window but is not on Monday
	assert.Equal(t, may(6, 7, 0), plan.FireAt)
	assert.Empty(t, plan.Skipped)

	plan, err = planner.Plan(context.Background(), alarm, may(6, 7, 0))
	require.NoError(t, err)
	require.Len(t, plan.Skipped, 1)
	assert.Equal(t, may(7, 7, 0), plan.Skipped[0].ScheduledFor)
	assert.Equal(t, holiday.ID, plan.Skipped[0].RuleID)
	assert.Equal(t, may(8, 7, 0), plan.FireAt)
}

func TestPlanner_MeetingAdjusts(t *testing.T) {
	meeting := model.NewRule("meeting", model.IfCalendarEventExists{Keywords: []string{"meeting"}, TimeRangeMinutes: 60})
	meeting.Action = model.AdjustAlarmTime{NewTime: model.NewTimeOfDay(6, 0)}
	events := &recordingEvents{events: []model.CalendarEvent{{
		CalendarID: 9,
		Title:      "Early Meeting",
		StartTime:  may(6, 7, 30),
		EndTime:    may(6, 8, 30),
	}}}
	planner := newTestPlanner(t, &staticRules{rules: []*model.Rule{meeting}}, events)

	plan, err := planner.Plan(context.Background(), newAlarm(7, 0), may(6, 5, 0))
	require.NoError(t, err)
	assert.Nil(t, events.ids)
	assert.Equal(t, may(6, 6, 0), plan.FireAt)
	assert.Equal(t, model.ActionAdjustAlarmTime, plan.Action)
}

func TestPlanner_CalendarNotFetchedWithoutCalendarRules(t *testing.T) {
	events := &recordingEvents{}
	planner := newTestPlanner(t, &staticRules{rules: []*model.Rule{model.NewRule("window", model.BasedOnTime{
		Start: model.NewTimeOfDay(0, 0),
		End:   model.NewTimeOfDay(1, 0),
	})}}, events)

	_, err := planner.Plan(context.Background(), newAlarm(7, 0), may(6, 6, 0))
	require.NoError(t, err)
	assert.Zero(t, events.calls)
}

func TestPlanner_CalendarScopedToRuleCalendars(t *testing.T) {
	work := model.NewRule("work meeting", model.IfCalendarEventExists{Keywords: []string{"meeting"}, TimeRangeMinutes: 60})
	work.CalendarIDs = []int64{7}
	gym := model.NewRule("gym", model.IfCalendarEventExists{Keywords: []string{"gym"}, TimeRangeMinutes: 60})
	gym.CalendarIDs = []int64{3}

	personal := model.CalendarEvent{CalendarID: 3, Title: "Meeting", StartTime: may(6, 6, 30), EndTime: may(6, 7, 30)}
	events := &recordingEvents{events: []model.CalendarEvent{personal}}
	planner := newTestPlanner(t, &staticRules{rules: []*model.Rule{work, gym}}, events)
	alarm := newAlarm(7, 0, everyDay...)

	plan, err := planner.Plan(context.Background(), alarm, may(6, 5, 0))
	require.NoError(t, err)
	assert.ElementsMatch(t, []int64{7, 3}, events.ids)
	assert.Equal(t, may(6, 7, 0), plan.FireAt)
	assert.Empty(t, plan.Skipped)

	office := personal
	office.CalendarID = 7
	events.events = append(events.events, office)

	plan, err = planner.Plan(context.Background(), alarm, may(6, 5, 0))
	require.NoError(t, err)
	require.Len(t, plan.Skipped, 1)
	assert.Equal(t, work.ID, plan.Skipped[0].RuleID)
	assert.Equal(t, may(7, 7, 0), plan.FireAt)
}
