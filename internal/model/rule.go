package model

import (
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"
)

// ErrInvalidRule is returned when a rule fails validation
var ErrInvalidRule = errors.New("invalid rule")

// Rule binds one Criteria to one Action, scoped to a set of alarms and calendars.
// Rules are values: changing a rule means storing a new value under the same ID.
type Rule struct {
	ID             uuid.UUID
	Name           string
	Description    string
	Enabled        bool
	TargetAlarmIDs []uuid.UUID
	CalendarIDs    []int64
	Criteria       Criteria
	Action         Action
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// NewRule creates an enabled rule with a fresh ID and the default SkipNextAlarm action
func NewRule(name string, criteria Criteria) *Rule {
	return &Rule{
		ID:       uuid.New(),
		Name:     name,
		Enabled:  true,
		Criteria: criteria,
		Action:   SkipNextAlarm{},
	}
}

// Clone returns a copy that shares no slices with r
func (r *Rule) Clone() *Rule {
	c := *r
	c.TargetAlarmIDs = slices.Clone(r.TargetAlarmIDs)
	c.CalendarIDs = slices.Clone(r.CalendarIDs)
	if cal, ok := r.Criteria.(IfCalendarEventExists); ok {
		cal.Keywords = slices.Clone(cal.Keywords)
		c.Criteria = cal
	}
	if sw, ok := r.Criteria.(ShiftWork); ok {
		sw.HolidayCalendarIDs = slices.Clone(sw.HolidayCalendarIDs)
		c.Criteria = sw
	}
	return &c
}

// WithEnabled returns a copy of r with the enabled flag set
func (r *Rule) WithEnabled(enabled bool) *Rule {
	c := r.Clone()
	c.Enabled = enabled
	return c
}

// AppliesTo reports whether the rule targets the alarm. An empty target set
// applies to every alarm.
func (r *Rule) AppliesTo(alarmID uuid.UUID) bool {
	return len(r.TargetAlarmIDs) == 0 || slices.Contains(r.TargetAlarmIDs, alarmID)
}

// Validate rejects configurations the engine cannot evaluate meaningfully
func (r *Rule) Validate() error {
	if r.ID == uuid.Nil {
		return fmt.Errorf("%w: missing id", ErrInvalidRule)
	}
	if r.Criteria == nil {
		return fmt.Errorf("%w: rule %s has no criteria", ErrInvalidRule, r.ID)
	}
	if r.Action == nil {
		return fmt.Errorf("%w: rule %s has no action", ErrInvalidRule, r.ID)
	}

	switch c := r.Criteria.(type) {
	case AlwaysTrue:
	case BasedOnTime:
		if !c.Start.Valid() || !c.End.Valid() {
			return fmt.Errorf("%w: rule %s has an out of range time window", ErrInvalidRule, r.ID)
		}
	case IfCalendarEventExists:
		if c.TimeRangeMinutes < 0 {
			return fmt.Errorf("%w: rule %s has negative timeRangeMinutes %d", ErrInvalidRule, r.ID, c.TimeRangeMinutes)
		}
	case ShiftWork:
		if c.CycleDays <= 0 {
			return fmt.Errorf("%w: rule %s has cycleDays %d, must be positive", ErrInvalidRule, r.ID, c.CycleDays)
		}
		if c.ShiftsPerCycle <= 0 || c.ShiftsPerCycle > c.CycleDays {
			return fmt.Errorf("%w: rule %s has shiftsPerCycle %d, must be in 1..%d",
				ErrInvalidRule, r.ID, c.ShiftsPerCycle, c.CycleDays)
		}
		if c.CurrentShiftIndex < 0 {
			return fmt.Errorf("%w: rule %s has negative currentShiftIndex", ErrInvalidRule, r.ID)
		}
		switch c.HolidayHandling {
		case HolidayNormalSchedule, HolidayPostponeSchedule:
		default:
			return fmt.Errorf("%w: rule %s has unknown holidayHandling %q", ErrInvalidRule, r.ID, c.HolidayHandling)
		}
	default:
		return fmt.Errorf("%w: rule %s has unsupported criteria %T", ErrInvalidRule, r.ID, r.Criteria)
	}

	switch a := r.Action.(type) {
	case SkipNextAlarm:
	case AdjustAlarmTime:
		if !a.NewTime.Valid() {
			return fmt.Errorf("%w: rule %s adjusts to invalid time %s", ErrInvalidRule, r.ID, a.NewTime)
		}
	default:
		return fmt.Errorf("%w: rule %s has unsupported action %T", ErrInvalidRule, r.ID, r.Action)
	}

	return nil
}
