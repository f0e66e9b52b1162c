package model

import (
	"slices"
	"time"

	"github.com/google/uuid"
)

// Alarm is a wall-clock alarm, optionally repeating on a set of weekdays
type Alarm struct {
	ID        uuid.UUID      `json:"id"`
	Label     string         `json:"label"`
	Time      TimeOfDay      `json:"time"`
	Days      []time.Weekday `json:"days,omitempty"`
	Enabled   bool           `json:"enabled"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// Repeating reports whether the alarm recurs on weekdays
func (a *Alarm) Repeating() bool {
	return len(a.Days) > 0
}

// NextTrigger returns the first occurrence strictly after the given instant,
// evaluated in after's location
func (a *Alarm) NextTrigger(after time.Time) time.Time {
	for offset := 0; offset <= 7; offset++ {
		candidate := a.Time.On(after.AddDate(0, 0, offset))
		if !candidate.After(after) {
			continue
		}
		if !a.Repeating() || slices.Contains(a.Days, candidate.Weekday()) {
			return candidate
		}
	}
	// unreachable for valid weekdays; keep the zero value as "never"
	return time.Time{}
}

// TriggerPlan is the outcome of planning an alarm's next occurrence. ScheduledFor is
// the occurrence that produced FireAt. Disarmed is set when a one-shot alarm was
// skipped and will not fire.
type TriggerPlan struct {
	AlarmID      uuid.UUID           `json:"alarm_id"`
	ScheduledFor time.Time           `json:"scheduled_for"`
	FireAt       time.Time           `json:"fire_at"`
	Disarmed     bool                `json:"disarmed"`
	RuleID       *uuid.UUID          `json:"rule_id,omitempty"`
	Action       ActionKind          `json:"action,omitempty"`
	Skipped      []SkippedOccurrence `json:"skipped,omitempty"`
	PlannedAt    time.Time           `json:"planned_at"`
}

// SkippedOccurrence records an occurrence suppressed by a rule
type SkippedOccurrence struct {
	ScheduledFor time.Time  `json:"scheduled_for"`
	RuleID       uuid.UUID  `json:"rule_id"`
	Action       ActionKind `json:"action"`
}
