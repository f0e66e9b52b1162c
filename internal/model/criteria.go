package model

// CriteriaKind identifies a Criteria variant. The string values are the stable tags
// written to storage and must never change.
type CriteriaKind string

const (
	CriteriaAlwaysTrue            CriteriaKind = "always_true"
	CriteriaBasedOnTime           CriteriaKind = "based_on_time"
	CriteriaIfCalendarEventExists CriteriaKind = "if_calendar_event_exists"
	CriteriaShiftWork             CriteriaKind = "shift_work"
)

// Criteria is the condition deciding when a rule applies. The set of implementations
// is closed: AlwaysTrue, BasedOnTime, IfCalendarEventExists and ShiftWork.
type Criteria interface {
	Kind() CriteriaKind
	isCriteria()
}

// AlwaysTrue matches unconditionally
type AlwaysTrue struct{}

// BasedOnTime matches when the local time of day lies in [Start, End]
type BasedOnTime struct {
	Start TimeOfDay `json:"startTime"`
	End   TimeOfDay `json:"endTime"`
}

// IfCalendarEventExists matches when a supplied calendar event satisfies both the
// keyword filter and the time filter
type IfCalendarEventExists struct {
	Keywords         []string `json:"keywords"`
	TimeRangeMinutes int      `json:"timeRangeMinutes"`
	AllDay           bool     `json:"allDay"`
}

// HolidayHandling selects how holidays affect a shift cycle
type HolidayHandling string

const (
	HolidayNormalSchedule   HolidayHandling = "NORMAL_SCHEDULE"
	HolidayPostponeSchedule HolidayHandling = "POSTPONE_SCHEDULE"
)

// ShiftWork matches on the "on" days of a repeating cycle anchored at StartDate.
// HolidayCalendarIDs and HolidayHandling are carried but not used for matching.
type ShiftWork struct {
	CycleDays          int             `json:"cycleDays"`
	ShiftsPerCycle     int             `json:"shiftsPerCycle"`
	StartDate          int64           `json:"startDate"` // epoch millis
	CurrentShiftIndex  int             `json:"currentShiftIndex"`
	HolidayCalendarIDs []int64         `json:"holidayCalendarIds"`
	HolidayHandling    HolidayHandling `json:"holidayHandling"`
}

func (AlwaysTrue) Kind() CriteriaKind            { return CriteriaAlwaysTrue }
func (BasedOnTime) Kind() CriteriaKind           { return CriteriaBasedOnTime }
func (IfCalendarEventExists) Kind() CriteriaKind { return CriteriaIfCalendarEventExists }
func (ShiftWork) Kind() CriteriaKind             { return CriteriaShiftWork }

func (AlwaysTrue) isCriteria()            {}
func (BasedOnTime) isCriteria()           {}
func (IfCalendarEventExists) isCriteria() {}
func (ShiftWork) isCriteria()             {}
