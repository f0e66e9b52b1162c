package rules

import (
	"strings"
	"time"

	"github.com/t77yq/alarm-rules/internal/model"
)

// Option configures an Engine
type Option func(*Engine)

// WithMidnightWrap makes BasedOnTime windows whose start is after their end match
// across midnight (22:00-06:00 covers the night). Without it such windows never match.
func WithMidnightWrap(wrap bool) Option {
	return func(e *Engine) {
		e.wrapMidnight = wrap
	}
}

// Engine evaluates rule criteria against an instant and calendar events.
// It holds no mutable state and is safe for concurrent use.
type Engine struct {
	wrapMidnight bool
}

// NewEngine creates a rule engine
func NewEngine(opts ...Option) *Engine {
	e := &Engine{}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Match identifies the rule that fired and the action it produced
type Match struct {
	Rule   *model.Rule
	Action model.Action
}

// Evaluate reports whether rule's criteria holds at now without calendar data.
// Disabled rules never match. Calendar criteria have no events to match and are false.
func (e *Engine) Evaluate(rule *model.Rule, now time.Time) bool {
	if rule == nil || !rule.Enabled {
		return false
	}
	return e.matches(rule.Criteria, now, nil)
}

// EvaluateRules returns the action of the first enabled rule, in the given order,
// whose criteria matches. It returns nil when no rule matches.
func (e *Engine) EvaluateRules(rules []*model.Rule, now time.Time, events []model.CalendarEvent) model.Action {
	if m := e.Match(rules, now, events); m != nil {
		return m.Action
	}
	return nil
}

// Match is EvaluateRules but also reports which rule fired
func (e *Engine) Match(rules []*model.Rule, now time.Time, events []model.CalendarEvent) *Match {
	for _, rule := range rules {
		if rule == nil || !rule.Enabled {
			continue
		}
		if e.matches(rule.Criteria, now, events) {
			return &Match{Rule: rule, Action: rule.Action}
		}
	}
	return nil
}

func (e *Engine) matches(criteria model.Criteria, now time.Time, events []model.CalendarEvent) bool {
	switch c := criteria.(type) {
	case model.AlwaysTrue:
		return true
	case model.BasedOnTime:
		return e.inWindow(c, now)
	case model.IfCalendarEventExists:
		return calendarMatches(c, now, events)
	case model.ShiftWork:
		return onShift(c, now)
	default:
		return false
	}
}

func (e *Engine) inWindow(c model.BasedOnTime, now time.Time) bool {
	at := model.ClockOffset(now)
	start, end := c.Start.SinceMidnight(), c.End.SinceMidnight()
	if start <= end {
		return at >= start && at <= end
	}
	if !e.wrapMidnight {
		return false
	}
	return at >= start || at <= end
}

func calendarMatches(c model.IfCalendarEventExists, now time.Time, events []model.CalendarEvent) bool {
	window := time.Duration(c.TimeRangeMinutes) * time.Minute
	windowStart, windowEnd := now.Add(-window), now.Add(window)

	for _, event := range events {
		if !keywordMatches(c.Keywords, event.Title) {
			continue
		}
		if c.AllDay {
			if event.IsAllDay {
				return true
			}
			continue
		}
		if !event.StartTime.After(windowEnd) && !event.EndTime.Before(windowStart) {
			return true
		}
	}
	return false
}

func keywordMatches(keywords []string, title string) bool {
	if len(keywords) == 0 {
		return true
	}
	title = strings.ToLower(title)
	for _, keyword := range keywords {
		if strings.Contains(title, strings.ToLower(keyword)) {
			return true
		}
	}
	return false
}

func onShift(c model.ShiftWork, now time.Time) bool {
	if c.CycleDays <= 0 || c.ShiftsPerCycle <= 0 {
		return false
	}
	start := time.UnixMilli(c.StartDate).In(now.Location())
	days := daysBetween(start, now)
	dayInCycle := days % int64(c.CycleDays)
	if dayInCycle < 0 {
		dayInCycle += int64(c.CycleDays)
	}
	return dayInCycle < int64(c.ShiftsPerCycle)
}

const secondsPerDay = 24 * 60 * 60

// daysBetween counts calendar days from a's local date to b's local date
func daysBetween(a, b time.Time) int64 {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	from := time.Date(ay, am, ad, 0, 0, 0, 0, time.UTC)
	to := time.Date(by, bm, bd, 0, 0, 0, 0, time.UTC)
	return (to.Unix() - from.Unix()) / secondsPerDay
}
