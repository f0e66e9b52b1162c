package scheduler

import (
	"context"
	"time"

	"github.com/t77yq/alarm-rules/internal/model"
)

// RuleSource provides the rule snapshot for a planning pass. storage.RuleStore
// satisfies it; a *storage.CorruptRulesError alongside rules is tolerated.
type RuleSource interface {
	List(ctx context.Context) ([]*model.Rule, error)
}

// EventSource provides calendar events for a window. It never fails; a source
// that cannot reach its calendar returns no events.
type EventSource interface {
	Events(ctx context.Context, calendarIDs []int64, from, to time.Time) []model.CalendarEvent
}
