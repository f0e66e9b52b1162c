package model

import "time"

// CalendarEvent is an externally supplied calendar entry. Events are fetched per
// evaluation and never stored by the rule engine.
type CalendarEvent struct {
	CalendarID int64     `json:"calendar_id" yaml:"calendar_id"`
	Title      string    `json:"title" yaml:"title"`
	StartTime  time.Time `json:"start_time" yaml:"start"`
	EndTime    time.Time `json:"end_time" yaml:"end"`
	IsAllDay   bool      `json:"is_all_day" yaml:"all_day"`
}
