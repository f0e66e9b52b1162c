package scheduler

import "errors"

var (
	// ErrNoTrigger is returned when an alarm has no occurrence that will fire
	ErrNoTrigger = errors.New("no armable trigger")

	// ErrAlarmDisabled is returned when planning is requested for a disabled alarm
	ErrAlarmDisabled = errors.New("alarm disabled")

	// ErrNotScheduled is returned when an alarm has no cron entry
	ErrNotScheduled = errors.New("alarm not scheduled")
)
