package scheduler

import "time"

const (
	alarmStreamName = "ALARMS"
	alarmSubjects   = "alarm.>"

	planSubjectPrefix = "alarm.plan."
	fireSubjectPrefix = "alarm.fire."

	// PlanSubjects and FireSubjects match the plan and fire events of every alarm
	PlanSubjects = planSubjectPrefix + "*"
	FireSubjects = fireSubjectPrefix + "*"

	// RefreshSubject asks running schedulers to reload alarms and rules
	RefreshSubject = "alarm.cmd.refresh"

	refreshConsumer = "alarm-refresh-consumer"

	streamMaxAge  = 7 * 24 * time.Hour
	streamMaxMsgs = -1

	operationTimeout = 30 * time.Second
	planTimeout      = 10 * time.Second

	defaultMaxSkipChain = 366
)
