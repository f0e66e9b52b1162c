package model

// ActionKind identifies an Action variant by its stable storage tag
type ActionKind string

const (
	ActionSkipNextAlarm   ActionKind = "skip_next_alarm"
	ActionAdjustAlarmTime ActionKind = "adjust_alarm_time"
)

// Action is the effect applied to the next matching alarm trigger. The set of
// implementations is closed: SkipNextAlarm and AdjustAlarmTime.
type Action interface {
	Kind() ActionKind
	isAction()
}

// SkipNextAlarm suppresses the next matching trigger
type SkipNextAlarm struct{}

// AdjustAlarmTime fires the next matching trigger at NewTime instead
type AdjustAlarmTime struct {
	NewTime TimeOfDay `json:"newTime"`
}

func (SkipNextAlarm) Kind() ActionKind   { return ActionSkipNextAlarm }
func (AdjustAlarmTime) Kind() ActionKind { return ActionAdjustAlarmTime }

func (SkipNextAlarm) isAction()   {}
func (AdjustAlarmTime) isAction() {}
