package codec

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/t77yq/alarm-rules/internal/model"
)

const sampleRules = `
rules:
  - id: 6f1c7f53-8a57-4a43-9d7a-bb51b1f5a1d4
    name: Late meetings
    description: sleep in after late meetings
    target_alarms: [2b0a3c14-64a1-4cf7-9a50-4a3f0a9f61c2]
    calendars: [1, 2]
    criteria:
      type: if_calendar_event_exists
      keywords: [meeting, standup]
      time_range_minutes: 60
    action:
      type: adjust_alarm_time
      time: "08:15"
  - name: Night shift
    enabled: false
    criteria:
      type: shift_work
      cycle_days: 4
      shifts_per_cycle: 2
      start_date: "2024-01-01"
      holiday_handling: postpone_schedule
  - name: Quiet hours
    criteria:
      type: based_on_time
      start: "22:00"
      end: "06:00"
`

func TestParseRuleFile(t *testing.T) {
	loc := time.FixedZone("UTC+8", 8*3600)

	rules, err := ParseRuleFile([]byte(sampleRules), loc)
	require.NoError(t, err)
	require.Len(t, rules, 3)

	meetings := rules[0]
	assert.Equal(t, uuid.MustParse("6f1c7f53-8a57-4a43-9d7a-bb51b1f5a1d4"), meetings.ID)
	assert.True(t, meetings.Enabled)
	assert.Equal(t, []int64{1, 2}, meetings.CalendarIDs)
	assert.Equal(t, []uuid.UUID{uuid.MustParse("2b0a3c14-64a1-4cf7-9a50-4a3f0a9f61c2")}, meetings.TargetAlarmIDs)
	assert.Equal(t, model.IfCalendarEventExists{Keywords: []string{"meeting", "standup"}, TimeRangeMinutes: 60}, meetings.Criteria)
	assert.Equal(t, model.AdjustAlarmTime{NewTime: model.NewTimeOfDay(8, 15)}, meetings.Action)

	shift := rules[1]
	assert.False(t, shift.Enabled)
	assert.Equal(t, model.SkipNextAlarm{}, shift.Action)
	sw, ok := shift.Criteria.(model.ShiftWork)
	require.True(t, ok)
	assert.Equal(t, time.Date(2024, 1, 1, 0, 0, 0, 0, loc).UnixMilli(), sw.StartDate)
	assert.Equal(t, model.HolidayPostponeSchedule, sw.HolidayHandling)

	quiet := rules[2]
	assert.Equal(t, model.BasedOnTime{Start: model.NewTimeOfDay(22, 0), End: model.NewTimeOfDay(6, 0)}, quiet.Criteria)
}

func TestParseRuleFile_StableIDs(t *testing.T) {
	first, err := ParseRuleFile([]byte(sampleRules), time.UTC)
	require.NoError(t, err)
	second, err := ParseRuleFile([]byte(sampleRules), time.UTC)
	require.NoError(t, err)

	for i := range first {
		assert.Equal(t, first[i].ID, second[i].ID)
	}
	assert.NotEqual(t, first[1].ID, first[2].ID)
}

func TestParseRuleFile_Errors(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"missing name", "rules:\n  - criteria: {type: always_true}\n"},
		{"missing criteria type", "rules:\n  - name: a\n"},
		{"unknown criteria", "rules:\n  - name: a\n    criteria: {type: lunar}\n"},
		{"bad window", "rules:\n  - name: a\n    criteria: {type: based_on_time, start: \"25:00\", end: \"06:00\"}\n"},
		{"bad shift", "rules:\n  - name: a\n    criteria: {type: shift_work, cycle_days: 2, shifts_per_cycle: 3, start_date: \"2024-01-01\"}\n"},
		{"bad start date", "rules:\n  - name: a\n    criteria: {type: shift_work, cycle_days: 2, shifts_per_cycle: 1, start_date: tomorrow}\n"},
		{"bad action", "rules:\n  - name: a\n    criteria: {type: always_true}\n    action: {type: adjust_alarm_time}\n"},
		{"bad target", "rules:\n  - name: a\n    target_alarms: [x]\n    criteria: {type: always_true}\n"},
		{"duplicate", "rules:\n  - name: a\n    criteria: {type: always_true}\n  - name: a\n    criteria: {type: always_true}\n"},
		{"not yaml", "rules: [\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseRuleFile([]byte(tt.yaml), time.UTC)
			assert.Error(t, err)
		})
	}
}

func TestLoadRuleFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rules.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sampleRules), 0o600))

	rules, err := LoadRuleFile(path, time.UTC)
	require.NoError(t, err)
	assert.Len(t, rules, 3)

	_, err = LoadRuleFile(filepath.Join(t.TempDir(), "missing.yaml"), time.UTC)
	assert.Error(t, err)
}
