package cli

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/t77yq/alarm-rules/internal/codec"
	"github.com/t77yq/alarm-rules/internal/model"
	"github.com/t77yq/alarm-rules/internal/scheduler"
	"github.com/t77yq/alarm-rules/internal/testutil"
)

const (
	testAlarmID = "2b0a3c14-64a1-4cf7-9a50-4a3f0a9f61c2"
	testRuleID  = "6f1c7f53-8a57-4a43-9d7a-bb51b1f5a1d4"
)

func writeConfig(t *testing.T, extra ...string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := fmt.Sprintf("database:\n  path: %s\nscheduler:\n  timezone: UTC\n", filepath.Join(dir, "alarms.db"))
	content += strings.Join(extra, "\n")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func run(t *testing.T, configPath string, args ...string) (string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	cmd := NewRootCommand()
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(append([]string{"--config", configPath}, args...))
	err := cmd.Execute()
	return out.String(), err
}

func TestAlarmsCommands(t *testing.T) {
	cfg := writeConfig(t)

	out, err := run(t, cfg, "alarms", "add", "--id", testAlarmID, "--time", "07:00", "--days", "mon,Tuesday", "--label", "work")
	require.NoError(t, err)
	assert.Equal(t, testAlarmID, strings.TrimSpace(out))

	out, err = run(t, cfg, "alarms", "add", "--time", "21:30")
	require.NoError(t, err)
	oneShot, err := uuid.Parse(strings.TrimSpace(out))
	require.NoError(t, err)

	out, err = run(t, cfg, "alarms", "list", "-o", "json")
	require.NoError(t, err)
	var alarms []*model.Alarm
	require.NoError(t, json.Unmarshal([]byte(out), &alarms))
	require.Len(t, alarms, 2)
	assert.Equal(t, "work", alarms[0].Label)
	assert.Equal(t, []time.Weekday{time.Monday, time.Tuesday}, alarms[0].Days)
	assert.Equal(t, oneShot, alarms[1].ID)
	assert.Empty(t, alarms[1].Days)

	_, err = run(t, cfg, "alarms", "disable", oneShot.String())
	require.NoError(t, err)

	out, err = run(t, cfg, "alarms", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "mon,tue")
	assert.Contains(t, out, "once")
	assert.Contains(t, out, "false")

	_, err = run(t, cfg, "alarms", "delete", oneShot.String())
	require.NoError(t, err)
	_, err = run(t, cfg, "alarms", "delete", oneShot.String())
	assert.Error(t, err)

	_, err = run(t, cfg, "alarms", "add", "--time", "25:00")
	assert.Error(t, err)
	_, err = run(t, cfg, "alarms", "add", "--time", "07:00", "--days", "someday")
	assert.Error(t, err)
	_, err = run(t, cfg, "alarms", "add")
	assert.Error(t, err)
}

func TestRulesAndEvaluate(t *testing.T) {
	cfg := writeConfig(t)

	_, err := run(t, cfg, "alarms", "add", "--id", testAlarmID, "--time", "07:00", "--days", "mon,tue,wed,thu,fri")
	require.NoError(t, err)

	rulesFile := filepath.Join(t.TempDir(), "rules.yaml")
	require.NoError(t, os.WriteFile(rulesFile, []byte(`
rules:
  - id: `+testRuleID+`
    name: Sleep in
    target_alarms: [`+testAlarmID+`]
    criteria:
      type: always_true
    action:
      type: adjust_alarm_time
      time: "08:30"
`), 0o600))

	out, err := run(t, cfg, "rules", "apply", "-f", rulesFile)
	require.NoError(t, err)
	assert.Contains(t, out, "applied 1 rules")

	out, err = run(t, cfg, "rules", "list", "-o", "json")
	require.NoError(t, err)
	var docs []*codec.RuleDocument
	require.NoError(t, json.Unmarshal([]byte(out), &docs))
	require.Len(t, docs, 1)
	assert.Equal(t, "Sleep in", docs[0].Name)
	assert.JSONEq(t, `{"type":"adjust_alarm_time","data":{"newTime":"08:30"}}`, string(docs[0].Action))

	out, err = run(t, cfg, "rules", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "adjust_alarm_time 08:30")

	// 2026-10-19 is a Monday
	out, err = run(t, cfg, "evaluate", "--alarm", testAlarmID, "--at", "2026-10-19 06:00", "-o", "json")
	require.NoError(t, err)
	var result evaluation
	require.NoError(t, json.Unmarshal([]byte(out), &result))
	require.NotNil(t, result.Match)
	assert.Equal(t, "Sleep in", result.Match.Name)
	require.Len(t, result.Plans, 1)
	assert.True(t, time.Date(2026, 10, 19, 7, 0, 0, 0, time.UTC).Equal(result.Plans[0].ScheduledFor))
	assert.True(t, time.Date(2026, 10, 19, 8, 30, 0, 0, time.UTC).Equal(result.Plans[0].FireAt))
	assert.Equal(t, model.ActionAdjustAlarmTime, result.Plans[0].Action)

	_, err = run(t, cfg, "rules", "disable", testRuleID)
	require.NoError(t, err)

	out, err = run(t, cfg, "evaluate", "--at", "2026-10-19T06:00:00Z", "-o", "json")
	require.NoError(t, err)
	result = evaluation{}
	require.NoError(t, json.Unmarshal([]byte(out), &result))
	assert.Nil(t, result.Match)
	require.Len(t, result.Plans, 1)
	assert.True(t, time.Date(2026, 10, 19, 7, 0, 0, 0, time.UTC).Equal(result.Plans[0].FireAt))
	assert.Nil(t, result.Plans[0].RuleID)

	out, err = run(t, cfg, "evaluate", "--at", "2026-10-19 06:00")
	require.NoError(t, err)
	assert.Contains(t, out, "no rule matches")
	assert.Contains(t, out, testAlarmID)

	out, err = run(t, cfg, "rules", "show", testRuleID)
	require.NoError(t, err)
	assert.Contains(t, out, `"enabled": false`)

	_, err = run(t, cfg, "rules", "delete", testRuleID)
	require.NoError(t, err)
	_, err = run(t, cfg, "rules", "show", testRuleID)
	assert.Error(t, err)
}

func TestHistoryCommand(t *testing.T) {
	cfg := writeConfig(t)

	out, err := run(t, cfg, "history")
	require.NoError(t, err)
	assert.Contains(t, out, "RECORDED")

	_, err = run(t, cfg, "history", "--alarm", "not-a-uuid")
	assert.Error(t, err)
}

func TestNotifyCommand(t *testing.T) {
	s, js, cleanup := testutil.StartJetStream(t)
	defer cleanup()
	_, err := js.AddStream(&nats.StreamConfig{
		Name:     "ALARMS",
		Subjects: []string{"alarm.>"},
		Storage:  nats.MemoryStorage,
	})
	require.NoError(t, err)
	refresh := testutil.Collect(t, js, scheduler.RefreshSubject)

	cfg := writeConfig(t, "nats:\n  urls: [\""+s.ClientURL()+"\"]\n  connect_retries: 1\n")

	out, err := run(t, cfg, "alarms", "add", "--time", "06:45", "--notify")
	require.NoError(t, err)
	_, err = uuid.Parse(strings.TrimSpace(out))
	require.NoError(t, err)

	select {
	case msg := <-refresh:
		assert.Equal(t, scheduler.RefreshSubject, msg.Subject)
	case <-time.After(5 * time.Second):
		t.Fatal("refresh command not published")
	}

	out, err = run(t, cfg, "notify")
	require.NoError(t, err)
	assert.Contains(t, out, "refresh requested")

	select {
	case <-refresh:
	case <-time.After(5 * time.Second):
		t.Fatal("refresh command not published")
	}
}

func TestInvalidInvocations(t *testing.T) {
	cfg := writeConfig(t)

	_, err := run(t, cfg, "alarms", "list", "-o", "yaml")
	assert.Error(t, err)

	_, err = run(t, cfg, "evaluate", "--at", "tomorrow")
	assert.Error(t, err)

	_, err = run(t, cfg, "rules", "apply", "-f", filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	_, err = run(t, filepath.Join(t.TempDir(), "missing.yaml"), "alarms", "list")
	assert.Error(t, err)
}
