package cli

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/t77yq/alarm-rules/internal/model"
	"github.com/t77yq/alarm-rules/internal/storage"
)

// evaluation is the JSON output of the evaluate command
type evaluation struct {
	At     time.Time            `json:"at"`
	Match  *matchedRule         `json:"match,omitempty"`
	Plans  []*model.TriggerPlan `json:"plans"`
	Errors map[string]string    `json:"errors,omitempty"`
}

type matchedRule struct {
	RuleID uuid.UUID        `json:"rule_id"`
	Name   string           `json:"name"`
	Action model.ActionKind `json:"action"`
}

func newEvaluateCommand(a *app) *cobra.Command {
	var (
		at      string
		alarmID string
	)
	cmd := &cobra.Command{
		Use:   "evaluate",
		Short: "Show which rule matches and when alarms will next fire",
		Long: `Evaluate the stored rules at an instant and plan the next trigger of
every enabled alarm after it, or of a single alarm with --alarm.

--at accepts RFC 3339 or "YYYY-MM-DD HH:MM" in the configured timezone
and defaults to now.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			instant, err := parseInstant(at, a.location)
			if err != nil {
				return err
			}

			var alarms []*model.Alarm
			if alarmID != "" {
				id, err := parseID(alarmID)
				if err != nil {
					return err
				}
				alarm, err := a.alarms.Get(ctx, id)
				if err != nil {
					return err
				}
				alarms = []*model.Alarm{alarm}
			} else {
				all, err := a.alarms.List(ctx)
				if err != nil {
					return err
				}
				for _, alarm := range all {
					if alarm.Enabled {
						alarms = append(alarms, alarm)
					}
				}
			}

			result := &evaluation{At: instant}
			match, err := a.matchAt(cmd, instant)
			if err != nil {
				return err
			}
			result.Match = match

			planner := a.planner()
			for _, alarm := range alarms {
				plan, err := planner.Plan(ctx, alarm, instant)
				if err != nil {
					if result.Errors == nil {
						result.Errors = make(map[string]string)
					}
					result.Errors[alarm.ID.String()] = err.Error()
					continue
				}
				result.Plans = append(result.Plans, plan)
			}

			if a.output == outputJSON {
				return writeJSON(cmd.OutOrStdout(), result)
			}
			return a.printEvaluation(cmd, result)
		},
	}
	cmd.Flags().StringVar(&at, "at", "", "Instant to evaluate at (default now)")
	cmd.Flags().StringVar(&alarmID, "alarm", "", "Only plan this alarm")
	return cmd
}

// matchAt runs the engine over every enabled rule at instant, ignoring targets
func (a *app) matchAt(cmd *cobra.Command, instant time.Time) (*matchedRule, error) {
	list, err := a.rules.List(cmd.Context())
	if err != nil {
		var corrupt *storage.CorruptRulesError
		if !errors.As(err, &corrupt) {
			return nil, err
		}
		fmt.Fprintf(cmd.ErrOrStderr(), "warning: %v\n", err)
	}

	var events []model.CalendarEvent
	if fetcher := a.events(); fetcher != nil {
		events = fetcher.Events(cmd.Context(), nil, instant.Add(-24*time.Hour), instant.Add(24*time.Hour))
	}

	m := a.engine().Match(list, instant, events)
	if m == nil {
		return nil, nil
	}
	return &matchedRule{RuleID: m.Rule.ID, Name: m.Rule.Name, Action: m.Action.Kind()}, nil
}

func (a *app) printEvaluation(cmd *cobra.Command, result *evaluation) error {
	out := cmd.OutOrStdout()
	if result.Match != nil {
		fmt.Fprintf(out, "rule matching at %s: %s (%s)\n\n",
			formatTime(result.At, a.location), result.Match.Name, result.Match.Action)
	} else {
		fmt.Fprintf(out, "no rule matches at %s\n\n", formatTime(result.At, a.location))
	}

	rows := make([][]string, 0, len(result.Plans)+len(result.Errors))
	for _, plan := range result.Plans {
		rule := "-"
		if plan.RuleID != nil {
			rule = plan.RuleID.String()
		}
		fireAt := formatTime(plan.FireAt, a.location)
		if plan.Disarmed {
			fireAt = "disarmed"
		}
		rows = append(rows, []string{
			plan.AlarmID.String(),
			formatTime(plan.ScheduledFor, a.location),
			fireAt,
			orDash(string(plan.Action)),
			rule,
			strconv.Itoa(len(plan.Skipped)),
		})
	}
	for id, msg := range result.Errors {
		rows = append(rows, []string{id, "-", "error: " + msg, "-", "-", "-"})
	}
	return table(out, []string{"ALARM", "SCHEDULED", "FIRES", "ACTION", "RULE", "SKIPPED"}, rows)
}

func parseInstant(s string, loc *time.Location) (time.Time, error) {
	if s == "" {
		return time.Now().In(loc), nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.In(loc), nil
	}
	t, err := time.ParseInLocation("2006-01-02 15:04", s, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid instant %q: use RFC 3339 or YYYY-MM-DD HH:MM", s)
	}
	return t, nil
}
