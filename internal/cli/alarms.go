package cli

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/t77yq/alarm-rules/internal/codec"
	"github.com/t77yq/alarm-rules/internal/model"
)

func newAlarmsCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "alarms",
		Short: "Manage alarms",
	}
	cmd.AddCommand(newAlarmsListCommand(a))
	cmd.AddCommand(newAlarmsAddCommand(a))
	cmd.AddCommand(newAlarmsDeleteCommand(a))
	cmd.AddCommand(newAlarmsToggleCommand(a, "enable", true))
	cmd.AddCommand(newAlarmsToggleCommand(a, "disable", false))
	return cmd
}

func newAlarmsListCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List alarms by time of day",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			alarms, err := a.alarms.List(cmd.Context())
			if err != nil {
				return err
			}
			if a.output == outputJSON {
				return writeJSON(cmd.OutOrStdout(), alarms)
			}

			rows := make([][]string, 0, len(alarms))
			for _, alarm := range alarms {
				rows = append(rows, []string{
					alarm.ID.String(),
					alarm.Time.String(),
					formatDays(alarm.Days),
					strconv.FormatBool(alarm.Enabled),
					orDash(alarm.Label),
				})
			}
			return table(cmd.OutOrStdout(), []string{"ID", "TIME", "DAYS", "ENABLED", "LABEL"}, rows)
		},
	}
}

func newAlarmsAddCommand(a *app) *cobra.Command {
	var (
		id       string
		at       string
		days     string
		label    string
		disabled bool
	)
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Add or replace an alarm",
		Long: `Add an alarm. Without --days the alarm fires once and switches itself
off afterwards. Passing an existing --id replaces that alarm.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			tod, err := model.ParseTimeOfDay(at)
			if err != nil {
				return err
			}
			weekdays, err := parseDays(days)
			if err != nil {
				return err
			}

			alarm := &model.Alarm{
				ID:      uuid.New(),
				Label:   label,
				Time:    tod,
				Days:    weekdays,
				Enabled: !disabled,
			}
			if id != "" {
				if alarm.ID, err = parseID(id); err != nil {
					return err
				}
			}
			if err := a.alarms.Upsert(cmd.Context(), alarm); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), alarm.ID)
			return a.changed(cmd.Context())
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "Alarm id (default: generated)")
	cmd.Flags().StringVarP(&at, "time", "t", "", "Time of day, HH:MM")
	cmd.Flags().StringVarP(&days, "days", "d", "", "Comma separated weekdays, e.g. mon,tue,fri")
	cmd.Flags().StringVarP(&label, "label", "l", "", "Label")
	cmd.Flags().BoolVar(&disabled, "disabled", false, "Create the alarm switched off")
	_ = cmd.MarkFlagRequired("time")
	return cmd
}

func newAlarmsDeleteCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>...",
		Short: "Delete alarms",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			for _, arg := range args {
				id, err := parseID(arg)
				if err != nil {
					return err
				}
				if err := a.alarms.Delete(cmd.Context(), id); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "deleted alarm %s\n", id)
			}
			return a.changed(cmd.Context())
		},
	}
}

func newAlarmsToggleCommand(a *app, verb string, enabled bool) *cobra.Command {
	return &cobra.Command{
		Use:   verb + " <id>",
		Short: verb + " an alarm",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			if err := a.alarms.SetEnabled(cmd.Context(), id, enabled); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%sd alarm %s\n", verb, id)
			return a.changed(cmd.Context())
		},
	}
}

func parseDays(s string) ([]time.Weekday, error) {
	if strings.TrimSpace(s) == "" {
		return nil, nil
	}
	var days []time.Weekday
	for _, name := range strings.Split(s, ",") {
		day, err := parseDay(strings.TrimSpace(name))
		if err != nil {
			return nil, err
		}
		days = append(days, day)
	}
	return days, nil
}

// parseDay accepts three letter abbreviations as well as full day names
func parseDay(name string) (time.Weekday, error) {
	for day := time.Sunday; day <= time.Saturday; day++ {
		if strings.EqualFold(day.String()[:3], name) {
			return day, nil
		}
	}
	return codec.ParseWeekday(name)
}

func formatDays(days []time.Weekday) string {
	if len(days) == 0 {
		return "once"
	}
	names := make([]string, len(days))
	for i, day := range days {
		names[i] = strings.ToLower(day.String()[:3])
	}
	return strings.Join(names, ",")
}
