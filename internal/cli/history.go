package cli

import (
	"strconv"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

func newHistoryCommand(a *app) *cobra.Command {
	var (
		alarmID string
		limit   int
	)
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recent fired and skipped alarm occurrences",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			id := uuid.Nil
			if alarmID != "" {
				var err error
				if id, err = parseID(alarmID); err != nil {
					return err
				}
			}

			records, err := a.history.List(cmd.Context(), id, limit)
			if err != nil {
				return err
			}
			if a.output == outputJSON {
				return writeJSON(cmd.OutOrStdout(), records)
			}

			rows := make([][]string, 0, len(records))
			for _, r := range records {
				fireAt := "-"
				if r.FireAt != nil {
					fireAt = formatTime(*r.FireAt, a.location)
				}
				rule := "-"
				if r.RuleID != nil {
					rule = r.RuleID.String()
				}
				rows = append(rows, []string{
					formatTime(r.RecordedAt, a.location),
					r.AlarmID.String(),
					formatTime(r.ScheduledFor, a.location),
					fireAt,
					strconv.FormatBool(r.Skipped),
					orDash(string(r.Action)),
					rule,
				})
			}
			return table(cmd.OutOrStdout(), []string{"RECORDED", "ALARM", "SCHEDULED", "FIRED", "SKIPPED", "ACTION", "RULE"}, rows)
		},
	}
	cmd.Flags().StringVar(&alarmID, "alarm", "", "Only show this alarm")
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Maximum records, 0 for all")
	return cmd
}
