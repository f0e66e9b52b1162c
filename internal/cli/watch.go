package cli

import (
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/t77yq/alarm-rules/internal/model"
	"github.com/t77yq/alarm-rules/internal/scheduler"
)

func newWatchCommand(a *app) *cobra.Command {
	var plans bool
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Print alarms as alarmd fires them",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			events, closeConn, err := a.connectEvents(ctx)
			if err != nil {
				return err
			}
			defer closeConn()

			// handlers run on the subscription goroutines
			var mu sync.Mutex
			out := cmd.OutOrStdout()
			emit := func(v any, line string) {
				mu.Lock()
				defer mu.Unlock()
				if a.output == outputJSON {
					_ = writeJSON(out, v)
					return
				}
				fmt.Fprintln(out, line)
			}

			err = events.SubscribeFires(ctx, func(e scheduler.FireEvent) {
				emit(e, fmt.Sprintf("%s  fired  %s %s",
					formatTime(e.FiredAt, a.location), e.Alarm.ID, orDash(e.Alarm.Label)))
			})
			if err != nil {
				return err
			}
			if plans {
				err = events.SubscribePlans(ctx, func(p model.TriggerPlan) {
					emit(p, describePlan(&p, a))
				})
				if err != nil {
					return err
				}
			}

			<-ctx.Done()
			return nil
		},
	}
	cmd.Flags().BoolVar(&plans, "plans", false, "Also print every plan the scheduler computes")
	return cmd
}

func describePlan(p *model.TriggerPlan, a *app) string {
	if p.Disarmed {
		return fmt.Sprintf("%s  planned %s disarmed, skipped %s",
			formatTime(p.PlannedAt, a.location), p.AlarmID, formatTime(p.ScheduledFor, a.location))
	}
	return fmt.Sprintf("%s  planned %s fires %s (%d skipped)",
		formatTime(p.PlannedAt, a.location), p.AlarmID, formatTime(p.FireAt, a.location), len(p.Skipped))
}
