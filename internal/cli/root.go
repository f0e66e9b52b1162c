package cli

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/t77yq/alarm-rules/internal/calendar"
	"github.com/t77yq/alarm-rules/internal/config"
	"github.com/t77yq/alarm-rules/internal/logging"
	"github.com/t77yq/alarm-rules/internal/natsutil"
	"github.com/t77yq/alarm-rules/internal/rules"
	"github.com/t77yq/alarm-rules/internal/scheduler"
	"github.com/t77yq/alarm-rules/internal/service"
	"github.com/t77yq/alarm-rules/internal/storage"
)

const (
	outputTable = "table"
	outputJSON  = "json"
)

// app carries the state shared by every subcommand of one invocation
type app struct {
	configPath string
	output     string
	verbose    bool
	notify     bool

	cfg      *config.Config
	location *time.Location
	logger   *zap.Logger
	db       *sql.DB
	rules    *storage.SQLiteRuleStore
	alarms   *storage.SQLiteAlarmStore
	history  *storage.SQLiteTriggerHistory
}

// NewRootCommand builds the alarmctl command tree
func NewRootCommand() *cobra.Command {
	a := &app{}

	root := &cobra.Command{
		Use:   "alarmctl",
		Short: "Manage alarms and the rules that skip or move them",
		Long: `alarmctl edits the alarm and rule database shared with alarmd.

Rules are applied from YAML files and evaluated in name order; the first
enabled rule whose criteria matches an alarm occurrence decides whether it
is skipped or moved.

Examples:
  alarmctl alarms add --time 07:00 --days mon,tue,wed,thu,fri --label work
  alarmctl rules apply -f rules.yaml --notify
  alarmctl evaluate --alarm <id> --at 2026-10-19T06:00:00+08:00`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.open()
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			a.close()
		},
	}

	flags := root.PersistentFlags()
	flags.StringVarP(&a.configPath, "config", "c", "", "Configuration file (default ./config/config.yaml)")
	flags.StringVarP(&a.output, "output", "o", outputTable, "Output format: table or json")
	flags.BoolVarP(&a.verbose, "verbose", "v", false, "Log debug output to stderr")
	flags.BoolVar(&a.notify, "notify", false, "Ask a running alarmd to re-plan after changes")

	root.AddCommand(newRulesCommand(a))
	root.AddCommand(newAlarmsCommand(a))
	root.AddCommand(newEvaluateCommand(a))
	root.AddCommand(newHistoryCommand(a))
	root.AddCommand(newNotifyCommand(a))
	root.AddCommand(newWatchCommand(a))
	return root
}

// Execute runs alarmctl with the process arguments
func Execute() error {
	return NewRootCommand().Execute()
}

func (a *app) open() error {
	if a.output != outputTable && a.output != outputJSON {
		return fmt.Errorf("unknown output format %q", a.output)
	}

	cfg, err := config.Load(a.configPath)
	if err != nil {
		return err
	}
	a.cfg = cfg
	if a.location, err = cfg.Location(); err != nil {
		return err
	}

	level := "warn"
	if a.verbose {
		level = "debug"
	}
	if a.logger, err = logging.New(level, "console", ""); err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}

	if a.db, err = storage.Open(cfg.Database.Path); err != nil {
		return err
	}
	if a.rules, err = storage.NewSQLiteRuleStore(a.logger, a.db); err != nil {
		return err
	}
	if a.alarms, err = storage.NewSQLiteAlarmStore(a.logger, a.db); err != nil {
		return err
	}
	if a.history, err = storage.NewSQLiteTriggerHistory(a.logger, a.db); err != nil {
		return err
	}
	return nil
}

func (a *app) close() {
	if a.db != nil {
		_ = a.db.Close()
	}
	if a.logger != nil {
		_ = a.logger.Sync()
	}
}

// events returns the configured calendar source, or nil when none is set
func (a *app) events() *calendar.Fetcher {
	if a.cfg.Calendar.File == "" {
		return nil
	}
	return calendar.NewFetcher(calendar.NewFileProvider(a.cfg.Calendar.File), a.logger, a.cfg.Calendar.Timeout)
}

func (a *app) engine() *rules.Engine {
	return rules.NewEngine(rules.WithMidnightWrap(a.cfg.Engine.WrapMidnight))
}

func (a *app) planner() *scheduler.Planner {
	var events scheduler.EventSource
	if fetcher := a.events(); fetcher != nil {
		events = fetcher
	}
	return scheduler.NewPlanner(a.rules, events, a.engine(), a.logger,
		scheduler.WithMaxSkipChain(a.cfg.Scheduler.MaxSkipChain))
}

// changed publishes a refresh command when --notify is set
func (a *app) changed(ctx context.Context) error {
	if !a.notify {
		return nil
	}
	return a.publishRefresh(ctx)
}

// connectEvents connects to NATS; the returned close func releases the connection
func (a *app) connectEvents(ctx context.Context) (*service.EventService, func(), error) {
	nc, err := natsutil.Connect(ctx, "alarmctl", a.cfg.NATS, nil, a.logger)
	if err != nil {
		return nil, nil, err
	}

	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}
	return service.NewEventService(js, a.logger), nc.Close, nil
}

func (a *app) publishRefresh(ctx context.Context) error {
	events, closeConn, err := a.connectEvents(ctx)
	if err != nil {
		return err
	}
	defer closeConn()
	return events.RequestRefresh(ctx)
}

func newNotifyCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "notify",
		Short: "Ask a running alarmd to reload alarms and rules",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.publishRefresh(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "refresh requested")
			return nil
		},
	}
}
