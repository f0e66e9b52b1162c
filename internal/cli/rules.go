package cli

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/t77yq/alarm-rules/internal/codec"
	"github.com/t77yq/alarm-rules/internal/model"
)

func newRulesCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rules",
		Short: "List, apply and remove alarm rules",
	}
	cmd.AddCommand(newRulesListCommand(a))
	cmd.AddCommand(newRulesShowCommand(a))
	cmd.AddCommand(newRulesApplyCommand(a))
	cmd.AddCommand(newRulesDeleteCommand(a))
	cmd.AddCommand(newRulesToggleCommand(a, "enable", true))
	cmd.AddCommand(newRulesToggleCommand(a, "disable", false))
	return cmd
}

func newRulesListCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List rules in evaluation order",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			// rules that fail to decode are reported but do not hide the rest
			list, listErr := a.rules.List(cmd.Context())
			if list == nil && listErr != nil {
				return listErr
			}
			if err := a.printRules(cmd, list); err != nil {
				return err
			}
			return listErr
		},
	}
}

func newRulesShowCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show one rule as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			rule, err := a.rules.Get(cmd.Context(), id)
			if err != nil {
				return err
			}
			doc, err := codec.ToDocument(rule)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), doc)
		},
	}
}

func newRulesApplyCommand(a *app) *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "apply",
		Short: "Create or replace rules from a YAML file",
		Long: `Create or replace every rule defined in a YAML rule file. Rules are
matched by id; a rule without an id gets one derived from its name, so
applying the same file twice is idempotent.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			parsed, err := codec.LoadRuleFile(file, a.location)
			if err != nil {
				return err
			}
			for _, rule := range parsed {
				if err := a.rules.Upsert(cmd.Context(), rule); err != nil {
					return fmt.Errorf("failed to apply rule %q: %w", rule.Name, err)
				}
			}
			fmt.Fprintf(cmd.OutOrStdout(), "applied %d rules from %s\n", len(parsed), file)
			return a.changed(cmd.Context())
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "Rule file")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func newRulesDeleteCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>...",
		Short: "Delete rules",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			for _, arg := range args {
				id, err := parseID(arg)
				if err != nil {
					return err
				}
				if err := a.rules.Delete(cmd.Context(), id); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "deleted rule %s\n", id)
			}
			return a.changed(cmd.Context())
		},
	}
}

func newRulesToggleCommand(a *app, verb string, enabled bool) *cobra.Command {
	return &cobra.Command{
		Use:   verb + " <id>",
		Short: verb + " a rule",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			rule, err := a.rules.Get(cmd.Context(), id)
			if err != nil {
				return err
			}
			if err := a.rules.Upsert(cmd.Context(), rule.WithEnabled(enabled)); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%sd rule %s\n", verb, id)
			return a.changed(cmd.Context())
		},
	}
}

func (a *app) printRules(cmd *cobra.Command, list []*model.Rule) error {
	out := cmd.OutOrStdout()
	if a.output == outputJSON {
		docs := make([]*codec.RuleDocument, 0, len(list))
		for _, rule := range list {
			doc, err := codec.ToDocument(rule)
			if err != nil {
				return err
			}
			docs = append(docs, doc)
		}
		return writeJSON(out, docs)
	}

	rows := make([][]string, 0, len(list))
	for _, rule := range list {
		rows = append(rows, []string{
			rule.ID.String(),
			rule.Name,
			strconv.FormatBool(rule.Enabled),
			string(rule.Criteria.Kind()),
			describeAction(rule.Action),
			formatIDs(rule.TargetAlarmIDs),
		})
	}
	return table(out, []string{"ID", "NAME", "ENABLED", "CRITERIA", "ACTION", "ALARMS"}, rows)
}

func describeAction(action model.Action) string {
	if adjust, ok := action.(model.AdjustAlarmTime); ok {
		return fmt.Sprintf("%s %s", adjust.Kind(), adjust.NewTime)
	}
	return string(action.Kind())
}
