package codec

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/t77yq/alarm-rules/internal/model"
)

// RuleFile is the declarative YAML form of a rule set
type RuleFile struct {
	Rules []RuleDefinition `yaml:"rules"`
}

// RuleDefinition is a single rule in a rule file
type RuleDefinition struct {
	ID           string             `yaml:"id"`
	Name         string             `yaml:"name"`
	Description  string             `yaml:"description"`
	Enabled      *bool              `yaml:"enabled"`
	TargetAlarms []string           `yaml:"target_alarms"`
	Calendars    []int64            `yaml:"calendars"`
	Criteria     CriteriaDefinition `yaml:"criteria"`
	Action       ActionDefinition   `yaml:"action"`
}

// CriteriaDefinition holds the fields of every criteria variant; Type selects which apply
type CriteriaDefinition struct {
	Type string `yaml:"type"`

	// based_on_time
	Start string `yaml:"start"`
	End   string `yaml:"end"`

	// if_calendar_event_exists
	Keywords         []string `yaml:"keywords"`
	TimeRangeMinutes int      `yaml:"time_range_minutes"`
	AllDay           bool     `yaml:"all_day"`

	// shift_work
	CycleDays         int     `yaml:"cycle_days"`
	ShiftsPerCycle    int     `yaml:"shifts_per_cycle"`
	StartDate         string  `yaml:"start_date"` // YYYY-MM-DD in the file's zone
	CurrentShiftIndex int     `yaml:"current_shift_index"`
	HolidayCalendars  []int64 `yaml:"holiday_calendars"`
	HolidayHandling   string  `yaml:"holiday_handling"`
}

// ActionDefinition selects the action; Time is used by adjust_alarm_time
type ActionDefinition struct {
	Type string `yaml:"type"`
	Time string `yaml:"time"`
}

// ruleNamespace derives stable IDs for rules declared without one so that
// re-applying a file updates rather than duplicates
var ruleNamespace = uuid.MustParse("0b5e3f0e-6a3c-4f7e-9a59-2f4c8d1e7a10")

// LoadRuleFile reads and validates a YAML rule file. Shift start dates are
// interpreted as local midnight in loc.
func LoadRuleFile(path string, loc *time.Location) ([]*model.Rule, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read rules file: %w", err)
	}
	return ParseRuleFile(data, loc)
}

// ParseRuleFile decodes and validates YAML rule definitions
func ParseRuleFile(data []byte, loc *time.Location) ([]*model.Rule, error) {
	var file RuleFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to unmarshal rules: %w", err)
	}
	if loc == nil {
		loc = time.Local
	}

	rules := make([]*model.Rule, 0, len(file.Rules))
	seen := make(map[uuid.UUID]string, len(file.Rules))
	for i, def := range file.Rules {
		rule, err := def.toRule(loc)
		if err != nil {
			return nil, fmt.Errorf("rules[%d] %q: %w", i, def.Name, err)
		}
		if err := rule.Validate(); err != nil {
			return nil, fmt.Errorf("rules[%d] %q: %w", i, def.Name, err)
		}
		if prev, ok := seen[rule.ID]; ok {
			return nil, fmt.Errorf("rules[%d] %q: duplicate id %s, also used by %q", i, def.Name, rule.ID, prev)
		}
		seen[rule.ID] = def.Name
		rules = append(rules, rule)
	}
	return rules, nil
}

func (def RuleDefinition) toRule(loc *time.Location) (*model.Rule, error) {
	if strings.TrimSpace(def.Name) == "" {
		return nil, fmt.Errorf("%w: name is required", model.ErrInvalidRule)
	}

	id := uuid.NewSHA1(ruleNamespace, []byte(def.Name))
	if def.ID != "" {
		parsed, err := uuid.Parse(def.ID)
		if err != nil {
			return nil, fmt.Errorf("%w: invalid id %q", model.ErrInvalidRule, def.ID)
		}
		id = parsed
	}

	criteria, err := def.Criteria.toCriteria(loc)
	if err != nil {
		return nil, err
	}
	action, err := def.Action.toAction()
	if err != nil {
		return nil, err
	}

	var targets []uuid.UUID
	for _, s := range def.TargetAlarms {
		alarmID, err := uuid.Parse(s)
		if err != nil {
			return nil, fmt.Errorf("%w: invalid target alarm %q", model.ErrInvalidRule, s)
		}
		targets = append(targets, alarmID)
	}

	enabled := true
	if def.Enabled != nil {
		enabled = *def.Enabled
	}

	return &model.Rule{
		ID:             id,
		Name:           def.Name,
		Description:    def.Description,
		Enabled:        enabled,
		TargetAlarmIDs: targets,
		CalendarIDs:    def.Calendars,
		Criteria:       criteria,
		Action:         action,
	}, nil
}

func (def CriteriaDefinition) toCriteria(loc *time.Location) (model.Criteria, error) {
	switch model.CriteriaKind(def.Type) {
	case model.CriteriaAlwaysTrue:
		return model.AlwaysTrue{}, nil

	case model.CriteriaBasedOnTime:
		start, err := model.ParseTimeOfDay(def.Start)
		if err != nil {
			return nil, fmt.Errorf("%w: start: %v", model.ErrInvalidRule, err)
		}
		end, err := model.ParseTimeOfDay(def.End)
		if err != nil {
			return nil, fmt.Errorf("%w: end: %v", model.ErrInvalidRule, err)
		}
		return model.BasedOnTime{Start: start, End: end}, nil

	case model.CriteriaIfCalendarEventExists:
		return model.IfCalendarEventExists{
			Keywords:         def.Keywords,
			TimeRangeMinutes: def.TimeRangeMinutes,
			AllDay:           def.AllDay,
		}, nil

	case model.CriteriaShiftWork:
		start, err := time.ParseInLocation(time.DateOnly, def.StartDate, loc)
		if err != nil {
			return nil, fmt.Errorf("%w: start_date: %v", model.ErrInvalidRule, err)
		}
		handling := model.HolidayHandling(strings.ToUpper(def.HolidayHandling))
		if handling == "" {
			handling = model.HolidayNormalSchedule
		}
		return model.ShiftWork{
			CycleDays:          def.CycleDays,
			ShiftsPerCycle:     def.ShiftsPerCycle,
			StartDate:          start.UnixMilli(),
			CurrentShiftIndex:  def.CurrentShiftIndex,
			HolidayCalendarIDs: def.HolidayCalendars,
			HolidayHandling:    handling,
		}, nil

	case "":
		return nil, fmt.Errorf("%w: criteria type is required", model.ErrInvalidRule)
	default:
		return nil, fmt.Errorf("%w: criteria type %q", ErrUnknownVariant, def.Type)
	}
}

func (def ActionDefinition) toAction() (model.Action, error) {
	switch model.ActionKind(def.Type) {
	case model.ActionSkipNextAlarm, "":
		return model.SkipNextAlarm{}, nil
	case model.ActionAdjustAlarmTime:
		t, err := model.ParseTimeOfDay(def.Time)
		if err != nil {
			return nil, fmt.Errorf("%w: action time: %v", model.ErrInvalidRule, err)
		}
		return model.AdjustAlarmTime{NewTime: t}, nil
	default:
		return nil, fmt.Errorf("%w: action type %q", ErrUnknownVariant, def.Type)
	}
}
