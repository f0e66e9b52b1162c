package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/t77yq/alarm-rules/internal/codec"
	"github.com/t77yq/alarm-rules/internal/model"
)

// RuleStore persists rules keyed by id
type RuleStore interface {
	// List returns every rule ordered by name, then id. When some stored rules
	// fail to decode the rest are still returned together with a *CorruptRulesError.
	List(ctx context.Context) ([]*model.Rule, error)

	// Get returns the rule stored under id or ErrRuleNotFound
	Get(ctx context.Context, id uuid.UUID) (*model.Rule, error)

	// Upsert validates the rule and replaces any rule stored under the same id
	Upsert(ctx context.Context, rule *model.Rule) error

	// Delete removes the rule stored under id or returns ErrRuleNotFound
	Delete(ctx context.Context, id uuid.UUID) error
}

// SQLiteRuleStore implements RuleStore using SQLite
type SQLiteRuleStore struct {
	logger *zap.Logger
	db     *sql.DB
	now    func() time.Time
}

// NewSQLiteRuleStore creates the rules table if needed and returns the store
func NewSQLiteRuleStore(logger *zap.Logger, db *sql.DB) (*SQLiteRuleStore, error) {
	s := &SQLiteRuleStore{
		logger: logger.Named("rule_store"),
		db:     db,
		now:    time.Now,
	}
	if err := s.initialize(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *SQLiteRuleStore) initialize() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS rules (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			description TEXT,
			enabled INTEGER NOT NULL,
			target_alarm_ids TEXT NOT NULL,
			calendar_ids TEXT NOT NULL,
			criteria TEXT NOT NULL,
			action TEXT NOT NULL,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_rules_name ON rules(name, id);
	`)
	if err != nil {
		return fmt.Errorf("failed to initialize rules table: %w", err)
	}
	return nil
}

const ruleColumns = `id, name, description, enabled, target_alarm_ids, calendar_ids,
	criteria, action, created_at, updated_at`

// List implements RuleStore.List
func (s *SQLiteRuleStore) List(ctx context.Context) ([]*model.Rule, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT "+ruleColumns+" FROM rules ORDER BY name, id")
	if err != nil {
		return nil, fmt.Errorf("failed to list rules: %w", err)
	}
	defer rows.Close()

	var rules []*model.Rule
	var corrupt []CorruptRule
	for rows.Next() {
		rule, id, err := scanRule(rows)
		if err != nil {
			if id == "" {
				return nil, err
			}
			s.logger.Warn("Skipping undecodable rule", zap.String("rule_id", id), zap.Error(err))
			corrupt = append(corrupt, CorruptRule{ID: id, Err: err})
			continue
		}
		rules = append(rules, rule)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during row iteration: %w", err)
	}

	if len(corrupt) > 0 {
		return rules, &CorruptRulesError{Rules: corrupt}
	}
	return rules, nil
}

// Get implements RuleStore.Get
func (s *SQLiteRuleStore) Get(ctx context.Context, id uuid.UUID) (*model.Rule, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+ruleColumns+" FROM rules WHERE id = ?", id.String())
	rule, _, err := scanRule(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrRuleNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return rule, nil
}

// Upsert implements RuleStore.Upsert
func (s *SQLiteRuleStore) Upsert(ctx context.Context, rule *model.Rule) error {
	if err := rule.Validate(); err != nil {
		return err
	}

	criteria, err := codec.EncodeCriteria(rule.Criteria)
	if err != nil {
		return fmt.Errorf("failed to encode criteria: %w", err)
	}
	action, err := codec.EncodeAction(rule.Action)
	if err != nil {
		return fmt.Errorf("failed to encode action: %w", err)
	}
	targets, err := codec.EncodeUUIDSet(rule.TargetAlarmIDs)
	if err != nil {
		return err
	}
	calendars, err := codec.EncodeInt64Set(rule.CalendarIDs)
	if err != nil {
		return err
	}

	now := s.now().UTC()
	createdAt := rule.CreatedAt
	if createdAt.IsZero() {
		createdAt = now
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO rules (`+ruleColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			description = excluded.description,
			enabled = excluded.enabled,
			target_alarm_ids = excluded.target_alarm_ids,
			calendar_ids = excluded.calendar_ids,
			criteria = excluded.criteria,
			action = excluded.action,
			updated_at = excluded.updated_at`,
		rule.ID.String(),
		rule.Name,
		sql.NullString{String: rule.Description, Valid: rule.Description != ""},
		rule.Enabled,
		targets,
		calendars,
		string(criteria),
		string(action),
		createdAt.UTC(),
		now,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert rule: %w", err)
	}

	s.logger.Debug("Stored rule",
		zap.String("rule_id", rule.ID.String()),
		zap.String("name", rule.Name),
		zap.String("criteria", string(rule.Criteria.Kind())),
		zap.String("action", string(rule.Action.Kind())))
	return nil
}

// Delete implements RuleStore.Delete
func (s *SQLiteRuleStore) Delete(ctx context.Context, id uuid.UUID) error {
	result, err := s.db.ExecContext(ctx, "DELETE FROM rules WHERE id = ?", id.String())
	if err != nil {
		return fmt.Errorf("failed to delete rule: %w", err)
	}
	return requireAffected(result, ErrRuleNotFound, id)
}

type rowScanner interface {
	Scan(dest ...any) error
}

// scanRule decodes one row. The returned id is set once the row itself was read,
// so a non-nil error with an id means the stored record is corrupt.
func scanRule(row rowScanner) (*model.Rule, string, error) {
	var (
		id, name, targets, calendars, criteria, action string
		description                                    sql.NullString
		enabled                                        bool
		createdAt, updatedAt                           time.Time
	)
	err := row.Scan(&id, &name, &description, &enabled, &targets, &calendars,
		&criteria, &action, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, "", err
	}
	if err != nil {
		return nil, "", fmt.Errorf("failed to scan rule: %w", err)
	}

	rule := &model.Rule{
		Name:      name,
		Enabled:   enabled,
		CreatedAt: createdAt,
		UpdatedAt: updatedAt,
	}
	if description.Valid {
		rule.Description = description.String
	}

	if rule.ID, err = uuid.Parse(id); err != nil {
		return nil, id, fmt.Errorf("invalid rule id: %w", err)
	}
	if rule.TargetAlarmIDs, err = codec.DecodeUUIDSet(targets); err != nil {
		return nil, id, err
	}
	if rule.CalendarIDs, err = codec.DecodeInt64Set(calendars); err != nil {
		return nil, id, err
	}
	if rule.Criteria, err = codec.DecodeCriteria([]byte(criteria)); err != nil {
		return nil, id, fmt.Errorf("failed to decode criteria: %w", err)
	}
	if rule.Action, err = codec.DecodeAction([]byte(action)); err != nil {
		return nil, id, fmt.Errorf("failed to decode action: %w", err)
	}
	return rule, id, nil
}
