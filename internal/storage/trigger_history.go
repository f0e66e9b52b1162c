package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/t77yq/alarm-rules/internal/model"
)

// TriggerRecord is one scheduling decision for an alarm occurrence
type TriggerRecord struct {
	ID           string           `json:"id"`
	AlarmID      uuid.UUID        `json:"alarm_id"`
	RuleID       *uuid.UUID       `json:"rule_id,omitempty"`
	Action       model.ActionKind `json:"action,omitempty"`
	ScheduledFor time.Time        `json:"scheduled_for"`
	FireAt       *time.Time       `json:"fire_at,omitempty"`
	Skipped      bool             `json:"skipped"`
	RecordedAt   time.Time        `json:"recorded_at"`
}

// TriggerHistory defines the interface for trigger history storage
type TriggerHistory interface {
	// Store stores a trigger record
	Store(ctx context.Context, record *TriggerRecord) error

	// List returns the most recent records for an alarm, newest first.
	// A nil alarm id lists records for every alarm.
	List(ctx context.Context, alarmID uuid.UUID, limit int) ([]*TriggerRecord, error)

	// DeleteBefore deletes records recorded before the specified time
	DeleteBefore(ctx context.Context, before time.Time) error
}

// SQLiteTriggerHistory implements TriggerHistory using SQLite
type SQLiteTriggerHistory struct {
	logger *zap.Logger
	db     *sql.DB
}

// NewSQLiteTriggerHistory creates the trigger_history table if needed
func NewSQLiteTriggerHistory(logger *zap.Logger, db *sql.DB) (*SQLiteTriggerHistory, error) {
	h := &SQLiteTriggerHistory{
		logger: logger.Named("trigger_history"),
		db:     db,
	}
	if err := h.initialize(); err != nil {
		return nil, err
	}
	return h, nil
}

// initialize creates the necessary tables if they don't exist
func (h *SQLiteTriggerHistory) initialize() error {
	_, err := h.db.Exec(`
		CREATE TABLE IF NOT EXISTS trigger_history (
			id TEXT PRIMARY KEY,
			alarm_id TEXT NOT NULL,
			rule_id TEXT,
			action TEXT,
			scheduled_for DATETIME NOT NULL,
			fire_at DATETIME,
			skipped INTEGER NOT NULL,
			recorded_at DATETIME NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_trigger_history_alarm_id ON trigger_history(alarm_id);
		CREATE INDEX IF NOT EXISTS idx_trigger_history_recorded_at ON trigger_history(recorded_at);
	`)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	return nil
}

// Store implements TriggerHistory.Store
func (h *SQLiteTriggerHistory) Store(ctx context.Context, record *TriggerRecord) error {
	if record.ID == "" {
		record.ID = uuid.NewString()
	}
	if record.RecordedAt.IsZero() {
		record.RecordedAt = time.Now()
	}

	var ruleID sql.NullString
	if record.RuleID != nil {
		ruleID = sql.NullString{String: record.RuleID.String(), Valid: true}
	}
	var fireAt sql.NullTime
	if record.FireAt != nil {
		fireAt = sql.NullTime{Time: record.FireAt.UTC(), Valid: true}
	}

	_, err := h.db.ExecContext(ctx, `
		INSERT INTO trigger_history (
			id, alarm_id, rule_id, action, scheduled_for, fire_at, skipped, recorded_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		record.ID,
		record.AlarmID.String(),
		ruleID,
		sql.NullString{String: string(record.Action), Valid: record.Action != ""},
		record.ScheduledFor.UTC(),
		fireAt,
		record.Skipped,
		record.RecordedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to store trigger record: %w", err)
	}
	return nil
}

// List implements TriggerHistory.List
func (h *SQLiteTriggerHistory) List(ctx context.Context, alarmID uuid.UUID, limit int) ([]*TriggerRecord, error) {
	query := "SELECT id, alarm_id, rule_id, action, scheduled_for, fire_at, skipped, recorded_at FROM trigger_history"
	args := make([]interface{}, 0, 2)

	if alarmID != uuid.Nil {
		query += " WHERE alarm_id = ?"
		args = append(args, alarmID.String())
	}
	query += " ORDER BY recorded_at DESC, scheduled_for DESC LIMIT ?"
	if limit <= 0 {
		limit = -1
	}
	args = append(args, limit)

	rows, err := h.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list trigger history: %w", err)
	}
	defer rows.Close()

	var records []*TriggerRecord
	for rows.Next() {
		record := &TriggerRecord{}
		var alarm string
		var ruleID, action sql.NullString
		var fireAt sql.NullTime

		err := rows.Scan(
			&record.ID,
			&alarm,
			&ruleID,
			&action,
			&record.ScheduledFor,
			&fireAt,
			&record.Skipped,
			&record.RecordedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan trigger record: %w", err)
		}

		if record.AlarmID, err = uuid.Parse(alarm); err != nil {
			return nil, fmt.Errorf("invalid alarm id in trigger record %s: %w", record.ID, err)
		}
		if ruleID.Valid {
			id, err := uuid.Parse(ruleID.String)
			if err != nil {
				return nil, fmt.Errorf("invalid rule id in trigger record %s: %w", record.ID, err)
			}
			record.RuleID = &id
		}
		if action.Valid {
			record.Action = model.ActionKind(action.String)
		}
		if fireAt.Valid {
			record.FireAt = &fireAt.Time
		}

		records = append(records, record)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during row iteration: %w", err)
	}

	return records, nil
}

// DeleteBefore implements TriggerHistory.DeleteBefore
func (h *SQLiteTriggerHistory) DeleteBefore(ctx context.Context, before time.Time) error {
	result, err := h.db.ExecContext(ctx, "DELETE FROM trigger_history WHERE recorded_at < ?", before.UTC())
	if err != nil {
		return fmt.Errorf("failed to delete trigger history: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}

	h.logger.Info("Deleted old trigger history records",
		zap.Time("before", before),
		zap.Int64("deleted", affected))

	return nil
}
