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

// AlarmStore persists alarms keyed by id
type AlarmStore interface {
	// List returns every alarm ordered by time of day, then label
	List(ctx context.Context) ([]*model.Alarm, error)

	// Get returns the alarm stored under id or ErrAlarmNotFound
	Get(ctx context.Context, id uuid.UUID) (*model.Alarm, error)

	// Upsert replaces any alarm stored under the same id
	Upsert(ctx context.Context, alarm *model.Alarm) error

	// SetEnabled arms or disarms an alarm
	SetEnabled(ctx context.Context, id uuid.UUID, enabled bool) error

	// Delete removes the alarm stored under id or returns ErrAlarmNotFound
	Delete(ctx context.Context, id uuid.UUID) error
}

// SQLiteAlarmStore implements AlarmStore using SQLite
type SQLiteAlarmStore struct {
	logger *zap.Logger
	db     *sql.DB
	now    func() time.Time
}

// NewSQLiteAlarmStore creates the alarms table if needed and returns the store
func NewSQLiteAlarmStore(logger *zap.Logger, db *sql.DB) (*SQLiteAlarmStore, error) {
	s := &SQLiteAlarmStore{
		logger: logger.Named("alarm_store"),
		db:     db,
		now:    time.Now,
	}
	if err := s.initialize(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *SQLiteAlarmStore) initialize() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS alarms (
			id TEXT PRIMARY KEY,
			label TEXT,
			time_of_day INTEGER NOT NULL,
			days TEXT NOT NULL,
			enabled INTEGER NOT NULL,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL
		);
	`)
	if err != nil {
		return fmt.Errorf("failed to initialize alarms table: %w", err)
	}
	return nil
}

const alarmColumns = "id, label, time_of_day, days, enabled, created_at, updated_at"

// List implements AlarmStore.List
func (s *SQLiteAlarmStore) List(ctx context.Context) ([]*model.Alarm, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT "+alarmColumns+" FROM alarms ORDER BY time_of_day, label, id")
	if err != nil {
		return nil, fmt.Errorf("failed to list alarms: %w", err)
	}
	defer rows.Close()

	var alarms []*model.Alarm
	for rows.Next() {
		alarm, err := scanAlarm(rows)
		if err != nil {
			return nil, err
		}
		alarms = append(alarms, alarm)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during row iteration: %w", err)
	}
	return alarms, nil
}

// Get implements AlarmStore.Get
func (s *SQLiteAlarmStore) Get(ctx context.Context, id uuid.UUID) (*model.Alarm, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+alarmColumns+" FROM alarms WHERE id = ?", id.String())
	alarm, err := scanAlarm(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrAlarmNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return alarm, nil
}

// Upsert implements AlarmStore.Upsert
func (s *SQLiteAlarmStore) Upsert(ctx context.Context, alarm *model.Alarm) error {
	if alarm.ID == uuid.Nil {
		return errors.New("alarm id is required")
	}
	if !alarm.Time.Valid() {
		return fmt.Errorf("alarm %s has invalid time %s", alarm.ID, alarm.Time)
	}
	days, err := codec.EncodeWeekdays(alarm.Days)
	if err != nil {
		return err
	}

	now := s.now().UTC()
	createdAt := alarm.CreatedAt
	if createdAt.IsZero() {
		createdAt = now
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO alarms (`+alarmColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			label = excluded.label,
			time_of_day = excluded.time_of_day,
			days = excluded.days,
			enabled = excluded.enabled,
			updated_at = excluded.updated_at`,
		alarm.ID.String(),
		sql.NullString{String: alarm.Label, Valid: alarm.Label != ""},
		int64(alarm.Time.SinceMidnight()/time.Second),
		days,
		alarm.Enabled,
		createdAt.UTC(),
		now,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert alarm: %w", err)
	}
	return nil
}

// SetEnabled implements AlarmStore.SetEnabled
func (s *SQLiteAlarmStore) SetEnabled(ctx context.Context, id uuid.UUID, enabled bool) error {
	result, err := s.db.ExecContext(ctx,
		"UPDATE alarms SET enabled = ?, updated_at = ? WHERE id = ?",
		enabled, s.now().UTC(), id.String())
	if err != nil {
		return fmt.Errorf("failed to update alarm: %w", err)
	}
	return requireAffected(result, ErrAlarmNotFound, id)
}

// Delete implements AlarmStore.Delete
func (s *SQLiteAlarmStore) Delete(ctx context.Context, id uuid.UUID) error {
	result, err := s.db.ExecContext(ctx, "DELETE FROM alarms WHERE id = ?", id.String())
	if err != nil {
		return fmt.Errorf("failed to delete alarm: %w", err)
	}
	return requireAffected(result, ErrAlarmNotFound, id)
}

func requireAffected(result sql.Result, notFound error, id uuid.UUID) error {
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("%w: %s", notFound, id)
	}
	return nil
}

func scanAlarm(row rowScanner) (*model.Alarm, error) {
	var (
		id, days             string
		label                sql.NullString
		seconds              int64
		enabled              bool
		createdAt, updatedAt time.Time
	)
	err := row.Scan(&id, &label, &seconds, &days, &enabled, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan alarm: %w", err)
	}

	alarm := &model.Alarm{
		Time: model.TimeOfDay{
			Hour:   int(seconds / 3600),
			Minute: int(seconds % 3600 / 60),
			Second: int(seconds % 60),
		},
		Enabled:   enabled,
		CreatedAt: createdAt,
		UpdatedAt: updatedAt,
	}
	if label.Valid {
		alarm.Label = label.String
	}
	if alarm.ID, err = uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("invalid alarm id %q: %w", id, err)
	}
	if alarm.Days, err = codec.DecodeWeekdays(days); err != nil {
		return nil, fmt.Errorf("alarm %s: %w", id, err)
	}
	return alarm, nil
}
