// Package calendar supplies calendar events to rule evaluation. Providers may fail;
// Fetcher turns any failure into an empty event list so evaluation never aborts.
package calendar

import (
	"context"
	"errors"
	"fmt"
	"os"
	"slices"
	"sort"
	"time"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/t77yq/alarm-rules/internal/model"
)

// ErrUnavailable is returned by providers that cannot reach their source
var ErrUnavailable = errors.New("calendar unavailable")

// Provider returns events from the given calendars that overlap [from, to].
// An empty calendar id set means every calendar.
type Provider interface {
	Events(ctx context.Context, calendarIDs []int64, from, to time.Time) ([]model.CalendarEvent, error)
}

// StaticProvider serves a fixed event list
type StaticProvider struct {
	events []model.CalendarEvent
}

// NewStaticProvider creates a provider over events
func NewStaticProvider(events ...model.CalendarEvent) *StaticProvider {
	return &StaticProvider{events: events}
}

// Events implements Provider.Events
func (p *StaticProvider) Events(_ context.Context, calendarIDs []int64, from, to time.Time) ([]model.CalendarEvent, error) {
	return filter(p.events, calendarIDs, from, to), nil
}

type eventFile struct {
	Events []model.CalendarEvent `yaml:"events"`
}

// FileProvider reads events from a YAML file on every call so edits are picked up
// without a restart
type FileProvider struct {
	path string
}

// NewFileProvider creates a provider backed by the YAML file at path
func NewFileProvider(path string) *FileProvider {
	return &FileProvider{path: path}
}

// Events implements Provider.Events
func (p *FileProvider) Events(ctx context.Context, calendarIDs []int64, from, to time.Time) ([]model.CalendarEvent, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(p.path)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read %s: %v", ErrUnavailable, p.path, err)
	}
	var file eventFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to unmarshal calendar events: %w", err)
	}
	return filter(file.Events, calendarIDs, from, to), nil
}

func filter(events []model.CalendarEvent, calendarIDs []int64, from, to time.Time) []model.CalendarEvent {
	var out []model.CalendarEvent
	for _, e := range events {
		if len(calendarIDs) > 0 && !slices.Contains(calendarIDs, e.CalendarID) {
			continue
		}
		if e.StartTime.After(to) || e.EndTime.Before(from) {
			continue
		}
		out = append(out, e)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].StartTime.Before(out[j].StartTime)
	})
	return out
}

// Fetcher wraps a Provider with a timeout and degrades failures to no events
type Fetcher struct {
	provider Provider
	logger   *zap.Logger
	timeout  time.Duration
}

// NewFetcher creates a Fetcher. A nil provider always yields no events.
func NewFetcher(provider Provider, logger *zap.Logger, timeout time.Duration) *Fetcher {
	return &Fetcher{
		provider: provider,
		logger:   logger.Named("calendar"),
		timeout:  timeout,
	}
}

// Events returns the provider's events or an empty list if it fails
func (f *Fetcher) Events(ctx context.Context, calendarIDs []int64, from, to time.Time) []model.CalendarEvent {
	if f == nil || f.provider == nil {
		return nil
	}
	if f.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.timeout)
		defer cancel()
	}

	events, err := f.provider.Events(ctx, calendarIDs, from, to)
	if err != nil {
		f.logger.Warn("Calendar fetch failed, evaluating without events",
			zap.Int64s("calendar_ids", calendarIDs),
			zap.Time("from", from),
			zap.Time("to", to),
			zap.Error(err))
		return nil
	}
	return events
}
