package calendar

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/t77yq/alarm-rules/internal/model"
)

const sampleEvents = `
events:
  - calendar_id: 1
    title: Team Meeting
    start: 2024-05-06T09:00:00Z
    end: 2024-05-06T10:00:00Z
  - calendar_id: 2
    title: Public Holiday
    start: 2024-05-06T00:00:00Z
    end: 2024-05-07T00:00:00Z
    all_day: true
  - calendar_id: 1
    title: Next week
    start: 2024-05-13T09:00:00Z
    end: 2024-05-13T10:00:00Z
`

func day(d int, h int) time.Time {
	return time.Date(2024, 5, d, h, 0, 0, 0, time.UTC)
}

func writeEvents(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "events.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestFileProvider_Events(t *testing.T) {
	provider := NewFileProvider(writeEvents(t, sampleEvents))
	ctx := context.Background()

	events, err := provider.Events(ctx, nil, day(6, 0), day(6, 23))
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "Public Holiday", events[0].Title)
	assert.True(t, events[0].IsAllDay)
	assert.Equal(t, "Team Meeting", events[1].Title)
	assert.True(t, day(6, 9).Equal(events[1].StartTime))

	events, err = provider.Events(ctx, []int64{1}, day(6, 0), day(6, 23))
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, int64(1), events[0].CalendarID)

	events, err = provider.Events(ctx, []int64{3}, day(6, 0), day(6, 23))
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestFileProvider_Missing(t *testing.T) {
	provider := NewFileProvider(filepath.Join(t.TempDir(), "none.yaml"))

	_, err := provider.Events(context.Background(), nil, day(6, 0), day(6, 23))
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestStaticProvider_Overlap(t *testing.T) {
	provider := NewStaticProvider(
		model.CalendarEvent{Title: "before", StartTime: day(5, 8), EndTime: day(5, 9)},
		model.CalendarEvent{Title: "touching", StartTime: day(5, 22), EndTime: day(6, 0)},
		model.CalendarEvent{Title: "inside", StartTime: day(6, 7), EndTime: day(6, 8)},
	)

	events, err := provider.Events(context.Background(), nil, day(6, 0), day(6, 12))
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "touching", events[0].Title)
	assert.Equal(t, "inside", events[1].Title)
}

type failingProvider struct{}

func (failingProvider) Events(context.Context, []int64, time.Time, time.Time) ([]model.CalendarEvent, error) {
	return nil, errors.New("permission denied")
}

type slowProvider struct{}

func (slowProvider) Events(ctx context.Context, _ []int64, _, _ time.Time) ([]model.CalendarEvent, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestFetcher_DegradesToEmpty(t *testing.T) {
	logger := zaptest.NewLogger(t)
	ctx := context.Background()

	assert.Empty(t, NewFetcher(failingProvider{}, logger, 0).Events(ctx, nil, day(6, 0), day(6, 23)))
	assert.Empty(t, NewFetcher(slowProvider{}, logger, 20*time.Millisecond).Events(ctx, nil, day(6, 0), day(6, 23)))
	assert.Empty(t, NewFetcher(nil, logger, 0).Events(ctx, nil, day(6, 0), day(6, 23)))
	assert.Empty(t, NewFetcher(NewFileProvider("/does/not/exist.yaml"), logger, 0).Events(ctx, nil, day(6, 0), day(6, 23)))

	var nilFetcher *Fetcher
	assert.Empty(t, nilFetcher.Events(ctx, nil, day(6, 0), day(6, 23)))
}

func TestFetcher_PassesThrough(t *testing.T) {
	provider := NewStaticProvider(model.CalendarEvent{Title: "standup", StartTime: day(6, 9), EndTime: day(6, 10)})
	fetcher := NewFetcher(provider, zaptest.NewLogger(t), time.Second)

	events := fetcher.Events(context.Background(), nil, day(6, 0), day(6, 23))
	require.Len(t, events, 1)
	assert.Equal(t, "standup", events[0].Title)
}
