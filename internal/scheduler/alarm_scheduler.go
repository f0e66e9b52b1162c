package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/t77yq/alarm-rules/internal/model"
	"github.com/t77yq/alarm-rules/internal/storage"
)

// FireEvent is published on alarm.fire.<id> when an alarm goes off
type FireEvent struct {
	Alarm   *model.Alarm       `json:"alarm"`
	Plan    *model.TriggerPlan `json:"plan"`
	FiredAt time.Time          `json:"fired_at"`
}

// AlarmScheduler arms every enabled alarm with cron. Each alarm's cron schedule
// is computed by the Planner, so rules decide when, and whether, it fires.
type AlarmScheduler struct {
	logger   *zap.Logger
	js       nats.JetStreamContext
	cron     *cron.Cron
	planner  *Planner
	alarms   storage.AlarmStore
	history  storage.TriggerHistory
	location *time.Location

	// cron operations block on the cron loop, which calls back into Next; never
	// hold mu or servedMu across them
	syncMu   sync.Mutex
	mu       sync.Mutex
	entries  map[uuid.UUID]*alarmEntry
	sub      *nats.Subscription
	servedMu sync.Mutex
	served   map[uuid.UUID]time.Time
}

// cronLogger adapts zap.Logger to cron.Logger
type cronLogger struct {
	logger *zap.Logger
}

func (l *cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug(msg, zap.Any("details", keysAndValues))
}

func (l *cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error(msg, zap.Error(err), zap.Any("details", keysAndValues))
}

// NewAlarmScheduler creates a scheduler firing alarms in loc
func NewAlarmScheduler(
	js nats.JetStreamContext,
	planner *Planner,
	alarms storage.AlarmStore,
	history storage.TriggerHistory,
	loc *time.Location,
	logger *zap.Logger,
) *AlarmScheduler {
	if loc == nil {
		loc = time.Local
	}
	logger = logger.Named("alarm_scheduler")
	cronLogger := &cronLogger{logger: logger.Named("cron")}
	cronOptions := []cron.Option{
		cron.WithLocation(loc),
		cron.WithLogger(cronLogger),
		cron.WithChain(cron.Recover(cronLogger)),
	}

	return &AlarmScheduler{
		logger:   logger,
		js:       js,
		cron:     cron.New(cronOptions...),
		planner:  planner,
		alarms:   alarms,
		history:  history,
		location: loc,
		entries:  make(map[uuid.UUID]*alarmEntry),
		served:   make(map[uuid.UUID]time.Time),
	}
}

// Start ensures the alarm stream exists, arms all alarms and listens for
// refresh commands
func (s *AlarmScheduler) Start(ctx context.Context) error {
	if err := s.setupStream(); err != nil {
		return err
	}
	if err := s.Sync(ctx); err != nil {
		return err
	}
	s.cron.Start()
	return s.subscribeToCommands(ctx)
}

// Stop stops the scheduler and waits for running jobs
func (s *AlarmScheduler) Stop() {
	s.mu.Lock()
	if s.sub != nil {
		if err := s.sub.Unsubscribe(); err != nil {
			s.logger.Warn("Failed to unsubscribe from commands", zap.Error(err))
		}
		s.sub = nil
	}
	s.mu.Unlock()

	ctx := s.cron.Stop()
	<-ctx.Done()
}

func (s *AlarmScheduler) setupStream() error {
	_, err := s.js.StreamInfo(alarmStreamName)
	if err != nil {
		if !errors.Is(err, nats.ErrStreamNotFound) {
			return fmt.Errorf("failed to get stream info: %w", err)
		}

		_, err = s.js.AddStream(&nats.StreamConfig{
			Name:     alarmStreamName,
			Subjects: []string{alarmSubjects},
			Storage:  nats.FileStorage,
			MaxAge:   streamMaxAge,
			MaxMsgs:  streamMaxMsgs,
		})
		if err != nil {
			return fmt.Errorf("failed to create stream: %w", err)
		}
		s.logger.Info("Created alarm stream", zap.String("name", alarmStreamName))
	} else {
		s.logger.Info("Using existing alarm stream", zap.String("name", alarmStreamName))
	}
	return nil
}

// Sync re-reads alarms and re-plans every enabled one. Entries of deleted or
// disabled alarms are removed.
func (s *AlarmScheduler) Sync(ctx context.Context) error {
	alarms, err := s.alarms.List(ctx)
	if err != nil {
		return fmt.Errorf("failed to load alarms: %w", err)
	}

	s.syncMu.Lock()
	defer s.syncMu.Unlock()

	s.mu.Lock()
	previous := s.entries
	s.entries = make(map[uuid.UUID]*alarmEntry, len(alarms))
	s.mu.Unlock()

	for _, entry := range previous {
		s.cron.Remove(entry.id())
	}

	armed := 0
	for _, alarm := range alarms {
		if !alarm.Enabled {
			continue
		}
		entry := &alarmEntry{scheduler: s, alarm: alarm}
		s.mu.Lock()
		s.entries[alarm.ID] = entry
		s.mu.Unlock()
		entry.setID(s.cron.Schedule(entry, entry))
		armed++
	}

	s.logger.Info("Synchronised alarms",
		zap.Int("alarms", len(alarms)),
		zap.Int("armed", armed))
	return nil
}

// Scheduled returns the pending plan of every armed alarm, soonest first
func (s *AlarmScheduler) Scheduled() []*model.TriggerPlan {
	s.mu.Lock()
	entries := make([]*alarmEntry, 0, len(s.entries))
	for _, entry := range s.entries {
		entries = append(entries, entry)
	}
	s.mu.Unlock()

	var plans []*model.TriggerPlan
	for _, entry := range entries {
		if plan := entry.next(); plan != nil {
			plans = append(plans, plan)
		}
	}
	sort.Slice(plans, func(i, j int) bool {
		return plans[i].FireAt.Before(plans[j].FireAt)
	})
	return plans
}

// NextPlan returns the pending plan of one alarm
func (s *AlarmScheduler) NextPlan(alarmID uuid.UUID) (*model.TriggerPlan, error) {
	s.mu.Lock()
	entry, ok := s.entries[alarmID]
	s.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotScheduled, alarmID)
	}
	plan := entry.next()
	if plan == nil {
		return nil, fmt.Errorf("%w: %s has no pending trigger", ErrNotScheduled, alarmID)
	}
	return plan, nil
}

// subscribeToCommands subscribes to refresh requests with a durable consumer
func (s *AlarmScheduler) subscribeToCommands(ctx context.Context) error {
	sub, err := s.js.Subscribe(RefreshSubject, func(msg *nats.Msg) {
		s.logger.Info("Received refresh command", zap.Int("bytes", len(msg.Data)))
		if err := s.Sync(ctx); err != nil {
			s.logger.Error("Failed to refresh alarms", zap.Error(err))
		}
	}, nats.Durable(refreshConsumer), nats.DeliverNew())
	if err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", RefreshSubject, err)
	}

	s.mu.Lock()
	s.sub = sub
	s.mu.Unlock()
	return nil
}

func (s *AlarmScheduler) servedAt(alarmID uuid.UUID) time.Time {
	s.servedMu.Lock()
	defer s.servedMu.Unlock()
	return s.served[alarmID]
}

func (s *AlarmScheduler) markServed(alarmID uuid.UUID, occurrence time.Time) {
	s.servedMu.Lock()
	defer s.servedMu.Unlock()
	if occurrence.After(s.served[alarmID]) {
		s.served[alarmID] = occurrence
	}
}

func (s *AlarmScheduler) publish(subject string, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		s.logger.Error("Failed to marshal message", zap.String("subject", subject), zap.Error(err))
		return
	}
	if _, err := s.js.Publish(subject, data); err != nil {
		s.logger.Error("Failed to publish message", zap.String("subject", subject), zap.Error(err))
	}
}

// record writes the skipped occurrences of plan and, unless disarmed, its firing
func (s *AlarmScheduler) record(ctx context.Context, plan *model.TriggerPlan) {
	if s.history == nil {
		return
	}
	for _, skipped := range plan.Skipped {
		ruleID := skipped.RuleID
		err := s.history.Store(ctx, &storage.TriggerRecord{
			AlarmID:      plan.AlarmID,
			RuleID:       &ruleID,
			Action:       skipped.Action,
			ScheduledFor: skipped.ScheduledFor,
			Skipped:      true,
		})
		if err != nil {
			s.logger.Error("Failed to store trigger record", zap.String("alarm_id", plan.AlarmID.String()), zap.Error(err))
		}
	}
	if plan.Disarmed {
		return
	}
	fireAt := plan.FireAt
	err := s.history.Store(ctx, &storage.TriggerRecord{
		AlarmID:      plan.AlarmID,
		RuleID:       plan.RuleID,
		Action:       plan.Action,
		ScheduledFor: plan.ScheduledFor,
		FireAt:       &fireAt,
	})
	if err != nil {
		s.logger.Error("Failed to store trigger record", zap.String("alarm_id", plan.AlarmID.String()), zap.Error(err))
	}
}

// disarm turns off a one-shot alarm that fired or was skipped and drops its entry
func (s *AlarmScheduler) disarm(alarmID uuid.UUID) {
	ctx, cancel := context.WithTimeout(context.Background(), operationTimeout)
	defer cancel()

	if err := s.alarms.SetEnabled(ctx, alarmID, false); err != nil && !errors.Is(err, storage.ErrAlarmNotFound) {
		s.logger.Error("Failed to disarm alarm", zap.String("alarm_id", alarmID.String()), zap.Error(err))
	}

	s.mu.Lock()
	entry, ok := s.entries[alarmID]
	if ok {
		delete(s.entries, alarmID)
	}
	s.mu.Unlock()
	if ok {
		s.cron.Remove(entry.id())
	}
	s.logger.Info("Disarmed one-shot alarm", zap.String("alarm_id", alarmID.String()))
}

// alarmEntry is both the cron.Schedule and the cron.Job of one alarm
type alarmEntry struct {
	scheduler *AlarmScheduler
	alarm     *model.Alarm

	mu      sync.Mutex
	entryID cron.EntryID
	pending []*model.TriggerPlan
}

func (e *alarmEntry) id() cron.EntryID {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.entryID
}

func (e *alarmEntry) setID(id cron.EntryID) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.entryID = id
}

// Next implements cron.Schedule. A zero time means the alarm will not fire.
func (e *alarmEntry) Next(t time.Time) time.Time {
	s := e.scheduler
	ctx, cancel := context.WithTimeout(context.Background(), planTimeout)
	defer cancel()

	plan, err := s.planner.plan(ctx, e.alarm, t, s.servedAt(e.alarm.ID))
	if err != nil {
		s.logger.Warn("Alarm has no upcoming trigger",
			zap.String("alarm_id", e.alarm.ID.String()),
			zap.Error(err))
		return time.Time{}
	}

	s.publish(planSubjectPrefix+e.alarm.ID.String(), plan)

	if plan.Disarmed {
		s.logger.Info("Rule skipped one-shot alarm",
			zap.String("alarm_id", e.alarm.ID.String()),
			zap.Time("scheduled_for", plan.ScheduledFor))
		s.record(ctx, plan)
		// Next runs inside the cron loop, which cron.Remove would block on
		go s.disarm(e.alarm.ID)
		return time.Time{}
	}

	e.mu.Lock()
	e.pending = append(e.pending, plan)
	e.mu.Unlock()

	s.logger.Info("Planned alarm",
		zap.String("alarm_id", e.alarm.ID.String()),
		zap.Time("scheduled_for", plan.ScheduledFor),
		zap.Time("fire_at", plan.FireAt),
		zap.Int("skipped", len(plan.Skipped)))
	return plan.FireAt.In(s.location)
}

// Run implements cron.Job. It fires the latest pending plan that is due.
func (e *alarmEntry) Run() {
	s := e.scheduler
	now := time.Now()

	plan := e.due(now)
	if plan == nil {
		s.logger.Warn("Alarm job ran without a due plan", zap.String("alarm_id", e.alarm.ID.String()))
		return
	}
	s.markServed(e.alarm.ID, plan.ScheduledFor)

	s.publish(fireSubjectPrefix+e.alarm.ID.String(), &FireEvent{
		Alarm:   e.alarm,
		Plan:    plan,
		FiredAt: now,
	})

	ctx, cancel := context.WithTimeout(context.Background(), operationTimeout)
	defer cancel()
	s.record(ctx, plan)

	s.logger.Info("Fired alarm",
		zap.String("alarm_id", e.alarm.ID.String()),
		zap.String("label", e.alarm.Label),
		zap.Time("scheduled_for", plan.ScheduledFor),
		zap.Time("fired_at", now))

	if !e.alarm.Repeating() {
		s.disarm(e.alarm.ID)
	}
}

// due pops every pending plan whose fire time has passed and returns the latest
func (e *alarmEntry) due(now time.Time) *model.TriggerPlan {
	e.mu.Lock()
	defer e.mu.Unlock()

	var plan *model.TriggerPlan
	i := 0
	for ; i < len(e.pending) && !e.pending[i].FireAt.After(now); i++ {
		plan = e.pending[i]
	}
	e.pending = e.pending[i:]
	return plan
}

func (e *alarmEntry) next() *model.TriggerPlan {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.pending) == 0 {
		return nil
	}
	return e.pending[len(e.pending)-1]
}
