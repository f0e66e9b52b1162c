package service

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/t77yq/alarm-rules/internal/model"
	"github.com/t77yq/alarm-rules/internal/scheduler"
)

// EventService publishes scheduler commands and follows the events alarmd emits
type EventService struct {
	js     nats.JetStreamContext
	logger *zap.Logger
}

func NewEventService(js nats.JetStreamContext, logger *zap.Logger) *EventService {
	return &EventService{
		js:     js,
		logger: logger.Named("events"),
	}
}

// RequestRefresh asks every running scheduler to reload alarms and rules
func (s *EventService) RequestRefresh(ctx context.Context) error {
	_, err := s.js.Publish(scheduler.RefreshSubject, []byte("{}"), nats.Context(ctx))
	if err != nil {
		s.logger.Error("Failed to publish refresh command", zap.Error(err))
		return fmt.Errorf("failed to publish refresh command: %w", err)
	}

	s.logger.Debug("Refresh command published", zap.String("subject", scheduler.RefreshSubject))
	return nil
}

// SubscribeFires calls handler for every alarm that goes off from now on, until
// ctx is done
func (s *EventService) SubscribeFires(ctx context.Context, handler func(scheduler.FireEvent)) error {
	return subscribe(ctx, s, scheduler.FireSubjects, handler)
}

// SubscribePlans calls handler for every plan the scheduler computes from now on,
// until ctx is done
func (s *EventService) SubscribePlans(ctx context.Context, handler func(model.TriggerPlan)) error {
	return subscribe(ctx, s, scheduler.PlanSubjects, handler)
}

func subscribe[T any](ctx context.Context, s *EventService, subject string, handler func(T)) error {
	sub, err := s.js.Subscribe(subject, func(msg *nats.Msg) {
		var event T
		if err := json.Unmarshal(msg.Data, &event); err != nil {
			s.logger.Error("Failed to unmarshal event",
				zap.String("subject", msg.Subject),
				zap.Error(err))
			_ = msg.Term()
			return
		}

		handler(event)
		_ = msg.Ack()
	}, nats.DeliverNew(), nats.ManualAck())
	if err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", subject, err)
	}

	go func() {
		<-ctx.Done()
		if err := sub.Unsubscribe(); err != nil {
			s.logger.Debug("Failed to unsubscribe", zap.String("subject", subject), zap.Error(err))
		}
	}()

	return nil
}
