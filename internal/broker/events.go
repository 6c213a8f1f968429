package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"expiry-compliance/internal/models"
	"expiry-compliance/internal/util"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// Publisher writes one keyed event to the event stream
type Publisher interface {
	PublishEvent(ctx context.Context, key string, event interface{}) error
}

// EventPublisher handles publishing compliance events
type EventPublisher struct {
	producer Publisher
}

// NewEventPublisher creates a new event publisher
func NewEventPublisher(producer Publisher) *EventPublisher {
	return &EventPublisher{producer: producer}
}

func newBaseEvent(eventType string) models.BaseEvent {
	return models.BaseEvent{
		EventID:   uuid.New().String(),
		EventType: eventType,
		Timestamp: time.Now().UTC(),
	}
}

func accountKey(accountID string) string {
	return fmt.Sprintf("account-%s", accountID)
}

// PublishTickCompleted publishes the summary of one evaluation
func (ep *EventPublisher) PublishTickCompleted(ctx context.Context, accountID string, bundle models.Bundle) error {
	event := &models.TickCompletedEvent{
		BaseEvent:      newBaseEvent(models.EventTypeTickCompleted),
		AccountID:      accountID,
		EvaluatedAt:    bundle.Timestamp,
		AlertCount:     len(bundle.Alerts),
		ViolationCount: len(bundle.SLAViolations),
		SkippedItems:   bundle.SkippedItems,
		RiskScore:      bundle.RiskScore,
	}
	return ep.producer.PublishEvent(ctx, accountKey(accountID), event)
}

// PublishAlertRaised publishes one alert
func (ep *EventPublisher) PublishAlertRaised(ctx context.Context, accountID string, alert models.Alert) error {
	event := &models.AlertRaisedEvent{
		BaseEvent: newBaseEvent(models.EventTypeAlertRaised),
		AccountID: accountID,
		Alert:     alert,
	}
	return ep.producer.PublishEvent(ctx, accountKey(accountID), event)
}

// PublishSLAViolation publishes one SLA violation
func (ep *EventPublisher) PublishSLAViolation(ctx context.Context, accountID string, violation models.SLAViolation) error {
	event := &models.SLAViolationEvent{
		BaseEvent: newBaseEvent(models.EventTypeSLAViolation),
		AccountID: accountID,
		Violation: violation,
	}
	return ep.producer.PublishEvent(ctx, accountKey(accountID), event)
}

// PublishMutationSynced publishes the replay of one queued mutation
func (ep *EventPublisher) PublishMutationSynced(ctx context.Context, accountID string, m models.QueuedMutation) error {
	event := &models.MutationSyncedEvent{
		BaseEvent:  newBaseEvent(models.EventTypeMutationSynced),
		AccountID:  accountID,
		MutationID: m.ID,
		Action:     m.Action,
	}
	return ep.producer.PublishEvent(ctx, accountKey(accountID), event)
}

// EventHandler handles incoming events
type EventHandler struct {
	onConnectivityChanged func(context.Context, *models.ConnectivityChangedEvent) error
	logger                *zap.Logger
}

// NewEventHandler creates a new event handler
func NewEventHandler() *EventHandler {
	return &EventHandler{logger: util.ComponentLogger("event-handler")}
}

// OnConnectivityChanged registers a handler for CONNECTIVITY_CHANGED events
func (eh *EventHandler) OnConnectivityChanged(handler func(context.Context, *models.ConnectivityChangedEvent) error) {
	eh.onConnectivityChanged = handler
}

// HandleMessage routes messages to appropriate handlers
func (eh *EventHandler) HandleMessage(ctx context.Context, msg kafka.Message) error {
	var baseEvent models.BaseEvent
	if err := json.Unmarshal(msg.Value, &baseEvent); err != nil {
		return fmt.Errorf("failed to unmarshal base event: %w", err)
	}

	eh.logger.Debug("Handling event",
		zap.String("type", baseEvent.EventType),
		zap.String("id", baseEvent.EventID))

	switch baseEvent.EventType {
	case models.EventTypeConnectivityChanged:
		if eh.onConnectivityChanged != nil {
			var event models.ConnectivityChangedEvent
			if err := json.Unmarshal(msg.Value, &event); err != nil {
				return fmt.Errorf("failed to unmarshal ConnectivityChanged event: %w", err)
			}
			return eh.onConnectivityChanged(ctx, &event)
		}

	default:
		eh.logger.Debug("Unhandled event type", zap.String("type", baseEvent.EventType))
	}

	return nil
}
