/**
 * @description
 * Event fan-out for committed state changes. Every event is appended to the event log
 * and published to the message broker. Both are best-effort: a failure is logged and
 * never undoes the state change that produced the event.
 *
 * @dependencies
 * - github.com/google/uuid: event identifiers.
 */
package app

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/circlepot/rosca-service/internal/domain"
)

// EventSink receives events after a successful commit.
type EventSink interface {
	Emit(ctx context.Context, events ...domain.Event)
}

// Publisher matches the rabbitmq producer.
type Publisher interface {
	Publish(ctx context.Context, exchange, routingKey string, body interface{}) error
}

// EventLog persists events.
type EventLog interface {
	AppendEvent(ctx context.Context, event domain.Event) error
}

// EventDispatcher writes events to the log and the broker.
type EventDispatcher struct {
	log       EventLog
	publisher Publisher
	exchange  string
	logger    *slog.Logger
}

func NewEventDispatcher(log EventLog, publisher Publisher, exchange string, logger *slog.Logger) *EventDispatcher {
	return &EventDispatcher{log: log, publisher: publisher, exchange: exchange, logger: logger}
}

func (d *EventDispatcher) Emit(ctx context.Context, events ...domain.Event) {
	for _, event := range events {
		if d.log != nil {
			if err := d.log.AppendEvent(ctx, event); err != nil {
				d.logger.Warn("failed to append event", "event_type", event.Type, "event_id", event.ID, "error", err)
			}
		}
		if d.publisher != nil {
			if err := d.publisher.Publish(ctx, d.exchange, event.Type, event); err != nil {
				d.logger.Warn("failed to publish event", "event_type", event.Type, "event_id", event.ID, "error", err)
			}
		}
	}
}

type discardEvents struct{}

func (discardEvents) Emit(context.Context, ...domain.Event) {}

func newEvent(eventType string, aggregateID int64, actor domain.Address, at time.Time, payload map[string]any) domain.Event {
	return domain.Event{
		ID:          uuid.NewString(),
		Type:        eventType,
		AggregateID: aggregateID,
		Actor:       actor,
		Payload:     payload,
		OccurredAt:  at.UTC(),
	}
}
