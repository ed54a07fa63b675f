package app

import (
	"context"
	"errors"
	"testing"

	"github.com/circlepot/rosca-service/internal/domain"
)

type eventLogStub struct {
	appended []domain.Event
	err      error
}

func (s *eventLogStub) AppendEvent(ctx context.Context, event domain.Event) error {
	if s.err != nil {
		return s.err
	}
	s.appended = append(s.appended, event)
	return nil
}

type publisherStub struct {
	exchange string
	keys     []string
	err      error
}

func (s *publisherStub) Publish(ctx context.Context, exchange, routingKey string, body interface{}) error {
	s.exchange = exchange
	s.keys = append(s.keys, routingKey)
	return s.err
}

func TestEventDispatcherWritesLogAndBroker(t *testing.T) {
	log := &eventLogStub{}
	publisher := &publisherStub{}
	d := NewEventDispatcher(log, publisher, "rosca.events", newTestLogger())

	d.Emit(context.Background(),
		newEvent(domain.EventCircleCreated, 1, alice, testStart, nil),
		newEvent(domain.EventCircleMemberJoined, 1, bob, testStart, map[string]any{"current_members": 2}),
	)

	if len(log.appended) != 2 {
		t.Fatalf("expected 2 logged events, got %d", len(log.appended))
	}
	if log.appended[0].ID == "" || log.appended[0].ID == log.appended[1].ID {
		t.Fatalf("expected unique event IDs, got %q and %q", log.appended[0].ID, log.appended[1].ID)
	}
	if publisher.exchange != "rosca.events" || len(publisher.keys) != 2 || publisher.keys[1] != domain.EventCircleMemberJoined {
		t.Fatalf("expected events routed by type, got %s %v", publisher.exchange, publisher.keys)
	}
}

func TestEventDispatcherToleratesFailures(t *testing.T) {
	log := &eventLogStub{err: errors.New("database locked")}
	publisher := &publisherStub{err: errors.New("broker down")}
	d := NewEventDispatcher(log, publisher, "rosca.events", newTestLogger())

	d.Emit(context.Background(), newEvent(domain.EventGoalCreated, 3, alice, testStart, nil))

	if len(publisher.keys) != 1 {
		t.Fatalf("expected publish attempted despite the log failure, got %v", publisher.keys)
	}
}

func TestCircleOperationsEmitEvents(t *testing.T) {
	f := newCircleFixture(t, testPolicy(), alice, bob)
	events := &recordingEvents{}
	f.circles.events = events

	c := f.create(t, alice, 2, domain.VisibilityPublic)
	f.join(t, c.ID, bob)

	want := []string{domain.EventCircleCreated, domain.EventCircleMemberJoined, domain.EventCircleActivated}
	if len(events.events) != len(want) {
		t.Fatalf("expected %d events, got %d", len(want), len(events.events))
	}
	for i, e := range events.events {
		if e.Type != want[i] || e.AggregateID != c.ID {
			t.Fatalf("event %d: expected %s for circle %d, got %s for %d", i, want[i], c.ID, e.Type, e.AggregateID)
		}
	}
}
