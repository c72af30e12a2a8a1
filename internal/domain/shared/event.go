package shared

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// DomainEvent is a fact about an aggregate, published after the change
// that raised it has committed
type DomainEvent interface {
	EventID() uuid.UUID
	EventType() string
	OccurredAt() time.Time
	AggregateID() uuid.UUID
	AggregateType() string
	TenantID() uuid.UUID
}

// EventEnvelope holds the fields every event carries. Concrete events embed
// it and add their payload.
type EventEnvelope struct {
	ID          uuid.UUID `json:"event_id"`
	Kind        string    `json:"event_type"`
	At          time.Time `json:"occurred_at"`
	Subject     uuid.UUID `json:"aggregate_id"`
	SubjectKind string    `json:"aggregate_type"`
	Tenant      uuid.UUID `json:"tenant_id"`
}

// NewEventEnvelope stamps a new event ID and the current UTC time
func NewEventEnvelope(eventType, aggregateType string, aggregateID, tenantID uuid.UUID) EventEnvelope {
	return EventEnvelope{
		ID:          uuid.New(),
		Kind:        eventType,
		At:          time.Now().UTC(),
		Subject:     aggregateID,
		SubjectKind: aggregateType,
		Tenant:      tenantID,
	}
}

func (e *EventEnvelope) EventID() uuid.UUID     { return e.ID }
func (e *EventEnvelope) EventType() string      { return e.Kind }
func (e *EventEnvelope) OccurredAt() time.Time  { return e.At }
func (e *EventEnvelope) AggregateID() uuid.UUID { return e.Subject }
func (e *EventEnvelope) AggregateType() string  { return e.SubjectKind }
func (e *EventEnvelope) TenantID() uuid.UUID    { return e.Tenant }

// EventHandler reacts to published events. A handler error is logged by
// the bus and never fails the publisher.
type EventHandler interface {
	Handle(ctx context.Context, event DomainEvent) error
	// EventTypes lists the types the handler wants; empty means all
	EventTypes() []string
}

// EventPublisher publishes domain events
type EventPublisher interface {
	Publish(ctx context.Context, events ...DomainEvent) error
}

// EventBus is a publisher handlers can subscribe to
type EventBus interface {
	EventPublisher
	Subscribe(handler EventHandler, eventTypes ...string)
	Unsubscribe(handler EventHandler)
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}
