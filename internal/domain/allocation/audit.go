package allocation

import (
	"time"

	"github.com/google/uuid"
)

// AuditAction names an entry in the allocation audit trail
type AuditAction string

const (
	AuditActionPaymentAllocated   AuditAction = "payment.allocated"
	AuditActionAllocationFailed   AuditAction = "payment.allocation_failed"
	AuditActionAllocationReversed AuditAction = "payment.allocation_reversed"
	AuditActionPaymentCompleted   AuditAction = "payment.completed"
	AuditActionBatchImported      AuditAction = "batch.imported"
)

// AllocationAuditLog is an append-only record of an allocation-related action
type AllocationAuditLog struct {
	ID        uuid.UUID        `json:"id"`
	TenantID  uuid.UUID        `json:"tenant_id"`
	PaymentID *uuid.UUID       `json:"payment_id,omitempty"`
	BatchID   *uuid.UUID       `json:"batch_id,omitempty"`
	Action    AuditAction      `json:"action"`
	ActorID   *uuid.UUID       `json:"actor_id,omitempty"`
	Before    *PaymentSnapshot `json:"before,omitempty"`
	After     *PaymentSnapshot `json:"after,omitempty"`
	Details   map[string]any   `json:"details,omitempty"`
	EventID   uuid.UUID        `json:"event_id"`
	CreatedAt time.Time        `json:"created_at"`
}

// NewAuditLog creates an audit entry for action raised by eventID
func NewAuditLog(tenantID uuid.UUID, action AuditAction, eventID uuid.UUID, at time.Time) *AllocationAuditLog {
	return &AllocationAuditLog{
		ID:        uuid.New(),
		TenantID:  tenantID,
		Action:    action,
		EventID:   eventID,
		Details:   make(map[string]any),
		CreatedAt: at,
	}
}

// WithPayment sets the payment the entry refers to
func (l *AllocationAuditLog) WithPayment(paymentID uuid.UUID) *AllocationAuditLog {
	l.PaymentID = &paymentID
	return l
}

// WithBatch sets the batch the entry refers to
func (l *AllocationAuditLog) WithBatch(batchID uuid.UUID) *AllocationAuditLog {
	l.BatchID = &batchID
	return l
}

// WithActor sets the acting user, ignoring the nil UUID
func (l *AllocationAuditLog) WithActor(actorID uuid.UUID) *AllocationAuditLog {
	if actorID != uuid.Nil {
		l.ActorID = &actorID
	}
	return l
}

// WithStates sets the payment state before and after the action
func (l *AllocationAuditLog) WithStates(before, after PaymentSnapshot) *AllocationAuditLog {
	l.Before = &before
	l.After = &after
	return l
}
