package allocation

import (
	"time"

	"github.com/erp/payalloc/internal/domain/shared"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Event type names
const (
	EventTypePaymentRecorded    = "PaymentRecorded"
	EventTypePaymentAllocated   = "PaymentAllocated"
	EventTypeAllocationFailed   = "AllocationFailed"
	EventTypeAllocationReversed = "AllocationReversed"
	EventTypePaymentCompleted   = "PaymentCompleted"
	EventTypeBatchImported      = "BatchImported"
)

const (
	aggregateTypePayment = "Payment"
	aggregateTypeBatch   = "PaymentBatch"
)

// PaymentRecordedEvent is raised when a payment is created
type PaymentRecordedEvent struct {
	shared.EventEnvelope
	PaymentID     uuid.UUID       `json:"payment_id"`
	PaymentNumber string          `json:"payment_number"`
	CustomerID    uuid.UUID       `json:"customer_id"`
	Amount        decimal.Decimal `json:"amount"`
	Currency      string          `json:"currency"`
	PaymentMethod PaymentMethod   `json:"payment_method"`
	PaymentDate   time.Time       `json:"payment_date"`
}

// NewPaymentRecordedEvent creates a new PaymentRecordedEvent
func NewPaymentRecordedEvent(p *Payment) *PaymentRecordedEvent {
	return &PaymentRecordedEvent{
		EventEnvelope: shared.NewEventEnvelope(EventTypePaymentRecorded, aggregateTypePayment, p.ID, p.TenantID),
		PaymentID:     p.ID,
		PaymentNumber: p.PaymentNumber,
		CustomerID:    p.CustomerID,
		Amount:        p.Amount,
		Currency:      p.Currency.String(),
		PaymentMethod: p.PaymentMethod,
		PaymentDate:   p.PaymentDate,
	}
}

// AllocatedLine is one invoice settled by an allocation event
type AllocatedLine struct {
	AllocationID uuid.UUID       `json:"allocation_id"`
	InvoiceID    uuid.UUID       `json:"invoice_id"`
	Amount       decimal.Decimal `json:"amount"`
}

// PaymentAllocatedEvent is raised after allocations are committed
type PaymentAllocatedEvent struct {
	shared.EventEnvelope
	PaymentID      uuid.UUID        `json:"payment_id"`
	ActorID        uuid.UUID        `json:"actor_id"`
	Method         AllocationMethod `json:"method"`
	Strategy       string           `json:"strategy,omitempty"`
	Lines          []AllocatedLine  `json:"lines"`
	TotalAllocated decimal.Decimal  `json:"total_allocated"`
	Before         PaymentSnapshot  `json:"before"`
	After          PaymentSnapshot  `json:"after"`
}

// NewPaymentAllocatedEvent creates a new PaymentAllocatedEvent
func NewPaymentAllocatedEvent(
	p *Payment,
	before PaymentSnapshot,
	allocations []*PaymentAllocation,
	method AllocationMethod,
	strategyName string,
	actorID uuid.UUID,
) *PaymentAllocatedEvent {
	lines := make([]AllocatedLine, 0, len(allocations))
	total := decimal.Zero
	for _, a := range allocations {
		lines = append(lines, AllocatedLine{AllocationID: a.ID, InvoiceID: a.InvoiceID, Amount: a.AllocatedAmount})
		total = total.Add(a.AllocatedAmount)
	}
	return &PaymentAllocatedEvent{
		EventEnvelope:  shared.NewEventEnvelope(EventTypePaymentAllocated, aggregateTypePayment, p.ID, p.TenantID),
		PaymentID:      p.ID,
		ActorID:        actorID,
		Method:         method,
		Strategy:       strategyName,
		Lines:          lines,
		TotalAllocated: total,
		Before:         before,
		After:          p.Snapshot(),
	}
}

// AllocationFailedEvent is raised when an allocation attempt is rejected
type AllocationFailedEvent struct {
	shared.EventEnvelope
	PaymentID uuid.UUID       `json:"payment_id"`
	ActorID   uuid.UUID       `json:"actor_id"`
	Method    string          `json:"method"`
	Strategy  string          `json:"strategy,omitempty"`
	Code      string          `json:"code"`
	Reason    string          `json:"reason"`
	Requested decimal.Decimal `json:"requested"`
}

// NewAllocationFailedEvent creates a new AllocationFailedEvent
func NewAllocationFailedEvent(
	tenantID, paymentID, actorID uuid.UUID,
	method AllocationMethod,
	strategyName string,
	requested decimal.Decimal,
	cause error,
) *AllocationFailedEvent {
	code := "SYSTEM_ERROR"
	if de, ok := shared.AsDomainError(cause); ok {
		code = de.Code
	}
	return &AllocationFailedEvent{
		EventEnvelope: shared.NewEventEnvelope(EventTypeAllocationFailed, aggregateTypePayment, paymentID, tenantID),
		PaymentID:     paymentID,
		ActorID:       actorID,
		Method:        method.String(),
		Strategy:      strategyName,
		Code:          code,
		Reason:        cause.Error(),
		Requested:     requested,
	}
}

// AllocationReversedEvent is raised after an allocation is reversed
type AllocationReversedEvent struct {
	shared.EventEnvelope
	AllocationID uuid.UUID       `json:"allocation_id"`
	PaymentID    uuid.UUID       `json:"payment_id"`
	InvoiceID    uuid.UUID       `json:"invoice_id"`
	Amount       decimal.Decimal `json:"amount"`
	Reason       string          `json:"reason"`
	ActorID      uuid.UUID       `json:"actor_id"`
	Before       PaymentSnapshot `json:"before"`
	After        PaymentSnapshot `json:"after"`
}

// NewAllocationReversedEvent creates a new AllocationReversedEvent
func NewAllocationReversedEvent(
	p *Payment,
	before PaymentSnapshot,
	a *PaymentAllocation,
	actorID uuid.UUID,
) *AllocationReversedEvent {
	reason := ""
	if a.ReversalReason != nil {
		reason = *a.ReversalReason
	}
	return &AllocationReversedEvent{
		EventEnvelope: shared.NewEventEnvelope(EventTypeAllocationReversed, aggregateTypePayment, p.ID, p.TenantID),
		AllocationID:  a.ID,
		PaymentID:     p.ID,
		InvoiceID:     a.InvoiceID,
		Amount:        a.AllocatedAmount,
		Reason:        reason,
		ActorID:       actorID,
		Before:        before,
		After:         p.Snapshot(),
	}
}

// PaymentCompletedEvent is raised when a fully allocated payment is closed
type PaymentCompletedEvent struct {
	shared.EventEnvelope
	PaymentID     uuid.UUID `json:"payment_id"`
	PaymentNumber string    `json:"payment_number"`
	CompletedAt   time.Time `json:"completed_at"`
}

// NewPaymentCompletedEvent creates a new PaymentCompletedEvent
func NewPaymentCompletedEvent(p *Payment) *PaymentCompletedEvent {
	var at time.Time
	if p.CompletedAt != nil {
		at = *p.CompletedAt
	}
	return &PaymentCompletedEvent{
		EventEnvelope: shared.NewEventEnvelope(EventTypePaymentCompleted, aggregateTypePayment, p.ID, p.TenantID),
		PaymentID:     p.ID,
		PaymentNumber: p.PaymentNumber,
		CompletedAt:   at,
	}
}

// BatchImportedEvent is raised when a batch reaches a terminal status
type BatchImportedEvent struct {
	shared.EventEnvelope
	BatchID      uuid.UUID       `json:"batch_id"`
	BatchNumber  string          `json:"batch_number"`
	SourceType   SourceType      `json:"source_type"`
	Status       BatchStatus     `json:"status"`
	ReceiptCount int             `json:"receipt_count"`
	TotalAmount  decimal.Decimal `json:"total_amount"`
	ErrorCount   int             `json:"error_count"`
}

// NewBatchImportedEvent creates a new BatchImportedEvent
func NewBatchImportedEvent(b *PaymentBatch) *BatchImportedEvent {
	return &BatchImportedEvent{
		EventEnvelope: shared.NewEventEnvelope(EventTypeBatchImported, aggregateTypeBatch, b.ID, b.TenantID),
		BatchID:       b.ID,
		BatchNumber:   b.BatchNumber,
		SourceType:    b.SourceType,
		Status:        b.Status,
		ReceiptCount:  b.ReceiptCount,
		TotalAmount:   b.TotalAmount,
		ErrorCount:    b.Metadata.Validation.ErrorCount + len(b.Metadata.ProcessingErrs),
	}
}
