package allocation

import (
	"context"
	"fmt"

	"github.com/erp/payalloc/internal/domain/allocation"
	"github.com/erp/payalloc/internal/domain/shared"
	"go.uber.org/zap"
)

// AuditTrailHandler writes an allocation_audit_logs row for every allocation,
// reversal, rejected attempt, completion and finished batch
type AuditTrailHandler struct {
	auditRepo allocation.AuditLogRepository
	logger    *zap.Logger
}

// NewAuditTrailHandler creates a new AuditTrailHandler
func NewAuditTrailHandler(auditRepo allocation.AuditLogRepository, logger *zap.Logger) *AuditTrailHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AuditTrailHandler{
		auditRepo: auditRepo,
		logger:    logger,
	}
}

// EventTypes returns the event types this handler is interested in
func (h *AuditTrailHandler) EventTypes() []string {
	return []string{
		allocation.EventTypePaymentAllocated,
		allocation.EventTypeAllocationFailed,
		allocation.EventTypeAllocationReversed,
		allocation.EventTypePaymentCompleted,
		allocation.EventTypeBatchImported,
	}
}

// Handle converts the event into an audit entry. Entries are keyed by event
// ID so a redelivered event is stored once.
func (h *AuditTrailHandler) Handle(ctx context.Context, event shared.DomainEvent) error {
	entry, err := auditEntryFor(event)
	if err != nil {
		h.logger.Error("unexpected event type", zap.String("actual", event.EventType()))
		return err
	}

	if err := h.auditRepo.Create(ctx, entry); err != nil {
		h.logger.Error("failed to write audit entry",
			zap.String("event_id", event.EventID().String()),
			zap.String("action", string(entry.Action)),
			zap.Error(err),
		)
		return fmt.Errorf("failed to write audit entry: %w", err)
	}

	h.logger.Debug("audit entry written",
		zap.String("event_id", event.EventID().String()),
		zap.String("action", string(entry.Action)),
	)
	return nil
}

func auditEntryFor(event shared.DomainEvent) (*allocation.AllocationAuditLog, error) {
	switch e := event.(type) {
	case *allocation.PaymentAllocatedEvent:
		entry := allocation.NewAuditLog(e.TenantID(), allocation.AuditActionPaymentAllocated, e.EventID(), e.OccurredAt()).
			WithPayment(e.PaymentID).
			WithActor(e.ActorID).
			WithStates(e.Before, e.After)
		entry.Details["method"] = e.Method
		entry.Details["strategy"] = e.Strategy
		entry.Details["total_allocated"] = e.TotalAllocated.String()
		entry.Details["lines"] = e.Lines
		return entry, nil

	case *allocation.AllocationFailedEvent:
		entry := allocation.NewAuditLog(e.TenantID(), allocation.AuditActionAllocationFailed, e.EventID(), e.OccurredAt()).
			WithPayment(e.PaymentID).
			WithActor(e.ActorID)
		entry.Details["method"] = e.Method
		entry.Details["strategy"] = e.Strategy
		entry.Details["code"] = e.Code
		entry.Details["reason"] = e.Reason
		entry.Details["requested"] = e.Requested.String()
		return entry, nil

	case *allocation.AllocationReversedEvent:
		entry := allocation.NewAuditLog(e.TenantID(), allocation.AuditActionAllocationReversed, e.EventID(), e.OccurredAt()).
			WithPayment(e.PaymentID).
			WithActor(e.ActorID).
			WithStates(e.Before, e.After)
		entry.Details["allocation_id"] = e.AllocationID.String()
		entry.Details["invoice_id"] = e.InvoiceID.String()
		entry.Details["amount"] = e.Amount.String()
		entry.Details["reason"] = e.Reason
		return entry, nil

	case *allocation.PaymentCompletedEvent:
		entry := allocation.NewAuditLog(e.TenantID(), allocation.AuditActionPaymentCompleted, e.EventID(), e.OccurredAt()).
			WithPayment(e.PaymentID)
		entry.Details["payment_number"] = e.PaymentNumber
		return entry, nil

	case *allocation.BatchImportedEvent:
		entry := allocation.NewAuditLog(e.TenantID(), allocation.AuditActionBatchImported, e.EventID(), e.OccurredAt()).
			WithBatch(e.BatchID)
		entry.Details["batch_number"] = e.BatchNumber
		entry.Details["source_type"] = e.SourceType
		entry.Details["status"] = e.Status
		entry.Details["receipt_count"] = e.ReceiptCount
		entry.Details["total_amount"] = e.TotalAmount.String()
		entry.Details["error_count"] = e.ErrorCount
		return entry, nil
	}
	return nil, fmt.Errorf("unexpected event type: %s", event.EventType())
}
