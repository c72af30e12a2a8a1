package allocation

import (
	"bytes"
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/erp/payalloc/internal/domain/allocation"
	"github.com/erp/payalloc/internal/domain/shared"
	"github.com/erp/payalloc/internal/infrastructure/telemetry"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// ReverseAllocation reverses one allocation and returns it in its reversed state
func (s *AllocationService) ReverseAllocation(ctx context.Context, actx AllocationContext, allocationID uuid.UUID, reason string) (*allocation.PaymentAllocation, error) {
	result, err := s.ReverseAllocations(ctx, actx, []uuid.UUID{allocationID}, reason)
	if err != nil {
		return nil, err
	}
	return &result.Reversed[0], nil
}

// ReverseAllocations reverses the allocations in one transaction. All row
// locks are taken up front: payments, then invoices, then the allocations,
// each group in ascending ID order. If any allocation was already reversed
// nothing changes.
func (s *AllocationService) ReverseAllocations(ctx context.Context, actx AllocationContext, allocationIDs []uuid.UUID, reason string) (*ReversalResult, error) {
	ctx, span := telemetry.StartServiceSpan(ctx, "allocation", "reverse",
		telemetry.SpanAttrTenantID, actx.TenantID.String(),
		telemetry.SpanAttrPairCount, len(allocationIDs),
	)
	defer span.End()

	if err := actx.Validate(); err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}
	ids := uniqueSorted(allocationIDs)
	if len(ids) == 0 {
		err := shared.NewDomainError(shared.ErrInvalidInput.Code, "At least one allocation ID is required")
		telemetry.RecordError(span, err)
		return nil, err
	}

	var (
		reversed []allocation.PaymentAllocation
		payments []*allocation.Payment
		opErr    error
	)
	start := time.Now()
	telemetry.WithProfilingLabels(ctx, telemetry.AllocationOperationLabels("reverse", ""), func(c context.Context) {
		opErr = s.txScope.Execute(c, func(repos TransactionalRepositories) error {
			var err error
			reversed, payments, err = s.reverse(c, repos, actx, ids, reason)
			return err
		})
	})
	if opErr != nil {
		s.metrics.RecordFailure(ctx, "reversal", "", failureCode(opErr), time.Since(start))
		telemetry.RecordError(span, opErr)
		return nil, opErr
	}

	s.metrics.RecordReversals(ctx, len(reversed))
	result := &ReversalResult{
		Reversed:      reversed,
		TotalReversed: decimal.Zero,
		Payments:      make([]PaymentBalance, 0, len(payments)),
	}
	for i := range reversed {
		result.TotalReversed = result.TotalReversed.Add(reversed[i].AllocatedAmount)
	}
	for _, p := range payments {
		result.Payments = append(result.Payments, PaymentBalance{
			PaymentID:       p.ID,
			RemainingAmount: p.RemainingAmount,
			Status:          p.Status,
		})
		s.flushEvents(ctx, &p.TenantAggregateRoot)
	}

	s.log(ctx).Info("allocations reversed",
		zap.Int("count", len(reversed)),
		zap.String("total", result.TotalReversed.String()),
	)
	telemetry.SetOK(span)
	return result, nil
}

func (s *AllocationService) reverse(
	ctx context.Context,
	repos TransactionalRepositories,
	actx AllocationContext,
	ids []uuid.UUID,
	reason string,
) ([]allocation.PaymentAllocation, []*allocation.Payment, error) {
	allocRepo := repos.AllocationRepo()
	gateway := repos.InvoiceGateway()

	// A plain read tells us which payments and invoices to lock
	paymentIDs := make([]uuid.UUID, 0, len(ids))
	invoiceIDs := make([]uuid.UUID, 0, len(ids))
	for _, id := range ids {
		a, err := allocRepo.FindByID(ctx, actx.TenantID, id)
		if err != nil {
			return nil, nil, err
		}
		if a.IsReversed() {
			return nil, nil, a.Reverse(reason, actx.ActorID)
		}
		paymentIDs = append(paymentIDs, a.PaymentID)
		invoiceIDs = append(invoiceIDs, a.InvoiceID)
	}

	payments := make(map[uuid.UUID]*allocation.Payment)
	lockedPayments := make([]*allocation.Payment, 0, len(paymentIDs))
	for _, pid := range uniqueSorted(paymentIDs) {
		p, err := repos.PaymentRepo().FindByIDForUpdate(ctx, actx.TenantID, pid)
		if err != nil {
			return nil, nil, err
		}
		payments[pid] = p
		lockedPayments = append(lockedPayments, p)
	}

	invoices, err := gateway.LockForUpdate(ctx, actx.TenantID, uniqueSorted(invoiceIDs))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to lock invoices: %w", err)
	}
	index := allocation.IndexInvoices(invoices)

	locked, err := allocRepo.FindByIDsForUpdate(ctx, actx.TenantID, ids)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to lock allocations: %w", err)
	}
	if len(locked) != len(ids) {
		return nil, nil, shared.NewDomainError(shared.ErrConcurrencyConflict.Code, "Allocations changed while being reversed")
	}

	for i := range locked {
		a := &locked[i]
		p, ok := payments[a.PaymentID]
		if !ok {
			return nil, nil, shared.NewDomainError(shared.ErrConcurrencyConflict.Code, "Allocations changed while being reversed")
		}
		inv, ok := index[a.InvoiceID]
		if !ok {
			return nil, nil, allocation.NotFound("invoice", a.InvoiceID)
		}

		// Reversed by a concurrent request between the read and the lock
		if err := a.Reverse(reason, actx.ActorID); err != nil {
			return nil, nil, err
		}
		before := p.Snapshot()
		if err := p.RestoreAllocation(a.AllocatedAmount); err != nil {
			return nil, nil, err
		}

		statusBefore := inv.Status
		statusAfter := inv.RestorePayment(a.AllocatedAmount, a.InvoiceStatusBefore)
		if err := gateway.IncrementBalance(ctx, inv.ID, a.AllocatedAmount); err != nil {
			return nil, nil, fmt.Errorf("failed to update invoice %s: %w", inv.InvoiceNumber, err)
		}
		if statusAfter != statusBefore {
			if err := gateway.SetStatus(ctx, inv.ID, statusAfter); err != nil {
				return nil, nil, fmt.Errorf("failed to update invoice %s: %w", inv.InvoiceNumber, err)
			}
		}
		if err := allocRepo.Save(ctx, a); err != nil {
			return nil, nil, fmt.Errorf("failed to save allocation: %w", err)
		}
		p.AddDomainEvent(allocation.NewAllocationReversedEvent(p, before, a, actx.ActorID))
	}

	for _, p := range lockedPayments {
		if err := repos.PaymentRepo().Save(ctx, p); err != nil {
			return nil, nil, fmt.Errorf("failed to save payment: %w", err)
		}
	}
	return locked, lockedPayments, nil
}

func failureCode(err error) string {
	if de, ok := shared.AsDomainError(err); ok {
		return de.Code
	}
	return "SYSTEM_ERROR"
}

// uniqueSorted returns ids without duplicates in the byte order Postgres
// uses to compare uuid values
func uniqueSorted(ids []uuid.UUID) []uuid.UUID {
	out := slices.Clone(ids)
	out = slices.DeleteFunc(out, func(id uuid.UUID) bool { return id == uuid.Nil })
	slices.SortFunc(out, func(a, b uuid.UUID) int { return bytes.Compare(a[:], b[:]) })
	return slices.Compact(out)
}
