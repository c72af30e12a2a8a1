package allocation

import (
	"context"
	"fmt"
	"time"

	"github.com/erp/payalloc/internal/domain/allocation"
	"github.com/erp/payalloc/internal/domain/shared"
	"github.com/erp/payalloc/internal/infrastructure/telemetry"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// GetPayment returns a payment by ID
func (s *AllocationService) GetPayment(ctx context.Context, actx AllocationContext, paymentID uuid.UUID) (*allocation.Payment, error) {
	if err := actx.Validate(); err != nil {
		return nil, err
	}
	return s.payments.FindByID(ctx, actx.TenantID, paymentID)
}

// ListPayments returns a page of payments
func (s *AllocationService) ListPayments(ctx context.Context, actx AllocationContext, filter allocation.PaymentFilter) (shared.Paginated[allocation.Payment], error) {
	if err := actx.Validate(); err != nil {
		return shared.Paginated[allocation.Payment]{}, err
	}
	filter.Filter = filter.Filter.Normalize()
	items, total, err := s.payments.FindAll(ctx, actx.TenantID, filter)
	if err != nil {
		return shared.Paginated[allocation.Payment]{}, fmt.Errorf("failed to list payments: %w", err)
	}
	return shared.NewPaginated(items, total, filter.Page, filter.PageSize), nil
}

// ListAllocations returns a page of allocations matching the filter
func (s *AllocationService) ListAllocations(ctx context.Context, actx AllocationContext, filter allocation.AllocationFilter) (shared.Paginated[allocation.PaymentAllocation], error) {
	ctx, span := telemetry.StartServiceSpan(ctx, "allocation", "list_allocations",
		telemetry.SpanAttrTenantID, actx.TenantID.String(),
	)
	defer span.End()

	if err := actx.Validate(); err != nil {
		telemetry.RecordError(span, err)
		return shared.Paginated[allocation.PaymentAllocation]{}, err
	}
	if filter.Status != nil && !filter.Status.IsValid() {
		err := shared.NewDomainError(shared.ErrInvalidInput.Code, fmt.Sprintf("Allocation status '%s' is not valid", *filter.Status))
		telemetry.RecordError(span, err)
		return shared.Paginated[allocation.PaymentAllocation]{}, err
	}
	if filter.Method != nil && !filter.Method.IsValid() {
		err := shared.NewDomainError(shared.ErrInvalidInput.Code, fmt.Sprintf("Allocation method '%s' is not valid", *filter.Method))
		telemetry.RecordError(span, err)
		return shared.Paginated[allocation.PaymentAllocation]{}, err
	}

	filter.Filter = filter.Filter.Normalize()
	items, total, err := s.allocations.FindAll(ctx, actx.TenantID, filter)
	if err != nil {
		telemetry.RecordError(span, err)
		return shared.Paginated[allocation.PaymentAllocation]{}, fmt.Errorf("failed to list allocations: %w", err)
	}
	telemetry.SetOK(span)
	return shared.NewPaginated(items, total, filter.Page, filter.PageSize), nil
}

// GetAllocationSummary reports how much of a payment is allocated and where
func (s *AllocationService) GetAllocationSummary(ctx context.Context, actx AllocationContext, paymentID uuid.UUID) (*AllocationSummary, error) {
	if err := actx.Validate(); err != nil {
		return nil, err
	}
	payment, err := s.payments.FindByID(ctx, actx.TenantID, paymentID)
	if err != nil {
		return nil, err
	}
	allocs, err := s.allocations.FindByPayment(ctx, actx.TenantID, paymentID)
	if err != nil {
		return nil, fmt.Errorf("failed to load allocations: %w", err)
	}

	active := make([]allocation.PaymentAllocation, 0, len(allocs))
	for i := range allocs {
		if allocs[i].IsActive() {
			active = append(active, allocs[i])
		}
	}
	return &AllocationSummary{
		PaymentID:         payment.ID,
		PaymentNumber:     payment.PaymentNumber,
		Currency:          payment.Currency.String(),
		TotalAmount:       payment.Amount,
		AllocatedAmount:   payment.AllocatedAmount(),
		RemainingAmount:   payment.RemainingAmount,
		IsFullyAllocated:  payment.IsFullyAllocated(),
		Status:            payment.Status,
		AllocationCount:   len(active),
		ActiveAllocations: active,
	}, nil
}

// GetCustomerBalance summarizes a customer's open invoices and unallocated
// payments. NetBalance is what the customer still owes after applying the
// unallocated funds; a negative value is a credit.
func (s *AllocationService) GetCustomerBalance(ctx context.Context, actx AllocationContext, customerID uuid.UUID) (*CustomerBalance, error) {
	ctx, span := telemetry.StartServiceSpan(ctx, "allocation", "customer_balance",
		telemetry.SpanAttrTenantID, actx.TenantID.String(),
		telemetry.SpanAttrCustomerID, customerID.String(),
	)
	defer span.End()

	if err := actx.Validate(); err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}

	invoices, err := s.invoices.FindOpenForCustomer(ctx, actx.TenantID, customerID)
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, fmt.Errorf("failed to load invoices: %w", err)
	}
	allocated, err := s.allocations.SumActiveByCustomer(ctx, actx.TenantID, customerID)
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, fmt.Errorf("failed to sum allocations: %w", err)
	}
	unallocated, err := s.payments.SumUnallocatedByCustomer(ctx, actx.TenantID, customerID)
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, fmt.Errorf("failed to sum payments: %w", err)
	}

	asOf := s.now()
	balance := &CustomerBalance{
		CustomerID:          customerID,
		AsOf:                asOf,
		TotalInvoices:       len(invoices),
		TotalBalanceDue:     decimal.Zero,
		TotalAllocated:      allocated,
		UnallocatedPayments: unallocated,
		Invoices:            make([]InvoiceBalance, 0, len(invoices)),
	}
	for i := range invoices {
		inv := &invoices[i]
		balance.TotalBalanceDue = balance.TotalBalanceDue.Add(inv.BalanceDue)
		balance.Invoices = append(balance.Invoices, InvoiceBalance{
			InvoiceID:     inv.ID,
			InvoiceNumber: inv.InvoiceNumber,
			IssueDate:     inv.IssueDate,
			DueDate:       inv.DueDate,
			TotalAmount:   inv.TotalAmount,
			BalanceDue:    inv.BalanceDue,
			Status:        inv.Status,
			IsOverdue:     inv.IsOverdue(asOf),
			DaysOverdue:   inv.DaysOverdue(asOf),
		})
	}
	balance.NetBalance = balance.TotalBalanceDue.Sub(unallocated)

	telemetry.SetOK(span)
	return balance, nil
}

// ListStrategies describes every registered allocation strategy
func (s *AllocationService) ListStrategies() []StrategyInfo {
	def := s.strategies.GetDefault()
	registered := s.strategies.AllocationStrategies()
	out := make([]StrategyInfo, 0, len(registered))
	for _, st := range registered {
		out = append(out, StrategyInfo{
			Name:        st.Name(),
			Description: st.Description(),
			BestFor:     st.BestFor(),
			IsDefault:   st.Name() == def,
		})
	}
	return out
}

// StrategyUsageReport aggregates active allocations per strategy between
// from and to, both inclusive
func (s *AllocationService) StrategyUsageReport(ctx context.Context, actx AllocationContext, from, to time.Time) (*StrategyUsageReport, error) {
	if err := actx.Validate(); err != nil {
		return nil, err
	}
	if to.Before(from) {
		return nil, shared.NewDomainError(shared.ErrInvalidInput.Code, "Report end date is before its start date")
	}

	usage, err := s.allocations.StrategyUsage(ctx, actx.TenantID, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate strategy usage: %w", err)
	}
	report := &StrategyUsageReport{
		From:        from,
		To:          to,
		Strategies:  usage,
		TotalAmount: decimal.Zero,
	}
	for _, u := range usage {
		report.TotalCount += u.Count
		report.TotalAmount = report.TotalAmount.Add(u.Total)
	}
	return report, nil
}

// GetAuditTrail returns the audit entries of a payment, oldest first
func (s *AllocationService) GetAuditTrail(ctx context.Context, actx AllocationContext, paymentID uuid.UUID) ([]allocation.AllocationAuditLog, error) {
	if err := actx.Validate(); err != nil {
		return nil, err
	}
	if s.auditLogs == nil {
		return []allocation.AllocationAuditLog{}, nil
	}
	if _, err := s.payments.FindByID(ctx, actx.TenantID, paymentID); err != nil {
		return nil, err
	}
	entries, err := s.auditLogs.FindByPayment(ctx, actx.TenantID, paymentID)
	if err != nil {
		return nil, fmt.Errorf("failed to load audit trail: %w", err)
	}
	return entries, nil
}
