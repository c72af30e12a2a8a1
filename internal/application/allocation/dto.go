package allocation

import (
	"time"

	"github.com/erp/payalloc/internal/domain/allocation"
	"github.com/erp/payalloc/internal/domain/shared/strategy"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// RecordPaymentRequest creates a payment, optionally allocating it right away
type RecordPaymentRequest struct {
	CustomerID      uuid.UUID
	Amount          decimal.Decimal
	Currency        string
	PaymentMethod   string
	PaymentDate     time.Time
	ReferenceNumber string
	Notes           string
	BatchID         *uuid.UUID
	// AutoAllocate runs Strategy against the customer's open invoices in the
	// same transaction that creates the payment
	AutoAllocate bool
	Strategy     string
}

// RecordPaymentResult is the created payment and any allocations made with it
type RecordPaymentResult struct {
	Payment     *allocation.Payment            `json:"payment"`
	Allocations []allocation.PaymentAllocation `json:"allocations"`
	Strategy    string                         `json:"strategy,omitempty"`
}

// ProposalOptions tunes an automatic allocation run
type ProposalOptions struct {
	AsOf               *time.Time
	Percentages        []decimal.Decimal
	PriorityInvoiceIDs []uuid.UUID
}

// ProposalResult is a strategy's preview for a payment. Nothing is written.
type ProposalResult struct {
	PaymentID            uuid.UUID                     `json:"payment_id"`
	Strategy             string                        `json:"strategy"`
	AvailableAmount      decimal.Decimal               `json:"available_amount"`
	CandidateCount       int                           `json:"candidate_count"`
	Proposals            []strategy.AllocationProposal `json:"proposals"`
	TotalAllocated       decimal.Decimal               `json:"total_allocated"`
	UnallocatedRemainder decimal.Decimal               `json:"unallocated_remainder"`
}

// Pairs converts the proposals into an execution request
func (r *ProposalResult) Pairs() []allocation.AllocationPair {
	pairs := make([]allocation.AllocationPair, 0, len(r.Proposals))
	for _, p := range r.Proposals {
		if p.Amount.IsPositive() {
			pairs = append(pairs, allocation.AllocationPair{InvoiceID: p.InvoiceID, Amount: p.Amount})
		}
	}
	return pairs
}

// ExecuteAllocationRequest applies explicit (invoice, amount) pairs
type ExecuteAllocationRequest struct {
	PaymentID      uuid.UUID
	Pairs          []allocation.AllocationPair
	Method         allocation.AllocationMethod
	Strategy       string
	IdempotencyKey string
}

// AllocationResult reports the committed allocations and the payment balance
type AllocationResult struct {
	PaymentID        uuid.UUID                      `json:"payment_id"`
	PaymentNumber    string                         `json:"payment_number"`
	Method           allocation.AllocationMethod    `json:"method"`
	Strategy         string                         `json:"strategy,omitempty"`
	Allocations      []allocation.PaymentAllocation `json:"allocations"`
	TotalAllocated   decimal.Decimal                `json:"total_allocated"`
	RemainingAmount  decimal.Decimal                `json:"remaining_amount"`
	IsFullyAllocated bool                           `json:"is_fully_allocated"`
	PaymentStatus    allocation.PaymentStatus       `json:"payment_status"`
}

// ReversalResult reports the allocations reversed by one request
type ReversalResult struct {
	Reversed      []allocation.PaymentAllocation `json:"reversed"`
	TotalReversed decimal.Decimal                `json:"total_reversed"`
	Payments      []PaymentBalance               `json:"payments"`
}

// PaymentBalance is a payment's balance after a change
type PaymentBalance struct {
	PaymentID       uuid.UUID                `json:"payment_id"`
	RemainingAmount decimal.Decimal          `json:"remaining_amount"`
	Status          allocation.PaymentStatus `json:"status"`
}

// AllocationSummary describes how much of a payment has been allocated
type AllocationSummary struct {
	PaymentID         uuid.UUID                      `json:"payment_id"`
	PaymentNumber     string                         `json:"payment_number"`
	Currency          string                         `json:"currency"`
	TotalAmount       decimal.Decimal                `json:"total_amount"`
	AllocatedAmount   decimal.Decimal                `json:"allocated_amount"`
	RemainingAmount   decimal.Decimal                `json:"remaining_amount"`
	IsFullyAllocated  bool                           `json:"is_fully_allocated"`
	Status            allocation.PaymentStatus       `json:"status"`
	AllocationCount   int                            `json:"allocation_count"`
	ActiveAllocations []allocation.PaymentAllocation `json:"active_allocations"`
}

// InvoiceBalance is one open invoice in a customer balance summary
type InvoiceBalance struct {
	InvoiceID     uuid.UUID                `json:"invoice_id"`
	InvoiceNumber string                   `json:"invoice_number"`
	IssueDate     time.Time                `json:"issue_date"`
	DueDate       time.Time                `json:"due_date"`
	TotalAmount   decimal.Decimal          `json:"total_amount"`
	BalanceDue    decimal.Decimal          `json:"balance_due"`
	Status        allocation.InvoiceStatus `json:"status"`
	IsOverdue     bool                     `json:"is_overdue"`
	DaysOverdue   int                      `json:"days_overdue"`
}

// CustomerBalance summarizes what a customer owes and has paid
type CustomerBalance struct {
	CustomerID          uuid.UUID        `json:"customer_id"`
	AsOf                time.Time        `json:"as_of"`
	TotalInvoices       int              `json:"total_invoices"`
	TotalBalanceDue     decimal.Decimal  `json:"total_balance_due"`
	TotalAllocated      decimal.Decimal  `json:"total_allocated"`
	UnallocatedPayments decimal.Decimal  `json:"unallocated_payments"`
	NetBalance          decimal.Decimal  `json:"net_balance"`
	Invoices            []InvoiceBalance `json:"invoices"`
}

// StrategyInfo describes a registered strategy
type StrategyInfo struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	BestFor     string `json:"best_for"`
	IsDefault   bool   `json:"is_default"`
}

// StrategyUsageReport aggregates allocations per strategy over a period
type StrategyUsageReport struct {
	From        time.Time                  `json:"from"`
	To          time.Time                  `json:"to"`
	Strategies  []allocation.StrategyUsage `json:"strategies"`
	TotalCount  int64                      `json:"total_count"`
	TotalAmount decimal.Decimal            `json:"total_amount"`
}

// AutoAllocateRequest proposes with a strategy and executes the proposal
type AutoAllocateRequest struct {
	PaymentID      uuid.UUID
	Strategy       string
	Options        ProposalOptions
	IdempotencyKey string
}
