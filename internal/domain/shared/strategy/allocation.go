package strategy

import (
	"time"

	"github.com/erp/payalloc/internal/domain/shared"
	"github.com/erp/payalloc/internal/domain/shared/valueobject"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Allocation strategy names
const (
	AllocationFIFO              = "fifo"
	AllocationLargestFirst      = "largest_first"
	AllocationOverdueFirst      = "overdue_first"
	AllocationProportional      = "proportional"
	AllocationPercentageBased   = "percentage_based"
	AllocationEqualDistribution = "equal_distribution"
	AllocationCustomPriority    = "custom_priority"
)

// ErrInvalidStrategyOptions is returned when the options passed to a strategy
// cannot be applied to the candidate set.
var ErrInvalidStrategyOptions = shared.NewDomainError("INVALID_STRATEGY_OPTIONS", "Invalid allocation strategy options")

// InvalidOptions builds a detailed ErrInvalidStrategyOptions
func InvalidOptions(message string) *shared.DomainError {
	return shared.NewDomainError(ErrInvalidStrategyOptions.Code, message)
}

// AllocationCandidate is an open invoice that may receive part of a payment
type AllocationCandidate struct {
	InvoiceID     uuid.UUID
	InvoiceNumber string
	CustomerID    uuid.UUID
	IssueDate     time.Time
	DueDate       time.Time
	BalanceDue    decimal.Decimal
}

// IsOverdue reports whether the due date lies before the day of asOf
func (c AllocationCandidate) IsOverdue(asOf time.Time) bool {
	return c.DaysOverdue(asOf) > 0
}

// DaysOverdue returns whole days past the due date, zero when not overdue
func (c AllocationCandidate) DaysOverdue(asOf time.Time) int {
	due := truncateDay(c.DueDate)
	today := truncateDay(asOf)
	if !due.Before(today) {
		return 0
	}
	return int(today.Sub(due).Hours() / 24)
}

func truncateDay(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// AllocationOptions tunes a strategy run
type AllocationOptions struct {
	// Currency determines the minor unit used for flooring and remainders
	Currency valueobject.Currency
	// AsOf is "today" for overdue calculations
	AsOf time.Time
	// Percentages per candidate for percentage_based, aligned with the
	// strategy's default ordering (issue date, then invoice ID)
	Percentages []decimal.Decimal
	// PriorityInvoiceIDs is the explicit order for custom_priority
	PriorityInvoiceIDs []uuid.UUID
}

// AllocationProposal is one proposed (invoice, amount) pair
type AllocationProposal struct {
	InvoiceID     uuid.UUID       `json:"invoice_id"`
	InvoiceNumber string          `json:"invoice_number,omitempty"`
	Amount        decimal.Decimal `json:"amount"`
	BalanceBefore decimal.Decimal `json:"balance_before"`
	BalanceAfter  decimal.Decimal `json:"balance_after"`
	Note          string          `json:"note,omitempty"`
}

// AllocationResult is the output of a strategy
type AllocationResult struct {
	Strategy             string               `json:"strategy"`
	Proposals            []AllocationProposal `json:"proposals"`
	TotalAllocated       decimal.Decimal      `json:"total_allocated"`
	UnallocatedRemainder decimal.Decimal      `json:"unallocated_remainder"`
}

// PaymentAllocationStrategy maps an available amount and a candidate set to
// proposals. Implementations are pure and deterministic: no I/O, and the only
// time input is options.AsOf.
type PaymentAllocationStrategy interface {
	Strategy
	// Allocate distributes amountAvailable across candidates
	Allocate(amountAvailable decimal.Decimal, candidates []AllocationCandidate, opts AllocationOptions) (AllocationResult, error)
}
