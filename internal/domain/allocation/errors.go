package allocation

import (
	"fmt"

	"github.com/erp/payalloc/internal/domain/shared"
	"github.com/erp/payalloc/internal/domain/shared/strategy"
	"github.com/google/uuid"
)

// Validation errors. They are reported before any write happens.
var (
	ErrInvalidAmount             = shared.NewDomainError("INVALID_AMOUNT", "Allocation amount must be positive")
	ErrExceedsBalanceDue         = shared.NewDomainError("EXCEEDS_BALANCE_DUE", "Allocation amount exceeds invoice balance due")
	ErrExceedsRemainingAmount    = shared.NewDomainError("EXCEEDS_REMAINING_AMOUNT", "Allocation total exceeds payment remaining amount")
	ErrCrossCustomerAllocation   = shared.NewDomainError("CROSS_CUSTOMER_ALLOCATION", "Invoice belongs to a different customer")
	ErrDuplicateAllocationTarget = shared.NewDomainError("DUPLICATE_ALLOCATION_TARGET", "Invoice appears more than once in the allocation request")
	ErrInvalidStrategyOptions    = strategy.ErrInvalidStrategyOptions
	ErrCurrencyMismatch          = shared.NewDomainError("CURRENCY_MISMATCH", "Invoice currency differs from payment currency")
	ErrEmptyAllocation           = shared.NewDomainError("EMPTY_ALLOCATION", "At least one allocation is required")
	ErrUnknownStrategy           = shared.NewDomainError("UNKNOWN_STRATEGY", "Allocation strategy is not registered")
)

// State errors. The request conflicts with an earlier action.
var (
	ErrAlreadyReversed       = shared.NewDomainError("ALREADY_REVERSED", "Allocation has already been reversed")
	ErrPaymentFullyAllocated = shared.NewDomainError("PAYMENT_FULLY_ALLOCATED", "Payment has no remaining amount to allocate")
	ErrInvoiceNotOpen        = shared.NewDomainError("INVOICE_NOT_OPEN", "Invoice is paid or cancelled")
	ErrPaymentClosed         = shared.NewDomainError("PAYMENT_CLOSED", "Payment is completed and can no longer change")
)

// ErrNoCandidates signals that a payment has nothing to allocate against.
// Automatic allocation treats it as "zero allocations", not as a failure.
var ErrNoCandidates = shared.NewDomainError("NO_CANDIDATES", "No open invoices are eligible for allocation")

var validationCodes = map[string]struct{}{
	ErrInvalidAmount.Code:             {},
	ErrExceedsBalanceDue.Code:         {},
	ErrExceedsRemainingAmount.Code:    {},
	ErrCrossCustomerAllocation.Code:   {},
	ErrDuplicateAllocationTarget.Code: {},
	ErrInvalidStrategyOptions.Code:    {},
	ErrCurrencyMismatch.Code:          {},
	ErrEmptyAllocation.Code:           {},
	ErrUnknownStrategy.Code:           {},
	shared.ErrInvalidInput.Code:       {},
}

var stateCodes = map[string]struct{}{
	ErrAlreadyReversed.Code:            {},
	ErrPaymentFullyAllocated.Code:      {},
	ErrInvoiceNotOpen.Code:             {},
	ErrPaymentClosed.Code:              {},
	shared.ErrInvalidState.Code:        {},
	shared.ErrConcurrencyConflict.Code: {},
	shared.ErrDuplicateRequest.Code:    {},
}

// IsValidationError reports whether err is a recoverable input error
func IsValidationError(err error) bool {
	de, ok := shared.AsDomainError(err)
	if !ok {
		return false
	}
	_, hit := validationCodes[de.Code]
	return hit
}

// IsStateError reports whether err is a conflict with prior state
func IsStateError(err error) bool {
	de, ok := shared.AsDomainError(err)
	if !ok {
		return false
	}
	_, hit := stateCodes[de.Code]
	return hit
}

// IsNotFound reports whether err is a not-found domain error
func IsNotFound(err error) bool {
	de, ok := shared.AsDomainError(err)
	return ok && de.Code == shared.ErrNotFound.Code
}

func detailed(sentinel *shared.DomainError, format string, args ...any) *shared.DomainError {
	return shared.NewDomainError(sentinel.Code, fmt.Sprintf(format, args...))
}

// NotFound builds a NOT_FOUND error naming the missing record
func NotFound(kind string, id uuid.UUID) *shared.DomainError {
	return detailed(shared.ErrNotFound, "%s %s not found", kind, id)
}
