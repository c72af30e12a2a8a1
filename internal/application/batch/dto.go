package batch

import (
	"github.com/erp/payalloc/internal/domain/allocation"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Result statuses that are not batch statuses
const (
	ResultDryRun   = "dry_run"
	ResultRejected = "rejected"
)

// ImportOptions controls one batch import
type ImportOptions struct {
	// DryRun validates the entries and writes nothing
	DryRun bool
	// AllOrNothing rejects the whole import when any entry fails validation.
	// Otherwise valid entries are imported and invalid ones reported.
	AllOrNothing bool
	// Currency of the batch; every entry must match it
	Currency string
	Notes    string

	SourceFile        string
	SourceContent     []byte
	SourceContentType string

	IdempotencyKey string
}

// RowOutcome is the payment created for one entry
type RowOutcome struct {
	Row            int             `json:"row"`
	PaymentID      uuid.UUID       `json:"payment_id"`
	PaymentNumber  string          `json:"payment_number"`
	Amount         decimal.Decimal `json:"amount"`
	AllocatedCount int             `json:"allocated_count"`
	Strategy       string          `json:"strategy,omitempty"`
}

// ImportResult reports a batch import. Batch is nil for dry runs and
// rejected imports.
type ImportResult struct {
	Status           string                       `json:"status"`
	Batch            *allocation.PaymentBatch     `json:"batch,omitempty"`
	Validation       allocation.ValidationSummary `json:"validation"`
	Payments         []RowOutcome                 `json:"payments"`
	ProcessingErrors map[int]string               `json:"processing_errors,omitempty"`
}

// Rejected reports whether an all-or-nothing import was refused
func (r *ImportResult) Rejected() bool {
	return r.Status == ResultRejected
}
