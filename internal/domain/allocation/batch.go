package allocation

import (
	"fmt"
	"sort"
	"time"

	"github.com/erp/payalloc/internal/domain/shared"
	"github.com/erp/payalloc/internal/domain/shared/valueobject"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// SourceType identifies where the entries of a batch came from
type SourceType string

const (
	SourceTypeCSVImport SourceType = "csv_import"
	SourceTypeManual    SourceType = "manual"
	SourceTypeBankFeed  SourceType = "bank_feed"
)

// IsValid checks if the source type is valid
func (s SourceType) IsValid() bool {
	switch s {
	case SourceTypeCSVImport, SourceTypeManual, SourceTypeBankFeed:
		return true
	}
	return false
}

// String returns the string representation of SourceType
func (s SourceType) String() string {
	return string(s)
}

// BatchStatus represents the processing status of a batch
type BatchStatus string

const (
	BatchStatusPending             BatchStatus = "pending"
	BatchStatusProcessing          BatchStatus = "processing"
	BatchStatusCompleted           BatchStatus = "completed"
	BatchStatusCompletedWithErrors BatchStatus = "completed_with_errors"
	BatchStatusFailed              BatchStatus = "failed"
)

// IsValid checks if the status is valid
func (s BatchStatus) IsValid() bool {
	switch s {
	case BatchStatusPending, BatchStatusProcessing, BatchStatusCompleted,
		BatchStatusCompletedWithErrors, BatchStatusFailed:
		return true
	}
	return false
}

// String returns the string representation of BatchStatus
func (s BatchStatus) String() string {
	return string(s)
}

// IsTerminal returns true if the batch can no longer change
func (s BatchStatus) IsTerminal() bool {
	return s == BatchStatusCompleted || s == BatchStatusCompletedWithErrors || s == BatchStatusFailed
}

// RowError is one problem found in one import row. Row is the row number the
// entry carries in its source.
type RowError struct {
	Row     int    `json:"row"`
	Field   string `json:"field,omitempty"`
	Message string `json:"message"`
}

// ValidationSummary reports the outcome of validating a set of entries
type ValidationSummary struct {
	TotalRows  int              `json:"total_rows"`
	ValidCount int              `json:"valid_count"`
	ErrorCount int              `json:"error_count"`
	Errors     map[int][]string `json:"errors"`
}

// NewValidationSummary groups row errors by row number
func NewValidationSummary(totalRows int, rowErrors []RowError) ValidationSummary {
	errs := make(map[int][]string)
	for _, re := range rowErrors {
		msg := re.Message
		if re.Field != "" {
			msg = fmt.Sprintf("%s: %s", re.Field, re.Message)
		}
		errs[re.Row] = append(errs[re.Row], msg)
	}
	return ValidationSummary{
		TotalRows:  totalRows,
		ValidCount: totalRows - len(errs),
		ErrorCount: len(errs),
		Errors:     errs,
	}
}

// FailedRows returns the rows with errors in ascending order
func (s ValidationSummary) FailedRows() []int {
	rows := make([]int, 0, len(s.Errors))
	for row := range s.Errors {
		rows = append(rows, row)
	}
	sort.Ints(rows)
	return rows
}

// BatchMetadata is stored as JSON alongside the batch
type BatchMetadata struct {
	Validation      ValidationSummary `json:"validation"`
	ProcessingErrs  map[int]string    `json:"processing_errors,omitempty"`
	SourceFile      string            `json:"source_file,omitempty"`
	SourceObjectKey string            `json:"source_object_key,omitempty"`
	AllOrNothing    bool              `json:"all_or_nothing"`
	AllocatedCount  int               `json:"allocated_count"`
	FailureReason   string            `json:"failure_reason,omitempty"`
}

// PaymentBatch groups the payments created from one import
type PaymentBatch struct {
	shared.TenantAggregateRoot
	BatchNumber          string               `json:"batch_number"`
	SourceType           SourceType           `json:"source_type"`
	Status               BatchStatus          `json:"status"`
	ReceiptCount         int                  `json:"receipt_count"`
	TotalAmount          decimal.Decimal      `json:"total_amount"`
	Currency             valueobject.Currency `json:"currency"`
	Notes                string               `json:"notes"`
	Metadata             BatchMetadata        `json:"metadata"`
	ProcessingStartedAt  *time.Time           `json:"processing_started_at"`
	ProcessingFinishedAt *time.Time           `json:"processing_finished_at"`
}

// NewPaymentBatch creates a pending batch
func NewPaymentBatch(tenantID uuid.UUID, batchNumber string, sourceType SourceType, currency valueobject.Currency) (*PaymentBatch, error) {
	if batchNumber == "" {
		return nil, shared.NewDomainError("INVALID_BATCH_NUMBER", "Batch number cannot be empty")
	}
	if !sourceType.IsValid() {
		return nil, shared.NewDomainError("INVALID_SOURCE_TYPE", fmt.Sprintf("Source type '%s' is not valid", sourceType))
	}
	if currency == "" {
		currency = valueobject.DefaultCurrency
	}
	return &PaymentBatch{
		TenantAggregateRoot: shared.NewTenantAggregateRoot(tenantID),
		BatchNumber:         batchNumber,
		SourceType:          sourceType,
		Status:              BatchStatusPending,
		TotalAmount:         decimal.Zero,
		Currency:            currency,
	}, nil
}

// StartProcessing moves a pending batch to processing
func (b *PaymentBatch) StartProcessing() error {
	if b.Status != BatchStatusPending {
		return shared.NewDomainError("INVALID_STATE", fmt.Sprintf("Cannot start batch in %s status", b.Status))
	}
	now := time.Now()
	b.Status = BatchStatusProcessing
	b.ProcessingStartedAt = &now
	b.UpdatedAt = now
	b.IncrementVersion()
	return nil
}

// RecordPayment adds a created payment to the batch totals
func (b *PaymentBatch) RecordPayment(p *Payment) error {
	if b.Status != BatchStatusProcessing {
		return shared.NewDomainError("INVALID_STATE", fmt.Sprintf("Cannot add payments to batch in %s status", b.Status))
	}
	if p.Currency != b.Currency {
		return detailed(ErrCurrencyMismatch, "Payment currency %s differs from batch currency %s", p.Currency, b.Currency)
	}
	b.ReceiptCount++
	b.TotalAmount = b.TotalAmount.Add(p.Amount)
	b.UpdatedAt = time.Now()
	return nil
}

// Finish closes the batch. failedRows counts rows that did not produce a
// payment, whether they failed validation or processing.
func (b *PaymentBatch) Finish(failedRows int) error {
	if b.Status != BatchStatusProcessing {
		return shared.NewDomainError("INVALID_STATE", fmt.Sprintf("Cannot finish batch in %s status", b.Status))
	}
	now := time.Now()
	switch {
	case failedRows == 0:
		b.Status = BatchStatusCompleted
	case b.ReceiptCount == 0:
		b.Status = BatchStatusFailed
		b.Metadata.FailureReason = "no entries could be imported"
	default:
		b.Status = BatchStatusCompletedWithErrors
	}
	b.ProcessingFinishedAt = &now
	b.UpdatedAt = now
	b.IncrementVersion()

	b.AddDomainEvent(NewBatchImportedEvent(b))
	return nil
}

// Fail marks the batch as failed with a reason
func (b *PaymentBatch) Fail(reason string) error {
	if b.Status.IsTerminal() {
		return shared.NewDomainError("INVALID_STATE", fmt.Sprintf("Cannot fail batch in %s status", b.Status))
	}
	now := time.Now()
	b.Status = BatchStatusFailed
	b.Metadata.FailureReason = reason
	b.ProcessingFinishedAt = &now
	b.UpdatedAt = now
	b.IncrementVersion()

	b.AddDomainEvent(NewBatchImportedEvent(b))
	return nil
}

// BatchNumberPrefix returns the per-day prefix of batch numbers, BATCH-YYYYMMDD-
func BatchNumberPrefix(day time.Time) string {
	return "BATCH-" + day.Format("20060102") + "-"
}

// FormatBatchNumber renders the n-th batch number of a day
func FormatBatchNumber(day time.Time, n int) string {
	return fmt.Sprintf("%s%03d", BatchNumberPrefix(day), n)
}

// PaymentNumberPrefix returns the per-day prefix of payment numbers, PAY-YYYYMMDD-
func PaymentNumberPrefix(day time.Time) string {
	return "PAY-" + day.Format("20060102") + "-"
}

// FormatPaymentNumber renders the n-th payment number of a day
func FormatPaymentNumber(day time.Time, n int) string {
	return fmt.Sprintf("%s%06d", PaymentNumberPrefix(day), n)
}
