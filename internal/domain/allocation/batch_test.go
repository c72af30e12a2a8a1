package allocation

import (
	"testing"
	"time"

	"github.com/erp/payalloc/internal/domain/shared"
	"github.com/erp/payalloc/internal/domain/shared/valueobject"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func createProcessingBatch(t *testing.T) *PaymentBatch {
	t.Helper()
	b, err := NewPaymentBatch(uuid.New(), "BATCH-20240601-001", SourceTypeCSVImport, valueobject.USD)
	require.NoError(t, err)
	require.NoError(t, b.StartProcessing())
	return b
}

func TestNewPaymentBatch(t *testing.T) {
	b, err := NewPaymentBatch(uuid.New(), "BATCH-20240601-001", SourceTypeManual, "")
	require.NoError(t, err)
	assert.Equal(t, BatchStatusPending, b.Status)
	assert.Equal(t, valueobject.DefaultCurrency, b.Currency)
	assert.True(t, b.TotalAmount.IsZero())

	_, err = NewPaymentBatch(uuid.New(), "", SourceTypeManual, "")
	assert.Error(t, err)
	_, err = NewPaymentBatch(uuid.New(), "B-1", SourceType("ftp"), "")
	assert.Error(t, err)
}

func TestPaymentBatch_Lifecycle(t *testing.T) {
	b := createProcessingBatch(t)
	assert.NotNil(t, b.ProcessingStartedAt)
	assert.ErrorIs(t, b.StartProcessing(), shared.ErrInvalidState)

	p1 := createTestPayment(t, "100.00")
	p2 := createTestPayment(t, "25.50")
	require.NoError(t, b.RecordPayment(p1))
	require.NoError(t, b.RecordPayment(p2))
	assert.Equal(t, 2, b.ReceiptCount)
	assert.True(t, b.TotalAmount.Equal(dec("125.50")))

	require.NoError(t, b.Finish(0))
	assert.Equal(t, BatchStatusCompleted, b.Status)
	assert.NotNil(t, b.ProcessingFinishedAt)
	assert.True(t, b.Status.IsTerminal())

	events := b.GetDomainEvents()
	require.Len(t, events, 1)
	assert.Equal(t, EventTypeBatchImported, events[0].EventType())

	assert.ErrorIs(t, b.RecordPayment(p1), shared.ErrInvalidState)
	assert.ErrorIs(t, b.Fail("late"), shared.ErrInvalidState)
}

func TestPaymentBatch_FinishStatuses(t *testing.T) {
	t.Run("some rows failed", func(t *testing.T) {
		b := createProcessingBatch(t)
		require.NoError(t, b.RecordPayment(createTestPayment(t, "1.00")))
		require.NoError(t, b.Finish(2))
		assert.Equal(t, BatchStatusCompletedWithErrors, b.Status)
	})

	t.Run("every row failed", func(t *testing.T) {
		b := createProcessingBatch(t)
		require.NoError(t, b.Finish(3))
		assert.Equal(t, BatchStatusFailed, b.Status)
		assert.NotEmpty(t, b.Metadata.FailureReason)
	})
}

func TestPaymentBatch_RecordPaymentCurrencyMismatch(t *testing.T) {
	b, err := NewPaymentBatch(uuid.New(), "B-1", SourceTypeManual, valueobject.EUR)
	require.NoError(t, err)
	require.NoError(t, b.StartProcessing())

	err = b.RecordPayment(createTestPayment(t, "10"))
	assert.ErrorIs(t, err, ErrCurrencyMismatch)
	assert.Equal(t, 0, b.ReceiptCount)
}

func TestNewValidationSummary(t *testing.T) {
	s := NewValidationSummary(5, []RowError{
		{Row: 2, Field: "amount", Message: "must be greater than 0"},
		{Row: 2, Field: "payment_date", Message: "is required"},
		{Row: 4, Message: "unknown customer"},
	})

	assert.Equal(t, 5, s.TotalRows)
	assert.Equal(t, 3, s.ValidCount)
	assert.Equal(t, 2, s.ErrorCount)
	assert.Equal(t, []string{"amount: must be greater than 0", "payment_date: is required"}, s.Errors[2])
	assert.Equal(t, []int{2, 4}, s.FailedRows())
}

func TestNumberFormats(t *testing.T) {
	day := time.Date(2024, 3, 9, 15, 0, 0, 0, time.UTC)
	assert.Equal(t, "BATCH-20240309-007", FormatBatchNumber(day, 7))
	assert.Equal(t, "PAY-20240309-000042", FormatPaymentNumber(day, 42))
}
