package dto

import (
	"bytes"
	"encoding/json"

	"github.com/erp/payalloc/internal/application/batch"
	"github.com/erp/payalloc/internal/domain/allocation"
	batchimport "github.com/erp/payalloc/internal/infrastructure/import"
)

// ImportBatchRequest is the body of POST /batches. Entries use the same
// column names as an uploaded sheet.
type ImportBatchRequest struct {
	SourceType   string          `json:"source_type" binding:"omitempty,oneof=csv_import manual bank_feed"`
	Currency     string          `json:"currency" binding:"omitempty,len=3"`
	Notes        string          `json:"notes" binding:"max=500"`
	DryRun       bool            `json:"dry_run"`
	AllOrNothing bool            `json:"all_or_nothing"`
	Entries      json.RawMessage `json:"entries" binding:"required"`
}

// Source returns the requested source type, manual when omitted
func (r ImportBatchRequest) Source() allocation.SourceType {
	if r.SourceType == "" {
		return allocation.SourceTypeManual
	}
	return allocation.SourceType(r.SourceType)
}

// ParseEntries decodes the entries array
func (r ImportBatchRequest) ParseEntries(maxRows int) ([]batchimport.PaymentEntry, error) {
	rows, err := batchimport.ParseJSON(bytes.NewReader(r.Entries), maxRows)
	if err != nil {
		return nil, err
	}
	return batchimport.EntriesFromRows(rows), nil
}

// Options converts the body into import options
func (r ImportBatchRequest) Options(idempotencyKey string) batch.ImportOptions {
	return batch.ImportOptions{
		DryRun:         r.DryRun,
		AllOrNothing:   r.AllOrNothing,
		Currency:       r.Currency,
		Notes:          r.Notes,
		IdempotencyKey: idempotencyKey,
	}
}

// UploadBatchForm holds the non-file fields of POST /batches/upload
type UploadBatchForm struct {
	Format       string `form:"format" binding:"omitempty,oneof=csv xlsx json"`
	Currency     string `form:"currency" binding:"omitempty,len=3"`
	Notes        string `form:"notes" binding:"max=500"`
	DryRun       bool   `form:"dry_run"`
	AllOrNothing bool   `form:"all_or_nothing"`
}

// BatchListQuery is the query of GET /batches
type BatchListQuery struct {
	ListRequest
	Status     string `form:"status" binding:"omitempty,oneof=pending processing completed completed_with_errors failed"`
	SourceType string `form:"source_type" binding:"omitempty,oneof=csv_import manual bank_feed"`
	FromDate   string `form:"from_date"`
	ToDate     string `form:"to_date"`
}

// ToFilter converts the query into a repository filter
func (q BatchListQuery) ToFilter() (allocation.BatchFilter, error) {
	filter := allocation.BatchFilter{Filter: q.Filter()}
	if q.Status != "" {
		status := allocation.BatchStatus(q.Status)
		filter.Status = &status
	}
	if q.SourceType != "" {
		source := allocation.SourceType(q.SourceType)
		filter.SourceType = &source
	}
	var err error
	if filter.FromDate, err = parseOptionalDate("from_date", q.FromDate); err != nil {
		return filter, err
	}
	if filter.ToDate, err = parseOptionalDate("to_date", q.ToDate); err != nil {
		return filter, err
	}
	return filter, nil
}
