package dto

import (
	"fmt"
	"strings"
	"time"

	allocationapp "github.com/erp/payalloc/internal/application/allocation"
	"github.com/erp/payalloc/internal/domain/allocation"
	"github.com/erp/payalloc/internal/domain/shared"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// dateLayouts are accepted for date-only request fields
var dateLayouts = []string{time.RFC3339, "2006-01-02"}

// ParseDate parses an RFC 3339 timestamp or a YYYY-MM-DD date
func ParseDate(field, value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return t, nil
		}
	}
	return time.Time{}, shared.NewDomainError(shared.ErrInvalidInput.Code,
		fmt.Sprintf("%s must be a date (YYYY-MM-DD) or RFC 3339 timestamp", field))
}

func parseOptionalDate(field, value string) (*time.Time, error) {
	if strings.TrimSpace(value) == "" {
		return nil, nil
	}
	t, err := ParseDate(field, value)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// RecordPaymentRequest is the body of POST /payments
type RecordPaymentRequest struct {
	CustomerID      string          `json:"customer_id" binding:"required,uuid"`
	Amount          decimal.Decimal `json:"amount"`
	Currency        string          `json:"currency" binding:"omitempty,len=3"`
	PaymentMethod   string          `json:"payment_method" binding:"required,max=30"`
	PaymentDate     string          `json:"payment_date" binding:"required"`
	ReferenceNumber string          `json:"reference_number" binding:"max=100"`
	Notes           string          `json:"notes" binding:"max=500"`
	AutoAllocate    bool            `json:"auto_allocate"`
	Strategy        string          `json:"strategy" binding:"max=50"`
}

// ToCommand converts the body into a service request
func (r RecordPaymentRequest) ToCommand() (allocationapp.RecordPaymentRequest, error) {
	paidOn, err := ParseDate("payment_date", r.PaymentDate)
	if err != nil {
		return allocationapp.RecordPaymentRequest{}, err
	}
	return allocationapp.RecordPaymentRequest{
		CustomerID:      uuid.MustParse(r.CustomerID),
		Amount:          r.Amount,
		Currency:        strings.ToUpper(r.Currency),
		PaymentMethod:   strings.ToLower(r.PaymentMethod),
		PaymentDate:     paidOn,
		ReferenceNumber: r.ReferenceNumber,
		Notes:           r.Notes,
		AutoAllocate:    r.AutoAllocate,
		Strategy:        strings.ToLower(r.Strategy),
	}, nil
}

// ProposeRequest is the body of the propose and auto-allocate endpoints
type ProposeRequest struct {
	Strategy           string            `json:"strategy" binding:"max=50"`
	AsOf               string            `json:"as_of"`
	Percentages        []decimal.Decimal `json:"percentages"`
	PriorityInvoiceIDs []string          `json:"priority_invoice_ids" binding:"omitempty,dive,uuid"`
}

// StrategyName returns the lower-cased strategy, empty for the default
func (r ProposeRequest) StrategyName() string {
	return strings.ToLower(strings.TrimSpace(r.Strategy))
}

// ToOptions converts the body into strategy options
func (r ProposeRequest) ToOptions() (allocationapp.ProposalOptions, error) {
	asOf, err := parseOptionalDate("as_of", r.AsOf)
	if err != nil {
		return allocationapp.ProposalOptions{}, err
	}
	opts := allocationapp.ProposalOptions{
		AsOf:        asOf,
		Percentages: r.Percentages,
	}
	for _, id := range r.PriorityInvoiceIDs {
		opts.PriorityInvoiceIDs = append(opts.PriorityInvoiceIDs, uuid.MustParse(id))
	}
	return opts, nil
}

// AllocationPairRequest is one (invoice, amount) pair
type AllocationPairRequest struct {
	InvoiceID string          `json:"invoice_id" binding:"required,uuid"`
	Amount    decimal.Decimal `json:"amount"`
}

// ExecuteAllocationRequest is the body of POST /payments/:id/allocations.
// Pairs taken from a proposal carry its strategy and are recorded as
// automatic; otherwise the allocation is manual.
type ExecuteAllocationRequest struct {
	Allocations []AllocationPairRequest `json:"allocations" binding:"required,min=1,dive"`
	Strategy    string                  `json:"strategy" binding:"max=50"`
}

// ToCommand converts the body into a service request
func (r ExecuteAllocationRequest) ToCommand(paymentID uuid.UUID, idempotencyKey string) allocationapp.ExecuteAllocationRequest {
	cmd := allocationapp.ExecuteAllocationRequest{
		PaymentID:      paymentID,
		Method:         allocation.AllocationMethodManual,
		IdempotencyKey: idempotencyKey,
		Pairs:          make([]allocation.AllocationPair, 0, len(r.Allocations)),
	}
	if s := strings.ToLower(strings.TrimSpace(r.Strategy)); s != "" {
		cmd.Method = allocation.AllocationMethodAutomatic
		cmd.Strategy = s
	}
	for _, p := range r.Allocations {
		cmd.Pairs = append(cmd.Pairs, allocation.AllocationPair{
			InvoiceID: uuid.MustParse(p.InvoiceID),
			Amount:    p.Amount,
		})
	}
	return cmd
}

// ReverseAllocationRequest is the body of POST /allocations/:id/reverse
type ReverseAllocationRequest struct {
	Reason string `json:"reason" binding:"required,max=500"`
}

// BulkReverseRequest is the body of POST /allocations/reverse
type BulkReverseRequest struct {
	AllocationIDs []string `json:"allocation_ids" binding:"required,min=1,max=500,dive,uuid"`
	Reason        string   `json:"reason" binding:"required,max=500"`
}

// IDs parses the allocation IDs
func (r BulkReverseRequest) IDs() []uuid.UUID {
	ids := make([]uuid.UUID, 0, len(r.AllocationIDs))
	for _, id := range r.AllocationIDs {
		ids = append(ids, uuid.MustParse(id))
	}
	return ids
}

// PaymentListQuery is the query of GET /payments
type PaymentListQuery struct {
	ListRequest
	CustomerID string `form:"customer_id" binding:"omitempty,uuid"`
	BatchID    string `form:"batch_id" binding:"omitempty,uuid"`
	Status     string `form:"status" binding:"omitempty,oneof=pending partially_allocated fully_allocated completed"`
	FromDate   string `form:"from_date"`
	ToDate     string `form:"to_date"`
}

// ToFilter converts the query into a repository filter
func (q PaymentListQuery) ToFilter() (allocation.PaymentFilter, error) {
	filter := allocation.PaymentFilter{
		Filter:     q.Filter(),
		CustomerID: optionalUUID(q.CustomerID),
		BatchID:    optionalUUID(q.BatchID),
	}
	if q.Status != "" {
		status := allocation.PaymentStatus(q.Status)
		filter.Status = &status
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

// AllocationListQuery is the query of GET /allocations
type AllocationListQuery struct {
	ListRequest
	PaymentID  string `form:"payment_id" binding:"omitempty,uuid"`
	InvoiceID  string `form:"invoice_id" binding:"omitempty,uuid"`
	CustomerID string `form:"customer_id" binding:"omitempty,uuid"`
	Status     string `form:"status" binding:"omitempty,oneof=active reversed"`
	Strategy   string `form:"strategy" binding:"omitempty,max=50"`
	Method     string `form:"method" binding:"omitempty,oneof=manual automatic"`
	FromDate   string `form:"from_date"`
	ToDate     string `form:"to_date"`
}

// ToFilter converts the query into a repository filter
func (q AllocationListQuery) ToFilter() (allocation.AllocationFilter, error) {
	filter := allocation.AllocationFilter{
		Filter:     q.Filter(),
		PaymentID:  optionalUUID(q.PaymentID),
		InvoiceID:  optionalUUID(q.InvoiceID),
		CustomerID: optionalUUID(q.CustomerID),
	}
	if q.Status != "" {
		status := allocation.AllocationStatus(q.Status)
		filter.Status = &status
	}
	if q.Method != "" {
		method := allocation.AllocationMethod(q.Method)
		filter.Method = &method
	}
	if q.Strategy != "" {
		s := strings.ToLower(q.Strategy)
		filter.Strategy = &s
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

// UsageReportQuery is the query of GET /strategies/usage
type UsageReportQuery struct {
	From string `form:"from" binding:"required"`
	To   string `form:"to" binding:"required"`
}

// Range parses the reporting period. A date-only To covers the whole day.
func (q UsageReportQuery) Range() (time.Time, time.Time, error) {
	from, err := ParseDate("from", q.From)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	to, err := ParseDate("to", q.To)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	if len(strings.TrimSpace(q.To)) == len("2006-01-02") {
		to = to.Add(24*time.Hour - time.Nanosecond)
	}
	if to.Before(from) {
		return time.Time{}, time.Time{}, shared.NewDomainError(shared.ErrInvalidInput.Code, "to must not be before from")
	}
	return from, to, nil
}

func optionalUUID(s string) *uuid.UUID {
	if s == "" {
		return nil
	}
	id := uuid.MustParse(s)
	return &id
}
