package batchimport

import (
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/erp/payalloc/internal/domain/allocation"
	"github.com/erp/payalloc/internal/domain/shared/valueobject"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// DefaultStrategy is applied to entries that ask for auto allocation without naming one
const DefaultStrategy = "fifo"

// Accepted payment_date layouts, tried in order
var dateLayouts = []string{
	"2006-01-02",
	time.RFC3339,
	"2006/01/02",
	"01/02/2006",
	"2006-01-02 15:04:05",
}

// PaymentEntry is one raw payment line of a batch, as read from a sheet or
// JSON body. Every field is kept as text until validated.
type PaymentEntry struct {
	Row                int    `json:"row" col:"-"`
	EntityID           string `json:"entity_id" col:"entity_id" validate:"required,uuid"`
	PaymentMethod      string `json:"payment_method" col:"payment_method" validate:"required,payment_method"`
	Amount             string `json:"amount" col:"amount" validate:"required,positive_amount"`
	Currency           string `json:"currency" col:"currency" validate:"omitempty,iso4217"`
	PaymentDate        string `json:"payment_date" col:"payment_date" validate:"required,payment_date"`
	ReferenceNumber    string `json:"reference_number" col:"reference_number" validate:"max=100"`
	Notes              string `json:"notes" col:"notes" validate:"max=500"`
	AutoAllocate       string `json:"auto_allocate" col:"auto_allocate" validate:"omitempty,boolean"`
	AllocationStrategy string `json:"allocation_strategy" col:"allocation_strategy" validate:"max=50"`
}

// ParsedEntry is a validated PaymentEntry
type ParsedEntry struct {
	Row                int
	CustomerID         uuid.UUID
	PaymentMethod      allocation.PaymentMethod
	Amount             decimal.Decimal
	Currency           valueobject.Currency
	PaymentDate        time.Time
	ReferenceNumber    string
	Notes              string
	AutoAllocate       bool
	AllocationStrategy string
}

// column aliases accepted in headers and JSON keys
var columnAliases = map[string]string{
	"customer_id": "entity_id",
	"customer":    "entity_id",
	"method":      "payment_method",
	"date":        "payment_date",
	"reference":   "reference_number",
	"ref":         "reference_number",
	"strategy":    "allocation_strategy",
	"auto":        "auto_allocate",
}

// EntriesFromRows maps parsed rows onto payment entries
func EntriesFromRows(rows []*Row) []PaymentEntry {
	entries := make([]PaymentEntry, 0, len(rows))
	for _, r := range rows {
		get := func(col string) string {
			if v, ok := r.Data[col]; ok && v != "" {
				return v
			}
			for alias, target := range columnAliases {
				if target == col {
					if v := r.Data[alias]; v != "" {
						return v
					}
				}
			}
			return ""
		}
		entries = append(entries, PaymentEntry{
			Row:                r.LineNumber,
			EntityID:           get("entity_id"),
			PaymentMethod:      get("payment_method"),
			Amount:             get("amount"),
			Currency:           strings.ToUpper(get("currency")),
			PaymentDate:        get("payment_date"),
			ReferenceNumber:    get("reference_number"),
			Notes:              get("notes"),
			AutoAllocate:       strings.ToLower(get("auto_allocate")),
			AllocationStrategy: strings.ToLower(get("allocation_strategy")),
		})
	}
	return entries
}

// EntryValidator checks payment entries with struct tags. It is safe for
// concurrent use.
type EntryValidator struct {
	validate        *validator.Validate
	defaultCurrency valueobject.Currency
}

// NewEntryValidator creates a validator. Entries without a currency get defaultCurrency.
func NewEntryValidator(defaultCurrency valueobject.Currency) *EntryValidator {
	if defaultCurrency == "" {
		defaultCurrency = valueobject.DefaultCurrency
	}
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("col"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		if name == "" {
			name = strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		}
		return name
	})
	_ = v.RegisterValidation("positive_amount", func(fl validator.FieldLevel) bool {
		d, err := parseAmount(fl.Field().String())
		return err == nil && d.IsPositive()
	})
	_ = v.RegisterValidation("payment_method", func(fl validator.FieldLevel) bool {
		_, err := allocation.ParsePaymentMethod(fl.Field().String())
		return err == nil
	})
	_ = v.RegisterValidation("payment_date", func(fl validator.FieldLevel) bool {
		_, err := parseDate(fl.Field().String())
		return err == nil
	})
	return &EntryValidator{validate: v, defaultCurrency: defaultCurrency}
}

// Validate checks an entry and converts it. Either the parsed entry or a
// non-empty error list is returned.
func (ev *EntryValidator) Validate(e PaymentEntry) (*ParsedEntry, []RowError) {
	e.EntityID = strings.ToLower(strings.TrimSpace(e.EntityID))
	e.Currency = strings.ToUpper(strings.TrimSpace(e.Currency))
	e.AutoAllocate = strings.ToLower(strings.TrimSpace(e.AutoAllocate))

	if err := ev.validate.Struct(e); err != nil {
		verrs, ok := err.(validator.ValidationErrors)
		if !ok {
			return nil, []RowError{NewRowError(e.Row, "", ErrCodeMalformedRow, err.Error())}
		}
		out := make([]RowError, 0, len(verrs))
		for _, fe := range verrs {
			out = append(out, RowError{
				Row:     e.Row,
				Column:  fe.Field(),
				Code:    codeForTag(fe.Tag()),
				Message: messageFor(fe),
				Value:   truncate(fe.Value()),
			})
		}
		return nil, out
	}

	// tags above guarantee these parse
	amount, _ := parseAmount(e.Amount)
	method, _ := allocation.ParsePaymentMethod(e.PaymentMethod)
	date, _ := parseDate(e.PaymentDate)
	currency := ev.defaultCurrency
	if e.Currency != "" {
		currency = valueobject.Currency(e.Currency)
	}
	if !currency.HasValidScale(amount) {
		re := NewRowError(e.Row, "amount", ErrCodeInvalidValue,
			fmt.Sprintf("must have at most %d decimal places for %s", currency.Scale(), currency))
		re.Value = truncate(e.Amount)
		return nil, []RowError{re}
	}
	auto := false
	if e.AutoAllocate != "" {
		auto, _ = strconv.ParseBool(e.AutoAllocate)
	}
	strat := strings.ToLower(strings.TrimSpace(e.AllocationStrategy))
	if auto && strat == "" {
		strat = DefaultStrategy
	}

	return &ParsedEntry{
		Row:                e.Row,
		CustomerID:         uuid.MustParse(e.EntityID),
		PaymentMethod:      method,
		Amount:             amount,
		Currency:           currency,
		PaymentDate:        date,
		ReferenceNumber:    strings.TrimSpace(e.ReferenceNumber),
		Notes:              strings.TrimSpace(e.Notes),
		AutoAllocate:       auto,
		AllocationStrategy: strat,
	}, nil
}

// parseAmount accepts plain decimals and thousands separators ("1,250.00")
func parseAmount(s string) (decimal.Decimal, error) {
	s = strings.ReplaceAll(strings.TrimSpace(s), ",", "")
	return decimal.NewFromString(s)
}

func parseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	var err error
	for _, layout := range dateLayouts {
		var t time.Time
		if t, err = time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, err
}

func codeForTag(tag string) string {
	switch tag {
	case "required":
		return ErrCodeRequiredField
	case "uuid", "boolean":
		return ErrCodeInvalidType
	case "payment_date", "iso4217":
		return ErrCodeInvalidFormat
	case "max", "min":
		return ErrCodeInvalidLength
	default:
		return ErrCodeInvalidValue
	}
}

func messageFor(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "field '" + fe.Field() + "' is required"
	case "uuid":
		return "must be a valid UUID"
	case "positive_amount":
		return "must be a positive decimal amount"
	case "payment_method":
		return "unsupported payment method"
	case "payment_date":
		return "must be a date in YYYY-MM-DD format"
	case "iso4217":
		return "must be an ISO 4217 currency code"
	case "boolean":
		return "must be true or false"
	case "max":
		return "must be at most " + fe.Param() + " characters"
	default:
		return "invalid value"
	}
}

func truncate(v any) string {
	s, _ := v.(string)
	if len(s) > 64 {
		return s[:64]
	}
	return s
}
