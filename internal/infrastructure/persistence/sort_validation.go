package persistence

import "strings"

// orderClause builds a whitelisted "column dir" clause. Unknown columns fall
// back to def; the direction is asc or desc. id is appended as a tie-breaker
// so pages are stable.
func orderClause(field, dir string, allowed map[string]bool, def string) string {
	col := strings.TrimSpace(field)
	if !allowed[col] {
		col = def
	}
	d := "DESC"
	if strings.EqualFold(strings.TrimSpace(dir), "asc") {
		d = "ASC"
	}
	if col == "id" {
		return "id " + d
	}
	return col + " " + d + ", id " + d
}

// PaymentSortFields contains allowed sort fields for payments
var PaymentSortFields = map[string]bool{
	"id":               true,
	"created_at":       true,
	"payment_date":     true,
	"payment_number":   true,
	"amount":           true,
	"remaining_amount": true,
	"status":           true,
}

// AllocationSortFields contains allowed sort fields for allocations
var AllocationSortFields = map[string]bool{
	"id":               true,
	"created_at":       true,
	"allocation_date":  true,
	"allocated_amount": true,
	"invoice_number":   true,
}

// BatchSortFields contains allowed sort fields for batches
var BatchSortFields = map[string]bool{
	"id":            true,
	"created_at":    true,
	"batch_number":  true,
	"total_amount":  true,
	"receipt_count": true,
	"status":        true,
}
