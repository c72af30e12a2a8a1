package persistence

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestOrderClause(t *testing.T) {
	tests := []struct {
		name, field, dir, want string
	}{
		{"allowed asc", "payment_date", "asc", "payment_date ASC, id ASC"},
		{"allowed mixed case dir", "amount", " ASC ", "amount ASC, id ASC"},
		{"unknown field", "amount; DROP TABLE payments", "asc", "created_at ASC, id ASC"},
		{"empty dir is desc", "status", "", "status DESC, id DESC"},
		{"id only", "id", "desc", "id DESC"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, orderClause(tt.field, tt.dir, PaymentSortFields, "created_at"))
		})
	}
}
