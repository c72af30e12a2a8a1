package persistence

import (
	"context"
	"errors"
	"slices"
	"time"

	"github.com/erp/payalloc/internal/domain/allocation"
	"github.com/erp/payalloc/internal/infrastructure/persistence/models"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// GormInvoiceGateway implements allocation.InvoiceGateway over the invoices
// table the billing side keeps in sync
type GormInvoiceGateway struct {
	db *gorm.DB
}

// NewGormInvoiceGateway creates a new GormInvoiceGateway
func NewGormInvoiceGateway(db *gorm.DB) *GormInvoiceGateway {
	return &GormInvoiceGateway{db: db}
}

// GetInvoice returns an invoice by ID
func (g *GormInvoiceGateway) GetInvoice(ctx context.Context, tenantID, id uuid.UUID) (*allocation.Invoice, error) {
	var model models.InvoiceModel
	if err := conn(ctx, g.db).Where("tenant_id = ? AND id = ?", tenantID, id).First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, allocation.NotFound("invoice", id)
		}
		return nil, err
	}
	return model.ToDomain(), nil
}

// FindOpenForCustomer returns unpaid, uncancelled invoices with a balance due,
// oldest first
func (g *GormInvoiceGateway) FindOpenForCustomer(ctx context.Context, tenantID, customerID uuid.UUID) ([]allocation.Invoice, error) {
	var rows []models.InvoiceModel
	if err := conn(ctx, g.db).
		Where("tenant_id = ? AND customer_id = ?", tenantID, customerID).
		Where("status NOT IN ?", []allocation.InvoiceStatus{allocation.InvoiceStatusPaid, allocation.InvoiceStatusCancelled}).
		Where("balance_due > 0").
		Order("issue_date ASC, id ASC").
		Find(&rows).Error; err != nil {
		return nil, err
	}
	return toInvoices(rows), nil
}

// FindByCustomer returns every invoice of a customer regardless of status
func (g *GormInvoiceGateway) FindByCustomer(ctx context.Context, tenantID, customerID uuid.UUID) ([]allocation.Invoice, error) {
	var rows []models.InvoiceModel
	if err := conn(ctx, g.db).
		Where("tenant_id = ? AND customer_id = ?", tenantID, customerID).
		Order("issue_date ASC, id ASC").
		Find(&rows).Error; err != nil {
		return nil, err
	}
	return toInvoices(rows), nil
}

// LockForUpdate loads the invoices with SELECT ... FOR UPDATE ORDER BY id so
// concurrent allocations touching overlapping invoices lock them in the same
// order
func (g *GormInvoiceGateway) LockForUpdate(ctx context.Context, tenantID uuid.UUID, ids []uuid.UUID) ([]allocation.Invoice, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	sorted := slices.Clone(ids)
	slices.SortFunc(sorted, compareUUID)

	var rows []models.InvoiceModel
	if err := conn(ctx, g.db).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("tenant_id = ? AND id IN ?", tenantID, sorted).
		Order("id ASC").
		Find(&rows).Error; err != nil {
		return nil, err
	}
	return toInvoices(rows), nil
}

// DecrementBalance lowers balance_due by amount
func (g *GormInvoiceGateway) DecrementBalance(ctx context.Context, id uuid.UUID, amount decimal.Decimal) error {
	return g.update(ctx, id, map[string]any{"balance_due": gorm.Expr("balance_due - ?", amount)})
}

// IncrementBalance raises balance_due by amount
func (g *GormInvoiceGateway) IncrementBalance(ctx context.Context, id uuid.UUID, amount decimal.Decimal) error {
	return g.update(ctx, id, map[string]any{"balance_due": gorm.Expr("balance_due + ?", amount)})
}

// SetStatus sets the invoice status
func (g *GormInvoiceGateway) SetStatus(ctx context.Context, id uuid.UUID, status allocation.InvoiceStatus) error {
	return g.update(ctx, id, map[string]any{"status": status})
}

func (g *GormInvoiceGateway) update(ctx context.Context, id uuid.UUID, values map[string]any) error {
	values["updated_at"] = time.Now()
	result := conn(ctx, g.db).Model(&models.InvoiceModel{}).Where("id = ?", id).Updates(values)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return allocation.NotFound("invoice", id)
	}
	return nil
}

// Upsert stores an invoice pushed by billing
func (g *GormInvoiceGateway) Upsert(ctx context.Context, inv *allocation.Invoice) error {
	return conn(ctx, g.db).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"invoice_number", "issue_date", "due_date", "total_amount",
			"balance_due", "currency", "status", "updated_at",
		}),
	}).Create(models.InvoiceModelFromDomain(inv)).Error
}

func toInvoices(rows []models.InvoiceModel) []allocation.Invoice {
	out := make([]allocation.Invoice, len(rows))
	for i := range rows {
		out[i] = *rows[i].ToDomain()
	}
	return out
}

// compareUUID orders UUIDs bytewise, the order postgres uses for the uuid type
func compareUUID(a, b uuid.UUID) int {
	for i := range a {
		if a[i] != b[i] {
			if a[i] < b[i] {
				return -1
			}
			return 1
		}
	}
	return 0
}

var _ allocation.InvoiceGateway = (*GormInvoiceGateway)(nil)
