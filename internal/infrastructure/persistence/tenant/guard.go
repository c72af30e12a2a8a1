// Package tenant keeps queries inside the company of the current request.
//
// Repositories filter on tenant_id explicitly. The Guard registered here is
// a second line: any SELECT, UPDATE or DELETE on a tenant-owned table that
// reaches the database without a tenant_id condition gets one from the
// request context.
//
//	tenant.NewGuard(tenant.Config{}).Register(db)
package tenant

import (
	"errors"
	"strings"

	"github.com/erp/payalloc/internal/infrastructure/logger"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ErrTenantRequired is returned when a tenant-owned table is queried without
// a tenant in the context and Config.Required is set
var ErrTenantRequired = errors.New("tenant_id is required but not found in context")

// ErrInvalidTenant is returned when the context tenant is not a UUID
var ErrInvalidTenant = errors.New("invalid tenant_id format")

// Config configures a Guard
type Config struct {
	// Column is the tenant column, tenant_id by default
	Column string
	// Required fails unscoped statements that have no tenant in context
	Required bool
}

// Guard adds the context tenant to statements that lack a tenant condition
type Guard struct {
	column   string
	required bool
}

// NewGuard creates a Guard
func NewGuard(cfg Config) *Guard {
	if cfg.Column == "" {
		cfg.Column = "tenant_id"
	}
	return &Guard{column: cfg.Column, required: cfg.Required}
}

// Register installs the guard on db. Creates are left alone: the domain
// sets tenant_id on every new row.
func (g *Guard) Register(db *gorm.DB) error {
	return errors.Join(
		db.Callback().Query().Before("gorm:query").Register("tenant:query", g.apply),
		db.Callback().Update().Before("gorm:update").Register("tenant:update", g.apply),
		db.Callback().Delete().Before("gorm:delete").Register("tenant:delete", g.apply),
		db.Callback().Row().Before("gorm:row").Register("tenant:row", g.apply),
	)
}

func (g *Guard) apply(db *gorm.DB) {
	stmt := db.Statement
	if stmt.Context == nil || stmt.Unscoped || stmt.SQL.Len() > 0 {
		return
	}
	// Raw statements and tables without the column are out of scope
	if stmt.Schema == nil || stmt.Schema.LookUpField(g.column) == nil {
		return
	}
	if g.hasCondition(stmt) {
		return
	}

	raw := logger.TenantID(stmt.Context)
	if raw == "" {
		if g.required {
			_ = db.AddError(ErrTenantRequired)
		}
		return
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		_ = db.AddError(ErrInvalidTenant)
		return
	}

	stmt.AddClause(clause.Where{Exprs: []clause.Expression{
		clause.Eq{Column: clause.Column{Table: clause.CurrentTable, Name: g.column}, Value: id},
	}})
}

func (g *Guard) hasCondition(stmt *gorm.Statement) bool {
	c, ok := stmt.Clauses["WHERE"]
	if !ok {
		return false
	}
	where, ok := c.Expression.(clause.Where)
	if !ok {
		return false
	}
	for _, expr := range where.Exprs {
		if g.mentions(expr) {
			return true
		}
	}
	return false
}

func (g *Guard) mentions(expr clause.Expression) bool {
	switch e := expr.(type) {
	case clause.Eq:
		return g.isColumn(e.Column)
	case clause.IN:
		return g.isColumn(e.Column)
	case clause.Expr:
		return strings.Contains(e.SQL, g.column)
	case clause.NamedExpr:
		return strings.Contains(e.SQL, g.column)
	case clause.AndConditions:
		for _, sub := range e.Exprs {
			if g.mentions(sub) {
				return true
			}
		}
	case clause.OrConditions:
		// tenant_id OR x does not scope the statement
		return false
	}
	return false
}

func (g *Guard) isColumn(col any) bool {
	switch c := col.(type) {
	case clause.Column:
		return c.Name == g.column
	case string:
		return c == g.column
	}
	return false
}
