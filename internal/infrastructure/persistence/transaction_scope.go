package persistence

import (
	"context"

	appalloc "github.com/erp/payalloc/internal/application/allocation"
	"github.com/erp/payalloc/internal/domain/allocation"
	"gorm.io/gorm"
)

// GormTransactionScope implements TransactionScope using GORM transactions
type GormTransactionScope struct {
	db *gorm.DB
}

// NewGormTransactionScope creates a new GormTransactionScope
func NewGormTransactionScope(db *gorm.DB) *GormTransactionScope {
	return &GormTransactionScope{db: db}
}

// Execute runs fn in a transaction, committing when it returns nil
func (s *GormTransactionScope) Execute(ctx context.Context, fn func(repos appalloc.TransactionalRepositories) error) error {
	return s.Run(ctx, func(_ context.Context, repos appalloc.TransactionalRepositories) error {
		return fn(repos)
	})
}

// Run runs fn in a transaction and hands it a context bound to that
// transaction. If ctx already carries one, GORM opens a savepoint instead.
func (s *GormTransactionScope) Run(ctx context.Context, fn func(ctx context.Context, repos appalloc.TransactionalRepositories) error) error {
	return conn(ctx, s.db).Transaction(func(tx *gorm.DB) error {
		return fn(context.WithValue(ctx, txKey{}, tx), &gormTransactionalRepositories{tx: tx})
	})
}

type txKey struct{}

// conn returns the transaction carried by ctx, or db when there is none.
func conn(ctx context.Context, db *gorm.DB) *gorm.DB {
	if tx, ok := ctx.Value(txKey{}).(*gorm.DB); ok && tx != nil {
		return tx.WithContext(ctx)
	}
	return db.WithContext(ctx)
}

type gormTransactionalRepositories struct {
	tx *gorm.DB
}

func (r *gormTransactionalRepositories) PaymentRepo() allocation.PaymentRepository {
	return NewGormPaymentRepository(r.tx)
}

func (r *gormTransactionalRepositories) InvoiceGateway() allocation.InvoiceGateway {
	return NewGormInvoiceGateway(r.tx)
}

func (r *gormTransactionalRepositories) AllocationRepo() allocation.AllocationRepository {
	return NewGormAllocationRepository(r.tx)
}

func (r *gormTransactionalRepositories) BatchRepo() allocation.BatchRepository {
	return NewGormBatchRepository(r.tx)
}

var (
	_ appalloc.TransactionScope          = (*GormTransactionScope)(nil)
	_ appalloc.TransactionalRepositories = (*gormTransactionalRepositories)(nil)
)
