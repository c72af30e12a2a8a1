package allocation

import (
	"context"

	"github.com/erp/payalloc/internal/domain/allocation"
)

// TransactionScope runs a unit of work in one database transaction. When fn
// returns an error every write made through repos is rolled back.
type TransactionScope interface {
	Execute(ctx context.Context, fn func(repos TransactionalRepositories) error) error
	// Run is Execute with a context that carries the transaction. Units of
	// work started with that context join it as savepoints, so one failure
	// anywhere rolls back all of them.
	Run(ctx context.Context, fn func(ctx context.Context, repos TransactionalRepositories) error) error
}

// TransactionalRepositories hands out repositories bound to the current
// transaction. Locks taken through them are held until the transaction ends.
type TransactionalRepositories interface {
	PaymentRepo() allocation.PaymentRepository
	InvoiceGateway() allocation.InvoiceGateway
	AllocationRepo() allocation.AllocationRepository
	BatchRepo() allocation.BatchRepository
}
