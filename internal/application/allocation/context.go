package allocation

import (
	"github.com/erp/payalloc/internal/domain/shared"
	"github.com/google/uuid"
)

// AllocationContext identifies the company and user behind a call. It is
// passed explicitly to every operation instead of being read from globals.
type AllocationContext struct {
	TenantID uuid.UUID
	ActorID  uuid.UUID
}

// NewAllocationContext creates an AllocationContext
func NewAllocationContext(tenantID, actorID uuid.UUID) AllocationContext {
	return AllocationContext{TenantID: tenantID, ActorID: actorID}
}

// Validate requires a company. The actor is optional for system callers.
func (c AllocationContext) Validate() error {
	if c.TenantID == uuid.Nil {
		return shared.NewDomainError(shared.ErrInvalidInput.Code, "Tenant ID is required")
	}
	return nil
}
