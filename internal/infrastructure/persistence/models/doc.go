// Package models holds the GORM persistence models of the allocation engine.
// Domain types stay free of ORM tags; each model converts to and from its
// domain counterpart with ToDomain and FromDomain.
//
// Tables:
//   - payments, invoices, payment_allocations (allocation.go)
//   - payment_batches, allocation_audit_logs (batch.go)
package models
