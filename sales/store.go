/*
store.go - Persistence interfaces for the sales engine

PURPOSE:
  Defines the interface between the domain services and the database. The
  engine is persistence-agnostic: any store that honors the version contract
  below can back it. Implementations exist for in-memory (sales/store) and
  SQLite (store/sqlite).

OPTIMISTIC CONCURRENCY CONTRACT:
  Every entity carries a Version. Create* persists a new entity and sets its
  Version to 1. Put* succeeds only when the entity's Version matches the
  stored one, then increments it; otherwise it returns
  ErrConcurrentModification and writes nothing. All state-machine transitions
  (unit lock/book/sell, approval advancement, payment increments) rely on
  this check to turn races into clean Conflict failures.

TENANT SCOPING:
  Get* looks up by ID alone; the services compare the entity's TenantID to
  the caller's and return ErrForbidden on mismatch. List* is tenant-scoped.

SEE ALSO:
  - store/memory.go: in-memory implementation
  - ../store/sqlite/sqlite.go: SQLite implementation
*/
package sales

import "context"

// =============================================================================
// PER-ENTITY STORES
// =============================================================================

type UnitStore interface {
	CreateUnit(ctx context.Context, u *Unit) error
	GetUnit(ctx context.Context, id UnitID) (*Unit, error)
	// PutUnit writes u if u.Version matches the stored version, then
	// increments it. Returns ErrConcurrentModification on mismatch.
	PutUnit(ctx context.Context, u *Unit) error
	ListUnits(ctx context.Context, tenant TenantID) ([]*Unit, error)
}

type LeadStore interface {
	CreateLead(ctx context.Context, l *Lead) error
	GetLead(ctx context.Context, id LeadID) (*Lead, error)
	PutLead(ctx context.Context, l *Lead) error
}

type BookingStore interface {
	CreateBooking(ctx context.Context, b *Booking) error
	GetBooking(ctx context.Context, id BookingID) (*Booking, error)
	PutBooking(ctx context.Context, b *Booking) error
	ListBookings(ctx context.Context, tenant TenantID) ([]*Booking, error)
}

type ApprovalStore interface {
	CreateApproval(ctx context.Context, a *Approval) error
	GetApproval(ctx context.Context, id ApprovalID) (*Approval, error)
	PutApproval(ctx context.Context, a *Approval) error
	ListPendingApprovals(ctx context.Context, tenant TenantID) ([]*Approval, error)
}

type ScheduleStore interface {
	// CreateSchedule enforces the one-schedule-per-booking invariant:
	// a second schedule for the same booking fails with ErrConflict.
	CreateSchedule(ctx context.Context, s *PaymentSchedule) error
	GetSchedule(ctx context.Context, id ScheduleID) (*PaymentSchedule, error)
	GetScheduleByBooking(ctx context.Context, booking BookingID) (*PaymentSchedule, error)
	PutSchedule(ctx context.Context, s *PaymentSchedule) error
}

type TemplateStore interface {
	CreateTemplate(ctx context.Context, t *Template) error
	GetTemplate(ctx context.Context, id TemplateID) (*Template, error)
	PutTemplate(ctx context.Context, t *Template) error
	DeleteTemplate(ctx context.Context, id TemplateID) error
	ListTemplates(ctx context.Context, tenant TenantID) ([]*Template, error)
}

// =============================================================================
// COMPOSITE STORE
// =============================================================================

// Store bundles every per-entity store. Both provided implementations
// satisfy it; the services each depend only on the slices they use.
type Store interface {
	UnitStore
	LeadStore
	BookingStore
	ApprovalStore
	ScheduleStore
	TemplateStore
}
