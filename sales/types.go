/*
Package sales provides the core unit-sales engine.

PURPOSE:
  This package contains the domain types and services for selling individually
  numbered real-estate units across multiple tenants: unit availability with
  time-bounded reservation locks, deterministic price computation, bookings,
  multi-level approval chains for sensitive monetary changes, and installment
  payment schedules with partial-payment tracking.

KEY CONCEPTS IN THIS FILE (types.go):
  - Typed identifiers: TenantID, UnitID, BookingID, etc.
  - Actor: the authenticated caller context supplied on every operation
  - TenantConfig: per-tenant business rules (lock duration, discount
    ceilings, tax rates, materiality thresholds)
  - Lead: the prospective buyer a booking is created from

DESIGN PRINCIPLES:
  1. Precision: all money and percentages use decimal.Decimal, never float64
  2. Type Safety: strong ID types prevent mixing unit/booking/tenant IDs
  3. Tenant Isolation: every entity carries its tenant; services reject
     cross-tenant references with ErrForbidden
  4. Optimistic Concurrency: every mutable entity carries a Version that
     stores check-and-increment on write

SEE ALSO:
  - pricing.go: price breakdown computation
  - unit.go: unit availability state machine
  - booking.go: booking orchestration
  - approval.go: approval chain workflow
  - schedule.go: installment payment schedules
*/
package sales

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type TenantID string
type ActorID string
type ProjectID string
type TowerID string
type UnitID string
type LeadID string
type BookingID string
type ApprovalID string
type ScheduleID string
type TemplateID string

// NewID returns a fresh unique identifier string.
func NewID() string { return uuid.NewString() }

// =============================================================================
// ACTOR - Caller identity and authority, supplied on every operation
// =============================================================================

type Role string

const (
	RoleSalesExecutive Role = "sales_executive"
	RoleSalesManager   Role = "sales_manager"
	RoleFinanceHead    Role = "finance_head"
	RoleDirector       Role = "director"
	RoleAdmin          Role = "admin"
)

// Actor is the authenticated caller context. Authentication itself happens
// outside this core; callers pass the resolved identity and authority here.
type Actor struct {
	ID       ActorID
	TenantID TenantID
	Name     string
	Role     Role

	// MaxDiscountPercent is the largest discount (as percent of the booking
	// total) this actor may grant without approval. Zero means "use the
	// tenant default".
	MaxDiscountPercent decimal.Decimal

	// ApprovalThreshold is the largest amount this actor may sign off on
	// when acting as an unassigned approver in a chain level.
	ApprovalThreshold decimal.Decimal

	// CanOverrideDiscounts grants unconditional discount authority.
	CanOverrideDiscounts bool

	// CanCancelBookings grants unconditional cancellation authority.
	CanCancelBookings bool
}

// =============================================================================
// TENANT CONFIGURATION - Business rules resolved per tenant
// =============================================================================

// TaxRates holds the percentage rates applied to a booking subtotal.
type TaxRates struct {
	GSTPercent          decimal.Decimal
	StampDutyPercent    decimal.Decimal
	RegistrationPercent decimal.Decimal
	OtherPercent        decimal.Decimal
}

// TenantConfig is the per-tenant rule set consumed by the services.
type TenantConfig struct {
	TenantID TenantID

	// DefaultLockMinutes is the reservation lock duration when the caller
	// does not specify one.
	DefaultLockMinutes int

	// MaxDiscountPercent is the tenant-wide discount ceiling used when an
	// actor has no individual ceiling configured.
	MaxDiscountPercent decimal.Decimal

	// MaterialityAmount and MaterialityPercent are the deltas above which a
	// payment-schedule edit requires approval.
	MaterialityAmount  decimal.Decimal
	MaterialityPercent decimal.Decimal

	// TaxRates per project. A project missing here gets zero rates.
	TaxRates map[ProjectID]TaxRates
}

// TaxRatesFor returns the tax rates for a project, zero rates if unknown.
func (c *TenantConfig) TaxRatesFor(project ProjectID) TaxRates {
	if c == nil || c.TaxRates == nil {
		return TaxRates{}
	}
	return c.TaxRates[project]
}

// ConfigProvider resolves tenant business rules. The factory package provides
// a JSON-backed implementation.
type ConfigProvider interface {
	TenantConfig(tenant TenantID) (*TenantConfig, error)
}

// =============================================================================
// LEAD - Prospective buyer a booking snapshots from
// =============================================================================

type LeadStatus string

const (
	LeadStatusNew       LeadStatus = "new"
	LeadStatusActive    LeadStatus = "active"
	LeadStatusConverted LeadStatus = "converted"
	LeadStatusLost      LeadStatus = "lost"
)

type Lead struct {
	ID       LeadID
	TenantID TenantID
	Name     string
	Phone    string
	Email    string
	Status   LeadStatus

	Version   int64
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Clone returns a deep copy of the lead.
func (l *Lead) Clone() *Lead {
	c := *l
	return &c
}

// =============================================================================
// DECIMAL HELPERS
// =============================================================================

var hundred = decimal.NewFromInt(100)

// PercentOf returns pct% of amount.
func PercentOf(pct, amount decimal.Decimal) decimal.Decimal {
	return amount.Mul(pct).Div(hundred)
}

// MustDecimal parses s, returning zero on failure. Intended for literals.
func MustDecimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}
