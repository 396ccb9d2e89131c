/*
unit.go - Unit availability state machine

PURPOSE:
  Owns the lifecycle of a single sellable unit and its time-bounded
  reservation lock.

STATE MACHINE:
  available --lock(actor, minutes)--> locked
  locked    --release / expiry-----> available
  available | locked --book--------> booked
  booked    --sell-----------------> sold
  booked    --cancellation---------> available

LAZY LOCK EXPIRY:
  A lock is never cleared by a timer. Every status read compares LockedUntil
  to the clock: an expired lock is equivalent to available. The lock fields
  are only physically cleared by the next transition that touches the unit.

CONCURRENCY:
  Every transition is read-modify-write against the store's version check.
  Two actors racing to lock or book the same unit produce exactly one
  success; the loser gets a Conflict.
*/
package sales

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// UNIT
// =============================================================================

type UnitStatus string

const (
	UnitAvailable UnitStatus = "available"
	UnitLocked    UnitStatus = "locked"
	UnitBooked    UnitStatus = "booked"
	UnitSold      UnitStatus = "sold"
)

type Unit struct {
	ID        UnitID
	TenantID  TenantID
	ProjectID ProjectID
	TowerID   TowerID
	Number    string
	Floor     int
	UnitType  string // 2bhk, 3bhk, villa, ...

	CarpetArea       decimal.Decimal
	BuiltUpArea      decimal.Decimal
	SuperBuiltUpArea decimal.Decimal

	// BasePrice is the full base amount for the unit (area-inclusive).
	BasePrice decimal.Decimal

	Status      UnitStatus
	LockedBy    *ActorID
	LockedUntil *time.Time
	BookingID   *BookingID

	Premiums []PremiumAdjustment
	Charges  []AdditionalCharge

	Version   int64
	CreatedAt time.Time
	UpdatedAt time.Time
}

// ChargeableArea is the area pricing runs against: super-built-up by
// convention, falling back to built-up then carpet when unset.
func (u *Unit) ChargeableArea() decimal.Decimal {
	if u.SuperBuiltUpArea.IsPositive() {
		return u.SuperBuiltUpArea
	}
	if u.BuiltUpArea.IsPositive() {
		return u.BuiltUpArea
	}
	return u.CarpetArea
}

// EffectiveStatus applies lazy lock expiry: a locked unit whose LockedUntil
// has passed reads as available.
func (u *Unit) EffectiveStatus(now time.Time) UnitStatus {
	if u.Status == UnitLocked && (u.LockedUntil == nil || !u.LockedUntil.After(now)) {
		return UnitAvailable
	}
	return u.Status
}

// Clone returns a deep copy of the unit.
func (u *Unit) Clone() *Unit {
	c := *u
	if u.LockedBy != nil {
		v := *u.LockedBy
		c.LockedBy = &v
	}
	if u.LockedUntil != nil {
		v := *u.LockedUntil
		c.LockedUntil = &v
	}
	if u.BookingID != nil {
		v := *u.BookingID
		c.BookingID = &v
	}
	c.Premiums = append([]PremiumAdjustment(nil), u.Premiums...)
	c.Charges = append([]AdditionalCharge(nil), u.Charges...)
	return &c
}

func (u *Unit) clearLock() {
	u.LockedBy = nil
	u.LockedUntil = nil
}

// =============================================================================
// UNIT SERVICE
// =============================================================================

// UnitService applies lifecycle transitions with compare-and-swap writes.
type UnitService struct {
	Units UnitStore
	Clock Clock
}

func NewUnitService(units UnitStore, clock Clock) *UnitService {
	return &UnitService{Units: units, Clock: clock}
}

// Create registers a new unit in available state.
func (s *UnitService) Create(ctx context.Context, u *Unit) (*Unit, error) {
	if u.ID == "" {
		u.ID = UnitID(NewID())
	}
	if u.BasePrice.IsNegative() {
		return nil, &ValidationError{Field: "basePrice", Reason: "must not be negative"}
	}
	now := s.Clock.Now()
	u.Status = UnitAvailable
	u.CreatedAt = now
	u.UpdatedAt = now
	if err := s.Units.CreateUnit(ctx, u); err != nil {
		return nil, err
	}
	return u, nil
}

// Get returns the unit with lazy expiry applied to the returned copy's
// Status field, so callers can trust what they read.
func (s *UnitService) Get(ctx context.Context, tenant TenantID, id UnitID) (*Unit, error) {
	u, err := s.Units.GetUnit(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := tenantGuard(u.TenantID, tenant, "unit"); err != nil {
		return nil, err
	}
	if u.EffectiveStatus(s.Clock.Now()) == UnitAvailable && u.Status == UnitLocked {
		u.Status = UnitAvailable
		u.clearLock()
	}
	return u, nil
}

// Lock reserves the unit for actor for the given number of minutes.
func (s *UnitService) Lock(ctx context.Context, tenant TenantID, id UnitID, actor Actor, minutes int) (*Unit, error) {
	if minutes <= 0 {
		return nil, &ValidationError{Field: "minutes", Reason: "lock duration must be positive"}
	}
	u, err := s.Units.GetUnit(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := tenantGuard(u.TenantID, tenant, "unit"); err != nil {
		return nil, err
	}
	now := s.Clock.Now()
	if u.EffectiveStatus(now) != UnitAvailable {
		return nil, &ConflictError{Reason: fmt.Sprintf("unit %s is %s", id, u.EffectiveStatus(now))}
	}
	until := now.Add(time.Duration(minutes) * time.Minute)
	u.Status = UnitLocked
	u.LockedBy = &actor.ID
	u.LockedUntil = &until
	u.UpdatedAt = now
	if err := s.Units.PutUnit(ctx, u); err != nil {
		return nil, err
	}
	return u, nil
}

// Release frees a locked unit. Releasing a unit whose lock already lazily
// expired is a no-op success; releasing a non-locked unit is a Conflict.
func (s *UnitService) Release(ctx context.Context, tenant TenantID, id UnitID) (*Unit, error) {
	u, err := s.Units.GetUnit(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := tenantGuard(u.TenantID, tenant, "unit"); err != nil {
		return nil, err
	}
	now := s.Clock.Now()
	if u.Status != UnitLocked {
		return nil, &ConflictError{Reason: fmt.Sprintf("unit %s is %s, not locked", id, u.Status)}
	}
	// Expired lock: the unit already reads as available. Clear the stale
	// fields but treat the release as idempotent success either way.
	u.Status = UnitAvailable
	u.clearLock()
	u.UpdatedAt = now
	if err := s.Units.PutUnit(ctx, u); err != nil {
		return nil, err
	}
	return u, nil
}

// Book commits the unit to a booking. Allowed from available or from an
// unexpired lock; clears the lock fields either way.
func (s *UnitService) Book(ctx context.Context, tenant TenantID, id UnitID, booking BookingID) (*Unit, error) {
	u, err := s.Units.GetUnit(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := tenantGuard(u.TenantID, tenant, "unit"); err != nil {
		return nil, err
	}
	now := s.Clock.Now()
	eff := u.EffectiveStatus(now)
	if eff != UnitAvailable && eff != UnitLocked {
		return nil, &ConflictError{Reason: fmt.Sprintf("unit %s is %s", id, eff)}
	}
	if u.BookingID != nil {
		return nil, &ConflictError{Reason: fmt.Sprintf("unit %s already references booking %s", id, *u.BookingID)}
	}
	u.Status = UnitBooked
	u.BookingID = &booking
	u.clearLock()
	u.UpdatedAt = now
	if err := s.Units.PutUnit(ctx, u); err != nil {
		return nil, err
	}
	return u, nil
}

// Sell marks a booked unit as sold.
func (s *UnitService) Sell(ctx context.Context, tenant TenantID, id UnitID) (*Unit, error) {
	u, err := s.Units.GetUnit(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := tenantGuard(u.TenantID, tenant, "unit"); err != nil {
		return nil, err
	}
	if u.Status != UnitBooked {
		return nil, &ConflictError{Reason: fmt.Sprintf("unit %s is %s, not booked", id, u.Status)}
	}
	u.Status = UnitSold
	u.UpdatedAt = s.Clock.Now()
	if err := s.Units.PutUnit(ctx, u); err != nil {
		return nil, err
	}
	return u, nil
}

// ReleaseBooking returns a booked unit to available as part of a booking
// cancellation. The cancelling booking must be the one the unit references.
func (s *UnitService) ReleaseBooking(ctx context.Context, tenant TenantID, id UnitID, booking BookingID) (*Unit, error) {
	u, err := s.Units.GetUnit(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := tenantGuard(u.TenantID, tenant, "unit"); err != nil {
		return nil, err
	}
	if u.Status != UnitBooked {
		return nil, &ConflictError{Reason: fmt.Sprintf("unit %s is %s, not booked", id, u.Status)}
	}
	if u.BookingID == nil || *u.BookingID != booking {
		return nil, &ConflictError{Reason: fmt.Sprintf("unit %s is not held by booking %s", id, booking)}
	}
	u.Status = UnitAvailable
	u.BookingID = nil
	u.clearLock()
	u.UpdatedAt = s.Clock.Now()
	if err := s.Units.PutUnit(ctx, u); err != nil {
		return nil, err
	}
	return u, nil
}
