/*
booking.go - Booking orchestration

PURPOSE:
  Composes the unit lifecycle, pricing engine, and approval workflow to
  create and mutate bookings. Every mutation that touches premiums,
  discounts, or charges recomputes the total through the pricing engine
  before persisting ("recompute-then-persist": the recomputation is an
  explicit call at the mutation site, never a save hook).

STATUS TABLE (forward-only; cancellation reachable from any non-terminal
state):
  draft            -> pending_approval | approved | cancelled
  pending_approval -> approved | cancelled
  approved         -> executed | cancelled
  executed         -> cancelled
  cancelled        -> (terminal)

CREATE SAGA:
  No cross-entity transaction is assumed, so booking creation runs as a
  saga: book the unit, mark the lead converted, write the booking. A failed
  later step compensates the earlier ones (lead reverted, unit released).
  Partial application - booked unit with no booking - is a correctness
  violation this guards against.
*/
package sales

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// BOOKING
// =============================================================================

type BookingStatus string

const (
	BookingDraft           BookingStatus = "draft"
	BookingPendingApproval BookingStatus = "pending_approval"
	BookingApproved        BookingStatus = "approved"
	BookingExecuted        BookingStatus = "executed"
	BookingCancelled       BookingStatus = "cancelled"
)

// bookingTransitions is the forward-only status table.
var bookingTransitions = map[BookingStatus][]BookingStatus{
	BookingDraft:           {BookingPendingApproval, BookingApproved, BookingCancelled},
	BookingPendingApproval: {BookingApproved, BookingCancelled},
	BookingApproved:        {BookingExecuted, BookingCancelled},
	BookingExecuted:        {BookingCancelled},
	BookingCancelled:       {},
}

func canTransition(from, to BookingStatus) bool {
	for _, next := range bookingTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// CancellationRecord captures why and by whom a booking was cancelled.
type CancellationRecord struct {
	Date        time.Time
	Reason      string
	RequestedBy ActorID
	ApprovedBy  *ActorID
	ApprovalID  *ApprovalID
}

// Booking is a committed sale transaction. It snapshots the unit's pricing
// inputs and the lead's identity at creation time so later edits to either
// do not rewrite booking history.
type Booking struct {
	ID        BookingID
	TenantID  TenantID
	LeadID    LeadID
	UnitID    UnitID
	ProjectID ProjectID
	TowerID   TowerID

	// Customer identity snapshot from the lead.
	CustomerName  string
	CustomerPhone string
	CustomerEmail string

	// Pricing inputs snapshotted from the unit and tenant config.
	BasePrice      decimal.Decimal
	ChargeableArea decimal.Decimal
	FloorRise      *FloorRiseRule
	Views          []ViewPremium
	Premiums       []PremiumAdjustment
	Discounts      []Discount
	Charges        []AdditionalCharge
	TaxRates       TaxRates

	// Computed by the pricing engine on every mutation.
	TotalAmount decimal.Decimal
	TaxAmount   decimal.Decimal

	Status       BookingStatus
	Cancellation *CancellationRecord
	ScheduleID   *ScheduleID

	BookingDate time.Time

	Version   int64
	CreatedAt time.Time
	UpdatedAt time.Time
}

// priceInput assembles the pricing-engine input from the booking snapshot.
func (b *Booking) priceInput() PriceInput {
	return PriceInput{
		BasePrice:     b.BasePrice,
		Area:          b.ChargeableArea,
		AreaInclusive: true,
		FloorRise:     b.FloorRise,
		Views:         b.Views,
		Adjustments:   b.Premiums,
		Discounts:     b.Discounts,
		Charges:       b.Charges,
		Taxes:         b.TaxRates,
	}
}

// HasPendingDiscounts reports whether any discount awaits approval.
func (b *Booking) HasPendingDiscounts() bool {
	for _, d := range b.Discounts {
		if d.Status == DiscountPending {
			return true
		}
	}
	return false
}

// Clone returns a deep copy of the booking.
func (b *Booking) Clone() *Booking {
	c := *b
	if b.FloorRise != nil {
		v := *b.FloorRise
		c.FloorRise = &v
	}
	c.Views = append([]ViewPremium(nil), b.Views...)
	c.Premiums = append([]PremiumAdjustment(nil), b.Premiums...)
	c.Charges = append([]AdditionalCharge(nil), b.Charges...)
	c.Discounts = make([]Discount, len(b.Discounts))
	for i, d := range b.Discounts {
		c.Discounts[i] = d
		if d.ApprovalID != nil {
			v := *d.ApprovalID
			c.Discounts[i].ApprovalID = &v
		}
	}
	if b.Cancellation != nil {
		v := *b.Cancellation
		c.Cancellation = &v
	}
	if b.ScheduleID != nil {
		v := *b.ScheduleID
		c.ScheduleID = &v
	}
	return &c
}

// =============================================================================
// BOOKING SERVICE
// =============================================================================

// BookingService orchestrates bookings. All collaborators are injected at
// construction; it never reaches into another component by name.
type BookingService struct {
	Bookings  BookingStore
	Leads     LeadStore
	Units     *UnitService
	Pricing   *PricingEngine
	Approvals *ApprovalService
	Chains    ChainBuilder
	Config    ConfigProvider
	Clock     Clock
}

// DiscountInput describes a discount to add.
type DiscountInput struct {
	Name  string
	Kind  AdjustmentKind
	Value decimal.Decimal
}

// CreateBookingInput carries the caller's choices for a new booking.
type CreateBookingInput struct {
	LeadID LeadID
	UnitID UnitID

	// BasePriceOverride, when positive, replaces the unit's base price.
	BasePriceOverride *decimal.Decimal

	FloorRise *FloorRiseRule
	Views     []ViewPremium
	Discounts []DiscountInput
	Charges   []AdditionalCharge
}

// BookingResult pairs a booking with any approval its creation opened.
// A non-nil Approval is the normal "approval required" branch outcome,
// not an error.
type BookingResult struct {
	Booking  *Booking
	Approval *Approval
}

// CreateBooking resolves the lead and unit, snapshots pricing inputs,
// computes the total, and commits unit + lead + booking as a saga.
func (s *BookingService) CreateBooking(ctx context.Context, tenant TenantID, in CreateBookingInput, actor Actor) (*BookingResult, error) {
	lead, err := s.Leads.GetLead(ctx, in.LeadID)
	if err != nil {
		return nil, err
	}
	if err := tenantGuard(lead.TenantID, tenant, "lead"); err != nil {
		return nil, err
	}
	unit, err := s.Units.Get(ctx, tenant, in.UnitID)
	if err != nil {
		return nil, err
	}
	now := s.Clock.Now()
	eff := unit.EffectiveStatus(now)
	if eff != UnitAvailable && eff != UnitLocked {
		return nil, &ConflictError{Reason: fmt.Sprintf("unit %s is %s", unit.ID, eff)}
	}

	cfg, err := s.Config.TenantConfig(tenant)
	if err != nil {
		return nil, err
	}

	basePrice := unit.BasePrice
	if in.BasePriceOverride != nil && in.BasePriceOverride.IsPositive() {
		basePrice = *in.BasePriceOverride
	}

	b := &Booking{
		ID:             BookingID(NewID()),
		TenantID:       tenant,
		LeadID:         lead.ID,
		UnitID:         unit.ID,
		ProjectID:      unit.ProjectID,
		TowerID:        unit.TowerID,
		CustomerName:   lead.Name,
		CustomerPhone:  lead.Phone,
		CustomerEmail:  lead.Email,
		BasePrice:      basePrice,
		ChargeableArea: unit.ChargeableArea(),
		FloorRise:      in.FloorRise,
		Views:          in.Views,
		Premiums:       append([]PremiumAdjustment(nil), unit.Premiums...),
		Charges:        append(append([]AdditionalCharge(nil), unit.Charges...), in.Charges...),
		TaxRates:       cfg.TaxRatesFor(unit.ProjectID),
		Status:         BookingDraft,
		BookingDate:    now,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	// Evaluate requested discounts against the pre-discount total so a
	// percentage discount has a stable base.
	var approval *Approval
	var opened []*Approval
	for _, di := range in.Discounts {
		d, needsApproval, err := s.evaluateDiscount(b, di, actor, cfg)
		if err != nil {
			return nil, err
		}
		if needsApproval {
			a, err := s.openDiscountApproval(ctx, tenant, b, d, actor)
			if err != nil {
				return nil, err
			}
			d.ApprovalID = &a.ID
			approval = a
			opened = append(opened, a)
		}
		b.Discounts = append(b.Discounts, *d)
	}

	s.recompute(b)
	if b.HasPendingDiscounts() {
		b.Status = BookingPendingApproval
	}

	// Saga: reserve the unit, convert the lead, then write the booking.
	// Compensate in reverse order on failure.
	if _, err := s.Units.Book(ctx, tenant, unit.ID, b.ID); err != nil {
		return nil, err
	}

	prevLeadStatus := lead.Status
	lead.Status = LeadStatusConverted
	lead.UpdatedAt = now
	if err := s.Leads.PutLead(ctx, lead); err != nil {
		s.compensateUnit(ctx, tenant, unit.ID, b.ID)
		s.withdrawApprovals(ctx, tenant, opened)
		return nil, fmt.Errorf("converting lead: %w", err)
	}

	if err := s.Bookings.CreateBooking(ctx, b); err != nil {
		lead.Status = prevLeadStatus
		lead.UpdatedAt = s.Clock.Now()
		_ = s.Leads.PutLead(ctx, lead)
		s.compensateUnit(ctx, tenant, unit.ID, b.ID)
		s.withdrawApprovals(ctx, tenant, opened)
		return nil, fmt.Errorf("writing booking: %w", err)
	}

	return &BookingResult{Booking: b, Approval: approval}, nil
}

func (s *BookingService) compensateUnit(ctx context.Context, tenant TenantID, unit UnitID, booking BookingID) {
	// Best-effort compensation; the unit transition is CAS-protected so a
	// stale release cannot clobber a concurrent winner.
	_, _ = s.Units.ReleaseBooking(ctx, tenant, unit, booking)
}

// withdrawApprovals closes approvals opened for a booking that never got
// written, so they do not linger in the pending queue. Best-effort.
func (s *BookingService) withdrawApprovals(ctx context.Context, tenant TenantID, opened []*Approval) {
	for _, a := range opened {
		_, _ = s.Approvals.Withdraw(ctx, tenant, a.ID)
	}
}

// Get returns a booking by ID.
func (s *BookingService) Get(ctx context.Context, tenant TenantID, id BookingID) (*Booking, error) {
	b, err := s.Bookings.GetBooking(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := tenantGuard(b.TenantID, tenant, "booking"); err != nil {
		return nil, err
	}
	return b, nil
}

// recompute refreshes the stored totals from the pricing engine. Only
// approved discounts count toward the total.
func (s *BookingService) recompute(b *Booking) PriceBreakdown {
	bd := s.Pricing.ComputePrice(b.priceInput())
	b.TotalAmount = bd.Total
	b.TaxAmount = bd.TaxTotal
	return bd
}

// Breakdown recomputes and returns the full itemized breakdown without
// persisting anything.
func (s *BookingService) Breakdown(ctx context.Context, tenant TenantID, id BookingID) (*PriceBreakdown, error) {
	b, err := s.Get(ctx, tenant, id)
	if err != nil {
		return nil, err
	}
	bd := s.Pricing.ComputePrice(b.priceInput())
	return &bd, nil
}

// =============================================================================
// DISCOUNTS
// =============================================================================

// AddDiscount computes the discount amount, decides whether it needs
// approval against the actor's ceiling, opens an approval when required,
// and recomputes the booking total. A percentage discount is taken
// against the pre-discount, pre-tax subtotal (base price plus premiums
// and charges), not the taxed booking total, so its money value does not
// shift as other discounts resolve.
func (s *BookingService) AddDiscount(ctx context.Context, tenant TenantID, id BookingID, in DiscountInput, actor Actor) (*BookingResult, error) {
	b, err := s.Get(ctx, tenant, id)
	if err != nil {
		return nil, err
	}
	if b.Status == BookingCancelled || b.Status == BookingExecuted {
		return nil, &ConflictError{Reason: fmt.Sprintf("booking %s is %s", id, b.Status)}
	}
	cfg, err := s.Config.TenantConfig(tenant)
	if err != nil {
		return nil, err
	}

	d, needsApproval, err := s.evaluateDiscount(b, in, actor, cfg)
	if err != nil {
		return nil, err
	}

	var approval *Approval
	if needsApproval {
		approval, err = s.openDiscountApproval(ctx, tenant, b, d, actor)
		if err != nil {
			return nil, err
		}
		d.ApprovalID = &approval.ID
		if b.Status == BookingDraft {
			b.Status = BookingPendingApproval
		}
	}

	b.Discounts = append(b.Discounts, *d)
	s.recompute(b)
	b.UpdatedAt = s.Clock.Now()
	if err := s.Bookings.PutBooking(ctx, b); err != nil {
		return nil, err
	}
	return &BookingResult{Booking: b, Approval: approval}, nil
}

// evaluateDiscount computes the discount's money amount and whether the
// actor may grant it without approval.
func (s *BookingService) evaluateDiscount(b *Booking, in DiscountInput, actor Actor, cfg *TenantConfig) (*Discount, bool, error) {
	if in.Value.IsNegative() || in.Value.IsZero() {
		return nil, false, &ValidationError{Field: "value", Reason: "discount must be positive"}
	}

	// The pre-discount total is the stable base for percentage math.
	base := s.Pricing.ComputePrice(PriceInput{
		BasePrice:     b.BasePrice,
		Area:          b.ChargeableArea,
		AreaInclusive: true,
		FloorRise:     b.FloorRise,
		Views:         b.Views,
		Adjustments:   b.Premiums,
		Charges:       b.Charges,
		Taxes:         b.TaxRates,
	}).TaxableAmount

	amount := in.Value
	percent := decimal.Zero
	switch in.Kind {
	case AdjustPercent:
		percent = in.Value
		amount = PercentOf(in.Value, base)
	case AdjustFixed:
		if base.IsPositive() {
			percent = amount.Div(base).Mul(hundred)
		}
	default:
		return nil, false, &ValidationError{Field: "kind", Reason: fmt.Sprintf("unknown discount kind %q", in.Kind)}
	}

	needsApproval := false
	if !actor.CanOverrideDiscounts {
		ceiling := actor.MaxDiscountPercent
		if ceiling.IsZero() {
			ceiling = cfg.MaxDiscountPercent
		}
		needsApproval = percent.GreaterThan(ceiling)
	}

	status := DiscountApproved
	if needsApproval {
		status = DiscountPending
	}
	d := &Discount{
		ID:        NewID(),
		Name:      in.Name,
		Kind:      in.Kind,
		Value:     in.Value,
		Amount:    amount,
		Status:    status,
		GrantedBy: actor.ID,
		GrantedAt: s.Clock.Now(),
	}
	return d, needsApproval, nil
}

func (s *BookingService) openDiscountApproval(ctx context.Context, tenant TenantID, b *Booking, d *Discount, actor Actor) (*Approval, error) {
	chain, err := s.Chains.BuildChain(tenant, ApprovalDiscount, d.Amount)
	if err != nil {
		return nil, err
	}
	percent := decimal.Zero
	if d.Kind == AdjustPercent {
		percent = d.Value
	}
	return s.Approvals.Create(ctx, tenant, ApprovalDiscount, EntityBooking, string(b.ID),
		d.Amount, percent, actor.ID, "discount "+d.Name, chain)
}

// ApplyDiscountApproval reconciles a booking after a discount approval is
// resolved: the discount flips to approved or rejected, the total is
// recomputed, and a booking left with no pending discounts moves from
// pending_approval to approved.
func (s *BookingService) ApplyDiscountApproval(ctx context.Context, tenant TenantID, id BookingID, approvalID ApprovalID) (*Booking, error) {
	b, err := s.Get(ctx, tenant, id)
	if err != nil {
		return nil, err
	}
	a, err := s.Approvals.Get(ctx, tenant, approvalID)
	if err != nil {
		return nil, err
	}
	if a.Status == ApprovalPending {
		return nil, &ConflictError{Reason: fmt.Sprintf("approval %s is still pending", approvalID)}
	}

	found := false
	for i := range b.Discounts {
		d := &b.Discounts[i]
		if d.ApprovalID == nil || *d.ApprovalID != approvalID {
			continue
		}
		found = true
		if a.Status == ApprovalApproved {
			d.Status = DiscountApproved
		} else {
			d.Status = DiscountRejected
		}
	}
	if !found {
		return nil, &NotFoundError{Kind: "discount for approval", ID: string(approvalID)}
	}

	s.recompute(b)
	if b.Status == BookingPendingApproval && !b.HasPendingDiscounts() {
		b.Status = BookingApproved
	}
	b.UpdatedAt = s.Clock.Now()
	if err := s.Bookings.PutBooking(ctx, b); err != nil {
		return nil, err
	}
	return b, nil
}

// =============================================================================
// STATUS TRANSITIONS
// =============================================================================

// UpdateStatus moves a booking along the forward-only status table.
// Cancellation requires a reason, releases the unit, and - when the actor
// lacks unconditional cancellation authority - becomes an approval request
// instead of an immediate transition.
func (s *BookingService) UpdateStatus(ctx context.Context, tenant TenantID, id BookingID, target BookingStatus, actor Actor, reason string) (*BookingResult, error) {
	b, err := s.Get(ctx, tenant, id)
	if err != nil {
		return nil, err
	}
	if !canTransition(b.Status, target) {
		return nil, &ConflictError{Reason: fmt.Sprintf("cannot move booking from %s to %s", b.Status, target)}
	}

	if target == BookingCancelled {
		return s.cancel(ctx, tenant, b, actor, reason)
	}

	b.Status = target
	b.UpdatedAt = s.Clock.Now()
	if err := s.Bookings.PutBooking(ctx, b); err != nil {
		return nil, err
	}
	return &BookingResult{Booking: b}, nil
}

func (s *BookingService) cancel(ctx context.Context, tenant TenantID, b *Booking, actor Actor, reason string) (*BookingResult, error) {
	if strings.TrimSpace(reason) == "" {
		return nil, &ValidationError{Field: "reason", Reason: "cancellation requires a reason"}
	}

	if !actor.CanCancelBookings {
		chain, err := s.Chains.BuildChain(tenant, ApprovalCancellation, b.TotalAmount)
		if err != nil {
			return nil, err
		}
		a, err := s.Approvals.Create(ctx, tenant, ApprovalCancellation, EntityBooking, string(b.ID),
			b.TotalAmount, decimal.Zero, actor.ID, reason, chain)
		if err != nil {
			return nil, err
		}
		return &BookingResult{Booking: b, Approval: a}, nil
	}

	return s.finalizeCancellation(ctx, tenant, b, actor, reason, nil)
}

// ApplyCancellationApproval completes or drops a cancellation once its
// approval resolves.
func (s *BookingService) ApplyCancellationApproval(ctx context.Context, tenant TenantID, id BookingID, approvalID ApprovalID, actor Actor) (*Booking, error) {
	b, err := s.Get(ctx, tenant, id)
	if err != nil {
		return nil, err
	}
	a, err := s.Approvals.Get(ctx, tenant, approvalID)
	if err != nil {
		return nil, err
	}
	if a.Type != ApprovalCancellation || a.EntityID != string(b.ID) {
		return nil, &ValidationError{Field: "approvalId", Reason: "approval does not gate this booking's cancellation"}
	}
	switch a.Status {
	case ApprovalPending:
		return nil, &ConflictError{Reason: fmt.Sprintf("approval %s is still pending", approvalID)}
	case ApprovalRejected:
		return b, nil // cancellation denied; booking unchanged
	}
	res, err := s.finalizeCancellation(ctx, tenant, b, actor, a.Justification, &approvalID)
	if err != nil {
		return nil, err
	}
	return res.Booking, nil
}

func (s *BookingService) finalizeCancellation(ctx context.Context, tenant TenantID, b *Booking, actor Actor, reason string, approvalID *ApprovalID) (*BookingResult, error) {
	now := s.Clock.Now()
	b.Status = BookingCancelled
	b.Cancellation = &CancellationRecord{
		Date:        now,
		Reason:      reason,
		RequestedBy: actor.ID,
		ApprovalID:  approvalID,
	}
	if approvalID != nil {
		b.Cancellation.ApprovedBy = &actor.ID
	}
	b.UpdatedAt = now
	if err := s.Bookings.PutBooking(ctx, b); err != nil {
		return nil, err
	}

	// Return the unit to inventory. The unit may already be released if a
	// prior cancellation attempt got this far; treat that as done.
	if _, err := s.Units.ReleaseBooking(ctx, tenant, b.UnitID, b.ID); err != nil && !IsConflict(err) {
		return nil, err
	}
	return &BookingResult{Booking: b}, nil
}
