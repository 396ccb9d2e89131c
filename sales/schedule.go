/*
schedule.go - Installment payment schedules

PURPOSE:
  Generates installment schedules from a booking total (directly or from a
  reusable template), recalculates amounts consistently when the total or an
  installment changes, derives due dates, gates significant edits through
  the approval workflow, and records partial/full payments.

INVARIANTS:
  - The sum of installment amounts reconciles with the total after every
    recalculation (rounding drift lands on the last percentage-based
    installment).
  - A paid or partially-paid installment is never silently overwritten:
    edits to it always route through approval.
  - Exactly one schedule per booking; the store enforces this.

OPTIMISTIC EDITS:
  Edits that need approval are applied immediately; the change-history entry
  records the prior values and the approval reference. ResolvePendingChange
  later keeps the edit (approved) or reverts it from the recorded prior
  values (rejected). See DESIGN.md for the rationale.
*/
package sales

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// INSTALLMENTS
// =============================================================================

type InstallmentStatus string

const (
	InstallmentUpcoming      InstallmentStatus = "upcoming"
	InstallmentPaid          InstallmentStatus = "paid"
	InstallmentPartiallyPaid InstallmentStatus = "partially_paid"
	InstallmentOverdue       InstallmentStatus = "overdue"
)

// DueTrigger selects how an installment's due date is derived.
type DueTrigger string

const (
	DueOnBookingOffset DueTrigger = "booking_date_offset"
	DueOnMilestone     DueTrigger = "milestone"
	DueOnFixedDate     DueTrigger = "fixed_date"
)

// DueRule derives an installment's due date.
type DueRule struct {
	Trigger    DueTrigger
	OffsetDays int
	Milestone  string
	FixedDate  *time.Time
}

// Installment is one scheduled partial payment.
type Installment struct {
	Name    string
	DueRule DueRule
	DueDate *time.Time

	// Percent and Amount are kept consistent: percentage-based installments
	// re-derive Amount on recalculation; fixed-amount installments keep
	// Amount and back-derive Percent for display.
	Percent         decimal.Decimal
	Amount          decimal.Decimal
	PercentageBased bool

	AmountPaid    decimal.Decimal
	Status        InstallmentStatus
	Editable      bool
	PaidAt        *time.Time
	PaymentMethod string
	PaymentRef    string
}

// Remaining is the unpaid portion of the installment.
func (i *Installment) Remaining() decimal.Decimal {
	return i.Amount.Sub(i.AmountPaid)
}

// ChangeEntry is one audit record in a schedule's change history.
// Index -1 denotes a whole-schedule change (the total amount).
type ChangeEntry struct {
	At    time.Time
	Actor ActorID
	Index int

	PrevAmount  decimal.Decimal
	NewAmount   decimal.Decimal
	PrevPercent decimal.Decimal
	NewPercent  decimal.Decimal

	Reason     string
	ApprovalID *ApprovalID
	Reverted   bool
}

// PaymentSchedule is the installment plan for one booking.
type PaymentSchedule struct {
	ID        ScheduleID
	TenantID  TenantID
	BookingID BookingID

	TotalAmount  decimal.Decimal
	Installments []Installment
	History      []ChangeEntry

	Version   int64
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Clone returns a deep copy of the schedule.
func (ps *PaymentSchedule) Clone() *PaymentSchedule {
	c := *ps
	c.Installments = make([]Installment, len(ps.Installments))
	for i, inst := range ps.Installments {
		c.Installments[i] = inst
		if inst.DueDate != nil {
			v := *inst.DueDate
			c.Installments[i].DueDate = &v
		}
		if inst.PaidAt != nil {
			v := *inst.PaidAt
			c.Installments[i].PaidAt = &v
		}
		if inst.DueRule.FixedDate != nil {
			v := *inst.DueRule.FixedDate
			c.Installments[i].DueRule.FixedDate = &v
		}
	}
	c.History = make([]ChangeEntry, len(ps.History))
	for i, e := range ps.History {
		c.History[i] = e
		if e.ApprovalID != nil {
			v := *e.ApprovalID
			c.History[i].ApprovalID = &v
		}
	}
	return &c
}

// refreshStatuses applies the lazy overdue check: an unpaid installment
// whose due date has passed reads as overdue. Mirrors unit lock expiry:
// a read-time predicate, not a background sweeper.
func (ps *PaymentSchedule) refreshStatuses(now time.Time) {
	for i := range ps.Installments {
		inst := &ps.Installments[i]
		if inst.Status == InstallmentPaid || inst.Status == InstallmentPartiallyPaid {
			continue
		}
		inst.Status = InstallmentUpcoming
		if inst.DueDate != nil && inst.DueDate.Before(now) {
			inst.Status = InstallmentOverdue
		}
	}
}

// =============================================================================
// SCHEDULE SERVICE
// =============================================================================

type ScheduleService struct {
	Schedules ScheduleStore
	Templates TemplateStore
	Bookings  BookingStore
	Approvals *ApprovalService
	Chains    ChainBuilder
	Config    ConfigProvider
	Clock     Clock
}

// InstallmentSpec describes one installment when creating a schedule
// explicitly (not from a template).
type InstallmentSpec struct {
	Name        string
	Percent     decimal.Decimal
	FixedAmount *decimal.Decimal
	DueRule     DueRule
	Editable    bool
}

// MilestoneDates maps named construction milestones to dates, used to
// resolve milestone-triggered due dates when known.
type MilestoneDates map[string]time.Time

// CreateFromTemplate builds a schedule for a booking from a stored template.
func (s *ScheduleService) CreateFromTemplate(ctx context.Context, tenant TenantID, booking BookingID, template TemplateID, milestones MilestoneDates) (*PaymentSchedule, error) {
	t, err := s.Templates.GetTemplate(ctx, template)
	if err != nil {
		return nil, err
	}
	if err := tenantGuard(t.TenantID, tenant, "template"); err != nil {
		return nil, err
	}
	specs := make([]InstallmentSpec, len(t.Installments))
	for i, ti := range t.Installments {
		specs[i] = InstallmentSpec{
			Name:        ti.Name,
			Percent:     ti.Percent,
			FixedAmount: ti.FixedAmount,
			DueRule:     ti.DueRule,
			Editable:    ti.Editable,
		}
	}
	return s.Create(ctx, tenant, booking, specs, milestones)
}

// Create builds a schedule for a booking from explicit installment specs.
func (s *ScheduleService) Create(ctx context.Context, tenant TenantID, booking BookingID, specs []InstallmentSpec, milestones MilestoneDates) (*PaymentSchedule, error) {
	b, err := s.Bookings.GetBooking(ctx, booking)
	if err != nil {
		return nil, err
	}
	if err := tenantGuard(b.TenantID, tenant, "booking"); err != nil {
		return nil, err
	}
	if len(specs) == 0 {
		return nil, &ValidationError{Field: "installments", Reason: "schedule needs at least one installment"}
	}
	if err := validateSpecs(specs); err != nil {
		return nil, err
	}

	now := s.Clock.Now()
	ps := &PaymentSchedule{
		ID:          ScheduleID(NewID()),
		TenantID:    tenant,
		BookingID:   booking,
		TotalAmount: b.TotalAmount,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	for _, spec := range specs {
		inst := Installment{
			Name:            spec.Name,
			DueRule:         spec.DueRule,
			Percent:         spec.Percent,
			PercentageBased: spec.FixedAmount == nil,
			Status:          InstallmentUpcoming,
			Editable:        spec.Editable,
		}
		if spec.FixedAmount != nil {
			// Fixed amounts back-derive a percentage for display consistency.
			inst.Amount = *spec.FixedAmount
			if ps.TotalAmount.IsPositive() {
				inst.Percent = spec.FixedAmount.Div(ps.TotalAmount).Mul(hundred)
			}
		}
		inst.DueDate = resolveDueDate(spec.DueRule, b.BookingDate, milestones)
		ps.Installments = append(ps.Installments, inst)
	}

	recalculate(ps)

	if err := s.Schedules.CreateSchedule(ctx, ps); err != nil {
		return nil, err
	}

	// Link back to the booking from a fresh read so the write cannot lose
	// to an unrelated concurrent booking update.
	b, err = s.Bookings.GetBooking(ctx, booking)
	if err != nil {
		return nil, err
	}
	b.ScheduleID = &ps.ID
	b.UpdatedAt = now
	if err := s.Bookings.PutBooking(ctx, b); err != nil {
		return nil, err
	}
	return ps, nil
}

func validateSpecs(specs []InstallmentSpec) error {
	pctSum := decimal.Zero
	hasFixed := false
	for _, spec := range specs {
		if spec.FixedAmount != nil {
			if spec.FixedAmount.IsNegative() {
				return &ValidationError{Field: "fixedAmount", Reason: "must not be negative"}
			}
			hasFixed = true
			continue
		}
		if spec.Percent.IsNegative() {
			return &ValidationError{Field: "percent", Reason: "must not be negative"}
		}
		pctSum = pctSum.Add(spec.Percent)
	}
	if pctSum.GreaterThan(hundred) {
		return &ValidationError{Field: "installments", Reason: fmt.Sprintf("percentages sum to %s, above 100", pctSum)}
	}
	if pctSum.LessThan(hundred) && !hasFixed {
		return &ValidationError{Field: "installments", Reason: fmt.Sprintf("percentages sum to %s with no fixed-amount installments; plan is under-specified", pctSum)}
	}
	return nil
}

func resolveDueDate(rule DueRule, bookingDate time.Time, milestones MilestoneDates) *time.Time {
	switch rule.Trigger {
	case DueOnBookingOffset:
		d := bookingDate.AddDate(0, 0, rule.OffsetDays)
		return &d
	case DueOnFixedDate:
		return rule.FixedDate
	case DueOnMilestone:
		if milestones != nil {
			if d, ok := milestones[rule.Milestone]; ok {
				return &d
			}
		}
		// Milestone not dated yet; due date stays open until it is.
		return nil
	}
	return nil
}

// recalculate re-derives every percentage-based installment's amount from
// its percentage against the current total. Idempotent: running it twice
// produces the same result. Fixed-amount installments are skipped; rounding
// drift is settled on the last percentage-based installment.
func recalculate(ps *PaymentSchedule) {
	lastPct := -1
	pctSum := decimal.Zero
	for i := range ps.Installments {
		inst := &ps.Installments[i]
		if !inst.PercentageBased {
			continue
		}
		inst.Amount = PercentOf(inst.Percent, ps.TotalAmount).Round(2)
		pctSum = pctSum.Add(inst.Percent)
		lastPct = i
	}
	if lastPct < 0 {
		return
	}
	// Reconcile: the percentage-based amounts must sum to exactly their
	// share of the total.
	target := PercentOf(pctSum, ps.TotalAmount).Round(2)
	actual := decimal.Zero
	for i := range ps.Installments {
		if ps.Installments[i].PercentageBased {
			actual = actual.Add(ps.Installments[i].Amount)
		}
	}
	drift := target.Sub(actual)
	if !drift.IsZero() {
		ps.Installments[lastPct].Amount = ps.Installments[lastPct].Amount.Add(drift)
	}
}

// Get returns a schedule with lazy overdue statuses applied.
func (s *ScheduleService) Get(ctx context.Context, tenant TenantID, id ScheduleID) (*PaymentSchedule, error) {
	ps, err := s.Schedules.GetSchedule(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := tenantGuard(ps.TenantID, tenant, "payment schedule"); err != nil {
		return nil, err
	}
	ps.refreshStatuses(s.Clock.Now())
	return ps, nil
}

// GetByBooking returns the schedule attached to a booking.
func (s *ScheduleService) GetByBooking(ctx context.Context, tenant TenantID, booking BookingID) (*PaymentSchedule, error) {
	ps, err := s.Schedules.GetScheduleByBooking(ctx, booking)
	if err != nil {
		return nil, err
	}
	if err := tenantGuard(ps.TenantID, tenant, "payment schedule"); err != nil {
		return nil, err
	}
	ps.refreshStatuses(s.Clock.Now())
	return ps, nil
}

// =============================================================================
// EDITS
// =============================================================================

// InstallmentChange describes a requested installment edit. Nil fields are
// left unchanged.
type InstallmentChange struct {
	Name    *string
	Amount  *decimal.Decimal
	Percent *decimal.Decimal
	DueDate *time.Time

	// ForceApproval routes the edit through approval even below the
	// materiality threshold.
	ForceApproval bool
}

// ScheduleResult pairs a schedule with any approval the edit opened.
type ScheduleResult struct {
	Schedule *PaymentSchedule
	Approval *Approval
}

// UpdateInstallment applies an edit to one installment, routing it through
// approval when the installment has payments against it, the delta is
// material, or the caller forces it.
func (s *ScheduleService) UpdateInstallment(ctx context.Context, tenant TenantID, id ScheduleID, index int, change InstallmentChange, actor Actor, reason string) (*ScheduleResult, error) {
	ps, err := s.Get(ctx, tenant, id)
	if err != nil {
		return nil, err
	}
	if index < 0 || index >= len(ps.Installments) {
		return nil, &ValidationError{Field: "index", Reason: fmt.Sprintf("installment index %d out of range", index)}
	}
	inst := &ps.Installments[index]
	if !inst.Editable {
		return nil, &ValidationError{Field: "index", Reason: fmt.Sprintf("installment %q is not editable", inst.Name)}
	}

	cfg, err := s.Config.TenantConfig(tenant)
	if err != nil {
		return nil, err
	}

	newAmount := inst.Amount
	newPercent := inst.Percent
	if change.Percent != nil {
		newPercent = *change.Percent
		newAmount = PercentOf(newPercent, ps.TotalAmount).Round(2)
	}
	if change.Amount != nil {
		newAmount = *change.Amount
		if ps.TotalAmount.IsPositive() {
			newPercent = newAmount.Div(ps.TotalAmount).Mul(hundred)
		}
	}
	if newAmount.LessThan(inst.AmountPaid) {
		return nil, &ValidationError{Field: "amount", Reason: "cannot reduce installment below the amount already paid"}
	}

	needsApproval := change.ForceApproval ||
		inst.Status == InstallmentPaid || inst.Status == InstallmentPartiallyPaid ||
		exceedsMateriality(inst.Amount, newAmount, inst.Percent, newPercent, cfg)

	entry := ChangeEntry{
		At:          s.Clock.Now(),
		Actor:       actor.ID,
		Index:       index,
		PrevAmount:  inst.Amount,
		NewAmount:   newAmount,
		PrevPercent: inst.Percent,
		NewPercent:  newPercent,
		Reason:      reason,
	}

	var approval *Approval
	if needsApproval {
		approval, err = s.openScheduleApproval(ctx, tenant, ps, newAmount.Sub(inst.Amount).Abs(), actor, reason)
		if err != nil {
			return nil, err
		}
		entry.ApprovalID = &approval.ID
	}

	// Applied optimistically; ResolvePendingChange reverts on rejection.
	if change.Name != nil {
		inst.Name = *change.Name
	}
	if change.DueDate != nil {
		d := *change.DueDate
		inst.DueDate = &d
		inst.DueRule = DueRule{Trigger: DueOnFixedDate, FixedDate: &d}
	}
	inst.Amount = newAmount
	inst.Percent = newPercent
	if change.Amount != nil {
		inst.PercentageBased = false
	}
	// A changed amount can reopen a settled installment for the balance.
	if inst.AmountPaid.IsPositive() {
		if inst.AmountPaid.GreaterThanOrEqual(inst.Amount) {
			inst.Status = InstallmentPaid
		} else {
			inst.Status = InstallmentPartiallyPaid
		}
	}

	ps.History = append(ps.History, entry)
	ps.UpdatedAt = entry.At
	if err := s.Schedules.PutSchedule(ctx, ps); err != nil {
		return nil, err
	}
	return &ScheduleResult{Schedule: ps, Approval: approval}, nil
}

// UpdateTotalAmount changes the schedule total (history index -1) and
// recalculates every percentage-based installment from the new total.
func (s *ScheduleService) UpdateTotalAmount(ctx context.Context, tenant TenantID, id ScheduleID, newTotal decimal.Decimal, actor Actor, reason string) (*ScheduleResult, error) {
	if !newTotal.IsPositive() {
		return nil, &ValidationError{Field: "totalAmount", Reason: "must be positive"}
	}
	ps, err := s.Get(ctx, tenant, id)
	if err != nil {
		return nil, err
	}
	cfg, err := s.Config.TenantConfig(tenant)
	if err != nil {
		return nil, err
	}

	needsApproval := exceedsMateriality(ps.TotalAmount, newTotal, decimal.Zero, decimal.Zero, cfg)

	entry := ChangeEntry{
		At:         s.Clock.Now(),
		Actor:      actor.ID,
		Index:      -1,
		PrevAmount: ps.TotalAmount,
		NewAmount:  newTotal,
		Reason:     reason,
	}

	var approval *Approval
	if needsApproval {
		approval, err = s.openScheduleApproval(ctx, tenant, ps, newTotal.Sub(ps.TotalAmount).Abs(), actor, reason)
		if err != nil {
			return nil, err
		}
		entry.ApprovalID = &approval.ID
	}

	ps.TotalAmount = newTotal
	recalculate(ps)
	ps.History = append(ps.History, entry)
	ps.UpdatedAt = entry.At
	if err := s.Schedules.PutSchedule(ctx, ps); err != nil {
		return nil, err
	}
	return &ScheduleResult{Schedule: ps, Approval: approval}, nil
}

// Recalculate re-derives installment amounts from the current total and
// persists the result. Idempotent.
func (s *ScheduleService) Recalculate(ctx context.Context, tenant TenantID, id ScheduleID) (*PaymentSchedule, error) {
	ps, err := s.Get(ctx, tenant, id)
	if err != nil {
		return nil, err
	}
	recalculate(ps)
	ps.UpdatedAt = s.Clock.Now()
	if err := s.Schedules.PutSchedule(ctx, ps); err != nil {
		return nil, err
	}
	return ps, nil
}

// Service-level materiality defaults. A tenant config that leaves the
// thresholds unset falls back to these; unset never means ungated.
var (
	defaultMaterialityAmount  = decimal.NewFromInt(100000)
	defaultMaterialityPercent = decimal.NewFromInt(5)
)

func exceedsMateriality(prevAmount, newAmount, prevPct, newPct decimal.Decimal, cfg *TenantConfig) bool {
	amountThreshold := cfg.MaterialityAmount
	if !amountThreshold.IsPositive() {
		amountThreshold = defaultMaterialityAmount
	}
	pctThreshold := cfg.MaterialityPercent
	if !pctThreshold.IsPositive() {
		pctThreshold = defaultMaterialityPercent
	}
	if newAmount.Sub(prevAmount).Abs().GreaterThan(amountThreshold) {
		return true
	}
	return newPct.Sub(prevPct).Abs().GreaterThan(pctThreshold)
}

func (s *ScheduleService) openScheduleApproval(ctx context.Context, tenant TenantID, ps *PaymentSchedule, amount decimal.Decimal, actor Actor, reason string) (*Approval, error) {
	chain, err := s.Chains.BuildChain(tenant, ApprovalPaymentSchedule, amount)
	if err != nil {
		return nil, err
	}
	return s.Approvals.Create(ctx, tenant, ApprovalPaymentSchedule, EntitySchedule, string(ps.ID),
		amount, decimal.Zero, actor.ID, reason, chain)
}

// ResolvePendingChange reconciles an optimistically applied edit with its
// approval outcome. Approved: the edit stands and the history entry is left
// as-is. Rejected: the edit is reverted from the recorded prior values and
// the entry is marked reverted.
func (s *ScheduleService) ResolvePendingChange(ctx context.Context, tenant TenantID, id ScheduleID, approvalID ApprovalID) (*PaymentSchedule, error) {
	ps, err := s.Get(ctx, tenant, id)
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

	var entry *ChangeEntry
	for i := len(ps.History) - 1; i >= 0; i-- {
		e := &ps.History[i]
		if e.ApprovalID != nil && *e.ApprovalID == approvalID && !e.Reverted {
			entry = e
			break
		}
	}
	if entry == nil {
		return nil, &NotFoundError{Kind: "change for approval", ID: string(approvalID)}
	}

	if a.Status == ApprovalApproved {
		return ps, nil
	}

	// Rejected: compensate from the recorded prior values.
	if entry.Index == -1 {
		ps.TotalAmount = entry.PrevAmount
		recalculate(ps)
	} else {
		if entry.Index < 0 || entry.Index >= len(ps.Installments) {
			return nil, &ConflictError{Reason: "change history references a missing installment"}
		}
		inst := &ps.Installments[entry.Index]
		inst.Amount = entry.PrevAmount
		inst.Percent = entry.PrevPercent
		if inst.AmountPaid.IsPositive() {
			if inst.AmountPaid.GreaterThanOrEqual(inst.Amount) {
				inst.Status = InstallmentPaid
			} else {
				inst.Status = InstallmentPartiallyPaid
			}
		}
	}
	entry.Reverted = true
	ps.UpdatedAt = s.Clock.Now()
	if err := s.Schedules.PutSchedule(ctx, ps); err != nil {
		return nil, err
	}
	return ps, nil
}

// =============================================================================
// PAYMENTS
// =============================================================================

// RecordPayment applies a partial or full payment to one installment.
// Overpayment is rejected; status derives from the paid amount.
func (s *ScheduleService) RecordPayment(ctx context.Context, tenant TenantID, id ScheduleID, index int, amount decimal.Decimal, method, reference string, actor Actor) (*PaymentSchedule, error) {
	ps, err := s.Get(ctx, tenant, id)
	if err != nil {
		return nil, err
	}
	if index < 0 || index >= len(ps.Installments) {
		return nil, &ValidationError{Field: "index", Reason: fmt.Sprintf("installment index %d out of range", index)}
	}
	inst := &ps.Installments[index]
	if !amount.IsPositive() {
		return nil, &ValidationError{Field: "amount", Reason: "payment must be positive"}
	}
	if amount.GreaterThan(inst.Remaining()) {
		return nil, &ValidationError{
			Field:  "amount",
			Reason: fmt.Sprintf("payment %s exceeds remaining due %s", amount, inst.Remaining()),
		}
	}

	now := s.Clock.Now()
	inst.AmountPaid = inst.AmountPaid.Add(amount)
	inst.PaidAt = &now
	inst.PaymentMethod = method
	inst.PaymentRef = reference
	if inst.AmountPaid.GreaterThanOrEqual(inst.Amount) {
		inst.Status = InstallmentPaid
	} else {
		inst.Status = InstallmentPartiallyPaid
	}

	ps.UpdatedAt = now
	if err := s.Schedules.PutSchedule(ctx, ps); err != nil {
		return nil, err
	}
	return ps, nil
}
