/*
dto.go - Request/response data structures for the HTTP API

PURPOSE:
  JSON shapes exchanged with clients, validated with go-playground/validator
  before touching the domain. Monetary values travel as decimal strings so
  no precision is lost in transit.

ACTOR CONTEXT:
  Authentication lives outside this service. Every mutating request carries
  the resolved actor context (identity, role, authority) that the gateway
  attaches after authenticating the caller.
*/
package api

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/sales-engine/sales"
)

// =============================================================================
// ACTOR
// =============================================================================

type ActorDTO struct {
	ID                   string `json:"id" validate:"required"`
	Name                 string `json:"name"`
	Role                 string `json:"role" validate:"required"`
	MaxDiscountPercent   string `json:"max_discount_percent,omitempty"`
	ApprovalThreshold    string `json:"approval_threshold,omitempty"`
	CanOverrideDiscounts bool   `json:"can_override_discounts,omitempty"`
	CanCancelBookings    bool   `json:"can_cancel_bookings,omitempty"`
}

func (a ActorDTO) toActor(tenant sales.TenantID) sales.Actor {
	return sales.Actor{
		ID:                   sales.ActorID(a.ID),
		TenantID:             tenant,
		Name:                 a.Name,
		Role:                 sales.Role(a.Role),
		MaxDiscountPercent:   sales.MustDecimal(a.MaxDiscountPercent),
		ApprovalThreshold:    sales.MustDecimal(a.ApprovalThreshold),
		CanOverrideDiscounts: a.CanOverrideDiscounts,
		CanCancelBookings:    a.CanCancelBookings,
	}
}

// =============================================================================
// UNITS
// =============================================================================

type CreateUnitRequest struct {
	ProjectID        string `json:"project_id" validate:"required"`
	TowerID          string `json:"tower_id"`
	Number           string `json:"number" validate:"required"`
	Floor            int    `json:"floor"`
	UnitType         string `json:"unit_type"`
	CarpetArea       string `json:"carpet_area,omitempty"`
	BuiltUpArea      string `json:"built_up_area,omitempty"`
	SuperBuiltUpArea string `json:"super_built_up_area,omitempty"`
	BasePrice        string `json:"base_price" validate:"required"`
}

type LockUnitRequest struct {
	Actor   ActorDTO `json:"actor" validate:"required"`
	Minutes int      `json:"minutes,omitempty"`
}

type UnitResponse struct {
	ID          string     `json:"id"`
	ProjectID   string     `json:"project_id"`
	TowerID     string     `json:"tower_id,omitempty"`
	Number      string     `json:"number"`
	Floor       int        `json:"floor"`
	UnitType    string     `json:"unit_type,omitempty"`
	BasePrice   string     `json:"base_price"`
	Status      string     `json:"status"`
	LockedBy    *string    `json:"locked_by,omitempty"`
	LockedUntil *time.Time `json:"locked_until,omitempty"`
	BookingID   *string    `json:"booking_id,omitempty"`
}

func toUnitResponse(u *sales.Unit) UnitResponse {
	r := UnitResponse{
		ID:        string(u.ID),
		ProjectID: string(u.ProjectID),
		TowerID:   string(u.TowerID),
		Number:    u.Number,
		Floor:     u.Floor,
		UnitType:  u.UnitType,
		BasePrice: u.BasePrice.String(),
		Status:    string(u.Status),
	}
	if u.LockedBy != nil {
		v := string(*u.LockedBy)
		r.LockedBy = &v
	}
	r.LockedUntil = u.LockedUntil
	if u.BookingID != nil {
		v := string(*u.BookingID)
		r.BookingID = &v
	}
	return r
}

// =============================================================================
// LEADS
// =============================================================================

type CreateLeadRequest struct {
	Name  string `json:"name" validate:"required"`
	Phone string `json:"phone,omitempty"`
	Email string `json:"email,omitempty" validate:"omitempty,email"`
}

// =============================================================================
// BOOKINGS
// =============================================================================

type DiscountDTO struct {
	Name  string `json:"name" validate:"required"`
	Kind  string `json:"kind" validate:"required,oneof=fixed percentage"`
	Value string `json:"value" validate:"required"`
}

type ChargeDTO struct {
	Name   string `json:"name" validate:"required"`
	Amount string `json:"amount" validate:"required"`
}

type ViewPremiumDTO struct {
	Name    string `json:"name" validate:"required"`
	Percent string `json:"percent" validate:"required"`
}

type FloorRiseDTO struct {
	Mode  string `json:"mode" validate:"required,oneof=fixed_per_area percent_of_base"`
	Value string `json:"value" validate:"required"`
}

type CreateBookingRequest struct {
	Actor             ActorDTO         `json:"actor" validate:"required"`
	LeadID            string           `json:"lead_id" validate:"required"`
	UnitID            string           `json:"unit_id" validate:"required"`
	BasePriceOverride string           `json:"base_price_override,omitempty"`
	FloorRise         *FloorRiseDTO    `json:"floor_rise,omitempty"`
	Views             []ViewPremiumDTO `json:"views,omitempty"`
	Discounts         []DiscountDTO    `json:"discounts,omitempty" validate:"dive"`
	Charges           []ChargeDTO      `json:"charges,omitempty" validate:"dive"`
}

type AddDiscountRequest struct {
	Actor    ActorDTO    `json:"actor" validate:"required"`
	Discount DiscountDTO `json:"discount" validate:"required"`
}

type UpdateBookingStatusRequest struct {
	Actor  ActorDTO `json:"actor" validate:"required"`
	Status string   `json:"status" validate:"required,oneof=draft pending_approval approved executed cancelled"`
	Reason string   `json:"reason,omitempty"`
}

type DiscountResponse struct {
	ID         string  `json:"id"`
	Name       string  `json:"name"`
	Kind       string  `json:"kind"`
	Value      string  `json:"value"`
	Amount     string  `json:"amount"`
	Status     string  `json:"status"`
	ApprovalID *string `json:"approval_id,omitempty"`
}

type BookingResponse struct {
	ID           string             `json:"id"`
	LeadID       string             `json:"lead_id"`
	UnitID       string             `json:"unit_id"`
	ProjectID    string             `json:"project_id"`
	CustomerName string             `json:"customer_name"`
	TotalAmount  string             `json:"total_amount"`
	TaxAmount    string             `json:"tax_amount"`
	Status       string             `json:"status"`
	Discounts    []DiscountResponse `json:"discounts,omitempty"`
	ScheduleID   *string            `json:"schedule_id,omitempty"`
	BookingDate  time.Time          `json:"booking_date"`
	ApprovalID   *string            `json:"approval_id,omitempty"` // set when the operation opened an approval
	Cancellation *CancellationDTO   `json:"cancellation,omitempty"`
}

type CancellationDTO struct {
	Date        time.Time `json:"date"`
	Reason      string    `json:"reason"`
	RequestedBy string    `json:"requested_by"`
}

func toBookingResponse(b *sales.Booking, approval *sales.Approval) BookingResponse {
	r := BookingResponse{
		ID:           string(b.ID),
		LeadID:       string(b.LeadID),
		UnitID:       string(b.UnitID),
		ProjectID:    string(b.ProjectID),
		CustomerName: b.CustomerName,
		TotalAmount:  b.TotalAmount.String(),
		TaxAmount:    b.TaxAmount.String(),
		Status:       string(b.Status),
		BookingDate:  b.BookingDate,
	}
	for _, d := range b.Discounts {
		dr := DiscountResponse{
			ID:     d.ID,
			Name:   d.Name,
			Kind:   string(d.Kind),
			Value:  d.Value.String(),
			Amount: d.Amount.String(),
			Status: string(d.Status),
		}
		if d.ApprovalID != nil {
			v := string(*d.ApprovalID)
			dr.ApprovalID = &v
		}
		r.Discounts = append(r.Discounts, dr)
	}
	if b.ScheduleID != nil {
		v := string(*b.ScheduleID)
		r.ScheduleID = &v
	}
	if approval != nil {
		v := string(approval.ID)
		r.ApprovalID = &v
	}
	if b.Cancellation != nil {
		r.Cancellation = &CancellationDTO{
			Date:        b.Cancellation.Date,
			Reason:      b.Cancellation.Reason,
			RequestedBy: string(b.Cancellation.RequestedBy),
		}
	}
	return r
}

// ActorRequest carries only the caller context, for endpoints whose other
// inputs live in the URL.
type ActorRequest struct {
	Actor ActorDTO `json:"actor" validate:"required"`
}

// =============================================================================
// APPROVALS
// =============================================================================

type ProcessApprovalRequest struct {
	Actor   ActorDTO `json:"actor" validate:"required"`
	Action  string   `json:"action" validate:"required,oneof=approve reject skip"`
	Comment string   `json:"comment,omitempty"`
}

type ChainLevelResponse struct {
	Level     int        `json:"level"`
	Role      string     `json:"role"`
	Status    string     `json:"status"`
	Comment   string     `json:"comment,omitempty"`
	DecidedBy *string    `json:"decided_by,omitempty"`
	DecidedAt *time.Time `json:"decided_at,omitempty"`
}

type ApprovalResponse struct {
	ID           string               `json:"id"`
	Type         string               `json:"type"`
	EntityType   string               `json:"entity_type"`
	EntityID     string               `json:"entity_id"`
	Amount       string               `json:"amount"`
	Status       string               `json:"status"`
	CurrentLevel int                  `json:"current_level"`
	Chain        []ChainLevelResponse `json:"chain"`
}

func toApprovalResponse(a *sales.Approval) ApprovalResponse {
	r := ApprovalResponse{
		ID:           string(a.ID),
		Type:         string(a.Type),
		EntityType:   string(a.EntityType),
		EntityID:     a.EntityID,
		Amount:       a.Amount.String(),
		Status:       string(a.Status),
		CurrentLevel: a.CurrentLevel,
	}
	for _, lvl := range a.Chain {
		lr := ChainLevelResponse{
			Level:   lvl.Level,
			Role:    string(lvl.Role),
			Status:  string(lvl.Status),
			Comment: lvl.Comment,
		}
		if lvl.DecidedBy != nil {
			v := string(*lvl.DecidedBy)
			lr.DecidedBy = &v
		}
		lr.DecidedAt = lvl.DecidedAt
		r.Chain = append(r.Chain, lr)
	}
	return r
}

// =============================================================================
// SCHEDULES
// =============================================================================

type InstallmentSpecDTO struct {
	Name        string `json:"name" validate:"required"`
	Percent     string `json:"percent,omitempty"`
	FixedAmount string `json:"fixed_amount,omitempty"`
	Trigger     string `json:"trigger,omitempty" validate:"omitempty,oneof=booking_date_offset milestone fixed_date"`
	OffsetDays  int    `json:"offset_days,omitempty"`
	Milestone   string `json:"milestone,omitempty"`
	FixedDate   string `json:"fixed_date,omitempty"`
	Editable    bool   `json:"editable"`
}

func (d InstallmentSpecDTO) toSpec() (sales.InstallmentSpec, error) {
	spec := sales.InstallmentSpec{
		Name:     d.Name,
		Percent:  sales.MustDecimal(d.Percent),
		Editable: d.Editable,
		DueRule:  sales.DueRule{Trigger: sales.DueTrigger(d.Trigger), OffsetDays: d.OffsetDays, Milestone: d.Milestone},
	}
	if d.FixedAmount != "" {
		amt, err := decimal.NewFromString(d.FixedAmount)
		if err != nil {
			return spec, err
		}
		spec.FixedAmount = &amt
	}
	if d.FixedDate != "" {
		t, err := time.Parse("2006-01-02", d.FixedDate)
		if err != nil {
			return spec, err
		}
		spec.DueRule.FixedDate = &t
	}
	return spec, nil
}

type CreateScheduleRequest struct {
	BookingID    string               `json:"booking_id" validate:"required"`
	TemplateID   string               `json:"template_id,omitempty"`
	Installments []InstallmentSpecDTO `json:"installments,omitempty" validate:"dive"`
	Milestones   map[string]string    `json:"milestones,omitempty"` // name -> YYYY-MM-DD
}

type UpdateInstallmentRequest struct {
	Actor         ActorDTO `json:"actor" validate:"required"`
	Name          *string  `json:"name,omitempty"`
	Amount        *string  `json:"amount,omitempty"`
	Percent       *string  `json:"percent,omitempty"`
	DueDate       *string  `json:"due_date,omitempty"` // YYYY-MM-DD
	ForceApproval bool     `json:"force_approval,omitempty"`
	Reason        string   `json:"reason" validate:"required"`
}

type UpdateTotalRequest struct {
	Actor  ActorDTO `json:"actor" validate:"required"`
	Total  string   `json:"total" validate:"required"`
	Reason string   `json:"reason" validate:"required"`
}

type RecordPaymentRequest struct {
	Actor     ActorDTO `json:"actor" validate:"required"`
	Index     int      `json:"index"`
	Amount    string   `json:"amount" validate:"required"`
	Method    string   `json:"method,omitempty"`
	Reference string   `json:"reference,omitempty"`
}

type InstallmentResponse struct {
	Name       string     `json:"name"`
	Percent    string     `json:"percent"`
	Amount     string     `json:"amount"`
	AmountPaid string     `json:"amount_paid"`
	Status     string     `json:"status"`
	DueDate    *time.Time `json:"due_date,omitempty"`
	Editable   bool       `json:"editable"`
}

type ScheduleResponse struct {
	ID           string                `json:"id"`
	BookingID    string                `json:"booking_id"`
	TotalAmount  string                `json:"total_amount"`
	Installments []InstallmentResponse `json:"installments"`
	ApprovalID   *string               `json:"approval_id,omitempty"`
}

func toScheduleResponse(ps *sales.PaymentSchedule, approval *sales.Approval) ScheduleResponse {
	r := ScheduleResponse{
		ID:          string(ps.ID),
		BookingID:   string(ps.BookingID),
		TotalAmount: ps.TotalAmount.String(),
	}
	for _, inst := range ps.Installments {
		r.Installments = append(r.Installments, InstallmentResponse{
			Name:       inst.Name,
			Percent:    inst.Percent.String(),
			Amount:     inst.Amount.String(),
			AmountPaid: inst.AmountPaid.String(),
			Status:     string(inst.Status),
			DueDate:    inst.DueDate,
			Editable:   inst.Editable,
		})
	}
	if approval != nil {
		v := string(approval.ID)
		r.ApprovalID = &v
	}
	return r
}

// =============================================================================
// TEMPLATES
// =============================================================================

type TemplateRequest struct {
	Name         string               `json:"name" validate:"required"`
	Description  string               `json:"description,omitempty"`
	Installments []InstallmentSpecDTO `json:"installments" validate:"required,dive"`
}

// =============================================================================
// ERRORS
// =============================================================================

type ErrorResponse struct {
	Error string `json:"error"`
}
