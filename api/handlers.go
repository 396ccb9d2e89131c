/*
handlers.go - HTTP API handlers for the unit sales engine

PURPOSE:
  Exposes the sales engine via REST API. Handles HTTP request/response,
  JSON serialization and validation, and delegates to domain services.

ENDPOINTS (all under /api/tenants/{tenant}):
  Units:
    GET    /units                       List units
    POST   /units                       Create unit
    GET    /units/{id}                  Get unit (lazy lock expiry applied)
    POST   /units/{id}/lock             Reserve the unit for an actor
    POST   /units/{id}/release          Release a reservation lock
    POST   /units/{id}/sell             Mark a booked unit sold

  Leads:
    POST   /leads                       Create lead
    GET    /leads/{id}                  Get lead

  Bookings:
    GET    /bookings                    List bookings
    POST   /bookings                    Create booking (saga)
    GET    /bookings/{id}               Get booking
    GET    /bookings/{id}/breakdown     Itemized price breakdown
    GET    /bookings/{id}/schedule      The booking's payment schedule
    POST   /bookings/{id}/discounts     Add a discount
    POST   /bookings/{id}/status        Move the booking along its lifecycle
    POST   /bookings/{id}/discount-approvals/{approvalID}      Reconcile a resolved discount approval
    POST   /bookings/{id}/cancellation-approvals/{approvalID}  Complete an approved cancellation

  Approvals:
    GET    /approvals/pending           List unresolved approvals
    GET    /approvals/{id}              Get approval with its chain
    POST   /approvals/{id}/decision     Approve/reject/skip the current level

  Schedules:
    POST   /schedules                   Create schedule (explicit or from template)
    GET    /schedules/{id}              Get schedule (lazy overdue applied)
    PUT    /schedules/{id}/installments/{index}    Edit one installment
    POST   /schedules/{id}/total        Change the schedule total
    POST   /schedules/{id}/recalculate  Re-derive amounts from the total
    POST   /schedules/{id}/payments     Record a payment
    POST   /schedules/{id}/changes/{approvalID}/resolve  Keep or revert an edit

  Templates:
    GET    /templates                   List templates
    POST   /templates                   Create template
    GET    /templates/{id}              Get template
    PUT    /templates/{id}              Update template
    DELETE /templates/{id}              Delete template

ERROR HANDLING:
  Domain errors map to HTTP status by classification:
  - 400: Validation errors, malformed input
  - 403: Cross-tenant access, unauthorized approver
  - 404: Entity not found
  - 409: Conflict (state machine, stale version, duplicates)
  - 500: Everything else

SECURITY NOTE:
  Authentication and authorization live outside this service. Requests carry
  the resolved actor context the gateway attaches after authenticating.

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
*/
package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	"github.com/warp/sales-engine/sales"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Units     *sales.UnitService
	Bookings  *sales.BookingService
	Approvals *sales.ApprovalService
	Schedules *sales.ScheduleService
	Templates *sales.TemplateService
	Leads     sales.LeadStore
	Config    sales.ConfigProvider

	validate *validator.Validate
}

// NewHandler creates a handler over the wired domain services.
func NewHandler(
	units *sales.UnitService,
	bookings *sales.BookingService,
	approvals *sales.ApprovalService,
	schedules *sales.ScheduleService,
	templates *sales.TemplateService,
	leads sales.LeadStore,
	config sales.ConfigProvider,
) *Handler {
	return &Handler{
		Units:     units,
		Bookings:  bookings,
		Approvals: approvals,
		Schedules: schedules,
		Templates: templates,
		Leads:     leads,
		Config:    config,
		validate:  validator.New(),
	}
}

func tenantFrom(r *http.Request) sales.TenantID {
	return sales.TenantID(chi.URLParam(r, "tenant"))
}

// decode unmarshals and validates the request body. On failure it writes the
// 400 response itself and returns false.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return false
	}
	if err := h.validate.Struct(dst); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return false
	}
	return true
}

// =============================================================================
// UNIT HANDLERS
// =============================================================================

// ListUnits returns the tenant's units with lazy lock expiry applied.
func (h *Handler) ListUnits(w http.ResponseWriter, r *http.Request) {
	tenant := tenantFrom(r)
	units, err := h.Units.Units.ListUnits(r.Context(), tenant)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	now := h.Units.Clock.Now()
	dtos := make([]UnitResponse, len(units))
	for i, u := range units {
		u.Status = u.EffectiveStatus(now)
		dtos[i] = toUnitResponse(u)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// CreateUnit registers a new unit in available state.
func (h *Handler) CreateUnit(w http.ResponseWriter, r *http.Request) {
	var req CreateUnitRequest
	if !h.decode(w, r, &req) {
		return
	}
	basePrice, err := decimal.NewFromString(req.BasePrice)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid base_price: "+err.Error())
		return
	}

	u := &sales.Unit{
		TenantID:         tenantFrom(r),
		ProjectID:        sales.ProjectID(req.ProjectID),
		TowerID:          sales.TowerID(req.TowerID),
		Number:           req.Number,
		Floor:            req.Floor,
		UnitType:         req.UnitType,
		CarpetArea:       sales.MustDecimal(req.CarpetArea),
		BuiltUpArea:      sales.MustDecimal(req.BuiltUpArea),
		SuperBuiltUpArea: sales.MustDecimal(req.SuperBuiltUpArea),
		BasePrice:        basePrice,
	}
	u, err = h.Units.Create(r.Context(), u)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toUnitResponse(u))
}

// GetUnit returns a single unit.
func (h *Handler) GetUnit(w http.ResponseWriter, r *http.Request) {
	u, err := h.Units.Get(r.Context(), tenantFrom(r), sales.UnitID(chi.URLParam(r, "id")))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toUnitResponse(u))
}

// LockUnit reserves the unit for the calling actor. Minutes defaults to the
// tenant's configured lock duration.
func (h *Handler) LockUnit(w http.ResponseWriter, r *http.Request) {
	tenant := tenantFrom(r)
	var req LockUnitRequest
	if !h.decode(w, r, &req) {
		return
	}
	minutes := req.Minutes
	if minutes <= 0 {
		cfg, err := h.Config.TenantConfig(tenant)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		minutes = cfg.DefaultLockMinutes
	}
	u, err := h.Units.Lock(r.Context(), tenant, sales.UnitID(chi.URLParam(r, "id")), req.Actor.toActor(tenant), minutes)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toUnitResponse(u))
}

// ReleaseUnit releases a reservation lock.
func (h *Handler) ReleaseUnit(w http.ResponseWriter, r *http.Request) {
	u, err := h.Units.Release(r.Context(), tenantFrom(r), sales.UnitID(chi.URLParam(r, "id")))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toUnitResponse(u))
}

// SellUnit marks a booked unit as sold.
func (h *Handler) SellUnit(w http.ResponseWriter, r *http.Request) {
	u, err := h.Units.Sell(r.Context(), tenantFrom(r), sales.UnitID(chi.URLParam(r, "id")))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toUnitResponse(u))
}

// =============================================================================
// LEAD HANDLERS
// =============================================================================

// CreateLead registers a prospective buyer.
func (h *Handler) CreateLead(w http.ResponseWriter, r *http.Request) {
	var req CreateLeadRequest
	if !h.decode(w, r, &req) {
		return
	}
	now := h.Units.Clock.Now()
	l := &sales.Lead{
		ID:        sales.LeadID(sales.NewID()),
		TenantID:  tenantFrom(r),
		Name:      req.Name,
		Phone:     req.Phone,
		Email:     req.Email,
		Status:    sales.LeadStatusNew,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := h.Leads.CreateLead(r.Context(), l); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"id":     string(l.ID),
		"name":   l.Name,
		"status": string(l.Status),
	})
}

// GetLead returns a single lead.
func (h *Handler) GetLead(w http.ResponseWriter, r *http.Request) {
	l, err := h.Leads.GetLead(r.Context(), sales.LeadID(chi.URLParam(r, "id")))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if l.TenantID != tenantFrom(r) {
		writeError(w, http.StatusForbidden, "lead belongs to another tenant")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"id":     string(l.ID),
		"name":   l.Name,
		"phone":  l.Phone,
		"email":  l.Email,
		"status": string(l.Status),
	})
}

// =============================================================================
// BOOKING HANDLERS
// =============================================================================

// ListBookings returns the tenant's bookings.
func (h *Handler) ListBookings(w http.ResponseWriter, r *http.Request) {
	bookings, err := h.Bookings.Bookings.ListBookings(r.Context(), tenantFrom(r))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	dtos := make([]BookingResponse, len(bookings))
	for i, b := range bookings {
		dtos[i] = toBookingResponse(b, nil)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// CreateBooking creates a booking from a lead and a unit.
func (h *Handler) CreateBooking(w http.ResponseWriter, r *http.Request) {
	tenant := tenantFrom(r)
	var req CreateBookingRequest
	if !h.decode(w, r, &req) {
		return
	}

	in := sales.CreateBookingInput{
		LeadID: sales.LeadID(req.LeadID),
		UnitID: sales.UnitID(req.UnitID),
	}
	if req.BasePriceOverride != "" {
		v, err := decimal.NewFromString(req.BasePriceOverride)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid base_price_override: "+err.Error())
			return
		}
		in.BasePriceOverride = &v
	}
	if req.FloorRise != nil {
		v, err := decimal.NewFromString(req.FloorRise.Value)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid floor_rise value: "+err.Error())
			return
		}
		in.FloorRise = &sales.FloorRiseRule{Mode: sales.FloorRiseMode(req.FloorRise.Mode), Value: v}
	}
	for _, vp := range req.Views {
		pct, err := decimal.NewFromString(vp.Percent)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid view percent: "+err.Error())
			return
		}
		in.Views = append(in.Views, sales.ViewPremium{Name: vp.Name, Percent: pct})
	}
	for _, d := range req.Discounts {
		di, err := toDiscountInput(d)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		in.Discounts = append(in.Discounts, di)
	}
	for _, c := range req.Charges {
		amt, err := decimal.NewFromString(c.Amount)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid charge amount: "+err.Error())
			return
		}
		in.Charges = append(in.Charges, sales.AdditionalCharge{Name: c.Name, Amount: amt})
	}

	res, err := h.Bookings.CreateBooking(r.Context(), tenant, in, req.Actor.toActor(tenant))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toBookingResponse(res.Booking, res.Approval))
}

func toDiscountInput(d DiscountDTO) (sales.DiscountInput, error) {
	v, err := decimal.NewFromString(d.Value)
	if err != nil {
		return sales.DiscountInput{}, err
	}
	return sales.DiscountInput{Name: d.Name, Kind: sales.AdjustmentKind(d.Kind), Value: v}, nil
}

// GetBooking returns a single booking.
func (h *Handler) GetBooking(w http.ResponseWriter, r *http.Request) {
	b, err := h.Bookings.Get(r.Context(), tenantFrom(r), sales.BookingID(chi.URLParam(r, "id")))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toBookingResponse(b, nil))
}

// GetBreakdown returns the itemized price breakdown.
func (h *Handler) GetBreakdown(w http.ResponseWriter, r *http.Request) {
	bd, err := h.Bookings.Breakdown(r.Context(), tenantFrom(r), sales.BookingID(chi.URLParam(r, "id")))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, bd)
}

// AddDiscount adds a discount to a booking, opening an approval when the
// actor's ceiling does not cover it.
func (h *Handler) AddDiscount(w http.ResponseWriter, r *http.Request) {
	tenant := tenantFrom(r)
	var req AddDiscountRequest
	if !h.decode(w, r, &req) {
		return
	}
	di, err := toDiscountInput(req.Discount)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid discount value: "+err.Error())
		return
	}
	res, err := h.Bookings.AddDiscount(r.Context(), tenant, sales.BookingID(chi.URLParam(r, "id")), di, req.Actor.toActor(tenant))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toBookingResponse(res.Booking, res.Approval))
}

// UpdateBookingStatus moves the booking along its lifecycle.
func (h *Handler) UpdateBookingStatus(w http.ResponseWriter, r *http.Request) {
	tenant := tenantFrom(r)
	var req UpdateBookingStatusRequest
	if !h.decode(w, r, &req) {
		return
	}
	res, err := h.Bookings.UpdateStatus(r.Context(), tenant, sales.BookingID(chi.URLParam(r, "id")),
		sales.BookingStatus(req.Status), req.Actor.toActor(tenant), req.Reason)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toBookingResponse(res.Booking, res.Approval))
}

// ApplyDiscountApproval reconciles a booking after a discount approval
// resolved.
func (h *Handler) ApplyDiscountApproval(w http.ResponseWriter, r *http.Request) {
	b, err := h.Bookings.ApplyDiscountApproval(r.Context(), tenantFrom(r),
		sales.BookingID(chi.URLParam(r, "id")), sales.ApprovalID(chi.URLParam(r, "approvalID")))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toBookingResponse(b, nil))
}

// ApplyCancellationApproval completes or drops a cancellation after its
// approval resolved.
func (h *Handler) ApplyCancellationApproval(w http.ResponseWriter, r *http.Request) {
	tenant := tenantFrom(r)
	var req ActorRequest
	if !h.decode(w, r, &req) {
		return
	}
	b, err := h.Bookings.ApplyCancellationApproval(r.Context(), tenant,
		sales.BookingID(chi.URLParam(r, "id")), sales.ApprovalID(chi.URLParam(r, "approvalID")),
		req.Actor.toActor(tenant))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toBookingResponse(b, nil))
}

// =============================================================================
// APPROVAL HANDLERS
// =============================================================================

// ListPendingApprovals returns the tenant's unresolved approvals.
func (h *Handler) ListPendingApprovals(w http.ResponseWriter, r *http.Request) {
	approvals, err := h.Approvals.ListPending(r.Context(), tenantFrom(r))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	dtos := make([]ApprovalResponse, len(approvals))
	for i, a := range approvals {
		dtos[i] = toApprovalResponse(a)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetApproval returns an approval with its full chain.
func (h *Handler) GetApproval(w http.ResponseWriter, r *http.Request) {
	a, err := h.Approvals.Get(r.Context(), tenantFrom(r), sales.ApprovalID(chi.URLParam(r, "id")))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toApprovalResponse(a))
}

// ProcessApproval records a decision at the current chain level.
func (h *Handler) ProcessApproval(w http.ResponseWriter, r *http.Request) {
	tenant := tenantFrom(r)
	var req ProcessApprovalRequest
	if !h.decode(w, r, &req) {
		return
	}
	a, err := h.Approvals.Process(r.Context(), tenant, sales.ApprovalID(chi.URLParam(r, "id")),
		sales.ApprovalAction(req.Action), req.Actor.toActor(tenant), req.Comment)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toApprovalResponse(a))
}

// =============================================================================
// SCHEDULE HANDLERS
// =============================================================================

// CreateSchedule builds a payment schedule for a booking, either from a
// stored template or from explicit installment specs.
func (h *Handler) CreateSchedule(w http.ResponseWriter, r *http.Request) {
	tenant := tenantFrom(r)
	var req CreateScheduleRequest
	if !h.decode(w, r, &req) {
		return
	}

	milestones := sales.MilestoneDates{}
	for name, date := range req.Milestones {
		t, err := time.Parse("2006-01-02", date)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid milestone date for "+name+": "+err.Error())
			return
		}
		milestones[name] = t
	}

	var (
		ps  *sales.PaymentSchedule
		err error
	)
	if req.TemplateID != "" {
		ps, err = h.Schedules.CreateFromTemplate(r.Context(), tenant,
			sales.BookingID(req.BookingID), sales.TemplateID(req.TemplateID), milestones)
	} else {
		specs := make([]sales.InstallmentSpec, 0, len(req.Installments))
		for _, dto := range req.Installments {
			spec, specErr := dto.toSpec()
			if specErr != nil {
				writeError(w, http.StatusBadRequest, "invalid installment spec: "+specErr.Error())
				return
			}
			specs = append(specs, spec)
		}
		ps, err = h.Schedules.Create(r.Context(), tenant, sales.BookingID(req.BookingID), specs, milestones)
	}
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toScheduleResponse(ps, nil))
}

// GetSchedule returns a schedule with lazy overdue statuses applied.
func (h *Handler) GetSchedule(w http.ResponseWriter, r *http.Request) {
	ps, err := h.Schedules.Get(r.Context(), tenantFrom(r), sales.ScheduleID(chi.URLParam(r, "id")))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toScheduleResponse(ps, nil))
}

// GetBookingSchedule returns the schedule attached to a booking.
func (h *Handler) GetBookingSchedule(w http.ResponseWriter, r *http.Request) {
	ps, err := h.Schedules.GetByBooking(r.Context(), tenantFrom(r), sales.BookingID(chi.URLParam(r, "id")))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toScheduleResponse(ps, nil))
}

// UpdateInstallment applies an edit to one installment, routing it through
// approval when required.
func (h *Handler) UpdateInstallment(w http.ResponseWriter, r *http.Request) {
	tenant := tenantFrom(r)
	index, err := strconv.Atoi(chi.URLParam(r, "index"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid installment index")
		return
	}
	var req UpdateInstallmentRequest
	if !h.decode(w, r, &req) {
		return
	}

	change := sales.InstallmentChange{Name: req.Name, ForceApproval: req.ForceApproval}
	if req.Amount != nil {
		v, err := decimal.NewFromString(*req.Amount)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid amount: "+err.Error())
			return
		}
		change.Amount = &v
	}
	if req.Percent != nil {
		v, err := decimal.NewFromString(*req.Percent)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid percent: "+err.Error())
			return
		}
		change.Percent = &v
	}
	if req.DueDate != nil {
		t, err := time.Parse("2006-01-02", *req.DueDate)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid due_date (use YYYY-MM-DD)")
			return
		}
		change.DueDate = &t
	}

	res, err := h.Schedules.UpdateInstallment(r.Context(), tenant,
		sales.ScheduleID(chi.URLParam(r, "id")), index, change, req.Actor.toActor(tenant), req.Reason)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toScheduleResponse(res.Schedule, res.Approval))
}

// UpdateScheduleTotal changes the schedule total and recalculates every
// percentage-based installment from it.
func (h *Handler) UpdateScheduleTotal(w http.ResponseWriter, r *http.Request) {
	tenant := tenantFrom(r)
	var req UpdateTotalRequest
	if !h.decode(w, r, &req) {
		return
	}
	total, err := decimal.NewFromString(req.Total)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid total: "+err.Error())
		return
	}
	res, err := h.Schedules.UpdateTotalAmount(r.Context(), tenant,
		sales.ScheduleID(chi.URLParam(r, "id")), total, req.Actor.toActor(tenant), req.Reason)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toScheduleResponse(res.Schedule, res.Approval))
}

// RecalculateSchedule re-derives installment amounts from the current total.
func (h *Handler) RecalculateSchedule(w http.ResponseWriter, r *http.Request) {
	ps, err := h.Schedules.Recalculate(r.Context(), tenantFrom(r), sales.ScheduleID(chi.URLParam(r, "id")))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toScheduleResponse(ps, nil))
}

// RecordPayment applies a partial or full payment to one installment.
func (h *Handler) RecordPayment(w http.ResponseWriter, r *http.Request) {
	tenant := tenantFrom(r)
	var req RecordPaymentRequest
	if !h.decode(w, r, &req) {
		return
	}
	amount, err := decimal.NewFromString(req.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid amount: "+err.Error())
		return
	}
	ps, err := h.Schedules.RecordPayment(r.Context(), tenant,
		sales.ScheduleID(chi.URLParam(r, "id")), req.Index, amount, req.Method, req.Reference,
		req.Actor.toActor(tenant))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toScheduleResponse(ps, nil))
}

// ResolveScheduleChange keeps or reverts an optimistically applied edit once
// its approval resolved.
func (h *Handler) ResolveScheduleChange(w http.ResponseWriter, r *http.Request) {
	ps, err := h.Schedules.ResolvePendingChange(r.Context(), tenantFrom(r),
		sales.ScheduleID(chi.URLParam(r, "id")), sales.ApprovalID(chi.URLParam(r, "approvalID")))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toScheduleResponse(ps, nil))
}

// =============================================================================
// TEMPLATE HANDLERS
// =============================================================================

// ListTemplates returns the tenant's schedule templates.
func (h *Handler) ListTemplates(w http.ResponseWriter, r *http.Request) {
	templates, err := h.Templates.List(r.Context(), tenantFrom(r))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	dtos := make([]map[string]any, len(templates))
	for i, t := range templates {
		dtos[i] = toTemplateDTO(t)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// CreateTemplate stores a reusable installment plan.
func (h *Handler) CreateTemplate(w http.ResponseWriter, r *http.Request) {
	var req TemplateRequest
	if !h.decode(w, r, &req) {
		return
	}
	t, err := h.templateFromRequest(tenantFrom(r), "", req)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	t, err = h.Templates.Create(r.Context(), t)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toTemplateDTO(t))
}

// GetTemplate returns a single template.
func (h *Handler) GetTemplate(w http.ResponseWriter, r *http.Request) {
	t, err := h.Templates.Get(r.Context(), tenantFrom(r), sales.TemplateID(chi.URLParam(r, "id")))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toTemplateDTO(t))
}

// UpdateTemplate replaces a template's name, description, and installments.
func (h *Handler) UpdateTemplate(w http.ResponseWriter, r *http.Request) {
	tenant := tenantFrom(r)
	var req TemplateRequest
	if !h.decode(w, r, &req) {
		return
	}
	t, err := h.templateFromRequest(tenant, sales.TemplateID(chi.URLParam(r, "id")), req)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	t, err = h.Templates.Update(r.Context(), tenant, t)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toTemplateDTO(t))
}

// DeleteTemplate removes a template.
func (h *Handler) DeleteTemplate(w http.ResponseWriter, r *http.Request) {
	if err := h.Templates.Delete(r.Context(), tenantFrom(r), sales.TemplateID(chi.URLParam(r, "id"))); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (h *Handler) templateFromRequest(tenant sales.TenantID, id sales.TemplateID, req TemplateRequest) (*sales.Template, error) {
	t := &sales.Template{
		ID:          id,
		TenantID:    tenant,
		Name:        req.Name,
		Description: req.Description,
	}
	for _, dto := range req.Installments {
		spec, err := dto.toSpec()
		if err != nil {
			return nil, err
		}
		t.Installments = append(t.Installments, sales.TemplateInstallment{
			Name:        spec.Name,
			Percent:     spec.Percent,
			FixedAmount: spec.FixedAmount,
			DueRule:     spec.DueRule,
			Editable:    spec.Editable,
		})
	}
	return t, nil
}

func toTemplateDTO(t *sales.Template) map[string]any {
	installments := make([]map[string]any, len(t.Installments))
	for i, ti := range t.Installments {
		inst := map[string]any{
			"name":     ti.Name,
			"percent":  ti.Percent.String(),
			"editable": ti.Editable,
		}
		if ti.FixedAmount != nil {
			inst["fixed_amount"] = ti.FixedAmount.String()
		}
		installments[i] = inst
	}
	return map[string]any{
		"id":           string(t.ID),
		"name":         t.Name,
		"description":  t.Description,
		"installments": installments,
	}
}

// =============================================================================
// HELPERS
// =============================================================================

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, ErrorResponse{Error: message})
}

// writeDomainError maps a domain error to an HTTP status by classification.
func writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case sales.IsValidation(err):
		writeError(w, http.StatusBadRequest, err.Error())
	case sales.IsForbidden(err):
		writeError(w, http.StatusForbidden, err.Error())
	case sales.IsNotFound(err):
		writeError(w, http.StatusNotFound, err.Error())
	case sales.IsConflict(err):
		writeError(w, http.StatusConflict, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}
