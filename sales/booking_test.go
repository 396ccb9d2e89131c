package sales_test

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/sales-engine/sales"
	"github.com/warp/sales-engine/sales/store"
)

// =============================================================================
// TEST SETUP
// =============================================================================

// stubChains returns a fixed single-level chain for every request.
type stubChains struct{}

func (stubChains) BuildChain(sales.TenantID, sales.ApprovalType, decimal.Decimal) ([]sales.ChainLevel, error) {
	return []sales.ChainLevel{{Role: sales.RoleSalesManager}}, nil
}

// stubConfig serves one tenant configuration.
type stubConfig struct {
	cfg *sales.TenantConfig
}

func (s stubConfig) TenantConfig(tenant sales.TenantID) (*sales.TenantConfig, error) {
	if tenant != s.cfg.TenantID {
		return nil, &sales.NotFoundError{Kind: "tenant config", ID: string(tenant)}
	}
	return s.cfg, nil
}

type bookingHarness struct {
	svc       *sales.BookingService
	units     *sales.UnitService
	approvals *sales.ApprovalService
	mem       *store.Memory
	clock     *sales.ManualClock

	lead *sales.Lead
	unit *sales.Unit
}

func testConfig() *sales.TenantConfig {
	return &sales.TenantConfig{
		TenantID:           testTenant,
		DefaultLockMinutes: 30,
		MaxDiscountPercent: dec("10"),
		MaterialityAmount:  dec("100000"),
		MaterialityPercent: dec("5"),
		TaxRates: map[sales.ProjectID]sales.TaxRates{
			"proj-skyline": {GSTPercent: dec("5")},
		},
	}
}

func newBookingHarness(t *testing.T) *bookingHarness {
	t.Helper()
	mem := store.NewMemory()
	clock := sales.NewManualClock(testStart)
	units := sales.NewUnitService(mem, clock)
	approvals := sales.NewApprovalService(mem, clock)

	svc := &sales.BookingService{
		Bookings:  mem,
		Leads:     mem,
		Units:     units,
		Pricing:   sales.NewPricingEngine(),
		Approvals: approvals,
		Chains:    stubChains{},
		Config:    stubConfig{cfg: testConfig()},
		Clock:     clock,
	}

	ctx := context.Background()
	lead := &sales.Lead{
		ID: sales.LeadID(sales.NewID()), TenantID: testTenant,
		Name: "Asha Verma", Phone: "9800000000", Status: sales.LeadStatusNew,
	}
	require.NoError(t, mem.CreateLead(ctx, lead))

	unit, err := units.Create(ctx, &sales.Unit{
		TenantID:         testTenant,
		ProjectID:        "proj-skyline",
		Number:           "A-1204",
		SuperBuiltUpArea: dec("1000"),
		BasePrice:        dec("5000000"),
	})
	require.NoError(t, err)

	return &bookingHarness{svc: svc, units: units, approvals: approvals, mem: mem, clock: clock, lead: lead, unit: unit}
}

func (h *bookingHarness) create(t *testing.T, in sales.CreateBookingInput, a sales.Actor) *sales.BookingResult {
	t.Helper()
	if in.LeadID == "" {
		in.LeadID = h.lead.ID
	}
	if in.UnitID == "" {
		in.UnitID = h.unit.ID
	}
	res, err := h.svc.CreateBooking(context.Background(), testTenant, in, a)
	require.NoError(t, err)
	return res
}

func manager(id string) sales.Actor {
	return sales.Actor{ID: sales.ActorID(id), TenantID: testTenant, Role: sales.RoleSalesManager, CanCancelBookings: true}
}

// =============================================================================
// CREATE SAGA TESTS
// =============================================================================

func TestCreateBooking_HappyPath(t *testing.T) {
	// GIVEN: An available unit at 5,000,000 with 5% GST
	// WHEN: Creating a booking from a new lead
	// THEN: Booking is draft with the computed total, the lead is converted,
	//       and the unit is booked referencing the new booking

	h := newBookingHarness(t)
	ctx := context.Background()

	res := h.create(t, sales.CreateBookingInput{}, actor("exec-1"))
	b := res.Booking

	assert.Equal(t, sales.BookingDraft, b.Status)
	assert.Equal(t, "Asha Verma", b.CustomerName)
	assertDecimal(t, "5250000", b.TotalAmount)
	assertDecimal(t, "250000", b.TaxAmount)
	assert.Nil(t, res.Approval)

	lead, err := h.mem.GetLead(ctx, h.lead.ID)
	require.NoError(t, err)
	assert.Equal(t, sales.LeadStatusConverted, lead.Status)

	unit, err := h.units.Get(ctx, testTenant, h.unit.ID)
	require.NoError(t, err)
	assert.Equal(t, sales.UnitBooked, unit.Status)
	require.NotNil(t, unit.BookingID)
	assert.Equal(t, b.ID, *unit.BookingID)
}

func TestCreateBooking_BookedUnit_Conflict(t *testing.T) {
	h := newBookingHarness(t)
	h.create(t, sales.CreateBookingInput{}, actor("exec-1"))

	other := &sales.Lead{ID: sales.LeadID(sales.NewID()), TenantID: testTenant, Name: "Ravi", Status: sales.LeadStatusNew}
	require.NoError(t, h.mem.CreateLead(context.Background(), other))

	_, err := h.svc.CreateBooking(context.Background(), testTenant,
		sales.CreateBookingInput{LeadID: other.ID, UnitID: h.unit.ID}, actor("exec-2"))
	assert.True(t, sales.IsConflict(err))
}

func TestCreateBooking_CrossTenantLead_Forbidden(t *testing.T) {
	h := newBookingHarness(t)
	foreign := &sales.Lead{ID: sales.LeadID(sales.NewID()), TenantID: "rival-homes", Name: "X", Status: sales.LeadStatusNew}
	require.NoError(t, h.mem.CreateLead(context.Background(), foreign))

	_, err := h.svc.CreateBooking(context.Background(), testTenant,
		sales.CreateBookingInput{LeadID: foreign.ID, UnitID: h.unit.ID}, actor("exec-1"))
	assert.True(t, sales.IsForbidden(err))
}

// failingBookings makes the final saga step fail so compensation runs.
type failingBookings struct {
	sales.BookingStore
}

func (failingBookings) CreateBooking(context.Context, *sales.Booking) error {
	return errors.New("disk full")
}

func TestCreateBooking_WriteFails_CompensatesUnitAndLead(t *testing.T) {
	// GIVEN: A booking store whose write fails
	// WHEN: Creating a booking
	// THEN: The error surfaces, the unit returns to available, and the lead
	//       status is reverted

	h := newBookingHarness(t)
	h.svc.Bookings = failingBookings{BookingStore: h.mem}
	ctx := context.Background()

	_, err := h.svc.CreateBooking(ctx, testTenant,
		sales.CreateBookingInput{LeadID: h.lead.ID, UnitID: h.unit.ID}, actor("exec-1"))
	require.Error(t, err)

	unit, err := h.units.Get(ctx, testTenant, h.unit.ID)
	require.NoError(t, err)
	assert.Equal(t, sales.UnitAvailable, unit.Status)
	assert.Nil(t, unit.BookingID)

	lead, err := h.mem.GetLead(ctx, h.lead.ID)
	require.NoError(t, err)
	assert.Equal(t, sales.LeadStatusNew, lead.Status)
}

func TestCreateBooking_WriteFails_WithdrawsOpenedApproval(t *testing.T) {
	// GIVEN: A create carrying an over-ceiling discount, and a booking store
	//        whose write fails
	// WHEN: The saga compensates
	// THEN: The discount approval opened along the way is withdrawn and no
	//       longer sits in the pending queue

	h := newBookingHarness(t)
	h.svc.Bookings = failingBookings{BookingStore: h.mem}
	ctx := context.Background()

	_, err := h.svc.CreateBooking(ctx, testTenant, sales.CreateBookingInput{
		LeadID: h.lead.ID,
		UnitID: h.unit.ID,
		Discounts: []sales.DiscountInput{
			{Name: "festival", Kind: sales.AdjustPercent, Value: dec("12")},
		},
	}, actor("exec-1"))
	require.Error(t, err)

	pending, err := h.approvals.ListPending(ctx, testTenant)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestAddDiscount_WithinCeiling_AutoApproved(t *testing.T) {
	// GIVEN: Tenant ceiling 10%
	// WHEN: The actor grants an 8% discount
	// THEN: It applies immediately and the total drops

	h := newBookingHarness(t)
	b := h.create(t, sales.CreateBookingInput{}, actor("exec-1")).Booking

	res, err := h.svc.AddDiscount(context.Background(), testTenant, b.ID,
		sales.DiscountInput{Name: "seasonal", Kind: sales.AdjustPercent, Value: dec("8")}, actor("exec-1"))
	require.NoError(t, err)

	assert.Nil(t, res.Approval)
	require.Len(t, res.Booking.Discounts, 1)
	assert.Equal(t, sales.DiscountApproved, res.Booking.Discounts[0].Status)
	assertDecimal(t, "400000", res.Booking.Discounts[0].Amount)
	// (5,000,000 - 400,000) * 1.05
	assertDecimal(t, "4830000", res.Booking.TotalAmount)
	assert.Equal(t, sales.BookingDraft, res.Booking.Status)
}

func TestAddDiscount_AboveCeiling_OpensApprovalAndStaysExcluded(t *testing.T) {
	// GIVEN: Tenant ceiling 10%
	// WHEN: The actor grants a 12% discount
	// THEN: An approval opens, the discount is pending, the total ignores it,
	//       and the booking moves to pending_approval

	h := newBookingHarness(t)
	b := h.create(t, sales.CreateBookingInput{}, actor("exec-1")).Booking

	res, err := h.svc.AddDiscount(context.Background(), testTenant, b.ID,
		sales.DiscountInput{Name: "festival", Kind: sales.AdjustPercent, Value: dec("12")}, actor("exec-1"))
	require.NoError(t, err)

	require.NotNil(t, res.Approval)
	assert.Equal(t, sales.ApprovalPending, res.Approval.Status)
	assert.Equal(t, sales.DiscountPending, res.Booking.Discounts[0].Status)
	assertDecimal(t, "5250000", res.Booking.TotalAmount)
	assert.Equal(t, sales.BookingPendingApproval, res.Booking.Status)
}

func TestAddDiscount_OverrideAuthority_SkipsApproval(t *testing.T) {
	h := newBookingHarness(t)
	b := h.create(t, sales.CreateBookingInput{}, actor("exec-1")).Booking

	boss := sales.Actor{ID: "dir-1", TenantID: testTenant, Role: sales.RoleDirector, CanOverrideDiscounts: true}
	res, err := h.svc.AddDiscount(context.Background(), testTenant, b.ID,
		sales.DiscountInput{Name: "strategic", Kind: sales.AdjustPercent, Value: dec("20")}, boss)
	require.NoError(t, err)
	assert.Nil(t, res.Approval)
	assert.Equal(t, sales.DiscountApproved, res.Booking.Discounts[0].Status)
}

func TestAddDiscount_NonPositiveValue_Validation(t *testing.T) {
	h := newBookingHarness(t)
	b := h.create(t, sales.CreateBookingInput{}, actor("exec-1")).Booking

	_, err := h.svc.AddDiscount(context.Background(), testTenant, b.ID,
		sales.DiscountInput{Name: "zero", Kind: sales.AdjustFixed, Value: decimal.Zero}, actor("exec-1"))
	assert.True(t, sales.IsValidation(err))
}

func TestApplyDiscountApproval_Approved_AppliesAndAdvancesBooking(t *testing.T) {
	// GIVEN: A booking pending on a 12% discount approval
	// WHEN: The approval resolves approved and is applied
	// THEN: The discount counts, the total drops, and the booking moves to
	//       approved

	h := newBookingHarness(t)
	ctx := context.Background()
	b := h.create(t, sales.CreateBookingInput{}, actor("exec-1")).Booking
	res, err := h.svc.AddDiscount(ctx, testTenant, b.ID,
		sales.DiscountInput{Name: "festival", Kind: sales.AdjustPercent, Value: dec("12")}, actor("exec-1"))
	require.NoError(t, err)

	_, err = h.approvals.Process(ctx, testTenant, res.Approval.ID, sales.ActionApprove, manager("mgr-1"), "ok")
	require.NoError(t, err)

	updated, err := h.svc.ApplyDiscountApproval(ctx, testTenant, b.ID, res.Approval.ID)
	require.NoError(t, err)
	assert.Equal(t, sales.DiscountApproved, updated.Discounts[0].Status)
	// (5,000,000 - 600,000) * 1.05
	assertDecimal(t, "4620000", updated.TotalAmount)
	assert.Equal(t, sales.BookingApproved, updated.Status)
}

func TestApplyDiscountApproval_StillPending_Conflict(t *testing.T) {
	h := newBookingHarness(t)
	ctx := context.Background()
	b := h.create(t, sales.CreateBookingInput{}, actor("exec-1")).Booking
	res, err := h.svc.AddDiscount(ctx, testTenant, b.ID,
		sales.DiscountInput{Name: "festival", Kind: sales.AdjustPercent, Value: dec("12")}, actor("exec-1"))
	require.NoError(t, err)

	_, err = h.svc.ApplyDiscountApproval(ctx, testTenant, b.ID, res.Approval.ID)
	assert.True(t, sales.IsConflict(err))
}

// =============================================================================
// STATUS TRANSITION TESTS
// =============================================================================

func TestUpdateStatus_ForwardOnly(t *testing.T) {
	// GIVEN: A draft booking
	// WHEN: Jumping straight to executed
	// THEN: Conflict; draft -> approved -> executed is the valid path

	h := newBookingHarness(t)
	ctx := context.Background()
	b := h.create(t, sales.CreateBookingInput{}, actor("exec-1")).Booking

	_, err := h.svc.UpdateStatus(ctx, testTenant, b.ID, sales.BookingExecuted, manager("mgr-1"), "")
	assert.True(t, sales.IsConflict(err))

	res, err := h.svc.UpdateStatus(ctx, testTenant, b.ID, sales.BookingApproved, manager("mgr-1"), "")
	require.NoError(t, err)
	res, err = h.svc.UpdateStatus(ctx, testTenant, res.Booking.ID, sales.BookingExecuted, manager("mgr-1"), "")
	require.NoError(t, err)
	assert.Equal(t, sales.BookingExecuted, res.Booking.Status)
}

func TestCancel_WithoutReason_Validation(t *testing.T) {
	h := newBookingHarness(t)
	b := h.create(t, sales.CreateBookingInput{}, actor("exec-1")).Booking

	_, err := h.svc.UpdateStatus(context.Background(), testTenant, b.ID, sales.BookingCancelled, manager("mgr-1"), "  ")
	assert.True(t, sales.IsValidation(err))
}

func TestCancel_WithAuthority_ReleasesUnit(t *testing.T) {
	// GIVEN: A booked unit
	// WHEN: An authorized actor cancels the booking with a reason
	// THEN: The booking is cancelled with the record stamped and the unit
	//       returns to available

	h := newBookingHarness(t)
	ctx := context.Background()
	b := h.create(t, sales.CreateBookingInput{}, actor("exec-1")).Booking

	res, err := h.svc.UpdateStatus(ctx, testTenant, b.ID, sales.BookingCancelled, manager("mgr-1"), "customer withdrew")
	require.NoError(t, err)
	assert.Equal(t, sales.BookingCancelled, res.Booking.Status)
	require.NotNil(t, res.Booking.Cancellation)
	assert.Equal(t, "customer withdrew", res.Booking.Cancellation.Reason)

	unit, err := h.units.Get(ctx, testTenant, h.unit.ID)
	require.NoError(t, err)
	assert.Equal(t, sales.UnitAvailable, unit.Status)
	assert.Nil(t, unit.BookingID)
}

func TestCancel_WithoutAuthority_OpensApproval(t *testing.T) {
	// GIVEN: A sales executive without cancellation authority
	// WHEN: They request cancellation
	// THEN: An approval opens and the booking stays unchanged until it is
	//       approved and applied

	h := newBookingHarness(t)
	ctx := context.Background()
	b := h.create(t, sales.CreateBookingInput{}, actor("exec-1")).Booking

	res, err := h.svc.UpdateStatus(ctx, testTenant, b.ID, sales.BookingCancelled, actor("exec-1"), "customer withdrew")
	require.NoError(t, err)
	require.NotNil(t, res.Approval)
	assert.Equal(t, sales.ApprovalCancellation, res.Approval.Type)
	assert.Equal(t, sales.BookingDraft, res.Booking.Status)

	_, err = h.approvals.Process(ctx, testTenant, res.Approval.ID, sales.ActionApprove, manager("mgr-1"), "ok")
	require.NoError(t, err)

	cancelled, err := h.svc.ApplyCancellationApproval(ctx, testTenant, b.ID, res.Approval.ID, manager("mgr-1"))
	require.NoError(t, err)
	assert.Equal(t, sales.BookingCancelled, cancelled.Status)
	require.NotNil(t, cancelled.Cancellation)
	assert.NotNil(t, cancelled.Cancellation.ApprovalID)
}

func TestApplyCancellationApproval_Rejected_LeavesBookingAlone(t *testing.T) {
	h := newBookingHarness(t)
	ctx := context.Background()
	b := h.create(t, sales.CreateBookingInput{}, actor("exec-1")).Booking

	res, err := h.svc.UpdateStatus(ctx, testTenant, b.ID, sales.BookingCancelled, actor("exec-1"), "cold feet")
	require.NoError(t, err)

	_, err = h.approvals.Process(ctx, testTenant, res.Approval.ID, sales.ActionReject, manager("mgr-1"), "keep it")
	require.NoError(t, err)

	kept, err := h.svc.ApplyCancellationApproval(ctx, testTenant, b.ID, res.Approval.ID, manager("mgr-1"))
	require.NoError(t, err)
	assert.Equal(t, sales.BookingDraft, kept.Status)
	assert.Nil(t, kept.Cancellation)
}
