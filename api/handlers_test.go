package api_test

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/sales-engine/api"
	"github.com/warp/sales-engine/factory"
	"github.com/warp/sales-engine/sales"
	"github.com/warp/sales-engine/sales/store"
)

// =============================================================================
// TEST SETUP
// =============================================================================

const (
	tenant  = "acme-homes"
	baseURL = "/api/tenants/" + tenant
)

var execActor = map[string]any{
	"id":                   "exec-1",
	"role":                 "sales_executive",
	"max_discount_percent": "10",
}

var managerActor = map[string]any{
	"id":                  "mgr-1",
	"role":                "sales_manager",
	"can_cancel_bookings": true,
}

func newTestRouter(t *testing.T) http.Handler {
	t.Helper()

	mem := store.NewMemory()
	clock := sales.NewManualClock(time.Date(2025, time.June, 1, 10, 0, 0, 0, time.UTC))

	rules := factory.New()
	rules.Register(&sales.TenantConfig{
		TenantID:           tenant,
		DefaultLockMinutes: 30,
		MaxDiscountPercent: sales.MustDecimal("10"),
		MaterialityAmount:  sales.MustDecimal("100000"),
		MaterialityPercent: sales.MustDecimal("5"),
		TaxRates: map[sales.ProjectID]sales.TaxRates{
			"proj-skyline": {GSTPercent: sales.MustDecimal("5")},
		},
	})
	rules.SetChain(tenant, sales.ApprovalDiscount, []sales.ChainLevel{{Role: sales.RoleSalesManager}})

	units := sales.NewUnitService(mem, clock)
	approvals := sales.NewApprovalService(mem, clock)
	bookings := &sales.BookingService{
		Bookings:  mem,
		Leads:     mem,
		Units:     units,
		Pricing:   sales.NewPricingEngine(),
		Approvals: approvals,
		Chains:    rules,
		Config:    rules,
		Clock:     clock,
	}
	schedules := &sales.ScheduleService{
		Schedules: mem,
		Templates: mem,
		Bookings:  mem,
		Approvals: approvals,
		Chains:    rules,
		Config:    rules,
		Clock:     clock,
	}
	templates := sales.NewTemplateService(mem, clock)

	return api.NewRouter(api.NewHandler(units, bookings, approvals, schedules, templates, mem, rules))
}

func doJSON(t *testing.T, router http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, dst any) {
	t.Helper()
	require.NoError(t, json.NewDecoder(rec.Body).Decode(dst), "body: %s", rec.Body.String())
}

func createUnit(t *testing.T, router http.Handler) string {
	t.Helper()
	rec := doJSON(t, router, http.MethodPost, baseURL+"/units", map[string]any{
		"project_id":          "proj-skyline",
		"number":              "A-1204",
		"floor":               12,
		"unit_type":           "3bhk",
		"super_built_up_area": "1000",
		"base_price":          "5000000",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var unit api.UnitResponse
	decodeBody(t, rec, &unit)
	return unit.ID
}

func createLead(t *testing.T, router http.Handler) string {
	t.Helper()
	rec := doJSON(t, router, http.MethodPost, baseURL+"/leads", map[string]any{
		"name":  "Asha Verma",
		"phone": "+91-98765-43210",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var lead map[string]any
	decodeBody(t, rec, &lead)
	return lead["id"].(string)
}

// =============================================================================
// END-TO-END FLOW
// =============================================================================

func TestAPI_BookingFlowWithDiscountApproval(t *testing.T) {
	// GIVEN: A unit, a lead, and a 10% tenant discount ceiling
	// WHEN: Walking lock -> book with a 12% discount -> approve -> reconcile
	// THEN: Each step responds with the expected state and the final total
	//       reflects the approved discount

	router := newTestRouter(t)
	unitID := createUnit(t, router)
	leadID := createLead(t, router)

	// Lock the unit for the executive.
	rec := doJSON(t, router, http.MethodPost, baseURL+"/units/"+unitID+"/lock",
		map[string]any{"actor": execActor})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var unit api.UnitResponse
	decodeBody(t, rec, &unit)
	assert.Equal(t, "locked", unit.Status)
	require.NotNil(t, unit.LockedUntil)

	// Book with a discount above every ceiling.
	rec = doJSON(t, router, http.MethodPost, baseURL+"/bookings", map[string]any{
		"actor":   execActor,
		"lead_id": leadID,
		"unit_id": unitID,
		"discounts": []map[string]any{
			{"name": "festive", "kind": "percentage", "value": "12"},
		},
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var booking api.BookingResponse
	decodeBody(t, rec, &booking)
	assert.Equal(t, "pending_approval", booking.Status)
	assert.Equal(t, "5250000", booking.TotalAmount, "pending discount must not reduce the total")
	require.NotNil(t, booking.ApprovalID)
	approvalID := *booking.ApprovalID

	// The unit is now held by the booking.
	rec = doJSON(t, router, http.MethodGet, baseURL+"/units/"+unitID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	decodeBody(t, rec, &unit)
	assert.Equal(t, "booked", unit.Status)

	// The approval shows up in the pending queue.
	rec = doJSON(t, router, http.MethodGet, baseURL+"/approvals/pending", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var pending []api.ApprovalResponse
	decodeBody(t, rec, &pending)
	require.Len(t, pending, 1)
	assert.Equal(t, approvalID, pending[0].ID)

	// The manager signs off.
	rec = doJSON(t, router, http.MethodPost, baseURL+"/approvals/"+approvalID+"/decision",
		map[string]any{"actor": managerActor, "action": "approve", "comment": "festive season"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var approval api.ApprovalResponse
	decodeBody(t, rec, &approval)
	assert.Equal(t, "approved", approval.Status)

	// Reconcile the booking with the resolved approval.
	rec = doJSON(t, router, http.MethodPost,
		baseURL+"/bookings/"+booking.ID+"/discount-approvals/"+approvalID, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	decodeBody(t, rec, &booking)
	assert.Equal(t, "approved", booking.Status)
	assert.Equal(t, "4620000", booking.TotalAmount)
	require.Len(t, booking.Discounts, 1)
	assert.Equal(t, "approved", booking.Discounts[0].Status)
}

func TestAPI_ScheduleAndPaymentFlow(t *testing.T) {
	// GIVEN: A booked unit with an executed price of 5,250,000
	// WHEN: Creating a 40/60 schedule and paying the first installment
	// THEN: Amounts derive from the booking total and the payment sticks

	router := newTestRouter(t)
	unitID := createUnit(t, router)
	leadID := createLead(t, router)

	rec := doJSON(t, router, http.MethodPost, baseURL+"/bookings", map[string]any{
		"actor":   execActor,
		"lead_id": leadID,
		"unit_id": unitID,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var booking api.BookingResponse
	decodeBody(t, rec, &booking)

	rec = doJSON(t, router, http.MethodPost, baseURL+"/schedules", map[string]any{
		"booking_id": booking.ID,
		"installments": []map[string]any{
			{"name": "booking", "percent": "40", "editable": true,
				"trigger": "booking_date_offset"},
			{"name": "possession", "percent": "60", "editable": true,
				"trigger": "booking_date_offset", "offset_days": 180},
		},
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var schedule api.ScheduleResponse
	decodeBody(t, rec, &schedule)
	require.Len(t, schedule.Installments, 2)
	assert.Equal(t, "2100000", schedule.Installments[0].Amount)
	assert.Equal(t, "3150000", schedule.Installments[1].Amount)

	// The booking exposes its schedule.
	rec = doJSON(t, router, http.MethodGet, baseURL+"/bookings/"+booking.ID+"/schedule", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var linked api.ScheduleResponse
	decodeBody(t, rec, &linked)
	assert.Equal(t, schedule.ID, linked.ID)

	// Partial payment on the first installment.
	rec = doJSON(t, router, http.MethodPost, baseURL+"/schedules/"+schedule.ID+"/payments",
		map[string]any{"actor": managerActor, "index": 0, "amount": "1000000", "method": "neft", "reference": "utr-1"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	decodeBody(t, rec, &schedule)
	assert.Equal(t, "partially_paid", schedule.Installments[0].Status)
	assert.Equal(t, "1000000", schedule.Installments[0].AmountPaid)

	// A second schedule for the same booking conflicts.
	rec = doJSON(t, router, http.MethodPost, baseURL+"/schedules", map[string]any{
		"booking_id": booking.ID,
		"installments": []map[string]any{
			{"name": "all", "percent": "100", "editable": true, "trigger": "booking_date_offset"},
		},
	})
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestAPI_InstallmentEditOpensApprovalAndResolves(t *testing.T) {
	// GIVEN: A 40/60 schedule over 5,250,000
	// WHEN: Raising the first installment by more than the materiality amount
	// THEN: The edit applies with an approval reference; rejecting and
	//       resolving reverts it

	router := newTestRouter(t)
	unitID := createUnit(t, router)
	leadID := createLead(t, router)

	rec := doJSON(t, router, http.MethodPost, baseURL+"/bookings", map[string]any{
		"actor": execActor, "lead_id": leadID, "unit_id": unitID,
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	var booking api.BookingResponse
	decodeBody(t, rec, &booking)

	rec = doJSON(t, router, http.MethodPost, baseURL+"/schedules", map[string]any{
		"booking_id": booking.ID,
		"installments": []map[string]any{
			{"name": "booking", "percent": "40", "editable": true, "trigger": "booking_date_offset"},
			{"name": "possession", "percent": "60", "editable": true, "trigger": "booking_date_offset", "offset_days": 180},
		},
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	var schedule api.ScheduleResponse
	decodeBody(t, rec, &schedule)

	rec = doJSON(t, router, http.MethodPut, baseURL+"/schedules/"+schedule.ID+"/installments/0",
		map[string]any{"actor": managerActor, "amount": "2500000", "reason": "restructure"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	decodeBody(t, rec, &schedule)
	assert.Equal(t, "2500000", schedule.Installments[0].Amount)
	require.NotNil(t, schedule.ApprovalID)
	approvalID := *schedule.ApprovalID

	rec = doJSON(t, router, http.MethodPost, baseURL+"/approvals/"+approvalID+"/decision",
		map[string]any{"actor": managerActor, "action": "reject", "comment": "keep the plan"})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, router, http.MethodPost,
		baseURL+"/schedules/"+schedule.ID+"/changes/"+approvalID+"/resolve", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	decodeBody(t, rec, &schedule)
	assert.Equal(t, "2100000", schedule.Installments[0].Amount)
}

// =============================================================================
// ERROR MAPPING
// =============================================================================

func TestAPI_ErrorStatusMapping(t *testing.T) {
	router := newTestRouter(t)
	unitID := createUnit(t, router)

	// Missing entity -> 404.
	rec := doJSON(t, router, http.MethodGet, baseURL+"/units/ghost", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	// Second lock while held -> 409.
	rec = doJSON(t, router, http.MethodPost, baseURL+"/units/"+unitID+"/lock",
		map[string]any{"actor": execActor})
	require.Equal(t, http.StatusOK, rec.Code)
	otherActor := map[string]any{"id": "exec-2", "role": "sales_executive"}
	rec = doJSON(t, router, http.MethodPost, baseURL+"/units/"+unitID+"/lock",
		map[string]any{"actor": otherActor})
	assert.Equal(t, http.StatusConflict, rec.Code)

	// Missing required fields -> 400.
	rec = doJSON(t, router, http.MethodPost, baseURL+"/bookings",
		map[string]any{"actor": execActor, "lead_id": "l-1"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// Malformed body -> 400.
	req := httptest.NewRequest(http.MethodPost, baseURL+"/units", bytes.NewBufferString("{not json"))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	// Cross-tenant read -> 403.
	leadID := createLead(t, router)
	rec = doJSON(t, router, http.MethodGet, "/api/tenants/rival-homes/leads/"+leadID, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestAPI_LockDefaultsToTenantConfiguredDuration(t *testing.T) {
	// GIVEN: No minutes in the lock request and a 30-minute tenant default
	// WHEN: Locking the unit
	// THEN: The expiry lands 30 minutes out

	router := newTestRouter(t)
	unitID := createUnit(t, router)

	rec := doJSON(t, router, http.MethodPost, baseURL+"/units/"+unitID+"/lock",
		map[string]any{"actor": execActor})
	require.Equal(t, http.StatusOK, rec.Code)
	var unit api.UnitResponse
	decodeBody(t, rec, &unit)
	require.NotNil(t, unit.LockedUntil)
	expected := time.Date(2025, time.June, 1, 10, 30, 0, 0, time.UTC)
	assert.True(t, expected.Equal(*unit.LockedUntil),
		fmt.Sprintf("expected %s, got %s", expected, unit.LockedUntil))
}

func TestAPI_TemplateCRUD(t *testing.T) {
	router := newTestRouter(t)

	rec := doJSON(t, router, http.MethodPost, baseURL+"/templates", map[string]any{
		"name": "construction-linked",
		"installments": []map[string]any{
			{"name": "booking", "percent": "30", "editable": true, "trigger": "booking_date_offset"},
			{"name": "on slab", "percent": "70", "editable": true, "trigger": "milestone", "milestone": "slab-cast"},
		},
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var tmpl map[string]any
	decodeBody(t, rec, &tmpl)
	id := tmpl["id"].(string)

	rec = doJSON(t, router, http.MethodGet, baseURL+"/templates", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var list []map[string]any
	decodeBody(t, rec, &list)
	assert.Len(t, list, 1)

	rec = doJSON(t, router, http.MethodDelete, baseURL+"/templates/"+id, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, router, http.MethodGet, baseURL+"/templates/"+id, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
