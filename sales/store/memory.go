// Package store provides Store implementations.
package store

import (
	"context"
	"sync"

	"github.com/warp/sales-engine/sales"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

// Memory implements sales.Store with maps guarded by one mutex. Every Get
// returns a deep copy so callers never alias stored state; every Put
// enforces the version check under the lock, which is what turns concurrent
// state-machine races into one winner and one Conflict.
type Memory struct {
	mu sync.RWMutex

	units     map[sales.UnitID]*sales.Unit
	leads     map[sales.LeadID]*sales.Lead
	bookings  map[sales.BookingID]*sales.Booking
	approvals map[sales.ApprovalID]*sales.Approval
	schedules map[sales.ScheduleID]*sales.PaymentSchedule
	byBooking map[sales.BookingID]sales.ScheduleID
	templates map[sales.TemplateID]*sales.Template
}

func NewMemory() *Memory {
	return &Memory{
		units:     make(map[sales.UnitID]*sales.Unit),
		leads:     make(map[sales.LeadID]*sales.Lead),
		bookings:  make(map[sales.BookingID]*sales.Booking),
		approvals: make(map[sales.ApprovalID]*sales.Approval),
		schedules: make(map[sales.ScheduleID]*sales.PaymentSchedule),
		byBooking: make(map[sales.BookingID]sales.ScheduleID),
		templates: make(map[sales.TemplateID]*sales.Template),
	}
}

// -----------------------------------------------------------------------------
// Units
// -----------------------------------------------------------------------------

func (m *Memory) CreateUnit(_ context.Context, u *sales.Unit) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.units[u.ID]; ok {
		return &sales.ConflictError{Reason: "unit already exists"}
	}
	u.Version = 1
	m.units[u.ID] = u.Clone()
	return nil
}

func (m *Memory) GetUnit(_ context.Context, id sales.UnitID) (*sales.Unit, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.units[id]
	if !ok {
		return nil, &sales.NotFoundError{Kind: "unit", ID: string(id)}
	}
	return u.Clone(), nil
}

func (m *Memory) PutUnit(_ context.Context, u *sales.Unit) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.units[u.ID]
	if !ok {
		return &sales.NotFoundError{Kind: "unit", ID: string(u.ID)}
	}
	if stored.Version != u.Version {
		return sales.ErrConcurrentModification
	}
	u.Version++
	m.units[u.ID] = u.Clone()
	return nil
}

func (m *Memory) ListUnits(_ context.Context, tenant sales.TenantID) ([]*sales.Unit, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*sales.Unit
	for _, u := range m.units {
		if u.TenantID == tenant {
			out = append(out, u.Clone())
		}
	}
	return out, nil
}

// -----------------------------------------------------------------------------
// Leads
// -----------------------------------------------------------------------------

func (m *Memory) CreateLead(_ context.Context, l *sales.Lead) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.leads[l.ID]; ok {
		return &sales.ConflictError{Reason: "lead already exists"}
	}
	l.Version = 1
	m.leads[l.ID] = l.Clone()
	return nil
}

func (m *Memory) GetLead(_ context.Context, id sales.LeadID) (*sales.Lead, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	l, ok := m.leads[id]
	if !ok {
		return nil, &sales.NotFoundError{Kind: "lead", ID: string(id)}
	}
	return l.Clone(), nil
}

func (m *Memory) PutLead(_ context.Context, l *sales.Lead) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.leads[l.ID]
	if !ok {
		return &sales.NotFoundError{Kind: "lead", ID: string(l.ID)}
	}
	if stored.Version != l.Version {
		return sales.ErrConcurrentModification
	}
	l.Version++
	m.leads[l.ID] = l.Clone()
	return nil
}

// -----------------------------------------------------------------------------
// Bookings
// -----------------------------------------------------------------------------

func (m *Memory) CreateBooking(_ context.Context, b *sales.Booking) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.bookings[b.ID]; ok {
		return &sales.ConflictError{Reason: "booking already exists"}
	}
	b.Version = 1
	m.bookings[b.ID] = b.Clone()
	return nil
}

func (m *Memory) GetBooking(_ context.Context, id sales.BookingID) (*sales.Booking, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.bookings[id]
	if !ok {
		return nil, &sales.NotFoundError{Kind: "booking", ID: string(id)}
	}
	return b.Clone(), nil
}

func (m *Memory) PutBooking(_ context.Context, b *sales.Booking) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.bookings[b.ID]
	if !ok {
		return &sales.NotFoundError{Kind: "booking", ID: string(b.ID)}
	}
	if stored.Version != b.Version {
		return sales.ErrConcurrentModification
	}
	b.Version++
	m.bookings[b.ID] = b.Clone()
	return nil
}

func (m *Memory) ListBookings(_ context.Context, tenant sales.TenantID) ([]*sales.Booking, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*sales.Booking
	for _, b := range m.bookings {
		if b.TenantID == tenant {
			out = append(out, b.Clone())
		}
	}
	return out, nil
}

// -----------------------------------------------------------------------------
// Approvals
// -----------------------------------------------------------------------------

func (m *Memory) CreateApproval(_ context.Context, a *sales.Approval) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.approvals[a.ID]; ok {
		return &sales.ConflictError{Reason: "approval already exists"}
	}
	a.Version = 1
	m.approvals[a.ID] = a.Clone()
	return nil
}

func (m *Memory) GetApproval(_ context.Context, id sales.ApprovalID) (*sales.Approval, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.approvals[id]
	if !ok {
		return nil, &sales.NotFoundError{Kind: "approval", ID: string(id)}
	}
	return a.Clone(), nil
}

func (m *Memory) PutApproval(_ context.Context, a *sales.Approval) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.approvals[a.ID]
	if !ok {
		return &sales.NotFoundError{Kind: "approval", ID: string(a.ID)}
	}
	if stored.Version != a.Version {
		return sales.ErrConcurrentModification
	}
	a.Version++
	m.approvals[a.ID] = a.Clone()
	return nil
}

func (m *Memory) ListPendingApprovals(_ context.Context, tenant sales.TenantID) ([]*sales.Approval, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*sales.Approval
	for _, a := range m.approvals {
		if a.TenantID == tenant && a.Status == sales.ApprovalPending {
			out = append(out, a.Clone())
		}
	}
	return out, nil
}

// -----------------------------------------------------------------------------
// Schedules
// -----------------------------------------------------------------------------

func (m *Memory) CreateSchedule(_ context.Context, s *sales.PaymentSchedule) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.schedules[s.ID]; ok {
		return &sales.ConflictError{Reason: "schedule already exists"}
	}
	if _, ok := m.byBooking[s.BookingID]; ok {
		return &sales.ConflictError{Reason: "booking already has a payment schedule"}
	}
	s.Version = 1
	m.schedules[s.ID] = s.Clone()
	m.byBooking[s.BookingID] = s.ID
	return nil
}

func (m *Memory) GetSchedule(_ context.Context, id sales.ScheduleID) (*sales.PaymentSchedule, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.schedules[id]
	if !ok {
		return nil, &sales.NotFoundError{Kind: "payment schedule", ID: string(id)}
	}
	return s.Clone(), nil
}

func (m *Memory) GetScheduleByBooking(_ context.Context, booking sales.BookingID) (*sales.PaymentSchedule, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.byBooking[booking]
	if !ok {
		return nil, &sales.NotFoundError{Kind: "payment schedule for booking", ID: string(booking)}
	}
	return m.schedules[id].Clone(), nil
}

func (m *Memory) PutSchedule(_ context.Context, s *sales.PaymentSchedule) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.schedules[s.ID]
	if !ok {
		return &sales.NotFoundError{Kind: "payment schedule", ID: string(s.ID)}
	}
	if stored.Version != s.Version {
		return sales.ErrConcurrentModification
	}
	s.Version++
	m.schedules[s.ID] = s.Clone()
	return nil
}

// -----------------------------------------------------------------------------
// Templates
// -----------------------------------------------------------------------------

func (m *Memory) CreateTemplate(_ context.Context, t *sales.Template) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.templates[t.ID]; ok {
		return &sales.ConflictError{Reason: "template already exists"}
	}
	t.Version = 1
	m.templates[t.ID] = t.Clone()
	return nil
}

func (m *Memory) GetTemplate(_ context.Context, id sales.TemplateID) (*sales.Template, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.templates[id]
	if !ok {
		return nil, &sales.NotFoundError{Kind: "template", ID: string(id)}
	}
	return t.Clone(), nil
}

func (m *Memory) PutTemplate(_ context.Context, t *sales.Template) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.templates[t.ID]
	if !ok {
		return &sales.NotFoundError{Kind: "template", ID: string(t.ID)}
	}
	if stored.Version != t.Version {
		return sales.ErrConcurrentModification
	}
	t.Version++
	m.templates[t.ID] = t.Clone()
	return nil
}

func (m *Memory) DeleteTemplate(_ context.Context, id sales.TemplateID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.templates[id]; !ok {
		return &sales.NotFoundError{Kind: "template", ID: string(id)}
	}
	delete(m.templates, id)
	return nil
}

func (m *Memory) ListTemplates(_ context.Context, tenant sales.TenantID) ([]*sales.Template, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*sales.Template
	for _, t := range m.templates {
		if t.TenantID == tenant {
			out = append(out, t.Clone())
		}
	}
	return out, nil
}
