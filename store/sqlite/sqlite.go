/*
Package sqlite provides a SQLite-backed implementation of the storage interfaces.

PURPOSE:
  Implements every sales store interface (units, leads, bookings, approvals,
  payment schedules, templates) using SQLite. In production the same
  patterns apply to PostgreSQL - only minor SQL dialect differences.

STORAGE MODEL:
  Each entity is stored as a full JSON document in a `data` column, with the
  identifying and frequently-filtered fields (tenant, status, booking
  reference) lifted into indexed columns. Nested records - approval chains,
  installments, change history - ride inside the document, which keeps the
  schema stable as the domain types grow.

OPTIMISTIC CONCURRENCY:
  Every table carries a `version` column. Writes run
    UPDATE ... SET data=?, version=version+1 WHERE id=? AND version=?
  and report ErrConcurrentModification when no row matched. This is the
  compare-and-swap that serializes unit transitions, approval advancement,
  and payment increments.

ONE SCHEDULE PER BOOKING:
  A UNIQUE index on schedules.booking_id turns a duplicate schedule into a
  clean Conflict at the store boundary.

WAL MODE:
  SQLite is opened with WAL (Write-Ahead Logging) for better concurrency:
  multiple readers don't block and crash recovery improves.

USAGE:
  st, err := sqlite.New("./data/sales.db")
  if err != nil {
      log.Fatal(err)
  }
  defer st.Close()

SEE ALSO:
  - sales/store.go: interface definitions and the version contract
  - sales/store/memory.go: in-memory implementation for tests
*/
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	_ "github.com/mattn/go-sqlite3"
	"github.com/warp/sales-engine/sales"
)

// Store implements sales.Store using SQLite.
type Store struct {
	db *sql.DB
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error { return s.db.Close() }

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS units (
		id        TEXT PRIMARY KEY,
		tenant_id TEXT NOT NULL,
		status    TEXT NOT NULL,
		version   INTEGER NOT NULL,
		data      TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_units_tenant_status ON units(tenant_id, status);

	CREATE TABLE IF NOT EXISTS leads (
		id        TEXT PRIMARY KEY,
		tenant_id TEXT NOT NULL,
		version   INTEGER NOT NULL,
		data      TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS bookings (
		id        TEXT PRIMARY KEY,
		tenant_id TEXT NOT NULL,
		status    TEXT NOT NULL,
		unit_id   TEXT NOT NULL,
		version   INTEGER NOT NULL,
		data      TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_bookings_tenant ON bookings(tenant_id);
	CREATE INDEX IF NOT EXISTS idx_bookings_unit ON bookings(unit_id);

	CREATE TABLE IF NOT EXISTS approvals (
		id        TEXT PRIMARY KEY,
		tenant_id TEXT NOT NULL,
		status    TEXT NOT NULL,
		version   INTEGER NOT NULL,
		data      TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_approvals_tenant_status ON approvals(tenant_id, status);

	CREATE TABLE IF NOT EXISTS schedules (
		id         TEXT PRIMARY KEY,
		tenant_id  TEXT NOT NULL,
		booking_id TEXT NOT NULL,
		version    INTEGER NOT NULL,
		data       TEXT NOT NULL
	);
	CREATE UNIQUE INDEX IF NOT EXISTS idx_schedules_booking ON schedules(booking_id);

	CREATE TABLE IF NOT EXISTS templates (
		id        TEXT PRIMARY KEY,
		tenant_id TEXT NOT NULL,
		version   INTEGER NOT NULL,
		data      TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_templates_tenant ON templates(tenant_id);
	`
	_, err := s.db.Exec(schema)
	return err
}

// isUniqueViolation detects sqlite constraint failures without depending on
// driver-specific error types.
func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// casUpdate performs the version-checked write shared by every Put.
func (s *Store) casUpdate(ctx context.Context, table, id string, version int64, extra map[string]any, data []byte) error {
	sets := []string{"data = ?", "version = version + 1"}
	args := []any{data}
	for col, v := range extra {
		sets = append(sets, col+" = ?")
		args = append(args, v)
	}
	args = append(args, id, version)

	q := fmt.Sprintf("UPDATE %s SET %s WHERE id = ? AND version = ?", table, strings.Join(sets, ", "))
	res, err := s.db.ExecContext(ctx, q, args...)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 1 {
		return nil
	}

	// Distinguish a missing row from a stale version.
	var exists int
	row := s.db.QueryRowContext(ctx, fmt.Sprintf("SELECT 1 FROM %s WHERE id = ?", table), id)
	if err := row.Scan(&exists); errors.Is(err, sql.ErrNoRows) {
		return &sales.NotFoundError{Kind: table, ID: id}
	} else if err != nil {
		return err
	}
	return sales.ErrConcurrentModification
}

func getDoc[T any](ctx context.Context, s *Store, table, kind, id string) (*T, error) {
	var data []byte
	var version int64
	row := s.db.QueryRowContext(ctx, fmt.Sprintf("SELECT data, version FROM %s WHERE id = ?", table), id)
	if err := row.Scan(&data, &version); errors.Is(err, sql.ErrNoRows) {
		return nil, &sales.NotFoundError{Kind: kind, ID: id}
	} else if err != nil {
		return nil, err
	}
	var out T
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("decoding %s %s: %w", kind, id, err)
	}
	return &out, nil
}

func listDocs[T any](ctx context.Context, s *Store, query string, args ...any) ([]*T, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*T
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, err
		}
		var item T
		if err := json.Unmarshal(data, &item); err != nil {
			return nil, err
		}
		out = append(out, &item)
	}
	return out, rows.Err()
}

// =============================================================================
// UNITS
// =============================================================================

func (s *Store) CreateUnit(ctx context.Context, u *sales.Unit) error {
	u.Version = 1
	data, err := json.Marshal(u)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		"INSERT INTO units (id, tenant_id, status, version, data) VALUES (?, ?, ?, ?, ?)",
		string(u.ID), string(u.TenantID), string(u.Status), u.Version, data)
	if isUniqueViolation(err) {
		return &sales.ConflictError{Reason: "unit already exists"}
	}
	return err
}

func (s *Store) GetUnit(ctx context.Context, id sales.UnitID) (*sales.Unit, error) {
	return getDoc[sales.Unit](ctx, s, "units", "unit", string(id))
}

func (s *Store) PutUnit(ctx context.Context, u *sales.Unit) error {
	prev := u.Version
	u.Version++
	data, err := json.Marshal(u)
	if err != nil {
		u.Version = prev
		return err
	}
	extra := map[string]any{"status": string(u.Status)}
	if err := s.casUpdate(ctx, "units", string(u.ID), prev, extra, data); err != nil {
		u.Version = prev
		return err
	}
	return nil
}

func (s *Store) ListUnits(ctx context.Context, tenant sales.TenantID) ([]*sales.Unit, error) {
	return listDocs[sales.Unit](ctx, s, "SELECT data FROM units WHERE tenant_id = ?", string(tenant))
}

// =============================================================================
// LEADS
// =============================================================================

func (s *Store) CreateLead(ctx context.Context, l *sales.Lead) error {
	l.Version = 1
	data, err := json.Marshal(l)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		"INSERT INTO leads (id, tenant_id, version, data) VALUES (?, ?, ?, ?)",
		string(l.ID), string(l.TenantID), l.Version, data)
	if isUniqueViolation(err) {
		return &sales.ConflictError{Reason: "lead already exists"}
	}
	return err
}

func (s *Store) GetLead(ctx context.Context, id sales.LeadID) (*sales.Lead, error) {
	return getDoc[sales.Lead](ctx, s, "leads", "lead", string(id))
}

func (s *Store) PutLead(ctx context.Context, l *sales.Lead) error {
	prev := l.Version
	l.Version++
	data, err := json.Marshal(l)
	if err != nil {
		l.Version = prev
		return err
	}
	if err := s.casUpdate(ctx, "leads", string(l.ID), prev, nil, data); err != nil {
		l.Version = prev
		return err
	}
	return nil
}

// =============================================================================
// BOOKINGS
// =============================================================================

func (s *Store) CreateBooking(ctx context.Context, b *sales.Booking) error {
	b.Version = 1
	data, err := json.Marshal(b)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		"INSERT INTO bookings (id, tenant_id, status, unit_id, version, data) VALUES (?, ?, ?, ?, ?, ?)",
		string(b.ID), string(b.TenantID), string(b.Status), string(b.UnitID), b.Version, data)
	if isUniqueViolation(err) {
		return &sales.ConflictError{Reason: "booking already exists"}
	}
	return err
}

func (s *Store) GetBooking(ctx context.Context, id sales.BookingID) (*sales.Booking, error) {
	return getDoc[sales.Booking](ctx, s, "bookings", "booking", string(id))
}

func (s *Store) PutBooking(ctx context.Context, b *sales.Booking) error {
	prev := b.Version
	b.Version++
	data, err := json.Marshal(b)
	if err != nil {
		b.Version = prev
		return err
	}
	extra := map[string]any{"status": string(b.Status)}
	if err := s.casUpdate(ctx, "bookings", string(b.ID), prev, extra, data); err != nil {
		b.Version = prev
		return err
	}
	return nil
}

func (s *Store) ListBookings(ctx context.Context, tenant sales.TenantID) ([]*sales.Booking, error) {
	return listDocs[sales.Booking](ctx, s, "SELECT data FROM bookings WHERE tenant_id = ?", string(tenant))
}

// =============================================================================
// APPROVALS
// =============================================================================

func (s *Store) CreateApproval(ctx context.Context, a *sales.Approval) error {
	a.Version = 1
	data, err := json.Marshal(a)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		"INSERT INTO approvals (id, tenant_id, status, version, data) VALUES (?, ?, ?, ?, ?)",
		string(a.ID), string(a.TenantID), string(a.Status), a.Version, data)
	if isUniqueViolation(err) {
		return &sales.ConflictError{Reason: "approval already exists"}
	}
	return err
}

func (s *Store) GetApproval(ctx context.Context, id sales.ApprovalID) (*sales.Approval, error) {
	return getDoc[sales.Approval](ctx, s, "approvals", "approval", string(id))
}

func (s *Store) PutApproval(ctx context.Context, a *sales.Approval) error {
	prev := a.Version
	a.Version++
	data, err := json.Marshal(a)
	if err != nil {
		a.Version = prev
		return err
	}
	extra := map[string]any{"status": string(a.Status)}
	if err := s.casUpdate(ctx, "approvals", string(a.ID), prev, extra, data); err != nil {
		a.Version = prev
		return err
	}
	return nil
}

func (s *Store) ListPendingApprovals(ctx context.Context, tenant sales.TenantID) ([]*sales.Approval, error) {
	return listDocs[sales.Approval](ctx, s,
		"SELECT data FROM approvals WHERE tenant_id = ? AND status = ?",
		string(tenant), string(sales.ApprovalPending))
}

// =============================================================================
// SCHEDULES
// =============================================================================

func (s *Store) CreateSchedule(ctx context.Context, ps *sales.PaymentSchedule) error {
	ps.Version = 1
	data, err := json.Marshal(ps)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		"INSERT INTO schedules (id, tenant_id, booking_id, version, data) VALUES (?, ?, ?, ?, ?)",
		string(ps.ID), string(ps.TenantID), string(ps.BookingID), ps.Version, data)
	if isUniqueViolation(err) {
		return &sales.ConflictError{Reason: "booking already has a payment schedule"}
	}
	return err
}

func (s *Store) GetSchedule(ctx context.Context, id sales.ScheduleID) (*sales.PaymentSchedule, error) {
	return getDoc[sales.PaymentSchedule](ctx, s, "schedules", "payment schedule", string(id))
}

func (s *Store) GetScheduleByBooking(ctx context.Context, booking sales.BookingID) (*sales.PaymentSchedule, error) {
	var data []byte
	row := s.db.QueryRowContext(ctx, "SELECT data FROM schedules WHERE booking_id = ?", string(booking))
	if err := row.Scan(&data); errors.Is(err, sql.ErrNoRows) {
		return nil, &sales.NotFoundError{Kind: "payment schedule for booking", ID: string(booking)}
	} else if err != nil {
		return nil, err
	}
	var ps sales.PaymentSchedule
	if err := json.Unmarshal(data, &ps); err != nil {
		return nil, err
	}
	return &ps, nil
}

func (s *Store) PutSchedule(ctx context.Context, ps *sales.PaymentSchedule) error {
	prev := ps.Version
	ps.Version++
	data, err := json.Marshal(ps)
	if err != nil {
		ps.Version = prev
		return err
	}
	if err := s.casUpdate(ctx, "schedules", string(ps.ID), prev, nil, data); err != nil {
		ps.Version = prev
		return err
	}
	return nil
}

// =============================================================================
// TEMPLATES
// =============================================================================

func (s *Store) CreateTemplate(ctx context.Context, t *sales.Template) error {
	t.Version = 1
	data, err := json.Marshal(t)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		"INSERT INTO templates (id, tenant_id, version, data) VALUES (?, ?, ?, ?)",
		string(t.ID), string(t.TenantID), t.Version, data)
	if isUniqueViolation(err) {
		return &sales.ConflictError{Reason: "template already exists"}
	}
	return err
}

func (s *Store) GetTemplate(ctx context.Context, id sales.TemplateID) (*sales.Template, error) {
	return getDoc[sales.Template](ctx, s, "templates", "template", string(id))
}

func (s *Store) PutTemplate(ctx context.Context, t *sales.Template) error {
	prev := t.Version
	t.Version++
	data, err := json.Marshal(t)
	if err != nil {
		t.Version = prev
		return err
	}
	if err := s.casUpdate(ctx, "templates", string(t.ID), prev, nil, data); err != nil {
		t.Version = prev
		return err
	}
	return nil
}

func (s *Store) DeleteTemplate(ctx context.Context, id sales.TemplateID) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM templates WHERE id = ?", string(id))
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return &sales.NotFoundError{Kind: "template", ID: string(id)}
	}
	return nil
}

func (s *Store) ListTemplates(ctx context.Context, tenant sales.TenantID) ([]*sales.Template, error) {
	return listDocs[sales.Template](ctx, s, "SELECT data FROM templates WHERE tenant_id = ?", string(tenant))
}
