/*
approval.go - Sequential multi-level approval workflow

PURPOSE:
  Gates sensitive monetary changes (discounts, cancellations, schedule
  amendments) behind an ordered chain of sign-offs. The workflow only
  enforces chain ordering and terminal-state integrity; deciding WHO may act
  at an unassigned level is the caller's role/threshold concern.

CHAIN RULES:
  - Levels are processed strictly in ascending order.
  - One decision per level: approve, reject, or skip.
  - A rejection at any level resolves the whole approval as rejected and
    halts the chain permanently.
  - The approval resolves as approved only after the last level is approved
    or explicitly skipped.
  - A level with an assigned actor accepts decisions from that actor only.

CONCURRENCY:
  Advancement is serialized per approval record through the store's version
  check: two simultaneous decisions at the same level produce one success
  and one Conflict.
*/
package sales

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// APPROVAL TYPES
// =============================================================================

type ApprovalType string

const (
	ApprovalDiscount        ApprovalType = "discount"
	ApprovalSpecialTerms    ApprovalType = "special_terms"
	ApprovalCancellation    ApprovalType = "cancellation"
	ApprovalAmendment       ApprovalType = "amendment"
	ApprovalPaymentSchedule ApprovalType = "payment_schedule"
)

type ApprovalStatus string

const (
	ApprovalPending   ApprovalStatus = "pending"
	ApprovalApproved  ApprovalStatus = "approved"
	ApprovalRejected  ApprovalStatus = "rejected"
	ApprovalWithdrawn ApprovalStatus = "withdrawn"
)

type ApprovalAction string

const (
	ActionApprove ApprovalAction = "approve"
	ActionReject  ApprovalAction = "reject"
	ActionSkip    ApprovalAction = "skip"
)

type LevelStatus string

const (
	LevelPending  LevelStatus = "pending"
	LevelApproved LevelStatus = "approved"
	LevelRejected LevelStatus = "rejected"
	LevelSkipped  LevelStatus = "skipped"
)

// ChainLevel is one sign-off step in an approval chain.
type ChainLevel struct {
	Level      int
	Role       Role
	MinAmount  decimal.Decimal
	MaxAmount  *decimal.Decimal // nil = unbounded
	AssignedTo *ActorID         // nil = any caller passing the role check

	Status    LevelStatus
	Comment   string
	DecidedBy *ActorID
	DecidedAt *time.Time
}

// EntityType identifies what an approval gates.
type EntityType string

const (
	EntityBooking  EntityType = "booking"
	EntitySchedule EntityType = "payment_schedule"
)

// Approval is a pending or resolved authorization request.
type Approval struct {
	ID         ApprovalID
	TenantID   TenantID
	Type       ApprovalType
	EntityType EntityType
	EntityID   string

	Amount  decimal.Decimal
	Percent decimal.Decimal

	Status       ApprovalStatus
	Chain        []ChainLevel
	CurrentLevel int

	RequestedBy   ActorID
	Justification string

	Version    int64
	CreatedAt  time.Time
	UpdatedAt  time.Time
	ResolvedAt *time.Time
}

// Clone returns a deep copy of the approval.
func (a *Approval) Clone() *Approval {
	c := *a
	c.Chain = make([]ChainLevel, len(a.Chain))
	for i, lvl := range a.Chain {
		c.Chain[i] = lvl
		if lvl.MaxAmount != nil {
			v := *lvl.MaxAmount
			c.Chain[i].MaxAmount = &v
		}
		if lvl.AssignedTo != nil {
			v := *lvl.AssignedTo
			c.Chain[i].AssignedTo = &v
		}
		if lvl.DecidedBy != nil {
			v := *lvl.DecidedBy
			c.Chain[i].DecidedBy = &v
		}
		if lvl.DecidedAt != nil {
			v := *lvl.DecidedAt
			c.Chain[i].DecidedAt = &v
		}
	}
	if a.ResolvedAt != nil {
		v := *a.ResolvedAt
		c.ResolvedAt = &v
	}
	return &c
}

// ChainBuilder assembles the approval chain for a request. The factory
// package provides a tenant-config-backed implementation.
type ChainBuilder interface {
	BuildChain(tenant TenantID, typ ApprovalType, amount decimal.Decimal) ([]ChainLevel, error)
}

// =============================================================================
// APPROVAL SERVICE
// =============================================================================

type ApprovalService struct {
	Approvals ApprovalStore
	Clock     Clock
}

func NewApprovalService(approvals ApprovalStore, clock Clock) *ApprovalService {
	return &ApprovalService{Approvals: approvals, Clock: clock}
}

// Create opens a new approval request with the given chain, starting at
// level zero.
func (s *ApprovalService) Create(
	ctx context.Context,
	tenant TenantID,
	typ ApprovalType,
	entityType EntityType,
	entityID string,
	amount decimal.Decimal,
	percent decimal.Decimal,
	requestor ActorID,
	justification string,
	chain []ChainLevel,
) (*Approval, error) {
	if len(chain) == 0 {
		return nil, &ValidationError{Field: "chain", Reason: "approval chain must have at least one level"}
	}
	now := s.Clock.Now()
	a := &Approval{
		ID:            ApprovalID(NewID()),
		TenantID:      tenant,
		Type:          typ,
		EntityType:    entityType,
		EntityID:      entityID,
		Amount:        amount,
		Percent:       percent,
		Status:        ApprovalPending,
		Chain:         make([]ChainLevel, len(chain)),
		CurrentLevel:  0,
		RequestedBy:   requestor,
		Justification: justification,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	for i, lvl := range chain {
		lvl.Level = i
		lvl.Status = LevelPending
		a.Chain[i] = lvl
	}
	if err := s.Approvals.CreateApproval(ctx, a); err != nil {
		return nil, err
	}
	return a, nil
}

// Get returns an approval by ID.
func (s *ApprovalService) Get(ctx context.Context, tenant TenantID, id ApprovalID) (*Approval, error) {
	a, err := s.Approvals.GetApproval(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := tenantGuard(a.TenantID, tenant, "approval"); err != nil {
		return nil, err
	}
	return a, nil
}

// ListPending returns the tenant's unresolved approvals.
func (s *ApprovalService) ListPending(ctx context.Context, tenant TenantID) ([]*Approval, error) {
	return s.Approvals.ListPendingApprovals(ctx, tenant)
}

// Withdraw resolves a pending approval as withdrawn without a chain
// decision. The requesting side calls this when the operation that opened
// the approval is rolled back, so the request leaves the pending queue.
func (s *ApprovalService) Withdraw(ctx context.Context, tenant TenantID, id ApprovalID) (*Approval, error) {
	a, err := s.Approvals.GetApproval(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := tenantGuard(a.TenantID, tenant, "approval"); err != nil {
		return nil, err
	}
	if a.Status != ApprovalPending {
		return nil, &ConflictError{Reason: fmt.Sprintf("approval %s is already %s", id, a.Status)}
	}
	now := s.Clock.Now()
	a.Status = ApprovalWithdrawn
	a.ResolvedAt = &now
	a.UpdatedAt = now
	if err := s.Approvals.PutApproval(ctx, a); err != nil {
		return nil, err
	}
	return a, nil
}

// Process records a decision at the current chain level and advances or
// resolves the approval.
func (s *ApprovalService) Process(
	ctx context.Context,
	tenant TenantID,
	id ApprovalID,
	action ApprovalAction,
	actor Actor,
	comment string,
) (*Approval, error) {
	a, err := s.Approvals.GetApproval(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := tenantGuard(a.TenantID, tenant, "approval"); err != nil {
		return nil, err
	}
	if a.Status != ApprovalPending {
		return nil, &ConflictError{Reason: fmt.Sprintf("approval %s is already %s", id, a.Status)}
	}
	if a.CurrentLevel < 0 || a.CurrentLevel >= len(a.Chain) {
		return nil, &ConflictError{Reason: fmt.Sprintf("approval %s has no chain entry at level %d", id, a.CurrentLevel)}
	}

	lvl := &a.Chain[a.CurrentLevel]
	if lvl.AssignedTo != nil && *lvl.AssignedTo != actor.ID {
		return nil, &ForbiddenError{Reason: fmt.Sprintf("level %d is assigned to another approver", a.CurrentLevel)}
	}

	now := s.Clock.Now()
	lvl.Comment = comment
	lvl.DecidedBy = &actor.ID
	lvl.DecidedAt = &now

	switch action {
	case ActionReject:
		lvl.Status = LevelRejected
		a.Status = ApprovalRejected
		a.ResolvedAt = &now
	case ActionApprove, ActionSkip:
		lvl.Status = LevelApproved
		if action == ActionSkip {
			lvl.Status = LevelSkipped
		}
		if a.CurrentLevel+1 < len(a.Chain) {
			a.CurrentLevel++
		} else {
			a.Status = ApprovalApproved
			a.ResolvedAt = &now
		}
	default:
		return nil, &ValidationError{Field: "action", Reason: fmt.Sprintf("unknown action %q", action)}
	}

	a.UpdatedAt = now
	if err := s.Approvals.PutApproval(ctx, a); err != nil {
		return nil, err
	}
	return a, nil
}
