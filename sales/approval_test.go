package sales_test

import (
	"context"
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

func newApprovalService(t *testing.T) *sales.ApprovalService {
	return sales.NewApprovalService(store.NewMemory(), sales.NewManualClock(testStart))
}

func threeLevelChain() []sales.ChainLevel {
	return []sales.ChainLevel{
		{Role: sales.RoleSalesManager},
		{Role: sales.RoleFinanceHead},
		{Role: sales.RoleDirector},
	}
}

func openApproval(t *testing.T, svc *sales.ApprovalService, chain []sales.ChainLevel) *sales.Approval {
	t.Helper()
	a, err := svc.Create(context.Background(), testTenant, sales.ApprovalDiscount,
		sales.EntityBooking, "bk-1", dec("500000"), dec("10"), "exec-1", "big discount", chain)
	require.NoError(t, err)
	return a
}

// =============================================================================
// CHAIN ORDERING TESTS
// =============================================================================

func TestApprovalCreate_LevelsRenumberedAndPending(t *testing.T) {
	// GIVEN: A three-level chain
	// WHEN: Opening the approval
	// THEN: Levels 0..2 pending, current level 0

	svc := newApprovalService(t)
	a := openApproval(t, svc, threeLevelChain())

	assert.Equal(t, sales.ApprovalPending, a.Status)
	assert.Equal(t, 0, a.CurrentLevel)
	require.Len(t, a.Chain, 3)
	for i, lvl := range a.Chain {
		assert.Equal(t, i, lvl.Level)
		assert.Equal(t, sales.LevelPending, lvl.Status)
	}
}

func TestApprovalCreate_EmptyChain_Validation(t *testing.T) {
	svc := newApprovalService(t)
	_, err := svc.Create(context.Background(), testTenant, sales.ApprovalDiscount,
		sales.EntityBooking, "bk-1", dec("1"), decimal.Zero, "exec-1", "x", nil)
	assert.True(t, sales.IsValidation(err))
}

func TestApprovalProcess_ApproveAllLevels_Resolves(t *testing.T) {
	// GIVEN: A three-level chain
	// WHEN: Each level approves in order
	// THEN: The approval resolves approved with ResolvedAt set

	svc := newApprovalService(t)
	a := openApproval(t, svc, threeLevelChain())
	ctx := context.Background()

	a, err := svc.Process(ctx, testTenant, a.ID, sales.ActionApprove, actor("mgr-1"), "ok")
	require.NoError(t, err)
	assert.Equal(t, 1, a.CurrentLevel)
	assert.Equal(t, sales.ApprovalPending, a.Status)

	a, err = svc.Process(ctx, testTenant, a.ID, sales.ActionApprove, actor("fin-1"), "ok")
	require.NoError(t, err)
	assert.Equal(t, 2, a.CurrentLevel)

	a, err = svc.Process(ctx, testTenant, a.ID, sales.ActionApprove, actor("dir-1"), "ok")
	require.NoError(t, err)
	assert.Equal(t, sales.ApprovalApproved, a.Status)
	assert.NotNil(t, a.ResolvedAt)
}

func TestApprovalProcess_RejectMidChain_HaltsPermanently(t *testing.T) {
	// GIVEN: Level 1 approved
	// WHEN: Level 2 rejects
	// THEN: The approval resolves rejected; level 3 stays pending and no
	//       further decision is accepted

	svc := newApprovalService(t)
	a := openApproval(t, svc, threeLevelChain())
	ctx := context.Background()

	_, err := svc.Process(ctx, testTenant, a.ID, sales.ActionApprove, actor("mgr-1"), "ok")
	require.NoError(t, err)

	a, err = svc.Process(ctx, testTenant, a.ID, sales.ActionReject, actor("fin-1"), "too steep")
	require.NoError(t, err)
	assert.Equal(t, sales.ApprovalRejected, a.Status)
	assert.Equal(t, sales.LevelRejected, a.Chain[1].Status)
	assert.Equal(t, sales.LevelPending, a.Chain[2].Status)
	assert.NotNil(t, a.ResolvedAt)

	_, err = svc.Process(ctx, testTenant, a.ID, sales.ActionApprove, actor("dir-1"), "ok")
	assert.True(t, sales.IsConflict(err), "resolved approval must reject further decisions")
}

func TestApprovalProcess_SkipAdvancesLikeApprove(t *testing.T) {
	// GIVEN: A two-level chain
	// WHEN: Level 1 is skipped and level 2 approves
	// THEN: The approval resolves approved with the skip recorded

	svc := newApprovalService(t)
	a := openApproval(t, svc, threeLevelChain()[:2])
	ctx := context.Background()

	a, err := svc.Process(ctx, testTenant, a.ID, sales.ActionSkip, actor("mgr-1"), "on leave")
	require.NoError(t, err)
	assert.Equal(t, sales.LevelSkipped, a.Chain[0].Status)
	assert.Equal(t, 1, a.CurrentLevel)

	a, err = svc.Process(ctx, testTenant, a.ID, sales.ActionApprove, actor("fin-1"), "ok")
	require.NoError(t, err)
	assert.Equal(t, sales.ApprovalApproved, a.Status)
}

func TestApprovalProcess_AssignedLevel_RejectsOtherActors(t *testing.T) {
	// GIVEN: Level 1 assigned to mgr-1
	// WHEN: mgr-2 tries to decide it
	// THEN: Forbidden; mgr-1 still can

	svc := newApprovalService(t)
	assigned := sales.ActorID("mgr-1")
	a := openApproval(t, svc, []sales.ChainLevel{{Role: sales.RoleSalesManager, AssignedTo: &assigned}})
	ctx := context.Background()

	_, err := svc.Process(ctx, testTenant, a.ID, sales.ActionApprove, actor("mgr-2"), "ok")
	assert.True(t, sales.IsForbidden(err))

	a, err = svc.Process(ctx, testTenant, a.ID, sales.ActionApprove, actor("mgr-1"), "ok")
	require.NoError(t, err)
	assert.Equal(t, sales.ApprovalApproved, a.Status)
}

func TestApprovalProcess_UnknownAction_Validation(t *testing.T) {
	svc := newApprovalService(t)
	a := openApproval(t, svc, threeLevelChain())

	_, err := svc.Process(context.Background(), testTenant, a.ID, "defer", actor("mgr-1"), "")
	assert.True(t, sales.IsValidation(err))
}

func TestApprovalProcess_RecordsDeciderAndComment(t *testing.T) {
	svc := newApprovalService(t)
	a := openApproval(t, svc, threeLevelChain())

	a, err := svc.Process(context.Background(), testTenant, a.ID, sales.ActionApprove, actor("mgr-1"), "within band")
	require.NoError(t, err)

	lvl := a.Chain[0]
	assert.Equal(t, sales.LevelApproved, lvl.Status)
	assert.Equal(t, "within band", lvl.Comment)
	require.NotNil(t, lvl.DecidedBy)
	assert.Equal(t, sales.ActorID("mgr-1"), *lvl.DecidedBy)
	assert.NotNil(t, lvl.DecidedAt)
}

func TestApprovalWithdraw_PendingOnly(t *testing.T) {
	// GIVEN: A pending approval
	// WHEN: The requesting side withdraws it
	// THEN: It resolves withdrawn with no chain decision, leaves the
	//       pending queue, and cannot be withdrawn or decided again

	svc := newApprovalService(t)
	a := openApproval(t, svc, threeLevelChain())
	ctx := context.Background()

	a, err := svc.Withdraw(ctx, testTenant, a.ID)
	require.NoError(t, err)
	assert.Equal(t, sales.ApprovalWithdrawn, a.Status)
	assert.NotNil(t, a.ResolvedAt)
	assert.Equal(t, sales.LevelPending, a.Chain[0].Status)

	pending, err := svc.ListPending(ctx, testTenant)
	require.NoError(t, err)
	assert.Empty(t, pending)

	_, err = svc.Withdraw(ctx, testTenant, a.ID)
	assert.True(t, sales.IsConflict(err))
	_, err = svc.Process(ctx, testTenant, a.ID, sales.ActionApprove, actor("mgr-1"), "ok")
	assert.True(t, sales.IsConflict(err))
}

func TestApprovalListPending_ExcludesResolved(t *testing.T) {
	// GIVEN: One pending and one resolved approval
	// WHEN: Listing pending
	// THEN: Only the unresolved one is returned

	svc := newApprovalService(t)
	ctx := context.Background()
	kept := openApproval(t, svc, threeLevelChain())
	resolved := openApproval(t, svc, threeLevelChain()[:1])

	_, err := svc.Process(ctx, testTenant, resolved.ID, sales.ActionApprove, actor("mgr-1"), "ok")
	require.NoError(t, err)

	pending, err := svc.ListPending(ctx, testTenant)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, kept.ID, pending[0].ID)
}
