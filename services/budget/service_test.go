package budget

import (
	"context"
	"testing"

	"github.com/bwmarrin/snowflake"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"rewards-platform/pkg/errutil"
	"rewards-platform/services/testutil"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

func newTestService(t *testing.T) *Service {
	t.Helper()
	db := testutil.NewTestDB(t, &AdminBudget{})
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	return NewService(ServiceParams{DB: db, Node: node})
}

func TestSetBudgetUpserts(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	first, err := svc.SetBudget(ctx, "admin-1", "202609", 1000, true, 80)
	require.NoError(t, err)
	require.Equal(t, int64(1000), first.BudgetLimit)

	second, err := svc.SetBudget(ctx, "admin-1", "202609", 2000, false, 90)
	require.NoError(t, err)
	require.Equal(t, first.ID, second.ID)
	require.Equal(t, int64(2000), second.BudgetLimit)
	require.False(t, second.IsHardLimit)
}

func TestValidateAwardNoBudgetConfigured(t *testing.T) {
	svc := newTestService(t)

	result, err := svc.ValidateAward(context.Background(), "admin-1", 500)
	require.NoError(t, err)
	require.True(t, result.Allowed)
	require.False(t, result.Warning)
	require.Equal(t, "no budget configured for period", result.Message)
}

func TestValidateAwardHardLimit(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	_, err := svc.SetBudget(ctx, "admin-1", CurrentPeriod(), 100, true, 80)
	require.NoError(t, err)

	result, err := svc.ValidateAward(ctx, "admin-1", 150)
	require.NoError(t, err)
	require.False(t, result.Allowed)
	require.Equal(t, int64(100), result.RemainingBudget)
}

func TestValidateAwardHardLimitAfterPriorSpend(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	_, err := svc.SetBudget(ctx, "admin-1", CurrentPeriod(), 1000, true, 80)
	require.NoError(t, err)
	require.NoError(t, svc.RecordAwarded(ctx, "admin-1", 900))

	result, err := svc.ValidateAward(ctx, "admin-1", 200)
	require.NoError(t, err)
	require.False(t, result.Allowed)
	require.Equal(t, int64(100), result.RemainingBudget)

	// A blocked validation charges nothing.
	row, err := svc.GetBudget(ctx, "admin-1", CurrentPeriod())
	require.NoError(t, err)
	require.Equal(t, int64(900), row.PointsAwarded)
}

func TestValidateAwardSoftLimitWarns(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	_, err := svc.SetBudget(ctx, "admin-1", CurrentPeriod(), 100, false, 80)
	require.NoError(t, err)

	result, err := svc.ValidateAward(ctx, "admin-1", 150)
	require.NoError(t, err)
	require.True(t, result.Allowed)
	require.True(t, result.Warning)
}

func TestValidateAwardWarningThreshold(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	_, err := svc.SetBudget(ctx, "admin-1", CurrentPeriod(), 1000, true, 80)
	require.NoError(t, err)

	// 79% stays silent, 80% warns.
	result, err := svc.ValidateAward(ctx, "admin-1", 790)
	require.NoError(t, err)
	require.True(t, result.Allowed)
	require.False(t, result.Warning)

	result, err = svc.ValidateAward(ctx, "admin-1", 800)
	require.NoError(t, err)
	require.True(t, result.Allowed)
	require.True(t, result.Warning)
	require.Equal(t, int64(200), result.RemainingBudget)
}

func TestRecordAwardedAccumulates(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	_, err := svc.SetBudget(ctx, "admin-1", CurrentPeriod(), 1000, true, 80)
	require.NoError(t, err)

	require.NoError(t, svc.RecordAwarded(ctx, "admin-1", 300))
	require.NoError(t, svc.RecordAwarded(ctx, "admin-1", 200))

	row, err := svc.GetBudget(ctx, "admin-1", CurrentPeriod())
	require.NoError(t, err)
	require.Equal(t, int64(500), row.PointsAwarded)
	require.Equal(t, int64(500), row.Remaining())
}

func TestRecordAwardedWithoutBudgetIsNoOp(t *testing.T) {
	svc := newTestService(t)
	require.NoError(t, svc.RecordAwarded(context.Background(), "admin-1", 300))
}

func TestRecordAwardedGuardsHardLimit(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	_, err := svc.SetBudget(ctx, "admin-1", CurrentPeriod(), 100, true, 80)
	require.NoError(t, err)

	err = svc.RecordAwarded(ctx, "admin-1", 150)
	require.Error(t, err)
	require.True(t, errutil.HasStatus(err, errutil.StatusBudgetExceeded))
}
