package catalog

import (
	"context"
	"testing"
	"time"

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
	db := testutil.NewTestDB(t, &ProductPricing{})
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	return NewService(ServiceParams{DB: db, Node: node})
}

func TestResolveActivePrice(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	_, err := svc.SetPricing(ctx, "product-1", 200, time.Now().Add(-time.Hour), nil)
	require.NoError(t, err)

	price, err := svc.ResolveActivePrice(ctx, "product-1", time.Now())
	require.NoError(t, err)
	require.Equal(t, int64(200), price)
}

func TestResolveActivePriceNoWindow(t *testing.T) {
	svc := newTestService(t)

	_, err := svc.ResolveActivePrice(context.Background(), "product-1", time.Now())
	require.Error(t, err)
	require.True(t, errutil.HasStatus(err, errutil.StatusNotFound))
}

func TestSetPricingClosesOpenWindow(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	_, err := svc.SetPricing(ctx, "product-1", 200, time.Now().Add(-2*time.Hour), nil)
	require.NoError(t, err)

	_, err = svc.SetPricing(ctx, "product-1", 300, time.Now().Add(-time.Hour), nil)
	require.NoError(t, err)

	price, err := svc.ResolveActivePrice(ctx, "product-1", time.Now())
	require.NoError(t, err)
	require.Equal(t, int64(300), price)

	// The old window still answers for its own era.
	price, err = svc.ResolveActivePrice(ctx, "product-1", time.Now().Add(-90*time.Minute))
	require.NoError(t, err)
	require.Equal(t, int64(200), price)
}

func TestResolveActivePriceExpiredWindow(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	to := time.Now().Add(-time.Hour)
	_, err := svc.SetPricing(ctx, "product-1", 200, time.Now().Add(-2*time.Hour), &to)
	require.NoError(t, err)

	_, err = svc.ResolveActivePrice(ctx, "product-1", time.Now())
	require.Error(t, err)
	require.True(t, errutil.HasStatus(err, errutil.StatusNotFound))
}

func TestSetPricingValidation(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	_, err := svc.SetPricing(ctx, "", 200, time.Now(), nil)
	require.Error(t, err)
	require.True(t, errutil.HasStatus(err, errutil.StatusValidationFailed))

	_, err = svc.SetPricing(ctx, "product-1", 0, time.Now(), nil)
	require.Error(t, err)
	require.True(t, errutil.HasStatus(err, errutil.StatusValidationFailed))

	from := time.Now()
	to := from.Add(-time.Minute)
	_, err = svc.SetPricing(ctx, "product-1", 100, from, &to)
	require.Error(t, err)
	require.True(t, errutil.HasStatus(err, errutil.StatusValidationFailed))
}
