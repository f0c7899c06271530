package redemption

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"rewards-platform/pkg/config"
	"rewards-platform/pkg/db/pagination"
	"rewards-platform/pkg/errutil"
	"rewards-platform/services/account"
	"rewards-platform/services/catalog"
	"rewards-platform/services/inventory"
	"rewards-platform/services/testutil"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

type seqStub struct {
	n int
}

func (s *seqStub) NextRedemptionCode(context.Context) (string, error) {
	s.n++
	return fmt.Sprintf("RDM-TEST-%03d", s.n), nil
}

func (s *seqStub) NextGrantCode(context.Context) (string, error) {
	s.n++
	return fmt.Sprintf("GRT-TEST-%03d", s.n), nil
}

type fixture struct {
	redemption *Service
	accounts   *account.Service
	catalog    *catalog.Service
	inventory  *inventory.Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	db := testutil.NewTestDB(t,
		&account.PointsAccount{},
		&account.PointsTransaction{},
		&catalog.ProductPricing{},
		&inventory.InventoryItem{},
		&Redemption{},
	)
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	cfg := &config.Config{}
	cfg.Rewards.MaxQuantityPerRequest = 10
	cfg.Rewards.MinRejectReasonLength = 10
	cfg.Rewards.PendingRedemptionTTL = 72 * time.Hour

	accounts := account.NewService(account.ServiceParams{DB: db, Node: node})
	catalogSvc := catalog.NewService(catalog.ServiceParams{DB: db, Node: node})
	inventorySvc := inventory.NewService(inventory.ServiceParams{DB: db, Node: node})

	svc := NewService(ServiceParams{
		DB:        db,
		Node:      node,
		Config:    cfg,
		Seq:       &seqStub{},
		Account:   accounts,
		Catalog:   catalogSvc,
		Inventory: inventorySvc,
	})

	return &fixture{redemption: svc, accounts: accounts, catalog: catalogSvc, inventory: inventorySvc}
}

// seed gives the user a balance, prices the product at 200 points and stocks
// five units.
func (f *fixture) seed(t *testing.T, userID string, balance int64) {
	t.Helper()
	ctx := context.Background()

	if balance > 0 {
		_, err := f.accounts.Credit(ctx, account.EntryParams{
			UserID:   userID,
			Points:   balance,
			Origin:   account.OriginEvent,
			SourceID: "event-seed",
		})
		require.NoError(t, err)
	}

	_, err := f.catalog.SetPricing(ctx, "product-1", 200, time.Now().Add(-time.Hour), nil)
	require.NoError(t, err)

	_, err = f.inventory.ProvisionItem(ctx, "product-1", 5)
	require.NoError(t, err)
}

func TestCreateRedemption(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seed(t, "user-1", 1000)

	row, err := f.redemption.Create(ctx, CreateParams{UserID: "user-1", ProductID: "product-1", Quantity: 2})
	require.NoError(t, err)
	require.Equal(t, StatusPending, row.Status)
	require.Equal(t, int64(400), row.PointsSpent)
	require.Contains(t, row.Code, "RDM-")

	acct, err := f.accounts.GetAccount(ctx, "user-1")
	require.NoError(t, err)
	require.Equal(t, int64(600), acct.CurrentBalance)
	require.Equal(t, int64(400), acct.PendingPoints)
	require.True(t, acct.Reconciles())

	item, err := f.inventory.GetItem(ctx, "product-1")
	require.NoError(t, err)
	require.Equal(t, int64(3), item.QuantityAvailable)
	require.Equal(t, int64(2), item.QuantityReserved)
}

func TestCreateRedemptionInsufficientBalance(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seed(t, "user-1", 100)

	_, err := f.redemption.Create(ctx, CreateParams{UserID: "user-1", ProductID: "product-1", Quantity: 1})
	require.Error(t, err)
	require.True(t, errutil.HasStatus(err, errutil.StatusInsufficientBalance))

	item, err := f.inventory.GetItem(ctx, "product-1")
	require.NoError(t, err)
	require.Equal(t, int64(5), item.QuantityAvailable)
	require.Equal(t, int64(0), item.QuantityReserved)
}

func TestCreateRedemptionOutOfStockRollsBackHold(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seed(t, "user-1", 5000)

	_, err := f.inventory.AdjustStock(ctx, "product-1", -4)
	require.NoError(t, err)

	_, err = f.redemption.Create(ctx, CreateParams{UserID: "user-1", ProductID: "product-1", Quantity: 2})
	require.Error(t, err)
	require.True(t, errutil.HasStatus(err, errutil.StatusOutOfStock))

	// The hold placed before the failed reservation must not survive.
	acct, err := f.accounts.GetAccount(ctx, "user-1")
	require.NoError(t, err)
	require.Equal(t, int64(5000), acct.CurrentBalance)
	require.Equal(t, int64(0), acct.PendingPoints)

	valid, err := f.accounts.VerifyChain(ctx, "user-1")
	require.NoError(t, err)
	require.True(t, valid)
}

func TestCreateRedemptionNoActivePricing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.redemption.Create(ctx, CreateParams{UserID: "user-1", ProductID: "product-9", Quantity: 1})
	require.Error(t, err)
	require.True(t, errutil.HasStatus(err, errutil.StatusNotFound))
}

func TestCreateRedemptionQuantityBounds(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seed(t, "user-1", 10000)

	_, err := f.redemption.Create(ctx, CreateParams{UserID: "user-1", ProductID: "product-1", Quantity: 0})
	require.Error(t, err)
	require.True(t, errutil.HasStatus(err, errutil.StatusValidationFailed))

	_, err = f.redemption.Create(ctx, CreateParams{UserID: "user-1", ProductID: "product-1", Quantity: 11})
	require.Error(t, err)
	require.True(t, errutil.HasStatus(err, errutil.StatusValidationFailed))
}

func TestApproveSettlesHoldAndStock(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seed(t, "user-1", 1000)

	row, err := f.redemption.Create(ctx, CreateParams{UserID: "user-1", ProductID: "product-1", Quantity: 2})
	require.NoError(t, err)

	entriesBefore, _, err := f.accounts.ListTransactions(ctx, "user-1", pagination.Pagination{Limit: 100})
	require.NoError(t, err)

	approved, err := f.redemption.Approve(ctx, row.ID, "admin-1")
	require.NoError(t, err)
	require.Equal(t, StatusApproved, approved.Status)
	require.Equal(t, "admin-1", approved.ApprovedBy)
	require.NotNil(t, approved.ApprovedAt)

	acct, err := f.accounts.GetAccount(ctx, "user-1")
	require.NoError(t, err)
	require.Equal(t, int64(600), acct.CurrentBalance)
	require.Equal(t, int64(0), acct.PendingPoints)
	require.Equal(t, int64(400), acct.TotalRedeemed)
	require.True(t, acct.Reconciles())

	// The spend entry was written at creation; approval adds none.
	entriesAfter, _, err := f.accounts.ListTransactions(ctx, "user-1", pagination.Pagination{Limit: 100})
	require.NoError(t, err)
	require.Len(t, entriesAfter, len(entriesBefore))

	item, err := f.inventory.GetItem(ctx, "product-1")
	require.NoError(t, err)
	require.Equal(t, int64(3), item.QuantityAvailable)
	require.Equal(t, int64(0), item.QuantityReserved)

	valid, err := f.accounts.VerifyChain(ctx, "user-1")
	require.NoError(t, err)
	require.True(t, valid)
}

func TestApproveTwiceFails(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seed(t, "user-1", 1000)

	row, err := f.redemption.Create(ctx, CreateParams{UserID: "user-1", ProductID: "product-1", Quantity: 1})
	require.NoError(t, err)

	_, err = f.redemption.Approve(ctx, row.ID, "admin-1")
	require.NoError(t, err)

	_, err = f.redemption.Approve(ctx, row.ID, "admin-1")
	require.Error(t, err)
	require.True(t, errutil.HasStatus(err, errutil.StatusInvalidStateTransition))

	// The second attempt must not double-settle.
	acct, err := f.accounts.GetAccount(ctx, "user-1")
	require.NoError(t, err)
	require.Equal(t, int64(200), acct.TotalRedeemed)
	require.True(t, acct.Reconciles())
}

func TestRejectRestoresPointsAndStock(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seed(t, "user-1", 1000)

	row, err := f.redemption.Create(ctx, CreateParams{UserID: "user-1", ProductID: "product-1", Quantity: 2})
	require.NoError(t, err)

	rejected, err := f.redemption.Reject(ctx, row.ID, "admin-1", "stock allocated to a different campaign")
	require.NoError(t, err)
	require.Equal(t, StatusRejected, rejected.Status)
	require.Equal(t, "admin-1", rejected.RejectedBy)

	acct, err := f.accounts.GetAccount(ctx, "user-1")
	require.NoError(t, err)
	require.Equal(t, int64(1000), acct.CurrentBalance)
	require.Equal(t, int64(0), acct.PendingPoints)
	require.Equal(t, int64(0), acct.TotalRedeemed)
	require.True(t, acct.Reconciles())

	item, err := f.inventory.GetItem(ctx, "product-1")
	require.NoError(t, err)
	require.Equal(t, int64(5), item.QuantityAvailable)
	require.Equal(t, int64(0), item.QuantityReserved)

	// Newest entry is the refund, snapshotting the restored balance.
	entries, _, err := f.accounts.ListTransactions(ctx, "user-1", pagination.Pagination{Limit: 1})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, account.DirectionEarned, entries[0].Direction)
	require.Equal(t, int64(1000), entries[0].BalanceAfter)

	valid, err := f.accounts.VerifyChain(ctx, "user-1")
	require.NoError(t, err)
	require.True(t, valid)
}

func TestRejectRequiresSubstantialReason(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seed(t, "user-1", 1000)

	row, err := f.redemption.Create(ctx, CreateParams{UserID: "user-1", ProductID: "product-1", Quantity: 1})
	require.NoError(t, err)

	_, err = f.redemption.Reject(ctx, row.ID, "admin-1", "no")
	require.Error(t, err)
	require.True(t, errutil.HasStatus(err, errutil.StatusValidationFailed))

	got, err := f.redemption.Get(ctx, row.ID)
	require.NoError(t, err)
	require.Equal(t, StatusPending, got.Status)
}

func TestCancelOwnerOnly(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seed(t, "user-1", 1000)

	row, err := f.redemption.Create(ctx, CreateParams{UserID: "user-1", ProductID: "product-1", Quantity: 1})
	require.NoError(t, err)

	_, err = f.redemption.Cancel(ctx, row.ID, "user-2")
	require.Error(t, err)
	require.True(t, errutil.HasStatus(err, errutil.StatusBadRequest))

	cancelled, err := f.redemption.Cancel(ctx, row.ID, "user-1")
	require.NoError(t, err)
	require.Equal(t, StatusCancelled, cancelled.Status)

	acct, err := f.accounts.GetAccount(ctx, "user-1")
	require.NoError(t, err)
	require.Equal(t, int64(1000), acct.CurrentBalance)
	require.Equal(t, int64(0), acct.PendingPoints)
}

func TestDeliverOnlyFromApproved(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seed(t, "user-1", 1000)

	row, err := f.redemption.Create(ctx, CreateParams{UserID: "user-1", ProductID: "product-1", Quantity: 1})
	require.NoError(t, err)

	_, err = f.redemption.Deliver(ctx, row.ID, "admin-1")
	require.Error(t, err)
	require.True(t, errutil.HasStatus(err, errutil.StatusInvalidStateTransition))

	_, err = f.redemption.Approve(ctx, row.ID, "admin-1")
	require.NoError(t, err)

	delivered, err := f.redemption.Deliver(ctx, row.ID, "admin-1")
	require.NoError(t, err)
	require.Equal(t, StatusDelivered, delivered.Status)
	require.Equal(t, "admin-1", delivered.DeliveredBy)
	require.NotNil(t, delivered.DeliveredAt)
}

func TestRejectAfterApproveFails(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seed(t, "user-1", 1000)

	row, err := f.redemption.Create(ctx, CreateParams{UserID: "user-1", ProductID: "product-1", Quantity: 1})
	require.NoError(t, err)

	_, err = f.redemption.Approve(ctx, row.ID, "admin-1")
	require.NoError(t, err)

	_, err = f.redemption.Reject(ctx, row.ID, "admin-1", "changed my mind about this one")
	require.Error(t, err)
	require.True(t, errutil.HasStatus(err, errutil.StatusInvalidStateTransition))
}

func TestListByUserPaginates(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seed(t, "user-1", 1000)

	for i := 0; i < 3; i++ {
		_, err := f.redemption.Create(ctx, CreateParams{UserID: "user-1", ProductID: "product-1", Quantity: 1})
		require.NoError(t, err)
	}

	first, info, err := f.redemption.ListByUser(ctx, "user-1", pagination.Pagination{Limit: 2})
	require.NoError(t, err)
	require.Len(t, first, 2)
	require.True(t, info.HasMore)

	second, info, err := f.redemption.ListByUser(ctx, "user-1", pagination.Pagination{Limit: 2, Cursor: info.NextCursor})
	require.NoError(t, err)
	require.Len(t, second, 1)
	require.False(t, info.HasMore)
}

func TestExpireSweepCancelsStalePending(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seed(t, "user-1", 1000)

	row, err := f.redemption.Create(ctx, CreateParams{UserID: "user-1", ProductID: "product-1", Quantity: 1})
	require.NoError(t, err)

	stale := time.Now().Add(-100 * time.Hour)
	err = f.redemption.db.Model(&Redemption{}).Where("id = ?", row.ID).
		Update("created_at", stale).Error
	require.NoError(t, err)

	require.NoError(t, f.redemption.HandleExpirePending(ctx, nil))

	got, err := f.redemption.Get(ctx, row.ID)
	require.NoError(t, err)
	require.Equal(t, StatusCancelled, got.Status)

	acct, err := f.accounts.GetAccount(ctx, "user-1")
	require.NoError(t, err)
	require.Equal(t, int64(1000), acct.CurrentBalance)
	require.Equal(t, int64(0), acct.PendingPoints)

	item, err := f.inventory.GetItem(ctx, "product-1")
	require.NoError(t, err)
	require.Equal(t, int64(5), item.QuantityAvailable)
}

func TestExpireLeavesFreshPendingAlone(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seed(t, "user-1", 1000)

	row, err := f.redemption.Create(ctx, CreateParams{UserID: "user-1", ProductID: "product-1", Quantity: 1})
	require.NoError(t, err)

	require.NoError(t, f.redemption.HandleExpirePending(ctx, nil))

	got, err := f.redemption.Get(ctx, row.ID)
	require.NoError(t, err)
	require.Equal(t, StatusPending, got.Status)
}

func TestExpireSkipsDecidedRow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seed(t, "user-1", 1000)

	row, err := f.redemption.Create(ctx, CreateParams{UserID: "user-1", ProductID: "product-1", Quantity: 1})
	require.NoError(t, err)

	_, err = f.redemption.Approve(ctx, row.ID, "admin-1")
	require.NoError(t, err)

	require.NoError(t, f.redemption.Expire(ctx, row.ID))

	got, err := f.redemption.Get(ctx, row.ID)
	require.NoError(t, err)
	require.Equal(t, StatusApproved, got.Status)
}
