package points_test

import (
	"context"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/sol1corejz/affiliate-ledger/internal/apperrors"
	"github.com/sol1corejz/affiliate-ledger/internal/auth"
	"github.com/sol1corejz/affiliate-ledger/internal/models"
	"github.com/sol1corejz/affiliate-ledger/internal/notify"
	"github.com/sol1corejz/affiliate-ledger/internal/points"
	"github.com/sol1corejz/affiliate-ledger/internal/storage/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var admin = auth.Identity{UserID: uuid.New(), Roles: []auth.Role{auth.RoleAdmin}}

func newEngine() (*points.Engine, *memory.Store) {
	store := memory.New()
	return points.NewEngine(store, notify.NewStoreSink(store)), store
}

func requireCode(t *testing.T, err error, kind apperrors.Kind, code string) {
	t.Helper()
	require.Error(t, err)
	appErr := apperrors.As(err)
	assert.Equal(t, kind, appErr.Kind)
	assert.Equal(t, code, appErr.Code)
}

func award(t *testing.T, e *points.Engine, userID uuid.UUID, amount int64, txType string) points.AwardResult {
	t.Helper()
	res, err := e.AdminAwardPoints(context.Background(), admin, userID, amount, txType, "")
	require.NoError(t, err)
	return res
}

func TestGetBalance_FreshAccount(t *testing.T) {
	e, store := newEngine()
	userID := uuid.New()

	view, err := e.GetBalance(context.Background(), userID)
	require.NoError(t, err)

	assert.Equal(t, int64(0), view.Account.CurrentBalance)
	assert.Equal(t, "Iniciante", view.Range.Label)
	assert.Equal(t, points.TierBronze, view.Tier)
	assert.Empty(t, view.Transactions)

	accounts, err := store.ListPointsAccounts(context.Background())
	require.NoError(t, err)
	assert.Len(t, accounts, 1)
}

func TestGetBalance_ConcurrentFirstUseCreatesOneAccount(t *testing.T) {
	e, store := newEngine()
	userID := uuid.New()

	var wg sync.WaitGroup
	errs := make(chan error, 20)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := e.GetBalance(context.Background(), userID)
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		assert.NoError(t, err)
	}
	accounts, err := store.ListPointsAccounts(context.Background())
	require.NoError(t, err)
	assert.Len(t, accounts, 1)
}

func TestGetBalance_ReturnsTenNewestTransactions(t *testing.T) {
	e, _ := newEngine()
	userID := uuid.New()
	for i := 1; i <= 12; i++ {
		award(t, e, userID, int64(i), models.TxBonus)
	}

	view, err := e.GetBalance(context.Background(), userID)
	require.NoError(t, err)
	require.Len(t, view.Transactions, 10)
	assert.Equal(t, int64(12), view.Transactions[0].Amount)
	assert.Equal(t, int64(78), view.Transactions[0].BalanceAfter)
}

func TestAdminAwardPoints_RangeChangeWithoutTierChange(t *testing.T) {
	e, store := newEngine()
	userID := uuid.New()

	res := award(t, e, userID, 150, "")

	assert.Equal(t, int64(150), res.Account.TotalEarned)
	assert.Equal(t, int64(150), res.Account.CurrentBalance)
	assert.Equal(t, "Avançado", res.Range.Label)
	assert.Equal(t, points.TierBronze, res.Tier)
	require.NotNil(t, res.NewRange)
	assert.Equal(t, "Avançado", res.NewRange.Label)
	assert.Equal(t, models.TxBonus, res.Transaction.Type)
	assert.Equal(t, int64(150), res.Transaction.BalanceAfter)

	notifications := store.Notifications()
	require.Len(t, notifications, 1)
	assert.Equal(t, notify.TypeRangeUnlocked, notifications[0].Type)
	assert.Equal(t, userID, notifications[0].UserID)

	entries := store.AuditEntries()
	require.Len(t, entries, 1)
	assert.Equal(t, "points_awarded", entries[0].Action)
	assert.Equal(t, admin.UserID, entries[0].ActorID)
}

func TestAdminAwardPoints_SameRangeSendsNoNotification(t *testing.T) {
	e, store := newEngine()
	userID := uuid.New()

	res := award(t, e, userID, 50, models.TxBonus)
	assert.Nil(t, res.NewRange)
	assert.Empty(t, store.Notifications())
}

func TestAdminAwardPoints_NegativeAdjustment(t *testing.T) {
	e, _ := newEngine()
	userID := uuid.New()
	award(t, e, userID, 400, models.TxBonus)

	res := award(t, e, userID, -150, models.TxAdjustment)
	assert.Equal(t, int64(250), res.Account.CurrentBalance)
	assert.Equal(t, int64(400), res.Account.TotalEarned)
	assert.Equal(t, int64(0), res.Account.TotalSpent)

	_, err := e.AdminAwardPoints(context.Background(), admin, userID, -251, models.TxAdjustment, "")
	requireCode(t, err, apperrors.Conflict, points.ReasonInsufficientPoints)
}

func TestAdminAwardPoints_Validation(t *testing.T) {
	e, _ := newEngine()
	userID := uuid.New()

	_, err := e.AdminAwardPoints(context.Background(), auth.Identity{UserID: uuid.New()}, userID, 10, "", "")
	assert.Equal(t, apperrors.Forbidden, apperrors.KindOf(err))

	_, err = e.AdminAwardPoints(context.Background(), admin, userID, 0, "", "")
	assert.Equal(t, apperrors.Validation, apperrors.KindOf(err))

	_, err = e.AdminAwardPoints(context.Background(), admin, userID, 10, models.TxRedeem, "")
	assert.Equal(t, apperrors.Validation, apperrors.KindOf(err))

	owner := auth.Identity{UserID: uuid.New(), Roles: []auth.Role{auth.RoleOwner}}
	_, err = e.AdminAwardPoints(context.Background(), owner, userID, 10, "", "")
	assert.NoError(t, err)
}

func newReward(cost int64, tier string, stock *int) models.Reward {
	return models.Reward{
		ID:             uuid.New(),
		Name:           "Camiseta",
		PointsRequired: cost,
		RequiredTier:   tier,
		Stock:          stock,
		Active:         true,
	}
}

func intPtr(v int) *int { return &v }

func TestRedeemReward_ExactBalance(t *testing.T) {
	e, store := newEngine()
	userID := uuid.New()
	award(t, e, userID, 100, models.TxBonus)

	reward := newReward(100, "bronze", intPtr(3))
	store.PutReward(reward)

	res, err := e.RedeemReward(context.Background(), userID, reward.ID, "pix", map[string]interface{}{"pix_key": "a@b.c"})
	require.NoError(t, err)

	assert.Equal(t, int64(0), res.NewBalance)
	assert.Equal(t, int64(-100), res.Transaction.Amount)
	assert.Equal(t, models.TxRedeem, res.Transaction.Type)
	assert.Equal(t, int64(0), res.Transaction.BalanceAfter)
	assert.Len(t, store.Redemptions(), 1)

	stored, err := store.GetReward(context.Background(), reward.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, *stored.Stock)

	acc, err := store.GetPointsAccount(context.Background(), userID)
	require.NoError(t, err)
	assert.Equal(t, int64(100), acc.TotalSpent)
	assert.Equal(t, int64(100), acc.TotalEarned)
}

func TestRedeemReward_OnePointShort(t *testing.T) {
	e, store := newEngine()
	userID := uuid.New()
	award(t, e, userID, 100, models.TxBonus)

	reward := newReward(101, "bronze", nil)
	store.PutReward(reward)

	_, err := e.RedeemReward(context.Background(), userID, reward.ID, "", nil)
	requireCode(t, err, apperrors.Conflict, points.ReasonInsufficientPoints)
	assert.Empty(t, store.Redemptions())
}

func TestRedeemReward_ErrorOrder(t *testing.T) {
	e, store := newEngine()
	userID := uuid.New()
	award(t, e, userID, 200, models.TxBonus)

	inactive := newReward(10, "bronze", nil)
	inactive.Active = false
	store.PutReward(inactive)

	poorAndEmpty := newReward(500, "platinum", intPtr(0))
	store.PutReward(poorAndEmpty)

	emptyHighTier := newReward(50, "platinum", intPtr(0))
	store.PutReward(emptyHighTier)

	highTier := newReward(50, "gold", nil)
	store.PutReward(highTier)

	_, err := e.RedeemReward(context.Background(), userID, uuid.New(), "", nil)
	requireCode(t, err, apperrors.NotFound, "reward_not_found")

	_, err = e.RedeemReward(context.Background(), userID, inactive.ID, "", nil)
	requireCode(t, err, apperrors.NotFound, "reward_not_found")

	_, err = e.RedeemReward(context.Background(), userID, poorAndEmpty.ID, "", nil)
	requireCode(t, err, apperrors.Conflict, points.ReasonInsufficientPoints)

	_, err = e.RedeemReward(context.Background(), userID, emptyHighTier.ID, "", nil)
	requireCode(t, err, apperrors.Conflict, points.ReasonOutOfStock)

	_, err = e.RedeemReward(context.Background(), userID, highTier.ID, "", nil)
	requireCode(t, err, apperrors.Conflict, points.ReasonInsufficientTier)

	acc, err := store.GetPointsAccount(context.Background(), userID)
	require.NoError(t, err)
	assert.Equal(t, int64(200), acc.CurrentBalance)
}

func TestGetRewards_FlagsEachReward(t *testing.T) {
	e, store := newEngine()
	userID := uuid.New()
	award(t, e, userID, 120, models.TxBonus)

	store.PutReward(newReward(100, "bronze", nil))
	store.PutReward(newReward(110, "silver", nil))
	store.PutReward(newReward(300, "bronze", nil))

	view, err := e.GetRewards(context.Background(), userID)
	require.NoError(t, err)
	require.Len(t, view.Rewards, 3)
	assert.Equal(t, int64(120), view.Balance)

	assert.True(t, view.Rewards[0].CanRedeem)
	assert.False(t, view.Rewards[1].CanRedeem)
	assert.Equal(t, points.ReasonInsufficientTier, view.Rewards[1].Reason)
	assert.False(t, view.Rewards[2].CanRedeem)
	assert.Equal(t, points.ReasonInsufficientPoints, view.Rewards[2].Reason)
}

func TestReconcile(t *testing.T) {
	e, store := newEngine()
	clean := uuid.New()
	award(t, e, clean, 500, models.TxBonus)
	award(t, e, clean, -200, models.TxAdjustment)

	drifted := uuid.New()
	award(t, e, drifted, 300, models.TxBonus)
	store.SetPointsBalance(drifted, 999)

	drifts, err := e.Reconcile(context.Background())
	require.NoError(t, err)
	require.Len(t, drifts, 1)
	assert.Equal(t, drifted, drifts[0].UserID)
	assert.Equal(t, int64(999), drifts[0].CurrentBalance)
	assert.Equal(t, int64(300), drifts[0].ReplayedBalance)
	assert.Equal(t, int64(300), drifts[0].LastSnapshot)
}

func TestEarnedMinusSpent_HoldsModuloNegativeAdjustments(t *testing.T) {
	e, store := newEngine()
	userID := uuid.New()

	reward := newReward(120, "bronze", nil)
	store.PutReward(reward)

	award(t, e, userID, 300, models.TxBonus)
	_, err := e.RedeemReward(context.Background(), userID, reward.ID, "", nil)
	require.NoError(t, err)
	award(t, e, userID, 40, models.TxAdjustment)
	award(t, e, userID, -70, models.TxAdjustment)
	award(t, e, userID, 25, models.TxBonus)

	acc, err := store.GetPointsAccount(context.Background(), userID)
	require.NoError(t, err)

	var negativeAdjustments int64
	txs, err := store.ListPointTransactions(context.Background(), userID, 0)
	require.NoError(t, err)
	for _, tx := range txs {
		if tx.Type == models.TxAdjustment && tx.Amount < 0 {
			negativeAdjustments += tx.Amount
		}
	}

	assert.Equal(t, int64(175), acc.CurrentBalance)
	assert.Equal(t, acc.TotalEarned-acc.TotalSpent+negativeAdjustments, acc.CurrentBalance)

	drifts, err := e.Reconcile(context.Background())
	require.NoError(t, err)
	assert.Empty(t, drifts)
}
