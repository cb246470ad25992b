package memory

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sol1corejz/affiliate-ledger/internal/apperrors"
	"github.com/sol1corejz/affiliate-ledger/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestApplyPoints_RefusesNegativeBalance(t *testing.T) {
	s := New()
	ctx := context.Background()
	userID := uuid.New()

	_, err := s.ApplyPoints(ctx, &models.PointTransaction{ID: uuid.New(), UserID: userID, Amount: 5})
	assert.ErrorIs(t, err, apperrors.ErrNotFound)

	require.NoError(t, s.CreatePointsAccount(ctx, userID))
	assert.ErrorIs(t, s.CreatePointsAccount(ctx, userID), apperrors.ErrConflict)

	acc, err := s.ApplyPoints(ctx, &models.PointTransaction{ID: uuid.New(), UserID: userID, Amount: 30})
	require.NoError(t, err)
	assert.Equal(t, int64(30), acc.CurrentBalance)

	_, err = s.ApplyPoints(ctx, &models.PointTransaction{ID: uuid.New(), UserID: userID, Amount: -31})
	assert.ErrorIs(t, err, apperrors.ErrInsufficientPoints)

	txs, err := s.ListPointTransactions(ctx, userID, 0)
	require.NoError(t, err)
	assert.Len(t, txs, 1)
}

func TestListPointTransactions_NewestFirstWithLimit(t *testing.T) {
	s := New()
	ctx := context.Background()
	userID := uuid.New()
	require.NoError(t, s.CreatePointsAccount(ctx, userID))

	for i := int64(1); i <= 3; i++ {
		_, err := s.ApplyPoints(ctx, &models.PointTransaction{ID: uuid.New(), UserID: userID, Amount: i})
		require.NoError(t, err)
	}

	txs, err := s.ListPointTransactions(ctx, userID, 2)
	require.NoError(t, err)
	require.Len(t, txs, 2)
	assert.Equal(t, int64(3), txs[0].Amount)
	assert.Equal(t, int64(6), txs[0].BalanceAfter)
	assert.Equal(t, int64(2), txs[1].Amount)
}

func TestSettleWithdrawal_Errors(t *testing.T) {
	s := New()
	ctx := context.Background()
	a := models.Affiliate{ID: uuid.New(), UserID: uuid.New(), AvailableBalance: decimal.NewFromInt(100)}
	s.PutAffiliate(a)

	_, err := s.CompleteWithdrawal(ctx, uuid.New(), uuid.New(), nil, time.Now())
	assert.ErrorIs(t, err, apperrors.ErrNotFound)

	w := &models.Withdrawal{ID: uuid.New(), AffiliateID: a.ID, Amount: decimal.NewFromInt(40), Status: models.WithdrawalPending}
	_, err = s.CreateWithdrawal(ctx, w)
	require.NoError(t, err)

	second := &models.Withdrawal{ID: uuid.New(), AffiliateID: a.ID, Amount: decimal.NewFromInt(10), Status: models.WithdrawalPending}
	_, err = s.CreateWithdrawal(ctx, second)
	assert.ErrorIs(t, err, apperrors.ErrDuplicatePending)

	_, err = s.RejectWithdrawal(ctx, w.ID, uuid.New(), nil, time.Now())
	require.NoError(t, err)
	_, err = s.CompleteWithdrawal(ctx, w.ID, uuid.New(), nil, time.Now())
	assert.ErrorIs(t, err, apperrors.ErrAlreadyProcessed)

	got, err := s.GetAffiliate(ctx, a.ID)
	require.NoError(t, err)
	assert.True(t, got.AvailableBalance.Equal(decimal.NewFromInt(100)))

	big := &models.Withdrawal{ID: uuid.New(), AffiliateID: a.ID, Amount: decimal.NewFromInt(101), Status: models.WithdrawalPending}
	_, err = s.CreateWithdrawal(ctx, big)
	assert.ErrorIs(t, err, apperrors.ErrInsufficientBalance)
}
