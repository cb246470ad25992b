package points

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sol1corejz/affiliate-ledger/internal/apperrors"
	"github.com/sol1corejz/affiliate-ledger/internal/auth"
	"github.com/sol1corejz/affiliate-ledger/internal/logger"
	"github.com/sol1corejz/affiliate-ledger/internal/models"
	"github.com/sol1corejz/affiliate-ledger/internal/notify"
	"go.uber.org/zap"
)

const recentTransactions = 10

const (
	ReasonInsufficientPoints = "insufficient_points"
	ReasonInsufficientTier   = "insufficient_tier"
	ReasonOutOfStock         = "out_of_stock"
)

// Store is the slice of the ledger store the engine needs.
//
// RedeemReward and ApplyPoints are single units: the balance row is
// updated first and the transaction row appended after it, with
// BalanceAfter filled from the updated balance.
type Store interface {
	GetPointsAccount(ctx context.Context, userID uuid.UUID) (models.PointsAccount, error)
	CreatePointsAccount(ctx context.Context, userID uuid.UUID) error
	ListPointsAccounts(ctx context.Context) ([]models.PointsAccount, error)
	ListPointTransactions(ctx context.Context, userID uuid.UUID, limit int) ([]models.PointTransaction, error)
	ListBadges(ctx context.Context, userID uuid.UUID) ([]models.Badge, error)
	ListActiveRewards(ctx context.Context) ([]models.Reward, error)
	GetReward(ctx context.Context, rewardID uuid.UUID) (models.Reward, error)
	RedeemReward(ctx context.Context, redemption *models.RewardRedemption, tx *models.PointTransaction) (models.PointsAccount, error)
	ApplyPoints(ctx context.Context, tx *models.PointTransaction) (models.PointsAccount, error)
	AppendAudit(ctx context.Context, entry models.AuditEntry) error
}

type Engine struct {
	store Store
	sink  notify.Sink
	now   func() time.Time
}

func NewEngine(store Store, sink notify.Sink) *Engine {
	return &Engine{store: store, sink: sink, now: func() time.Time { return time.Now().UTC() }}
}

type BalanceView struct {
	Account      models.PointsAccount      `json:"account"`
	Tier         Tier                      `json:"tier"`
	Range        Range                     `json:"range"`
	Transactions []models.PointTransaction `json:"transactions"`
	Badges       []models.Badge            `json:"badges"`
}

type RewardView struct {
	models.Reward
	CanRedeem bool   `json:"can_redeem"`
	Reason    string `json:"reason,omitempty"`
}

type RewardsView struct {
	Balance int64        `json:"balance"`
	Tier    Tier         `json:"tier"`
	Range   Range        `json:"range"`
	Rewards []RewardView `json:"rewards"`
}

type AwardResult struct {
	Account     models.PointsAccount    `json:"account"`
	Transaction models.PointTransaction `json:"transaction"`
	Tier        Tier                    `json:"tier"`
	Range       Range                   `json:"range"`
	NewRange    *Range                  `json:"new_range,omitempty"`
}

type RedeemResult struct {
	Redemption  models.RewardRedemption `json:"redemption"`
	Transaction models.PointTransaction `json:"transaction"`
	NewBalance  int64                   `json:"new_balance"`
}

// Drift describes an account whose stored balance disagrees with its
// transaction log.
type Drift struct {
	UserID          uuid.UUID `json:"user_id"`
	CurrentBalance  int64     `json:"current_balance"`
	ReplayedBalance int64     `json:"replayed_balance"`
	LastSnapshot    int64     `json:"last_snapshot"`
}

func (e *Engine) GetBalance(ctx context.Context, userID uuid.UUID) (BalanceView, error) {
	account, err := e.ensureAccount(ctx, userID)
	if err != nil {
		return BalanceView{}, err
	}

	txs, err := e.store.ListPointTransactions(ctx, userID, recentTransactions)
	if err != nil {
		return BalanceView{}, apperrors.Internal(fmt.Errorf("list transactions: %w", err))
	}

	badges, err := e.store.ListBadges(ctx, userID)
	if err != nil {
		return BalanceView{}, apperrors.Internal(fmt.Errorf("list badges: %w", err))
	}

	return BalanceView{
		Account:      account,
		Tier:         TierFor(account.TotalEarned),
		Range:        RangeFor(account.CurrentBalance),
		Transactions: txs,
		Badges:       badges,
	}, nil
}

func (e *Engine) GetRewards(ctx context.Context, userID uuid.UUID) (RewardsView, error) {
	account, err := e.ensureAccount(ctx, userID)
	if err != nil {
		return RewardsView{}, err
	}

	rewards, err := e.store.ListActiveRewards(ctx)
	if err != nil {
		return RewardsView{}, apperrors.Internal(fmt.Errorf("list rewards: %w", err))
	}

	tier := TierFor(account.TotalEarned)
	views := make([]RewardView, 0, len(rewards))
	for _, r := range rewards {
		reason := redeemBlocker(account, tier, r)
		views = append(views, RewardView{Reward: r, CanRedeem: reason == "", Reason: reason})
	}

	return RewardsView{
		Balance: account.CurrentBalance,
		Tier:    tier,
		Range:   RangeFor(account.CurrentBalance),
		Rewards: views,
	}, nil
}

func (e *Engine) RedeemReward(ctx context.Context, userID, rewardID uuid.UUID, payoutMethod string, payoutDetails map[string]interface{}) (RedeemResult, error) {
	reward, err := e.store.GetReward(ctx, rewardID)
	if errors.Is(err, apperrors.ErrNotFound) || (err == nil && !reward.Active) {
		return RedeemResult{}, apperrors.New(apperrors.NotFound, "reward_not_found", "Reward not found")
	}
	if err != nil {
		return RedeemResult{}, apperrors.Internal(fmt.Errorf("get reward: %w", err))
	}

	account, err := e.ensureAccount(ctx, userID)
	if err != nil {
		return RedeemResult{}, err
	}

	switch redeemBlocker(account, TierFor(account.TotalEarned), reward) {
	case ReasonInsufficientPoints:
		return RedeemResult{}, insufficientPoints()
	case ReasonOutOfStock:
		return RedeemResult{}, outOfStock()
	case ReasonInsufficientTier:
		return RedeemResult{}, apperrors.New(apperrors.Conflict, ReasonInsufficientTier, "Your tier does not allow this reward")
	}

	now := e.now()
	redemption := &models.RewardRedemption{
		ID:            uuid.New(),
		UserID:        userID,
		RewardID:      reward.ID,
		PointsSpent:   reward.PointsRequired,
		PayoutMethod:  payoutMethod,
		PayoutDetails: payoutDetails,
		Status:        "pending",
		CreatedAt:     now,
	}
	tx := &models.PointTransaction{
		ID:          uuid.New(),
		UserID:      userID,
		Type:        models.TxRedeem,
		Amount:      -reward.PointsRequired,
		Description: "Resgate: " + reward.Name,
		Metadata: map[string]interface{}{
			"reward_id":     reward.ID.String(),
			"redemption_id": redemption.ID.String(),
		},
		CreatedAt: now,
	}

	// The store re-checks balance and stock, so a concurrent redemption
	// that slipped past the checks above still fails here.
	updated, err := e.store.RedeemReward(ctx, redemption, tx)
	switch {
	case errors.Is(err, apperrors.ErrInsufficientPoints):
		return RedeemResult{}, insufficientPoints()
	case errors.Is(err, apperrors.ErrOutOfStock):
		return RedeemResult{}, outOfStock()
	case err != nil:
		return RedeemResult{}, apperrors.Internal(fmt.Errorf("redeem reward: %w", err))
	}

	logger.Log.Info("Reward redeemed",
		zap.String("userID", userID.String()),
		zap.String("rewardID", reward.ID.String()),
		zap.Int64("points", reward.PointsRequired))

	notify.Send(ctx, e.sink, models.Notification{
		UserID:    userID,
		Type:      notify.TypeRewardRedeemed,
		Title:     "Resgate realizado",
		Message:   fmt.Sprintf("Você resgatou %s por %d pontos.", reward.Name, reward.PointsRequired),
		ActionURL: "/rewards",
		Metadata: map[string]interface{}{
			"reward_id":     reward.ID.String(),
			"redemption_id": redemption.ID.String(),
		},
	})

	return RedeemResult{Redemption: *redemption, Transaction: *tx, NewBalance: updated.CurrentBalance}, nil
}

// AdminAwardPoints moves a target's balance by amount. Positive amounts
// also count towards lifetime earnings; negative amounts only lower the
// balance and leave TotalSpent untouched.
func (e *Engine) AdminAwardPoints(ctx context.Context, actor auth.Identity, targetID uuid.UUID, amount int64, txType, description string) (AwardResult, error) {
	if !actor.IsAdmin() {
		return AwardResult{}, apperrors.Forbid("Admin access required")
	}
	if amount == 0 {
		return AwardResult{}, apperrors.Invalid("Amount must not be zero")
	}
	if txType == "" {
		txType = models.TxBonus
	}
	if txType != models.TxBonus && txType != models.TxAdjustment {
		return AwardResult{}, apperrors.Invalid("Type must be bonus or adjustment")
	}
	description = strings.TrimSpace(description)
	if description == "" {
		description = "Pontos concedidos pela administração"
	}

	if _, err := e.ensureAccount(ctx, targetID); err != nil {
		return AwardResult{}, err
	}

	tx := &models.PointTransaction{
		ID:          uuid.New(),
		UserID:      targetID,
		Type:        txType,
		Amount:      amount,
		Description: description,
		Metadata:    map[string]interface{}{"awarded_by": actor.UserID.String()},
		CreatedAt:   e.now(),
	}

	updated, err := e.store.ApplyPoints(ctx, tx)
	if errors.Is(err, apperrors.ErrInsufficientPoints) {
		return AwardResult{}, insufficientPoints()
	}
	if err != nil {
		return AwardResult{}, apperrors.Internal(fmt.Errorf("apply points: %w", err))
	}

	oldBalance := updated.CurrentBalance - amount
	e.audit(ctx, models.AuditEntry{
		Action:      "points_awarded",
		ActorID:     actor.UserID,
		TargetTable: "points",
		TargetID:    targetID,
		Details: map[string]interface{}{
			"amount":         amount,
			"type":           txType,
			"balance_before": oldBalance,
			"balance_after":  updated.CurrentBalance,
			"transaction_id": tx.ID.String(),
		},
	})

	result := AwardResult{
		Account:     updated,
		Transaction: *tx,
		Tier:        TierFor(updated.TotalEarned),
		Range:       RangeFor(updated.CurrentBalance),
	}

	if newRange, changed := CheckRangeUpgrade(oldBalance, updated.CurrentBalance); changed {
		result.NewRange = &newRange
		notify.Send(ctx, e.sink, models.Notification{
			UserID:    targetID,
			Type:      notify.TypeRangeUnlocked,
			Title:     "Nova faixa desbloqueada",
			Message:   fmt.Sprintf("Você agora está na faixa %s.", newRange.Label),
			ActionURL: "/rewards",
			Metadata:  map[string]interface{}{"range": newRange.Label, "balance": updated.CurrentBalance},
		})
	}

	logger.Log.Info("Points awarded",
		zap.String("actor", actor.UserID.String()),
		zap.String("target", targetID.String()),
		zap.Int64("amount", amount),
		zap.String("type", txType))

	return result, nil
}

// Reconcile replays every account's transaction log and returns the
// accounts that disagree with it.
func (e *Engine) Reconcile(ctx context.Context) ([]Drift, error) {
	accounts, err := e.store.ListPointsAccounts(ctx)
	if err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}

	var drifts []Drift
	for _, account := range accounts {
		txs, err := e.store.ListPointTransactions(ctx, account.UserID, 0)
		if err != nil {
			return drifts, fmt.Errorf("list transactions for %s: %w", account.UserID, err)
		}

		var replayed, snapshot int64
		for _, tx := range txs {
			replayed += tx.Amount
		}
		if len(txs) > 0 {
			snapshot = txs[0].BalanceAfter
		}

		if replayed != account.CurrentBalance || snapshot != account.CurrentBalance {
			drifts = append(drifts, Drift{
				UserID:          account.UserID,
				CurrentBalance:  account.CurrentBalance,
				ReplayedBalance: replayed,
				LastSnapshot:    snapshot,
			})
		}
	}
	return drifts, nil
}

// ensureAccount reads the account, creating a zero-balance one on first
// use. A creation conflict means another request won the race.
func (e *Engine) ensureAccount(ctx context.Context, userID uuid.UUID) (models.PointsAccount, error) {
	account, err := e.store.GetPointsAccount(ctx, userID)
	if err == nil {
		return account, nil
	}
	if !errors.Is(err, apperrors.ErrNotFound) {
		return models.PointsAccount{}, apperrors.Internal(fmt.Errorf("get points account: %w", err))
	}

	if err := e.store.CreatePointsAccount(ctx, userID); err != nil && !errors.Is(err, apperrors.ErrConflict) {
		return models.PointsAccount{}, apperrors.Internal(fmt.Errorf("create points account: %w", err))
	}

	account, err = e.store.GetPointsAccount(ctx, userID)
	if err != nil {
		return models.PointsAccount{}, apperrors.Internal(fmt.Errorf("re-read points account: %w", err))
	}
	return account, nil
}

func (e *Engine) audit(ctx context.Context, entry models.AuditEntry) {
	entry.ID = uuid.New()
	entry.CreatedAt = e.now()
	if err := e.store.AppendAudit(ctx, entry); err != nil {
		logger.Log.Error("Failed to append audit entry",
			zap.String("action", entry.Action),
			zap.String("targetID", entry.TargetID.String()),
			zap.Error(err))
	}
}

func redeemBlocker(account models.PointsAccount, tier Tier, reward models.Reward) string {
	if account.CurrentBalance < reward.PointsRequired {
		return ReasonInsufficientPoints
	}
	if reward.Stock != nil && *reward.Stock <= 0 {
		return ReasonOutOfStock
	}
	required, ok := ParseTier(reward.RequiredTier)
	if !ok || !tier.AtLeast(required) {
		return ReasonInsufficientTier
	}
	return ""
}

func insufficientPoints() *apperrors.Error {
	return apperrors.New(apperrors.Conflict, ReasonInsufficientPoints, "Insufficient points")
}

func outOfStock() *apperrors.Error {
	return apperrors.New(apperrors.Conflict, ReasonOutOfStock, "Reward out of stock")
}
