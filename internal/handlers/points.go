package handlers

import (
	"context"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/sol1corejz/affiliate-ledger/internal/apperrors"
	"github.com/sol1corejz/affiliate-ledger/internal/auth"
	"github.com/sol1corejz/affiliate-ledger/internal/models"
	"github.com/sol1corejz/affiliate-ledger/internal/points"
)

var pointsActions = map[string]func() action{
	"get_balance":         func() action { return &getBalanceRequest{} },
	"get_rewards":         func() action { return &getRewardsRequest{} },
	"redeem_reward":       func() action { return &redeemRewardRequest{} },
	"check_range_upgrade": func() action { return &checkRangeUpgradeRequest{} },
	"admin_award_points":  func() action { return &adminAwardPointsRequest{} },
}

// PointsActionsHandler serves POST /api/points/actions.
func (h *Handler) PointsActionsHandler(c *fiber.Ctx) error {
	return h.dispatch(c, pointsActions)
}

type getBalanceRequest struct{}

func (r *getBalanceRequest) Validate() error { return nil }

func (r *getBalanceRequest) run(ctx context.Context, h *Handler, caller auth.Identity) (fiber.Map, error) {
	view, err := h.engine.GetBalance(ctx, caller.UserID)
	if err != nil {
		return nil, err
	}
	return fiber.Map{
		"points":       view.Account,
		"tier":         view.Tier,
		"range":        view.Range,
		"transactions": view.Transactions,
		"badges":       view.Badges,
	}, nil
}

type getRewardsRequest struct{}

func (r *getRewardsRequest) Validate() error { return nil }

func (r *getRewardsRequest) run(ctx context.Context, h *Handler, caller auth.Identity) (fiber.Map, error) {
	view, err := h.engine.GetRewards(ctx, caller.UserID)
	if err != nil {
		return nil, err
	}
	return fiber.Map{
		"balance": view.Balance,
		"tier":    view.Tier,
		"range":   view.Range,
		"rewards": view.Rewards,
	}, nil
}

type redeemRewardRequest struct {
	RewardID      string                 `json:"reward_id"`
	PayoutMethod  string                 `json:"payout_method"`
	PayoutDetails map[string]interface{} `json:"payout_details"`

	rewardID uuid.UUID
}

func (r *redeemRewardRequest) Validate() error {
	id, err := uuid.Parse(strings.TrimSpace(r.RewardID))
	if err != nil {
		return apperrors.Invalid("reward_id must be a valid id")
	}
	r.rewardID = id
	return nil
}

func (r *redeemRewardRequest) run(ctx context.Context, h *Handler, caller auth.Identity) (fiber.Map, error) {
	res, err := h.engine.RedeemReward(ctx, caller.UserID, r.rewardID, strings.TrimSpace(r.PayoutMethod), r.PayoutDetails)
	if err != nil {
		return nil, err
	}
	return fiber.Map{
		"redemption":  res.Redemption,
		"transaction": res.Transaction,
		"new_balance": res.NewBalance,
	}, nil
}

type checkRangeUpgradeRequest struct {
	OldBalance *int64 `json:"old_balance"`
	NewBalance *int64 `json:"new_balance"`
}

func (r *checkRangeUpgradeRequest) Validate() error {
	if r.OldBalance == nil || r.NewBalance == nil {
		return apperrors.Invalid("old_balance and new_balance are required")
	}
	return nil
}

func (r *checkRangeUpgradeRequest) run(_ context.Context, _ *Handler, _ auth.Identity) (fiber.Map, error) {
	newRange, changed := points.CheckRangeUpgrade(*r.OldBalance, *r.NewBalance)
	body := fiber.Map{"upgraded": changed}
	if changed {
		body["new_range"] = newRange
	}
	return body, nil
}

type adminAwardPointsRequest struct {
	TargetUserID string `json:"target_user_id"`
	Amount       int64  `json:"amount"`
	Type         string `json:"type"`
	Description  string `json:"description"`

	targetID uuid.UUID
}

func (r *adminAwardPointsRequest) authorize(caller auth.Identity) error { return requireAdmin(caller) }

func (r *adminAwardPointsRequest) Validate() error {
	id, err := uuid.Parse(strings.TrimSpace(r.TargetUserID))
	if err != nil {
		return apperrors.Invalid("target_user_id must be a valid id")
	}
	if r.Amount == 0 {
		return apperrors.Invalid("Amount must not be zero")
	}
	if r.Type != "" && r.Type != models.TxBonus && r.Type != models.TxAdjustment {
		return apperrors.Invalid("Type must be bonus or adjustment")
	}
	r.targetID = id
	return nil
}

func (r *adminAwardPointsRequest) run(ctx context.Context, h *Handler, caller auth.Identity) (fiber.Map, error) {
	res, err := h.engine.AdminAwardPoints(ctx, caller, r.targetID, r.Amount, r.Type, r.Description)
	if err != nil {
		return nil, err
	}
	body := fiber.Map{
		"points":      res.Account,
		"transaction": res.Transaction,
		"tier":        res.Tier,
		"range":       res.Range,
	}
	if res.NewRange != nil {
		body["new_range"] = res.NewRange
	}
	return body, nil
}
