package handlers

import (
	"context"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sol1corejz/affiliate-ledger/internal/apperrors"
	"github.com/sol1corejz/affiliate-ledger/internal/auth"
	"github.com/sol1corejz/affiliate-ledger/internal/models"
	"github.com/sol1corejz/affiliate-ledger/internal/withdrawal"
)

var withdrawalActions = map[string]func() action{
	"request":    func() action { return &withdrawRequest{} },
	"history":    func() action { return &historyRequest{} },
	"admin_list": func() action { return &adminListRequest{} },
	"approve":    func() action { return &approveRequest{} },
	"reject":     func() action { return &rejectRequest{} },
}

// WithdrawalActionsHandler serves POST /api/withdrawals/actions.
func (h *Handler) WithdrawalActionsHandler(c *fiber.Ctx) error {
	return h.dispatch(c, withdrawalActions)
}

type withdrawRequest struct {
	Amount decimal.Decimal `json:"amount"`
}

func (r *withdrawRequest) Validate() error {
	return withdrawal.ValidateAmount(r.Amount)
}

func (r *withdrawRequest) run(ctx context.Context, h *Handler, caller auth.Identity) (fiber.Map, error) {
	res, err := h.workflow.Request(ctx, caller, r.Amount)
	if err != nil {
		return nil, err
	}
	if res.NeedsPayoutSetup {
		return fiber.Map{
			"success":            false,
			"needs_payout_setup": true,
			"error":              "Configure a PIX key or payout account before requesting a withdrawal",
			"code":               "payout_destination_missing",
			"available_balance":  res.AvailableBalance,
		}, nil
	}
	return fiber.Map{
		"withdrawal":        res.Withdrawal,
		"available_balance": res.AvailableBalance,
	}, nil
}

type historyRequest struct{}

func (r *historyRequest) Validate() error { return nil }

func (r *historyRequest) run(ctx context.Context, h *Handler, caller auth.Identity) (fiber.Map, error) {
	view, err := h.workflow.History(ctx, caller)
	if err != nil {
		return nil, err
	}
	return fiber.Map{
		"withdrawals":            view.Withdrawals,
		"available_balance":      view.AvailableBalance,
		"withdrawn_balance":      view.WithdrawnBalance,
		"pix_key":                view.PixKey,
		"payout_account_id":      view.PayoutAccountID,
		"has_payout_destination": view.HasPayoutDestination,
	}, nil
}

type adminListRequest struct {
	Status string `json:"status"`
}

func (r *adminListRequest) authorize(caller auth.Identity) error { return requireAdmin(caller) }

func (r *adminListRequest) Validate() error {
	r.Status = strings.TrimSpace(r.Status)
	switch r.Status {
	case "", models.WithdrawalPending, models.WithdrawalCompleted, models.WithdrawalRejected:
		return nil
	}
	return apperrors.Invalid("status must be pending, completed or rejected")
}

func (r *adminListRequest) run(ctx context.Context, h *Handler, caller auth.Identity) (fiber.Map, error) {
	view, err := h.workflow.AdminList(ctx, caller, r.Status)
	if err != nil {
		return nil, err
	}
	return fiber.Map{
		"withdrawals": view.Withdrawals,
		"stats":       view.Stats,
	}, nil
}

type approveRequest struct {
	WithdrawalID      string `json:"withdrawal_id"`
	UseExternalPayout bool   `json:"use_external_payout"`

	id uuid.UUID
}

func (r *approveRequest) authorize(caller auth.Identity) error { return requireOwner(caller) }

func (r *approveRequest) Validate() error {
	id, err := parseWithdrawalID(r.WithdrawalID)
	r.id = id
	return err
}

func (r *approveRequest) run(ctx context.Context, h *Handler, caller auth.Identity) (fiber.Map, error) {
	w, err := h.workflow.Approve(ctx, caller, r.id, r.UseExternalPayout)
	if err != nil {
		return nil, err
	}
	return fiber.Map{"withdrawal": w}, nil
}

type rejectRequest struct {
	WithdrawalID string `json:"withdrawal_id"`
	Reason       string `json:"reason"`

	id uuid.UUID
}

func (r *rejectRequest) authorize(caller auth.Identity) error { return requireOwner(caller) }

func (r *rejectRequest) Validate() error {
	id, err := parseWithdrawalID(r.WithdrawalID)
	r.id = id
	return err
}

func (r *rejectRequest) run(ctx context.Context, h *Handler, caller auth.Identity) (fiber.Map, error) {
	w, err := h.workflow.Reject(ctx, caller, r.id, r.Reason)
	if err != nil {
		return nil, err
	}
	return fiber.Map{"withdrawal": w}, nil
}

func parseWithdrawalID(raw string) (uuid.UUID, error) {
	id, err := uuid.Parse(strings.TrimSpace(raw))
	if err != nil {
		return uuid.Nil, apperrors.Invalid("withdrawal_id must be a valid id")
	}
	return id, nil
}
