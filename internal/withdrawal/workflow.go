package withdrawal

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sol1corejz/affiliate-ledger/internal/apperrors"
	"github.com/sol1corejz/affiliate-ledger/internal/auth"
	"github.com/sol1corejz/affiliate-ledger/internal/logger"
	"github.com/sol1corejz/affiliate-ledger/internal/models"
	"github.com/sol1corejz/affiliate-ledger/internal/notify"
	"github.com/sol1corejz/affiliate-ledger/internal/payout"
	"go.uber.org/zap"
)

// Store is the slice of the ledger store the workflow needs.
//
// CreateWithdrawal reserves the amount from the affiliate's available
// balance (conditional decrement) and then inserts the pending row; it
// fails with ErrInsufficientBalance or ErrDuplicatePending and leaves the
// balance untouched on failure. CompleteWithdrawal and RejectWithdrawal
// move a pending row to a terminal state and apply the matching balance
// change in the same unit, or fail with ErrAlreadyProcessed.
type Store interface {
	GetAffiliateByUserID(ctx context.Context, userID uuid.UUID) (models.Affiliate, error)
	GetAffiliate(ctx context.Context, affiliateID uuid.UUID) (models.Affiliate, error)
	FindPendingWithdrawal(ctx context.Context, affiliateID uuid.UUID) (models.Withdrawal, error)
	CreateWithdrawal(ctx context.Context, w *models.Withdrawal) (models.Affiliate, error)
	GetWithdrawal(ctx context.Context, id uuid.UUID) (models.Withdrawal, error)
	ListAffiliateWithdrawals(ctx context.Context, affiliateID uuid.UUID) ([]models.Withdrawal, error)
	ListWithdrawals(ctx context.Context, statuses []string) ([]models.WithdrawalView, error)
	WithdrawalStats(ctx context.Context) (models.WithdrawalStats, error)
	CompleteWithdrawal(ctx context.Context, id, approverID uuid.UUID, payoutProviderID *string, at time.Time) (models.Withdrawal, error)
	RejectWithdrawal(ctx context.Context, id, rejectorID uuid.UUID, reason *string, at time.Time) (models.Withdrawal, error)
	AppendAudit(ctx context.Context, entry models.AuditEntry) error
}

// Payouts issues money to a connected payout account.
type Payouts interface {
	CreatePayout(ctx context.Context, connectedAccountID string, amountMinor int64, currency, idempotencyKey string) (string, error)
}

type Config struct {
	MinWithdrawal decimal.Decimal
	Fee           FeePolicy
	Currency      string
}

type Workflow struct {
	store   Store
	payouts Payouts
	sink    notify.Sink
	cfg     Config
	now     func() time.Time
}

func NewWorkflow(store Store, payouts Payouts, sink notify.Sink, cfg Config) *Workflow {
	if cfg.Currency == "" {
		cfg.Currency = "brl"
	}
	return &Workflow{
		store:   store,
		payouts: payouts,
		sink:    sink,
		cfg:     cfg,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

type RequestResult struct {
	Withdrawal       *models.Withdrawal `json:"withdrawal,omitempty"`
	AvailableBalance decimal.Decimal    `json:"available_balance"`
	NeedsPayoutSetup bool               `json:"needs_payout_setup,omitempty"`
}

type HistoryView struct {
	Withdrawals          []models.Withdrawal `json:"withdrawals"`
	AvailableBalance     decimal.Decimal     `json:"available_balance"`
	WithdrawnBalance     decimal.Decimal     `json:"withdrawn_balance"`
	PixKey               *string             `json:"pix_key,omitempty"`
	PayoutAccountID      *string             `json:"payout_account_id,omitempty"`
	HasPayoutDestination bool                `json:"has_payout_destination"`
}

type AdminListView struct {
	Withdrawals []models.WithdrawalView `json:"withdrawals"`
	Stats       models.WithdrawalStats  `json:"stats"`
}

// Request creates a pending withdrawal and reserves its amount.
func (w *Workflow) Request(ctx context.Context, caller auth.Identity, amount decimal.Decimal) (RequestResult, error) {
	if err := ValidateAmount(amount); err != nil {
		return RequestResult{}, err
	}
	if amount.LessThan(w.cfg.MinWithdrawal) {
		return RequestResult{}, apperrors.Invalid(fmt.Sprintf("Minimum withdrawal is %s", w.cfg.MinWithdrawal.StringFixed(2)))
	}

	affiliate, err := w.callerAffiliate(ctx, caller)
	if err != nil {
		return RequestResult{}, err
	}
	if affiliate.Status != models.AffiliateApproved {
		return RequestResult{}, apperrors.New(apperrors.Forbidden, "not_approved", "Affiliate account is not approved")
	}
	if !affiliate.HasPayoutDestination() {
		return RequestResult{AvailableBalance: affiliate.AvailableBalance, NeedsPayoutSetup: true}, nil
	}
	if amount.GreaterThan(affiliate.AvailableBalance) {
		return RequestResult{}, insufficientBalance()
	}

	_, err = w.store.FindPendingWithdrawal(ctx, affiliate.ID)
	if err == nil {
		return RequestResult{}, duplicatePending()
	}
	if !errors.Is(err, apperrors.ErrNotFound) {
		return RequestResult{}, apperrors.Internal(fmt.Errorf("find pending withdrawal: %w", err))
	}

	fee := w.cfg.Fee.FeeFor(amount)
	if !fee.LessThan(amount) {
		return RequestResult{}, apperrors.Invalid("Amount does not cover the withdrawal fee")
	}

	method := models.PaymentMethodPix
	if affiliate.PixKey == nil || *affiliate.PixKey == "" {
		method = models.PaymentMethodPayoutAccount
	}

	wd := &models.Withdrawal{
		ID:            uuid.New(),
		AffiliateID:   affiliate.ID,
		Amount:        amount,
		Fee:           fee,
		NetAmount:     amount.Sub(fee),
		PaymentMethod: method,
		Status:        models.WithdrawalPending,
		RequestedAt:   w.now(),
	}

	updated, err := w.store.CreateWithdrawal(ctx, wd)
	switch {
	case errors.Is(err, apperrors.ErrInsufficientBalance):
		return RequestResult{}, insufficientBalance()
	case errors.Is(err, apperrors.ErrDuplicatePending):
		return RequestResult{}, duplicatePending()
	case err != nil:
		return RequestResult{}, apperrors.Internal(fmt.Errorf("create withdrawal: %w", err))
	}

	w.audit(ctx, models.AuditEntry{
		Action:      "withdrawal_requested",
		ActorID:     caller.UserID,
		TargetTable: "withdrawals",
		TargetID:    wd.ID,
		Details: map[string]interface{}{
			"affiliate_id":      affiliate.ID.String(),
			"amount":            wd.Amount.String(),
			"fee":               wd.Fee.String(),
			"net_amount":        wd.NetAmount.String(),
			"available_balance": updated.AvailableBalance.String(),
		},
	})

	logger.Log.Info("Withdrawal requested",
		zap.String("withdrawalID", wd.ID.String()),
		zap.String("affiliateID", affiliate.ID.String()),
		zap.String("amount", wd.Amount.String()))

	return RequestResult{Withdrawal: wd, AvailableBalance: updated.AvailableBalance}, nil
}

func (w *Workflow) History(ctx context.Context, caller auth.Identity) (HistoryView, error) {
	affiliate, err := w.callerAffiliate(ctx, caller)
	if err != nil {
		return HistoryView{}, err
	}

	withdrawals, err := w.store.ListAffiliateWithdrawals(ctx, affiliate.ID)
	if err != nil {
		return HistoryView{}, apperrors.Internal(fmt.Errorf("list withdrawals: %w", err))
	}
	if withdrawals == nil {
		withdrawals = []models.Withdrawal{}
	}

	return HistoryView{
		Withdrawals:          withdrawals,
		AvailableBalance:     affiliate.AvailableBalance,
		WithdrawnBalance:     affiliate.WithdrawnBalance,
		PixKey:               affiliate.PixKey,
		PayoutAccountID:      affiliate.PayoutAccountID,
		HasPayoutDestination: affiliate.HasPayoutDestination(),
	}, nil
}

func (w *Workflow) AdminList(ctx context.Context, actor auth.Identity, status string) (AdminListView, error) {
	if !actor.IsAdmin() {
		return AdminListView{}, apperrors.Forbid("Admin access required")
	}

	var statuses []string
	if status != "" {
		statuses = []string{status}
	}

	rows, err := w.store.ListWithdrawals(ctx, statuses)
	if err != nil {
		return AdminListView{}, apperrors.Internal(fmt.Errorf("list withdrawals: %w", err))
	}
	if rows == nil {
		rows = []models.WithdrawalView{}
	}

	stats, err := w.store.WithdrawalStats(ctx)
	if err != nil {
		return AdminListView{}, apperrors.Internal(fmt.Errorf("withdrawal stats: %w", err))
	}

	return AdminListView{Withdrawals: rows, Stats: stats}, nil
}

// Approve completes a pending withdrawal. With useExternalPayout and a
// connected payout account the provider is called first; a provider
// failure leaves the withdrawal pending.
func (w *Workflow) Approve(ctx context.Context, actor auth.Identity, withdrawalID uuid.UUID, useExternalPayout bool) (models.Withdrawal, error) {
	wd, affiliate, err := w.pendingForOwner(ctx, actor, withdrawalID)
	if err != nil {
		return models.Withdrawal{}, err
	}

	var payoutID *string
	if useExternalPayout && affiliate.HasPayoutAccount() {
		id, err := w.issuePayout(ctx, wd, *affiliate.PayoutAccountID)
		if err != nil {
			return models.Withdrawal{}, err
		}
		payoutID = &id
	}

	completed, err := w.store.CompleteWithdrawal(ctx, wd.ID, actor.UserID, payoutID, w.now())
	if errors.Is(err, apperrors.ErrAlreadyProcessed) {
		return models.Withdrawal{}, alreadyProcessed()
	}
	if err != nil {
		return models.Withdrawal{}, apperrors.Internal(fmt.Errorf("complete withdrawal: %w", err))
	}

	details := map[string]interface{}{
		"affiliate_id": affiliate.ID.String(),
		"amount":       completed.Amount.String(),
		"net_amount":   completed.NetAmount.String(),
	}
	if payoutID != nil {
		details["payout_provider_id"] = *payoutID
	}
	w.audit(ctx, models.AuditEntry{
		Action:      "withdrawal_approved",
		ActorID:     actor.UserID,
		TargetTable: "withdrawals",
		TargetID:    completed.ID,
		Details:     details,
	})

	notify.Send(ctx, w.sink, models.Notification{
		UserID:    affiliate.UserID,
		Type:      notify.TypeWithdrawalApproved,
		Title:     "Saque aprovado",
		Message:   fmt.Sprintf("Seu saque de R$ %s foi aprovado.", completed.NetAmount.StringFixed(2)),
		ActionURL: "/affiliate/withdrawals",
		Metadata:  map[string]interface{}{"withdrawal_id": completed.ID.String()},
	})

	logger.Log.Info("Withdrawal approved",
		zap.String("withdrawalID", completed.ID.String()),
		zap.String("approver", actor.UserID.String()),
		zap.Bool("externalPayout", payoutID != nil))

	return completed, nil
}

// Reject moves a pending withdrawal to rejected and releases its reservation.
func (w *Workflow) Reject(ctx context.Context, actor auth.Identity, withdrawalID uuid.UUID, reason string) (models.Withdrawal, error) {
	wd, affiliate, err := w.pendingForOwner(ctx, actor, withdrawalID)
	if err != nil {
		return models.Withdrawal{}, err
	}

	var reasonPtr *string
	if r := strings.TrimSpace(reason); r != "" {
		reasonPtr = &r
	}

	rejected, err := w.store.RejectWithdrawal(ctx, wd.ID, actor.UserID, reasonPtr, w.now())
	if errors.Is(err, apperrors.ErrAlreadyProcessed) {
		return models.Withdrawal{}, alreadyProcessed()
	}
	if err != nil {
		return models.Withdrawal{}, apperrors.Internal(fmt.Errorf("reject withdrawal: %w", err))
	}

	details := map[string]interface{}{
		"affiliate_id":     affiliate.ID.String(),
		"amount":           rejected.Amount.String(),
		"restored_balance": rejected.Amount.String(),
	}
	metadata := map[string]interface{}{"withdrawal_id": rejected.ID.String()}
	message := fmt.Sprintf("Seu saque de R$ %s foi recusado.", rejected.Amount.StringFixed(2))
	if reasonPtr != nil {
		details["reason"] = *reasonPtr
		metadata["reason"] = *reasonPtr
		message += " Motivo: " + *reasonPtr
	}

	w.audit(ctx, models.AuditEntry{
		Action:      "withdrawal_rejected",
		ActorID:     actor.UserID,
		TargetTable: "withdrawals",
		TargetID:    rejected.ID,
		Details:     details,
	})

	notify.Send(ctx, w.sink, models.Notification{
		UserID:    affiliate.UserID,
		Type:      notify.TypeWithdrawalRejected,
		Title:     "Saque recusado",
		Message:   message,
		ActionURL: "/affiliate/withdrawals",
		Metadata:  metadata,
	})

	logger.Log.Info("Withdrawal rejected",
		zap.String("withdrawalID", rejected.ID.String()),
		zap.String("rejector", actor.UserID.String()))

	return rejected, nil
}

func (w *Workflow) pendingForOwner(ctx context.Context, actor auth.Identity, withdrawalID uuid.UUID) (models.Withdrawal, models.Affiliate, error) {
	if !actor.IsOwner() {
		return models.Withdrawal{}, models.Affiliate{}, apperrors.Forbid("Owner access required")
	}

	wd, err := w.store.GetWithdrawal(ctx, withdrawalID)
	if errors.Is(err, apperrors.ErrNotFound) {
		return models.Withdrawal{}, models.Affiliate{}, apperrors.New(apperrors.NotFound, "withdrawal_not_found", "Withdrawal not found")
	}
	if err != nil {
		return models.Withdrawal{}, models.Affiliate{}, apperrors.Internal(fmt.Errorf("get withdrawal: %w", err))
	}
	if wd.Status != models.WithdrawalPending {
		return models.Withdrawal{}, models.Affiliate{}, alreadyProcessed()
	}

	affiliate, err := w.store.GetAffiliate(ctx, wd.AffiliateID)
	if err != nil {
		return models.Withdrawal{}, models.Affiliate{}, apperrors.Internal(fmt.Errorf("get affiliate: %w", err))
	}
	return wd, affiliate, nil
}

// issuePayout uses the withdrawal id as idempotency key so a retried
// approval after an ambiguous provider response cannot pay twice.
func (w *Workflow) issuePayout(ctx context.Context, wd models.Withdrawal, accountID string) (string, error) {
	if w.payouts == nil {
		return "", apperrors.Wrap(apperrors.ExternalProvider, "payout_failed", payout.UserMessage(payout.ErrNotConfigured), payout.ErrNotConfigured)
	}

	amountMinor := wd.NetAmount.Shift(2).Round(0).IntPart()
	id, err := w.payouts.CreatePayout(ctx, accountID, amountMinor, w.cfg.Currency, wd.ID.String())
	if err != nil {
		logger.Log.Error("Payout provider call failed",
			zap.String("withdrawalID", wd.ID.String()),
			zap.Int64("amountMinor", amountMinor),
			zap.Error(err))
		return "", apperrors.Wrap(apperrors.ExternalProvider, "payout_failed", payout.UserMessage(err), err)
	}
	return id, nil
}

func (w *Workflow) callerAffiliate(ctx context.Context, caller auth.Identity) (models.Affiliate, error) {
	affiliate, err := w.store.GetAffiliateByUserID(ctx, caller.UserID)
	if errors.Is(err, apperrors.ErrNotFound) {
		return models.Affiliate{}, apperrors.New(apperrors.NotFound, "not_affiliate", "You are not an affiliate")
	}
	if err != nil {
		return models.Affiliate{}, apperrors.Internal(fmt.Errorf("get affiliate: %w", err))
	}
	return affiliate, nil
}

func (w *Workflow) audit(ctx context.Context, entry models.AuditEntry) {
	entry.ID = uuid.New()
	entry.CreatedAt = w.now()
	if err := w.store.AppendAudit(ctx, entry); err != nil {
		logger.Log.Error("Failed to append audit entry",
			zap.String("action", entry.Action),
			zap.String("targetID", entry.TargetID.String()),
			zap.Error(err))
	}
}

func insufficientBalance() *apperrors.Error {
	return apperrors.New(apperrors.Conflict, "insufficient_balance", "Insufficient available balance")
}

func duplicatePending() *apperrors.Error {
	return apperrors.New(apperrors.Conflict, "duplicate_pending_request", "You already have a pending withdrawal request")
}

func alreadyProcessed() *apperrors.Error {
	return apperrors.New(apperrors.Conflict, "already_processed", "Withdrawal already processed")
}
