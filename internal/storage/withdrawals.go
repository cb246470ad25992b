package storage

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"
	"github.com/sol1corejz/affiliate-ledger/internal/apperrors"
	"github.com/sol1corejz/affiliate-ledger/internal/models"
)

const affiliateColumns = `id, user_id, status, available_balance, withdrawn_balance, pix_key, payout_account_id, created_at`

func scanAffiliate(row rowScanner) (models.Affiliate, error) {
	var a models.Affiliate
	var pixKey, payoutAccount sql.NullString
	if err := row.Scan(&a.ID, &a.UserID, &a.Status, &a.AvailableBalance, &a.WithdrawnBalance, &pixKey, &payoutAccount, &a.CreatedAt); err != nil {
		return models.Affiliate{}, err
	}
	a.PixKey = nullString(pixKey)
	a.PayoutAccountID = nullString(payoutAccount)
	return a, nil
}

const withdrawalColumns = `w.id, w.affiliate_id, w.amount, w.fee, w.net_amount, w.payment_method, w.status, w.requested_at,
	w.approved_by, w.approved_at, w.rejected_by, w.rejected_at, w.rejected_reason, w.payout_provider_id`

func withdrawalDest(w *models.Withdrawal, n *withdrawalNulls) []interface{} {
	return []interface{}{
		&w.ID, &w.AffiliateID, &w.Amount, &w.Fee, &w.NetAmount, &w.PaymentMethod, &w.Status, &w.RequestedAt,
		&n.approvedBy, &n.approvedAt, &n.rejectedBy, &n.rejectedAt, &n.rejectedReason, &n.payoutProviderID,
	}
}

type withdrawalNulls struct {
	approvedBy       uuid.NullUUID
	approvedAt       sql.NullTime
	rejectedBy       uuid.NullUUID
	rejectedAt       sql.NullTime
	rejectedReason   sql.NullString
	payoutProviderID sql.NullString
}

func (n withdrawalNulls) apply(w *models.Withdrawal) {
	if n.approvedBy.Valid {
		w.ApprovedBy = &n.approvedBy.UUID
	}
	if n.approvedAt.Valid {
		w.ApprovedAt = &n.approvedAt.Time
	}
	if n.rejectedBy.Valid {
		w.RejectedBy = &n.rejectedBy.UUID
	}
	if n.rejectedAt.Valid {
		w.RejectedAt = &n.rejectedAt.Time
	}
	w.RejectedReason = nullString(n.rejectedReason)
	w.PayoutProviderID = nullString(n.payoutProviderID)
}

func scanWithdrawal(row rowScanner) (models.Withdrawal, error) {
	var w models.Withdrawal
	var n withdrawalNulls
	if err := row.Scan(withdrawalDest(&w, &n)...); err != nil {
		return models.Withdrawal{}, err
	}
	n.apply(&w)
	return w, nil
}

func nullString(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	v := ns.String
	return &v
}

func (s *Storage) GetAffiliateByUserID(ctx context.Context, userID uuid.UUID) (models.Affiliate, error) {
	a, err := scanAffiliate(s.DB.QueryRowContext(ctx, `
		SELECT `+affiliateColumns+` FROM affiliates WHERE user_id = $1;
	`, userID))
	if errors.Is(err, sql.ErrNoRows) {
		return models.Affiliate{}, apperrors.ErrNotFound
	}
	return a, err
}

func (s *Storage) GetAffiliate(ctx context.Context, affiliateID uuid.UUID) (models.Affiliate, error) {
	a, err := scanAffiliate(s.DB.QueryRowContext(ctx, `
		SELECT `+affiliateColumns+` FROM affiliates WHERE id = $1;
	`, affiliateID))
	if errors.Is(err, sql.ErrNoRows) {
		return models.Affiliate{}, apperrors.ErrNotFound
	}
	return a, err
}

func (s *Storage) FindPendingWithdrawal(ctx context.Context, affiliateID uuid.UUID) (models.Withdrawal, error) {
	w, err := scanWithdrawal(s.DB.QueryRowContext(ctx, `
		SELECT `+withdrawalColumns+` FROM withdrawals w
		WHERE w.affiliate_id = $1 AND w.status = $2 LIMIT 1;
	`, affiliateID, models.WithdrawalPending))
	if errors.Is(err, sql.ErrNoRows) {
		return models.Withdrawal{}, apperrors.ErrNotFound
	}
	return w, err
}

// CreateWithdrawal reserves w.Amount and inserts the pending row in one
// transaction. The partial unique index on pending rows rejects a second
// concurrent request after the first commits.
func (s *Storage) CreateWithdrawal(ctx context.Context, w *models.Withdrawal) (models.Affiliate, error) {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return models.Affiliate{}, err
	}

	a, err := scanAffiliate(tx.QueryRowContext(ctx, `
		UPDATE affiliates SET available_balance = available_balance - $1
		WHERE id = $2 AND available_balance >= $1
		RETURNING `+affiliateColumns+`;
	`, w.Amount, w.AffiliateID))
	if err != nil {
		tx.Rollback()
		if errors.Is(err, sql.ErrNoRows) || pgCode(err) == checkViolation {
			return models.Affiliate{}, apperrors.ErrInsufficientBalance
		}
		return models.Affiliate{}, err
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO withdrawals (id, affiliate_id, amount, fee, net_amount, payment_method, status, requested_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8);
	`, w.ID, w.AffiliateID, w.Amount, w.Fee, w.NetAmount, w.PaymentMethod, w.Status, w.RequestedAt)
	if err != nil {
		tx.Rollback()
		if pgCode(err) == uniqueViolation {
			return models.Affiliate{}, apperrors.ErrDuplicatePending
		}
		return models.Affiliate{}, err
	}

	if err := tx.Commit(); err != nil {
		return models.Affiliate{}, err
	}
	return a, nil
}

func (s *Storage) GetWithdrawal(ctx context.Context, id uuid.UUID) (models.Withdrawal, error) {
	w, err := scanWithdrawal(s.DB.QueryRowContext(ctx, `
		SELECT `+withdrawalColumns+` FROM withdrawals w WHERE w.id = $1;
	`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return models.Withdrawal{}, apperrors.ErrNotFound
	}
	return w, err
}

func (s *Storage) ListAffiliateWithdrawals(ctx context.Context, affiliateID uuid.UUID) ([]models.Withdrawal, error) {
	rows, err := s.DB.QueryContext(ctx, `
		SELECT `+withdrawalColumns+` FROM withdrawals w
		WHERE w.affiliate_id = $1 ORDER BY w.requested_at DESC;
	`, affiliateID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var withdrawals []models.Withdrawal
	for rows.Next() {
		w, err := scanWithdrawal(rows)
		if err != nil {
			return nil, err
		}
		withdrawals = append(withdrawals, w)
	}

	return withdrawals, rows.Err()
}

// ListWithdrawals joins each withdrawal with its affiliate's payout
// metadata. An empty statuses slice lists every withdrawal.
func (s *Storage) ListWithdrawals(ctx context.Context, statuses []string) ([]models.WithdrawalView, error) {
	query := `
		SELECT ` + withdrawalColumns + `, a.user_id, a.pix_key, a.payout_account_id
		FROM withdrawals w JOIN affiliates a ON a.id = w.affiliate_id`
	var args []interface{}
	if len(statuses) > 0 {
		query += ` WHERE w.status = ANY($1)`
		args = append(args, pq.Array(statuses))
	}
	query += ` ORDER BY w.requested_at DESC;`

	rows, err := s.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var views []models.WithdrawalView
	for rows.Next() {
		var v models.WithdrawalView
		var n withdrawalNulls
		var pixKey, payoutAccount sql.NullString
		dest := append(withdrawalDest(&v.Withdrawal, &n), &v.AffiliateUserID, &pixKey, &payoutAccount)
		if err := rows.Scan(dest...); err != nil {
			return nil, err
		}
		n.apply(&v.Withdrawal)
		v.PixKey = nullString(pixKey)
		v.PayoutAccountID = nullString(payoutAccount)
		views = append(views, v)
	}

	return views, rows.Err()
}

func (s *Storage) WithdrawalStats(ctx context.Context) (models.WithdrawalStats, error) {
	rows, err := s.DB.QueryContext(ctx, `
		SELECT status, COUNT(*), COALESCE(SUM(amount), 0)
		FROM withdrawals WHERE status = ANY($1) GROUP BY status;
	`, pq.Array([]string{models.WithdrawalPending, models.WithdrawalCompleted}))
	if err != nil {
		return models.WithdrawalStats{}, err
	}
	defer rows.Close()

	stats := models.WithdrawalStats{PendingAmount: decimal.Zero, CompletedAmount: decimal.Zero}
	for rows.Next() {
		var status string
		var count int
		var sum decimal.Decimal
		if err := rows.Scan(&status, &count, &sum); err != nil {
			return models.WithdrawalStats{}, err
		}
		switch status {
		case models.WithdrawalPending:
			stats.PendingCount, stats.PendingAmount = count, sum
		case models.WithdrawalCompleted:
			stats.CompletedCount, stats.CompletedAmount = count, sum
		}
	}

	return stats, rows.Err()
}

func (s *Storage) CompleteWithdrawal(ctx context.Context, id, approverID uuid.UUID, payoutProviderID *string, at time.Time) (models.Withdrawal, error) {
	return s.settleWithdrawal(ctx, id, `
		UPDATE withdrawals w
		SET status = $2, approved_by = $3, approved_at = $4, payout_provider_id = $5
		WHERE w.id = $1 AND w.status = 'pending'
		RETURNING `+withdrawalColumns+`;
	`, `
		UPDATE affiliates SET withdrawn_balance = withdrawn_balance + $1 WHERE id = $2;
	`, models.WithdrawalCompleted, approverID, at, payoutProviderID)
}

func (s *Storage) RejectWithdrawal(ctx context.Context, id, rejectorID uuid.UUID, reason *string, at time.Time) (models.Withdrawal, error) {
	return s.settleWithdrawal(ctx, id, `
		UPDATE withdrawals w
		SET status = $2, rejected_by = $3, rejected_at = $4, rejected_reason = $5
		WHERE w.id = $1 AND w.status = 'pending'
		RETURNING `+withdrawalColumns+`;
	`, `
		UPDATE affiliates SET available_balance = available_balance + $1 WHERE id = $2;
	`, models.WithdrawalRejected, rejectorID, at, reason)
}

// settleWithdrawal moves a pending withdrawal to a terminal status and
// applies the matching affiliate balance update in the same transaction.
// The status guard in the UPDATE makes a concurrent second settle a no-op.
func (s *Storage) settleWithdrawal(ctx context.Context, id uuid.UUID, settleQuery, balanceQuery string, args ...interface{}) (models.Withdrawal, error) {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return models.Withdrawal{}, err
	}

	w, err := scanWithdrawal(tx.QueryRowContext(ctx, settleQuery, append([]interface{}{id}, args...)...))
	if errors.Is(err, sql.ErrNoRows) {
		tx.Rollback()
		var exists bool
		if err := s.DB.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM withdrawals WHERE id = $1);`, id).Scan(&exists); err != nil {
			return models.Withdrawal{}, err
		}
		if !exists {
			return models.Withdrawal{}, apperrors.ErrNotFound
		}
		return models.Withdrawal{}, apperrors.ErrAlreadyProcessed
	}
	if err != nil {
		tx.Rollback()
		return models.Withdrawal{}, err
	}

	if _, err := tx.ExecContext(ctx, balanceQuery, w.Amount, w.AffiliateID); err != nil {
		tx.Rollback()
		return models.Withdrawal{}, err
	}

	if err := tx.Commit(); err != nil {
		return models.Withdrawal{}, err
	}
	return w, nil
}
