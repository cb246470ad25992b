package storage

import (
	"context"
	"database/sql"
	"errors"

	"github.com/google/uuid"
	"github.com/sol1corejz/affiliate-ledger/internal/apperrors"
	"github.com/sol1corejz/affiliate-ledger/internal/models"
)

const pointsColumns = `user_id, current_balance, total_earned, total_spent, created_at, updated_at`

func scanPointsAccount(row rowScanner) (models.PointsAccount, error) {
	var acc models.PointsAccount
	err := row.Scan(&acc.UserID, &acc.CurrentBalance, &acc.TotalEarned, &acc.TotalSpent, &acc.CreatedAt, &acc.UpdatedAt)
	return acc, err
}

func (s *Storage) GetPointsAccount(ctx context.Context, userID uuid.UUID) (models.PointsAccount, error) {
	acc, err := scanPointsAccount(s.DB.QueryRowContext(ctx, `
		SELECT `+pointsColumns+` FROM points WHERE user_id = $1;
	`, userID))
	if errors.Is(err, sql.ErrNoRows) {
		return models.PointsAccount{}, apperrors.ErrNotFound
	}
	return acc, err
}

func (s *Storage) CreatePointsAccount(ctx context.Context, userID uuid.UUID) error {
	res, err := s.DB.ExecContext(ctx, `
		INSERT INTO points (user_id) VALUES ($1) ON CONFLICT (user_id) DO NOTHING;
	`, userID)
	if err != nil {
		return err
	}

	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return apperrors.ErrConflict
	}
	return nil
}

func (s *Storage) ListPointsAccounts(ctx context.Context) ([]models.PointsAccount, error) {
	rows, err := s.DB.QueryContext(ctx, `SELECT `+pointsColumns+` FROM points ORDER BY user_id;`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var accounts []models.PointsAccount
	for rows.Next() {
		acc, err := scanPointsAccount(rows)
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, acc)
	}

	return accounts, rows.Err()
}

func (s *Storage) ListPointTransactions(ctx context.Context, userID uuid.UUID, limit int) ([]models.PointTransaction, error) {
	query := `
		SELECT id, user_id, type, amount, balance_after, description, metadata, created_at
		FROM point_transactions WHERE user_id = $1 ORDER BY seq DESC`
	args := []interface{}{userID}
	if limit > 0 {
		query += ` LIMIT $2`
		args = append(args, limit)
	}

	rows, err := s.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	txs := []models.PointTransaction{}
	for rows.Next() {
		var tx models.PointTransaction
		var metadata []byte
		if err := rows.Scan(&tx.ID, &tx.UserID, &tx.Type, &tx.Amount, &tx.BalanceAfter, &tx.Description, &metadata, &tx.CreatedAt); err != nil {
			return nil, err
		}
		if tx.Metadata, err = jsonScan(metadata); err != nil {
			return nil, err
		}
		txs = append(txs, tx)
	}

	return txs, rows.Err()
}

func (s *Storage) ListBadges(ctx context.Context, userID uuid.UUID) ([]models.Badge, error) {
	rows, err := s.DB.QueryContext(ctx, `
		SELECT b.id, b.name, b.description, b.icon, ub.earned_at
		FROM user_badges ub JOIN badges b ON b.id = ub.badge_id
		WHERE ub.user_id = $1 ORDER BY ub.earned_at DESC;
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	badges := []models.Badge{}
	for rows.Next() {
		var b models.Badge
		if err := rows.Scan(&b.ID, &b.Name, &b.Description, &b.Icon, &b.EarnedAt); err != nil {
			return nil, err
		}
		badges = append(badges, b)
	}

	return badges, rows.Err()
}

const rewardColumns = `id, name, description, category, points_required, required_tier, stock, active`

func scanReward(row rowScanner) (models.Reward, error) {
	var r models.Reward
	var stock sql.NullInt32
	if err := row.Scan(&r.ID, &r.Name, &r.Description, &r.Category, &r.PointsRequired, &r.RequiredTier, &stock, &r.Active); err != nil {
		return models.Reward{}, err
	}
	if stock.Valid {
		v := int(stock.Int32)
		r.Stock = &v
	}
	return r, nil
}

func (s *Storage) ListActiveRewards(ctx context.Context) ([]models.Reward, error) {
	rows, err := s.DB.QueryContext(ctx, `
		SELECT `+rewardColumns+` FROM rewards WHERE active ORDER BY points_required;
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rewards []models.Reward
	for rows.Next() {
		r, err := scanReward(rows)
		if err != nil {
			return nil, err
		}
		rewards = append(rewards, r)
	}

	return rewards, rows.Err()
}

func (s *Storage) GetReward(ctx context.Context, rewardID uuid.UUID) (models.Reward, error) {
	r, err := scanReward(s.DB.QueryRowContext(ctx, `
		SELECT `+rewardColumns+` FROM rewards WHERE id = $1;
	`, rewardID))
	if errors.Is(err, sql.ErrNoRows) {
		return models.Reward{}, apperrors.ErrNotFound
	}
	return r, err
}

// RedeemReward debits the balance, takes one unit of stock, records the
// redemption and appends the redeem transaction in one transaction.
func (s *Storage) RedeemReward(ctx context.Context, redemption *models.RewardRedemption, ptx *models.PointTransaction) (models.PointsAccount, error) {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return models.PointsAccount{}, err
	}

	acc, err := scanPointsAccount(tx.QueryRowContext(ctx, `
		UPDATE points
		SET current_balance = current_balance - $1, total_spent = total_spent + $1, updated_at = now()
		WHERE user_id = $2 AND current_balance >= $1
		RETURNING `+pointsColumns+`;
	`, redemption.PointsSpent, redemption.UserID))
	if err != nil {
		tx.Rollback()
		if errors.Is(err, sql.ErrNoRows) {
			return models.PointsAccount{}, apperrors.ErrInsufficientPoints
		}
		return models.PointsAccount{}, err
	}

	res, err := tx.ExecContext(ctx, `
		UPDATE rewards SET stock = stock - 1
		WHERE id = $1 AND (stock IS NULL OR stock > 0);
	`, redemption.RewardID)
	if err != nil {
		tx.Rollback()
		return models.PointsAccount{}, err
	}
	if n, err := res.RowsAffected(); err != nil || n == 0 {
		tx.Rollback()
		if err != nil {
			return models.PointsAccount{}, err
		}
		return models.PointsAccount{}, apperrors.ErrOutOfStock
	}

	details, err := jsonArg(redemption.PayoutDetails)
	if err != nil {
		tx.Rollback()
		return models.PointsAccount{}, err
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO reward_redemptions (id, user_id, reward_id, points_spent, payout_method, payout_details, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8);
	`, redemption.ID, redemption.UserID, redemption.RewardID, redemption.PointsSpent,
		redemption.PayoutMethod, details, redemption.Status, redemption.CreatedAt)
	if err != nil {
		tx.Rollback()
		return models.PointsAccount{}, err
	}

	ptx.BalanceAfter = acc.CurrentBalance
	if err := insertPointTransaction(ctx, tx, ptx); err != nil {
		tx.Rollback()
		return models.PointsAccount{}, err
	}

	if err := tx.Commit(); err != nil {
		return models.PointsAccount{}, err
	}
	return acc, nil
}

// ApplyPoints adds ptx.Amount to the balance (positive amounts also to
// total_earned) and appends ptx.
func (s *Storage) ApplyPoints(ctx context.Context, ptx *models.PointTransaction) (models.PointsAccount, error) {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return models.PointsAccount{}, err
	}

	acc, err := scanPointsAccount(tx.QueryRowContext(ctx, `
		UPDATE points
		SET current_balance = current_balance + $1::bigint,
			total_earned = total_earned + GREATEST($1::bigint, 0),
			updated_at = now()
		WHERE user_id = $2 AND current_balance + $1::bigint >= 0
		RETURNING `+pointsColumns+`;
	`, ptx.Amount, ptx.UserID))
	if err != nil {
		tx.Rollback()
		if errors.Is(err, sql.ErrNoRows) || pgCode(err) == checkViolation {
			return models.PointsAccount{}, apperrors.ErrInsufficientPoints
		}
		return models.PointsAccount{}, err
	}

	ptx.BalanceAfter = acc.CurrentBalance
	if err := insertPointTransaction(ctx, tx, ptx); err != nil {
		tx.Rollback()
		return models.PointsAccount{}, err
	}

	if err := tx.Commit(); err != nil {
		return models.PointsAccount{}, err
	}
	return acc, nil
}

func insertPointTransaction(ctx context.Context, tx *sql.Tx, ptx *models.PointTransaction) error {
	metadata, err := jsonArg(ptx.Metadata)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO point_transactions (id, user_id, type, amount, balance_after, description, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8);
	`, ptx.ID, ptx.UserID, ptx.Type, ptx.Amount, ptx.BalanceAfter, ptx.Description, metadata, ptx.CreatedAt)
	return err
}
