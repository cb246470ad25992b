// Package memory is an in-process ledger store for tests and local runs.
// Every unit operation holds the store lock for its full duration, which
// gives the same all-or-nothing behaviour as the PostgreSQL transactions.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sol1corejz/affiliate-ledger/internal/apperrors"
	"github.com/sol1corejz/affiliate-ledger/internal/models"
)

type Store struct {
	mu            sync.RWMutex
	affiliates    map[uuid.UUID]models.Affiliate
	withdrawals   map[uuid.UUID]models.Withdrawal
	accounts      map[uuid.UUID]models.PointsAccount
	transactions  map[uuid.UUID][]models.PointTransaction
	rewards       map[uuid.UUID]models.Reward
	redemptions   []models.RewardRedemption
	badges        map[uuid.UUID][]models.Badge
	audit         []models.AuditEntry
	notifications []models.Notification
}

func New() *Store {
	return &Store{
		affiliates:   make(map[uuid.UUID]models.Affiliate),
		withdrawals:  make(map[uuid.UUID]models.Withdrawal),
		accounts:     make(map[uuid.UUID]models.PointsAccount),
		transactions: make(map[uuid.UUID][]models.PointTransaction),
		rewards:      make(map[uuid.UUID]models.Reward),
		badges:       make(map[uuid.UUID][]models.Badge),
	}
}

// =============================================================================
// SEEDING
// =============================================================================

func (s *Store) PutAffiliate(a models.Affiliate) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.affiliates[a.ID] = a
}

func (s *Store) PutReward(r models.Reward) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rewards[r.ID] = r
}

func (s *Store) PutBadge(userID uuid.UUID, b models.Badge) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.badges[userID] = append(s.badges[userID], b)
}

// SetPointsBalance overwrites an account without writing a transaction.
// Tests use it to simulate drift.
func (s *Store) SetPointsBalance(userID uuid.UUID, balance int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	acc := s.accounts[userID]
	acc.UserID = userID
	acc.CurrentBalance = balance
	s.accounts[userID] = acc
}

func (s *Store) AuditEntries() []models.AuditEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]models.AuditEntry(nil), s.audit...)
}

func (s *Store) Notifications() []models.Notification {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]models.Notification(nil), s.notifications...)
}

func (s *Store) Redemptions() []models.RewardRedemption {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]models.RewardRedemption(nil), s.redemptions...)
}

// =============================================================================
// POINTS
// =============================================================================

func (s *Store) GetPointsAccount(_ context.Context, userID uuid.UUID) (models.PointsAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	acc, ok := s.accounts[userID]
	if !ok {
		return models.PointsAccount{}, apperrors.ErrNotFound
	}
	return acc, nil
}

func (s *Store) CreatePointsAccount(_ context.Context, userID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.accounts[userID]; ok {
		return apperrors.ErrConflict
	}
	now := time.Now().UTC()
	s.accounts[userID] = models.PointsAccount{UserID: userID, CreatedAt: now, UpdatedAt: now}
	return nil
}

func (s *Store) ListPointsAccounts(_ context.Context) ([]models.PointsAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.PointsAccount, 0, len(s.accounts))
	for _, acc := range s.accounts {
		out = append(out, acc)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID.String() < out[j].UserID.String() })
	return out, nil
}

// ListPointTransactions returns newest first; limit <= 0 returns all.
func (s *Store) ListPointTransactions(_ context.Context, userID uuid.UUID, limit int) ([]models.PointTransaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	txs := s.transactions[userID]
	out := make([]models.PointTransaction, 0, len(txs))
	for i := len(txs) - 1; i >= 0; i-- {
		out = append(out, txs[i])
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (s *Store) ListBadges(_ context.Context, userID uuid.UUID) ([]models.Badge, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]models.Badge{}, s.badges[userID]...), nil
}

func (s *Store) ListActiveRewards(_ context.Context) ([]models.Reward, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.Reward
	for _, r := range s.rewards {
		if r.Active {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PointsRequired < out[j].PointsRequired })
	return out, nil
}

func (s *Store) GetReward(_ context.Context, rewardID uuid.UUID) (models.Reward, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.rewards[rewardID]
	if !ok {
		return models.Reward{}, apperrors.ErrNotFound
	}
	return r, nil
}

func (s *Store) RedeemReward(_ context.Context, redemption *models.RewardRedemption, tx *models.PointTransaction) (models.PointsAccount, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	acc, ok := s.accounts[redemption.UserID]
	if !ok {
		return models.PointsAccount{}, apperrors.ErrNotFound
	}
	reward, ok := s.rewards[redemption.RewardID]
	if !ok {
		return models.PointsAccount{}, apperrors.ErrNotFound
	}
	if acc.CurrentBalance < redemption.PointsSpent {
		return models.PointsAccount{}, apperrors.ErrInsufficientPoints
	}
	if reward.Stock != nil && *reward.Stock <= 0 {
		return models.PointsAccount{}, apperrors.ErrOutOfStock
	}

	acc.CurrentBalance -= redemption.PointsSpent
	acc.TotalSpent += redemption.PointsSpent
	acc.UpdatedAt = time.Now().UTC()
	s.accounts[acc.UserID] = acc

	if reward.Stock != nil {
		stock := *reward.Stock - 1
		reward.Stock = &stock
		s.rewards[reward.ID] = reward
	}

	s.redemptions = append(s.redemptions, *redemption)
	tx.BalanceAfter = acc.CurrentBalance
	s.transactions[acc.UserID] = append(s.transactions[acc.UserID], *tx)

	return acc, nil
}

func (s *Store) ApplyPoints(_ context.Context, tx *models.PointTransaction) (models.PointsAccount, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	acc, ok := s.accounts[tx.UserID]
	if !ok {
		return models.PointsAccount{}, apperrors.ErrNotFound
	}
	if acc.CurrentBalance+tx.Amount < 0 {
		return models.PointsAccount{}, apperrors.ErrInsufficientPoints
	}

	acc.CurrentBalance += tx.Amount
	if tx.Amount > 0 {
		acc.TotalEarned += tx.Amount
	}
	acc.UpdatedAt = time.Now().UTC()
	s.accounts[acc.UserID] = acc

	tx.BalanceAfter = acc.CurrentBalance
	s.transactions[acc.UserID] = append(s.transactions[acc.UserID], *tx)

	return acc, nil
}

// =============================================================================
// AFFILIATES & WITHDRAWALS
// =============================================================================

func (s *Store) GetAffiliateByUserID(_ context.Context, userID uuid.UUID) (models.Affiliate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, a := range s.affiliates {
		if a.UserID == userID {
			return a, nil
		}
	}
	return models.Affiliate{}, apperrors.ErrNotFound
}

func (s *Store) GetAffiliate(_ context.Context, affiliateID uuid.UUID) (models.Affiliate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.affiliates[affiliateID]
	if !ok {
		return models.Affiliate{}, apperrors.ErrNotFound
	}
	return a, nil
}

func (s *Store) FindPendingWithdrawal(_ context.Context, affiliateID uuid.UUID) (models.Withdrawal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if w, ok := s.pendingLocked(affiliateID); ok {
		return w, nil
	}
	return models.Withdrawal{}, apperrors.ErrNotFound
}

func (s *Store) CreateWithdrawal(_ context.Context, w *models.Withdrawal) (models.Affiliate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.affiliates[w.AffiliateID]
	if !ok {
		return models.Affiliate{}, apperrors.ErrNotFound
	}
	if a.AvailableBalance.LessThan(w.Amount) {
		return models.Affiliate{}, apperrors.ErrInsufficientBalance
	}
	if _, exists := s.pendingLocked(w.AffiliateID); exists {
		return models.Affiliate{}, apperrors.ErrDuplicatePending
	}

	a.AvailableBalance = a.AvailableBalance.Sub(w.Amount)
	s.affiliates[a.ID] = a
	s.withdrawals[w.ID] = *w

	return a, nil
}

func (s *Store) GetWithdrawal(_ context.Context, id uuid.UUID) (models.Withdrawal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	w, ok := s.withdrawals[id]
	if !ok {
		return models.Withdrawal{}, apperrors.ErrNotFound
	}
	return w, nil
}

func (s *Store) ListAffiliateWithdrawals(_ context.Context, affiliateID uuid.UUID) ([]models.Withdrawal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.Withdrawal
	for _, w := range s.withdrawals {
		if w.AffiliateID == affiliateID {
			out = append(out, w)
		}
	}
	sortNewestFirst(out)
	return out, nil
}

func (s *Store) ListWithdrawals(_ context.Context, statuses []string) ([]models.WithdrawalView, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var rows []models.Withdrawal
	for _, w := range s.withdrawals {
		if len(statuses) == 0 || contains(statuses, w.Status) {
			rows = append(rows, w)
		}
	}
	sortNewestFirst(rows)

	out := make([]models.WithdrawalView, 0, len(rows))
	for _, w := range rows {
		a := s.affiliates[w.AffiliateID]
		out = append(out, models.WithdrawalView{
			Withdrawal:      w,
			AffiliateUserID: a.UserID,
			PixKey:          a.PixKey,
			PayoutAccountID: a.PayoutAccountID,
		})
	}
	return out, nil
}

func (s *Store) WithdrawalStats(_ context.Context) (models.WithdrawalStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := models.WithdrawalStats{PendingAmount: decimal.Zero, CompletedAmount: decimal.Zero}
	for _, w := range s.withdrawals {
		switch w.Status {
		case models.WithdrawalPending:
			stats.PendingCount++
			stats.PendingAmount = stats.PendingAmount.Add(w.Amount)
		case models.WithdrawalCompleted:
			stats.CompletedCount++
			stats.CompletedAmount = stats.CompletedAmount.Add(w.Amount)
		}
	}
	return stats, nil
}

func (s *Store) CompleteWithdrawal(_ context.Context, id, approverID uuid.UUID, payoutProviderID *string, at time.Time) (models.Withdrawal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	w, ok := s.withdrawals[id]
	if !ok {
		return models.Withdrawal{}, apperrors.ErrNotFound
	}
	if w.Status != models.WithdrawalPending {
		return models.Withdrawal{}, apperrors.ErrAlreadyProcessed
	}

	a := s.affiliates[w.AffiliateID]
	a.WithdrawnBalance = a.WithdrawnBalance.Add(w.Amount)
	s.affiliates[a.ID] = a

	w.Status = models.WithdrawalCompleted
	w.ApprovedBy = &approverID
	w.ApprovedAt = &at
	w.PayoutProviderID = payoutProviderID
	s.withdrawals[id] = w

	return w, nil
}

func (s *Store) RejectWithdrawal(_ context.Context, id, rejectorID uuid.UUID, reason *string, at time.Time) (models.Withdrawal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	w, ok := s.withdrawals[id]
	if !ok {
		return models.Withdrawal{}, apperrors.ErrNotFound
	}
	if w.Status != models.WithdrawalPending {
		return models.Withdrawal{}, apperrors.ErrAlreadyProcessed
	}

	a := s.affiliates[w.AffiliateID]
	a.AvailableBalance = a.AvailableBalance.Add(w.Amount)
	s.affiliates[a.ID] = a

	w.Status = models.WithdrawalRejected
	w.RejectedBy = &rejectorID
	w.RejectedAt = &at
	w.RejectedReason = reason
	s.withdrawals[id] = w

	return w, nil
}

// =============================================================================
// AUDIT & NOTIFICATIONS
// =============================================================================

func (s *Store) AppendAudit(_ context.Context, entry models.AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.audit = append(s.audit, entry)
	return nil
}

func (s *Store) InsertNotification(_ context.Context, n models.Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.notifications = append(s.notifications, n)
	return nil
}

func (s *Store) pendingLocked(affiliateID uuid.UUID) (models.Withdrawal, bool) {
	for _, w := range s.withdrawals {
		if w.AffiliateID == affiliateID && w.Status == models.WithdrawalPending {
			return w, true
		}
	}
	return models.Withdrawal{}, false
}

func sortNewestFirst(ws []models.Withdrawal) {
	sort.Slice(ws, func(i, j int) bool { return ws[i].RequestedAt.After(ws[j].RequestedAt) })
}

func contains(list []string, item string) bool {
	for _, v := range list {
		if v == item {
			return true
		}
	}
	return false
}
