package notify

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/sol1corejz/affiliate-ledger/internal/logger"
	"github.com/sol1corejz/affiliate-ledger/internal/models"
	"go.uber.org/zap"
)

const (
	TypeRangeUnlocked      = "points_range_unlocked"
	TypeRewardRedeemed     = "reward_redeemed"
	TypePointsAwarded      = "points_awarded"
	TypeWithdrawalApproved = "withdrawal_approved"
	TypeWithdrawalRejected = "withdrawal_rejected"
)

// Sink receives user-facing notifications.
type Sink interface {
	Notify(ctx context.Context, n models.Notification) error
}

// Store persists notifications as rows.
type Store interface {
	InsertNotification(ctx context.Context, n models.Notification) error
}

type StoreSink struct {
	store Store
}

func NewStoreSink(store Store) *StoreSink {
	return &StoreSink{store: store}
}

func (s *StoreSink) Notify(ctx context.Context, n models.Notification) error {
	return s.store.InsertNotification(ctx, n)
}

// Fanout delivers to every sink and joins their errors.
type Fanout []Sink

func (f Fanout) Notify(ctx context.Context, n models.Notification) error {
	var errs []error
	for _, s := range f {
		if err := s.Notify(ctx, n); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Send fills in id and timestamp and delivers n. Failures are logged and
// swallowed: a notification never rolls back a ledger change.
func Send(ctx context.Context, sink Sink, n models.Notification) {
	if sink == nil {
		return
	}
	if n.ID == uuid.Nil {
		n.ID = uuid.New()
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now().UTC()
	}

	if err := sink.Notify(ctx, n); err != nil {
		logger.Log.Warn("Notification delivery failed",
			zap.String("userID", n.UserID.String()),
			zap.String("type", n.Type),
			zap.Error(err))
	}
}
