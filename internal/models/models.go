package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

var (
	AffiliatePending   = "pending"
	AffiliateApproved  = "approved"
	AffiliateSuspended = "suspended"
)

var (
	WithdrawalPending   = "pending"
	WithdrawalCompleted = "completed"
	WithdrawalRejected  = "rejected"
)

var (
	PaymentMethodPix           = "pix"
	PaymentMethodPayoutAccount = "payout_account"
)

var (
	TxBonus      = "bonus"
	TxRedeem     = "redeem"
	TxAdjustment = "adjustment"
)

type Affiliate struct {
	ID               uuid.UUID       `db:"id" json:"id"`
	UserID           uuid.UUID       `db:"user_id" json:"user_id"`
	Status           string          `db:"status" json:"status"`
	AvailableBalance decimal.Decimal `db:"available_balance" json:"available_balance"`
	WithdrawnBalance decimal.Decimal `db:"withdrawn_balance" json:"withdrawn_balance"`
	PixKey           *string         `db:"pix_key" json:"pix_key,omitempty"`
	PayoutAccountID  *string         `db:"payout_account_id" json:"payout_account_id,omitempty"`
	CreatedAt        time.Time       `db:"created_at" json:"created_at"`
}

// HasPayoutDestination reports whether either a PIX key or a connected
// payout account is configured.
func (a Affiliate) HasPayoutDestination() bool {
	return (a.PixKey != nil && *a.PixKey != "") || a.HasPayoutAccount()
}

func (a Affiliate) HasPayoutAccount() bool {
	return a.PayoutAccountID != nil && *a.PayoutAccountID != ""
}

type Withdrawal struct {
	ID               uuid.UUID       `db:"id" json:"id"`
	AffiliateID      uuid.UUID       `db:"affiliate_id" json:"affiliate_id"`
	Amount           decimal.Decimal `db:"amount" json:"amount"`
	Fee              decimal.Decimal `db:"fee" json:"fee"`
	NetAmount        decimal.Decimal `db:"net_amount" json:"net_amount"`
	PaymentMethod    string          `db:"payment_method" json:"payment_method"`
	Status           string          `db:"status" json:"status"`
	RequestedAt      time.Time       `db:"requested_at" json:"requested_at"`
	ApprovedBy       *uuid.UUID      `db:"approved_by" json:"approved_by,omitempty"`
	ApprovedAt       *time.Time      `db:"approved_at" json:"approved_at,omitempty"`
	RejectedBy       *uuid.UUID      `db:"rejected_by" json:"rejected_by,omitempty"`
	RejectedAt       *time.Time      `db:"rejected_at" json:"rejected_at,omitempty"`
	RejectedReason   *string         `db:"rejected_reason" json:"rejected_reason,omitempty"`
	PayoutProviderID *string         `db:"payout_provider_id" json:"payout_provider_id,omitempty"`
}

// WithdrawalView is a withdrawal joined with its affiliate's payout metadata.
type WithdrawalView struct {
	Withdrawal
	AffiliateUserID uuid.UUID `json:"affiliate_user_id"`
	PixKey          *string   `json:"pix_key,omitempty"`
	PayoutAccountID *string   `json:"payout_account_id,omitempty"`
}

type PointsAccount struct {
	UserID         uuid.UUID `db:"user_id" json:"user_id"`
	CurrentBalance int64     `db:"current_balance" json:"current_balance"`
	TotalEarned    int64     `db:"total_earned" json:"total_earned"`
	TotalSpent     int64     `db:"total_spent" json:"total_spent"`
	CreatedAt      time.Time `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time `db:"updated_at" json:"updated_at"`
}

type PointTransaction struct {
	ID           uuid.UUID              `db:"id" json:"id"`
	UserID       uuid.UUID              `db:"user_id" json:"user_id"`
	Type         string                 `db:"type" json:"type"`
	Amount       int64                  `db:"amount" json:"amount"`
	BalanceAfter int64                  `db:"balance_after" json:"balance_after"`
	Description  string                 `db:"description" json:"description"`
	Metadata     map[string]interface{} `db:"metadata" json:"metadata,omitempty"`
	CreatedAt    time.Time              `db:"created_at" json:"created_at"`
}

type Reward struct {
	ID             uuid.UUID `db:"id" json:"id"`
	Name           string    `db:"name" json:"name"`
	Description    string    `db:"description" json:"description"`
	Category       string    `db:"category" json:"category"`
	PointsRequired int64     `db:"points_required" json:"points_required"`
	RequiredTier   string    `db:"required_tier" json:"required_tier"`
	Stock          *int      `db:"stock" json:"stock,omitempty"`
	Active         bool      `db:"active" json:"active"`
}

type RewardRedemption struct {
	ID            uuid.UUID              `db:"id" json:"id"`
	UserID        uuid.UUID              `db:"user_id" json:"user_id"`
	RewardID      uuid.UUID              `db:"reward_id" json:"reward_id"`
	PointsSpent   int64                  `db:"points_spent" json:"points_spent"`
	PayoutMethod  string                 `db:"payout_method" json:"payout_method,omitempty"`
	PayoutDetails map[string]interface{} `db:"payout_details" json:"payout_details,omitempty"`
	Status        string                 `db:"status" json:"status"`
	CreatedAt     time.Time              `db:"created_at" json:"created_at"`
}

type Badge struct {
	ID          uuid.UUID `db:"id" json:"id"`
	Name        string    `db:"name" json:"name"`
	Description string    `db:"description" json:"description"`
	Icon        string    `db:"icon" json:"icon"`
	EarnedAt    time.Time `db:"earned_at" json:"earned_at"`
}

type AuditEntry struct {
	ID          uuid.UUID              `db:"id" json:"id"`
	Action      string                 `db:"action" json:"action"`
	ActorID     uuid.UUID              `db:"actor_id" json:"actor_id"`
	TargetTable string                 `db:"target_table" json:"target_table"`
	TargetID    uuid.UUID              `db:"target_id" json:"target_id"`
	Details     map[string]interface{} `db:"details" json:"details,omitempty"`
	CreatedAt   time.Time              `db:"created_at" json:"created_at"`
}

type Notification struct {
	ID        uuid.UUID              `db:"id" json:"id"`
	UserID    uuid.UUID              `db:"user_id" json:"user_id"`
	Type      string                 `db:"type" json:"type"`
	Title     string                 `db:"title" json:"title"`
	Message   string                 `db:"message" json:"message"`
	ActionURL string                 `db:"action_url" json:"action_url,omitempty"`
	Metadata  map[string]interface{} `db:"metadata" json:"metadata,omitempty"`
	CreatedAt time.Time              `db:"created_at" json:"created_at"`
}

type WithdrawalStats struct {
	PendingCount    int             `json:"pending_count"`
	PendingAmount   decimal.Decimal `json:"pending_amount"`
	CompletedCount  int             `json:"completed_count"`
	CompletedAmount decimal.Decimal `json:"completed_amount"`
}
