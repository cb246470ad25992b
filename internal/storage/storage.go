package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgconn"
	_ "github.com/jackc/pgx/v4/stdlib"
	"github.com/sol1corejz/affiliate-ledger/internal/logger"
	"go.uber.org/zap"
)

var (
	ErrConnectionFailed    = errors.New("db connection failed")
	ErrCreatingTableFailed = errors.New("creating table failed")
)

const (
	uniqueViolation = "23505"
	checkViolation  = "23514"
)

// Storage is the PostgreSQL ledger store.
type Storage struct {
	DB *sql.DB
}

func New(ctx context.Context, databaseURI string) (*Storage, error) {
	if databaseURI == "" {
		return nil, ErrConnectionFailed
	}

	db, err := sql.Open("pgx", databaseURI)
	if err != nil {
		logger.Log.Error("Error opening database connection", zap.Error(err))
		return nil, ErrConnectionFailed
	}
	db.SetMaxOpenConns(20)
	db.SetConnMaxIdleTime(5 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		logger.Log.Error("Error connecting to database", zap.Error(err))
		db.Close()
		return nil, ErrConnectionFailed
	}

	s := &Storage{DB: db}
	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Storage) Close() error {
	return s.DB.Close()
}

func (s *Storage) migrate(ctx context.Context) error {
	tables := []string{
		`CREATE TABLE IF NOT EXISTS affiliates (
			id UUID PRIMARY KEY NOT NULL,
			user_id UUID UNIQUE NOT NULL,
			status VARCHAR(20) NOT NULL DEFAULT 'pending',
			available_balance DECIMAL(12, 2) NOT NULL DEFAULT 0.00 CHECK (available_balance >= 0),
			withdrawn_balance DECIMAL(12, 2) NOT NULL DEFAULT 0.00 CHECK (withdrawn_balance >= 0),
			pix_key VARCHAR(255),
			payout_account_id VARCHAR(255),
			created_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP
		);`,
		`CREATE TABLE IF NOT EXISTS withdrawals (
			id UUID PRIMARY KEY NOT NULL,
			affiliate_id UUID NOT NULL REFERENCES affiliates(id),
			amount DECIMAL(12, 2) NOT NULL CHECK (amount > 0),
			fee DECIMAL(12, 2) NOT NULL DEFAULT 0.00,
			net_amount DECIMAL(12, 2) NOT NULL,
			payment_method VARCHAR(20) NOT NULL,
			status VARCHAR(20) NOT NULL CHECK (status IN ('pending', 'completed', 'rejected')),
			requested_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
			approved_by UUID,
			approved_at TIMESTAMPTZ,
			rejected_by UUID,
			rejected_at TIMESTAMPTZ,
			rejected_reason TEXT,
			payout_provider_id VARCHAR(255)
		);`,
		`CREATE UNIQUE INDEX IF NOT EXISTS withdrawals_one_pending_per_affiliate
			ON withdrawals (affiliate_id) WHERE status = 'pending';`,
		`CREATE INDEX IF NOT EXISTS withdrawals_affiliate_requested
			ON withdrawals (affiliate_id, requested_at DESC);`,
		`CREATE TABLE IF NOT EXISTS points (
			user_id UUID PRIMARY KEY NOT NULL,
			current_balance BIGINT NOT NULL DEFAULT 0 CHECK (current_balance >= 0),
			total_earned BIGINT NOT NULL DEFAULT 0,
			total_spent BIGINT NOT NULL DEFAULT 0,
			created_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP
		);`,
		`CREATE TABLE IF NOT EXISTS point_transactions (
			seq BIGSERIAL,
			id UUID PRIMARY KEY NOT NULL,
			user_id UUID NOT NULL REFERENCES points(user_id),
			type VARCHAR(20) NOT NULL CHECK (type IN ('bonus', 'redeem', 'adjustment')),
			amount BIGINT NOT NULL,
			balance_after BIGINT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			metadata JSONB,
			created_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP
		);`,
		`CREATE INDEX IF NOT EXISTS point_transactions_user_seq
			ON point_transactions (user_id, seq DESC);`,
		`CREATE TABLE IF NOT EXISTS rewards (
			id UUID PRIMARY KEY NOT NULL,
			name VARCHAR(255) NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			category VARCHAR(50) NOT NULL DEFAULT '',
			points_required BIGINT NOT NULL CHECK (points_required > 0),
			required_tier VARCHAR(20) NOT NULL DEFAULT 'bronze',
			stock INTEGER,
			active BOOLEAN NOT NULL DEFAULT TRUE
		);`,
		`CREATE TABLE IF NOT EXISTS reward_redemptions (
			id UUID PRIMARY KEY NOT NULL,
			user_id UUID NOT NULL REFERENCES points(user_id),
			reward_id UUID NOT NULL REFERENCES rewards(id),
			points_spent BIGINT NOT NULL,
			payout_method VARCHAR(50),
			payout_details JSONB,
			status VARCHAR(20) NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP
		);`,
		`CREATE TABLE IF NOT EXISTS badges (
			id UUID PRIMARY KEY NOT NULL,
			name VARCHAR(255) NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			icon VARCHAR(255) NOT NULL DEFAULT ''
		);`,
		`CREATE TABLE IF NOT EXISTS user_badges (
			user_id UUID NOT NULL,
			badge_id UUID NOT NULL REFERENCES badges(id),
			earned_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
			PRIMARY KEY (user_id, badge_id)
		);`,
		`CREATE TABLE IF NOT EXISTS audit_log (
			id UUID PRIMARY KEY NOT NULL,
			action VARCHAR(100) NOT NULL,
			actor_id UUID NOT NULL,
			target_table VARCHAR(100) NOT NULL,
			target_id UUID NOT NULL,
			details JSONB,
			created_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP
		);`,
		`CREATE TABLE IF NOT EXISTS notifications (
			id UUID PRIMARY KEY NOT NULL,
			user_id UUID NOT NULL,
			type VARCHAR(100) NOT NULL,
			title VARCHAR(255) NOT NULL,
			message TEXT NOT NULL,
			action_url VARCHAR(255),
			metadata JSONB,
			read BOOLEAN NOT NULL DEFAULT FALSE,
			created_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP
		);`,
	}

	for _, table := range tables {
		if _, err := s.DB.ExecContext(ctx, table); err != nil {
			logger.Log.Error("Error creating table", zap.Error(err))
			return ErrCreatingTableFailed
		}
	}

	return nil
}

func pgCode(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	return ""
}

// jsonArg encodes m for a JSONB column. A nil map is stored as NULL.
func jsonArg(m map[string]interface{}) (interface{}, error) {
	if m == nil {
		return nil, nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func jsonScan(raw []byte) (map[string]interface{}, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var m map[string]interface{}
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, err
	}
	return m, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}
