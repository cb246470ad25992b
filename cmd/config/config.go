package config

import (
	"flag"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

var (
	RunAddress           string
	DatabaseURI          string
	LogLevel             string
	JWTSecret            string
	PayoutAPIURL         string
	PayoutAPIKey         string
	PayoutCurrency       string
	RabbitMQURL          string
	NotificationExchange string
	RedisURL             string
	RateLimitPerMinute   int
	MinWithdrawal        string
	WithdrawalFee        string
	WithdrawalFeePercent string
	ReconcileInterval    time.Duration
)

func ParseFlags() {
	// A missing .env is fine, the process environment still applies.
	_ = godotenv.Load()

	flag.StringVar(&RunAddress, "a", ":8080", "address to run server")
	flag.StringVar(&DatabaseURI, "d", "", "database uri")
	flag.StringVar(&LogLevel, "l", "info", "log level")
	flag.StringVar(&JWTSecret, "s", "", "jwt signing secret")
	flag.StringVar(&PayoutAPIURL, "payout-url", "", "payout provider base url")
	flag.StringVar(&PayoutCurrency, "currency", "brl", "payout currency")
	flag.StringVar(&RabbitMQURL, "amqp", "", "rabbitmq url for notification fan-out")
	flag.StringVar(&NotificationExchange, "exchange", "ledger.notifications", "notification exchange")
	flag.StringVar(&RedisURL, "redis", "", "redis url for rate limiting")
	flag.IntVar(&RateLimitPerMinute, "rate", 30, "dispatch actions per minute per user and endpoint")
	flag.StringVar(&MinWithdrawal, "min-withdrawal", "50", "minimum withdrawal amount")
	flag.StringVar(&WithdrawalFee, "fee", "0", "fixed withdrawal fee")
	flag.StringVar(&WithdrawalFeePercent, "fee-percent", "0", "withdrawal fee as a percentage of the amount")
	flag.DurationVar(&ReconcileInterval, "reconcile", 10*time.Minute, "ledger reconciliation interval")
	flag.Parse()

	ApplyEnv()
}

// ApplyEnv overrides flag values with environment variables when they are set.
func ApplyEnv() {
	if envRunAddr := os.Getenv("RUN_ADDRESS"); envRunAddr != "" {
		RunAddress = envRunAddr
	}
	if databaseURI := os.Getenv("DATABASE_URI"); databaseURI != "" {
		DatabaseURI = databaseURI
	}
	if logLevel := os.Getenv("LOG_LEVEL"); logLevel != "" {
		LogLevel = logLevel
	}
	if secret := os.Getenv("JWT_SECRET"); secret != "" {
		JWTSecret = secret
	}
	if payoutURL := os.Getenv("PAYOUT_API_URL"); payoutURL != "" {
		PayoutAPIURL = payoutURL
	}
	if payoutKey := os.Getenv("PAYOUT_API_KEY"); payoutKey != "" {
		PayoutAPIKey = payoutKey
	}
	if currency := os.Getenv("PAYOUT_CURRENCY"); currency != "" {
		PayoutCurrency = currency
	}
	if amqpURL := os.Getenv("RABBITMQ_URL"); amqpURL != "" {
		RabbitMQURL = amqpURL
	}
	if exchange := os.Getenv("NOTIFICATION_EXCHANGE"); exchange != "" {
		NotificationExchange = exchange
	}
	if redisURL := os.Getenv("REDIS_URL"); redisURL != "" {
		RedisURL = redisURL
	}
	if rate := os.Getenv("RATE_LIMIT_PER_MINUTE"); rate != "" {
		if v, err := strconv.Atoi(rate); err == nil {
			RateLimitPerMinute = v
		}
	}
	if minWithdrawal := os.Getenv("MIN_WITHDRAWAL"); minWithdrawal != "" {
		MinWithdrawal = minWithdrawal
	}
	if fee := os.Getenv("WITHDRAWAL_FEE"); fee != "" {
		WithdrawalFee = fee
	}
	if feePercent := os.Getenv("WITHDRAWAL_FEE_PERCENT"); feePercent != "" {
		WithdrawalFeePercent = feePercent
	}
	if interval := os.Getenv("RECONCILE_INTERVAL"); interval != "" {
		if d, err := time.ParseDuration(interval); err == nil {
			ReconcileInterval = d
		}
	}
}
