package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/sol1corejz/affiliate-ledger/cmd/config"
	"github.com/sol1corejz/affiliate-ledger/internal/auth"
	"github.com/sol1corejz/affiliate-ledger/internal/handlers"
	"github.com/sol1corejz/affiliate-ledger/internal/logger"
	"github.com/sol1corejz/affiliate-ledger/internal/middleware"
	"github.com/sol1corejz/affiliate-ledger/internal/notify"
	"github.com/sol1corejz/affiliate-ledger/internal/payout"
	"github.com/sol1corejz/affiliate-ledger/internal/points"
	"github.com/sol1corejz/affiliate-ledger/internal/storage"
	"github.com/sol1corejz/affiliate-ledger/internal/withdrawal"
	"github.com/sol1corejz/affiliate-ledger/internal/workers"
	"go.uber.org/zap"
)

func main() {
	config.ParseFlags()

	if err := logger.Initialize(config.LogLevel); err != nil {
		logger.Log.Fatal("Failed to initialize logger", zap.Error(err))
	}
	defer logger.Log.Sync()

	if err := run(); err != nil {
		logger.Log.Fatal("Failed to run server", zap.Error(err))
	}
}

func run() error {
	if config.JWTSecret == "" {
		return errors.New("jwt secret is required (-s or JWT_SECRET)")
	}

	minWithdrawal, err := decimal.NewFromString(config.MinWithdrawal)
	if err != nil {
		return err
	}
	fixedFee, err := decimal.NewFromString(config.WithdrawalFee)
	if err != nil {
		return err
	}
	feePercent, err := decimal.NewFromString(config.WithdrawalFeePercent)
	if err != nil {
		return err
	}

	store, err := storage.New(context.Background(), config.DatabaseURI)
	if err != nil {
		logger.Log.Error("Failed to init storage", zap.Error(err))
		return err
	}
	defer store.Close()

	sinks := notify.Fanout{notify.NewStoreSink(store)}
	if config.RabbitMQURL != "" {
		amqpSink, err := notify.NewAMQPSink(config.RabbitMQURL, config.NotificationExchange)
		if err != nil {
			logger.Log.Warn("RabbitMQ unavailable, notifications stay in the database", zap.Error(err))
			sinks = append(sinks, notify.NopSink{})
		} else {
			defer amqpSink.Close()
			sinks = append(sinks, amqpSink)
		}
	}

	var payouts withdrawal.Payouts
	if config.PayoutAPIURL != "" {
		payouts = payout.NewClient(config.PayoutAPIURL, config.PayoutAPIKey)
	} else {
		logger.Log.Info("Payout provider not configured, external payouts disabled")
	}

	engine := points.NewEngine(store, sinks)
	workflow := withdrawal.NewWorkflow(store, payouts, sinks, withdrawal.Config{
		MinWithdrawal: minWithdrawal,
		Fee:           withdrawal.FeePolicy{Fixed: fixedFee, Percent: feePercent},
		Currency:      strings.ToLower(config.PayoutCurrency),
	})

	sched, err := workers.InitReconciliation(engine, config.ReconcileInterval)
	if err != nil {
		return err
	}
	defer sched.Shutdown()

	var limiter middleware.Limiter
	if client := newRedisClient(config.RedisURL); client != nil {
		defer client.Close()
		limiter = middleware.NewRedisLimiter(client)
	}

	gate := auth.NewJWTGate(config.JWTSecret)
	h := handlers.New(engine, workflow)

	app := fiber.New()
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowMethods: "GET,POST,OPTIONS",
		AllowHeaders: "Authorization,Content-Type",
	}))

	app.Get("/health", handlers.HealthHandler(store.DB))

	apiRoutes := app.Group("/api", middleware.AuthMiddleware(gate))
	apiRoutes.Post("/points/actions", middleware.RateLimit(limiter, "points", config.RateLimitPerMinute), h.PointsActionsHandler)
	apiRoutes.Post("/withdrawals/actions", middleware.RateLimit(limiter, "withdrawals", config.RateLimitPerMinute), h.WithdrawalActionsHandler)

	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		<-quit
		logger.Log.Info("Shutting down server")
		if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
			logger.Log.Error("Server shutdown failed", zap.Error(err))
		}
	}()

	logger.Log.Info("Running server", zap.String("address", config.RunAddress))
	return app.Listen(config.RunAddress)
}

// newRedisClient returns nil when rate limiting cannot be backed by Redis.
func newRedisClient(redisURL string) *redis.Client {
	if strings.TrimSpace(redisURL) == "" {
		logger.Log.Info("Redis url missing, rate limiting disabled")
		return nil
	}

	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		logger.Log.Warn("Redis url parse failed, rate limiting disabled", zap.Error(err))
		return nil
	}

	client := redis.NewClient(opts)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		logger.Log.Warn("Redis ping failed, rate limiting disabled", zap.Error(err))
		client.Close()
		return nil
	}
	return client
}
