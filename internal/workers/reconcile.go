package workers

import (
	"context"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/sol1corejz/affiliate-ledger/internal/logger"
	"github.com/sol1corejz/affiliate-ledger/internal/points"
	"go.uber.org/zap"
)

const reconcileTimeout = time.Minute

// Reconciler replays the points ledger and reports accounts whose balance
// disagrees with it.
type Reconciler interface {
	Reconcile(ctx context.Context) ([]points.Drift, error)
}

// InitReconciliation schedules a drift check every interval. The caller
// owns the returned scheduler and must shut it down.
func InitReconciliation(r Reconciler, interval time.Duration) (gocron.Scheduler, error) {
	sched, err := gocron.NewScheduler()
	if err != nil {
		return nil, err
	}

	_, err = sched.NewJob(
		gocron.DurationJob(interval),
		gocron.NewTask(func() { checkLedgerDrift(r) }),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		_ = sched.Shutdown()
		return nil, err
	}

	sched.Start()
	logger.Log.Info("Ledger reconciliation worker started", zap.Duration("interval", interval))
	return sched, nil
}

func checkLedgerDrift(r Reconciler) int {
	ctx, cancel := context.WithTimeout(context.Background(), reconcileTimeout)
	defer cancel()

	drifts, err := r.Reconcile(ctx)
	if err != nil {
		logger.Log.Error("Ledger reconciliation failed", zap.Error(err))
	}

	for _, d := range drifts {
		logger.Log.Warn("Points balance drift",
			zap.String("userID", d.UserID.String()),
			zap.Int64("currentBalance", d.CurrentBalance),
			zap.Int64("replayedBalance", d.ReplayedBalance),
			zap.Int64("lastSnapshot", d.LastSnapshot))
	}

	if err == nil && len(drifts) == 0 {
		logger.Log.Debug("Ledger reconciled, no drift")
	}
	return len(drifts)
}
