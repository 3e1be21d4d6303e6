package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/spec-kit/helpdesk-engine/internal/lock"
	"github.com/spec-kit/helpdesk-engine/internal/service"
)

// SweepLockName keeps concurrent workers on different nodes from sweeping at once.
const SweepLockName = "escalation_sweep"

// Sweeper runs one escalation pass.
type Sweeper interface {
	Sweep(ctx context.Context) (service.SweepResult, error)
}

// EscalationWorker triggers escalation sweeps on a cron schedule.
type EscalationWorker struct {
	sweeper  Sweeper
	locker   lock.Locker
	lockOpts lock.Options
	logger   *zap.Logger
	cron     *cron.Cron
	timeout  time.Duration
}

// NewEscalationWorker schedules sweeps. Runs that would overlap a still
// running sweep in this process are skipped.
func NewEscalationWorker(sweeper Sweeper, locker lock.Locker, schedule string, timeout time.Duration, logger *zap.Logger) (*EscalationWorker, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if timeout <= 0 {
		timeout = time.Minute
	}
	logger = logger.Named("escalation_worker")
	cronLog := cronLogger{logger.Sugar()}
	w := &EscalationWorker{
		sweeper: sweeper,
		locker:  locker,
		// the sweep lock outlives a stuck run by at most the timeout and is never waited for
		lockOpts: lock.Options{Timeout: timeout},
		logger:   logger,
		cron:     cron.New(cron.WithLogger(cronLog), cron.WithChain(cron.Recover(cronLog), cron.SkipIfStillRunning(cronLog))),
		timeout:  timeout,
	}
	if _, err := w.cron.AddFunc(schedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), w.timeout)
		defer cancel()
		if err := w.RunOnce(ctx); err != nil {
			w.logger.Error("escalation sweep failed", zap.Error(err))
		}
	}); err != nil {
		return nil, fmt.Errorf("invalid sweep schedule %q: %w", schedule, err)
	}
	return w, nil
}

// Start launches the cron scheduler.
func (w *EscalationWorker) Start() {
	if w == nil || w.cron == nil {
		return
	}
	w.cron.Start()
	w.logger.Info("escalation worker started")
}

// Stop gracefully stops the scheduler, waiting for a running sweep or ctx.
func (w *EscalationWorker) Stop(ctx context.Context) {
	if w == nil || w.cron == nil {
		return
	}
	stopCtx := w.cron.Stop()
	select {
	case <-stopCtx.Done():
	case <-ctx.Done():
	}
	w.logger.Info("escalation worker stopped")
}

// RunOnce sweeps while holding the cluster-wide sweep lock. A sweep already
// running elsewhere is not an error.
func (w *EscalationWorker) RunOnce(ctx context.Context) error {
	err := lock.WithLock(ctx, w.locker, SweepLockName, w.lockOpts, func(ctx context.Context) error {
		result, err := w.sweeper.Sweep(ctx)
		if err != nil {
			return err
		}
		if result.Failed > 0 {
			w.logger.Warn("escalation sweep had failures",
				zap.Int("failed", result.Failed), zap.Int("escalated", result.Escalated))
		}
		return nil
	})
	if errors.Is(err, lock.ErrAcquisition) {
		w.logger.Debug("escalation sweep already running")
		return nil
	}
	return err
}

// cronLogger routes cron's own logging through zap.
type cronLogger struct {
	s *zap.SugaredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.s.Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.s.Errorw(msg, append(keysAndValues, "error", err)...)
}
