// Package worker runs relayed scan requests through the scanner.
package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/pagewatch/internal/monitor"
)

// Runner executes one scan run.
type Runner interface {
	Run(ctx context.Context, urls []string) (monitor.ScanReport, error)
}

// Config controls Worker behavior.
type Config struct {
	// RunBudget bounds a single scan run. Zero disables the deadline.
	RunBudget time.Duration
}

// Worker consumes scan requests and executes them one at a time.
type Worker struct {
	consumer monitor.Consumer
	runner   Runner
	cfg      Config
	logger   *zap.Logger
}

// New constructs a Worker.
func New(consumer monitor.Consumer, runner Runner, cfg Config, logger *zap.Logger) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Worker{
		consumer: consumer,
		runner:   runner,
		cfg:      cfg,
		logger:   logger,
	}
}

// Run blocks, consuming requests until the context finishes.
func (w *Worker) Run(ctx context.Context) error {
	if w.consumer == nil {
		return errors.New("worker has no consumer")
	}
	w.logger.Info("worker started", zap.Duration("run_budget", w.cfg.RunBudget))
	err := w.consumer.Consume(ctx, w.Handle)
	w.logger.Info("worker stopped")
	return err
}

// Handle runs a single request under the run budget. The error is returned
// so the relay can decide whether to redeliver.
func (w *Worker) Handle(ctx context.Context, req monitor.ScanRequest) error {
	if w.runner == nil {
		return errors.New("worker has no scanner")
	}
	logger := w.logger.With(zap.String("request_id", req.RequestID), zap.Int("urls", len(req.URLs)))
	if !req.Valid() {
		logger.Error("dropping scan request without urls array")
		return nil
	}
	if req.RequestedAt != nil {
		logger = logger.With(zap.Duration("queue_delay", time.Since(*req.RequestedAt)))
	}

	runCtx, cancel := WithBudget(ctx, w.cfg.RunBudget)
	defer cancel()

	logger.Info("scan run started")
	started := time.Now()
	report, err := w.runner.Run(runCtx, req.URLs)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			logger.Error("scan run exceeded budget", zap.Duration("elapsed", time.Since(started)), zap.Error(err))
		} else {
			logger.Error("scan run failed", zap.Duration("elapsed", time.Since(started)), zap.Error(err))
		}
		return fmt.Errorf("scan request %s: %w", req.RequestID, err)
	}
	logger.Info("scan run complete",
		zap.Int("entries", len(report.ReportData)),
		zap.Int("changes", countChanges(report)),
		zap.Duration("elapsed", time.Since(started)),
	)
	return nil
}

// WithBudget derives a context bounded by budget; a non-positive budget only
// adds cancellation.
func WithBudget(ctx context.Context, budget time.Duration) (context.Context, context.CancelFunc) {
	if budget <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, budget)
}

func countChanges(report monitor.ScanReport) int {
	n := 0
	for _, e := range report.ReportData {
		if e.ChangeDetected {
			n++
		}
	}
	return n
}
