package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/complyflow/policy-workflow/internal/escalation"
)

// EscalationWorker runs the escalation sweep on a fixed interval. Escalation
// is purely timer-driven: nothing fires when a decision crosses its due date,
// only when the next sweep observes it overdue.
type EscalationWorker struct {
	sweeper *escalation.Sweeper
	logger  *zap.Logger

	sweepInterval time.Duration

	mu        sync.Mutex
	isRunning bool
	ctx       context.Context
	cancel    context.CancelFunc
	done      chan struct{}
}

// NewEscalationWorker creates a new escalation worker
func NewEscalationWorker(sweeper *escalation.Sweeper, sweepInterval time.Duration, logger *zap.Logger) *EscalationWorker {
	if sweepInterval <= 0 {
		sweepInterval = time.Hour
	}
	return &EscalationWorker{
		sweeper:       sweeper,
		logger:        logger,
		sweepInterval: sweepInterval,
	}
}

// Start starts the sweep loop
func (w *EscalationWorker) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.isRunning {
		return fmt.Errorf("escalation worker is already running")
	}

	w.ctx, w.cancel = context.WithCancel(ctx)
	w.isRunning = true
	w.done = make(chan struct{})

	w.logger.Info("EscalationWorker started",
		zap.Duration("sweep_interval", w.sweepInterval))

	go w.sweepLoop()

	return nil
}

// Stop stops the sweep loop and waits for an in-flight sweep to finish
func (w *EscalationWorker) Stop() {
	w.mu.Lock()
	if !w.isRunning {
		w.mu.Unlock()
		return
	}
	w.isRunning = false
	w.cancel()
	done := w.done
	w.mu.Unlock()

	<-done
	w.logger.Info("EscalationWorker stopped")
}

// Name returns the worker name for identification
func (w *EscalationWorker) Name() string {
	return "EscalationWorker"
}

func (w *EscalationWorker) sweepLoop() {
	defer close(w.done)

	ticker := time.NewTicker(w.sweepInterval)
	defer ticker.Stop()

	// Sweep immediately on start
	w.sweep()

	for {
		select {
		case <-w.ctx.Done():
			w.logger.Debug("Sweep loop context cancelled")
			return

		case <-ticker.C:
			w.sweep()
		}
	}
}

func (w *EscalationWorker) sweep() {
	ctx, cancel := context.WithTimeout(w.ctx, 5*time.Minute)
	defer cancel()

	if _, err := w.sweeper.Run(ctx); err != nil {
		w.logger.Error("Escalation sweep failed", zap.Error(err))
	}
}
