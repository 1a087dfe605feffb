package automation

import (
	"context"
	"sync"
	"time"
)

// DefaultSweepInterval is how often the ticker looks for due rules.
const DefaultSweepInterval = time.Minute

// ScheduledProcessor is implemented by Orchestrator.
type ScheduledProcessor interface {
	ProcessScheduled(ctx context.Context) ScheduledSummary
}

// Ticker runs scheduled sweeps on a fixed interval. Sweeps never overlap:
// the next tick is only consumed after the previous sweep returns.
type Ticker struct {
	processor ScheduledProcessor
	interval  time.Duration
	logger    Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewTicker creates a ticker. A non-positive interval selects DefaultSweepInterval.
func NewTicker(processor ScheduledProcessor, interval time.Duration, logger Logger) *Ticker {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	if logger == nil {
		logger = noopLogger{}
	}
	return &Ticker{processor: processor, interval: interval, logger: logger}
}

// Start begins sweeping until ctx is cancelled or Stop is called. Calling
// Start on a running ticker does nothing.
func (t *Ticker) Start(ctx context.Context) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.cancel != nil {
		return
	}
	ctx, t.cancel = context.WithCancel(ctx)

	t.wg.Add(1)
	go t.loop(ctx)
	t.logger.Info("schedule ticker started", "interval", t.interval.String())
}

// Stop halts the ticker and waits for an in-flight sweep to finish.
func (t *Ticker) Stop() {
	t.mu.Lock()
	cancel := t.cancel
	t.cancel = nil
	t.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	t.wg.Wait()
	t.logger.Info("schedule ticker stopped")
}

func (t *Ticker) loop(ctx context.Context) {
	defer t.wg.Done()

	tk := time.NewTicker(t.interval)
	defer tk.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-tk.C:
			t.sweep(ctx)
		}
	}
}

func (t *Ticker) sweep(ctx context.Context) {
	summary := t.processor.ProcessScheduled(ctx)
	if summary.RulesProcessed == 0 && len(summary.Errors) == 0 {
		return
	}
	t.logger.Info("scheduled sweep complete",
		"processed", summary.RulesProcessed,
		"succeeded", summary.RulesSucceeded,
		"failed", summary.RulesFailed,
	)
	for _, e := range summary.Errors {
		t.logger.Warn("scheduled sweep error", "error", e)
	}
}
