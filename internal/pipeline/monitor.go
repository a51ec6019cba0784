package pipeline

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"policywatch/internal/logger"
)

// Runner is the part of Orchestrator the monitor drives.
type Runner interface {
	RunCollection(ctx context.Context, countries []string) (*Result, error)
}

// Monitor runs a collection every interval. After a failed run it waits
// retryAfter instead.
type Monitor struct {
	runner     Runner
	logger     *logger.Logger
	lastResult *Result
	interval   time.Duration
	retryAfter time.Duration
	runs       atomic.Int64
	mu         sync.Mutex
}

// NewMonitor creates a monitor.
func NewMonitor(runner Runner, interval, retryAfter time.Duration, log *logger.Logger) *Monitor {
	if log == nil {
		log = logger.NewNop()
	}

	return &Monitor{
		runner:     runner,
		logger:     log,
		interval:   interval,
		retryAfter: retryAfter,
	}
}

// SetSchedule replaces the intervals. It takes effect after the current wait.
func (m *Monitor) SetSchedule(interval, retryAfter time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.interval = interval
	m.retryAfter = retryAfter
}

// Runs returns how many collections the monitor has started.
func (m *Monitor) Runs() int64 {
	return m.runs.Load()
}

// LastResult returns the result of the most recent collection, or nil.
func (m *Monitor) LastResult() *Result {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.lastResult
}

// Run blocks until ctx is canceled. The first collection starts immediately.
func (m *Monitor) Run(ctx context.Context) error {
	m.logger.Info("policy monitoring started")

	for {
		wait := m.tick(ctx)

		if ctx.Err() != nil {
			m.logger.Info("policy monitoring stopped")

			return nil
		}

		timer := time.NewTimer(wait)

		select {
		case <-ctx.Done():
			timer.Stop()
			m.logger.Info("policy monitoring stopped")

			return nil
		case <-timer.C:
		}
	}
}

// tick runs one collection and returns how long to wait before the next.
func (m *Monitor) tick(ctx context.Context) time.Duration {
	m.runs.Add(1)

	res, err := m.runner.RunCollection(ctx, nil)

	m.mu.Lock()
	m.lastResult = res
	interval, retryAfter := m.interval, m.retryAfter
	m.mu.Unlock()

	switch {
	case err != nil:
		m.logger.Error("monitoring run failed", "error", err, "retry_in", retryAfter)

		return retryAfter
	case res != nil && res.Status == StatusError:
		m.logger.Error("monitoring run failed", "error", res.Message, "retry_in", retryAfter)

		return retryAfter
	default:
		changes := 0
		if res != nil {
			changes = res.ChangesDetected
		}

		if changes > 0 {
			m.logger.Info("policy changes detected", "changes", changes, "next_in", interval)
		} else {
			m.logger.Info("no policy changes detected", "next_in", interval)
		}

		return interval
	}
}
