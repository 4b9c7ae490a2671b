package livecount

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/arfve/launchsite/internal/notify"
)

const notifyTimeout = 10 * time.Second

// MilestoneTracker notifies each time the count crosses a multiple of step,
// and once when the count reaches total. The first observed count only sets
// the baseline so restarts do not repeat old milestones.
type MilestoneTracker struct {
	notifier notify.Notifier
	step     int
	logger   *zap.Logger

	mu          sync.Mutex
	initialized bool
	last        int
	soldOut     bool

	// send runs a notification; replaced in tests.
	send func(fn func(ctx context.Context) error)
}

func NewMilestoneTracker(notifier notify.Notifier, step int, logger *zap.Logger) *MilestoneTracker {
	m := &MilestoneTracker{
		notifier: notifier,
		step:     step,
		logger:   logger,
	}
	m.send = m.sendAsync
	return m
}

// Observe is an ObserverFunc.
func (m *MilestoneTracker) Observe(count, total int) {
	if m.step <= 0 {
		return
	}

	m.mu.Lock()
	milestone := count / m.step * m.step

	if !m.initialized {
		m.initialized = true
		m.last = milestone
		m.soldOut = count >= total
		m.mu.Unlock()
		return
	}

	crossed := milestone > m.last && milestone > 0
	if crossed {
		m.last = milestone
	}
	full := !m.soldOut && count >= total
	if full {
		m.soldOut = true
	}
	m.mu.Unlock()

	if crossed {
		m.logger.Info("subscriber milestone reached", zap.Int("milestone", milestone), zap.Int("count", count))
		m.send(func(ctx context.Context) error {
			return m.notifier.SendMilestone(ctx, milestone, total)
		})
	}
	if full {
		m.logger.Info("subscriber capacity reached", zap.Int("count", count), zap.Int("total", total))
		m.send(func(ctx context.Context) error {
			return m.notifier.SendSoldOut(ctx, count, total)
		})
	}
}

func (m *MilestoneTracker) sendAsync(fn func(ctx context.Context) error) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), notifyTimeout)
		defer cancel()
		if err := fn(ctx); err != nil {
			m.logger.Warn("milestone notification failed", zap.Error(err))
		}
	}()
}
