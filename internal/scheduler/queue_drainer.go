package scheduler

import (
	"context"
	"time"

	"github.com/MrSnakeDoc/pinbook/internal/logger"
)

// Drainer replays every offline queue. *session.Manager implements it.
type Drainer interface {
	DrainAll(ctx context.Context) (int, error)
}

// Prober checks connectivity and records the outcome. *offline.Monitor
// implements it.
type Prober interface {
	Probe(ctx context.Context) error
	Online() bool
}

// QueueDrainer periodically replays queued edits. A reconnect already
// triggers a drain per session; the schedule catches actions that failed
// for other reasons (server errors, rate limits).
type QueueDrainer struct {
	drainer       Drainer
	prober        Prober
	logger        logger.Logger
	interval      time.Duration
	timeout       time.Duration
	stopCh        chan struct{}
	manualTrigger chan struct{}
}

// NewQueueDrainer creates a new queue drainer. manualTrigger may be nil.
func NewQueueDrainer(
	drainer Drainer,
	prober Prober,
	log logger.Logger,
	interval time.Duration,
	manualTrigger chan struct{},
) *QueueDrainer {
	return &QueueDrainer{
		drainer:       drainer,
		prober:        prober,
		logger:        log,
		interval:      interval,
		timeout:       time.Minute,
		stopCh:        make(chan struct{}),
		manualTrigger: manualTrigger,
	}
}

// Start begins the periodic drain process
func (qd *QueueDrainer) Start(ctx context.Context) error {
	ticker := time.NewTicker(qd.interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				qd.Drain(ctx)
			case <-qd.manualTrigger:
				qd.logger.Info("manual queue drain triggered")
				qd.Drain(ctx)
			case <-qd.stopCh:
				return
			case <-ctx.Done():
				return
			}
		}
	}()

	return nil
}

// Stop stops the drainer
func (qd *QueueDrainer) Stop() {
	close(qd.stopCh)
}

// Drain probes connectivity when offline, then drains every queue. It
// returns the number of actions that went through.
func (qd *QueueDrainer) Drain(ctx context.Context) int {
	ctx, cancel := context.WithTimeout(ctx, qd.timeout)
	defer cancel()

	if qd.prober != nil && !qd.prober.Online() {
		if err := qd.prober.Probe(ctx); err != nil {
			qd.logger.Debug("still offline, drain skipped", logger.Error(err))
			return 0
		}
	}

	n, err := qd.drainer.DrainAll(ctx)
	if err != nil {
		qd.logger.Error("failed to drain offline queues", logger.Error(err))
	}
	if n > 0 {
		qd.logger.Info("offline queues drained", logger.Int("succeeded", n))
	}
	return n
}
