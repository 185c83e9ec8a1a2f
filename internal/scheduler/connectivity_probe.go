package scheduler

import (
	"context"
	"time"

	"github.com/MrSnakeDoc/pinbook/internal/logger"
)

// ConnectivityProbe periodically checks that Pinboard is reachable. The
// monitor fires its reconnect subscribers when a probe succeeds after a
// failure.
type ConnectivityProbe struct {
	prober   Prober
	logger   logger.Logger
	interval time.Duration
	timeout  time.Duration
	stopCh   chan struct{}
}

// NewConnectivityProbe creates a new probe runner
func NewConnectivityProbe(prober Prober, log logger.Logger, interval, timeout time.Duration) *ConnectivityProbe {
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	return &ConnectivityProbe{
		prober:   prober,
		logger:   log,
		interval: interval,
		timeout:  timeout,
		stopCh:   make(chan struct{}),
	}
}

// Start probes once, then on every tick.
func (cp *ConnectivityProbe) Start(ctx context.Context) error {
	cp.Check(ctx)

	ticker := time.NewTicker(cp.interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				cp.Check(ctx)
			case <-cp.stopCh:
				return
			case <-ctx.Done():
				return
			}
		}
	}()

	return nil
}

// Stop stops the probe
func (cp *ConnectivityProbe) Stop() {
	close(cp.stopCh)
}

// Check runs a single probe.
func (cp *ConnectivityProbe) Check(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, cp.timeout)
	defer cancel()

	if err := cp.prober.Probe(ctx); err != nil {
		cp.logger.Debug("connectivity probe failed", logger.Error(err))
		return false
	}
	return true
}
