package offline

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/MrSnakeDoc/pinbook/internal/logger"
	"github.com/MrSnakeDoc/pinbook/internal/pinboard"
	"github.com/MrSnakeDoc/pinbook/internal/utils"
	"github.com/MrSnakeDoc/pinbook/internal/version"
)

// Prober checks whether the remote is reachable.
type Prober func(ctx context.Context) error

// HTTPProber sends HEAD to target. Any HTTP answer counts as reachable; only
// transport failures mean offline.
func HTTPProber(client *http.Client, target string) Prober {
	return func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodHead, target, nil)
		if err != nil {
			return err
		}
		req.Header.Set("User-Agent", version.UserAgent())
		resp, err := client.Do(req)
		if err != nil {
			return err
		}
		utils.CloseBody(resp.Body)
		return nil
	}
}

// Monitor tracks connectivity from probes and real request outcomes, and
// notifies subscribers when the process comes back online.
type Monitor struct {
	prober Prober
	log    logger.Logger

	mu      sync.Mutex
	online  bool
	changed time.Time
	nextID  int
	subs    map[int]func()
	wg      sync.WaitGroup
}

func NewMonitor(prober Prober, log logger.Logger) *Monitor {
	if log == nil {
		log = logger.Nop()
	}
	return &Monitor{
		prober:  prober,
		log:     log,
		online:  true,
		changed: time.Now(),
		subs:    make(map[int]func()),
	}
}

// Online implements pinboard.Connectivity.
func (m *Monitor) Online() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.online
}

// Since returns when the current state was entered.
func (m *Monitor) Since() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.changed
}

// Observe implements pinboard.Observer: a received answer proves
// connectivity, a transport failure disproves it.
func (m *Monitor) Observe(err error) {
	switch {
	case err == nil:
		m.Set(true)
	case errors.Is(err, pinboard.ErrNetwork):
		m.Set(false)
	}
}

// Set records the connectivity state. Going from offline to online fires
// every subscriber in its own goroutine.
func (m *Monitor) Set(online bool) {
	m.mu.Lock()
	if m.online == online {
		m.mu.Unlock()
		return
	}
	m.online = online
	m.changed = time.Now()
	var fire []func()
	if online {
		fire = make([]func(), 0, len(m.subs))
		for _, fn := range m.subs {
			fire = append(fire, fn)
		}
	}
	m.mu.Unlock()

	if online {
		m.log.Info("🟢 connectivity restored", logger.Int("subscribers", len(fire)))
	} else {
		m.log.Warn("🔴 connectivity lost")
	}
	for _, fn := range fire {
		m.wg.Add(1)
		go func(fn func()) {
			defer m.wg.Done()
			fn()
		}(fn)
	}
}

// Subscribe registers fn for offline->online transitions.
func (m *Monitor) Subscribe(fn func()) (unsubscribe func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := m.nextID
	m.nextID++
	m.subs[id] = fn
	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.subs, id)
	}
}

// Probe runs the prober once and records the outcome.
func (m *Monitor) Probe(ctx context.Context) error {
	if m.prober == nil {
		return nil
	}
	err := m.prober(ctx)
	if err != nil && errors.Is(ctx.Err(), context.Canceled) {
		// shutting down, not a connectivity signal
		return err
	}
	m.Set(err == nil)
	return err
}

// Wait blocks until fired subscribers have returned.
func (m *Monitor) Wait() {
	m.wg.Wait()
}
