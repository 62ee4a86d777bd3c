// Copyright 2025 Trailsense
// SPDX-License-Identifier: Apache-2.0

package syncengine

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"
)

// Prober reports current network reachability. The default implementation
// issues a HEAD request against the remote store; tests inject their own.
type Prober func(ctx context.Context) bool

// HTTPProber probes reachability of the given URL with a short timeout.
func HTTPProber(url string) Prober {
	client := &http.Client{Timeout: 5 * time.Second}
	return func(ctx context.Context) bool {
		req, err := http.NewRequestWithContext(ctx, http.MethodHead, url, nil)
		if err != nil {
			return false
		}
		resp, err := client.Do(req)
		if err != nil {
			return false
		}
		resp.Body.Close()
		return true
	}
}

// Monitor owns the online/offline state. Push-style platform signals
// (SetOnline) and the periodic poll both feed the same transition function,
// so duplicate signals from either source are idempotent. An offline->online
// transition with pending work schedules exactly one sync pass after the
// settle delay.
type Monitor struct {
	mu          sync.Mutex
	online      bool
	closed      bool
	settleTimer Timer

	clock        Clock
	settleDelay  time.Duration
	pollInterval time.Duration
	prober       Prober
	events       Events
	logger       *slog.Logger

	// pendingWork reports how many items are waiting for upload; the
	// settle timer is only armed when it is nonzero.
	pendingWork func(ctx context.Context) int
	// trigger runs the automatic sync pass. It must tolerate immediate
	// failure: the settle delay is a debounce, not a readiness guarantee.
	trigger func()

	stop chan struct{}
}

func newMonitor(initialOnline bool, cfg *Config, pendingWork func(ctx context.Context) int, trigger func()) *Monitor {
	return &Monitor{
		online:       initialOnline,
		clock:        cfg.Clock,
		settleDelay:  cfg.SettleDelay,
		pollInterval: cfg.PollInterval,
		prober:       cfg.Prober,
		events:       cfg.Events,
		logger:       cfg.Logger,
		pendingWork:  pendingWork,
		trigger:      trigger,
		stop:         make(chan struct{}),
	}
}

// Online reports the current connectivity state.
func (m *Monitor) Online() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.online
}

// SetOnline is the push-signal entry point. Redundant signals are no-ops.
func (m *Monitor) SetOnline(online bool) {
	m.transition(online)
}

// Start launches the poll fallback. Platform push notifications for
// connectivity are not always reliable; the poll re-reads reachability and
// feeds the same transition function.
func (m *Monitor) Start(ctx context.Context) {
	if m.prober == nil || m.pollInterval <= 0 {
		return
	}
	go func() {
		ticker := time.NewTicker(m.pollInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-m.stop:
				return
			case <-ticker.C:
				m.transition(m.prober(ctx))
			}
		}
	}()
}

// Close tears the monitor down. Timer callbacks already in flight observe
// the closed flag and return without side effects; there is no guaranteed
// cleanup ordering otherwise.
func (m *Monitor) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	if m.settleTimer != nil {
		m.settleTimer.Stop()
		m.settleTimer = nil
	}
	m.mu.Unlock()
	close(m.stop)
}

// transition is the single place connectivity state changes. Both signal
// sources route through it, which keeps double-triggering down to at most a
// wasted attempt.
func (m *Monitor) transition(online bool) {
	m.mu.Lock()
	if m.closed || online == m.online {
		m.mu.Unlock()
		return
	}
	m.online = online
	m.mu.Unlock()

	if m.logger != nil {
		m.logger.Info("connectivity changed", "online", online)
	}
	if m.events != nil {
		m.events.ConnectivityChanged(online)
	}
	if online {
		m.scheduleSync()
	}
}

func (m *Monitor) scheduleSync() {
	if m.pendingWork == nil || m.trigger == nil {
		return
	}
	if m.pendingWork(context.Background()) == 0 {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed || m.settleTimer != nil {
		// A settle timer is already pending; don't re-arm.
		return
	}
	m.settleTimer = m.clock.AfterFunc(m.settleDelay, m.settleFired)
}

func (m *Monitor) settleFired() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.settleTimer = nil
	trigger := m.trigger
	m.mu.Unlock()
	trigger()
}
