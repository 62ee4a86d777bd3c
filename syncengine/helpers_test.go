// Copyright 2025 Trailsense
// SPDX-License-Identifier: Apache-2.0

package syncengine

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/trailsense/go-trailsync/localstore"
)

// fakeClock drives settle-delay and prune timers deterministically.
type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	timers []*fakeTimer
}

type fakeTimer struct {
	clk     *fakeClock
	when    time.Time
	f       func()
	stopped bool
	fired   bool
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTimer{clk: c, when: c.now.Add(d), f: f}
	c.timers = append(c.timers, t)
	return t
}

func (t *fakeTimer) Stop() bool {
	t.clk.mu.Lock()
	defer t.clk.mu.Unlock()
	if t.fired || t.stopped {
		return false
	}
	t.stopped = true
	return true
}

// Advance moves the clock forward and fires due timers. Callbacks run
// outside the lock so they may schedule new timers.
func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	var due []*fakeTimer
	for _, t := range c.timers {
		if !t.stopped && !t.fired && !t.when.After(c.now) {
			t.fired = true
			due = append(due, t)
		}
	}
	c.mu.Unlock()
	for _, t := range due {
		t.f()
	}
}

func (c *fakeClock) pendingTimers() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, t := range c.timers {
		if !t.stopped && !t.fired {
			n++
		}
	}
	return n
}

// fakeRemote is an in-memory remote store with failure injection.
type fakeRemote struct {
	mu          sync.Mutex
	nextID      int
	failWrites  int // fail this many WriteArtifact calls, then succeed
	failBinary  int
	failUpdates int
	writes      []string // collections written, in order
	binaries    []string
	updates     []string
	// block, when non-nil, stalls WriteArtifact until the channel closes.
	block chan struct{}
}

func (r *fakeRemote) WriteArtifact(ctx context.Context, collection string, doc any) (string, error) {
	r.mu.Lock()
	block := r.block
	r.mu.Unlock()
	if block != nil {
		<-block
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failWrites > 0 {
		r.failWrites--
		return "", &RemoteWriteError{Op: "write artifact", StatusCode: 503}
	}
	r.nextID++
	r.writes = append(r.writes, collection)
	return fmt.Sprintf("remote-%d", r.nextID), nil
}

func (r *fakeRemote) UpdateDocument(ctx context.Context, id string, patch any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failUpdates > 0 {
		r.failUpdates--
		return &RemoteWriteError{Op: "update document", StatusCode: 503}
	}
	r.updates = append(r.updates, id)
	return nil
}

func (r *fakeRemote) UploadBinary(ctx context.Context, name string, data []byte) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failBinary > 0 {
		r.failBinary--
		return "", &RemoteWriteError{Op: "upload binary", StatusCode: 503}
	}
	r.binaries = append(r.binaries, name)
	return "https://cdn.example.com/" + name, nil
}

func (r *fakeRemote) writeCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.writes)
}

func (r *fakeRemote) binaryCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.binaries)
}

// fakeRelay records sends and injects failures.
type fakeRelay struct {
	mu         sync.Mutex
	configured bool
	failSends  int
	sent       []map[string]string
}

func (r *fakeRelay) Configured() bool { return r.configured }

func (r *fakeRelay) Send(ctx context.Context, vars map[string]string) error {
	if !r.configured {
		return ErrRelayNotConfigured
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failSends > 0 {
		r.failSends--
		return &RemoteWriteError{Op: "relay send", StatusCode: 500}
	}
	r.sent = append(r.sent, vars)
	return nil
}

func (r *fakeRelay) sendCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sent)
}

// recordingEvents captures presentation notifications.
type recordingEvents struct {
	mu           sync.Mutex
	counts       []Counts
	connectivity []bool
	summaries    []Summary
}

func (e *recordingEvents) PendingCountsChanged(c Counts) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.counts = append(e.counts, c)
}

func (e *recordingEvents) ConnectivityChanged(online bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.connectivity = append(e.connectivity, online)
}

func (e *recordingEvents) SyncCompleted(s Summary) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.summaries = append(e.summaries, s)
}

func (e *recordingEvents) connectivityCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.connectivity)
}

type testEngine struct {
	*Engine
	store  *localstore.Store
	remote *fakeRemote
	relay  *fakeRelay
	clock  *fakeClock
	events *recordingEvents
}

// newTestEngine builds an engine over a throwaway on-disk store with fake
// collaborators. The default identity is an authenticated test user; pass
// authenticated=false for the anonymous case.
func newTestEngine(t *testing.T, online, authenticated bool) *testEngine {
	t.Helper()

	store, err := localstore.Open(filepath.Join(t.TempDir(), "trailsync.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	remote := &fakeRemote{}
	relay := &fakeRelay{configured: true}
	clock := newFakeClock()
	events := &recordingEvents{}

	cfg := DefaultConfig()
	cfg.Clock = clock
	cfg.Events = events
	cfg.PollInterval = 0 // tests feed the monitor directly

	var identity IdentityProvider
	if authenticated {
		identity = StaticIdentity{Identity: Identity{
			UserID:    "user-7",
			UserEmail: "dana@example.com",
			UserName:  "Dana",
		}}
	}

	engine, err := NewEngine(store, remote, relay, identity, online, cfg)
	require.NoError(t, err)
	t.Cleanup(engine.Close)

	return &testEngine{Engine: engine, store: store, remote: remote, relay: relay, clock: clock, events: events}
}
