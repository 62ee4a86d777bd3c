// Copyright 2025 Trailsense
// SPDX-License-Identifier: Apache-2.0

package syncengine

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/trailsense/go-trailsync/localstore"
)

func TestOfflineSaveSurvivesRestartAndSyncs(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "trailsync.db")
	ctx := context.Background()

	// First process: save while offline, then die.
	store, err := localstore.Open(path)
	require.NoError(t, err)
	cfg := DefaultConfig()
	cfg.Clock = newFakeClock()
	cfg.PollInterval = 0
	engine, err := NewEngine(store, &fakeRemote{}, &fakeRelay{configured: true},
		StaticIdentity{Identity: Identity{UserID: "user-7"}}, false, cfg)
	require.NoError(t, err)

	saved, err := engine.SaveRoute(ctx, json.RawMessage(`{"name":"Loop Trail","totalDistance":4.2}`))
	require.NoError(t, err)
	engine.Close()
	require.NoError(t, store.Close())

	// Second process: the pending record is still there and uploads once
	// connectivity returns.
	store2, err := localstore.Open(path)
	require.NoError(t, err)
	defer store2.Close()
	remote := &fakeRemote{}
	cfg2 := DefaultConfig()
	clock := newFakeClock()
	cfg2.Clock = clock
	cfg2.PollInterval = 0
	engine2, err := NewEngine(store2, remote, &fakeRelay{configured: true},
		StaticIdentity{Identity: Identity{UserID: "user-7"}}, false, cfg2)
	require.NoError(t, err)
	defer engine2.Close()

	got, err := store2.Get(ctx, localstore.CollectionRoutes, saved.LocalID)
	require.NoError(t, err)
	require.Equal(t, localstore.StatusPending, got.Status)

	// The online transition schedules the automatic pass; the settle
	// delay elapses and the upload happens exactly once.
	engine2.Monitor().SetOnline(true)
	clock.Advance(cfg2.SettleDelay)

	got, err = store2.Get(ctx, localstore.CollectionRoutes, saved.LocalID)
	require.NoError(t, err)
	require.Equal(t, localstore.StatusUploaded, got.Status)
	require.NotEmpty(t, got.RemoteID)
	require.Equal(t, 1, remote.writeCount())
}

func TestPendingCountEventsFire(t *testing.T) {
	te := newTestEngine(t, false, true)
	ctx := context.Background()

	_, err := te.QueuePhoto(ctx, json.RawMessage(`{}`), QueueContext{})
	require.NoError(t, err)
	_, err = te.QueueSurvey(ctx, json.RawMessage(`{}`), QueueContext{})
	require.NoError(t, err)

	te.events.mu.Lock()
	defer te.events.mu.Unlock()
	require.NotEmpty(t, te.events.counts)
	last := te.events.counts[len(te.events.counts)-1]
	require.Equal(t, Counts{Photos: 1, Surveys: 1, Total: 2}, last)
}

func TestSyncCompletedEventCarriesTallies(t *testing.T) {
	te := newTestEngine(t, false, true)
	ctx := context.Background()
	_, err := te.SaveRoute(ctx, json.RawMessage(`{}`))
	require.NoError(t, err)
	_, err = te.SaveTrailGuide(ctx, json.RawMessage(`{}`))
	require.NoError(t, err)
	te.Monitor().SetOnline(true)

	te.remote.mu.Lock()
	te.remote.failWrites = 1
	te.remote.mu.Unlock()

	_, err = te.SyncAll(ctx)
	require.NoError(t, err)

	te.events.mu.Lock()
	defer te.events.mu.Unlock()
	require.Len(t, te.events.summaries, 1)
	require.Equal(t, Summary{Succeeded: 1, Failed: 1}, te.events.summaries[0])
}

func TestEngineCloseStopsPendingTimers(t *testing.T) {
	te := newTestEngine(t, false, true)
	ctx := context.Background()
	_, err := te.SaveRoute(ctx, json.RawMessage(`{}`))
	require.NoError(t, err)

	te.Monitor().SetOnline(true)
	require.Equal(t, 1, te.clock.pendingTimers())

	te.Close()
	te.clock.Advance(te.cfg.SettleDelay + te.cfg.PruneDelay)
	require.Equal(t, 0, te.remote.writeCount(), "no sync after teardown")
}
