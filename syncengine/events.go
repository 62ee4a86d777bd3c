// Copyright 2025 Trailsense
// SPDX-License-Identifier: Apache-2.0

package syncengine

// Counts is the externally visible pending-work indicator for the flat
// queues.
type Counts struct {
	Photos  int
	Surveys int
	Total   int
}

// Summary aggregates one sync or drain pass. Skipped is true when the pass
// was a no-op (another pass running, offline, or nothing configured).
type Summary struct {
	Succeeded int
	Failed    int
	Skipped   bool
}

// Events receives fire-and-forget notifications for the presentation layer.
// Implementations must not block; the engine calls them inline on its own
// paths.
type Events interface {
	PendingCountsChanged(Counts)
	ConnectivityChanged(online bool)
	SyncCompleted(Summary)
}

// NopEvents discards all notifications.
type NopEvents struct{}

func (NopEvents) PendingCountsChanged(Counts) {}
func (NopEvents) ConnectivityChanged(bool)    {}
func (NopEvents) SyncCompleted(Summary)       {}
