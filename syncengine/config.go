// Copyright 2025 Trailsense
// SPDX-License-Identifier: Apache-2.0

package syncengine

import (
	"log/slog"
	"time"
)

// Config holds tuning knobs and injectable collaborators for the engine.
// Zero-value collaborator fields fall back to real implementations in
// NewEngine (system clock, no-op events, default logger). Prober has no
// fallback: when nil the poll is disabled and the monitor runs push-only.
type Config struct {
	// SettleDelay is the debounce applied after an offline->online
	// transition before the automatic sync pass starts.
	SettleDelay time.Duration

	// PollInterval is how often the monitor re-reads reachability as a
	// fallback for platforms with unreliable push signals.
	PollInterval time.Duration

	// FlatRetryLimit is the attempt cap for photo/survey queue items.
	// Reaching it marks the item failed, terminally.
	FlatRetryLimit int

	// PruneDelay is how long completed flat-queue items stay visible
	// before being pruned from the persisted sequence.
	PruneDelay time.Duration

	// MaxArtifactRetries caps upload attempts for routes and guides.
	// 0 means unbounded: the orchestrator never gives up on a user's
	// artifact, it just keeps counting.
	MaxArtifactRetries int

	// OutboxRetryLimit is the send-attempt cap for backup notifications.
	// Capped entries are skipped, not deleted.
	OutboxRetryLimit int

	// OutboxRetention is how long sent backup notifications are kept
	// before the post-drain prune removes them.
	OutboxRetention time.Duration

	// RelayPayloadLimit truncates notification content before handing it
	// to the relay, which has a hard payload ceiling.
	RelayPayloadLimit int

	Logger *slog.Logger
	Clock  Clock
	Events Events

	// Prober feeds the monitor's poll fallback, typically HTTPProber
	// against the remote store. Nil means push signals only.
	Prober Prober
}

// DefaultConfig returns production defaults.
func DefaultConfig() *Config {
	return &Config{
		SettleDelay:        3 * time.Second,
		PollInterval:       30 * time.Second,
		FlatRetryLimit:     3,
		PruneDelay:         2 * time.Second,
		MaxArtifactRetries: 0,
		OutboxRetryLimit:   3,
		OutboxRetention:    30 * 24 * time.Hour,
		RelayPayloadLimit:  10 * 1024,
	}
}
