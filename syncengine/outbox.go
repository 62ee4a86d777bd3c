// Copyright 2025 Trailsense
// SPDX-License-Identifier: Apache-2.0

package syncengine

import (
	"context"
	"encoding/json"
	"time"
	"unicode/utf8"

	"github.com/trailsense/go-trailsync/localstore"
)

// enqueueBackup snapshots a just-saved artifact into the outbox. The copy is
// taken here so later mutation of the source record cannot alter the queued
// payload. Outbox loss is non-fatal: failure is logged, never surfaced to
// the producer.
func (e *Engine) enqueueBackup(ctx context.Context, kind localstore.NotificationKind, a *localstore.Artifact) {
	snapshot, err := json.Marshal(struct {
		LocalID   int64            `json:"localId"`
		Owner     localstore.Owner `json:"owner"`
		CreatedAt time.Time        `json:"createdAt"`
		Payload   json.RawMessage  `json:"payload"`
	}{a.LocalID, a.Owner, a.CreatedAt, append(json.RawMessage(nil), a.Payload...)})
	if err != nil {
		e.logger.Warn("failed to snapshot artifact for backup", "kind", kind, "error", err)
		return
	}
	n := &localstore.BackupNotification{
		Kind:      kind,
		Payload:   snapshot,
		CreatedAt: e.clock.Now().UTC(),
	}
	if _, err := e.store.InsertNotification(ctx, n); err != nil {
		e.logger.Warn("failed to enqueue backup notification", "kind", kind, "error", err)
	}
}

// DrainOutbox delivers unsent backup notifications to the relay. It requires
// the relay to be configured and the network to be reachable; entries at the
// retry cap are skipped, not deleted. Marking sent is idempotent, so a
// racing drain re-sends at most once and never corrupts state.
func (e *Engine) DrainOutbox(ctx context.Context) (Summary, error) {
	if e.relay == nil || !e.relay.Configured() {
		// Not an error: the backup channel is simply disabled.
		e.logger.Debug("backup relay not configured, skipping outbox drain")
		return Summary{Skipped: true}, nil
	}
	if !e.monitor.Online() {
		return Summary{Skipped: true}, ErrNetworkUnavailable
	}

	unsent, err := e.store.UnsentNotifications(ctx)
	if err != nil {
		return Summary{}, err
	}

	var summary Summary
	for _, n := range unsent {
		if n.RetryCount >= e.cfg.OutboxRetryLimit {
			continue
		}
		if err := e.relay.Send(ctx, e.relayVars(n)); err != nil {
			if bumpErr := e.store.BumpNotificationRetry(ctx, n.ID); bumpErr != nil {
				e.logger.Warn("failed to bump notification retry", "id", n.ID, "error", bumpErr)
			}
			summary.Failed++
			e.logger.Warn("backup notification send failed", "id", n.ID,
				"kind", n.Kind, "retries", n.RetryCount+1, "error", err)
			continue
		}
		if err := e.store.MarkNotificationSent(ctx, n.ID, e.clock.Now()); err != nil {
			e.logger.Warn("failed to mark notification sent", "id", n.ID, "error", err)
			summary.Failed++
			continue
		}
		summary.Succeeded++
	}

	if len(unsent) == 0 {
		summary.Skipped = true
	}

	// Retention: sent entries are not kept forever, they age out after
	// the configured window.
	if e.cfg.OutboxRetention > 0 {
		cutoff := e.clock.Now().Add(-e.cfg.OutboxRetention)
		if n, err := e.store.PruneSentNotifications(ctx, cutoff); err != nil {
			e.logger.Warn("failed to prune sent notifications", "error", err)
		} else if n > 0 {
			e.logger.Info("pruned sent backup notifications", "count", n)
		}
	}
	return summary, nil
}

// relayVars builds the template variables for one notification. Content
// beyond the configured limit is truncated because the relay has a hard
// payload ceiling.
func (e *Engine) relayVars(n *localstore.BackupNotification) map[string]string {
	content := string(n.Payload)
	if limit := e.cfg.RelayPayloadLimit; limit > 0 && len(content) > limit {
		// Back off to a rune boundary so the relay never receives a
		// split UTF-8 sequence.
		for limit > 0 && !utf8.RuneStart(content[limit]) {
			limit--
		}
		content = content[:limit]
	}
	return map[string]string{
		"kind":       string(n.Kind),
		"created_at": n.CreatedAt.Format(time.RFC3339),
		"content":    content,
	}
}
