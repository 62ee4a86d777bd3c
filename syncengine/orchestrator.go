// Copyright 2025 Trailsense
// SPDX-License-Identifier: Apache-2.0

package syncengine

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/trailsense/go-trailsync/localstore"
)

// remoteCollection maps a local collection to its remote store name.
func remoteCollection(col localstore.Collection) string {
	switch col {
	case localstore.CollectionRoutes:
		return "routes"
	case localstore.CollectionGuides:
		return "trail_guides"
	default:
		return string(col)
	}
}

// artifactDocument is the wire form written to the remote store. The stored
// owner is immutable; records saved before sign-in go out under the current
// identity without rewriting the local record.
func artifactDocument(a *localstore.Artifact, identity Identity) any {
	owner := a.Owner
	if owner.UserID == localstore.AnonymousUserID {
		owner = identity.Owner()
	}
	return struct {
		Payload   json.RawMessage  `json:"payload"`
		Owner     localstore.Owner `json:"owner"`
		CreatedAt time.Time        `json:"createdAt"`
	}{a.Payload, owner, a.CreatedAt}
}

// SyncAll uploads every pending route and trail guide. Exactly one pass runs
// at a time: a concurrent call is a reported no-op (Summary.Skipped with
// ErrSyncBusy), not queued. Requires reachability and an authenticated
// identity; absent either it aborts before any side effect.
//
// Per-item failures increment the record's retry counter and never abort the
// batch. After the structured collections it best-effort drains the flat
// queues and the backup outbox.
func (e *Engine) SyncAll(ctx context.Context) (Summary, error) {
	if !atomic.CompareAndSwapInt32(&e.syncing, 0, 1) {
		return Summary{Skipped: true}, ErrSyncBusy
	}
	defer atomic.StoreInt32(&e.syncing, 0)

	if !e.monitor.Online() {
		return Summary{Skipped: true}, ErrNetworkUnavailable
	}
	identity, ok := e.identity.Current(ctx)
	if !ok {
		return Summary{Skipped: true}, ErrAuthenticationRequired
	}

	var summary Summary
	for _, col := range []localstore.Collection{localstore.CollectionRoutes, localstore.CollectionGuides} {
		s, err := e.syncCollection(ctx, col, identity)
		summary.Succeeded += s.Succeeded
		summary.Failed += s.Failed
		if err != nil {
			// Store-level failure; the other collection may still work.
			e.logger.Warn("sync pass failed for collection", "collection", col, "error", err)
		}
	}

	e.logger.Info("sync pass complete", "succeeded", summary.Succeeded, "failed", summary.Failed)
	e.events.SyncCompleted(summary)

	// Secondary channels ride along with the pass, best effort.
	if _, err := e.photos.drain(ctx); err != nil {
		e.logger.Warn("photo queue drain failed", "error", err)
	}
	if _, err := e.surveys.drain(ctx); err != nil {
		e.logger.Warn("survey queue drain failed", "error", err)
	}
	e.notifyPendingCounts(ctx)
	if _, err := e.DrainOutbox(ctx); err != nil {
		e.logger.Warn("outbox drain failed", "error", err)
	}
	return summary, nil
}

func (e *Engine) syncCollection(ctx context.Context, col localstore.Collection, identity Identity) (Summary, error) {
	records, err := e.store.GetAll(ctx, col)
	if err != nil {
		return Summary{}, err
	}

	var summary Summary
	for _, a := range records {
		if !a.Pending() {
			continue
		}
		if limit := e.cfg.MaxArtifactRetries; limit > 0 && a.RetryCount >= limit {
			continue
		}
		if err := e.uploadArtifact(ctx, col, a, identity); err != nil {
			summary.Failed++
			e.logger.Warn("artifact upload failed", "collection", col,
				"localId", a.LocalID, "retries", a.RetryCount, "error", err)
			continue
		}
		summary.Succeeded++
	}
	return summary, nil
}

// uploadArtifact performs one remote write and records the outcome. Success
// lands status, remoteID and uploadedAt in a single atomic Put; failure
// bumps the retry counter and leaves the record pending and eligible for the
// next pass.
func (e *Engine) uploadArtifact(ctx context.Context, col localstore.Collection, a *localstore.Artifact, identity Identity) error {
	remoteID, err := e.remote.WriteArtifact(ctx, remoteCollection(col), artifactDocument(a, identity))
	if err != nil {
		a.RetryCount++
		if putErr := e.store.Put(ctx, col, a); putErr != nil {
			e.logger.Warn("failed to record retry", "collection", col, "localId", a.LocalID, "error", putErr)
		}
		return err
	}
	a.MarkUploaded(remoteID, e.clock.Now().UTC())
	if err := e.store.Put(ctx, col, a); err != nil {
		return fmt.Errorf("uploaded but failed to mark %s/%d: %w", col, a.LocalID, err)
	}
	return nil
}

// SyncOne uploads exactly one record, for user-triggered retry of an
// individual artifact. Unlike the background pass its authentication failure
// is surfaced, not silent. A record that is no longer pending (for example
// because a racing full pass already uploaded it) is a no-op.
func (e *Engine) SyncOne(ctx context.Context, col localstore.Collection, localID int64) error {
	identity, ok := e.identity.Current(ctx)
	if !ok {
		return ErrAuthenticationRequired
	}
	if !e.monitor.Online() {
		return ErrNetworkUnavailable
	}
	a, err := e.store.Get(ctx, col, localID)
	if err != nil {
		return err
	}
	if !a.Pending() {
		return nil
	}
	return e.uploadArtifact(ctx, col, a, identity)
}

// ClearUploaded prunes uploaded artifacts from both structured collections.
func (e *Engine) ClearUploaded(ctx context.Context) (int64, error) {
	var total int64
	for _, col := range []localstore.Collection{localstore.CollectionRoutes, localstore.CollectionGuides} {
		n, err := e.store.DeleteUploaded(ctx, col)
		if err != nil {
			return total, err
		}
		total += n
	}
	return total, nil
}
