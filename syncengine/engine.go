// Copyright 2025 Trailsense
// SPDX-License-Identifier: Apache-2.0

// Package syncengine implements the offline-first synchronization core for
// field-collected trail artifacts: local-first saves into the durable store,
// a connectivity-aware orchestrator that uploads pending routes and trail
// guides, flat photo/survey queues with bounded retry, and a transactional
// outbox pumped to a backup relay.
//
// Producers always persist locally first; remote failures never propagate to
// the local-save contract. Status fields in the store are the single source
// of truth for in-flight detection.
package syncengine

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/trailsense/go-trailsync/localstore"
)

// SaveResult is returned by SaveRoute and SaveTrailGuide. RemoteID is set
// only when an inline upload was attempted and succeeded before returning.
type SaveResult struct {
	LocalID  int64
	RemoteID string
}

// Engine is the sync core, constructed with injected collaborators so tests
// can substitute clocks, networks, and identities deterministically.
type Engine struct {
	store    *localstore.Store
	remote   RemoteStore
	relay    Relay
	identity IdentityProvider
	clock    Clock
	events   Events
	cfg      *Config
	logger   *slog.Logger

	monitor *Monitor
	photos  *flatQueue
	surveys *flatQueue

	// syncing is the one-flight-at-a-time guard for full sync passes.
	syncing int32
}

// NewEngine wires the engine. store and remote are required; relay may be
// nil (backup channel disabled), identity may be nil (anonymous only).
// initialOnline seeds the connectivity state from the platform's reachability
// signal.
func NewEngine(store *localstore.Store, remote RemoteStore, relay Relay,
	identity IdentityProvider, initialOnline bool, cfg *Config) (*Engine, error) {
	if store == nil {
		return nil, fmt.Errorf("syncengine: store is required")
	}
	if remote == nil {
		return nil, fmt.Errorf("syncengine: remote store is required")
	}
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Clock == nil {
		cfg.Clock = SystemClock()
	}
	if cfg.Events == nil {
		cfg.Events = NopEvents{}
	}
	if relay == nil {
		relay = NoRelay{}
	}
	if identity == nil {
		identity = StaticIdentity{}
	}

	e := &Engine{
		store:    store,
		remote:   remote,
		relay:    relay,
		identity: identity,
		clock:    cfg.Clock,
		events:   cfg.Events,
		cfg:      cfg,
		logger:   cfg.Logger,
	}
	e.photos = newFlatQueue(QueuePhotos, FlatUploaded, store, cfg, e.uploadPhoto)
	e.surveys = newFlatQueue(QueueSurveys, FlatSubmitted, store, cfg, e.submitSurvey)
	e.monitor = newMonitor(initialOnline, cfg, e.pendingWork, func() {
		if _, err := e.SyncAll(context.Background()); err != nil {
			e.logger.Info("scheduled sync did not run", "reason", err)
		}
	})
	return e, nil
}

// Start launches the connectivity poll fallback. Safe to skip in hosts that
// only use push signals.
func (e *Engine) Start(ctx context.Context) {
	e.monitor.Start(ctx)
}

// Close tears down background timers. Scheduled callbacks that fire after
// Close observe the teardown flags and do nothing.
func (e *Engine) Close() {
	e.monitor.Close()
	e.photos.close()
	e.surveys.close()
}

// Monitor exposes the connectivity monitor for platform push signals.
func (e *Engine) Monitor() *Monitor { return e.monitor }

// SaveRoute persists a route locally and returns as soon as the local write
// lands. When online and authenticated an inline best-effort upload runs
// before returning, but its failure is advisory only.
func (e *Engine) SaveRoute(ctx context.Context, payload json.RawMessage) (SaveResult, error) {
	return e.saveArtifact(ctx, localstore.CollectionRoutes, localstore.KindRoute, payload)
}

// SaveTrailGuide persists a trail guide locally; same contract as SaveRoute.
func (e *Engine) SaveTrailGuide(ctx context.Context, payload json.RawMessage) (SaveResult, error) {
	return e.saveArtifact(ctx, localstore.CollectionGuides, localstore.KindGuide, payload)
}

func (e *Engine) saveArtifact(ctx context.Context, col localstore.Collection,
	kind localstore.NotificationKind, payload json.RawMessage) (SaveResult, error) {
	owner := localstore.Owner{UserID: localstore.AnonymousUserID}
	if identity, ok := e.identity.Current(ctx); ok {
		owner = identity.Owner()
	}
	a := &localstore.Artifact{
		Payload:   payload,
		Owner:     owner,
		CreatedAt: e.clock.Now().UTC(),
		Status:    localstore.StatusPending,
	}
	localID, err := e.store.Insert(ctx, col, a)
	if err != nil {
		return SaveResult{}, err
	}

	// The outbox entry rides in the same logical save, as a second
	// independent atomic write. Its loss is non-fatal.
	e.enqueueBackup(ctx, kind, a)

	result := SaveResult{LocalID: localID}
	if e.monitor.Online() {
		if err := e.SyncOne(ctx, col, localID); err != nil {
			e.logger.Info("inline upload skipped", "collection", col, "localId", localID, "reason", err)
		} else if uploaded, err := e.store.Get(ctx, col, localID); err == nil {
			result.RemoteID = uploaded.RemoteID
		}
		if _, err := e.DrainOutbox(ctx); err != nil {
			e.logger.Info("inline outbox drain skipped", "reason", err)
		}
	}
	return result, nil
}

// QueuePhoto appends a photo to the flat queue and, when online, triggers an
// immediate drain pass. The returned ID is process-generated, not
// store-assigned.
func (e *Engine) QueuePhoto(ctx context.Context, payload json.RawMessage, qctx QueueContext) (string, error) {
	return e.queueFlat(ctx, e.photos, payload, qctx)
}

// QueueSurvey appends an accessibility survey to the flat queue; same
// contract as QueuePhoto.
func (e *Engine) QueueSurvey(ctx context.Context, payload json.RawMessage, qctx QueueContext) (string, error) {
	return e.queueFlat(ctx, e.surveys, payload, qctx)
}

func (e *Engine) queueFlat(ctx context.Context, q *flatQueue, payload json.RawMessage, qctx QueueContext) (string, error) {
	item, err := q.enqueue(ctx, payload, qctx)
	if err != nil {
		return "", err
	}
	e.notifyPendingCounts(ctx)
	if e.monitor.Online() {
		if _, err := q.drain(ctx); err != nil {
			e.logger.Info("inline queue drain failed", "queue", q.kind, "error", err)
		}
		e.notifyPendingCounts(ctx)
	}
	return item.ID, nil
}

// DrainQueues runs one drain pass over both flat queues. A store-level
// failure in one queue does not stop the other from draining; the first
// error is returned after both passes.
func (e *Engine) DrainQueues(ctx context.Context) (Summary, error) {
	var summary Summary
	var firstErr error
	for _, q := range []*flatQueue{e.photos, e.surveys} {
		s, err := q.drain(ctx)
		summary.Succeeded += s.Succeeded
		summary.Failed += s.Failed
		if err != nil {
			e.logger.Warn("queue drain failed", "queue", q.kind, "error", err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	e.notifyPendingCounts(ctx)
	return summary, firstErr
}

// QueueItems returns the current items of one flat queue, success state
// included until the delayed prune runs.
func (e *Engine) QueueItems(ctx context.Context, kind QueueKind) ([]*FlatQueueItem, error) {
	switch kind {
	case QueuePhotos:
		return e.photos.items(ctx)
	case QueueSurveys:
		return e.surveys.items(ctx)
	default:
		return nil, fmt.Errorf("syncengine: unknown queue %q", kind)
	}
}

// PendingCounts reports the externally visible pending-work indicator.
func (e *Engine) PendingCounts(ctx context.Context) Counts {
	photos := e.photos.countPending(ctx)
	surveys := e.surveys.countPending(ctx)
	return Counts{Photos: photos, Surveys: surveys, Total: photos + surveys}
}

func (e *Engine) notifyPendingCounts(ctx context.Context) {
	e.events.PendingCountsChanged(e.PendingCounts(ctx))
}

// pendingWork counts everything awaiting upload, across the structured
// collections and flat queues. Drives the settle-delay scheduling decision.
func (e *Engine) pendingWork(ctx context.Context) int {
	total := 0
	for _, col := range []localstore.Collection{localstore.CollectionRoutes, localstore.CollectionGuides} {
		n, err := e.store.CountPending(ctx, col)
		if err != nil {
			e.logger.Warn("failed to count pending artifacts", "collection", col, "error", err)
			continue
		}
		total += n
	}
	counts := e.PendingCounts(ctx)
	return total + counts.Total
}

// Syncing reports whether a full sync pass is currently running.
func (e *Engine) Syncing() bool {
	return atomic.LoadInt32(&e.syncing) == 1
}

// uploadPhoto is the kind-specific remote operation for the photo queue.
func (e *Engine) uploadPhoto(ctx context.Context, item *FlatQueueItem) error {
	name := fmt.Sprintf("photo-%s", item.ID)
	url, err := e.remote.UploadBinary(ctx, name, item.Payload)
	if err != nil {
		return err
	}
	if item.Context.RouteID != "" {
		// Link the stored photo back to its route, best effort.
		patch := map[string]any{"photoUrl": url}
		if err := e.remote.UpdateDocument(ctx, item.Context.RouteID, patch); err != nil {
			e.logger.Warn("failed to link photo to route", "id", item.ID,
				"routeId", item.Context.RouteID, "error", err)
		}
	}
	return nil
}

// submitSurvey writes a new accessibility survey document, or patches the
// linked report when the item carries a report ID.
func (e *Engine) submitSurvey(ctx context.Context, item *FlatQueueItem) error {
	doc := struct {
		Payload  json.RawMessage `json:"payload"`
		Context  QueueContext    `json:"context"`
		QueuedAt string          `json:"queuedAt"`
	}{item.Payload, item.Context, item.CreatedAt.Format(time.RFC3339)}

	if item.Context.ReportID != "" {
		return e.remote.UpdateDocument(ctx, item.Context.ReportID, doc)
	}
	_, err := e.remote.WriteArtifact(ctx, "surveys", doc)
	return err
}
