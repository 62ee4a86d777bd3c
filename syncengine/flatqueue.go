// Copyright 2025 Trailsense
// SPDX-License-Identifier: Apache-2.0

package syncengine

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/trailsense/go-trailsync/localstore"
)

// QueueKind names one of the secondary flat queues.
type QueueKind string

const (
	QueuePhotos  QueueKind = "photos"
	QueueSurveys QueueKind = "surveys"
)

// FlatItemStatus is the lifecycle state of a flat-queue item. failed is
// terminal: once the retry cap is reached the item is never attempted again.
type FlatItemStatus string

const (
	FlatPending   FlatItemStatus = "pending"
	FlatUploaded  FlatItemStatus = "uploaded"  // photos
	FlatSubmitted FlatItemStatus = "submitted" // surveys
	FlatFailed    FlatItemStatus = "failed"
)

// Terminal reports whether the status ends the item's lifecycle.
func (s FlatItemStatus) Terminal() bool {
	return s == FlatUploaded || s == FlatSubmitted || s == FlatFailed
}

// GeoPoint is an optional capture location.
type GeoPoint struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// QueueContext links a queued item back to the route or accessibility report
// it belongs to.
type QueueContext struct {
	RouteID  string    `json:"routeId,omitempty"`
	ReportID string    `json:"reportId,omitempty"`
	Location *GeoPoint `json:"location,omitempty"`
}

// FlatQueueItem is one entry in a photo or survey queue. The ID is generated
// in-process (time prefix plus random suffix) rather than store-assigned.
type FlatQueueItem struct {
	ID         string          `json:"id"`
	Payload    json.RawMessage `json:"payload"`
	Context    QueueContext    `json:"context"`
	CreatedAt  time.Time       `json:"createdAt"`
	Status     FlatItemStatus  `json:"status"`
	RetryCount int             `json:"retryCount"`
}

func newItemID(now time.Time) string {
	return fmt.Sprintf("%d-%s", now.UnixMilli(), uuid.NewString()[:8])
}

// flatQueue persists its whole item sequence as one serialized slot value,
// rewritten on every mutation. mu serializes the read-modify-write cycles;
// the store itself only guarantees single-operation atomicity.
type flatQueue struct {
	kind          QueueKind
	slotKey       string
	successStatus FlatItemStatus
	store         *localstore.Store
	clock         Clock
	logger        *slog.Logger
	retryLimit    int
	pruneDelay    time.Duration
	// upload performs the kind-specific remote operation for one item.
	upload func(ctx context.Context, item *FlatQueueItem) error

	mu         sync.Mutex
	pruneTimer Timer
	closed     bool
}

func newFlatQueue(kind QueueKind, success FlatItemStatus, store *localstore.Store, cfg *Config,
	upload func(ctx context.Context, item *FlatQueueItem) error) *flatQueue {
	return &flatQueue{
		kind:          kind,
		slotKey:       "queue:" + string(kind),
		successStatus: success,
		store:         store,
		clock:         cfg.Clock,
		logger:        cfg.Logger,
		retryLimit:    cfg.FlatRetryLimit,
		pruneDelay:    cfg.PruneDelay,
		upload:        upload,
	}
}

func (q *flatQueue) load(ctx context.Context) ([]*FlatQueueItem, error) {
	raw, err := q.store.ReadSlot(ctx, q.slotKey)
	if err != nil {
		return nil, err
	}
	if len(raw) == 0 {
		return nil, nil
	}
	var items []*FlatQueueItem
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, fmt.Errorf("failed to decode %s queue: %w", q.kind, err)
	}
	return items, nil
}

func (q *flatQueue) persist(ctx context.Context, items []*FlatQueueItem) error {
	raw, err := json.Marshal(items)
	if err != nil {
		return fmt.Errorf("failed to encode %s queue: %w", q.kind, err)
	}
	return q.store.WriteSlot(ctx, q.slotKey, raw)
}

// enqueue appends one item and persists the sequence. The caller is
// responsible for the follow-up drain and pending-count event.
func (q *flatQueue) enqueue(ctx context.Context, payload json.RawMessage, qctx QueueContext) (*FlatQueueItem, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	items, err := q.load(ctx)
	if err != nil {
		return nil, err
	}
	now := q.clock.Now().UTC()
	item := &FlatQueueItem{
		ID:        newItemID(now),
		Payload:   payload,
		Context:   qctx,
		CreatedAt: now,
		Status:    FlatPending,
	}
	items = append(items, item)
	if err := q.persist(ctx, items); err != nil {
		return nil, err
	}
	return item, nil
}

// drain attempts the remote operation for every non-terminal item, mutating
// statuses in place. The full sequence is persisted once per pass rather
// than per item, then completed items are pruned after a short delay so
// observers can read the success state first.
func (q *flatQueue) drain(ctx context.Context) (Summary, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	items, err := q.load(ctx)
	if err != nil {
		return Summary{}, err
	}

	var summary Summary
	attempted := false
	for _, item := range items {
		if item.Status.Terminal() {
			continue
		}
		attempted = true
		if err := q.upload(ctx, item); err != nil {
			item.RetryCount++
			if item.RetryCount >= q.retryLimit {
				item.Status = FlatFailed
			}
			summary.Failed++
			if q.logger != nil {
				q.logger.Warn("flat queue item failed", "queue", q.kind,
					"id", item.ID, "retries", item.RetryCount, "error", err)
			}
			continue
		}
		item.Status = q.successStatus
		summary.Succeeded++
	}

	if !attempted {
		summary.Skipped = true
		return summary, nil
	}
	if err := q.persist(ctx, items); err != nil {
		return summary, err
	}
	if summary.Succeeded > 0 {
		q.schedulePruneLocked()
	}
	return summary, nil
}

func (q *flatQueue) schedulePruneLocked() {
	if q.closed || q.pruneTimer != nil {
		return
	}
	q.pruneTimer = q.clock.AfterFunc(q.pruneDelay, q.prune)
}

// prune drops items that completed successfully from the persisted sequence.
// Failed items are kept so the UI can show them.
func (q *flatQueue) prune() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.pruneTimer = nil

	ctx := context.Background()
	items, err := q.load(ctx)
	if err != nil {
		if q.logger != nil {
			q.logger.Warn("flat queue prune failed", "queue", q.kind, "error", err)
		}
		return
	}
	kept := items[:0]
	for _, item := range items {
		if item.Status != q.successStatus {
			kept = append(kept, item)
		}
	}
	if len(kept) == len(items) {
		return
	}
	if err := q.persist(ctx, kept); err != nil && q.logger != nil {
		q.logger.Warn("flat queue prune persist failed", "queue", q.kind, "error", err)
	}
}

func (q *flatQueue) items(ctx context.Context) ([]*FlatQueueItem, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.load(ctx)
}

func (q *flatQueue) countPending(ctx context.Context) int {
	items, err := q.items(ctx)
	if err != nil {
		return 0
	}
	n := 0
	for _, item := range items {
		if item.Status == FlatPending {
			n++
		}
	}
	return n
}

func (q *flatQueue) close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	if q.pruneTimer != nil {
		q.pruneTimer.Stop()
		q.pruneTimer = nil
	}
}
