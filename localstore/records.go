// Copyright 2025 Trailsense
// SPDX-License-Identifier: Apache-2.0

package localstore

import (
	"encoding/json"
	"time"
)

// Collection identifies one of the structured artifact collections.
type Collection string

const (
	CollectionRoutes Collection = "pending_routes"
	CollectionGuides Collection = "pending_guides"
)

// Valid reports whether c names a known artifact collection.
func (c Collection) Valid() bool {
	return c == CollectionRoutes || c == CollectionGuides
}

// ArtifactStatus is the lifecycle state of a structured artifact.
// Transitions are monotonic: pending -> uploaded, never back.
type ArtifactStatus string

const (
	StatusPending  ArtifactStatus = "pending"
	StatusUploaded ArtifactStatus = "uploaded"
)

// AnonymousUserID is the owner sentinel used when no authenticated
// identity exists at creation time.
const AnonymousUserID = "anonymous"

// Owner captures the identity of the user that produced an artifact,
// frozen at creation time.
type Owner struct {
	UserID    string `json:"userId"`
	UserEmail string `json:"userEmail,omitempty"`
	UserName  string `json:"userName,omitempty"`
}

// Artifact is a locally persisted route or trail guide awaiting upload.
//
// Exactly one of the following holds at all times:
//
//	Status == pending  && RemoteID == "" && UploadedAt == nil
//	Status == uploaded && RemoteID != "" && UploadedAt != nil
type Artifact struct {
	LocalID    int64           // store-assigned, immutable, sole handle
	Payload    json.RawMessage // opaque artifact body
	Owner      Owner
	CreatedAt  time.Time
	Status     ArtifactStatus
	RetryCount int
	RemoteID   string
	UploadedAt *time.Time
}

// Pending reports whether the artifact is still awaiting upload.
func (a *Artifact) Pending() bool { return a.Status == StatusPending }

// MarkUploaded transitions the artifact to uploaded. It is the only
// sanctioned way to flip the status so the remoteID/uploadedAt pairing
// invariant cannot be violated piecemeal.
func (a *Artifact) MarkUploaded(remoteID string, at time.Time) {
	a.Status = StatusUploaded
	a.RemoteID = remoteID
	a.UploadedAt = &at
}

// NotificationKind tags a backup-outbox entry with its source collection.
type NotificationKind string

const (
	KindRoute NotificationKind = "route"
	KindGuide NotificationKind = "guide"
)

// BackupNotification is a transactional-outbox entry: a snapshot of a saved
// artifact awaiting store-and-forward delivery to the backup relay. Payload
// is a copy taken at queue time; later mutation of the source artifact does
// not alter it.
type BackupNotification struct {
	ID         int64
	Kind       NotificationKind
	Payload    json.RawMessage
	CreatedAt  time.Time
	Sent       bool // monotonic false -> true
	SentAt     *time.Time
	RetryCount int
}
