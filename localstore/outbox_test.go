// Copyright 2025 Trailsense
// SPDX-License-Identifier: Apache-2.0

package localstore

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestNotificationLifecycle(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	n := &BackupNotification{Kind: KindRoute, Payload: json.RawMessage(`{"name":"Loop Trail"}`)}
	id, err := s.InsertNotification(ctx, n)
	require.NoError(t, err)
	require.Equal(t, id, n.ID)

	unsent, err := s.UnsentNotifications(ctx)
	require.NoError(t, err)
	require.Len(t, unsent, 1)
	require.False(t, unsent[0].Sent)
	require.Nil(t, unsent[0].SentAt)

	sentAt := time.Date(2024, 6, 1, 9, 30, 0, 0, time.UTC)
	require.NoError(t, s.MarkNotificationSent(ctx, id, sentAt))

	// Sent entries drop out of the unsent query, so a second drain pass
	// cannot re-send.
	unsent, err = s.UnsentNotifications(ctx)
	require.NoError(t, err)
	require.Empty(t, unsent)

	// Marking again is a no-op.
	require.NoError(t, s.MarkNotificationSent(ctx, id, sentAt.Add(time.Hour)))
}

func TestNotificationSnapshotIsIndependent(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	payload := []byte(`{"name":"Original"}`)
	n := &BackupNotification{Kind: KindGuide, Payload: payload}
	_, err := s.InsertNotification(ctx, n)
	require.NoError(t, err)

	// Mutating the caller's buffer after the insert must not change the
	// persisted snapshot.
	copy(payload, []byte(`{"name":"Mutated!"}`))

	unsent, err := s.UnsentNotifications(ctx)
	require.NoError(t, err)
	require.Len(t, unsent, 1)
	require.JSONEq(t, `{"name":"Original"}`, string(unsent[0].Payload))
}

func TestBumpNotificationRetry(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	n := &BackupNotification{Kind: KindRoute, Payload: json.RawMessage(`{}`)}
	id, err := s.InsertNotification(ctx, n)
	require.NoError(t, err)

	require.NoError(t, s.BumpNotificationRetry(ctx, id))
	require.NoError(t, s.BumpNotificationRetry(ctx, id))

	unsent, err := s.UnsentNotifications(ctx)
	require.NoError(t, err)
	require.Len(t, unsent, 1)
	require.Equal(t, 2, unsent[0].RetryCount)
}

func TestPruneSentNotifications(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	old := &BackupNotification{
		Kind:      KindRoute,
		Payload:   json.RawMessage(`{}`),
		CreatedAt: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	}
	_, err := s.InsertNotification(ctx, old)
	require.NoError(t, err)

	oldUnsent := &BackupNotification{
		Kind:      KindRoute,
		Payload:   json.RawMessage(`{}`),
		CreatedAt: time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC),
	}
	_, err = s.InsertNotification(ctx, oldUnsent)
	require.NoError(t, err)

	recent := &BackupNotification{
		Kind:      KindGuide,
		Payload:   json.RawMessage(`{}`),
		CreatedAt: time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC),
	}
	_, err = s.InsertNotification(ctx, recent)
	require.NoError(t, err)

	require.NoError(t, s.MarkNotificationSent(ctx, old.ID, time.Now()))
	require.NoError(t, s.MarkNotificationSent(ctx, recent.ID, time.Now()))

	// Only sent-and-old entries go; unsent entries are never pruned no
	// matter how old.
	n, err := s.PruneSentNotifications(ctx, time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	require.EqualValues(t, 1, n)

	count, err := s.CountUnsent(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, count)
}

func TestPruneSentNotificationsSubsecondCutoff(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	// Created half a second after a whole-second cutoff. Timestamps are
	// compared as text, so the stored form must keep fixed-width fractions
	// or this row would sort before the cutoff and be pruned.
	cutoff := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	n := &BackupNotification{
		Kind:      KindRoute,
		Payload:   json.RawMessage(`{}`),
		CreatedAt: cutoff.Add(500 * time.Millisecond),
	}
	_, err := s.InsertNotification(ctx, n)
	require.NoError(t, err)
	require.NoError(t, s.MarkNotificationSent(ctx, n.ID, cutoff.Add(time.Second)))

	pruned, err := s.PruneSentNotifications(ctx, cutoff)
	require.NoError(t, err)
	require.Zero(t, pruned)

	// A cutoff past the creation instant removes it.
	pruned, err = s.PruneSentNotifications(ctx, cutoff.Add(time.Second))
	require.NoError(t, err)
	require.EqualValues(t, 1, pruned)
}
