// Copyright 2025 Trailsense
// SPDX-License-Identifier: Apache-2.0

package syncengine

import (
	"errors"
	"fmt"
)

var (
	// ErrNetworkUnavailable means the connectivity monitor reports offline.
	// Remote attempts are skipped; local saves still succeed. Never escalated
	// to producers.
	ErrNetworkUnavailable = errors.New("syncengine: network unavailable")

	// ErrAuthenticationRequired blocks sync entirely. Surfaced to the caller,
	// never silently dropped.
	ErrAuthenticationRequired = errors.New("syncengine: authentication required")

	// ErrRelayNotConfigured is returned by relay sends when the relay config
	// is incomplete. The outbox pump treats it as a silent skip.
	ErrRelayNotConfigured = errors.New("syncengine: backup relay not configured")

	// ErrSyncBusy signals that a full sync pass was already running and the
	// call was a no-op. Callers may retry later or rely on the next
	// scheduled trigger.
	ErrSyncBusy = errors.New("syncengine: sync already in progress")
)

// RemoteWriteError wraps a failed remote store or relay operation. It is
// retryable, bounded by each record's retry counter.
type RemoteWriteError struct {
	Op         string // e.g. "write artifact", "upload binary"
	StatusCode int    // HTTP status, 0 when the request never completed
	Err        error
}

func (e *RemoteWriteError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("syncengine: %s failed with status %d", e.Op, e.StatusCode)
	}
	return fmt.Sprintf("syncengine: %s failed: %v", e.Op, e.Err)
}

func (e *RemoteWriteError) Unwrap() error { return e.Err }
