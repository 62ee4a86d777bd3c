// Copyright 2025 Trailsense
// SPDX-License-Identifier: Apache-2.0

package syncengine

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// RelayConfig identifies the server-side template the backup relay renders.
// An incomplete config means the backup channel is disabled, which is not an
// error condition.
type RelayConfig struct {
	ServiceID  string
	TemplateID string
	SenderKey  string
}

// Configured reports whether all three fields are present.
func (c RelayConfig) Configured() bool {
	return c.ServiceID != "" && c.TemplateID != "" && c.SenderKey != ""
}

// Relay is the opaque store-and-forward notification channel.
type Relay interface {
	// Send delivers one notification built from template variables.
	// Returns ErrRelayNotConfigured when the channel is disabled.
	Send(ctx context.Context, vars map[string]string) error
	Configured() bool
}

// HTTPRelay posts template sends to a hosted transactional-email service.
type HTTPRelay struct {
	Endpoint string
	Config   RelayConfig
	HTTP     *http.Client
}

// NewHTTPRelay creates a relay client. endpoint is the service's send URL.
func NewHTTPRelay(endpoint string, cfg RelayConfig) *HTTPRelay {
	return &HTTPRelay{
		Endpoint: endpoint,
		Config:   cfg,
		HTTP:     &http.Client{Timeout: 30 * time.Second},
	}
}

func (r *HTTPRelay) Configured() bool { return r.Config.Configured() }

func (r *HTTPRelay) Send(ctx context.Context, vars map[string]string) error {
	if !r.Config.Configured() {
		return ErrRelayNotConfigured
	}
	body, err := json.Marshal(map[string]any{
		"service_id":      r.Config.ServiceID,
		"template_id":     r.Config.TemplateID,
		"user_id":         r.Config.SenderKey,
		"template_params": vars,
	})
	if err != nil {
		return fmt.Errorf("failed to encode relay payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.Endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create relay request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	client := r.HTTP
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return &RemoteWriteError{Op: "relay send", Err: err}
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &RemoteWriteError{Op: "relay send", StatusCode: resp.StatusCode}
	}
	return nil
}

// NoRelay is a permanently unconfigured relay for deployments without a
// backup channel.
type NoRelay struct{}

func (NoRelay) Configured() bool                              { return false }
func (NoRelay) Send(context.Context, map[string]string) error { return ErrRelayNotConfigured }
