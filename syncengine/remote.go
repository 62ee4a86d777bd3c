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
	"net/url"
	"time"
)

// RemoteStore is the opaque authoritative document store. Writes are
// fallible, retryable, and idempotent by server convention; the engine never
// relies on read-back.
type RemoteStore interface {
	// WriteArtifact appends doc to the named remote collection and returns
	// the identifier the store assigned.
	WriteArtifact(ctx context.Context, collection string, doc any) (remoteID string, err error)

	// UpdateDocument applies a partial patch to an existing document.
	UpdateDocument(ctx context.Context, id string, patch any) error

	// UploadBinary stores an opaque blob (photo bytes) and returns its URL.
	UploadBinary(ctx context.Context, name string, data []byte) (url string, err error)
}

// HTTPRemoteStore talks to the remote store over its JSON HTTP API.
type HTTPRemoteStore struct {
	BaseURL string
	// Token returns the current bearer token. Nil means unauthenticated
	// requests.
	Token func(ctx context.Context) (string, error)
	HTTP  *http.Client
}

// NewHTTPRemoteStore creates a client with a bounded request timeout so no
// upload blocks indefinitely.
func NewHTTPRemoteStore(baseURL string, token func(ctx context.Context) (string, error)) *HTTPRemoteStore {
	return &HTTPRemoteStore{
		BaseURL: baseURL,
		Token:   token,
		HTTP:    &http.Client{Timeout: 60 * time.Second},
	}
}

func (r *HTTPRemoteStore) WriteArtifact(ctx context.Context, collection string, doc any) (string, error) {
	body, err := json.Marshal(doc)
	if err != nil {
		return "", fmt.Errorf("failed to encode artifact: %w", err)
	}
	endpoint := fmt.Sprintf("%s/v1/collections/%s/documents", r.BaseURL, url.PathEscape(collection))
	resp, err := r.do(ctx, http.MethodPost, endpoint, "application/json", bytes.NewReader(body))
	if err != nil {
		return "", &RemoteWriteError{Op: "write artifact", Err: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", &RemoteWriteError{Op: "write artifact", StatusCode: resp.StatusCode}
	}

	var out struct {
		ID string `json:"id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", &RemoteWriteError{Op: "write artifact", Err: fmt.Errorf("failed to decode response: %w", err)}
	}
	if out.ID == "" {
		return "", &RemoteWriteError{Op: "write artifact", Err: fmt.Errorf("server returned empty document id")}
	}
	return out.ID, nil
}

func (r *HTTPRemoteStore) UpdateDocument(ctx context.Context, id string, patch any) error {
	body, err := json.Marshal(patch)
	if err != nil {
		return fmt.Errorf("failed to encode patch: %w", err)
	}
	endpoint := fmt.Sprintf("%s/v1/documents/%s", r.BaseURL, url.PathEscape(id))
	resp, err := r.do(ctx, http.MethodPatch, endpoint, "application/json", bytes.NewReader(body))
	if err != nil {
		return &RemoteWriteError{Op: "update document", Err: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &RemoteWriteError{Op: "update document", StatusCode: resp.StatusCode}
	}
	io.Copy(io.Discard, resp.Body)
	return nil
}

func (r *HTTPRemoteStore) UploadBinary(ctx context.Context, name string, data []byte) (string, error) {
	endpoint := fmt.Sprintf("%s/v1/media/%s", r.BaseURL, url.PathEscape(name))
	resp, err := r.do(ctx, http.MethodPost, endpoint, "application/octet-stream", bytes.NewReader(data))
	if err != nil {
		return "", &RemoteWriteError{Op: "upload binary", Err: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", &RemoteWriteError{Op: "upload binary", StatusCode: resp.StatusCode}
	}

	var out struct {
		URL string `json:"url"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", &RemoteWriteError{Op: "upload binary", Err: fmt.Errorf("failed to decode response: %w", err)}
	}
	return out.URL, nil
}

func (r *HTTPRemoteStore) do(ctx context.Context, method, endpoint, contentType string, body io.Reader) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)
	if r.Token != nil {
		token, err := r.Token(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to get token: %w", err)
		}
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
	}
	client := r.HTTP
	if client == nil {
		client = http.DefaultClient
	}
	return client.Do(req)
}
