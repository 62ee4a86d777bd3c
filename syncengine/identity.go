// Copyright 2025 Trailsense
// SPDX-License-Identifier: Apache-2.0

package syncengine

import (
	"context"
	"fmt"

	"github.com/golang-jwt/jwt/v5"

	"github.com/trailsense/go-trailsync/localstore"
)

// Identity is the authenticated user stamped onto artifacts and required by
// sync operations.
type Identity struct {
	UserID    string
	UserEmail string
	UserName  string
}

// Owner converts the identity into the form persisted with artifacts.
func (id Identity) Owner() localstore.Owner {
	return localstore.Owner{UserID: id.UserID, UserEmail: id.UserEmail, UserName: id.UserName}
}

// IdentityProvider supplies the current identity. ok is false when no
// authenticated user exists; saving still works (owner falls back to the
// anonymous sentinel) but syncing is blocked.
type IdentityProvider interface {
	Current(ctx context.Context) (id Identity, ok bool)
}

// StaticIdentity is an IdentityProvider with a fixed identity. Useful for
// tests and for the daemon's anonymous mode (zero value reports ok=false).
type StaticIdentity struct {
	Identity Identity
}

func (s StaticIdentity) Current(context.Context) (Identity, bool) {
	if s.Identity.UserID == "" || s.Identity.UserID == localstore.AnonymousUserID {
		return Identity{}, false
	}
	return s.Identity, true
}

// identityClaims are the JWT claims carried by access tokens: user ID in the
// standard subject claim plus profile fields.
type identityClaims struct {
	Email string `json:"email"`
	Name  string `json:"name"`
	jwt.RegisteredClaims
}

// TokenIdentity derives the identity from an HS256 access token fetched per
// call, so token refresh by the host application is picked up transparently.
type TokenIdentity struct {
	Secret []byte
	// Token returns the current raw access token, or an error when the
	// user is signed out.
	Token func(ctx context.Context) (string, error)
}

func (t *TokenIdentity) Current(ctx context.Context) (Identity, bool) {
	raw, err := t.Token(ctx)
	if err != nil || raw == "" {
		return Identity{}, false
	}
	claims := &identityClaims{}
	token, err := jwt.ParseWithClaims(raw, claims, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return t.Secret, nil
	})
	if err != nil || !token.Valid || claims.Subject == "" {
		return Identity{}, false
	}
	return Identity{
		UserID:    claims.Subject,
		UserEmail: claims.Email,
		UserName:  claims.Name,
	}, true
}
