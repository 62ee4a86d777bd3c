// Copyright 2025 Trailsense
// SPDX-License-Identifier: Apache-2.0

package syncengine

import (
	"context"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
)

func signTestToken(t *testing.T, secret []byte, sub, email, name string, exp time.Time) string {
	t.Helper()
	claims := &identityClaims{
		Email: email,
		Name:  name,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   sub,
			ExpiresAt: jwt.NewNumericDate(exp),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}
	raw, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
	require.NoError(t, err)
	return raw
}

func TestTokenIdentityParsesClaims(t *testing.T) {
	secret := []byte("test-secret")
	raw := signTestToken(t, secret, "user-42", "amina@example.com", "Amina", time.Now().Add(time.Hour))

	provider := &TokenIdentity{
		Secret: secret,
		Token:  func(context.Context) (string, error) { return raw, nil },
	}
	id, ok := provider.Current(context.Background())
	require.True(t, ok)
	require.Equal(t, "user-42", id.UserID)
	require.Equal(t, "amina@example.com", id.UserEmail)
	require.Equal(t, "Amina", id.UserName)
}

func TestTokenIdentityRejectsExpiredToken(t *testing.T) {
	secret := []byte("test-secret")
	raw := signTestToken(t, secret, "user-42", "", "", time.Now().Add(-time.Hour))

	provider := &TokenIdentity{
		Secret: secret,
		Token:  func(context.Context) (string, error) { return raw, nil },
	}
	_, ok := provider.Current(context.Background())
	require.False(t, ok)
}

func TestTokenIdentityRejectsWrongSecret(t *testing.T) {
	raw := signTestToken(t, []byte("other-secret"), "user-42", "", "", time.Now().Add(time.Hour))

	provider := &TokenIdentity{
		Secret: []byte("test-secret"),
		Token:  func(context.Context) (string, error) { return raw, nil },
	}
	_, ok := provider.Current(context.Background())
	require.False(t, ok)
}

func TestTokenIdentityEmptyTokenMeansSignedOut(t *testing.T) {
	provider := &TokenIdentity{
		Secret: []byte("test-secret"),
		Token:  func(context.Context) (string, error) { return "", nil },
	}
	_, ok := provider.Current(context.Background())
	require.False(t, ok)
}

func TestStaticIdentityAnonymous(t *testing.T) {
	_, ok := StaticIdentity{}.Current(context.Background())
	require.False(t, ok)

	id, ok := StaticIdentity{Identity: Identity{UserID: "u1"}}.Current(context.Background())
	require.True(t, ok)
	require.Equal(t, "u1", id.UserID)
}
