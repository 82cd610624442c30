// Copyright (C) 2025 Green Guardian Contributors (oss@greenguardian.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package extensions

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNopAuthProvider_AcceptsAnyToken(t *testing.T) {
	t.Parallel()

	provider := &NopAuthProvider{}

	for _, token := range []string{"", "anything", "Bearer junk"} {
		info, err := provider.Validate(context.Background(), token)
		require.NoError(t, err)
		assert.Equal(t, "local-user", info.UserID)
		assert.True(t, info.HasRole("admin"))
	}
}

func TestStaticTokenAuthProvider_ValidToken(t *testing.T) {
	t.Parallel()

	provider, err := NewStaticTokenAuthProvider("tok_a:alice,tok_b:bob")
	require.NoError(t, err)

	info, err := provider.Validate(context.Background(), "tok_b")
	require.NoError(t, err)
	assert.Equal(t, "bob", info.UserID)
}

func TestStaticTokenAuthProvider_RejectsUnknownAndEmpty(t *testing.T) {
	t.Parallel()

	provider, err := NewStaticTokenAuthProvider("tok_a:alice")
	require.NoError(t, err)

	_, err = provider.Validate(context.Background(), "tok_wrong")
	assert.ErrorIs(t, err, ErrUnauthorized)

	_, err = provider.Validate(context.Background(), "")
	assert.ErrorIs(t, err, ErrUnauthorized)
}

func TestNewStaticTokenAuthProvider_Malformed(t *testing.T) {
	t.Parallel()

	cases := []string{"", "justtoken", "token:", ":user"}
	for _, spec := range cases {
		_, err := NewStaticTokenAuthProvider(spec)
		assert.Error(t, err, "spec %q should be rejected", spec)
	}
}

func TestAuthInfo_HasRole(t *testing.T) {
	t.Parallel()

	info := &AuthInfo{UserID: "u", Roles: []string{"analyst", "viewer"}}
	assert.True(t, info.HasRole("viewer"))
	assert.False(t, info.HasRole("admin"))
}

func TestOptionsFromEnv_Defaults(t *testing.T) {
	t.Setenv("GATEWAY_API_TOKENS", "")

	opts, err := OptionsFromEnv()
	require.NoError(t, err)
	_, ok := opts.AuthProvider.(*NopAuthProvider)
	assert.True(t, ok, "expected nop provider when no tokens configured")
}

func TestOptionsFromEnv_StaticTokens(t *testing.T) {
	t.Setenv("GATEWAY_API_TOKENS", "tok_x:carol")

	opts, err := OptionsFromEnv()
	require.NoError(t, err)

	info, err := opts.AuthProvider.Validate(context.Background(), "tok_x")
	require.NoError(t, err)
	assert.Equal(t, "carol", info.UserID)
}
