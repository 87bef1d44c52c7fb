package services

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go.pilab.hu/docflow/domain"
	serrors "go.pilab.hu/docflow/errors"
)

var creds1 = domain.OAuthCredentials{ConsumerKey: "ck1", ConsumerSecret: "cs1", Token: "tk1", TokenSecret: "ts1"}

func TestApplyOAuth_FreshUser(t *testing.T) {
	user := domain.NewUserSkeleton("alice")

	changed, err := ApplyOAuth(user, "d1", creds1)
	require.NoError(t, err)
	assert.True(t, changed)

	require.NotNil(t, user.OAuth)
	assert.Equal(t, map[string]string{"ck1": "cs1"}, user.OAuth.ConsumerKeys)
	assert.Equal(t, map[string]string{"tk1": "ts1"}, user.OAuth.Tokens)
	assert.Equal(t, map[string][]string{"d1": {"ck1", "tk1"}}, user.OAuth.Devices)
}

func TestApplyOAuth_SamePairTwiceIsNoop(t *testing.T) {
	user := domain.NewUserSkeleton("alice")
	_, err := ApplyOAuth(user, "d1", creds1)
	require.NoError(t, err)

	changed, err := ApplyOAuth(user, "d1", creds1)
	require.NoError(t, err)
	assert.False(t, changed)
	assert.Len(t, user.OAuth.Tokens, 1)
}

func TestApplyOAuth_AddsSecondDevice(t *testing.T) {
	user := domain.NewUserSkeleton("alice")
	_, err := ApplyOAuth(user, "d1", creds1)
	require.NoError(t, err)

	changed, err := ApplyOAuth(user, "d2", domain.OAuthCredentials{ConsumerKey: "ck2", ConsumerSecret: "cs2", Token: "tk2", TokenSecret: "ts2"})
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Len(t, user.OAuth.ConsumerKeys, 2)
	assert.Len(t, user.OAuth.Devices, 2)
}

func TestApplyOAuth_CollisionLeavesUserUntouched(t *testing.T) {
	tests := []struct {
		name  string
		creds domain.OAuthCredentials
	}{
		{"consumer key taken", domain.OAuthCredentials{ConsumerKey: "ck1", ConsumerSecret: "other", Token: "tk9", TokenSecret: "ts9"}},
		{"token taken", domain.OAuthCredentials{ConsumerKey: "ck9", ConsumerSecret: "cs9", Token: "tk1", TokenSecret: "other"}},
		{"same pair from another device", creds1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			user := domain.NewUserSkeleton("alice")
			_, err := ApplyOAuth(user, "d1", creds1)
			require.NoError(t, err)

			before := *user.OAuth
			before.ConsumerKeys = map[string]string{"ck1": "cs1"}
			before.Tokens = map[string]string{"tk1": "ts1"}
			before.Devices = map[string][]string{"d1": {"ck1", "tk1"}}

			changed, err := ApplyOAuth(user, "d2", tt.creds)
			assert.False(t, changed)
			require.ErrorIs(t, err, serrors.ErrTokenUsed)
			assert.Equal(t, "token_used: device_id d2", err.Error())
			assert.Equal(t, before, *user.OAuth)
		})
	}
}

func TestApplyOAuth_InitialisesPartialMaps(t *testing.T) {
	user := domain.NewUserSkeleton("alice")
	user.OAuth = &domain.UserOAuth{Tokens: map[string]string{"tk0": "ts0"}}

	changed, err := ApplyOAuth(user, "d1", creds1)
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Len(t, user.OAuth.Tokens, 2)
	assert.NotNil(t, user.OAuth.ConsumerKeys)
	assert.NotNil(t, user.OAuth.Devices)
}
