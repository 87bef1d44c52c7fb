package postgres

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCredentialStore(t *testing.T) {
	url := os.Getenv("TEST_POSTGRES_URL")
	if url == "" {
		t.Skip("TEST_POSTGRES_URL not set")
	}
	ctx := context.Background()
	store, err := Open(ctx, url)
	require.NoError(t, err)
	t.Cleanup(store.Close)

	require.NoError(t, store.Put(ctx, "oauth_token_secrets", "tk-test", "first"))
	require.NoError(t, store.Put(ctx, "oauth_token_secrets", "tk-test", "second"))

	v, ok, err := store.Get(ctx, "oauth_token_secrets", "tk-test")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "second", v)

	_, ok, err = store.Get(ctx, "oauth_token_secrets", "nope")
	require.NoError(t, err)
	assert.False(t, ok)
}
