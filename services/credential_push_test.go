package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"go.pilab.hu/docflow/internal/memstore"
)

func TestPushCredentials_WritesAllThree(t *testing.T) {
	store := memstore.NewCredentials()

	require.NoError(t, PushCredentials(context.Background(), store, time.Second, "alice", creds1))

	v, ok := store.Value(SectionConsumerSecrets, "ck1")
	assert.True(t, ok)
	assert.Equal(t, "cs1", v)
	v, _ = store.Value(SectionTokenUsers, "tk1")
	assert.Equal(t, "alice", v)
	v, _ = store.Value(SectionTokenSecrets, "tk1")
	assert.Equal(t, "ts1", v)
}

func TestPushCredentials_OneFailureFailsTheStep(t *testing.T) {
	store := new(MockCredentialStore)
	store.On("Put", mock.Anything, SectionConsumerSecrets, "ck1", "cs1").Return(nil)
	store.On("Put", mock.Anything, SectionTokenUsers, "tk1", "alice").Return(errors.New("backend down"))
	store.On("Put", mock.Anything, SectionTokenSecrets, "tk1", "ts1").Return(nil).Maybe()

	err := PushCredentials(context.Background(), store, time.Second, "alice", creds1)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "put oauth_token_users[tk1]: backend down")
	store.AssertCalled(t, "Put", mock.Anything, SectionTokenUsers, "tk1", "alice")
}

func TestPushCredentials_TimesOutSlowWrites(t *testing.T) {
	store := new(MockCredentialStore)
	store.On("Put", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) {
			<-args.Get(0).(context.Context).Done()
		}).
		Return(context.DeadlineExceeded)

	start := time.Now()
	err := PushCredentials(context.Background(), store, 20*time.Millisecond, "alice", creds1)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), time.Second)
}
