package services

import (
	"context"
	"testing"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"go.pilab.hu/docflow/domain"
	"go.pilab.hu/docflow/internal/memstore"
)

// --- Mock Implementations ---

type MockMailer struct {
	mock.Mock
}

func (m *MockMailer) SendConfirmation(ctx context.Context, address, code string) error {
	args := m.Called(ctx, address, code)
	return args.Error(0)
}

type MockCodes struct {
	mock.Mock
}

func (m *MockCodes) ConfirmationCode() (string, error) {
	args := m.Called()
	return args.String(0), args.Error(1)
}

func (m *MockCodes) Mint() (*domain.OAuthCredentials, error) {
	args := m.Called()
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.OAuthCredentials), args.Error(1)
}

type MockCredentialStore struct {
	mock.Mock
}

func (m *MockCredentialStore) Put(ctx context.Context, section, key, value string) error {
	args := m.Called(ctx, section, key, value)
	return args.Error(0)
}

type MockProvisioner struct {
	mock.Mock
}

func (m *MockProvisioner) CreateNamespace(ctx context.Context, name string) error {
	args := m.Called(ctx, name)
	return args.Error(0)
}

func (m *MockProvisioner) WriteDocument(ctx context.Context, namespace, docID string, doc any) error {
	args := m.Called(ctx, namespace, docID, doc)
	return args.Error(0)
}

// --- Helpers ---

func rawDoc(t *testing.T, store *memstore.Store, id string) domain.RawDocument {
	t.Helper()
	raw, err := store.Get(context.Background(), id)
	require.NoError(t, err)
	return raw
}

func getDevice(t *testing.T, store *memstore.Store, id string) *domain.Device {
	t.Helper()
	dev := &domain.Device{}
	require.NoError(t, rawDoc(t, store, id).Decode(dev))
	return dev
}

func getConfirm(t *testing.T, store *memstore.Store, id string) *domain.Confirm {
	t.Helper()
	c := &domain.Confirm{}
	require.NoError(t, rawDoc(t, store, id).Decode(c))
	return c
}

func getUser(t *testing.T, store *memstore.Store, name string) *domain.User {
	t.Helper()
	u := &domain.User{}
	require.NoError(t, rawDoc(t, store, domain.UserDocID(name)).Decode(u))
	return u
}

func getChannel(t *testing.T, store *memstore.Store, id string) *domain.Channel {
	t.Helper()
	ch := &domain.Channel{}
	require.NoError(t, rawDoc(t, store, id).Decode(ch))
	return ch
}
