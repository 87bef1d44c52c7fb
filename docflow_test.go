package docflow_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go.pilab.hu/docflow"
	"go.pilab.hu/docflow/docstate"
	"go.pilab.hu/docflow/domain"
	serrors "go.pilab.hu/docflow/errors"
	"go.pilab.hu/docflow/internal/memstore"
	"go.pilab.hu/docflow/services"
)

const (
	waitFor = 5 * time.Second
	tick    = 10 * time.Millisecond
)

type inbox struct {
	mu    sync.Mutex
	codes map[string]string
}

func (i *inbox) SendConfirmation(_ context.Context, address, code string) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.codes[address] = code
	return nil
}

func (i *inbox) code(address string) string {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.codes[address]
}

type env struct {
	docs       *memstore.Store
	users      *memstore.Store
	creds      *memstore.Credentials
	namespaces *memstore.Namespaces
	inbox      *inbox
	engine     *docflow.Engine
}

// twiceSource delivers every change of the wrapped feed two times in a row.
type twiceSource struct {
	docstate.FeedSource
}

func (s twiceSource) Open(ctx context.Context, after docstate.Token) (docstate.ChangeFeed, error) {
	feed, err := s.FeedSource.Open(ctx, after)
	if err != nil {
		return nil, err
	}
	return &twiceFeed{ChangeFeed: feed}, nil
}

type twiceFeed struct {
	docstate.ChangeFeed
	pending *docstate.Change
}

func (f *twiceFeed) Next(ctx context.Context) (docstate.Change, error) {
	if f.pending != nil {
		c := *f.pending
		f.pending = nil
		return c, nil
	}
	c, err := f.ChangeFeed.Next(ctx)
	if err != nil {
		return c, err
	}
	f.pending = &c
	return c, nil
}

func startEngine(t *testing.T) *env {
	t.Helper()
	return startEngineWith(t, func(s *memstore.Store) docstate.FeedSource { return s })
}

func startEngineWith(t *testing.T, source func(*memstore.Store) docstate.FeedSource) *env {
	t.Helper()
	e := &env{
		docs:       memstore.New(),
		users:      memstore.New(),
		creds:      memstore.NewCredentials(),
		namespaces: memstore.NewNamespaces(),
		inbox:      &inbox{codes: map[string]string{}},
	}

	cp := docstate.NewMemoryCheckpointer()
	require.NoError(t, cp.Save(context.Background(), docstate.DefaultCheckpointName, e.docs.Head()))

	engine, err := docflow.New(docflow.Options{
		Docs:         e.docs,
		Users:        e.users,
		Credentials:  e.creds,
		Provisioner:  e.namespaces,
		Mailer:       e.inbox,
		Source:       source(e.docs),
		Checkpointer: cp,
		Channels:     services.ChannelConfig{PublicSyncURL: "https://sync.example.com/"},
	})
	require.NoError(t, err)
	e.engine = engine

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- engine.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		assert.NoError(t, <-done)
		engine.Close(context.Background())
	})
	return e
}

func (e *env) decode(t *testing.T, id string, v any) bool {
	t.Helper()
	raw, err := e.docs.Get(context.Background(), id)
	if err != nil {
		return false
	}
	return raw.Decode(v) == nil
}

func (e *env) waitState(t *testing.T, id, state string) {
	t.Helper()
	require.Eventually(t, func() bool {
		var m domain.Meta
		return e.decode(t, id, &m) && m.State == state
	}, waitFor, tick, "document %s never reached %s", id, state)
}

func newDevice(id, owner, deviceCode string) *domain.Device {
	return &domain.Device{
		Meta:       domain.Meta{ID: id, Type: domain.DocTypeDevice, State: domain.DeviceStateNew},
		Owner:      owner,
		DeviceCode: deviceCode,
	}
}

func TestNew_RequiresCollaborators(t *testing.T) {
	_, err := docflow.New(docflow.Options{})
	assert.Error(t, err)
}

func TestEngine_RegistersEveryWorkflow(t *testing.T) {
	store := memstore.New()
	engine, err := docflow.New(docflow.Options{
		Docs:        store,
		Users:       memstore.New(),
		Credentials: memstore.NewCredentials(),
		Provisioner: memstore.NewNamespaces(),
		Source:      store,
	})
	require.NoError(t, err)
	defer engine.Close(context.Background())

	assert.Equal(t, len(services.ExpectedTransitions()), engine.Table.Len())
}

func TestEngine_PairsDeviceEndToEnd(t *testing.T) {
	e := startEngine(t)
	ctx := context.Background()
	owner := "alice@example.com"

	require.NoError(t, e.docs.Put(ctx, newDevice("d1", owner, "dc-1")))
	e.waitState(t, "d1", domain.DeviceStateConfirming)

	code := e.inbox.code(owner)
	require.NotEmpty(t, code)
	var dev domain.Device
	require.True(t, e.decode(t, "d1", &dev))
	assert.Equal(t, code, dev.ConfirmCode)

	require.NoError(t, e.docs.Put(ctx, &domain.Confirm{
		Meta:        domain.Meta{ID: "c1", Type: domain.DocTypeConfirm, State: domain.ConfirmStateClicked},
		DeviceCode:  "dc-1",
		ConfirmCode: code,
	}))
	e.waitState(t, "c1", domain.ConfirmStateUsed)
	e.waitState(t, "d1", domain.DeviceStateActive)

	require.True(t, e.decode(t, "d1", &dev))
	require.True(t, dev.OAuthCreds.Complete())
	creds := dev.OAuthCreds

	raw, err := e.users.Get(ctx, domain.UserDocID(owner))
	require.NoError(t, err)
	var user domain.User
	require.NoError(t, raw.Decode(&user))
	assert.Equal(t, owner, user.Name)
	assert.Equal(t, creds.ConsumerSecret, user.OAuth.ConsumerKeys[creds.ConsumerKey])
	assert.Equal(t, creds.TokenSecret, user.OAuth.Tokens[creds.Token])
	assert.Equal(t, []string{creds.ConsumerKey, creds.Token}, user.OAuth.Devices["d1"])

	v, ok := e.creds.Value(services.SectionConsumerSecrets, creds.ConsumerKey)
	assert.True(t, ok)
	assert.Equal(t, creds.ConsumerSecret, v)
	v, _ = e.creds.Value(services.SectionTokenUsers, creds.Token)
	assert.Equal(t, owner, v)
	v, _ = e.creds.Value(services.SectionTokenSecrets, creds.Token)
	assert.Equal(t, creds.TokenSecret, v)
}

func TestEngine_RejectsConfirmWithoutMatchingDevice(t *testing.T) {
	e := startEngine(t)
	ctx := context.Background()

	require.NoError(t, e.docs.Put(ctx, newDevice("d1", "bob@example.com", "dc-1")))
	e.waitState(t, "d1", domain.DeviceStateConfirming)

	require.NoError(t, e.docs.Put(ctx, &domain.Confirm{
		Meta:        domain.Meta{ID: "c1", Type: domain.DocTypeConfirm, State: domain.ConfirmStateClicked},
		DeviceCode:  "dc-1",
		ConfirmCode: "not-the-code",
	}))
	e.waitState(t, "c1", domain.ConfirmStateError)

	var confirm domain.Confirm
	require.True(t, e.decode(t, "c1", &confirm))
	assert.Equal(t, serrors.NewNoMatchingDevice().Description, confirm.Error)

	var dev domain.Device
	require.True(t, e.decode(t, "d1", &dev))
	assert.Equal(t, domain.DeviceStateConfirming, dev.State)
}

func TestEngine_ProvisionsPrivateChannel(t *testing.T) {
	e := startEngine(t)

	require.NoError(t, e.docs.Put(context.Background(), &domain.Channel{
		Meta: domain.Meta{ID: "ch1", Type: domain.DocTypeChannel, State: domain.ChannelStateNew},
		Name: "news",
	}))
	e.waitState(t, "ch1", domain.ChannelStateReady)

	var ch domain.Channel
	require.True(t, e.decode(t, "ch1", &ch))
	assert.Equal(t, "https://sync.example.com/db-ch1", ch.Syncpoint)
	assert.True(t, e.namespaces.Exists("db-ch1"))

	require.Eventually(t, func() bool {
		_, ok := e.namespaces.Document("db-ch1", domain.DescriptionDocID)
		return ok
	}, waitFor, tick)
	body, _ := e.namespaces.Document("db-ch1", domain.DescriptionDocID)
	assert.JSONEq(t, `{"_id":"description","name":"news"}`, string(body))
}

func TestEngine_ParksPublicChannel(t *testing.T) {
	e := startEngine(t)

	require.NoError(t, e.docs.Put(context.Background(), &domain.Channel{
		Meta:   domain.Meta{ID: "ch2", Type: domain.DocTypeChannel, State: domain.ChannelStateNew},
		Name:   "town-square",
		Public: true,
	}))
	e.waitState(t, "ch2", domain.ChannelStateUnsupported)

	var ch domain.Channel
	require.True(t, e.decode(t, "ch2", &ch))
	assert.Equal(t, services.PublicChannelsUnsupported, ch.Error)
	assert.False(t, e.namespaces.Exists("db-ch2"))
}

func TestEngine_RedeliveredReadyRewritesDescription(t *testing.T) {
	e := startEngineWith(t, func(s *memstore.Store) docstate.FeedSource { return twiceSource{s} })

	require.NoError(t, e.docs.Put(context.Background(), &domain.Channel{
		Meta: domain.Meta{ID: "ch3", Type: domain.DocTypeChannel, State: domain.ChannelStateNew},
		Name: "weather",
	}))
	e.waitState(t, "ch3", domain.ChannelStateReady)

	require.Eventually(t, func() bool {
		return e.namespaces.Writes("db-ch3", domain.DescriptionDocID) == 2
	}, waitFor, tick, "ready change delivered twice should write the description twice")
	body, ok := e.namespaces.Document("db-ch3", domain.DescriptionDocID)
	require.True(t, ok)
	assert.JSONEq(t, `{"_id":"description","name":"weather"}`, string(body))
}
