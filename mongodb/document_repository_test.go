package mongodb

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go.pilab.hu/docflow/docstate"
	"go.pilab.hu/docflow/domain"
	serrors "go.pilab.hu/docflow/errors"
	"go.pilab.hu/docflow/mongodb/testutil"
)

func TestDocumentRepository_RevisionedWrites(t *testing.T) {
	db := testutil.SetupTestMongoDB(t, "test_docflow_docs")
	repo := NewDocumentRepository(db, DocumentsCollection)
	ctx := context.Background()
	require.NoError(t, repo.EnsureIndexes(ctx))

	dev := &domain.Device{Meta: domain.Meta{ID: "d1", Type: domain.DocTypeDevice, State: domain.DeviceStateNew}, Owner: "alice"}
	require.NoError(t, repo.Put(ctx, dev))
	assert.Equal(t, 1, domain.RevisionGeneration(dev.Rev))

	dup := &domain.Device{Meta: domain.Meta{ID: "d1", Type: domain.DocTypeDevice}}
	assert.ErrorIs(t, repo.Put(ctx, dup), serrors.ErrConflict)
	assert.Empty(t, dup.Rev)

	stale := *dev
	dev.State = domain.DeviceStateConfirming
	require.NoError(t, repo.Put(ctx, dev))

	stale.State = domain.DeviceStateError
	assert.ErrorIs(t, repo.Put(ctx, &stale), serrors.ErrConflict)

	raw, err := repo.Get(ctx, "d1")
	require.NoError(t, err)
	assert.Equal(t, domain.DeviceStateConfirming, raw.State)
	var got domain.Device
	require.NoError(t, raw.Decode(&got))
	assert.Equal(t, "alice", got.Owner)
	assert.Equal(t, dev.Rev, got.Rev)

	_, err = repo.Get(ctx, "nope")
	assert.ErrorIs(t, err, serrors.ErrNotFound)
}

func TestDocumentRepository_List(t *testing.T) {
	db := testutil.SetupTestMongoDB(t, "test_docflow_list")
	repo := NewDocumentRepository(db, DocumentsCollection)
	ctx := context.Background()

	for _, id := range []string{"b", "a"} {
		require.NoError(t, repo.Put(ctx, &domain.Device{Meta: domain.Meta{ID: id, Type: domain.DocTypeDevice}}))
	}
	require.NoError(t, repo.Put(ctx, &domain.Channel{Meta: domain.Meta{ID: "c", Type: domain.DocTypeChannel}}))

	devices, err := repo.List(ctx, domain.ListOptions{Type: domain.DocTypeDevice})
	require.NoError(t, err)
	require.Len(t, devices, 2)
	assert.Equal(t, "a", devices[0].ID)
	assert.Equal(t, "b", devices[1].ID)
}

func TestCheckpointAndCredentialRepositories(t *testing.T) {
	db := testutil.SetupTestMongoDB(t, "test_docflow_cp")
	ctx := context.Background()

	cp := NewCheckpointRepository(db)
	tok, err := cp.Load(ctx, "docflow")
	require.NoError(t, err)
	assert.Nil(t, tok)
	require.NoError(t, cp.Save(ctx, "docflow", docstate.Token("abc")))
	require.NoError(t, cp.Save(ctx, "docflow", docstate.Token("def")))
	tok, err = cp.Load(ctx, "docflow")
	require.NoError(t, err)
	assert.Equal(t, docstate.Token("def"), tok)

	creds := NewCredentialRepository(db)
	require.NoError(t, creds.Put(ctx, "oauth_token_users", "tk1", "alice"))
	require.NoError(t, creds.Put(ctx, "oauth_token_users", "tk1", "alice"))
	v, err := creds.Get(ctx, "oauth_token_users", "tk1")
	require.NoError(t, err)
	assert.Equal(t, "alice", v)
}

func TestNamespaceProvisioner(t *testing.T) {
	db := testutil.SetupTestMongoDB(t, "test_docflow_ns")
	ctx := context.Background()
	p := NewNamespaceProvisioner(db.Client())

	name := db.Name() + "_chan"
	t.Cleanup(func() { _ = db.Client().Database(name).Drop(context.Background()) })

	require.NoError(t, p.CreateNamespace(ctx, name))
	assert.ErrorIs(t, p.CreateNamespace(ctx, name), serrors.ErrAlreadyExists)

	desc := domain.ChannelDescription{ID: domain.DescriptionDocID, Name: "news"}
	require.NoError(t, p.WriteDocument(ctx, name, desc.ID, desc))
	desc.Name = "renamed"
	require.NoError(t, p.WriteDocument(ctx, name, desc.ID, desc))

	var got domain.ChannelDescription
	require.NoError(t, db.Client().Database(name).Collection(NamespaceCollection).
		FindOne(ctx, map[string]string{"_id": "description"}).Decode(&got))
	assert.Equal(t, "renamed", got.Name)
}

func TestChangeStreamSource_ResumesAfterToken(t *testing.T) {
	db := testutil.SetupTestMongoDB(t, "test_docflow_feed")
	testutil.RequireReplicaSet(t, db)
	repo := NewDocumentRepository(db, DocumentsCollection)
	src := NewChangeStreamSource(repo.Collection())

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	feed, err := src.Open(ctx, nil)
	require.NoError(t, err)
	require.NoError(t, repo.Put(ctx, &domain.Channel{Meta: domain.Meta{ID: "c1", Type: domain.DocTypeChannel, State: domain.ChannelStateNew}}))

	first, err := feed.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, "c1", first.ID)
	assert.Equal(t, domain.ChannelStateNew, first.State)
	require.NotEmpty(t, first.Token)
	require.NoError(t, feed.Close(ctx))

	require.NoError(t, repo.Put(ctx, &domain.Channel{Meta: domain.Meta{ID: "c2", Type: domain.DocTypeChannel, State: domain.ChannelStateNew}}))

	resumed, err := src.Open(ctx, first.Token)
	require.NoError(t, err)
	defer resumed.Close(ctx)
	next, err := resumed.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, "c2", next.ID)
}
