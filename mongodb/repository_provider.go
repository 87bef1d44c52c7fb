package mongodb

import (
	"context"
	"errors"

	"go.mongodb.org/mongo-driver/mongo"
)

// RepositoryProvider hands out the MongoDB-backed stores of one database.
// Repositories are created once and shared.
type RepositoryProvider struct {
	client *mongo.Client
	db     *mongo.Database

	docs        *DocumentRepository
	users       *DocumentRepository
	checkpoints *CheckpointRepository
	creds       *CredentialRepository
	namespaces  *NamespaceProvisioner
}

// NewRepositoryProvider creates the repositories for docsCollection and usersCollection.
func NewRepositoryProvider(client *mongo.Client, db *mongo.Database, docsCollection, usersCollection string) (*RepositoryProvider, error) {
	if client == nil || db == nil {
		return nil, errors.New("mongo client and database must be provided")
	}
	if docsCollection == "" {
		docsCollection = DocumentsCollection
	}
	if usersCollection == "" {
		usersCollection = UsersCollection
	}
	return &RepositoryProvider{
		client:      client,
		db:          db,
		docs:        NewDocumentRepository(db, docsCollection),
		users:       NewDocumentRepository(db, usersCollection),
		checkpoints: NewCheckpointRepository(db),
		creds:       NewCredentialRepository(db),
		namespaces:  NewNamespaceProvisioner(client),
	}, nil
}

// EnsureIndexes creates the indexes of both document collections.
func (p *RepositoryProvider) EnsureIndexes(ctx context.Context) error {
	if err := p.docs.EnsureIndexes(ctx); err != nil {
		return err
	}
	return p.users.EnsureIndexes(ctx)
}

func (p *RepositoryProvider) Documents() *DocumentRepository { return p.docs }

func (p *RepositoryProvider) Users() *DocumentRepository { return p.users }

func (p *RepositoryProvider) Checkpoints() *CheckpointRepository { return p.checkpoints }

func (p *RepositoryProvider) Credentials() *CredentialRepository { return p.creds }

func (p *RepositoryProvider) Namespaces() *NamespaceProvisioner { return p.namespaces }

// ChangeSource watches the documents collection.
func (p *RepositoryProvider) ChangeSource() *ChangeStreamSource {
	return NewChangeStreamSource(p.docs.Collection())
}
