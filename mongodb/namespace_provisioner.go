package mongodb

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	serrors "go.pilab.hu/docflow/errors"
)

const codeNamespaceExists = 48

// NamespaceProvisioner gives every channel its own database.
type NamespaceProvisioner struct {
	client *mongo.Client
}

func NewNamespaceProvisioner(client *mongo.Client) *NamespaceProvisioner {
	return &NamespaceProvisioner{client: client}
}

func (p *NamespaceProvisioner) CreateNamespace(ctx context.Context, name string) error {
	err := p.client.Database(name).CreateCollection(ctx, NamespaceCollection)
	var cmdErr mongo.CommandError
	if errors.As(err, &cmdErr) && cmdErr.Code == codeNamespaceExists {
		return fmt.Errorf("database %s: %w", name, serrors.ErrAlreadyExists)
	}
	return err
}

func (p *NamespaceProvisioner) WriteDocument(ctx context.Context, namespace, docID string, doc any) error {
	coll := p.client.Database(namespace).Collection(NamespaceCollection)
	_, err := coll.ReplaceOne(ctx, bson.M{"_id": docID}, doc, options.Replace().SetUpsert(true))
	return err
}
