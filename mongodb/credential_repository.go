package mongodb

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type configEntry struct {
	ID        string    `bson:"_id"`
	Section   string    `bson:"section"`
	Key       string    `bson:"key"`
	Value     string    `bson:"value"`
	UpdatedAt time.Time `bson:"updated_at"`
}

// CredentialRepository keeps credential store entries, one document per key.
type CredentialRepository struct {
	config *mongo.Collection
}

func NewCredentialRepository(db *mongo.Database) *CredentialRepository {
	return &CredentialRepository{config: db.Collection(ConfigCollection)}
}

func (r *CredentialRepository) Put(ctx context.Context, section, key, value string) error {
	entry := configEntry{
		ID:        section + "/" + key,
		Section:   section,
		Key:       key,
		Value:     value,
		UpdatedAt: time.Now().UTC(),
	}
	_, err := r.config.ReplaceOne(ctx, bson.M{"_id": entry.ID}, entry, options.Replace().SetUpsert(true))
	return err
}

// Get returns a stored value, mainly for inspection.
func (r *CredentialRepository) Get(ctx context.Context, section, key string) (string, error) {
	var entry configEntry
	if err := r.config.FindOne(ctx, bson.M{"_id": section + "/" + key}).Decode(&entry); err != nil {
		return "", err
	}
	return entry.Value, nil
}
