package mongodb

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"go.pilab.hu/docflow/docstate"
)

type checkpoint struct {
	Name      string    `bson:"_id"`
	Token     []byte    `bson:"token"`
	UpdatedAt time.Time `bson:"updated_at"`
}

// CheckpointRepository persists change stream resume tokens.
type CheckpointRepository struct {
	checkpoints *mongo.Collection
}

func NewCheckpointRepository(db *mongo.Database) *CheckpointRepository {
	return &CheckpointRepository{checkpoints: db.Collection(CheckpointsCollection)}
}

func (r *CheckpointRepository) Load(ctx context.Context, name string) (docstate.Token, error) {
	var cp checkpoint
	err := r.checkpoints.FindOne(ctx, bson.M{"_id": name}).Decode(&cp)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, nil
		}
		return nil, err
	}
	return docstate.Token(cp.Token), nil
}

func (r *CheckpointRepository) Save(ctx context.Context, name string, token docstate.Token) error {
	cp := checkpoint{Name: name, Token: token, UpdatedAt: time.Now().UTC()}
	_, err := r.checkpoints.ReplaceOne(ctx, bson.M{"_id": name}, cp, options.Replace().SetUpsert(true))
	return err
}
