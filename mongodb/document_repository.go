package mongodb

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"go.pilab.hu/docflow/domain"
	serrors "go.pilab.hu/docflow/errors"
)

// DocumentRepository stores revisioned documents in one collection.
// Writes are compare-and-swap on the _rev field.
type DocumentRepository struct {
	docs *mongo.Collection
}

func NewDocumentRepository(db *mongo.Database, collection string) *DocumentRepository {
	return &DocumentRepository{docs: db.Collection(collection)}
}

// Collection exposes the backing collection, e.g. for a change stream.
func (r *DocumentRepository) Collection() *mongo.Collection {
	return r.docs
}

// EnsureIndexes creates the type index used by filtered listings.
func (r *DocumentRepository) EnsureIndexes(ctx context.Context) error {
	_, err := r.docs.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "type", Value: 1}, {Key: "_id", Value: 1}},
	})
	return err
}

// rawDocument turns a stored body into a RawDocument that decodes lazily.
func rawDocument(body bson.Raw) (domain.RawDocument, error) {
	var meta domain.Meta
	if err := bson.Unmarshal(body, &meta); err != nil {
		return domain.RawDocument{}, fmt.Errorf("decode document header: %w", err)
	}
	body = append(bson.Raw(nil), body...)
	return domain.NewRawDocument(meta, func(v any) error {
		return bson.Unmarshal(body, v)
	}), nil
}

func (r *DocumentRepository) Get(ctx context.Context, id string) (domain.RawDocument, error) {
	body, err := r.docs.FindOne(ctx, bson.M{"_id": id}).Raw()
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return domain.RawDocument{}, fmt.Errorf("document %q: %w", id, serrors.ErrNotFound)
		}
		return domain.RawDocument{}, err
	}
	return rawDocument(body)
}

func (r *DocumentRepository) Put(ctx context.Context, doc domain.Document) error {
	meta := doc.DocMeta()
	if meta.ID == "" {
		meta.ID = uuid.NewString()
	}
	prev := meta.Rev
	meta.Rev = domain.NextRevision(prev)

	err := r.write(ctx, meta.ID, prev, doc)
	if err != nil {
		meta.Rev = prev
	}
	return err
}

func (r *DocumentRepository) write(ctx context.Context, id, prev string, doc domain.Document) error {
	if prev == "" {
		_, err := r.docs.InsertOne(ctx, doc)
		if mongo.IsDuplicateKeyError(err) {
			return fmt.Errorf("document %q exists: %w", id, serrors.ErrConflict)
		}
		return err
	}

	res, err := r.docs.ReplaceOne(ctx, bson.M{"_id": id, "_rev": prev}, doc)
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return fmt.Errorf("document %q not at revision %s: %w", id, prev, serrors.ErrConflict)
	}
	return nil
}

func (r *DocumentRepository) List(ctx context.Context, opts domain.ListOptions) ([]domain.RawDocument, error) {
	filter := bson.M{}
	if opts.Type != "" {
		filter["type"] = opts.Type
	}
	cursor, err := r.docs.Find(ctx, filter, options.Find().SetSort(bson.D{{Key: "_id", Value: 1}}))
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var out []domain.RawDocument
	for cursor.Next(ctx) {
		raw, err := rawDocument(cursor.Current)
		if err != nil {
			return nil, err
		}
		out = append(out, raw)
	}
	return out, cursor.Err()
}
