package mongodb

import (
	"context"
	"errors"

	"github.com/rs/zerolog/log"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"go.pilab.hu/docflow/docstate"
)

// ChangeStreamSource opens change streams on a document collection.
// The deployment must be a replica set or sharded cluster.
type ChangeStreamSource struct {
	coll *mongo.Collection
}

func NewChangeStreamSource(coll *mongo.Collection) *ChangeStreamSource {
	return &ChangeStreamSource{coll: coll}
}

var writeEvents = mongo.Pipeline{
	{{Key: "$match", Value: bson.M{
		"operationType": bson.M{"$in": bson.A{"insert", "update", "replace"}},
	}}},
}

func (s *ChangeStreamSource) Open(ctx context.Context, after docstate.Token) (docstate.ChangeFeed, error) {
	opts := options.ChangeStream().SetFullDocument(options.UpdateLookup)
	if after != nil {
		opts.SetStartAfter(bson.Raw(after))
	}
	stream, err := s.coll.Watch(ctx, writeEvents, opts)
	if err != nil {
		return nil, err
	}
	log.Debug().Str("collection", s.coll.Name()).Bool("resumed", after != nil).Msg("Change stream opened")
	return &changeStreamFeed{stream: stream}, nil
}

type changeEvent struct {
	OperationType string   `bson:"operationType"`
	FullDocument  bson.Raw `bson:"fullDocument"`
}

type changeStreamFeed struct {
	stream *mongo.ChangeStream
}

func (f *changeStreamFeed) Next(ctx context.Context) (docstate.Change, error) {
	for f.stream.Next(ctx) {
		var ev changeEvent
		if err := f.stream.Decode(&ev); err != nil {
			return docstate.Change{}, err
		}
		// The document was deleted before the lookup ran.
		if len(ev.FullDocument) == 0 {
			continue
		}
		raw, err := rawDocument(ev.FullDocument)
		if err != nil {
			log.Warn().Err(err).Msg("Skipping change with undecodable document")
			continue
		}
		return docstate.Change{
			RawDocument: raw,
			Token:       append(docstate.Token(nil), f.stream.ResumeToken()...),
		}, nil
	}
	if err := f.stream.Err(); err != nil {
		return docstate.Change{}, err
	}
	if err := ctx.Err(); err != nil {
		return docstate.Change{}, err
	}
	return docstate.Change{}, errors.New("change stream closed")
}

func (f *changeStreamFeed) Close(ctx context.Context) error {
	return f.stream.Close(ctx)
}
