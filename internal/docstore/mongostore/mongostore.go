// Package mongostore implements docstore.Store on a single MongoDB
// collection. Documents are keyed by path; change feeds use change streams,
// so the deployment must be a replica set.
package mongostore

import (
	"context"
	"regexp"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/victorivanov/rolesync/internal/docstore"
)

const (
	collectionName = "documents"
	parentField    = "_parent"
	reconnectDelay = 2 * time.Second
)

// Config selects the deployment and database.
type Config struct {
	URI         string
	Database    string
	MaxPoolSize uint64
}

// Store is a docstore.Store over one Mongo collection.
type Store struct {
	client *mongo.Client
	coll   *mongo.Collection
}

var _ docstore.Store = (*Store)(nil)

// Connect dials MongoDB and ensures the parent index exists.
func Connect(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.URI == "" {
		return nil, errors.New("mongo uri is required")
	}
	if cfg.Database == "" {
		cfg.Database = "rolesync"
	}
	opts := options.Client().ApplyURI(cfg.URI)
	if cfg.MaxPoolSize > 0 {
		opts.SetMaxPoolSize(cfg.MaxPoolSize)
	}

	client, err := mongo.Connect(ctx, opts)
	if err != nil {
		return nil, errors.Wrap(err, "connecting to mongo")
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, errors.Wrap(err, "pinging mongo")
	}

	coll := client.Database(cfg.Database).Collection(collectionName)
	_, err = coll.Indexes().CreateOne(ctx, mongo.IndexModel{Keys: bson.D{{Key: parentField, Value: 1}}})
	if err != nil {
		_ = client.Disconnect(context.Background())
		return nil, errors.Wrap(err, "creating parent index")
	}
	return &Store{client: client, coll: coll}, nil
}

func (s *Store) Read(ctx context.Context, path string) (docstore.Document, error) {
	var raw bson.M
	err := s.coll.FindOne(ctx, bson.M{"_id": path}).Decode(&raw)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, docstore.ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrapf(err, "reading %s", path)
	}
	return fromBSON(raw), nil
}

func (s *Store) Write(ctx context.Context, path string, update docstore.Document) error {
	_, err := s.coll.UpdateOne(ctx, bson.M{"_id": path}, toUpdate(path, update), options.Update().SetUpsert(true))
	return errors.Wrapf(err, "writing %s", path)
}

func (s *Store) BatchWrite(ctx context.Context, mutations []docstore.Mutation) error {
	if len(mutations) == 0 {
		return nil
	}
	session, err := s.client.StartSession()
	if err != nil {
		return errors.Wrap(err, "starting session")
	}
	defer session.EndSession(ctx)

	_, err = session.WithTransaction(ctx, func(sc mongo.SessionContext) (interface{}, error) {
		for _, m := range mutations {
			if m.Delete {
				if _, err := s.coll.DeleteOne(sc, bson.M{"_id": m.Path}); err != nil {
					return nil, errors.Wrapf(err, "deleting %s", m.Path)
				}
				continue
			}
			opts := options.Update().SetUpsert(!m.MustExist)
			if _, err := s.coll.UpdateOne(sc, bson.M{"_id": m.Path}, toUpdate(m.Path, m.Update), opts); err != nil {
				return nil, errors.Wrapf(err, "writing %s", m.Path)
			}
		}
		return nil, nil
	})
	return errors.Wrapf(err, "batch of %d", len(mutations))
}

func (s *Store) Delete(ctx context.Context, path string) error {
	_, err := s.coll.DeleteOne(ctx, bson.M{"_id": path})
	return errors.Wrapf(err, "deleting %s", path)
}

func (s *Store) List(ctx context.Context, collection string, filters ...docstore.Filter) ([]docstore.Snapshot, error) {
	filter := bson.M{parentField: collection}
	for _, f := range filters {
		if f.ArrayContains != nil {
			filter[f.Field] = f.ArrayContains
		}
	}

	cur, err := s.coll.Find(ctx, filter, options.Find().SetSort(bson.D{{Key: "_id", Value: 1}}))
	if err != nil {
		return nil, errors.Wrapf(err, "listing %s", collection)
	}
	var raws []bson.M
	if err := cur.All(ctx, &raws); err != nil {
		return nil, errors.Wrapf(err, "listing %s", collection)
	}

	out := make([]docstore.Snapshot, 0, len(raws))
	for _, raw := range raws {
		path, _ := raw["_id"].(string)
		out = append(out, docstore.Snapshot{Path: path, Data: fromBSON(raw)})
	}
	return out, nil
}

type changeEvent struct {
	OperationType string `bson:"operationType"`
	DocumentKey   struct {
		ID string `bson:"_id"`
	} `bson:"documentKey"`
	FullDocument bson.M `bson:"fullDocument"`
}

// Subscribe opens a change stream filtered to collection and the document at
// that path. The stream is reopened from its resume token if it fails.
func (s *Store) Subscribe(ctx context.Context, collection string) (<-chan docstore.ChangeEvent, error) {
	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: bson.M{
			"operationType":   bson.M{"$in": bson.A{"insert", "update", "replace", "delete"}},
			"documentKey._id": bson.M{"$regex": "^" + regexp.QuoteMeta(collection) + "(/[^/]+)?$"},
		}}},
	}

	stream, err := s.coll.Watch(ctx, pipeline, options.ChangeStream().SetFullDocument(options.UpdateLookup))
	if err != nil {
		return nil, errors.Wrapf(err, "watching %s", collection)
	}

	ch := make(chan docstore.ChangeEvent, docstore.SubscriberBuffer)
	go func() {
		defer close(ch)
		for {
			s.drain(ctx, stream, collection, ch)
			token := stream.ResumeToken()
			_ = stream.Close(context.Background())
			if ctx.Err() != nil {
				return
			}

			log.Warn().Err(stream.Err()).Str("collection", collection).Msg("change stream dropped, resuming")
			for {
				select {
				case <-ctx.Done():
					return
				case <-time.After(reconnectDelay):
				}
				opts := options.ChangeStream().SetFullDocument(options.UpdateLookup)
				if token != nil {
					opts.SetResumeAfter(token)
				}
				if stream, err = s.coll.Watch(ctx, pipeline, opts); err == nil {
					break
				}
				log.Warn().Err(err).Str("collection", collection).Msg("reopening change stream")
			}
		}
	}()
	return ch, nil
}

func (s *Store) drain(ctx context.Context, stream *mongo.ChangeStream, collection string, ch chan<- docstore.ChangeEvent) {
	for stream.Next(ctx) {
		var raw changeEvent
		if err := stream.Decode(&raw); err != nil {
			log.Warn().Err(err).Msg("decoding change event")
			continue
		}
		if !docstore.Watches(collection, raw.DocumentKey.ID) {
			continue
		}

		ev := docstore.ChangeEvent{Type: docstore.ChangeUpsert, Path: raw.DocumentKey.ID}
		switch {
		case raw.OperationType == "delete":
			ev.Type = docstore.ChangeDelete
		case raw.FullDocument == nil:
			// updated then deleted before the lookup ran
			continue
		default:
			ev.Data = fromBSON(raw.FullDocument)
		}

		select {
		case ch <- ev:
		case <-ctx.Done():
			return
		}
	}
}

func (s *Store) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return errors.Wrap(s.client.Disconnect(ctx), "disconnecting mongo")
}

// toUpdate translates a partial update into $set, $addToSet and $pull.
func toUpdate(path string, update docstore.Document) bson.M {
	set := bson.M{parentField: docstore.Parent(path)}
	addToSet := bson.M{}
	pull := bson.M{}

	for field, v := range update {
		switch t := v.(type) {
		case docstore.ArrayUnion:
			addToSet[field] = bson.M{"$each": t.Values}
		case docstore.ArrayRemove:
			pull[field] = bson.M{"$in": t.Values}
		default:
			set[field] = v
		}
	}

	out := bson.M{"$set": set}
	if len(addToSet) > 0 {
		out["$addToSet"] = addToSet
	}
	if len(pull) > 0 {
		out["$pull"] = pull
	}
	return out
}

// fromBSON strips bookkeeping fields and converts driver types to the plain
// Go values the rest of the engine expects.
func fromBSON(raw bson.M) docstore.Document {
	doc := make(docstore.Document, len(raw))
	for k, v := range raw {
		if k == "_id" || k == parentField {
			continue
		}
		doc[k] = plain(v)
	}
	return doc
}

func plain(v any) any {
	switch t := v.(type) {
	case primitive.A:
		out := make([]any, len(t))
		for i, el := range t {
			out[i] = plain(el)
		}
		return out
	case bson.M:
		out := make(map[string]any, len(t))
		for k, el := range t {
			out[k] = plain(el)
		}
		return out
	case bson.D:
		out := make(map[string]any, len(t))
		for _, el := range t {
			out[el.Key] = plain(el.Value)
		}
		return out
	case primitive.DateTime:
		return t.Time().UTC()
	case int32:
		return int64(t)
	}
	return v
}
