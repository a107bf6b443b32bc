// Package mongostore is a Document Store over MongoDB. Every document lives
// in one mongo collection keyed by its full path; live queries are driven by
// local commits and, when enabled, by a change stream so writes from other
// daemons sharing the database are seen too.
package mongostore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"

	"github.com/matheus3301/chatsync/internal/bus"
	"github.com/matheus3301/chatsync/internal/docstore"
)

const documentsCollection = "documents"

// Options configures Connect.
type Options struct {
	URI          string
	Database     string
	ChangeStream bool // requires a replica set
	OpTimeout    time.Duration
}

// Store implements docstore.Store on MongoDB.
type Store struct {
	client  *mongo.Client
	coll    *mongo.Collection
	hub     *docstore.Hub
	logger  *zap.Logger
	timeout time.Duration
	now     func() time.Time

	cancel context.CancelFunc
	done   chan struct{}
}

// record is the stored shape of a document.
type record struct {
	Path       string         `bson:"_id"`
	Collection string         `bson:"col"`
	ID         string         `bson:"id"`
	Data       map[string]any `bson:"data"`
}

// Connect dials MongoDB and prepares the documents collection.
func Connect(ctx context.Context, opts Options, b *bus.Bus, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if b == nil {
		b = bus.New()
	}
	if opts.OpTimeout <= 0 {
		opts.OpTimeout = 5 * time.Second
	}

	cctx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()
	client, err := mongo.Connect(cctx, options.Client().ApplyURI(opts.URI))
	if err != nil {
		return nil, fmt.Errorf("mongo connect: %w", err)
	}
	if err := client.Ping(cctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("mongo ping: %w", err)
	}

	coll := client.Database(opts.Database).Collection(documentsCollection)
	_, err = coll.Indexes().CreateOne(cctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "col", Value: 1}, {Key: "id", Value: 1}},
		Options: options.Index().SetBackground(true),
	})
	if err != nil {
		logger.Warn("mongo index creation failed", zap.Error(err))
	}

	s := &Store{
		client:  client,
		coll:    coll,
		hub:     docstore.NewHub(b, logger),
		logger:  logger,
		timeout: opts.OpTimeout,
		now:     time.Now,
		done:    make(chan struct{}),
	}
	wctx, wcancel := context.WithCancel(context.Background())
	s.cancel = wcancel
	if opts.ChangeStream {
		go s.watch(wctx)
	} else {
		close(s.done)
	}
	logger.Info("mongo document store connected", zap.String("database", opts.Database), zap.Bool("change_stream", opts.ChangeStream))
	return s, nil
}

// Close stops the change stream, live subscriptions and the client.
func (s *Store) Close() error {
	s.cancel()
	<-s.done
	s.hub.Close()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.client.Disconnect(ctx)
}

func (s *Store) watch(ctx context.Context) {
	defer close(s.done)
	for ctx.Err() == nil {
		cs, err := s.coll.Watch(ctx, mongo.Pipeline{})
		if err != nil {
			s.logger.Warn("change stream open failed", zap.Error(err))
			select {
			case <-time.After(2 * time.Second):
				continue
			case <-ctx.Done():
				return
			}
		}
		for cs.Next(ctx) {
			var evt struct {
				DocumentKey struct {
					ID string `bson:"_id"`
				} `bson:"documentKey"`
			}
			if err := cs.Decode(&evt); err != nil {
				s.logger.Warn("change stream decode failed", zap.Error(err))
				continue
			}
			s.hub.Notify(evt.DocumentKey.ID)
		}
		if err := cs.Err(); err != nil && ctx.Err() == nil {
			s.logger.Warn("change stream ended", zap.Error(err))
		}
		_ = cs.Close(context.Background())
	}
}

func (s *Store) opContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.timeout)
}

func (s *Store) NewID() string {
	return uuid.NewString()
}

func (s *Store) Get(ctx context.Context, docPath string) (docstore.Document, error) {
	ctx, cancel := s.opContext(ctx)
	defer cancel()
	return s.get(ctx, docPath)
}

func (s *Store) get(ctx context.Context, docPath string) (docstore.Document, error) {
	var r record
	err := s.coll.FindOne(ctx, bson.M{"_id": docPath}).Decode(&r)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return docstore.Document{}, fmt.Errorf("get %s: %w", docPath, docstore.ErrNotFound)
	}
	if err != nil {
		return docstore.Document{}, fmt.Errorf("get %s: %w", docPath, err)
	}
	return r.document(), nil
}

func (r record) document() docstore.Document {
	return docstore.Document{Path: r.Path, ID: r.ID, Fields: fromBSON(r.Data)}
}

func (s *Store) Put(ctx context.Context, collection, id string, f docstore.Fields) (string, error) {
	if id == "" {
		id = s.NewID()
	}
	if err := s.BatchWrite(ctx, []docstore.Op{docstore.Set(docstore.Join(collection, id), f)}); err != nil {
		return "", err
	}
	return id, nil
}

func (s *Store) Update(ctx context.Context, docPath string, f docstore.Fields) error {
	return s.BatchWrite(ctx, []docstore.Op{docstore.Update(docPath, f)})
}

func (s *Store) Delete(ctx context.Context, docPath string) error {
	return s.BatchWrite(ctx, []docstore.Op{docstore.Remove(docPath)})
}

func (s *Store) Increment(ctx context.Context, docPath, field string, delta int64) error {
	return s.BatchWrite(ctx, []docstore.Op{docstore.Update(docPath, docstore.Fields{field: docstore.Increment(delta)})})
}

// BatchWrite runs ops inside a MongoDB transaction.
func (s *Store) BatchWrite(ctx context.Context, ops []docstore.Op) error {
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	sess, err := s.client.StartSession()
	if err != nil {
		return fmt.Errorf("start session: %w", err)
	}
	defer sess.EndSession(context.Background())

	now := s.now()
	_, err = sess.WithTransaction(ctx, func(sc mongo.SessionContext) (any, error) {
		return nil, s.apply(sc, ops, now)
	})
	if err != nil {
		return err
	}

	paths := make([]string, len(ops))
	for i, op := range ops {
		paths[i] = op.Path
	}
	s.hub.Notify(paths...)
	return nil
}

func (s *Store) apply(ctx context.Context, ops []docstore.Op, now time.Time) error {
	for _, op := range ops {
		col, id := docstore.Split(op.Path)
		var (
			f   docstore.Fields
			err error
		)
		switch op.Kind {
		case docstore.OpSet:
			f, err = docstore.ApplySet(op.Fields, now)
		case docstore.OpUpdate:
			var cur docstore.Document
			cur, err = s.get(ctx, op.Path)
			if err == nil {
				f, err = docstore.ApplyUpdate(cur.Fields, op.Fields, now)
			}
		case docstore.OpDelete:
			if _, err := s.coll.DeleteOne(ctx, bson.M{"_id": op.Path}); err != nil {
				return fmt.Errorf("delete %s: %w", op.Path, err)
			}
			continue
		default:
			return fmt.Errorf("batch: unknown op kind %d", op.Kind)
		}
		if err != nil {
			return fmt.Errorf("write %s: %w", op.Path, err)
		}
		r := record{Path: op.Path, Collection: col, ID: id, Data: map[string]any(docstore.NormalizeFields(f))}
		_, err = s.coll.ReplaceOne(ctx, bson.M{"_id": op.Path}, r, options.Replace().SetUpsert(true))
		if err != nil {
			return fmt.Errorf("write %s: %w", op.Path, err)
		}
	}
	return nil
}

// Query pushes equality filters down to MongoDB and evaluates the rest of q
// in process.
func (s *Store) Query(ctx context.Context, q docstore.Query) ([]docstore.Document, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	filter := bson.M{"col": q.Collection}
	for _, f := range q.Filters {
		if f.Op == docstore.OpEqual || f.Op == docstore.OpArrayContains {
			if _, ok := filter["data."+f.Field]; !ok {
				filter["data."+f.Field] = f.Value
			}
		}
	}
	cur, err := s.coll.Find(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", q.Collection, err)
	}
	defer cur.Close(ctx)

	var all []docstore.Document
	for cur.Next(ctx) {
		var r record
		if err := cur.Decode(&r); err != nil {
			return nil, fmt.Errorf("decode %s: %w", q.Collection, err)
		}
		all = append(all, r.document())
	}
	if err := cur.Err(); err != nil {
		return nil, err
	}

	if q.StartAfter != "" && !containsID(all, q.StartAfter) {
		// the cursor fails the pushed-down filters but still positions the page
		cursorDoc, err := s.get(ctx, docstore.Join(q.Collection, q.StartAfter))
		if err != nil {
			return nil, fmt.Errorf("start after %q: %w", q.StartAfter, err)
		}
		all = append(all, cursorDoc)
	}
	return docstore.Evaluate(all, q)
}

func containsID(docs []docstore.Document, id string) bool {
	for _, d := range docs {
		if d.ID == id {
			return true
		}
	}
	return false
}

func (s *Store) Subscribe(ctx context.Context, t docstore.Target, fn docstore.SnapshotFunc) (docstore.Disposer, error) {
	if t.Doc == "" {
		if err := t.Query.Validate(); err != nil {
			return nil, err
		}
	}
	eval := func(ctx context.Context) docstore.Snapshot {
		if t.Doc != "" {
			d, err := s.Get(ctx, t.Doc)
			if errors.Is(err, docstore.ErrNotFound) {
				return docstore.Snapshot{}
			}
			if err != nil {
				return docstore.Snapshot{Err: err}
			}
			return docstore.Snapshot{Docs: []docstore.Document{d}}
		}
		docs, err := s.Query(ctx, t.Query)
		return docstore.Snapshot{Docs: docs, Err: err}
	}
	return s.hub.Watch(ctx, t, eval, fn), nil
}

var _ docstore.Store = (*Store)(nil)
