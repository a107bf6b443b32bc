// Package memstore is an in-process docstore.Store. It backs the tests and
// the embedded client mode.
package memstore

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/matheus3301/chatsync/internal/bus"
	"github.com/matheus3301/chatsync/internal/docstore"
	"go.uber.org/zap"
)

// Store keeps documents in memory, grouped by collection path.
type Store struct {
	mu   sync.RWMutex
	cols map[string]map[string]docstore.Fields
	hub  *docstore.Hub
	now  func() time.Time
}

// New creates an empty store. A nil bus gets a private one.
func New(b *bus.Bus, logger *zap.Logger) *Store {
	if b == nil {
		b = bus.New()
	}
	return &Store{
		cols: make(map[string]map[string]docstore.Fields),
		hub:  docstore.NewHub(b, logger),
		now:  time.Now,
	}
}

// SetClock replaces the commit clock used for server timestamps.
func (s *Store) SetClock(now func() time.Time) {
	s.mu.Lock()
	s.now = now
	s.mu.Unlock()
}

// Close ends all live subscriptions.
func (s *Store) Close() error {
	s.hub.Close()
	return nil
}

func (s *Store) NewID() string {
	return uuid.NewString()
}

func (s *Store) Get(_ context.Context, docPath string) (docstore.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.getLocked(docPath)
}

func (s *Store) getLocked(docPath string) (docstore.Document, error) {
	col, id := docstore.Split(docPath)
	f, ok := s.cols[col][id]
	if !ok {
		return docstore.Document{}, fmt.Errorf("get %s: %w", docPath, docstore.ErrNotFound)
	}
	return docstore.Document{Path: docPath, ID: id, Fields: docstore.Clone(f)}, nil
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

// BatchWrite stages every operation against a private view and only then
// publishes the result, so a failing operation leaves nothing behind.
func (s *Store) BatchWrite(ctx context.Context, ops []docstore.Op) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	now := s.now()
	staged := make(map[string]docstore.Fields) // path -> fields, nil = deleted
	current := func(path string) (docstore.Fields, bool) {
		if f, ok := staged[path]; ok {
			return f, f != nil
		}
		col, id := docstore.Split(path)
		f, ok := s.cols[col][id]
		return f, ok
	}

	var paths []string
	for _, op := range ops {
		switch op.Kind {
		case docstore.OpSet:
			f, err := docstore.ApplySet(op.Fields, now)
			if err != nil {
				s.mu.Unlock()
				return fmt.Errorf("set %s: %w", op.Path, err)
			}
			staged[op.Path] = f
		case docstore.OpUpdate:
			base, ok := current(op.Path)
			if !ok {
				s.mu.Unlock()
				return fmt.Errorf("update %s: %w", op.Path, docstore.ErrNotFound)
			}
			f, err := docstore.ApplyUpdate(base, op.Fields, now)
			if err != nil {
				s.mu.Unlock()
				return fmt.Errorf("update %s: %w", op.Path, err)
			}
			staged[op.Path] = f
		case docstore.OpDelete:
			staged[op.Path] = nil
		default:
			s.mu.Unlock()
			return fmt.Errorf("batch: unknown op kind %d", op.Kind)
		}
		paths = append(paths, op.Path)
	}

	for path, f := range staged {
		col, id := docstore.Split(path)
		if f == nil {
			delete(s.cols[col], id)
			continue
		}
		if s.cols[col] == nil {
			s.cols[col] = make(map[string]docstore.Fields)
		}
		s.cols[col][id] = docstore.NormalizeFields(f)
	}
	s.mu.Unlock()

	s.hub.Notify(paths...)
	return nil
}

func (s *Store) Query(ctx context.Context, q docstore.Query) ([]docstore.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	all := s.collectionLocked(q.Collection)
	s.mu.RUnlock()
	return docstore.Evaluate(all, q)
}

func (s *Store) collectionLocked(col string) []docstore.Document {
	ids := make([]string, 0, len(s.cols[col]))
	for id := range s.cols[col] {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	docs := make([]docstore.Document, 0, len(ids))
	for _, id := range ids {
		docs = append(docs, docstore.Document{
			Path:   docstore.Join(col, id),
			ID:     id,
			Fields: docstore.Clone(s.cols[col][id]),
		})
	}
	return docs
}

func (s *Store) Subscribe(ctx context.Context, t docstore.Target, fn docstore.SnapshotFunc) (docstore.Disposer, error) {
	if t.Doc == "" {
		if err := t.Query.Validate(); err != nil {
			return nil, err
		}
	}
	return s.hub.Watch(ctx, t, s.eval(t), fn), nil
}

func (s *Store) eval(t docstore.Target) docstore.EvalFunc {
	return func(ctx context.Context) docstore.Snapshot {
		if t.Doc != "" {
			d, err := s.Get(ctx, t.Doc)
			if err != nil {
				return docstore.Snapshot{}
			}
			return docstore.Snapshot{Docs: []docstore.Document{d}}
		}
		docs, err := s.Query(ctx, t.Query)
		return docstore.Snapshot{Docs: docs, Err: err}
	}
}

var _ docstore.Store = (*Store)(nil)
