package store

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/matheus3301/chatsync/internal/docstore"
)

func encode(f docstore.Fields) (string, error) {
	b, err := json.Marshal(f)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func decode(data string) (docstore.Fields, error) {
	dec := json.NewDecoder(bytes.NewReader([]byte(data)))
	dec.UseNumber()
	var f docstore.Fields
	if err := dec.Decode(&f); err != nil {
		return nil, err
	}
	return docstore.NormalizeFields(f), nil
}

type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func load(ctx context.Context, q querier, docPath string) (docstore.Fields, error) {
	col, id := docstore.Split(docPath)
	var data string
	err := q.QueryRowContext(ctx, `SELECT data FROM documents WHERE collection = ? AND id = ?`, col, id).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("get %s: %w", docPath, docstore.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", docPath, err)
	}
	f, err := decode(data)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", docPath, err)
	}
	return f, nil
}

func (db *DB) NewID() string {
	return uuid.NewString()
}

func (db *DB) Get(ctx context.Context, docPath string) (docstore.Document, error) {
	f, err := load(ctx, db.sql, docPath)
	if err != nil {
		return docstore.Document{}, err
	}
	_, id := docstore.Split(docPath)
	return docstore.Document{Path: docPath, ID: id, Fields: f}, nil
}

func (db *DB) Put(ctx context.Context, collection, id string, f docstore.Fields) (string, error) {
	if id == "" {
		id = db.NewID()
	}
	if err := db.BatchWrite(ctx, []docstore.Op{docstore.Set(docstore.Join(collection, id), f)}); err != nil {
		return "", err
	}
	return id, nil
}

func (db *DB) Update(ctx context.Context, docPath string, f docstore.Fields) error {
	return db.BatchWrite(ctx, []docstore.Op{docstore.Update(docPath, f)})
}

func (db *DB) Delete(ctx context.Context, docPath string) error {
	return db.BatchWrite(ctx, []docstore.Op{docstore.Remove(docPath)})
}

func (db *DB) Increment(ctx context.Context, docPath, field string, delta int64) error {
	return db.BatchWrite(ctx, []docstore.Op{docstore.Update(docPath, docstore.Fields{field: docstore.Increment(delta)})})
}

// BatchWrite applies ops in one transaction. Updates read their base inside
// the transaction, so increments see earlier writes of the same batch.
func (db *DB) BatchWrite(ctx context.Context, ops []docstore.Op) error {
	db.writeMu.Lock()
	defer db.writeMu.Unlock()

	tx, err := db.sql.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin batch: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := db.now()
	paths := make([]string, 0, len(ops))
	for _, op := range ops {
		col, id := docstore.Split(op.Path)
		var f docstore.Fields
		switch op.Kind {
		case docstore.OpSet:
			f, err = docstore.ApplySet(op.Fields, now)
		case docstore.OpUpdate:
			var base docstore.Fields
			base, err = load(ctx, tx, op.Path)
			if err == nil {
				f, err = docstore.ApplyUpdate(base, op.Fields, now)
			}
		case docstore.OpDelete:
			if _, err := tx.ExecContext(ctx, `DELETE FROM documents WHERE collection = ? AND id = ?`, col, id); err != nil {
				return fmt.Errorf("delete %s: %w", op.Path, err)
			}
			paths = append(paths, op.Path)
			continue
		default:
			return fmt.Errorf("batch: unknown op kind %d", op.Kind)
		}
		if err != nil {
			return fmt.Errorf("write %s: %w", op.Path, err)
		}
		data, err := encode(f)
		if err != nil {
			return fmt.Errorf("encode %s: %w", op.Path, err)
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO documents (collection, id, data, updated_at) VALUES (?, ?, ?, ?)
			ON CONFLICT(collection, id) DO UPDATE SET data = excluded.data, updated_at = excluded.updated_at`,
			col, id, data, now.UnixMilli())
		if err != nil {
			return fmt.Errorf("write %s: %w", op.Path, err)
		}
		paths = append(paths, op.Path)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit batch: %w", err)
	}
	db.hub.Notify(paths...)
	return nil
}

// Query loads the collection and evaluates q in process. Collections are
// per-conversation, so the scanned set stays small.
func (db *DB) Query(ctx context.Context, q docstore.Query) ([]docstore.Document, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}
	rows, err := db.sql.QueryContext(ctx, `SELECT id, data FROM documents WHERE collection = ? ORDER BY id`, q.Collection)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", q.Collection, err)
	}
	defer func() { _ = rows.Close() }()

	var all []docstore.Document
	for rows.Next() {
		var id, data string
		if err := rows.Scan(&id, &data); err != nil {
			return nil, err
		}
		f, err := decode(data)
		if err != nil {
			db.logger.Sugar().Warnw("skipping undecodable document", "collection", q.Collection, "id", id, "error", err)
			continue
		}
		all = append(all, docstore.Document{Path: docstore.Join(q.Collection, id), ID: id, Fields: f})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return docstore.Evaluate(all, q)
}

func (db *DB) Subscribe(ctx context.Context, t docstore.Target, fn docstore.SnapshotFunc) (docstore.Disposer, error) {
	if t.Doc == "" {
		if err := t.Query.Validate(); err != nil {
			return nil, err
		}
	}
	eval := func(ctx context.Context) docstore.Snapshot {
		if t.Doc != "" {
			d, err := db.Get(ctx, t.Doc)
			if errors.Is(err, docstore.ErrNotFound) {
				return docstore.Snapshot{}
			}
			if err != nil {
				return docstore.Snapshot{Err: err}
			}
			return docstore.Snapshot{Docs: []docstore.Document{d}}
		}
		docs, err := db.Query(ctx, t.Query)
		return docstore.Snapshot{Docs: docs, Err: err}
	}
	return db.hub.Watch(ctx, t, eval, fn), nil
}

var _ docstore.Store = (*DB)(nil)
