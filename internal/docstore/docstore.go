// Package docstore defines the Document Store contract the synchronization
// core is written against, plus the pieces shared by every implementation:
// field transforms, query evaluation and live-query fan-out.
package docstore

import (
	"context"
	"errors"
	"strings"
)

// ErrNotFound is returned when a document or a pagination cursor is missing.
var ErrNotFound = errors.New("document not found")

// Fields holds a document's data. Values are nil, bool, numbers, string,
// time.Time, []any / []string and nested maps.
type Fields map[string]any

// Document is a stored document addressed by its full path.
type Document struct {
	Path   string // e.g. conversations/c1/messages/m1
	ID     string
	Fields Fields
}

// Collection returns the path of the collection holding d.
func (d Document) Collection() string {
	c, _ := Split(d.Path)
	return c
}

// Join builds a slash-separated path.
func Join(parts ...string) string {
	return strings.Join(parts, "/")
}

// Split separates a document path into its collection path and id.
func Split(docPath string) (collection, id string) {
	i := strings.LastIndex(docPath, "/")
	if i < 0 {
		return "", docPath
	}
	return docPath[:i], docPath[i+1:]
}

// OpKind is the kind of a batched write.
type OpKind int

const (
	OpSet OpKind = iota
	OpUpdate
	OpDelete
)

// Op is a single write inside a batch.
type Op struct {
	Kind   OpKind
	Path   string
	Fields Fields
}

// Set creates or overwrites the document at path.
func Set(path string, f Fields) Op { return Op{Kind: OpSet, Path: path, Fields: f} }

// Update merges f into the existing document at path. Keys may be dotted paths.
func Update(path string, f Fields) Op { return Op{Kind: OpUpdate, Path: path, Fields: f} }

// Remove deletes the document at path.
func Remove(path string) Op { return Op{Kind: OpDelete, Path: path} }

// Target selects what a live subscription watches: a collection query or a
// single document (Doc non-empty).
type Target struct {
	Query Query
	Doc   string
}

// Collection returns the collection the target reads from.
func (t Target) Collection() string {
	if t.Doc != "" {
		c, _ := Split(t.Doc)
		return c
	}
	return t.Query.Collection
}

// Key identifies equivalent targets so subscriptions can be shared.
func (t Target) Key() string {
	if t.Doc != "" {
		return "doc:" + t.Doc
	}
	return "query:" + t.Query.String()
}

// Snapshot is the full current result of a target. Err is set when the live
// channel itself failed; Docs is then meaningless.
type Snapshot struct {
	Docs []Document
	Err  error
}

// SnapshotFunc receives every snapshot of a subscription in delivery order.
type SnapshotFunc func(Snapshot)

// Disposer releases a live subscription.
type Disposer func()

// Store is the external document store.
type Store interface {
	// NewID returns a fresh document id.
	NewID() string
	Get(ctx context.Context, docPath string) (Document, error)
	// Put creates or overwrites a document; an empty id is assigned by the store.
	Put(ctx context.Context, collection, id string, f Fields) (string, error)
	Update(ctx context.Context, docPath string, f Fields) error
	Delete(ctx context.Context, docPath string) error
	Increment(ctx context.Context, docPath, field string, delta int64) error
	// BatchWrite commits all operations or none.
	BatchWrite(ctx context.Context, ops []Op) error
	Query(ctx context.Context, q Query) ([]Document, error)
	// Subscribe delivers the current snapshot and then one per change until
	// the disposer is called or ctx ends.
	Subscribe(ctx context.Context, t Target, fn SnapshotFunc) (Disposer, error)
}
