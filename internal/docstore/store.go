// Package docstore defines the document store the engine reads from and
// writes to: documents are maps of named fields addressed by slash-separated
// paths, with partial updates, atomic batches and push-based change feeds.
package docstore

import (
	"context"
	"errors"
	"strings"
)

// ErrNotFound is returned by Read when no document exists at the path.
var ErrNotFound = errors.New("docstore: document not found")

// Document is a map of named fields.
type Document map[string]any

// Snapshot is a document together with its path.
type Snapshot struct {
	Path string
	Data Document
}

// ID is the last path segment.
func (s Snapshot) ID() string { return Base(s.Path) }

// ChangeType says whether a document was written or removed.
type ChangeType string

const (
	ChangeUpsert ChangeType = "upsert"
	ChangeDelete ChangeType = "delete"
)

// ChangeEvent is one push notification. Data is the document after the change
// and is nil for deletes. Delivery is at-least-once and unordered across
// documents.
type ChangeEvent struct {
	Type ChangeType
	Path string
	Data Document
}

// ID is the last path segment.
func (e ChangeEvent) ID() string { return Base(e.Path) }

// Mutation is one entry of a batch. Delete takes precedence over Update.
// A MustExist update is skipped when no document exists at Path, so it can
// never create one.
type Mutation struct {
	Path      string
	Update    Document
	Delete    bool
	MustExist bool
}

// Filter narrows List results.
type Filter struct {
	Field string
	// ArrayContains matches documents whose Field is an array holding this
	// value.
	ArrayContains any
}

// ArrayContains is a convenience constructor for an array membership filter.
func ArrayContains(field string, value any) Filter {
	return Filter{Field: field, ArrayContains: value}
}

// Store is the document store collaborator.
type Store interface {
	// Read returns the document at path or ErrNotFound.
	Read(ctx context.Context, path string) (Document, error)
	// Write merges update into the document at path, creating it if needed.
	// Values may be ArrayUnion or ArrayRemove transforms.
	Write(ctx context.Context, path string, update Document) error
	// BatchWrite applies every mutation or none of them.
	BatchWrite(ctx context.Context, mutations []Mutation) error
	// Delete removes the document at path. Deleting a missing document is not
	// an error.
	Delete(ctx context.Context, path string) error
	// List returns the documents directly under collection that match every
	// filter.
	List(ctx context.Context, collection string, filters ...Filter) ([]Snapshot, error)
	// Subscribe streams changes to documents directly under collection, or
	// to the document itself when collection names a document. The channel
	// is closed when ctx is done.
	Subscribe(ctx context.Context, collection string) (<-chan ChangeEvent, error)
	// Close releases backend resources.
	Close() error
}

// Join builds a path from segments.
func Join(segments ...string) string {
	return strings.Join(segments, "/")
}

// Parent returns the collection path holding path.
func Parent(path string) string {
	i := strings.LastIndexByte(path, '/')
	if i < 0 {
		return ""
	}
	return path[:i]
}

// Base returns the last segment of path.
func Base(path string) string {
	i := strings.LastIndexByte(path, '/')
	return path[i+1:]
}

// Watches reports whether an event at path belongs to a subscription on
// collection.
func Watches(collection, path string) bool {
	return path == collection || Parent(path) == collection
}
