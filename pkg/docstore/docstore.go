package docstore

import (
	"context"
	"time"
)

// Document is a revisioned JSON document stored in a collection.
// Revision starts at 1 and increases by one on every write.
type Document struct {
	Collection string
	ID         string
	Body       map[string]interface{}
	Revision   int64
	UpdatedAt  time.Time
}

// Predicate is an equality filter on a top-level body field.
type Predicate struct {
	Field string
	Value interface{}
}

// Ordering sorts query results by a top-level body field.
type Ordering struct {
	Field string
	Desc  bool
}

// Change is delivered on a watch stream. The stream is at-least-once:
// consumers must tolerate redelivery of the same revision.
type Change struct {
	Collection string
	ID         string
	Revision   int64
}

// Subscription is a scoped acquisition of a per-document change stream.
// Close releases the subscription; cancelling the context passed to
// Watch releases it as well, whichever happens first.
type Subscription interface {
	Changes() <-chan Change
	Close()
}

// Gateway is the persistence substrate contract. Implementations must
// make Set, SetIfRevision and Delete atomic at the document level.
type Gateway interface {
	// Get fetches a document. Returns errors.ErrNotFound when absent.
	Get(ctx context.Context, collection, id string) (*Document, error)

	// Set writes unconditionally, creating the document when absent.
	Set(ctx context.Context, collection, id string, body map[string]interface{}) (*Document, error)

	// SetIfRevision writes only when the stored revision equals
	// expectedRevision. An expectedRevision of zero asserts the
	// document does not exist yet. Returns errors.ErrConflict when
	// the assertion fails.
	SetIfRevision(ctx context.Context, collection, id string, body map[string]interface{}, expectedRevision int64) (*Document, error)

	// Delete removes a document. Deleting an absent document is a no-op.
	Delete(ctx context.Context, collection, id string) error

	// Query returns documents matching every predicate.
	Query(ctx context.Context, collection string, predicates []Predicate, ordering *Ordering) ([]Document, error)

	// Watch subscribes to changes of a single document.
	Watch(ctx context.Context, collection, id string) (Subscription, error)
}
