package port

import (
	"context"
	"encoding/json"
	"errors"
)

// ErrNotFound is returned by Get when no document exists at the path.
var ErrNotFound = errors.New("document not found")

// DocumentStore is the ledger's storage contract: path-addressed reads,
// child-field-equality queries, and atomic multi-path writes. It mirrors
// the primitives of the hierarchical store the protocol was designed
// against, so the services are testable against an in-memory backend.
type DocumentStore interface {
	// Get reads the document at path into out (a JSON-decodable pointer).
	Get(ctx context.Context, path string, out any) error

	// List returns all documents whose path starts with prefix, keyed by
	// full path.
	List(ctx context.Context, prefix string) (map[string]json.RawMessage, error)

	// QueryByField returns the documents under prefix whose top-level
	// field equals value.
	QueryByField(ctx context.Context, prefix, field string, value any) (map[string]json.RawMessage, error)

	// AtomicUpdate applies every path→value write as a single
	// all-or-nothing batch. A nil value deletes the path. Values are
	// marshaled to JSON.
	AtomicUpdate(ctx context.Context, updates map[string]any) error
}
