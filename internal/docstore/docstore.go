// Package docstore is the remote document store boundary. Documents are
// schemaless field maps grouped per owner; every backend offers point
// reads, whole-collection reads, merge updates and live subscriptions.
package docstore

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// Document is a single stored record. Values are JSON-native once read
// back from a backend: strings, float64, bool, nil, []any and map[string]any.
type Document map[string]any

type serverTimestamp struct{}

// ServerTimestamp is a write sentinel replaced by the backend's clock when
// the write is applied.
var ServerTimestamp any = serverTimestamp{}

// IsServerTimestamp reports whether v is the ServerTimestamp sentinel.
func IsServerTimestamp(v any) bool {
	_, ok := v.(serverTimestamp)
	return ok
}

// Snapshot is one delivery to a subscriber: the owner's full collection at
// a point in time.
type Snapshot struct {
	Owner string
	Docs  map[string]Document
	At    time.Time
}

// Listener receives snapshots. Deliveries for one subscription are
// sequential and never overlap.
type Listener func(Snapshot)

// Unsubscribe stops a subscription. Safe to call more than once.
type Unsubscribe func()

// Store is implemented by every backend.
type Store interface {
	// Get returns a NotFound error when the document does not exist.
	Get(ctx context.Context, owner, id string) (Document, error)
	List(ctx context.Context, owner string) (map[string]Document, error)
	// Set replaces the whole document, creating it if needed.
	Set(ctx context.Context, owner, id string, doc Document) error
	// Update merges fields into an existing document. A nil value removes
	// the field. Updating a missing document is a NotFound error.
	Update(ctx context.Context, owner, id string, fields Document) error
	// Delete returns a NotFound error when the document does not exist.
	Delete(ctx context.Context, owner, id string) error
	Owners(ctx context.Context) ([]string, error)
	Subscribe(ctx context.Context, owner string, fn Listener) (Unsubscribe, error)
	Ping(ctx context.Context) error
	Close() error
}

// Clone returns a deep copy of d.
func (d Document) Clone() Document {
	if d == nil {
		return nil
	}
	out := make(Document, len(d))
	for k, v := range d {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		m := make(map[string]any, len(t))
		for k, vv := range t {
			m[k] = cloneValue(vv)
		}
		return m
	case Document:
		return map[string]any(t.Clone())
	case []any:
		s := make([]any, len(t))
		for i, vv := range t {
			s[i] = cloneValue(vv)
		}
		return s
	default:
		return v
	}
}

// resolve replaces ServerTimestamp sentinels with now and normalizes every
// value to its JSON-native form.
func resolve(doc Document, now time.Time) (Document, error) {
	stamped := make(Document, len(doc))
	for k, v := range doc {
		if IsServerTimestamp(v) {
			stamped[k] = now.UTC().Format(time.RFC3339Nano)
			continue
		}
		stamped[k] = v
	}
	raw, err := json.Marshal(stamped)
	if err != nil {
		return nil, fmt.Errorf("encode document: %w", err)
	}
	var out Document
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("decode document: %w", err)
	}
	return out, nil
}

// merge applies fields onto base in place. Nil values delete the field.
func merge(base, fields Document) Document {
	if base == nil {
		base = Document{}
	}
	for k, v := range fields {
		if v == nil {
			delete(base, k)
			continue
		}
		base[k] = v
	}
	return base
}

// dropNils removes nil-valued fields, used when a full document is Set.
func dropNils(doc Document) Document {
	for k, v := range doc {
		if v == nil {
			delete(doc, k)
		}
	}
	return doc
}

func encode(doc Document) (string, error) {
	raw, err := json.Marshal(doc)
	if err != nil {
		return "", fmt.Errorf("encode document: %w", err)
	}
	return string(raw), nil
}

func decode(raw string) (Document, error) {
	var doc Document
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		return nil, fmt.Errorf("decode document: %w", err)
	}
	if doc == nil {
		doc = Document{}
	}
	return doc, nil
}
