// Package tombstone tracks recently deleted annotation ids for a short
// window so an extraction pass cannot resurrect an annotation from a stale
// mark while a deletion is still settling. Deletion itself is an atomic
// canonical-state write; the tombstone set is a defensive fallback for
// editing surfaces that cannot delete atomically.
package tombstone

import (
	"context"
	"time"
)

// DefaultTTL is how long a deleted id stays excluded from extraction.
const DefaultTTL = 500 * time.Millisecond

// Store records and queries recently removed annotation ids. Entries expire
// on their own; nothing here is part of canonical state.
type Store interface {
	MarkRemoved(ctx context.Context, id string) error
	IsRemoved(ctx context.Context, id string) bool
}
