package tokencache

import (
	"context"
	"errors"
)

// ErrStoreUnavailable wraps failures of a remote store backend.
var ErrStoreUnavailable = errors.New("tokencache: store unavailable")

// Store is the storage backend of a Cache. Implementations must be safe for
// concurrent use.
type Store[V any] interface {
	// Store replaces the value under id.
	Store(ctx context.Context, id string, v V) error

	// Get returns the value under id; the bool is false when absent.
	Get(ctx context.Context, id string) (V, bool, error)

	// Evict removes id and returns the value it held.
	Evict(ctx context.Context, id string) (V, bool, error)
}
