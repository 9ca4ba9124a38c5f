package blob

import (
	"context"
	"errors"
)

// ErrNotFound signals that no artifact exists for the given id.
var ErrNotFound = errors.New("blob: artifact not found")

// Store is the content-addressable binary storage this service depends on.
// Artifacts are append-only: nothing ever overwrites a stored object, a
// regenerated document gets a fresh id.
type Store interface {
	// Store persists the bytes and returns an opaque blob id.
	Store(ctx context.Context, data []byte, filename, mediaType, ownerID string) (string, error)
	// Fetch returns the raw bytes for a previously stored blob id.
	Fetch(ctx context.Context, blobID string) ([]byte, error)
}
