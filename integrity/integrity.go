// Package integrity anchors and verifies content hashes over stored binary
// artifacts. The digest covers the raw stored bytes, never the source markup.
package integrity

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"agreementvault/blob"
	"agreementvault/logging"
)

// ErrArtifactNotFound signals the referenced blob does not exist.
var ErrArtifactNotFound = errors.New("integrity: artifact not found")

// Hasher computes and verifies SHA-256 digests over artifacts in a Store.
type Hasher struct {
	store blob.Store
}

func NewHasher(store blob.Store) *Hasher {
	return &Hasher{store: store}
}

// Hash fetches the artifact and returns the lowercase hex SHA-256 digest of
// its raw bytes.
func (h *Hasher) Hash(ctx context.Context, blobID string) (string, error) {
	data, err := h.store.Fetch(ctx, blobID)
	if err != nil {
		if errors.Is(err, blob.ErrNotFound) {
			return "", ErrArtifactNotFound
		}
		return "", fmt.Errorf("integrity: fetch artifact: %w", err)
	}
	return SumBytes(data), nil
}

// Verify re-hashes the current artifact bytes and compares them to the
// expected digest, case-insensitively. It reports false rather than erroring
// on mismatch, missing artifact, or empty expected hash; the reason is only
// visible in logs.
func (h *Hasher) Verify(ctx context.Context, blobID, expectedHash string) bool {
	if expectedHash == "" {
		logging.Warn(ctx, "integrity: verify with empty expected hash", "blob_id", blobID)
		return false
	}

	actual, err := h.Hash(ctx, blobID)
	if err != nil {
		logging.Warn(ctx, "integrity: verify could not hash artifact", "blob_id", blobID, "error", err)
		return false
	}

	if !strings.EqualFold(actual, expectedHash) {
		logging.Warn(ctx, "integrity: hash mismatch", "blob_id", blobID, "expected", expectedHash, "actual", actual)
		return false
	}

	return true
}

// SumBytes returns the lowercase hex SHA-256 digest of b.
func SumBytes(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}
