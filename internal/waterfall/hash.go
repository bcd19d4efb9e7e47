package waterfall

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// SnapshotHash returns the SHA-256 of the canonical JSON encoding of a run
// input. Identical snapshots always hash identically (encoding/json emits map
// keys in sorted order), so the hash is safe as a completed-run cache key and
// as a stored fingerprint of what a persisted result was computed from.
func SnapshotHash(input RunInput) (string, error) {
	data, err := json.Marshal(input)
	if err != nil {
		return "", fmt.Errorf("failed to encode run input: %w", err)
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}
