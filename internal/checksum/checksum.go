// Package checksum computes deterministic fingerprints over event payloads.
package checksum

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
)

// ErrSerialization indicates that a payload cannot be fingerprinted.
var ErrSerialization = errors.New("checksum: payload not serializable")

// Compute returns the SHA-256 hex digest of the canonical form of a JSON
// payload. Two payloads that are equal by value produce the same digest
// regardless of object key order in the encoded input.
func Compute(payload json.RawMessage) (string, error) {
	if len(payload) == 0 {
		return "", fmt.Errorf("%w: empty payload", ErrSerialization)
	}

	var decoded interface{}
	if err := json.Unmarshal(payload, &decoded); err != nil {
		return "", fmt.Errorf("%w: %v", ErrSerialization, err)
	}

	return digest(decoded)
}

// ComputeValue fingerprints an arbitrary Go value by serializing it to
// canonical JSON first.
func ComputeValue(value interface{}) (string, error) {
	encoded, err := json.Marshal(value)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrSerialization, err)
	}
	return Compute(encoded)
}

// digest marshals the decoded value back to JSON, which sorts object keys,
// and hashes the result.
func digest(decoded interface{}) (string, error) {
	canonical, err := json.Marshal(decoded)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrSerialization, err)
	}
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:]), nil
}
