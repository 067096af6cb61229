package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// OutputCache stores task outputs keyed by task type and canonicalized
// input. The execution core treats it as a pure map: a miss is not an error,
// and implementations may add TTL or eviction freely.
type OutputCache interface {
	// GetOutput returns the cached output for the key. The second result is
	// false on a miss.
	GetOutput(ctx context.Context, taskType, key string) (map[string]any, bool, error)

	// PutOutput stores the output for the key, replacing any previous entry.
	PutOutput(ctx context.Context, taskType, key string, output map[string]any) error
}

// CanonicalInput serializes an input object deterministically: JSON with
// stable key order, so semantically equal inputs serialize identically
// regardless of declaration order.
func CanonicalInput(input map[string]any) ([]byte, error) {
	// encoding/json sorts map keys, which is exactly the stability needed
	// for primitive-leaf input objects.
	data, err := json.Marshal(input)
	if err != nil {
		return nil, fmt.Errorf("input not canonicalizable: %w", err)
	}
	return data, nil
}

// CanonicalKey returns the content-addressed fingerprint of an input object.
func CanonicalKey(input map[string]any) (string, error) {
	data, err := CanonicalInput(input)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}
