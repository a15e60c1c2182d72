// Package storage is the durable key-value store behind the session and the
// trip draft. Values are JSON documents under fixed keys; the configured
// prefix namespaces them and carries the format version.
package storage

import (
	"context"
	"encoding/json"
	"fmt"
)

// Keys shared by the session manager and the draft store.
const (
	KeyAuthToken            = "authToken"
	KeyAuthTokenIssuedAt    = "authTokenIssuedAt"
	KeyAuthUser             = "authUser"
	KeySelectedAddress      = "selectedAddress"
	KeySelectedDestination  = "selectedDestination"
	KeyRouteDurationMinutes = "routeDurationMinutes"
)

// DefaultPrefix is the v1 layout of every key.
const DefaultPrefix = "carona:v1:"

// Store defines the persistence operations the client relies on. Writes are
// last-write-wins; Get reports a missing key with ok=false and no error.
type Store interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, keys ...string) error
}

// GetJSON decodes the value under key into v. A missing key leaves v untouched.
func GetJSON(ctx context.Context, s Store, key string, v any) (bool, error) {
	raw, ok, err := s.Get(ctx, key)
	if err != nil || !ok {
		return false, err
	}
	if err := json.Unmarshal([]byte(raw), v); err != nil {
		return false, fmt.Errorf("storage: decode %s: %w", key, err)
	}
	return true, nil
}

// SetJSON encodes v and stores it under key.
func SetJSON(ctx context.Context, s Store, key string, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("storage: encode %s: %w", key, err)
	}
	return s.Set(ctx, key, string(b))
}
