// Package storage defines the string-keyed, JSON-valued store shared by the
// background and page contexts. Backends make no transactional promises; a
// Set replaces the whole value for its key.
package storage

import (
	"context"
	"encoding/json"
	"fmt"

	apperrors "carelay/internal/errors"
)

// Store is the persistent key-value store contract.
type Store interface {
	// Get returns the raw JSON stored under key. found is false when the key
	// has never been written.
	Get(ctx context.Context, key string) (value []byte, found bool, err error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
	Close() error
}

// GetJSON decodes the value under key into dest.
func GetJSON(ctx context.Context, s Store, key string, dest interface{}) (bool, error) {
	raw, found, err := s.Get(ctx, key)
	if err != nil {
		return false, apperrors.NewStoreError("get", key, err)
	}
	if !found || len(raw) == 0 || string(raw) == "null" {
		return false, nil
	}
	if err := json.Unmarshal(raw, dest); err != nil {
		return false, apperrors.Wrap(err, apperrors.ErrCodeStore, fmt.Sprintf("decode %s", key)).
			WithContext("key", key)
	}
	return true, nil
}

// SetJSON encodes value and stores it under key.
func SetJSON(ctx context.Context, s Store, key string, value interface{}) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrCodeStore, fmt.Sprintf("encode %s", key)).
			WithContext("key", key)
	}
	if err := s.Set(ctx, key, raw); err != nil {
		return apperrors.NewStoreError("set", key, err)
	}
	return nil
}

// GetBool reads a boolean flag; a missing key reads as false.
func GetBool(ctx context.Context, s Store, key string) (bool, error) {
	var v bool
	if _, err := GetJSON(ctx, s, key, &v); err != nil {
		return false, err
	}
	return v, nil
}
