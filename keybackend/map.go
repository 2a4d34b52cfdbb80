// Package keybackend provides the secret stores the gateway looks access
// keys up in.
package keybackend

import (
	"fmt"
	"maps"
	"slices"
)

// MapSecretStore retrieves keys from an in-memory map.
type MapSecretStore struct {
	keys map[string]string
}

// NewMapSecretStore creates a store from an access key to secret key map.
// The map is copied.
func NewMapSecretStore(keys map[string]string) *MapSecretStore {
	return &MapSecretStore{keys: maps.Clone(keys)}
}

// Lookup returns the secret key for accessKey.
func (s *MapSecretStore) Lookup(accessKey string) (string, error) {
	secretKey, found := s.keys[accessKey]
	if !found {
		return "", fmt.Errorf("lookup %q: %w", accessKey, ErrKeyNotFound)
	}
	return secretKey, nil
}

// AccessKeys returns the known access keys in sorted order.
func (s *MapSecretStore) AccessKeys() []string {
	return slices.Sorted(maps.Keys(s.keys))
}
