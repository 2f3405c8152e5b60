// Package kvstate adapts a raw key-value Database into the typed storage
// interface consumed by the native engines. Values are RLP encoded so state
// layouts stay deterministic across backends.
package kvstate

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/rlp"

	"valuechain/storage"
)

// Store wraps a Database with RLP encoding of typed values.
type Store struct {
	db storage.Database
}

// New constructs a Store over the supplied database.
func New(db storage.Database) *Store {
	return &Store{db: db}
}

// KVGet decodes the stored value for key into out. It reports false with a
// nil error when the key is absent.
func (s *Store) KVGet(key []byte, out interface{}) (bool, error) {
	if s == nil || s.db == nil {
		return false, fmt.Errorf("kvstate: store not configured")
	}
	raw, err := s.db.Get(key)
	if err != nil {
		if errors.Is(err, storage.ErrKeyNotFound) {
			return false, nil
		}
		return false, err
	}
	if err := rlp.DecodeBytes(raw, out); err != nil {
		return false, fmt.Errorf("kvstate: decode %x: %w", key, err)
	}
	return true, nil
}

// KVPut encodes value with RLP and stores it under key.
func (s *Store) KVPut(key []byte, value interface{}) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("kvstate: store not configured")
	}
	raw, err := rlp.EncodeToBytes(value)
	if err != nil {
		return fmt.Errorf("kvstate: encode %x: %w", key, err)
	}
	return s.db.Put(key, raw)
}

// KVDelete removes the value stored under key. Deleting a missing key is a
// no-op.
func (s *Store) KVDelete(key []byte) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("kvstate: store not configured")
	}
	return s.db.Delete(key)
}
