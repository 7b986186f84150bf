package storage

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/rlp"
)

// KV encodes values with RLP on top of a Database. Engines depend on the
// narrow KVGet/KVPut surface rather than on a concrete backend.
type KV struct {
	db Database
}

// NewKV wraps db.
func NewKV(db Database) *KV {
	return &KV{db: db}
}

// KVGet decodes the value stored at key into out. The boolean is false when
// the key is absent.
func (s *KV) KVGet(key []byte, out interface{}) (bool, error) {
	if s == nil || s.db == nil {
		return false, fmt.Errorf("storage: kv not configured")
	}
	encoded, err := s.db.Get(key)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if out == nil {
		return true, nil
	}
	if err := rlp.DecodeBytes(encoded, out); err != nil {
		return false, fmt.Errorf("storage: decode %q: %w", key, err)
	}
	return true, nil
}

// KVPut encodes value and stores it at key.
func (s *KV) KVPut(key []byte, value interface{}) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("storage: kv not configured")
	}
	encoded, err := rlp.EncodeToBytes(value)
	if err != nil {
		return fmt.Errorf("storage: encode %q: %w", key, err)
	}
	return s.db.Put(key, encoded)
}
