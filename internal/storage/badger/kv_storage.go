package badger

import (
	"context"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/timshannon/badgerhold/v4"

	"github.com/ternarybob/doceo/internal/interfaces"
)

// KVStorage implements the KeyValueStorage interface for Badger.
// Holds API keys and runtime settings that override config file values.
type KVStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// NewKVStorage creates a new KVStorage instance
func NewKVStorage(db *BadgerDB, logger arbor.ILogger) interfaces.KeyValueStorage {
	return &KVStorage{
		db:     db,
		logger: logger,
	}
}

// Get returns the stored value for a key
func (s *KVStorage) Get(ctx context.Context, key string) (string, error) {
	var pair interfaces.KeyValuePair
	err := withRetry(ctx, func() error {
		return s.db.Store().Get(key, &pair)
	})
	if err == badgerhold.ErrNotFound {
		return "", interfaces.ErrKeyNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to get key %s: %w", key, err)
	}
	return pair.Value, nil
}

// Set stores or replaces a key/value pair
func (s *KVStorage) Set(ctx context.Context, key, value, description string) error {
	if key == "" {
		return fmt.Errorf("key is required")
	}
	now := time.Now()
	pair := interfaces.KeyValuePair{
		Key:         key,
		Value:       value,
		Description: description,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	// CreatedAt preservation and the write happen in one transaction so a
	// concurrent Set on the same key cannot resurrect a stale CreatedAt
	return withRetry(ctx, func() error {
		txn := s.db.Store().Badger().NewTransaction(true)
		defer txn.Discard()

		pair.CreatedAt = now
		var existing interfaces.KeyValuePair
		if err := s.db.Store().TxGet(txn, key, &existing); err == nil {
			pair.CreatedAt = existing.CreatedAt
		} else if err != badgerhold.ErrNotFound {
			return fmt.Errorf("failed to load key %s: %w", key, err)
		}
		if err := s.db.Store().TxUpsert(txn, key, &pair); err != nil {
			return fmt.Errorf("failed to set key %s: %w", key, err)
		}
		return txn.Commit()
	})
}

// Delete removes a key; deleting a missing key is not an error
func (s *KVStorage) Delete(ctx context.Context, key string) error {
	return withRetry(ctx, func() error {
		err := s.db.Store().Delete(key, &interfaces.KeyValuePair{})
		if err == badgerhold.ErrNotFound {
			return nil
		}
		return err
	})
}
