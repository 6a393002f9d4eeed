package kv

import (
	"context"
	"sort"
	"time"

	"github.com/oddbit-project/safekeep/utils"
)

const (
	ErrClosed     = utils.Error("kv store is closed")
	ErrInvalidKey = utils.Error("invalid kv key")
)

// KV is a byte-oriented key-value store; Get returns nil, nil for missing or expired keys
type KV interface {
	SetTTL(ctx context.Context, k string, v []byte, ttl time.Duration) error
	Set(ctx context.Context, k string, v []byte) error
	// SetMany writes every entry or none of them
	SetMany(ctx context.Context, entries map[string][]byte) error
	Get(ctx context.Context, k string) ([]byte, error)
	Delete(ctx context.Context, k string) error
	Keys(ctx context.Context, prefix string) ([]string, error)
	Prune(ctx context.Context) error
	Close() error
}

// DeletePrefix removes every key starting with prefix and returns the number of keys removed
func DeletePrefix(ctx context.Context, store KV, prefix string) (int, error) {
	keys, err := store.Keys(ctx, prefix)
	if err != nil {
		return 0, err
	}
	for i, k := range keys {
		if err := store.Delete(ctx, k); err != nil {
			return i, err
		}
	}
	return len(keys), nil
}

// sortedKeys returns the keys of entries in order, failing on an empty key
func sortedKeys(entries map[string][]byte) ([]string, error) {
	keys := make([]string, 0, len(entries))
	for k := range entries {
		if k == "" {
			return nil, ErrInvalidKey
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys, nil
}
