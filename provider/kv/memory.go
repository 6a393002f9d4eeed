package kv

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/oddbit-project/safekeep/utils"
)

type record struct {
	data    []byte
	created time.Time
	ttl     time.Duration
}

func (r *record) expired(now time.Time) bool {
	return r.ttl > 0 && r.ttl < now.Sub(r.created)
}

type memkv struct {
	data   map[string]*record
	clock  clockwork.Clock
	closed bool
	m      sync.RWMutex
}

func NewMemoryKV() KV {
	return NewMemoryKVWithClock(clockwork.NewRealClock())
}

// NewMemoryKVWithClock creates an in-memory store whose TTLs follow clock
func NewMemoryKVWithClock(clock clockwork.Clock) KV {
	return &memkv{
		data:  make(map[string]*record),
		clock: clock,
	}
}

// Set sets a key value
func (mkv *memkv) Set(ctx context.Context, k string, v []byte) error {
	return mkv.SetTTL(ctx, k, v, 0)
}

// SetTTL sets a key value with ttl; a ttl of 0 never expires
func (mkv *memkv) SetTTL(_ context.Context, k string, v []byte, ttl time.Duration) error {
	if k == "" {
		return ErrInvalidKey
	}
	mkv.m.Lock()
	defer mkv.m.Unlock()
	if mkv.closed {
		return ErrClosed
	}
	mkv.data[k] = &record{
		data:    utils.CloneBytes(v),
		created: mkv.clock.Now(),
		ttl:     ttl,
	}
	return nil
}

// SetMany stores all entries under a single lock acquisition
func (mkv *memkv) SetMany(_ context.Context, entries map[string][]byte) error {
	keys, err := sortedKeys(entries)
	if err != nil {
		return err
	}
	mkv.m.Lock()
	defer mkv.m.Unlock()
	if mkv.closed {
		return ErrClosed
	}
	now := mkv.clock.Now()
	for _, k := range keys {
		mkv.data[k] = &record{
			data:    utils.CloneBytes(entries[k]),
			created: now,
		}
	}
	return nil
}

// Get fetches a value
func (mkv *memkv) Get(_ context.Context, k string) ([]byte, error) {
	mkv.m.Lock()
	defer mkv.m.Unlock()
	if mkv.closed {
		return nil, ErrClosed
	}
	v, ok := mkv.data[k]
	if !ok {
		return nil, nil // not found
	}
	if v.expired(mkv.clock.Now()) {
		delete(mkv.data, k)
		return nil, nil // not found
	}
	return utils.CloneBytes(v.data), nil
}

// Delete removes a value
func (mkv *memkv) Delete(_ context.Context, k string) error {
	mkv.m.Lock()
	defer mkv.m.Unlock()
	if mkv.closed {
		return ErrClosed
	}
	if r, ok := mkv.data[k]; ok {
		utils.Wipe(r.data)
		delete(mkv.data, k)
	}
	return nil
}

// Keys lists live keys starting with prefix, sorted
func (mkv *memkv) Keys(_ context.Context, prefix string) ([]string, error) {
	mkv.m.RLock()
	defer mkv.m.RUnlock()
	if mkv.closed {
		return nil, ErrClosed
	}
	now := mkv.clock.Now()
	result := make([]string, 0)
	for k, v := range mkv.data {
		if strings.HasPrefix(k, prefix) && !v.expired(now) {
			result = append(result, k)
		}
	}
	sort.Strings(result)
	return result, nil
}

// Prune removes expired records
func (mkv *memkv) Prune(ctx context.Context) error {
	now := mkv.clock.Now()
	expired := make([]string, 0)
	mkv.m.RLock()
	for k, v := range mkv.data {
		if v.expired(now) {
			expired = append(expired, k)
		}
	}
	mkv.m.RUnlock()
	for _, id := range expired {
		if err := mkv.Delete(ctx, id); err != nil {
			return err
		}
	}
	return nil
}

// Close wipes and drops all values
func (mkv *memkv) Close() error {
	mkv.m.Lock()
	defer mkv.m.Unlock()
	for _, r := range mkv.data {
		utils.Wipe(r.data)
	}
	mkv.data = make(map[string]*record)
	mkv.closed = true
	return nil
}
