package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/oddbit-project/safekeep/provider/kv"
	"github.com/oddbit-project/safekeep/utils"
)

const (
	DefaultPrefix = "safekeep:"

	ErrNotFound = utils.Error("record not found")
)

// Namespaces under the common prefix
const (
	NsVerification = "verification"
	NsRecords      = "records"
	NsProfile      = "profile"
	NsDevices      = "devices"
	NsAlerts       = "alerts"
	NsConsents     = "consents"
	NsActivity     = "activity"
	NsBiometric    = "biometric"
	NsInstall      = "install"
	NsDocuments    = "docs"
	NsExports      = "exports"
	NsTombstone    = "tombstone"
	NsLockout      = "lockout"
)

// Store gives typed repositories over a single KV adapter; every key lives under prefix
type Store struct {
	kv     kv.KV
	prefix string
	// per-namespace locks for read-modify-write logs
	locks sync.Map
}

func New(backend kv.KV, prefix string) *Store {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &Store{
		kv:     backend,
		prefix: prefix,
	}
}

// Prefix returns the common key prefix
func (s *Store) Prefix() string {
	return s.prefix
}

// Backend returns the underlying KV adapter
func (s *Store) Backend() kv.KV {
	return s.kv
}

// Key builds a full key from its namespace parts
func (s *Store) Key(parts ...string) string {
	return s.prefix + strings.Join(parts, ":")
}

// NamespacePrefix returns the key prefix shared by all entries of namespace ns
func (s *Store) NamespacePrefix(ns string) string {
	switch ns {
	case NsRecords, NsDevices, NsConsents, NsBiometric, NsDocuments, NsExports:
		return s.Key(ns) + ":"
	}
	return s.Key(ns)
}

// Keys lists every key under the common prefix
func (s *Store) Keys(ctx context.Context) ([]string, error) {
	return s.kv.Keys(ctx, s.prefix)
}

// DeleteNamespace removes every key of namespace ns
func (s *Store) DeleteNamespace(ctx context.Context, ns string) (int, error) {
	switch ns {
	case NsRecords, NsDevices, NsConsents, NsBiometric, NsDocuments, NsExports:
		return kv.DeletePrefix(ctx, s.kv, s.NamespacePrefix(ns))
	}
	key := s.Key(ns)
	v, err := s.kv.Get(ctx, key)
	if err != nil || v == nil {
		return 0, err
	}
	return 1, s.kv.Delete(ctx, key)
}

// DeleteAll removes every key under the common prefix
func (s *Store) DeleteAll(ctx context.Context) (int, error) {
	return kv.DeletePrefix(ctx, s.kv, s.prefix)
}

func (s *Store) lock(ns string) *sync.Mutex {
	m, _ := s.locks.LoadOrStore(ns, &sync.Mutex{})
	return m.(*sync.Mutex)
}

func (s *Store) getJSON(ctx context.Context, key string, dest interface{}) error {
	data, err := s.kv.Get(ctx, key)
	if err != nil {
		return err
	}
	if data == nil {
		return ErrNotFound
	}
	if err := json.Unmarshal(data, dest); err != nil {
		return fmt.Errorf("decoding %s: %w", key, err)
	}
	return nil
}

func (s *Store) putJSON(ctx context.Context, key string, value interface{}) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encoding %s: %w", key, err)
	}
	return s.kv.Set(ctx, key, data)
}

// collection is a keyed set of T under one namespace
type collection[T any] struct {
	s  *Store
	ns string
}

func (c collection[T]) key(id string) string {
	return c.s.NamespacePrefix(c.ns) + id
}

func (c collection[T]) get(ctx context.Context, id string) (*T, error) {
	var v T
	if err := c.s.getJSON(ctx, c.key(id), &v); err != nil {
		return nil, err
	}
	return &v, nil
}

func (c collection[T]) put(ctx context.Context, id string, v *T) error {
	if id == "" {
		return kv.ErrInvalidKey
	}
	return c.s.putJSON(ctx, c.key(id), v)
}

func (c collection[T]) delete(ctx context.Context, id string) error {
	return c.s.kv.Delete(ctx, c.key(id))
}

func (c collection[T]) ids(ctx context.Context) ([]string, error) {
	prefix := c.s.NamespacePrefix(c.ns)
	keys, err := c.s.kv.Keys(ctx, prefix)
	if err != nil {
		return nil, err
	}
	result := make([]string, 0, len(keys))
	for _, k := range keys {
		result = append(result, strings.TrimPrefix(k, prefix))
	}
	return result, nil
}

func (c collection[T]) list(ctx context.Context) ([]*T, error) {
	ids, err := c.ids(ctx)
	if err != nil {
		return nil, err
	}
	result := make([]*T, 0, len(ids))
	for _, id := range ids {
		v, err := c.get(ctx, id)
		if errors.Is(err, ErrNotFound) {
			// expired between listing and reading
			continue
		}
		if err != nil {
			return nil, err
		}
		result = append(result, v)
	}
	return result, nil
}

// cappedLog is an append-only JSON list under one key, oldest entries evicted past limit
type cappedLog[T any] struct {
	s     *Store
	ns    string
	limit int
}

func (l cappedLog[T]) read(ctx context.Context) ([]T, error) {
	entries := make([]T, 0)
	err := l.s.getJSON(ctx, l.s.Key(l.ns), &entries)
	if errors.Is(err, ErrNotFound) {
		return entries, nil
	}
	return entries, err
}

func (l cappedLog[T]) append(ctx context.Context, entry T) (evicted int, err error) {
	m := l.s.lock(l.ns)
	m.Lock()
	defer m.Unlock()
	entries, err := l.read(ctx)
	if err != nil {
		return 0, err
	}
	entries = append(entries, entry)
	if l.limit > 0 && len(entries) > l.limit {
		evicted = len(entries) - l.limit
		entries = entries[evicted:]
	}
	return evicted, l.s.putJSON(ctx, l.s.Key(l.ns), entries)
}

// clear deletes the log under the namespace lock and returns the number of entries it held
func (l cappedLog[T]) clear(ctx context.Context) (int, error) {
	m := l.s.lock(l.ns)
	m.Lock()
	defer m.Unlock()
	entries, err := l.read(ctx)
	if err != nil {
		return 0, err
	}
	return len(entries), l.s.kv.Delete(ctx, l.s.Key(l.ns))
}

// update applies fn to the stored entries under the namespace lock
func (l cappedLog[T]) update(ctx context.Context, fn func(entries []T) ([]T, error)) error {
	m := l.s.lock(l.ns)
	m.Lock()
	defer m.Unlock()
	entries, err := l.read(ctx)
	if err != nil {
		return err
	}
	if entries, err = fn(entries); err != nil {
		return err
	}
	return l.s.putJSON(ctx, l.s.Key(l.ns), entries)
}

// Batch collects writes that reach the backend in a single SetMany
type Batch struct {
	s       *Store
	entries map[string][]byte
	err     error
}

func (s *Store) Batch() *Batch {
	return &Batch{s: s, entries: make(map[string][]byte)}
}

func (b *Batch) put(key string, value interface{}) *Batch {
	if b.err != nil {
		return b
	}
	data, err := json.Marshal(value)
	if err != nil {
		b.err = fmt.Errorf("encoding %s: %w", key, err)
		return b
	}
	b.entries[key] = data
	return b
}

func (b *Batch) PutRecord(namespace string, rec *EncryptedRecord) *Batch {
	if namespace == "" {
		if b.err == nil {
			b.err = kv.ErrInvalidKey
		}
		return b
	}
	return b.put(b.s.NamespacePrefix(NsRecords)+namespace, rec)
}

func (b *Batch) PutVerification(rec *EncryptedRecord) *Batch {
	return b.put(b.s.Key(NsVerification), rec)
}

func (b *Batch) PutProfile(profile *SecurityProfile) *Batch {
	return b.put(b.s.Key(NsProfile), profile)
}

func (b *Batch) Len() int {
	return len(b.entries)
}

// Commit writes every collected entry or none of them
func (b *Batch) Commit(ctx context.Context) error {
	if b.err != nil {
		return b.err
	}
	if len(b.entries) == 0 {
		return nil
	}
	return b.s.kv.SetMany(ctx, b.entries)
}
