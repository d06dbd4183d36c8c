package simnet

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
)

// ErrNotFound is returned when a stored value does not exist.
var ErrNotFound = errors.New("not found")

// KVStore is the key/value state of a chain.
type KVStore interface {
	Get(key string) []byte
	Has(key string) bool
	Set(key string, value []byte)
	Delete(key string)
	// Iterate visits keys with prefix in ascending order until fn returns false.
	Iterate(prefix string, fn func(key string, value []byte) bool)
}

type memStore struct {
	data map[string][]byte
}

// NewMemStore returns an empty in-memory store.
func NewMemStore() KVStore {
	return newMemStore()
}

func newMemStore() *memStore {
	return &memStore{data: make(map[string][]byte)}
}

func (m *memStore) Get(key string) []byte { return m.data[key] }

func (m *memStore) Has(key string) bool {
	_, ok := m.data[key]
	return ok
}

func (m *memStore) Set(key string, value []byte) { m.data[key] = value }

func (m *memStore) Delete(key string) { delete(m.data, key) }

func (m *memStore) Iterate(prefix string, fn func(string, []byte) bool) {
	keys := make([]string, 0)
	for k := range m.data {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	for _, k := range keys {
		if !fn(k, m.data[k]) {
			return
		}
	}
}

// cacheStore buffers writes on top of a parent until Write is called.
type cacheStore struct {
	parent KVStore
	writes map[string][]byte
	// deleted keys map to true.
	deleted map[string]bool
}

func newCacheStore(parent KVStore) *cacheStore {
	return &cacheStore{parent: parent, writes: make(map[string][]byte), deleted: make(map[string]bool)}
}

func (c *cacheStore) Get(key string) []byte {
	if c.deleted[key] {
		return nil
	}
	if v, ok := c.writes[key]; ok {
		return v
	}
	return c.parent.Get(key)
}

func (c *cacheStore) Has(key string) bool {
	if c.deleted[key] {
		return false
	}
	if _, ok := c.writes[key]; ok {
		return true
	}
	return c.parent.Has(key)
}

func (c *cacheStore) Set(key string, value []byte) {
	delete(c.deleted, key)
	c.writes[key] = value
}

func (c *cacheStore) Delete(key string) {
	delete(c.writes, key)
	c.deleted[key] = true
}

func (c *cacheStore) Iterate(prefix string, fn func(string, []byte) bool) {
	merged := make(map[string][]byte)
	c.parent.Iterate(prefix, func(k string, v []byte) bool {
		merged[k] = v
		return true
	})
	for k, v := range c.writes {
		if strings.HasPrefix(k, prefix) {
			merged[k] = v
		}
	}
	for k := range c.deleted {
		delete(merged, k)
	}

	keys := make([]string, 0, len(merged))
	for k := range merged {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if !fn(k, merged[k]) {
			return
		}
	}
}

// Write flushes buffered writes into the parent.
func (c *cacheStore) Write() {
	for k := range c.deleted {
		c.parent.Delete(k)
	}
	for k, v := range c.writes {
		c.parent.Set(k, v)
	}
	c.writes = make(map[string][]byte)
	c.deleted = make(map[string]bool)
}

// prefixStore namespaces every key of a parent store.
type prefixStore struct {
	parent KVStore
	prefix string
}

func newPrefixStore(parent KVStore, prefix string) KVStore {
	return &prefixStore{parent: parent, prefix: prefix}
}

func (p *prefixStore) Get(key string) []byte          { return p.parent.Get(p.prefix + key) }
func (p *prefixStore) Has(key string) bool            { return p.parent.Has(p.prefix + key) }
func (p *prefixStore) Set(key string, value []byte)   { p.parent.Set(p.prefix+key, value) }
func (p *prefixStore) Delete(key string)              { p.parent.Delete(p.prefix + key) }
func (p *prefixStore) Iterate(prefix string, fn func(string, []byte) bool) {
	p.parent.Iterate(p.prefix+prefix, func(k string, v []byte) bool {
		return fn(strings.TrimPrefix(k, p.prefix), v)
	})
}

// readOnlyStore rejects writes. Queries run against it.
type readOnlyStore struct {
	KVStore
}

func (readOnlyStore) Set(string, []byte) { panic("write in read-only context") }
func (readOnlyStore) Delete(string)      { panic("write in read-only context") }

// Item is a single JSON encoded value stored under a fixed key.
type Item[T any] string

// Load returns the stored value or ErrNotFound.
func (i Item[T]) Load(s KVStore) (T, error) {
	v, ok, err := i.May(s)
	if err != nil {
		return v, err
	}
	if !ok {
		return v, fmt.Errorf("%s: %w", string(i), ErrNotFound)
	}
	return v, nil
}

// May returns the stored value and whether it exists.
func (i Item[T]) May(s KVStore) (T, bool, error) {
	var v T
	bz := s.Get(string(i))
	if bz == nil {
		return v, false, nil
	}
	if err := json.Unmarshal(bz, &v); err != nil {
		return v, false, fmt.Errorf("decode %s: %w", string(i), err)
	}
	return v, true, nil
}

// Save stores v.
func (i Item[T]) Save(s KVStore, v T) error {
	bz, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", string(i), err)
	}
	s.Set(string(i), bz)
	return nil
}

// Map is a set of JSON encoded values keyed by one or more string parts.
type Map[V any] string

func (m Map[V]) key(parts ...string) string {
	return string(m) + "/" + strings.Join(parts, "/")
}

// Load returns the value at key or ErrNotFound.
func (m Map[V]) Load(s KVStore, parts ...string) (V, error) {
	return Item[V](m.key(parts...)).Load(s)
}

// May returns the value at key and whether it exists.
func (m Map[V]) May(s KVStore, parts ...string) (V, bool, error) {
	return Item[V](m.key(parts...)).May(s)
}

// Save stores v at key.
func (m Map[V]) Save(s KVStore, v V, parts ...string) error {
	return Item[V](m.key(parts...)).Save(s, v)
}

// Has reports whether key exists.
func (m Map[V]) Has(s KVStore, parts ...string) bool {
	return s.Has(m.key(parts...))
}

// Remove deletes key.
func (m Map[V]) Remove(s KVStore, parts ...string) {
	s.Delete(m.key(parts...))
}

// Range visits every entry whose key starts with the given parts, in key order.
// The key passed to fn is the remainder after the map prefix.
func (m Map[V]) Range(s KVStore, fn func(key string, v V) (bool, error), parts ...string) error {
	prefix := string(m) + "/"
	if len(parts) > 0 {
		prefix += strings.Join(parts, "/") + "/"
	}
	var rangeErr error
	s.Iterate(prefix, func(k string, bz []byte) bool {
		var v V
		if err := json.Unmarshal(bz, &v); err != nil {
			rangeErr = fmt.Errorf("decode %s: %w", k, err)
			return false
		}
		cont, err := fn(strings.TrimPrefix(k, string(m)+"/"), v)
		if err != nil {
			rangeErr = err
			return false
		}
		return cont
	})
	return rangeErr
}
