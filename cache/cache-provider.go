package cache

import (
	"strings"
	"sync"
	"time"
)

// CacheProvider stores entries under string keys.
// Entries are returned as stored, stale ones included: deciding whether an
// entry can be used is up to the caller.
//
// Implementations must be thread-safe!
type CacheProvider interface {
	// Get returns the entry for the given key, or nil if there is none.
	Get(key string) (*Entry, error)
	// Put stores the entry under the given key, replacing any previous one.
	Put(key string, entry *Entry) error
	// Purge removes the entry for the given key, if any.
	Purge(key string) error
	// Has checks if the specified key exists in the cache.
	Has(key string) bool
	// Oldest returns the key and soft expiry of the entry with the given key
	// prefix that is due for a refresh first.
	// Entries without an expiry are skipped. The key is empty if nothing is found.
	Oldest(prefix string) (string, time.Time, error)
	// AllKeys calls the given callback for each key with the given prefix.
	AllKeys(prefix string, cb func(string)) error
}

// MemCache is a CacheProvider keeping entries in a map.
type MemCache struct {
	mutex *sync.RWMutex
	db    map[string]*Entry
}

func NewMemCache() MemCache {
	return MemCache{
		mutex: &sync.RWMutex{},
		db:    make(map[string]*Entry),
	}
}

func (m MemCache) Get(key string) (*Entry, error) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	return m.db[key], nil
}

func (m MemCache) Put(key string, entry *Entry) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.db[key] = entry
	return nil
}

func (m MemCache) Purge(key string) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	delete(m.db, key)
	return nil
}

func (m MemCache) Has(key string) bool {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	_, ok := m.db[key]
	return ok
}

func (m MemCache) Oldest(prefix string) (string, time.Time, error) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	var oldestKey string
	var oldestTime time.Time
	for key, entry := range m.db {
		if !strings.HasPrefix(key, prefix) || entry.SoftExpires.IsZero() {
			continue
		}
		if oldestKey == "" || entry.SoftExpires.Before(oldestTime) {
			oldestKey = key
			oldestTime = entry.SoftExpires
		}
	}
	return oldestKey, oldestTime, nil
}

func (m MemCache) AllKeys(prefix string, cb func(string)) error {
	m.mutex.RLock()
	keys := make([]string, 0, len(m.db))
	for key := range m.db {
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
	}
	m.mutex.RUnlock()
	// callback runs unlocked so that it may use the cache
	for _, key := range keys {
		cb(key)
	}
	return nil
}
