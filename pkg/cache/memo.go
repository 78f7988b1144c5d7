package cache

import (
	"strings"
	"sync"
	"time"
)

// MemoStore is an in-memory cache store.
type MemoStore struct {
	Store *sync.Map
}

type itemWithTTL struct {
	Expires int64
	Value   any
}

func newItem(value any, expires int) itemWithTTL {
	expires64 := int64(expires)
	if expires > 0 {
		expires64 = time.Now().Unix() + expires64
	}
	return itemWithTTL{
		Value:   value,
		Expires: expires64,
	}
}

// getValue unwraps an itemWithTTL, expired items read as missing.
func getValue(item any, ok bool) (any, bool) {
	if !ok {
		return nil, ok
	}

	var itemObj itemWithTTL
	if itemObj, ok = item.(itemWithTTL); !ok {
		return item, true
	}

	if itemObj.Expires > 0 && itemObj.Expires < time.Now().Unix() {
		return nil, false
	}

	return itemObj.Value, ok
}

// NewMemoStore creates a new in-memory store.
func NewMemoStore() *MemoStore {
	return &MemoStore{
		Store: &sync.Map{},
	}
}

// Set stores a value.
func (store *MemoStore) Set(key string, value any, ttl int) error {
	store.Store.Store(key, newItem(value, ttl))
	return nil
}

// Get fetches a value.
func (store *MemoStore) Get(key string) (any, bool) {
	return getValue(store.Store.Load(key))
}

// Gets fetches values in batch.
func (store *MemoStore) Gets(keys []string, prefix string) (map[string]any, []string) {
	var missed []string
	res := make(map[string]any)
	for _, key := range keys {
		if value, ok := getValue(store.Store.Load(prefix + key)); ok {
			res[key] = value
		} else {
			missed = append(missed, key)
		}
	}
	return res, missed
}

// Sets stores values in batch.
func (store *MemoStore) Sets(values map[string]any, prefix string) error {
	for key, value := range values {
		store.Store.Store(prefix+key, newItem(value, 0))
	}
	return nil
}

// Delete removes values by prefix and keys.
func (store *MemoStore) Delete(prefix string, keys ...string) error {
	if len(keys) == 0 {
		store.Store.Range(func(key, value any) bool {
			if strings.HasPrefix(key.(string), prefix) {
				store.Store.Delete(key)
			}
			return true
		})
		return nil
	}

	for _, key := range keys {
		store.Store.Delete(prefix + key)
	}
	return nil
}

// DeleteAll removes all entries.
func (store *MemoStore) DeleteAll() error {
	store.Store.Range(func(key, value any) bool {
		store.Store.Delete(key)
		return true
	})
	return nil
}
