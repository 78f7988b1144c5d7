package cache

// Driver is a key-value cache store.
type Driver interface {
	// Set stores a value, ttl is the lifetime in seconds, 0 for no expiry.
	Set(key string, value any, ttl int) error

	// Get fetches a value and reports whether it was found.
	Get(key string) (any, bool)

	// Gets fetches values in batch, returning found values keyed without
	// the prefix and the list of missing keys.
	Gets(keys []string, prefix string) (map[string]any, []string)

	// Sets stores values in batch, all keys get the prefix prepended.
	Sets(values map[string]any, prefix string) error

	// Delete values by [prefix + key]. If no key is presented, all keys
	// with given prefix will be deleted.
	Delete(prefix string, keys ...string) error

	// DeleteAll removes all entries.
	DeleteAll() error
}
