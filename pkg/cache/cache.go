package cache

import (
	"encoding/json"
	"io"
	"os"
	"strings"
	"sync"
	"time"
)

// Entry holds the state of one authenticated session.
type Entry struct {
	SessionID string    `json:"session_id"`
	Server    string    `json:"server"`
	CreatedAt time.Time `json:"created_at"`
}

type CredentialCache struct {
	MaxEntries int
	Sessions   map[string]Entry `json:"sessions"`
	lock       sync.Mutex
}

// Key returns the cache key for a user of a database hosted behind server. Keys are
// case-insensitive because MyGeotab user and database names are.
func Key(server, database, user string) string {
	return strings.ToLower(strings.Join([]string{server, database, user}, "|"))
}

// New returns a CredentialCache that holds sessions for up to maxEntries users.
// When full, the entry with the oldest CreatedAt is evicted.
//
// Set maxEntries to zero for an unbounded cache.
func New(maxEntries int) *CredentialCache {
	return &CredentialCache{
		MaxEntries: maxEntries,
		Sessions:   make(map[string]Entry),
	}
}

// Import a CredentialCache using data in r.
// The data should previously have been generated using [CredentialCache.Export].
func Import(r io.Reader) (*CredentialCache, error) {
	var cache CredentialCache
	decoder := json.NewDecoder(r)
	if err := decoder.Decode(&cache); err != nil {
		return nil, err
	}
	if cache.Sessions == nil {
		cache.Sessions = make(map[string]Entry)
	}
	return &cache, nil
}

// ImportFromFile reads a CredentialCache from disk.
func ImportFromFile(filename string) (*CredentialCache, error) {
	file, err := os.Open(filename)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	return Import(file)
}

// Export writes a serialized CredentialCache to w.
func (c *CredentialCache) Export(w io.Writer) error {
	c.lock.Lock()
	defer c.lock.Unlock()

	return json.NewEncoder(w).Encode(c)
}

// ExportToFile writes a CredentialCache to disk. The file is readable only by its owner.
func (c *CredentialCache) ExportToFile(filename string) error {
	file, err := os.OpenFile(filename, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	defer file.Close()

	return c.Export(file)
}

// Update the CredentialCache's entry for key.
func (c *CredentialCache) Update(key string, entry Entry) {
	c.lock.Lock()
	defer c.lock.Unlock()

	c.Sessions[key] = entry
	if c.MaxEntries > 0 && len(c.Sessions) > c.MaxEntries {
		oldestKey := key
		oldestCreationTime := entry.CreatedAt
		for k, e := range c.Sessions {
			if e.CreatedAt.Before(oldestCreationTime) {
				oldestKey = k
				oldestCreationTime = e.CreatedAt
			}
		}
		delete(c.Sessions, oldestKey)
	}
}

// GetEntry returns the session stored under key.
func (c *CredentialCache) GetEntry(key string) (Entry, bool) {
	c.lock.Lock()
	defer c.lock.Unlock()

	entry, ok := c.Sessions[key]
	return entry, ok
}

// Remove drops the session stored under key, typically after the server rejected it.
func (c *CredentialCache) Remove(key string) {
	c.lock.Lock()
	defer c.lock.Unlock()

	delete(c.Sessions, key)
}
