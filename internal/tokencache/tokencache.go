// Package tokencache persists access tokens keyed by account email so a new
// session can skip a full login. The cache is best-effort: a missing,
// unreadable, or corrupt cache file behaves as an empty cache and I/O
// failures are logged, never surfaced to the caller's primary operation.
package tokencache

import (
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"time"
)

// FilePerms restricts the cache file to owner-only read/write.
const FilePerms = 0o600

// DirPerms is used when creating the cache directory.
const DirPerms = 0o700

// Entry is the on-disk value for one account.
type Entry struct {
	Token     string    `json:"token"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Cache is a file-backed token cache. The file holds a single flat JSON
// object mapping email to Entry and is rewritten wholesale on every update;
// concurrent writers race last-wins, which is acceptable for a best-effort
// cache. An empty path makes the cache memory-only.
//
// Not safe for concurrent use; it is owned by a single session client.
type Cache struct {
	path   string
	logger *slog.Logger

	entries map[string]Entry
	loaded  bool
}

// New creates a cache backed by the file at path ("" for memory-only).
// The file is read lazily on first access.
func New(path string, logger *slog.Logger) *Cache {
	if logger == nil {
		logger = slog.Default()
	}

	return &Cache{
		path:    path,
		logger:  logger,
		entries: make(map[string]Entry),
	}
}

// Get returns the cached token for email, if any.
func (c *Cache) Get(email string) (string, bool) {
	c.load()

	entry, ok := c.entries[email]
	if !ok || entry.Token == "" {
		return "", false
	}

	return entry.Token, true
}

// Put stores a token for email and rewrites the cache file.
func (c *Cache) Put(email, token string) {
	if email == "" || token == "" {
		return
	}

	c.load()
	c.entries[email] = Entry{Token: token, UpdatedAt: time.Now().UTC()}
	c.save()
}

// Delete removes the entry for email and rewrites the cache file.
func (c *Cache) Delete(email string) {
	c.load()

	if _, ok := c.entries[email]; !ok {
		return
	}

	delete(c.entries, email)
	c.save()
}

// load reads the cache file once. Decode failures leave the cache empty —
// never log token values, only the failure reason.
func (c *Cache) load() {
	if c.loaded || c.path == "" {
		c.loaded = true
		return
	}

	c.loaded = true

	data, err := os.ReadFile(c.path)
	if err != nil {
		if !os.IsNotExist(err) {
			c.logger.Warn("failed to read token cache; treating as empty", slog.String("error", err.Error()))
		}

		return
	}

	var entries map[string]Entry
	if err := json.Unmarshal(data, &entries); err != nil {
		c.logger.Warn("corrupt token cache; treating as empty", slog.String("error", err.Error()))
		return
	}

	for email, entry := range entries {
		if email != "" && entry.Token != "" {
			c.entries[email] = entry
		}
	}
}

// save rewrites the cache file atomically (temp file + rename in the same
// directory) with owner-only permissions.
func (c *Cache) save() {
	if c.path == "" {
		return
	}

	data, err := json.MarshalIndent(c.entries, "", "  ")
	if err != nil {
		c.logger.Warn("failed to encode token cache", slog.String("error", err.Error()))
		return
	}

	dir := filepath.Dir(c.path)
	if err := os.MkdirAll(dir, DirPerms); err != nil {
		c.logger.Warn("failed to create token cache directory", slog.String("error", err.Error()))
		return
	}

	tmp, err := os.CreateTemp(dir, ".tokens-*.tmp")
	if err != nil {
		c.logger.Warn("failed to create token cache temp file", slog.String("error", err.Error()))
		return
	}

	tmpPath := tmp.Name()

	if err := writeAndClose(tmp, data); err != nil {
		_ = os.Remove(tmpPath)
		c.logger.Warn("failed to write token cache", slog.String("error", err.Error()))

		return
	}

	if err := os.Rename(tmpPath, c.path); err != nil {
		_ = os.Remove(tmpPath)
		c.logger.Warn("failed to replace token cache", slog.String("error", err.Error()))
	}
}

func writeAndClose(f *os.File, data []byte) error {
	if err := f.Chmod(FilePerms); err != nil {
		f.Close()
		return err
	}

	if _, err := f.Write(data); err != nil {
		f.Close()
		return err
	}

	if err := f.Sync(); err != nil {
		f.Close()
		return err
	}

	return f.Close()
}
