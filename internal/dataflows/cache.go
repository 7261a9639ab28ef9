package dataflows

import (
	"crypto/md5"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Cache is a file-backed response cache keyed by source, method and the
// request parameters. Entries expire by file mtime.
type Cache struct {
	dir     string
	ttl     time.Duration
	enabled bool
}

func NewCache(dir string, ttl time.Duration, enabled bool) *Cache {
	return &Cache{dir: dir, ttl: ttl, enabled: enabled}
}

func (c *Cache) key(source, method string, params any) string {
	data, _ := json.Marshal(params)
	return fmt.Sprintf("%s_%s_%x.json", source, method, md5.Sum(data))
}

// Get loads a cached response into result. A miss, an expired entry or a
// decode failure all report false.
func (c *Cache) Get(source, method string, params, result any) bool {
	if !c.enabled {
		return false
	}

	path := filepath.Join(c.dir, c.key(source, method, params))
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	if time.Since(info.ModTime()) > c.ttl {
		_ = os.Remove(path)
		return false
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return false
	}
	return json.Unmarshal(data, result) == nil
}

// Set stores a response. Cache write failures are swallowed: the cache is
// an optimization, never a source of truth.
func (c *Cache) Set(source, method string, params, data any) {
	if !c.enabled {
		return
	}
	if err := os.MkdirAll(c.dir, 0o755); err != nil {
		return
	}
	encoded, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return
	}
	_ = os.WriteFile(filepath.Join(c.dir, c.key(source, method, params)), encoded, 0o644)
}
