// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.


package embedding

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

const cacheExt = ".json"

// Cache stores one JSON-encoded vector per file under a root directory.
// Files are named by core.CacheKey of the embedded text, so identical text
// shares one entry. Writes go through a temp file and rename, which makes
// concurrent writers of the same key safe: they write identical bytes.
type Cache struct {
	root   string
	logger *slog.Logger
}

// NewCache creates the cache root if needed.
func NewCache(root string) (*Cache, error) {
	if root == "" {
		return nil, errors.New("cache root is required")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("creating cache root: %w", err)
	}
	return &Cache{
		root:   root,
		logger: slog.Default().With("component", "embedding-cache"),
	}, nil
}

// Root returns the cache directory.
func (c *Cache) Root() string {
	return c.root
}

func (c *Cache) path(key string) string {
	return filepath.Join(c.root, key+cacheExt)
}

// Get returns the cached vector for key. Unreadable or corrupt entries are
// removed and reported as misses.
func (c *Cache) Get(key string) ([]float32, bool) {
	data, err := os.ReadFile(c.path(key))
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			c.logger.Warn("cache read failed", "key", key, "error", err)
		}
		return nil, false
	}

	var vec []float32
	if err := json.Unmarshal(data, &vec); err != nil || len(vec) == 0 {
		c.logger.Warn("discarding corrupt cache entry", "key", key, "error", err)
		_ = os.Remove(c.path(key))
		return nil, false
	}
	return vec, true
}

// Put stores vec under key.
func (c *Cache) Put(key string, vec []float32) error {
	data, err := json.Marshal(vec)
	if err != nil {
		return fmt.Errorf("encoding vector: %w", err)
	}

	tmp, err := os.CreateTemp(c.root, key+".*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp cache file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("writing cache entry: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("closing cache entry: %w", err)
	}
	if err := os.Rename(tmpName, c.path(key)); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("committing cache entry: %w", err)
	}
	return nil
}

// Len counts cache entries.
func (c *Cache) Len() (int, error) {
	entries, err := os.ReadDir(c.root)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), cacheExt) {
			n++
		}
	}
	return n, nil
}

// Clear removes every entry.
func (c *Cache) Clear() error {
	entries, err := os.ReadDir(c.root)
	if err != nil {
		return err
	}
	var errs []error
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if err := os.Remove(filepath.Join(c.root, e.Name())); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
