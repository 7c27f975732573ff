package scan

import (
	lru "github.com/hashicorp/golang-lru/v2"
)

// Cache memoizes scan results keyed by (path, content checksum), so
// watch-mode rescans of unchanged files cost a map lookup. Entries for
// stale content age out naturally: the key embeds the checksum.
type Cache struct {
	lru *lru.Cache[string, []Directive]
}

// NewCache creates a scan cache holding up to size entries.
func NewCache(size int) (*Cache, error) {
	c, err := lru.New[string, []Directive](size)
	if err != nil {
		return nil, err
	}
	return &Cache{lru: c}, nil
}

// File returns the directives of path/content, scanning on a cache miss.
func (c *Cache) File(path, sum string, content []byte) ([]Directive, error) {
	key := path + "\x00" + sum
	if ds, ok := c.lru.Get(key); ok {
		return ds, nil
	}
	ds, err := File(path, content)
	if err != nil {
		return nil, err
	}
	c.lru.Add(key, ds)
	return ds, nil
}
