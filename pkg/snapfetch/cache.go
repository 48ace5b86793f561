package snapfetch

import (
	lru "github.com/hashicorp/golang-lru/v2"
)

type cacheEntry struct {
	validator string
	body      []byte
}

// indexCache is an in-memory LRU of recently fetched small index files
// (Release/Packages/Sources), per spec §4.2, keyed by URL. The stored
// validator (ETag or Last-Modified) is sent back as a conditional GET
// header on the next fetch of the same URL; a 304 response serves the
// cached body instead of re-downloading it.
type indexCache struct {
	inner *lru.Cache[string, cacheEntry]
}

func newIndexCache(capacity int) *indexCache {
	inner, err := lru.New[string, cacheEntry](capacity)
	if err != nil {
		// only returns an error for capacity <= 0, which is a programming error
		panic(err)
	}

	return &indexCache{inner: inner}
}

func (c *indexCache) get(url string) (cacheEntry, bool) {
	return c.inner.Get(url)
}

func (c *indexCache) put(url, validator string, body []byte) {
	if validator == "" {
		return
	}

	c.inner.Add(url, cacheEntry{validator: validator, body: body})
}
