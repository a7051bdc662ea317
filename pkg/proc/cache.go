package proc

import (
	lru "github.com/hashicorp/golang-lru"
)

const cachePageSize = 0x1000

// pageCache keeps recently read pages of a slow MemoryReader (a live
// process) so that walking many small nodes that share a page does not
// hit the source for every field. The process keeps running while it is
// inspected, cached pages are only valid until the next Flush.
type pageCache struct {
	mem   MemoryReader
	pages *lru.Cache
}

// CacheMemory wraps mem with a page cache holding up to pages pages. If
// pages is not positive mem is returned unchanged.
func CacheMemory(mem MemoryReader, pages int) MemoryReader {
	if pages <= 0 {
		return mem
	}
	if _, isCache := mem.(*pageCache); isCache {
		return mem
	}
	cache, err := lru.New(pages)
	if err != nil {
		return mem
	}
	return &pageCache{mem: mem, pages: cache}
}

func (c *pageCache) ReadMemory(buf []byte, addr uint64) (int, error) {
	n := 0
	for n < len(buf) {
		cur := addr + uint64(n)
		base := cur &^ (cachePageSize - 1)
		page, ok := c.page(base)
		if !ok {
			// The page is not entirely readable, let the source decide
			// how much of the request it can satisfy.
			m, err := c.mem.ReadMemory(buf[n:], cur)
			return n + m, err
		}
		n += copy(buf[n:], page[cur-base:])
	}
	return n, nil
}

func (c *pageCache) page(base uint64) ([]byte, bool) {
	if v, ok := c.pages.Get(base); ok {
		return v.([]byte), true
	}
	page := make([]byte, cachePageSize)
	n, err := c.mem.ReadMemory(page, base)
	if err != nil || n != len(page) {
		return nil, false
	}
	c.pages.Add(base, page)
	return page, true
}

// Flush drops every cached page.
func (c *pageCache) Flush() {
	c.pages.Purge()
}
