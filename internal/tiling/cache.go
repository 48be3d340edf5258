package tiling

import (
	"fmt"
	"sync"

	lru "github.com/hashicorp/golang-lru"

	"github.com/ironsheep/page-tiler/internal/imaging"
	"github.com/ironsheep/page-tiler/internal/pipeline"
)

// PageCache keeps the processed images of recently displayed pages so a
// page that is shown again skips decoding and processing.
//
// Entries are reference counted: an evicted image stays open until every
// engine that acquired it has released it.
type PageCache struct {
	// mu is held around every lru call, so the eviction callback always
	// runs with mu held.
	mu  sync.Mutex
	lru *lru.Cache
}

type cachedPage struct {
	img     imaging.Image
	refs    int
	evicted bool
}

// NewPageCache creates a cache holding up to size pages.
func NewPageCache(size int) (*PageCache, error) {
	c := &PageCache{}
	l, err := lru.NewWithEvict(size, func(_ interface{}, value interface{}) {
		p := value.(*cachedPage)
		p.evicted = true
		if p.refs == 0 {
			p.img.Close()
		}
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create page cache: %w", err)
	}
	c.lru = l
	return c, nil
}

// Acquire returns the cached image of id and a function releasing it.
func (c *PageCache) Acquire(id pipeline.PageID) (imaging.Image, func(), bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.lru.Get(id)
	if !ok {
		return nil, nil, false
	}
	p := v.(*cachedPage)
	p.refs++
	return p.img, c.releaser(p), true
}

// Add hands img to the cache and returns it acquired once by the caller.
func (c *PageCache) Add(id pipeline.PageID, img imaging.Image) (imaging.Image, func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	// Replacing a value in place would skip the eviction callback.
	c.lru.Remove(id)
	p := &cachedPage{img: img, refs: 1}
	c.lru.Add(id, p)
	return img, c.releaser(p)
}

func (c *PageCache) releaser(p *cachedPage) func() {
	var once sync.Once
	return func() {
		once.Do(func() {
			c.mu.Lock()
			defer c.mu.Unlock()
			p.refs--
			if p.refs == 0 && p.evicted {
				p.img.Close()
			}
		})
	}
}

// Remove drops id from the cache.
func (c *PageCache) Remove(id pipeline.PageID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lru.Remove(id)
}

// RemoveBook drops every page of bookID.
func (c *PageCache) RemoveBook(bookID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, k := range c.lru.Keys() {
		if k.(pipeline.PageID).BookID == bookID {
			c.lru.Remove(k)
		}
	}
}

// Purge drops every page.
func (c *PageCache) Purge() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lru.Purge()
}

// Len returns the number of cached pages.
func (c *PageCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Len()
}

// Watch drops pages whose processing changes in p.
func (c *PageCache) Watch(p *pipeline.Pipeline) (cancel func()) {
	return p.SubscribeAll(func(bookID string) {
		if bookID == "" {
			c.Purge()
			return
		}
		c.RemoveBook(bookID)
	})
}
