package cache

import (
	"fmt"
	"time"

	"github.com/cespare/xxhash/v2"
	lru "github.com/hashicorp/golang-lru/v2"
)

type item struct {
	html      string
	expiresAt time.Time
}

// RenderCache keeps rendered post bodies keyed by a hash of their source, so
// an edited post never serves stale HTML. Entitlement is never cached here.
type RenderCache struct {
	lru *lru.Cache[string, item]
	ttl time.Duration
	now func() time.Time
}

func NewRenderCache(size int, ttl time.Duration) (*RenderCache, error) {
	l, err := lru.New[string, item](size)
	if err != nil {
		return nil, fmt.Errorf("failed to create render cache: %w", err)
	}
	return &RenderCache{lru: l, ttl: ttl, now: time.Now}, nil
}

// Key derives a cache key for a post from its id and source text.
func Key(postID int, source string) string {
	return fmt.Sprintf("post:%d:%016x", postID, xxhash.Sum64String(source))
}

func (c *RenderCache) Get(key string) (string, bool) {
	val, ok := c.lru.Get(key)
	if !ok {
		return "", false
	}
	if c.now().After(val.expiresAt) {
		c.lru.Remove(key)
		return "", false
	}
	return val.html, true
}

func (c *RenderCache) Set(key, html string) {
	c.lru.Add(key, item{html: html, expiresAt: c.now().Add(c.ttl)})
}

// GetOrRender returns the cached value or stores the output of render.
func (c *RenderCache) GetOrRender(key string, render func() string) string {
	if html, ok := c.Get(key); ok {
		return html
	}
	html := render()
	c.Set(key, html)
	return html
}

func (c *RenderCache) Purge() {
	c.lru.Purge()
}

func (c *RenderCache) Len() int {
	return c.lru.Len()
}
