package session

import (
	lru "github.com/hashicorp/golang-lru/v2"
)

// Image is a generated image held only in memory.
type Image struct {
	URL  string
	Data string
}

// ImageCache keeps the most recently added images per conversation.
// Reads never refresh an entry, so eviction follows insertion order.
type ImageCache struct {
	cache *lru.Cache[string, Image]
}

// NewImageCache creates a cache holding at most size images.
func NewImageCache(size int) *ImageCache {
	if size <= 0 {
		size = 20
	}
	c, _ := lru.New[string, Image](size)
	return &ImageCache{cache: c}
}

// Add stores img under a message id, replacing any previous entry.
func (c *ImageCache) Add(messageID string, img Image) {
	c.cache.Remove(messageID)
	c.cache.Add(messageID, img)
}

// Get returns the image for a message id.
func (c *ImageCache) Get(messageID string) (Image, bool) {
	return c.cache.Peek(messageID)
}

// Len returns the number of cached images.
func (c *ImageCache) Len() int { return c.cache.Len() }

// Purge drops every image.
func (c *ImageCache) Purge() { c.cache.Purge() }
