package cache

import (
	"image"

	lrucache "github.com/hashicorp/golang-lru"
	"golang.org/x/xerrors"
)

// LRUMemoryCache implements MemoryCache on an in-process LRU.
type LRUMemoryCache struct {
	cache *lrucache.Cache
}

// NewLRUMemoryCache creates a new LRUMemoryCache holding at most
// maxEntries decoded images.
func NewLRUMemoryCache(maxEntries int) (*LRUMemoryCache, error) {
	lruCache, err := lrucache.New(maxEntries)
	if err != nil {
		return nil, xerrors.Errorf("failed to create LRU cache: %w", err)
	}

	return &LRUMemoryCache{
		cache: lruCache,
	}, nil
}

// Get returns the cached image for the key, if present.
func (memoryCache *LRUMemoryCache) Get(key string) (image.Image, bool) {
	value, ok := memoryCache.cache.Get(key)
	if !ok {
		return nil, false
	}

	img, ok := value.(image.Image)
	return img, ok
}

// Put stores an image under the key.
func (memoryCache *LRUMemoryCache) Put(key string, value image.Image) {
	memoryCache.cache.Add(key, value)
}

// Clear removes all entries.
func (memoryCache *LRUMemoryCache) Clear() {
	memoryCache.cache.Purge()
}
