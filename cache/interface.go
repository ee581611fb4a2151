package cache

import (
	"image"
)

// MemoryCache is the in-process cache tier consulted before the disk
// cache. Implementations must be safe for concurrent use.
type MemoryCache interface {
	Get(key string) (image.Image, bool)
	Put(key string, value image.Image)
	Clear()
}
