package cache

import (
	gocache "github.com/patrickmn/go-cache"

	"geobatch/pkg/model"
)

// ImageCache holds rendered map and street-level images for the lifetime
// of the process. No TTL, no persistence: its only job is to avoid
// re-requesting an image already obtained for an identical rendering
// configuration within the current session.
type ImageCache struct {
	c *gocache.Cache
}

// NewImageCache creates an empty image cache.
func NewImageCache() *ImageCache {
	// NoExpiration and no janitor: entries live until process exit.
	return &ImageCache{c: gocache.New(gocache.NoExpiration, 0)}
}

// Get returns the image stored for params, if any.
func (ic *ImageCache) Get(params model.ImageParams) (string, bool) {
	v, ok := ic.c.Get(ImageKey(params))
	if !ok {
		return "", false
	}
	return v.(string), true
}

// Set stores an image under params.
func (ic *ImageCache) Set(params model.ImageParams, image string) {
	ic.c.Set(ImageKey(params), image, gocache.NoExpiration)
}

// Has reports whether an image is cached for params.
func (ic *ImageCache) Has(params model.ImageParams) bool {
	_, ok := ic.c.Get(ImageKey(params))
	return ok
}
