package batch

import (
	"image"
	"sync"

	"github.com/segmentio/ksuid"
)

const urlPrefix = "blob:cutout/"

// URLs hands out opaque in-memory handles for rasters so a view layer can
// reference them by string. Handles stay valid until revoked.
type URLs struct {
	mu sync.RWMutex
	m  map[string]image.Image
}

func NewURLs() *URLs {
	return &URLs{m: make(map[string]image.Image)}
}

func (u *URLs) Create(img image.Image) string {
	url := urlPrefix + ksuid.New().String()
	u.mu.Lock()
	defer u.mu.Unlock()
	u.m[url] = img
	return url
}

func (u *URLs) Resolve(url string) (image.Image, bool) {
	u.mu.RLock()
	defer u.mu.RUnlock()
	img, ok := u.m[url]
	return img, ok
}

func (u *URLs) Revoke(url string) {
	u.mu.Lock()
	defer u.mu.Unlock()
	delete(u.m, url)
}

// RevokeAll drops every handle and returns how many there were.
func (u *URLs) RevokeAll() int {
	u.mu.Lock()
	defer u.mu.Unlock()
	n := len(u.m)
	u.m = make(map[string]image.Image)
	return n
}

func (u *URLs) Len() int {
	u.mu.RLock()
	defer u.mu.RUnlock()
	return len(u.m)
}
