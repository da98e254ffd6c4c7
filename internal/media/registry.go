// Package media hands out playable URLs for a cell's raw clip bytes.
// Each URL owns its bytes until it is revoked, which happens exactly once.
package media

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// Scheme prefixes every handle URL.
const Scheme = "blob:"

var (
	// ErrRevoked is returned when a handle is revoked twice or opened
	// after it was revoked.
	ErrRevoked = errors.New("media handle already revoked")
	// ErrUnknown is returned for URLs this registry never issued.
	ErrUnknown = errors.New("unknown media handle")
)

// Blob is the content behind a handle.
type Blob struct {
	Data []byte
	MIME string
}

// RevokedHistory is how many revoked URLs a registry remembers. Older
// ones report ErrUnknown instead of ErrRevoked.
const RevokedHistory = 1024

// Registry maps handle URLs to clip bytes.
type Registry struct {
	mu      sync.RWMutex
	live    map[string]Blob
	revoked map[string]struct{}
	order   []string // ring of revoked URLs, oldest at next
	next    int
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		live:    make(map[string]Blob),
		revoked: make(map[string]struct{}),
	}
}

func (r *Registry) remember(url string) {
	if len(r.order) < RevokedHistory {
		r.order = append(r.order, url)
	} else {
		delete(r.revoked, r.order[r.next])
		r.order[r.next] = url
		r.next = (r.next + 1) % RevokedHistory
	}
	r.revoked[url] = struct{}{}
}

// Create registers data and returns a fresh URL for it.
func (r *Registry) Create(data []byte, mime string) string {
	url := Scheme + uuid.NewString()
	r.mu.Lock()
	defer r.mu.Unlock()
	r.live[url] = Blob{Data: data, MIME: mime}
	return url
}

// Revoke releases the bytes behind url.
func (r *Registry) Revoke(url string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.revoked[url]; ok {
		return fmt.Errorf("revoke %s: %w", url, ErrRevoked)
	}
	if _, ok := r.live[url]; !ok {
		return fmt.Errorf("revoke %s: %w", url, ErrUnknown)
	}
	delete(r.live, url)
	r.remember(url)
	return nil
}

// Open returns the blob behind url.
func (r *Registry) Open(url string) (Blob, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if b, ok := r.live[url]; ok {
		return b, nil
	}
	if _, ok := r.revoked[url]; ok {
		return Blob{}, ErrRevoked
	}
	return Blob{}, ErrUnknown
}

// Live returns the number of unrevoked handles.
func (r *Registry) Live() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.live)
}

// ID strips the scheme, leaving the part used in /media/{id} paths.
func ID(url string) string {
	return strings.TrimPrefix(url, Scheme)
}

// URL is the inverse of ID.
func URL(id string) string {
	return Scheme + id
}
