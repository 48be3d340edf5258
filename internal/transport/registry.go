package transport

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/ironsheep/page-tiler/internal/imaging"
)

// Registry owns the worker-side images that clients refer to by id.
//
// Every image a request creates is stored under a fresh id and stays
// open until the client sends CloseImage for it, or the worker shuts down
// and CloseAll runs.
//
// Registry is safe for concurrent use by multiple goroutines; requests
// are served concurrently and may create, read and close images at the
// same time.
//
// # Example Usage
//
//	reg := transport.NewRegistry()
//	id := reg.Add(img)
//	img, err := reg.Get(id)
//	if err != nil {
//	    return err
//	}
//	// Use img...
//	reg.Close(id)
type Registry struct {
	mu     sync.RWMutex
	images map[uint64]imaging.Image
	nextID atomic.Uint64
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		images: make(map[uint64]imaging.Image),
	}
}

// Add takes ownership of img and returns its id. Ids are never reused.
func (r *Registry) Add(img imaging.Image) uint64 {
	id := r.nextID.Add(1)
	r.mu.Lock()
	r.images[id] = img
	r.mu.Unlock()
	return id
}

// Get returns the image registered under id.
//
// # Errors
//
//   - Returns an *Error with CodeUnknownImage if id was never registered
//     or has already been closed
func (r *Registry) Get(id uint64) (imaging.Image, error) {
	r.mu.RLock()
	img, ok := r.images[id]
	r.mu.RUnlock()
	if !ok {
		return nil, &Error{Code: CodeUnknownImage, Message: fmt.Sprintf("no image with id %d", id)}
	}
	return img, nil
}

// Close closes and forgets the image registered under id.
func (r *Registry) Close(id uint64) error {
	r.mu.Lock()
	img, ok := r.images[id]
	delete(r.images, id)
	r.mu.Unlock()
	if !ok {
		return &Error{Code: CodeUnknownImage, Message: fmt.Sprintf("no image with id %d", id)}
	}
	return img.Close()
}

// CloseAll closes every registered image.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	images := r.images
	r.images = make(map[uint64]imaging.Image)
	r.mu.Unlock()

	for _, img := range images {
		img.Close()
	}
}

// Len returns the number of open images.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.images)
}
